package sim

// DefaultWorldYAML is written to .harvester/world.yaml by `harvester init`.
const DefaultWorldYAML = `# harvester simulated network
root: home
root_ram: 32
skill: 10

# Tools present on the root host.
artifacts:
  - BruteSSH.exe
  - NUKE.exe

nodes:
  - hostname: n00dles
    organization: Noodle Bar
    links: [home, nectar-net]
    security: 1
    min_security: 1
    money: 70000
    max_money: 1750000
    required_skill: 1
    ports_required: 0
    max_ram: 4
  - hostname: foodnstuff
    organization: FoodNStuff
    links: [home]
    security: 10
    min_security: 3
    money: 2000000
    max_money: 50000000
    required_skill: 1
    ports_required: 0
    max_ram: 16
  - hostname: sigma-cosmetics
    organization: Sigma Cosmetics
    links: [home, zer0]
    security: 10
    min_security: 3
    money: 2300000
    max_money: 57500000
    required_skill: 5
    ports_required: 0
    max_ram: 16
  - hostname: nectar-net
    organization: Nectar Nightclub Network
    links: [n00dles, neo-net]
    security: 20
    min_security: 7
    money: 2750000
    max_money: 68750000
    required_skill: 20
    ports_required: 0
    max_ram: 16
  - hostname: zer0
    organization: ZER0 Nightclub
    links: [sigma-cosmetics]
    security: 25
    min_security: 8
    money: 7500000
    max_money: 187500000
    required_skill: 75
    ports_required: 1
    max_ram: 32
  - hostname: neo-net
    organization: Neo Nightclub Network
    links: [nectar-net]
    security: 25
    min_security: 8
    money: 5000000
    max_money: 125000000
    required_skill: 50
    ports_required: 1
    max_ram: 32
  - hostname: home-srv-1
    links: [home]
    purchased: true
    rooted: true
    max_ram: 64
`
