package sim

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/harvester/internal/node"
)

// Effect names the action a script applies to its target when it completes.
type Effect string

const (
	EffectWeaken Effect = "weaken"
	EffectGrow   Effect = "grow"
	EffectHack   Effect = "hack"
)

// ScriptSpec describes a runnable script known to the world.
type ScriptSpec struct {
	RAM    float64 `yaml:"ram"`
	Effect Effect  `yaml:"effect"`
}

// Faults forces remote actions against a host to fail.
type Faults struct {
	Scan     bool `yaml:"scan,omitempty"`
	Snapshot bool `yaml:"snapshot,omitempty"`
	OpenPort bool `yaml:"open_port,omitempty"`
	Elevate  bool `yaml:"elevate,omitempty"`
	Copy     bool `yaml:"copy,omitempty"`
	Exec     bool `yaml:"exec,omitempty"`
}

// NodeSpec declares one host of the world.
type NodeSpec struct {
	Hostname      string   `yaml:"hostname"`
	Organization  string   `yaml:"organization,omitempty"`
	Links         []string `yaml:"links,omitempty"`
	Security      float64  `yaml:"security"`
	MinSecurity   float64  `yaml:"min_security"`
	Money         float64  `yaml:"money"`
	MaxMoney      float64  `yaml:"max_money"`
	RequiredSkill int      `yaml:"required_skill"`
	PortsRequired int      `yaml:"ports_required"`
	OpenPorts     []string `yaml:"open_ports,omitempty"`
	Rooted        bool     `yaml:"rooted,omitempty"`
	Purchased     bool     `yaml:"purchased,omitempty"`
	MaxRAM        float64  `yaml:"max_ram"`
	Files         []string `yaml:"files,omitempty"`
	Faults        Faults   `yaml:"faults,omitempty"`
}

// Tuning controls how completed scripts change their targets.
type Tuning struct {
	// Duration is how many Advance calls a script runs before completing.
	Duration        int     `yaml:"duration"`
	WeakenPerThread float64 `yaml:"weaken_per_thread"`
	GrowPerThread   float64 `yaml:"grow_per_thread"`
	HackPerThread   float64 `yaml:"hack_per_thread"`
	GrowSecurity    float64 `yaml:"grow_security"`
	HackSecurity    float64 `yaml:"hack_security"`
	MaxSecurity     float64 `yaml:"max_security"`

	// WeakenBase scales WeakenTime; an easy target takes about this long.
	WeakenBase time.Duration `yaml:"weaken_base"`
}

// WorldSpec is the YAML document describing a simulated network.
type WorldSpec struct {
	Root      string                `yaml:"root"`
	RootRAM   float64               `yaml:"root_ram"`
	Skill     int                   `yaml:"skill"`
	Artifacts []string              `yaml:"artifacts"`
	Scripts   map[string]ScriptSpec `yaml:"scripts"`
	Tuning    Tuning                `yaml:"tuning"`
	Nodes     []NodeSpec            `yaml:"nodes"`

	// PurchaseLimit caps how many hosts the operator may buy.
	PurchaseLimit int `yaml:"purchase_limit"`

	// MaxServerRAM is the largest memory a bought host may have, in GB.
	MaxServerRAM float64 `yaml:"max_server_ram"`
}

const (
	DefaultPurchaseLimit = 25
	DefaultMaxServerRAM  = 1048576
)

// DefaultScripts are the worker payloads every world knows about.
func DefaultScripts() map[string]ScriptSpec {
	return map[string]ScriptSpec{
		"/bin/weaken.js": {RAM: 1.75, Effect: EffectWeaken},
		"/bin/grow.js":   {RAM: 1.75, Effect: EffectGrow},
		"/bin/hack.js":   {RAM: 1.7, Effect: EffectHack},
	}
}

// DefaultTuning returns the effect magnitudes used when a world omits them.
func DefaultTuning() Tuning {
	return Tuning{
		Duration:        1,
		WeakenPerThread: 0.05,
		GrowPerThread:   0.03,
		HackPerThread:   0.002,
		GrowSecurity:    0.004,
		HackSecurity:    0.002,
		MaxSecurity:     100,
		WeakenBase:      time.Second,
	}
}

func (s *WorldSpec) applyDefaults() {
	s.Root = strings.TrimSpace(s.Root)
	if s.Root == "" {
		s.Root = "home"
	}
	if s.RootRAM <= 0 {
		s.RootRAM = 32
	}
	if s.PurchaseLimit <= 0 {
		s.PurchaseLimit = DefaultPurchaseLimit
	}
	if s.MaxServerRAM <= 0 {
		s.MaxServerRAM = DefaultMaxServerRAM
	}
	if len(s.Scripts) == 0 {
		s.Scripts = DefaultScripts()
	}
	defaults := DefaultTuning()
	if s.Tuning.Duration <= 0 {
		s.Tuning.Duration = defaults.Duration
	}
	if s.Tuning.WeakenPerThread <= 0 {
		s.Tuning.WeakenPerThread = defaults.WeakenPerThread
	}
	if s.Tuning.GrowPerThread <= 0 {
		s.Tuning.GrowPerThread = defaults.GrowPerThread
	}
	if s.Tuning.HackPerThread <= 0 {
		s.Tuning.HackPerThread = defaults.HackPerThread
	}
	if s.Tuning.GrowSecurity <= 0 {
		s.Tuning.GrowSecurity = defaults.GrowSecurity
	}
	if s.Tuning.HackSecurity <= 0 {
		s.Tuning.HackSecurity = defaults.HackSecurity
	}
	if s.Tuning.MaxSecurity <= 0 {
		s.Tuning.MaxSecurity = defaults.MaxSecurity
	}
	if s.Tuning.WeakenBase <= 0 {
		s.Tuning.WeakenBase = defaults.WeakenBase
	}
	for i := range s.Nodes {
		s.Nodes[i].Hostname = strings.TrimSpace(s.Nodes[i].Hostname)
	}
}

func (s WorldSpec) validate() error {
	seen := map[string]bool{s.Root: true}
	for i, n := range s.Nodes {
		if n.Hostname == "" {
			return fmt.Errorf("nodes[%d]: hostname is required", i)
		}
		if seen[n.Hostname] {
			return fmt.Errorf("nodes[%d]: duplicate hostname %s", i, n.Hostname)
		}
		seen[n.Hostname] = true
		if n.MinSecurity > n.Security {
			return fmt.Errorf("nodes[%d]: min_security exceeds security", i)
		}
		if n.Money > n.MaxMoney {
			return fmt.Errorf("nodes[%d]: money exceeds max_money", i)
		}
		for _, p := range n.OpenPorts {
			if _, err := node.ParsePort(p); err != nil {
				return fmt.Errorf("nodes[%d]: %w", i, err)
			}
		}
	}
	for i, n := range s.Nodes {
		for _, link := range n.Links {
			if !seen[strings.TrimSpace(link)] {
				return fmt.Errorf("nodes[%d]: link to unknown host %s", i, link)
			}
		}
	}
	for script, spec := range s.Scripts {
		if spec.RAM <= 0 {
			return fmt.Errorf("scripts[%s]: ram must be > 0", script)
		}
		switch spec.Effect {
		case EffectWeaken, EffectGrow, EffectHack:
		default:
			return fmt.Errorf("scripts[%s]: unknown effect %q", script, spec.Effect)
		}
	}
	return nil
}

// ParseWorld decodes and validates a world document.
func ParseWorld(data []byte) (WorldSpec, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return WorldSpec{}, fmt.Errorf("sim: world payload is empty")
	}
	var spec WorldSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return WorldSpec{}, fmt.Errorf("sim: decode world: %w", err)
	}
	spec.applyDefaults()
	if err := spec.validate(); err != nil {
		return WorldSpec{}, fmt.Errorf("sim: %w", err)
	}
	return spec, nil
}

// LoadWorld reads a world file from disk.
func LoadWorld(path string) (WorldSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WorldSpec{}, fmt.Errorf("sim: read %s: %w", path, err)
	}
	spec, err := ParseWorld(data)
	if err != nil {
		return WorldSpec{}, fmt.Errorf("%s: %w", filepath.Clean(path), err)
	}
	return spec, nil
}
