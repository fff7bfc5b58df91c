// internal/config/config.go
//
// This package handles configuration and the .harvester directory structure.
// Every project that runs the harvester gets a .harvester/ folder in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/harvester/internal/payload"
	"github.com/kingrea/harvester/internal/scheduler"
)

const (
	// Dir is the name of the directory we create in each project
	Dir = ".harvester"

	// DefaultRoot is the operator's home host.
	DefaultRoot = "home"
	// DefaultTickInterval is the sleep between control loop ticks.
	DefaultTickInterval = 500 * time.Millisecond
	// DefaultWorldFile is the simulated network loaded when none is configured.
	DefaultWorldFile = "world.yaml"
)

// DiscoveryMode selects when the node list is rebuilt.
type DiscoveryMode string

const (
	// DiscoveryPeriodic re-runs discovery at the start of every tick.
	DiscoveryPeriodic DiscoveryMode = "periodic"
	// DiscoveryOnce discovers on the first tick and reuses the list until a
	// re-discovery is requested.
	DiscoveryOnce DiscoveryMode = "once"
)

const defaultProjectConfigYAML = `# harvester project configuration
version: 1

# Host the graph is discovered from. Hosts whose names start with it are skipped.
root: home

# Sleep between control loop ticks.
tick_interval: 500ms

discovery:
  # periodic: rediscover every tick. once: discover on start and on request.
  mode: periodic

policy:
  # Weaken when security exceeds min_security + security_margin.
  security_margin: 5
  # Grow when money is below money_fraction * max_money.
  money_fraction: 0.75
  # Skip nodes whose required skill exceeds the operator's.
  skill_gating: true

payloads:
  maintenance: /bin/weaken.js
  growth: /bin/grow.js
  extraction: /bin/hack.js

dispatch:
  # Report an identical running payload instead of launching another.
  reuse_running: true

logging:
  level: info
  terminal: false

status:
  enabled: false
  host: 127.0.0.1
  port: 9477

farm:
  # Workers bought and targets weakened per pass.
  max_count: 5
  # Ignore targets whose weaken takes longer than this.
  max_time: 5s
  # Memory of each bought worker, in GB (a power of two).
  server_ram: 64
  # Workers are named <prefix>-1, <prefix>-2, ...
  prefix: xp-farmer

# Simulated network, relative to .harvester/.
world: world.yaml
`

// DiscoveryConfig captures discovery preferences.
type DiscoveryConfig struct {
	Mode DiscoveryMode `yaml:"mode" validate:"oneof=periodic once"`
}

// PayloadsConfig names the script for each worker action.
type PayloadsConfig struct {
	Maintenance string `yaml:"maintenance" validate:"required"`
	Growth      string `yaml:"growth" validate:"required"`
	Extraction  string `yaml:"extraction" validate:"required"`
}

// DispatchConfig controls the dispatcher.
type DispatchConfig struct {
	ReuseRunning bool `yaml:"reuse_running"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level    string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Terminal bool   `yaml:"terminal"`
}

// StatusConfig is the raw status server block. Unset fields fall back to the
// server's defaults.
type StatusConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty" validate:"gte=0,lte=65535"`
}

// FarmConfig controls the weaken farm run by `harvester farm`.
type FarmConfig struct {
	MaxCount  int           `yaml:"max_count" validate:"gte=1"`
	MaxTime   time.Duration `yaml:"max_time" validate:"gt=0"`
	ServerRAM float64       `yaml:"server_ram" validate:"gt=0"`
	Prefix    string        `yaml:"prefix" validate:"required"`
}

// ProjectConfig models .harvester/config.yaml.
type ProjectConfig struct {
	Version      int              `yaml:"version" validate:"gte=1"`
	Root         string           `yaml:"root" validate:"required"`
	TickInterval time.Duration    `yaml:"tick_interval" validate:"gt=0"`
	Discovery    DiscoveryConfig  `yaml:"discovery"`
	Policy       scheduler.Policy `yaml:"policy"`
	Payloads     PayloadsConfig   `yaml:"payloads"`
	Dispatch     DispatchConfig   `yaml:"dispatch"`
	Logging      LoggingConfig    `yaml:"logging"`
	Status       StatusConfig     `yaml:"status"`
	Farm         FarmConfig       `yaml:"farm"`
	World        string           `yaml:"world"`
}

// Config holds the runtime configuration for the harvester.
type Config struct {
	// ProjectDir is the directory where the user ran `harvester` from
	ProjectDir string

	// HarvesterDir is ProjectDir/.harvester
	HarvesterDir string

	Project ProjectConfig
}

// InitDir creates the .harvester directory structure in the given project
// directory and writes a default config.yaml and world.yaml when missing.
//
// Structure created:
// .harvester/
// ├── config.yaml
// ├── world.yaml
// └── logs/
func InitDir(projectDir, worldYAML string) error {
	dir := filepath.Join(projectDir, Dir)
	if err := os.MkdirAll(filepath.Join(dir, "logs"), 0o755); err != nil {
		return fmt.Errorf("config: ensure %s: %w", dir, err)
	}
	if err := ensureFile(filepath.Join(dir, "config.yaml"), defaultProjectConfigYAML); err != nil {
		return fmt.Errorf("config: write default config: %w", err)
	}
	if worldYAML != "" {
		if err := ensureFile(filepath.Join(dir, DefaultWorldFile), worldYAML); err != nil {
			return fmt.Errorf("config: write default world: %w", err)
		}
	}
	return nil
}

// Load reads .harvester/config.yaml under projectDir, falling back to
// defaults when the file is missing, then applies environment overrides.
func Load(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:   projectDir,
		HarvesterDir: filepath.Join(projectDir, Dir),
		Project:      DefaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	cfg.Project.applyEnvOverrides()
	cfg.Project.normalize(cfg.HarvesterDir)
	if err := cfg.Project.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.HarvesterDir, "logs")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.HarvesterDir, "config.yaml")
}

// JournalPath returns the tick journal written by the control loop.
func (c *Config) JournalPath() string {
	return filepath.Join(c.LogsDir(), "journal.log")
}

// WorldPath returns the simulated network file.
func (c *Config) WorldPath() string {
	return c.Project.World
}

// Registry builds the payload registry from the configured scripts.
func (c *Config) Registry() (*payload.Registry, error) {
	r := payload.NewRegistry()
	for _, p := range []payload.Payload{
		{Action: payload.ActionMaintenance, Script: c.Project.Payloads.Maintenance},
		{Action: payload.ActionGrowth, Script: c.Project.Payloads.Growth},
		{Action: payload.ActionExtraction, Script: c.Project.Payloads.Extraction},
	} {
		if err := r.Register(p); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	return r, nil
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	parsed := DefaultProjectConfig()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	parsed.applyDefaults()
	c.Project = parsed
	return nil
}

// DefaultProjectConfig returns the configuration used when no file exists.
func DefaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version:      1,
		Root:         DefaultRoot,
		TickInterval: DefaultTickInterval,
		Discovery:    DiscoveryConfig{Mode: DiscoveryPeriodic},
		Policy:       scheduler.DefaultPolicy(),
		Payloads: PayloadsConfig{
			Maintenance: payload.DefaultMaintenanceScript,
			Growth:      payload.DefaultGrowthScript,
			Extraction:  payload.DefaultExtractionScript,
		},
		Dispatch: DispatchConfig{ReuseRunning: true},
		Logging:  LoggingConfig{Level: "info"},
		Farm:     DefaultFarmConfig(),
		World:    DefaultWorldFile,
	}
}

// DefaultFarmConfig returns the farm defaults: five workers of 64GB each,
// aimed at targets that weaken within five seconds.
func DefaultFarmConfig() FarmConfig {
	return FarmConfig{
		MaxCount:  5,
		MaxTime:   5 * time.Second,
		ServerRAM: 64,
		Prefix:    "xp-farmer",
	}
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.TickInterval == 0 {
		pc.TickInterval = DefaultTickInterval
	}
	if strings.TrimSpace(string(pc.Discovery.Mode)) == "" {
		pc.Discovery.Mode = DiscoveryPeriodic
	}
	if strings.TrimSpace(pc.Logging.Level) == "" {
		pc.Logging.Level = "info"
	}
	farm := DefaultFarmConfig()
	if pc.Farm.MaxCount == 0 {
		pc.Farm.MaxCount = farm.MaxCount
	}
	if pc.Farm.MaxTime == 0 {
		pc.Farm.MaxTime = farm.MaxTime
	}
	if pc.Farm.ServerRAM == 0 {
		pc.Farm.ServerRAM = farm.ServerRAM
	}
	if strings.TrimSpace(pc.Farm.Prefix) == "" {
		pc.Farm.Prefix = farm.Prefix
	}
}

func (pc *ProjectConfig) applyEnvOverrides() {
	if value := strings.TrimSpace(os.Getenv("HARVESTER_TICK_INTERVAL")); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			pc.TickInterval = d
		}
	}
	if value := strings.TrimSpace(os.Getenv("HARVESTER_DISCOVERY_MODE")); value != "" {
		pc.Discovery.Mode = DiscoveryMode(value)
	}
	if value := strings.TrimSpace(os.Getenv("HARVESTER_LOG_LEVEL")); value != "" {
		pc.Logging.Level = value
	}
	if value := strings.TrimSpace(os.Getenv("HARVESTER_STATUS_ENABLED")); value != "" {
		if enabled, err := strconv.ParseBool(value); err == nil {
			pc.Status.Enabled = &enabled
		}
	}
	if host := strings.TrimSpace(os.Getenv("HARVESTER_STATUS_HOST")); host != "" {
		pc.Status.Host = host
	}
	if port := strings.TrimSpace(os.Getenv("HARVESTER_STATUS_PORT")); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			pc.Status.Port = parsed
		}
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.Root = strings.TrimSpace(pc.Root)
	pc.Discovery.Mode = DiscoveryMode(strings.ToLower(strings.TrimSpace(string(pc.Discovery.Mode))))
	pc.Payloads.Maintenance = strings.TrimSpace(pc.Payloads.Maintenance)
	pc.Payloads.Growth = strings.TrimSpace(pc.Payloads.Growth)
	pc.Payloads.Extraction = strings.TrimSpace(pc.Payloads.Extraction)
	pc.Logging.Level = strings.ToLower(strings.TrimSpace(pc.Logging.Level))
	pc.Status.Host = strings.TrimSpace(pc.Status.Host)
	pc.Farm.Prefix = strings.TrimSpace(pc.Farm.Prefix)
	pc.World = resolvePath(base, pc.World)
}

func (pc *ProjectConfig) validate() error {
	if err := validateStruct(pc); err != nil {
		return err
	}
	scripts := map[string]string{}
	for action, script := range map[string]string{
		"maintenance": pc.Payloads.Maintenance,
		"growth":      pc.Payloads.Growth,
		"extraction":  pc.Payloads.Extraction,
	} {
		if other, dup := scripts[script]; dup {
			return fmt.Errorf("payloads.%s and payloads.%s share script %s", action, other, script)
		}
		scripts[script] = action
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureFile(path, contents string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}
