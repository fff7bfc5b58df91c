// Package farm runs the experience farm: a small fleet of bought workers
// keeps the maintenance payload running against the rooted targets that
// weaken fastest. It shares discovery, gating, deployment and dispatch with
// the control loop but never escalates and never decides an action.
package farm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kingrea/harvester/internal/config"
	"github.com/kingrea/harvester/internal/dispatch"
	"github.com/kingrea/harvester/internal/env"
	"github.com/kingrea/harvester/internal/logging"
	"github.com/kingrea/harvester/internal/metrics"
	"github.com/kingrea/harvester/internal/payload"
	"github.com/kingrea/harvester/internal/scheduler"
)

// ErrAlreadyRunning is returned when Run is called on a busy farmer.
var ErrAlreadyRunning = errors.New("farm: already running")

// Environment is what the farm needs from the network: the full control
// surface plus worker purchases and weaken timings.
type Environment interface {
	env.Environment
	env.Fleet
	env.Timing
}

// Settings are the operational parameters of a Farmer.
type Settings struct {
	Root     string
	Interval time.Duration
	// MaxCount caps the targets, and so the workers, per pass.
	MaxCount int
	// MaxTime drops targets whose weaken takes longer.
	MaxTime   time.Duration
	ServerRAM float64
	Prefix    string
	// Local runs the single best target from the root and buys nothing.
	Local bool
	// MaxPasses stops Run after that many passes. Zero runs until stopped.
	MaxPasses int
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	farm := config.DefaultFarmConfig()
	return Settings{
		Root:      config.DefaultRoot,
		Interval:  config.DefaultTickInterval,
		MaxCount:  farm.MaxCount,
		MaxTime:   farm.MaxTime,
		ServerRAM: farm.ServerRAM,
		Prefix:    farm.Prefix,
	}
}

// SettingsFromConfig builds farm settings from the project configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	settings := DefaultSettings()
	if cfg == nil {
		return settings
	}
	settings.Root = cfg.Project.Root
	settings.Interval = cfg.Project.TickInterval
	settings.MaxCount = cfg.Project.Farm.MaxCount
	settings.MaxTime = cfg.Project.Farm.MaxTime
	settings.ServerRAM = cfg.Project.Farm.ServerRAM
	settings.Prefix = cfg.Project.Farm.Prefix
	return settings
}

func (s *Settings) normalize() error {
	defaults := DefaultSettings()
	s.Root = strings.TrimSpace(s.Root)
	if s.Root == "" {
		return fmt.Errorf("farm: root is required")
	}
	s.Prefix = strings.TrimSpace(s.Prefix)
	if s.Prefix == "" {
		s.Prefix = defaults.Prefix
	}
	if s.Interval <= 0 {
		s.Interval = defaults.Interval
	}
	if s.MaxCount <= 0 {
		s.MaxCount = defaults.MaxCount
	}
	if s.MaxTime <= 0 {
		s.MaxTime = defaults.MaxTime
	}
	if s.ServerRAM <= 0 {
		s.ServerRAM = defaults.ServerRAM
	}
	if s.Local {
		s.MaxCount = 1
		s.MaxTime = time.Duration(math.MaxInt64)
	}
	if s.MaxPasses < 0 {
		s.MaxPasses = 0
	}
	return nil
}

// Farmer runs farm passes.
type Farmer struct {
	settings   Settings
	env        Environment
	registry   *payload.Registry
	weaken     payload.Payload
	gate       scheduler.Policy
	deployer   *payload.Deployer
	dispatcher *dispatch.Dispatcher
	clock      clock.Clock
	logger     *slog.Logger
	metrics    *metrics.Registry

	mu      sync.Mutex
	passes  int
	last    *PassReport
	running bool
}

// Option customizes the farmer instance.
type Option func(*Farmer)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clk clock.Clock) Option {
	return func(f *Farmer) {
		if clk != nil {
			f.clock = clk
		}
	}
}

// WithLogger overrides the default discarding logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Farmer) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMetrics records farm activity in reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(f *Farmer) {
		f.metrics = reg
	}
}

// WithRegistry replaces the default payload scripts.
func WithRegistry(reg *payload.Registry) Option {
	return func(f *Farmer) {
		if reg != nil {
			f.registry = reg
		}
	}
}

// New wires a farmer to an environment.
func New(environment Environment, settings Settings, opts ...Option) (*Farmer, error) {
	if environment == nil {
		return nil, fmt.Errorf("farm: environment is required")
	}
	if err := settings.normalize(); err != nil {
		return nil, err
	}
	f := &Farmer{
		settings: settings,
		env:      environment,
		registry: payload.DefaultRegistry(),
		gate:     scheduler.Policy{SkillGating: true},
		clock:    clock.New(),
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	var err error
	if f.weaken, err = f.registry.Resolve(payload.ActionMaintenance); err != nil {
		return nil, err
	}
	if f.deployer, err = payload.NewDeployer(environment, settings.Root, f.registry); err != nil {
		return nil, err
	}
	if f.dispatcher, err = dispatch.New(environment, dispatch.WithReuse(true)); err != nil {
		return nil, err
	}
	f.logger = f.logger.With("component", "farm")
	return f, nil
}

// Settings returns the normalized settings.
func (f *Farmer) Settings() Settings {
	return f.settings
}

// Passes returns how many passes have completed.
func (f *Farmer) Passes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.passes
}

// Last returns the most recent pass report.
func (f *Farmer) Last() (PassReport, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return PassReport{}, false
	}
	return *f.last, true
}

// Run repeats Pass until ctx is cancelled, MaxPasses is reached or the
// environment reports a fatal fault. Only the fatal fault is returned.
func (f *Farmer) Run(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return ErrAlreadyRunning
	}
	f.running = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()

	f.logger.Info("farm started",
		"root", f.settings.Root,
		"max_count", f.settings.MaxCount,
		"max_time", f.settings.MaxTime,
		"local", f.settings.Local,
	)
	for {
		if f.limitReached() || ctx.Err() != nil {
			f.logger.Info("farm stopped", "passes", f.Passes())
			return nil
		}
		if _, err := f.Pass(ctx); err != nil {
			if env.IsFatal(err) {
				if f.metrics != nil {
					f.metrics.RecordFatal()
				}
				f.logger.Error("environment fault, stopping farm", "error", err)
				return err
			}
			f.logger.Warn("farm pass failed", "error", err)
		}
		if f.limitReached() {
			f.logger.Info("farm stopped", "passes", f.Passes())
			return nil
		}
		select {
		case <-ctx.Done():
			f.logger.Info("farm stopped", "passes", f.Passes())
			return nil
		case <-f.clock.After(f.settings.Interval):
		}
	}
}

func (f *Farmer) limitReached() bool {
	return f.settings.MaxPasses > 0 && f.Passes() >= f.settings.MaxPasses
}
