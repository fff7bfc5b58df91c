// Package orchestrator owns the control loop: every tick it obtains the node
// list and walks each node through escalation, deployment, scheduling and
// dispatch, then sleeps until the next tick.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/kingrea/harvester/internal/config"
	"github.com/kingrea/harvester/internal/dispatch"
	"github.com/kingrea/harvester/internal/env"
	"github.com/kingrea/harvester/internal/escalation"
	"github.com/kingrea/harvester/internal/logbook"
	"github.com/kingrea/harvester/internal/logging"
	"github.com/kingrea/harvester/internal/metrics"
	"github.com/kingrea/harvester/internal/payload"
	"github.com/kingrea/harvester/internal/scheduler"
)

// ErrAlreadyRunning is returned when Run or Start is called on a busy loop.
var ErrAlreadyRunning = errors.New("orchestrator: loop already running")

// Settings are the operational parameters of a Loop.
type Settings struct {
	Root     string
	Interval time.Duration
	Mode     config.DiscoveryMode
	Policy   scheduler.Policy
	// MaxTicks stops Run after that many ticks. Zero runs until stopped.
	MaxTicks int
	// ReuseRunning reports identical running payloads instead of relaunching.
	ReuseRunning bool
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		Root:         config.DefaultRoot,
		Interval:     config.DefaultTickInterval,
		Mode:         config.DiscoveryPeriodic,
		Policy:       scheduler.DefaultPolicy(),
		ReuseRunning: true,
	}
}

// SettingsFromConfig builds loop settings from the project configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	settings := DefaultSettings()
	if cfg == nil {
		return settings
	}
	settings.Root = cfg.Project.Root
	settings.Interval = cfg.Project.TickInterval
	settings.Mode = cfg.Project.Discovery.Mode
	settings.Policy = cfg.Project.Policy
	settings.ReuseRunning = cfg.Project.Dispatch.ReuseRunning
	return settings
}

func (s *Settings) normalize() error {
	s.Root = strings.TrimSpace(s.Root)
	if s.Root == "" {
		return fmt.Errorf("orchestrator: root is required")
	}
	if s.Interval <= 0 {
		s.Interval = config.DefaultTickInterval
	}
	switch s.Mode {
	case "":
		s.Mode = config.DiscoveryPeriodic
	case config.DiscoveryPeriodic, config.DiscoveryOnce:
	default:
		return fmt.Errorf("orchestrator: unknown discovery mode %q", s.Mode)
	}
	if s.Policy.MoneyFraction <= 0 {
		s.Policy.MoneyFraction = scheduler.DefaultMoneyFraction
	}
	if s.Policy.SecurityMargin < 0 {
		s.Policy.SecurityMargin = scheduler.DefaultSecurityMargin
	}
	if s.MaxTicks < 0 {
		s.MaxTicks = 0
	}
	return nil
}

// Loop is the control loop. Tick may be driven directly; Run and Start
// repeat it on the configured interval.
type Loop struct {
	settings   Settings
	env        env.Environment
	registry   *payload.Registry
	escalator  *escalation.Escalator
	deployer   *payload.Deployer
	dispatcher *dispatch.Dispatcher
	clock      clock.Clock
	logger     *slog.Logger
	metrics    *metrics.Registry
	journal    *logbook.Logbook
	runID      string

	mu        sync.Mutex
	observers []Observer
	ticks     int
	cached    []string
	haveCache bool
	last      *TickReport
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	runErr    error
}

// Option customizes the loop instance.
type Option func(*Loop)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clk clock.Clock) Option {
	return func(l *Loop) {
		if clk != nil {
			l.clock = clk
		}
	}
}

// WithLogger overrides the default discarding logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics records loop activity in reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(l *Loop) {
		l.metrics = reg
	}
}

// WithJournal appends a summary line per tick to book.
func WithJournal(book *logbook.Logbook) Option {
	return func(l *Loop) {
		l.journal = book
	}
}

// WithRegistry replaces the default payload scripts.
func WithRegistry(reg *payload.Registry) Option {
	return func(l *Loop) {
		if reg != nil {
			l.registry = reg
		}
	}
}

// WithObserver registers an observer for finished ticks.
func WithObserver(o Observer) Option {
	return func(l *Loop) {
		if o != nil {
			l.observers = append(l.observers, o)
		}
	}
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(l *Loop) {
		if strings.TrimSpace(id) != "" {
			l.runID = strings.TrimSpace(id)
		}
	}
}

// New wires a loop to an environment.
func New(environment env.Environment, settings Settings, opts ...Option) (*Loop, error) {
	if environment == nil {
		return nil, fmt.Errorf("orchestrator: environment is required")
	}
	if err := settings.normalize(); err != nil {
		return nil, err
	}
	l := &Loop{
		settings: settings,
		env:      environment,
		registry: payload.DefaultRegistry(),
		clock:    clock.New(),
		logger:   logging.Discard(),
		runID:    uuid.NewString(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	var err error
	if l.escalator, err = escalation.New(environment, settings.Root); err != nil {
		return nil, err
	}
	if l.deployer, err = payload.NewDeployer(environment, settings.Root, l.registry); err != nil {
		return nil, err
	}
	if l.dispatcher, err = dispatch.New(environment, dispatch.WithReuse(settings.ReuseRunning)); err != nil {
		return nil, err
	}
	l.logger = l.logger.With("run", l.runID)
	return l, nil
}

// RunID identifies this loop in logs and reports.
func (l *Loop) RunID() string {
	return l.runID
}

// Settings returns the normalized settings.
func (l *Loop) Settings() Settings {
	return l.settings
}

// Ticks returns how many ticks have completed.
func (l *Loop) Ticks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ticks
}

// Last returns the most recent tick report.
func (l *Loop) Last() (TickReport, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return TickReport{}, false
	}
	return *l.last, true
}

// Observe registers an observer after construction.
func (l *Loop) Observe(o Observer) {
	if o == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, o)
}

// Rediscover drops the cached node list so the next tick discovers afresh.
func (l *Loop) Rediscover() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cached = nil
	l.haveCache = false
	l.logger.Info("rediscovery requested")
}

// Running reports whether Run or Start is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Run repeats Tick until ctx is cancelled, Stop is called, MaxTicks is
// reached or the environment reports a fatal fault. Only the fatal fault is
// returned as an error.
func (l *Loop) Run(ctx context.Context) error {
	runCtx, err := l.begin(ctx)
	if err != nil {
		return err
	}
	err = l.run(runCtx)
	l.finish(err)
	return err
}

// Start runs the loop in the background. Use Stop and Wait to end it.
func (l *Loop) Start(ctx context.Context) error {
	runCtx, err := l.begin(ctx)
	if err != nil {
		return err
	}
	go func() {
		l.finish(l.run(runCtx))
	}()
	return nil
}

// Stop asks a running loop to exit after the current node.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
}

// Wait blocks until the loop started by Start or Run exits and returns its error.
func (l *Loop) Wait() error {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runErr
}

func (l *Loop) begin(ctx context.Context) (context.Context, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil, ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.running = true
	l.cancel = cancel
	l.done = make(chan struct{})
	l.runErr = nil
	return runCtx, nil
}

func (l *Loop) finish(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
	l.running = false
	l.cancel = nil
	l.runErr = err
	close(l.done)
}

func (l *Loop) run(ctx context.Context) error {
	l.logger.Info("loop started",
		"root", l.settings.Root,
		"interval", l.settings.Interval,
		"mode", string(l.settings.Mode),
		"max_ticks", l.settings.MaxTicks,
	)
	for {
		if l.limitReached() {
			l.logger.Info("loop finished", "ticks", l.Ticks())
			return nil
		}
		if ctx.Err() != nil {
			l.logger.Info("loop stopped", "ticks", l.Ticks())
			return nil
		}
		if _, err := l.Tick(ctx); err != nil {
			if env.IsFatal(err) {
				if l.metrics != nil {
					l.metrics.RecordFatal()
				}
				l.logger.Error("environment fault, stopping loop", "error", err)
				return err
			}
			l.logger.Warn("tick failed", "error", err)
		}
		if l.limitReached() {
			l.logger.Info("loop finished", "ticks", l.Ticks())
			return nil
		}
		select {
		case <-ctx.Done():
			l.logger.Info("loop stopped", "ticks", l.Ticks())
			return nil
		case <-l.clock.After(l.settings.Interval):
		}
	}
}

func (l *Loop) limitReached() bool {
	return l.settings.MaxTicks > 0 && l.Ticks() >= l.settings.MaxTicks
}
