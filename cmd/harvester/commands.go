package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/harvester/internal/config"
	"github.com/kingrea/harvester/internal/discovery"
	"github.com/kingrea/harvester/internal/farm"
	"github.com/kingrea/harvester/internal/logbook"
	"github.com/kingrea/harvester/internal/logging"
	"github.com/kingrea/harvester/internal/metrics"
	"github.com/kingrea/harvester/internal/orchestrator"
	"github.com/kingrea/harvester/internal/report"
	"github.com/kingrea/harvester/internal/statusapi"
	"github.com/kingrea/harvester/internal/tui"
)

func runLoop(ctx context.Context, args []string) error {
	var (
		project string
		ticks   int
		watch   bool
		debug   bool
		once    bool
	)
	fs := newFlagSet("run", &project)
	fs.IntVar(&ticks, "ticks", 0, "stop after this many ticks (0 runs until interrupted)")
	fs.BoolVarP(&watch, "watch", "w", false, "show the live node table")
	fs.BoolVar(&debug, "debug", false, "log at debug level")
	fs.BoolVar(&once, "once", false, "discover the network once and reuse the list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, world, err := loadProject(project)
	if err != nil {
		return err
	}
	level := cfg.Project.Logging.Level
	if debug {
		level = "debug"
	}
	logger, err := logging.New(logging.Options{
		Dir:      cfg.LogsDir(),
		Level:    level,
		Terminal: cfg.Project.Logging.Terminal && !watch,
	})
	if err != nil {
		return err
	}
	defer logger.Close()
	journal, err := logbook.New(cfg.JournalPath())
	if err != nil {
		return err
	}
	registry, err := cfg.Registry()
	if err != nil {
		return err
	}

	settings := orchestrator.SettingsFromConfig(cfg)
	settings.MaxTicks = ticks
	if once {
		settings.Mode = config.DiscoveryOnce
	}
	reg := metrics.DefaultRegistry()
	loop, err := orchestrator.New(world, settings,
		orchestrator.WithLogger(logger.Logger),
		orchestrator.WithMetrics(reg),
		orchestrator.WithJournal(journal),
		orchestrator.WithRegistry(registry),
	)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go world.Run(runCtx, clock.New(), loop.Settings().Interval)

	status, err := statusapi.NewServer(statusapi.SettingsFromConfig(cfg), loop,
		statusapi.WithLogger(logger.Logger),
		statusapi.WithMetrics(reg),
	)
	if err != nil {
		return err
	}
	if err := status.Start(runCtx); err != nil && !errors.Is(err, statusapi.ErrDisabled) {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = status.Shutdown(shutdownCtx)
	}()
	if addr := status.Addr(); addr != "" && !watch {
		fmt.Fprintf(os.Stderr, "status api on %s\n", status.BaseURL())
	}

	journal.Info("run %s started · root %s · %s discovery", loop.RunID(), settings.Root, settings.Mode)
	if !watch {
		err = loop.Run(runCtx)
		if last, ok := loop.Last(); ok {
			fmt.Printf("%d ticks · last: %d nodes, %d rooted, %d launched\n",
				loop.Ticks(), len(last.Nodes), last.Rooted(), last.Launched())
		}
		return err
	}

	if err := loop.Start(runCtx); err != nil {
		return err
	}
	app, err := tui.NewApp(loop, tui.WithLogbook(journal), tui.WithRefreshInterval(loop.Settings().Interval))
	if err != nil {
		loop.Stop()
		return errors.Join(err, loop.Wait())
	}
	program := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(runCtx))
	_, uiErr := program.Run()
	loop.Stop()
	loopErr := loop.Wait()
	if errors.Is(uiErr, tea.ErrProgramKilled) {
		uiErr = nil
	}
	return errors.Join(uiErr, loopErr)
}

func runScan(ctx context.Context, args []string) error {
	var project string
	fs := newFlagSet("scan", &project)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, world, err := loadProject(project)
	if err != nil {
		return err
	}
	hosts, err := discovery.Discover(ctx, world, cfg.Project.Root)
	if err != nil && !discovery.IsPartial(err) {
		return err
	}
	for _, host := range hosts {
		fmt.Println(host)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	return nil
}

func runPath(ctx context.Context, args []string) error {
	var project string
	fs := newFlagSet("path", &project)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: harvester path <host>")
	}
	cfg, world, err := loadProject(project)
	if err != nil {
		return err
	}
	target := strings.TrimSpace(fs.Arg(0))
	route, err := discovery.Path(ctx, world, cfg.Project.Root, target)
	if err != nil {
		return err
	}
	if len(route) == 0 {
		fmt.Printf("%s is the root\n", target)
		return nil
	}
	// Same shape the operator types to hop there: connect a; connect b; ...
	steps := make([]string, 0, len(route))
	for _, hop := range route {
		steps = append(steps, "connect "+hop)
	}
	fmt.Println(strings.Join(route, " -> "))
	fmt.Println(strings.Join(steps, "; "))
	return nil
}

func runReport(ctx context.Context, args []string) error {
	var (
		project    string
		sortFlag   string
		reverse    bool
		filterHigh bool
	)
	fs := newFlagSet("report", &project)
	fs.StringVar(&sortFlag, "sort", "level", "sort by level or money")
	fs.BoolVar(&reverse, "reverse", false, "reverse the sort order")
	fs.BoolVar(&filterHigh, "filter-high", false, "hide nodes above the operator's skill")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := report.ParseSortKey(sortFlag)
	if err != nil {
		return err
	}
	cfg, world, err := loadProject(project)
	if err != nil {
		return err
	}
	skill, err := world.SkillLevel(ctx)
	if err != nil {
		return err
	}
	snaps, err := report.Collect(ctx, world, cfg.Project.Root)
	if snaps == nil && err != nil {
		return err
	}
	fmt.Println(report.Render(snaps, report.Options{
		Sort:       key,
		Reverse:    reverse,
		FilterHigh: filterHigh,
		Skill:      skill,
	}))
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	return nil
}

func runFarm(ctx context.Context, args []string) error {
	var (
		project   string
		passes    int
		local     bool
		debug     bool
		maxCount  int
		maxTime   time.Duration
		serverRAM float64
	)
	fs := newFlagSet("farm", &project)
	fs.IntVar(&passes, "passes", 0, "stop after this many passes (0 runs until interrupted)")
	fs.BoolVar(&local, "local", false, "weaken the single best target from the root without buying workers")
	fs.BoolVar(&debug, "debug", false, "log at debug level")
	fs.IntVar(&maxCount, "max-count", 0, "workers and targets per pass (default from config)")
	fs.DurationVar(&maxTime, "max-time", 0, "skip targets whose weaken takes longer (default from config)")
	fs.Float64Var(&serverRAM, "server-ram", 0, "memory of each bought worker in GB (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, world, err := loadProject(project)
	if err != nil {
		return err
	}
	level := cfg.Project.Logging.Level
	if debug {
		level = "debug"
	}
	logger, err := logging.New(logging.Options{
		Dir:      cfg.LogsDir(),
		Level:    level,
		Terminal: cfg.Project.Logging.Terminal,
	})
	if err != nil {
		return err
	}
	defer logger.Close()
	registry, err := cfg.Registry()
	if err != nil {
		return err
	}

	settings := farm.SettingsFromConfig(cfg)
	settings.MaxPasses = passes
	settings.Local = local
	if maxCount > 0 {
		settings.MaxCount = maxCount
	}
	if maxTime > 0 {
		settings.MaxTime = maxTime
	}
	if serverRAM > 0 {
		settings.ServerRAM = serverRAM
	}
	farmer, err := farm.New(world, settings,
		farm.WithLogger(logger.Logger),
		farm.WithMetrics(metrics.DefaultRegistry()),
		farm.WithRegistry(registry),
	)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go world.Run(runCtx, clock.New(), farmer.Settings().Interval)

	err = farmer.Run(runCtx)
	if last, ok := farmer.Last(); ok {
		fmt.Printf("%d passes · last: %d targets, %d launched\n",
			farmer.Passes(), len(last.Targets), last.Launched())
		for _, a := range last.Assignments {
			status := string(a.Stage)
			if a.Failed() {
				status += " failed: " + string(a.Kind)
			} else if a.Launch != nil {
				status = string(a.Launch.Status)
			}
			fmt.Printf("  %s -> %s (%s)\n", a.Worker, a.Target, status)
		}
	}
	return err
}
