// cmd/harvester/main.go
//
// Entry point for the harvester CLI. Every subcommand works against the
// project directory's .harvester/ folder and the simulated network it names.
//
//	harvester init                 create .harvester/ with defaults
//	harvester run [--ticks N]      run the control loop
//	harvester scan                 print every reachable node
//	harvester path <host>          print the route from root to host
//	harvester report [--sort ...]  print the server table
//	harvester farm [--local]       run the weaken farm

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/kingrea/harvester/internal/config"
	"github.com/kingrea/harvester/internal/sim"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string) error
}

var commands = []command{
	{"init", "create .harvester/ with a default config and world", runInit},
	{"run", "run the control loop", runLoop},
	{"scan", "list every node reachable from the root", runScan},
	{"path", "print the route from the root to a host", runPath},
	{"report", "print the server table", runReport},
	{"farm", "weaken the fastest targets from bought workers", runFarm},
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage()
		return nil
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	for _, cmd := range commands {
		if cmd.name == args[0] {
			return cmd.run(ctx, args[1:])
		}
	}
	printUsage()
	return fmt.Errorf("unknown command %q", args[0])
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: harvester <command> [flags]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", cmd.name, cmd.summary)
	}
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Run 'harvester <command> --help' for command flags.")
}

// newFlagSet returns a flag set carrying the shared --project flag.
func newFlagSet(name string, project *string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("harvester "+name, pflag.ContinueOnError)
	fs.StringVarP(project, "project", "C", "", "project directory (defaults to the working directory)")
	return fs
}

func projectDir(flagValue string) (string, error) {
	dir := strings.TrimSpace(flagValue)
	if dir == "" {
		var err error
		if dir, err = os.Getwd(); err != nil {
			return "", fmt.Errorf("determine working directory: %w", err)
		}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve project dir: %w", err)
	}
	return abs, nil
}

// loadProject reads the configuration and builds the simulated world it
// names. A missing world file falls back to the bundled default network.
func loadProject(flagValue string) (*config.Config, *sim.World, error) {
	dir, err := projectDir(flagValue)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, nil, err
	}
	spec, err := sim.LoadWorld(cfg.WorldPath())
	if errors.Is(err, os.ErrNotExist) {
		spec, err = sim.ParseWorld([]byte(sim.DefaultWorldYAML))
	}
	if err != nil {
		return nil, nil, err
	}
	if spec.Root != cfg.Project.Root {
		return nil, nil, fmt.Errorf("world root %q does not match config root %q", spec.Root, cfg.Project.Root)
	}
	world, err := sim.New(spec)
	if err != nil {
		return nil, nil, err
	}
	return cfg, world, nil
}

func runInit(_ context.Context, args []string) error {
	var project string
	fs := newFlagSet("init", &project)
	if err := fs.Parse(args); err != nil {
		return err
	}
	dir, err := projectDir(project)
	if err != nil {
		return err
	}
	if err := config.InitDir(dir, sim.DefaultWorldYAML); err != nil {
		return err
	}
	fmt.Printf("Initialized %s\n", filepath.Join(dir, config.Dir))
	return nil
}
