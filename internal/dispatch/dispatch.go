// Package dispatch launches payloads sized to a node's free memory.
package dispatch

import (
	"context"
	"fmt"
	"math"

	"github.com/kingrea/harvester/internal/env"
	"github.com/kingrea/harvester/internal/payload"
)

// Status is the result of a dispatch.
type Status string

const (
	// StatusLaunched means a new instance was started.
	StatusLaunched Status = "launched"
	// StatusNoCapacity means not even one thread fits. Nothing was launched.
	StatusNoCapacity Status = "no-capacity"
	// StatusRunning means an identical instance was already running.
	StatusRunning Status = "running"
	// StatusFailed means the launch was attempted and rejected.
	StatusFailed Status = "failed"
)

// Launch describes one dispatch.
type Launch struct {
	Host    string         `json:"host"`
	Action  payload.Action `json:"action"`
	Script  string         `json:"script"`
	Target  string         `json:"target"`
	Threads int            `json:"threads"`
	PID     env.PID        `json:"pid,omitempty"`
	Status  Status         `json:"status"`
	Free    float64        `json:"free_ram"`
	Cost    float64        `json:"thread_cost"`
}

// Threads returns how many threads of cost fit in free memory. A
// non-positive cost yields zero.
func Threads(free, cost float64) int {
	if cost <= 0 || free <= 0 {
		return 0
	}
	return int(math.Floor(free / cost))
}

// Dispatcher sizes and launches payloads.
type Dispatcher struct {
	env   env.Environment
	reuse bool
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithReuse controls whether an identical running instance is reported
// instead of launching another.
func WithReuse(reuse bool) Option {
	return func(d *Dispatcher) {
		d.reuse = reuse
	}
}

// New builds a Dispatcher. Reuse of running instances is on by default.
func New(environment env.Environment, opts ...Option) (*Dispatcher, error) {
	if environment == nil {
		return nil, fmt.Errorf("dispatch: environment is required")
	}
	d := &Dispatcher{env: environment, reuse: true}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

// Dispatch launches p on host against target with as many threads as the
// host's free memory allows. When no thread fits it returns StatusNoCapacity
// and a nil error without touching the host. Exec failures are returned with
// StatusFailed and an error carrying the environment's kind.
func (d *Dispatcher) Dispatch(ctx context.Context, host string, p payload.Payload, target string) (Launch, error) {
	launch := Launch{Host: host, Action: p.Action, Script: p.Script, Target: target}
	args := p.Args(target)

	if d.reuse {
		pid, running, err := d.env.Running(ctx, p.Script, host, args...)
		if err != nil {
			launch.Status = StatusFailed
			return launch, fmt.Errorf("dispatch: running %s on %s: %w", p.Script, host, err)
		}
		if running {
			launch.PID = pid
			launch.Status = StatusRunning
			return launch, nil
		}
	}

	snap, err := d.env.Snapshot(ctx, host)
	if err != nil {
		launch.Status = StatusFailed
		return launch, fmt.Errorf("dispatch: snapshot %s: %w", host, err)
	}
	cost, err := d.env.ScriptRAM(ctx, p.Script, host)
	if err != nil {
		launch.Status = StatusFailed
		return launch, fmt.Errorf("dispatch: script cost %s on %s: %w", p.Script, host, err)
	}
	launch.Free = snap.FreeRAM()
	launch.Cost = cost
	launch.Threads = Threads(launch.Free, cost)
	if launch.Threads < 1 {
		launch.Status = StatusNoCapacity
		return launch, nil
	}

	pid, err := d.env.Exec(ctx, p.Script, host, launch.Threads, args...)
	if err != nil {
		launch.Status = StatusFailed
		return launch, fmt.Errorf("dispatch: exec %s on %s: %w", p.Script, host, err)
	}
	launch.PID = pid
	launch.Status = StatusLaunched
	return launch, nil
}
