// Package env defines the contract between the orchestrator and the
// environment that hosts the node graph. The orchestrator only reads node
// state through Query and changes it through Mutator; every change is applied
// by the environment and observed by re-querying.
package env

import (
	"context"
	"time"

	"github.com/kingrea/harvester/internal/node"
)

// PID is an opaque process handle returned by Exec.
type PID int

// Query is the read-only surface.
type Query interface {
	// Scan returns the hosts adjacent to host.
	Scan(ctx context.Context, host string) ([]string, error)
	// Snapshot reads the current attributes of host.
	Snapshot(ctx context.Context, host string) (node.Snapshot, error)
	// FileExists reports whether file is present on host.
	FileExists(ctx context.Context, file, host string) (bool, error)
	// SkillLevel returns the operator's current skill.
	SkillLevel(ctx context.Context) (int, error)
	// ScriptRAM returns the per-thread memory cost of script on host.
	ScriptRAM(ctx context.Context, script, host string) (float64, error)
	// Running returns the PID of script on host started with args, if any.
	Running(ctx context.Context, script, host string, args ...string) (PID, bool, error)
}

// Mutator is the surface that changes remote state.
type Mutator interface {
	// OpenPort applies the capability tool for port against host.
	OpenPort(ctx context.Context, port node.Port, host string) error
	// Elevate attempts to gain admin rights on host.
	Elevate(ctx context.Context, host string) error
	// Copy copies file from source to host.
	Copy(ctx context.Context, file, source, host string) error
	// Exec launches script on host with the given thread count.
	Exec(ctx context.Context, script, host string, threads int, args ...string) (PID, error)
}

// Environment is the full surface an orchestrator needs.
type Environment interface {
	Query
	Mutator
}

// Fleet is implemented by environments where the operator can buy worker
// hosts. Purchased hosts join the graph rooted and linked to the root.
type Fleet interface {
	// PurchasedServers lists the operator's bought hosts, oldest first.
	PurchasedServers(ctx context.Context) ([]string, error)
	// PurchaseServer buys a host called name with ram GB of memory.
	PurchaseServer(ctx context.Context, name string, ram float64) error
}

// Timing reports how long payload actions take against a host.
type Timing interface {
	WeakenTime(ctx context.Context, host string) (time.Duration, error)
}
