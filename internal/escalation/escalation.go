// Package escalation drives a node from Locked towards Rooted by applying the
// capability tools available on the root host and then attempting privilege
// elevation. Every remote action is fallible; failures are recorded as
// attempt outcomes and the node is simply retried on a later tick.
package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kingrea/harvester/internal/env"
	"github.com/kingrea/harvester/internal/node"
)

// State is the escalation progress of a node.
type State string

const (
	StateLocked         State = "locked"
	StatePortsPartial   State = "ports-partial"
	StatePortsSatisfied State = "ports-satisfied"
	StateRooted         State = "rooted"
)

// StateOf derives the escalation state from a snapshot.
func StateOf(snap node.Snapshot) State {
	switch {
	case snap.AdminRights:
		return StateRooted
	case snap.PortsSatisfied():
		return StatePortsSatisfied
	case snap.OpenPortCount() > 0:
		return StatePortsPartial
	default:
		return StateLocked
	}
}

// Action names a remote escalation step.
type Action string

const (
	ActionOpenPort Action = "open-port"
	ActionElevate  Action = "elevate"
)

// Attempt is one remote action and its result. Port is only meaningful for
// ActionOpenPort.
type Attempt struct {
	Action  Action      `json:"action"`
	Port    node.Port   `json:"-"`
	Outcome env.Outcome `json:"outcome"`
}

// PortName returns the attempted port, or an empty string for elevation.
func (a Attempt) PortName() string {
	if a.Action != ActionOpenPort {
		return ""
	}
	return a.Port.String()
}

// MarshalJSON renders the port by name and omits it for elevation.
func (a Attempt) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Action  Action      `json:"action"`
		Port    string      `json:"port,omitempty"`
		Outcome env.Outcome `json:"outcome"`
	}{a.Action, a.PortName(), a.Outcome})
}

// Report is the result of escalating one node during one tick.
type Report struct {
	Host     string        `json:"host"`
	State    State         `json:"state"`
	Attempts []Attempt     `json:"attempts,omitempty"`
	Snapshot node.Snapshot `json:"-"`
}

// Rooted reports whether the node ended the call with admin rights.
func (r Report) Rooted() bool {
	return r.State == StateRooted
}

// Escalator applies capability tools held on the root host.
type Escalator struct {
	env   env.Environment
	root  string
	tools []node.Tool
}

// Option customises an Escalator.
type Option func(*Escalator)

// WithTools replaces the tool catalog. Tools are applied in slice order.
func WithTools(tools []node.Tool) Option {
	return func(e *Escalator) {
		e.tools = append([]node.Tool(nil), tools...)
	}
}

// New builds an Escalator that looks for tools on root.
func New(environment env.Environment, root string, opts ...Option) (*Escalator, error) {
	if environment == nil {
		return nil, fmt.Errorf("escalation: environment is required")
	}
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("escalation: root is required")
	}
	e := &Escalator{env: environment, root: root, tools: node.DefaultTools}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// Escalate runs one escalation pass against host. Rooted nodes are returned
// immediately without any remote action. The returned error is non-nil only
// when the node could not be observed at all or the environment reported a
// fatal fault; individual tool and elevation failures live in the report.
func (e *Escalator) Escalate(ctx context.Context, host string) (Report, error) {
	snap, err := e.env.Snapshot(ctx, host)
	if err != nil {
		return Report{Host: host}, fmt.Errorf("escalation: snapshot %s: %w", host, err)
	}
	return e.EscalateSnapshot(ctx, snap)
}

// EscalateSnapshot is Escalate for callers that already hold a fresh snapshot.
func (e *Escalator) EscalateSnapshot(ctx context.Context, snap node.Snapshot) (Report, error) {
	report := Report{Host: snap.Hostname, State: StateOf(snap), Snapshot: snap}
	if report.State == StateRooted {
		return report, nil
	}
	host := snap.Hostname

	opened := false
	for _, tool := range e.tools {
		if snap.OpenPorts.Has(tool.Port) {
			continue
		}
		available, err := e.env.FileExists(ctx, tool.Artifact, e.root)
		if err != nil {
			if env.IsFatal(err) {
				return report, err
			}
			report.Attempts = append(report.Attempts, Attempt{Action: ActionOpenPort, Port: tool.Port, Outcome: env.Failed(err)})
			continue
		}
		if !available {
			continue
		}
		err = e.env.OpenPort(ctx, tool.Port, host)
		if env.IsFatal(err) {
			return report, err
		}
		report.Attempts = append(report.Attempts, Attempt{Action: ActionOpenPort, Port: tool.Port, Outcome: env.Failed(err)})
		if err == nil {
			opened = true
		}
	}

	if opened {
		fresh, err := e.env.Snapshot(ctx, host)
		if err != nil {
			return report, fmt.Errorf("escalation: snapshot %s: %w", host, err)
		}
		snap = fresh
		report.Snapshot = snap
		report.State = StateOf(snap)
	}
	if report.State != StatePortsSatisfied {
		return report, nil
	}

	err := e.env.Elevate(ctx, host)
	if env.IsFatal(err) {
		return report, err
	}
	report.Attempts = append(report.Attempts, Attempt{Action: ActionElevate, Outcome: env.Failed(err)})
	if err != nil {
		return report, nil
	}
	fresh, err := e.env.Snapshot(ctx, host)
	if err != nil {
		return report, fmt.Errorf("escalation: snapshot %s: %w", host, err)
	}
	report.Snapshot = fresh
	report.State = StateOf(fresh)
	return report, nil
}
