package orchestrator

import (
	"time"

	"github.com/kingrea/harvester/internal/dispatch"
	"github.com/kingrea/harvester/internal/env"
	"github.com/kingrea/harvester/internal/escalation"
	"github.com/kingrea/harvester/internal/node"
	"github.com/kingrea/harvester/internal/scheduler"
)

// Stage names the last pipeline step a node reached during a tick.
type Stage string

const (
	StageSnapshot Stage = "snapshot"
	StageGate     Stage = "gate"
	StageEscalate Stage = "escalate"
	StageDeploy   Stage = "deploy"
	StageDecide   Stage = "decide"
	StageDispatch Stage = "dispatch"
)

// NodeReport records what happened to one node during one tick.
type NodeReport struct {
	Host     string                `json:"host"`
	Stage    Stage                 `json:"stage"`
	Snapshot node.Snapshot         `json:"snapshot"`
	State    escalation.State      `json:"state,omitempty"`
	Attempts []escalation.Attempt  `json:"attempts,omitempty"`
	Skip     *scheduler.SkipReason `json:"skip,omitempty"`
	Deployed bool                  `json:"deployed"`
	Decision *scheduler.Decision   `json:"decision,omitempty"`
	Launch   *dispatch.Launch      `json:"launch,omitempty"`
	Kind     env.Kind              `json:"kind,omitempty"`
	Error    string                `json:"error,omitempty"`
}

// Failed reports whether a remote action failed for this node.
func (r NodeReport) Failed() bool {
	return r.Error != ""
}

func (r *NodeReport) fail(stage Stage, err error) {
	r.Stage = stage
	r.Kind = env.KindOf(err)
	r.Error = err.Error()
}

// TickReport summarises one pass over the node list.
type TickReport struct {
	RunID          string        `json:"run_id"`
	Tick           int           `json:"tick"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	Discovered     bool          `json:"discovered"`
	DiscoveryError string        `json:"discovery_error,omitempty"`
	Skill          int           `json:"skill"`
	Nodes          []NodeReport  `json:"nodes"`
	Interrupted    bool          `json:"interrupted,omitempty"`
}

// Rooted counts nodes holding admin rights at the end of the tick.
func (r TickReport) Rooted() int {
	count := 0
	for _, n := range r.Nodes {
		if n.Snapshot.AdminRights {
			count++
		}
	}
	return count
}

// Launched counts dispatches that started a new instance.
func (r TickReport) Launched() int {
	count := 0
	for _, n := range r.Nodes {
		if n.Launch != nil && n.Launch.Status == dispatch.StatusLaunched {
			count++
		}
	}
	return count
}

// Skipped counts nodes excluded by a gate.
func (r TickReport) Skipped() int {
	count := 0
	for _, n := range r.Nodes {
		if n.Skip != nil {
			count++
		}
	}
	return count
}

// Failures counts nodes whose pipeline stopped on an error.
func (r TickReport) Failures() int {
	count := 0
	for _, n := range r.Nodes {
		if n.Failed() {
			count++
		}
	}
	return count
}

// Observer receives every finished tick.
type Observer interface {
	ObserveTick(TickReport)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(TickReport)

// ObserveTick implements Observer.
func (f ObserverFunc) ObserveTick(r TickReport) {
	f(r)
}
