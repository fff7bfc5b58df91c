// Package payload names the worker programs the orchestrator dispatches and
// keeps them present on every rooted node.
package payload

import (
	"fmt"
	"strings"
)

// Action is one of the three mutually exclusive worker behaviours.
type Action string

const (
	ActionMaintenance Action = "maintenance"
	ActionGrowth      Action = "growth"
	ActionExtraction  Action = "extraction"
)

// Actions lists every action in deployment order.
var Actions = []Action{ActionMaintenance, ActionGrowth, ActionExtraction}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionMaintenance, ActionGrowth, ActionExtraction:
		return true
	}
	return false
}

// ParseAction resolves a case-insensitive action name.
func ParseAction(name string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(name)))
	if !a.Valid() {
		return "", fmt.Errorf("payload: unknown action %q", name)
	}
	return a, nil
}

// Payload is a worker script. Every payload takes exactly one positional
// argument, the target hostname.
type Payload struct {
	Action Action `json:"action" yaml:"action"`
	Script string `json:"script" yaml:"script"`
}

// Validate ensures the payload is usable.
func (p Payload) Validate() error {
	if !p.Action.Valid() {
		return fmt.Errorf("payload: unknown action %q", p.Action)
	}
	if strings.TrimSpace(p.Script) == "" {
		return fmt.Errorf("payload: script is required for %s", p.Action)
	}
	return nil
}

// Args returns the argument list for a run against target.
func (p Payload) Args(target string) []string {
	return []string{target}
}

// Default script locations on the root host.
const (
	DefaultMaintenanceScript = "/bin/weaken.js"
	DefaultGrowthScript      = "/bin/grow.js"
	DefaultExtractionScript  = "/bin/hack.js"
)

// Defaults returns the stock payload set.
func Defaults() []Payload {
	return []Payload{
		{Action: ActionMaintenance, Script: DefaultMaintenanceScript},
		{Action: ActionGrowth, Script: DefaultGrowthScript},
		{Action: ActionExtraction, Script: DefaultExtractionScript},
	}
}
