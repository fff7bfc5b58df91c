package payload

import (
	"fmt"
	"sync"
)

// Registry maps each action to the script that performs it.
type Registry struct {
	mu       sync.RWMutex
	payloads map[Action]Payload
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{payloads: map[Action]Payload{}}
}

// DefaultRegistry returns a registry holding Defaults.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, p := range Defaults() {
		r.MustRegister(p)
	}
	return r
}

// Register installs a payload. Returns an error if the action already has one.
func (r *Registry) Register(p Payload) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.payloads[p.Action]; exists {
		return fmt.Errorf("payload: %s already registered", p.Action)
	}
	r.payloads[p.Action] = p
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(p Payload) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

// Resolve returns the payload for action.
func (r *Registry) Resolve(action Action) (Payload, error) {
	r.mu.RLock()
	p, ok := r.payloads[action]
	r.mu.RUnlock()
	if !ok {
		return Payload{}, fmt.Errorf("payload: no script for %s", action)
	}
	return p, nil
}

// All returns the registered payloads in deployment order.
func (r *Registry) All() []Payload {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Payload, 0, len(r.payloads))
	for _, action := range Actions {
		if p, ok := r.payloads[action]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Complete reports whether every action has a script.
func (r *Registry) Complete() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.payloads) == len(Actions)
}
