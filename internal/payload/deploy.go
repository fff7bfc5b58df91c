package payload

import (
	"context"
	"fmt"
	"strings"

	"github.com/kingrea/harvester/internal/env"
)

// Deployment reports whether every payload is present on a host.
type Deployment struct {
	Host     string      `json:"host"`
	Deployed bool        `json:"deployed"`
	Copied   []string    `json:"copied,omitempty"`
	Failed   string      `json:"failed,omitempty"`
	Outcome  env.Outcome `json:"outcome"`
}

// Deployer copies missing payloads from the root host.
type Deployer struct {
	env      env.Environment
	root     string
	registry *Registry
}

// NewDeployer wires a Deployer. The registry must hold a script for every action.
func NewDeployer(environment env.Environment, root string, registry *Registry) (*Deployer, error) {
	if environment == nil {
		return nil, fmt.Errorf("payload: environment is required")
	}
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("payload: root is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("payload: registry is required")
	}
	if !registry.Complete() {
		return nil, fmt.Errorf("payload: registry needs a script for each of %v", Actions)
	}
	return &Deployer{env: environment, root: root, registry: registry}, nil
}

// Registry exposes the payload set the deployer maintains.
func (d *Deployer) Registry() *Registry {
	return d.registry
}

// EnsureDeployed checks each payload on host and copies the missing ones.
// The first failure stops the pass with Deployed=false; the host is retried on
// the next call. Presence is always re-checked against the host. The error is
// non-nil only for fatal environment faults.
func (d *Deployer) EnsureDeployed(ctx context.Context, host string) (Deployment, error) {
	result := Deployment{Host: host}
	for _, p := range d.registry.All() {
		present, err := d.env.FileExists(ctx, p.Script, host)
		if err != nil {
			if env.IsFatal(err) {
				return result, err
			}
			result.Failed = p.Script
			result.Outcome = env.Failed(err)
			return result, nil
		}
		if present {
			continue
		}
		if err := d.env.Copy(ctx, p.Script, d.root, host); err != nil {
			if env.IsFatal(err) {
				return result, err
			}
			result.Failed = p.Script
			result.Outcome = env.Failed(err)
			return result, nil
		}
		result.Copied = append(result.Copied, p.Script)
	}
	result.Deployed = true
	result.Outcome = env.Succeeded()
	return result, nil
}
