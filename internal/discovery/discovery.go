// Package discovery walks the host graph reachable from the operator's root.
// Traversal uses an explicit work stack and a visited set, so it terminates on
// cyclic graphs and never grows the call stack with the graph's depth.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kingrea/harvester/internal/env"
)

// Scanner reports the neighbours of a host.
type Scanner interface {
	Scan(ctx context.Context, host string) ([]string, error)
}

// ScanError records a host whose neighbours could not be listed. The host
// itself is still part of the result; only its unexplored edges are lost.
type ScanError struct {
	Host string
	Err  error
}

func (e ScanError) Error() string {
	return fmt.Sprintf("discovery: scan %s: %v", e.Host, e.Err)
}

func (e ScanError) Unwrap() error { return e.Err }

// PartialError is returned alongside a usable result when some scans failed.
type PartialError struct {
	Failures []ScanError
}

func (e *PartialError) Error() string {
	hosts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		hosts = append(hosts, f.Host)
	}
	return fmt.Sprintf("discovery: %d scan(s) failed: %s", len(e.Failures), strings.Join(hosts, ", "))
}

// Unwrap exposes the individual scan errors to errors.Is and errors.As.
func (e *PartialError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f)
	}
	return out
}

// IsPartial reports whether err only signals lost subtrees.
func IsPartial(err error) bool {
	var partial *PartialError
	return errors.As(err, &partial)
}

// Discover returns every host reachable from root in depth-first pre-order,
// visiting neighbours in the order the scanner lists them. The root and any
// host whose name starts with the root's name are excluded and not expanded.
//
// A failing scan of the root is returned as an error with no result. A failing
// scan of any other host keeps the host, drops its subtree for this call, and
// is reported through a *PartialError returned with the result. A fatal
// environment fault from any scan ends the walk and is returned with no result.
func Discover(ctx context.Context, scanner Scanner, root string) ([]string, error) {
	root = strings.TrimSpace(root)
	return walk(ctx, scanner, root, func(host string) bool {
		return strings.HasPrefix(host, root)
	})
}

// All is Discover without the prefix rule: only the root itself is left
// out, so the operator's own hosts are listed and expanded too.
func All(ctx context.Context, scanner Scanner, root string) ([]string, error) {
	root = strings.TrimSpace(root)
	return walk(ctx, scanner, root, func(host string) bool {
		return host == root
	})
}

func walk(ctx context.Context, scanner Scanner, root string, skip func(string) bool) ([]string, error) {
	if scanner == nil {
		return nil, fmt.Errorf("discovery: scanner is required")
	}
	if root == "" {
		return nil, fmt.Errorf("discovery: root is required")
	}
	rootLinks, err := scanner.Scan(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("discovery: scan root %s: %w", root, err)
	}

	visited := map[string]bool{root: true}
	var result []string
	var failures []ScanError
	stack := newWorkStack(rootLinks)

	for stack.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		host := stack.Pop()
		if visited[host] || skip(host) {
			continue
		}
		visited[host] = true
		result = append(result, host)

		links, err := scanner.Scan(ctx, host)
		if err != nil {
			if env.IsFatal(err) {
				return nil, fmt.Errorf("discovery: scan %s: %w", host, err)
			}
			failures = append(failures, ScanError{Host: host, Err: err})
			continue
		}
		stack.PushAll(links)
	}
	if len(failures) > 0 {
		return result, &PartialError{Failures: failures}
	}
	return result, nil
}

// workStack is a LIFO of hosts still to visit. PushAll pushes in reverse so
// the first listed neighbour is popped first, matching recursive pre-order.
type workStack struct {
	items []string
}

func newWorkStack(initial []string) *workStack {
	s := &workStack{}
	s.PushAll(initial)
	return s
}

func (s *workStack) Len() int {
	return len(s.items)
}

func (s *workStack) PushAll(hosts []string) {
	for i := len(hosts) - 1; i >= 0; i-- {
		s.items = append(s.items, hosts[i])
	}
}

func (s *workStack) Pop() string {
	last := len(s.items) - 1
	host := s.items[last]
	s.items = s.items[:last]
	return host
}
