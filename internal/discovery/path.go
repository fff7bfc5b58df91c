package discovery

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoPath is returned when target cannot be reached from root.
var ErrNoPath = errors.New("discovery: no path")

// Path returns the shortest chain of hops from root to target, excluding root
// and including target. Hosts whose scans fail are treated as dead ends.
func Path(ctx context.Context, scanner Scanner, root, target string) ([]string, error) {
	if scanner == nil {
		return nil, fmt.Errorf("discovery: scanner is required")
	}
	root = strings.TrimSpace(root)
	target = strings.TrimSpace(target)
	if root == "" || target == "" {
		return nil, fmt.Errorf("discovery: root and target are required")
	}
	if root == target {
		return []string{}, nil
	}

	parents := map[string]string{root: root}
	queue := list.New()
	queue.PushBack(root)

	for queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current := queue.Remove(queue.Front()).(string)
		links, err := scanner.Scan(ctx, current)
		if err != nil {
			if current == root {
				return nil, fmt.Errorf("discovery: scan root %s: %w", root, err)
			}
			continue
		}
		for _, next := range links {
			if _, seen := parents[next]; seen {
				continue
			}
			parents[next] = current
			if next == target {
				return reconstruct(parents, root, target), nil
			}
			queue.PushBack(next)
		}
	}
	return nil, fmt.Errorf("%w from %s to %s", ErrNoPath, root, target)
}

func reconstruct(parents map[string]string, root, target string) []string {
	var reversed []string
	for at := target; at != root; at = parents[at] {
		reversed = append(reversed, at)
	}
	path := make([]string, len(reversed))
	for i, host := range reversed {
		path[len(reversed)-1-i] = host
	}
	return path
}
