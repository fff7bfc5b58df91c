package sim

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kingrea/harvester/internal/env"
	"github.com/kingrea/harvester/internal/node"
)

var (
	_ env.Fleet  = (*World)(nil)
	_ env.Timing = (*World)(nil)
)

// PurchasedServers implements env.Fleet. The root is not listed.
func (w *World) PurchasedServers(ctx context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, fmt.Errorf("sim: purchased servers: %w", env.ErrFatal)
	}
	return w.purchased(), nil
}

func (w *World) purchased() []string {
	var out []string
	for _, name := range w.order {
		if name != w.root && w.hosts[name].snap.Purchased {
			out = append(out, name)
		}
	}
	return out
}

// PurchaseServer implements env.Fleet. Memory must be a power of two no
// larger than the world's limit, and the name must be free.
func (w *World) PurchaseServer(ctx context.Context, name string, ram float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("sim: purchase %s: %w", name, env.ErrFatal)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return env.NewError("purchase", name, env.KindNotFound, fmt.Errorf("hostname is required"))
	}
	if _, taken := w.hosts[name]; taken {
		return env.NewError("purchase", name, env.KindCapacityExceeded, fmt.Errorf("hostname taken"))
	}
	if ram <= 0 || ram > w.maxServerRAM || math.Exp2(math.Round(math.Log2(ram))) != ram {
		return env.NewError("purchase", name, env.KindCapacityExceeded,
			fmt.Errorf("ram %.0fGB must be a power of two up to %.0fGB", ram, w.maxServerRAM))
	}
	if len(w.purchased()) >= w.purchaseLimit {
		return env.NewError("purchase", name, env.KindCapacityExceeded,
			fmt.Errorf("limit of %d servers reached", w.purchaseLimit))
	}
	w.addHost(&host{
		snap: node.Snapshot{
			Hostname:    name,
			AdminRights: true,
			Purchased:   true,
			MaxRAM:      ram,
		},
		files: map[string]bool{},
	})
	w.link(w.root, name)
	return nil
}

// WeakenTime implements env.Timing. Harder and better defended hosts take
// longer; a higher operator skill shortens every run.
func (w *World) WeakenTime(ctx context.Context, hostname string) (time.Duration, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, err := w.lookup("weaken-time", hostname)
	if err != nil {
		return 0, err
	}
	if h.faults.Snapshot {
		return 0, env.NewError("weaken-time", hostname, env.KindTransportFailure, errFault)
	}
	difficulty := 2.5*float64(h.snap.RequiredSkill)*h.snap.SecurityLevel + 500
	factor := difficulty / float64(max(w.skill, 0)+50) / 10
	return time.Duration(float64(w.tuning.WeakenBase) * factor), nil
}
