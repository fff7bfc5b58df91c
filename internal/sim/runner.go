package sim

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// Run advances the world once per period until ctx is cancelled. It stands in
// for the independent execution of deployed scripts.
func (w *World) Run(ctx context.Context, clk clock.Clock, period time.Duration) {
	if clk == nil {
		clk = clock.New()
	}
	ticker := clk.Ticker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Advance()
		}
	}
}
