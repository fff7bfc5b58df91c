package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/harvester/internal/env"
)

func TestPurchaseServer(t *testing.T) {
	w, err := New(WorldSpec{
		Root:          "home",
		PurchaseLimit: 1,
		MaxServerRAM:  64,
		Nodes:         []NodeSpec{{Hostname: "alpha", Links: []string{"home"}, MaxRAM: 8}},
	})
	require.NoError(t, err)
	ctx := context.Background()

	owned, err := w.PurchasedServers(ctx)
	require.NoError(t, err)
	assert.Empty(t, owned)

	for _, ram := range []float64{0, 3, 128} {
		err := w.PurchaseServer(ctx, "worker-1", ram)
		assert.Equal(t, env.KindCapacityExceeded, env.KindOf(err), "ram %v", ram)
	}
	assert.Equal(t, env.KindCapacityExceeded, env.KindOf(w.PurchaseServer(ctx, "alpha", 8)))

	require.NoError(t, w.PurchaseServer(ctx, "worker-1", 16))
	snap, err := w.Snapshot(ctx, "worker-1")
	require.NoError(t, err)
	assert.True(t, snap.Purchased)
	assert.True(t, snap.AdminRights)
	assert.Equal(t, 16.0, snap.MaxRAM)

	links, err := w.Scan(ctx, "home")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "worker-1"}, links)

	owned, err = w.PurchasedServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"worker-1"}, owned)

	err = w.PurchaseServer(ctx, "worker-2", 16)
	assert.Equal(t, env.KindCapacityExceeded, env.KindOf(err))
	assert.Contains(t, err.Error(), "limit of 1")

	require.NoError(t, w.Close())
	assert.True(t, env.IsFatal(w.PurchaseServer(ctx, "worker-3", 16)))
	_, err = w.PurchasedServers(ctx)
	assert.True(t, env.IsFatal(err))
}

func TestWeakenTimeScalesWithDifficultyAndSkill(t *testing.T) {
	w, err := New(WorldSpec{
		Root:   "home",
		Skill:  20,
		Tuning: Tuning{WeakenBase: time.Second},
		Nodes: []NodeSpec{
			{Hostname: "easy", Links: []string{"home"}, Security: 1, MinSecurity: 1, RequiredSkill: 1},
			{Hostname: "hard", Links: []string{"home"}, Security: 20, MinSecurity: 5, RequiredSkill: 10},
		},
	})
	require.NoError(t, err)
	ctx := context.Background()

	easy, err := w.WeakenTime(ctx, "easy")
	require.NoError(t, err)
	hard, err := w.WeakenTime(ctx, "hard")
	require.NoError(t, err)
	assert.Less(t, easy, hard)
	assert.InDelta(t, float64(time.Second)*502.5/700, float64(easy), float64(time.Millisecond))

	w.SetSkill(200)
	faster, err := w.WeakenTime(ctx, "hard")
	require.NoError(t, err)
	assert.Less(t, faster, hard)

	_, err = w.WeakenTime(ctx, "ghost")
	assert.Equal(t, env.KindNotFound, env.KindOf(err))
	require.NoError(t, w.SetFaults("easy", Faults{Snapshot: true}))
	_, err = w.WeakenTime(ctx, "easy")
	assert.Equal(t, env.KindTransportFailure, env.KindOf(err))
}
