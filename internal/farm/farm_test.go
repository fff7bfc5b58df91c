package farm

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/harvester/internal/dispatch"
	"github.com/kingrea/harvester/internal/env"
	"github.com/kingrea/harvester/internal/metrics"
	"github.com/kingrea/harvester/internal/sim"
)

// newWorld builds a network where, at skill 20, weaken times rank
// fast < mid < slow, glacial is past the default five seconds, locked is
// not rooted and elite is above the operator's skill.
func newWorld(t *testing.T, limit int) *sim.World {
	t.Helper()
	w, err := sim.New(sim.WorldSpec{
		Root:          "home",
		Skill:         20,
		PurchaseLimit: limit,
		Tuning:        sim.Tuning{WeakenBase: time.Second},
		Nodes: []sim.NodeSpec{
			{Hostname: "slow", Links: []string{"home"}, Security: 20, MinSecurity: 5, RequiredSkill: 10, Rooted: true, MaxRAM: 4},
			{Hostname: "fast", Links: []string{"home"}, Security: 1, MinSecurity: 1, RequiredSkill: 1, Rooted: true, MaxRAM: 4},
			{Hostname: "locked", Links: []string{"fast"}, Security: 1, MinSecurity: 1, RequiredSkill: 1, MaxRAM: 4},
			{Hostname: "mid", Links: []string{"slow"}, Security: 10, MinSecurity: 2, RequiredSkill: 5, Rooted: true, MaxRAM: 4},
			{Hostname: "elite", Links: []string{"home"}, Security: 1, MinSecurity: 1, RequiredSkill: 50, Rooted: true, MaxRAM: 4},
			{Hostname: "glacial", Links: []string{"home"}, Security: 100, MinSecurity: 10, RequiredSkill: 20, Rooted: true, MaxRAM: 4},
			{Hostname: "owned-1", Links: []string{"home"}, Purchased: true, Rooted: true, MaxRAM: 8},
		},
	})
	require.NoError(t, err)
	return w
}

func newFarmer(t *testing.T, w *sim.World, mutate func(*Settings), opts ...Option) *Farmer {
	t.Helper()
	settings := DefaultSettings()
	settings.Interval = time.Second
	settings.ServerRAM = 8
	if mutate != nil {
		mutate(&settings)
	}
	opts = append([]Option{WithClock(clock.NewMock())}, opts...)
	f, err := New(w, settings, opts...)
	require.NoError(t, err)
	return f
}

func hosts(targets []Target) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		out = append(out, t.Host)
	}
	return out
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, DefaultSettings())
	assert.Error(t, err)

	settings := DefaultSettings()
	settings.Root = " "
	_, err = New(newWorld(t, 0), settings)
	assert.Error(t, err)
}

func TestTargetsRankedByWeakenTime(t *testing.T) {
	w := newWorld(t, 0)
	f := newFarmer(t, w, nil)

	targets, err := f.Targets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"fast", "mid", "slow"}, hosts(targets))
	for i := 1; i < len(targets); i++ {
		assert.LessOrEqual(t, targets[i-1].WeakenTime, targets[i].WeakenTime)
	}

	f = newFarmer(t, w, func(s *Settings) { s.MaxCount = 2 })
	targets, err = f.Targets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"fast", "mid"}, hosts(targets))

	f = newFarmer(t, w, func(s *Settings) { s.MaxTime = time.Second })
	targets, err = f.Targets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"fast", "mid"}, hosts(targets))
}

func TestPassBuysWorkersAndWeakens(t *testing.T) {
	w := newWorld(t, 0)
	reg := metrics.NewRegistry()
	f := newFarmer(t, w, func(s *Settings) { s.MaxCount = 2 }, WithMetrics(reg))

	r, err := f.Pass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, r.Pass)
	require.Len(t, r.Assignments, 2)
	for i, want := range []struct{ worker, target string }{{"xp-farmer-1", "fast"}, {"xp-farmer-2", "mid"}} {
		a := r.Assignments[i]
		assert.Equal(t, want.worker, a.Worker)
		assert.Equal(t, want.target, a.Target)
		assert.True(t, a.Purchased)
		assert.False(t, a.Failed(), a.Error)
		assert.Equal(t, StageDispatch, a.Stage)
		require.NotNil(t, a.Launch)
		assert.Equal(t, dispatch.StatusLaunched, a.Launch.Status)
		assert.Equal(t, 4, a.Launch.Threads)
	}
	assert.Equal(t, 2, r.Launched())

	owned, err := w.PurchasedServers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"owned-1", "xp-farmer-1", "xp-farmer-2"}, owned)
	assert.Contains(t, w.Files("xp-farmer-1"), "/bin/weaken.js")
	procs := w.Processes()
	require.Len(t, procs, 2)
	assert.Equal(t, "/bin/weaken.js", procs[0].Script)
	assert.Equal(t, []string{"fast"}, procs[0].Args)

	r, err = f.Pass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.Passes())
	for _, a := range r.Assignments {
		assert.False(t, a.Purchased)
		require.NotNil(t, a.Launch)
		assert.Equal(t, dispatch.StatusRunning, a.Launch.Status)
	}
	assert.Len(t, w.Processes(), 2)
	last, ok := f.Last()
	require.True(t, ok)
	assert.Equal(t, 2, last.Pass)
}

func TestPurchaseFailureSkipsTarget(t *testing.T) {
	w := newWorld(t, 2)
	f := newFarmer(t, w, func(s *Settings) { s.MaxCount = 2 })

	r, err := f.Pass(context.Background())
	require.NoError(t, err)
	require.Len(t, r.Assignments, 2)
	assert.False(t, r.Assignments[0].Failed())
	second := r.Assignments[1]
	assert.True(t, second.Failed())
	assert.Equal(t, StagePurchase, second.Stage)
	assert.Equal(t, env.KindCapacityExceeded, second.Kind)
	assert.Nil(t, second.Launch)
	assert.Equal(t, 1, r.Launched())
}

func TestDeployFailureSkipsTarget(t *testing.T) {
	w := newWorld(t, 0)
	require.NoError(t, w.PurchaseServer(context.Background(), "xp-farmer-1", 8))
	require.NoError(t, w.SetFaults("xp-farmer-1", sim.Faults{Copy: true}))
	f := newFarmer(t, w, func(s *Settings) { s.MaxCount = 1 })

	r, err := f.Pass(context.Background())
	require.NoError(t, err)
	require.Len(t, r.Assignments, 1)
	a := r.Assignments[0]
	assert.False(t, a.Purchased)
	assert.Equal(t, StageDeploy, a.Stage)
	assert.Equal(t, env.KindCapacityExceeded, a.Kind)
	assert.Empty(t, w.Processes())
}

func TestLocalFarmsFromRoot(t *testing.T) {
	w := newWorld(t, 0)
	f := newFarmer(t, w, func(s *Settings) { s.Local = true; s.MaxTime = time.Millisecond })

	r, err := f.Pass(context.Background())
	require.NoError(t, err)
	require.Len(t, r.Assignments, 1)
	a := r.Assignments[0]
	assert.Equal(t, "home", a.Worker)
	assert.Equal(t, "fast", a.Target)
	assert.False(t, a.Purchased)
	require.NotNil(t, a.Launch)
	assert.Equal(t, dispatch.StatusLaunched, a.Launch.Status)

	owned, err := w.PurchasedServers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"owned-1"}, owned)
}

func TestFatalFaultStopsRun(t *testing.T) {
	w := newWorld(t, 0)
	f := newFarmer(t, w, nil)
	require.NoError(t, w.Close())

	_, err := f.Pass(context.Background())
	assert.True(t, env.IsFatal(err))

	err = f.Run(context.Background())
	require.Error(t, err)
	assert.True(t, env.IsFatal(err))
	assert.Equal(t, 2, f.Passes())
}

func TestRunHonoursMaxPasses(t *testing.T) {
	w := newWorld(t, 0)
	mock := clock.NewMock()
	f := newFarmer(t, w, func(s *Settings) { s.MaxPasses = 3 }, WithClock(mock))

	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background()) }()

	var runErr error
	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		select {
		case runErr = <-done:
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, runErr)
	assert.Equal(t, 3, f.Passes())
}
