package escalation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/harvester/internal/env"
	"github.com/kingrea/harvester/internal/node"
	"github.com/kingrea/harvester/internal/sim"
)

var allArtifacts = []string{"BruteSSH.exe", "FTPCrack.exe", "HTTPWorm.exe", "relaySMTP.exe", "SQLInject.exe", "NUKE.exe"}

func newWorld(t *testing.T, artifacts []string, nodes ...sim.NodeSpec) *sim.World {
	t.Helper()
	w, err := sim.New(sim.WorldSpec{Root: "home", Skill: 100, Artifacts: artifacts, Nodes: nodes})
	require.NoError(t, err)
	return w
}

func newEscalator(t *testing.T, w *sim.World) *Escalator {
	t.Helper()
	e, err := New(w, w.Root())
	require.NoError(t, err)
	return e
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, "home")
	assert.Error(t, err)
	w := newWorld(t, nil)
	_, err = New(w, "  ")
	assert.Error(t, err)
}

func TestStateOf(t *testing.T) {
	cases := []struct {
		name string
		snap node.Snapshot
		want State
	}{
		{"locked", node.Snapshot{PortsRequired: 2}, StateLocked},
		{"partial", node.Snapshot{PortsRequired: 2, OpenPorts: node.PortsOf(node.PortSSH)}, StatePortsPartial},
		{"satisfied", node.Snapshot{PortsRequired: 1, OpenPorts: node.PortsOf(node.PortFTP)}, StatePortsSatisfied},
		{"zero required", node.Snapshot{}, StatePortsSatisfied},
		{"rooted", node.Snapshot{AdminRights: true, PortsRequired: 5}, StateRooted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StateOf(tc.snap))
		})
	}
}

func TestAllToolsAndZeroPortsReachRootedInOneCall(t *testing.T) {
	w := newWorld(t, allArtifacts, sim.NodeSpec{Hostname: "target", Links: []string{"home"}, MaxRAM: 8})
	e := newEscalator(t, w)

	report, err := e.Escalate(context.Background(), "target")
	require.NoError(t, err)
	assert.Equal(t, StateRooted, report.State)
	require.Len(t, report.Attempts, 6)
	for i, tool := range node.DefaultTools {
		assert.Equal(t, ActionOpenPort, report.Attempts[i].Action)
		assert.Equal(t, tool.Port, report.Attempts[i].Port)
		assert.True(t, report.Attempts[i].Outcome.OK)
	}
	assert.Equal(t, ActionElevate, report.Attempts[5].Action)
	assert.True(t, report.Attempts[5].Outcome.OK)
	assert.Equal(t, 5, report.Snapshot.OpenPortCount())
}

func TestNoArtifactsStaysLocked(t *testing.T) {
	w := newWorld(t, nil, sim.NodeSpec{Hostname: "target", Links: []string{"home"}, PortsRequired: 1})
	e := newEscalator(t, w)
	for i := 0; i < 3; i++ {
		report, err := e.Escalate(context.Background(), "target")
		require.NoError(t, err)
		assert.Equal(t, StateLocked, report.State)
		assert.Empty(t, report.Attempts)
	}
}

func TestElevationNeedsSatisfiedPorts(t *testing.T) {
	w := newWorld(t, []string{"BruteSSH.exe", "NUKE.exe"},
		sim.NodeSpec{Hostname: "target", Links: []string{"home"}, PortsRequired: 2})
	e := newEscalator(t, w)

	report, err := e.Escalate(context.Background(), "target")
	require.NoError(t, err)
	assert.Equal(t, StatePortsPartial, report.State)
	require.Len(t, report.Attempts, 1)
	assert.Equal(t, node.PortSSH, report.Attempts[0].Port)

	// Already-open ports are not re-applied.
	report, err = e.Escalate(context.Background(), "target")
	require.NoError(t, err)
	assert.Equal(t, StatePortsPartial, report.State)
	assert.Empty(t, report.Attempts)
}

func TestElevationFailureIsRecorded(t *testing.T) {
	w := newWorld(t, []string{"BruteSSH.exe"},
		sim.NodeSpec{Hostname: "target", Links: []string{"home"}, PortsRequired: 1})
	e := newEscalator(t, w)

	report, err := e.Escalate(context.Background(), "target")
	require.NoError(t, err)
	assert.Equal(t, StatePortsSatisfied, report.State)
	require.Len(t, report.Attempts, 2)
	last := report.Attempts[1]
	assert.Equal(t, ActionElevate, last.Action)
	assert.False(t, last.Outcome.OK)
	assert.Equal(t, env.KindToolUnavailable, last.Outcome.Kind)

	w.AddArtifact("NUKE.exe")
	report, err = e.Escalate(context.Background(), "target")
	require.NoError(t, err)
	assert.Equal(t, StateRooted, report.State)
}

func TestToolFailureIsSwallowed(t *testing.T) {
	w := newWorld(t, allArtifacts, sim.NodeSpec{
		Hostname: "target", Links: []string{"home"}, PortsRequired: 5,
		Faults: sim.Faults{OpenPort: true},
	})
	e := newEscalator(t, w)
	report, err := e.Escalate(context.Background(), "target")
	require.NoError(t, err)
	assert.Equal(t, StateLocked, report.State)
	require.Len(t, report.Attempts, 5)
	for _, attempt := range report.Attempts {
		assert.Equal(t, env.KindTransportFailure, attempt.Outcome.Kind)
	}
}

func TestRootedIsTerminal(t *testing.T) {
	w := newWorld(t, allArtifacts, sim.NodeSpec{Hostname: "target", Links: []string{"home"}, Rooted: true})
	e := newEscalator(t, w)
	report, err := e.Escalate(context.Background(), "target")
	require.NoError(t, err)
	assert.True(t, report.Rooted())
	assert.Empty(t, report.Attempts)
	assert.Zero(t, report.Snapshot.OpenPortCount())
}

func TestEscalateUnknownHost(t *testing.T) {
	w := newWorld(t, allArtifacts)
	e := newEscalator(t, w)
	_, err := e.Escalate(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, env.KindNotFound, env.KindOf(err))
}

func TestEscalateFatalStops(t *testing.T) {
	w := newWorld(t, allArtifacts, sim.NodeSpec{Hostname: "target", Links: []string{"home"}})
	e := newEscalator(t, w)
	snap, err := w.Snapshot(context.Background(), "target")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	_, err = e.EscalateSnapshot(context.Background(), snap)
	assert.True(t, env.IsFatal(err))
}
