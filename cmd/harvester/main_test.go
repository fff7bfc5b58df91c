package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/harvester/internal/config"
)

func TestLoadProjectFallsBackToDefaultWorld(t *testing.T) {
	dir := t.TempDir()
	cfg, world, err := loadProject(dir)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultRoot, cfg.Project.Root)
	assert.Contains(t, world.Hosts(), "n00dles")
}

func TestInitThenLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, runInit(context.Background(), []string{"--project", dir}))
	assert.FileExists(t, filepath.Join(dir, config.Dir, "config.yaml"))
	assert.FileExists(t, filepath.Join(dir, config.Dir, config.DefaultWorldFile))

	_, world, err := loadProject(dir)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultRoot, world.Root())
}

func TestLoadProjectRejectsMismatchedRoot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, config.Dir), 0o755))
	world := "root: lab\nnodes:\n  - hostname: n00dles\n    links: [lab]\n    max_ram: 4\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.Dir, config.DefaultWorldFile), []byte(world), 0o644))

	_, _, err := loadProject(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestUnknownCommand(t *testing.T) {
	err := run([]string{"harvest"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestPathCommand(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	require.NoError(t, runPath(ctx, []string{"-C", dir, "n00dles"}))
	require.NoError(t, runPath(ctx, []string{"-C", dir, "home"}))
	assert.Error(t, runPath(ctx, []string{"-C", dir, "nowhere"}))
	assert.Error(t, runPath(ctx, []string{"-C", dir}))
}

func TestReportRejectsUnknownSort(t *testing.T) {
	err := runReport(context.Background(), []string{"-C", t.TempDir(), "--sort", "ram"})
	assert.Error(t, err)
}

func TestRunStopsAfterTicks(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, runInit(context.Background(), []string{"-C", dir}))
	require.NoError(t, runLoop(context.Background(), []string{"-C", dir, "--ticks", "1"}))
	assert.FileExists(t, filepath.Join(dir, config.Dir, "logs", "journal.log"))
}

func TestFarmCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, runInit(context.Background(), []string{"-C", dir}))
	require.NoError(t, runFarm(context.Background(), []string{"-C", dir, "--passes", "1", "--max-count", "2"}))

	_, world, err := loadProject(dir)
	require.NoError(t, err)
	assert.NotContains(t, world.Hosts(), "xp-farmer-1", "each command loads a fresh world")
}
