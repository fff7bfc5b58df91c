package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, projectDir, body string) {
	t.Helper()
	dir := filepath.Join(projectDir, Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(strings.TrimSpace(body)), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	c, err := Load(projectDir)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if c.Project.Root != DefaultRoot {
		t.Fatalf("expected root %q, got %q", DefaultRoot, c.Project.Root)
	}
	if c.Project.TickInterval != DefaultTickInterval {
		t.Fatalf("expected tick interval %s, got %s", DefaultTickInterval, c.Project.TickInterval)
	}
	if c.Project.Discovery.Mode != DiscoveryPeriodic {
		t.Fatalf("expected periodic discovery, got %s", c.Project.Discovery.Mode)
	}
	if c.Project.Policy.SecurityMargin != 5 || c.Project.Policy.MoneyFraction != 0.75 || !c.Project.Policy.SkillGating {
		t.Fatalf("unexpected policy defaults: %+v", c.Project.Policy)
	}
	if !c.Project.Dispatch.ReuseRunning {
		t.Fatalf("expected reuse_running to default to true")
	}
	if want := filepath.Join(projectDir, Dir, DefaultWorldFile); c.WorldPath() != want {
		t.Fatalf("expected world path %s, got %s", want, c.WorldPath())
	}
}

func TestInitDirWritesLoadableDefaults(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitDir(projectDir, "root: home\n"); err != nil {
		t.Fatalf("InitDir: %v", err)
	}
	for _, path := range []string{
		filepath.Join(projectDir, Dir, "config.yaml"),
		filepath.Join(projectDir, Dir, DefaultWorldFile),
		filepath.Join(projectDir, Dir, "logs"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s: %v", path, err)
		}
	}
	c, err := Load(projectDir)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if c.Project.Status.Port != 9477 {
		t.Fatalf("expected status port from default file, got %d", c.Project.Status.Port)
	}
	if c.Project.Status.Enabled == nil || *c.Project.Status.Enabled {
		t.Fatalf("expected status disabled in default file")
	}

	// Existing files are left alone.
	writeConfig(t, projectDir, "root: darkweb\n")
	if err := InitDir(projectDir, "root: home\n"); err != nil {
		t.Fatalf("InitDir: %v", err)
	}
	c, err = Load(projectDir)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if c.Project.Root != "darkweb" {
		t.Fatalf("InitDir overwrote config, root=%s", c.Project.Root)
	}
}

func TestLoadParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	writeConfig(t, projectDir, `
root: base
tick_interval: 2s
discovery:
  mode: Once
policy:
  security_margin: 2.5
  money_fraction: 0.5
  skill_gating: false
payloads:
  maintenance: /w.js
  growth: /g.js
  extraction: /h.js
dispatch:
  reuse_running: false
world: /tmp/net.yaml
`)
	c, err := Load(projectDir)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if c.Project.Root != "base" || c.Project.TickInterval != 2*time.Second {
		t.Fatalf("unexpected project: %+v", c.Project)
	}
	if c.Project.Discovery.Mode != DiscoveryOnce {
		t.Fatalf("expected once discovery, got %s", c.Project.Discovery.Mode)
	}
	if c.Project.Policy.SecurityMargin != 2.5 || c.Project.Policy.MoneyFraction != 0.5 || c.Project.Policy.SkillGating {
		t.Fatalf("unexpected policy: %+v", c.Project.Policy)
	}
	if c.Project.Dispatch.ReuseRunning {
		t.Fatalf("expected reuse_running false")
	}
	if c.WorldPath() != "/tmp/net.yaml" {
		t.Fatalf("absolute world path changed: %s", c.WorldPath())
	}
	reg, err := c.Registry()
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	if got := len(reg.All()); got != 3 {
		t.Fatalf("expected 3 payloads, got %d", got)
	}
}

func TestLoadFarmBlock(t *testing.T) {
	projectDir := t.TempDir()
	writeConfig(t, projectDir, `
farm:
  max_count: 2
  max_time: 750ms
  prefix: " worker "
`)
	c, err := Load(projectDir)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	want := FarmConfig{MaxCount: 2, MaxTime: 750 * time.Millisecond, ServerRAM: 64, Prefix: "worker"}
	if c.Project.Farm != want {
		t.Fatalf("unexpected farm config: %+v", c.Project.Farm)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"policy.money_fraction": "policy:\n  money_fraction: 1.5\n",
		"discovery.mode":        "discovery:\n  mode: sometimes\n",
		"logging.level":         "logging:\n  level: loud\n",
		"status.port":           "status:\n  port: 70000\n",
		"farm.max_count":        "farm:\n  max_count: -1\n",
		"farm.server_ram":       "farm:\n  server_ram: -8\n",
		"share script":          "payloads:\n  growth: /bin/hack.js\n",
	}
	for want, body := range cases {
		t.Run(want, func(t *testing.T) {
			projectDir := t.TempDir()
			writeConfig(t, projectDir, body)
			_, err := Load(projectDir)
			if err == nil {
				t.Fatalf("expected validation error but got none")
			}
			if !strings.Contains(err.Error(), want) {
				t.Fatalf("expected error mentioning %q, got %v", want, err)
			}
		})
	}
}

func TestLoadAcceptsEveryLoggerLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "warning", "error", "WARNING"} {
		t.Run(level, func(t *testing.T) {
			projectDir := t.TempDir()
			writeConfig(t, projectDir, "logging:\n  level: "+level+"\n")
			c, err := Load(projectDir)
			if err != nil {
				t.Fatalf("Load rejected level %q: %v", level, err)
			}
			if c.Project.Logging.Level != strings.ToLower(level) {
				t.Fatalf("level not normalized: %q", c.Project.Logging.Level)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	projectDir := t.TempDir()
	t.Setenv("HARVESTER_TICK_INTERVAL", "1500ms")
	t.Setenv("HARVESTER_DISCOVERY_MODE", "once")
	t.Setenv("HARVESTER_STATUS_ENABLED", "true")
	t.Setenv("HARVESTER_STATUS_PORT", "9100")
	c, err := Load(projectDir)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if c.Project.TickInterval != 1500*time.Millisecond {
		t.Fatalf("tick interval override ignored: %s", c.Project.TickInterval)
	}
	if c.Project.Discovery.Mode != DiscoveryOnce {
		t.Fatalf("discovery override ignored: %s", c.Project.Discovery.Mode)
	}
	if c.Project.Status.Enabled == nil || !*c.Project.Status.Enabled || c.Project.Status.Port != 9100 {
		t.Fatalf("status override ignored: %+v", c.Project.Status)
	}
}
