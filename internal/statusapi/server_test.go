package statusapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/harvester/internal/config"
	"github.com/kingrea/harvester/internal/metrics"
	"github.com/kingrea/harvester/internal/orchestrator"
	"github.com/kingrea/harvester/internal/sim"
)

type fakeSource struct {
	mu          sync.Mutex
	last        *orchestrator.TickReport
	rediscovers int
}

func (f *fakeSource) RunID() string { return "run-1" }
func (f *fakeSource) Ticks() int    { return 7 }
func (f *fakeSource) Running() bool { return true }

func (f *fakeSource) Last() (orchestrator.TickReport, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return orchestrator.TickReport{}, false
	}
	return *f.last, true
}

func (f *fakeSource) Rediscover() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rediscovers++
}

func TestSettingsFromConfig(t *testing.T) {
	settings := SettingsFromConfig(nil)
	assert.False(t, settings.Enabled)
	assert.Equal(t, "127.0.0.1:9477", settings.Address())

	enabled := true
	cfg := &config.Config{}
	cfg.Project.Status = config.StatusConfig{Enabled: &enabled, Host: " 0.0.0.0 ", Port: 9100}
	settings = SettingsFromConfig(cfg)
	assert.True(t, settings.Enabled)
	assert.Equal(t, "http://0.0.0.0:9100", settings.URL())

	cfg.Project.Status.Port = 70000
	assert.Equal(t, DefaultPort, SettingsFromConfig(cfg).Port)
}

func TestNewServerRequiresSource(t *testing.T) {
	_, err := NewServer(DefaultSettings(), nil)
	assert.Error(t, err)
}

func TestStartDisabled(t *testing.T) {
	srv, err := NewServer(DefaultSettings(), &fakeSource{})
	require.NoError(t, err)
	assert.ErrorIs(t, srv.Start(context.Background()), ErrDisabled)
	assert.Equal(t, StatusStarting, srv.Status())
}

func TestHandlers(t *testing.T) {
	source := &fakeSource{}
	mock := clock.NewMock()
	reg := metrics.NewRegistry()
	reg.RecordTick(time.Millisecond, 3, 1)
	srv, err := NewServer(DefaultSettings(), source, WithClock(mock), WithMetrics(reg))
	require.NoError(t, err)
	handler := srv.Handler()

	do := func(method, path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
		return rec
	}

	t.Run("health", func(t *testing.T) {
		rec := do(http.MethodGet, "/health")
		require.Equal(t, http.StatusOK, rec.Code)
		var body healthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "run-1", body.RunID)
		assert.Equal(t, 7, body.Ticks)
		assert.True(t, body.Running)
	})

	t.Run("nodes before first tick", func(t *testing.T) {
		assert.Equal(t, http.StatusServiceUnavailable, do(http.MethodGet, "/nodes").Code)
	})

	t.Run("nodes", func(t *testing.T) {
		source.mu.Lock()
		source.last = &orchestrator.TickReport{Tick: 4, Nodes: []orchestrator.NodeReport{{Host: "n00dles"}}}
		source.mu.Unlock()
		rec := do(http.MethodGet, "/nodes")
		require.Equal(t, http.StatusOK, rec.Code)
		var body orchestrator.TickReport
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 4, body.Tick)
		require.Len(t, body.Nodes, 1)
		assert.Equal(t, "n00dles", body.Nodes[0].Host)
	})

	t.Run("rediscover", func(t *testing.T) {
		rec := do(http.MethodGet, "/rediscover")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))

		assert.Equal(t, http.StatusAccepted, do(http.MethodPost, "/rediscover").Code)
		assert.Equal(t, 1, source.rediscovers)
	})

	t.Run("metrics", func(t *testing.T) {
		rec := do(http.MethodGet, "/metrics")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "harvester_ticks_total 1")
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := do(http.MethodDelete, "/health")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
	})
}

func TestServerServesLoopReports(t *testing.T) {
	w, err := sim.New(sim.WorldSpec{
		Root:      "home",
		Skill:     5,
		Artifacts: []string{"BruteSSH.exe", "NUKE.exe"},
		Nodes: []sim.NodeSpec{
			{Hostname: "n00dles", Links: []string{"home"}, Security: 1, MinSecurity: 1, Money: 70000, MaxMoney: 1750000, RequiredSkill: 1, MaxRAM: 4},
		},
	})
	require.NoError(t, err)
	loop, err := orchestrator.New(w, orchestrator.DefaultSettings(), orchestrator.WithClock(clock.NewMock()))
	require.NoError(t, err)

	settings := DefaultSettings()
	settings.Enabled = true
	settings.Port = 0
	srv, err := NewServer(settings, loop, WithMetrics(metrics.NewRegistry()))
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})
	assert.Equal(t, StatusReady, srv.Status())
	assert.Error(t, srv.Start(context.Background()))

	_, err = loop.Tick(context.Background())
	require.NoError(t, err)

	resp, err := http.Get(srv.BaseURL() + "/nodes")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `"host":"n00dles"`))
	assert.Contains(t, string(body), `"action":"growth"`)

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.Equal(t, StatusDraining, srv.Status())
	assert.Empty(t, srv.Addr())
}
