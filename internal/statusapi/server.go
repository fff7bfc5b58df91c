// Package statusapi serves the control loop's state over HTTP: a health probe,
// Prometheus metrics, the most recent tick report and a re-discovery trigger.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kingrea/harvester/internal/logging"
	"github.com/kingrea/harvester/internal/metrics"
	"github.com/kingrea/harvester/internal/orchestrator"
)

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

// ErrDisabled is returned by Start when the settings disable the server.
var ErrDisabled = errors.New("statusapi: server disabled")

// Source is the loop state the server exposes. *orchestrator.Loop satisfies it.
type Source interface {
	RunID() string
	Ticks() int
	Running() bool
	Last() (orchestrator.TickReport, bool)
	Rediscover()
}

// Server wraps the HTTP listener and handlers backing the status API.
type Server struct {
	settings Settings
	source   Source
	metrics  *metrics.Registry
	logger   *slog.Logger
	clock    clock.Clock

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger overrides the default discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control uptime.
func WithClock(clk clock.Clock) Option {
	return func(s *Server) {
		if clk != nil {
			s.clock = clk
		}
	}
}

// WithMetrics exposes reg on /metrics. Without it the default registry is used.
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Server) {
		if reg != nil {
			s.metrics = reg
		}
	}
}

// NewServer prepares a status server over source.
func NewServer(settings Settings, source Source, opts ...Option) (*Server, error) {
	if source == nil {
		return nil, fmt.Errorf("statusapi: source is required")
	}
	settings.normalize()
	s := &Server{
		settings: settings,
		source:   source,
		metrics:  metrics.DefaultRegistry(),
		logger:   logging.Discard(),
		clock:    clock.New(),
		status:   StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Handler returns the routing table. It is usable without Start.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.GetPrometheusRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/nodes", s.handleNodes)
	mux.HandleFunc("/rediscover", s.handleRediscover)
	return mux
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("statusapi: server is nil")
	}
	if !s.settings.Enabled {
		return ErrDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("statusapi: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("statusapi: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock.Now()
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server stopped", "error", err)
		}
	}()
	s.logger.Info("status server listening", "addr", listener.Addr().String())
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL (scheme + host:port) for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return s.settings.URL()
	}
	return "http://" + addr
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.clock.Since(s.startTime).Seconds())
}

type healthResponse struct {
	Status        string `json:"status"`
	RunID         string `json:"run_id"`
	Running       bool   `json:"running"`
	Ticks         int    `json:"ticks"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        string(s.Status()),
		RunID:         s.source.RunID(),
		Running:       s.source.Running(),
		Ticks:         s.source.Ticks(),
		UptimeSeconds: s.uptimeSeconds(),
	})
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	report, ok := s.source.Last()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no tick completed yet"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRediscover(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	s.source.Rediscover()
	s.logger.Info("rediscovery requested over http", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func allow(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	allowed := methods[0]
	for _, m := range methods[1:] {
		allowed += ", " + m
	}
	w.Header().Set("Allow", allowed)
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
