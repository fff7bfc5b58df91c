// Package metrics exposes the control loop's counters through a private
// Prometheus registry.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "harvester"

// Registry holds all metrics for the application
type Registry struct {
	// Loop metrics
	TicksTotal    prometheus.Counter
	TickDuration  prometheus.Histogram
	FatalTotal    prometheus.Counter
	NodesTotal    prometheus.Gauge
	NodesRooted   prometheus.Gauge
	DiscoveryRuns *prometheus.CounterVec

	// Pipeline metrics
	EscalationAttempts *prometheus.CounterVec
	DeploymentsTotal   *prometheus.CounterVec
	DecisionsTotal     *prometheus.CounterVec
	SkipsTotal         *prometheus.CounterVec
	DispatchTotal      *prometheus.CounterVec
	ThreadsLaunched    *prometheus.CounterVec

	// Farm metrics
	FarmPasses     prometheus.Counter
	PurchasesTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a registry with every metric initialised.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	r.initLoopMetrics()
	r.initPipelineMetrics()
	r.initFarmMetrics()
	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

func (r *Registry) initLoopMetrics() {
	factory := promauto.With(r.registry)
	r.TicksTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticks_total",
		Help:      "Control loop ticks completed",
	})
	r.TickDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tick_duration_seconds",
		Help:      "Wall time spent processing one tick",
		Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
	})
	r.FatalTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fatal_total",
		Help:      "Environment faults that stopped the loop",
	})
	r.NodesTotal = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "nodes",
		Help:      "Nodes in the most recent discovery result",
	})
	r.NodesRooted = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "nodes_rooted",
		Help:      "Nodes holding admin rights at the end of the last tick",
	})
	r.DiscoveryRuns = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "discovery_runs_total",
		Help:      "Discovery passes by result",
	}, []string{"result"})
}

func (r *Registry) initPipelineMetrics() {
	factory := promauto.With(r.registry)
	r.EscalationAttempts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escalation_attempts_total",
		Help:      "Remote escalation actions by action, port and error kind",
	}, []string{"action", "port", "kind"})
	r.DeploymentsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deployments_total",
		Help:      "Payload deployment checks by result",
	}, []string{"result"})
	r.DecisionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decisions_total",
		Help:      "Scheduling decisions by action",
	}, []string{"action"})
	r.SkipsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "skips_total",
		Help:      "Nodes skipped for a tick by reason",
	}, []string{"reason"})
	r.DispatchTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_total",
		Help:      "Dispatch results by action and status",
	}, []string{"action", "status"})
	r.ThreadsLaunched = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "threads_launched_total",
		Help:      "Payload threads launched by action",
	}, []string{"action"})
}

func (r *Registry) initFarmMetrics() {
	factory := promauto.With(r.registry)
	r.FarmPasses = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "farm_passes_total",
		Help:      "Weaken farm passes completed",
	})
	r.PurchasesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "purchases_total",
		Help:      "Worker host purchases by result",
	}, []string{"result"})
}
