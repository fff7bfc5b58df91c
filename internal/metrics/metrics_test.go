package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var metric dto.Metric
	if err := g.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Gauge.GetValue()
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r.TicksTotal == nil || r.DispatchTotal == nil || r.EscalationAttempts == nil {
		t.Fatal("metrics not initialized")
	}
	if r.GetPrometheusRegistry() == nil {
		t.Fatal("Prometheus registry not initialized")
	}
}

func TestDefaultRegistry(t *testing.T) {
	if DefaultRegistry() != DefaultRegistry() {
		t.Error("DefaultRegistry() should return the same instance")
	}
}

func TestRecordTick(t *testing.T) {
	r := NewRegistry()
	r.RecordTick(20*time.Millisecond, 6, 2)
	r.RecordTick(30*time.Millisecond, 7, 3)

	if got := counterValue(t, r.TicksTotal); got != 2 {
		t.Errorf("ticks = %v, want 2", got)
	}
	if got := gaugeValue(t, r.NodesTotal); got != 7 {
		t.Errorf("nodes = %v, want 7", got)
	}
	if got := gaugeValue(t, r.NodesRooted); got != 3 {
		t.Errorf("rooted = %v, want 3", got)
	}
}

func TestRecordEscalationDefaultsKind(t *testing.T) {
	r := NewRegistry()
	r.RecordEscalation("open-port", "SSH", "")
	r.RecordEscalation("open-port", "SSH", "transport-failure")
	r.RecordEscalation("open-port", "SSH", "transport-failure")

	ok, err := r.EscalationAttempts.GetMetricWithLabelValues("open-port", "SSH", "ok")
	if err != nil {
		t.Fatalf("Failed to get metric: %v", err)
	}
	if got := counterValue(t, ok); got != 1 {
		t.Errorf("ok attempts = %v, want 1", got)
	}
	failed, err := r.EscalationAttempts.GetMetricWithLabelValues("open-port", "SSH", "transport-failure")
	if err != nil {
		t.Fatalf("Failed to get metric: %v", err)
	}
	if got := counterValue(t, failed); got != 2 {
		t.Errorf("failed attempts = %v, want 2", got)
	}
}

func TestRecordDispatchCountsThreads(t *testing.T) {
	r := NewRegistry()
	r.RecordDispatch("growth", "launched", 4)
	r.RecordDispatch("growth", "no-capacity", 0)
	r.RecordDispatch("growth", "launched", 2)

	threads, err := r.ThreadsLaunched.GetMetricWithLabelValues("growth")
	if err != nil {
		t.Fatalf("Failed to get metric: %v", err)
	}
	if got := counterValue(t, threads); got != 6 {
		t.Errorf("threads = %v, want 6", got)
	}
	idle, err := r.DispatchTotal.GetMetricWithLabelValues("growth", "no-capacity")
	if err != nil {
		t.Fatalf("Failed to get metric: %v", err)
	}
	if got := counterValue(t, idle); got != 1 {
		t.Errorf("no-capacity = %v, want 1", got)
	}
}

func TestMetricNamesArePrefixed(t *testing.T) {
	r := NewRegistry()
	r.RecordDiscovery("ok")
	r.RecordSkip("skill")
	r.RecordDecision("extraction")
	r.RecordDeployment(true)
	r.RecordFatal()

	families, err := r.GetPrometheusRegistry().Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("No metrics registered")
	}
	for _, m := range families {
		if !strings.HasPrefix(m.GetName(), "harvester_") {
			t.Errorf("Metric %s does not have harvester_ prefix", m.GetName())
		}
	}
}

func TestRecordFarm(t *testing.T) {
	r := NewRegistry()
	r.RecordFarmPass()
	r.RecordPurchase(true)
	r.RecordPurchase(false)
	r.RecordPurchase(false)

	if got := counterValue(t, r.FarmPasses); got != 1 {
		t.Errorf("farm passes = %v, want 1", got)
	}
	failed, err := r.PurchasesTotal.GetMetricWithLabelValues("failed")
	if err != nil {
		t.Fatalf("Failed to get metric: %v", err)
	}
	if got := counterValue(t, failed); got != 2 {
		t.Errorf("failed purchases = %v, want 2", got)
	}
}
