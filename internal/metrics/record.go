package metrics

import (
	"time"
)

const kindOK = "ok"

// RecordTick records a finished tick.
func (r *Registry) RecordTick(duration time.Duration, nodes, rooted int) {
	r.TicksTotal.Inc()
	r.TickDuration.Observe(duration.Seconds())
	r.NodesTotal.Set(float64(nodes))
	r.NodesRooted.Set(float64(rooted))
}

// RecordDiscovery records a discovery pass. result is "ok", "partial" or "error".
func (r *Registry) RecordDiscovery(result string) {
	r.DiscoveryRuns.WithLabelValues(result).Inc()
}

// RecordFatal counts a loop-stopping environment fault.
func (r *Registry) RecordFatal() {
	r.FatalTotal.Inc()
}

// RecordEscalation records one escalation action. An empty kind means success.
func (r *Registry) RecordEscalation(action, port, kind string) {
	if kind == "" {
		kind = kindOK
	}
	r.EscalationAttempts.WithLabelValues(action, port, kind).Inc()
}

// RecordDeployment records a deployment check.
func (r *Registry) RecordDeployment(deployed bool) {
	result := "deployed"
	if !deployed {
		result = "failed"
	}
	r.DeploymentsTotal.WithLabelValues(result).Inc()
}

// RecordDecision records the action picked for a node.
func (r *Registry) RecordDecision(action string) {
	r.DecisionsTotal.WithLabelValues(action).Inc()
}

// RecordSkip records a node skipped for the tick.
func (r *Registry) RecordSkip(reason string) {
	r.SkipsTotal.WithLabelValues(reason).Inc()
}

// RecordDispatch records a dispatch result and the threads it launched.
func (r *Registry) RecordDispatch(action, status string, threads int) {
	r.DispatchTotal.WithLabelValues(action, status).Inc()
	if threads > 0 {
		r.ThreadsLaunched.WithLabelValues(action).Add(float64(threads))
	}
}

// RecordFarmPass counts a finished farm pass.
func (r *Registry) RecordFarmPass() {
	r.FarmPasses.Inc()
}

// RecordPurchase records a worker purchase attempt.
func (r *Registry) RecordPurchase(ok bool) {
	result := kindOK
	if !ok {
		result = "failed"
	}
	r.PurchasesTotal.WithLabelValues(result).Inc()
}
