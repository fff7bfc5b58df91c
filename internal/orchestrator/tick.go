package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/kingrea/harvester/internal/config"
	"github.com/kingrea/harvester/internal/discovery"
	"github.com/kingrea/harvester/internal/dispatch"
	"github.com/kingrea/harvester/internal/env"
	"github.com/kingrea/harvester/internal/escalation"
	"github.com/kingrea/harvester/internal/scheduler"
)

// Tick runs one pass over the node list. Per-node failures are recorded in
// the report and never end the tick. The error is non-nil only for fatal
// environment faults. Cancellation is observed between nodes, so a node's
// pipeline is never abandoned half way; the report is then marked Interrupted.
func (l *Loop) Tick(ctx context.Context) (TickReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	started := l.clock.Now()
	report := TickReport{RunID: l.runID, StartedAt: started.UTC()}

	hosts, err := l.nodes(ctx, &report)
	if err != nil {
		if ctx.Err() != nil {
			report.Interrupted = true
		}
		return l.complete(report, started), err
	}
	skill, err := l.env.SkillLevel(ctx)
	if err != nil {
		if env.IsFatal(err) {
			return l.complete(report, started), err
		}
		l.logger.Warn("skill level unavailable, skipping tick", "error", err)
		return l.complete(report, started), nil
	}
	report.Skill = skill

	for _, host := range hosts {
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}
		nr, err := l.processNode(ctx, host, skill)
		report.Nodes = append(report.Nodes, nr)
		if err != nil {
			return l.complete(report, started), err
		}
	}
	return l.complete(report, started), nil
}

// nodes returns the hosts for this tick, discovering when the mode or an
// empty cache requires it. A failed root scan falls back to the cached list.
func (l *Loop) nodes(ctx context.Context, report *TickReport) ([]string, error) {
	l.mu.Lock()
	cached, haveCache := l.cached, l.haveCache
	l.mu.Unlock()
	if l.settings.Mode == config.DiscoveryOnce && haveCache {
		return cached, nil
	}

	hosts, err := discovery.Discover(ctx, l.env, l.settings.Root)
	report.Discovered = true
	switch {
	case err == nil:
		l.recordDiscovery("ok")
	case env.IsFatal(err):
		l.recordDiscovery("error")
		return nil, err
	case discovery.IsPartial(err):
		l.recordDiscovery("partial")
		report.DiscoveryError = err.Error()
		l.logger.Warn("discovery incomplete", "error", err)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		l.recordDiscovery("error")
		report.DiscoveryError = err.Error()
		l.logger.Warn("discovery failed, reusing previous node list", "error", err, "cached", len(cached))
		return cached, nil
	}

	l.mu.Lock()
	l.cached = hosts
	l.haveCache = true
	l.mu.Unlock()
	l.logger.Debug("discovered nodes", "count", len(hosts))
	return hosts, nil
}

// processNode walks one node through the pipeline. It returns an error only
// for fatal faults.
func (l *Loop) processNode(ctx context.Context, host string, skill int) (NodeReport, error) {
	nr := NodeReport{Host: host, Stage: StageSnapshot}
	log := l.logger.With("host", host)

	snap, err := l.env.Snapshot(ctx, host)
	if err != nil {
		if env.IsFatal(err) {
			return nr, err
		}
		nr.fail(StageSnapshot, err)
		log.Warn("snapshot failed", "kind", string(nr.Kind), "error", err)
		return nr, nil
	}
	nr.Snapshot = snap

	nr.Stage = StageGate
	if reason, ok := l.settings.Policy.Gate(snap, skill); !ok {
		l.skip(&nr, reason)
		log.Debug("skipped", "reason", string(reason.Reason), "detail", reason.Detail)
		return nr, nil
	}

	nr.Stage = StageEscalate
	esc, err := l.escalator.EscalateSnapshot(ctx, snap)
	nr.State = esc.State
	nr.Attempts = esc.Attempts
	for _, attempt := range esc.Attempts {
		l.recordAttempt(attempt.Action, attempt.PortName(), attempt.Outcome.Kind)
		if !attempt.Outcome.OK {
			log.Debug("escalation attempt failed", "action", string(attempt.Action), "port", attempt.PortName(), "kind", string(attempt.Outcome.Kind))
		}
	}
	if err != nil {
		if env.IsFatal(err) {
			return nr, err
		}
		nr.fail(StageEscalate, err)
		log.Warn("escalation failed", "kind", string(nr.Kind), "error", err)
		return nr, nil
	}
	nr.Snapshot = esc.Snapshot
	if esc.Rooted() && snap.AdminRights != esc.Snapshot.AdminRights {
		log.Info("rooted", "ports", esc.Snapshot.OpenPorts.String())
	}
	if reason, ok := scheduler.Eligible(nr.Snapshot, true); !ok {
		l.skip(&nr, reason)
		return nr, nil
	}

	nr.Stage = StageDeploy
	dep, err := l.deployer.EnsureDeployed(ctx, host)
	if err != nil {
		return nr, err
	}
	nr.Deployed = dep.Deployed
	if l.metrics != nil {
		l.metrics.RecordDeployment(dep.Deployed)
	}
	if len(dep.Copied) > 0 {
		log.Info("payloads copied", "files", dep.Copied)
	}
	if reason, ok := scheduler.Eligible(nr.Snapshot, dep.Deployed); !ok {
		nr.Kind = dep.Outcome.Kind
		nr.Error = dep.Outcome.Err
		l.skip(&nr, reason)
		log.Warn("deployment incomplete", "failed", dep.Failed, "kind", string(dep.Outcome.Kind))
		return nr, nil
	}

	nr.Stage = StageDecide
	decision := l.settings.Policy.Decide(nr.Snapshot)
	nr.Decision = &decision
	if l.metrics != nil {
		l.metrics.RecordDecision(string(decision.Action))
	}
	p, err := l.registry.Resolve(decision.Action)
	if err != nil {
		nr.fail(StageDecide, err)
		return nr, nil
	}

	nr.Stage = StageDispatch
	launch, err := l.dispatcher.Dispatch(ctx, host, p, host)
	nr.Launch = &launch
	if l.metrics != nil {
		l.metrics.RecordDispatch(string(launch.Action), string(launch.Status), launchedThreads(launch))
	}
	if err != nil {
		if env.IsFatal(err) {
			return nr, err
		}
		nr.fail(StageDispatch, err)
		log.Warn("dispatch failed", "action", string(decision.Action), "kind", string(nr.Kind), "error", err)
		return nr, nil
	}
	log.Debug("dispatched",
		"action", string(decision.Action),
		"detail", decision.Detail,
		"status", string(launch.Status),
		"threads", launch.Threads,
		"pid", int(launch.PID),
	)
	return nr, nil
}

// complete stamps the tick number and duration, then publishes the report.
func (l *Loop) complete(report TickReport, started time.Time) TickReport {
	report.Duration = l.clock.Since(started)

	l.mu.Lock()
	l.ticks++
	report.Tick = l.ticks
	stored := report
	l.last = &stored
	observers := append([]Observer(nil), l.observers...)
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.RecordTick(report.Duration, len(report.Nodes), report.Rooted())
	}
	l.logger.Info("tick complete",
		"tick", report.Tick,
		"nodes", len(report.Nodes),
		"rooted", report.Rooted(),
		"launched", report.Launched(),
		"skipped", report.Skipped(),
		"failed", report.Failures(),
		"duration", report.Duration,
	)
	if l.journal != nil {
		line := fmt.Sprintf("tick %d: %d nodes, %d rooted, %d launched, %d skipped, %d failed",
			report.Tick, len(report.Nodes), report.Rooted(), report.Launched(), report.Skipped(), report.Failures())
		if report.DiscoveryError != "" || report.Failures() > 0 {
			l.journal.Warn("%s", line)
		} else {
			l.journal.Info("%s", line)
		}
	}
	for _, o := range observers {
		o.ObserveTick(report)
	}
	return report
}

func (l *Loop) skip(nr *NodeReport, reason scheduler.SkipReason) {
	nr.Skip = &reason
	if l.metrics != nil {
		l.metrics.RecordSkip(string(reason.Reason))
	}
}

func (l *Loop) recordDiscovery(result string) {
	if l.metrics != nil {
		l.metrics.RecordDiscovery(result)
	}
}

func (l *Loop) recordAttempt(action escalation.Action, port string, kind env.Kind) {
	if l.metrics != nil {
		l.metrics.RecordEscalation(string(action), port, string(kind))
	}
}

func launchedThreads(launch dispatch.Launch) int {
	if launch.Status != dispatch.StatusLaunched {
		return 0
	}
	return launch.Threads
}
