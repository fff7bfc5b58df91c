package farm

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/kingrea/harvester/internal/discovery"
	"github.com/kingrea/harvester/internal/dispatch"
	"github.com/kingrea/harvester/internal/env"
)

// Target is a rooted host within skill, ranked by how fast it weakens.
type Target struct {
	Host       string        `json:"host"`
	WeakenTime time.Duration `json:"weaken_time"`
}

// Stage is the step an assignment reached.
type Stage string

const (
	StagePurchase Stage = "purchase"
	StageDeploy   Stage = "deploy"
	StageDispatch Stage = "dispatch"
)

// Assignment pairs one worker with one target for a pass.
type Assignment struct {
	Worker    string           `json:"worker"`
	Target    string           `json:"target"`
	Stage     Stage            `json:"stage"`
	Purchased bool             `json:"purchased,omitempty"`
	Launch    *dispatch.Launch `json:"launch,omitempty"`
	Kind      env.Kind         `json:"kind,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Failed reports whether the assignment stopped on an error.
func (a Assignment) Failed() bool {
	return a.Error != ""
}

func (a *Assignment) fail(err error) {
	a.Kind = env.KindOf(err)
	a.Error = err.Error()
}

// PassReport describes one farm pass.
type PassReport struct {
	Pass           int           `json:"pass"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	Skill          int           `json:"skill"`
	Targets        []Target      `json:"targets"`
	Assignments    []Assignment  `json:"assignments"`
	DiscoveryError string        `json:"discovery_error,omitempty"`
}

// Launched counts assignments that started a new payload.
func (r PassReport) Launched() int {
	n := 0
	for _, a := range r.Assignments {
		if a.Launch != nil && a.Launch.Status == dispatch.StatusLaunched {
			n++
		}
	}
	return n
}

// Targets lists the hosts the next pass would farm, fastest first.
func (f *Farmer) Targets(ctx context.Context) ([]Target, error) {
	var report PassReport
	return f.targets(ctx, &report)
}

// targets keeps rooted, unowned hosts within the operator's skill whose
// weaken finishes within MaxTime, sorted by weaken time and capped at
// MaxCount. Hosts that cannot be read are left out of this pass.
func (f *Farmer) targets(ctx context.Context, report *PassReport) ([]Target, error) {
	hosts, err := discovery.Discover(ctx, f.env, f.settings.Root)
	switch {
	case err == nil:
	case env.IsFatal(err):
		return nil, err
	case discovery.IsPartial(err):
		report.DiscoveryError = err.Error()
		f.logger.Warn("discovery incomplete", "error", err)
	default:
		return nil, err
	}
	skill, err := f.env.SkillLevel(ctx)
	if err != nil {
		return nil, err
	}
	report.Skill = skill

	var out []Target
	for _, host := range hosts {
		snap, err := f.env.Snapshot(ctx, host)
		if err != nil {
			if env.IsFatal(err) {
				return nil, err
			}
			f.logger.Debug("snapshot failed", "host", host, "error", err)
			continue
		}
		if _, ok := f.gate.Gate(snap, skill); !ok || !snap.AdminRights {
			continue
		}
		wt, err := f.env.WeakenTime(ctx, host)
		if err != nil {
			if env.IsFatal(err) {
				return nil, err
			}
			f.logger.Debug("weaken time unavailable", "host", host, "error", err)
			continue
		}
		if wt > f.settings.MaxTime {
			continue
		}
		out = append(out, Target{Host: host, WeakenTime: wt})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].WeakenTime < out[j].WeakenTime
	})
	if len(out) > f.settings.MaxCount {
		out = out[:f.settings.MaxCount]
	}
	return out, nil
}

// Pass farms once: worker N is bought if missing, given the payloads and set
// to weaken target N. Failures are recorded per assignment; the error is
// non-nil for fatal faults and for passes that could not pick targets.
func (f *Farmer) Pass(ctx context.Context) (PassReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	started := f.clock.Now()
	report := PassReport{StartedAt: started.UTC()}

	targets, err := f.targets(ctx, &report)
	if err != nil {
		return f.complete(report, started), err
	}
	report.Targets = targets
	if len(targets) == 0 {
		f.logger.Debug("no targets to weaken")
	}

	var owned []string
	if !f.settings.Local {
		if owned, err = f.env.PurchasedServers(ctx); err != nil {
			return f.complete(report, started), err
		}
	}
	for i, t := range targets {
		if ctx.Err() != nil {
			break
		}
		worker := f.settings.Root
		if !f.settings.Local {
			worker = fmt.Sprintf("%s-%d", f.settings.Prefix, i+1)
		}
		a, err := f.assign(ctx, worker, t.Host, owned)
		report.Assignments = append(report.Assignments, a)
		if err != nil {
			return f.complete(report, started), err
		}
	}
	return f.complete(report, started), nil
}

// assign returns an error only for fatal faults.
func (f *Farmer) assign(ctx context.Context, worker, target string, owned []string) (Assignment, error) {
	a := Assignment{Worker: worker, Target: target}
	log := f.logger.With("worker", worker, "target", target)

	if !f.settings.Local {
		if !slices.Contains(owned, worker) {
			a.Stage = StagePurchase
			err := f.env.PurchaseServer(ctx, worker, f.settings.ServerRAM)
			if f.metrics != nil {
				f.metrics.RecordPurchase(err == nil)
			}
			if err != nil {
				if env.IsFatal(err) {
					return a, err
				}
				a.fail(err)
				log.Debug("unable to purchase worker", "kind", string(a.Kind), "error", err)
				return a, nil
			}
			a.Purchased = true
			log.Info("purchased worker", "ram", f.settings.ServerRAM)
		}

		a.Stage = StageDeploy
		dep, err := f.deployer.EnsureDeployed(ctx, worker)
		if err != nil {
			return a, err
		}
		if !dep.Deployed {
			a.Kind = dep.Outcome.Kind
			a.Error = dep.Outcome.Err
			log.Error("unable to copy payload", "script", dep.Failed, "kind", string(a.Kind))
			return a, nil
		}
	}

	a.Stage = StageDispatch
	launch, err := f.dispatcher.Dispatch(ctx, worker, f.weaken, target)
	a.Launch = &launch
	if f.metrics != nil {
		f.metrics.RecordDispatch(string(launch.Action), string(launch.Status), launch.Threads)
	}
	if err != nil {
		if env.IsFatal(err) {
			return a, err
		}
		a.fail(err)
		log.Warn("dispatch failed", "kind", string(a.Kind), "error", err)
	}
	return a, nil
}

func (f *Farmer) complete(report PassReport, started time.Time) PassReport {
	report.Duration = f.clock.Since(started)
	f.mu.Lock()
	f.passes++
	report.Pass = f.passes
	snapshot := report
	f.last = &snapshot
	f.mu.Unlock()
	if f.metrics != nil {
		f.metrics.RecordFarmPass()
	}
	f.logger.Info("farm pass complete",
		"pass", report.Pass,
		"targets", len(report.Targets),
		"launched", report.Launched(),
	)
	return report
}
