package scheduler

import (
	"fmt"

	"github.com/kingrea/harvester/internal/node"
	"github.com/kingrea/harvester/internal/payload"
)

// Default policy thresholds.
const (
	DefaultSecurityMargin = 5.0
	DefaultMoneyFraction  = 0.75
)

// Policy holds the thresholds used by Decide and the gating switches.
type Policy struct {
	// SecurityMargin is how far above its minimum a node's security may drift
	// before it is weakened.
	SecurityMargin float64 `yaml:"security_margin" validate:"gte=0"`
	// MoneyFraction is the share of maximum money below which a node is grown.
	MoneyFraction float64 `yaml:"money_fraction" validate:"gt=0,lte=1"`
	// SkillGating excludes nodes whose required skill exceeds the operator's.
	SkillGating bool `yaml:"skill_gating"`
}

// DefaultPolicy returns the stock thresholds with skill gating enabled.
func DefaultPolicy() Policy {
	return Policy{
		SecurityMargin: DefaultSecurityMargin,
		MoneyFraction:  DefaultMoneyFraction,
		SkillGating:    true,
	}
}

// Decision is the action chosen for a node plus the comparison that chose it.
type Decision struct {
	Action payload.Action `json:"action"`
	Detail string         `json:"detail"`
}

// Decide applies the policy to snap. The first matching rule wins:
// security above min+margin weakens, money below fraction*max grows,
// everything else is extracted.
func (p Policy) Decide(snap node.Snapshot) Decision {
	ceiling := snap.MinSecurityLevel + p.SecurityMargin
	if snap.SecurityLevel > ceiling {
		return Decision{
			Action: payload.ActionMaintenance,
			Detail: fmt.Sprintf("security %.2f > %.2f", snap.SecurityLevel, ceiling),
		}
	}
	floor := p.MoneyFraction * snap.MaxMoney
	if snap.MoneyAvailable < floor {
		return Decision{
			Action: payload.ActionGrowth,
			Detail: fmt.Sprintf("money %.0f < %.0f", snap.MoneyAvailable, floor),
		}
	}
	return Decision{
		Action: payload.ActionExtraction,
		Detail: fmt.Sprintf("security %.2f, money %.0f", snap.SecurityLevel, snap.MoneyAvailable),
	}
}

// SkipReason explains why a node was excluded from scheduling.
type SkipReason struct {
	Reason SkipReasonCode `json:"reason"`
	Detail string         `json:"detail,omitempty"`
}

// SkipReasonCode enumerates scheduler skip reasons.
type SkipReasonCode string

const (
	SkipReasonOwned       SkipReasonCode = "owned"
	SkipReasonSkill       SkipReasonCode = "skill"
	SkipReasonNotRooted   SkipReasonCode = "not-rooted"
	SkipReasonNotDeployed SkipReasonCode = "not-deployed"
)

// Gate is the pre-escalation check. Purchased nodes are never targets and
// nodes above the operator's skill are left alone for the tick. It returns
// false with a reason when the node must be skipped.
func (p Policy) Gate(snap node.Snapshot, skill int) (SkipReason, bool) {
	if snap.Purchased {
		return SkipReason{Reason: SkipReasonOwned, Detail: "purchased by operator"}, false
	}
	if p.SkillGating && snap.RequiredSkill > skill {
		return SkipReason{
			Reason: SkipReasonSkill,
			Detail: fmt.Sprintf("requires %d, have %d", snap.RequiredSkill, skill),
		}, false
	}
	return SkipReason{}, true
}

// Eligible is the post-deployment check: only rooted nodes holding every
// payload may receive a decision.
func Eligible(snap node.Snapshot, deployed bool) (SkipReason, bool) {
	if !snap.AdminRights {
		return SkipReason{Reason: SkipReasonNotRooted, Detail: fmt.Sprintf("%d of %d ports open", snap.OpenPortCount(), snap.PortsRequired)}, false
	}
	if !deployed {
		return SkipReason{Reason: SkipReasonNotDeployed, Detail: "payloads missing"}, false
	}
	return SkipReason{}, true
}

// Schedule runs both gates and, when they pass, decides.
func (p Policy) Schedule(snap node.Snapshot, skill int, deployed bool) (Decision, SkipReason, bool) {
	if reason, ok := p.Gate(snap, skill); !ok {
		return Decision{}, reason, false
	}
	if reason, ok := Eligible(snap, deployed); !ok {
		return Decision{}, reason, false
	}
	return p.Decide(snap), SkipReason{}, true
}
