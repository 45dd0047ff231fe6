// Package delegation decides which executor runs a task.
//
// The rules are evaluated in a fixed order and the first match wins:
//
//  1. An explicit delegation table entry at or above the high-confidence
//     threshold short-circuits every other rule.
//  2. Primary context pressure: critical forces the secondary unless the task
//     is non-delegable, warning biases delegable low-tier work to the secondary.
//  3. Defaults: high estimated cost and tool-heavy work go to the secondary,
//     a sub-threshold table entry is used next, everything else goes to the primary.
//
// Decide is pure: it reads only its arguments and the immutable policy.
package delegation

import (
	"fmt"

	"github.com/ShayCichocki/delegate/internal/policy"
	"github.com/ShayCichocki/delegate/pkg/models"
)

// Input is everything a decision depends on.
type Input struct {
	Request models.TaskRequest
	// Type is the classified type, which may differ from Request.Type for general tasks.
	Type models.TaskType
	Tier models.Tier
	// Pressure is the primary executor's context pressure.
	Pressure models.Pressure
}

// Rules evaluates the delegation rules against a policy.
type Rules struct {
	cfg *policy.Config
}

// New creates a rules engine.
func New(cfg *policy.Config) *Rules {
	return &Rules{cfg: cfg}
}

// NonDelegable reports whether a task must never be force-delegated:
// strategic-tier work and critical-priority work.
func NonDelegable(tier models.Tier, priority models.Priority) bool {
	return tier == models.TierStrategic || priority >= models.PriorityCritical
}

// Decide returns the delegation decision for the input.
func (r *Rules) Decide(in Input) models.DelegationDecision {
	d := r.decide(in)
	d.TaskID = in.Request.ID
	d.Tier = in.Tier
	d.Pressure = in.Pressure
	if d.Strategy == "" {
		d.Strategy = models.StrategyDirect
	}
	return d
}

func (r *Rules) decide(in Input) models.DelegationDecision {
	th := r.cfg.Thresholds
	conf := r.cfg.Confidence
	mapping, mapped := r.cfg.Mapping(in.Type)
	_, hasPattern := r.cfg.Pattern(in.Type)

	// Rule 1: explicit high-confidence mapping.
	if mapped && mapping.Confidence >= th.HighConfidence {
		return models.DelegationDecision{
			Executor:   mapping.Executor,
			Confidence: mapping.Confidence,
			Rule:       models.RuleExplicitMapping,
			Rationale: fmt.Sprintf("%s: %s is mapped to %s at confidence %.2f",
				models.RuleExplicitMapping, in.Type, mapping.Executor, mapping.Confidence),
			Strategy: strategyFor(hasPattern),
		}
	}

	// Rule 2: context pressure on the primary.
	nonDelegable := NonDelegable(in.Tier, in.Request.Priority)
	switch in.Pressure {
	case models.PressureCritical:
		if nonDelegable {
			strategy := models.StrategyHybrid
			if hasPattern {
				strategy = models.StrategyDecompose
			}
			return models.DelegationDecision{
				Executor:   models.ExecutorPrimary,
				Confidence: conf.NonDelegable,
				Rule:       models.RuleNonDelegable,
				Rationale: fmt.Sprintf("%s: primary context pressure is critical but %s work at tier %s is non-delegable; using %s execution",
					models.RuleNonDelegable, in.Type, in.Tier, strategy),
				Strategy: strategy,
			}
		}
		return models.DelegationDecision{
			Executor:   models.ExecutorSecondary,
			Confidence: conf.ContextCritical,
			Rule:       models.RuleContextCritical,
			Rationale: fmt.Sprintf("%s: primary context pressure is critical; forcing %s to the secondary executor",
				models.RuleContextCritical, in.Type),
		}
	case models.PressureWarning:
		if !nonDelegable && !in.Tier.AtLeast(models.TierCreative) {
			return models.DelegationDecision{
				Executor:   models.ExecutorSecondary,
				Confidence: conf.ContextWarning,
				Rule:       models.RuleContextWarning,
				Rationale: fmt.Sprintf("%s: primary context pressure is at warning; %s-tier %s work biased to the secondary executor",
					models.RuleContextWarning, in.Tier, in.Type),
			}
		}
	}

	// Rule 3: defaults.
	if in.Request.EstimatedCost > th.HighCost {
		return models.DelegationDecision{
			Executor:   models.ExecutorSecondary,
			Confidence: conf.HighCost,
			Rule:       models.RuleHighCost,
			Rationale: fmt.Sprintf("%s: estimated cost %d exceeds %d",
				models.RuleHighCost, in.Request.EstimatedCost, th.HighCost),
			Strategy: strategyFor(hasPattern),
		}
	}
	if n := distinct(in.Request.RequiredCapabilities); n > th.ToolCount {
		return models.DelegationDecision{
			Executor:   models.ExecutorSecondary,
			Confidence: conf.ToolHeavy,
			Rule:       models.RuleToolHeavy,
			Rationale: fmt.Sprintf("%s: %d distinct capabilities required, more than %d",
				models.RuleToolHeavy, n, th.ToolCount),
			Strategy: strategyFor(hasPattern),
		}
	}
	if mapped {
		return models.DelegationDecision{
			Executor:   mapping.Executor,
			Confidence: mapping.Confidence,
			Rule:       models.RuleTaskTypeDefault,
			Rationale: fmt.Sprintf("%s: %s defaults to %s at confidence %.2f",
				models.RuleTaskTypeDefault, in.Type, mapping.Executor, mapping.Confidence),
			Strategy: strategyFor(hasPattern),
		}
	}
	return models.DelegationDecision{
		Executor:   models.ExecutorPrimary,
		Confidence: conf.Fallback,
		Rule:       models.RuleFallbackDefault,
		Rationale:  fmt.Sprintf("%s: no rule matched %s; using the primary executor", models.RuleFallbackDefault, in.Type),
		Strategy:   strategyFor(hasPattern),
	}
}

func strategyFor(hasPattern bool) models.Strategy {
	if hasPattern {
		return models.StrategyDecompose
	}
	return models.StrategyDirect
}

func distinct(caps []models.Capability) int {
	seen := make(map[models.Capability]struct{}, len(caps))
	for _, c := range caps {
		seen[c] = struct{}{}
	}
	return len(seen)
}
