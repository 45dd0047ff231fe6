// Package policy defines the immutable policy parameters for delegation behavior.
// It centralizes the delegation table, thresholds, decomposition patterns and
// retry settings so every component receives them through its constructor.
//
// A Config must not be modified after Validate has succeeded.
package policy

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/ShayCichocki/delegate/internal/graph"
	"github.com/ShayCichocki/delegate/pkg/models"
)

// ErrInvalidPolicy is wrapped by every validation failure.
var ErrInvalidPolicy = errors.New("invalid policy")

// Config contains all policy parameters for the engine.
type Config struct {
	// Delegation maps task types to their default executor and confidence.
	Delegation map[models.TaskType]Mapping

	// Tiers maps task types to their default complexity tier.
	Tiers TierPolicy

	// Thresholds controls the rule engine's cutoffs.
	Thresholds ThresholdPolicy

	// Confidence holds the confidence reported by rules that have no table entry.
	Confidence ConfidencePolicy

	// Primary and Secondary describe the two executors.
	Primary   ExecutorPolicy
	Secondary ExecutorPolicy

	// Retry controls the resilience manager.
	Retry RetryPolicy

	// Sparring controls sparring sessions.
	Sparring SparringPolicy

	// Decomposition holds the static decomposition patterns.
	Decomposition DecompositionPolicy

	// Cache controls the result cache.
	Cache CachePolicy
}

// Mapping is one row of the delegation table.
type Mapping struct {
	Executor   models.ExecutorID
	Confidence float64
}

// TierPolicy controls classification.
type TierPolicy struct {
	// Defaults maps task type to its default tier.
	Defaults map[models.TaskType]models.Tier
	// Fallback is used when a task cannot be classified.
	Fallback models.Tier
}

// ThresholdPolicy controls when rules fire.
type ThresholdPolicy struct {
	// HighConfidence is the table confidence at which a mapping short-circuits all other rules.
	HighConfidence float64
	// ContextWarning is the fraction of the primary ceiling that biases toward the secondary.
	ContextWarning float64
	// ContextCritical is the fraction of the primary ceiling that forces the secondary.
	ContextCritical float64
	// HighCost is the estimated cost above which work routes to the secondary.
	HighCost int64
	// ToolCount is the number of distinct capabilities above which work routes to the secondary.
	ToolCount int
}

// ConfidencePolicy holds per-rule confidences.
type ConfidencePolicy struct {
	ContextCritical float64
	ContextWarning  float64
	NonDelegable    float64
	HighCost        float64
	ToolHeavy       float64
	Fallback        float64
}

// ExecutorPolicy describes one executor.
type ExecutorPolicy struct {
	// Model is the backend model name.
	Model string
	// Capabilities lists what the executor can do.
	Capabilities []models.Capability
	// ContextCeiling is the session budget for this executor.
	ContextCeiling int64
	// MaxCallBudget is the largest estimated cost a single call may carry.
	MaxCallBudget int64
	// MaxTokens bounds the output of one call.
	MaxTokens int64
	// Timeout is the per-call timeout.
	Timeout time.Duration
	// UnitCost is the relative price of one consumed unit.
	UnitCost float64
}

// Supports reports whether the executor declares every capability in caps.
func (e ExecutorPolicy) Supports(caps []models.Capability) bool {
	for _, want := range caps {
		found := false
		for _, have := range e.Capabilities {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// RetryPolicy controls retries of transient failures.
type RetryPolicy struct {
	// MaxAttempts is the number of attempts per executor, including the first.
	MaxAttempts int
	// BaseBackoff is the delay before the second attempt.
	BaseBackoff time.Duration
	// Multiplier grows the delay between attempts.
	Multiplier float64
	// MaxBackoff caps the delay.
	MaxBackoff time.Duration
	// JitterFactor randomizes each delay by up to this fraction in either direction.
	JitterFactor float64
}

// Backoff returns the delay before the given attempt (2 is the first retry).
func (r RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := float64(r.BaseBackoff) * math.Pow(r.Multiplier, float64(attempt-2))
	if r.MaxBackoff > 0 && d > float64(r.MaxBackoff) {
		return r.MaxBackoff
	}
	return time.Duration(d)
}

// SparringPolicy controls sparring sessions.
type SparringPolicy struct {
	// Alternatives is how many alternatives the secondary proposes.
	Alternatives int
	// SafetyMargin is added to the sum of step timeouts to form the session budget.
	SafetyMargin time.Duration
	// AlternativeConfidence is assigned to alternatives that do not report one.
	AlternativeConfidence float64
	// AutoStrategic runs a sparring session on every strategic-tier result.
	AutoStrategic bool
}

// DecompositionPolicy holds decomposition patterns and scheduling limits.
type DecompositionPolicy struct {
	// Patterns maps a decomposable task type to its subtask templates.
	Patterns map[models.TaskType]Pattern
	// MaxParallel bounds concurrently running subtasks.
	MaxParallel int
}

// Pattern is an ordered list of subtask templates.
type Pattern struct {
	Templates []Template
}

// Template describes one subtask of a pattern.
type Template struct {
	// Name identifies the subtask, e.g. "design".
	Name string
	// Type is the task type of the subtask. Empty means the parent type.
	Type models.TaskType
	// Executor is the preferred executor.
	Executor models.ExecutorID
	// DependsOn lists template positions this template waits for.
	DependsOn []int
	// Instruction is prefixed to the parent payload.
	Instruction string
}

// CachePolicy controls the result cache.
type CachePolicy struct {
	Enabled bool
	TTL     time.Duration
	Size    int
}

// Executor returns the policy for the given executor.
func (c *Config) Executor(id models.ExecutorID) ExecutorPolicy {
	if id == models.ExecutorSecondary {
		return c.Secondary
	}
	return c.Primary
}

// Mapping returns the delegation table entry for a task type.
func (c *Config) Mapping(t models.TaskType) (Mapping, bool) {
	m, ok := c.Delegation[t]
	return m, ok
}

// Pattern returns the decomposition pattern for a task type.
func (c *Config) Pattern(t models.TaskType) (Pattern, bool) {
	p, ok := c.Decomposition.Patterns[t]
	return p, ok && len(p.Templates) > 0
}

// Validate checks that policy values are within acceptable ranges.
// Unlike a best-effort clamp, every problem is reported; malformed policy is fatal.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidPolicy}, args...)...))
	}

	for t, m := range c.Delegation {
		if !t.Valid() {
			bad("delegation: unknown task type %q", t)
		}
		if !m.Executor.Valid() {
			bad("delegation %s: unknown executor %q", t, m.Executor)
		}
		if !unit(m.Confidence) {
			bad("delegation %s: confidence %v outside [0,1]", t, m.Confidence)
		}
	}

	for t, tier := range c.Tiers.Defaults {
		if !t.Valid() {
			bad("tiers: unknown task type %q", t)
		}
		if !tier.Valid() {
			bad("tiers %s: unknown tier %q", t, tier)
		}
	}
	if !c.Tiers.Fallback.Valid() {
		bad("tiers: unknown fallback tier %q", c.Tiers.Fallback)
	}

	th := c.Thresholds
	if !unit(th.HighConfidence) {
		bad("thresholds: high confidence %v outside [0,1]", th.HighConfidence)
	}
	if th.ContextWarning <= 0 || th.ContextWarning > th.ContextCritical {
		bad("thresholds: context warning %v must be positive and not above critical %v", th.ContextWarning, th.ContextCritical)
	}
	if th.ContextCritical > 1 {
		bad("thresholds: context critical %v above 1", th.ContextCritical)
	}
	if th.HighCost <= 0 {
		bad("thresholds: high cost must be positive")
	}
	if th.ToolCount < 0 {
		bad("thresholds: tool count must not be negative")
	}

	for name, v := range map[string]float64{
		"context_critical": c.Confidence.ContextCritical,
		"context_warning":  c.Confidence.ContextWarning,
		"non_delegable":    c.Confidence.NonDelegable,
		"high_cost":        c.Confidence.HighCost,
		"tool_heavy":       c.Confidence.ToolHeavy,
		"fallback":         c.Confidence.Fallback,
	} {
		if !unit(v) {
			bad("confidence %s: %v outside [0,1]", name, v)
		}
	}

	for _, id := range models.Executors() {
		e := c.Executor(id)
		if e.ContextCeiling <= 0 {
			bad("executor %s: context ceiling must be positive", id)
		}
		if e.MaxCallBudget <= 0 {
			bad("executor %s: max call budget must be positive", id)
		}
		if e.Timeout <= 0 {
			bad("executor %s: timeout must be positive", id)
		}
		if e.UnitCost < 0 {
			bad("executor %s: unit cost must not be negative", id)
		}
	}

	if c.Retry.MaxAttempts < 1 {
		bad("retry: max attempts must be at least 1")
	}
	if c.Retry.BaseBackoff < 0 || c.Retry.MaxBackoff < 0 {
		bad("retry: backoff must not be negative")
	}
	if c.Retry.Multiplier < 1 {
		bad("retry: multiplier must be at least 1")
	}
	if !unit(c.Retry.JitterFactor) {
		bad("retry: jitter factor outside [0,1]")
	}

	if c.Sparring.Alternatives < 1 {
		bad("sparring: alternatives must be at least 1")
	}
	if c.Sparring.SafetyMargin < 0 {
		bad("sparring: safety margin must not be negative")
	}
	if !unit(c.Sparring.AlternativeConfidence) {
		bad("sparring: alternative confidence outside [0,1]")
	}

	if c.Decomposition.MaxParallel < 1 {
		bad("decomposition: max parallel must be at least 1")
	}
	for t, p := range c.Decomposition.Patterns {
		if err := validatePattern(p); err != nil {
			bad("decomposition %s: %v", t, err)
		}
	}

	if c.Cache.Enabled && c.Cache.Size < 1 {
		bad("cache: size must be positive when enabled")
	}

	return errors.Join(errs...)
}

func validatePattern(p Pattern) error {
	nodes := make([]graph.Node, len(p.Templates))
	for i, tmpl := range p.Templates {
		if tmpl.Name == "" {
			return fmt.Errorf("template %d has no name", i)
		}
		if !tmpl.Executor.Valid() {
			return fmt.Errorf("template %s: unknown executor %q", tmpl.Name, tmpl.Executor)
		}
		if tmpl.Type != "" && !tmpl.Type.Valid() {
			return fmt.Errorf("template %s: unknown task type %q", tmpl.Name, tmpl.Type)
		}
		nodes[i].ID = strconv.Itoa(i)
		for _, dep := range tmpl.DependsOn {
			if dep < 0 || dep >= len(p.Templates) {
				return fmt.Errorf("template %s: dependency %d out of range", tmpl.Name, dep)
			}
			nodes[i].DependsOn = append(nodes[i].DependsOn, strconv.Itoa(dep))
		}
	}
	_, err := graph.Build(nodes)
	return err
}

func unit(v float64) bool {
	return v >= 0 && v <= 1
}
