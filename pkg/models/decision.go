package models

import "time"

// Rule names the delegation rule that produced a decision.
type Rule string

const (
	RuleExplicitMapping Rule = "explicit_mapping"
	RuleContextCritical Rule = "context_critical"
	RuleNonDelegable    Rule = "context_critical_non_delegable"
	RuleContextWarning  Rule = "context_warning"
	RuleHighCost        Rule = "high_cost"
	RuleToolHeavy       Rule = "tool_heavy"
	RuleTaskTypeDefault Rule = "task_type_default"
	RuleFallbackDefault Rule = "fallback_default"
)

// Strategy is how a decided task is executed.
type Strategy string

const (
	// StrategyDirect sends the task to the decided executor as-is.
	StrategyDirect Strategy = "direct"
	// StrategyDecompose splits the task with its registered pattern.
	StrategyDecompose Strategy = "decompose"
	// StrategyHybrid drafts on the secondary and refines on the primary.
	StrategyHybrid Strategy = "hybrid"
)

// DelegationDecision is the output of the rules engine.
type DelegationDecision struct {
	TaskID     string     `json:"task_id"`
	Executor   ExecutorID `json:"executor"`
	Confidence float64    `json:"confidence"`
	Rule       Rule       `json:"rule"`
	Rationale  string     `json:"rationale"`
	Strategy   Strategy   `json:"strategy"`
	Tier       Tier       `json:"tier"`
	Pressure   Pressure   `json:"pressure"`
}

// MetricsRecord aggregates delegation outcomes for one (task type, executor) pair.
type MetricsRecord struct {
	TaskType         TaskType      `json:"task_type"`
	Executor         ExecutorID    `json:"executor"`
	Invocations      int64         `json:"invocations"`
	Failures         int64         `json:"failures"`
	CacheHits        int64         `json:"cache_hits"`
	TotalDuration    time.Duration `json:"total_duration"`
	ResourceConsumed int64         `json:"resource_consumed"`
	ResourceSaved    float64       `json:"resource_saved"`
}
