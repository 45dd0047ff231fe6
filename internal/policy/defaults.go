package policy

import (
	"time"

	"github.com/ShayCichocki/delegate/pkg/models"
)

// Default returns the default policy configuration.
func Default() *Config {
	return &Config{
		Delegation: map[models.TaskType]Mapping{
			models.TaskTypeFileSearch:            {models.ExecutorSecondary, 0.95},
			models.TaskTypeDataExtraction:        {models.ExecutorSecondary, 0.92},
			models.TaskTypeFormatting:            {models.ExecutorSecondary, 0.95},
			models.TaskTypeMetricsAnalysis:       {models.ExecutorSecondary, 0.85},
			models.TaskTypeTestGeneration:        {models.ExecutorSecondary, 0.80},
			models.TaskTypeDocumentation:         {models.ExecutorSecondary, 0.75},
			models.TaskTypeCodeReview:            {models.ExecutorSecondary, 0.70},
			models.TaskTypeRefactoring:           {models.ExecutorPrimary, 0.70},
			models.TaskTypeDebugging:             {models.ExecutorPrimary, 0.75},
			models.TaskTypeFeatureImplementation: {models.ExecutorPrimary, 0.70},
			models.TaskTypeContentGeneration:     {models.ExecutorPrimary, 0.65},
			models.TaskTypeSecurityAudit:         {models.ExecutorPrimary, 0.95},
			models.TaskTypeArchitectureDesign:    {models.ExecutorPrimary, 0.95},
			models.TaskTypeStrategicPlanning:     {models.ExecutorPrimary, 0.98},
		},
		Tiers: TierPolicy{
			Defaults: map[models.TaskType]models.Tier{
				models.TaskTypeFileSearch:            models.TierMechanical,
				models.TaskTypeDataExtraction:        models.TierMechanical,
				models.TaskTypeFormatting:            models.TierMechanical,
				models.TaskTypeMetricsAnalysis:       models.TierAnalytical,
				models.TaskTypeTestGeneration:        models.TierAnalytical,
				models.TaskTypeDocumentation:         models.TierAnalytical,
				models.TaskTypeCodeReview:            models.TierReasoning,
				models.TaskTypeDebugging:             models.TierReasoning,
				models.TaskTypeRefactoring:           models.TierReasoning,
				models.TaskTypeFeatureImplementation: models.TierCreative,
				models.TaskTypeContentGeneration:     models.TierCreative,
				models.TaskTypeSecurityAudit:         models.TierStrategic,
				models.TaskTypeArchitectureDesign:    models.TierStrategic,
				models.TaskTypeStrategicPlanning:     models.TierStrategic,
			},
			Fallback: models.TierReasoning,
		},
		Thresholds: ThresholdPolicy{
			HighConfidence:  0.90,
			ContextWarning:  0.70,
			ContextCritical: 0.90,
			HighCost:        8000,
			ToolCount:       3,
		},
		Confidence: ConfidencePolicy{
			ContextCritical: 0.85,
			ContextWarning:  0.70,
			NonDelegable:    0.65,
			HighCost:        0.80,
			ToolHeavy:       0.75,
			Fallback:        0.60,
		},
		Primary: ExecutorPolicy{
			Model: "claude-opus-4-5-20251101",
			Capabilities: []models.Capability{
				models.CapabilityCode, models.CapabilitySearch, models.CapabilityFilesystem,
				models.CapabilityWeb, models.CapabilityReasoning, models.CapabilityLongContext,
				models.CapabilityTools,
			},
			ContextCeiling: 200000,
			MaxCallBudget:  100000,
			MaxTokens:      8192,
			Timeout:        5 * time.Minute,
			UnitCost:       1.0,
		},
		Secondary: ExecutorPolicy{
			Model: "claude-haiku-4-5-20251001",
			Capabilities: []models.Capability{
				models.CapabilityCode, models.CapabilitySearch, models.CapabilityFilesystem,
				models.CapabilityWeb, models.CapabilityTools,
			},
			ContextCeiling: 200000,
			MaxCallBudget:  50000,
			MaxTokens:      4096,
			Timeout:        90 * time.Second,
			UnitCost:       0.2,
		},
		Retry: RetryPolicy{
			MaxAttempts: 2,
			BaseBackoff: 200 * time.Millisecond,
			Multiplier:  2,
			MaxBackoff:  5 * time.Second,
		},
		Sparring: SparringPolicy{
			Alternatives:          3,
			SafetyMargin:          10 * time.Second,
			AlternativeConfidence: 0.70,
			AutoStrategic:         true,
		},
		Decomposition: DecompositionPolicy{
			MaxParallel: 4,
			Patterns:    DefaultPatterns(),
		},
		Cache: CachePolicy{
			Enabled: true,
			TTL:     time.Hour,
			Size:    1024,
		},
	}
}

// DefaultPatterns returns the built-in decomposition patterns.
func DefaultPatterns() map[models.TaskType]Pattern {
	return map[models.TaskType]Pattern{
		models.TaskTypeFeatureImplementation: {Templates: []Template{
			{Name: "analyze_requirements", Executor: models.ExecutorPrimary, Instruction: "List the concrete requirements and acceptance criteria."},
			{Name: "design", Executor: models.ExecutorPrimary, DependsOn: []int{0}, Instruction: "Design the change that satisfies these requirements."},
			{Name: "implement", Type: models.TaskTypeFeatureImplementation, Executor: models.ExecutorSecondary, DependsOn: []int{1}, Instruction: "Implement the design."},
			{Name: "write_tests", Type: models.TaskTypeTestGeneration, Executor: models.ExecutorSecondary, DependsOn: []int{1}, Instruction: "Write tests for the design."},
			{Name: "review", Type: models.TaskTypeCodeReview, Executor: models.ExecutorPrimary, DependsOn: []int{2, 3}, Instruction: "Review the implementation and tests."},
		}},
		models.TaskTypeSecurityAudit: {Templates: []Template{
			{Name: "map_attack_surface", Type: models.TaskTypeFileSearch, Executor: models.ExecutorSecondary, Instruction: "Enumerate entry points and trust boundaries."},
			{Name: "scan_dependencies", Type: models.TaskTypeDataExtraction, Executor: models.ExecutorSecondary, Instruction: "List third-party dependencies and versions."},
			{Name: "analyze_findings", Executor: models.ExecutorPrimary, DependsOn: []int{0, 1}, Instruction: "Analyze the findings for exploitable weaknesses."},
		}},
		models.TaskTypeRefactoring: {Templates: []Template{
			{Name: "inventory_usages", Type: models.TaskTypeFileSearch, Executor: models.ExecutorSecondary, Instruction: "Find every usage affected by the refactoring."},
			{Name: "plan_changes", Executor: models.ExecutorPrimary, DependsOn: []int{0}, Instruction: "Plan the refactoring steps."},
			{Name: "apply_changes", Executor: models.ExecutorSecondary, DependsOn: []int{1}, Instruction: "Apply the planned changes."},
		}},
		models.TaskTypeArchitectureDesign: {Templates: []Template{
			{Name: "gather_constraints", Type: models.TaskTypeDataExtraction, Executor: models.ExecutorSecondary, Instruction: "Collect functional and operational constraints."},
			{Name: "propose_design", Executor: models.ExecutorPrimary, DependsOn: []int{0}, Instruction: "Propose an architecture meeting the constraints."},
			{Name: "assess_risks", Executor: models.ExecutorPrimary, DependsOn: []int{1}, Instruction: "Assess the risks of the proposed architecture."},
		}},
	}
}
