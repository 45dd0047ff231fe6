package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskType identifies the kind of work a task represents.
type TaskType string

const (
	// TaskTypeFileSearch locates files or symbols.
	TaskTypeFileSearch TaskType = "file_search"
	// TaskTypeDataExtraction pulls structured data out of a source.
	TaskTypeDataExtraction TaskType = "data_extraction"
	// TaskTypeFormatting reformats existing content.
	TaskTypeFormatting TaskType = "formatting"
	// TaskTypeDocumentation writes or updates documentation.
	TaskTypeDocumentation TaskType = "documentation"
	// TaskTypeTestGeneration writes tests for existing code.
	TaskTypeTestGeneration TaskType = "test_generation"
	// TaskTypeMetricsAnalysis computes metrics or finds patterns in data.
	TaskTypeMetricsAnalysis TaskType = "metrics_analysis"
	// TaskTypeCodeReview reviews a change.
	TaskTypeCodeReview TaskType = "code_review"
	// TaskTypeDebugging diagnoses a failure.
	TaskTypeDebugging TaskType = "debugging"
	// TaskTypeRefactoring restructures code without changing behavior.
	TaskTypeRefactoring TaskType = "refactoring"
	// TaskTypeFeatureImplementation builds new functionality.
	TaskTypeFeatureImplementation TaskType = "feature_implementation"
	// TaskTypeContentGeneration produces open-ended content.
	TaskTypeContentGeneration TaskType = "content_generation"
	// TaskTypeArchitectureDesign designs system structure.
	TaskTypeArchitectureDesign TaskType = "architecture_design"
	// TaskTypeSecurityAudit reviews a system for security issues.
	TaskTypeSecurityAudit TaskType = "security_audit"
	// TaskTypeStrategicPlanning makes cross-cutting long-range decisions.
	TaskTypeStrategicPlanning TaskType = "strategic_planning"
	// TaskTypeGeneral is used when the caller does not know the type.
	TaskTypeGeneral TaskType = "general"
)

var allTaskTypes = []TaskType{
	TaskTypeFileSearch,
	TaskTypeDataExtraction,
	TaskTypeFormatting,
	TaskTypeDocumentation,
	TaskTypeTestGeneration,
	TaskTypeMetricsAnalysis,
	TaskTypeCodeReview,
	TaskTypeDebugging,
	TaskTypeRefactoring,
	TaskTypeFeatureImplementation,
	TaskTypeContentGeneration,
	TaskTypeArchitectureDesign,
	TaskTypeSecurityAudit,
	TaskTypeStrategicPlanning,
	TaskTypeGeneral,
}

// AllTaskTypes returns the task type catalog in declaration order.
func AllTaskTypes() []TaskType {
	out := make([]TaskType, len(allTaskTypes))
	copy(out, allTaskTypes)
	return out
}

// Valid returns true if the task type is in the catalog.
func (t TaskType) Valid() bool {
	for _, known := range allTaskTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Capability is a feature an executor may declare and a task may require.
type Capability string

const (
	CapabilityCode        Capability = "code"
	CapabilitySearch      Capability = "search"
	CapabilityFilesystem  Capability = "filesystem"
	CapabilityWeb         Capability = "web"
	CapabilityReasoning   Capability = "reasoning"
	CapabilityLongContext Capability = "long_context"
	CapabilityTools       Capability = "tools"
)

// Priority orders tasks submitted by callers.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority converts a name to a Priority. Empty input yields PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}

// ErrInvalidTask is returned when a TaskRequest fails structural validation.
var ErrInvalidTask = errors.New("invalid task request")

// TaskRequest is one unit of work submitted to the engine.
// It is treated as immutable once created; copies are passed by value.
type TaskRequest struct {
	// ID is unique per submission.
	ID string `json:"id" yaml:"id"`
	// Type is the catalog type of the task.
	Type TaskType `json:"type" yaml:"type"`
	// Payload is the opaque description handed to the executor.
	Payload string `json:"payload" yaml:"payload"`
	// EstimatedCost is the expected resource consumption in budget units.
	EstimatedCost int64 `json:"estimated_cost,omitempty" yaml:"estimated_cost,omitempty"`
	// RequiredCapabilities must all be declared by the executing gateway.
	RequiredCapabilities []Capability `json:"required_capabilities,omitempty" yaml:"required_capabilities,omitempty"`
	// Priority orders the task relative to others.
	Priority Priority `json:"priority" yaml:"priority"`
	// TierHint overrides the classifier's default tier when set.
	TierHint Tier `json:"tier_hint,omitempty" yaml:"tier_hint,omitempty"`
	// Sparring requests a sparring pass over the produced solution.
	Sparring SparringMode `json:"sparring,omitempty" yaml:"sparring,omitempty"`
	// CreatedAt is when the request was created.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// NewTaskRequest creates a request with a fresh ID and normal priority.
func NewTaskRequest(taskType TaskType, payload string) TaskRequest {
	return TaskRequest{
		ID:        uuid.New().String(),
		Type:      taskType,
		Payload:   payload,
		Priority:  PriorityNormal,
		CreatedAt: time.Now(),
	}
}

// Validate checks the structural invariants of the request.
func (r TaskRequest) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidTask)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: unknown task type %q", ErrInvalidTask, r.Type)
	}
	if r.EstimatedCost < 0 {
		return fmt.Errorf("%w: negative estimated cost", ErrInvalidTask)
	}
	if r.TierHint != "" && !r.TierHint.Valid() {
		return fmt.Errorf("%w: unknown tier hint %q", ErrInvalidTask, r.TierHint)
	}
	if r.Sparring != "" && !r.Sparring.Valid() {
		return fmt.Errorf("%w: unknown sparring mode %q", ErrInvalidTask, r.Sparring)
	}
	return nil
}

// WithPayload returns a copy of the request with a different payload and ID.
// Derived requests keep the type, capabilities and priority of the original.
func (r TaskRequest) WithPayload(id, payload string) TaskRequest {
	out := r
	out.ID = id
	out.Payload = payload
	out.RequiredCapabilities = append([]Capability(nil), r.RequiredCapabilities...)
	return out
}

// Subtask is one element of a TaskDecomposition.
type Subtask struct {
	// Name is the pattern template name, e.g. "design".
	Name string `json:"name"`
	// Position is the index of the template in its pattern.
	Position int `json:"position"`
	// Request is the work to execute.
	Request TaskRequest `json:"request"`
	// PreferredExecutor is the pattern's executor hint.
	PreferredExecutor ExecutorID `json:"preferred_executor"`
	// DependsOn lists subtask IDs that must complete first.
	DependsOn []string `json:"depends_on,omitempty"`
}

// TaskDecomposition is the output of the decomposer.
type TaskDecomposition struct {
	// Parent is the task that was decomposed.
	Parent TaskRequest `json:"parent"`
	// Subtasks are the pieces of work, in pattern order.
	Subtasks []Subtask `json:"subtasks"`
	// Ordered is true when every subtask depends on its predecessor.
	Ordered bool `json:"ordered"`
	// SynthesisRequired is false when the task was returned unmodified.
	SynthesisRequired bool `json:"synthesis_required"`
}
