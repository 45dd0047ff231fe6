package models

import "time"

// ExecutorID identifies one of the two compute engines.
type ExecutorID string

const (
	// ExecutorPrimary is the high-capability, high-cost engine.
	ExecutorPrimary ExecutorID = "primary"
	// ExecutorSecondary is the low-cost, low-latency engine.
	ExecutorSecondary ExecutorID = "secondary"
)

// Valid returns true if the executor is a known value.
func (e ExecutorID) Valid() bool {
	return e == ExecutorPrimary || e == ExecutorSecondary
}

// Other returns the executor that is not e.
func (e ExecutorID) Other() ExecutorID {
	if e == ExecutorPrimary {
		return ExecutorSecondary
	}
	return ExecutorPrimary
}

// Executors returns both executors, primary first.
func Executors() []ExecutorID {
	return []ExecutorID{ExecutorPrimary, ExecutorSecondary}
}

// ErrorKind tags a failed ExecutionResult.
type ErrorKind string

const (
	ErrorKindNone                  ErrorKind = ""
	ErrorKindTimeout               ErrorKind = "timeout"
	ErrorKindCapabilityUnsupported ErrorKind = "capability_unsupported"
	ErrorKindResourceExceeded      ErrorKind = "resource_exceeded"
	ErrorKindTransientUnavailable  ErrorKind = "transient_unavailable"
	ErrorKindUnknown               ErrorKind = "unknown"
	// ErrorKindBothUnavailable means neither executor produced a result.
	ErrorKindBothUnavailable ErrorKind = "both_unavailable"
	// ErrorKindCancelled means the caller's context ended first.
	ErrorKindCancelled ErrorKind = "cancelled"
	// ErrorKindInvalidRequest means the request failed validation before any call.
	ErrorKindInvalidRequest ErrorKind = "invalid_request"
)

// Transient reports whether a failure of this kind is worth retrying.
func (k ErrorKind) Transient() bool {
	return k == ErrorKindTimeout || k == ErrorKindTransientUnavailable
}

// ResultStatus is the terminal status of an execution.
type ResultStatus string

const (
	StatusSucceeded ResultStatus = "succeeded"
	StatusFailed    ResultStatus = "failed"
)

// Attempt records one gateway call made while producing a result.
type Attempt struct {
	Executor  ExecutorID    `json:"executor"`
	Number    int           `json:"number"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Consumed  int64         `json:"consumed"`
	Duration  time.Duration `json:"duration"`
}

// ExecutionResult is the structured outcome every public boundary returns.
type ExecutionResult struct {
	// TaskID references the TaskRequest.
	TaskID string `json:"task_id"`
	// Executor is the executor actually used.
	Executor ExecutorID `json:"executor"`
	// Status is succeeded or failed.
	Status ResultStatus `json:"status"`
	// Payload is the engine output.
	Payload string `json:"payload,omitempty"`
	// Consumed is the resource amount used across all attempts.
	Consumed int64 `json:"consumed"`
	// Duration is the wall-clock time spent.
	Duration time.Duration `json:"duration"`
	// ErrorKind is set when Status is failed.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	// Error is a human-readable failure message.
	Error string `json:"error,omitempty"`
	// Confidence is the confidence in the result, in [0,1].
	Confidence float64 `json:"confidence"`
	// Rationale names the rules and modes that produced the result.
	Rationale string `json:"rationale,omitempty"`
	// Retries is the number of attempts beyond the first.
	Retries int `json:"retries"`
	// Attempts lists every gateway call in order.
	Attempts []Attempt `json:"attempts,omitempty"`
	// Partial holds subtask results that completed before a failure.
	Partial []ExecutionResult `json:"partial,omitempty"`
	// CacheHit is true when the result was served from the cache.
	CacheHit bool `json:"cache_hit"`
}

// Succeeded reports whether the result is a success.
func (r ExecutionResult) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// AttemptedExecutors returns the distinct executors that were called, in order.
func (r ExecutionResult) AttemptedExecutors() []ExecutorID {
	var out []ExecutorID
	seen := make(map[ExecutorID]bool)
	for _, a := range r.Attempts {
		if !seen[a.Executor] {
			seen[a.Executor] = true
			out = append(out, a.Executor)
		}
	}
	return out
}

// FailedResult builds a failure result for the given task.
func FailedResult(taskID string, executor ExecutorID, kind ErrorKind, msg string) ExecutionResult {
	return ExecutionResult{
		TaskID:    taskID,
		Executor:  executor,
		Status:    StatusFailed,
		ErrorKind: kind,
		Error:     msg,
	}
}
