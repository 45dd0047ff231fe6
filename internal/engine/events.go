package engine

import (
	"time"

	"github.com/ShayCichocki/delegate/pkg/models"
)

// EventType represents the type of engine event.
type EventType string

const (
	// EventDecisionMade indicates the rules engine chose an executor.
	EventDecisionMade EventType = "decision_made"
	// EventCacheHit indicates a result was served from the cache.
	EventCacheHit EventType = "cache_hit"
	// EventSubtaskStarted indicates a decomposed subtask was scheduled.
	EventSubtaskStarted EventType = "subtask_started"
	// EventSubtaskCompleted indicates a subtask succeeded.
	EventSubtaskCompleted EventType = "subtask_completed"
	// EventSubtaskFailed indicates a subtask failed.
	EventSubtaskFailed EventType = "subtask_failed"
	// EventFallback indicates work moved to the other executor.
	EventFallback EventType = "executor_fallback"
	// EventSparringState indicates a sparring session changed state.
	EventSparringState EventType = "sparring_state"
	// EventTaskCompleted indicates a task produced a successful result.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task produced a failure result.
	EventTaskFailed EventType = "task_failed"
	// EventSessionClosed indicates a session was torn down.
	EventSessionClosed EventType = "session_closed"
)

// EngineEvent is emitted as tasks move through the engine.
type EngineEvent struct {
	Type EventType
	// SessionID is the session the task belongs to, if known.
	SessionID string
	// TaskID is the related task or subtask.
	TaskID string
	// ParentID is the parent task for subtask events.
	ParentID string
	Executor models.ExecutorID
	Rule     models.Rule
	// Message provides additional context about the event.
	Message   string
	ErrorKind models.ErrorKind
	Timestamp time.Time
	Duration  time.Duration
	Consumed  int64
}
