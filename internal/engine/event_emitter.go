package engine

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// EventEmitter delivers engine events to a single subscriber.
type EventEmitter struct {
	events       chan EngineEvent
	droppedCount atomic.Uint64
	wait         time.Duration
	logger       *slog.Logger
}

// NewEventEmitter creates an emitter with the given buffer size.
func NewEventEmitter(bufferSize int, logger *slog.Logger) *EventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventEmitter{
		events: make(chan EngineEvent, bufferSize),
		wait:   100 * time.Millisecond,
		logger: logger,
	}
}

// Emit sends an event. If the buffer is full it waits briefly for the
// subscriber to drain before dropping the event.
func (e *EventEmitter) Emit(event EngineEvent) {
	if e == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
	case <-time.After(e.wait):
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			e.logger.Warn("event channel full, dropped event", "total_dropped", count, "type", event.Type)
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events.
func (e *EventEmitter) Events() <-chan EngineEvent {
	return e.events
}

// Close closes the events channel. No events may be emitted afterwards.
func (e *EventEmitter) Close() {
	close(e.events)
}
