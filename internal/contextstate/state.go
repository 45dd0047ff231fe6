// Package contextstate tracks how much of each executor's context budget a
// session has consumed.
package contextstate

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ShayCichocki/delegate/internal/policy"
	"github.com/ShayCichocki/delegate/pkg/models"
)

// State is the running consumption of one session.
// Counters only grow until Reset; all methods are safe for concurrent use.
type State struct {
	id string

	primary   atomic.Int64
	secondary atomic.Int64

	primaryCeiling   int64
	secondaryCeiling int64

	warning  float64
	critical float64

	// mu guards the reservation counters and orders Settle against Reserve.
	mu                sync.Mutex
	reservedPrimary   int64
	reservedSecondary int64
}

// Snapshot is a point-in-time copy of a State.
type Snapshot struct {
	Session  string                                `json:"session"`
	Consumed map[models.ExecutorID]int64           `json:"consumed"`
	Ceiling  map[models.ExecutorID]int64           `json:"ceiling"`
	Pressure map[models.ExecutorID]models.Pressure `json:"pressure"`
}

// New creates an empty State for the given session using the policy's ceilings
// and context thresholds.
func New(sessionID string, cfg *policy.Config) *State {
	return &State{
		id:               sessionID,
		primaryCeiling:   cfg.Primary.ContextCeiling,
		secondaryCeiling: cfg.Secondary.ContextCeiling,
		warning:          cfg.Thresholds.ContextWarning,
		critical:         cfg.Thresholds.ContextCritical,
	}
}

// ID returns the session ID.
func (s *State) ID() string {
	return s.id
}

func (s *State) counter(id models.ExecutorID) *atomic.Int64 {
	if id == models.ExecutorSecondary {
		return &s.secondary
	}
	return &s.primary
}

// Add increments the executor's consumption and returns the new total.
// Negative amounts are ignored so the counter never decreases.
func (s *State) Add(id models.ExecutorID, amount int64) int64 {
	c := s.counter(id)
	if amount <= 0 {
		return c.Load()
	}
	return c.Add(amount)
}

// Consumed returns the executor's consumption so far.
func (s *State) Consumed(id models.ExecutorID) int64 {
	return s.counter(id).Load()
}

// Ceiling returns the executor's configured ceiling.
func (s *State) Ceiling(id models.ExecutorID) int64 {
	if id == models.ExecutorSecondary {
		return s.secondaryCeiling
	}
	return s.primaryCeiling
}

// Usage returns consumption as a fraction of the ceiling. It may exceed 1.
func (s *State) Usage(id models.ExecutorID) float64 {
	ceiling := s.Ceiling(id)
	if ceiling <= 0 {
		return 0
	}
	return float64(s.Consumed(id)) / float64(ceiling)
}

// Remaining returns the budget left before the ceiling, never negative.
func (s *State) Remaining(id models.ExecutorID) int64 {
	left := s.Ceiling(id) - s.Consumed(id)
	if left < 0 {
		return 0
	}
	return left
}

// Exhausted reports whether the executor has reached its ceiling.
func (s *State) Exhausted(id models.ExecutorID) bool {
	return s.Remaining(id) == 0
}

func (s *State) reserved(id models.ExecutorID) *int64 {
	if id == models.ExecutorSecondary {
		return &s.reservedSecondary
	}
	return &s.reservedPrimary
}

// Reserve claims up to n units of the executor's remaining budget for one
// call and returns the amount granted. Budget already reserved by calls in
// flight is not available, so concurrent callers never share it. A grant of
// zero means the ceiling is reached. Every grant must be returned through
// Settle.
func (s *State) Reserve(id models.ExecutorID, n int64) int64 {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.reserved(id)
	left := s.Ceiling(id) - s.Consumed(id) - *r
	if left <= 0 {
		return 0
	}
	grant := min(n, left)
	*r += grant
	return grant
}

// Settle releases a grant from Reserve and charges what the call actually
// consumed. It returns the new consumption total.
func (s *State) Settle(id models.ExecutorID, granted, consumed int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.Add(id, consumed)
	r := s.reserved(id)
	*r -= max(granted, 0)
	if *r < 0 {
		*r = 0
	}
	return total
}

// Reserved returns the budget currently held by calls in flight.
func (s *State) Reserved(id models.ExecutorID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.reserved(id)
}

// Pressure classifies the executor's usage against the warning and critical thresholds.
//   - PressureNormal: usage below warning
//   - PressureWarning: usage at or above warning
//   - PressureCritical: usage at or above critical
func (s *State) Pressure(id models.ExecutorID) models.Pressure {
	usage := s.Usage(id)
	switch {
	case usage >= s.critical:
		return models.PressureCritical
	case usage >= s.warning:
		return models.PressureWarning
	default:
		return models.PressureNormal
	}
}

// Snapshot copies the current counters.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Session:  s.id,
		Consumed: make(map[models.ExecutorID]int64, 2),
		Ceiling:  make(map[models.ExecutorID]int64, 2),
		Pressure: make(map[models.ExecutorID]models.Pressure, 2),
	}
	for _, id := range models.Executors() {
		snap.Consumed[id] = s.Consumed(id)
		snap.Ceiling[id] = s.Ceiling(id)
		snap.Pressure[id] = s.Pressure(id)
	}
	return snap
}

// Reset clears both counters. It is the only way consumption decreases.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primary.Store(0)
	s.secondary.Store(0)
}

type contextKey struct{}

// NewContext returns a context carrying the State.
func NewContext(ctx context.Context, s *State) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the State carried by ctx, or nil.
func FromContext(ctx context.Context) *State {
	s, _ := ctx.Value(contextKey{}).(*State)
	return s
}
