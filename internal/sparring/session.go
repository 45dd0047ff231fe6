// Package sparring runs challenge and alternative-generation cycles between
// the two executors over one candidate solution.
package sparring

import (
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/delegate/pkg/models"
)

// State is a sparring session lifecycle state.
type State string

const (
	StateCreated               State = "created"
	StateChallenging           State = "challenging"
	StateAlternativesGenerated State = "alternatives_generated"
	StateSynthesizing          State = "synthesizing"
	StateCompleted             State = "completed"
	StateFailed                State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ErrInvalidTransition is returned for a move the state machine does not allow.
var ErrInvalidTransition = errors.New("invalid sparring transition")

var transitions = map[State][]State{
	StateCreated:               {StateChallenging, StateAlternativesGenerated, StateSynthesizing, StateFailed},
	StateChallenging:           {StateAlternativesGenerated, StateSynthesizing, StateFailed},
	StateAlternativesGenerated: {StateSynthesizing, StateFailed},
	StateSynthesizing:          {StateCompleted, StateFailed},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition records one state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Session is one sparring invocation. It is discarded after synthesis.
type Session struct {
	ID           string
	Problem      models.TaskRequest
	Mode         models.SparringMode
	State        State
	Candidate    models.ExecutionResult
	Challenges   []models.Challenge
	Alternatives []models.Alternative
	Final        models.ExecutionResult
	Confidence   float64

	// Budget is the wall-clock limit for the whole session.
	Budget time.Duration
	// BudgetExceeded is set when remaining steps were aborted for time.
	BudgetExceeded bool
	History        []Transition
}

func (s *Session) transition(to State, now time.Time) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
	}
	s.History = append(s.History, Transition{From: s.State, To: to, At: now})
	s.State = to
	return nil
}

// InferMode picks a mode for a tier when the caller did not choose one.
func InferMode(tier models.Tier) models.SparringMode {
	switch tier {
	case models.TierCreative:
		return models.SparringAlternatives
	case models.TierStrategic:
		return models.SparringCombined
	default:
		return models.SparringChallenge
	}
}

func (s *Session) challenges() bool {
	return s.Mode == models.SparringChallenge || s.Mode == models.SparringCombined
}

func (s *Session) alternatives() bool {
	return s.Mode == models.SparringAlternatives || s.Mode == models.SparringCombined
}
