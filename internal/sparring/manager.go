package sparring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ShayCichocki/delegate/internal/policy"
	"github.com/ShayCichocki/delegate/internal/synth"
	"github.com/ShayCichocki/delegate/pkg/models"
)

const tracerName = "github.com/ShayCichocki/delegate/internal/sparring"

// Runner executes one step. The resilience manager satisfies it, so every
// step gets timeouts, retries and fallback without the session retrying.
type Runner interface {
	Run(ctx context.Context, req models.TaskRequest, preferred models.ExecutorID) models.ExecutionResult
}

// TransitionFunc is notified on every state change.
type TransitionFunc func(sessionID string, from, to State)

// Manager runs sparring sessions.
type Manager struct {
	runner       Runner
	synth        *synth.Synthesizer
	policy       *policy.Config
	cfg          policy.SparringPolicy
	primaryTO    time.Duration
	secondaryTO  time.Duration
	logger       *slog.Logger
	tracer       trace.Tracer
	onTransition TransitionFunc
	now          func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithTransitionHook registers a callback for state changes.
func WithTransitionHook(fn TransitionFunc) Option {
	return func(m *Manager) {
		m.onTransition = fn
	}
}

// New creates a Manager.
func New(cfg *policy.Config, runner Runner, s *synth.Synthesizer, opts ...Option) *Manager {
	m := &Manager{
		runner:      runner,
		synth:       s,
		policy:      cfg,
		cfg:         cfg.Sparring,
		primaryTO:   cfg.Primary.Timeout,
		secondaryTO: cfg.Secondary.Timeout,
		logger:      slog.Default(),
		tracer:      otel.Tracer(tracerName),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "sparring")
	if m.synth == nil {
		m.synth = synth.New(m.logger)
	}
	return m
}

// Budget returns the wall-clock limit for a session: the sum of the
// timeouts of the steps it will run plus the safety margin.
func (m *Manager) Budget(mode models.SparringMode, needCandidate bool) time.Duration {
	var total time.Duration
	if needCandidate {
		total += m.primaryTO
	}
	if mode == models.SparringChallenge || mode == models.SparringCombined {
		total += m.secondaryTO
	}
	if mode == models.SparringAlternatives || mode == models.SparringCombined {
		total += m.secondaryTO
	}
	return total + m.cfg.SafetyMargin
}

// Spar runs one session over problem. When candidate has no payload the
// primary executor produces it first. An empty mode is inferred from tier.
// Spar always returns a session in a terminal state.
func (m *Manager) Spar(ctx context.Context, problem models.TaskRequest, mode models.SparringMode, tier models.Tier, candidate *models.ExecutionResult) *Session {
	if mode == "" {
		mode = InferMode(tier)
	}
	s := &Session{
		ID:      uuid.New().String()[:8],
		Problem: problem,
		Mode:    mode,
		State:   StateCreated,
	}
	if candidate != nil {
		s.Candidate = *candidate
	}
	needCandidate := s.Candidate.Payload == "" || !s.Candidate.Succeeded()
	s.Budget = m.Budget(mode, needCandidate)

	ctx, span := m.tracer.Start(ctx, "sparring.session",
		trace.WithAttributes(
			attribute.String("session.id", s.ID),
			attribute.String("task.id", problem.ID),
			attribute.String("sparring.mode", string(mode)),
		))
	defer span.End()

	budgetCtx, cancel := context.WithTimeout(ctx, s.Budget)
	defer cancel()

	log := m.logger.With("session", s.ID, "task", problem.ID, "mode", mode)
	log.Debug("sparring session created", "budget", s.Budget)

	var spent int64
	var attempts []models.Attempt
	step := func(name string, payload string, exec models.ExecutorID) (models.ExecutionResult, bool) {
		req := problem.WithPayload(problem.ID+"/spar-"+s.ID+"/"+name, payload)
		req.RequiredCapabilities = nil
		req.Sparring = ""
		req.TierHint = ""
		res := m.runner.Run(budgetCtx, req, exec)
		spent += res.Consumed
		attempts = append(attempts, res.Attempts...)
		return res, res.Succeeded()
	}

	// Each stage either succeeds, aborts for budget, or fails the session.
	stop := func(res models.ExecutionResult) (abort bool) {
		if ctx.Err() == nil && errors.Is(budgetCtx.Err(), context.DeadlineExceeded) {
			s.BudgetExceeded = true
			log.Warn("sparring budget exceeded, aborting remaining steps", "budget", s.Budget)
			return true
		}
		m.fail(s, res, spent, attempts)
		return false
	}

	if needCandidate {
		res, ok := step("candidate", buildCandidatePrompt(problem.Payload), models.ExecutorPrimary)
		if !ok {
			if stop(res) {
				m.fail(s, res, spent, attempts)
			}
			return m.finish(s, span)
		}
		res.Consumed = 0
		res.Attempts = nil
		res.Confidence = m.candidateConfidence(problem.Type)
		s.Candidate = res
	}

	aborted := false

	if s.challenges() {
		m.move(s, StateChallenging)
		res, ok := step("challenge", buildChallengePrompt(problem.Payload, s.Candidate.Payload), models.ExecutorSecondary)
		if ok {
			s.Challenges = ParseChallenges(res.Payload)
		} else if aborted = stop(res); !aborted {
			return m.finish(s, span)
		}
	}

	if s.alternatives() && !aborted {
		var critical []string
		for _, c := range s.Challenges {
			if c.Severity == models.SeverityCritical {
				critical = append(critical, c.Point)
			}
		}
		res, ok := step("alternatives",
			buildAlternativesPrompt(m.cfg.Alternatives, problem.Payload, s.Candidate.Payload, critical),
			models.ExecutorSecondary)
		if ok {
			s.Alternatives = ParseAlternatives(res.Payload, m.cfg.Alternatives)
			m.move(s, StateAlternativesGenerated)
		} else if aborted = stop(res); !aborted {
			return m.finish(s, span)
		}
	}

	m.move(s, StateSynthesizing)
	s.Final = m.synthesize(s, spent, attempts)
	s.Confidence = s.Final.Confidence
	m.move(s, StateCompleted)

	log.Info("sparring session completed",
		"challenges", len(s.Challenges),
		"alternatives", len(s.Alternatives),
		"confidence", s.Confidence,
		"budget_exceeded", s.BudgetExceeded,
	)
	return m.finish(s, span)
}

// candidateConfidence is the confidence given to a candidate the session
// produced itself: the delegation table entry for the type, else the
// fallback confidence.
func (m *Manager) candidateConfidence(t models.TaskType) float64 {
	if mapping, ok := m.policy.Mapping(t); ok {
		return mapping.Confidence
	}
	return m.policy.Confidence.Fallback
}

func (m *Manager) synthesize(s *Session, spent int64, attempts []models.Attempt) models.ExecutionResult {
	var contribs []synth.Contribution
	rule := "sparring:" + string(s.Mode)
	for i, alt := range s.Alternatives {
		if len(alt.Improvements) == 0 {
			continue
		}
		conf := alt.Confidence
		if conf <= 0 {
			conf = m.cfg.AlternativeConfidence
		}
		contribs = append(contribs, synth.Contribution{
			Source:       fmt.Sprintf("alternative-%d", i+1),
			Position:     i,
			Rule:         rule,
			Confidence:   conf,
			Improvements: alt.Improvements,
		})
	}

	rules := []string{rule}
	if s.BudgetExceeded {
		rules = append(rules, "sparring:budget_exceeded")
	}
	final, _ := m.synth.Merge(synth.Input{
		Candidate:     s.Candidate,
		Challenges:    s.Challenges,
		Contributions: contribs,
		Rules:         rules,
	})
	final.TaskID = s.Problem.ID
	final.Consumed = s.Candidate.Consumed + spent
	final.Attempts = append(append([]models.Attempt(nil), s.Candidate.Attempts...), attempts...)
	return final
}

func (m *Manager) fail(s *Session, res models.ExecutionResult, spent int64, attempts []models.Attempt) {
	final := models.FailedResult(s.Problem.ID, res.Executor, res.ErrorKind, "sparring "+string(s.State)+": "+res.Error)
	final.Consumed = s.Candidate.Consumed + spent
	final.Attempts = attempts
	if s.Candidate.Succeeded() && s.Candidate.Payload != "" {
		final.Partial = []models.ExecutionResult{s.Candidate}
	}
	s.Final = final
	m.move(s, StateFailed)
	m.logger.Warn("sparring session failed",
		"session", s.ID,
		"task", s.Problem.ID,
		"error_kind", res.ErrorKind,
	)
}

func (m *Manager) move(s *Session, to State) {
	from := s.State
	if err := s.transition(to, m.now()); err != nil {
		m.logger.Error("sparring state machine", "session", s.ID, "error", err)
		return
	}
	if m.onTransition != nil {
		m.onTransition(s.ID, from, to)
	}
}

func (m *Manager) finish(s *Session, span trace.Span) *Session {
	span.SetAttributes(
		attribute.String("sparring.state", string(s.State)),
		attribute.Bool("sparring.budget_exceeded", s.BudgetExceeded),
	)
	if s.State == StateFailed {
		span.SetStatus(codes.Error, string(s.Final.ErrorKind))
	}
	return s
}
