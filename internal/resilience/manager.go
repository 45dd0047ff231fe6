// Package resilience wraps executor calls with timeouts, retries and fallback.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ShayCichocki/delegate/internal/executor"
	"github.com/ShayCichocki/delegate/internal/policy"
	"github.com/ShayCichocki/delegate/pkg/models"
)

const tracerName = "github.com/ShayCichocki/delegate/internal/resilience"

// FallbackFunc is notified when work moves to the other executor.
type FallbackFunc func(taskID string, from, to models.ExecutorID, cause models.ErrorKind)

// Manager runs requests against an executor pair.
//
// Each executor gets up to MaxAttempts attempts; only timeouts and transient
// failures are retried, with exponential backoff. When the preferred executor
// is exhausted or fails permanently the other executor is tried once with the
// same retry budget. Run never returns an error: every outcome is a result.
type Manager struct {
	executors  map[models.ExecutorID]executor.Executor
	retry      policy.RetryPolicy
	logger     *slog.Logger
	tracer     trace.Tracer
	onFallback FallbackFunc
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

// WithFallbackHook registers a callback for executor fallbacks.
func WithFallbackHook(fn FallbackFunc) Option {
	return func(m *Manager) {
		m.onFallback = fn
	}
}

// New creates a Manager for the two executors.
func New(cfg *policy.Config, primary, secondary executor.Executor, opts ...Option) *Manager {
	m := &Manager{
		executors: map[models.ExecutorID]executor.Executor{
			models.ExecutorPrimary:   primary,
			models.ExecutorSecondary: secondary,
		},
		retry:  cfg.Retry,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "resilience")
	return m
}

// Executor returns the executor with the given ID.
func (m *Manager) Executor(id models.ExecutorID) executor.Executor {
	return m.executors[id]
}

// run tracks the attempts made for one request.
type run struct {
	req      models.TaskRequest
	attempts []models.Attempt
	consumed int64
	start    time.Time
}

// Run executes req on the preferred executor, retrying and falling back as needed.
func (m *Manager) Run(ctx context.Context, req models.TaskRequest, preferred models.ExecutorID) models.ExecutionResult {
	if !preferred.Valid() {
		preferred = models.ExecutorPrimary
	}

	ctx, span := m.tracer.Start(ctx, "resilience.run", trace.WithAttributes(
		attribute.String("task.id", req.ID),
		attribute.String("executor.preferred", string(preferred)),
	))
	defer span.End()

	r := &run{req: req, start: time.Now()}

	first, cancelled := m.try(ctx, r, preferred)
	if first.Succeeded() || cancelled {
		return m.finish(r, first, span)
	}

	fallback := preferred.Other()
	m.logger.Warn("falling back", "task", req.ID, "from", preferred, "to", fallback, "cause", first.ErrorKind)
	if m.onFallback != nil {
		m.onFallback(req.ID, preferred, fallback, first.ErrorKind)
	}

	second, cancelled := m.try(ctx, r, fallback)
	if second.Succeeded() || cancelled {
		return m.finish(r, second, span)
	}

	kind := models.ErrorKindBothUnavailable
	if first.ErrorKind == models.ErrorKindCapabilityUnsupported && second.ErrorKind == models.ErrorKindCapabilityUnsupported {
		kind = models.ErrorKindCapabilityUnsupported
	}
	failed := models.FailedResult(req.ID, fallback, kind,
		fmt.Sprintf("both executors failed: %s", describe(r.attempts)))
	return m.finish(r, failed, span)
}

// try runs up to MaxAttempts attempts on one executor. cancelled is true when
// the caller's context ended, in which case no further work should be done.
func (m *Manager) try(ctx context.Context, r *run, id models.ExecutorID) (res models.ExecutionResult, cancelled bool) {
	exec := m.executors[id]
	if exec == nil {
		return models.FailedResult(r.req.ID, id, models.ErrorKindTransientUnavailable, "executor not configured"), false
	}

	for n := 1; n <= m.retry.MaxAttempts; n++ {
		if n > 1 {
			if err := sleep(ctx, m.backoff(n)); err != nil {
				return cancelledResult(r.req.ID, id), true
			}
		}
		if ctx.Err() != nil {
			return cancelledResult(r.req.ID, id), true
		}

		res = exec.Execute(ctx, r.req, exec.Timeout())
		r.consumed += res.Consumed
		r.attempts = append(r.attempts, models.Attempt{
			Executor:  id,
			Number:    len(r.attempts) + 1,
			ErrorKind: res.ErrorKind,
			Consumed:  res.Consumed,
			Duration:  res.Duration,
		})

		if res.Succeeded() {
			return res, false
		}
		if res.ErrorKind == models.ErrorKindCancelled || ctx.Err() != nil {
			return cancelledResult(r.req.ID, id), true
		}
		if !res.ErrorKind.Transient() {
			m.logger.Debug("permanent failure", "task", r.req.ID, "executor", id, "kind", res.ErrorKind)
			return res, false
		}
		m.logger.Debug("transient failure", "task", r.req.ID, "executor", id, "attempt", n, "kind", res.ErrorKind)
	}
	return res, false
}

func (m *Manager) finish(r *run, res models.ExecutionResult, span trace.Span) models.ExecutionResult {
	res.TaskID = r.req.ID
	res.Attempts = r.attempts
	res.Consumed = r.consumed
	res.Duration = time.Since(r.start)
	res.Retries = len(r.attempts) - 1
	if res.Retries < 0 {
		res.Retries = 0
	}
	span.SetAttributes(
		attribute.String("executor", string(res.Executor)),
		attribute.String("status", string(res.Status)),
		attribute.Int("retries", res.Retries),
	)
	return res
}

func (m *Manager) backoff(attempt int) time.Duration {
	d := m.retry.Backoff(attempt)
	if j := m.retry.JitterFactor; j > 0 && d > 0 {
		delta := (rand.Float64()*2 - 1) * j * float64(d)
		d = time.Duration(float64(d) + delta)
		if d < 0 {
			d = 0
		}
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func cancelledResult(taskID string, id models.ExecutorID) models.ExecutionResult {
	return models.FailedResult(taskID, id, models.ErrorKindCancelled, "cancelled by caller")
}

func describe(attempts []models.Attempt) string {
	parts := make([]string, len(attempts))
	for i, a := range attempts {
		parts[i] = fmt.Sprintf("%s#%d=%s", a.Executor, a.Number, a.ErrorKind)
	}
	return strings.Join(parts, ", ")
}
