// Package executor provides the uniform gateway in front of the primary and
// secondary compute engines.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ShayCichocki/delegate/internal/contextstate"
	"github.com/ShayCichocki/delegate/internal/policy"
	"github.com/ShayCichocki/delegate/pkg/models"
)

const tracerName = "github.com/ShayCichocki/delegate/internal/executor"

// Executor is the interface every compute engine is reached through.
type Executor interface {
	// ID identifies the executor.
	ID() models.ExecutorID
	// Supports reports whether the executor declares every capability.
	Supports(caps []models.Capability) bool
	// Timeout is the executor's default per-call timeout.
	Timeout() time.Duration
	// Execute runs the request and always returns a result; failures are data.
	Execute(ctx context.Context, req models.TaskRequest, timeout time.Duration) models.ExecutionResult
}

// Gateway implements Executor on top of a Backend.
type Gateway struct {
	id      models.ExecutorID
	policy  policy.ExecutorPolicy
	backend Backend
	logger  *slog.Logger
	tracer  trace.Tracer
}

var _ Executor = (*Gateway)(nil)

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithTracer sets the tracer used for per-call spans.
func WithTracer(t trace.Tracer) Option {
	return func(g *Gateway) {
		if t != nil {
			g.tracer = t
		}
	}
}

// NewGateway creates a gateway for one executor.
func NewGateway(id models.ExecutorID, p policy.ExecutorPolicy, backend Backend, opts ...Option) *Gateway {
	g := &Gateway{
		id:      id,
		policy:  p,
		backend: backend,
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "executor", "executor", string(id))
	return g
}

// ID returns the executor identity.
func (g *Gateway) ID() models.ExecutorID {
	return g.id
}

// Capabilities returns the declared capability set.
func (g *Gateway) Capabilities() []models.Capability {
	return append([]models.Capability(nil), g.policy.Capabilities...)
}

// Supports reports whether the gateway declares every capability in caps.
func (g *Gateway) Supports(caps []models.Capability) bool {
	return g.policy.Supports(caps)
}

// Timeout returns the configured per-call timeout.
func (g *Gateway) Timeout() time.Duration {
	return g.policy.Timeout
}

// MaxBudget returns the largest cost a single call may carry.
func (g *Gateway) MaxBudget() int64 {
	return g.policy.MaxCallBudget
}

// Execute runs req on the backend with the given timeout (the gateway default
// when timeout is not positive). Capability and budget checks fail fast without
// calling the backend. The call's budget is reserved from the session
// ContextState carried by ctx before the backend runs, so concurrent calls
// cannot spend the same remainder. The state is then charged whatever the
// backend reports as consumed, whether the call succeeded or not.
func (g *Gateway) Execute(ctx context.Context, req models.TaskRequest, timeout time.Duration) models.ExecutionResult {
	start := time.Now()
	state := contextstate.FromContext(ctx)

	fail := func(kind models.ErrorKind, err error) models.ExecutionResult {
		res := models.FailedResult(req.ID, g.id, kind, err.Error())
		res.Duration = time.Since(start)
		return res
	}

	if !g.Supports(req.RequiredCapabilities) {
		g.logger.Debug("capability mismatch", "task", req.ID, "required", req.RequiredCapabilities)
		return fail(models.ErrorKindCapabilityUnsupported,
			fmt.Errorf("%w: %s lacks one of %v", ErrCapabilityMismatch, g.id, req.RequiredCapabilities))
	}
	if req.EstimatedCost > g.policy.MaxCallBudget {
		return fail(models.ErrorKindResourceExceeded,
			fmt.Errorf("%w: estimated cost %d above %d", ErrResourceExceeded, req.EstimatedCost, g.policy.MaxCallBudget))
	}
	budget := g.policy.MaxCallBudget
	if state != nil {
		budget = state.Reserve(g.id, budget)
		if budget == 0 {
			return fail(models.ErrorKindResourceExceeded,
				fmt.Errorf("%w: session %s has no %s budget left", ErrResourceExceeded, state.ID(), g.id))
		}
	}

	if timeout <= 0 {
		timeout = g.policy.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	callCtx, span := g.tracer.Start(callCtx, "executor.execute", trace.WithAttributes(
		attribute.String("executor", string(g.id)),
		attribute.String("task.id", req.ID),
		attribute.String("task.type", string(req.Type)),
		attribute.Int64("task.estimated_cost", req.EstimatedCost),
	))
	defer span.End()

	resp, err := g.backend.Invoke(callCtx, Call{
		TaskID:       req.ID,
		Type:         req.Type,
		Executor:     g.id,
		Model:        g.policy.Model,
		System:       systemPrompt(g.id, req.Type),
		Payload:      req.Payload,
		Capabilities: req.RequiredCapabilities,
		Budget:       budget,
		MaxTokens:    g.policy.MaxTokens,
	})
	if state != nil {
		state.Settle(g.id, budget, resp.Consumed)
	}
	span.SetAttributes(attribute.Int64("consumed", resp.Consumed))

	if err != nil {
		kind := KindOf(err)
		switch {
		case ctx.Err() != nil:
			kind = models.ErrorKindCancelled
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			kind = models.ErrorKindTimeout
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		g.logger.Debug("call failed", "task", req.ID, "kind", kind, "error", err)

		res := fail(kind, err)
		res.Consumed = resp.Consumed
		return res
	}

	g.logger.Debug("call succeeded", "task", req.ID, "consumed", resp.Consumed, "duration", time.Since(start))
	return models.ExecutionResult{
		TaskID:   req.ID,
		Executor: g.id,
		Status:   models.StatusSucceeded,
		Payload:  resp.Payload,
		Consumed: resp.Consumed,
		Duration: time.Since(start),
	}
}

func systemPrompt(id models.ExecutorID, t models.TaskType) string {
	return fmt.Sprintf("You are the %s executor in a delegation engine. Complete the %s task described by the user and reply with the result only.", id, t)
}
