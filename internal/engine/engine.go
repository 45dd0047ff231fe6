// Package engine routes tasks between the primary and secondary executors.
//
// A submitted task is classified, given a cost estimate, and passed to the
// delegation rules. The decision selects a strategy: run directly, split with
// a decomposition pattern and run the pieces as a dependency graph, or draft
// on the secondary and refine on the primary. Strategic work and tasks that
// ask for it then go through a sparring session. The whole computation runs
// behind the result cache, and every outcome is recorded with the metrics
// recorder. Submit never returns an error; failures are results.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ShayCichocki/delegate/internal/cache"
	"github.com/ShayCichocki/delegate/internal/classify"
	"github.com/ShayCichocki/delegate/internal/decompose"
	"github.com/ShayCichocki/delegate/internal/delegation"
	"github.com/ShayCichocki/delegate/internal/executor"
	"github.com/ShayCichocki/delegate/internal/metrics"
	"github.com/ShayCichocki/delegate/internal/policy"
	"github.com/ShayCichocki/delegate/internal/resilience"
	"github.com/ShayCichocki/delegate/internal/sparring"
	"github.com/ShayCichocki/delegate/internal/synth"
	"github.com/ShayCichocki/delegate/pkg/models"
)

const tracerName = "github.com/ShayCichocki/delegate/internal/engine"

// Engine is the delegation and synthesis engine.
type Engine struct {
	cfg        *policy.Config
	classifier *classify.Classifier
	estimator  classify.Estimator
	rules      *delegation.Rules
	decomposer *decompose.Decomposer
	resilience *resilience.Manager
	sparring   *sparring.Manager
	synth      *synth.Synthesizer
	cache      *cache.Cache
	recorder   *metrics.Recorder
	emitter    *EventEmitter
	logger     *slog.Logger
	tracer     trace.Tracer

	mu       sync.Mutex
	sessions map[string]*Session
	fallback *Session
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithCache puts the result cache in front of every computation.
func WithCache(c *cache.Cache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithRecorder records every outcome.
func WithRecorder(r *metrics.Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithEventEmitter publishes engine events.
func WithEventEmitter(em *EventEmitter) Option {
	return func(e *Engine) {
		e.emitter = em
	}
}

// WithEstimator overrides the cost estimator.
func WithEstimator(est classify.Estimator) Option {
	return func(e *Engine) {
		e.estimator = est
	}
}

// New creates an Engine over the two executors. A malformed policy is
// rejected here so that it is fatal at startup rather than per task.
func New(cfg *policy.Config, primary, secondary executor.Executor, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if primary == nil || secondary == nil {
		return nil, fmt.Errorf("engine: both executors are required")
	}

	e := &Engine{
		cfg:        cfg,
		classifier: classify.New(cfg),
		estimator:  classify.Estimator{Exact: true},
		rules:      delegation.New(cfg),
		decomposer: decompose.New(cfg),
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
		sessions:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")

	e.synth = synth.New(e.logger)
	e.resilience = resilience.New(cfg, primary, secondary,
		resilience.WithLogger(e.logger),
		resilience.WithTracer(e.tracer),
		resilience.WithFallbackHook(func(taskID string, from, to models.ExecutorID, cause models.ErrorKind) {
			e.emitter.Emit(EngineEvent{
				Type:      EventFallback,
				TaskID:    taskID,
				Executor:  to,
				ErrorKind: cause,
				Message:   fmt.Sprintf("%s -> %s", from, to),
			})
		}),
	)
	e.sparring = sparring.New(cfg, e.resilience, e.synth,
		sparring.WithLogger(e.logger),
		sparring.WithTracer(e.tracer),
		sparring.WithTransitionHook(func(id string, from, to sparring.State) {
			e.emitter.Emit(EngineEvent{
				Type:    EventSparringState,
				TaskID:  id,
				Message: fmt.Sprintf("%s -> %s", from, to),
			})
		}),
	)
	e.fallback = e.OpenSession(context.Background())
	return e, nil
}

// Policy returns the engine's configuration.
func (e *Engine) Policy() *policy.Config {
	return e.cfg
}

// DefaultSession is used when Submit is called without a session.
func (e *Engine) DefaultSession() *Session {
	return e.fallback
}

// Report is the full outcome of a submission.
type Report struct {
	Classification classify.Classification
	Decision       models.DelegationDecision
	// Decomposition is set when the task was split.
	Decomposition *models.TaskDecomposition
	// Sparring is set when a sparring session ran.
	Sparring *sparring.Session
	Result   models.ExecutionResult
}

// Plan classifies req, fills in its cost estimate and decides where it runs.
// It performs no executor calls.
func (e *Engine) Plan(sess *Session, req models.TaskRequest) (models.TaskRequest, classify.Classification, models.DelegationDecision) {
	if sess == nil {
		sess = e.fallback
	}
	class := e.classifier.Classify(req)
	req.Type = class.Type
	req = e.estimator.Fill(req, class.Tier)

	dec := e.rules.Decide(delegation.Input{
		Request:  req,
		Type:     class.Type,
		Tier:     class.Tier,
		Pressure: sess.State.Pressure(models.ExecutorPrimary),
	})
	return req, class, dec
}

// Submit runs req to completion in sess. A nil session uses the default one.
func (e *Engine) Submit(ctx context.Context, sess *Session, req models.TaskRequest) Report {
	start := time.Now()
	if sess == nil {
		sess = e.fallback
	}

	if err := req.Validate(); err != nil {
		res := models.FailedResult(req.ID, "", models.ErrorKindInvalidRequest, err.Error())
		e.logger.Warn("rejected task", "task", req.ID, "error", err)
		return Report{Result: res}
	}

	ctx, cancel := sess.bind(ctx)
	defer cancel()

	ctx, span := e.tracer.Start(ctx, "engine.submit",
		trace.WithAttributes(
			attribute.String("session.id", sess.ID),
			attribute.String("task.id", req.ID),
		))
	defer span.End()

	var report Report
	req, report.Classification, report.Decision = e.Plan(sess, req)
	class, dec := report.Classification, report.Decision

	span.SetAttributes(
		attribute.String("task.type", string(class.Type)),
		attribute.String("task.tier", string(class.Tier)),
		attribute.String("delegation.executor", string(dec.Executor)),
		attribute.String("delegation.rule", string(dec.Rule)),
		attribute.String("delegation.strategy", string(dec.Strategy)),
	)
	log := e.logger.With("session", sess.ID, "task", req.ID)
	if class.Ambiguous {
		log.Info("classification ambiguous, using fallback tier", "type", class.Type, "tier", class.Tier)
	}
	log.Debug("delegation decided",
		"type", class.Type,
		"tier", class.Tier,
		"executor", dec.Executor,
		"rule", dec.Rule,
		"strategy", dec.Strategy,
		"confidence", dec.Confidence,
		"pressure", dec.Pressure,
	)
	e.emitter.Emit(EngineEvent{
		Type:      EventDecisionMade,
		SessionID: sess.ID,
		TaskID:    req.ID,
		Executor:  dec.Executor,
		Rule:      dec.Rule,
		Message:   dec.Rationale,
	})

	compute := func(ctx context.Context) models.ExecutionResult {
		return e.execute(ctx, sess, req, class, dec, &report)
	}

	var res models.ExecutionResult
	if e.cache != nil {
		fp := cache.Fingerprint(req, string(dec.Executor), string(dec.Strategy))
		res = e.cache.Do(ctx, fp, compute)
	} else {
		res = compute(ctx)
	}

	res.TaskID = req.ID
	if res.Executor == "" {
		res.Executor = dec.Executor
	}
	if res.CacheHit {
		res.Duration = time.Since(start)
		e.emitter.Emit(EngineEvent{Type: EventCacheHit, SessionID: sess.ID, TaskID: req.ID, Executor: res.Executor})
	}
	report.Result = res

	if e.recorder != nil {
		e.recorder.Observe(context.WithoutCancel(ctx), class.Type, dec.Rule, res)
	}

	ev := EngineEvent{
		SessionID: sess.ID,
		TaskID:    req.ID,
		Executor:  res.Executor,
		Rule:      dec.Rule,
		Duration:  res.Duration,
		Consumed:  res.Consumed,
	}
	if res.Succeeded() {
		ev.Type = EventTaskCompleted
		log.Info("task completed",
			"executor", res.Executor,
			"consumed", res.Consumed,
			"retries", res.Retries,
			"cache_hit", res.CacheHit,
			"duration", res.Duration,
		)
	} else {
		ev.Type = EventTaskFailed
		ev.ErrorKind = res.ErrorKind
		ev.Message = res.Error
		span.SetStatus(codes.Error, string(res.ErrorKind))
		log.Warn("task failed",
			"error_kind", res.ErrorKind,
			"error", res.Error,
			"attempted", res.AttemptedExecutors(),
			"partial", len(res.Partial),
		)
	}
	e.emitter.Emit(ev)
	return report
}

// execute runs the chosen strategy and the optional sparring pass.
func (e *Engine) execute(ctx context.Context, sess *Session, req models.TaskRequest, class classify.Classification, dec models.DelegationDecision, report *Report) models.ExecutionResult {
	start := time.Now()

	var res models.ExecutionResult
	switch dec.Strategy {
	case models.StrategyDecompose:
		res = e.runDecomposed(ctx, sess, req, class, dec, report)
	case models.StrategyHybrid:
		res = e.runHybrid(ctx, req, dec)
	default:
		res = e.runDirect(ctx, req, dec)
	}

	if res.Succeeded() && e.wantsSparring(req, class) {
		s := e.sparring.Spar(ctx, req, req.Sparring, class.Tier, &res)
		report.Sparring = s
		switch {
		case s.State == sparring.StateCompleted:
			res = s.Final
		case ctx.Err() != nil:
			res = models.FailedResult(req.ID, res.Executor, models.ErrorKindCancelled, "cancelled during sparring")
			res.Partial = s.Final.Partial
			res.Consumed = s.Final.Consumed
		default:
			// The unsparred candidate still stands.
			res.Consumed = s.Final.Consumed
			res.Attempts = append(res.Attempts, s.Final.Attempts...)
			e.logger.Warn("sparring failed, keeping candidate",
				"task", req.ID,
				"session", s.ID,
				"error_kind", s.Final.ErrorKind,
			)
		}
	}

	res.TaskID = req.ID
	res.Duration = time.Since(start)
	return res
}

func (e *Engine) wantsSparring(req models.TaskRequest, class classify.Classification) bool {
	if req.Sparring != "" {
		return true
	}
	return e.cfg.Sparring.AutoStrategic && class.Tier == models.TierStrategic
}

func (e *Engine) runDirect(ctx context.Context, req models.TaskRequest, dec models.DelegationDecision) models.ExecutionResult {
	res := e.resilience.Run(ctx, req, dec.Executor)
	res.Confidence = dec.Confidence
	res.Rationale = string(dec.Rule)
	return res
}

// Spar runs a standalone sparring session on req. The primary executor
// drafts the candidate before the secondary challenges it. An empty mode
// falls back to the mode requested on req, then to the classified tier.
func (e *Engine) Spar(ctx context.Context, sess *Session, req models.TaskRequest, mode models.SparringMode) (*sparring.Session, error) {
	if sess == nil {
		sess = e.fallback
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if mode == "" {
		mode = req.Sparring
	}
	ctx, cancel := sess.bind(ctx)
	defer cancel()

	req, class, dec := e.Plan(sess, req)
	s := e.sparring.Spar(ctx, req, mode, class.Tier, nil)
	if e.recorder != nil {
		e.recorder.Observe(context.WithoutCancel(ctx), class.Type, dec.Rule, s.Final)
	}
	return s, nil
}
