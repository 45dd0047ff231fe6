// Package metrics records delegation outcomes. Events are append-only: the
// engine writes them and never reads them back to make decisions.
package metrics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ShayCichocki/delegate/internal/policy"
	"github.com/ShayCichocki/delegate/pkg/models"
)

// Event is one delegation outcome.
type Event struct {
	TaskID           string
	TaskType         models.TaskType
	Executor         models.ExecutorID
	Rule             models.Rule
	Status           models.ResultStatus
	ErrorKind        models.ErrorKind
	Duration         time.Duration
	ResourceConsumed int64
	// ResourceSaved is the cost avoided relative to running everything on the primary.
	ResourceSaved float64
	CacheHit      bool
	Retries       int
	At            time.Time
}

// Sink receives every recorded event.
type Sink interface {
	Record(ctx context.Context, e Event) error
}

type key struct {
	taskType models.TaskType
	executor models.ExecutorID
}

// Recorder aggregates events in memory and forwards them to sinks.
type Recorder struct {
	mu      sync.Mutex
	records map[key]*models.MetricsRecord
	sinks   []Sink

	primaryUnitCost float64
	unitCost        map[models.ExecutorID]float64

	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a recorder. Unit costs come from the executor policies.
func NewRecorder(cfg *policy.Config, logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		records:         make(map[key]*models.MetricsRecord),
		sinks:           sinks,
		primaryUnitCost: cfg.Primary.UnitCost,
		unitCost: map[models.ExecutorID]float64{
			models.ExecutorPrimary:   cfg.Primary.UnitCost,
			models.ExecutorSecondary: cfg.Secondary.UnitCost,
		},
		logger: logger.With("component", "metrics"),
		now:    time.Now,
	}
}

// Saved returns the cost avoided by res relative to the primary baseline.
// A cache hit avoids the whole original cost. Otherwise each attempt is
// priced on the executor that ran it, so consumption spent on the primary
// before a fallback saves nothing. Results without attempts are priced on
// res.Executor.
func (r *Recorder) Saved(res models.ExecutionResult) float64 {
	if res.CacheHit {
		return float64(res.Consumed) * r.primaryUnitCost
	}
	if len(res.Attempts) == 0 {
		return r.discount(res.Executor, res.Consumed)
	}
	var saved float64
	for _, a := range res.Attempts {
		saved += r.discount(a.Executor, a.Consumed)
	}
	return saved
}

func (r *Recorder) discount(id models.ExecutorID, consumed int64) float64 {
	return float64(consumed) * (r.primaryUnitCost - r.unitCost[id])
}

// Observe records the outcome of one task.
func (r *Recorder) Observe(ctx context.Context, taskType models.TaskType, rule models.Rule, res models.ExecutionResult) Event {
	consumed := res.Consumed
	if res.CacheHit {
		consumed = 0
	}
	e := Event{
		TaskID:           res.TaskID,
		TaskType:         taskType,
		Executor:         res.Executor,
		Rule:             rule,
		Status:           res.Status,
		ErrorKind:        res.ErrorKind,
		Duration:         res.Duration,
		ResourceConsumed: consumed,
		ResourceSaved:    r.Saved(res),
		CacheHit:         res.CacheHit,
		Retries:          res.Retries,
		At:               r.now(),
	}
	r.Record(ctx, e)
	return e
}

// Record aggregates e and forwards it to every sink. Sink failures are logged
// and never surface to the caller.
func (r *Recorder) Record(ctx context.Context, e Event) {
	r.mu.Lock()
	k := key{e.TaskType, e.Executor}
	rec, ok := r.records[k]
	if !ok {
		rec = &models.MetricsRecord{TaskType: e.TaskType, Executor: e.Executor}
		r.records[k] = rec
	}
	rec.Invocations++
	if e.Status == models.StatusFailed {
		rec.Failures++
	}
	if e.CacheHit {
		rec.CacheHits++
	}
	rec.TotalDuration += e.Duration
	rec.ResourceConsumed += e.ResourceConsumed
	rec.ResourceSaved += e.ResourceSaved
	r.mu.Unlock()

	for _, s := range r.sinks {
		if err := s.Record(ctx, e); err != nil {
			r.logger.Warn("metrics sink failed", "error", err)
		}
	}
}

// Snapshot returns the aggregates sorted by task type then executor.
func (r *Recorder) Snapshot() []models.MetricsRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.MetricsRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TaskType != out[j].TaskType {
			return out[i].TaskType < out[j].TaskType
		}
		return out[i].Executor < out[j].Executor
	})
	return out
}
