package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/delegate/internal/metrics"
	"github.com/ShayCichocki/delegate/pkg/models"
)

var _ metrics.Sink = (*DB)(nil)

// Record implements metrics.Sink.
func (db *DB) Record(ctx context.Context, e metrics.Event) error {
	at := e.At
	if at.IsZero() {
		at = db.now()
	}
	var errorKind sql.NullString
	if e.ErrorKind != models.ErrorKindNone {
		errorKind = sql.NullString{String: string(e.ErrorKind), Valid: true}
	}

	_, err := db.exec(ctx, `
		INSERT INTO metric_events (
			task_id, task_type, executor, rule, status, error_kind, duration_ms,
			resource_consumed, resource_saved, cache_hit, retries, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.TaskID, string(e.TaskType), string(e.Executor), string(e.Rule), string(e.Status),
		errorKind, e.Duration.Milliseconds(), e.ResourceConsumed, e.ResourceSaved,
		boolToInt(e.CacheHit), e.Retries, formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("record metric event: %w", err)
	}
	return nil
}

// AggregateMetrics returns per (task type, executor) totals over every
// recorded event, sorted by task type then executor.
func (db *DB) AggregateMetrics(ctx context.Context) ([]models.MetricsRecord, error) {
	rows, err := db.query(ctx, `
		SELECT
			task_type,
			executor,
			COUNT(*),
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
			SUM(cache_hit),
			SUM(duration_ms),
			SUM(resource_consumed),
			SUM(resource_saved)
		FROM metric_events
		GROUP BY task_type, executor
		ORDER BY task_type, executor
	`)
	if err != nil {
		return nil, fmt.Errorf("aggregate metrics: %w", err)
	}
	defer rows.Close()

	var out []models.MetricsRecord
	for rows.Next() {
		var (
			rec        models.MetricsRecord
			taskType   string
			executor   string
			durationMS int64
		)
		if err := rows.Scan(
			&taskType, &executor, &rec.Invocations, &rec.Failures, &rec.CacheHits,
			&durationMS, &rec.ResourceConsumed, &rec.ResourceSaved,
		); err != nil {
			return nil, fmt.Errorf("scan metrics row: %w", err)
		}
		rec.TaskType = models.TaskType(taskType)
		rec.Executor = models.ExecutorID(executor)
		rec.TotalDuration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metrics rows: %w", err)
	}
	return out, nil
}

// PurgeEventsBefore deletes metric events recorded before cutoff.
func (db *DB) PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.exec(ctx, "DELETE FROM metric_events WHERE recorded_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge metric events: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
