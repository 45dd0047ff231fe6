package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/delegate/internal/cache"
	"github.com/ShayCichocki/delegate/pkg/models"
)

var _ cache.Store = (*DB)(nil)

// Get implements cache.Store. Expired rows are returned as-is; the cache
// decides whether to use them.
func (db *DB) Get(ctx context.Context, fingerprint string) (cache.Entry, bool, error) {
	var (
		payload   string
		createdAt string
		ttlMS     int64
	)
	err := db.queryRow(ctx, `
		SELECT result, created_at, ttl_ms FROM cache_entries WHERE fingerprint = ?
	`, fingerprint).Scan(&payload, &createdAt, &ttlMS)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("get cache entry: %w", err)
	}

	var res models.ExecutionResult
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return cache.Entry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("parse created_at: %w", err)
	}

	return cache.Entry{
		Fingerprint: fingerprint,
		Result:      res,
		CreatedAt:   created,
		TTL:         time.Duration(ttlMS) * time.Millisecond,
	}, true, nil
}

// Put implements cache.Store.
func (db *DB) Put(ctx context.Context, e cache.Entry) error {
	payload, err := json.Marshal(e.Result)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	var expiresAt sql.NullString
	if e.TTL > 0 {
		expiresAt = sql.NullString{String: formatTime(e.CreatedAt.Add(e.TTL)), Valid: true}
	}

	_, err = db.exec(ctx, `
		INSERT INTO cache_entries (fingerprint, result, created_at, ttl_ms, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			result = excluded.result,
			created_at = excluded.created_at,
			ttl_ms = excluded.ttl_ms,
			expires_at = excluded.expires_at
	`, e.Fingerprint, string(payload), formatTime(e.CreatedAt), e.TTL.Milliseconds(), expiresAt)
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

// PurgeExpired deletes cache entries whose TTL has elapsed.
// Returns the number of entries deleted.
func (db *DB) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := db.exec(ctx, `
		DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, formatTime(db.now()))
	if err != nil {
		return 0, fmt.Errorf("purge expired entries: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

// CacheSize returns the number of stored cache entries.
func (db *DB) CacheSize(ctx context.Context) (int64, error) {
	var n int64
	if err := db.queryRow(ctx, "SELECT COUNT(*) FROM cache_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}
