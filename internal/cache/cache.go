// Package cache memoizes execution results by request fingerprint and
// coalesces concurrent identical requests into one computation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ShayCichocki/delegate/pkg/models"
)

// Entry is one cached result.
type Entry struct {
	Fingerprint string
	Result      models.ExecutionResult
	CreatedAt   time.Time
	// TTL of zero means the entry never expires.
	TTL time.Duration
}

// Expired reports whether the entry is past its TTL at now.
func (e Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) >= e.TTL
}

// Store is the persistence contract behind the cache.
type Store interface {
	// Get returns the entry for a fingerprint. A missing entry is not an error.
	Get(ctx context.Context, fingerprint string) (Entry, bool, error)
	// Put stores or replaces an entry.
	Put(ctx context.Context, e Entry) error
}

// ComputeFunc produces a result on a cache miss.
type ComputeFunc func(ctx context.Context) models.ExecutionResult

// Cache is the fingerprint-keyed memo with single-flight.
type Cache struct {
	store  Store
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache over store. Entries written by Do use ttl.
func New(store Store, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		ttl:    ttl,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "cache")
	return c
}

// Fingerprint hashes the task type, the whitespace-normalized payload, the
// sorted capability set and any executor-relevant params.
func Fingerprint(req models.TaskRequest, params ...string) string {
	caps := make([]string, len(req.RequiredCapabilities))
	for i, c := range req.RequiredCapabilities {
		caps[i] = string(c)
	}
	sort.Strings(caps)

	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(string(req.Type))
	write(NormalizePayload(req.Payload))
	write(strings.Join(caps, ","))
	write(string(req.TierHint))
	write(string(req.Sparring))
	for _, p := range params {
		write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizePayload collapses runs of whitespace and trims the ends.
func NormalizePayload(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Get returns a live cached result.
func (c *Cache) Get(ctx context.Context, fingerprint string) (models.ExecutionResult, bool) {
	e, ok, err := c.store.Get(ctx, fingerprint)
	if err != nil {
		c.logger.Warn("cache read failed", "fingerprint", short(fingerprint), "error", err)
		return models.ExecutionResult{}, false
	}
	if !ok || e.Expired(c.now()) {
		return models.ExecutionResult{}, false
	}
	return e.Result, true
}

// Put stores a result with the given TTL.
func (c *Cache) Put(ctx context.Context, fingerprint string, res models.ExecutionResult, ttl time.Duration) error {
	res.CacheHit = false
	return c.store.Put(ctx, Entry{
		Fingerprint: fingerprint,
		Result:      res,
		CreatedAt:   c.now(),
		TTL:         ttl,
	})
}

// Do returns the cached result for fingerprint, or computes it.
//
// At most one computation per fingerprint is in flight; concurrent callers wait
// for it and receive its result with CacheHit set. Only successful results are
// stored. A waiter whose own context ends stops waiting and gets a cancelled
// result. If the shared computation was cancelled by its originator, a waiter
// that is still live computes again.
func (c *Cache) Do(ctx context.Context, fingerprint string, compute ComputeFunc) models.ExecutionResult {
	for {
		if res, ok := c.Get(ctx, fingerprint); ok {
			res.CacheHit = true
			return res
		}

		var originator bool
		ch := c.group.DoChan(fingerprint, func() (any, error) {
			originator = true
			if res, ok := c.Get(ctx, fingerprint); ok {
				res.CacheHit = true
				return res, nil
			}
			res := compute(ctx)
			if res.Succeeded() {
				if err := c.Put(ctx, fingerprint, res, c.ttl); err != nil {
					c.logger.Warn("cache write failed", "fingerprint", short(fingerprint), "error", err)
				}
			}
			return res, nil
		})

		select {
		case <-ctx.Done():
			return models.FailedResult("", "", models.ErrorKindCancelled, "cancelled while waiting for a shared computation")
		case r := <-ch:
			res := r.Val.(models.ExecutionResult)
			if originator {
				return res
			}
			if res.ErrorKind == models.ErrorKindCancelled && ctx.Err() == nil {
				continue
			}
			res.CacheHit = true
			return res
		}
	}
}

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
