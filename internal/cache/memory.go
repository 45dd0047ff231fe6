package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore is an in-process Store bounded by size, with a store-wide TTL
// on top of each entry's own TTL.
type MemoryStore struct {
	lru *expirable.LRU[string, Entry]
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store holding at most size entries. A ttl of zero
// disables the store-wide expiry.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = 1
	}
	return &MemoryStore{lru: expirable.NewLRU[string, Entry](size, nil, ttl)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, fingerprint string) (Entry, bool, error) {
	e, ok := s.lru.Get(fingerprint)
	if !ok {
		return Entry{}, false, nil
	}
	if e.Expired(time.Now()) {
		s.lru.Remove(fingerprint)
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, e Entry) error {
	s.lru.Add(e.Fingerprint, e)
	return nil
}

// Len returns the number of live entries.
func (s *MemoryStore) Len() int {
	return s.lru.Len()
}
