// Package memory provides the in-memory record store, the default backend
// for single-instance deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hausofbasquiat/gatekeeper/internal/core/ports"
)

// Store keeps sliding-window timestamp records in a mutex-guarded map.
type Store struct {
	mu      sync.Mutex
	records map[string][]time.Time
	now     func() time.Time
}

var _ ports.RecordStore = (*Store)(nil)

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces the time source. Used by tests to make window math
// deterministic.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[string][]time.Time),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Take prunes the key's record to the trailing window and admits the request
// when fewer than limit timestamps remain. The prune, the check and the
// append happen under one lock, so concurrent takes cannot interleave.
func (s *Store) Take(_ context.Context, key string, limit int, window time.Duration) (ports.TakeOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	kept := prune(s.records[key], now.Add(-window))

	if len(kept) >= limit {
		// limit >= 1 per the port contract, so kept is never empty here.
		s.records[key] = kept
		return ports.TakeOutcome{Allowed: false, Count: len(kept), Oldest: kept[0]}, nil
	}

	kept = append(kept, now)
	s.records[key] = kept
	return ports.TakeOutcome{Allowed: true, Count: len(kept), Oldest: kept[0]}, nil
}

// Append records a timestamp without enforcing a limit.
func (s *Store) Append(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = append(s.records[key], s.now())
	return nil
}

// Clear drops the record for one key.
func (s *Store) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// ClearAll drops every record.
func (s *Store) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string][]time.Time)
	return nil
}

// Sweep drops timestamps older than maxAge and deletes keys left empty.
func (s *Store) Sweep(_ context.Context, maxAge time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	for key, timestamps := range s.records {
		kept := prune(timestamps, cutoff)
		if len(kept) == 0 {
			delete(s.records, key)
			continue
		}
		s.records[key] = kept
	}
	return nil
}

// Size returns the number of tracked keys.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// prune returns the timestamps strictly newer than cutoff. Records are
// appended in insertion order, so the kept slice stays ordered.
func prune(timestamps []time.Time, cutoff time.Time) []time.Time {
	kept := timestamps[:0:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
