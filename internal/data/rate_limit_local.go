package data

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MetaDJ/internal/model"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultLocalCapacity bounds the number of tracked clients per process.
const DefaultLocalCapacity = 10000

type localRecord struct {
	requestCount int
	// expiresAt is the fixed window's reset time, or for a sliding log the
	// moment its newest hit ages out.
	expiresAt time.Time
	// hits is the sliding log, oldest first.
	hits []time.Time
}

// LocalRateLimitRepo is the process-local rate limit store. Records live in
// an LRU so memory stays bounded under unbounded distinct clients.
type LocalRateLimitRepo struct {
	mu      sync.Mutex
	records *lru.Cache[string, *localRecord]
	now     func() time.Time
}

// NewLocalRateLimitRepo creates a bounded local store.
func NewLocalRateLimitRepo(capacity int) (*LocalRateLimitRepo, error) {
	if capacity <= 0 {
		capacity = DefaultLocalCapacity
	}
	cache, err := lru.New[string, *localRecord](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create local rate limit store: %w", err)
	}
	return &LocalRateLimitRepo{records: cache, now: time.Now}, nil
}

// SetClock replaces the time source.
func (r *LocalRateLimitRepo) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// FixedWindow admits up to limit requests per window. The window opens at
// the first request and a record past its reset time starts over.
func (r *LocalRateLimitRepo) FixedWindow(_ context.Context, key string, limit int, window time.Duration) (*model.WindowResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rec, ok := r.records.Get(key)
	if !ok || !now.Before(rec.expiresAt) {
		rec = &localRecord{expiresAt: now.Add(window)}
		r.records.Add(key, rec)
	}

	if rec.requestCount >= limit {
		return &model.WindowResult{
			Allowed:    false,
			Count:      rec.requestCount,
			RetryAfter: rec.expiresAt.Sub(now),
		}, nil
	}

	rec.requestCount++
	return &model.WindowResult{Allowed: true, Count: rec.requestCount}, nil
}

// SlidingWindow keeps a per-key log of admitted request times and counts
// those newer than now minus window. Rejected requests are not logged, so
// the local store admits exactly what the shared store would.
func (r *LocalRateLimitRepo) SlidingWindow(_ context.Context, key string, limit int, window time.Duration) (*model.WindowResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rec, ok := r.records.Get(key)
	if !ok {
		rec = &localRecord{}
		r.records.Add(key, rec)
	}

	cutoff := now.Add(-window)
	expired := 0
	for expired < len(rec.hits) && !rec.hits[expired].After(cutoff) {
		expired++
	}
	rec.hits = rec.hits[expired:]

	if len(rec.hits) >= limit {
		retryAfter := window
		if len(rec.hits) > 0 {
			retryAfter = rec.hits[0].Add(window).Sub(now)
		}
		if retryAfter <= 0 {
			retryAfter = time.Millisecond
		}
		return &model.WindowResult{Allowed: false, Count: limit, RetryAfter: retryAfter}, nil
	}

	rec.hits = append(rec.hits, now)
	rec.expiresAt = now.Add(window)
	return &model.WindowResult{Allowed: true, Count: len(rec.hits)}, nil
}

// Sweep drops records whose window has elapsed and returns how many were removed.
func (r *LocalRateLimitRepo) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, key := range r.records.Keys() {
		rec, ok := r.records.Peek(key)
		if ok && !now.Before(rec.expiresAt) {
			r.records.Remove(key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked records.
func (r *LocalRateLimitRepo) Len() int {
	return r.records.Len()
}
