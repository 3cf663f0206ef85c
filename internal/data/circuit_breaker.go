package data

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"MetaDJ/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// circuitRecordJSON is the persisted form of a breaker record. Timestamps
// are unix milliseconds, 0 meaning never.
type circuitRecordJSON struct {
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	TotalFailures       int    `json:"totalFailures"`
	LastFailureAt       int64  `json:"lastFailureAt"`
	LastSuccessAt       int64  `json:"lastSuccessAt"`
	HalfOpenSince       int64  `json:"halfOpenSince"`
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func encodeCircuitRecord(r *model.CircuitRecord) *circuitRecordJSON {
	return &circuitRecordJSON{
		State:               string(r.State),
		ConsecutiveFailures: r.ConsecutiveFailures,
		TotalFailures:       r.TotalFailures,
		LastFailureAt:       toMillis(r.LastFailureAt),
		LastSuccessAt:       toMillis(r.LastSuccessAt),
		HalfOpenSince:       toMillis(r.HalfOpenSince),
	}
}

func decodeCircuitRecord(provider string, j *circuitRecordJSON) *model.CircuitRecord {
	state := model.CircuitState(j.State)
	switch state {
	case model.CircuitOpen, model.CircuitHalfOpen, model.CircuitClosed:
	default:
		state = model.CircuitClosed
	}
	return &model.CircuitRecord{
		Provider:            provider,
		State:               state,
		ConsecutiveFailures: j.ConsecutiveFailures,
		TotalFailures:       j.TotalFailures,
		LastFailureAt:       fromMillis(j.LastFailureAt),
		LastSuccessAt:       fromMillis(j.LastSuccessAt),
		HalfOpenSince:       fromMillis(j.HalfOpenSince),
	}
}

// RedisCircuitRepo persists breaker records in the shared store under
// circuit-breaker:{provider}.
type RedisCircuitRepo struct {
	cache  CacheClient
	ttl    time.Duration
	logger *log.Helper
}

// NewRedisCircuitRepo creates a shared-store breaker repository.
func NewRedisCircuitRepo(cache CacheClient, ttl time.Duration, logger log.Logger) *RedisCircuitRepo {
	if ttl <= 0 {
		ttl = TTLCircuit
	}
	return &RedisCircuitRepo{
		cache:  cache,
		ttl:    ttl,
		logger: log.NewHelper(log.With(logger, "module", "data/circuit")),
	}
}

// Save writes the record with the configured TTL.
func (r *RedisCircuitRepo) Save(ctx context.Context, rec *model.CircuitRecord) error {
	key := BuildCacheKey(CacheKeyCircuit, rec.Provider)
	if err := r.cache.Set(ctx, key, encodeCircuitRecord(rec), r.ttl); err != nil {
		return fmt.Errorf("failed to save circuit record for %s: %w", rec.Provider, err)
	}
	r.logger.Debugw("msg", "circuit record saved", "provider", rec.Provider, "state", rec.State)
	return nil
}

// Load returns the record for provider, or nil when none is stored.
func (r *RedisCircuitRepo) Load(ctx context.Context, provider string) (*model.CircuitRecord, error) {
	var j circuitRecordJSON
	err := r.cache.Get(ctx, BuildCacheKey(CacheKeyCircuit, provider), &j)
	if errors.Is(err, ErrCacheNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load circuit record for %s: %w", provider, err)
	}
	return decodeCircuitRecord(provider, &j), nil
}

// LoadAll returns every stored record. Unreadable entries are skipped.
func (r *RedisCircuitRepo) LoadAll(ctx context.Context) ([]*model.CircuitRecord, error) {
	keys, err := r.cache.Scan(ctx, BuildCacheKey(CacheKeyCircuit, "*"))
	if err != nil {
		return nil, fmt.Errorf("failed to list circuit records: %w", err)
	}

	records := make([]*model.CircuitRecord, 0, len(keys))
	for _, key := range keys {
		provider := strings.TrimPrefix(key, CacheKeyCircuit+":")
		rec, err := r.Load(ctx, provider)
		if err != nil {
			r.logger.Warnw("msg", "skipping unreadable circuit record", "key", key, "error", err)
			continue
		}
		if rec != nil {
			records = append(records, rec)
		}
	}
	return records, nil
}

// DeleteAll removes every stored record.
func (r *RedisCircuitRepo) DeleteAll(ctx context.Context) error {
	keys, err := r.cache.Scan(ctx, BuildCacheKey(CacheKeyCircuit, "*"))
	if err != nil {
		return fmt.Errorf("failed to list circuit records: %w", err)
	}
	if err := r.cache.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("failed to delete circuit records: %w", err)
	}
	r.logger.Infow("msg", "circuit records deleted", "count", len(keys))
	return nil
}

// MemoryCircuitRepo keeps breaker records in process memory. It backs the
// breaker when no shared store is configured.
type MemoryCircuitRepo struct {
	mu      sync.RWMutex
	records map[string]*model.CircuitRecord
}

// NewMemoryCircuitRepo creates an in-process breaker repository.
func NewMemoryCircuitRepo() *MemoryCircuitRepo {
	return &MemoryCircuitRepo{records: make(map[string]*model.CircuitRecord)}
}

func (r *MemoryCircuitRepo) Save(_ context.Context, rec *model.CircuitRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.Provider] = rec.Clone()
	return nil
}

func (r *MemoryCircuitRepo) Load(_ context.Context, provider string) (*model.CircuitRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[provider].Clone(), nil
}

func (r *MemoryCircuitRepo) LoadAll(_ context.Context) ([]*model.CircuitRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.CircuitRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (r *MemoryCircuitRepo) DeleteAll(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]*model.CircuitRecord)
	return nil
}
