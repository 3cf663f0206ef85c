// Package biz contains business logic layer implementations.
// This layer holds the circuit breaker, the rate limiter and the request
// orchestration that sits on top of them.
package biz

import (
	"MetaDJ/internal/conf"
	"MetaDJ/internal/data"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewCircuitBreakerUsecase,
	NewRateLimiterUseCase,
	NewChatUsecase,
	NewTranscribeUsecase,
	NewProviderRegistry,
	// Pick data layer implementations from the capability toggle
	NewCircuitBreakerRepo,
	NewCircuitEventSink,
	NewSharedRateLimitRepo,
	NewLocalRateLimitStore,
)

// NewCircuitBreakerRepo returns the Redis-backed repo in shared-store mode
// and a process-local one otherwise.
func NewCircuitBreakerRepo(d *data.Data, c *conf.Resilience, logger log.Logger) CircuitBreakerRepo {
	if !d.SharedStore() {
		return data.NewMemoryCircuitRepo()
	}
	var ttl = data.TTLCircuit
	if c != nil && c.Circuit != nil && c.Circuit.RecordTTL > 0 {
		ttl = c.Circuit.RecordTTL
	}
	return data.NewRedisCircuitRepo(d.GetCache(), ttl, logger)
}

// NewCircuitEventSink writes transitions to the audit database when one is
// configured and to the log otherwise.
func NewCircuitEventSink(d *data.Data, logger log.Logger) CircuitEventSink {
	if db := d.GetDB(); db != nil {
		return data.NewCircuitAuditLogger(db, logger)
	}
	return data.NewLogEventSink(logger)
}

// NewSharedRateLimitRepo returns nil in local-memory mode.
func NewSharedRateLimitRepo(d *data.Data, logger log.Logger) RateLimitRepo {
	if !d.SharedStore() {
		return nil
	}
	return data.NewRedisRateLimitRepo(d.GetRedisClient(), logger)
}

// NewLocalRateLimitStore creates the bounded local store. It is used on its
// own in local-memory mode and for fail-open admission in shared mode.
func NewLocalRateLimitStore(c *conf.Resilience) (LocalRateLimitStore, error) {
	capacity := 0
	if c != nil && c.RateLimit != nil {
		capacity = c.RateLimit.LocalCapacity
	}
	return data.NewLocalRateLimitRepo(capacity)
}
