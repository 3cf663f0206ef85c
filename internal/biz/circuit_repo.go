package biz

import (
	"context"

	"MetaDJ/internal/model"
)

// CircuitBreakerRepo persists breaker records outside the process.
// Implementation is in data layer (data.RedisCircuitRepo, data.MemoryCircuitRepo).
type CircuitBreakerRepo interface {
	Save(ctx context.Context, rec *model.CircuitRecord) error

	// Load returns nil, nil when no record exists.
	Load(ctx context.Context, provider string) (*model.CircuitRecord, error)

	LoadAll(ctx context.Context) ([]*model.CircuitRecord, error)
	DeleteAll(ctx context.Context) error
}

// CircuitEventSink receives breaker state transitions. Publish must not block.
type CircuitEventSink interface {
	Publish(ctx context.Context, ev *model.CircuitEvent)
	Close()
}
