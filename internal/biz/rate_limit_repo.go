package biz

import (
	"context"
	"time"

	"MetaDJ/internal/model"
)

// RateLimitRepo defines the window primitives the rate limiter is built on.
// Following Kratos v2 DDD architecture, interfaces are defined in biz layer.
// Implementations are in data layer (data.RedisRateLimitRepo, data.LocalRateLimitRepo).
type RateLimitRepo interface {
	// FixedWindow counts a hit against a window that opens at the first hit.
	FixedWindow(ctx context.Context, key string, limit int, window time.Duration) (*model.WindowResult, error)

	// SlidingWindow counts a hit against the window ending now.
	SlidingWindow(ctx context.Context, key string, limit int, window time.Duration) (*model.WindowResult, error)
}

// LocalRateLimitStore is the process-local RateLimitRepo. It never fails and
// must be swept periodically.
type LocalRateLimitStore interface {
	RateLimitRepo

	// Sweep removes records whose window ended before now.
	Sweep(now time.Time) int

	// Len returns the number of tracked keys.
	Len() int
}
