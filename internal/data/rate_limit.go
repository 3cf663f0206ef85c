package data

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"MetaDJ/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimitRepo implements the fixed-window and sliding-window
// primitives on the shared store.
type RedisRateLimitRepo struct {
	rdb    *redis.Client
	now    func() time.Time
	logger *log.Helper
}

// NewRedisRateLimitRepo creates a shared-store rate limit repository.
func NewRedisRateLimitRepo(rdb *redis.Client, logger log.Logger) *RedisRateLimitRepo {
	return &RedisRateLimitRepo{
		rdb:    rdb,
		now:    time.Now,
		logger: log.NewHelper(log.With(logger, "module", "data/ratelimit")),
	}
}

// FixedWindow counts requests in a window that starts with the first hit.
// Uses INCR with PEXPIRE set on the first increment.
func (r *RedisRateLimitRepo) FixedWindow(ctx context.Context, key string, limit int, window time.Duration) (*model.WindowResult, error) {
	if r.rdb == nil {
		return nil, ErrStoreUnavailable
	}

	count, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to increment %s: %w", key, err)
	}

	if count == 1 {
		if err := r.rdb.PExpire(ctx, key, window).Err(); err != nil {
			r.logger.Warnf("failed to set expiration for %s: %v", key, err)
		}
	}

	if count <= int64(limit) {
		return &model.WindowResult{Allowed: true, Count: int(count)}, nil
	}

	ttl, err := r.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ttl of %s: %w", key, err)
	}
	if ttl < 0 {
		// Expiry was lost; restore it so the key cannot block forever.
		_ = r.rdb.PExpire(ctx, key, window).Err()
		ttl = window
	}

	return &model.WindowResult{Allowed: false, Count: limit, RetryAfter: ttl}, nil
}

// SlidingWindow keeps a log of request timestamps in a sorted set. Expired
// members are trimmed, the new member is added and counted in one MULTI;
// a rejected request is removed again so it does not consume quota.
func (r *RedisRateLimitRepo) SlidingWindow(ctx context.Context, key string, limit int, window time.Duration) (*model.WindowResult, error) {
	if r.rdb == nil {
		return nil, ErrStoreUnavailable
	}

	now := r.now().UnixMilli()
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()[:8]

	pipe := r.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now-window.Milliseconds(), 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: member})
	card := pipe.ZCard(ctx, key)
	pipe.PExpire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to update sliding window %s: %w", key, err)
	}

	count := card.Val()
	if count <= int64(limit) {
		return &model.WindowResult{Allowed: true, Count: int(count)}, nil
	}

	if err := r.rdb.ZRem(ctx, key, member).Err(); err != nil {
		r.logger.Warnf("failed to remove rejected member from %s: %v", key, err)
	}

	retryAfter := window
	oldest, err := r.rdb.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		r.logger.Warnf("failed to read oldest member of %s: %v", key, err)
	} else if len(oldest) > 0 {
		retryAfter = time.Duration(int64(oldest[0].Score)+window.Milliseconds()-now) * time.Millisecond
	}
	if retryAfter <= 0 {
		retryAfter = time.Millisecond
	}

	return &model.WindowResult{Allowed: false, Count: limit, RetryAfter: retryAfter}, nil
}
