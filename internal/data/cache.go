package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// CacheKeyCircuit is the prefix for breaker records: circuit-breaker:{provider}
	CacheKeyCircuit = "circuit-breaker"

	// TTLCircuit is the default lifetime of a persisted breaker record.
	TTLCircuit = time.Hour
)

// ErrCacheNotFound is returned when a cache key does not exist
var ErrCacheNotFound = errors.New("cache: key not found")

// ErrStoreUnavailable is returned when no shared store client is configured.
var ErrStoreUnavailable = errors.New("cache: redis client is nil")

// CacheClient is a JSON key-value view over the shared store.
// Implementations must be thread-safe.
type CacheClient interface {
	// Get deserializes the value at key into dest. Returns ErrCacheNotFound if absent.
	Get(ctx context.Context, key string, dest interface{}) error

	// Set stores value as JSON with the given TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes keys.
	Delete(ctx context.Context, keys ...string) error

	// Exists checks if a key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Scan lists keys matching a glob pattern.
	Scan(ctx context.Context, pattern string) ([]string, error)
}

type redisCache struct {
	client *redis.Client
}

// NewCacheClient creates a Redis-backed cache client. A nil client makes
// every call fail with ErrStoreUnavailable.
func NewCacheClient(rdb *redis.Client) CacheClient {
	return &redisCache{
		client: rdb,
	}
}

func (c *redisCache) Get(ctx context.Context, key string, dest interface{}) error {
	if c.client == nil {
		return ErrStoreUnavailable
	}

	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheNotFound
		}
		return fmt.Errorf("cache: failed to get key %s: %w", key, err)
	}

	if err := json.Unmarshal(val, dest); err != nil {
		return fmt.Errorf("cache: failed to unmarshal value for key %s: %w", key, err)
	}
	return nil
}

func (c *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c.client == nil {
		return ErrStoreUnavailable
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: failed to marshal value for key %s: %w", key, err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache: failed to set key %s: %w", key, err)
	}
	return nil
}

func (c *redisCache) Delete(ctx context.Context, keys ...string) error {
	if c.client == nil {
		return ErrStoreUnavailable
	}
	if len(keys) == 0 {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache: failed to delete %d keys: %w", len(keys), err)
	}
	return nil
}

func (c *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	if c.client == nil {
		return false, ErrStoreUnavailable
	}

	count, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("cache: failed to check existence of key %s: %w", key, err)
	}
	return count > 0, nil
}

func (c *redisCache) Scan(ctx context.Context, pattern string) ([]string, error) {
	if c.client == nil {
		return nil, ErrStoreUnavailable
	}

	var keys []string
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("cache: failed to scan %s: %w", pattern, err)
	}
	return keys, nil
}

// BuildCacheKey joins a prefix and parts with ':'.
// BuildCacheKey(CacheKeyCircuit, "openai") -> "circuit-breaker:openai"
func BuildCacheKey(prefix string, parts ...string) string {
	key := prefix
	for _, part := range parts {
		key += ":" + part
	}
	return key
}
