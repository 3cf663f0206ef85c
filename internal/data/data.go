// Package data provides the shared store, the optional audit database and
// the repositories backing the circuit breaker and the rate limiter.
package data

import (
	"MetaDJ/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewCacheClient,
	NewAuditDB,
)

// Data holds the data layer resources and the capability toggle derived
// from configuration.
type Data struct {
	redisClient *redis.Client
	cache       CacheClient
	db          *gorm.DB
	shared      bool
}

// NewData creates a Data. A nil Redis client means local-memory mode.
func NewData(c *conf.Data, logger log.Logger, rdb *redis.Client, cache CacheClient, db *gorm.DB) (*Data, func(), error) {
	helper := log.NewHelper(log.With(logger, "module", "data"))

	d := &Data{
		redisClient: rdb,
		cache:       cache,
		db:          db,
		shared:      rdb != nil && c != nil && c.Redis.Enabled(),
	}

	mode := "local"
	if d.shared {
		mode = "shared"
	}
	helper.Infow("msg", "data layer ready", "store_mode", mode, "audit_db", db != nil)

	cleanup := func() {
		helper.Info("closing the data resources")
	}

	return d, cleanup, nil
}

// SharedStore reports whether the shared store capability is enabled.
func (d *Data) SharedStore() bool {
	return d.shared
}

// GetCache returns the cache client for repository use.
func (d *Data) GetCache() CacheClient {
	return d.cache
}

// GetRedisClient returns the Redis client, nil in local mode.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}

// GetDB returns the audit database, nil when not configured.
func (d *Data) GetDB() *gorm.DB {
	return d.db
}
