// Package data provides data access layer implementations.
// It handles database connections and data persistence.
package data

import (
	"GuardLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewTenantCache,
	NewMySQLClient,
	NewBucketRepo,
	NewTenantRepo,
	NewSnapshotRepo,
	NewAuditLogger,
	NewAlertNotifier,
)

// Data contains all data layer dependencies.
type Data struct {
	// redisClient backs the shared bucket store when guard.ratelimit.store
	// is "redis"
	redisClient *redis.Client
	// tenantCache is the in-process tenant row cache
	tenantCache TenantCache
	// Note: MySQL DB is not stored here, it's injected directly to repositories
}

// NewData creates a new Data instance with all data layer dependencies.
// Redis connection failure does not prevent application startup (graceful degradation).
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client, cache TenantCache) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	// Check if Redis is available
	if rdb == nil {
		helper.Warn("Redis client is nil, the shared bucket store will be unavailable")
	}

	d := &Data{
		redisClient: rdb,
		tenantCache: cache,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		// Redis cleanup is handled by NewRedisClient's cleanup function
		// which is called automatically by Wire
	}

	return d, cleanup, nil
}

// GetTenantCache returns the tenant row cache for repository use.
func (d *Data) GetTenantCache() TenantCache {
	return d.tenantCache
}

// GetRedisClient returns the Redis client for advanced operations.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}
