package data

import (
	"context"
	"fmt"
	"time"

	"GuardLane/internal/conf"
	"GuardLane/internal/model"

	"github.com/benbjohnson/clock"
	"github.com/go-kratos/kratos/v2/log"
)

// bucketStore is the backend contract shared by the memory and Redis stores.
type bucketStore interface {
	Admit(ctx context.Context, tenant string, global, perTenant model.BucketSpec, n int) (*model.AdmitResult, error)
	Penalize(ctx context.Context, tenant string, d time.Duration) error
	Stats(ctx context.Context, global, perTenant model.BucketSpec) ([]model.BucketView, error)
	PurgeIdle(ctx context.Context, idleFor time.Duration) (int, error)
}

// BucketRepo implements biz.BucketRepo, delegating to the store selected by
// guard.ratelimit.store. The memory store is per-process; the Redis store is
// shared across instances.
type BucketRepo struct {
	store  bucketStore
	logger *log.Helper
}

// NewBucketRepo selects and initializes the bucket store backend.
func NewBucketRepo(cfg *conf.Guard, data *Data, clk clock.Clock, logger log.Logger) (*BucketRepo, error) {
	helper := log.NewHelper(logger)

	var store bucketStore
	switch cfg.Ratelimit.Store {
	case "redis":
		rdb := data.GetRedisClient()
		if rdb == nil {
			return nil, fmt.Errorf("redis bucket store selected but no redis client available")
		}
		store = newRedisBucketStore(rdb, cfg.Ratelimit.IdleTtl.AsDuration(), clk)
	default:
		store = newMemoryBucketStore(clk)
	}

	helper.Infow("msg", "bucket store initialized", "store", cfg.Ratelimit.Store)
	return &BucketRepo{store: store, logger: helper}, nil
}

// Admit atomically takes n tokens from both scopes, or neither.
func (r *BucketRepo) Admit(ctx context.Context, tenant string, global, perTenant model.BucketSpec, n int) (*model.AdmitResult, error) {
	return r.store.Admit(ctx, tenant, global, perTenant, n)
}

// Penalize parks the tenant scope for d.
func (r *BucketRepo) Penalize(ctx context.Context, tenant string, d time.Duration) error {
	return r.store.Penalize(ctx, tenant, d)
}

// Stats returns current bucket views without consuming tokens.
func (r *BucketRepo) Stats(ctx context.Context, global, perTenant model.BucketSpec) ([]model.BucketView, error) {
	return r.store.Stats(ctx, global, perTenant)
}

// PurgeIdle drops tenant buckets idle for at least idleFor.
func (r *BucketRepo) PurgeIdle(ctx context.Context, idleFor time.Duration) (int, error) {
	return r.store.PurgeIdle(ctx, idleFor)
}
