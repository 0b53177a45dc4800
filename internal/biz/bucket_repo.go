package biz

import (
	"context"
	"time"

	"GuardLane/internal/model"
)

// BucketRepo is the token bucket store interface, implemented in the data
// layer. Both a process-local and a Redis-backed implementation exist; the
// Redis one is shared across instances and may fail on store outage, which
// the use case layer treats as fail-open.
type BucketRepo interface {
	// Admit atomically takes n tokens from the global scope and the tenant
	// scope, or neither. Both scopes are refilled to now before the check.
	Admit(ctx context.Context, tenant string, global, perTenant model.BucketSpec, n int) (*model.AdmitResult, error)

	// Penalize suppresses admissions for the tenant scope until the given
	// duration elapses, used when the upstream signals a rate limit.
	Penalize(ctx context.Context, tenant string, d time.Duration) error

	// Stats returns current bucket views without consuming tokens. Tenants
	// that never requested admission are absent.
	Stats(ctx context.Context, global, perTenant model.BucketSpec) ([]model.BucketView, error)

	// PurgeIdle drops tenant buckets idle for at least idleFor and returns
	// how many were removed. Store-side TTL implementations may return zero.
	PurgeIdle(ctx context.Context, idleFor time.Duration) (int, error)
}

// LimitResolver supplies per-tenant bucket overrides. The tenant registry
// implements it; a nil resolver means every tenant uses the configured
// default spec.
type LimitResolver interface {
	ResolveLimit(ctx context.Context, tenant string) (model.BucketSpec, bool)
}
