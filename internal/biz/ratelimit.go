package biz

import (
	"context"
	"fmt"
	"time"

	"GuardLane/internal/conf"
	"GuardLane/internal/metrics"
	"GuardLane/internal/model"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// RateLimiterUseCase drives two-scope token bucket admission: every request
// must clear the shared global bucket and the caller's tenant bucket in one
// atomic step. Business rule: when the shared store is unreachable the
// limiter fails open, availability over strict limiting.
type RateLimiterUseCase struct {
	repo     BucketRepo
	resolver LimitResolver
	cfg      *conf.Guard_RateLimit
	logger   *log.Helper
}

// NewRateLimiterUseCase creates a rate limiter use case. resolver may be nil,
// in which case every tenant uses the configured default bucket.
func NewRateLimiterUseCase(repo BucketRepo, resolver LimitResolver, cfg *conf.Guard_RateLimit, logger log.Logger) *RateLimiterUseCase {
	return &RateLimiterUseCase{
		repo:     repo,
		resolver: resolver,
		cfg:      cfg,
		logger:   log.NewHelper(logger),
	}
}

// newTokensExceedCapacityError builds the client error for requests that can
// never be admitted because they exceed a bucket's capacity.
func newTokensExceedCapacityError(n, capacity int, scope string) error {
	return errors.New(400, "TOKENS_EXCEED_CAPACITY",
		fmt.Sprintf("requested %d tokens but %s bucket capacity is %d", n, scope, capacity))
}

// Acquire admits n tokens for the tenant or reports how long to wait.
// On success the returned result carries post-consumption bucket views.
// On denial the error is a *ThrottledError naming the denied scope.
func (uc *RateLimiterUseCase) Acquire(ctx context.Context, tenant string, n int) (*model.AdmitResult, error) {
	if tenant == "" {
		return nil, errors.New(400, "TENANT_REQUIRED", "tenant must not be empty")
	}
	if n <= 0 {
		return nil, errors.New(400, "INVALID_TOKEN_COUNT",
			fmt.Sprintf("token count must be positive, got %d", n))
	}

	global := uc.globalSpec()
	perTenant := uc.tenantSpec(ctx, tenant)

	// A request larger than a bucket can ever hold would wait forever.
	if n > global.Capacity {
		return nil, newTokensExceedCapacityError(n, global.Capacity, "global")
	}
	if n > perTenant.Capacity {
		return nil, newTokensExceedCapacityError(n, perTenant.Capacity, "tenant")
	}

	res, err := uc.repo.Admit(ctx, tenant, global, perTenant, n)
	if err != nil {
		// Store outage: fail open rather than reject traffic.
		uc.logger.Warnf("admission check failed for tenant %s: %v (request allowed)", tenant, err)
		metrics.RecordStoreFailure()
		metrics.RecordAdmission("store", "fail_open")
		return &model.AdmitResult{
			Allowed: true,
			Global:  model.BucketView{Scope: "global", Capacity: global.Capacity, RefillRate: global.RefillRate},
			Tenant:  model.BucketView{Scope: tenant, Capacity: perTenant.Capacity, RefillRate: perTenant.RefillRate},
		}, nil
	}

	if !res.Allowed {
		scope := "tenant"
		if res.DeniedScope == "global" {
			scope = "global"
		}
		metrics.RecordAdmission(scope, "denied")
		return res, &ThrottledError{Scope: res.DeniedScope, RetryAfter: res.RetryAfter}
	}
	metrics.RecordAdmission("both", "allowed")
	return res, nil
}

// Penalize suppresses the tenant's admissions for d, typically in response to
// an upstream rate-limit hint. The global scope is never penalized.
func (uc *RateLimiterUseCase) Penalize(ctx context.Context, tenant string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if err := uc.repo.Penalize(ctx, tenant, d); err != nil {
		return fmt.Errorf("failed to penalize tenant %s: %w", tenant, err)
	}
	metrics.RecordPenalty()
	uc.logger.Infow("msg", "tenant penalized after upstream rate limit", "tenant", tenant, "duration", d.String())
	return nil
}

// Stats returns current bucket views, global scope first, without consuming
// any tokens.
func (uc *RateLimiterUseCase) Stats(ctx context.Context) ([]model.BucketView, error) {
	views, err := uc.repo.Stats(ctx, uc.globalSpec(), uc.defaultTenantSpec())
	if err != nil {
		return nil, fmt.Errorf("failed to read bucket stats: %w", err)
	}
	return views, nil
}

// PurgeIdle drops tenant buckets that have not been touched for the
// configured idle TTL. Called from the periodic sweep.
func (uc *RateLimiterUseCase) PurgeIdle(ctx context.Context) (int, error) {
	idleFor := uc.cfg.IdleTtl.AsDuration()
	purged, err := uc.repo.PurgeIdle(ctx, idleFor)
	if err != nil {
		return 0, fmt.Errorf("failed to purge idle buckets: %w", err)
	}
	if purged > 0 {
		uc.logger.Infow("msg", "purged idle tenant buckets", "count", purged, "idle_for", idleFor.String())
	}
	return purged, nil
}

// MaxWait is the longest admission wait the executor will sit out in-process.
func (uc *RateLimiterUseCase) MaxWait() time.Duration {
	return uc.cfg.MaxWait.AsDuration()
}

// IdleTTL is how long a tenant may stay idle before the sweep drops its
// bucket and health entries.
func (uc *RateLimiterUseCase) IdleTTL() time.Duration {
	return uc.cfg.IdleTtl.AsDuration()
}

func (uc *RateLimiterUseCase) globalSpec() model.BucketSpec {
	return model.BucketSpec{
		Capacity:   int(uc.cfg.Global.Capacity),
		RefillRate: uc.cfg.Global.RefillRate,
	}
}

func (uc *RateLimiterUseCase) defaultTenantSpec() model.BucketSpec {
	return model.BucketSpec{
		Capacity:   int(uc.cfg.Tenant.Capacity),
		RefillRate: uc.cfg.Tenant.RefillRate,
	}
}

// tenantSpec resolves the bucket spec for one tenant, preferring a registry
// override when the resolver knows the tenant.
func (uc *RateLimiterUseCase) tenantSpec(ctx context.Context, tenant string) model.BucketSpec {
	if uc.resolver != nil {
		if spec, ok := uc.resolver.ResolveLimit(ctx, tenant); ok {
			return spec
		}
	}
	return uc.defaultTenantSpec()
}
