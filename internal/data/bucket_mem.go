package data

import (
	"context"
	"sort"
	"sync"
	"time"

	"GuardLane/internal/model"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

// memoryBucket pairs one scope's limiter with its bookkeeping.
type memoryBucket struct {
	lim          *rate.Limiter
	spec         model.BucketSpec
	lastUsed     time.Time
	penaltyUntil time.Time
}

// memoryBucketStore keeps every scope's bucket in-process. One mutex covers
// the whole store so a two-scope admission peeks and consumes without any
// interleaving: a denied pair consumes nothing from either scope.
type memoryBucketStore struct {
	clk clock.Clock

	mu      sync.Mutex
	global  *memoryBucket
	tenants map[string]*memoryBucket
}

func newMemoryBucketStore(clk clock.Clock) *memoryBucketStore {
	return &memoryBucketStore{
		clk:     clk,
		tenants: make(map[string]*memoryBucket),
	}
}

// Admit implements bucketStore. The memory store never fails, so the error
// is always nil and the fail-open path upstream never triggers for it.
func (s *memoryBucketStore) Admit(_ context.Context, tenant string, global, perTenant model.BucketSpec, n int) (*model.AdmitResult, error) {
	now := s.clk.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	gb := s.globalBucket(global, now)
	tb := s.tenantBucket(tenant, perTenant, now)
	gb.lastUsed = now
	tb.lastUsed = now

	// Penalty parks the tenant scope outright.
	if tb.penaltyUntil.After(now) {
		return &model.AdmitResult{
			Allowed:     false,
			DeniedScope: tenant,
			RetryAfter:  tb.penaltyUntil.Sub(now),
			Global:      viewAt(gb, "global", now),
			Tenant:      viewAt(tb, tenant, now),
		}, nil
	}

	gTokens := gb.lim.TokensAt(now)
	tTokens := tb.lim.TokensAt(now)

	if gTokens >= float64(n) && tTokens >= float64(n) {
		gb.lim.AllowN(now, n)
		tb.lim.AllowN(now, n)
		return &model.AdmitResult{
			Allowed: true,
			Global:  viewAt(gb, "global", now),
			Tenant:  viewAt(tb, tenant, now),
		}, nil
	}

	// Denied: report the scope with the longer wait and consume nothing.
	var gWait, tWait time.Duration
	if gTokens < float64(n) {
		gWait = refillWait(float64(n)-gTokens, gb.spec.RefillRate)
	}
	if tTokens < float64(n) {
		tWait = refillWait(float64(n)-tTokens, tb.spec.RefillRate)
	}

	denied, wait := "global", gWait
	if tWait > gWait {
		denied, wait = tenant, tWait
	}
	return &model.AdmitResult{
		Allowed:     false,
		DeniedScope: denied,
		RetryAfter:  wait,
		Global:      viewAt(gb, "global", now),
		Tenant:      viewAt(tb, tenant, now),
	}, nil
}

// Penalize implements bucketStore. The longest pending penalty wins.
func (s *memoryBucketStore) Penalize(_ context.Context, tenant string, d time.Duration) error {
	now := s.clk.Now()
	until := now.Add(d)

	s.mu.Lock()
	defer s.mu.Unlock()

	tb, ok := s.tenants[tenant]
	if !ok {
		tb = &memoryBucket{lastUsed: now}
		s.tenants[tenant] = tb
	}
	tb.lastUsed = now
	if until.After(tb.penaltyUntil) {
		tb.penaltyUntil = until
	}
	return nil
}

// Stats implements bucketStore, global scope first, tenants in name order.
func (s *memoryBucketStore) Stats(_ context.Context, global, perTenant model.BucketSpec) ([]model.BucketView, error) {
	now := s.clk.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	views := []model.BucketView{viewAt(s.globalBucket(global, now), "global", now)}

	names := make([]string, 0, len(s.tenants))
	for name := range s.tenants {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		tb := s.tenants[name]
		if tb.lim == nil {
			// Penalty-only entry: report the default spec with zero tokens
			// while the penalty holds.
			views = append(views, model.BucketView{
				Scope:      name,
				Capacity:   perTenant.Capacity,
				RefillRate: perTenant.RefillRate,
			})
			continue
		}
		views = append(views, viewAt(tb, name, now))
	}
	return views, nil
}

// PurgeIdle implements bucketStore, dropping tenant buckets untouched for
// idleFor whose penalties have lapsed.
func (s *memoryBucketStore) PurgeIdle(_ context.Context, idleFor time.Duration) (int, error) {
	now := s.clk.Now()
	cutoff := now.Add(-idleFor)

	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for name, tb := range s.tenants {
		if tb.lastUsed.Before(cutoff) && !tb.penaltyUntil.After(now) {
			delete(s.tenants, name)
			purged++
		}
	}
	return purged, nil
}

// globalBucket returns the global bucket, creating or respeccing as needed.
// Caller must hold s.mu.
func (s *memoryBucketStore) globalBucket(spec model.BucketSpec, now time.Time) *memoryBucket {
	if s.global == nil {
		s.global = newBucket(spec)
	}
	respec(s.global, spec, now)
	return s.global
}

// tenantBucket returns the tenant's bucket, creating or respeccing as
// needed. Caller must hold s.mu.
func (s *memoryBucketStore) tenantBucket(tenant string, spec model.BucketSpec, now time.Time) *memoryBucket {
	tb, ok := s.tenants[tenant]
	if !ok || tb.lim == nil {
		nb := newBucket(spec)
		if ok {
			nb.penaltyUntil = tb.penaltyUntil
			nb.lastUsed = tb.lastUsed
		}
		s.tenants[tenant] = nb
		return nb
	}
	respec(tb, spec, now)
	return tb
}

func newBucket(spec model.BucketSpec) *memoryBucket {
	return &memoryBucket{
		lim:  rate.NewLimiter(rate.Limit(spec.RefillRate), spec.Capacity),
		spec: spec,
	}
}

// respec applies a changed spec (registry override edits) in place,
// preserving the accumulated token level.
func respec(b *memoryBucket, spec model.BucketSpec, now time.Time) {
	if b.spec == spec {
		return
	}
	b.lim.SetLimitAt(now, rate.Limit(spec.RefillRate))
	b.lim.SetBurstAt(now, spec.Capacity)
	b.spec = spec
}

func viewAt(b *memoryBucket, scope string, now time.Time) model.BucketView {
	tokens := b.lim.TokensAt(now)
	if tokens < 0 {
		tokens = 0
	}
	return model.BucketView{
		Scope:      scope,
		Tokens:     tokens,
		Capacity:   b.spec.Capacity,
		RefillRate: b.spec.RefillRate,
	}
}

// refillWait is the time until deficit tokens accumulate at refill rate.
func refillWait(deficit, refill float64) time.Duration {
	if refill <= 0 {
		return time.Duration(1<<63 - 1)
	}
	return time.Duration(deficit / refill * float64(time.Second))
}
