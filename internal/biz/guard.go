package biz

import (
	"context"
	"errors"
	"time"

	"GuardLane/internal/metrics"
	"GuardLane/internal/model"

	"github.com/benbjohnson/clock"
	"github.com/go-kratos/kratos/v2/log"
)

// Operation is one outbound call to the upstream.
type Operation func(ctx context.Context) error

// SessionFn is one session-holding interaction; the session is live for
// message and error accounting until the function returns.
type SessionFn func(ctx context.Context, s *Session) error

// GuardUseCase composes admission control, the per-tenant breaker, retries,
// health accounting and the session pool around outbound calls. It also
// carries the admin operations behind the HTTP surface and the periodic
// maintenance jobs run by the cron server.
type GuardUseCase struct {
	limiter    *RateLimiterUseCase
	breakers   *BreakerRegistry
	retrier    *Retrier
	health     *HealthMonitor
	pool       *SessionPool
	classifier Classifier
	audit      AuditLogger
	alerts     AlertNotifier
	snapshots  SnapshotRepo
	clk        clock.Clock
	logger     *log.Helper
}

// NewGuardUseCase wires the guard components together and registers the
// breaker transition hook feeding audit records, alerts and metrics.
func NewGuardUseCase(
	limiter *RateLimiterUseCase,
	breakers *BreakerRegistry,
	retrier *Retrier,
	health *HealthMonitor,
	pool *SessionPool,
	classifier Classifier,
	audit AuditLogger,
	alerts AlertNotifier,
	snapshots SnapshotRepo,
	clk clock.Clock,
	logger log.Logger,
) *GuardUseCase {
	uc := &GuardUseCase{
		limiter:    limiter,
		breakers:   breakers,
		retrier:    retrier,
		health:     health,
		pool:       pool,
		classifier: classifier,
		audit:      audit,
		alerts:     alerts,
		snapshots:  snapshots,
		clk:        clk,
		logger:     log.NewHelper(logger),
	}
	breakers.OnStateChange(uc.onBreakerChange)
	return uc
}

// Do runs one guarded call for the tenant: rate-limit admission (with one
// bounded wait), then the breaker wrapping the retry loop, then health
// accounting and penalty feedback. op's error comes back unchanged except
// for the permanent-failure wrap applied by the retrier.
func (uc *GuardUseCase) Do(ctx context.Context, tenant string, op Operation) error {
	start := uc.clk.Now()

	if err := uc.admit(ctx, tenant); err != nil {
		metrics.ObserveCallDuration("throttled", uc.clk.Since(start))
		return err
	}

	breaker := uc.breakers.Get(tenant)
	err := breaker.Call(ctx, func(ctx context.Context) error {
		return uc.retrier.Run(ctx, op)
	})

	uc.record(ctx, tenant, err, uc.clk.Since(start))
	return err
}

// DoWithSession brackets Do with a held session. The session is always
// released, on success, error and cancellation alike.
func (uc *GuardUseCase) DoWithSession(ctx context.Context, tenant string, fn SessionFn) error {
	s, err := uc.pool.Acquire(ctx, tenant)
	if err != nil {
		return err
	}
	defer uc.pool.Release(tenant)

	return uc.Do(ctx, tenant, func(ctx context.Context) error {
		return fn(ctx, s)
	})
}

// admit clears the rate limiter, sitting out one denial when the suggested
// wait fits within the configured bound.
func (uc *GuardUseCase) admit(ctx context.Context, tenant string) error {
	_, err := uc.limiter.Acquire(ctx, tenant, 1)
	if err == nil {
		return nil
	}

	var te *ThrottledError
	if !errors.As(err, &te) {
		return err
	}
	if te.RetryAfter > uc.limiter.MaxWait() {
		return err
	}

	if werr := uc.wait(ctx, te.RetryAfter); werr != nil {
		return werr
	}
	_, err = uc.limiter.Acquire(ctx, tenant, 1)
	return err
}

// record books the final outcome. Local rejections and caller cancellation
// are not tenant health events; upstream rate limits additionally feed the
// penalty loop when they carry a server wait hint.
func (uc *GuardUseCase) record(ctx context.Context, tenant string, err error, latency time.Duration) {
	if err == nil {
		uc.health.RecordSuccess(tenant, latency)
		metrics.ObserveCallDuration("success", latency)
		return
	}

	cat := uc.classifier.Classify(err)
	metrics.ObserveCallDuration(cat.String(), latency)
	if cat.IsLocal() || errors.Is(err, context.Canceled) {
		return
	}

	uc.health.RecordFailure(tenant, cat)

	if cat == CategoryRateLimited {
		if hint := RetryAfterHint(err); hint > 0 {
			if perr := uc.limiter.Penalize(ctx, tenant, hint); perr != nil {
				uc.logger.Warnw("msg", "penalty application failed",
					"tenant", tenant,
					"error", perr.Error())
			}
		}
	}
}

// wait sleeps d or until ctx ends.
func (uc *GuardUseCase) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := uc.clk.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// onBreakerChange feeds breaker transitions into metrics, the audit trail
// and the alert notifier.
func (uc *GuardUseCase) onBreakerChange(change StateChange) {
	ctx := context.Background()
	metrics.RecordBreakerTransition(change.Tenant, change.To.String(), float64(change.To))

	switch {
	case change.To == BreakerOpen:
		uc.audit.LogBreakerOpened(ctx, change.Tenant, change.FailureCount, change.At)
		event := &model.BreakerOpenedEvent{
			Tenant:       change.Tenant,
			FailureCount: change.FailureCount,
			OpenedAt:     change.At,
		}
		if err := uc.alerts.NotifyBreakerOpened(ctx, event); err != nil {
			uc.logger.Warnw("msg", "breaker-opened alert delivery failed",
				"tenant", change.Tenant,
				"error", err.Error())
		}

	case change.To == BreakerClosed && change.From == BreakerHalfOpen:
		var openFor time.Duration
		if !change.OpenedAt.IsZero() {
			openFor = change.At.Sub(change.OpenedAt)
		}
		uc.audit.LogBreakerRecovered(ctx, change.Tenant, change.SuccessCount, openFor)
		event := &model.BreakerRecoveredEvent{
			Tenant:         change.Tenant,
			ProbeSuccesses: change.SuccessCount,
			OpenFor:        openFor,
		}
		if err := uc.alerts.NotifyBreakerRecovered(ctx, event); err != nil {
			uc.logger.Warnw("msg", "breaker-recovered alert delivery failed",
				"tenant", change.Tenant,
				"error", err.Error())
		}
	}
}

// SuspendTenant marks the tenant Suspended until resumed.
func (uc *GuardUseCase) SuspendTenant(ctx context.Context, tenant, reason string) {
	uc.health.Suspend(tenant, reason)
	uc.audit.LogTenantSuspended(ctx, tenant, reason)
}

// ResumeTenant lifts a suspension. Returns false when the tenant was not
// suspended.
func (uc *GuardUseCase) ResumeTenant(ctx context.Context, tenant string) bool {
	if !uc.health.Resume(tenant) {
		return false
	}
	uc.audit.LogTenantResumed(ctx, tenant)
	return true
}

// ResetBreaker forces the tenant's breaker closed. Returns false for
// tenants without a breaker.
func (uc *GuardUseCase) ResetBreaker(ctx context.Context, tenant string) bool {
	if !uc.breakers.Reset(tenant) {
		return false
	}
	uc.audit.LogBreakerReset(ctx, tenant)
	return true
}

// BreakerStates returns every breaker snapshot.
func (uc *GuardUseCase) BreakerStates() []BreakerSnapshot {
	return uc.breakers.States()
}

// BreakerState returns one tenant's breaker snapshot.
func (uc *GuardUseCase) BreakerState(tenant string) (BreakerSnapshot, bool) {
	return uc.breakers.Peek(tenant)
}

// HealthSummary returns the fleet health aggregate.
func (uc *GuardUseCase) HealthSummary() HealthSummary {
	return uc.health.Summary()
}

// TenantHealth returns one tenant's health metrics.
func (uc *GuardUseCase) TenantHealth(tenant string) (HealthMetrics, bool) {
	return uc.health.Metrics(tenant)
}

// UnhealthyTenants lists tenants currently evaluated Unhealthy.
func (uc *GuardUseCase) UnhealthyTenants() []HealthMetrics {
	return uc.health.UnhealthyTenants()
}

// TenantHistory returns the tenant's persisted health snapshots since the
// given time.
func (uc *GuardUseCase) TenantHistory(ctx context.Context, tenant string, since time.Time) ([]*model.HealthSnapshot, error) {
	return uc.snapshots.LoadHistory(ctx, tenant, since)
}

// PoolStatus returns session pool occupancy and recent aggregates.
func (uc *GuardUseCase) PoolStatus() PoolStatus {
	return uc.pool.Status()
}

// RateLimitStats returns current bucket views.
func (uc *GuardUseCase) RateLimitStats(ctx context.Context) ([]model.BucketView, error) {
	return uc.limiter.Stats(ctx)
}

// Sweep runs the periodic maintenance pass: purge idle buckets, force stale
// sessions closed (auditing each), and drop idle health entries.
func (uc *GuardUseCase) Sweep(ctx context.Context) {
	if _, err := uc.limiter.PurgeIdle(ctx); err != nil {
		uc.logger.Warnw("msg", "idle bucket purge failed", "error", err.Error())
	}

	for _, rec := range uc.pool.SweepStale() {
		uc.audit.LogSessionForceReleased(ctx, rec.Tenant, rec.SessionID, rec.Duration)
	}

	if purged := uc.health.PurgeIdle(uc.limiter.IdleTTL(), uc.pool.HasActive); purged > 0 {
		uc.logger.Infow("msg", "purged idle tenant health entries", "count", purged)
	}
}

// SnapshotHealth persists one snapshot per tenant with traffic. Failures are
// logged and skipped so one bad row cannot stall the job.
func (uc *GuardUseCase) SnapshotHealth(ctx context.Context) {
	now := uc.clk.Now()
	stored := 0
	for _, hm := range uc.health.AllMetrics() {
		if hm.TotalCalls == 0 {
			continue
		}
		snap := &model.HealthSnapshot{
			Tenant:              hm.Tenant,
			Status:              hm.Status.String(),
			TotalCalls:          hm.TotalCalls,
			FailedCalls:         hm.FailedCalls,
			ErrorRate:           hm.ErrorRate,
			AvgLatencyMs:        float64(hm.AvgLatency) / float64(time.Millisecond),
			ConsecutiveFailures: hm.ConsecutiveFailures,
			RecordedAt:          now,
		}
		if err := uc.snapshots.StoreSnapshot(ctx, snap); err != nil {
			uc.logger.Warnw("msg", "health snapshot write failed",
				"tenant", hm.Tenant,
				"error", err.Error())
			continue
		}
		stored++
	}
	if stored > 0 {
		uc.logger.Debugw("msg", "health snapshots stored", "count", stored)
	}
}
