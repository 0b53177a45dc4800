package biz

import (
	"context"
	"time"
)

// AuditLogger defines the interface for audit logging. Implementations are
// fire-and-forget; a lost audit record must never fail the guarded call.
type AuditLogger interface {
	// LogBreakerOpened logs a circuit breaker tripping open
	LogBreakerOpened(ctx context.Context, tenant string, failureCount int, openedAt time.Time)

	// LogBreakerRecovered logs a circuit breaker closing after probe successes
	LogBreakerRecovered(ctx context.Context, tenant string, probeSuccesses int, openFor time.Duration)

	// LogBreakerReset logs a manual breaker reset
	LogBreakerReset(ctx context.Context, tenant string)

	// LogTenantSuspended logs an operator suspending a tenant
	LogTenantSuspended(ctx context.Context, tenant, reason string)

	// LogTenantResumed logs an operator lifting a suspension
	LogTenantResumed(ctx context.Context, tenant string)

	// LogSessionForceReleased logs the sweep reclaiming a stale session
	LogSessionForceReleased(ctx context.Context, tenant, sessionID string, heldFor time.Duration)

	// LogTenantChange logs registry writes (created, updated, deleted)
	LogTenantChange(ctx context.Context, eventType, tenant, detail string)
}
