// Package biz contains business logic layer implementations.
// This layer holds the core business rules and domain models.
package biz

import (
	"GuardLane/internal/conf"
	"GuardLane/internal/data"

	"github.com/benbjohnson/clock"
	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewClock,
	NewDefaultClassifier,
	NewGuardUseCase,
	NewRateLimiterUseCase,
	NewBreakerRegistry,
	NewRetrier,
	NewHealthMonitor,
	NewSessionPool,
	NewTenantUsecase,
	// Per-component guard config sections
	wire.FieldsOf(new(*conf.Guard), "Ratelimit", "Breaker", "Retry", "Health", "Sessions"),
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(BucketRepo), new(*data.BucketRepo)),
	wire.Bind(new(TenantRepo), new(*data.TenantRepo)),
	wire.Bind(new(SnapshotRepo), new(*data.SnapshotRepo)),
	wire.Bind(new(AuditLogger), new(*data.AuditLoggerImpl)),
	wire.Bind(new(AlertNotifier), new(*data.LogAlertNotifier)),
	// The tenant registry doubles as the limiter's override source
	wire.Bind(new(LimitResolver), new(*TenantUsecase)),
)

// NewClock provides the wall clock. Tests construct components against a
// mock clock instead.
func NewClock() clock.Clock {
	return clock.New()
}
