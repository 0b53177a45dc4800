package biz

import (
	"context"

	"GuardLane/internal/model"
)

// AlertNotifier defines the interface for operator notifications
type AlertNotifier interface {
	// NotifyBreakerOpened sends a notification when a breaker trips open
	NotifyBreakerOpened(ctx context.Context, event *model.BreakerOpenedEvent) error

	// NotifyBreakerRecovered sends a notification when a breaker recovers
	NotifyBreakerRecovered(ctx context.Context, event *model.BreakerRecoveredEvent) error
}
