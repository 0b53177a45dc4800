package data

import (
	"context"

	"GuardLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// LogAlertNotifier records breaker alerts to the service log only.
// Outbound delivery (webhook, pager) is a separate deployment concern and
// slots in behind the same biz.AlertNotifier interface.
type LogAlertNotifier struct {
	logger *log.Helper
}

// NewAlertNotifier creates a log-only alert notifier.
func NewAlertNotifier(logger log.Logger) *LogAlertNotifier {
	return &LogAlertNotifier{
		logger: log.NewHelper(logger),
	}
}

// NotifyBreakerOpened logs a breaker-opened alert.
func (s *LogAlertNotifier) NotifyBreakerOpened(_ context.Context, event *model.BreakerOpenedEvent) error {
	s.logger.Warnw("msg", "alert: circuit breaker opened",
		"tenant", event.Tenant,
		"failure_count", event.FailureCount,
		"opened_at", event.OpenedAt)
	return nil
}

// NotifyBreakerRecovered logs a breaker-recovered alert.
func (s *LogAlertNotifier) NotifyBreakerRecovered(_ context.Context, event *model.BreakerRecoveredEvent) error {
	s.logger.Infow("msg", "alert: circuit breaker recovered",
		"tenant", event.Tenant,
		"probe_successes", event.ProbeSuccesses,
		"open_for", event.OpenFor)
	return nil
}
