package data

import (
	"context"
	"encoding/json"
	"time"

	"GuardLane/internal/metrics"
	"GuardLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// AuditLog is the GORM model for the guard_audit_logs table.
type AuditLog struct {
	ID        int64     `gorm:"primaryKey;column:id"`
	Tenant    string    `gorm:"column:tenant;size:100;not null;index"`
	EventType string    `gorm:"column:event_type;type:varchar(50);not null"`
	Details   string    `gorm:"column:details;type:json"` // JSON string
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (AuditLog) TableName() string {
	return "guard_audit_logs"
}

// AuditLoggerImpl implements biz.AuditLogger interface.
// Events are queued on a buffered channel and written by a background
// goroutine; a full queue drops the event with a warning rather than
// blocking the guarded call.
type AuditLoggerImpl struct {
	db      *gorm.DB
	logChan chan *AuditLog
	done    chan struct{}
	logger  *log.Helper
}

// NewAuditLogger creates a new audit logger with async channel.
// The returned cleanup closes the queue and drains pending events.
func NewAuditLogger(db *gorm.DB, logger log.Logger) (*AuditLoggerImpl, func()) {
	al := &AuditLoggerImpl{
		db:      db,
		logChan: make(chan *AuditLog, 1000), // Buffer size 1000 to prevent blocking
		done:    make(chan struct{}),
		logger:  log.NewHelper(logger),
	}

	go al.start()

	return al, al.Close
}

// start processes audit log events from the channel until it is closed.
func (a *AuditLoggerImpl) start() {
	defer close(a.done)
	for event := range a.logChan {
		ctx := context.Background()
		if err := a.db.WithContext(ctx).Create(event).Error; err != nil {
			a.logger.Errorw("msg", "failed to write audit log",
				"tenant", event.Tenant,
				"event_type", event.EventType,
				"error", err)
		} else {
			a.logger.Debugw("msg", "audit log written",
				"tenant", event.Tenant,
				"event_type", event.EventType)
		}
	}
}

// Close stops accepting events and waits for the writer to drain the queue.
func (a *AuditLoggerImpl) Close() {
	close(a.logChan)
	<-a.done
}

// enqueue sends an event to the write queue without blocking.
func (a *AuditLoggerImpl) enqueue(event *AuditLog) {
	select {
	case a.logChan <- event:
	default:
		metrics.RecordAuditDropped()
		a.logger.Warnw("msg", "audit log channel full, dropping event",
			"tenant", event.Tenant,
			"event_type", event.EventType)
	}
}

// record marshals details and queues one audit event.
func (a *AuditLoggerImpl) record(tenant, eventType string, details map[string]interface{}) {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		a.logger.Errorw("msg", "failed to marshal audit log details",
			"tenant", tenant,
			"event_type", eventType,
			"error", err)
		return
	}

	a.enqueue(&AuditLog{
		Tenant:    tenant,
		EventType: eventType,
		Details:   string(detailsJSON),
	})
}

// LogBreakerOpened logs a circuit breaker tripping open.
func (a *AuditLoggerImpl) LogBreakerOpened(_ context.Context, tenant string, failureCount int, openedAt time.Time) {
	a.record(tenant, model.AuditEventBreakerOpened, map[string]interface{}{
		"failure_count": failureCount,
		"opened_at":     openedAt.Format(time.RFC3339),
	})
}

// LogBreakerRecovered logs a circuit breaker closing after probe successes.
func (a *AuditLoggerImpl) LogBreakerRecovered(_ context.Context, tenant string, probeSuccesses int, openFor time.Duration) {
	a.record(tenant, model.AuditEventBreakerRecovered, map[string]interface{}{
		"probe_successes": probeSuccesses,
		"open_seconds":    openFor.Seconds(),
	})
}

// LogBreakerReset logs a manual breaker reset.
func (a *AuditLoggerImpl) LogBreakerReset(_ context.Context, tenant string) {
	a.record(tenant, model.AuditEventBreakerReset, map[string]interface{}{
		"trigger": "manual",
	})
}

// LogTenantSuspended logs an operator suspending a tenant.
func (a *AuditLoggerImpl) LogTenantSuspended(_ context.Context, tenant, reason string) {
	a.record(tenant, model.AuditEventTenantSuspended, map[string]interface{}{
		"reason": reason,
	})
}

// LogTenantResumed logs an operator lifting a suspension.
func (a *AuditLoggerImpl) LogTenantResumed(_ context.Context, tenant string) {
	a.record(tenant, model.AuditEventTenantResumed, map[string]interface{}{
		"trigger": "manual",
	})
}

// LogSessionForceReleased logs the sweep reclaiming a stale session.
func (a *AuditLoggerImpl) LogSessionForceReleased(_ context.Context, tenant, sessionID string, heldFor time.Duration) {
	a.record(tenant, model.AuditEventSessionForceFreed, map[string]interface{}{
		"session_id":   sessionID,
		"held_seconds": heldFor.Seconds(),
	})
}

// LogTenantChange logs registry writes (created, updated, deleted).
func (a *AuditLoggerImpl) LogTenantChange(_ context.Context, eventType, tenant, detail string) {
	a.record(tenant, eventType, map[string]interface{}{
		"detail": detail,
	})
}
