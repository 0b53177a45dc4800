package data

import (
	"context"
	"fmt"
	"time"

	"GuardLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// HealthSnapshot is the GORM model for the guard_health_snapshots table.
// One row per tenant per snapshot cycle.
type HealthSnapshot struct {
	ID                  int64     `gorm:"primaryKey;column:id"`
	Tenant              string    `gorm:"column:tenant;size:100;not null;index:idx_snapshot_tenant_time,priority:1"`
	Status              string    `gorm:"column:status;size:20;not null"`
	TotalCalls          int64     `gorm:"column:total_calls;default:0;not null"`
	FailedCalls         int64     `gorm:"column:failed_calls;default:0;not null"`
	ErrorRate           float64   `gorm:"column:error_rate;default:0;not null"`
	AvgLatencyMs        float64   `gorm:"column:avg_latency_ms;default:0;not null"`
	ConsecutiveFailures int       `gorm:"column:consecutive_failures;default:0;not null"`
	RecordedAt          time.Time `gorm:"column:recorded_at;not null;index:idx_snapshot_tenant_time,priority:2"`
}

// TableName specifies the table name for GORM.
func (HealthSnapshot) TableName() string {
	return "guard_health_snapshots"
}

// SnapshotRepo implements biz.SnapshotRepo interface.
// Following Kratos v2 DDD architecture, interface is defined in biz layer.
type SnapshotRepo struct {
	db     *gorm.DB
	logger *log.Helper
}

// NewSnapshotRepo creates a new health snapshot repository.
func NewSnapshotRepo(db *gorm.DB, logger log.Logger) *SnapshotRepo {
	return &SnapshotRepo{
		db:     db,
		logger: log.NewHelper(logger),
	}
}

// StoreSnapshot persists one tenant health snapshot.
func (r *SnapshotRepo) StoreSnapshot(ctx context.Context, snap *model.HealthSnapshot) error {
	row := &HealthSnapshot{
		Tenant:              snap.Tenant,
		Status:              snap.Status,
		TotalCalls:          snap.TotalCalls,
		FailedCalls:         snap.FailedCalls,
		ErrorRate:           snap.ErrorRate,
		AvgLatencyMs:        snap.AvgLatencyMs,
		ConsecutiveFailures: snap.ConsecutiveFailures,
		RecordedAt:          snap.RecordedAt,
	}

	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		r.logger.Errorf("failed to store health snapshot for %s: %v", snap.Tenant, err)
		return fmt.Errorf("failed to store health snapshot: %w", err)
	}

	r.logger.Debugw("msg", "health snapshot stored", "tenant", snap.Tenant, "status", snap.Status)
	return nil
}

// LoadHistory returns snapshots for a tenant since the given time,
// ordered by recorded_at ascending.
func (r *SnapshotRepo) LoadHistory(ctx context.Context, tenant string, since time.Time) ([]*model.HealthSnapshot, error) {
	var rows []*HealthSnapshot
	err := r.db.WithContext(ctx).
		Where("tenant = ?", tenant).
		Where("recorded_at >= ?", since).
		Order("recorded_at ASC").
		Find(&rows).Error
	if err != nil {
		r.logger.Errorf("failed to load health history for %s: %v", tenant, err)
		return nil, fmt.Errorf("failed to load health history: %w", err)
	}

	history := make([]*model.HealthSnapshot, 0, len(rows))
	for _, row := range rows {
		history = append(history, &model.HealthSnapshot{
			Tenant:              row.Tenant,
			Status:              row.Status,
			TotalCalls:          row.TotalCalls,
			FailedCalls:         row.FailedCalls,
			ErrorRate:           row.ErrorRate,
			AvgLatencyMs:        row.AvgLatencyMs,
			ConsecutiveFailures: row.ConsecutiveFailures,
			RecordedAt:          row.RecordedAt,
		})
	}

	r.logger.Debugw("msg", "health history loaded", "tenant", tenant, "count", len(history))
	return history, nil
}
