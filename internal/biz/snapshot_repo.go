package biz

import (
	"context"
	"time"

	"GuardLane/internal/model"
)

// SnapshotRepo persists periodic health snapshots for offline history.
// Implemented in the data layer on MySQL.
type SnapshotRepo interface {
	// StoreSnapshot appends one snapshot row.
	StoreSnapshot(ctx context.Context, snap *model.HealthSnapshot) error

	// LoadHistory returns the tenant's snapshots recorded at or after since,
	// ordered by recording time ascending.
	LoadHistory(ctx context.Context, tenant string, since time.Time) ([]*model.HealthSnapshot, error)
}
