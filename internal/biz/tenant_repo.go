package biz

import (
	"context"

	"GuardLane/internal/data"
)

// TenantRepo defines the tenant registry repository interface.
// Following Kratos v2 DDD architecture, interfaces are defined in biz layer.
// Implementation is in data layer (data.TenantRepo).
type TenantRepo interface {
	CreateTenant(ctx context.Context, tenant *data.Tenant) error
	GetTenantByName(ctx context.Context, name string) (*data.Tenant, error)
	ListTenants(ctx context.Context, filter *data.TenantFilter) ([]*data.Tenant, int32, error)
	UpdateTenant(ctx context.Context, tenant *data.Tenant) error
	DeleteTenant(ctx context.Context, name string) error
}
