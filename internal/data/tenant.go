package data

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	pkgerrors "GuardLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// TenantStatus represents the database ENUM type for tenant status.
type TenantStatus string

// Tenant status constants.
const (
	StatusActive   TenantStatus = "active"
	StatusDisabled TenantStatus = "disabled"
)

// Tenant is the GORM model for the tenants table. RateCapacity and
// RateRefill are per-tenant bucket overrides; zero means the service
// default applies.
type Tenant struct {
	ID                  int64        `gorm:"primaryKey;column:id"`
	Name                string       `gorm:"column:name;size:100;not null;uniqueIndex"`
	DisplayName         string       `gorm:"column:display_name;size:255"`
	Status              TenantStatus `gorm:"column:status;type:enum('active','disabled');default:'active';not null"`
	RateCapacity        int32        `gorm:"column:rate_capacity;default:0;not null"`
	RateRefill          float64      `gorm:"column:rate_refill;default:0;not null"`
	CredentialEncrypted string       `gorm:"column:credential_encrypted;type:text"`
	Metadata            *string      `gorm:"column:metadata;type:json"` // JSON string (pointer for NULL support)
	CreatedAt           time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (Tenant) TableName() string {
	return "tenants"
}

// Scan implements sql.Scanner interface for TenantStatus.
func (s *TenantStatus) Scan(value interface{}) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*s = TenantStatus(v)
	case string:
		*s = TenantStatus(v)
	default:
		return fmt.Errorf("cannot scan type %T into TenantStatus", value)
	}
	return nil
}

// Value implements driver.Valuer interface for TenantStatus.
func (s TenantStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// MaskSensitiveData masks the stored credential for display.
// Shows first 4 + last 4 characters (e.g., "gl-k****9f2c").
func (t *Tenant) MaskSensitiveData() {
	t.CredentialEncrypted = MaskCredential(t.CredentialEncrypted)
}

// MaskCredential masks a credential for display (first 4 + last 4 characters).
func MaskCredential(credential string) string {
	if credential == "" {
		return ""
	}
	if len(credential) <= 8 {
		return strings.Repeat("*", len(credential))
	}
	prefix := credential[:4]
	suffix := credential[len(credential)-4:]
	return prefix + "****" + suffix
}

// ValidateMetadataJSON validates if metadata is valid JSON.
// Empty string is NOT allowed - use NULL (nil pointer) instead for database storage.
func ValidateMetadataJSON(metadata string) error {
	if metadata == "" {
		return fmt.Errorf("metadata cannot be empty string, use null (nil pointer) or valid JSON")
	}
	var js json.RawMessage
	if err := json.Unmarshal([]byte(metadata), &js); err != nil {
		return fmt.Errorf("invalid JSON metadata: %w", err)
	}
	return nil
}

// TenantFilter defines query filter for listing tenants.
type TenantFilter struct {
	Page     int32        // Page number (starts from 1)
	PageSize int32        // Page size (1-100)
	Status   TenantStatus // Filter by status (optional)
}

// TenantRepo implements biz.TenantRepo interface.
// Following Kratos v2 DDD architecture, interface is defined in biz layer.
type TenantRepo struct {
	data   *Data
	db     *gorm.DB
	cache  TenantCache
	logger *log.Helper
}

// NewTenantRepo creates a new tenant repository.
func NewTenantRepo(data *Data, db *gorm.DB, logger log.Logger) *TenantRepo {
	return &TenantRepo{
		data:   data,
		db:     db,
		cache:  data.GetTenantCache(),
		logger: log.NewHelper(logger),
	}
}

// CreateTenant creates a new tenant in the database.
// Returns classified database errors for better error handling in upper layers.
func (r *TenantRepo) CreateTenant(ctx context.Context, tenant *Tenant) error {
	if err := r.db.WithContext(ctx).Create(tenant).Error; err != nil {
		dbErr := pkgerrors.ClassifyDBError(err)

		switch dbErr.Type {
		case pkgerrors.ErrorTypeDuplicateKey:
			r.logger.Warnw("msg", "duplicate tenant name",
				"name", tenant.Name,
				"error", dbErr.Error())
		case pkgerrors.ErrorTypeInvalidJSON:
			r.logger.Errorw("msg", "invalid JSON in tenant metadata",
				"name", tenant.Name,
				"error", dbErr.Error())
		case pkgerrors.ErrorTypeConnectionError:
			r.logger.Errorw("msg", "database connection error",
				"error", dbErr.Error())
		default:
			r.logger.Errorw("msg", "failed to create tenant",
				"name", tenant.Name,
				"error", dbErr.Error())
		}

		return dbErr
	}

	r.logger.Infow("msg", "tenant created", "id", tenant.ID, "name", tenant.Name)
	return nil
}

// GetTenantByName retrieves a tenant by unique name, read-through cached.
func (r *TenantRepo) GetTenantByName(ctx context.Context, name string) (*Tenant, error) {
	if cached, ok := r.cache.Get(name); ok {
		r.logger.Debugw("msg", "tenant cache hit", "name", name)
		return cached, nil
	}

	var tenant Tenant
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&tenant).Error; err != nil {
		dbErr := pkgerrors.ClassifyDBError(err)
		if dbErr.Type == pkgerrors.ErrorTypeNotFound {
			r.logger.Debugw("msg", "tenant not found", "name", name)
		} else {
			r.logger.Errorf("failed to get tenant %s: %v", name, err)
		}
		return nil, dbErr
	}

	r.cache.Set(name, &tenant)
	r.logger.Debugw("msg", "tenant fetched from database", "name", name)
	return &tenant, nil
}

// ListTenants retrieves tenants with pagination and filters.
func (r *TenantRepo) ListTenants(ctx context.Context, filter *TenantFilter) ([]*Tenant, int32, error) {
	if filter == nil {
		filter = &TenantFilter{Page: 1, PageSize: 20}
	}

	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 20
	}
	if filter.PageSize > 100 {
		filter.PageSize = 100
	}

	query := r.db.WithContext(ctx).Model(&Tenant{})

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	} else {
		// Default: exclude disabled tenants (soft delete)
		query = query.Where("status != ?", StatusDisabled)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		r.logger.Errorf("failed to count tenants: %v", err)
		return nil, 0, fmt.Errorf("failed to count tenants: %w", err)
	}

	var tenants []*Tenant
	offset := (filter.Page - 1) * filter.PageSize
	if err := query.Offset(int(offset)).Limit(int(filter.PageSize)).
		Order("name ASC").
		Find(&tenants).Error; err != nil {
		r.logger.Errorf("failed to list tenants: %v", err)
		return nil, 0, fmt.Errorf("failed to list tenants: %w", err)
	}

	r.logger.Debugw("msg", "tenants listed", "count", len(tenants), "total", total, "page", filter.Page)

	if total > 2147483647 { // max int32
		return tenants, 2147483647, nil
	}
	return tenants, int32(total), nil // #nosec G115 -- safe conversion with overflow check
}

// UpdateTenant updates a tenant and invalidates its cache entry.
func (r *TenantRepo) UpdateTenant(ctx context.Context, tenant *Tenant) error {
	tenant.UpdatedAt = time.Now()

	if err := r.db.WithContext(ctx).Save(tenant).Error; err != nil {
		dbErr := pkgerrors.ClassifyDBError(err)
		if dbErr.Type == pkgerrors.ErrorTypeDuplicateKey {
			r.logger.Warnw("msg", "duplicate tenant name on update",
				"name", tenant.Name,
				"error", dbErr.Error())
		} else {
			r.logger.Errorf("failed to update tenant %s: %v", tenant.Name, err)
		}
		return dbErr
	}

	r.cache.Delete(tenant.Name)

	r.logger.Infow("msg", "tenant updated", "id", tenant.ID, "name", tenant.Name)
	return nil
}

// DeleteTenant performs soft delete (sets status to disabled) and
// invalidates the cache entry. Subsequent admissions fall back to the
// service default bucket spec.
func (r *TenantRepo) DeleteTenant(ctx context.Context, name string) error {
	result := r.db.WithContext(ctx).
		Model(&Tenant{}).
		Where("name = ?", name).
		Updates(map[string]interface{}{
			"status":     StatusDisabled,
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		r.logger.Errorf("failed to delete tenant %s: %v", name, result.Error)
		return pkgerrors.ClassifyDBError(result.Error)
	}

	if result.RowsAffected == 0 {
		return pkgerrors.ClassifyDBError(gorm.ErrRecordNotFound)
	}

	r.cache.Delete(name)

	r.logger.Infow("msg", "tenant deleted (soft)", "name", name)
	return nil
}
