package biz

import (
	"context"
	"fmt"

	"GuardLane/internal/data"
	"GuardLane/internal/model"
	"GuardLane/pkg/crypto"
	pkgerrors "GuardLane/pkg/errors"
	"GuardLane/pkg/metadata"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// CreateTenantInput carries the fields for registering a tenant.
type CreateTenantInput struct {
	Name         string
	DisplayName  string
	RateCapacity int32   // tokens; 0 means the service default applies
	RateRefill   float64 // tokens per second; 0 means the service default applies
	Credential   string  // upstream credential, encrypted at rest
	Metadata     string  // JSON, validated against pkg/metadata
}

// UpdateTenantInput carries optional field updates. A nil field leaves the
// stored value unchanged; an empty metadata string clears it.
type UpdateTenantInput struct {
	DisplayName  *string
	RateCapacity *int32
	RateRefill   *float64
	Credential   *string
	Metadata     *string
	Status       *string
}

// TenantUsecase implements tenant registry business logic. It doubles as the
// rate limiter's LimitResolver: registered tenants with a complete override
// pair get their own bucket spec, everyone else shares the default.
type TenantUsecase struct {
	repo   TenantRepo
	crypto *crypto.AESCrypto
	audit  AuditLogger
	logger *log.Helper
}

// NewTenantUsecase creates a new tenant usecase.
func NewTenantUsecase(repo TenantRepo, crypto *crypto.AESCrypto, audit AuditLogger, logger log.Logger) *TenantUsecase {
	return &TenantUsecase{
		repo:   repo,
		crypto: crypto,
		audit:  audit,
		logger: log.NewHelper(logger),
	}
}

// CreateTenant registers a tenant with an encrypted credential.
func (uc *TenantUsecase) CreateTenant(ctx context.Context, in *CreateTenantInput) (*data.Tenant, error) {
	if in.Name == "" {
		return nil, errors.New(400, "TENANT_NAME_REQUIRED", "tenant name must not be empty")
	}
	if err := validateRateOverride(in.RateCapacity, in.RateRefill); err != nil {
		return nil, err
	}

	metadataPtr, err := validateMetadata(in.Metadata)
	if err != nil {
		return nil, err
	}

	tenant := &data.Tenant{
		Name:         in.Name,
		DisplayName:  in.DisplayName,
		Status:       data.StatusActive,
		RateCapacity: in.RateCapacity,
		RateRefill:   in.RateRefill,
		Metadata:     metadataPtr,
	}

	if in.Credential != "" {
		encrypted, err := uc.encryptCredential(in.Credential)
		if err != nil {
			return nil, err
		}
		tenant.CredentialEncrypted = encrypted
	}

	if err := uc.repo.CreateTenant(ctx, tenant); err != nil {
		if pkgerrors.IsDuplicateKeyError(err) {
			return nil, errors.New(409, "TENANT_EXISTS",
				fmt.Sprintf("tenant %s already exists", in.Name))
		}
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	uc.audit.LogTenantChange(ctx, model.AuditEventTenantCreated, tenant.Name,
		fmt.Sprintf("registered with capacity=%d refill=%g", tenant.RateCapacity, tenant.RateRefill))

	uc.logger.Infow("msg", "tenant registered",
		"name", tenant.Name,
		"rate_capacity", tenant.RateCapacity,
		"rate_refill", tenant.RateRefill)
	return tenant, nil
}

// GetTenant retrieves a tenant by name.
func (uc *TenantUsecase) GetTenant(ctx context.Context, name string) (*data.Tenant, error) {
	tenant, err := uc.repo.GetTenantByName(ctx, name)
	if err != nil {
		if pkgerrors.IsNotFoundError(err) {
			return nil, errors.New(404, "TENANT_NOT_FOUND",
				fmt.Sprintf("tenant %s does not exist", name))
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return tenant, nil
}

// ListTenants retrieves tenants with pagination, optionally filtered by status.
func (uc *TenantUsecase) ListTenants(ctx context.Context, page, pageSize int32, status string) ([]*data.Tenant, int32, error) {
	if status != "" && status != string(data.StatusActive) && status != string(data.StatusDisabled) {
		return nil, 0, errors.New(400, "INVALID_STATUS",
			fmt.Sprintf("unknown tenant status %q", status))
	}

	filter := &data.TenantFilter{
		Page:     page,
		PageSize: pageSize,
		Status:   data.TenantStatus(status),
	}
	return uc.repo.ListTenants(ctx, filter)
}

// UpdateTenant applies the provided field updates to a tenant.
func (uc *TenantUsecase) UpdateTenant(ctx context.Context, name string, in *UpdateTenantInput) (*data.Tenant, error) {
	current, err := uc.GetTenant(ctx, name)
	if err != nil {
		return nil, err
	}

	// Copy before mutating: the repo cache hands back shared pointers.
	tenant := *current

	if in.DisplayName != nil {
		tenant.DisplayName = *in.DisplayName
	}
	if in.RateCapacity != nil {
		tenant.RateCapacity = *in.RateCapacity
	}
	if in.RateRefill != nil {
		tenant.RateRefill = *in.RateRefill
	}
	if err := validateRateOverride(tenant.RateCapacity, tenant.RateRefill); err != nil {
		return nil, err
	}

	if in.Status != nil {
		switch *in.Status {
		case string(data.StatusActive), string(data.StatusDisabled):
			tenant.Status = data.TenantStatus(*in.Status)
		default:
			return nil, errors.New(400, "INVALID_STATUS",
				fmt.Sprintf("unknown tenant status %q", *in.Status))
		}
	}

	if in.Metadata != nil {
		metadataPtr, err := validateMetadata(*in.Metadata)
		if err != nil {
			return nil, err
		}
		tenant.Metadata = metadataPtr
	}

	if in.Credential != nil && *in.Credential != "" {
		encrypted, err := uc.encryptCredential(*in.Credential)
		if err != nil {
			return nil, err
		}
		tenant.CredentialEncrypted = encrypted
	}

	if err := uc.repo.UpdateTenant(ctx, &tenant); err != nil {
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}

	uc.audit.LogTenantChange(ctx, model.AuditEventTenantUpdated, tenant.Name,
		fmt.Sprintf("capacity=%d refill=%g status=%s", tenant.RateCapacity, tenant.RateRefill, tenant.Status))

	uc.logger.Infow("msg", "tenant updated", "name", tenant.Name, "status", tenant.Status)
	return &tenant, nil
}

// DeleteTenant soft deletes a tenant. Subsequent admissions for the name
// fall back to the default bucket spec.
func (uc *TenantUsecase) DeleteTenant(ctx context.Context, name string) error {
	if err := uc.repo.DeleteTenant(ctx, name); err != nil {
		if pkgerrors.IsNotFoundError(err) {
			return errors.New(404, "TENANT_NOT_FOUND",
				fmt.Sprintf("tenant %s does not exist", name))
		}
		return fmt.Errorf("failed to delete tenant: %w", err)
	}

	uc.audit.LogTenantChange(ctx, model.AuditEventTenantDeleted, name, "tenant removed")

	uc.logger.Infow("msg", "tenant deleted", "name", name)
	return nil
}

// ResolveLimit implements LimitResolver. Only active tenants with both
// override fields set get a custom bucket spec; lookups that fail for any
// reason fall back to the default so admission never blocks on the registry.
func (uc *TenantUsecase) ResolveLimit(ctx context.Context, name string) (model.BucketSpec, bool) {
	tenant, err := uc.repo.GetTenantByName(ctx, name)
	if err != nil {
		return model.BucketSpec{}, false
	}
	if tenant.Status != data.StatusActive {
		return model.BucketSpec{}, false
	}
	if tenant.RateCapacity <= 0 || tenant.RateRefill <= 0 {
		return model.BucketSpec{}, false
	}
	return model.BucketSpec{
		Capacity:   int(tenant.RateCapacity),
		RefillRate: tenant.RateRefill,
	}, true
}

func (uc *TenantUsecase) encryptCredential(credential string) (string, error) {
	if uc.crypto == nil {
		return "", errors.New(500, "ENCRYPTION_UNAVAILABLE", "encryption key is not configured")
	}
	encrypted, err := uc.crypto.Encrypt(credential)
	if err != nil {
		uc.logger.Errorf("failed to encrypt credential: %v", err)
		return "", fmt.Errorf("failed to encrypt credential")
	}
	return encrypted, nil
}

// validateRateOverride rejects half-configured overrides: capacity and refill
// must be set together or not at all.
func validateRateOverride(capacity int32, refill float64) error {
	if capacity < 0 || refill < 0 {
		return errors.New(400, "INVALID_RATE_OVERRIDE", "rate override values must not be negative")
	}
	if (capacity > 0) != (refill > 0) {
		return errors.New(400, "INVALID_RATE_OVERRIDE",
			"rate_capacity and rate_refill must be set together")
	}
	return nil
}

// validateMetadata checks the metadata JSON and returns the storage pointer.
// Empty input stores NULL.
func validateMetadata(raw string) (*string, error) {
	if raw == "" {
		return nil, nil
	}
	meta, err := metadata.Parse(raw)
	if err != nil {
		return nil, errors.New(400, "INVALID_METADATA", err.Error())
	}
	if err := meta.Validate(); err != nil {
		return nil, errors.New(400, "INVALID_METADATA", err.Error())
	}
	return &raw, nil
}
