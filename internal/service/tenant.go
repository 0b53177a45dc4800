package service

import (
	"context"
	"strconv"
	"time"

	"GuardLane/internal/biz"
	"GuardLane/internal/data"
	"GuardLane/pkg/metadata"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

type createTenantRequest struct {
	Name         string  `json:"name"`
	DisplayName  string  `json:"display_name"`
	RateCapacity int32   `json:"rate_capacity"`
	RateRefill   float64 `json:"rate_refill"`
	Credential   string  `json:"credential"`
	Metadata     string  `json:"metadata"`
}

type updateTenantRequest struct {
	DisplayName  *string  `json:"display_name"`
	RateCapacity *int32   `json:"rate_capacity"`
	RateRefill   *float64 `json:"rate_refill"`
	Credential   *string  `json:"credential"`
	Metadata     *string  `json:"metadata"`
	Status       *string  `json:"status"`
}

// tenantReply is the wire form of a tenant. The credential is always masked
// and metadata proxy passwords are redacted before leaving the service.
type tenantReply struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	DisplayName  string  `json:"display_name"`
	Status       string  `json:"status"`
	RateCapacity int32   `json:"rate_capacity"`
	RateRefill   float64 `json:"rate_refill"`
	Credential   string  `json:"credential,omitempty"`
	Metadata     string  `json:"metadata,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

type tenantListReply struct {
	Tenants  []tenantReply `json:"tenants"`
	Total    int32         `json:"total"`
	Page     int32         `json:"page"`
	PageSize int32         `json:"page_size"`
}

// TenantService exposes tenant registry CRUD over HTTP.
type TenantService struct {
	uc     *biz.TenantUsecase
	logger *log.Helper
}

// NewTenantService creates a new TenantService instance.
func NewTenantService(uc *biz.TenantUsecase, logger log.Logger) *TenantService {
	return &TenantService{
		uc:     uc,
		logger: log.NewHelper(logger),
	}
}

// RegisterRoutes mounts the tenant registry routes.
func (s *TenantService) RegisterRoutes(r *khttp.Router) {
	r.POST("/tenants", s.CreateTenant)
	r.GET("/tenants", s.ListTenants)
	r.GET("/tenants/{name}", s.GetTenant)
	r.PUT("/tenants/{name}", s.UpdateTenant)
	r.DELETE("/tenants/{name}", s.DeleteTenant)
}

// CreateTenant registers a new tenant.
func (s *TenantService) CreateTenant(ctx khttp.Context) error {
	var req createTenantRequest
	if err := ctx.Bind(&req); err != nil {
		return kerrors.New(400, "INVALID_BODY", "request body must be JSON")
	}
	s.logger.Infow("msg", "CreateTenant called", "name", req.Name)

	return respond(ctx, func(c context.Context) (interface{}, error) {
		tenant, err := s.uc.CreateTenant(c, &biz.CreateTenantInput{
			Name:         req.Name,
			DisplayName:  req.DisplayName,
			RateCapacity: req.RateCapacity,
			RateRefill:   req.RateRefill,
			Credential:   req.Credential,
			Metadata:     req.Metadata,
		})
		if err != nil {
			s.logger.Errorw("msg", "failed to create tenant", "name", req.Name, "error", err.Error())
			return nil, err
		}
		return toTenantReply(tenant), nil
	})
}

// ListTenants returns a paginated tenant listing. Supported query parameters:
// page, page_size, status.
func (s *TenantService) ListTenants(ctx khttp.Context) error {
	page := queryInt32(ctx, "page", 1)
	pageSize := queryInt32(ctx, "page_size", 20)
	status := ctx.Query().Get("status")
	s.logger.Debugw("msg", "ListTenants called", "page", page, "page_size", pageSize, "status", status)

	return respond(ctx, func(c context.Context) (interface{}, error) {
		tenants, total, err := s.uc.ListTenants(c, page, pageSize, status)
		if err != nil {
			s.logger.Errorw("msg", "failed to list tenants", "error", err.Error())
			return nil, err
		}

		out := tenantListReply{
			Tenants:  make([]tenantReply, 0, len(tenants)),
			Total:    total,
			Page:     page,
			PageSize: pageSize,
		}
		for _, t := range tenants {
			out.Tenants = append(out.Tenants, toTenantReply(t))
		}
		return out, nil
	})
}

// GetTenant returns one tenant by name.
func (s *TenantService) GetTenant(ctx khttp.Context) error {
	name := ctx.Vars().Get("name")
	s.logger.Debugw("msg", "GetTenant called", "name", name)

	return respond(ctx, func(c context.Context) (interface{}, error) {
		tenant, err := s.uc.GetTenant(c, name)
		if err != nil {
			s.logger.Errorw("msg", "failed to get tenant", "name", name, "error", err.Error())
			return nil, err
		}
		return toTenantReply(tenant), nil
	})
}

// UpdateTenant applies a partial update to one tenant.
func (s *TenantService) UpdateTenant(ctx khttp.Context) error {
	name := ctx.Vars().Get("name")

	var req updateTenantRequest
	if err := ctx.Bind(&req); err != nil {
		return kerrors.New(400, "INVALID_BODY", "request body must be JSON")
	}
	s.logger.Infow("msg", "UpdateTenant called", "name", name)

	return respond(ctx, func(c context.Context) (interface{}, error) {
		tenant, err := s.uc.UpdateTenant(c, name, &biz.UpdateTenantInput{
			DisplayName:  req.DisplayName,
			RateCapacity: req.RateCapacity,
			RateRefill:   req.RateRefill,
			Credential:   req.Credential,
			Metadata:     req.Metadata,
			Status:       req.Status,
		})
		if err != nil {
			s.logger.Errorw("msg", "failed to update tenant", "name", name, "error", err.Error())
			return nil, err
		}
		return toTenantReply(tenant), nil
	})
}

// DeleteTenant disables a tenant (soft delete).
func (s *TenantService) DeleteTenant(ctx khttp.Context) error {
	name := ctx.Vars().Get("name")
	s.logger.Infow("msg", "DeleteTenant called", "name", name)

	return respond(ctx, func(c context.Context) (interface{}, error) {
		if err := s.uc.DeleteTenant(c, name); err != nil {
			s.logger.Errorw("msg", "failed to delete tenant", "name", name, "error", err.Error())
			return nil, err
		}
		return actionReply{Success: true, Message: "tenant " + name + " disabled"}, nil
	})
}

// toTenantReply converts a tenant row to its wire form with the credential
// masked and metadata proxy passwords redacted.
func toTenantReply(t *data.Tenant) tenantReply {
	out := tenantReply{
		ID:           t.ID,
		Name:         t.Name,
		DisplayName:  t.DisplayName,
		Status:       string(t.Status),
		RateCapacity: t.RateCapacity,
		RateRefill:   t.RateRefill,
		Credential:   data.MaskCredential(t.CredentialEncrypted),
		CreatedAt:    t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    t.UpdatedAt.Format(time.RFC3339),
	}
	if t.Metadata != nil {
		if md, err := metadata.Parse(*t.Metadata); err == nil {
			out.Metadata = md.MaskSensitive().String()
		}
	}
	return out
}

// queryInt32 reads an int query parameter, falling back to def when the
// parameter is absent or malformed.
func queryInt32(ctx khttp.Context, key string, def int32) int32 {
	raw := ctx.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return def
	}
	return int32(v)
}
