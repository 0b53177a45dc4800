package service

import (
	"context"
	"time"

	"GuardLane/internal/biz"
	"GuardLane/internal/model"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

// defaultHistoryWindow bounds the snapshot history query when the caller
// passes no since parameter.
const defaultHistoryWindow = 24 * time.Hour

type healthSummaryReply struct {
	TotalTenants    int     `json:"total_tenants"`
	Healthy         int     `json:"healthy"`
	Degraded        int     `json:"degraded"`
	Unhealthy       int     `json:"unhealthy"`
	Suspended       int     `json:"suspended"`
	GlobalErrorRate float64 `json:"global_error_rate"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	Band            string  `json:"band"`
}

type tenantHealthReply struct {
	Tenant              string  `json:"tenant"`
	Status              string  `json:"status"`
	TotalCalls          int64   `json:"total_calls"`
	SuccessCalls        int64   `json:"success_calls"`
	FailedCalls         int64   `json:"failed_calls"`
	ErrorRate           float64 `json:"error_rate"`
	AvgLatencyMs        float64 `json:"avg_latency_ms"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	LastSuccess         string  `json:"last_success,omitempty"`
	LastFailure         string  `json:"last_failure,omitempty"`
	LastErrorType       string  `json:"last_error_type,omitempty"`
	RateLimited         bool    `json:"rate_limited"`
	SuspendReason       string  `json:"suspend_reason,omitempty"`
}

type tenantHealthListReply struct {
	Tenants []tenantHealthReply `json:"tenants"`
	Count   int                 `json:"count"`
}

type snapshotReply struct {
	Tenant              string  `json:"tenant"`
	Status              string  `json:"status"`
	TotalCalls          int64   `json:"total_calls"`
	FailedCalls         int64   `json:"failed_calls"`
	ErrorRate           float64 `json:"error_rate"`
	AvgLatencyMs        float64 `json:"avg_latency_ms"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	RecordedAt          string  `json:"recorded_at"`
}

type historyReply struct {
	Tenant    string          `json:"tenant"`
	Since     string          `json:"since"`
	Snapshots []snapshotReply `json:"snapshots"`
}

type breakerReply struct {
	Tenant       string `json:"tenant"`
	State        string `json:"state"`
	FailureCount int    `json:"failure_count"`
	SuccessCount int    `json:"success_count"`
	OpenedAt     string `json:"opened_at,omitempty"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

type breakerListReply struct {
	Breakers []breakerReply `json:"breakers"`
	Count    int            `json:"count"`
}

type poolStatusReply struct {
	Active              int     `json:"active"`
	MaxTotal            int     `json:"max_total"`
	RecentCount         int     `json:"recent_count"`
	RecentAvgDurationMs float64 `json:"recent_avg_duration_ms"`
	RecentAvgMessages   float64 `json:"recent_avg_messages"`
	RecentAvgErrors     float64 `json:"recent_avg_errors"`
}

type bucketReply struct {
	Scope      string  `json:"scope"`
	Tokens     float64 `json:"tokens"`
	Capacity   int     `json:"capacity"`
	RefillRate float64 `json:"refill_rate"`
}

type bucketListReply struct {
	Buckets []bucketReply `json:"buckets"`
	Count   int           `json:"count"`
}

type suspendRequest struct {
	Reason string `json:"reason"`
}

type actionReply struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// GuardService exposes the admin surface over the guard: fleet health,
// breaker introspection and control, session pool status and rate-limit
// bucket stats.
type GuardService struct {
	uc     *biz.GuardUseCase
	logger *log.Helper
}

// NewGuardService creates a new GuardService instance.
func NewGuardService(uc *biz.GuardUseCase, logger log.Logger) *GuardService {
	return &GuardService{
		uc:     uc,
		logger: log.NewHelper(logger),
	}
}

// RegisterRoutes mounts the guard admin routes.
func (s *GuardService) RegisterRoutes(r *khttp.Router) {
	r.GET("/guard/health", s.GetHealth)
	r.GET("/guard/health/{tenant}", s.GetTenantHealth)
	r.GET("/guard/health/{tenant}/history", s.GetTenantHistory)
	r.GET("/guard/unhealthy", s.ListUnhealthy)
	r.POST("/guard/tenants/{tenant}/suspend", s.SuspendTenant)
	r.POST("/guard/tenants/{tenant}/resume", s.ResumeTenant)
	r.GET("/guard/breakers", s.ListBreakers)
	r.GET("/guard/breakers/{tenant}", s.GetBreaker)
	r.POST("/guard/breakers/{tenant}/reset", s.ResetBreaker)
	r.GET("/guard/pool", s.GetPool)
	r.GET("/guard/ratelimit", s.ListRateLimits)
	r.GET("/guard/ratelimit/{scope}", s.GetRateLimit)
}

// GetHealth returns the fleet health summary.
func (s *GuardService) GetHealth(ctx khttp.Context) error {
	s.logger.Debugw("msg", "GetHealth called")

	return respond(ctx, func(context.Context) (interface{}, error) {
		return toHealthSummaryReply(s.uc.HealthSummary()), nil
	})
}

// GetTenantHealth returns one tenant's health metrics.
func (s *GuardService) GetTenantHealth(ctx khttp.Context) error {
	tenant := ctx.Vars().Get("tenant")
	s.logger.Debugw("msg", "GetTenantHealth called", "tenant", tenant)

	return respond(ctx, func(context.Context) (interface{}, error) {
		hm, ok := s.uc.TenantHealth(tenant)
		if !ok {
			return nil, kerrors.New(404, "TENANT_NOT_TRACKED",
				"no health record for tenant "+tenant)
		}
		return toTenantHealthReply(hm), nil
	})
}

// GetTenantHistory returns the tenant's persisted health snapshots since the
// optional RFC 3339 "since" query parameter (default: the last 24 hours).
func (s *GuardService) GetTenantHistory(ctx khttp.Context) error {
	tenant := ctx.Vars().Get("tenant")
	s.logger.Debugw("msg", "GetTenantHistory called", "tenant", tenant)

	since := time.Now().Add(-defaultHistoryWindow)
	if raw := ctx.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return kerrors.New(400, "INVALID_SINCE",
				"since must be an RFC 3339 timestamp: "+raw)
		}
		since = parsed
	}

	return respond(ctx, func(c context.Context) (interface{}, error) {
		snaps, err := s.uc.TenantHistory(c, tenant, since)
		if err != nil {
			s.logger.Errorw("msg", "failed to load tenant history",
				"tenant", tenant,
				"error", err.Error())
			return nil, err
		}

		out := historyReply{
			Tenant:    tenant,
			Since:     since.Format(time.RFC3339),
			Snapshots: make([]snapshotReply, 0, len(snaps)),
		}
		for _, snap := range snaps {
			out.Snapshots = append(out.Snapshots, toSnapshotReply(snap))
		}
		return out, nil
	})
}

// ListUnhealthy returns tenants currently evaluated Unhealthy.
func (s *GuardService) ListUnhealthy(ctx khttp.Context) error {
	s.logger.Debugw("msg", "ListUnhealthy called")

	return respond(ctx, func(context.Context) (interface{}, error) {
		unhealthy := s.uc.UnhealthyTenants()
		out := tenantHealthListReply{
			Tenants: make([]tenantHealthReply, 0, len(unhealthy)),
			Count:   len(unhealthy),
		}
		for _, hm := range unhealthy {
			out.Tenants = append(out.Tenants, toTenantHealthReply(hm))
		}
		return out, nil
	})
}

// SuspendTenant marks a tenant Suspended until explicitly resumed.
func (s *GuardService) SuspendTenant(ctx khttp.Context) error {
	tenant := ctx.Vars().Get("tenant")

	var req suspendRequest
	if err := ctx.Bind(&req); err != nil {
		return kerrors.New(400, "INVALID_BODY", "request body must be JSON")
	}
	s.logger.Infow("msg", "SuspendTenant called", "tenant", tenant, "reason", req.Reason)

	if req.Reason == "" {
		return kerrors.New(400, "REASON_REQUIRED", "suspend requires a reason")
	}

	return respond(ctx, func(c context.Context) (interface{}, error) {
		s.uc.SuspendTenant(c, tenant, req.Reason)
		return actionReply{Success: true, Message: "tenant " + tenant + " suspended"}, nil
	})
}

// ResumeTenant lifts a suspension.
func (s *GuardService) ResumeTenant(ctx khttp.Context) error {
	tenant := ctx.Vars().Get("tenant")
	s.logger.Infow("msg", "ResumeTenant called", "tenant", tenant)

	return respond(ctx, func(c context.Context) (interface{}, error) {
		if !s.uc.ResumeTenant(c, tenant) {
			return nil, kerrors.New(404, "TENANT_NOT_SUSPENDED",
				"tenant "+tenant+" is not suspended")
		}
		return actionReply{Success: true, Message: "tenant " + tenant + " resumed"}, nil
	})
}

// ListBreakers returns every tenant breaker snapshot.
func (s *GuardService) ListBreakers(ctx khttp.Context) error {
	s.logger.Debugw("msg", "ListBreakers called")

	return respond(ctx, func(context.Context) (interface{}, error) {
		states := s.uc.BreakerStates()
		out := breakerListReply{
			Breakers: make([]breakerReply, 0, len(states)),
			Count:    len(states),
		}
		for _, snap := range states {
			out.Breakers = append(out.Breakers, toBreakerReply(snap))
		}
		return out, nil
	})
}

// GetBreaker returns one tenant's breaker snapshot.
func (s *GuardService) GetBreaker(ctx khttp.Context) error {
	tenant := ctx.Vars().Get("tenant")
	s.logger.Debugw("msg", "GetBreaker called", "tenant", tenant)

	return respond(ctx, func(context.Context) (interface{}, error) {
		snap, ok := s.uc.BreakerState(tenant)
		if !ok {
			return nil, kerrors.New(404, "BREAKER_NOT_FOUND",
				"no breaker for tenant "+tenant)
		}
		return toBreakerReply(snap), nil
	})
}

// ResetBreaker forces a tenant's breaker closed.
func (s *GuardService) ResetBreaker(ctx khttp.Context) error {
	tenant := ctx.Vars().Get("tenant")
	s.logger.Infow("msg", "ResetBreaker called", "tenant", tenant)

	return respond(ctx, func(c context.Context) (interface{}, error) {
		if !s.uc.ResetBreaker(c, tenant) {
			return nil, kerrors.New(404, "BREAKER_NOT_FOUND",
				"no breaker for tenant "+tenant)
		}
		return actionReply{Success: true, Message: "breaker for tenant " + tenant + " reset"}, nil
	})
}

// GetPool returns session pool occupancy and recent aggregates.
func (s *GuardService) GetPool(ctx khttp.Context) error {
	s.logger.Debugw("msg", "GetPool called")

	return respond(ctx, func(context.Context) (interface{}, error) {
		ps := s.uc.PoolStatus()
		return poolStatusReply{
			Active:              ps.Active,
			MaxTotal:            ps.MaxTotal,
			RecentCount:         ps.RecentCount,
			RecentAvgDurationMs: float64(ps.RecentAvgDuration) / float64(time.Millisecond),
			RecentAvgMessages:   ps.RecentAvgMessages,
			RecentAvgErrors:     ps.RecentAvgErrors,
		}, nil
	})
}

// ListRateLimits returns every bucket's current view.
func (s *GuardService) ListRateLimits(ctx khttp.Context) error {
	s.logger.Debugw("msg", "ListRateLimits called")

	return respond(ctx, func(c context.Context) (interface{}, error) {
		views, err := s.uc.RateLimitStats(c)
		if err != nil {
			s.logger.Errorw("msg", "failed to read rate limit stats", "error", err.Error())
			return nil, err
		}
		out := bucketListReply{
			Buckets: make([]bucketReply, 0, len(views)),
			Count:   len(views),
		}
		for _, v := range views {
			out.Buckets = append(out.Buckets, toBucketReply(v))
		}
		return out, nil
	})
}

// GetRateLimit returns one scope's bucket view. The scope is either "global"
// or a tenant name.
func (s *GuardService) GetRateLimit(ctx khttp.Context) error {
	scope := ctx.Vars().Get("scope")
	s.logger.Debugw("msg", "GetRateLimit called", "scope", scope)

	return respond(ctx, func(c context.Context) (interface{}, error) {
		views, err := s.uc.RateLimitStats(c)
		if err != nil {
			s.logger.Errorw("msg", "failed to read rate limit stats", "error", err.Error())
			return nil, err
		}
		for _, v := range views {
			if v.Scope == scope {
				return toBucketReply(v), nil
			}
		}
		return nil, kerrors.New(404, "SCOPE_NOT_FOUND", "no bucket for scope "+scope)
	})
}

func toHealthSummaryReply(sum biz.HealthSummary) healthSummaryReply {
	return healthSummaryReply{
		TotalTenants:    sum.TotalTenants,
		Healthy:         sum.Healthy,
		Degraded:        sum.Degraded,
		Unhealthy:       sum.Unhealthy,
		Suspended:       sum.Suspended,
		GlobalErrorRate: sum.GlobalErrorRate,
		AvgLatencyMs:    float64(sum.AvgLatency) / float64(time.Millisecond),
		Band:            sum.Band,
	}
}

func toTenantHealthReply(hm biz.HealthMetrics) tenantHealthReply {
	out := tenantHealthReply{
		Tenant:              hm.Tenant,
		Status:              hm.Status.String(),
		TotalCalls:          hm.TotalCalls,
		SuccessCalls:        hm.SuccessCalls,
		FailedCalls:         hm.FailedCalls,
		ErrorRate:           hm.ErrorRate,
		AvgLatencyMs:        float64(hm.AvgLatency) / float64(time.Millisecond),
		ConsecutiveFailures: hm.ConsecutiveFailures,
		LastErrorType:       hm.LastErrorType,
		RateLimited:         hm.RateLimited,
		SuspendReason:       hm.SuspendReason,
	}
	if !hm.LastSuccess.IsZero() {
		out.LastSuccess = hm.LastSuccess.Format(time.RFC3339)
	}
	if !hm.LastFailure.IsZero() {
		out.LastFailure = hm.LastFailure.Format(time.RFC3339)
	}
	return out
}

func toSnapshotReply(snap *model.HealthSnapshot) snapshotReply {
	return snapshotReply{
		Tenant:              snap.Tenant,
		Status:              snap.Status,
		TotalCalls:          snap.TotalCalls,
		FailedCalls:         snap.FailedCalls,
		ErrorRate:           snap.ErrorRate,
		AvgLatencyMs:        snap.AvgLatencyMs,
		ConsecutiveFailures: snap.ConsecutiveFailures,
		RecordedAt:          snap.RecordedAt.Format(time.RFC3339),
	}
}

func toBreakerReply(snap biz.BreakerSnapshot) breakerReply {
	out := breakerReply{
		Tenant:       snap.Tenant,
		State:        snap.State.String(),
		FailureCount: snap.FailureCount,
		SuccessCount: snap.SuccessCount,
	}
	if !snap.OpenedAt.IsZero() {
		out.OpenedAt = snap.OpenedAt.Format(time.RFC3339)
	}
	if snap.RetryAfter > 0 {
		out.RetryAfterMs = snap.RetryAfter.Milliseconds()
	}
	return out
}

func toBucketReply(v model.BucketView) bucketReply {
	return bucketReply{
		Scope:      v.Scope,
		Tokens:     v.Tokens,
		Capacity:   v.Capacity,
		RefillRate: v.RefillRate,
	}
}
