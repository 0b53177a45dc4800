package biz

import (
	"sort"
	"sync"
	"time"

	"GuardLane/internal/conf"
	"GuardLane/internal/metrics"

	"github.com/benbjohnson/clock"
	"github.com/go-kratos/kratos/v2/log"
)

// latencyEMAAlpha is the smoothing factor for the latency moving average.
const latencyEMAAlpha = 0.3

// HealthStatus is a tenant's evaluated health band.
type HealthStatus int

const (
	HealthHealthy HealthStatus = iota
	HealthDegraded
	HealthUnhealthy
	HealthSuspended
)

// String returns the snake_case name used in logs, metrics and API payloads.
func (s HealthStatus) String() string {
	switch s {
	case HealthDegraded:
		return "degraded"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthSuspended:
		return "suspended"
	default:
		return "healthy"
	}
}

// HealthMetrics is a point-in-time copy of one tenant's health counters.
type HealthMetrics struct {
	Tenant              string
	Status              HealthStatus
	TotalCalls          int64
	SuccessCalls        int64
	FailedCalls         int64
	ErrorRate           float64
	AvgLatency          time.Duration
	ConsecutiveFailures int
	LastSuccess         time.Time
	LastFailure         time.Time
	LastErrorType       string
	RateLimited         bool
	SuspendReason       string
}

// HealthSummary aggregates the fleet view.
type HealthSummary struct {
	TotalTenants    int
	Healthy         int
	Degraded        int
	Unhealthy       int
	Suspended       int
	GlobalErrorRate float64
	AvgLatency      time.Duration
	Band            string
}

type tenantHealth struct {
	status              HealthStatus
	totalCalls          int64
	successCalls        int64
	failedCalls         int64
	errorRate           float64
	emaLatency          float64 // nanoseconds
	consecutiveFailures int
	lastSuccess         time.Time
	lastFailure         time.Time
	lastErrorType       string
	rateLimited         bool
	suspendReason       string
	lastActivity        time.Time
}

// HealthMonitor tracks rolling per-tenant call statistics and evaluates a
// status band after every outcome. Suspension is sticky: a suspended tenant
// keeps counting traffic but stays Suspended until Resume.
type HealthMonitor struct {
	cfg    *conf.Guard_Health
	clk    clock.Clock
	logger *log.Helper

	mu      sync.RWMutex
	tenants map[string]*tenantHealth
}

// NewHealthMonitor creates an empty monitor.
func NewHealthMonitor(cfg *conf.Guard_Health, clk clock.Clock, logger log.Logger) *HealthMonitor {
	return &HealthMonitor{
		cfg:     cfg,
		clk:     clk,
		logger:  log.NewHelper(logger),
		tenants: make(map[string]*tenantHealth),
	}
}

// RecordSuccess folds one successful call and its latency into the tenant's
// statistics.
func (m *HealthMonitor) RecordSuccess(tenant string, latency time.Duration) {
	m.mu.Lock()
	th := m.tenant(tenant)
	now := m.clk.Now()

	th.totalCalls++
	th.successCalls++
	th.consecutiveFailures = 0
	th.lastSuccess = now
	th.lastActivity = now
	if th.emaLatency == 0 {
		th.emaLatency = float64(latency)
	} else {
		th.emaLatency = latencyEMAAlpha*float64(latency) + (1-latencyEMAAlpha)*th.emaLatency
	}
	th.errorRate = float64(th.failedCalls) / float64(th.totalCalls)

	from, to := m.evaluate(tenant, th)
	m.mu.Unlock()

	m.reportChange(tenant, from, to)
}

// RecordFailure folds one failed call into the tenant's statistics.
func (m *HealthMonitor) RecordFailure(tenant string, category ErrorCategory) {
	m.mu.Lock()
	th := m.tenant(tenant)
	now := m.clk.Now()

	th.totalCalls++
	th.failedCalls++
	th.consecutiveFailures++
	th.lastFailure = now
	th.lastActivity = now
	th.lastErrorType = category.String()
	th.rateLimited = category == CategoryRateLimited
	th.errorRate = float64(th.failedCalls) / float64(th.totalCalls)

	from, to := m.evaluate(tenant, th)
	m.mu.Unlock()

	m.reportChange(tenant, from, to)
}

// Suspend marks the tenant Suspended until Resume, creating the entry when
// the tenant is unknown so an operator can suspend ahead of traffic.
func (m *HealthMonitor) Suspend(tenant, reason string) {
	m.mu.Lock()
	th := m.tenant(tenant)
	from := th.status
	th.status = HealthSuspended
	th.suspendReason = reason
	th.lastActivity = m.clk.Now()
	m.mu.Unlock()

	m.reportChange(tenant, from, HealthSuspended)
}

// Resume lifts a suspension and re-evaluates the tenant from its counters.
// Returns false when the tenant is unknown or not suspended.
func (m *HealthMonitor) Resume(tenant string) bool {
	m.mu.Lock()
	th, ok := m.tenants[tenant]
	if !ok || th.status != HealthSuspended {
		m.mu.Unlock()
		return false
	}
	th.status = HealthHealthy
	th.suspendReason = ""
	_, to := m.evaluate(tenant, th)
	m.mu.Unlock()

	m.reportChange(tenant, HealthSuspended, to)
	return true
}

// Metrics returns the tenant's current statistics.
func (m *HealthMonitor) Metrics(tenant string) (HealthMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	th, ok := m.tenants[tenant]
	if !ok {
		return HealthMetrics{}, false
	}
	return m.snapshot(tenant, th), true
}

// AllMetrics returns every tracked tenant's statistics, ordered by tenant.
func (m *HealthMonitor) AllMetrics() []HealthMetrics {
	m.mu.RLock()
	out := make([]HealthMetrics, 0, len(m.tenants))
	for name, th := range m.tenants {
		out = append(out, m.snapshot(name, th))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Tenant < out[j].Tenant })
	return out
}

// UnhealthyTenants returns tenants currently evaluated Unhealthy.
func (m *HealthMonitor) UnhealthyTenants() []HealthMetrics {
	all := m.AllMetrics()
	out := all[:0]
	for _, hm := range all {
		if hm.Status == HealthUnhealthy {
			out = append(out, hm)
		}
	}
	return out
}

// Summary aggregates per-status counts, the fleet error rate and latency,
// and a band derived from the healthy fraction.
func (m *HealthMonitor) Summary() HealthSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := HealthSummary{TotalTenants: len(m.tenants)}
	var totalCalls, failedCalls int64
	var latencySum float64
	var latencyCount int

	for _, th := range m.tenants {
		switch th.status {
		case HealthHealthy:
			s.Healthy++
		case HealthDegraded:
			s.Degraded++
		case HealthUnhealthy:
			s.Unhealthy++
		case HealthSuspended:
			s.Suspended++
		}
		totalCalls += th.totalCalls
		failedCalls += th.failedCalls
		if th.totalCalls > 0 {
			latencySum += th.emaLatency
			latencyCount++
		}
	}

	if totalCalls > 0 {
		s.GlobalErrorRate = float64(failedCalls) / float64(totalCalls)
	}
	if latencyCount > 0 {
		s.AvgLatency = time.Duration(latencySum / float64(latencyCount))
	}

	healthyFraction := 1.0
	if s.TotalTenants > 0 {
		healthyFraction = float64(s.Healthy) / float64(s.TotalTenants)
	}
	switch {
	case healthyFraction >= 0.9:
		s.Band = "excellent"
	case healthyFraction >= 0.75:
		s.Band = "good"
	case healthyFraction >= 0.5:
		s.Band = "fair"
	default:
		s.Band = "poor"
	}
	return s
}

// PurgeIdle removes tenants with no activity for idleFor. Suspended tenants
// and tenants inUse reports busy are kept.
func (m *HealthMonitor) PurgeIdle(idleFor time.Duration, inUse func(tenant string) bool) int {
	cutoff := m.clk.Now().Add(-idleFor)

	m.mu.Lock()
	var purged []string
	for name, th := range m.tenants {
		if th.status == HealthSuspended {
			continue
		}
		if inUse != nil && inUse(name) {
			continue
		}
		if th.lastActivity.Before(cutoff) {
			delete(m.tenants, name)
			purged = append(purged, name)
		}
	}
	m.mu.Unlock()

	for _, name := range purged {
		metrics.DropTenant(name)
	}
	return len(purged)
}

// tenant returns the entry for name, creating it Healthy on first use.
// Caller must hold m.mu.
func (m *HealthMonitor) tenant(name string) *tenantHealth {
	th, ok := m.tenants[name]
	if !ok {
		th = &tenantHealth{status: HealthHealthy, lastActivity: m.clk.Now()}
		m.tenants[name] = th
	}
	return th
}

// evaluate re-derives the status from the counters. Suspended is sticky and
// skips evaluation. Caller must hold m.mu.
func (m *HealthMonitor) evaluate(tenant string, th *tenantHealth) (from, to HealthStatus) {
	from = th.status
	if th.status == HealthSuspended {
		return from, from
	}

	next := HealthHealthy
	latency := time.Duration(th.emaLatency)
	switch {
	case th.consecutiveFailures >= int(m.cfg.MaxConsecutiveFailures):
		next = HealthUnhealthy
	case th.errorRate >= m.cfg.CriticalErrorRate:
		next = HealthUnhealthy
	case th.errorRate >= m.cfg.WarningErrorRate:
		next = HealthDegraded
	case latency >= m.cfg.CriticalLatency.AsDuration():
		next = HealthDegraded
	case latency >= m.cfg.WarningLatency.AsDuration():
		next = HealthDegraded
	}

	th.status = next
	return from, next
}

// reportChange logs and gauges a status transition, outside the lock.
func (m *HealthMonitor) reportChange(tenant string, from, to HealthStatus) {
	metrics.SetHealthStatus(tenant, float64(to))
	if from == to {
		return
	}

	switch to {
	case HealthUnhealthy, HealthSuspended:
		m.logger.Warnw("msg", "tenant health status changed",
			"tenant", tenant,
			"from", from.String(),
			"to", to.String())
	default:
		m.logger.Infow("msg", "tenant health status changed",
			"tenant", tenant,
			"from", from.String(),
			"to", to.String())
	}
}

// snapshot copies the entry into the exported shape. Caller must hold m.mu.
func (m *HealthMonitor) snapshot(name string, th *tenantHealth) HealthMetrics {
	return HealthMetrics{
		Tenant:              name,
		Status:              th.status,
		TotalCalls:          th.totalCalls,
		SuccessCalls:        th.successCalls,
		FailedCalls:         th.failedCalls,
		ErrorRate:           th.errorRate,
		AvgLatency:          time.Duration(th.emaLatency),
		ConsecutiveFailures: th.consecutiveFailures,
		LastSuccess:         th.lastSuccess,
		LastFailure:         th.lastFailure,
		LastErrorType:       th.lastErrorType,
		RateLimited:         th.rateLimited,
		SuspendReason:       th.suspendReason,
	}
}
