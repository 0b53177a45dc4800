// Package metrics exposes Prometheus collectors for admission control,
// breaker transitions, retries, tenant health and the session pool. All
// collectors register on the default registry and are served on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "guardlane"

var (
	admissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "admissions_total",
		Help:      "Admission decisions; scope is the denied scope on denial, 'both' on allow, 'store' on fail-open.",
	}, []string{"scope", "outcome"})

	storeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "store_failures_total",
		Help:      "Bucket store errors that triggered fail-open admission.",
	})

	penaltiesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "penalties_total",
		Help:      "Tenant penalties applied after upstream rate-limit hints.",
	})

	breakerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "breaker",
		Name:      "transitions_total",
		Help:      "Breaker state transitions by target state.",
	}, []string{"to"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Current breaker state per tenant (0 closed, 1 open, 2 half-open).",
	}, []string{"tenant"})

	retryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "retry",
		Name:      "attempts_total",
		Help:      "Retry attempts by error category.",
	}, []string{"category"})

	healthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "health",
		Name:      "status",
		Help:      "Tenant health status (0 healthy, 1 degraded, 2 unhealthy, 3 suspended).",
	}, []string{"tenant"})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Sessions currently held.",
	})

	sessionsAcquiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sessions",
		Name:      "acquired_total",
		Help:      "Successful session acquisitions.",
	})

	sessionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sessions",
		Name:      "rejected_total",
		Help:      "Session acquisitions rejected, by reason (active, exhausted).",
	}, []string{"reason"})

	callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "guard",
		Name:      "call_duration_seconds",
		Help:      "Guarded call duration by outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})

	auditDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "dropped_total",
		Help:      "Audit events dropped because the buffer was full.",
	})
)

// RecordAdmission counts one admission decision.
func RecordAdmission(scope, outcome string) {
	admissionsTotal.WithLabelValues(scope, outcome).Inc()
}

// RecordStoreFailure counts one bucket store error (fail-open path).
func RecordStoreFailure() {
	storeFailuresTotal.Inc()
}

// RecordPenalty counts one applied tenant penalty.
func RecordPenalty() {
	penaltiesTotal.Inc()
}

// RecordBreakerTransition counts a transition and updates the state gauge.
func RecordBreakerTransition(tenant, to string, stateCode float64) {
	breakerTransitionsTotal.WithLabelValues(to).Inc()
	breakerState.WithLabelValues(tenant).Set(stateCode)
}

// RecordRetryAttempt counts one retry by category.
func RecordRetryAttempt(category string) {
	retryAttemptsTotal.WithLabelValues(category).Inc()
}

// SetHealthStatus updates the per-tenant health gauge.
func SetHealthStatus(tenant string, statusCode float64) {
	healthStatus.WithLabelValues(tenant).Set(statusCode)
}

// DropTenant removes per-tenant series after an idle purge.
func DropTenant(tenant string) {
	healthStatus.DeleteLabelValues(tenant)
	breakerState.DeleteLabelValues(tenant)
}

// SetActiveSessions updates the held-session gauge.
func SetActiveSessions(n int) {
	sessionsActive.Set(float64(n))
}

// RecordSessionAcquired counts one successful acquisition.
func RecordSessionAcquired() {
	sessionsAcquiredTotal.Inc()
}

// RecordSessionRejected counts one rejected acquisition.
func RecordSessionRejected(reason string) {
	sessionsRejectedTotal.WithLabelValues(reason).Inc()
}

// ObserveCallDuration records one guarded call's wall time.
func ObserveCallDuration(outcome string, d time.Duration) {
	callDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordAuditDropped counts one dropped audit event.
func RecordAuditDropped() {
	auditDroppedTotal.Inc()
}
