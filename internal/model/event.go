package model

import "time"

// BreakerOpenedEvent represents a circuit breaker tripping open for a tenant
type BreakerOpenedEvent struct {
	Tenant       string
	FailureCount int
	OpenedAt     time.Time
}

// BreakerRecoveredEvent represents a circuit breaker closing again after
// successful half-open probes
type BreakerRecoveredEvent struct {
	Tenant         string
	ProbeSuccesses int
	OpenFor        time.Duration
}
