package model

import "time"

// HealthSnapshot is one persisted point of a tenant's health history.
type HealthSnapshot struct {
	Tenant              string
	Status              string
	TotalCalls          int64
	FailedCalls         int64
	ErrorRate           float64
	AvgLatencyMs        float64
	ConsecutiveFailures int
	RecordedAt          time.Time
}
