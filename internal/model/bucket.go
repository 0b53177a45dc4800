package model

import "time"

// BucketSpec describes one token bucket scope: its capacity and steady-state
// refill rate in tokens per second.
type BucketSpec struct {
	Capacity   int
	RefillRate float64
}

// BucketView is a read-only snapshot of one scope's bucket.
type BucketView struct {
	Scope      string
	Tokens     float64
	Capacity   int
	RefillRate float64
}

// AdmitResult reports the outcome of a two-scope admission attempt.
// When Allowed is false, DeniedScope names the scope that ran dry ("global"
// or the tenant) and RetryAfter is the wait until that scope can cover the
// request at its refill rate.
type AdmitResult struct {
	Allowed     bool
	DeniedScope string
	RetryAfter  time.Duration
	Global      BucketView
	Tenant      BucketView
}
