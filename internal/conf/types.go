package conf

import (
	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap is the top-level configuration for the GuardLane service.
type Bootstrap struct {
	Server   *Server
	Data     *Data
	Security *Security
	Guard    *Guard
	Log      *Log
}

// Server holds transport server configuration.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP holds HTTP server configuration.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds data layer configuration (MySQL, Redis).
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
}

// Data_Database holds database connection configuration.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis holds Redis connection configuration.
type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Security holds security-related configuration.
type Security struct {
	Encryption *Security_Encryption
}

// Security_Encryption holds the at-rest encryption key for tenant credentials.
type Security_Encryption struct {
	Key string
}

// Guard holds the admission-control and resilience configuration.
type Guard struct {
	Ratelimit        *Guard_RateLimit
	Breaker          *Guard_Breaker
	Retry            *Guard_Retry
	Health           *Guard_Health
	Sessions         *Guard_Sessions
	SweepInterval    *durationpb.Duration
	SnapshotInterval *durationpb.Duration
}

// Guard_RateLimit holds token bucket configuration for both scopes.
type Guard_RateLimit struct {
	// Store selects the bucket backend: "memory" (single process) or "redis"
	// (shared across processes).
	Store   string
	Global  *Guard_Bucket
	Tenant  *Guard_Bucket
	MaxWait *durationpb.Duration
	IdleTtl *durationpb.Duration
}

// Guard_Bucket holds one token bucket's capacity and refill rate (tokens/sec).
type Guard_Bucket struct {
	Capacity   int32
	RefillRate float64
}

// Guard_Breaker holds circuit breaker thresholds.
type Guard_Breaker struct {
	FailureThreshold int32
	SuccessThreshold int32
	OpenTimeout      *durationpb.Duration
}

// Guard_Retry holds backoff configuration and per-category retry budgets.
type Guard_Retry struct {
	Strategy           string
	BaseDelay          *durationpb.Duration
	MaxDelay           *durationpb.Duration
	ExpBase            float64
	Jitter             bool
	RateLimitedRetries int32
	TransientRetries   int32
	UnknownRetries     int32
}

// Guard_Health holds health status evaluation thresholds.
type Guard_Health struct {
	WarningErrorRate       float64
	CriticalErrorRate      float64
	MaxConsecutiveFailures int32
	WarningLatency         *durationpb.Duration
	CriticalLatency        *durationpb.Duration
}

// Guard_Sessions holds session pool configuration.
type Guard_Sessions struct {
	MaxTotal       int32
	AcquireTimeout *durationpb.Duration
	SessionTimeout *durationpb.Duration
	HistorySize    int32
}

// Log holds logging configuration.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}
