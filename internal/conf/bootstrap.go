// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with GUARDLANE_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Required environment variables:
//   - MYSQL_DSN or GUARDLANE_DATA_DATABASE_SOURCE: MySQL connection string
//   - ENCRYPTION_KEY or GUARDLANE_SECURITY_ENCRYPTION_KEY: credential encryption key
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Enable environment variable support with GUARDLANE_ prefix
	v.SetEnvPrefix("GUARDLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names (without GUARDLANE_ prefix) for compatibility
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "GUARDLANE_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "GUARDLANE_DATA_REDIS_ADDR")
	_ = v.BindEnv("security.encryption.key", "ENCRYPTION_KEY", "GUARDLANE_SECURITY_ENCRYPTION_KEY")

	// Load configuration file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// If config file is specified but not found, return error
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	// Parse configuration into Bootstrap structure
	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Security: &Security{
			Encryption: &Security_Encryption{
				Key: v.GetString("security.encryption.key"),
			},
		},
		Guard: &Guard{
			Ratelimit: &Guard_RateLimit{
				Store: v.GetString("guard.ratelimit.store"),
				Global: &Guard_Bucket{
					Capacity:   v.GetInt32("guard.ratelimit.global.capacity"),
					RefillRate: v.GetFloat64("guard.ratelimit.global.refill_rate"),
				},
				Tenant: &Guard_Bucket{
					Capacity:   v.GetInt32("guard.ratelimit.tenant.capacity"),
					RefillRate: v.GetFloat64("guard.ratelimit.tenant.refill_rate"),
				},
				MaxWait: durationpb.New(v.GetDuration("guard.ratelimit.max_wait")),
				IdleTtl: durationpb.New(v.GetDuration("guard.ratelimit.idle_ttl")),
			},
			Breaker: &Guard_Breaker{
				FailureThreshold: v.GetInt32("guard.breaker.failure_threshold"),
				SuccessThreshold: v.GetInt32("guard.breaker.success_threshold"),
				OpenTimeout:      durationpb.New(v.GetDuration("guard.breaker.open_timeout")),
			},
			Retry: &Guard_Retry{
				Strategy:           v.GetString("guard.retry.strategy"),
				BaseDelay:          durationpb.New(v.GetDuration("guard.retry.base_delay")),
				MaxDelay:           durationpb.New(v.GetDuration("guard.retry.max_delay")),
				ExpBase:            v.GetFloat64("guard.retry.exp_base"),
				Jitter:             v.GetBool("guard.retry.jitter"),
				RateLimitedRetries: v.GetInt32("guard.retry.rate_limited_retries"),
				TransientRetries:   v.GetInt32("guard.retry.transient_retries"),
				UnknownRetries:     v.GetInt32("guard.retry.unknown_retries"),
			},
			Health: &Guard_Health{
				WarningErrorRate:       v.GetFloat64("guard.health.warning_error_rate"),
				CriticalErrorRate:      v.GetFloat64("guard.health.critical_error_rate"),
				MaxConsecutiveFailures: v.GetInt32("guard.health.max_consecutive_failures"),
				WarningLatency:         durationpb.New(v.GetDuration("guard.health.warning_latency")),
				CriticalLatency:        durationpb.New(v.GetDuration("guard.health.critical_latency")),
			},
			Sessions: &Guard_Sessions{
				MaxTotal:       v.GetInt32("guard.sessions.max_total"),
				AcquireTimeout: durationpb.New(v.GetDuration("guard.sessions.acquire_timeout")),
				SessionTimeout: durationpb.New(v.GetDuration("guard.sessions.session_timeout")),
				HistorySize:    v.GetInt32("guard.sessions.history_size"),
			},
			SweepInterval:    durationpb.New(v.GetDuration("guard.sweep_interval")),
			SnapshotInterval: durationpb.New(v.GetDuration("guard.snapshot_interval")),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	// Validate required fields
	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 30*time.Second)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is required from environment

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Security defaults
	// Note: security.encryption.key (ENCRYPTION_KEY) is required from environment

	// Guard defaults
	v.SetDefault("guard.ratelimit.store", "memory")
	v.SetDefault("guard.ratelimit.global.capacity", 100)
	v.SetDefault("guard.ratelimit.global.refill_rate", 50.0)
	v.SetDefault("guard.ratelimit.tenant.capacity", 10)
	v.SetDefault("guard.ratelimit.tenant.refill_rate", 5.0)
	v.SetDefault("guard.ratelimit.max_wait", 2*time.Second)
	v.SetDefault("guard.ratelimit.idle_ttl", 30*time.Minute)

	v.SetDefault("guard.breaker.failure_threshold", 5)
	v.SetDefault("guard.breaker.success_threshold", 2)
	v.SetDefault("guard.breaker.open_timeout", 60*time.Second)

	v.SetDefault("guard.retry.strategy", "exponential")
	v.SetDefault("guard.retry.base_delay", 500*time.Millisecond)
	v.SetDefault("guard.retry.max_delay", 30*time.Second)
	v.SetDefault("guard.retry.exp_base", 2.0)
	v.SetDefault("guard.retry.jitter", true)
	v.SetDefault("guard.retry.rate_limited_retries", 3)
	v.SetDefault("guard.retry.transient_retries", 2)
	v.SetDefault("guard.retry.unknown_retries", 2)

	v.SetDefault("guard.health.warning_error_rate", 0.25)
	v.SetDefault("guard.health.critical_error_rate", 0.5)
	v.SetDefault("guard.health.max_consecutive_failures", 5)
	v.SetDefault("guard.health.warning_latency", 2*time.Second)
	v.SetDefault("guard.health.critical_latency", 5*time.Second)

	v.SetDefault("guard.sessions.max_total", 50)
	v.SetDefault("guard.sessions.acquire_timeout", 5*time.Second)
	v.SetDefault("guard.sessions.session_timeout", 10*time.Minute)
	v.SetDefault("guard.sessions.history_size", 100)

	v.SetDefault("guard.sweep_interval", time.Minute)
	v.SetDefault("guard.snapshot_interval", 5*time.Minute)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all missing or invalid fields.
func Validate(bc *Bootstrap) error {
	var badFields []string

	// Check required database configuration
	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		badFields = append(badFields, "data.database.source (MYSQL_DSN)")
	}

	// Check required encryption configuration
	if bc.Security == nil || bc.Security.Encryption == nil || bc.Security.Encryption.Key == "" {
		badFields = append(badFields, "security.encryption.key (ENCRYPTION_KEY)")
	}

	if g := bc.Guard; g != nil {
		if g.Ratelimit != nil {
			switch g.Ratelimit.Store {
			case "memory", "redis":
			default:
				badFields = append(badFields, "guard.ratelimit.store (must be memory or redis)")
			}
			if g.Ratelimit.Global != nil && (g.Ratelimit.Global.Capacity <= 0 || g.Ratelimit.Global.RefillRate <= 0) {
				badFields = append(badFields, "guard.ratelimit.global (capacity and refill_rate must be > 0)")
			}
			if g.Ratelimit.Tenant != nil && (g.Ratelimit.Tenant.Capacity <= 0 || g.Ratelimit.Tenant.RefillRate <= 0) {
				badFields = append(badFields, "guard.ratelimit.tenant (capacity and refill_rate must be > 0)")
			}
		}
		if g.Breaker != nil && (g.Breaker.FailureThreshold <= 0 || g.Breaker.SuccessThreshold <= 0) {
			badFields = append(badFields, "guard.breaker (thresholds must be > 0)")
		}
		if g.Retry != nil {
			switch g.Retry.Strategy {
			case "exponential", "linear", "fixed", "fibonacci":
			default:
				badFields = append(badFields, "guard.retry.strategy (must be exponential, linear, fixed or fibonacci)")
			}
		}
		if g.Health != nil && g.Health.WarningErrorRate > g.Health.CriticalErrorRate {
			badFields = append(badFields, "guard.health (warning_error_rate must not exceed critical_error_rate)")
		}
		if g.Sessions != nil && g.Sessions.MaxTotal <= 0 {
			badFields = append(badFields, "guard.sessions.max_total (must be > 0)")
		}
	}

	if len(badFields) > 0 {
		return fmt.Errorf("missing or invalid configuration fields: %s", strings.Join(badFields, ", "))
	}

	return nil
}
