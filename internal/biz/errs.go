package biz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	kerrors "github.com/go-kratos/kratos/v2/errors"
)

// ErrorCategory classifies call outcomes for retry and health decisions.
// RateLimited, TransientNetwork, Permanent and Unknown describe upstream
// failures; CircuitOpen and PoolExhausted are local rejections that never
// reach the upstream.
type ErrorCategory int

const (
	CategoryUnknown ErrorCategory = iota
	CategoryRateLimited
	CategoryTransientNetwork
	CategoryPermanent
	CategoryCircuitOpen
	CategoryPoolExhausted
)

// String returns the snake_case name used in logs, metrics and audit records.
func (c ErrorCategory) String() string {
	switch c {
	case CategoryRateLimited:
		return "rate_limited"
	case CategoryTransientNetwork:
		return "transient_network"
	case CategoryPermanent:
		return "permanent"
	case CategoryCircuitOpen:
		return "circuit_open"
	case CategoryPoolExhausted:
		return "pool_exhausted"
	default:
		return "unknown"
	}
}

// IsLocal reports whether the category is a local rejection rather than an
// upstream outcome. Local rejections are not recorded in tenant health.
func (c ErrorCategory) IsLocal() bool {
	return c == CategoryCircuitOpen || c == CategoryPoolExhausted
}

// ThrottledError is returned when the local rate limiter denies admission.
type ThrottledError struct {
	Scope      string // "global" or the tenant name
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *ThrottledError) Error() string {
	return fmt.Sprintf("throttled: scope=%s retry_after=%s", e.Scope, e.RetryAfter)
}

// RateLimitedError marks an upstream rate-limit response. RetryAfter carries
// the server-specified wait when the upstream provided one, zero otherwise.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rate limited by upstream (retry_after=%s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited by upstream (retry_after=%s)", e.RetryAfter)
}

// Unwrap returns the underlying error.
func (e *RateLimitedError) Unwrap() error { return e.Err }

// TransientError marks a failure worth retrying (timeouts, 5xx-equivalents).
type TransientError struct {
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string { return fmt.Sprintf("transient failure: %v", e.Err) }

// Unwrap returns the underlying error.
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure retrying cannot fix (auth failure, banned or
// deactivated identity).
type PermanentError struct {
	Err error
}

// Error implements the error interface.
func (e *PermanentError) Error() string { return fmt.Sprintf("permanent failure: %v", e.Err) }

// Unwrap returns the underlying error.
func (e *PermanentError) Unwrap() error { return e.Err }

// CircuitOpenError is returned when a tenant's breaker rejects a call without
// reaching the upstream. RetryAfter is the remaining cool-down.
type CircuitOpenError struct {
	Tenant     string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for tenant %s: retry in %s", e.Tenant, e.RetryAfter)
}

// PoolExhaustedError is returned when no session permit became available
// within the acquire timeout.
type PoolExhaustedError struct {
	Tenant   string
	MaxTotal int64
}

// Error implements the error interface.
func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("session pool exhausted for tenant %s (max_total=%d)", e.Tenant, e.MaxTotal)
}

// SessionActiveError is returned when a tenant already holds an open session.
type SessionActiveError struct {
	Tenant string
}

// Error implements the error interface.
func (e *SessionActiveError) Error() string {
	return fmt.Sprintf("tenant %s already holds an open session", e.Tenant)
}

// NonRetryableError wraps a Permanent-classified failure surfaced with zero
// retries so callers can distinguish it from an exhausted retry budget.
type NonRetryableError struct {
	Err error
}

// Error implements the error interface.
func (e *NonRetryableError) Error() string { return fmt.Sprintf("non-retryable: %v", e.Err) }

// Unwrap returns the underlying error.
func (e *NonRetryableError) Unwrap() error { return e.Err }

// IsCircuitOpen reports whether err is a breaker rejection.
func IsCircuitOpen(err error) bool {
	var coe *CircuitOpenError
	return errors.As(err, &coe)
}

// IsThrottled reports whether err is a local rate-limit denial.
func IsThrottled(err error) bool {
	var te *ThrottledError
	return errors.As(err, &te)
}

// Classifier assigns an ErrorCategory to an operation error.
// Implementations must be safe for concurrent use.
type Classifier interface {
	Classify(err error) ErrorCategory
}

// TypedClassifier classifies via the taxonomy types and kratos error codes.
// This is the primary classification path; untyped errors fall through as
// CategoryUnknown so a fallback classifier can inspect them.
type TypedClassifier struct{}

// Classify implements Classifier.
func (TypedClassifier) Classify(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}

	var (
		coe *CircuitOpenError
		pee *PoolExhaustedError
		rle *RateLimitedError
		tre *TransientError
		pme *PermanentError
	)
	switch {
	case errors.As(err, &coe):
		return CategoryCircuitOpen
	case errors.As(err, &pee):
		return CategoryPoolExhausted
	case errors.As(err, &rle):
		return CategoryRateLimited
	case errors.As(err, &tre):
		return CategoryTransientNetwork
	case errors.As(err, &pme):
		return CategoryPermanent
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransientNetwork
	}

	// Kratos errors carry HTTP-shaped codes
	var ke *kerrors.Error
	if errors.As(err, &ke) {
		switch ke.Code {
		case 429:
			return CategoryRateLimited
		case 408, 500, 502, 503, 504:
			return CategoryTransientNetwork
		case 401, 403:
			return CategoryPermanent
		}
	}

	return CategoryUnknown
}

// KeywordClassifier is the fallback adapter for legacy untyped errors. It
// matches well-known substrings in the error text, case-insensitively.
// Typed classification should always be preferred; this exists so errors from
// clients outside our control still land in a sensible category.
type KeywordClassifier struct{}

var (
	rateLimitKeywords = []string{
		"rate limit",
		"too many requests",
		"429",
		"quota exceeded",
		"overloaded",
	}
	permanentKeywords = []string{
		"unauthorized",
		"forbidden",
		"invalid api key",
		"account deactivated",
		"account disabled",
		"banned",
		"401",
		"403",
	}
	transientKeywords = []string{
		"timeout",
		"timed out",
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"connection lost",
		"can't connect",
		"dial tcp",
		"eof",
		"bad gateway",
		"service unavailable",
		"502",
		"503",
		"504",
	}
)

// Classify implements Classifier.
func (KeywordClassifier) Classify(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}

	msg := strings.ToLower(err.Error())

	for _, kw := range rateLimitKeywords {
		if strings.Contains(msg, kw) {
			return CategoryRateLimited
		}
	}
	for _, kw := range permanentKeywords {
		if strings.Contains(msg, kw) {
			return CategoryPermanent
		}
	}
	for _, kw := range transientKeywords {
		if strings.Contains(msg, kw) {
			return CategoryTransientNetwork
		}
	}

	return CategoryUnknown
}

// ChainClassifier tries each classifier in order and returns the first
// category that is not CategoryUnknown.
type ChainClassifier []Classifier

// Classify implements Classifier.
func (c ChainClassifier) Classify(err error) ErrorCategory {
	for _, cl := range c {
		if cat := cl.Classify(err); cat != CategoryUnknown {
			return cat
		}
	}
	return CategoryUnknown
}

// NewDefaultClassifier returns the standard chain: typed classification first,
// keyword matching as the legacy fallback.
func NewDefaultClassifier() Classifier {
	return ChainClassifier{TypedClassifier{}, KeywordClassifier{}}
}

// RetryAfterHint extracts a server wait hint from a rate-limited error chain.
// Returns zero when the error carries no hint.
func RetryAfterHint(err error) time.Duration {
	var rle *RateLimitedError
	if errors.As(err, &rle) {
		return rle.RetryAfter
	}
	return 0
}
