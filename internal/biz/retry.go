package biz

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"GuardLane/internal/conf"
	"GuardLane/internal/metrics"

	"github.com/benbjohnson/clock"
	"github.com/go-kratos/kratos/v2/log"
)

// BackoffStrategy selects how retry delays grow across attempts.
type BackoffStrategy int

const (
	BackoffExponential BackoffStrategy = iota
	BackoffLinear
	BackoffFixed
	BackoffFibonacci
)

// String returns the configuration name of the strategy.
func (s BackoffStrategy) String() string {
	switch s {
	case BackoffLinear:
		return "linear"
	case BackoffFixed:
		return "fixed"
	case BackoffFibonacci:
		return "fibonacci"
	default:
		return "exponential"
	}
}

// ParseBackoffStrategy maps a configuration string to a strategy. Unknown
// values fall back to exponential; config validation rejects them upstream.
func ParseBackoffStrategy(s string) BackoffStrategy {
	switch s {
	case "linear":
		return BackoffLinear
	case "fixed":
		return BackoffFixed
	case "fibonacci":
		return BackoffFibonacci
	default:
		return BackoffExponential
	}
}

// Backoff computes retry delays. attempt is zero-based: the first retry
// waits Delay(0). With Jitter enabled each delay is scaled by a random
// factor in [0.75, 1.25]; the result is always clamped to [0, Max].
type Backoff struct {
	Strategy BackoffStrategy
	Base     time.Duration
	Max      time.Duration
	ExpBase  float64
	Jitter   bool

	randFloat func() float64
}

// NewBackoff builds a Backoff from configuration.
func NewBackoff(cfg *conf.Guard_Retry) *Backoff {
	return &Backoff{
		Strategy:  ParseBackoffStrategy(cfg.Strategy),
		Base:      cfg.BaseDelay.AsDuration(),
		Max:       cfg.MaxDelay.AsDuration(),
		ExpBase:   cfg.ExpBase,
		Jitter:    cfg.Jitter,
		randFloat: rand.Float64,
	}
}

// Delay returns the wait before retry number attempt.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	base := float64(b.Base)
	var d float64
	switch b.Strategy {
	case BackoffLinear:
		d = base * float64(attempt+1)
	case BackoffFixed:
		d = base
	case BackoffFibonacci:
		d = base * float64(fibonacci(attempt))
	default:
		d = base * math.Pow(b.ExpBase, float64(attempt))
	}

	if b.Jitter {
		rf := b.randFloat
		if rf == nil {
			rf = rand.Float64
		}
		d *= 0.75 + 0.5*rf()
	}

	// Clamp in float space so huge exponents cannot overflow the Duration.
	if max := float64(b.Max); b.Max > 0 && d > max {
		d = max
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// fibonacci returns the n-th element of 1, 1, 2, 3, 5, ...
func fibonacci(n int) int64 {
	a, b := int64(1), int64(1)
	for i := 0; i < n; i++ {
		a, b = b, a+b
	}
	return a
}

// Retrier re-runs an operation on retryable failures with per-category
// budgets: rate-limited, transient network and unknown errors each consume
// their own allowance. Permanent failures return immediately wrapped in
// *NonRetryableError, and local rejections (breaker, pool) are never retried
// here since the breaker wraps the whole retry loop.
type Retrier struct {
	cfg        *conf.Guard_Retry
	backoff    *Backoff
	classifier Classifier
	clk        clock.Clock
	logger     *log.Helper
}

// NewRetrier creates a retrier from configuration.
func NewRetrier(cfg *conf.Guard_Retry, classifier Classifier, clk clock.Clock, logger log.Logger) *Retrier {
	return &Retrier{
		cfg:        cfg,
		backoff:    NewBackoff(cfg),
		classifier: classifier,
		clk:        clk,
		logger:     log.NewHelper(logger),
	}
}

// Run executes op until it succeeds, exhausts its category's retry budget,
// or fails in a way retrying cannot fix. A rate-limited error carrying a
// server wait hint sleeps the hinted duration instead of the computed
// backoff.
func (r *Retrier) Run(ctx context.Context, op func(context.Context) error) error {
	used := make(map[ErrorCategory]int)

	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return err
		}

		cat := r.classifier.Classify(err)
		if cat == CategoryPermanent {
			return &NonRetryableError{Err: err}
		}
		if cat.IsLocal() {
			return err
		}
		if used[cat] >= r.budgetFor(cat) {
			return err
		}
		used[cat]++
		metrics.RecordRetryAttempt(cat.String())

		delay := r.backoff.Delay(attempt)
		if cat == CategoryRateLimited {
			if hint := RetryAfterHint(err); hint > 0 {
				delay = hint
			}
		}

		r.logger.Debugw("msg", "retrying after failure",
			"category", cat.String(),
			"attempt", used[cat],
			"delay", delay.String(),
			"error", err.Error())

		if werr := r.sleep(ctx, delay); werr != nil {
			return werr
		}
	}
}

// budgetFor returns the retry allowance for a category.
func (r *Retrier) budgetFor(cat ErrorCategory) int {
	switch cat {
	case CategoryRateLimited:
		return int(r.cfg.RateLimitedRetries)
	case CategoryTransientNetwork:
		return int(r.cfg.TransientRetries)
	default:
		return int(r.cfg.UnknownRetries)
	}
}

// sleep waits d or until the context ends, whichever comes first.
func (r *Retrier) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := r.clk.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
