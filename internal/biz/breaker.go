package biz

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"GuardLane/internal/conf"

	"github.com/benbjohnson/clock"
	"github.com/go-kratos/kratos/v2/log"
)

// BreakerState is the circuit breaker state machine position.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String returns the snake_case name used in logs, metrics and API payloads.
func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// StateChange describes one breaker transition. FailureCount and
// SuccessCount are the counter values at the moment of the transition,
// before the reset. OpenedAt is when the breaker last opened, zero if never.
type StateChange struct {
	Tenant       string
	From         BreakerState
	To           BreakerState
	At           time.Time
	FailureCount int
	SuccessCount int
	OpenedAt     time.Time
}

// StateChangeHook observes breaker transitions. Hooks run outside the
// breaker lock and must not call back into the breaker.
type StateChangeHook func(change StateChange)

// BreakerSnapshot is a point-in-time view of one tenant's breaker.
// RetryAfter is the remaining cool-down when the breaker is open.
type BreakerSnapshot struct {
	Tenant       string
	State        BreakerState
	FailureCount int
	SuccessCount int
	OpenedAt     time.Time
	RetryAfter   time.Duration
}

// CircuitBreaker guards one tenant's upstream calls. Consecutive failures
// trip it open; after the open timeout a half-open phase lets probe calls
// through and the configured success streak closes it again.
//
// Rejections while open are not counted as failures, and a cancelled
// context is not counted either since it says nothing about upstream health.
type CircuitBreaker struct {
	tenant string
	cfg    *conf.Guard_Breaker
	clk    clock.Clock
	notify func(StateChange)

	mu           sync.Mutex
	state        BreakerState
	failureCount int
	successCount int
	openedAt     time.Time
}

func newCircuitBreaker(tenant string, cfg *conf.Guard_Breaker, clk clock.Clock, notify func(StateChange)) *CircuitBreaker {
	return &CircuitBreaker{
		tenant: tenant,
		cfg:    cfg,
		clk:    clk,
		notify: notify,
		state:  BreakerClosed,
	}
}

// Call runs op under the breaker. While open it returns *CircuitOpenError
// carrying the remaining cool-down without invoking op. An elapsed cool-down
// moves the breaker to half-open before op runs.
func (b *CircuitBreaker) Call(ctx context.Context, op func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := op(ctx)
	b.record(err)
	return err
}

// admit decides whether a call may proceed and handles the open->half-open
// timeout transition.
func (b *CircuitBreaker) admit() error {
	b.mu.Lock()

	if b.state == BreakerOpen {
		elapsed := b.clk.Now().Sub(b.openedAt)
		timeout := b.cfg.OpenTimeout.AsDuration()
		if elapsed < timeout {
			remaining := timeout - elapsed
			b.mu.Unlock()
			return &CircuitOpenError{Tenant: b.tenant, RetryAfter: remaining}
		}
		change := b.transitionTo(BreakerHalfOpen)
		b.mu.Unlock()
		b.fire(change)
		return nil
	}

	b.mu.Unlock()
	return nil
}

// record counts the call outcome. Context cancellation reflects the caller
// giving up, not upstream health, so it leaves the counters untouched.
func (b *CircuitBreaker) record(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		b.onFailure()
		return
	}
	b.onSuccess()
}

func (b *CircuitBreaker) onSuccess() {
	b.mu.Lock()
	var change *StateChange
	switch b.state {
	case BreakerHalfOpen:
		b.successCount++
		if b.successCount >= int(b.cfg.SuccessThreshold) {
			change = b.transitionTo(BreakerClosed)
		}
	case BreakerClosed:
		b.failureCount = 0
	}
	b.mu.Unlock()
	b.fire(change)
}

func (b *CircuitBreaker) onFailure() {
	b.mu.Lock()
	var change *StateChange
	switch b.state {
	case BreakerHalfOpen:
		// A failed probe reopens immediately.
		change = b.transitionTo(BreakerOpen)
	case BreakerClosed:
		b.failureCount++
		if b.failureCount >= int(b.cfg.FailureThreshold) {
			change = b.transitionTo(BreakerOpen)
		}
	}
	b.mu.Unlock()
	b.fire(change)
}

// transitionTo moves the state machine and resets the counters that belong
// to the state being left. Caller must hold b.mu.
func (b *CircuitBreaker) transitionTo(to BreakerState) *StateChange {
	change := &StateChange{
		Tenant:       b.tenant,
		From:         b.state,
		To:           to,
		At:           b.clk.Now(),
		FailureCount: b.failureCount,
		SuccessCount: b.successCount,
		OpenedAt:     b.openedAt,
	}

	b.state = to
	switch to {
	case BreakerOpen:
		b.openedAt = change.At
		change.OpenedAt = change.At
		b.successCount = 0
	case BreakerHalfOpen:
		b.successCount = 0
	case BreakerClosed:
		b.failureCount = 0
		b.successCount = 0
	}

	return change
}

func (b *CircuitBreaker) fire(change *StateChange) {
	if change == nil || b.notify == nil {
		return
	}
	b.notify(*change)
}

// State returns the current state without the timeout transition check.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a point-in-time view of the breaker.
func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := BreakerSnapshot{
		Tenant:       b.tenant,
		State:        b.state,
		FailureCount: b.failureCount,
		SuccessCount: b.successCount,
		OpenedAt:     b.openedAt,
	}
	if b.state == BreakerOpen {
		if remaining := b.cfg.OpenTimeout.AsDuration() - b.clk.Now().Sub(b.openedAt); remaining > 0 {
			snap.RetryAfter = remaining
		}
	}
	return snap
}

// forceState is the admin entry point behind registry Reset/Open/HalfOpen.
func (b *CircuitBreaker) forceState(to BreakerState) {
	b.mu.Lock()
	if b.state == to {
		b.mu.Unlock()
		return
	}
	change := b.transitionTo(to)
	b.mu.Unlock()
	b.fire(change)
}

// BreakerRegistry hands out one breaker per tenant and fans state changes
// out to registered hooks. Hooks must be registered before traffic starts.
type BreakerRegistry struct {
	cfg    *conf.Guard_Breaker
	clk    clock.Clock
	logger *log.Helper

	hookMu sync.Mutex
	hooks  []StateChangeHook

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry(cfg *conf.Guard_Breaker, clk clock.Clock, logger log.Logger) *BreakerRegistry {
	return &BreakerRegistry{
		cfg:      cfg,
		clk:      clk,
		logger:   log.NewHelper(logger),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// OnStateChange registers a transition hook.
func (r *BreakerRegistry) OnStateChange(hook StateChangeHook) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Get returns the tenant's breaker, creating it closed on first use.
func (r *BreakerRegistry) Get(tenant string) *CircuitBreaker {
	r.mu.RLock()
	b, ok := r.breakers[tenant]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[tenant]; ok {
		return b
	}
	b = newCircuitBreaker(tenant, r.cfg, r.clk, r.dispatch)
	r.breakers[tenant] = b
	return b
}

// Peek returns the tenant's breaker snapshot without creating one.
func (r *BreakerRegistry) Peek(tenant string) (BreakerSnapshot, bool) {
	r.mu.RLock()
	b, ok := r.breakers[tenant]
	r.mu.RUnlock()
	if !ok {
		return BreakerSnapshot{}, false
	}
	return b.Snapshot(), true
}

// Reset forces the tenant's breaker closed. Returns false when the tenant
// has no breaker yet.
func (r *BreakerRegistry) Reset(tenant string) bool {
	r.mu.RLock()
	b, ok := r.breakers[tenant]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	b.forceState(BreakerClosed)
	return true
}

// States returns snapshots for every known breaker, ordered by tenant.
func (r *BreakerRegistry) States() []BreakerSnapshot {
	r.mu.RLock()
	snaps := make([]BreakerSnapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		snaps = append(snaps, b.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Tenant < snaps[j].Tenant })
	return snaps
}

// OpenBreakers returns snapshots of breakers currently open.
func (r *BreakerRegistry) OpenBreakers() []BreakerSnapshot {
	return r.inState(BreakerOpen)
}

// HalfOpenBreakers returns snapshots of breakers currently probing.
func (r *BreakerRegistry) HalfOpenBreakers() []BreakerSnapshot {
	return r.inState(BreakerHalfOpen)
}

func (r *BreakerRegistry) inState(state BreakerState) []BreakerSnapshot {
	all := r.States()
	out := all[:0]
	for _, snap := range all {
		if snap.State == state {
			out = append(out, snap)
		}
	}
	return out
}

// dispatch logs the transition and fans it out to hooks, outside any
// breaker lock.
func (r *BreakerRegistry) dispatch(change StateChange) {
	switch change.To {
	case BreakerOpen:
		r.logger.Warnw("msg", "circuit breaker opened",
			"tenant", change.Tenant,
			"from", change.From.String(),
			"failure_count", change.FailureCount)
	case BreakerHalfOpen:
		r.logger.Infow("msg", "circuit breaker half-open, probing upstream",
			"tenant", change.Tenant)
	case BreakerClosed:
		r.logger.Infow("msg", "circuit breaker closed",
			"tenant", change.Tenant,
			"from", change.From.String())
	}

	r.hookMu.Lock()
	hooks := make([]StateChangeHook, len(r.hooks))
	copy(hooks, r.hooks)
	r.hookMu.Unlock()

	for _, hook := range hooks {
		hook(change)
	}
}
