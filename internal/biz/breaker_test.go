package biz

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"GuardLane/internal/conf"

	"github.com/benbjohnson/clock"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"google.golang.org/protobuf/types/known/durationpb"
)

func testBreakerConfig() *conf.Guard_Breaker {
	return &conf.Guard_Breaker{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      durationpb.New(30 * time.Second),
	}
}

func newTestRegistry(clk clock.Clock) *BreakerRegistry {
	return NewBreakerRegistry(testBreakerConfig(), clk, log.NewStdLogger(os.Stdout))
}

func failingOp(context.Context) error { return errors.New("upstream down") }

func succeedingOp(context.Context) error { return nil }

// tripBreaker drives the breaker to open with consecutive failures.
func tripBreaker(t *testing.T, b *CircuitBreaker) {
	t.Helper()
	for i := 0; i < 3; i++ {
		_ = b.Call(context.Background(), failingOp)
	}
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", BreakerClosed.String())
	assert.Equal(t, "open", BreakerOpen.String())
	assert.Equal(t, "half_open", BreakerHalfOpen.String())
}

// Test breaker - Trips open at the failure threshold
func TestCircuitBreaker_OpensAtFailureThreshold(t *testing.T) {
	clk := clock.NewMock()
	b := newTestRegistry(clk).Get("orion")

	for i := 0; i < 2; i++ {
		err := b.Call(context.Background(), failingOp)
		assert.EqualError(t, err, "upstream down")
	}
	assert.Equal(t, BreakerClosed, b.State())

	_ = b.Call(context.Background(), failingOp)
	assert.Equal(t, BreakerOpen, b.State())
}

// Test breaker - A success while closed resets the failure streak
func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	clk := clock.NewMock()
	b := newTestRegistry(clk).Get("orion")

	_ = b.Call(context.Background(), failingOp)
	_ = b.Call(context.Background(), failingOp)
	_ = b.Call(context.Background(), succeedingOp)

	assert.Equal(t, 0, b.Snapshot().FailureCount)

	_ = b.Call(context.Background(), failingOp)
	_ = b.Call(context.Background(), failingOp)
	assert.Equal(t, BreakerClosed, b.State())

	_ = b.Call(context.Background(), failingOp)
	assert.Equal(t, BreakerOpen, b.State())
}

// Test breaker - Open state rejects without invoking the operation
func TestCircuitBreaker_OpenRejectsWithRetryAfter(t *testing.T) {
	clk := clock.NewMock()
	b := newTestRegistry(clk).Get("orion")
	tripBreaker(t, b)

	invoked := false
	err := b.Call(context.Background(), func(context.Context) error {
		invoked = true
		return nil
	})

	assert.False(t, invoked)
	var coe *CircuitOpenError
	assert.ErrorAs(t, err, &coe)
	assert.Equal(t, "orion", coe.Tenant)
	assert.Equal(t, 30*time.Second, coe.RetryAfter)

	clk.Add(10 * time.Second)
	err = b.Call(context.Background(), failingOp)
	assert.ErrorAs(t, err, &coe)
	assert.Equal(t, 20*time.Second, coe.RetryAfter)
}

// Test breaker - Rejections while open do not inflate the failure count
func TestCircuitBreaker_RejectionsNotCounted(t *testing.T) {
	clk := clock.NewMock()
	b := newTestRegistry(clk).Get("orion")
	tripBreaker(t, b)

	for i := 0; i < 5; i++ {
		_ = b.Call(context.Background(), failingOp)
	}
	assert.Equal(t, 3, b.Snapshot().FailureCount)
}

// Test breaker - Cool-down expiry moves to half-open and probes
func TestCircuitBreaker_HalfOpenProbeRecovery(t *testing.T) {
	clk := clock.NewMock()
	b := newTestRegistry(clk).Get("orion")
	tripBreaker(t, b)

	clk.Add(30 * time.Second)

	invoked := false
	err := b.Call(context.Background(), func(context.Context) error {
		invoked = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, invoked)
	assert.Equal(t, BreakerHalfOpen, b.State())

	// Second probe success reaches the threshold and closes the breaker.
	assert.NoError(t, b.Call(context.Background(), succeedingOp))
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 0, b.Snapshot().FailureCount)
}

// Test breaker - A failed probe reopens immediately with a fresh cool-down
func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	clk := clock.NewMock()
	b := newTestRegistry(clk).Get("orion")
	tripBreaker(t, b)

	clk.Add(30 * time.Second)
	err := b.Call(context.Background(), failingOp)
	assert.EqualError(t, err, "upstream down")
	assert.Equal(t, BreakerOpen, b.State())

	// The cool-down restarts from the reopen.
	var coe *CircuitOpenError
	err = b.Call(context.Background(), failingOp)
	assert.ErrorAs(t, err, &coe)
	assert.Equal(t, 30*time.Second, coe.RetryAfter)
}

// Test breaker - Context cancellation says nothing about upstream health
func TestCircuitBreaker_CanceledContextNotCounted(t *testing.T) {
	clk := clock.NewMock()
	b := newTestRegistry(clk).Get("orion")

	for i := 0; i < 5; i++ {
		_ = b.Call(context.Background(), func(context.Context) error {
			return context.Canceled
		})
	}

	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 0, b.Snapshot().FailureCount)
}

func TestCircuitBreaker_Snapshot(t *testing.T) {
	clk := clock.NewMock()
	b := newTestRegistry(clk).Get("orion")

	snap := b.Snapshot()
	assert.Equal(t, "orion", snap.Tenant)
	assert.Equal(t, BreakerClosed, snap.State)
	assert.Zero(t, snap.RetryAfter)

	tripBreaker(t, b)
	clk.Add(12 * time.Second)

	snap = b.Snapshot()
	assert.Equal(t, BreakerOpen, snap.State)
	assert.Equal(t, 18*time.Second, snap.RetryAfter)
	assert.Equal(t, 3, snap.FailureCount)

	// Past the cool-down the snapshot reports no wait; the transition itself
	// only happens on the next call.
	clk.Add(30 * time.Second)
	snap = b.Snapshot()
	assert.Equal(t, BreakerOpen, snap.State)
	assert.Zero(t, snap.RetryAfter)
}

func TestBreakerRegistry_GetReturnsSameInstance(t *testing.T) {
	registry := newTestRegistry(clock.NewMock())

	b1 := registry.Get("orion")
	b2 := registry.Get("orion")
	assert.Same(t, b1, b2)

	other := registry.Get("vega")
	assert.NotSame(t, b1, other)
}

func TestBreakerRegistry_Peek(t *testing.T) {
	registry := newTestRegistry(clock.NewMock())

	_, ok := registry.Peek("orion")
	assert.False(t, ok)

	registry.Get("orion")
	snap, ok := registry.Peek("orion")
	assert.True(t, ok)
	assert.Equal(t, BreakerClosed, snap.State)

	// Peek never creates breakers.
	_, ok = registry.Peek("ghost")
	assert.False(t, ok)
}

func TestBreakerRegistry_Reset(t *testing.T) {
	clk := clock.NewMock()
	registry := newTestRegistry(clk)

	assert.False(t, registry.Reset("unknown"))

	b := registry.Get("orion")
	tripBreaker(t, b)

	assert.True(t, registry.Reset("orion"))
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 0, b.Snapshot().FailureCount)

	// Resetting an already-closed breaker is a quiet no-op.
	assert.True(t, registry.Reset("orion"))
}

func TestBreakerRegistry_StatesSortedByTenant(t *testing.T) {
	registry := newTestRegistry(clock.NewMock())
	registry.Get("zeta")
	registry.Get("alpha")
	registry.Get("mira")

	states := registry.States()
	assert.Len(t, states, 3)
	assert.Equal(t, "alpha", states[0].Tenant)
	assert.Equal(t, "mira", states[1].Tenant)
	assert.Equal(t, "zeta", states[2].Tenant)
}

func TestBreakerRegistry_StateFilters(t *testing.T) {
	clk := clock.NewMock()
	registry := newTestRegistry(clk)

	tripBreaker(t, registry.Get("down"))
	registry.Get("fine")

	probing := registry.Get("probing")
	tripBreaker(t, probing)
	clk.Add(30 * time.Second)
	_ = probing.Call(context.Background(), succeedingOp)
	assert.Equal(t, BreakerHalfOpen, probing.State())

	// "down" has lapsed its cool-down too, but stays open until a call
	// touches it.
	open := registry.OpenBreakers()
	assert.Len(t, open, 1)
	assert.Equal(t, "down", open[0].Tenant)

	half := registry.HalfOpenBreakers()
	assert.Len(t, half, 1)
	assert.Equal(t, "probing", half[0].Tenant)
}

func TestBreakerRegistry_OnStateChange(t *testing.T) {
	clk := clock.NewMock()
	registry := newTestRegistry(clk)

	var changes []StateChange
	registry.OnStateChange(func(change StateChange) {
		changes = append(changes, change)
	})

	b := registry.Get("orion")
	tripBreaker(t, b)

	if assert.Len(t, changes, 1) {
		assert.Equal(t, "orion", changes[0].Tenant)
		assert.Equal(t, BreakerClosed, changes[0].From)
		assert.Equal(t, BreakerOpen, changes[0].To)
		assert.Equal(t, 3, changes[0].FailureCount)
		assert.Equal(t, clk.Now(), changes[0].OpenedAt)
	}

	clk.Add(30 * time.Second)
	_ = b.Call(context.Background(), succeedingOp)
	_ = b.Call(context.Background(), succeedingOp)

	if assert.Len(t, changes, 3) {
		assert.Equal(t, BreakerHalfOpen, changes[1].To)
		assert.Equal(t, BreakerClosed, changes[2].To)
		assert.Equal(t, BreakerHalfOpen, changes[2].From)
		assert.Equal(t, 2, changes[2].SuccessCount)
	}
}
