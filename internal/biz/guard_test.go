package biz

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"GuardLane/internal/conf"
	"GuardLane/internal/model"

	"github.com/benbjohnson/clock"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockAuditLogger is a mock implementation of AuditLogger
type MockAuditLogger struct {
	mock.Mock
}

func (m *MockAuditLogger) LogBreakerOpened(ctx context.Context, tenant string, failureCount int, openedAt time.Time) {
	m.Called(ctx, tenant, failureCount, openedAt)
}

func (m *MockAuditLogger) LogBreakerRecovered(ctx context.Context, tenant string, probeSuccesses int, openFor time.Duration) {
	m.Called(ctx, tenant, probeSuccesses, openFor)
}

func (m *MockAuditLogger) LogBreakerReset(ctx context.Context, tenant string) {
	m.Called(ctx, tenant)
}

func (m *MockAuditLogger) LogTenantSuspended(ctx context.Context, tenant, reason string) {
	m.Called(ctx, tenant, reason)
}

func (m *MockAuditLogger) LogTenantResumed(ctx context.Context, tenant string) {
	m.Called(ctx, tenant)
}

func (m *MockAuditLogger) LogSessionForceReleased(ctx context.Context, tenant, sessionID string, heldFor time.Duration) {
	m.Called(ctx, tenant, sessionID, heldFor)
}

func (m *MockAuditLogger) LogTenantChange(ctx context.Context, eventType, tenant, detail string) {
	m.Called(ctx, eventType, tenant, detail)
}

// MockAlertNotifier is a mock implementation of AlertNotifier
type MockAlertNotifier struct {
	mock.Mock
}

func (m *MockAlertNotifier) NotifyBreakerOpened(ctx context.Context, event *model.BreakerOpenedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockAlertNotifier) NotifyBreakerRecovered(ctx context.Context, event *model.BreakerRecoveredEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// MockSnapshotRepo is a mock implementation of SnapshotRepo
type MockSnapshotRepo struct {
	mock.Mock
}

func (m *MockSnapshotRepo) StoreSnapshot(ctx context.Context, snap *model.HealthSnapshot) error {
	args := m.Called(ctx, snap)
	return args.Error(0)
}

func (m *MockSnapshotRepo) LoadHistory(ctx context.Context, tenant string, since time.Time) ([]*model.HealthSnapshot, error) {
	args := m.Called(ctx, tenant, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.HealthSnapshot), args.Error(1)
}

// guardHarness wires a GuardUseCase over mocks and real in-memory components.
type guardHarness struct {
	uc        *GuardUseCase
	repo      *MockBucketRepo
	audit     *MockAuditLogger
	alerts    *MockAlertNotifier
	snapshots *MockSnapshotRepo
	clk       *clock.Mock
	limiter   *RateLimiterUseCase
	breakers  *BreakerRegistry
	health    *HealthMonitor
	pool      *SessionPool
}

func newGuardHarness() *guardHarness {
	return newGuardHarnessWithRetry(testRetryConfig())
}

func newGuardHarnessWithRetry(retryCfg *conf.Guard_Retry) *guardHarness {
	clk := clock.NewMock()
	logger := log.NewStdLogger(os.Stdout)

	h := &guardHarness{
		repo:      new(MockBucketRepo),
		audit:     new(MockAuditLogger),
		alerts:    new(MockAlertNotifier),
		snapshots: new(MockSnapshotRepo),
		clk:       clk,
	}
	h.limiter = NewRateLimiterUseCase(h.repo, nil, testRateLimitConfig(), logger)
	h.breakers = NewBreakerRegistry(testBreakerConfig(), clk, logger)
	h.health = NewHealthMonitor(testHealthConfig(), clk, logger)
	h.pool = NewSessionPool(testSessionConfig(), clk, logger)
	retrier := NewRetrier(retryCfg, NewDefaultClassifier(), clk, logger)

	h.uc = NewGuardUseCase(h.limiter, h.breakers, retrier, h.health, h.pool,
		NewDefaultClassifier(), h.audit, h.alerts, h.snapshots, clk, logger)
	return h
}

func (h *guardHarness) allowAdmission() {
	h.repo.On("Admit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, 1).
		Return(&model.AdmitResult{Allowed: true}, nil)
}

// expectBreakerOpened registers the audit and alert expectations for one trip.
func (h *guardHarness) expectBreakerOpened(tenant string, failures int) {
	h.audit.On("LogBreakerOpened", mock.Anything, tenant, failures, mock.Anything).Return()
	h.alerts.On("NotifyBreakerOpened", mock.Anything, mock.MatchedBy(func(e *model.BreakerOpenedEvent) bool {
		return e.Tenant == tenant && e.FailureCount == failures
	})).Return(nil)
}

// Test Do - Success records tenant health
func TestGuardDo_Success(t *testing.T) {
	h := newGuardHarness()
	h.allowAdmission()

	calls := 0
	err := h.uc.Do(context.Background(), "orion", func(context.Context) error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)

	hm, ok := h.uc.TenantHealth("orion")
	assert.True(t, ok)
	assert.Equal(t, int64(1), hm.TotalCalls)
	assert.Equal(t, int64(1), hm.SuccessCalls)
	h.repo.AssertExpectations(t)
}

// Test Do - Denial beyond the wait bound returns without running the op
func TestGuardDo_ThrottledBeyondMaxWait(t *testing.T) {
	h := newGuardHarness()
	h.repo.On("Admit", mock.Anything, "orion", mock.Anything, mock.Anything, 1).Return(&model.AdmitResult{
		Allowed:     false,
		DeniedScope: "orion",
		RetryAfter:  5 * time.Second,
	}, nil)

	invoked := false
	err := h.uc.Do(context.Background(), "orion", func(context.Context) error {
		invoked = true
		return nil
	})

	assert.False(t, invoked)
	var te *ThrottledError
	assert.ErrorAs(t, err, &te)
	assert.Equal(t, 5*time.Second, te.RetryAfter)

	// A local throttle is not a tenant health event.
	_, ok := h.uc.TenantHealth("orion")
	assert.False(t, ok)
	h.repo.AssertNumberOfCalls(t, "Admit", 1)
}

// Test Do - A denial within the bound is waited out once and re-tried
func TestGuardDo_BoundedWaitThenAdmitted(t *testing.T) {
	h := newGuardHarness()
	h.repo.On("Admit", mock.Anything, "orion", mock.Anything, mock.Anything, 1).Return(&model.AdmitResult{
		Allowed:     false,
		DeniedScope: "global",
	}, nil).Once()
	h.repo.On("Admit", mock.Anything, "orion", mock.Anything, mock.Anything, 1).Return(&model.AdmitResult{
		Allowed: true,
	}, nil).Once()

	err := h.uc.Do(context.Background(), "orion", func(context.Context) error { return nil })

	assert.NoError(t, err)
	h.repo.AssertNumberOfCalls(t, "Admit", 2)

	hm, _ := h.uc.TenantHealth("orion")
	assert.Equal(t, int64(1), hm.SuccessCalls)
}

// Test Do - A second denial after the wait is final
func TestGuardDo_SecondDenialFinal(t *testing.T) {
	h := newGuardHarness()
	h.repo.On("Admit", mock.Anything, "orion", mock.Anything, mock.Anything, 1).Return(&model.AdmitResult{
		Allowed:     false,
		DeniedScope: "global",
	}, nil)

	err := h.uc.Do(context.Background(), "orion", func(context.Context) error { return nil })

	var te *ThrottledError
	assert.ErrorAs(t, err, &te)
	h.repo.AssertNumberOfCalls(t, "Admit", 2)
}

// Test Do - Failure is classified and recorded
func TestGuardDo_FailureRecordsHealth(t *testing.T) {
	h := newGuardHarness()
	h.allowAdmission()

	err := h.uc.Do(context.Background(), "orion", func(context.Context) error {
		return &PermanentError{Err: errors.New("invalid api key")}
	})

	var nre *NonRetryableError
	assert.ErrorAs(t, err, &nre)

	hm, ok := h.uc.TenantHealth("orion")
	assert.True(t, ok)
	assert.Equal(t, int64(1), hm.FailedCalls)
	assert.Equal(t, "permanent", hm.LastErrorType)
}

// Test Do - Transient failures are retried inside the breaker
func TestGuardDo_RetriesThenSuccess(t *testing.T) {
	h := newGuardHarness()
	h.allowAdmission()

	calls := 0
	err := h.uc.Do(context.Background(), "orion", func(context.Context) error {
		calls++
		if calls == 1 {
			return &TransientError{Err: errors.New("connection reset")}
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, calls)

	// The retried failure never reached the breaker or the health monitor.
	snap, _ := h.uc.BreakerState("orion")
	assert.Equal(t, 0, snap.FailureCount)
	hm, _ := h.uc.TenantHealth("orion")
	assert.Equal(t, int64(0), hm.FailedCalls)
}

// Test Do - Repeated failures trip the breaker, which audits and alerts
func TestGuardDo_BreakerTripsAndRejects(t *testing.T) {
	h := newGuardHarness()
	h.allowAdmission()
	h.expectBreakerOpened("orion", 3)

	failing := func(context.Context) error {
		return &PermanentError{Err: errors.New("key revoked")}
	}

	calls := 0
	for i := 0; i < 3; i++ {
		err := h.uc.Do(context.Background(), "orion", func(ctx context.Context) error {
			calls++
			return failing(ctx)
		})
		assert.Error(t, err)
	}
	assert.Equal(t, 3, calls)

	snap, _ := h.uc.BreakerState("orion")
	assert.Equal(t, BreakerOpen, snap.State)

	// The open breaker rejects without invoking the op or touching health.
	err := h.uc.Do(context.Background(), "orion", func(context.Context) error {
		calls++
		return nil
	})
	var coe *CircuitOpenError
	assert.ErrorAs(t, err, &coe)
	assert.Equal(t, 3, calls)

	hm, _ := h.uc.TenantHealth("orion")
	assert.Equal(t, int64(3), hm.FailedCalls)

	h.audit.AssertExpectations(t)
	h.alerts.AssertExpectations(t)
}

// Test Do - Recovery through half-open audits and alerts with the open span
func TestGuardDo_BreakerRecovery(t *testing.T) {
	h := newGuardHarness()
	h.allowAdmission()
	h.expectBreakerOpened("orion", 3)
	h.audit.On("LogBreakerRecovered", mock.Anything, "orion", 2, 30*time.Second).Return()
	h.alerts.On("NotifyBreakerRecovered", mock.Anything, mock.MatchedBy(func(e *model.BreakerRecoveredEvent) bool {
		return e.Tenant == "orion" && e.ProbeSuccesses == 2 && e.OpenFor == 30*time.Second
	})).Return(nil)

	for i := 0; i < 3; i++ {
		_ = h.uc.Do(context.Background(), "orion", func(context.Context) error {
			return &PermanentError{Err: errors.New("key revoked")}
		})
	}

	h.clk.Add(30 * time.Second)
	for i := 0; i < 2; i++ {
		err := h.uc.Do(context.Background(), "orion", func(context.Context) error { return nil })
		assert.NoError(t, err)
	}

	snap, _ := h.uc.BreakerState("orion")
	assert.Equal(t, BreakerClosed, snap.State)

	h.audit.AssertExpectations(t)
	h.alerts.AssertExpectations(t)
}

// Test Do - An upstream rate limit with a hint penalizes the tenant bucket
func TestGuardDo_RateLimitHintPenalizes(t *testing.T) {
	retryCfg := testRetryConfig()
	retryCfg.RateLimitedRetries = 0
	h := newGuardHarnessWithRetry(retryCfg)
	h.allowAdmission()
	h.repo.On("Penalize", mock.Anything, "orion", 5*time.Second).Return(nil)

	err := h.uc.Do(context.Background(), "orion", func(context.Context) error {
		return &RateLimitedError{RetryAfter: 5 * time.Second}
	})

	var rle *RateLimitedError
	assert.ErrorAs(t, err, &rle)

	hm, _ := h.uc.TenantHealth("orion")
	assert.Equal(t, int64(1), hm.FailedCalls)
	assert.True(t, hm.RateLimited)
	assert.Equal(t, "rate_limited", hm.LastErrorType)
	h.repo.AssertExpectations(t)
}

// Test Do - Caller cancellation is not a tenant health event
func TestGuardDo_CanceledNotRecorded(t *testing.T) {
	h := newGuardHarness()
	h.allowAdmission()

	err := h.uc.Do(context.Background(), "orion", func(context.Context) error {
		return context.Canceled
	})

	assert.ErrorIs(t, err, context.Canceled)
	_, ok := h.uc.TenantHealth("orion")
	assert.False(t, ok)

	snap, _ := h.uc.BreakerState("orion")
	assert.Equal(t, 0, snap.FailureCount)
}

// Test DoWithSession - The session brackets the guarded call
func TestGuardDoWithSession(t *testing.T) {
	h := newGuardHarness()
	h.allowAdmission()

	err := h.uc.DoWithSession(context.Background(), "orion", func(ctx context.Context, s *Session) error {
		assert.NotEmpty(t, s.ID)
		s.AddMessage()
		return nil
	})

	assert.NoError(t, err)
	assert.False(t, h.pool.HasActive("orion"))
	assert.Equal(t, 1, h.uc.PoolStatus().RecentCount)
}

// Test DoWithSession - Released on failure too
func TestGuardDoWithSession_ReleasesOnError(t *testing.T) {
	h := newGuardHarness()
	h.allowAdmission()

	err := h.uc.DoWithSession(context.Background(), "orion", func(context.Context, *Session) error {
		return &PermanentError{Err: errors.New("boom")}
	})

	assert.Error(t, err)
	assert.False(t, h.pool.HasActive("orion"))
}

// Test DoWithSession - An open session blocks a second one outright
func TestGuardDoWithSession_RejectsWhenActive(t *testing.T) {
	h := newGuardHarness()

	_, err := h.pool.Acquire(context.Background(), "orion")
	assert.NoError(t, err)

	invoked := false
	err = h.uc.DoWithSession(context.Background(), "orion", func(context.Context, *Session) error {
		invoked = true
		return nil
	})

	var sae *SessionActiveError
	assert.ErrorAs(t, err, &sae)
	assert.False(t, invoked)
	h.repo.AssertNotCalled(t, "Admit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// Test admin - Suspend and resume audit their transitions
func TestGuard_SuspendResume(t *testing.T) {
	h := newGuardHarness()
	h.audit.On("LogTenantSuspended", mock.Anything, "orion", "error budget exhausted").Return()
	h.audit.On("LogTenantResumed", mock.Anything, "orion").Return()

	h.uc.SuspendTenant(context.Background(), "orion", "error budget exhausted")

	hm, ok := h.uc.TenantHealth("orion")
	assert.True(t, ok)
	assert.Equal(t, HealthSuspended, hm.Status)

	assert.True(t, h.uc.ResumeTenant(context.Background(), "orion"))
	assert.False(t, h.uc.ResumeTenant(context.Background(), "orion"))

	h.audit.AssertExpectations(t)
	h.audit.AssertNumberOfCalls(t, "LogTenantResumed", 1)
}

// Test admin - Breaker reset audits only when a breaker existed
func TestGuard_ResetBreaker(t *testing.T) {
	h := newGuardHarness()
	h.allowAdmission()
	h.expectBreakerOpened("orion", 3)
	h.audit.On("LogBreakerReset", mock.Anything, "orion").Return()

	assert.False(t, h.uc.ResetBreaker(context.Background(), "ghost"))

	for i := 0; i < 3; i++ {
		_ = h.uc.Do(context.Background(), "orion", func(context.Context) error {
			return &PermanentError{Err: errors.New("boom")}
		})
	}

	assert.True(t, h.uc.ResetBreaker(context.Background(), "orion"))
	snap, _ := h.uc.BreakerState("orion")
	assert.Equal(t, BreakerClosed, snap.State)

	h.audit.AssertExpectations(t)
	h.audit.AssertNotCalled(t, "LogBreakerReset", mock.Anything, "ghost")
}

// Test admin - Read surfaces delegate to the underlying components
func TestGuard_ReadSurfaces(t *testing.T) {
	h := newGuardHarness()
	h.allowAdmission()

	err := h.uc.Do(context.Background(), "orion", func(context.Context) error { return nil })
	assert.NoError(t, err)

	states := h.uc.BreakerStates()
	assert.Len(t, states, 1)
	assert.Equal(t, "orion", states[0].Tenant)

	_, ok := h.uc.BreakerState("ghost")
	assert.False(t, ok)

	summary := h.uc.HealthSummary()
	assert.Equal(t, 1, summary.TotalTenants)
	assert.Equal(t, 1, summary.Healthy)

	assert.Empty(t, h.uc.UnhealthyTenants())

	assert.Equal(t, 2, h.uc.PoolStatus().MaxTotal)

	views := []model.BucketView{{Scope: "global", Tokens: 99, Capacity: 100, RefillRate: 50}}
	h.repo.On("Stats", mock.Anything, mock.Anything, mock.Anything).Return(views, nil)
	got, err := h.uc.RateLimitStats(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, views, got)

	since := h.clk.Now().Add(-time.Hour)
	history := []*model.HealthSnapshot{{Tenant: "orion", Status: "healthy"}}
	h.snapshots.On("LoadHistory", mock.Anything, "orion", since).Return(history, nil)
	gotHistory, err := h.uc.TenantHistory(context.Background(), "orion", since)
	assert.NoError(t, err)
	assert.Equal(t, history, gotHistory)
}

// Test Sweep - Purges buckets, reclaims stale sessions and drops idle health
func TestGuard_Sweep(t *testing.T) {
	h := newGuardHarness()
	h.repo.On("PurgeIdle", mock.Anything, 30*time.Minute).Return(2, nil)
	h.audit.On("LogSessionForceReleased", mock.Anything, "holder", mock.AnythingOfType("string"), 31*time.Minute).Return()

	h.health.RecordSuccess("dormant", time.Millisecond)
	_, err := h.pool.Acquire(context.Background(), "holder")
	assert.NoError(t, err)

	h.clk.Add(31 * time.Minute)

	h.uc.Sweep(context.Background())

	assert.False(t, h.pool.HasActive("holder"))
	_, ok := h.health.Metrics("dormant")
	assert.False(t, ok)

	h.repo.AssertExpectations(t)
	h.audit.AssertExpectations(t)
}

// Test SnapshotHealth - One row per tenant with traffic
func TestGuard_SnapshotHealth(t *testing.T) {
	h := newGuardHarness()

	h.health.RecordSuccess("orion", 100*time.Millisecond)
	h.health.RecordSuccess("orion", 100*time.Millisecond)
	h.health.RecordFailure("orion", CategoryTransientNetwork)
	// An entry without traffic is skipped.
	h.health.Suspend("quiet", "maintenance")

	h.snapshots.On("StoreSnapshot", mock.Anything, mock.MatchedBy(func(s *model.HealthSnapshot) bool {
		return s.Tenant == "orion" &&
			s.TotalCalls == 3 &&
			s.FailedCalls == 1 &&
			s.ConsecutiveFailures == 1 &&
			s.RecordedAt.Equal(h.clk.Now())
	})).Return(nil).Once()

	h.uc.SnapshotHealth(context.Background())

	h.snapshots.AssertExpectations(t)
	h.snapshots.AssertNumberOfCalls(t, "StoreSnapshot", 1)
}

// Test SnapshotHealth - One failed write does not stall the rest
func TestGuard_SnapshotHealthContinuesOnError(t *testing.T) {
	h := newGuardHarness()

	h.health.RecordSuccess("alpha", time.Millisecond)
	h.health.RecordSuccess("beta", time.Millisecond)

	h.snapshots.On("StoreSnapshot", mock.Anything, mock.MatchedBy(func(s *model.HealthSnapshot) bool {
		return s.Tenant == "alpha"
	})).Return(errors.New("db down"))
	h.snapshots.On("StoreSnapshot", mock.Anything, mock.MatchedBy(func(s *model.HealthSnapshot) bool {
		return s.Tenant == "beta"
	})).Return(nil)

	h.uc.SnapshotHealth(context.Background())

	h.snapshots.AssertNumberOfCalls(t, "StoreSnapshot", 2)
}
