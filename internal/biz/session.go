package biz

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"GuardLane/internal/conf"
	"GuardLane/internal/metrics"

	"github.com/benbjohnson/clock"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Session is one held upstream connection slot. The holder records message
// and error counts on it; both land in the pool history on release.
type Session struct {
	ID         string
	Tenant     string
	AcquiredAt time.Time

	pending  bool
	messages atomic.Int64
	errors   atomic.Int64
}

// AddMessage counts one message exchanged on the session.
func (s *Session) AddMessage() { s.messages.Add(1) }

// AddError counts one error observed on the session.
func (s *Session) AddError() { s.errors.Add(1) }

// Messages returns the message count so far.
func (s *Session) Messages() int64 { return s.messages.Load() }

// Errors returns the error count so far.
func (s *Session) Errors() int64 { return s.errors.Load() }

// SessionRecord is one finished session in the pool history.
type SessionRecord struct {
	SessionID     string
	Tenant        string
	AcquiredAt    time.Time
	ReleasedAt    time.Time
	Duration      time.Duration
	Messages      int64
	Errors        int64
	ForceReleased bool
}

// PoolStatus reports current occupancy and aggregates over the retained
// history window.
type PoolStatus struct {
	Active            int
	MaxTotal          int
	RecentCount       int
	RecentAvgDuration time.Duration
	RecentAvgMessages float64
	RecentAvgErrors   float64
}

// SessionPool hands out at most one session per tenant and bounds the total
// across tenants with a weighted semaphore. A tenant already holding (or
// acquiring) a session is rejected immediately rather than queued.
type SessionPool struct {
	cfg    *conf.Guard_Sessions
	clk    clock.Clock
	logger *log.Helper
	sem    *semaphore.Weighted

	mu      sync.Mutex
	active  map[string]*Session
	history []SessionRecord
	next    int
}

// NewSessionPool creates an empty pool bounded at cfg.MaxTotal sessions.
func NewSessionPool(cfg *conf.Guard_Sessions, clk clock.Clock, logger log.Logger) *SessionPool {
	return &SessionPool{
		cfg:     cfg,
		clk:     clk,
		logger:  log.NewHelper(logger),
		sem:     semaphore.NewWeighted(int64(cfg.MaxTotal)),
		active:  make(map[string]*Session),
		history: make([]SessionRecord, 0, cfg.HistorySize),
	}
}

// Acquire opens a session for the tenant. A tenant with an open session gets
// *SessionActiveError without waiting; when no global permit frees up within
// the acquire timeout (or ctx ends first) the result is *PoolExhaustedError.
// The tenant is marked busy while the permit is awaited so a concurrent
// second acquire rejects instantly.
func (p *SessionPool) Acquire(ctx context.Context, tenant string) (*Session, error) {
	p.mu.Lock()
	if _, exists := p.active[tenant]; exists {
		p.mu.Unlock()
		metrics.RecordSessionRejected("active")
		return nil, &SessionActiveError{Tenant: tenant}
	}
	p.active[tenant] = &Session{Tenant: tenant, pending: true}
	p.mu.Unlock()

	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout.AsDuration())
	defer cancel()

	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		p.mu.Lock()
		delete(p.active, tenant)
		p.mu.Unlock()
		metrics.RecordSessionRejected("exhausted")
		return nil, &PoolExhaustedError{Tenant: tenant, MaxTotal: int64(p.cfg.MaxTotal)}
	}

	s := &Session{
		ID:         uuid.NewString(),
		Tenant:     tenant,
		AcquiredAt: p.clk.Now(),
	}

	p.mu.Lock()
	p.active[tenant] = s
	held := p.countHeld()
	p.mu.Unlock()

	metrics.RecordSessionAcquired()
	metrics.SetActiveSessions(held)
	p.logger.Infow("msg", "session opened", "tenant", tenant, "session_id", s.ID)
	return s, nil
}

// Release closes the tenant's session, appends it to the history and frees
// its permit. Releasing a tenant without an open session is a logged no-op.
func (p *SessionPool) Release(tenant string) (SessionRecord, bool) {
	p.mu.Lock()
	s, ok := p.active[tenant]
	if !ok || s.pending {
		p.mu.Unlock()
		p.logger.Warnw("msg", "release ignored, tenant holds no session", "tenant", tenant)
		return SessionRecord{}, false
	}
	delete(p.active, tenant)
	rec := p.finish(s, false)
	held := p.countHeld()
	p.mu.Unlock()

	p.sem.Release(1)
	metrics.SetActiveSessions(held)
	p.logger.Infow("msg", "session released",
		"tenant", tenant,
		"session_id", rec.SessionID,
		"duration", rec.Duration.String(),
		"messages", rec.Messages,
		"errors", rec.Errors)
	return rec, true
}

// SweepStale force-releases sessions held longer than the session timeout.
// Each one is counted as an error and returned for auditing.
func (p *SessionPool) SweepStale() []SessionRecord {
	cutoff := p.clk.Now().Add(-p.cfg.SessionTimeout.AsDuration())

	p.mu.Lock()
	var stale []SessionRecord
	for tenant, s := range p.active {
		if s.pending || !s.AcquiredAt.Before(cutoff) {
			continue
		}
		delete(p.active, tenant)
		s.AddError()
		stale = append(stale, p.finish(s, true))
	}
	held := p.countHeld()
	p.mu.Unlock()

	if len(stale) == 0 {
		return nil
	}

	for _, rec := range stale {
		p.sem.Release(1)
		p.logger.Warnw("msg", "stale session force-released",
			"tenant", rec.Tenant,
			"session_id", rec.SessionID,
			"held_for", rec.Duration.String())
	}
	metrics.SetActiveSessions(held)
	return stale
}

// HasActive reports whether the tenant holds or is acquiring a session.
func (p *SessionPool) HasActive(tenant string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[tenant]
	return ok
}

// Status reports occupancy and recent-window aggregates.
func (p *SessionPool) Status() PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := PoolStatus{
		Active:      p.countHeld(),
		MaxTotal:    int(p.cfg.MaxTotal),
		RecentCount: len(p.history),
	}
	if len(p.history) == 0 {
		return st
	}

	var dur time.Duration
	var msgs, errs int64
	for _, rec := range p.history {
		dur += rec.Duration
		msgs += rec.Messages
		errs += rec.Errors
	}
	n := float64(len(p.history))
	st.RecentAvgDuration = dur / time.Duration(len(p.history))
	st.RecentAvgMessages = float64(msgs) / n
	st.RecentAvgErrors = float64(errs) / n
	return st
}

// finish builds the history record for s and appends it to the bounded ring.
// Caller must hold p.mu.
func (p *SessionPool) finish(s *Session, forced bool) SessionRecord {
	now := p.clk.Now()
	rec := SessionRecord{
		SessionID:     s.ID,
		Tenant:        s.Tenant,
		AcquiredAt:    s.AcquiredAt,
		ReleasedAt:    now,
		Duration:      now.Sub(s.AcquiredAt),
		Messages:      s.Messages(),
		Errors:        s.Errors(),
		ForceReleased: forced,
	}

	size := int(p.cfg.HistorySize)
	if size <= 0 {
		return rec
	}
	if len(p.history) < size {
		p.history = append(p.history, rec)
	} else {
		p.history[p.next] = rec
		p.next = (p.next + 1) % size
	}
	return rec
}

// countHeld counts non-pending sessions. Caller must hold p.mu.
func (p *SessionPool) countHeld() int {
	held := 0
	for _, s := range p.active {
		if !s.pending {
			held++
		}
	}
	return held
}
