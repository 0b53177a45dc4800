package server

import (
	"context"
	"fmt"
	"time"

	"GuardLane/internal/biz"
	"GuardLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/robfig/cron/v3"
)

var _ transport.Server = (*CronServer)(nil)

// CronServer runs the periodic maintenance jobs: idle bucket purges and
// stale session sweeps on the sweep interval, health snapshots on the
// snapshot interval. It plugs into the kratos application lifecycle as a
// transport server so the jobs start and stop with the other servers.
type CronServer struct {
	guard  *biz.GuardUseCase
	cron   *cron.Cron
	helper *log.Helper

	sweepEvery    time.Duration
	snapshotEvery time.Duration
}

// NewCronServer builds the scheduler. Intervals come from the guard
// configuration and fall back to one minute / five minutes.
func NewCronServer(gc *conf.Guard, guard *biz.GuardUseCase, logger log.Logger) *CronServer {
	s := &CronServer{
		guard:         guard,
		cron:          cron.New(cron.WithSeconds()),
		helper:        log.NewHelper(logger),
		sweepEvery:    time.Minute,
		snapshotEvery: 5 * time.Minute,
	}
	if gc != nil && gc.SweepInterval != nil && gc.SweepInterval.AsDuration() > 0 {
		s.sweepEvery = gc.SweepInterval.AsDuration()
	}
	if gc != nil && gc.SnapshotInterval != nil && gc.SnapshotInterval.AsDuration() > 0 {
		s.snapshotEvery = gc.SnapshotInterval.AsDuration()
	}
	return s
}

// Start registers both jobs and starts the scheduler. It returns
// immediately; the jobs run on the cron's own goroutine until Stop.
func (s *CronServer) Start(_ context.Context) error {
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.sweepEvery), s.runSweep); err != nil {
		return fmt.Errorf("register sweep job: %w", err)
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.snapshotEvery), s.runSnapshot); err != nil {
		return fmt.Errorf("register snapshot job: %w", err)
	}

	s.cron.Start()
	s.helper.Infow("msg", "maintenance cron started",
		"sweep_every", s.sweepEvery.String(),
		"snapshot_every", s.snapshotEvery.String())
	return nil
}

// Stop halts the scheduler and waits for any in-flight job to finish, or
// for the shutdown context to expire, whichever comes first.
func (s *CronServer) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.helper.Infow("msg", "maintenance cron stopped")
	return nil
}

func (s *CronServer) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	s.guard.Sweep(ctx)
}

func (s *CronServer) runSnapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	s.guard.SnapshotHealth(ctx)
}
