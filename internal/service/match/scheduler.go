package match

import (
	"context"
	"sync"
	"time"

	"chatmatch-service/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Scheduler runs the sweeps on fixed intervals, independent of request
// handling. Several processes may run one against the same store.
type Scheduler struct {
	svc *Service

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	group     *errgroup.Group
}

func NewScheduler(svc *Service) *Scheduler {
	return &Scheduler{svc: svc}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		g, gctx := errgroup.WithContext(ctx)
		s.cancel = cancel
		s.group = g

		cfg := s.svc.cfg
		s.every(gctx, "heartbeat sweep", cfg.HeartbeatSweepInterval, s.svc.SweepHeartbeats)
		s.every(gctx, "stale sweep", cfg.StaleSweepInterval, s.svc.SweepStale)
		s.every(gctx, "match sweep", cfg.MatchSweepInterval, s.svc.SweepMatches)
	})
}

// Stop cancels the loops and waits for a running sweep to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel == nil {
			return
		}
		s.cancel()
		_ = s.group.Wait()
		logger.Log.Info("match scheduler stopped")
	})
}

func (s *Scheduler) every(ctx context.Context, name string, interval time.Duration, task func(context.Context) error) {
	if interval <= 0 {
		logger.Log.Info("scheduler task disabled", zap.String("task", name))
		return
	}
	s.group.Go(func() error {
		logger.Log.Info("scheduler task started",
			zap.String("task", name),
			zap.Duration("interval", interval),
		)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := task(ctx); err != nil && ctx.Err() == nil {
					logger.Log.Warn("scheduler task error",
						zap.String("task", name),
						zap.Error(err),
					)
				}
			}
		}
	})
}
