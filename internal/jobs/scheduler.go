package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shardie-github/castor-sub009/internal/config"
	"github.com/shardie-github/castor-sub009/internal/domain"
	"github.com/shardie-github/castor-sub009/internal/rollup"
)

// lateArrivalBuckets is how many already-closed buckets each rollup run
// recomputes, so events that landed after their bucket closed still get
// counted. Upserts make the recomputation safe.
const lateArrivalBuckets = 2

// Scheduler runs the rollup and retention jobs on their configured intervals.
// Each job fires immediately on start and then on its ticker, and a slow run
// simply absorbs the next tick rather than overlapping itself.
type Scheduler struct {
	manager *rollup.Manager
	cfg     config.Jobs
	log     *zap.Logger
}

// NewScheduler creates a scheduler.
func NewScheduler(manager *rollup.Manager, cfg config.Jobs, log *zap.Logger) *Scheduler {
	return &Scheduler{manager: manager, cfg: cfg, log: log}
}

// Start blocks until ctx is cancelled, running the jobs on their intervals.
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		s.runOnInterval(ctx, "hourly_rollup",
			time.Duration(s.cfg.HourlyRollupIntervalMin)*time.Minute,
			func(ctx context.Context, now time.Time) error {
				return s.rollupWindow(ctx, domain.GranularityHourly, now)
			})
	}()
	go func() {
		defer wg.Done()
		s.runOnInterval(ctx, "daily_rollup",
			time.Duration(s.cfg.DailyRollupIntervalMin)*time.Minute,
			func(ctx context.Context, now time.Time) error {
				return s.rollupWindow(ctx, domain.GranularityDaily, now)
			})
	}()
	go func() {
		defer wg.Done()
		s.runOnInterval(ctx, "retention",
			time.Duration(s.cfg.RetentionIntervalMin)*time.Minute,
			s.manager.RunRetention)
	}()

	wg.Wait()
}

func (s *Scheduler) runOnInterval(ctx context.Context, name string, interval time.Duration, job func(context.Context, time.Time) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.runJob(ctx, name, job)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Job loop stopped", zap.String("job", name))
			return
		case <-ticker.C:
			s.runJob(ctx, name, job)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, name string, job func(context.Context, time.Time) error) {
	start := time.Now()
	if err := job(ctx, start.UTC()); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Error("Job run failed",
			zap.String("job", name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return
	}
	s.log.Debug("Job run finished",
		zap.String("job", name),
		zap.Duration("elapsed", time.Since(start)))
}

func (s *Scheduler) rollupWindow(ctx context.Context, granularity domain.Granularity, now time.Time) error {
	from := granularity.Truncate(now).Add(-lateArrivalBuckets * granularity.Width())
	return s.manager.RunRollup(ctx, granularity, from, now)
}
