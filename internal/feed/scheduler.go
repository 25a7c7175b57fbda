package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	logger "github.com/Gopher0727/FeaturedFeed/middleware/log"
)

// retryDelay is how long the loop waits after a failed next-tick computation.
const retryDelay = 30 * time.Second

// Scheduler runs a job on a cron schedule.
type Scheduler struct {
	cron string
	job  func(ctx context.Context) error
	log  *logger.Logger
	now  func() time.Time
}

func NewScheduler(cron string, job func(ctx context.Context) error, log *logger.Logger) (*Scheduler, error) {
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("invalid cron expression %q", cron)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Scheduler{
		cron: cron,
		job:  job,
		log:  log.Named("scheduler"),
		now:  time.Now,
	}, nil
}

// Next returns the first tick strictly after t.
func (s *Scheduler) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.cron, t, false)
}

// Run blocks until ctx is done, running the job at every tick. Job errors are
// logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler started", zap.String("cron", s.cron))
	for {
		now := s.now()
		next, err := s.Next(now)
		wait := next.Sub(now)
		if err != nil {
			s.log.Error("next tick failed", zap.String("cron", s.cron), zap.Error(err))
			wait = retryDelay
		}

		timer := time.NewTimer(max(wait, 0))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("scheduler stopped")
			return
		case <-timer.C:
		}
		if err != nil {
			continue
		}
		if err := s.job(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("scheduled job failed", zap.Error(err))
		}
	}
}
