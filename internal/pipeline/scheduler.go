package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Runner is satisfied by Job.
type Runner interface {
	Run(ctx context.Context) (RunResult, error)
}

// Scheduler reruns a job on a fixed interval until its context ends.
// A failed run is logged and the next tick runs again.
type Scheduler struct {
	job      Runner
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler. A nil clock uses the real clock.
func NewScheduler(job Runner, interval time.Duration, clock clockwork.Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{job: job, interval: interval, clock: clock, logger: logger}
}

// Run executes the job immediately and then on every tick. It returns nil
// when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.runOnce(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := s.job.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("scheduled run failed", "run_id", res.RunID, "error", err)
	}
}
