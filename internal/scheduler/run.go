package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// jobRun tracks one execution of a job for logging.
type jobRun struct {
	name      string
	batches   int
	processed int
	startedAt time.Time
}

func (r *jobRun) AddProcessed(n int) {
	r.processed += n
}

func (s *Scheduler) ensureJobRun(ctx context.Context, name string, batches int) (context.Context, *jobRun) {
	return ctx, &jobRun{name: name, batches: batches, startedAt: time.Now()}
}

func (s *Scheduler) logJobStart(run *jobRun) {
	s.log.Debug("scheduler.job.started", zap.String("job", run.name), zap.Int("batches", run.batches))
}

func (s *Scheduler) logJobFinish(run *jobRun) {
	s.log.Info("scheduler.job.finished",
		zap.String("job", run.name),
		zap.Int("processed", run.processed),
		zap.Duration("elapsed", time.Since(run.startedAt)),
	)
}

func (s *Scheduler) logSchedulerError(run *jobRun, event string, err error) {
	s.log.Error(event,
		zap.String("job", run.name),
		zap.Int("processed", run.processed),
		zap.Error(err),
	)
}
