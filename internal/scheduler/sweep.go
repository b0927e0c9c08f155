package scheduler

import (
	"context"

	"go.uber.org/zap"
)

// SweepSubscriptionsJob expires ended periods and promotes due scheduled
// rows. Lazy promotion on read uses the same conditional update, so a row
// is promoted once whichever path reaches it first.
func (s *Scheduler) SweepSubscriptionsJob(ctx context.Context) error {
	ctx, run := s.ensureJobRun(ctx, "sweep_subscriptions", 1)
	s.logJobStart(run)
	defer s.logJobFinish(run)

	result, err := s.subscriptionSvc.SweepDue(ctx)
	if err != nil {
		s.logSchedulerError(run, "scheduler.sweep.failed", err)
		return err
	}
	run.AddProcessed(result.Expired + result.Promoted)
	if result.Expired > 0 || result.Promoted > 0 {
		s.log.Info("subscriptions swept",
			zap.Int("expired", result.Expired),
			zap.Int("promoted", result.Promoted),
		)
	}
	return nil
}
