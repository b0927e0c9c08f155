package scheduler

import (
	"context"

	"go.uber.org/zap"
)

const retentionBatchSize = 500

// CleanupWebhookLogsJob prunes processed payment events older than the
// retention window. Unprocessed events are kept.
func (s *Scheduler) CleanupWebhookLogsJob(ctx context.Context) error {
	ctx, run := s.ensureJobRun(ctx, "cleanup_webhook_logs", 0)
	s.logJobStart(run)
	defer s.logJobFinish(run)

	if s.retentionDays <= 0 {
		s.log.Info("webhook log retention disabled", zap.Int("days", s.retentionDays))
		return nil
	}

	cutoff := s.clock.Now(ctx).AddDate(0, 0, -s.retentionDays)
	s.log.Info("cleaning up webhook logs", zap.Time("cutoff", cutoff))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		deleted, err := s.eventRepo.DeleteProcessedBefore(ctx, s.db, cutoff, retentionBatchSize)
		if err != nil {
			s.logSchedulerError(run, "scheduler.cleanup.failed", err)
			return err
		}
		run.batches++
		run.AddProcessed(int(deleted))
		if deleted < retentionBatchSize {
			return nil
		}
	}
}
