package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/railzwaylabs/crmbilling/internal/clock"
	"github.com/railzwaylabs/crmbilling/internal/config"
	paymentdomain "github.com/railzwaylabs/crmbilling/internal/payment/domain"
	subscriptiondomain "github.com/railzwaylabs/crmbilling/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultSweepInterval     = time.Minute
	defaultRetentionInterval = 6 * time.Hour
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	Clock           clock.Clock
	Config          config.Config
	SubscriptionSvc subscriptiondomain.Service
	EventRepo       paymentdomain.EventRepository
}

// Scheduler runs the periodic jobs: subscription sweeps and payment-event
// retention. Each job runs to completion before its next tick.
type Scheduler struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock

	subscriptionSvc subscriptiondomain.Service
	eventRepo       paymentdomain.EventRepository

	sweepInterval     time.Duration
	retentionInterval time.Duration
	retentionDays     int

	mu      sync.Mutex
	running map[string]bool
}

func New(p Params) *Scheduler {
	sweep := p.Config.Scheduler.SweepInterval
	if sweep <= 0 {
		sweep = defaultSweepInterval
	}
	retention := p.Config.Scheduler.RetentionInterval
	if retention <= 0 {
		retention = defaultRetentionInterval
	}
	return &Scheduler{
		db:    p.DB,
		log:   p.Log.Named("scheduler"),
		clock: p.Clock,

		subscriptionSvc: p.SubscriptionSvc,
		eventRepo:       p.EventRepo,

		sweepInterval:     sweep,
		retentionInterval: retention,
		retentionDays:     p.Config.Billing.WebhookRetentionDays,

		running: map[string]bool{},
	}
}

type job struct {
	name     string
	interval time.Duration
	run      func(context.Context) error
}

func (s *Scheduler) jobs() []job {
	return []job{
		{name: "sweep_subscriptions", interval: s.sweepInterval, run: s.SweepSubscriptionsJob},
		{name: "cleanup_webhook_logs", interval: s.retentionInterval, run: s.CleanupWebhookLogsJob},
	}
}

// RunForever runs every job once, then on its interval, until ctx is done.
func (s *Scheduler) RunForever(ctx context.Context) {
	var wg sync.WaitGroup
	for _, j := range s.jobs() {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			s.loop(ctx, j)
		}(j)
	}
	wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, j job) {
	s.log.Info("job scheduled", zap.String("job", j.name), zap.Duration("interval", j.interval))
	s.runOnce(ctx, j)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, j)
		}
	}
}

// RunOnce runs every job a single time, in order. Used by the scheduler
// command's one-shot mode.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	for _, j := range s.jobs() {
		if err := j.run(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context, j job) {
	if !s.claim(j.name) {
		s.log.Warn("job still running, tick skipped", zap.String("job", j.name))
		return
	}
	defer s.release(j.name)

	if err := j.run(ctx); err != nil && ctx.Err() == nil {
		s.log.Error("job failed", zap.String("job", j.name), zap.Error(err))
	}
}

func (s *Scheduler) claim(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[name] {
		return false
	}
	s.running[name] = true
	return true
}

func (s *Scheduler) release(name string) {
	s.mu.Lock()
	delete(s.running, name)
	s.mu.Unlock()
}
