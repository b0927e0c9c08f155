package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/railzwaylabs/crmbilling/internal/clock"
	paymentdomain "github.com/railzwaylabs/crmbilling/internal/payment/domain"
	paymentrepository "github.com/railzwaylabs/crmbilling/internal/payment/repository"
	plandomain "github.com/railzwaylabs/crmbilling/internal/plan/domain"
	planrepository "github.com/railzwaylabs/crmbilling/internal/plan/repository"
	subscriptiondomain "github.com/railzwaylabs/crmbilling/internal/subscription/domain"
	subscriptionrepository "github.com/railzwaylabs/crmbilling/internal/subscription/repository"
	subscriptionservice "github.com/railzwaylabs/crmbilling/internal/subscription/service"
	"github.com/railzwaylabs/crmbilling/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunOnceSweepsAndPrunes(t *testing.T) {
	ctx := context.Background()
	node := testutil.Node(t)
	conn := testutil.NewDB(t, node)
	now := testutil.Date(2024, time.June, 1)
	clk := clock.NewFixed(now)
	cfg := testutil.Config()

	subSvc := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Config:   cfg,
		Repo:     subscriptionrepository.Provide(),
		PlanRepo: planrepository.Provide(),
	})
	s := New(Params{
		DB:              conn,
		Log:             zap.NewNop(),
		Clock:           clk,
		Config:          cfg,
		SubscriptionSvc: subSvc,
		EventRepo:       paymentrepository.NewEventRepository(),
	})

	plan := testutil.Plan(t, conn, "starter")
	ended := &subscriptiondomain.Subscription{
		ID:           node.Generate(),
		TenantID:     node.Generate(),
		PlanID:       plan.ID,
		BillingCycle: plandomain.CycleMonthly,
		Amount:       decimal.NewFromInt(1000),
		StartDate:    testutil.Date(2024, time.April, 1),
		EndDate:      testutil.Date(2024, time.May, 1),
		Status:       subscriptiondomain.SubscriptionStatusActive,
	}
	require.NoError(t, conn.Create(ended).Error)

	processed := now.AddDate(0, 0, -1)
	events := []paymentdomain.EventRecord{
		{ProviderEventID: "old_done", ReceivedAt: now.AddDate(0, 0, -120), ProcessedAt: &processed},
		{ProviderEventID: "old_pending", ReceivedAt: now.AddDate(0, 0, -120)},
		{ProviderEventID: "recent_done", ReceivedAt: now.AddDate(0, 0, -10), ProcessedAt: &processed},
	}
	for i := range events {
		events[i].ID = node.Generate()
		events[i].Provider = "sandbox"
		events[i].EventType = paymentdomain.EventPaymentCaptured
		events[i].Payload = []byte(`{}`)
		require.NoError(t, conn.Create(&events[i]).Error)
	}

	require.NoError(t, s.RunOnce(ctx))

	var sub subscriptiondomain.Subscription
	require.NoError(t, conn.Where("id = ?", ended.ID).First(&sub).Error)
	require.Equal(t, subscriptiondomain.SubscriptionStatusExpired, sub.Status)

	var remaining []string
	require.NoError(t, conn.Model(&paymentdomain.EventRecord{}).Order("provider_event_id").
		Pluck("provider_event_id", &remaining).Error)
	require.Equal(t, []string{"old_pending", "recent_done"}, remaining)
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	node := testutil.Node(t)
	conn := testutil.NewDB(t, node)
	cfg := testutil.Config()
	cfg.Scheduler.SweepInterval = 10 * time.Millisecond
	cfg.Scheduler.RetentionInterval = 10 * time.Millisecond
	clk := clock.NewFixed(testutil.Date(2024, time.June, 1))

	s := New(Params{
		DB:     conn,
		Log:    zap.NewNop(),
		Clock:  clk,
		Config: cfg,
		SubscriptionSvc: subscriptionservice.NewService(subscriptionservice.ServiceParam{
			DB: conn, Log: zap.NewNop(), GenID: node, Clock: clk, Config: cfg,
			Repo: subscriptionrepository.Provide(), PlanRepo: planrepository.Provide(),
		}),
		EventRepo: paymentrepository.NewEventRepository(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunForever(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
