package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/crmbilling/internal/clock"
	plandomain "github.com/railzwaylabs/crmbilling/internal/plan/domain"
	planrepository "github.com/railzwaylabs/crmbilling/internal/plan/repository"
	"github.com/railzwaylabs/crmbilling/internal/subscription/domain"
	"github.com/railzwaylabs/crmbilling/internal/subscription/repository"
	"github.com/railzwaylabs/crmbilling/internal/testutil"
	"github.com/railzwaylabs/crmbilling/pkg/db"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.Fixed
	svc   *Service
	plan  *plandomain.Plan
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	node := testutil.Node(t)
	conn := testutil.NewDB(t, node)
	clk := clock.NewFixed(testutil.Date(2024, time.January, 1))

	svc := NewService(ServiceParam{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Config:   testutil.Config(),
		Repo:     repository.Provide(),
		PlanRepo: planrepository.Provide(),
	}).(*Service)

	return &fixture{db: conn, node: node, clock: clk, svc: svc, plan: testutil.Plan(t, conn, "starter")}
}

func (f *fixture) insert(t *testing.T, tenantID snowflake.ID, status domain.SubscriptionStatus, start, end time.Time, amount int64) *domain.Subscription {
	t.Helper()
	sub := &domain.Subscription{
		ID:           f.node.Generate(),
		TenantID:     tenantID,
		PlanID:       f.plan.ID,
		BillingCycle: plandomain.CycleMonthly,
		Amount:       decimal.NewFromInt(amount),
		StartDate:    start,
		EndDate:      end,
		Status:       status,
		CreatedAt:    f.clock.Now(context.Background()),
		UpdatedAt:    f.clock.Now(context.Background()),
	}
	require.NoError(t, f.db.Create(sub).Error)
	return sub
}

func (f *fixture) reload(t *testing.T, id snowflake.ID) *domain.Subscription {
	t.Helper()
	sub, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	return sub
}

func TestStartTrial(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.node.Generate()

	trial, err := f.svc.StartTrial(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionStatusTrial, trial.Status)
	require.Equal(t, f.plan.ID, trial.PlanID)
	require.True(t, trial.Amount.IsZero())
	require.Equal(t, testutil.Date(2024, time.January, 15), trial.EndDate.UTC())

	_, err = f.svc.StartTrial(ctx, tenantID)
	require.ErrorIs(t, err, domain.ErrTrialAlreadyStarted)

	_, err = f.svc.StartTrial(ctx, 0)
	require.ErrorIs(t, err, domain.ErrInvalidTenant)
}

func TestCurrentExpiresEndedTrial(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.node.Generate()

	trial, err := f.svc.StartTrial(ctx, tenantID)
	require.NoError(t, err)

	current, err := f.svc.Current(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, trial.ID, current.ID)

	f.clock.Advance(14 * 24 * time.Hour)
	_, err = f.svc.Current(ctx, tenantID)
	require.ErrorIs(t, err, domain.ErrNoActiveSubscription)

	expired := f.reload(t, trial.ID)
	require.Equal(t, domain.SubscriptionStatusExpired, expired.Status)
	require.Equal(t, "period ended", expired.Reason())
}

func TestCurrentPromotesScheduledOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.node.Generate()

	active := f.insert(t, tenantID, domain.SubscriptionStatusActive,
		testutil.Date(2024, time.January, 1), testutil.Date(2024, time.January, 31), 1000)
	scheduled := f.insert(t, tenantID, domain.SubscriptionStatusScheduled,
		testutil.Date(2024, time.February, 1), testutil.Date(2024, time.March, 2), 3000)

	current, err := f.svc.Current(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, active.ID, current.ID)

	f.clock.Set(testutil.Date(2024, time.February, 1).Add(time.Hour))

	current, err = f.svc.Current(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, scheduled.ID, current.ID)
	require.Equal(t, domain.SubscriptionStatusActive, current.Status)

	again, err := f.svc.Current(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, scheduled.ID, again.ID)

	result, err := f.svc.SweepDue(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.SweepResult{}, result)

	require.Equal(t, domain.SubscriptionStatusExpired, f.reload(t, active.ID).Status)

	history, err := f.svc.History(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestSettleSupersedesCurrentWhenScheduledIsDue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.node.Generate()

	active := f.insert(t, tenantID, domain.SubscriptionStatusActive,
		testutil.Date(2024, time.January, 1), testutil.Date(2024, time.February, 10), 1000)
	scheduled := f.insert(t, tenantID, domain.SubscriptionStatusScheduled,
		testutil.Date(2024, time.February, 1), testutil.Date(2024, time.March, 2), 3000)

	f.clock.Set(testutil.Date(2024, time.February, 5))

	var state domain.State
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		state, err = f.svc.Settle(ctx, tx, tenantID)
		return err
	}))
	require.NotNil(t, state.Current)
	require.Equal(t, scheduled.ID, state.Current.ID)
	require.Nil(t, state.Scheduled)

	old := f.reload(t, active.ID)
	require.Equal(t, domain.SubscriptionStatusExpired, old.Status)
	require.Equal(t, "superseded by scheduled plan", old.Reason())
	require.Equal(t, testutil.Date(2024, time.February, 5), old.EndDate.UTC())
}

func TestTransitionRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.node.Generate()

	f.clock.Set(testutil.Date(2024, time.January, 11))
	sub := f.insert(t, tenantID, domain.SubscriptionStatusActive,
		testutil.Date(2024, time.January, 1), testutil.Date(2024, time.January, 31), 1000)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		return f.svc.Transition(ctx, tx, sub, domain.SubscriptionStatusScheduled, "")
	})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		return f.svc.Transition(ctx, tx, sub, domain.SubscriptionStatusCancelled, "customer request")
	}))
	stored := f.reload(t, sub.ID)
	require.Equal(t, domain.SubscriptionStatusCancelled, stored.Status)
	require.Equal(t, testutil.Date(2024, time.January, 11), stored.EndDate.UTC())
	require.Equal(t, "customer request", stored.Reason())

	for _, target := range []domain.SubscriptionStatus{
		domain.SubscriptionStatusActive,
		domain.SubscriptionStatusExpired,
		domain.SubscriptionStatusScheduled,
	} {
		err := f.db.Transaction(func(tx *gorm.DB) error {
			return f.svc.Transition(ctx, tx, stored, target, "")
		})
		require.ErrorIs(t, err, domain.ErrSubscriptionTerminal)
	}

	// A stale in-memory copy cannot resurrect the row either.
	stale := *sub
	stale.Status = domain.SubscriptionStatusActive
	err = f.db.Transaction(func(tx *gorm.DB) error {
		return f.svc.Transition(ctx, tx, &stale, domain.SubscriptionStatusExpired, "")
	})
	require.ErrorIs(t, err, domain.ErrStaleSubscription)
	require.Equal(t, domain.SubscriptionStatusCancelled, f.reload(t, sub.ID).Status)
}

func TestSingleEntitledRowPerTenant(t *testing.T) {
	f := newFixture(t)
	tenantID := f.node.Generate()

	f.insert(t, tenantID, domain.SubscriptionStatusActive,
		testutil.Date(2024, time.January, 1), testutil.Date(2024, time.January, 31), 1000)

	dup := &domain.Subscription{
		ID:           f.node.Generate(),
		TenantID:     tenantID,
		PlanID:       f.plan.ID,
		BillingCycle: plandomain.CycleMonthly,
		Amount:       decimal.Zero,
		StartDate:    testutil.Date(2024, time.January, 1),
		EndDate:      testutil.Date(2024, time.January, 15),
		Status:       domain.SubscriptionStatusTrial,
	}
	err := f.db.Create(dup).Error
	require.Error(t, err)
	require.True(t, db.IsDuplicateKey(err))

	dup.Status = domain.SubscriptionStatusExpired
	require.NoError(t, f.db.Create(dup).Error)
}

func TestSweepDue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	endedTenant := f.node.Generate()
	ended := f.insert(t, endedTenant, domain.SubscriptionStatusActive,
		testutil.Date(2023, time.December, 1), testutil.Date(2023, time.December, 31), 1000)

	promoteTenant := f.node.Generate()
	f.insert(t, promoteTenant, domain.SubscriptionStatusActive,
		testutil.Date(2023, time.December, 2), testutil.Date(2024, time.January, 1), 1000)
	queued := f.insert(t, promoteTenant, domain.SubscriptionStatusScheduled,
		testutil.Date(2024, time.January, 1), testutil.Date(2024, time.January, 31), 3000)

	liveTenant := f.node.Generate()
	live := f.insert(t, liveTenant, domain.SubscriptionStatusActive,
		testutil.Date(2023, time.December, 20), testutil.Date(2024, time.January, 19), 1000)

	result, err := f.svc.SweepDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, result.Expired)
	require.Equal(t, 1, result.Promoted)

	require.Equal(t, domain.SubscriptionStatusExpired, f.reload(t, ended.ID).Status)
	require.Equal(t, domain.SubscriptionStatusActive, f.reload(t, queued.ID).Status)
	require.Equal(t, domain.SubscriptionStatusActive, f.reload(t, live.ID).Status)

	result, err = f.svc.SweepDue(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.SweepResult{}, result)
}
