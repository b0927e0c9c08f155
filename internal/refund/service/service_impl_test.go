package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/crmbilling/internal/clock"
	"github.com/railzwaylabs/crmbilling/internal/payment/adapters/sandbox"
	paymentdomain "github.com/railzwaylabs/crmbilling/internal/payment/domain"
	paymentrepository "github.com/railzwaylabs/crmbilling/internal/payment/repository"
	plandomain "github.com/railzwaylabs/crmbilling/internal/plan/domain"
	planrepository "github.com/railzwaylabs/crmbilling/internal/plan/repository"
	"github.com/railzwaylabs/crmbilling/internal/refund/domain"
	subscriptiondomain "github.com/railzwaylabs/crmbilling/internal/subscription/domain"
	subscriptionrepository "github.com/railzwaylabs/crmbilling/internal/subscription/repository"
	subscriptionservice "github.com/railzwaylabs/crmbilling/internal/subscription/service"
	"github.com/railzwaylabs/crmbilling/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	clock   *clock.Fixed
	gateway *sandbox.Gateway
	svc     domain.Service
	plan    *plandomain.Plan
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	node := testutil.Node(t)
	conn := testutil.NewDB(t, node)
	clk := clock.NewFixed(testutil.Date(2024, time.January, 26))
	cfg := testutil.Config()
	gw := sandbox.New("", "")

	subRepo := subscriptionrepository.Provide()
	subSvc := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Config:   cfg,
		Repo:     subRepo,
		PlanRepo: planrepository.Provide(),
	})

	svc := New(Params{
		DB:               conn,
		Log:              zap.NewNop(),
		GenID:            node,
		Clock:            clk,
		Config:           cfg,
		Gateway:          gw,
		TransactionRepo:  paymentrepository.NewTransactionRepository(),
		SubscriptionRepo: subRepo,
		SubscriptionSvc:  subSvc,
	})

	return &fixture{db: conn, node: node, clock: clk, gateway: gw, svc: svc, plan: testutil.Plan(t, conn, "growth")}
}

// paid inserts a subscription together with the Success payment that funded it.
func (f *fixture) paid(t *testing.T, tenantID snowflake.ID, status subscriptiondomain.SubscriptionStatus, start, end time.Time, amount int64) *subscriptiondomain.Subscription {
	t.Helper()
	now := f.clock.Now(context.Background())
	sub := &subscriptiondomain.Subscription{
		ID:           f.node.Generate(),
		TenantID:     tenantID,
		PlanID:       f.plan.ID,
		BillingCycle: plandomain.CycleMonthly,
		Amount:       decimal.NewFromInt(amount),
		StartDate:    start,
		EndDate:      end,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, f.db.Create(sub).Error)

	orderID := "order_" + sub.ID.String()
	paymentID := "pay_" + sub.ID.String()
	txn := &paymentdomain.Transaction{
		ID:             f.node.Generate(),
		TenantID:       tenantID,
		SubscriptionID: &sub.ID,
		OrderID:        &orderID,
		PaymentID:      &paymentID,
		Amount:         decimal.NewFromInt(amount),
		NetAmount:      decimal.NewFromInt(amount),
		DiscountAmount: decimal.Zero,
		Currency:       "INR",
		Type:           paymentdomain.TransactionTypePayment,
		Status:         paymentdomain.TransactionStatusSuccess,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, f.db.Create(txn).Error)
	return sub
}

func (f *fixture) subscription(t *testing.T, id snowflake.ID) *subscriptiondomain.Subscription {
	t.Helper()
	var sub subscriptiondomain.Subscription
	require.NoError(t, f.db.Where("id = ?", id).First(&sub).Error)
	return &sub
}

func (f *fixture) transaction(t *testing.T, id snowflake.ID) *paymentdomain.Transaction {
	t.Helper()
	var txn paymentdomain.Transaction
	require.NoError(t, f.db.Where("id = ?", id).First(&txn).Error)
	return &txn
}

func TestCancelActiveRecordsRemainingCredit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.node.Generate()

	// 30 day period with 5 days left.
	sub := f.paid(t, tenantID, subscriptiondomain.SubscriptionStatusActive,
		testutil.Date(2024, time.January, 1), testutil.Date(2024, time.January, 31), 3000)

	record, err := f.svc.Cancel(ctx, domain.CancelRequest{SubscriptionID: sub.ID, Reason: "customer request"})
	require.NoError(t, err)
	require.False(t, record.AlreadyCancelled)
	require.Equal(t, "500.00", record.Refundable.StringFixed(2))

	require.Equal(t, paymentdomain.TransactionTypeCancellation, record.Transaction.Type)
	require.Equal(t, paymentdomain.TransactionStatusPending, record.Transaction.Status)
	require.Equal(t, "500.00", record.Transaction.Amount.StringFixed(2))
	require.Contains(t, record.Transaction.Description, "refund pending")

	cancelled := f.subscription(t, sub.ID)
	require.Equal(t, subscriptiondomain.SubscriptionStatusCancelled, cancelled.Status)
	require.Equal(t, testutil.Date(2024, time.January, 26), cancelled.EndDate.UTC())
	require.Equal(t, "customer request", cancelled.Reason())
}

func TestCancelScheduledRefundsFullAmount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.node.Generate()

	sub := f.paid(t, tenantID, subscriptiondomain.SubscriptionStatusScheduled,
		testutil.Date(2024, time.February, 10), testutil.Date(2024, time.March, 11), 2999)

	record, err := f.svc.Cancel(ctx, domain.CancelRequest{SubscriptionID: sub.ID, TenantID: tenantID})
	require.NoError(t, err)
	require.Equal(t, "2999.00", record.Refundable.StringFixed(2))

	cancelled := f.subscription(t, sub.ID)
	require.Equal(t, subscriptiondomain.SubscriptionStatusCancelled, cancelled.Status)
	require.Equal(t, testutil.Date(2024, time.March, 11), cancelled.EndDate.UTC())
}

func TestCancelIsIdempotentAndGuarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.node.Generate()

	sub := f.paid(t, tenantID, subscriptiondomain.SubscriptionStatusActive,
		testutil.Date(2024, time.January, 1), testutil.Date(2024, time.January, 31), 3000)

	first, err := f.svc.Cancel(ctx, domain.CancelRequest{SubscriptionID: sub.ID})
	require.NoError(t, err)

	again, err := f.svc.Cancel(ctx, domain.CancelRequest{SubscriptionID: sub.ID})
	require.NoError(t, err)
	require.True(t, again.AlreadyCancelled)
	require.Equal(t, first.Transaction.ID, again.Transaction.ID)

	_, err = f.svc.Cancel(ctx, domain.CancelRequest{SubscriptionID: sub.ID, TenantID: f.node.Generate()})
	require.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)

	trial := &subscriptiondomain.Subscription{
		ID:           f.node.Generate(),
		TenantID:     f.node.Generate(),
		PlanID:       f.plan.ID,
		BillingCycle: plandomain.CycleMonthly,
		Amount:       decimal.Zero,
		StartDate:    testutil.Date(2024, time.January, 20),
		EndDate:      testutil.Date(2024, time.February, 3),
		Status:       subscriptiondomain.SubscriptionStatusTrial,
	}
	require.NoError(t, f.db.Create(trial).Error)
	_, err = f.svc.Cancel(ctx, domain.CancelRequest{SubscriptionID: trial.ID})
	require.ErrorIs(t, err, domain.ErrNotCancellable)
}

func TestCancelAfterPeriodEndedIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.node.Generate()

	sub := f.paid(t, tenantID, subscriptiondomain.SubscriptionStatusActive,
		testutil.Date(2023, time.December, 1), testutil.Date(2023, time.December, 31), 3000)

	_, err := f.svc.Cancel(ctx, domain.CancelRequest{SubscriptionID: sub.ID})
	require.ErrorIs(t, err, domain.ErrNotCancellable)
	require.Equal(t, subscriptiondomain.SubscriptionStatusExpired, f.subscription(t, sub.ID).Status)
}

func TestSettleRefundThroughGateway(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.node.Generate()

	sub := f.paid(t, tenantID, subscriptiondomain.SubscriptionStatusActive,
		testutil.Date(2024, time.January, 1), testutil.Date(2024, time.January, 31), 3000)
	cancelled, err := f.svc.Cancel(ctx, domain.CancelRequest{SubscriptionID: sub.ID})
	require.NoError(t, err)

	record, err := f.svc.SettleRefund(ctx, domain.SettleRequest{TransactionID: cancelled.Transaction.ID, OperatorNotes: "ticket 42"})
	require.NoError(t, err)
	require.False(t, record.AlreadySettled)
	require.Equal(t, paymentdomain.TransactionTypeRefund, record.Refund.Type)
	require.Equal(t, paymentdomain.TransactionStatusSuccess, record.Refund.Status)
	require.Equal(t, cancelled.Transaction.ID, *record.Refund.ParentTransactionID)
	require.NotNil(t, record.Refund.GatewayRefundID)
	require.Equal(t, "500.00", record.Refund.Amount.StringFixed(2))

	require.Len(t, f.gateway.Refunds(), 1)
	require.Equal(t, "pay_"+sub.ID.String(), f.gateway.Refunds()[0].PaymentID)

	obligation := f.transaction(t, cancelled.Transaction.ID)
	require.Equal(t, paymentdomain.TransactionStatusSuccess, obligation.Status)

	sealed := f.subscription(t, sub.ID)
	require.Equal(t, subscriptiondomain.SubscriptionStatusCancelled, sealed.Status)
	require.Equal(t, subscriptiondomain.PermanentCancellationMarker+" (ticket 42)", sealed.Reason())

	again, err := f.svc.SettleRefund(ctx, domain.SettleRequest{TransactionID: cancelled.Transaction.ID})
	require.NoError(t, err)
	require.True(t, again.AlreadySettled)
	require.Equal(t, record.Refund.ID, again.Refund.ID)
	require.Len(t, f.gateway.Refunds(), 1)
}

func TestSettleRefundGatewayFailureLeavesObligationPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.node.Generate()

	sub := f.paid(t, tenantID, subscriptiondomain.SubscriptionStatusScheduled,
		testutil.Date(2024, time.February, 10), testutil.Date(2024, time.March, 11), 2999)
	cancelled, err := f.svc.Cancel(ctx, domain.CancelRequest{SubscriptionID: sub.ID})
	require.NoError(t, err)

	f.gateway.FailNext("create_refund", errors.New("upstream timeout"))
	_, err = f.svc.SettleRefund(ctx, domain.SettleRequest{TransactionID: cancelled.Transaction.ID})
	require.ErrorIs(t, err, paymentdomain.ErrGatewayUnavailable)

	obligation := f.transaction(t, cancelled.Transaction.ID)
	require.Equal(t, paymentdomain.TransactionStatusPending, obligation.Status)
	require.Empty(t, f.gateway.Refunds())

	pending, err := f.svc.PendingRefunds(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, cancelled.Transaction.ID, pending[0].ID)

	record, err := f.svc.SettleRefund(ctx, domain.SettleRequest{TransactionID: cancelled.Transaction.ID})
	require.NoError(t, err)
	require.Equal(t, "2999.00", record.Refund.Amount.StringFixed(2))

	pending, err = f.svc.PendingRefunds(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestSettleRefundManually(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.node.Generate()

	sub := f.paid(t, tenantID, subscriptiondomain.SubscriptionStatusActive,
		testutil.Date(2024, time.January, 1), testutil.Date(2024, time.January, 31), 3000)
	cancelled, err := f.svc.Cancel(ctx, domain.CancelRequest{SubscriptionID: sub.ID})
	require.NoError(t, err)

	record, err := f.svc.SettleRefund(ctx, domain.SettleRequest{TransactionID: cancelled.Transaction.ID, Manual: true})
	require.NoError(t, err)
	require.Nil(t, record.Refund.GatewayRefundID)
	require.Contains(t, record.Refund.Description, "manual")
	require.Equal(t, 0, f.gateway.Calls("create_refund"))
	require.Equal(t, subscriptiondomain.PermanentCancellationMarker, f.subscription(t, sub.ID).Reason())
}

func TestSettleRefundFallsBackToLatestTenantPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.node.Generate()

	sub := f.paid(t, tenantID, subscriptiondomain.SubscriptionStatusActive,
		testutil.Date(2024, time.January, 1), testutil.Date(2024, time.January, 31), 3000)
	// Older rows carried no subscription link on the payment.
	require.NoError(t, f.db.Model(&paymentdomain.Transaction{}).
		Where("subscription_id = ? AND type = ?", sub.ID, paymentdomain.TransactionTypePayment).
		Update("subscription_id", nil).Error)

	cancelled, err := f.svc.Cancel(ctx, domain.CancelRequest{SubscriptionID: sub.ID})
	require.NoError(t, err)

	_, err = f.svc.SettleRefund(ctx, domain.SettleRequest{TransactionID: cancelled.Transaction.ID})
	require.NoError(t, err)
	require.Equal(t, "pay_"+sub.ID.String(), f.gateway.Refunds()[0].PaymentID)
}

func TestSettleRefundRejectsOtherTransactions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.node.Generate()

	sub := f.paid(t, tenantID, subscriptiondomain.SubscriptionStatusActive,
		testutil.Date(2024, time.January, 1), testutil.Date(2024, time.January, 31), 3000)

	var purchase paymentdomain.Transaction
	require.NoError(t, f.db.Where("subscription_id = ?", sub.ID).First(&purchase).Error)
	_, err := f.svc.SettleRefund(ctx, domain.SettleRequest{TransactionID: purchase.ID})
	require.ErrorIs(t, err, domain.ErrNotRefundObligation)

	_, err = f.svc.SettleRefund(ctx, domain.SettleRequest{TransactionID: f.node.Generate()})
	require.ErrorIs(t, err, paymentdomain.ErrTransactionNotFound)

	// A zero-value scheduled row owes nothing and its obligation is closed at once.
	free := &subscriptiondomain.Subscription{
		ID:           f.node.Generate(),
		TenantID:     f.node.Generate(),
		PlanID:       f.plan.ID,
		BillingCycle: plandomain.CycleMonthly,
		Amount:       decimal.Zero,
		StartDate:    testutil.Date(2024, time.February, 10),
		EndDate:      testutil.Date(2024, time.March, 11),
		Status:       subscriptiondomain.SubscriptionStatusScheduled,
	}
	require.NoError(t, f.db.Create(free).Error)
	cancelled, err := f.svc.Cancel(ctx, domain.CancelRequest{SubscriptionID: free.ID})
	require.NoError(t, err)
	require.True(t, cancelled.Refundable.IsZero())
	require.Equal(t, paymentdomain.TransactionStatusSuccess, cancelled.Transaction.Status)

	_, err = f.svc.SettleRefund(ctx, domain.SettleRequest{TransactionID: cancelled.Transaction.ID})
	require.ErrorIs(t, err, domain.ErrNothingToRefund)
}

// carrying inserts a subscription bought with from's credit plus a payment
// for the rest.
func (f *fixture) carrying(t *testing.T, from *subscriptiondomain.Subscription, start, end time.Time, amount, paid int64) *subscriptiondomain.Subscription {
	t.Helper()
	now := f.clock.Now(context.Background())
	sub := &subscriptiondomain.Subscription{
		ID:           f.node.Generate(),
		TenantID:     from.TenantID,
		PlanID:       f.plan.ID,
		BillingCycle: plandomain.CycleMonthly,
		Amount:       decimal.NewFromInt(amount),
		StartDate:    start,
		EndDate:      end,
		Status:       subscriptiondomain.SubscriptionStatusScheduled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, f.db.Create(sub).Error)

	orderID := "order_" + sub.ID.String()
	paymentID := "pay_" + sub.ID.String()
	carriedID := from.ID
	require.NoError(t, f.db.Create(&paymentdomain.Transaction{
		ID:                    f.node.Generate(),
		TenantID:              from.TenantID,
		SubscriptionID:        &sub.ID,
		OrderID:               &orderID,
		PaymentID:             &paymentID,
		Amount:                decimal.NewFromInt(amount),
		NetAmount:             decimal.NewFromInt(paid),
		DiscountAmount:        decimal.NewFromInt(amount - paid),
		Currency:              "INR",
		Type:                  paymentdomain.TransactionTypeUpgradeScheduled,
		Status:                paymentdomain.TransactionStatusSuccess,
		CarriedSubscriptionID: &carriedID,
		CreatedAt:             now,
		UpdatedAt:             now,
	}).Error)
	return sub
}

func (f *fixture) purchaseOf(t *testing.T, subscriptionID snowflake.ID) *paymentdomain.Transaction {
	t.Helper()
	var txn paymentdomain.Transaction
	require.NoError(t, f.db.Where("subscription_id = ? AND type <> ?", subscriptionID, paymentdomain.TransactionTypeCancellation).
		First(&txn).Error)
	return &txn
}

func TestCancelSplitsRefundAcrossFundingPayments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.node.Generate()

	// Growth was paid in full, then replaced by enterprise which carried its
	// 3000 and charged 6000 more.
	growth := f.paid(t, tenantID, subscriptiondomain.SubscriptionStatusCancelled,
		testutil.Date(2024, time.February, 10), testutil.Date(2024, time.March, 11), 3000)
	enterprise := f.carrying(t, growth,
		testutil.Date(2024, time.February, 10), testutil.Date(2024, time.March, 11), 9000, 6000)

	record, err := f.svc.Cancel(ctx, domain.CancelRequest{SubscriptionID: enterprise.ID})
	require.NoError(t, err)
	require.Equal(t, "9000.00", record.Refundable.StringFixed(2))
	require.Len(t, record.Obligations, 2)

	latest, earlier := record.Obligations[0], record.Obligations[1]
	require.Equal(t, "6000.00", latest.Amount.StringFixed(2))
	require.Equal(t, f.purchaseOf(t, enterprise.ID).ID, *latest.ParentTransactionID)
	require.Equal(t, "3000.00", earlier.Amount.StringFixed(2))
	require.Equal(t, f.purchaseOf(t, growth.ID).ID, *earlier.ParentTransactionID)
	require.Equal(t, latest.ID, record.Transaction.ID)

	for _, obligation := range record.Obligations {
		settled, err := f.svc.SettleRefund(ctx, domain.SettleRequest{TransactionID: obligation.ID})
		require.NoError(t, err)
		require.True(t, obligation.Amount.Equal(settled.Refund.Amount))
		require.Equal(t, paymentdomain.TransactionStatusSuccess, f.transaction(t, obligation.ID).Status)
	}

	refunds := f.gateway.Refunds()
	require.Len(t, refunds, 2)
	require.Equal(t, "pay_"+enterprise.ID.String(), refunds[0].PaymentID)
	require.Equal(t, "6000.00", refunds[0].Amount.StringFixed(2))
	require.Equal(t, "pay_"+growth.ID.String(), refunds[1].PaymentID)
	require.Equal(t, "3000.00", refunds[1].Amount.StringFixed(2))
	require.True(t, decimal.NewFromInt(9000).Equal(f.gateway.TotalRefunded()))
}

func TestSettleRefundRejectsAmountBeyondPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenantID := f.node.Generate()

	sub := f.paid(t, tenantID, subscriptiondomain.SubscriptionStatusActive,
		testutil.Date(2024, time.January, 1), testutil.Date(2024, time.January, 31), 3000)
	cancelled, err := f.svc.Cancel(ctx, domain.CancelRequest{SubscriptionID: sub.ID})
	require.NoError(t, err)
	require.Equal(t, "500.00", cancelled.Transaction.Amount.StringFixed(2))

	// Most of the payment was already returned outside this obligation.
	paymentID := "pay_" + sub.ID.String()
	now := f.clock.Now(ctx)
	require.NoError(t, f.db.Create(&paymentdomain.Transaction{
		ID:             f.node.Generate(),
		TenantID:       tenantID,
		PaymentID:      &paymentID,
		Amount:         decimal.NewFromInt(2800),
		NetAmount:      decimal.NewFromInt(2800),
		DiscountAmount: decimal.Zero,
		Currency:       "INR",
		Type:           paymentdomain.TransactionTypeRefund,
		Status:         paymentdomain.TransactionStatusSuccess,
		CreatedAt:      now,
		UpdatedAt:      now,
	}).Error)

	_, err = f.svc.SettleRefund(ctx, domain.SettleRequest{TransactionID: cancelled.Transaction.ID})
	require.ErrorIs(t, err, domain.ErrRefundExceedsPayment)
	require.Equal(t, paymentdomain.TransactionStatusPending, f.transaction(t, cancelled.Transaction.ID).Status)
	require.Equal(t, 0, f.gateway.Calls("create_refund"))

	// An operator can still record a payout made by other means.
	record, err := f.svc.SettleRefund(ctx, domain.SettleRequest{TransactionID: cancelled.Transaction.ID, Manual: true})
	require.NoError(t, err)
	require.Equal(t, "500.00", record.Refund.Amount.StringFixed(2))
}
