package reconcile

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/crmbilling/internal/clock"
	"github.com/railzwaylabs/crmbilling/internal/payment/adapters/razorpay"
	"github.com/railzwaylabs/crmbilling/internal/payment/adapters/sandbox"
	paymentdomain "github.com/railzwaylabs/crmbilling/internal/payment/domain"
	paymentrepository "github.com/railzwaylabs/crmbilling/internal/payment/repository"
	plandomain "github.com/railzwaylabs/crmbilling/internal/plan/domain"
	planrepository "github.com/railzwaylabs/crmbilling/internal/plan/repository"
	planservice "github.com/railzwaylabs/crmbilling/internal/plan/service"
	"github.com/railzwaylabs/crmbilling/internal/proration"
	refundservice "github.com/railzwaylabs/crmbilling/internal/refund/service"
	subscriptiondomain "github.com/railzwaylabs/crmbilling/internal/subscription/domain"
	subscriptionrepository "github.com/railzwaylabs/crmbilling/internal/subscription/repository"
	subscriptionservice "github.com/railzwaylabs/crmbilling/internal/subscription/service"
	tenantdomain "github.com/railzwaylabs/crmbilling/internal/tenant/domain"
	tenantrepository "github.com/railzwaylabs/crmbilling/internal/tenant/repository"
	"github.com/railzwaylabs/crmbilling/internal/testutil"
	upgradedomain "github.com/railzwaylabs/crmbilling/internal/upgrade/domain"
	upgradeservice "github.com/railzwaylabs/crmbilling/internal/upgrade/service"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	gateway *sandbox.Gateway
	upgrade upgradedomain.Service
	svc     *Service
	growth  *plandomain.Plan
}

func newFixture(t *testing.T, redis *goredis.Client) *fixture {
	t.Helper()
	node := testutil.Node(t)
	conn := testutil.NewDB(t, node)
	clk := clock.NewFixed(testutil.Date(2024, time.March, 1))
	cfg := testutil.Config()
	gw := sandbox.New("", "")

	planRepo := planrepository.Provide()
	tenantRepo := tenantrepository.Provide()
	txnRepo := paymentrepository.NewTransactionRepository()
	subRepo := subscriptionrepository.Provide()
	subSvc := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Config:   cfg,
		Repo:     subRepo,
		PlanRepo: planRepo,
	})
	refundSvc := refundservice.New(refundservice.Params{
		DB:               conn,
		Log:              zap.NewNop(),
		GenID:            node,
		Clock:            clk,
		Config:           cfg,
		Gateway:          gw,
		TransactionRepo:  txnRepo,
		SubscriptionRepo: subRepo,
		SubscriptionSvc:  subSvc,
	})
	upgradeSvc := upgradeservice.New(upgradeservice.Params{
		DB:               conn,
		Log:              zap.NewNop(),
		GenID:            node,
		Clock:            clk,
		Config:           cfg,
		Gateway:          gw,
		PlanRepo:         planRepo,
		TenantRepo:       tenantRepo,
		TransactionRepo:  txnRepo,
		SubscriptionRepo: subRepo,
		SubscriptionSvc:  subSvc,
		RefundSvc:        refundSvc,
	})

	svc := New(Params{
		DB:              conn,
		Log:             zap.NewNop(),
		GenID:           node,
		Clock:           clk,
		Config:          cfg,
		Gateway:         gw,
		TransactionRepo: txnRepo,
		EventRepo:       paymentrepository.NewEventRepository(),
		TenantRepo:      tenantRepo,
		PlanSvc:         planservice.New(planservice.Params{DB: conn, Log: zap.NewNop(), Repo: planRepo}),
		UpgradeSvc:      upgradeSvc,
		Redis:           redis,
	})

	return &fixture{db: conn, node: node, gateway: gw, upgrade: upgradeSvc, svc: svc, growth: testutil.Plan(t, conn, "growth")}
}

func (f *fixture) tenant(t *testing.T, email string) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	require.NoError(t, f.db.Create(&tenantdomain.Tenant{ID: id, Name: "Tenant " + id.String(), BillingEmail: email}).Error)
	return id
}

type paid struct {
	tenantID  snowflake.ID
	orderID   string
	paymentID string
	signature string
}

// checkout opens an immediate growth checkout and pays it in the sandbox.
func (f *fixture) checkout(t *testing.T, email string) paid {
	t.Helper()
	tenantID := f.tenant(t, email)
	res, err := f.upgrade.Checkout(context.Background(), upgradedomain.QuoteRequest{
		TenantID: tenantID,
		PlanID:   f.growth.ID,
		Cycle:    plandomain.CycleMonthly,
		Mode:     proration.ModeImmediate,
	})
	require.NoError(t, err)
	paymentID, signature, err := f.gateway.Pay(res.Order.ID, email)
	require.NoError(t, err)
	return paid{tenantID: tenantID, orderID: res.Order.ID, paymentID: paymentID, signature: signature}
}

func (f *fixture) webhook(t *testing.T, eventID, eventType, orderID, paymentID, email string, paise int64) ([]byte, http.Header) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"entity":     "event",
		"event":      eventType,
		"created_at": 1709251200,
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{
					"id":       paymentID,
					"order_id": orderID,
					"amount":   paise,
					"currency": "INR",
					"status":   "captured",
					"email":    email,
					"captured": eventType == paymentdomain.EventPaymentCaptured,
					"card":     map[string]any{"last4": "4242"},
				},
			},
		},
	})
	require.NoError(t, err)

	headers := http.Header{}
	headers.Set(razorpay.HeaderSignature, f.gateway.SignWebhook(body))
	headers.Set(razorpay.HeaderEventID, eventID)
	return body, headers
}

func (f *fixture) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Where(query, args...).Count(&n).Error)
	return n
}

func (f *fixture) purchase(t *testing.T, orderID string) *paymentdomain.Transaction {
	t.Helper()
	var txn paymentdomain.Transaction
	require.NoError(t, f.db.Where("order_id = ? AND type IN ?", orderID, paymentdomain.PurchaseTypes).First(&txn).Error)
	return &txn
}

func TestWebhookCapturedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.checkout(t, "ops@acme.test")

	body, headers := f.webhook(t, "evt_1", paymentdomain.EventPaymentCaptured, p.orderID, p.paymentID, "ops@acme.test", 300000)

	first, err := f.svc.IngestWebhook(ctx, body, headers)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeActivated, first.Outcome)
	require.False(t, first.Duplicate)
	require.NotNil(t, first.SubscriptionID)

	second, err := f.svc.IngestWebhook(ctx, body, headers)
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, paymentdomain.OutcomeActivated, second.Outcome)

	require.EqualValues(t, 1, f.count(t, &subscriptiondomain.Subscription{}, "tenant_id = ? AND status = ?",
		p.tenantID, subscriptiondomain.SubscriptionStatusActive))
	require.EqualValues(t, 1, f.count(t, &paymentdomain.Transaction{}, "tenant_id = ? AND status = ?",
		p.tenantID, paymentdomain.TransactionStatusSuccess))

	txn := f.purchase(t, p.orderID)
	require.Equal(t, paymentdomain.TransactionStatusSuccess, txn.Status)
	require.Equal(t, "evt_1", *txn.WebhookEventID)
	require.Equal(t, p.paymentID, *txn.PaymentID)

	var record paymentdomain.EventRecord
	require.NoError(t, f.db.Where("provider_event_id = ?", "evt_1").First(&record).Error)
	require.NotNil(t, record.ProcessedAt)
	require.Equal(t, paymentdomain.OutcomeActivated, record.Outcome)
	require.NotContains(t, string(record.Payload), "ops@acme.test")
	require.NotContains(t, string(record.Payload), "4242")
}

func TestConfirmAfterWebhookReturnsExistingResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.checkout(t, "ops@acme.test")

	body, headers := f.webhook(t, "evt_2", paymentdomain.EventPaymentCaptured, p.orderID, p.paymentID, "ops@acme.test", 300000)
	hook, err := f.svc.IngestWebhook(ctx, body, headers)
	require.NoError(t, err)

	res, err := f.svc.Confirm(ctx, ConfirmRequest{TenantID: p.tenantID, OrderID: p.orderID, PaymentID: p.paymentID, Signature: p.signature})
	require.NoError(t, err)
	require.True(t, res.AlreadyApplied)
	require.Equal(t, *hook.SubscriptionID, res.Subscription.ID)

	// A later captured event for the same order is a no-op.
	body, headers = f.webhook(t, "evt_3", paymentdomain.EventPaymentCaptured, p.orderID, p.paymentID, "ops@acme.test", 300000)
	again, err := f.svc.IngestWebhook(ctx, body, headers)
	require.NoError(t, err)
	require.False(t, again.Duplicate)
	require.Equal(t, paymentdomain.OutcomeNoop, again.Outcome)
}

func TestConfirmAndWebhookRace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.checkout(t, "race@acme.test")
	body, headers := f.webhook(t, "evt_race", paymentdomain.EventPaymentCaptured, p.orderID, p.paymentID, "race@acme.test", 300000)

	var (
		wg         sync.WaitGroup
		confirmErr error
		webhookErr error
		confirmed  *upgradedomain.ActivationResult
		delivered  *WebhookResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		confirmed, confirmErr = f.svc.Confirm(ctx, ConfirmRequest{TenantID: p.tenantID, OrderID: p.orderID, PaymentID: p.paymentID, Signature: p.signature})
	}()
	go func() {
		defer wg.Done()
		delivered, webhookErr = f.svc.IngestWebhook(ctx, body, headers)
	}()
	wg.Wait()

	require.NoError(t, confirmErr)
	require.NoError(t, webhookErr)
	require.Equal(t, confirmed.Subscription.ID, *delivered.SubscriptionID)
	require.EqualValues(t, 1, f.count(t, &subscriptiondomain.Subscription{}, "tenant_id = ? AND status = ?",
		p.tenantID, subscriptiondomain.SubscriptionStatusActive))
	require.EqualValues(t, 1, f.count(t, &subscriptiondomain.Subscription{}, "tenant_id = ?", p.tenantID))
}

func TestConfirmRejectsForgedSignature(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.checkout(t, "forged@acme.test")

	_, err := f.svc.Confirm(ctx, ConfirmRequest{TenantID: p.tenantID, OrderID: p.orderID, PaymentID: p.paymentID, Signature: "deadbeef"})
	require.ErrorIs(t, err, paymentdomain.ErrPaymentVerificationFailed)
	var failed *paymentdomain.VerificationFailedError
	require.ErrorAs(t, err, &failed)
	require.Equal(t, 7, failed.RefundWindowDays)

	require.Equal(t, paymentdomain.TransactionStatusPending, f.purchase(t, p.orderID).Status)
	require.EqualValues(t, 1, f.count(t, &paymentdomain.Transaction{}, "tenant_id = ? AND type = ? AND status = ?",
		p.tenantID, paymentdomain.TransactionTypeVerificationFailed, paymentdomain.TransactionStatusFailed))
	require.Zero(t, f.count(t, &subscriptiondomain.Subscription{}, "tenant_id = ?", p.tenantID))

	_, err = f.svc.Confirm(ctx, ConfirmRequest{TenantID: f.node.Generate(), OrderID: p.orderID, PaymentID: p.paymentID, Signature: p.signature})
	require.ErrorIs(t, err, paymentdomain.ErrTransactionNotFound)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	body, headers := f.webhook(t, "evt_bad", paymentdomain.EventPaymentCaptured, "order_x", "pay_x", "x@acme.test", 100000)
	headers.Set(razorpay.HeaderSignature, "forged")
	_, err := f.svc.IngestWebhook(ctx, body, headers)
	require.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
	require.Zero(t, f.count(t, &paymentdomain.EventRecord{}, "1 = 1"))
}

func TestWebhookSelfHealsLostCheckout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	tenantID := f.tenant(t, "lost@acme.test")

	body, headers := f.webhook(t, "evt_heal", paymentdomain.EventPaymentCaptured, "order_lost", "pay_lost", "Lost@Acme.test", 299950)
	res, err := f.svc.IngestWebhook(ctx, body, headers)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeSelfHealed, res.Outcome)

	var sub subscriptiondomain.Subscription
	require.NoError(t, f.db.Where("id = ?", *res.SubscriptionID).First(&sub).Error)
	require.Equal(t, tenantID, sub.TenantID)
	require.Equal(t, f.growth.ID, sub.PlanID)
	require.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)

	txn := f.purchase(t, "order_lost")
	require.Equal(t, paymentdomain.TransactionStatusSuccess, txn.Status)
	require.Equal(t, "2999.50", txn.NetAmount.StringFixed(2))
	require.Equal(t, "3000.00", txn.Amount.StringFixed(2))
}

func TestWebhookCaptureForUnappliableOrderIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	email := "twice@acme.test"
	tenantID := f.tenant(t, email)
	require.NoError(t, f.db.Create(&subscriptiondomain.Subscription{
		ID:           f.node.Generate(),
		TenantID:     tenantID,
		PlanID:       f.growth.ID,
		BillingCycle: plandomain.CycleMonthly,
		Amount:       decimal.NewFromInt(3000),
		StartDate:    testutil.Date(2024, time.March, 1),
		EndDate:      testutil.Date(2024, time.March, 31),
		Status:       subscriptiondomain.SubscriptionStatusActive,
	}).Error)

	// Two checkouts for the same next period, both paid.
	var orders []paid
	for i := 0; i < 2; i++ {
		res, err := f.upgrade.Checkout(ctx, upgradedomain.QuoteRequest{
			TenantID: tenantID, PlanID: f.growth.ID, Cycle: plandomain.CycleMonthly, Mode: proration.ModeScheduled,
		})
		require.NoError(t, err)
		paymentID, signature, err := f.gateway.Pay(res.Order.ID, email)
		require.NoError(t, err)
		orders = append(orders, paid{tenantID: tenantID, orderID: res.Order.ID, paymentID: paymentID, signature: signature})
	}

	body, headers := f.webhook(t, "evt_first", paymentdomain.EventPaymentCaptured, orders[0].orderID, orders[0].paymentID, email, 300000)
	first, err := f.svc.IngestWebhook(ctx, body, headers)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeActivated, first.Outcome)

	body, headers = f.webhook(t, "evt_second", paymentdomain.EventPaymentCaptured, orders[1].orderID, orders[1].paymentID, email, 300000)
	second, err := f.svc.IngestWebhook(ctx, body, headers)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeRejected, second.Outcome)
	require.NotNil(t, second.RefundObligationID)

	txn := f.purchase(t, orders[1].orderID)
	require.Equal(t, paymentdomain.TransactionStatusFailed, txn.Status)
	require.Equal(t, orders[1].paymentID, *txn.PaymentID)

	var obligation paymentdomain.Transaction
	require.NoError(t, f.db.Where("id = ?", *second.RefundObligationID).First(&obligation).Error)
	require.Equal(t, paymentdomain.TransactionTypeCancellation, obligation.Type)
	require.Equal(t, paymentdomain.TransactionStatusPending, obligation.Status)
	require.Equal(t, txn.ID, *obligation.ParentTransactionID)
	require.Equal(t, "3000.00", obligation.Amount.StringFixed(2))

	var record paymentdomain.EventRecord
	require.NoError(t, f.db.Where("provider_event_id = ?", "evt_second").First(&record).Error)
	require.Equal(t, paymentdomain.OutcomeRejected, record.Outcome)

	// A fresh delivery for the same capture settles the same way.
	body, headers = f.webhook(t, "evt_second_retry", paymentdomain.EventPaymentCaptured, orders[1].orderID, orders[1].paymentID, email, 300000)
	retry, err := f.svc.IngestWebhook(ctx, body, headers)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeRejected, retry.Outcome)
	require.Equal(t, *second.RefundObligationID, *retry.RefundObligationID)
	require.EqualValues(t, 1, f.count(t, &paymentdomain.Transaction{}, "parent_transaction_id = ? AND type = ?",
		txn.ID, paymentdomain.TransactionTypeCancellation))
	require.EqualValues(t, 1, f.count(t, &subscriptiondomain.Subscription{}, "tenant_id = ? AND status = ?",
		tenantID, subscriptiondomain.SubscriptionStatusScheduled))
}

func TestWebhookAmbiguousCaptureIsRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	tenantID := f.tenant(t, "odd@acme.test")

	body, headers := f.webhook(t, "evt_odd", paymentdomain.EventPaymentCaptured, "order_odd", "pay_odd", "odd@acme.test", 150000)
	res, err := f.svc.IngestWebhook(ctx, body, headers)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeAmbiguous, res.Outcome)
	require.NotNil(t, res.TransactionID)

	require.Zero(t, f.count(t, &subscriptiondomain.Subscription{}, "tenant_id = ?", tenantID))
	require.EqualValues(t, 1, f.count(t, &paymentdomain.Transaction{}, "tenant_id = ? AND status = ?",
		tenantID, paymentdomain.TransactionStatusFailed))

	var record paymentdomain.EventRecord
	require.NoError(t, f.db.Where("provider_event_id = ?", "evt_odd").First(&record).Error)
	require.Equal(t, paymentdomain.OutcomeAmbiguous, record.Outcome)
	require.NotNil(t, record.Error)

	// Unknown billing email is ambiguous too, with nothing written.
	body, headers = f.webhook(t, "evt_stranger", paymentdomain.EventPaymentCaptured, "order_s", "pay_s", "stranger@else.test", 300000)
	res, err = f.svc.IngestWebhook(ctx, body, headers)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeAmbiguous, res.Outcome)
	require.Nil(t, res.TransactionID)
}

func TestWebhookAuthorizedAndFailedNeverActivate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.checkout(t, "auth@acme.test")

	body, headers := f.webhook(t, "evt_auth", paymentdomain.EventPaymentAuthorized, p.orderID, p.paymentID, "auth@acme.test", 300000)
	res, err := f.svc.IngestWebhook(ctx, body, headers)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeAuthorized, res.Outcome)
	require.Equal(t, paymentdomain.TransactionStatusAuthorized, f.purchase(t, p.orderID).Status)

	body, headers = f.webhook(t, "evt_fail", paymentdomain.EventPaymentFailed, p.orderID, "pay_retry", "auth@acme.test", 300000)
	res, err = f.svc.IngestWebhook(ctx, body, headers)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeFailed, res.Outcome)

	var failure paymentdomain.Transaction
	require.NoError(t, f.db.Where("id = ?", *res.TransactionID).First(&failure).Error)
	require.Equal(t, paymentdomain.TransactionTypePaymentFailure, failure.Type)
	require.Equal(t, f.purchase(t, p.orderID).ID, *failure.ParentTransactionID)
	require.Zero(t, f.count(t, &subscriptiondomain.Subscription{}, "tenant_id = ?", p.tenantID))

	// An Authorized purchase still activates on capture.
	body, headers = f.webhook(t, "evt_cap", paymentdomain.EventPaymentCaptured, p.orderID, p.paymentID, "auth@acme.test", 300000)
	res, err = f.svc.IngestWebhook(ctx, body, headers)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeActivated, res.Outcome)

	body, headers = f.webhook(t, "evt_other", "order.paid", p.orderID, p.paymentID, "auth@acme.test", 300000)
	res, err = f.svc.IngestWebhook(ctx, body, headers)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeIgnored, res.Outcome)
}

func TestWebhookMarkerCoalescesInFlightDelivery(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, client)
	p := f.checkout(t, "marker@acme.test")

	// Another replica holds the marker and has recorded but not finished the event.
	key := "crmbilling-test:webhook:sandbox:evt_inflight"
	require.NoError(t, mr.Set(key, "held"))
	require.NoError(t, f.db.Create(&paymentdomain.EventRecord{
		ID:              f.node.Generate(),
		Provider:        sandbox.ProviderName,
		ProviderEventID: "evt_inflight",
		EventType:       paymentdomain.EventPaymentCaptured,
		Payload:         []byte(`{}`),
		ReceivedAt:      testutil.Date(2024, time.March, 1),
	}).Error)

	body, headers := f.webhook(t, "evt_inflight", paymentdomain.EventPaymentCaptured, p.orderID, p.paymentID, "marker@acme.test", 300000)
	res, err := f.svc.IngestWebhook(ctx, body, headers)
	require.NoError(t, err)
	require.True(t, res.Duplicate)
	require.Equal(t, paymentdomain.OutcomeProcessing, res.Outcome)
	require.Equal(t, paymentdomain.TransactionStatusPending, f.purchase(t, p.orderID).Status)

	// A fresh event takes the marker and keeps it after success.
	body, headers = f.webhook(t, "evt_fresh", paymentdomain.EventPaymentCaptured, p.orderID, p.paymentID, "marker@acme.test", 300000)
	res, err = f.svc.IngestWebhook(ctx, body, headers)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeActivated, res.Outcome)
	require.True(t, mr.Exists("crmbilling-test:webhook:sandbox:evt_fresh"))
}

func TestWebhookFallsBackWhenRedisIsDown(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, client)
	p := f.checkout(t, "down@acme.test")
	mr.Close()

	body, headers := f.webhook(t, "evt_down", paymentdomain.EventPaymentCaptured, p.orderID, p.paymentID, "down@acme.test", 300000)
	res, err := f.svc.IngestWebhook(ctx, body, headers)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.OutcomeActivated, res.Outcome)

	res, err = f.svc.IngestWebhook(ctx, body, headers)
	require.NoError(t, err)
	require.True(t, res.Duplicate)
}
