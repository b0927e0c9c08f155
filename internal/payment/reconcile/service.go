package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/crmbilling/internal/clock"
	"github.com/railzwaylabs/crmbilling/internal/config"
	"github.com/railzwaylabs/crmbilling/internal/observability"
	paymentdomain "github.com/railzwaylabs/crmbilling/internal/payment/domain"
	plandomain "github.com/railzwaylabs/crmbilling/internal/plan/domain"
	"github.com/railzwaylabs/crmbilling/internal/proration"
	tenantdomain "github.com/railzwaylabs/crmbilling/internal/tenant/domain"
	upgradedomain "github.com/railzwaylabs/crmbilling/internal/upgrade/domain"
	"github.com/railzwaylabs/crmbilling/pkg/db"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const tracerName = "github.com/railzwaylabs/crmbilling/internal/payment/reconcile"

type ConfirmRequest struct {
	TenantID  snowflake.ID
	OrderID   string
	PaymentID string
	Signature string
}

// WebhookResult describes what a delivery did. Duplicate deliveries report
// the outcome recorded by the first one.
type WebhookResult struct {
	EventID            string        `json:"event_id"`
	EventType          string        `json:"event_type"`
	Outcome            string        `json:"outcome"`
	Duplicate          bool          `json:"duplicate"`
	TransactionID      *snowflake.ID `json:"transaction_id,omitempty"`
	SubscriptionID     *snowflake.ID `json:"subscription_id,omitempty"`
	RefundObligationID *snowflake.ID `json:"refund_obligation_id,omitempty"`
}

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	Config          config.Config
	Gateway         paymentdomain.Gateway
	TransactionRepo paymentdomain.TransactionRepository
	EventRepo       paymentdomain.EventRepository
	TenantRepo      tenantdomain.Repository
	PlanSvc         plandomain.Service
	UpgradeSvc      upgradedomain.Service
	Redis           *goredis.Client        `optional:"true"`
	Metrics         *observability.Metrics `optional:"true"`
	Tracer          trace.TracerProvider   `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID           *snowflake.Node
	clock           clock.Clock
	gateway         paymentdomain.Gateway
	transactionRepo paymentdomain.TransactionRepository
	eventRepo       paymentdomain.EventRepository
	tenantRepo      tenantdomain.Repository
	planSvc         plandomain.Service
	upgradeSvc      upgradedomain.Service
	marker          *deliveryMarker
	metrics         *observability.Metrics
	tracer          trace.Tracer

	currency         string
	tolerance        decimal.Decimal
	refundWindowDays int
}

func New(p Params) *Service {
	tp := p.Tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Config.Billing.Currency))
	if currency == "" {
		currency = "INR"
	}
	prefix := p.Config.AppName
	if prefix == "" {
		prefix = "crmbilling"
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("payment.reconcile"),

		genID:           p.GenID,
		clock:           p.Clock,
		gateway:         p.Gateway,
		transactionRepo: p.TransactionRepo,
		eventRepo:       p.EventRepo,
		tenantRepo:      p.TenantRepo,
		planSvc:         p.PlanSvc,
		upgradeSvc:      p.UpgradeSvc,
		marker:          newDeliveryMarker(p.Redis, prefix),
		metrics:         p.Metrics,
		tracer:          tp.Tracer(tracerName),

		currency:         currency,
		tolerance:        decimal.NewFromFloat(p.Config.Billing.AmountTolerance),
		refundWindowDays: p.Config.Billing.RefundWindowDays,
	}
}

// Confirm applies a payment the client reports after checkout. The gateway
// signature is checked before anything is activated.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (*upgradedomain.ActivationResult, error) {
	ctx, span := s.tracer.Start(ctx, "reconcile.Confirm", trace.WithAttributes(
		attribute.String("order_id", req.OrderID),
	))
	defer span.End()

	res, err := s.confirm(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (s *Service) confirm(ctx context.Context, req ConfirmRequest) (*upgradedomain.ActivationResult, error) {
	if req.TenantID == 0 {
		return nil, tenantdomain.ErrInvalidID
	}
	orderID := strings.TrimSpace(req.OrderID)
	paymentID := strings.TrimSpace(req.PaymentID)
	if orderID == "" || paymentID == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	txn, err := s.transactionRepo.FindPurchaseByOrderID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if txn == nil || txn.TenantID != req.TenantID {
		return nil, paymentdomain.ErrTransactionNotFound
	}

	proof := upgradedomain.PaymentProof{OrderID: orderID, PaymentID: paymentID, Signature: strings.TrimSpace(req.Signature)}
	if txn.Status == paymentdomain.TransactionStatusSuccess {
		// The webhook got there first.
		return s.upgradeSvc.Activate(ctx, upgradedomain.ActivateRequest{TenantID: req.TenantID, Proof: proof})
	}

	started := time.Now()
	err = s.gateway.VerifyPaymentSignature(ctx, orderID, paymentID, proof.Signature)
	s.metrics.GatewayCall("verify_payment", outcomeOf(err), time.Since(started).Seconds())
	if err != nil {
		if errors.Is(err, paymentdomain.ErrGatewayUnavailable) {
			return nil, err
		}
		return nil, s.recordVerificationFailure(ctx, txn, proof, err)
	}

	return s.upgradeSvc.Activate(ctx, upgradedomain.ActivateRequest{TenantID: req.TenantID, Proof: proof})
}

func (s *Service) recordVerificationFailure(ctx context.Context, purchase *paymentdomain.Transaction, proof upgradedomain.PaymentProof, cause error) error {
	now := s.clock.Now(ctx)
	orderID, paymentID, signature := proof.OrderID, proof.PaymentID, proof.Signature
	row := &paymentdomain.Transaction{
		ID:             s.genID.Generate(),
		TenantID:       purchase.TenantID,
		OrderID:        &orderID,
		PaymentID:      &paymentID,
		Signature:      &signature,
		Amount:         purchase.NetAmount,
		NetAmount:      purchase.NetAmount,
		DiscountAmount: decimal.Zero,
		Currency:       purchase.Currency,
		Type:           paymentdomain.TransactionTypeVerificationFailed,
		Status:         paymentdomain.TransactionStatusFailed,
		Description:    fmt.Sprintf("payment signature rejected: %v", cause),
		PlanID:         purchase.PlanID,
		BillingCycle:   purchase.BillingCycle,
		Mode:           purchase.Mode,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.transactionRepo.Insert(ctx, s.db, row); err != nil {
		return err
	}

	s.metrics.Activation(string(purchase.Mode), "verification_failed")
	s.log.Warn("payment verification failed",
		zap.String("tenant_id", purchase.TenantID.String()),
		zap.String("order_id", orderID),
		zap.String("payment_id", paymentID),
		zap.Error(cause),
	)
	return &paymentdomain.VerificationFailedError{OrderID: orderID, RefundWindowDays: s.refundWindowDays}
}

// IngestWebhook authenticates, records and applies one gateway delivery.
// Redeliveries of a processed event return the first outcome without side
// effects. An error means the gateway should redeliver.
func (s *Service) IngestWebhook(ctx context.Context, payload []byte, headers http.Header) (*WebhookResult, error) {
	ctx, span := s.tracer.Start(ctx, "reconcile.IngestWebhook")
	defer span.End()

	res, err := s.ingest(ctx, payload, headers)
	if res != nil {
		span.SetAttributes(
			attribute.String("event.id", res.EventID),
			attribute.String("event.type", res.EventType),
			attribute.String("outcome", res.Outcome),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (s *Service) ingest(ctx context.Context, payload []byte, headers http.Header) (*WebhookResult, error) {
	provider := s.gateway.Provider()
	if err := s.gateway.VerifyWebhookSignature(ctx, payload, headers); err != nil {
		s.metrics.WebhookEvent("unknown", "invalid_signature")
		s.log.Warn("webhook signature rejected", zap.String("provider", provider), zap.Int("payload_size", len(payload)))
		return nil, paymentdomain.ErrInvalidSignature
	}

	event, err := s.gateway.ParseWebhook(ctx, payload, headers)
	if err != nil {
		s.metrics.WebhookEvent("unknown", "invalid_payload")
		return nil, err
	}
	result := &WebhookResult{EventID: event.ID, EventType: event.Type}

	acquired, err := s.marker.Acquire(ctx, provider, event.ID)
	if err != nil {
		s.log.Warn("webhook marker unavailable, relying on event ledger", zap.Error(err))
		acquired = true
	}

	record, existing, err := s.recordEvent(ctx, provider, event, payload)
	if err != nil {
		s.releaseMarker(ctx, provider, event.ID, acquired)
		return nil, err
	}
	if existing {
		if record.ProcessedAt != nil && record.Outcome != paymentdomain.OutcomeErrored {
			result.Duplicate = true
			result.Outcome = record.Outcome
			s.metrics.WebhookEvent(event.Type, paymentdomain.OutcomeDuplicate)
			s.log.Info("duplicate webhook delivery",
				zap.String("event_id", event.ID),
				zap.String("first_outcome", record.Outcome),
			)
			return result, nil
		}
		if !acquired {
			result.Duplicate = true
			result.Outcome = paymentdomain.OutcomeProcessing
			s.metrics.WebhookEvent(event.Type, paymentdomain.OutcomeProcessing)
			return result, nil
		}
	}

	outcome, procErr := s.process(ctx, event, result)
	result.Outcome = outcome

	var errMsg *string
	if procErr != nil {
		msg := procErr.Error()
		errMsg = &msg
	}
	if err := s.eventRepo.MarkProcessed(ctx, s.db, record.ID, outcome, errMsg, s.clock.Now(ctx)); err != nil {
		s.log.Error("mark webhook processed failed", zap.String("event_id", event.ID), zap.Error(err))
		if procErr == nil {
			procErr = err
		}
	}
	s.metrics.WebhookEvent(event.Type, outcome)

	if procErr != nil && outcome == paymentdomain.OutcomeErrored {
		s.releaseMarker(ctx, provider, event.ID, acquired)
		s.log.Error("webhook processing failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.String("order_id", event.OrderID),
			zap.Error(procErr),
		)
		return result, procErr
	}
	return result, nil
}

func (s *Service) releaseMarker(ctx context.Context, provider, eventID string, acquired bool) {
	if !acquired {
		return
	}
	if err := s.marker.Release(ctx, provider, eventID); err != nil {
		s.log.Warn("release webhook marker failed", zap.String("event_id", eventID), zap.Error(err))
	}
}

// recordEvent inserts the delivery into the event ledger. The boolean is
// true when the event had been recorded by an earlier delivery.
func (s *Service) recordEvent(ctx context.Context, provider string, event *paymentdomain.WebhookEvent, payload []byte) (*paymentdomain.EventRecord, bool, error) {
	record := &paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: event.ID,
		EventType:       event.Type,
		OrderID:         optional(event.OrderID),
		PaymentID:       optional(event.PaymentID),
		Payload:         datatypes.JSON(maskPayload(payload)),
		ReceivedAt:      s.clock.Now(ctx),
	}
	err := s.eventRepo.Insert(ctx, s.db, record)
	if err == nil {
		return record, false, nil
	}
	if !db.IsDuplicateKey(err) {
		return nil, false, err
	}

	existing, findErr := s.eventRepo.FindByProviderEventID(ctx, s.db, provider, event.ID)
	if findErr != nil {
		return nil, false, findErr
	}
	if existing == nil {
		return nil, false, err
	}
	return existing, true, nil
}

func (s *Service) process(ctx context.Context, event *paymentdomain.WebhookEvent, result *WebhookResult) (string, error) {
	switch event.Type {
	case paymentdomain.EventPaymentCaptured:
		return s.handleCaptured(ctx, event, result)
	case paymentdomain.EventPaymentAuthorized:
		return s.handleAuthorized(ctx, event, result)
	case paymentdomain.EventPaymentFailed:
		return s.handleFailed(ctx, event, result)
	default:
		s.log.Debug("webhook event ignored", zap.String("event_type", event.Type))
		return paymentdomain.OutcomeIgnored, nil
	}
}

func (s *Service) handleCaptured(ctx context.Context, event *paymentdomain.WebhookEvent, result *WebhookResult) (string, error) {
	var txn *paymentdomain.Transaction
	if event.OrderID != "" {
		var err error
		txn, err = s.transactionRepo.FindPurchaseByOrderID(ctx, s.db, event.OrderID)
		if err != nil {
			return paymentdomain.OutcomeErrored, err
		}
	}
	if txn == nil {
		return s.selfHeal(ctx, event, result)
	}

	result.TransactionID = &txn.ID
	switch txn.Status {
	case paymentdomain.TransactionStatusSuccess:
		result.SubscriptionID = txn.SubscriptionID
		return paymentdomain.OutcomeNoop, nil
	case paymentdomain.TransactionStatusPending, paymentdomain.TransactionStatusAuthorized:
	case paymentdomain.TransactionStatusFailed:
		obligation, err := s.transactionRepo.FindByParentAndType(ctx, s.db, txn.ID, paymentdomain.TransactionTypeCancellation)
		if err != nil {
			return paymentdomain.OutcomeErrored, err
		}
		if obligation != nil {
			result.RefundObligationID = &obligation.ID
			return paymentdomain.OutcomeRejected, nil
		}
		fallthrough
	default:
		s.log.Error("captured payment for a closed transaction",
			zap.String("order_id", event.OrderID),
			zap.String("payment_id", event.PaymentID),
			zap.String("status", string(txn.Status)),
		)
		return paymentdomain.OutcomeAmbiguous, paymentdomain.ErrReconciliationAmbiguous
	}

	if event.Amount.Add(s.tolerance).LessThan(txn.NetAmount) {
		s.log.Error("captured amount below order amount",
			zap.String("order_id", event.OrderID),
			zap.String("captured", event.Amount.StringFixed(2)),
			zap.String("expected", txn.NetAmount.StringFixed(2)),
		)
		return paymentdomain.OutcomeAmbiguous, paymentdomain.ErrReconciliationAmbiguous
	}

	res, err := s.upgradeSvc.Activate(ctx, upgradedomain.ActivateRequest{
		TenantID: txn.TenantID,
		Proof: upgradedomain.PaymentProof{
			OrderID:        event.OrderID,
			PaymentID:      event.PaymentID,
			WebhookEventID: event.ID,
		},
	})
	if outcome, ok := rejectedOutcome(err, result); ok {
		return outcome, nil
	}
	if err != nil {
		return paymentdomain.OutcomeErrored, err
	}
	result.SubscriptionID = &res.Subscription.ID
	if res.AlreadyApplied {
		return paymentdomain.OutcomeNoop, nil
	}
	return paymentdomain.OutcomeActivated, nil
}

// selfHeal handles a capture with no pending transaction (the checkout record
// was lost). The tenant is found by billing email and the plan by amount;
// anything short of one clear match is left for an operator.
func (s *Service) selfHeal(ctx context.Context, event *paymentdomain.WebhookEvent, result *WebhookResult) (string, error) {
	log := s.log.With(
		zap.String("event_id", event.ID),
		zap.String("order_id", event.OrderID),
		zap.String("payment_id", event.PaymentID),
		zap.String("amount", event.Amount.StringFixed(2)),
	)
	log.Warn("captured payment has no pending transaction, inferring intent")

	if event.Email == "" {
		log.Error("cannot reconcile capture without billing email")
		return paymentdomain.OutcomeAmbiguous, paymentdomain.ErrReconciliationAmbiguous
	}
	tenant, err := s.tenantRepo.FindByBillingEmail(ctx, s.db, strings.ToLower(event.Email))
	if err != nil {
		return paymentdomain.OutcomeErrored, err
	}
	if tenant == nil {
		log.Error("no tenant for capture billing email")
		return paymentdomain.OutcomeAmbiguous, paymentdomain.ErrReconciliationAmbiguous
	}

	matches, err := s.planSvc.MatchByAmount(ctx, event.Amount, s.tolerance)
	if err != nil {
		return paymentdomain.OutcomeErrored, err
	}
	if !confident(matches, event.Amount) {
		log.Error("capture amount does not identify a single plan",
			zap.String("tenant_id", tenant.ID.String()),
			zap.Int("candidates", len(matches)),
		)
		row, err := s.recordUnreconciled(ctx, tenant.ID, event)
		if err != nil {
			return paymentdomain.OutcomeErrored, err
		}
		result.TransactionID = &row.ID
		return paymentdomain.OutcomeAmbiguous, paymentdomain.ErrReconciliationAmbiguous
	}
	match := matches[0]

	orderID := event.OrderID
	if orderID == "" {
		orderID = "payment:" + event.PaymentID
	}
	now := s.clock.Now(ctx)
	discount := match.Price.Sub(event.Amount)
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	txn := &paymentdomain.Transaction{
		ID:             s.genID.Generate(),
		TenantID:       tenant.ID,
		OrderID:        &orderID,
		Amount:         match.Price,
		NetAmount:      event.Amount,
		DiscountAmount: discount,
		Currency:       s.currency,
		Type:           paymentdomain.TransactionTypePayment,
		Status:         paymentdomain.TransactionStatusPending,
		Description:    fmt.Sprintf("reconstructed from %s webhook: %s %s", event.Type, match.Plan.Name, match.Cycle),
		PlanID:         &match.Plan.ID,
		BillingCycle:   match.Cycle,
		Mode:           proration.ModeImmediate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.transactionRepo.Insert(ctx, s.db, txn); err != nil && !db.IsDuplicateKey(err) {
		return paymentdomain.OutcomeErrored, err
	}

	res, err := s.upgradeSvc.Activate(ctx, upgradedomain.ActivateRequest{
		TenantID: tenant.ID,
		Proof: upgradedomain.PaymentProof{
			OrderID:        orderID,
			PaymentID:      event.PaymentID,
			WebhookEventID: event.ID,
		},
	})
	if outcome, ok := rejectedOutcome(err, result); ok {
		return outcome, nil
	}
	if err != nil {
		return paymentdomain.OutcomeErrored, err
	}

	result.TransactionID = &res.Transaction.ID
	result.SubscriptionID = &res.Subscription.ID
	log.Error("subscription self-healed from webhook",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("plan", match.Plan.Code),
		zap.String("cycle", string(match.Cycle)),
		zap.String("subscription_id", res.Subscription.ID.String()),
	)
	return paymentdomain.OutcomeSelfHealed, nil
}

// rejectedOutcome settles a delivery for a paid order that was closed with a
// refund obligation instead of being applied. Redelivery cannot change that.
func rejectedOutcome(err error, result *WebhookResult) (string, bool) {
	var rejected *upgradedomain.OrderRejectedError
	if !errors.As(err, &rejected) {
		return "", false
	}
	result.TransactionID = &rejected.TransactionID
	result.RefundObligationID = &rejected.RefundObligationID
	return paymentdomain.OutcomeRejected, true
}

// confident holds when exactly one plan price is closest to amount.
func confident(matches []plandomain.PriceMatch, amount decimal.Decimal) bool {
	if len(matches) == 0 {
		return false
	}
	if len(matches) == 1 {
		return true
	}
	first := matches[0].Price.Sub(amount).Abs()
	second := matches[1].Price.Sub(amount).Abs()
	return first.LessThan(second)
}

func (s *Service) recordUnreconciled(ctx context.Context, tenantID snowflake.ID, event *paymentdomain.WebhookEvent) (*paymentdomain.Transaction, error) {
	now := s.clock.Now(ctx)
	row := &paymentdomain.Transaction{
		ID:             s.genID.Generate(),
		TenantID:       tenantID,
		PaymentID:      optional(event.PaymentID),
		Amount:         event.Amount,
		NetAmount:      event.Amount,
		DiscountAmount: decimal.Zero,
		Currency:       s.currency,
		Type:           paymentdomain.TransactionTypePayment,
		Status:         paymentdomain.TransactionStatusFailed,
		WebhookEventID: optional(event.ID),
		Description:    fmt.Sprintf("unreconciled capture for order %q; manual investigation required", event.OrderID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.transactionRepo.Insert(ctx, s.db, row); err != nil {
		return nil, err
	}
	return row, nil
}

func (s *Service) handleAuthorized(ctx context.Context, event *paymentdomain.WebhookEvent, result *WebhookResult) (string, error) {
	if event.OrderID == "" {
		return paymentdomain.OutcomeIgnored, nil
	}
	txn, err := s.transactionRepo.FindPurchaseByOrderID(ctx, s.db, event.OrderID)
	if err != nil {
		return paymentdomain.OutcomeErrored, err
	}
	if txn == nil {
		s.log.Warn("authorized payment for unknown order", zap.String("order_id", event.OrderID))
		return paymentdomain.OutcomeIgnored, nil
	}
	result.TransactionID = &txn.ID

	affected, err := s.transactionRepo.UpdateStatus(ctx, s.db, txn.ID,
		[]paymentdomain.TransactionStatus{paymentdomain.TransactionStatusPending},
		paymentdomain.TransactionStatusAuthorized,
		map[string]any{"payment_id": event.PaymentID, "webhook_event_id": event.ID})
	if err != nil {
		return paymentdomain.OutcomeErrored, err
	}
	if affected == 0 {
		return paymentdomain.OutcomeNoop, nil
	}
	return paymentdomain.OutcomeAuthorized, nil
}

func (s *Service) handleFailed(ctx context.Context, event *paymentdomain.WebhookEvent, result *WebhookResult) (string, error) {
	var tenantID snowflake.ID
	var purchase *paymentdomain.Transaction
	if event.OrderID != "" {
		var err error
		purchase, err = s.transactionRepo.FindPurchaseByOrderID(ctx, s.db, event.OrderID)
		if err != nil {
			return paymentdomain.OutcomeErrored, err
		}
		if purchase != nil {
			tenantID = purchase.TenantID
		}
	}
	if tenantID == 0 && event.Email != "" {
		tenant, err := s.tenantRepo.FindByBillingEmail(ctx, s.db, strings.ToLower(event.Email))
		if err != nil {
			return paymentdomain.OutcomeErrored, err
		}
		if tenant != nil {
			tenantID = tenant.ID
		}
	}
	if tenantID == 0 {
		s.log.Warn("failed payment for unknown tenant", zap.String("order_id", event.OrderID))
		return paymentdomain.OutcomeIgnored, nil
	}

	now := s.clock.Now(ctx)
	description := "payment failed"
	if event.Description != "" {
		description = "payment failed: " + event.Description
	}
	row := &paymentdomain.Transaction{
		ID:             s.genID.Generate(),
		TenantID:       tenantID,
		OrderID:        optional(event.OrderID),
		PaymentID:      optional(event.PaymentID),
		Amount:         event.Amount,
		NetAmount:      event.Amount,
		DiscountAmount: decimal.Zero,
		Currency:       s.currency,
		Type:           paymentdomain.TransactionTypePaymentFailure,
		Status:         paymentdomain.TransactionStatusFailed,
		WebhookEventID: optional(event.ID),
		Description:    description,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if purchase != nil {
		row.PlanID = purchase.PlanID
		row.BillingCycle = purchase.BillingCycle
		row.Mode = purchase.Mode
		row.ParentTransactionID = &purchase.ID
	}
	if err := s.transactionRepo.Insert(ctx, s.db, row); err != nil {
		return paymentdomain.OutcomeErrored, err
	}
	result.TransactionID = &row.ID
	return paymentdomain.OutcomeFailed, nil
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
