package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/railzwaylabs/crmbilling/internal/clock"
	"github.com/railzwaylabs/crmbilling/internal/config"
	"github.com/railzwaylabs/crmbilling/internal/observability"
	paymentdomain "github.com/railzwaylabs/crmbilling/internal/payment/domain"
	plandomain "github.com/railzwaylabs/crmbilling/internal/plan/domain"
	"github.com/railzwaylabs/crmbilling/internal/proration"
	refunddomain "github.com/railzwaylabs/crmbilling/internal/refund/domain"
	subscriptiondomain "github.com/railzwaylabs/crmbilling/internal/subscription/domain"
	tenantdomain "github.com/railzwaylabs/crmbilling/internal/tenant/domain"
	"github.com/railzwaylabs/crmbilling/internal/upgrade/domain"
	"github.com/railzwaylabs/crmbilling/pkg/db"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	reasonSupersededByUpgrade = "superseded by upgrade"
	reasonSupersededByGrant   = "superseded by admin activation"
	reasonScheduledReplaced   = "replaced by a higher scheduled plan"
	reasonScheduledRefunded   = "replaced by a separately paid scheduled plan"
	reasonCurrentRefunded     = "superseded by a full-price upgrade"

	maxActivationAttempts = 2
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	Config           config.Config
	Gateway          paymentdomain.Gateway
	PlanRepo         plandomain.Repository
	TenantRepo       tenantdomain.Repository
	TransactionRepo  paymentdomain.TransactionRepository
	SubscriptionRepo subscriptiondomain.Repository
	SubscriptionSvc  subscriptiondomain.Service
	RefundSvc        refunddomain.Service
	Metrics          *observability.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID            *snowflake.Node
	clock            clock.Clock
	gateway          paymentdomain.Gateway
	planRepo         plandomain.Repository
	tenantRepo       tenantdomain.Repository
	transactionRepo  paymentdomain.TransactionRepository
	subscriptionRepo subscriptiondomain.Repository
	subscriptionSvc  subscriptiondomain.Service
	refundSvc        refunddomain.Service
	metrics          *observability.Metrics

	currency string
	baseline proration.Baseline
}

func New(p Params) domain.Service {
	currency := strings.ToUpper(strings.TrimSpace(p.Config.Billing.Currency))
	if currency == "" {
		currency = "INR"
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("upgrade.service"),

		genID:            p.GenID,
		clock:            p.Clock,
		gateway:          p.Gateway,
		planRepo:         p.PlanRepo,
		tenantRepo:       p.TenantRepo,
		transactionRepo:  p.TransactionRepo,
		subscriptionRepo: p.SubscriptionRepo,
		subscriptionSvc:  p.SubscriptionSvc,
		refundSvc:        p.RefundSvc,
		metrics:          p.Metrics,

		currency: currency,
		baseline: proration.Baseline{
			Amount:     decimal.NewFromFloat(p.Config.Billing.BaselineAmount),
			PeriodDays: p.Config.Billing.BaselinePeriodDays,
		},
	}
}

type intent struct {
	planID snowflake.ID
	cycle  plandomain.BillingCycle
	mode   proration.Mode
}

func (i intent) validate() (intent, error) {
	if i.planID == 0 {
		return i, plandomain.ErrInvalidPlan
	}
	cycle, err := plandomain.ParseBillingCycle(string(i.cycle))
	if err != nil {
		return i, err
	}
	mode, err := proration.ParseMode(string(i.mode))
	if err != nil {
		return i, err
	}
	i.cycle, i.mode = cycle, mode
	return i, nil
}

func (s *Service) Quote(ctx context.Context, req domain.QuoteRequest) (*domain.Quote, error) {
	if req.TenantID == 0 {
		return nil, tenantdomain.ErrInvalidID
	}
	in, err := intent{planID: req.PlanID, cycle: req.Cycle, mode: req.Mode}.validate()
	if err != nil {
		return nil, err
	}

	var quote *domain.Quote
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureTenant(ctx, tx, req.TenantID); err != nil {
			return err
		}
		plan, err := s.purchasablePlan(ctx, tx, in.planID)
		if err != nil {
			return err
		}
		state, err := s.subscriptionSvc.Settle(ctx, tx, req.TenantID)
		if err != nil {
			return err
		}
		quote, err = s.quote(s.clock.Now(ctx), req.TenantID, plan, in, state)
		return err
	})
	if err != nil {
		return nil, err
	}
	return quote, nil
}

func (s *Service) quote(now time.Time, tenantID snowflake.ID, plan *plandomain.Plan, in intent, state subscriptiondomain.State) (*domain.Quote, error) {
	input := proration.Input{
		Mode:        in.mode,
		TargetPrice: plan.Price(in.cycle),
		CycleDays:   in.cycle.Days(),
		Now:         now,
		Baseline:    s.baseline,
	}
	if state.Current != nil {
		input.Current = state.Current.Period()
	}
	if state.Scheduled != nil && in.mode == proration.ModeScheduled {
		input.Scheduled = state.Scheduled.Period()
	}

	calc, err := proration.Calculate(input)
	if err != nil {
		return nil, err
	}
	if calc.BaselineUsed {
		s.log.Warn("baseline rate substituted for zero-amount subscription",
			zap.String("tenant_id", tenantID.String()),
			zap.String("subscription_id", state.Current.ID.String()),
		)
	}

	quote := &domain.Quote{
		TenantID:        tenantID,
		Plan:            *plan,
		Cycle:           in.cycle,
		TransactionType: transactionType(in.mode, state.Current),
		Calculation:     calc,
	}
	if state.Current != nil {
		quote.CurrentSubscriptionID = &state.Current.ID
	}
	if state.Scheduled != nil {
		quote.ScheduledSubscriptionID = &state.Scheduled.ID
	}
	return quote, nil
}

func transactionType(mode proration.Mode, current *subscriptiondomain.Subscription) paymentdomain.TransactionType {
	paid := current != nil && current.Status == subscriptiondomain.SubscriptionStatusActive
	switch mode {
	case proration.ModeExisting:
		return paymentdomain.TransactionTypeUpgradeExisting
	case proration.ModeScheduled:
		if paid {
			return paymentdomain.TransactionTypeUpgradeScheduled
		}
		return paymentdomain.TransactionTypeScheduledPayment
	default:
		if paid {
			return paymentdomain.TransactionTypeUpgradeImmediate
		}
		return paymentdomain.TransactionTypePayment
	}
}

func (s *Service) Checkout(ctx context.Context, req domain.QuoteRequest) (*domain.CheckoutResult, error) {
	quote, err := s.Quote(ctx, req)
	if err != nil {
		return nil, err
	}
	calc := quote.Calculation

	if !calc.AmountPayable.IsPositive() {
		res, err := s.Activate(ctx, domain.ActivateRequest{
			TenantID: req.TenantID,
			PlanID:   quote.Plan.ID,
			Cycle:    quote.Cycle,
			Mode:     calc.Mode,
		})
		if err != nil {
			return nil, err
		}
		return &domain.CheckoutResult{Quote: *quote, Transaction: res.Transaction, Subscription: res.Subscription}, nil
	}

	receipt := "rcpt_" + ulid.Make().String()
	started := time.Now()
	order, err := s.gateway.CreateOrder(ctx, paymentdomain.OrderRequest{
		Amount:   calc.AmountPayable,
		Currency: s.currency,
		Receipt:  receipt,
		Notes: map[string]string{
			"tenant_id": req.TenantID.String(),
			"plan_code": quote.Plan.Code,
			"cycle":     string(quote.Cycle),
			"mode":      string(calc.Mode),
		},
	})
	s.metrics.GatewayCall("create_order", outcomeOf(err), time.Since(started).Seconds())
	if err != nil {
		s.log.Error("create order failed",
			zap.String("tenant_id", req.TenantID.String()),
			zap.String("receipt", receipt),
			zap.Error(err),
		)
		return nil, fmt.Errorf("create order: %w", err)
	}

	now := s.clock.Now(ctx)
	planID := quote.Plan.ID
	orderID := order.ID
	txn := &paymentdomain.Transaction{
		ID:             s.genID.Generate(),
		TenantID:       req.TenantID,
		OrderID:        &orderID,
		Amount:         calc.TargetPrice,
		NetAmount:      calc.AmountPayable,
		DiscountAmount: calc.Discount,
		Currency:       s.currency,
		Type:           quote.TransactionType,
		Status:         paymentdomain.TransactionStatusPending,
		Description:    fmt.Sprintf("%s %s (%s)", quote.Plan.Name, quote.Cycle, calc.Mode),
		PlanID:         &planID,
		BillingCycle:   quote.Cycle,
		Mode:           calc.Mode,
		CreatedAt:      now,
		UpdatedAt:      now,

		CarriedSubscriptionID: carriedFrom(quote),
	}
	if err := s.transactionRepo.Insert(ctx, s.db, txn); err != nil {
		return nil, err
	}

	s.log.Info("checkout opened",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("order_id", orderID),
		zap.String("type", string(txn.Type)),
		zap.String("amount_payable", calc.AmountPayable.StringFixed(2)),
	)
	return &domain.CheckoutResult{Quote: *quote, Transaction: txn, Order: order}, nil
}

func (s *Service) Activate(ctx context.Context, req domain.ActivateRequest) (*domain.ActivationResult, error) {
	if req.TenantID == 0 {
		return nil, tenantdomain.ErrInvalidID
	}
	orderID := strings.TrimSpace(req.Proof.OrderID)

	var (
		result *domain.ActivationResult
		err    error
	)
	for attempt := 1; attempt <= maxActivationAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var txErr error
			result, txErr = s.activate(ctx, tx, req, orderID)
			return txErr
		})
		if err == nil {
			break
		}

		lost := errors.Is(err, paymentdomain.ErrConcurrencyLost) || db.IsDuplicateKey(err) ||
			errors.Is(err, subscriptiondomain.ErrStaleSubscription)
		if !lost {
			break
		}
		if orderID != "" {
			applied, lookupErr := s.appliedResult(ctx, orderID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if applied != nil {
				s.metrics.Activation(string(applied.Transaction.Mode), "already_applied")
				return applied, nil
			}
		}
		s.log.Warn("activation raced with another writer",
			zap.String("tenant_id", req.TenantID.String()),
			zap.String("order_id", orderID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	var rejection *paidOrderRejection
	if errors.As(err, &rejection) {
		err = s.rejectPaidOrder(ctx, req.Proof, orderID, rejection.cause)
	}
	if errors.Is(err, domain.ErrOrderRejected) {
		s.metrics.Activation(string(req.Mode), "rejected")
		return nil, err
	}
	if err != nil {
		if db.IsDuplicateKey(err) || errors.Is(err, paymentdomain.ErrConcurrencyLost) {
			err = fmt.Errorf("%w: %v", domain.ErrActivationConflict, err)
		}
		s.metrics.Activation(string(req.Mode), "error")
		return nil, err
	}

	if result.AlreadyApplied {
		s.metrics.Activation(string(result.Transaction.Mode), "already_applied")
	} else {
		s.metrics.Activation(string(result.Transaction.Mode), "activated")
	}
	return result, nil
}

func (s *Service) activate(ctx context.Context, tx *gorm.DB, req domain.ActivateRequest, orderID string) (*domain.ActivationResult, error) {
	now := s.clock.Now(ctx)
	in := intent{planID: req.PlanID, cycle: req.Cycle, mode: req.Mode}

	var txn *paymentdomain.Transaction
	if orderID != "" {
		var err error
		txn, err = s.transactionRepo.FindPurchaseByOrderIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return nil, err
		}
		if txn == nil {
			return nil, paymentdomain.ErrTransactionNotFound
		}
		if txn.TenantID != req.TenantID {
			return nil, domain.ErrIntentMismatch
		}
		switch txn.Status {
		case paymentdomain.TransactionStatusSuccess:
			return s.loadApplied(ctx, tx, txn)
		case paymentdomain.TransactionStatusPending, paymentdomain.TransactionStatusAuthorized:
		case paymentdomain.TransactionStatusFailed:
			return nil, s.rejectedOrder(ctx, tx, txn)
		default:
			return nil, domain.ErrTransactionClosed
		}
		if in, err = intentFromTransaction(txn, in); err != nil {
			return nil, err
		}
	}

	in, err := in.validate()
	if err != nil {
		return nil, err
	}

	plan, err := s.planRepo.FindByID(ctx, tx, in.planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrPlanNotFound
	}
	if txn == nil {
		// A paid order is honoured even if the plan was retired after
		// checkout. Unpaid activations follow the catalog.
		if !plan.Purchasable() {
			return nil, plandomain.ErrPlanRetired
		}
		if err := s.ensureTenant(ctx, tx, req.TenantID); err != nil {
			return nil, err
		}
	}

	state, err := s.subscriptionSvc.Settle(ctx, tx, req.TenantID)
	if err != nil {
		return nil, err
	}
	priced := state
	if txn != nil {
		if priced, err = paidState(in.mode, txn, state); err != nil {
			return nil, err
		}
	}
	quote, err := s.quote(now, req.TenantID, plan, in, priced)
	if err != nil {
		if txn != nil {
			return nil, &paidOrderRejection{cause: err}
		}
		return nil, err
	}
	calc := quote.Calculation

	if txn == nil && calc.AmountPayable.IsPositive() {
		return nil, domain.ErrPaymentRequired
	}
	if txn != nil && !calc.AmountPayable.Equal(txn.NetAmount) {
		s.log.Warn("payable changed since checkout, honouring paid amount",
			zap.String("order_id", orderID),
			zap.String("paid", txn.NetAmount.StringFixed(2)),
			zap.String("requoted", calc.AmountPayable.StringFixed(2)),
		)
	}

	switch in.mode {
	case proration.ModeExisting, proration.ModeImmediate:
		if state.Current != nil {
			if err := s.supersedeCurrent(ctx, tx, state.Current, carries(txn, state.Current), now); err != nil {
				return nil, err
			}
		}
		if state.Scheduled != nil {
			if err := s.deferScheduled(ctx, tx, state.Scheduled, calc.EndDate); err != nil {
				return nil, err
			}
		}
	case proration.ModeScheduled:
		if state.Scheduled != nil {
			if carries(txn, state.Scheduled) {
				err = s.replaceScheduled(ctx, tx, state.Scheduled, now)
			} else {
				err = s.refundScheduled(ctx, tx, state.Scheduled)
			}
			if err != nil {
				return nil, err
			}
		}
	}

	sub := &subscriptiondomain.Subscription{
		ID:           s.genID.Generate(),
		TenantID:     req.TenantID,
		PlanID:       plan.ID,
		BillingCycle: in.cycle,
		Amount:       periodValue(in.mode, calc, txn),
		StartDate:    calc.StartDate,
		EndDate:      calc.EndDate,
		Status:       subscriptiondomain.SubscriptionStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.mode == proration.ModeScheduled {
		sub.Status = subscriptiondomain.SubscriptionStatusScheduled
	}
	if err := s.subscriptionRepo.Insert(ctx, tx, sub); err != nil {
		return nil, err
	}

	if txn == nil {
		txn = &paymentdomain.Transaction{
			ID:             s.genID.Generate(),
			TenantID:       req.TenantID,
			SubscriptionID: &sub.ID,
			Amount:         sub.Amount,
			NetAmount:      calc.AmountPayable,
			DiscountAmount: calc.Discount,
			Currency:       s.currency,
			Type:           quote.TransactionType,
			Status:         paymentdomain.TransactionStatusSuccess,
			Description:    fmt.Sprintf("%s %s (%s) funded by credit", plan.Name, in.cycle, in.mode),
			PlanID:         &plan.ID,
			BillingCycle:   in.cycle,
			Mode:           in.mode,
			CreatedAt:      now,
			UpdatedAt:      now,

			CarriedSubscriptionID: carriedFrom(quote),
		}
		if err := s.transactionRepo.Insert(ctx, tx, txn); err != nil {
			return nil, err
		}
	} else {
		if err := s.markPaid(ctx, tx, txn, sub.ID, req.Proof); err != nil {
			return nil, err
		}
	}

	if err := s.subscriptionRepo.LinkTransaction(ctx, tx, sub.ID, txn.ID); err != nil {
		return nil, err
	}
	sub.PaymentTransactionID = &txn.ID

	s.log.Info("subscription activated",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("subscription_id", sub.ID.String()),
		zap.String("transaction_id", txn.ID.String()),
		zap.String("mode", string(in.mode)),
		zap.String("status", string(sub.Status)),
		zap.Time("start_date", sub.StartDate),
		zap.Time("end_date", sub.EndDate),
	)
	return &domain.ActivationResult{Subscription: sub, Transaction: txn}, nil
}

// periodValue is the amount a subscription row is credited with: the gross
// price of a paid period, or the credit converted in existing mode.
func periodValue(mode proration.Mode, calc proration.Calculation, txn *paymentdomain.Transaction) decimal.Decimal {
	if mode == proration.ModeExisting {
		return calc.Credit
	}
	if txn != nil {
		return txn.Amount
	}
	return calc.TargetPrice
}

// proofFields copies the payment proof onto txn and returns the columns to
// update.
func proofFields(txn *paymentdomain.Transaction, proof domain.PaymentProof) map[string]any {
	fields := map[string]any{}
	if v := strings.TrimSpace(proof.PaymentID); v != "" {
		fields["payment_id"] = v
		txn.PaymentID = &v
	}
	if v := strings.TrimSpace(proof.Signature); v != "" {
		fields["signature"] = v
		txn.Signature = &v
	}
	if v := strings.TrimSpace(proof.WebhookEventID); v != "" {
		fields["webhook_event_id"] = v
		txn.WebhookEventID = &v
	}
	return fields
}

func (s *Service) markPaid(ctx context.Context, tx *gorm.DB, txn *paymentdomain.Transaction, subscriptionID snowflake.ID, proof domain.PaymentProof) error {
	fields := proofFields(txn, proof)
	fields["subscription_id"] = subscriptionID

	affected, err := s.transactionRepo.UpdateStatus(ctx, tx, txn.ID,
		[]paymentdomain.TransactionStatus{paymentdomain.TransactionStatusPending, paymentdomain.TransactionStatusAuthorized},
		paymentdomain.TransactionStatusSuccess, fields)
	if err != nil {
		return err
	}
	if affected == 0 {
		return paymentdomain.ErrConcurrencyLost
	}
	txn.Status = paymentdomain.TransactionStatusSuccess
	txn.SubscriptionID = &subscriptionID
	return nil
}

// replaceScheduled cancels a queued row whose paid amount is carried into a
// new scheduled purchase. The zero-amount Cancellation row records that no
// refund is owed.
func (s *Service) replaceScheduled(ctx context.Context, tx *gorm.DB, old *subscriptiondomain.Subscription, now time.Time) error {
	if err := s.subscriptionSvc.Transition(ctx, tx, old, subscriptiondomain.SubscriptionStatusCancelled, reasonScheduledReplaced); err != nil {
		return err
	}
	record := &paymentdomain.Transaction{
		ID:             s.genID.Generate(),
		TenantID:       old.TenantID,
		SubscriptionID: &old.ID,
		Amount:         decimal.Zero,
		NetAmount:      decimal.Zero,
		DiscountAmount: old.Amount,
		Currency:       s.currency,
		Type:           paymentdomain.TransactionTypeCancellation,
		Status:         paymentdomain.TransactionStatusSuccess,
		Description:    fmt.Sprintf("scheduled plan replaced; credit %s carried forward, no refund", old.Amount.StringFixed(2)),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return s.transactionRepo.Insert(ctx, tx, record)
}

// refundScheduled cancels a queued row that a full-price scheduled purchase
// replaces. What was paid for it is owed back.
func (s *Service) refundScheduled(ctx context.Context, tx *gorm.DB, old *subscriptiondomain.Subscription) error {
	if err := s.subscriptionSvc.Transition(ctx, tx, old, subscriptiondomain.SubscriptionStatusCancelled, reasonScheduledRefunded); err != nil {
		return err
	}
	_, err := s.refundSvc.OpenObligations(ctx, tx, old, old.Amount, reasonScheduledRefunded)
	return err
}

// supersedeCurrent expires the entitled row. Unless the new purchase was
// discounted by its credit, the unused part is owed back.
func (s *Service) supersedeCurrent(ctx context.Context, tx *gorm.DB, current *subscriptiondomain.Subscription, carried bool, now time.Time) error {
	credit := decimal.Zero
	if !carried && current.Status == subscriptiondomain.SubscriptionStatusActive && current.Amount.IsPositive() {
		credit, _, _, _, _ = proration.RemainingCredit(current.Period(), now, s.baseline)
	}
	reason := reasonSupersededByUpgrade
	if credit.IsPositive() {
		reason = reasonCurrentRefunded
	}
	if err := s.subscriptionSvc.Transition(ctx, tx, current, subscriptiondomain.SubscriptionStatusExpired, reason); err != nil {
		return err
	}
	if !credit.IsPositive() {
		return nil
	}
	_, err := s.refundSvc.OpenObligations(ctx, tx, current, credit, reason)
	return err
}

// deferScheduled moves a queued row so it begins the day after end.
func (s *Service) deferScheduled(ctx context.Context, tx *gorm.DB, scheduled *subscriptiondomain.Subscription, end time.Time) error {
	if scheduled.StartDate.After(end) {
		return nil
	}
	return s.subscriptionSvc.Reschedule(ctx, tx, scheduled, end.AddDate(0, 0, 1))
}

// paidOrderRejection carries why a paid order cannot be applied out of the
// activation transaction, which is rolled back before the order is closed.
type paidOrderRejection struct {
	cause error
}

func (r *paidOrderRejection) Error() string { return r.cause.Error() }

func (r *paidOrderRejection) Unwrap() error { return r.cause }

// paidState is the position a paid order is priced against. Credit is only
// counted from the row the order was discounted by at checkout; any other
// queued or entitled row is replaced and refunded instead.
func paidState(mode proration.Mode, txn *paymentdomain.Transaction, state subscriptiondomain.State) (subscriptiondomain.State, error) {
	priced := state
	switch mode {
	case proration.ModeScheduled:
		if txn.CarriedSubscriptionID != nil {
			if !carries(txn, state.Scheduled) {
				return priced, &paidOrderRejection{cause: domain.ErrCarriedCreditGone}
			}
			return priced, nil
		}
		if state.Scheduled != nil && !txn.Amount.GreaterThan(state.Scheduled.Amount) {
			return priced, &paidOrderRejection{cause: &proration.DowngradeRejectedError{
				NewPrice:       txn.Amount,
				ExistingCredit: state.Scheduled.Amount,
			}}
		}
		priced.Scheduled = nil
	default:
		if txn.CarriedSubscriptionID != nil {
			if !carries(txn, state.Current) {
				return priced, &paidOrderRejection{cause: domain.ErrCarriedCreditGone}
			}
			return priced, nil
		}
		priced.Current = nil
	}
	return priced, nil
}

// carries reports whether the purchase was discounted by row's credit. A
// purchase without a payment is always funded by the credit it was quoted.
func carries(txn *paymentdomain.Transaction, row *subscriptiondomain.Subscription) bool {
	if row == nil {
		return false
	}
	if txn == nil {
		return true
	}
	return txn.CarriedSubscriptionID != nil && *txn.CarriedSubscriptionID == row.ID
}

// carriedFrom names the row whose credit discounts quote, if any.
func carriedFrom(quote *domain.Quote) *snowflake.ID {
	calc := quote.Calculation
	if calc.Mode == proration.ModeScheduled {
		if calc.CarriedCredit.IsPositive() && quote.ScheduledSubscriptionID != nil {
			id := *quote.ScheduledSubscriptionID
			return &id
		}
		return nil
	}
	if calc.Credit.IsPositive() && quote.CurrentSubscriptionID != nil {
		id := *quote.CurrentSubscriptionID
		return &id
	}
	return nil
}

// rejectPaidOrder closes a paid order that cannot be applied as Failed and
// opens an obligation to refund it.
func (s *Service) rejectPaidOrder(ctx context.Context, proof domain.PaymentProof, orderID string, cause error) error {
	reason := fmt.Sprintf("paid order not applied: %v", cause)

	var rejected *domain.OrderRejectedError
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txn, err := s.transactionRepo.FindPurchaseByOrderIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if txn == nil {
			return paymentdomain.ErrTransactionNotFound
		}

		fields := proofFields(txn, proof)
		fields["description"] = reason
		affected, err := s.transactionRepo.UpdateStatus(ctx, tx, txn.ID,
			[]paymentdomain.TransactionStatus{paymentdomain.TransactionStatusPending, paymentdomain.TransactionStatusAuthorized},
			paymentdomain.TransactionStatusFailed, fields)
		if err != nil {
			return err
		}
		if affected == 0 {
			return paymentdomain.ErrConcurrencyLost
		}
		txn.Status = paymentdomain.TransactionStatusFailed
		txn.Description = reason

		obligation, err := s.refundSvc.RefundPurchase(ctx, tx, txn, "paid order not applied")
		if err != nil {
			return err
		}
		rejected = &domain.OrderRejectedError{
			OrderID:            orderID,
			TransactionID:      txn.ID,
			RefundObligationID: obligation.ID,
			Reason:             reason,
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Error("paid order rejected, refund owed",
		zap.String("order_id", orderID),
		zap.String("transaction_id", rejected.TransactionID.String()),
		zap.String("refund_obligation_id", rejected.RefundObligationID.String()),
		zap.Error(cause),
	)
	return rejected
}

// rejectedOrder reports a Failed purchase that was rejected after payment.
func (s *Service) rejectedOrder(ctx context.Context, conn *gorm.DB, txn *paymentdomain.Transaction) error {
	obligation, err := s.transactionRepo.FindByParentAndType(ctx, conn, txn.ID, paymentdomain.TransactionTypeCancellation)
	if err != nil {
		return err
	}
	if obligation == nil {
		return domain.ErrTransactionClosed
	}
	orderID := ""
	if txn.OrderID != nil {
		orderID = *txn.OrderID
	}
	return &domain.OrderRejectedError{
		OrderID:            orderID,
		TransactionID:      txn.ID,
		RefundObligationID: obligation.ID,
		Reason:             txn.Description,
	}
}

func intentFromTransaction(txn *paymentdomain.Transaction, requested intent) (intent, error) {
	recorded := intent{cycle: txn.BillingCycle, mode: txn.Mode}
	if txn.PlanID != nil {
		recorded.planID = *txn.PlanID
	}

	if requested.planID != 0 {
		if recorded.planID != 0 && recorded.planID != requested.planID {
			return recorded, domain.ErrIntentMismatch
		}
		recorded.planID = requested.planID
	}
	if requested.cycle != "" {
		if recorded.cycle != "" && recorded.cycle != requested.cycle {
			return recorded, domain.ErrIntentMismatch
		}
		recorded.cycle = requested.cycle
	}
	if requested.mode != "" {
		if recorded.mode != "" && recorded.mode != requested.mode {
			return recorded, domain.ErrIntentMismatch
		}
		recorded.mode = requested.mode
	}
	return recorded, nil
}

func (s *Service) loadApplied(ctx context.Context, conn *gorm.DB, txn *paymentdomain.Transaction) (*domain.ActivationResult, error) {
	if txn.SubscriptionID == nil {
		return nil, domain.ErrTransactionClosed
	}
	sub, err := s.subscriptionRepo.FindByID(ctx, conn, *txn.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return &domain.ActivationResult{Subscription: sub, Transaction: txn, AlreadyApplied: true}, nil
}

// appliedResult returns the winner's result for orderID, or nil if the order
// has not been activated.
func (s *Service) appliedResult(ctx context.Context, orderID string) (*domain.ActivationResult, error) {
	txn, err := s.transactionRepo.FindPurchaseByOrderID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if txn == nil || txn.Status != paymentdomain.TransactionStatusSuccess || txn.SubscriptionID == nil {
		return nil, nil
	}
	return s.loadApplied(ctx, s.db, txn)
}

func (s *Service) AdminActivate(ctx context.Context, req domain.AdminActivateRequest) (*domain.ActivationResult, error) {
	if req.TenantID == 0 {
		return nil, tenantdomain.ErrInvalidID
	}
	if req.PlanID == 0 {
		return nil, plandomain.ErrInvalidPlan
	}
	if req.Days <= 0 {
		return nil, domain.ErrInvalidGrantPeriod
	}
	cycle := plandomain.CycleMonthly
	if req.Cycle != "" {
		parsed, err := plandomain.ParseBillingCycle(string(req.Cycle))
		if err != nil {
			return nil, err
		}
		cycle = parsed
	}
	note := strings.TrimSpace(req.Note)
	if note == "" {
		note = "admin activation"
	}

	var result *domain.ActivationResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureTenant(ctx, tx, req.TenantID); err != nil {
			return err
		}
		plan, err := s.planRepo.FindByID(ctx, tx, req.PlanID)
		if err != nil {
			return err
		}
		if plan == nil {
			return plandomain.ErrPlanNotFound
		}

		state, err := s.subscriptionSvc.Settle(ctx, tx, req.TenantID)
		if err != nil {
			return err
		}
		if state.Current != nil {
			if err := s.subscriptionSvc.Transition(ctx, tx, state.Current,
				subscriptiondomain.SubscriptionStatusExpired, reasonSupersededByGrant); err != nil {
				return err
			}
		}

		now := s.clock.Now(ctx)
		if state.Scheduled != nil {
			if err := s.deferScheduled(ctx, tx, state.Scheduled, now.AddDate(0, 0, req.Days)); err != nil {
				return err
			}
		}
		sub := &subscriptiondomain.Subscription{
			ID:           s.genID.Generate(),
			TenantID:     req.TenantID,
			PlanID:       plan.ID,
			BillingCycle: cycle,
			Amount:       decimal.Zero,
			StartDate:    now,
			EndDate:      now.AddDate(0, 0, req.Days),
			Status:       subscriptiondomain.SubscriptionStatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.subscriptionRepo.Insert(ctx, tx, sub); err != nil {
			return err
		}

		txn := &paymentdomain.Transaction{
			ID:             s.genID.Generate(),
			TenantID:       req.TenantID,
			SubscriptionID: &sub.ID,
			Amount:         decimal.Zero,
			NetAmount:      decimal.Zero,
			DiscountAmount: decimal.Zero,
			Currency:       s.currency,
			Type:           paymentdomain.TransactionTypeAdminActivation,
			Status:         paymentdomain.TransactionStatusSuccess,
			Description:    note,
			PlanID:         &plan.ID,
			BillingCycle:   cycle,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.transactionRepo.Insert(ctx, tx, txn); err != nil {
			return err
		}
		if err := s.subscriptionRepo.LinkTransaction(ctx, tx, sub.ID, txn.ID); err != nil {
			return err
		}
		sub.PaymentTransactionID = &txn.ID

		result = &domain.ActivationResult{Subscription: sub, Transaction: txn}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Activation("admin", "activated")
	s.log.Info("admin activation granted",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("subscription_id", result.Subscription.ID.String()),
		zap.Int("days", req.Days),
		zap.String("note", note),
	)
	return result, nil
}

func (s *Service) ensureTenant(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) error {
	tenant, err := s.tenantRepo.FindByID(ctx, tx, tenantID)
	if err != nil {
		return err
	}
	if tenant == nil {
		return tenantdomain.ErrUnknownTenant
	}
	return nil
}

func (s *Service) purchasablePlan(ctx context.Context, tx *gorm.DB, planID snowflake.ID) (*plandomain.Plan, error) {
	plan, err := s.planRepo.FindByID(ctx, tx, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrPlanNotFound
	}
	if !plan.Purchasable() {
		return nil, plandomain.ErrPlanRetired
	}
	return plan, nil
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
