package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/crmbilling/internal/clock"
	"github.com/railzwaylabs/crmbilling/internal/config"
	"github.com/railzwaylabs/crmbilling/internal/observability"
	paymentdomain "github.com/railzwaylabs/crmbilling/internal/payment/domain"
	"github.com/railzwaylabs/crmbilling/internal/proration"
	"github.com/railzwaylabs/crmbilling/internal/refund/domain"
	subscriptiondomain "github.com/railzwaylabs/crmbilling/internal/subscription/domain"
	"github.com/railzwaylabs/crmbilling/pkg/db"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultCancelReason = "cancelled by request"
	defaultPendingLimit = 200

	maxFundingDepth = 32
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	Config           config.Config
	Gateway          paymentdomain.Gateway
	TransactionRepo  paymentdomain.TransactionRepository
	SubscriptionRepo subscriptiondomain.Repository
	SubscriptionSvc  subscriptiondomain.Service
	Metrics          *observability.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID            *snowflake.Node
	clock            clock.Clock
	gateway          paymentdomain.Gateway
	transactionRepo  paymentdomain.TransactionRepository
	subscriptionRepo subscriptiondomain.Repository
	subscriptionSvc  subscriptiondomain.Service
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
		log: p.Log.Named("refund.service"),

		genID:            p.GenID,
		clock:            p.Clock,
		gateway:          p.Gateway,
		transactionRepo:  p.TransactionRepo,
		subscriptionRepo: p.SubscriptionRepo,
		subscriptionSvc:  p.SubscriptionSvc,
		metrics:          p.Metrics,

		currency: currency,
		baseline: proration.Baseline{
			Amount:     decimal.NewFromFloat(p.Config.Billing.BaselineAmount),
			PeriodDays: p.Config.Billing.BaselinePeriodDays,
		},
	}
}

func (s *Service) Cancel(ctx context.Context, req domain.CancelRequest) (*domain.CancellationRecord, error) {
	if req.SubscriptionID == 0 {
		return nil, subscriptiondomain.ErrInvalidSubscription
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = defaultCancelReason
	}

	var record *domain.CancellationRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subscriptionRepo.FindByID(ctx, tx, req.SubscriptionID)
		if err != nil {
			return err
		}
		if sub == nil || (req.TenantID != 0 && sub.TenantID != req.TenantID) {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		// Apply due transitions first so a row that has already ended is not
		// refunded.
		if _, err := s.subscriptionSvc.Settle(ctx, tx, sub.TenantID); err != nil {
			return err
		}
		sub, err = s.subscriptionRepo.FindByIDForUpdate(ctx, tx, req.SubscriptionID)
		if err != nil {
			return err
		}

		if sub.Status == subscriptiondomain.SubscriptionStatusCancelled {
			existing, err := s.transactionRepo.ListBySubscriptionAndType(ctx, tx, sub.ID, paymentdomain.TransactionTypeCancellation)
			if err != nil {
				return err
			}
			if len(existing) == 0 {
				return subscriptiondomain.ErrSubscriptionTerminal
			}
			record = &domain.CancellationRecord{
				Subscription:     sub,
				Transaction:      &existing[0],
				Obligations:      existing,
				Refundable:       total(existing),
				AlreadyCancelled: true,
			}
			return nil
		}

		now := s.clock.Now(ctx)
		var refundable decimal.Decimal
		switch sub.Status {
		case subscriptiondomain.SubscriptionStatusActive:
			credit, _, _, _, usedBaseline := proration.RemainingCredit(sub.Period(), now, s.baseline)
			if usedBaseline {
				s.log.Warn("baseline rate substituted for zero-amount subscription",
					zap.String("subscription_id", sub.ID.String()))
			}
			refundable = credit
		case subscriptiondomain.SubscriptionStatusScheduled:
			refundable = sub.Amount.Round(2)
		default:
			return domain.ErrNotCancellable
		}

		if err := s.subscriptionSvc.Transition(ctx, tx, sub, subscriptiondomain.SubscriptionStatusCancelled, reason); err != nil {
			return err
		}

		obligations, err := s.OpenObligations(ctx, tx, sub, refundable, reason)
		if err != nil {
			return err
		}

		record = &domain.CancellationRecord{
			Subscription: sub,
			Transaction:  &obligations[0],
			Obligations:  obligations,
			Refundable:   refundable,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !record.AlreadyCancelled {
		s.log.Info("subscription cancelled",
			zap.String("tenant_id", record.Subscription.TenantID.String()),
			zap.String("subscription_id", record.Subscription.ID.String()),
			zap.String("refundable", record.Refundable.StringFixed(2)),
		)
	}
	return record, nil
}

func (s *Service) OpenObligations(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription, owed decimal.Decimal, reason string) ([]paymentdomain.Transaction, error) {
	if sub == nil {
		return nil, subscriptiondomain.ErrInvalidSubscription
	}
	owed = owed.Round(2)
	now := s.clock.Now(ctx)

	if !owed.IsPositive() {
		row := s.newObligation(sub, decimal.Zero, "nothing to refund: "+reason, now)
		row.Status = paymentdomain.TransactionStatusSuccess
		if err := s.transactionRepo.Insert(ctx, tx, row); err != nil {
			return nil, err
		}
		return []paymentdomain.Transaction{*row}, nil
	}

	shares, err := s.allocate(ctx, tx, sub.ID, owed)
	if err != nil {
		return nil, err
	}

	out := make([]paymentdomain.Transaction, 0, len(shares)+1)
	remaining := owed
	for _, share := range shares {
		row := s.newObligation(sub, share.amount, "refund pending: "+reason, now)
		parentID := share.purchase.ID
		row.ParentTransactionID = &parentID
		if err := s.transactionRepo.Insert(ctx, tx, row); err != nil {
			return nil, err
		}
		out = append(out, *row)
		remaining = remaining.Sub(share.amount)
	}
	if remaining.IsPositive() {
		if len(shares) > 0 {
			s.log.Warn("refund owed exceeds funding payments",
				zap.String("subscription_id", sub.ID.String()),
				zap.String("owed", owed.StringFixed(2)),
				zap.String("uncovered", remaining.StringFixed(2)),
			)
		}
		row := s.newObligation(sub, remaining, "refund pending: "+reason, now)
		if err := s.transactionRepo.Insert(ctx, tx, row); err != nil {
			return nil, err
		}
		out = append(out, *row)
	}
	return out, nil
}

func (s *Service) RefundPurchase(ctx context.Context, tx *gorm.DB, purchase *paymentdomain.Transaction, reason string) (*paymentdomain.Transaction, error) {
	if purchase == nil {
		return nil, domain.ErrOriginalPaymentNotFound
	}
	existing, err := s.transactionRepo.FindByParentAndType(ctx, tx, purchase.ID, paymentdomain.TransactionTypeCancellation)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := s.clock.Now(ctx)
	amount := purchase.NetAmount.Round(2)
	parentID := purchase.ID
	row := &paymentdomain.Transaction{
		ID:                  s.genID.Generate(),
		TenantID:            purchase.TenantID,
		Amount:              amount,
		NetAmount:           amount,
		DiscountAmount:      decimal.Zero,
		Currency:            purchase.Currency,
		Type:                paymentdomain.TransactionTypeCancellation,
		Status:              paymentdomain.TransactionStatusPending,
		Description:         "refund pending: " + reason,
		PlanID:              purchase.PlanID,
		BillingCycle:        purchase.BillingCycle,
		ParentTransactionID: &parentID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if !amount.IsPositive() {
		row.Status = paymentdomain.TransactionStatusSuccess
		row.Description = "nothing to refund: " + reason
	}
	if err := s.transactionRepo.Insert(ctx, tx, row); err != nil {
		return nil, err
	}
	return row, nil
}

func (s *Service) newObligation(sub *subscriptiondomain.Subscription, amount decimal.Decimal, description string, now time.Time) *paymentdomain.Transaction {
	planID := sub.PlanID
	subscriptionID := sub.ID
	return &paymentdomain.Transaction{
		ID:             s.genID.Generate(),
		TenantID:       sub.TenantID,
		SubscriptionID: &subscriptionID,
		Amount:         amount,
		NetAmount:      amount,
		DiscountAmount: decimal.Zero,
		Currency:       s.currency,
		Type:           paymentdomain.TransactionTypeCancellation,
		Status:         paymentdomain.TransactionStatusPending,
		Description:    description,
		PlanID:         &planID,
		BillingCycle:   sub.BillingCycle,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

type fundingShare struct {
	purchase paymentdomain.Transaction
	amount   decimal.Decimal
}

// allocate splits owed across the payments that funded a subscription,
// newest first. A payment never covers more than it has left after the
// obligations already opened against it.
func (s *Service) allocate(ctx context.Context, conn *gorm.DB, subscriptionID snowflake.ID, owed decimal.Decimal) ([]fundingShare, error) {
	chain, err := s.fundingChain(ctx, conn, subscriptionID)
	if err != nil {
		return nil, err
	}

	var shares []fundingShare
	remaining := owed
	for _, purchase := range chain {
		if !remaining.IsPositive() {
			break
		}
		if purchase.PaymentID == nil || !purchase.NetAmount.IsPositive() {
			continue
		}
		committed, err := s.committed(ctx, conn, purchase.ID)
		if err != nil {
			return nil, err
		}
		available := purchase.NetAmount.Sub(committed)
		if !available.IsPositive() {
			continue
		}
		amount := decimal.Min(available, remaining)
		shares = append(shares, fundingShare{purchase: purchase, amount: amount})
		remaining = remaining.Sub(amount)
	}
	return shares, nil
}

// fundingChain returns the purchase of subscriptionID followed by the
// purchases of every row whose credit it carried.
func (s *Service) fundingChain(ctx context.Context, conn *gorm.DB, subscriptionID snowflake.ID) ([]paymentdomain.Transaction, error) {
	var chain []paymentdomain.Transaction
	seen := make(map[snowflake.ID]bool)
	next := &subscriptionID
	for next != nil && !seen[*next] && len(chain) < maxFundingDepth {
		seen[*next] = true
		purchase, err := s.transactionRepo.FindPurchaseBySubscription(ctx, conn, *next)
		if err != nil {
			return nil, err
		}
		if purchase == nil {
			break
		}
		chain = append(chain, *purchase)
		next = purchase.CarriedSubscriptionID
	}
	return chain, nil
}

func (s *Service) committed(ctx context.Context, conn *gorm.DB, purchaseID snowflake.ID) (decimal.Decimal, error) {
	rows, err := s.transactionRepo.ListByParentAndType(ctx, conn, purchaseID, paymentdomain.TransactionTypeCancellation)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, row := range rows {
		switch row.Status {
		case paymentdomain.TransactionStatusPending, paymentdomain.TransactionStatusAuthorized, paymentdomain.TransactionStatusSuccess:
			sum = sum.Add(row.Amount)
		}
	}
	return sum, nil
}

func total(rows []paymentdomain.Transaction) decimal.Decimal {
	sum := decimal.Zero
	for _, row := range rows {
		sum = sum.Add(row.Amount)
	}
	return sum
}

func (s *Service) SettleRefund(ctx context.Context, req domain.SettleRequest) (*domain.RefundRecord, error) {
	if req.TransactionID == 0 {
		return nil, paymentdomain.ErrTransactionNotFound
	}
	channel := "gateway"
	if req.Manual {
		channel = "manual"
	}

	obligation, err := s.transactionRepo.FindByID(ctx, s.db, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if obligation == nil {
		return nil, paymentdomain.ErrTransactionNotFound
	}
	if obligation.Type != paymentdomain.TransactionTypeCancellation {
		return nil, domain.ErrNotRefundObligation
	}

	settled, err := s.transactionRepo.FindRefundByParent(ctx, s.db, obligation.ID)
	if err != nil {
		return nil, err
	}
	if settled != nil {
		return &domain.RefundRecord{Cancellation: obligation, Refund: settled, AlreadySettled: true}, nil
	}

	switch obligation.Status {
	case paymentdomain.TransactionStatusPending:
	case paymentdomain.TransactionStatusAuthorized:
		// Another settlement claimed it. An operator who has checked the
		// gateway may still record it by hand.
		if !req.Manual {
			return nil, domain.ErrRefundInProgress
		}
	case paymentdomain.TransactionStatusSuccess:
		return nil, domain.ErrNothingToRefund
	default:
		return nil, domain.ErrNotRefundObligation
	}

	original, err := s.originalPayment(ctx, obligation)
	if err != nil {
		return nil, err
	}
	if !req.Manual {
		if err := s.ensureRefundable(ctx, obligation, original); err != nil {
			return nil, err
		}
	}

	if obligation.Status == paymentdomain.TransactionStatusPending {
		claimed, err := s.transactionRepo.UpdateStatus(ctx, s.db, obligation.ID,
			[]paymentdomain.TransactionStatus{paymentdomain.TransactionStatusPending},
			paymentdomain.TransactionStatusAuthorized, nil)
		if err != nil {
			return nil, err
		}
		if claimed == 0 {
			return nil, domain.ErrRefundInProgress
		}
	}

	amount := obligation.Amount
	var gatewayRefundID *string
	if !req.Manual {
		refund, err := s.refundThroughGateway(ctx, obligation, original, req.OperatorNotes)
		if err != nil {
			s.release(ctx, obligation.ID)
			s.metrics.Refund(channel, "error")
			return nil, err
		}
		amount = refund.Amount
		gatewayRefundID = &refund.ID
	}

	record, err := s.recordRefund(ctx, obligation, original, amount, gatewayRefundID, req)
	if err != nil {
		if db.IsDuplicateKey(err) {
			settled, findErr := s.transactionRepo.FindRefundByParent(ctx, s.db, obligation.ID)
			if findErr == nil && settled != nil {
				return &domain.RefundRecord{Cancellation: obligation, Refund: settled, AlreadySettled: true}, nil
			}
		}
		s.metrics.Refund(channel, "error")
		s.log.Error("record refund failed",
			zap.String("cancellation_id", obligation.ID.String()),
			zap.Stringp("gateway_refund_id", gatewayRefundID),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.Refund(channel, "settled")
	s.log.Info("refund settled",
		zap.String("tenant_id", obligation.TenantID.String()),
		zap.String("cancellation_id", obligation.ID.String()),
		zap.String("refund_id", record.Refund.ID.String()),
		zap.String("channel", channel),
		zap.String("amount", amount.StringFixed(2)),
	)
	return record, nil
}

// originalPayment finds the purchase that funded the cancelled subscription.
func (s *Service) originalPayment(ctx context.Context, obligation *paymentdomain.Transaction) (*paymentdomain.Transaction, error) {
	if obligation.ParentTransactionID != nil {
		return s.transactionRepo.FindByID(ctx, s.db, *obligation.ParentTransactionID)
	}
	if obligation.SubscriptionID != nil {
		original, err := s.transactionRepo.FindPurchaseBySubscription(ctx, s.db, *obligation.SubscriptionID)
		if err != nil {
			return nil, err
		}
		if original != nil && original.PaymentID != nil {
			return original, nil
		}
	}

	// Compatibility: rows created before purchases were linked to their
	// subscription are refunded against the tenant's latest payment.
	original, err := s.transactionRepo.FindLatestPurchaseByTenant(ctx, s.db, obligation.TenantID)
	if err != nil {
		return nil, err
	}
	if original != nil {
		s.log.Warn("refund falls back to most recent tenant payment",
			zap.String("cancellation_id", obligation.ID.String()),
			zap.String("payment_transaction_id", original.ID.String()),
		)
	}
	return original, nil
}

func (s *Service) refundThroughGateway(ctx context.Context, obligation, original *paymentdomain.Transaction, notes string) (*paymentdomain.Refund, error) {
	if original == nil || original.PaymentID == nil {
		return nil, domain.ErrOriginalPaymentNotFound
	}

	started := time.Now()
	refund, err := s.gateway.CreateRefund(ctx, paymentdomain.RefundRequest{
		PaymentID: *original.PaymentID,
		Amount:    obligation.Amount,
		Notes: map[string]string{
			"cancellation_id": obligation.ID.String(),
			"tenant_id":       obligation.TenantID.String(),
			"notes":           notes,
		},
	})
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.GatewayCall("create_refund", outcome, time.Since(started).Seconds())
	if err != nil {
		s.log.Error("gateway refund failed, obligation left pending",
			zap.String("cancellation_id", obligation.ID.String()),
			zap.String("payment_id", *original.PaymentID),
			zap.Error(err),
		)
		if errors.Is(err, paymentdomain.ErrGatewayUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrGatewayUnavailable, err)
	}
	return refund, nil
}

// ensureRefundable rejects a gateway refund larger than what is left of the
// original payment. Such obligations are settled manually.
func (s *Service) ensureRefundable(ctx context.Context, obligation, original *paymentdomain.Transaction) error {
	if original == nil || original.PaymentID == nil {
		return domain.ErrOriginalPaymentNotFound
	}
	refunds, err := s.transactionRepo.ListRefundsByPayment(ctx, s.db, *original.PaymentID)
	if err != nil {
		return err
	}
	left := original.NetAmount.Sub(total(refunds))
	if obligation.Amount.GreaterThan(left) {
		s.log.Warn("refund exceeds what is left of the payment",
			zap.String("cancellation_id", obligation.ID.String()),
			zap.String("payment_id", *original.PaymentID),
			zap.String("owed", obligation.Amount.StringFixed(2)),
			zap.String("left", left.StringFixed(2)),
		)
		return domain.ErrRefundExceedsPayment
	}
	return nil
}

// release hands a claimed obligation back so it can be retried.
func (s *Service) release(ctx context.Context, id snowflake.ID) {
	_, err := s.transactionRepo.UpdateStatus(ctx, s.db, id,
		[]paymentdomain.TransactionStatus{paymentdomain.TransactionStatusAuthorized},
		paymentdomain.TransactionStatusPending, nil)
	if err != nil {
		s.log.Error("release refund claim failed", zap.String("cancellation_id", id.String()), zap.Error(err))
	}
}

func (s *Service) recordRefund(
	ctx context.Context,
	obligation, original *paymentdomain.Transaction,
	amount decimal.Decimal,
	gatewayRefundID *string,
	req domain.SettleRequest,
) (*domain.RefundRecord, error) {
	notes := strings.TrimSpace(req.OperatorNotes)
	description := "refund for cancellation " + obligation.ID.String()
	if req.Manual {
		description = "manual " + description
	}
	if notes != "" {
		description += ": " + notes
	}

	var record *domain.RefundRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now(ctx)
		parentID := obligation.ID
		refund := &paymentdomain.Transaction{
			ID:                  s.genID.Generate(),
			TenantID:            obligation.TenantID,
			SubscriptionID:      obligation.SubscriptionID,
			Amount:              amount,
			NetAmount:           amount,
			DiscountAmount:      decimal.Zero,
			Currency:            obligation.Currency,
			Type:                paymentdomain.TransactionTypeRefund,
			Status:              paymentdomain.TransactionStatusSuccess,
			Description:         description,
			ParentTransactionID: &parentID,
			GatewayRefundID:     gatewayRefundID,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if original != nil {
			refund.PaymentID = original.PaymentID
		}
		if err := s.transactionRepo.Insert(ctx, tx, refund); err != nil {
			return err
		}

		affected, err := s.transactionRepo.UpdateStatus(ctx, tx, obligation.ID,
			[]paymentdomain.TransactionStatus{paymentdomain.TransactionStatusPending, paymentdomain.TransactionStatusAuthorized},
			paymentdomain.TransactionStatusSuccess,
			map[string]any{"description": strings.Replace(obligation.Description, "refund pending", "refunded", 1)})
		if err != nil {
			return err
		}
		if affected == 0 {
			return paymentdomain.ErrConcurrencyLost
		}

		if obligation.SubscriptionID != nil {
			reason := subscriptiondomain.PermanentCancellationMarker
			if notes != "" {
				reason += " (" + notes + ")"
			}
			sealed, err := s.subscriptionRepo.UpdateReason(ctx, tx, *obligation.SubscriptionID,
				subscriptiondomain.SubscriptionStatusCancelled, reason)
			if err != nil {
				return err
			}
			if sealed == 0 {
				s.log.Debug("refunded subscription is not cancelled, status kept",
					zap.String("subscription_id", obligation.SubscriptionID.String()))
			}
		}

		settledObligation := *obligation
		settledObligation.Status = paymentdomain.TransactionStatusSuccess
		record = &domain.RefundRecord{Cancellation: &settledObligation, Refund: refund}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Service) PendingRefunds(ctx context.Context, limit int) ([]paymentdomain.Transaction, error) {
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	pending, err := s.transactionRepo.ListByTypeAndStatus(ctx, s.db,
		paymentdomain.TransactionTypeCancellation, paymentdomain.TransactionStatusPending, limit)
	if err != nil {
		return nil, err
	}
	claimed, err := s.transactionRepo.ListByTypeAndStatus(ctx, s.db,
		paymentdomain.TransactionTypeCancellation, paymentdomain.TransactionStatusAuthorized, limit)
	if err != nil {
		return nil, err
	}

	out := append(pending, claimed...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
