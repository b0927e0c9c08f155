package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/railzwaylabs/crmbilling/internal/authorization"
	paymentdomain "github.com/railzwaylabs/crmbilling/internal/payment/domain"
	plandomain "github.com/railzwaylabs/crmbilling/internal/plan/domain"
	"github.com/railzwaylabs/crmbilling/internal/proration"
	refunddomain "github.com/railzwaylabs/crmbilling/internal/refund/domain"
	subscriptiondomain "github.com/railzwaylabs/crmbilling/internal/subscription/domain"
	tenantdomain "github.com/railzwaylabs/crmbilling/internal/tenant/domain"
	upgradedomain "github.com/railzwaylabs/crmbilling/internal/upgrade/domain"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = authorization.ErrForbidden
	ErrRateLimited  = errors.New("rate_limited")
	ErrNotFound     = errors.New("not_found")
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field   string
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func newValidationError(field, code, message string) *ValidationError {
	return &ValidationError{Field: field, Code: code, Message: message}
}

func invalidRequestError() *ValidationError {
	return newValidationError("body", "invalid_request", "invalid request body")
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// AbortWithError writes the error envelope and stops the handler chain.
func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	status, body := classifyError(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

func classifyError(err error) (int, errorBody) {
	var validation *ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest, errorBody{
			Code:    validation.Code,
			Message: validation.Message,
			Details: map[string]any{"field": validation.Field},
		}
	}

	var rejected *upgradedomain.OrderRejectedError
	if errors.As(err, &rejected) {
		return http.StatusConflict, errorBody{
			Code:    upgradedomain.ErrOrderRejected.Error(),
			Message: rejected.Error(),
			Details: map[string]any{
				"order_id":             rejected.OrderID,
				"transaction_id":       rejected.TransactionID.String(),
				"refund_obligation_id": rejected.RefundObligationID.String(),
			},
		}
	}

	var insufficient *proration.InsufficientCreditError
	if errors.As(err, &insufficient) {
		return http.StatusUnprocessableEntity, errorBody{
			Code:    "insufficient_credit",
			Message: insufficient.Error(),
			Details: map[string]any{
				"credit":    insufficient.Credit.StringFixed(2),
				"required":  insufficient.Required.StringFixed(2),
				"shortfall": insufficient.Shortfall.StringFixed(2),
			},
		}
	}

	var downgrade *proration.DowngradeRejectedError
	if errors.As(err, &downgrade) {
		return http.StatusUnprocessableEntity, errorBody{
			Code:    "downgrade_rejected",
			Message: downgrade.Error(),
			Details: map[string]any{
				"new_price":       downgrade.NewPrice.StringFixed(2),
				"existing_credit": downgrade.ExistingCredit.StringFixed(2),
			},
		}
	}

	var verification *paymentdomain.VerificationFailedError
	if errors.As(err, &verification) {
		return http.StatusPaymentRequired, errorBody{
			Code:    paymentdomain.ErrPaymentVerificationFailed.Error(),
			Message: verification.Error(),
			Details: map[string]any{
				"order_id":           verification.OrderID,
				"refund_window_days": verification.RefundWindowDays,
			},
		}
	}

	for _, m := range errorStatuses {
		if errors.Is(err, m.err) {
			return m.status, errorBody{Code: m.err.Error(), Message: m.err.Error()}
		}
	}
	return http.StatusInternalServerError, errorBody{Code: "internal_error", Message: "internal error"}
}

var errorStatuses = []struct {
	err    error
	status int
}{
	{ErrUnauthorized, http.StatusUnauthorized},
	{ErrForbidden, http.StatusForbidden},
	{ErrRateLimited, http.StatusTooManyRequests},
	{ErrNotFound, http.StatusNotFound},

	{tenantdomain.ErrInvalidName, http.StatusBadRequest},
	{tenantdomain.ErrInvalidEmail, http.StatusBadRequest},
	{tenantdomain.ErrInvalidID, http.StatusBadRequest},
	{plandomain.ErrInvalidPlan, http.StatusBadRequest},
	{plandomain.ErrInvalidCycle, http.StatusBadRequest},
	{proration.ErrInvalidMode, http.StatusBadRequest},
	{upgradedomain.ErrInvalidRequest, http.StatusBadRequest},
	{upgradedomain.ErrInvalidGrantPeriod, http.StatusBadRequest},
	{subscriptiondomain.ErrInvalidTenant, http.StatusBadRequest},
	{subscriptiondomain.ErrInvalidSubscription, http.StatusBadRequest},
	{paymentdomain.ErrInvalidSignature, http.StatusBadRequest},
	{paymentdomain.ErrInvalidPayload, http.StatusBadRequest},
	{paymentdomain.ErrInvalidEvent, http.StatusBadRequest},
	{paymentdomain.ErrInvalidAmount, http.StatusBadRequest},

	{tenantdomain.ErrUnknownTenant, http.StatusNotFound},
	{plandomain.ErrPlanNotFound, http.StatusNotFound},
	{subscriptiondomain.ErrSubscriptionNotFound, http.StatusNotFound},
	{subscriptiondomain.ErrNoActiveSubscription, http.StatusNotFound},
	{paymentdomain.ErrTransactionNotFound, http.StatusNotFound},

	{paymentdomain.ErrPaymentVerificationFailed, http.StatusPaymentRequired},
	{upgradedomain.ErrPaymentRequired, http.StatusPaymentRequired},

	{subscriptiondomain.ErrTrialAlreadyStarted, http.StatusConflict},
	{subscriptiondomain.ErrInvalidTransition, http.StatusConflict},
	{subscriptiondomain.ErrSubscriptionTerminal, http.StatusConflict},
	{subscriptiondomain.ErrStaleSubscription, http.StatusConflict},
	{upgradedomain.ErrIntentMismatch, http.StatusConflict},
	{upgradedomain.ErrTransactionClosed, http.StatusConflict},
	{upgradedomain.ErrActivationConflict, http.StatusConflict},
	{upgradedomain.ErrCarriedCreditGone, http.StatusConflict},
	{refunddomain.ErrNotCancellable, http.StatusConflict},
	{refunddomain.ErrRefundInProgress, http.StatusConflict},

	{plandomain.ErrPlanRetired, http.StatusUnprocessableEntity},
	{refunddomain.ErrNotRefundObligation, http.StatusUnprocessableEntity},
	{refunddomain.ErrNothingToRefund, http.StatusUnprocessableEntity},
	{refunddomain.ErrOriginalPaymentNotFound, http.StatusUnprocessableEntity},
	{refunddomain.ErrRefundExceedsPayment, http.StatusUnprocessableEntity},
	{paymentdomain.ErrReconciliationAmbiguous, http.StatusUnprocessableEntity},

	{paymentdomain.ErrGatewayUnavailable, http.StatusBadGateway},
}
