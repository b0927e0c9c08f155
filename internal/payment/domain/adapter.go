package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Gateway is the payment gateway collaborator. Implementations must not be
// called while a database transaction is open.
type Gateway interface {
	Provider() string

	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	VerifyPaymentSignature(ctx context.Context, orderID, paymentID, signature string) error
	VerifyWebhookSignature(ctx context.Context, payload []byte, headers http.Header) error
	ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*WebhookEvent, error)
	FetchPayment(ctx context.Context, paymentID string) (*Payment, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error)
}

type GatewayConfig struct {
	Provider      string
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

type GatewayFactory interface {
	Provider() string
	NewGateway(cfg GatewayConfig) (Gateway, error)
}

type OrderRequest struct {
	Amount   decimal.Decimal
	Currency string
	Receipt  string
	Notes    map[string]string
}

type Order struct {
	ID       string          `json:"id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Receipt  string          `json:"receipt"`
	Status   string          `json:"status"`
	// KeyID is the public key the client checkout needs.
	KeyID string `json:"key_id,omitempty"`
}

type Payment struct {
	ID       string
	OrderID  string
	Amount   decimal.Decimal
	Currency string
	Status   string
	Email    string
	Captured bool
}

type RefundRequest struct {
	PaymentID string
	Amount    decimal.Decimal
	Notes     map[string]string
}

type Refund struct {
	ID        string
	PaymentID string
	Amount    decimal.Decimal
	Status    string
}

const (
	EventPaymentCaptured   = "payment.captured"
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentFailed     = "payment.failed"
)

// WebhookEvent is the gateway-neutral form of a webhook delivery.
type WebhookEvent struct {
	ID          string
	Type        string
	OrderID     string
	PaymentID   string
	Amount      decimal.Decimal
	Currency    string
	Email       string
	Description string
	OccurredAt  time.Time
}

// MinorUnits converts a major-unit amount to the gateway's integer unit.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func FromMinorUnits(value int64) decimal.Decimal {
	return decimal.New(value, -2)
}
