package sandbox

import (
	"context"
	"crypto/hmac"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/railzwaylabs/crmbilling/internal/payment/adapters/razorpay"
	paymentdomain "github.com/railzwaylabs/crmbilling/internal/payment/domain"
	"github.com/shopspring/decimal"
)

// ProviderName identifies the in-process gateway used for local runs and
// tests. It signs exactly like Razorpay so clients can share code paths.
const ProviderName = "sandbox"

const (
	defaultKeySecret     = "sandbox_key_secret"
	defaultWebhookSecret = "sandbox_webhook_secret"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return ProviderName
}

func (f *Factory) NewGateway(cfg paymentdomain.GatewayConfig) (paymentdomain.Gateway, error) {
	return New(cfg.KeySecret, cfg.WebhookSecret), nil
}

type Gateway struct {
	keySecret     string
	webhookSecret string

	mu        sync.Mutex
	orders    map[string]*paymentdomain.Order
	payments  map[string]*paymentdomain.Payment
	refunds   []paymentdomain.Refund
	failNext  map[string]error
	callCount map[string]int
}

func New(keySecret, webhookSecret string) *Gateway {
	if strings.TrimSpace(keySecret) == "" {
		keySecret = defaultKeySecret
	}
	if strings.TrimSpace(webhookSecret) == "" {
		webhookSecret = defaultWebhookSecret
	}
	return &Gateway{
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
		orders:        map[string]*paymentdomain.Order{},
		payments:      map[string]*paymentdomain.Payment{},
		failNext:      map[string]error{},
		callCount:     map[string]int{},
	}
}

func (g *Gateway) Provider() string {
	return ProviderName
}

// FailNext makes the next call of operation return err.
func (g *Gateway) FailNext(operation string, err error) {
	g.mu.Lock()
	g.failNext[operation] = err
	g.mu.Unlock()
}

// Calls reports how many times operation was invoked.
func (g *Gateway) Calls(operation string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.callCount[operation]
}

func (g *Gateway) Refunds() []paymentdomain.Refund {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]paymentdomain.Refund, len(g.refunds))
	copy(out, g.refunds)
	return out
}

func (g *Gateway) enter(operation string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callCount[operation]++
	if err, ok := g.failNext[operation]; ok {
		delete(g.failNext, operation)
		return err
	}
	return nil
}

func (g *Gateway) CreateOrder(ctx context.Context, req paymentdomain.OrderRequest) (*paymentdomain.Order, error) {
	if err := g.enter("create_order"); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, paymentdomain.ErrInvalidAmount
	}
	order := &paymentdomain.Order{
		ID:       "order_" + ulid.Make().String(),
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   "created",
		KeyID:    "sandbox",
	}
	g.mu.Lock()
	g.orders[order.ID] = order
	g.mu.Unlock()
	return order, nil
}

// Pay simulates a successful client checkout for orderID and returns the
// payment id with its checkout signature.
func (g *Gateway) Pay(orderID, email string) (paymentID, signature string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	order, ok := g.orders[orderID]
	if !ok {
		return "", "", fmt.Errorf("sandbox: unknown order %s", orderID)
	}
	paymentID = "pay_" + ulid.Make().String()
	g.payments[paymentID] = &paymentdomain.Payment{
		ID:       paymentID,
		OrderID:  orderID,
		Amount:   order.Amount,
		Currency: order.Currency,
		Status:   "captured",
		Email:    email,
		Captured: true,
	}
	order.Status = "paid"
	return paymentID, razorpay.Sign([]byte(orderID+"|"+paymentID), g.keySecret), nil
}

func (g *Gateway) VerifyPaymentSignature(ctx context.Context, orderID, paymentID, signature string) error {
	if err := g.enter("verify_payment"); err != nil {
		return err
	}
	expected := razorpay.Sign([]byte(orderID+"|"+paymentID), g.keySecret)
	if signature == "" || !hmac.Equal([]byte(expected), []byte(signature)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

// SignWebhook signs body the way VerifyWebhookSignature expects.
func (g *Gateway) SignWebhook(body []byte) string {
	return razorpay.Sign(body, g.webhookSecret)
}

func (g *Gateway) VerifyWebhookSignature(ctx context.Context, payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get(razorpay.HeaderSignature))
	if signature == "" || !hmac.Equal([]byte(g.SignWebhook(payload)), []byte(signature)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (g *Gateway) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.WebhookEvent, error) {
	return razorpay.ParseEvent(payload, headers)
}

func (g *Gateway) FetchPayment(ctx context.Context, paymentID string) (*paymentdomain.Payment, error) {
	if err := g.enter("fetch_payment"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("sandbox: unknown payment %s", paymentID)
	}
	cp := *p
	return &cp, nil
}

func (g *Gateway) CreateRefund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.Refund, error) {
	if err := g.enter("create_refund"); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, paymentdomain.ErrInvalidAmount
	}
	refund := paymentdomain.Refund{
		ID:        "rfnd_" + ulid.Make().String(),
		PaymentID: req.PaymentID,
		Amount:    req.Amount.Round(2),
		Status:    "processed",
	}
	g.mu.Lock()
	g.refunds = append(g.refunds, refund)
	g.mu.Unlock()
	return &refund, nil
}

// TotalRefunded sums every refund issued so far.
func (g *Gateway) TotalRefunded() decimal.Decimal {
	total := decimal.Zero
	for _, r := range g.Refunds() {
		total = total.Add(r.Amount)
	}
	return total
}
