package razorpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/railzwaylabs/crmbilling/internal/payment/domain"
)

const (
	ProviderName = "razorpay"

	defaultBaseURL = "https://api.razorpay.com/v1"
	defaultTimeout = 10 * time.Second

	HeaderSignature = "X-Razorpay-Signature"
	HeaderEventID   = "X-Razorpay-Event-Id"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return ProviderName
}

func (f *Factory) NewGateway(cfg paymentdomain.GatewayConfig) (paymentdomain.Gateway, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	keySecret := strings.TrimSpace(cfg.KeySecret)
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if keyID == "" || keySecret == "" || webhookSecret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Gateway{
		baseURL:       baseURL,
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
		client:        client,
	}, nil
}

type Gateway struct {
	baseURL       string
	keyID         string
	keySecret     string
	webhookSecret string
	client        *http.Client
}

func (g *Gateway) Provider() string {
	return ProviderName
}

func (g *Gateway) CreateOrder(ctx context.Context, req paymentdomain.OrderRequest) (*paymentdomain.Order, error) {
	if !req.Amount.IsPositive() {
		return nil, paymentdomain.ErrInvalidAmount
	}
	body := map[string]any{
		"amount":   paymentdomain.MinorUnits(req.Amount),
		"currency": strings.ToUpper(req.Currency),
		"receipt":  req.Receipt,
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}

	var out orderResponse
	if err := g.do(ctx, http.MethodPost, "/orders", body, &out); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return &paymentdomain.Order{
		ID:       out.ID,
		Amount:   paymentdomain.FromMinorUnits(out.Amount),
		Currency: out.Currency,
		Receipt:  out.Receipt,
		Status:   out.Status,
		KeyID:    g.keyID,
	}, nil
}

// VerifyPaymentSignature checks the checkout signature, an HMAC-SHA256 of
// "order_id|payment_id" keyed with the API secret.
func (g *Gateway) VerifyPaymentSignature(ctx context.Context, orderID, paymentID, signature string) error {
	orderID = strings.TrimSpace(orderID)
	paymentID = strings.TrimSpace(paymentID)
	signature = strings.TrimSpace(signature)
	if orderID == "" || paymentID == "" || signature == "" {
		return paymentdomain.ErrInvalidSignature
	}
	expected := Sign([]byte(orderID+"|"+paymentID), g.keySecret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

// VerifyWebhookSignature checks X-Razorpay-Signature, an HMAC-SHA256 of the
// raw body keyed with the webhook secret.
func (g *Gateway) VerifyWebhookSignature(ctx context.Context, payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get(HeaderSignature))
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}
	expected := Sign(payload, g.webhookSecret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (g *Gateway) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.WebhookEvent, error) {
	return ParseEvent(payload, headers)
}

func (g *Gateway) FetchPayment(ctx context.Context, paymentID string) (*paymentdomain.Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}
	var out paymentEntity
	if err := g.do(ctx, http.MethodGet, "/payments/"+paymentID, nil, &out); err != nil {
		return nil, fmt.Errorf("fetch payment: %w", err)
	}
	return out.toPayment(), nil
}

func (g *Gateway) CreateRefund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.Refund, error) {
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if !req.Amount.IsPositive() {
		return nil, paymentdomain.ErrInvalidAmount
	}
	body := map[string]any{
		"amount": paymentdomain.MinorUnits(req.Amount),
		"speed":  "normal",
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}

	var out refundResponse
	if err := g.do(ctx, http.MethodPost, "/payments/"+paymentID+"/refund", body, &out); err != nil {
		return nil, fmt.Errorf("create refund: %w", err)
	}
	return &paymentdomain.Refund{
		ID:        out.ID,
		PaymentID: out.PaymentID,
		Amount:    paymentdomain.FromMinorUnits(out.Amount),
		Status:    out.Status,
	}, nil
}

// do sends an authenticated JSON request. Transport failures, timeouts and
// 5xx responses are reported as ErrGatewayUnavailable.
func (g *Gateway) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(g.keyID, g.keySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", paymentdomain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", paymentdomain.ErrGatewayUnavailable, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: razorpay status %d", paymentdomain.ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr errorResponse
		_ = json.Unmarshal(raw, &apiErr)
		return &APIError{
			Status:      resp.StatusCode,
			Code:        apiErr.Error.Code,
			Description: apiErr.Error.Description,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode razorpay response: %w", err)
	}
	return nil
}

// APIError is a 4xx response from Razorpay.
type APIError struct {
	Status      int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("razorpay api error: status=%d code=%s description=%s", e.Status, e.Code, e.Description)
}

// Sign returns the hex HMAC-SHA256 of payload keyed with secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

var errMissingPayment = fmt.Errorf("%w: no payment entity", paymentdomain.ErrInvalidEvent)
