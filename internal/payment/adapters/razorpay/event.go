package razorpay

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/railzwaylabs/crmbilling/internal/payment/domain"
)

type orderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type refundResponse struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

type paymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	Email            string `json:"email"`
	Captured         bool   `json:"captured"`
	ErrorDescription string `json:"error_description"`
}

func (p paymentEntity) toPayment() *paymentdomain.Payment {
	return &paymentdomain.Payment{
		ID:       p.ID,
		OrderID:  p.OrderID,
		Amount:   paymentdomain.FromMinorUnits(p.Amount),
		Currency: p.Currency,
		Status:   p.Status,
		Email:    strings.ToLower(strings.TrimSpace(p.Email)),
		Captured: p.Captured,
	}
}

type webhookEnvelope struct {
	Entity    string `json:"entity"`
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment *struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// ParseEvent decodes a webhook body. The delivery id comes from
// X-Razorpay-Event-Id; without it the id is derived from the event type and
// payment id so redeliveries still collapse.
func ParseEvent(payload []byte, headers http.Header) (*paymentdomain.WebhookEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	eventType := strings.TrimSpace(env.Event)
	if eventType == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	event := &paymentdomain.WebhookEvent{
		Type:       eventType,
		OccurredAt: time.Unix(env.CreatedAt, 0).UTC(),
	}
	if env.Payload.Payment != nil {
		p := env.Payload.Payment.Entity
		event.OrderID = strings.TrimSpace(p.OrderID)
		event.PaymentID = strings.TrimSpace(p.ID)
		event.Amount = paymentdomain.FromMinorUnits(p.Amount)
		event.Currency = p.Currency
		event.Email = strings.ToLower(strings.TrimSpace(p.Email))
		event.Description = p.ErrorDescription
	}

	event.ID = strings.TrimSpace(headers.Get(HeaderEventID))
	if event.ID == "" {
		if event.PaymentID == "" {
			return nil, errMissingPayment
		}
		event.ID = eventType + ":" + event.PaymentID
	}

	switch eventType {
	case paymentdomain.EventPaymentCaptured, paymentdomain.EventPaymentAuthorized, paymentdomain.EventPaymentFailed:
		if event.PaymentID == "" {
			return nil, errMissingPayment
		}
	}
	return event, nil
}
