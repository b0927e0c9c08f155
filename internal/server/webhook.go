package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/railzwaylabs/crmbilling/internal/payment/domain"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// @Summary      Razorpay Webhook
// @Description  Accepts payment events. Responds 200 for every verified delivery, including duplicates and events that could not be reconciled, and 400 when the signature does not verify.
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Param        X-Razorpay-Signature  header  string  true   "HMAC-SHA256 of the raw body"
// @Param        X-Razorpay-Event-Id   header  string  false  "Delivery id"
// @Success      200  {object}  DataResponse
// @Failure      400  {object}  ErrorResponse
// @Router       /webhooks/razorpay [post]
func (s *Server) HandleRazorpayWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, paymentdomain.ErrInvalidPayload)
		return
	}

	res, err := s.reconcile.IngestWebhook(c.Request.Context(), payload, c.Request.Header)
	if err != nil {
		switch {
		case errors.Is(err, paymentdomain.ErrInvalidSignature),
			errors.Is(err, paymentdomain.ErrInvalidPayload),
			errors.Is(err, paymentdomain.ErrInvalidEvent):
			AbortWithError(c, err)
		default:
			s.log.Error("webhook processing failed", zap.Error(err))
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": errorBody{
				Code:    "webhook_processing_failed",
				Message: "webhook processing failed; the delivery may be retried",
			}})
		}
		return
	}
	respondData(c, res)
}
