package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	refunddomain "github.com/railzwaylabs/crmbilling/internal/refund/domain"
)

// @Summary      Get Current Subscription
// @Description  Returns the tenant's entitled subscription after applying due expirations and promotions
// @Tags         subscriptions
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id   path      string  true  "Tenant ID"
// @Success      200  {object}  DataResponse
// @Router       /tenants/{id}/subscription [get]
func (s *Server) GetCurrentSubscription(c *gin.Context) {
	tenantID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	sub, err := s.subscriptionSvc.Current(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, sub)
}

// @Summary      List Subscriptions
// @Tags         subscriptions
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id   path      string  true  "Tenant ID"
// @Success      200  {object}  DataResponse
// @Router       /tenants/{id}/subscriptions [get]
func (s *Server) ListSubscriptions(c *gin.Context) {
	tenantID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	if _, err := s.tenantSvc.Get(ctx, tenantID); err != nil {
		AbortWithError(c, err)
		return
	}
	subs, err := s.subscriptionSvc.History(ctx, tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, subs)
}

type cancelSubscriptionRequest struct {
	TenantID string `json:"tenant_id"`
	Reason   string `json:"reason"`
}

// @Summary      Cancel Subscription
// @Description  Cancels an active or scheduled subscription and records the refund owed
// @Tags         subscriptions
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id       path  string                     true  "Subscription ID"
// @Param        request  body  cancelSubscriptionRequest  false "Cancel Subscription Request"
// @Success      200  {object}  DataResponse
// @Router       /subscriptions/{id}/cancel [post]
func (s *Server) CancelSubscription(c *gin.Context) {
	subscriptionID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req cancelSubscriptionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	cancelReq := refunddomain.CancelRequest{
		SubscriptionID: subscriptionID,
		Reason:         strings.TrimSpace(req.Reason),
	}
	if tenant := strings.TrimSpace(req.TenantID); tenant != "" {
		tenantID, err := bodyID("tenant_id", tenant)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		cancelReq.TenantID = tenantID
	}

	record, err := s.refundSvc.Cancel(c.Request.Context(), cancelReq)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, record)
}
