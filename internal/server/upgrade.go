package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/railzwaylabs/crmbilling/internal/payment/reconcile"
	plandomain "github.com/railzwaylabs/crmbilling/internal/plan/domain"
	"github.com/railzwaylabs/crmbilling/internal/proration"
	upgradedomain "github.com/railzwaylabs/crmbilling/internal/upgrade/domain"
)

type upgradeRequest struct {
	PlanID       string `json:"plan_id"`
	BillingCycle string `json:"billing_cycle"`
	Mode         string `json:"mode"`
}

func (r upgradeRequest) toQuote(tenantID snowflake.ID) (upgradedomain.QuoteRequest, error) {
	planID, err := bodyID("plan_id", r.PlanID)
	if err != nil {
		return upgradedomain.QuoteRequest{}, err
	}
	cycle, err := plandomain.ParseBillingCycle(r.BillingCycle)
	if err != nil {
		return upgradedomain.QuoteRequest{}, err
	}
	mode, err := proration.ParseMode(r.Mode)
	if err != nil {
		return upgradedomain.QuoteRequest{}, err
	}
	return upgradedomain.QuoteRequest{
		TenantID: tenantID,
		PlanID:   planID,
		Cycle:    cycle,
		Mode:     mode,
	}, nil
}

func (s *Server) bindUpgrade(c *gin.Context) (upgradedomain.QuoteRequest, bool) {
	tenantID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return upgradedomain.QuoteRequest{}, false
	}
	var req upgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return upgradedomain.QuoteRequest{}, false
	}
	quoteReq, err := req.toQuote(tenantID)
	if err != nil {
		AbortWithError(c, err)
		return upgradedomain.QuoteRequest{}, false
	}
	return quoteReq, true
}

// @Summary      Quote Upgrade
// @Description  Prices a plan purchase in existing, immediate or scheduled mode without writing anything
// @Tags         upgrades
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id       path  string          true  "Tenant ID"
// @Param        request  body  upgradeRequest  true  "Upgrade Request"
// @Success      200  {object}  DataResponse
// @Failure      422  {object}  ErrorResponse
// @Router       /tenants/{id}/upgrade/quote [post]
func (s *Server) QuoteUpgrade(c *gin.Context) {
	req, ok := s.bindUpgrade(c)
	if !ok {
		return
	}

	quote, err := s.upgradeSvc.Quote(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, quote)
}

// @Summary      Checkout Upgrade
// @Description  Opens a gateway order for the payable amount, or activates immediately when nothing is payable
// @Tags         upgrades
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id       path  string          true  "Tenant ID"
// @Param        request  body  upgradeRequest  true  "Upgrade Request"
// @Success      201  {object}  DataResponse
// @Router       /tenants/{id}/upgrade/checkout [post]
func (s *Server) CheckoutUpgrade(c *gin.Context) {
	req, ok := s.bindUpgrade(c)
	if !ok {
		return
	}

	res, err := s.upgradeSvc.Checkout(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondCreated(c, res)
}

type confirmUpgradeRequest struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// @Summary      Confirm Upgrade
// @Description  Verifies the client-side payment proof and activates the purchase exactly once
// @Tags         upgrades
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id       path  string                 true  "Tenant ID"
// @Param        request  body  confirmUpgradeRequest  true  "Payment Proof"
// @Success      200  {object}  DataResponse
// @Failure      402  {object}  ErrorResponse
// @Router       /tenants/{id}/upgrade/confirm [post]
func (s *Server) ConfirmUpgrade(c *gin.Context) {
	tenantID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req confirmUpgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.PaymentID = strings.TrimSpace(req.PaymentID)
	if req.OrderID == "" {
		AbortWithError(c, newValidationError("order_id", "invalid_order_id", "order_id is required"))
		return
	}
	if req.PaymentID == "" {
		AbortWithError(c, newValidationError("payment_id", "invalid_payment_id", "payment_id is required"))
		return
	}

	res, err := s.reconcile.Confirm(c.Request.Context(), reconcile.ConfirmRequest{
		TenantID:  tenantID,
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Signature: strings.TrimSpace(req.Signature),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, res)
}

type adminActivateRequest struct {
	PlanID       string `json:"plan_id"`
	BillingCycle string `json:"billing_cycle"`
	Days         int    `json:"days"`
	Note         string `json:"note"`
}

// AdminActivateTenant grants a plan for a fixed number of days without
// payment.
func (s *Server) AdminActivateTenant(c *gin.Context) {
	tenantID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req adminActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	planID, err := bodyID("plan_id", req.PlanID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	cycle := plandomain.CycleMonthly
	if strings.TrimSpace(req.BillingCycle) != "" {
		cycle, err = plandomain.ParseBillingCycle(req.BillingCycle)
		if err != nil {
			AbortWithError(c, err)
			return
		}
	}

	res, err := s.upgradeSvc.AdminActivate(c.Request.Context(), upgradedomain.AdminActivateRequest{
		TenantID: tenantID,
		PlanID:   planID,
		Cycle:    cycle,
		Days:     req.Days,
		Note:     strings.TrimSpace(req.Note),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, res)
}
