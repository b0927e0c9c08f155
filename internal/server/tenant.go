package server

import (
	"github.com/gin-gonic/gin"
	tenantdomain "github.com/railzwaylabs/crmbilling/internal/tenant/domain"
)

type onboardTenantRequest struct {
	Name         string `json:"name"`
	BillingEmail string `json:"billing_email"`
}

// @Summary      Onboard Tenant
// @Description  Creates a tenant and starts its trial. Repeating the call with the same billing email returns the existing tenant.
// @Tags         tenants
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        request body onboardTenantRequest true "Onboard Tenant Request"
// @Success      201  {object}  DataResponse
// @Router       /tenants [post]
func (s *Server) OnboardTenant(c *gin.Context) {
	var req onboardTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.tenantSvc.Onboard(c.Request.Context(), tenantdomain.OnboardRequest{
		Name:         req.Name,
		BillingEmail: req.BillingEmail,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondCreated(c, resp)
}

// @Summary      List Tenant Transactions
// @Tags         tenants
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id   path      string  true  "Tenant ID"
// @Success      200  {object}  DataResponse
// @Router       /tenants/{id}/transactions [get]
func (s *Server) ListTransactions(c *gin.Context) {
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
	txns, err := s.transactionRepo.ListByTenant(ctx, s.db.WithContext(ctx), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, txns)
}
