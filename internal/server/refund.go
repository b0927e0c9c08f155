package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	refunddomain "github.com/railzwaylabs/crmbilling/internal/refund/domain"
)

const defaultPendingRefundsLimit = 100

type settleRefundRequest struct {
	Notes  string `json:"notes"`
	Manual bool   `json:"manual"`
}

// @Summary      Settle Refund
// @Description  Pays out a cancellation obligation through the gateway, or records a manual payout
// @Tags         admin
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        transaction_id  path  string               true   "Cancellation transaction ID"
// @Param        request         body  settleRefundRequest  false  "Settle Refund Request"
// @Success      200  {object}  DataResponse
// @Router       /admin/refunds/{transaction_id}/settle [post]
func (s *Server) SettleRefund(c *gin.Context) {
	txnID, err := pathID(c, "transaction_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req settleRefundRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	record, err := s.refundSvc.SettleRefund(c.Request.Context(), refunddomain.SettleRequest{
		TransactionID: txnID,
		OperatorNotes: strings.TrimSpace(req.Notes),
		Manual:        req.Manual,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, record)
}

func (s *Server) ListPendingRefunds(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultPendingRefundsLimit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	txns, err := s.refundSvc.PendingRefunds(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, txns)
}
