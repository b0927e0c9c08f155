package server

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// @Summary      List Plans
// @Tags         plans
// @Produce      json
// @Security     ApiKeyAuth
// @Param        include_retired  query  bool  false  "Include retired plans"
// @Success      200  {object}  DataResponse
// @Router       /plans [get]
func (s *Server) ListPlans(c *gin.Context) {
	includeRetired := false
	if raw, ok := c.GetQuery("include_retired"); ok {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			AbortWithError(c, newValidationError("include_retired", "invalid_include_retired", "invalid include_retired"))
			return
		}
		includeRetired = v
	}

	plans, err := s.planSvc.List(c.Request.Context(), includeRetired)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, plans)
}

func (s *Server) RetirePlan(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	plan, err := s.planSvc.Retire(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, plan)
}

func (s *Server) ActivatePlan(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	plan, err := s.planSvc.Activate(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, plan)
}
