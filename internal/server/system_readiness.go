package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type ReadinessState string

const (
	ReadinessStateReady    ReadinessState = "ready"
	ReadinessStateNotReady ReadinessState = "not_ready"
	ReadinessStateOptional ReadinessState = "optional"
)

type ReadinessIssue struct {
	ID       string            `json:"id"`
	Status   ReadinessState    `json:"status"`
	Evidence map[string]string `json:"evidence,omitempty"`
}

type ReadinessResponse struct {
	SystemState ReadinessState   `json:"system_state"`
	Issues      []ReadinessIssue `json:"issues"`
}

func (s *Server) RegisterSystemRoutes() {
	s.engine.GET("/healthz", s.GetSystemReadiness)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
}

// GetSystemReadiness reports the schema gate, database and redis. Redis is
// optional: webhook dedup falls back to the event ledger without it.
func (s *Server) GetSystemReadiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	issues := make([]ReadinessIssue, 0, 3)
	isReady := true

	if s.schemaGate == nil {
		isReady = false
		issues = append(issues, notReady("schema_gate", "schema gate not configured"))
	} else if err := s.schemaGate.MustBeActive(ctx); err != nil {
		isReady = false
		issues = append(issues, notReady("schema_gate", err.Error()))
	} else {
		issues = append(issues, ReadinessIssue{ID: "schema_gate", Status: ReadinessStateReady})
	}

	if err := s.pingDB(ctx); err != nil {
		isReady = false
		issues = append(issues, notReady("database", err.Error()))
	} else {
		issues = append(issues, ReadinessIssue{ID: "database", Status: ReadinessStateReady})
	}

	switch {
	case s.redis == nil:
		issues = append(issues, ReadinessIssue{
			ID:       "redis",
			Status:   ReadinessStateOptional,
			Evidence: map[string]string{"enabled": "false"},
		})
	case s.redis.Ping(ctx).Err() != nil:
		issues = append(issues, ReadinessIssue{
			ID:       "redis",
			Status:   ReadinessStateOptional,
			Evidence: map[string]string{"error": "ping failed"},
		})
	default:
		issues = append(issues, ReadinessIssue{ID: "redis", Status: ReadinessStateReady})
	}

	state := ReadinessStateReady
	status := http.StatusOK
	if !isReady {
		state = ReadinessStateNotReady
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, ReadinessResponse{SystemState: state, Issues: issues})
}

func (s *Server) pingDB(ctx context.Context) error {
	if s.db == nil {
		return errors.New("db not configured")
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func notReady(id, reason string) ReadinessIssue {
	return ReadinessIssue{
		ID:       id,
		Status:   ReadinessStateNotReady,
		Evidence: map[string]string{"error": reason},
	}
}
