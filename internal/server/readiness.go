package server

import (
	"context"
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

// GetSystemReadiness reports whether the service's backing stores answer.
func (s *Server) GetSystemReadiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	issues := make([]ReadinessIssue, 0, 2)
	isReady := true

	if s.db == nil {
		isReady = false
		issues = append(issues, ReadinessIssue{
			ID:       "database",
			Status:   ReadinessStateNotReady,
			Evidence: map[string]string{"error": "db not configured"},
		})
	} else if err := s.pingDB(ctx); err != nil {
		isReady = false
		issues = append(issues, ReadinessIssue{
			ID:       "database",
			Status:   ReadinessStateNotReady,
			Evidence: map[string]string{"error": err.Error()},
		})
	} else {
		issues = append(issues, ReadinessIssue{ID: "database", Status: ReadinessStateReady})
	}

	// Redis only backs webhook dedupe, so it never blocks readiness.
	if s.redis == nil {
		issues = append(issues, ReadinessIssue{
			ID:       "redis",
			Status:   ReadinessStateOptional,
			Evidence: map[string]string{"note": "redis disabled"},
		})
	} else if err := s.redis.Ping(ctx).Err(); err != nil {
		issues = append(issues, ReadinessIssue{
			ID:       "redis",
			Status:   ReadinessStateOptional,
			Evidence: map[string]string{"error": err.Error()},
		})
	} else {
		issues = append(issues, ReadinessIssue{ID: "redis", Status: ReadinessStateReady})
	}

	state := ReadinessStateReady
	if !isReady {
		state = ReadinessStateNotReady
	}

	c.JSON(http.StatusOK, gin.H{
		"ready":        isReady,
		"system_state": state,
		"issues":       issues,
	})
}

func (s *Server) pingDB(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
