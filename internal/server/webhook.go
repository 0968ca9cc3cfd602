package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const maxWebhookBodyBytes = 1 << 20

func (s *Server) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.webhookSvc.IngestWebhook(c.Request.Context(), payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": result.Outcome})
}
