package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DataResponse is the envelope every successful API response uses.
type DataResponse struct {
	Data any `json:"data"`
}

func respondData(c *gin.Context, data any) {
	c.JSON(http.StatusOK, DataResponse{Data: data})
}

func respondDataWithStatus(c *gin.Context, status int, data any) {
	c.JSON(status, DataResponse{Data: data})
}
