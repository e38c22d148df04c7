package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler handles operational endpoints
type Handler struct {
	started time.Time
	version string
}

// NewHandler creates a new API handler
func NewHandler(version string) *Handler {
	return &Handler{
		started: time.Now(),
		version: version,
	}
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}
