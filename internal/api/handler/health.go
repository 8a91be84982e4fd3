package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/prospect/internal/registry"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	reg *registry.Registry
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(reg *registry.Registry) *HealthHandler {
	return &HealthHandler{reg: reg}
}

// Health returns the health status of the service.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"live_jobs": h.reg.Len(),
	})
}
