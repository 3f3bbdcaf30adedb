package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat-go/internal/model"
	"docchat-go/internal/service"
)

type HealthHandler struct {
	health service.HealthService
}

func NewHealthHandler(health service.HealthService) *HealthHandler {
	return &HealthHandler{health: health}
}

// Health 返回各依赖的健康状态，任一依赖异常时返回 503。
func (h *HealthHandler) Health(c *gin.Context) {
	report := h.health.Check(c.Request.Context())
	status := http.StatusOK
	if report.Status != model.HealthHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
