package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat-go/internal/model"
	"docchat-go/internal/service"
)

// SettingsHandler 读取与更新运行时设置。
type SettingsHandler struct {
	settings service.SettingsService
}

func NewSettingsHandler(settings service.SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

func (h *SettingsHandler) Get(c *gin.Context) {
	ok(c, "success", h.settings.Get())
}

// Update 整体替换设置，未出现的字段取零值。
func (h *SettingsHandler) Update(c *gin.Context) {
	var req model.Settings
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "请求参数无效")
		return
	}
	updated, err := h.settings.Update(c.Request.Context(), req)
	if err != nil {
		writeError(c, "update settings", err)
		return
	}
	ok(c, "设置已更新", updated)
}
