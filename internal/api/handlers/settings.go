package handlers

import (
	"net/http"

	"github.com/dietrichmax/colota-sub003/internal/models"
	"github.com/dietrichmax/colota-sub003/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ReportConditions 条件源上报设备状态
// POST /api/conditions
func (h *Handler) ReportConditions(c *gin.Context) {
	var cond models.Conditions
	if err := c.ShouldBindJSON(&cond); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conditions payload"})
		return
	}

	if err := h.tracker.UpdateConditions(c.Request.Context(), cond); err != nil {
		h.logger.Error("Failed to apply conditions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to apply conditions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Conditions updated"})
}

// ListSettings 列出全部配置项，凭据已脱敏
func (h *Handler) ListSettings(c *gin.Context) {
	settings, err := h.settings.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list settings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": settings})
}

// UpdateSettings 批量更新配置项并触发重新应用
// PUT /api/settings
func (h *Handler) UpdateSettings(c *gin.Context) {
	var values map[string]string
	if err := c.ShouldBindJSON(&values); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid settings payload"})
		return
	}
	if len(values) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No settings provided"})
		return
	}

	// 上传地址先过校验，坏地址不落库
	if endpoint, ok := values[service.SettingEndpoint]; ok && endpoint != "" {
		if err := h.policy.ValidateEndpoint(endpoint); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid endpoint: " + err.Error()})
			return
		}
	}

	if err := h.settings.SetMany(c.Request.Context(), values); err != nil {
		h.logger.Error("Failed to update settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update settings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Settings updated", "count": len(values)})
}
