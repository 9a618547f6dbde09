package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dietrichmax/colota-sub003/internal/models"
	"github.com/dietrichmax/colota-sub003/internal/repository"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ListProfiles 列出全部跟踪配置档
func (h *Handler) ListProfiles(c *gin.Context) {
	profiles, err := h.profileRepo.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list profiles", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list profiles"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": profiles, "count": len(profiles)})
}

// GetProfile 获取单个跟踪配置档
func (h *Handler) GetProfile(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid profile ID"})
		return
	}

	profile, err := h.profileRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
			return
		}
		h.logger.Error("Failed to get profile", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get profile"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": profile})
}

// CreateProfile 新建跟踪配置档
func (h *Handler) CreateProfile(c *gin.Context) {
	var profile models.TrackingProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid profile payload"})
		return
	}
	if msg := validateProfile(&profile); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	if err := h.profileRepo.Create(c.Request.Context(), &profile); err != nil {
		h.logger.Error("Failed to create profile", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create profile"})
		return
	}
	if err := h.tracker.RecheckProfiles(c.Request.Context()); err != nil {
		h.logger.Warn("Profile recheck failed", zap.Error(err))
	}

	c.JSON(http.StatusCreated, gin.H{"data": profile})
}

// UpdateProfile 更新跟踪配置档
func (h *Handler) UpdateProfile(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid profile ID"})
		return
	}

	var profile models.TrackingProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid profile payload"})
		return
	}
	profile.ID = id
	if msg := validateProfile(&profile); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	if err := h.profileRepo.Update(c.Request.Context(), &profile); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
			return
		}
		h.logger.Error("Failed to update profile", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update profile"})
		return
	}
	if err := h.tracker.RecheckProfiles(c.Request.Context()); err != nil {
		h.logger.Warn("Profile recheck failed", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"data": profile})
}

// DeleteProfile 删除跟踪配置档
func (h *Handler) DeleteProfile(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid profile ID"})
		return
	}

	if err := h.profileRepo.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
			return
		}
		h.logger.Error("Failed to delete profile", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete profile"})
		return
	}
	if err := h.tracker.RecheckProfiles(c.Request.Context()); err != nil {
		h.logger.Warn("Profile recheck failed", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"message": "Profile deleted"})
}

func validateProfile(p *models.TrackingProfile) string {
	switch p.ConditionType {
	case models.ConditionCharging, models.ConditionVehicleMode:
	case models.ConditionSpeedAbove, models.ConditionSpeedBelow:
		if p.SpeedThreshold == nil {
			return "Speed threshold is required for speed conditions"
		}
	default:
		return "Unknown condition type"
	}
	if p.IntervalMs < 0 || p.MinDistance < 0 || p.SyncIntervalSeconds < 0 {
		return "Tracking parameters must not be negative"
	}
	if p.DeactivationDelaySeconds < 0 {
		return "Deactivation delay must not be negative"
	}
	return ""
}
