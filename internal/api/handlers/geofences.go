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

// ListGeofences 列出全部静默区域
func (h *Handler) ListGeofences(c *gin.Context) {
	geofences, err := h.geofenceRepo.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list geofences", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list geofences"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": geofences, "count": len(geofences)})
}

// GetGeofence 获取单个静默区域
func (h *Handler) GetGeofence(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid geofence ID"})
		return
	}

	geofence, err := h.geofenceRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Geofence not found"})
			return
		}
		h.logger.Error("Failed to get geofence", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get geofence"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": geofence})
}

// CreateGeofence 新建静默区域
func (h *Handler) CreateGeofence(c *gin.Context) {
	var geofence models.Geofence
	if err := c.ShouldBindJSON(&geofence); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid geofence payload"})
		return
	}
	if msg := validateGeofence(&geofence); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	if err := h.geofenceRepo.Create(c.Request.Context(), &geofence); err != nil {
		h.logger.Error("Failed to create geofence", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create geofence"})
		return
	}
	h.tracker.RecheckZoneSettings()

	c.JSON(http.StatusCreated, gin.H{"data": geofence})
}

// UpdateGeofence 更新静默区域
func (h *Handler) UpdateGeofence(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid geofence ID"})
		return
	}

	var geofence models.Geofence
	if err := c.ShouldBindJSON(&geofence); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid geofence payload"})
		return
	}
	geofence.ID = id
	if msg := validateGeofence(&geofence); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	if err := h.geofenceRepo.Update(c.Request.Context(), &geofence); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Geofence not found"})
			return
		}
		h.logger.Error("Failed to update geofence", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update geofence"})
		return
	}
	h.tracker.RecheckZoneSettings()

	c.JSON(http.StatusOK, gin.H{"data": geofence})
}

// DeleteGeofence 删除静默区域
func (h *Handler) DeleteGeofence(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid geofence ID"})
		return
	}

	if err := h.geofenceRepo.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Geofence not found"})
			return
		}
		h.logger.Error("Failed to delete geofence", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete geofence"})
		return
	}
	h.tracker.RecheckZoneSettings()

	c.JSON(http.StatusOK, gin.H{"message": "Geofence deleted"})
}

func validateGeofence(g *models.Geofence) string {
	if g.Name == "" {
		return "Name is required"
	}
	if g.Latitude < -90 || g.Latitude > 90 || g.Longitude < -180 || g.Longitude > 180 {
		return "Coordinates out of range"
	}
	if g.Radius <= 0 {
		return "Radius must be positive"
	}
	return ""
}
