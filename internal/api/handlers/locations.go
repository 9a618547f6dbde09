package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dietrichmax/colota-sub003/internal/export"
	"github.com/dietrichmax/colota-sub003/internal/models"
	"github.com/dietrichmax/colota-sub003/internal/repository"
	"github.com/dietrichmax/colota-sub003/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// IngestLocation 定位源上报一次定位
// POST /api/locations
// 暂停区域内或距离不足时定位被丢弃，返回 200 和丢弃原因
func (h *Handler) IngestLocation(c *gin.Context) {
	var fix models.Fix
	if err := c.ShouldBindJSON(&fix); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid location payload"})
		return
	}
	if fix.Latitude < -90 || fix.Latitude > 90 || fix.Longitude < -180 || fix.Longitude > 180 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Coordinates out of range"})
		return
	}
	if fix.Accuracy < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Accuracy must not be negative"})
		return
	}

	loc, reason, err := h.tracker.HandleFix(c.Request.Context(), &fix)
	if err != nil {
		h.logger.Error("Failed to ingest location", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store location"})
		return
	}

	switch reason {
	case service.DropStopped:
		c.JSON(http.StatusConflict, gin.H{"error": "Tracking is stopped"})
	case "":
		c.JSON(http.StatusCreated, gin.H{"data": loc})
	default:
		c.JSON(http.StatusOK, gin.H{"status": reason})
	}
}

// ListLocations 按时间段查询定位
func (h *Handler) ListLocations(c *gin.Context) {
	from, to, ok := parseRange(c)
	if !ok {
		return
	}

	locations, err := h.locationRepo.ListByRange(c.Request.Context(), from, to)
	if err != nil {
		h.logger.Error("Failed to list locations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list locations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": locations, "count": len(locations)})
}

// GetLatestLocation 获取最新定位
func (h *Handler) GetLatestLocation(c *gin.Context) {
	loc, err := h.locationRepo.GetLatest(c.Request.Context())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No locations recorded"})
			return
		}
		h.logger.Error("Failed to get latest location", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get latest location"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": loc})
}

// GetDayStats 获取单日统计
// GET /api/stats/day?date=2006-01-02
func (h *Handler) GetDayStats(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing date"})
		return
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date"})
		return
	}

	stats, err := h.stats.Day(c.Request.Context(), date)
	if err != nil {
		h.logger.Error("Failed to compute day stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// ExportCSV 导出 CSV
func (h *Handler) ExportCSV(c *gin.Context) {
	locations, ok := h.exportRange(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="locations.csv"`)
	if err := export.CSV(c.Writer, locations); err != nil {
		h.logger.Error("Failed to export csv", zap.Error(err))
	}
}

// ExportGPX 导出 GPX 轨迹
func (h *Handler) ExportGPX(c *gin.Context) {
	locations, ok := h.exportRange(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "application/gpx+xml")
	c.Header("Content-Disposition", `attachment; filename="locations.gpx"`)
	if err := export.GPX(c.Writer, "locations", locations); err != nil {
		h.logger.Error("Failed to export gpx", zap.Error(err))
	}
}

// ExportGeoJSON 导出 GeoJSON
func (h *Handler) ExportGeoJSON(c *gin.Context) {
	locations, ok := h.exportRange(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "application/geo+json")
	c.Header("Content-Disposition", `attachment; filename="locations.geojson"`)
	if err := export.GeoJSON(c.Writer, locations); err != nil {
		h.logger.Error("Failed to export geojson", zap.Error(err))
	}
}

// exportRange 解析导出时间段并取出定位，出错时已写好响应
func (h *Handler) exportRange(c *gin.Context) ([]*models.Location, bool) {
	from, to, ok := parseRange(c)
	if !ok {
		return nil, false
	}

	locations, err := h.locationRepo.ListByRange(c.Request.Context(), from, to)
	if err != nil {
		h.logger.Error("Failed to load locations for export", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load locations"})
		return nil, false
	}
	return locations, true
}

// parseRange 解析 from/to 查询参数（unix 秒），to 缺省为当前时间
func parseRange(c *gin.Context) (int64, int64, bool) {
	from, err := strconv.ParseInt(c.DefaultQuery("from", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid from timestamp"})
		return 0, 0, false
	}

	now := strconv.FormatInt(time.Now().Unix(), 10)
	to, err := strconv.ParseInt(c.DefaultQuery("to", now), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid to timestamp"})
		return 0, 0, false
	}

	return from, to, true
}
