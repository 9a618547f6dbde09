package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StartTracking 开始跟踪
func (h *Handler) StartTracking(c *gin.Context) {
	if err := h.tracker.Start(c.Request.Context()); err != nil {
		h.logger.Error("Failed to start tracking", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start tracking"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Tracking started"})
}

// StopTracking 停止跟踪
func (h *Handler) StopTracking(c *gin.Context) {
	h.tracker.Stop()
	c.JSON(http.StatusOK, gin.H{"message": "Tracking stopped"})
}

// GetTrackingStatus 跟踪状态总览
func (h *Handler) GetTrackingStatus(c *gin.Context) {
	status, err := h.tracker.Status(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to read tracking status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read tracking status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": status})
}

// FlushQueue 手动排空上传队列，进度按 NDJSON 行流式返回
// POST /api/sync/flush
func (h *Handler) FlushQueue(c *gin.Context) {
	var wrote bool
	enc := json.NewEncoder(c.Writer)

	err := h.syncManager.Flush(c.Request.Context(), func(sent, failed, total int) {
		if !wrote {
			c.Header("Content-Type", "application/x-ndjson")
			c.Writer.WriteHeader(http.StatusOK)
			wrote = true
		}
		if err := enc.Encode(gin.H{"sent": sent, "failed": failed, "total": total}); err != nil {
			return
		}
		c.Writer.Flush()
	})
	if err != nil {
		if wrote {
			// 进度已经发出去了，错误只能附在流尾
			enc.Encode(gin.H{"error": err.Error()})
			c.Writer.Flush()
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !wrote {
		c.JSON(http.StatusOK, gin.H{"sent": 0, "failed": 0, "total": 0})
	}
}

// GetQueueInfo 队列长度和最早排队时间
func (h *Handler) GetQueueInfo(c *gin.Context) {
	count, err := h.queueRepo.Count(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to count queue", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count queue"})
		return
	}

	data := gin.H{"count": count}
	if oldest, err := h.queueRepo.OldestCreatedAt(c.Request.Context()); err == nil && oldest != nil {
		data["oldest_created_at"] = oldest.UTC().Format(time.RFC3339)
		data["oldest_age_seconds"] = int64(time.Since(*oldest).Seconds())
	}

	c.JSON(http.StatusOK, gin.H{"data": data})
}

// CleanupRequest 清理请求
type CleanupRequest struct {
	Mode string `json:"mode"`
	Days int    `json:"days"`
}

// RunCleanup 存储清理
// POST /api/maintenance/cleanup {mode: queue|queue_locations|sent|older_than|all|vacuum}
func (h *Handler) RunCleanup(c *gin.Context) {
	var req CleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cleanup request"})
		return
	}

	ctx := c.Request.Context()
	var (
		removed int64
		err     error
	)

	switch req.Mode {
	case "queue":
		removed, err = h.queueRepo.Clear(ctx)
	case "queue_locations":
		removed, err = h.queueRepo.ClearWithLocations(ctx)
	case "sent":
		removed, err = h.locationRepo.DeleteSent(ctx)
	case "older_than":
		if req.Days <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Days must be positive"})
			return
		}
		before := time.Now().Add(-time.Duration(req.Days) * 24 * time.Hour).Unix()
		removed, err = h.locationRepo.DeleteOlderThan(ctx, before)
	case "all":
		removed, err = h.locationRepo.DeleteAll(ctx)
	case "vacuum":
		err = h.locationRepo.Vacuum(ctx)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown cleanup mode"})
		return
	}
	if err != nil {
		h.logger.Error("Cleanup failed", zap.String("mode", req.Mode), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cleanup failed"})
		return
	}

	h.logger.Info("Cleanup finished", zap.String("mode", req.Mode), zap.Int64("removed", removed))

	data := gin.H{"mode": req.Mode, "removed": removed}
	if remaining, err := h.locationRepo.Count(ctx); err == nil {
		data["remaining"] = remaining
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}
