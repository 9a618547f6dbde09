package handlers

import (
	"net/http"

	"github.com/dietrichmax/colota-sub003/internal/dispatch"
	"github.com/dietrichmax/colota-sub003/internal/repository"
	"github.com/dietrichmax/colota-sub003/internal/service"
	"github.com/dietrichmax/colota-sub003/internal/syncer"
	"github.com/dietrichmax/colota-sub003/pkg/ws"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler HTTP 处理器
type Handler struct {
	logger       *zap.Logger
	locationRepo *repository.LocationRepository
	queueRepo    *repository.QueueRepository
	geofenceRepo *repository.GeofenceRepository
	profileRepo  *repository.ProfileRepository
	tracker      *service.Tracker
	settings     *service.SettingsService
	stats        *service.StatsService
	syncManager  *syncer.Manager
	policy       *dispatch.Policy
	wsHub        *ws.Hub
	upgrader     websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	locationRepo *repository.LocationRepository,
	queueRepo *repository.QueueRepository,
	geofenceRepo *repository.GeofenceRepository,
	profileRepo *repository.ProfileRepository,
	tracker *service.Tracker,
	settings *service.SettingsService,
	stats *service.StatsService,
	syncManager *syncer.Manager,
	policy *dispatch.Policy,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:       logger,
		locationRepo: locationRepo,
		queueRepo:    queueRepo,
		geofenceRepo: geofenceRepo,
		profileRepo:  profileRepo,
		tracker:      tracker,
		settings:     settings,
		stats:        stats,
		syncManager:  syncManager,
		policy:       policy,
		wsHub:        wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 本地单用户服务允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		// 定位
		api.POST("/locations", h.IngestLocation)
		api.GET("/locations", h.ListLocations)
		api.GET("/locations/latest", h.GetLatestLocation)
		api.GET("/stats/day", h.GetDayStats)

		// 条件源
		api.POST("/conditions", h.ReportConditions)

		// 暂停区域
		api.GET("/geofences", h.ListGeofences)
		api.POST("/geofences", h.CreateGeofence)
		api.GET("/geofences/:id", h.GetGeofence)
		api.PUT("/geofences/:id", h.UpdateGeofence)
		api.DELETE("/geofences/:id", h.DeleteGeofence)

		// 跟踪配置档
		api.GET("/profiles", h.ListProfiles)
		api.POST("/profiles", h.CreateProfile)
		api.GET("/profiles/:id", h.GetProfile)
		api.PUT("/profiles/:id", h.UpdateProfile)
		api.DELETE("/profiles/:id", h.DeleteProfile)

		// 配置
		api.GET("/settings", h.ListSettings)
		api.PUT("/settings", h.UpdateSettings)

		// 跟踪控制
		api.POST("/tracking/start", h.StartTracking)
		api.POST("/tracking/stop", h.StopTracking)
		api.GET("/tracking/status", h.GetTrackingStatus)

		// 同步与队列
		api.POST("/sync/flush", h.FlushQueue)
		api.GET("/queue", h.GetQueueInfo)
		api.POST("/maintenance/cleanup", h.RunCleanup)

		// 导出
		api.GET("/export/csv", h.ExportCSV)
		api.GET("/export/gpx", h.ExportGPX)
		api.GET("/export/geojson", h.ExportGeoJSON)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"device_id":  h.settings.DeviceID(c.Request.Context()),
		"tracking":   h.tracker.Running(),
		"ws_clients": h.wsHub.ClientCount(),
	})
}
