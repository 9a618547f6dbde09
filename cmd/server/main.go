package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dietrichmax/colota-sub003/internal/api/handlers"
	"github.com/dietrichmax/colota-sub003/internal/config"
	"github.com/dietrichmax/colota-sub003/internal/dispatch"
	"github.com/dietrichmax/colota-sub003/internal/geofence"
	"github.com/dietrichmax/colota-sub003/internal/profile"
	"github.com/dietrichmax/colota-sub003/internal/repository"
	"github.com/dietrichmax/colota-sub003/internal/service"
	"github.com/dietrichmax/colota-sub003/internal/syncer"
	"github.com/dietrichmax/colota-sub003/pkg/events"
	"github.com/dietrichmax/colota-sub003/pkg/ws"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting colota", zap.String("port", cfg.ServerPort))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	db, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}
	defer db.Close()

	// 执行数据库迁移
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database migrated successfully")

	// 创建 Repository
	locationRepo := repository.NewLocationRepository(db)
	queueRepo := repository.NewQueueRepository(db)
	geofenceRepo := repository.NewGeofenceRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	settingRepo := repository.NewSettingRepository(db)

	// 事件总线和 WebSocket Hub
	bus := events.NewBus()
	wsHub := ws.NewHub(logger)
	go wsHub.Run(ctx)

	// 发送器和网络状态缓存
	sender := dispatch.NewSender(logger)
	network := dispatch.NewNetworkStatus(dispatch.DialProbe(cfg.ProbeAddress))

	// 区域与配置档引擎
	zoneEngine := geofence.NewEngine(geofenceRepo, logger)
	profileEngine := profile.NewEngine(profileRepo, bus, logger)

	// 同步调度器
	syncManager := syncer.NewManager(queueRepo, sender, network, bus, logger)

	// 配置服务：补默认值、签发设备标识
	settings := service.NewSettingsService(settingRepo, logger)
	if err := settings.Seed(ctx); err != nil {
		logger.Fatal("Failed to seed settings", zap.Error(err))
	}

	statsService := service.NewStatsService(locationRepo)

	// 采集管线
	tracker := service.NewTracker(
		locationRepo,
		queueRepo,
		settings,
		zoneEngine,
		profileEngine,
		syncManager,
		network,
		bus,
		logger,
	)

	// 配置一落库就热应用到管线和调度器
	settings.OnChange(func() {
		tracker.ApplyConfig(context.Background())
	})
	tracker.ApplyConfig(ctx)

	// 总线事件转发到 WebSocket
	go func() {
		for ev := range bus.Subscribe() {
			wsHub.BroadcastMessage(ev.Type, ev.Data)
		}
	}()

	// 新连接先收到当前状态快照
	wsHub.SetInitDataProvider(func() *ws.InitData {
		init := &ws.InitData{}
		if status, err := tracker.Status(context.Background()); err == nil {
			init.Status = status
		}
		if loc, err := locationRepo.GetLatest(context.Background()); err == nil {
			init.LastLocation = loc
		}
		return init
	})

	// 自动开始跟踪
	if cfg.AutoStart {
		if err := tracker.Start(ctx); err != nil {
			logger.Error("Failed to start tracking", zap.Error(err))
		}
	}

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(
		logger,
		locationRepo,
		queueRepo,
		geofenceRepo,
		profileRepo,
		tracker,
		settings,
		statsService,
		syncManager,
		sender.Policy(),
		wsHub,
	)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// 注册路由
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 停止采集和同步，队列里的数据留到下次启动再传
	tracker.Stop()

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
