package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/langchou/fleetgazer/internal/api/geocoder"
	"github.com/langchou/fleetgazer/internal/api/handlers"
	"github.com/langchou/fleetgazer/internal/api/vendor"
	"github.com/langchou/fleetgazer/internal/config"
	"github.com/langchou/fleetgazer/internal/credential"
	"github.com/langchou/fleetgazer/internal/models"
	"github.com/langchou/fleetgazer/internal/notify"
	"github.com/langchou/fleetgazer/internal/repository"
	"github.com/langchou/fleetgazer/internal/service"
	"github.com/langchou/fleetgazer/internal/state"
	"github.com/langchou/fleetgazer/pkg/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background sync scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting Fleetgazer", zap.String("port", cfg.ServerPort))

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 连接数据库
	db, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("Failed to connect database", zap.Error(err))
		return err
	}
	defer db.Close()

	// 执行数据库迁移
	if err := db.Migrate(ctx); err != nil {
		logger.Error("Failed to migrate database", zap.Error(err))
		return err
	}
	logger.Info("Database migrated successfully")

	store := repository.NewStore(db)

	// 供应商客户端，按提供商注册
	registry := buildRegistry(cfg, logger)
	if len(registry.Providers()) == 0 {
		logger.Warn("No vendor base URL configured, sync will fail until DATATRACK247_BASE_URL or FLEET77_BASE_URL is set")
	}

	creds := credential.NewStore(store, registry, credential.Options{
		PasswordKey:     cfg.VendorPasswordKey,
		SessionTokenTTL: cfg.SessionTokenTTL,
		SecretTokenTTL:  cfg.SecretTokenTTL,
	}, logger)

	// 实时状态
	states := state.NewManager(func(vehicleID int64, from, to string) {
		logger.Debug("Vehicle state changed",
			zap.Int64("vehicle_id", vehicleID),
			zap.String("from", from),
			zap.String("to", to))
	})

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)
	wsHub.SetInitDataProvider(func(fleetID int64) interface{} {
		if fleetID == ws.AllFleets {
			return states.GetAllStates()
		}
		return states.FleetStates(fleetID)
	})

	// 事件推送：WebSocket 必开，MQTT 可选
	var publisher notify.Publisher
	if cfg.MQTTBroker != "" {
		mqttPub, err := notify.NewMQTTPublisher(cfg.MQTTBroker, "fleetgazer-"+vendor.NewClientID(), cfg.MQTTTopicPrefix)
		if err != nil {
			logger.Warn("MQTT disabled, failed to connect broker", zap.String("broker", cfg.MQTTBroker), zap.Error(err))
		} else {
			defer mqttPub.Close()
			publisher = mqttPub
			logger.Info("Publishing vehicle events to MQTT", zap.String("broker", cfg.MQTTBroker))
		}
	}
	notifier := notify.NewNotifier(wsHub, publisher, logger)

	var geo service.Geocoder
	if cfg.GeocoderEnabled {
		client := geocoder.NewClient(cfg.AmapAPIKey, logger)
		logger.Info("Trip geocoding enabled", zap.String("provider", client.Provider()))
		geo = client
	}

	engine := service.NewEngine(store, creds, registry, notifier, geo, states, service.EngineOptions{
		LowBatteryMillivolts:  cfg.LowBatteryMillivolts,
		LocationHistoryWindow: cfg.LocationHistoryWindow,
		AutoLinkDevices:       cfg.AutoLinkDevices,
	}, logger)

	scheduler := service.NewScheduler(engine, store, service.SchedulerOptions{
		StatusInterval:   cfg.StatusSyncInterval,
		LocationInterval: cfg.LocationSyncInterval,
		LocationDelay:    cfg.LocationSyncDelay,
		VehicleInterval:  cfg.VehicleSyncInterval,
		Concurrency:      cfg.SyncConcurrency,
	}, logger)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handler := handlers.NewHandler(logger, store, creds, engine, states, wsHub)
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		scheduler.Start(gctx)
		<-gctx.Done()
		scheduler.Stop()
		return nil
	})

	g.Go(func() error {
		logger.Info("Server started", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		// 优雅关闭
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		return err
	}
	logger.Info("Server exited")
	return nil
}

// buildRegistry 为每个配置了地址的提供商创建带熔断的客户端
func buildRegistry(cfg *config.Config, logger *zap.Logger) *vendor.Registry {
	registry := vendor.NewRegistry()
	for _, provider := range []string{models.ProviderDatatrack247, models.ProviderFleet77} {
		baseURL, ok := cfg.ProviderBaseURL(provider)
		if !ok {
			continue
		}
		client := vendor.NewClient(vendor.Options{
			Provider:  provider,
			BaseURL:   baseURL,
			Version:   cfg.VendorAPIVersion,
			Timeout:   cfg.VendorTimeout,
			RateLimit: cfg.VendorRateLimit,
			RateBurst: cfg.VendorRateBurst,
		}, logger)
		registry.Register(provider, vendor.NewBreakerClient(client, logger))
		logger.Info("Vendor provider configured", zap.String("provider", provider), zap.String("base_url", baseURL))
	}
	return registry
}
