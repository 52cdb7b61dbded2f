package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	fulfillmentapp "github.com/erp/fulfillment/internal/application/fulfillment"
	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/infrastructure/cache"
	"github.com/erp/fulfillment/internal/infrastructure/config"
	"github.com/erp/fulfillment/internal/infrastructure/ecommerce"
	"github.com/erp/fulfillment/internal/infrastructure/logger"
	"github.com/erp/fulfillment/internal/infrastructure/persistence"
	"github.com/erp/fulfillment/internal/infrastructure/scheduler"
	"github.com/erp/fulfillment/internal/infrastructure/telemetry"
	"github.com/erp/fulfillment/internal/infrastructure/warehouse"
	"github.com/erp/fulfillment/internal/interfaces/http/handler"
	"github.com/erp/fulfillment/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// recordStore is a process record repository that can also purge old records
type recordStore interface {
	fulfillment.ProcessRecordRepository
	scheduler.Purger
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: cfg.App.Name,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting fulfillment bridge",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("store", cfg.Process.Store),
		zap.String("lock", cfg.Process.Lock),
	)

	ctx := context.Background()

	// Telemetry
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    cfg.App.Version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}

	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    cfg.App.Version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}

	lp, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    cfg.App.Version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	log = lp.Bridge(log)

	var pipelineMetrics *telemetry.PipelineMetrics
	var httpMeter *telemetry.MeterProvider
	if mp.IsEnabled() {
		pipelineMetrics, err = telemetry.NewPipelineMetrics(mp.Meter("fulfillment-bridge"))
		if err != nil {
			log.Fatal("Failed to create pipeline metrics", zap.Error(err))
		}
		httpMeter = mp
	}

	systemHandler := handler.NewSystemHandler(cfg.App.Name, cfg.App.Version)

	// Process record store
	var records recordStore
	switch cfg.Process.Store {
	case config.BackendPostgres:
		db, err := persistence.NewDatabase(&cfg.Database, log, cfg.Log.Level)
		if err != nil {
			log.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Error("Error closing database", zap.Error(err))
			}
		}()
		if err := telemetry.RegisterDBTracing(db.DB, "postgresql", cfg.Telemetry.DBTraceEnabled, log); err != nil {
			log.Warn("Failed to register database tracing", zap.Error(err))
		}
		records = persistence.NewGormProcessRecordRepository(db.DB)
		systemHandler.AddCheck("database", handler.PingFunc(db.Ping))
		log.Info("Database connected successfully")
	default:
		records = persistence.NewInMemoryProcessRecordRepository()
	}

	// Locks and delivery confirmations
	stores := cache.NewStoreFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithLockTTL(cfg.Process.LockTTL),
	)
	defer func() {
		if err := stores.Close(); err != nil {
			log.Error("Error closing redis client", zap.Error(err))
		}
	}()

	locker, err := stores.CreateOrderLocker(cfg.Process.Lock)
	if err != nil {
		log.Fatal("Failed to create order locker", zap.Error(err))
	}
	confirmations, err := stores.CreateConfirmationStore(cfg.Process.Lock)
	if err != nil {
		log.Fatal("Failed to create confirmation store", zap.Error(err))
	}
	if cfg.Process.Lock == config.BackendRedis {
		systemHandler.AddCheck("redis", handler.PingFunc(stores.Ping))
	}

	// External systems
	source, err := ecommerce.NewClient(ecommerce.Config{
		BaseURL:    cfg.Ecommerce.BaseURL,
		APIToken:   cfg.Ecommerce.APIToken,
		LocationID: cfg.Ecommerce.LocationID,
		Timeout:    cfg.Ecommerce.Timeout,
	}, ecommerce.WithLogger(log))
	if err != nil {
		log.Fatal("Failed to create e-commerce client", zap.Error(err))
	}

	retry := warehouse.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Retry.MaxAttempts
	retry.BaseDelay = cfg.Retry.BaseDelay
	retry.MaxDelay = cfg.Retry.MaxDelay
	retry.Multiplier = cfg.Retry.Multiplier
	retry.Jitter = cfg.Retry.Jitter

	deliverer, err := warehouse.NewClient(warehouse.Config{
		BaseURL:         cfg.WMS.BaseURL,
		Username:        cfg.WMS.Username,
		Password:        cfg.WMS.Password,
		Timeout:         cfg.WMS.Timeout,
		ConfirmationTTL: cfg.WMS.ConfirmationTTL,
	},
		warehouse.WithRetryPolicy(retry),
		warehouse.WithConfirmationStore(confirmations),
		warehouse.WithMetrics(pipelineMetrics),
		warehouse.WithLogger(log),
	)
	if err != nil {
		log.Fatal("Failed to create warehouse client", zap.Error(err))
	}

	service := fulfillmentapp.NewService(source, deliverer, records, locker,
		fulfillment.WarehouseSettings{
			WarehouseID:    cfg.WMS.WarehouseID,
			LeadTimeDays:   cfg.WMS.LeadTimeDays,
			ShippingMethod: cfg.WMS.ShippingMethod,
			Priority:       cfg.WMS.Priority,
		},
		fulfillmentapp.WithTimeout(cfg.Process.Timeout),
		fulfillmentapp.WithMetrics(pipelineMetrics),
		fulfillmentapp.WithLogger(log),
	)

	// Retention sweeper
	sweeperCfg := scheduler.DefaultRetentionSweeperConfig()
	sweeperCfg.Retention = cfg.Process.Retention
	sweeper, err := scheduler.NewRetentionSweeper(sweeperCfg, records, log)
	if err != nil {
		log.Fatal("Failed to create retention sweeper", zap.Error(err))
	}
	if err := sweeper.Start(ctx); err != nil {
		log.Fatal("Failed to start retention sweeper", zap.Error(err))
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := router.NewEngine(router.EngineConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		TrustedProxies: cfg.HTTP.TrustedProxies,
		SigningSecret:  cfg.Webhook.SigningSecret,
		TracingEnabled: cfg.Telemetry.Enabled,
		MeterProvider:  httpMeter,
		Logger:         log,
	}, router.Handlers{
		Webhook: handler.NewWebhookHandler(service),
		System:  systemHandler,
	})

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg.HTTP.ShutdownTimeout))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := sweeper.Stop(shutdownCtx); err != nil {
		log.Warn("Retention sweeper did not stop cleanly", zap.Error(err))
	}
	if err := mp.Shutdown(shutdownCtx); err != nil {
		log.Warn("Meter provider shutdown failed", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warn("Tracer provider shutdown failed", zap.Error(err))
	}
	if err := lp.Shutdown(shutdownCtx); err != nil {
		log.Warn("Logger provider shutdown failed", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

func shutdownTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}
