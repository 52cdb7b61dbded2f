package router

import (
	"github.com/erp/fulfillment/internal/infrastructure/logger"
	"github.com/erp/fulfillment/internal/infrastructure/telemetry"
	"github.com/erp/fulfillment/internal/interfaces/http/handler"
	"github.com/erp/fulfillment/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// EngineConfig holds what the HTTP stack needs besides the handlers
type EngineConfig struct {
	ServiceName    string
	MaxBodySize    int64
	TrustedProxies []string
	// SigningSecret enables webhook signature verification when set
	SigningSecret  string
	TracingEnabled bool
	MeterProvider  *telemetry.MeterProvider
	Logger         *zap.Logger
}

// Handlers groups the HTTP handlers mounted by NewEngine
type Handlers struct {
	Webhook *handler.WebhookHandler
	System  *handler.SystemHandler
}

// NewEngine builds the gin engine with the full middleware stack and all routes.
//
// Middleware order:
//  1. RequestID - generate/propagate request ID
//  2. Tracing + SpanErrorMarker - server span, request/process attributes
//  3. Recovery - catch panics
//  4. Logger - request log with request_id and trace ids
//  5. HTTPMetrics
//  6. Secure - response headers
//  7. BodyLimit
func NewEngine(cfg EngineConfig, h Handlers) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Warn("Failed to set trusted proxies", zap.Error(err))
	}

	engine.Use(middleware.RequestID())
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.ServiceName,
		Enabled:     cfg.TracingEnabled,
	}))
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
		MeterProvider: cfg.MeterProvider,
		Enabled:       cfg.MeterProvider != nil,
	}))
	engine.Use(middleware.Secure())
	engine.Use(middleware.BodyLimit(cfg.MaxBodySize))

	if cfg.SigningSecret == "" {
		log.Warn("Webhook signature verification is disabled")
	}

	r := NewRouter(engine)
	r.Register(NewDomainGroup("system", "").
		GET("/health", h.System.Health).
		GET("/ready", h.System.Ready))
	r.Register(NewDomainGroup("webhook", "/webhook").
		Use(middleware.WebhookSignature(cfg.SigningSecret)).
		POST("/order-created", h.Webhook.OrderCreated).
		POST("/order-updated", h.Webhook.OrderUpdated))
	r.Register(NewDomainGroup("orders", "/orders").
		GET("/:id/status", h.Webhook.Status))
	r.Setup()

	return engine
}
