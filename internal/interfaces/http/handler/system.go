package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/erp/fulfillment/internal/infrastructure/logger"
	"github.com/erp/fulfillment/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger is a dependency the readiness probe checks
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// Ping calls f
func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// SystemHandler serves the liveness and readiness probes
type SystemHandler struct {
	BaseHandler
	service      string
	version      string
	checks       map[string]Pinger
	checkTimeout time.Duration
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(service, version string) *SystemHandler {
	return &SystemHandler{
		service:      service,
		version:      version,
		checks:       make(map[string]Pinger),
		checkTimeout: 2 * time.Second,
	}
}

// AddCheck registers a dependency for the readiness probe
func (h *SystemHandler) AddCheck(name string, p Pinger) *SystemHandler {
	h.checks[name] = p
	return h
}

// Health reports that the process is up.
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, dto.HealthResponse{
		Status:  dto.StatusHealthy,
		Service: h.service,
		Version: h.version,
	})
}

// Ready pings every registered dependency.
// GET /ready
func (h *SystemHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.checkTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := dto.HealthResponse{
		Status:  dto.StatusHealthy,
		Service: h.service,
		Version: h.version,
		Checks:  make(map[string]string, len(names)),
	}
	status := http.StatusOK
	for _, name := range names {
		if err := h.checks[name].Ping(ctx); err != nil {
			logger.GetGinLogger(c).Warn("Readiness check failed", zap.String("check", name), zap.Error(err))
			resp.Checks[name] = err.Error()
			resp.Status = dto.StatusUnhealthy
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	c.JSON(status, resp)
}
