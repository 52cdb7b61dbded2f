package middleware

import (
	"time"

	"github.com/erp/fulfillment/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HTTPMetricsConfig holds configuration for HTTP metrics middleware.
type HTTPMetricsConfig struct {
	MeterProvider *telemetry.MeterProvider
	Enabled       bool
}

// Webhook bodies are small; fetched orders never pass through the server.
var bodySizeBuckets = []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000, 1000000}

// serverMetrics are the instruments recorded for every request.
//
//	http_server_request_total            method, route, status_code, outcome
//	http_server_request_duration_seconds method, route
//	http_server_request_size_bytes       method, route
//	http_server_response_size_bytes      method, route
//	http_server_active_requests          in flight
type serverMetrics struct {
	requests     *telemetry.Counter
	duration     *telemetry.Histogram
	requestSize  *telemetry.Histogram
	responseSize *telemetry.Histogram
	inFlight     metric.Int64UpDownCounter
}

func newServerMetrics(meter metric.Meter) (*serverMetrics, error) {
	var (
		m   serverMetrics
		err error
	)
	if m.requests, err = telemetry.NewCounter(meter,
		"http_server_request_total", "Total number of HTTP requests", "{request}"); err != nil {
		return nil, err
	}
	if m.duration, err = telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http_server_request_duration_seconds",
		Description: "HTTP request latency distribution in seconds",
		Unit:        "s",
		Boundaries:  telemetry.HTTPDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.requestSize, err = telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http_server_request_size_bytes",
		Description: "Webhook and request body sizes in bytes",
		Unit:        "By",
		Boundaries:  bodySizeBuckets,
	}); err != nil {
		return nil, err
	}
	if m.responseSize, err = telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http_server_response_size_bytes",
		Description: "Response body sizes in bytes",
		Unit:        "By",
		Boundaries:  bodySizeBuckets,
	}); err != nil {
		return nil, err
	}
	if m.inFlight, err = meter.Int64UpDownCounter("http_server_active_requests",
		metric.WithDescription("Number of requests currently being served"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

// observe records a finished request.
func (m *serverMetrics) observe(c *gin.Context, elapsed time.Duration, requestSize int64) {
	ctx := c.Request.Context()
	status := c.Writer.Status()
	route := []attribute.KeyValue{
		telemetry.AttrHTTPMethod.String(c.Request.Method),
		telemetry.AttrHTTPRoute.String(getRoutePattern(c)),
	}

	m.requests.Inc(ctx, append(route,
		telemetry.AttrHTTPStatusCode.Int(status),
		telemetry.AttrOutcome.String(statusOutcome(status)),
	)...)
	m.duration.RecordDuration(ctx, elapsed, route...)
	if requestSize > 0 {
		m.requestSize.Record(ctx, float64(requestSize), route...)
	}
	if size := c.Writer.Size(); size > 0 {
		m.responseSize.Record(ctx, float64(size), route...)
	}
}

// HTTPMetrics returns a Gin middleware that records request metrics on the
// provider. It passes requests through untouched when metrics are off.
func HTTPMetrics(cfg HTTPMetricsConfig) gin.HandlerFunc {
	if !cfg.Enabled || cfg.MeterProvider == nil || !cfg.MeterProvider.IsEnabled() {
		return passThrough
	}
	return HTTPMetricsWithMeter(cfg.MeterProvider.Meter("http.server"), true)
}

// HTTPMetricsWithMeter records request metrics on meter.
func HTTPMetricsWithMeter(meter metric.Meter, enabled bool) gin.HandlerFunc {
	if !enabled {
		return passThrough
	}
	m, err := newServerMetrics(meter)
	if err != nil {
		return passThrough
	}

	return func(c *gin.Context) {
		start := time.Now()
		requestSize := max(c.Request.ContentLength, 0)

		m.inFlight.Add(c.Request.Context(), 1)
		defer m.inFlight.Add(c.Request.Context(), -1)

		c.Next()
		m.observe(c, time.Since(start), requestSize)
	}
}

func passThrough(c *gin.Context) {
	c.Next()
}

// statusOutcome buckets a status so dashboards can split webhook rejections
// from upstream failures without enumerating codes.
func statusOutcome(status int) string {
	switch {
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "client_error"
	default:
		return "success"
	}
}

// getRoutePattern returns the matched route (e.g. "/orders/:id/status")
// so order IDs never become label values.
func getRoutePattern(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unknown"
}
