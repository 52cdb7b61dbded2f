package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTestTracer sets up a test tracer provider and returns the span recorder.
func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t.Cleanup(func() {
		_ = tp.Shutdown(t.Context())
		otel.SetTracerProvider(prev)
	})

	return sr
}

func findSpan(t *testing.T, sr *tracetest.SpanRecorder, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, span := range sr.Ended() {
		if span.Name() == name {
			return span
		}
	}
	require.Failf(t, "span not found", "no ended span named %q", name)
	return nil
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, attr := range span.Attributes() {
		if string(attr.Key) == key {
			return attr.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracingWithConfig_Disabled(t *testing.T) {
	router := gin.New()
	router.Use(TracingWithConfig(TracingConfig{Enabled: false, ServiceName: "test-service"}))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTracingWithConfig_AddsProcessAttributes(t *testing.T) {
	sr := setupTestTracer(t)

	router := gin.New()
	router.Use(RequestID())
	router.Use(TracingWithConfig(DefaultTracingConfig()))
	router.Use(SpanErrorMarker())
	router.POST("/webhook/order-created", func(c *gin.Context) {
		c.Set(ContextKeyProcessID, "proc-1")
		c.Set(ContextKeyOrderID, "order_67890")
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/webhook/order-created", nil)
	req.Header.Set(HeaderRequestID, "test-request-id-123")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	span := findSpan(t, sr, "POST /webhook/order-created")
	for key, want := range map[string]string{
		ContextKeyRequestID: "test-request-id-123",
		ContextKeyProcessID: "proc-1",
		ContextKeyOrderID:   "order_67890",
	} {
		got, ok := spanAttr(span, key)
		require.True(t, ok, "missing attribute %s", key)
		assert.Equal(t, want, got.AsString())
	}
}

func TestSpanErrorMarker(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		wantCode    codes.Code
		description string
	}{
		{"success leaves status unset", http.StatusOK, codes.Unset, ""},
		{"validation failure", http.StatusUnprocessableEntity, codes.Error, "Unprocessable Entity"},
		// otelgin also sets the status on 5xx, so only the code is stable
		{"upstream failure", http.StatusBadGateway, codes.Error, ""},
		{"conflict", http.StatusConflict, codes.Error, "Conflict"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr := setupTestTracer(t)

			router := gin.New()
			router.Use(TracingWithConfig(DefaultTracingConfig()))
			router.Use(SpanErrorMarker())
			router.GET("/test", func(c *gin.Context) {
				c.Status(tt.status)
			})

			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, "/test", nil)
			router.ServeHTTP(w, req)

			span := findSpan(t, sr, "GET /test")
			assert.Equal(t, tt.wantCode, span.Status().Code)
			if tt.description != "" {
				assert.Equal(t, tt.description, span.Status().Description)
			}
		})
	}
}

func TestSpanErrorMarker_WithNoSpan(t *testing.T) {
	router := gin.New()
	router.Use(SpanErrorMarker())
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusInternalServerError)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetRequestID(t *testing.T) {
	t.Run("prefers context", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		c.Request.Header.Set(HeaderRequestID, "from-header")
		c.Set(ContextKeyRequestID, "from-context")
		assert.Equal(t, "from-context", getRequestID(c))
	})

	t.Run("falls back to truncated header", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		long := make([]byte, MaxRequestIDLength+10)
		for i := range long {
			long[i] = 'r'
		}
		c.Request.Header.Set(HeaderRequestID, string(long))
		assert.Len(t, getRequestID(c), MaxRequestIDLength)
	})
}
