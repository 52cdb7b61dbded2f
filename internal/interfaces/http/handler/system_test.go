package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/erp/fulfillment/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveSystem(h *SystemHandler, path string) *httptest.ResponseRecorder {
	router := gin.New()
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestSystemHandler_Health(t *testing.T) {
	h := NewSystemHandler("fulfillment-bridge", "1.2.0")

	w := serveSystem(h, "/health")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"fulfillment-bridge","version":"1.2.0"}`, w.Body.String())
}

func TestSystemHandler_Ready(t *testing.T) {
	ok := PingFunc(func(ctx context.Context) error { return nil })
	down := PingFunc(func(ctx context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name       string
		checks     map[string]Pinger
		wantStatus int
		wantState  string
		wantChecks map[string]string
	}{
		{
			name:       "no dependencies",
			checks:     nil,
			wantStatus: http.StatusOK,
			wantState:  "healthy",
			wantChecks: nil,
		},
		{
			name:       "all healthy",
			checks:     map[string]Pinger{"database": ok, "redis": ok},
			wantStatus: http.StatusOK,
			wantState:  "healthy",
			wantChecks: map[string]string{"database": "ok", "redis": "ok"},
		},
		{
			name:       "redis down",
			checks:     map[string]Pinger{"database": ok, "redis": down},
			wantStatus: http.StatusServiceUnavailable,
			wantState:  "unhealthy",
			wantChecks: map[string]string{"database": "ok", "redis": "connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSystemHandler("fulfillment-bridge", "1.2.0")
			for name, p := range tt.checks {
				h.AddCheck(name, p)
			}

			w := serveSystem(h, "/ready")

			require.Equal(t, tt.wantStatus, w.Code)
			var resp dto.HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantState, resp.Status)
			if tt.wantChecks == nil {
				assert.Empty(t, resp.Checks)
			} else {
				assert.Equal(t, tt.wantChecks, resp.Checks)
			}
		})
	}
}

func TestSystemHandler_ReadyHonorsTimeout(t *testing.T) {
	h := NewSystemHandler("fulfillment-bridge", "1.2.0")
	h.checkTimeout = 0
	h.AddCheck("slow", PingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	w := serveSystem(h, "/ready")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "deadline exceeded")
}
