// Package middleware provides HTTP middleware for the fulfillment bridge.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Gin context keys shared by middleware and handlers
const (
	ContextKeyRequestID = "request_id"
	ContextKeyProcessID = "process_id"
	ContextKeyOrderID   = "order_id"

	HeaderRequestID = "X-Request-ID"
)

// RequestID propagates the caller's X-Request-ID or generates one
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if len(requestID) > MaxRequestIDLength {
			requestID = requestID[:MaxRequestIDLength]
		}
		if requestID == "" {
			requestID = generateRequestID()
		}
		c.Set(ContextKeyRequestID, requestID)
		c.Writer.Header().Set(HeaderRequestID, requestID)
		c.Next()
	}
}

func generateRequestID() string {
	return uuid.NewString()
}

// Secure sets the response headers an API-only service needs.
func Secure() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Cache-Control", "no-store")
		c.Next()
	}
}
