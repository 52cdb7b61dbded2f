package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/erp/fulfillment/internal/infrastructure/logger"
	"github.com/erp/fulfillment/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HeaderWebhookSignature carries "sha256=<hex hmac of the raw body>"
const HeaderWebhookSignature = "X-Webhook-Signature"

const signaturePrefix = "sha256="

// SignPayload returns the header value for body signed with secret.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// WebhookSignature verifies the HMAC-SHA256 signature of webhook bodies.
// An empty secret disables verification. The body is buffered and restored
// so handlers can bind it as usual.
func WebhookSignature(secret string) gin.HandlerFunc {
	if secret == "" {
		return passThrough
	}

	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				abortRejected(c, http.StatusRequestEntityTooLarge,
					dto.NewRejection(dto.ErrCodeRequestTooLarge, "Request body exceeds maximum allowed size"))
				return
			}
			abortRejected(c, http.StatusBadRequest,
				dto.NewRejection(dto.ErrCodeInvalidSignature, "Failed to read request body"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if !validSignature(secret, body, c.GetHeader(HeaderWebhookSignature)) {
			resp := dto.NewRejection(dto.ErrCodeInvalidSignature, "Webhook signature is missing or invalid")
			logger.GetGinLogger(c).Warn("Rejected webhook with invalid signature",
				zap.String("path", c.Request.URL.Path),
				zap.String("process_id", resp.ProcessID),
				zap.Bool("signature_present", c.GetHeader(HeaderWebhookSignature) != ""),
			)
			abortRejected(c, http.StatusUnauthorized, resp)
			return
		}
		c.Next()
	}
}

func abortRejected(c *gin.Context, status int, resp dto.WebhookResponse) {
	c.Set(ContextKeyProcessID, resp.ProcessID)
	c.AbortWithStatusJSON(status, resp)
}

func validSignature(secret string, body []byte, header string) bool {
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
