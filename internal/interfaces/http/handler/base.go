package handler

import (
	"errors"
	"net/http"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/infrastructure/logger"
	"github.com/erp/fulfillment/internal/interfaces/http/dto"
	"github.com/erp/fulfillment/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// Reject sends an error response for a webhook refused before processing.
// The response carries a process ID of its own.
func (h *BaseHandler) Reject(c *gin.Context, statusCode int, code, message string) {
	h.reject(c, statusCode, dto.NewRejection(code, message))
}

// BadPayload sends a 400 response for a webhook body that could not be bound
func (h *BaseHandler) BadPayload(c *gin.Context, err error) {
	resp := dto.NewRejection(fulfillment.CodeInvalidWebhookPayload, "Invalid webhook payload")
	if details := middleware.FieldErrors(err); len(details) > 0 {
		resp.Details = details
	} else if err != nil {
		resp.Message = "Invalid webhook payload: " + err.Error()
	}
	h.reject(c, http.StatusBadRequest, resp)
}

func (h *BaseHandler) reject(c *gin.Context, statusCode int, resp dto.WebhookResponse) {
	c.Set(middleware.ContextKeyProcessID, resp.ProcessID)
	c.JSON(statusCode, resp)
}

// HandleError converts a pipeline error to an HTTP response.
// processID may be empty when no run was started.
func (h *BaseHandler) HandleError(c *gin.Context, processID string, err error) {
	if err == nil {
		return
	}

	code, status := dto.StatusForError(err)
	resp := dto.WebhookResponse{
		Status:    dto.StatusError,
		Message:   err.Error(),
		ProcessID: processID,
		ErrorCode: code,
	}

	var verr *fulfillment.ValidationError
	if errors.As(err, &verr) && len(verr.Fields) > 0 {
		resp.Details = verr.Fields
	}
	if code == fulfillment.CodeInternal {
		logger.GetGinLogger(c).Error("Unhandled error", zap.String("process_id", processID), zap.Error(err))
		resp.Message = "An unexpected error occurred"
	}
	_ = c.Error(err)

	c.JSON(status, resp)
}
