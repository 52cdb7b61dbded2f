package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	fulfillmentapp "github.com/erp/fulfillment/internal/application/fulfillment"
	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/interfaces/http/dto"
	"github.com/erp/fulfillment/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// FulfillmentService is the part of the process coordinator the webhook handlers use
type FulfillmentService interface {
	Process(ctx context.Context, event fulfillmentapp.WebhookEvent) (*fulfillmentapp.Result, error)
	Acknowledge(ctx context.Context, event fulfillmentapp.WebhookEvent) (*fulfillmentapp.Acknowledgement, error)
	Status(ctx context.Context, orderID string) (*fulfillment.ProcessRecord, error)
}

// WebhookHandler handles the e-commerce webhooks and the process status query
type WebhookHandler struct {
	BaseHandler
	service FulfillmentService
	now     func() time.Time
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(service FulfillmentService) *WebhookHandler {
	return &WebhookHandler{service: service, now: time.Now}
}

// OrderCreated runs the fulfillment pipeline for a new order.
// POST /webhook/order-created
func (h *WebhookHandler) OrderCreated(c *gin.Context) {
	var req dto.OrderCreatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadPayload(c, err)
		return
	}
	req.ContactID = strings.TrimSpace(req.ContactID)
	req.OrderID = strings.TrimSpace(req.OrderID)
	if req.ContactID == "" {
		h.Reject(c, http.StatusBadRequest, fulfillment.CodeInvalidWebhookPayload, "contactId must not be blank")
		return
	}

	result, err := h.service.Process(c.Request.Context(), fulfillmentapp.WebhookEvent{
		ContactID:  req.ContactID,
		OrderID:    req.OrderID,
		EventType:  fulfillmentapp.EventOrderCreated,
		ReceivedAt: h.now(),
	})

	processID := ""
	orderID := req.OrderID
	if result != nil {
		processID = result.ProcessID
		if result.Record != nil && result.Record.OrderID != "" {
			orderID = result.Record.OrderID
		}
	}
	c.Set(middleware.ContextKeyProcessID, processID)
	c.Set(middleware.ContextKeyOrderID, orderID)

	if err != nil {
		h.HandleError(c, processID, err)
		return
	}

	resp := dto.WebhookResponse{
		Status:    dto.StatusSuccess,
		Message:   "Order successfully submitted to warehouse",
		ProcessID: processID,
	}
	if result.Record != nil {
		resp.WMSOrderNumber = result.Record.WMSOrderNumber
	}
	switch {
	case result.Cached:
		resp.Message = "Order was already submitted to warehouse"
	case result.Coalesced:
		resp.Message = "Order submitted to warehouse by a concurrent request"
	}
	c.JSON(http.StatusOK, resp)
}

// OrderUpdated acknowledges an order update without reprocessing.
// POST /webhook/order-updated
func (h *WebhookHandler) OrderUpdated(c *gin.Context) {
	var req dto.OrderUpdatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadPayload(c, err)
		return
	}

	ack, err := h.service.Acknowledge(c.Request.Context(), fulfillmentapp.WebhookEvent{
		ContactID:  strings.TrimSpace(req.ContactID),
		OrderID:    strings.TrimSpace(req.OrderID),
		EventType:  req.EventType,
		ReceivedAt: h.now(),
	})
	if err != nil {
		h.HandleError(c, "", err)
		return
	}
	c.Set(middleware.ContextKeyProcessID, ack.ProcessID)

	c.JSON(http.StatusOK, dto.AckResponse{
		Status:    dto.StatusAcknowledged,
		Message:   "Order update acknowledged",
		ProcessID: ack.ProcessID,
	})
}

// Status returns the latest process record for an order.
// GET /orders/:id/status
func (h *WebhookHandler) Status(c *gin.Context) {
	orderID := c.Param("id")
	c.Set(middleware.ContextKeyOrderID, orderID)

	rec, err := h.service.Status(c.Request.Context(), orderID)
	if err != nil {
		h.HandleError(c, "", err)
		return
	}
	c.Set(middleware.ContextKeyProcessID, rec.ProcessID)

	c.JSON(http.StatusOK, dto.StatusResponse{
		Status: dto.StatusSuccess,
		Data:   dto.NewProcessView(rec),
	})
}
