package dto

import (
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/google/uuid"
)

// Response status values
const (
	StatusSuccess      = "success"
	StatusError        = "error"
	StatusAcknowledged = "acknowledged"
	StatusHealthy      = "healthy"
	StatusUnhealthy    = "unhealthy"
)

// WebhookResponse is returned by the order-created webhook
type WebhookResponse struct {
	Status         string      `json:"status"`
	Message        string      `json:"message"`
	WMSOrderNumber string      `json:"wmsOrderNumber,omitempty"`
	ProcessID      string      `json:"processId,omitempty"`
	ErrorCode      string      `json:"error_code,omitempty"`
	Details        interface{} `json:"details,omitempty"`
}

// NewErrorResponse creates an error response
func NewErrorResponse(code, message string) WebhookResponse {
	return WebhookResponse{
		Status:    StatusError,
		Message:   message,
		ErrorCode: code,
	}
}

// NewRejection creates an error response for a webhook turned away before
// any run started. It carries a fresh process ID so the caller can quote it
// and the rejection can be found in the access log.
func NewRejection(code, message string) WebhookResponse {
	resp := NewErrorResponse(code, message)
	resp.ProcessID = uuid.NewString()
	return resp
}

// AckResponse is returned for webhook events that are only acknowledged
type AckResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	ProcessID string `json:"processId"`
}

// StatusResponse wraps a process view
type StatusResponse struct {
	Status string       `json:"status"`
	Data   *ProcessView `json:"data"`
}

// HealthResponse is returned by /health and /ready
type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// StepView is one entry of the process history
type StepView struct {
	State string    `json:"state"`
	At    time.Time `json:"at"`
}

// ProcessView is the public representation of a process record
type ProcessView struct {
	ProcessID      string     `json:"processId"`
	OrderID        string     `json:"orderId"`
	ContactID      string     `json:"contactId,omitempty"`
	State          string     `json:"state"`
	FailedStage    string     `json:"failedStage,omitempty"`
	ErrorCode      string     `json:"errorCode,omitempty"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	WMSOrderNumber string     `json:"wmsOrderNumber,omitempty"`
	ConfirmationID string     `json:"confirmationId,omitempty"`
	Attempts       int        `json:"attempts"`
	Steps          []StepView `json:"steps"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// NewProcessView converts a domain record to its view
func NewProcessView(rec *fulfillment.ProcessRecord) *ProcessView {
	if rec == nil {
		return nil
	}
	steps := make([]StepView, len(rec.Steps))
	for i, s := range rec.Steps {
		steps[i] = StepView{State: s.State.String(), At: s.At}
	}
	return &ProcessView{
		ProcessID:      rec.ProcessID,
		OrderID:        rec.OrderID,
		ContactID:      rec.ContactID,
		State:          rec.State.String(),
		FailedStage:    rec.FailedStage.String(),
		ErrorCode:      rec.ErrorCode,
		ErrorMessage:   rec.ErrorMessage,
		WMSOrderNumber: rec.WMSOrderNumber,
		ConfirmationID: rec.ConfirmationID,
		Attempts:       rec.Attempts,
		Steps:          steps,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

// OrderCreatedRequest is the body of the order-created webhook.
// Unknown fields are ignored.
type OrderCreatedRequest struct {
	ContactID string `json:"contactId" binding:"required"`
	OrderID   string `json:"orderId"`
}

// OrderUpdatedRequest is the body of the order-updated webhook
type OrderUpdatedRequest struct {
	ContactID string `json:"contactId" binding:"required"`
	OrderID   string `json:"orderId"`
	EventType string `json:"type"`
}
