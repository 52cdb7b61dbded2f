package fulfillment

import (
	"strings"
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
)

// Webhook event types
const (
	EventOrderCreated = "order.created"
	EventOrderUpdated = "order.updated"
)

// WebhookEvent is the trigger for one pipeline run
type WebhookEvent struct {
	ContactID string
	// OrderID is optional; the contact's latest order is used when empty
	OrderID    string
	EventType  string
	ReceivedAt time.Time
}

func (e WebhookEvent) validate() error {
	verr := fulfillment.NewValidationError("webhook event")
	if strings.TrimSpace(e.ContactID) == "" {
		verr.Add("contactId", "required", "contactId is required", "")
	}
	return verr.OrNil()
}

// Result is what a webhook caller receives from Process
type Result struct {
	// ProcessID identifies the run. Coalesced callers share the run's ID.
	ProcessID string
	// Record is nil when the caller stopped waiting before the run finished
	Record *fulfillment.ProcessRecord
	// Coalesced is true when the caller joined a run already in flight
	Coalesced bool
	// Cached is true when a previous successful run was returned without reprocessing
	Cached bool
}

// Acknowledgement is returned for events that do not start a pipeline run
type Acknowledgement struct {
	ProcessID  string
	EventType  string
	ContactID  string
	OrderID    string
	ReceivedAt time.Time
}
