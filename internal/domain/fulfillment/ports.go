package fulfillment

import (
	"context"
	"time"
)

// ---------------------------------------------------------------------------
// OrderSource Port Interface
// ---------------------------------------------------------------------------

// OrderSource defines the port for the e-commerce platform the orders come from.
type OrderSource interface {
	// LatestOrderID returns the most recent order placed by a contact.
	// It is used when the webhook does not carry the order ID.
	LatestOrderID(ctx context.Context, contactID string) (string, error)

	// FetchOrder retrieves the full order record.
	// Failures are reported as *OrderFetchError.
	FetchOrder(ctx context.Context, orderID string) (*InboundOrder, error)
}

// ---------------------------------------------------------------------------
// Deliverer Port Interface
// ---------------------------------------------------------------------------

// Deliverer submits fulfillment requests to the warehouse.
type Deliverer interface {
	// Deliver submits req and returns the warehouse confirmation.
	// Every attempt is tagged with processID. Failures are reported as *DeliveryError.
	Deliver(ctx context.Context, processID string, req *FulfillmentRequest) (*DeliveryResult, error)
}

// ---------------------------------------------------------------------------
// ProcessRecordRepository Interface
// ---------------------------------------------------------------------------

// ProcessRecordRepository persists process records for status queries.
type ProcessRecordRepository interface {
	// Save creates or updates a record keyed by its process ID
	Save(ctx context.Context, record *ProcessRecord) error

	// FindLatestByOrderID returns the most recently created record for an order.
	// Returns ErrProcessNotFound when none exists.
	FindLatestByOrderID(ctx context.Context, orderID string) (*ProcessRecord, error)

	// FindByProcessID returns a record by process ID.
	// Returns ErrProcessNotFound when none exists.
	FindByProcessID(ctx context.Context, processID string) (*ProcessRecord, error)
}

// ---------------------------------------------------------------------------
// OrderLocker Port Interface
// ---------------------------------------------------------------------------

// ReleaseFunc releases a lock obtained from an OrderLocker.
type ReleaseFunc func(ctx context.Context) error

// OrderLocker provides per-order mutual exclusion across pipeline runs.
// In-process deployments use a keyed mutex; scaled-out deployments use a shared store.
type OrderLocker interface {
	// Acquire takes the lock for orderID without waiting.
	// Returns ErrAlreadyProcessing if another run holds it.
	Acquire(ctx context.Context, orderID string) (ReleaseFunc, error)
}

// ---------------------------------------------------------------------------
// ConfirmationStore Port Interface
// ---------------------------------------------------------------------------

// ConfirmationStore remembers warehouse confirmations by order number so a
// repeated submission returns the original confirmation.
type ConfirmationStore interface {
	// Get returns the confirmation ID for orderNumber or ErrConfirmationNotFound
	Get(ctx context.Context, orderNumber string) (string, error)

	// Put records a confirmation. An existing confirmation is kept.
	Put(ctx context.Context, orderNumber, confirmationID string, ttl time.Duration) error

	// Close releases resources held by the store
	Close() error
}
