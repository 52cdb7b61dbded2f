package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/erp/fulfillment/internal/domain/shared"
)

// Stable error codes surfaced to webhook callers and stored on failed process records.
const (
	CodeValidation            = "VALIDATION_ERROR"
	CodeUnrecognizedCountry   = "UNRECOGNIZED_COUNTRY"
	CodeOrderFetch            = "ORDER_FETCH_ERROR"
	CodeOrderNotFound         = "ORDER_NOT_FOUND"
	CodeTransientDelivery     = "TRANSIENT_DELIVERY_ERROR"
	CodePermanentDelivery     = "PERMANENT_DELIVERY_ERROR"
	CodeMalformedResponse     = "MALFORMED_WAREHOUSE_RESPONSE"
	CodeRetriesExhausted      = "DELIVERY_RETRIES_EXHAUSTED"
	CodeAlreadyProcessing     = "ALREADY_PROCESSING"
	CodeProcessNotFound       = "PROCESS_NOT_FOUND"
	CodeInvalidTransition     = "INVALID_TRANSITION"
	CodeProcessTimeout        = "PROCESS_TIMEOUT"
	CodeInternal              = "INTERNAL_ERROR"
	CodeInvalidWebhookPayload = "INVALID_WEBHOOK_PAYLOAD"
)

// Sentinel errors
var (
	// ErrAlreadyProcessing is returned when another instance holds the order lock.
	ErrAlreadyProcessing = shared.NewDomainError(CodeAlreadyProcessing, "order is already being processed")
	// ErrProcessNotFound is returned when no process record exists for an order.
	ErrProcessNotFound = shared.NewDomainError(CodeProcessNotFound, "no process record found for order")
	// ErrInvalidTransition is returned when a process record is moved backwards or out of a terminal state.
	ErrInvalidTransition = shared.NewDomainError(CodeInvalidTransition, "invalid process state transition")
	// ErrConfirmationNotFound is returned by confirmation stores on a miss.
	ErrConfirmationNotFound = errors.New("fulfillment: confirmation not found")
	// ErrLockNotHeld is returned when releasing a lock that has expired or was taken over.
	ErrLockNotHeld = errors.New("fulfillment: order lock not held")
)

// Coder is implemented by every error in the taxonomy.
type Coder interface {
	ErrorCode() string
}

// ErrorCode extracts the stable error code from err.
// Context cancellation maps to PROCESS_TIMEOUT, anything unknown to INTERNAL_ERROR.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var c Coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CodeProcessTimeout
	}
	return CodeInternal
}

// ---------------------------------------------------------------------------
// ValidationError
// ---------------------------------------------------------------------------

// FieldError describes one violated field.
type FieldError struct {
	// Field is the JSON path of the offending field, e.g. items[0].qty.
	// Array elements are always indexed, for rule violations and type mismatches alike.
	Field string `json:"field"`
	// Code is a short machine-readable rule name, e.g. required, gte, total_mismatch
	Code string `json:"code"`
	// Message is the human readable description
	Message string `json:"message"`
	// Value is the offending value rendered as a string, if any
	Value string `json:"value,omitempty"`
}

// ValidationError collects every field-level violation found in one pass.
type ValidationError struct {
	// Subject names the validated document, "inbound order" or "fulfillment request"
	Subject string
	Fields  []FieldError
	causes  []fieldCause
}

// fieldCause ties a typed error to the index of the field it explains.
type fieldCause struct {
	index int
	err   error
}

// NewValidationError creates an empty ValidationError for subject.
func NewValidationError(subject string) *ValidationError {
	return &ValidationError{Subject: subject}
}

// Add appends a field violation.
func (e *ValidationError) Add(field, code, message, value string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Code: code, Message: message, Value: value})
}

// AddCause appends a field violation backed by a typed error, so errors.As can reach it.
func (e *ValidationError) AddCause(field, code, value string, cause error) {
	e.Add(field, code, cause.Error(), value)
	e.causes = append(e.causes, fieldCause{index: len(e.Fields) - 1, err: cause})
}

// Merge appends the violations of other, keeping their causes. Violations
// whose path overlaps shadow are dropped; they restate a problem already
// recorded for that field.
func (e *ValidationError) Merge(other *ValidationError, shadow string) {
	if other == nil {
		return
	}
	causes := make(map[int]error, len(other.causes))
	for _, c := range other.causes {
		causes[c.index] = c.err
	}
	for i, f := range other.Fields {
		if shadow != "" && pathsOverlap(f.Field, shadow) {
			continue
		}
		if cause, ok := causes[i]; ok {
			e.AddCause(f.Field, f.Code, f.Value, cause)
			continue
		}
		e.Add(f.Field, f.Code, f.Message, f.Value)
	}
}

// pathsOverlap reports whether one field path equals or contains the other.
func pathsOverlap(a, b string) bool {
	contains := func(parent, child string) bool {
		return strings.HasPrefix(child, parent+".") || strings.HasPrefix(child, parent+"[")
	}
	return a == b || contains(a, b) || contains(b, a)
}

// HasErrors reports whether any violation was recorded.
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// OrNil returns e when it carries violations and nil otherwise.
func (e *ValidationError) OrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return fmt.Sprintf("invalid %s: %s", e.Subject, strings.Join(parts, "; "))
}

// ErrorCode returns UNRECOGNIZED_COUNTRY when the country is the only problem.
func (e *ValidationError) ErrorCode() string {
	if len(e.Fields) == 0 {
		return CodeValidation
	}
	for _, f := range e.Fields {
		if f.Code != FieldCodeUnrecognizedCountry {
			return CodeValidation
		}
	}
	return CodeUnrecognizedCountry
}

func (e *ValidationError) Unwrap() []error {
	errs := make([]error, 0, len(e.causes))
	for _, c := range e.causes {
		errs = append(errs, c.err)
	}
	return errs
}

// Field-level rule codes that are not validator tags.
const (
	FieldCodeTotalMismatch       = "total_mismatch"
	FieldCodeLineTotalMismatch   = "line_total_mismatch"
	FieldCodeLineNumberSequence  = "line_number_sequence"
	FieldCodeUnrecognizedCountry = "unrecognized_country"
	FieldCodeUnknownCurrency     = "unknown_currency"
	FieldCodeInvalidEmail        = "invalid_email"
	FieldCodeInvalidPhone        = "invalid_phone"
	FieldCodeInvalidDate         = "invalid_date"
	FieldCodeEmptyAddress        = "empty_address"
	FieldCodeNegativeAmount      = "negative_amount"
	FieldCodeTypeMismatch        = "type_mismatch"
	FieldCodeMalformedJSON       = "malformed_json"
)

// ---------------------------------------------------------------------------
// UnrecognizedCountryError
// ---------------------------------------------------------------------------

// UnrecognizedCountryError is returned when a country name or code has no ISO 3166 mapping.
type UnrecognizedCountryError struct {
	Input string
}

func (e *UnrecognizedCountryError) Error() string {
	if strings.TrimSpace(e.Input) == "" {
		return "country is required"
	}
	return fmt.Sprintf("unrecognized country %q", e.Input)
}

func (e *UnrecognizedCountryError) ErrorCode() string {
	return CodeUnrecognizedCountry
}

// ---------------------------------------------------------------------------
// OrderFetchError
// ---------------------------------------------------------------------------

// OrderFetchError is returned when the order source is unreachable or the order does not exist.
type OrderFetchError struct {
	OrderID   string
	ContactID string
	NotFound  bool
	Err       error
}

func (e *OrderFetchError) Error() string {
	subject := e.OrderID
	if subject == "" {
		subject = "contact " + e.ContactID
	}
	if e.NotFound {
		return fmt.Sprintf("order not found for %s", subject)
	}
	return fmt.Sprintf("failed to fetch order for %s: %v", subject, e.Err)
}

func (e *OrderFetchError) Unwrap() error {
	return e.Err
}

func (e *OrderFetchError) ErrorCode() string {
	if e.NotFound {
		return CodeOrderNotFound
	}
	return CodeOrderFetch
}

// ---------------------------------------------------------------------------
// DeliveryError
// ---------------------------------------------------------------------------

// DeliveryError reports a failed warehouse submission.
// Transient errors may succeed on retry; permanent errors never will.
type DeliveryError struct {
	OrderNumber string
	StatusCode  int
	Attempts    int
	Transient   bool
	// Code overrides the default code for permanent failures
	Code string
	Err  error
}

// NewTransientDeliveryError wraps a retryable failure.
func NewTransientDeliveryError(orderNumber string, statusCode int, err error) *DeliveryError {
	return &DeliveryError{OrderNumber: orderNumber, StatusCode: statusCode, Transient: true, Err: err}
}

// NewPermanentDeliveryError wraps a non-retryable failure.
func NewPermanentDeliveryError(orderNumber string, statusCode int, code string, err error) *DeliveryError {
	return &DeliveryError{OrderNumber: orderNumber, StatusCode: statusCode, Code: code, Err: err}
}

func (e *DeliveryError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	msg := fmt.Sprintf("%s delivery failure for %s", kind, e.OrderNumber)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func (e *DeliveryError) ErrorCode() string {
	if e.Transient {
		return CodeTransientDelivery
	}
	if e.Code != "" {
		return e.Code
	}
	return CodePermanentDelivery
}

// IsTransient reports whether err is a retryable delivery failure.
func IsTransient(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Transient
}
