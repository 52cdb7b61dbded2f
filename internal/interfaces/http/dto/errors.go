package dto

import (
	"net/http"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
)

// Request-level error codes raised by middleware before a handler runs
const (
	// ErrCodeRequestTooLarge is used when the body exceeds the configured limit
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"
	// ErrCodeInvalidSignature is used when the webhook signature is missing or wrong
	ErrCodeInvalidSignature = "INVALID_SIGNATURE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	// Caller errors
	fulfillment.CodeInvalidWebhookPayload: http.StatusBadRequest,
	ErrCodeInvalidSignature:               http.StatusUnauthorized,
	ErrCodeRequestTooLarge:                http.StatusRequestEntityTooLarge,

	// Order data errors -> 422 Unprocessable Entity
	fulfillment.CodeValidation:          http.StatusUnprocessableEntity,
	fulfillment.CodeUnrecognizedCountry: http.StatusUnprocessableEntity,

	// Upstream failures -> 502 Bad Gateway
	fulfillment.CodeOrderFetch:        http.StatusBadGateway,
	fulfillment.CodeOrderNotFound:     http.StatusBadGateway,
	fulfillment.CodePermanentDelivery: http.StatusBadGateway,
	fulfillment.CodeMalformedResponse: http.StatusBadGateway,
	fulfillment.CodeRetriesExhausted:  http.StatusBadGateway,

	// Worth retrying later
	fulfillment.CodeTransientDelivery: http.StatusServiceUnavailable,
	fulfillment.CodeProcessTimeout:    http.StatusGatewayTimeout,

	// Process errors
	fulfillment.CodeAlreadyProcessing: http.StatusConflict,
	fulfillment.CodeProcessNotFound:   http.StatusNotFound,
	fulfillment.CodeInvalidTransition: http.StatusInternalServerError,
	fulfillment.CodeInternal:          http.StatusInternalServerError,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// StatusForError resolves err to its error code and HTTP status
func StatusForError(err error) (string, int) {
	code := fulfillment.ErrorCode(err)
	return code, GetHTTPStatus(code)
}
