// Package warehouse implements the warehouse management system delivery client.
package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/infrastructure/logger"
	"github.com/erp/fulfillment/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// maxResponseSize is the maximum response body read from the warehouse API (1MB)
const maxResponseSize = 1 << 20

// Header names sent with every submission
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderProcessID      = "X-Process-ID"
)

var (
	// ErrWarehouseUnavailable marks network level failures
	ErrWarehouseUnavailable = errors.New("warehouse: service unavailable")
	// ErrWarehouseRejected marks non-2xx responses
	ErrWarehouseRejected = errors.New("warehouse: request rejected")
	// ErrMissingConfirmation marks a 2xx response without a confirmation id
	ErrMissingConfirmation = errors.New("warehouse: response carries no confirmation id")
)

// Client submits fulfillment requests to the warehouse API.
// It is safe for concurrent use.
type Client struct {
	config        Config
	httpClient    *http.Client
	policy        RetryPolicy
	confirmations fulfillment.ConfirmationStore
	metrics       *telemetry.PipelineMetrics
	log           *zap.Logger
	now           func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy sets the retry policy; unset fields take the defaults
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.policy = p.withDefaults() }
}

// WithConfirmationStore enables duplicate suppression by order number
func WithConfirmationStore(store fulfillment.ConfirmationStore) Option {
	return func(c *Client) { c.confirmations = store }
}

// WithMetrics records every attempt on the pipeline metrics
func WithMetrics(m *telemetry.PipelineMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient creates a warehouse client
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		policy:     DefaultRetryPolicy(),
		log:        zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Deliver submits req and returns the warehouse confirmation.
//
// A confirmation already recorded for the order number is returned without
// contacting the warehouse. Transient failures are retried according to the
// retry policy; when retries run out the error carries DELIVERY_RETRIES_EXHAUSTED
// and wraps the last failure. Context cancellation is returned as is.
func (c *Client) Deliver(ctx context.Context, processID string, req *fulfillment.FulfillmentRequest) (*fulfillment.DeliveryResult, error) {
	if req == nil {
		return nil, fulfillment.NewPermanentDeliveryError("", 0, "", errors.New("nil fulfillment request"))
	}
	orderNumber := req.OrderNumber

	ctx = logger.WithProcessID(ctx, processID)
	ctx, span := telemetry.StartSpan(ctx, "wms.deliver",
		telemetry.WithSpanKind(trace.SpanKindClient),
		telemetry.WithAttribute(telemetry.SpanAttrProcessID, processID),
		telemetry.WithAttribute(telemetry.SpanAttrOrderNumber, orderNumber),
	)
	defer span.End()

	log := logger.WithLogger(ctx, c.log).With(zap.String("wms_order_number", orderNumber))

	if id, ok := c.recalled(ctx, log, orderNumber); ok {
		log.Info("Order already confirmed by warehouse, skipping submission",
			zap.String("confirmation_id", id))
		telemetry.AddEvent(span, "duplicate_suppressed", telemetry.SpanAttrConfirmationID, id)
		telemetry.SetOK(span)
		return &fulfillment.DeliveryResult{
			OrderNumber:    orderNumber,
			ConfirmationID: id,
			Duplicate:      true,
		}, nil
	}

	body, err := json.Marshal(req)
	if err != nil {
		derr := fulfillment.NewPermanentDeliveryError(orderNumber, 0, "", fmt.Errorf("encode request: %w", err))
		telemetry.RecordError(span, derr)
		return nil, derr
	}

	var last *fulfillment.DeliveryError
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("delivery of %s interrupted: %w", orderNumber, err)
		}

		result, retryAfter, err := c.post(ctx, processID, orderNumber, body, attempt)
		if err == nil {
			result.Attempts = attempt
			c.remember(ctx, log, result)
			log.Info("Warehouse order created",
				zap.String("confirmation_id", result.ConfirmationID),
				zap.Int("attempts", attempt),
				zap.Bool("duplicate", result.Duplicate))
			telemetry.SetAttributes(span, telemetry.SpanAttrConfirmationID, result.ConfirmationID)
			telemetry.SetOK(span)
			return result, nil
		}

		var derr *fulfillment.DeliveryError
		if !errors.As(err, &derr) {
			telemetry.RecordError(span, err)
			return nil, err
		}
		if !derr.Transient {
			derr.Attempts = attempt
			log.Error("Warehouse rejected order", zap.Int("attempt", attempt), zap.Error(derr))
			telemetry.RecordError(span, derr)
			return nil, derr
		}

		last = derr
		if attempt == c.policy.MaxAttempts {
			break
		}

		delay := c.policy.Backoff(attempt)
		if retryAfter > 0 {
			delay = c.policy.capped(retryAfter)
		}
		log.Warn("Transient warehouse failure, retrying",
			zap.Int("attempt", attempt),
			zap.Int("status", derr.StatusCode),
			zap.Duration("delay", delay),
			zap.Error(derr))

		if err := c.policy.Sleep(ctx, delay); err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("delivery of %s interrupted: %w", orderNumber, err)
		}
	}

	exhausted := &fulfillment.DeliveryError{
		OrderNumber: orderNumber,
		StatusCode:  last.StatusCode,
		Attempts:    c.policy.MaxAttempts,
		Code:        fulfillment.CodeRetriesExhausted,
		Err:         last,
	}
	log.Error("Warehouse delivery retries exhausted",
		zap.Int("attempts", c.policy.MaxAttempts),
		zap.Error(last))
	telemetry.RecordError(span, exhausted)
	return nil, exhausted
}

// post performs a single submission. The returned duration is the server's
// Retry-After hint, zero when absent.
func (c *Client) post(ctx context.Context, processID, orderNumber string, body []byte, attempt int) (*fulfillment.DeliveryResult, time.Duration, error) {
	ctx, span := telemetry.StartSpan(ctx, "wms.post_order",
		telemetry.WithSpanKind(trace.SpanKindClient),
		telemetry.WithAttribute(telemetry.SpanAttrAttempt, attempt),
	)
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fulfillment.NewPermanentDeliveryError(orderNumber, 0, "", fmt.Errorf("build request: %w", err))
	}
	c.setHeaders(httpReq, processID)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderIdempotencyKey, orderNumber)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		c.metrics.RecordDeliveryAttempt(ctx, 0, true)
		derr := fulfillment.NewTransientDeliveryError(orderNumber, 0, fmt.Errorf("%w: %v", ErrWarehouseUnavailable, err))
		telemetry.RecordError(span, derr)
		return nil, 0, derr
	}
	defer resp.Body.Close()

	telemetry.SetAttributes(span, telemetry.SpanAttrHTTPStatus, resp.StatusCode)

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.metrics.RecordDeliveryAttempt(ctx, resp.StatusCode, true)
		derr := fulfillment.NewTransientDeliveryError(orderNumber, resp.StatusCode, fmt.Errorf("read response: %w", err))
		telemetry.RecordError(span, derr)
		return nil, 0, derr
	}

	status := resp.StatusCode
	switch {
	case status >= 200 && status < 300:
		c.metrics.RecordDeliveryAttempt(ctx, status, false)
		id, err := parseConfirmation(respBody)
		if err != nil {
			derr := fulfillment.NewPermanentDeliveryError(orderNumber, status, fulfillment.CodeMalformedResponse, err)
			telemetry.RecordError(span, derr)
			return nil, 0, derr
		}
		return &fulfillment.DeliveryResult{OrderNumber: orderNumber, ConfirmationID: id}, 0, nil

	case isDuplicateResponse(status, respBody):
		c.metrics.RecordDeliveryAttempt(ctx, status, false)
		id, err := parseConfirmation(respBody)
		if err != nil {
			id, err = c.lookup(ctx, processID, orderNumber)
			if err != nil {
				telemetry.RecordError(span, err)
				return nil, 0, err
			}
		}
		telemetry.AddEvent(span, "duplicate_order", telemetry.SpanAttrConfirmationID, id)
		return &fulfillment.DeliveryResult{OrderNumber: orderNumber, ConfirmationID: id, Duplicate: true}, 0, nil

	case status == http.StatusTooManyRequests || status >= 500:
		c.metrics.RecordDeliveryAttempt(ctx, status, true)
		var retryAfter time.Duration
		if status == http.StatusTooManyRequests {
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		}
		derr := fulfillment.NewTransientDeliveryError(orderNumber, status, rejection(status, respBody))
		telemetry.RecordError(span, derr)
		return nil, retryAfter, derr

	default:
		c.metrics.RecordDeliveryAttempt(ctx, status, false)
		derr := fulfillment.NewPermanentDeliveryError(orderNumber, status, "", rejection(status, respBody))
		telemetry.RecordError(span, derr)
		return nil, 0, derr
	}
}

// lookup fetches the confirmation of an order the warehouse already holds.
func (c *Client) lookup(ctx context.Context, processID, orderNumber string) (string, error) {
	endpoint := c.config.BaseURL + "/orders/" + url.PathEscape(orderNumber)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fulfillment.NewPermanentDeliveryError(orderNumber, 0, "", fmt.Errorf("build lookup request: %w", err))
	}
	c.setHeaders(httpReq, processID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fulfillment.NewTransientDeliveryError(orderNumber, 0, fmt.Errorf("%w: %v", ErrWarehouseUnavailable, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fulfillment.NewTransientDeliveryError(orderNumber, resp.StatusCode, fmt.Errorf("read lookup response: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		id, err := parseConfirmation(body)
		if err != nil {
			return "", fulfillment.NewPermanentDeliveryError(orderNumber, resp.StatusCode, fulfillment.CodeMalformedResponse, err)
		}
		return id, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", fulfillment.NewTransientDeliveryError(orderNumber, resp.StatusCode, rejection(resp.StatusCode, body))
	default:
		return "", fulfillment.NewPermanentDeliveryError(orderNumber, resp.StatusCode, fulfillment.CodeMalformedResponse,
			fmt.Errorf("duplicate order could not be looked up: %w", rejection(resp.StatusCode, body)))
	}
}

func (c *Client) setHeaders(req *http.Request, processID string) {
	req.SetBasicAuth(c.config.Username, c.config.Password)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderProcessID, processID)
}

// recalled returns a stored confirmation for orderNumber.
func (c *Client) recalled(ctx context.Context, log *logger.ContextLogger, orderNumber string) (string, bool) {
	if c.confirmations == nil {
		return "", false
	}
	id, err := c.confirmations.Get(ctx, orderNumber)
	if err != nil {
		if !errors.Is(err, fulfillment.ErrConfirmationNotFound) {
			log.Warn("Confirmation lookup failed, submitting anyway", zap.Error(err))
		}
		return "", false
	}
	return id, true
}

func (c *Client) remember(ctx context.Context, log *logger.ContextLogger, result *fulfillment.DeliveryResult) {
	if c.confirmations == nil {
		return
	}
	if err := c.confirmations.Put(ctx, result.OrderNumber, result.ConfirmationID, c.config.ConfirmationTTL); err != nil {
		log.Warn("Failed to record warehouse confirmation", zap.Error(err))
	}
}

// parseConfirmation extracts confirmationId, falling back to id.
// Both string and numeric ids are accepted.
func parseConfirmation(body []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: invalid JSON: %v", ErrMissingConfirmation, err)
	}
	for _, key := range []string{"confirmationId", "id"} {
		switch v := payload[key].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return v, nil
			}
		case json.Number:
			return v.String(), nil
		}
	}
	return "", ErrMissingConfirmation
}

// isDuplicateResponse reports whether the warehouse already holds the order.
func isDuplicateResponse(status int, body []byte) bool {
	if status == http.StatusConflict {
		return true
	}
	return status == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(string(body)), "already exists")
}

// rejection builds an error describing a non-2xx response
func rejection(status int, body []byte) error {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 200 {
		snippet = snippet[:200] + "..."
	}
	if snippet == "" {
		return fmt.Errorf("%w: HTTP %d", ErrWarehouseRejected, status)
	}
	return fmt.Errorf("%w: HTTP %d: %s", ErrWarehouseRejected, status, snippet)
}
