// Package ecommerce implements the order source backed by the e-commerce platform API.
package ecommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/infrastructure/logger"
	"github.com/erp/fulfillment/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// maxResponseSize is the maximum allowed response size from the platform API (10MB)
const maxResponseSize = 10 * 1024 * 1024

var (
	// ErrPlatformUnavailable marks network level failures
	ErrPlatformUnavailable = errors.New("ecommerce: platform unavailable")
	// ErrPlatformRequestFailed marks non-2xx responses
	ErrPlatformRequestFailed = errors.New("ecommerce: platform request failed")
	// ErrInvalidResponse marks a response body that is not the expected JSON document
	ErrInvalidResponse = errors.New("ecommerce: invalid response body")
)

// transactionsResponse is the payload of the transaction search
type transactionsResponse struct {
	Data []transaction `json:"data"`
}

type transaction struct {
	ID      string `json:"_id"`
	OrderID string `json:"orderId"`
}

// orderEnvelope matches responses that wrap the order in an "order" key
type orderEnvelope struct {
	Order json.RawMessage `json:"order"`
}

// Client implements fulfillment.OrderSource against the platform REST API.
type Client struct {
	config     Config
	httpClient *http.Client
	log        *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient creates a platform client with the given configuration
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// LatestOrderID returns the order of the most recent transaction of a contact.
func (c *Client) LatestOrderID(ctx context.Context, contactID string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "ecommerce.latest_transaction",
		telemetry.WithSpanKind(trace.SpanKindClient),
		telemetry.WithAttribute(telemetry.SpanAttrContactID, contactID),
	)
	defer span.End()

	query := url.Values{}
	query.Set("contactId", contactID)
	query.Set("locationId", c.config.LocationID)
	query.Set("limit", "1")
	query.Set("sortBy", "createdAt")
	query.Set("order", "desc")

	body, status, err := c.doRequest(ctx, "/payments/transactions?"+query.Encode())
	if err != nil {
		ferr := &fulfillment.OrderFetchError{ContactID: contactID, NotFound: status == http.StatusNotFound, Err: err}
		telemetry.RecordError(span, ferr)
		return "", ferr
	}

	var resp transactionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		ferr := &fulfillment.OrderFetchError{ContactID: contactID, Err: fmt.Errorf("%w: %v", ErrInvalidResponse, err)}
		telemetry.RecordError(span, ferr)
		return "", ferr
	}
	if len(resp.Data) == 0 || resp.Data[0].OrderID == "" {
		ferr := &fulfillment.OrderFetchError{ContactID: contactID, NotFound: true}
		telemetry.RecordError(span, ferr)
		return "", ferr
	}

	orderID := resp.Data[0].OrderID
	logger.WithLogger(ctx, c.log).Info("Resolved latest order for contact",
		zap.String("contact_id", contactID),
		zap.String("order_id", orderID),
		zap.String("transaction_id", resp.Data[0].ID))
	telemetry.SetAttributes(span, telemetry.SpanAttrOrderID, orderID)
	return orderID, nil
}

// FetchOrder retrieves the full order record. The platform returns either the
// bare order or an {"order": ...} envelope; both are accepted.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (*fulfillment.InboundOrder, error) {
	ctx, span := telemetry.StartSpan(ctx, "ecommerce.fetch_order",
		telemetry.WithSpanKind(trace.SpanKindClient),
		telemetry.WithAttribute(telemetry.SpanAttrOrderID, orderID),
	)
	defer span.End()

	body, status, err := c.doRequest(ctx, "/orders/"+url.PathEscape(orderID))
	if err != nil {
		ferr := &fulfillment.OrderFetchError{OrderID: orderID, NotFound: status == http.StatusNotFound, Err: err}
		telemetry.RecordError(span, ferr)
		return nil, ferr
	}

	raw, err := unwrapOrder(body)
	if err != nil {
		ferr := &fulfillment.OrderFetchError{OrderID: orderID, Err: err}
		telemetry.RecordError(span, ferr)
		return nil, ferr
	}

	order, err := fulfillment.ParseInboundOrder(raw)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	logger.WithLogger(ctx, c.log).Debug("Fetched order from platform",
		zap.String("order_id", orderID),
		zap.Int("items", len(order.Items)))
	telemetry.SetOK(span)
	return order, nil
}

// unwrapOrder returns the order document, stripping the envelope if present
func unwrapOrder(body []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrInvalidResponse)
	}

	var env orderEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(env.Order) > 0 && !bytes.Equal(env.Order, []byte("null")) {
		return env.Order, nil
	}
	return trimmed, nil
}

// doRequest performs an authenticated GET against the platform API. The status
// code is returned alongside errors so callers can tell a missing resource apart.
func (c *Client) doRequest(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("ecommerce: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIToken)
	req.Header.Set("Accept", "application/json")
	if pid := logger.GetProcessID(ctx); pid != "" {
		req.Header.Set("X-Process-ID", pid)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrPlatformUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("ecommerce: failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, fmt.Errorf("%w: HTTP %d", ErrPlatformRequestFailed, resp.StatusCode)
	}
	return body, resp.StatusCode, nil
}
