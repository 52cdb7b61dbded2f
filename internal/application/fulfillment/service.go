package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/infrastructure/logger"
	"github.com/erp/fulfillment/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds one pipeline run when no timeout is configured
const DefaultTimeout = 60 * time.Second

// Service coordinates fetch, mapping, validation and delivery for webhook events.
//
// Concurrent requests for the same order join the run already in flight and
// receive its record. Across instances the OrderLocker keeps a second run out;
// such a request fails with ErrAlreadyProcessing.
type Service struct {
	source    fulfillment.OrderSource
	deliverer fulfillment.Deliverer
	records   fulfillment.ProcessRecordRepository
	locker    fulfillment.OrderLocker
	settings  fulfillment.WarehouseSettings

	timeout time.Duration
	metrics *telemetry.PipelineMetrics
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string

	inflight singleflight.Group
}

// Option configures a Service
type Option func(*Service)

// WithTimeout bounds each run; zero or negative disables the bound
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithMetrics records process outcomes and stage durations
func WithMetrics(m *telemetry.PipelineMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock replaces time.Now for record timestamps and delivery dates
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces the UUID process ID generator
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// NewService creates a Service
func NewService(
	source fulfillment.OrderSource,
	deliverer fulfillment.Deliverer,
	records fulfillment.ProcessRecordRepository,
	locker fulfillment.OrderLocker,
	settings fulfillment.WarehouseSettings,
	opts ...Option,
) *Service {
	s := &Service{
		source:    source,
		deliverer: deliverer,
		records:   records,
		locker:    locker,
		settings:  settings,
		timeout:   DefaultTimeout,
		logger:    zap.NewNop(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process runs the pipeline for an order-created webhook.
//
// The returned record is also returned alongside an error when the run failed.
// A previously succeeded order is answered from its record without reprocessing;
// a previously failed one is processed again.
func (s *Service) Process(ctx context.Context, event WebhookEvent) (*Result, error) {
	processID := s.newID()
	ctx = logger.WithProcessID(ctx, processID)
	s.metrics.RecordWebhook(ctx, EventOrderCreated)

	if err := event.validate(); err != nil {
		return &Result{ProcessID: processID}, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	orderID := event.OrderID
	if orderID == "" {
		resolved, err := s.resolveOrderID(ctx, processID, event.ContactID)
		if err != nil {
			return &Result{ProcessID: processID, Record: s.failUnresolved(ctx, processID, event.ContactID, err)}, err
		}
		orderID = resolved
	}

	ch := s.inflight.DoChan(orderID, func() (any, error) {
		runCtx, cancel := s.detach(ctx)
		defer cancel()
		return s.run(runCtx, processID, orderID, event.ContactID)
	})

	select {
	case res := <-ch:
		out, _ := res.Val.(*Result)
		if out == nil {
			out = &Result{ProcessID: processID}
		}
		if out.Record != nil {
			out = &Result{
				ProcessID: out.ProcessID,
				Record:    out.Record.Clone(),
				Cached:    out.Cached,
				Coalesced: !out.Cached && out.ProcessID != processID,
			}
		}
		return out, res.Err
	case <-ctx.Done():
		return &Result{ProcessID: processID}, fmt.Errorf("waiting for order %s: %w", orderID, ctx.Err())
	}
}

// detach returns the context a shared run executes under. Callers that join
// the run wait on their own contexts, so the first caller going away must not
// end the run for the rest. The run keeps the first caller's values and is
// bounded by the process timeout instead.
func (s *Service) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

// resolveOrderID looks up the contact's latest order
func (s *Service) resolveOrderID(ctx context.Context, processID, contactID string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "fulfillment.resolve_order",
		telemetry.WithAttribute(telemetry.SpanAttrProcessID, processID),
		telemetry.WithAttribute(telemetry.SpanAttrContactID, contactID),
	)
	defer span.End()

	start := time.Now()
	orderID, err := s.source.LatestOrderID(ctx, contactID)
	s.metrics.RecordStage(ctx, telemetry.StageResolve, time.Since(start))
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("resolve order for contact %s: %w", contactID, ctxErr)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return "", err
	}

	logger.WithLogger(ctx, s.logger).Info("Resolved latest order for contact",
		zap.String("contact_id", contactID),
		zap.String("order_id", orderID))
	telemetry.SetAttributes(span, telemetry.SpanAttrOrderID, orderID)
	telemetry.SetOK(span)
	return orderID, nil
}

// failUnresolved records a run that failed before an order ID was known
func (s *Service) failUnresolved(ctx context.Context, processID, contactID string, cause error) *fulfillment.ProcessRecord {
	rec := fulfillment.NewProcessRecord(processID, "", contactID, s.now())
	if err := rec.Fail(cause, s.now()); err != nil {
		return rec
	}
	s.save(ctx, rec)
	s.metrics.RecordProcess(ctx, telemetry.OutcomeFailed, rec.ErrorCode)
	logger.WithLogger(ctx, s.logger).Error("Order resolution failed",
		zap.String("contact_id", contactID),
		zap.String("error_code", rec.ErrorCode),
		zap.Error(cause))
	return rec
}

// run is the body of one coalesced pipeline run. It always returns a *Result.
func (s *Service) run(ctx context.Context, processID, orderID, contactID string) (*Result, error) {
	ctx = logger.WithOrderID(ctx, orderID)
	ctx, span := telemetry.StartSpan(ctx, "fulfillment.process",
		telemetry.WithAttribute(telemetry.SpanAttrProcessID, processID),
		telemetry.WithAttribute(telemetry.SpanAttrOrderID, orderID),
		telemetry.WithAttribute(telemetry.SpanAttrContactID, contactID),
	)
	defer span.End()

	log := logger.WithLogger(ctx, s.logger)

	release, err := s.locker.Acquire(ctx, orderID)
	if err != nil {
		code := fulfillment.ErrorCode(err)
		s.metrics.RecordProcess(ctx, telemetry.OutcomeRejected, code)
		log.Warn("Order lock unavailable", zap.String("error_code", code), zap.Error(err))
		telemetry.RecordError(span, err)
		return &Result{ProcessID: processID}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to release order lock", zap.Error(err))
		}
	}()

	latest, err := s.records.FindLatestByOrderID(ctx, orderID)
	switch {
	case err == nil && latest.State == fulfillment.ProcessStateSucceeded:
		s.metrics.RecordProcess(ctx, telemetry.OutcomeCached, "")
		log.Info("Order already fulfilled, returning previous result",
			zap.String("previous_process_id", latest.ProcessID),
			zap.String("wms_order_number", latest.WMSOrderNumber))
		telemetry.AddEvent(span, "already_fulfilled", "previous_process_id", latest.ProcessID)
		telemetry.SetOK(span)
		return &Result{ProcessID: latest.ProcessID, Record: latest, Cached: true}, nil
	case err != nil && !errors.Is(err, fulfillment.ErrProcessNotFound):
		log.Error("Failed to load process history", zap.Error(err))
		telemetry.RecordError(span, err)
		return &Result{ProcessID: processID}, fmt.Errorf("load process history for order %s: %w", orderID, err)
	}

	rec := fulfillment.NewProcessRecord(processID, orderID, contactID, s.now())
	if err := s.records.Save(context.WithoutCancel(ctx), rec); err != nil {
		log.Error("Failed to create process record", zap.Error(err))
		telemetry.RecordError(span, err)
		return &Result{ProcessID: processID}, fmt.Errorf("create process record: %w", err)
	}
	log.Info("Processing order")

	// Fetch
	start := time.Now()
	order, err := s.source.FetchOrder(ctx, orderID)
	s.metrics.RecordStage(ctx, telemetry.StageFetch, time.Since(start))
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("fetch order %s: %w", orderID, ctxErr)
	}
	if err != nil {
		return s.fail(ctx, span, rec, err)
	}
	if err := s.advance(ctx, rec, fulfillment.ProcessStateFetched); err != nil {
		return s.fail(ctx, span, rec, err)
	}

	// Map
	start = time.Now()
	enriched := order.WithContactID(contactID)
	req, err := fulfillment.MapOrder(&enriched, s.settings, s.now())
	if err == nil {
		err = s.advance(ctx, rec, fulfillment.ProcessStateMapped)
	}
	if err == nil {
		err = fulfillment.ValidateOutbound(req)
	}
	s.metrics.RecordStage(ctx, telemetry.StageMap, time.Since(start))
	if err != nil {
		return s.fail(ctx, span, rec, err)
	}
	if err := s.advance(ctx, rec, fulfillment.ProcessStateValidated); err != nil {
		return s.fail(ctx, span, rec, err)
	}

	// Deliver
	if ctxErr := ctx.Err(); ctxErr != nil {
		return s.fail(ctx, span, rec, fmt.Errorf("deliver order %s: %w", orderID, ctxErr))
	}
	if err := s.advance(ctx, rec, fulfillment.ProcessStateDelivering); err != nil {
		return s.fail(ctx, span, rec, err)
	}
	start = time.Now()
	result, err := s.deliverer.Deliver(ctx, processID, req)
	s.metrics.RecordStage(ctx, telemetry.StageDeliver, time.Since(start))
	if err != nil {
		return s.fail(ctx, span, rec, err)
	}

	if err := rec.Succeed(result, s.now()); err != nil {
		return s.fail(ctx, span, rec, err)
	}
	s.save(ctx, rec)
	s.metrics.RecordProcess(ctx, telemetry.OutcomeSucceeded, "")

	log.Info("Order fulfilled",
		zap.String("wms_order_number", rec.WMSOrderNumber),
		zap.String("confirmation_id", rec.ConfirmationID),
		zap.Int("attempts", rec.Attempts),
		zap.Bool("duplicate", result.Duplicate))
	telemetry.SetAttributes(span,
		telemetry.SpanAttrOrderNumber, rec.WMSOrderNumber,
		telemetry.SpanAttrConfirmationID, rec.ConfirmationID,
	)
	telemetry.SetOK(span)
	return &Result{ProcessID: processID, Record: rec}, nil
}

// advance moves rec to next and persists it
func (s *Service) advance(ctx context.Context, rec *fulfillment.ProcessRecord, next fulfillment.ProcessState) error {
	if err := rec.Transition(next, s.now()); err != nil {
		return err
	}
	s.save(ctx, rec)
	logger.WithLogger(ctx, s.logger).Debug("Process state changed", zap.String("state", next.String()))
	return nil
}

// save persists rec. The run carries on when persistence fails.
func (s *Service) save(ctx context.Context, rec *fulfillment.ProcessRecord) {
	if err := s.records.Save(context.WithoutCancel(ctx), rec); err != nil {
		logger.WithLogger(ctx, s.logger).Warn("Failed to persist process record",
			zap.String("state", rec.State.String()),
			zap.Error(err))
	}
}

// fail marks rec failed with cause, persists it and returns cause
func (s *Service) fail(ctx context.Context, span trace.Span, rec *fulfillment.ProcessRecord, cause error) (*Result, error) {
	if err := rec.Fail(cause, s.now()); err != nil {
		logger.WithLogger(ctx, s.logger).Error("Cannot mark process failed", zap.Error(err))
	}
	s.save(ctx, rec)
	s.metrics.RecordProcess(ctx, telemetry.OutcomeFailed, rec.ErrorCode)

	fields := []zap.Field{
		zap.String("failed_stage", rec.FailedStage.String()),
		zap.String("error_code", rec.ErrorCode),
		zap.Error(cause),
	}
	log := logger.WithLogger(ctx, s.logger)
	if fulfillment.IsTransient(cause) {
		log.Warn("Order processing failed", fields...)
	} else {
		log.Error("Order processing failed", fields...)
	}

	telemetry.SetAttributes(span, telemetry.SpanAttrErrorCode, rec.ErrorCode)
	telemetry.RecordError(span, cause)
	return &Result{ProcessID: rec.ProcessID, Record: rec}, cause
}

// Status returns the latest process record for an order
func (s *Service) Status(ctx context.Context, orderID string) (*fulfillment.ProcessRecord, error) {
	return s.records.FindLatestByOrderID(ctx, orderID)
}

// Acknowledge accepts an event that needs no processing, such as an order update
func (s *Service) Acknowledge(ctx context.Context, event WebhookEvent) (*Acknowledgement, error) {
	processID := s.newID()
	ctx = logger.WithProcessID(ctx, processID)

	eventType := event.EventType
	if eventType == "" {
		eventType = EventOrderUpdated
	}
	s.metrics.RecordWebhook(ctx, eventType)

	if err := event.validate(); err != nil {
		return nil, err
	}

	receivedAt := event.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}

	logger.WithLogger(ctx, s.logger).Info("Webhook acknowledged",
		zap.String("event_type", eventType),
		zap.String("contact_id", event.ContactID),
		zap.String("order_id", event.OrderID))

	return &Acknowledgement{
		ProcessID:  processID,
		EventType:  eventType,
		ContactID:  event.ContactID,
		OrderID:    event.OrderID,
		ReceivedAt: receivedAt,
	}, nil
}
