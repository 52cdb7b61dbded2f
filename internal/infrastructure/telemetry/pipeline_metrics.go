package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Pipeline stages as recorded on the stage duration histogram.
const (
	StageResolve = "resolve"
	StageFetch   = "fetch"
	StageMap     = "map"
	StageDeliver = "deliver"
)

// Process outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeCached    = "cached"
	OutcomeRejected  = "rejected"
)

// MetricsError describes a failure while building an instrument set.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewPipelineMetrics", Err: "meter cannot be nil"}

// PipelineMetrics tracks fulfillment runs, warehouse delivery attempts and
// webhook traffic.
type PipelineMetrics struct {
	processTotal     *Counter
	deliveryAttempts *Counter
	webhookTotal     *Counter
	stageDuration    *Histogram
}

// NewPipelineMetrics creates the instrument set on the given meter.
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	pm := &PipelineMetrics{}
	var err error

	pm.processTotal, err = NewCounter(meter,
		"fulfillment_process_total",
		"Fulfillment runs by terminal outcome",
		"{processes}",
	)
	if err != nil {
		return nil, err
	}

	pm.deliveryAttempts, err = NewCounter(meter,
		"fulfillment_delivery_attempts_total",
		"Warehouse delivery attempts",
		"{attempts}",
	)
	if err != nil {
		return nil, err
	}

	pm.webhookTotal, err = NewCounter(meter,
		"fulfillment_webhook_total",
		"Webhook events received",
		"{events}",
	)
	if err != nil {
		return nil, err
	}

	pm.stageDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "fulfillment_stage_duration_seconds",
		Description: "Duration of a single pipeline stage",
		Unit:        "s",
		Boundaries:  StageDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	return pm, nil
}

// RecordProcess counts a run that reached a terminal outcome. The code is
// empty for successful runs.
func (pm *PipelineMetrics) RecordProcess(ctx context.Context, outcome, code string) {
	if pm == nil {
		return
	}
	attrs := []attribute.KeyValue{AttrOutcome.String(outcome)}
	if code != "" {
		attrs = append(attrs, AttrErrorCode.String(code))
	}
	pm.processTotal.Inc(ctx, attrs...)
}

// RecordDeliveryAttempt counts one POST to the warehouse.
func (pm *PipelineMetrics) RecordDeliveryAttempt(ctx context.Context, statusCode int, transient bool) {
	if pm == nil {
		return
	}
	pm.deliveryAttempts.Inc(ctx,
		AttrHTTPStatusCode.Int(statusCode),
		AttrTransient.Bool(transient),
	)
}

// RecordWebhook counts an incoming webhook event.
func (pm *PipelineMetrics) RecordWebhook(ctx context.Context, event string) {
	if pm == nil {
		return
	}
	pm.webhookTotal.Inc(ctx, AttrEvent.String(event))
}

// RecordStage records how long a stage took.
func (pm *PipelineMetrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	if pm == nil {
		return
	}
	pm.stageDuration.RecordDuration(ctx, d, AttrStage.String(stage))
}
