// Package telemetry wires OpenTelemetry traces, metrics and logs for the
// fulfillment bridge and provides the span and instrument helpers the
// pipeline uses.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.uber.org/zap"
)

// providerShutdownTimeout bounds how long a provider may spend flushing on shutdown
const providerShutdownTimeout = 10 * time.Second

// sdkProvider is the lifecycle shared by the trace, metric and log SDK providers
type sdkProvider interface {
	Shutdown(ctx context.Context) error
	ForceFlush(ctx context.Context) error
}

// newResource describes this service to the collector
func newResource(serviceName, version string) (*resource.Resource, error) {
	if version == "" {
		version = "dev"
	}
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
}

// shutdownProvider flushes and stops p. signal names the pipeline in logs and errors.
func shutdownProvider(ctx context.Context, p sdkProvider, signal string, logger *zap.Logger) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, providerShutdownTimeout)
	defer cancel()

	if err := p.Shutdown(shutdownCtx); err != nil {
		logger.Error("Telemetry provider shutdown failed", zap.String("signal", signal), zap.Error(err))
		return fmt.Errorf("failed to shutdown %s provider: %w", signal, err)
	}
	logger.Info("Telemetry provider shut down", zap.String("signal", signal))
	return nil
}
