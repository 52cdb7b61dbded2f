package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func fieldMap(entry observer.LoggedEntry) map[string]string {
	out := make(map[string]string, len(entry.Context))
	for _, f := range entry.Context {
		out[f.Key] = f.String
	}
	return out
}

func TestFromContext(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	ctx := WithContext(context.Background(), zap.New(core))

	FromContext(ctx).Info("hello")
	assert.Equal(t, 1, recorded.Len())

	// Missing logger falls back to a no-op logger
	assert.NotNil(t, FromContext(context.Background()))
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))
	assert.Empty(t, GetProcessID(ctx))
	assert.Empty(t, GetOrderID(ctx))

	ctx = WithRequestID(ctx, "req-123")
	ctx = WithProcessID(ctx, "proc-456")
	ctx = WithOrderID(ctx, "order_67890")

	assert.Equal(t, "req-123", GetRequestID(ctx))
	assert.Equal(t, "proc-456", GetProcessID(ctx))
	assert.Equal(t, "order_67890", GetOrderID(ctx))
}

func TestL_InjectsCorrelationFields(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)

	ctx := WithContext(context.Background(), zap.New(core))
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithProcessID(ctx, "proc-1")
	ctx = WithOrderID(ctx, "order_1")

	L(ctx).Info("stage completed", zap.String("stage", "fetched"))

	require.Equal(t, 1, recorded.Len())
	fields := fieldMap(recorded.All()[0])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "proc-1", fields["process_id"])
	assert.Equal(t, "order_1", fields["order_id"])
	assert.Equal(t, "fetched", fields["stage"])
	assert.NotContains(t, fields, "trace_id")
}

func TestL_InjectsTraceFields(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})

	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)
	WithLogger(ctx, zap.New(core)).Warn("delivery attempt failed")

	require.Equal(t, 1, recorded.Len())
	fields := fieldMap(recorded.All()[0])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", fields["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", fields["span_id"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", GetTraceID(ctx))
	assert.Empty(t, GetTraceID(context.Background()))
}

func TestContextLogger_With(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	ctx := WithProcessID(WithContext(context.Background(), zap.New(core)), "proc-9")

	child := L(ctx).With(zap.String("component", "warehouse"))
	child.Debug("sending")
	child.Error("failed")
	child.Zap().Info("raw")

	require.Equal(t, 3, recorded.Len())
	for _, entry := range recorded.All() {
		fields := fieldMap(entry)
		assert.Equal(t, "warehouse", fields["component"])
		assert.Equal(t, "proc-9", fields["process_id"])
	}
}

func TestContextLogger_NilLogger(t *testing.T) {
	cl := WithLogger(context.Background(), nil)
	assert.NotPanics(t, func() {
		cl.Info("no logger")
		cl.With(zap.String("k", "v")).Warn("still none")
	})
}
