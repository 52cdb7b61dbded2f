package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerProvider_Disabled(t *testing.T) {
	lp, err := NewLoggerProvider(context.Background(), LogsConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, lp.IsEnabled())
	assert.NoError(t, lp.ForceFlush(context.Background()))
	assert.NoError(t, lp.Shutdown(context.Background()))
	assert.NoError(t, lp.Shutdown(context.Background()))

	base := zap.NewNop()
	assert.Same(t, base, lp.Bridge(base))
}

func TestNewLoggerProvider_EnabledWithoutCollector(t *testing.T) {
	// The exporter dials lazily, so no collector has to be listening.
	lp, err := NewLoggerProvider(context.Background(), LogsConfig{
		Enabled:           true,
		CollectorEndpoint: "localhost:19999",
		ServiceName:       "fulfillment-bridge",
		Insecure:          true,
	}, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, lp.IsEnabled())

	core, _ := observer.New(zapcore.InfoLevel)
	base := zap.New(core)
	bridged := lp.Bridge(base)

	assert.NotSame(t, base, bridged)
	assert.True(t, bridged.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, bridged.Core().Enabled(zapcore.DebugLevel))

	assert.NoError(t, lp.Shutdown(context.Background()))
}

func TestLevelFilterCore(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(&levelFilterCore{Core: core, minLevel: zapcore.WarnLevel})

	log.Debug("dropped")
	log.Info("dropped")
	log.Warn("kept")
	log.With(zap.String("process_id", "proc-1")).Error("kept with fields")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "kept", entries[0].Message)
	assert.Equal(t, "proc-1", entries[1].ContextMap()["process_id"])
}
