package cache

import (
	"context"
	"testing"

	"github.com/erp/fulfillment/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// unreachableRedis points at a port nothing listens on
var unreachableRedis = config.RedisConfig{Host: "127.0.0.1", Port: 1}

func TestStoreFactory_MemoryBackend(t *testing.T) {
	f := NewStoreFactory(unreachableRedis)
	defer f.Close()

	locker, err := f.CreateOrderLocker(BackendMemory)
	require.NoError(t, err)
	assert.IsType(t, &InMemoryOrderLocker{}, locker)

	store, err := f.CreateConfirmationStore("")
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &InMemoryConfirmationStore{}, store)
}

func TestStoreFactory_FallsBackWhenRedisUnavailable(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	f := NewStoreFactory(unreachableRedis, WithLogger(zap.New(core)))
	defer f.Close()

	locker, err := f.CreateOrderLocker(BackendRedis)
	require.NoError(t, err)
	assert.IsType(t, &InMemoryOrderLocker{}, locker)

	store, err := f.CreateConfirmationStore(BackendRedis)
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &InMemoryConfirmationStore{}, store)

	assert.Equal(t, 2, logs.Len())
}

func TestStoreFactory_NoFallback(t *testing.T) {
	f := NewStoreFactory(unreachableRedis, WithInMemoryFallback(false))
	defer f.Close()

	_, err := f.CreateOrderLocker(BackendRedis)
	assert.Error(t, err)

	_, err = f.CreateConfirmationStore(BackendRedis)
	assert.Error(t, err)
}

func TestStoreFactory_UnknownBackend(t *testing.T) {
	f := NewStoreFactory(unreachableRedis)

	_, err := f.CreateOrderLocker("etcd")
	assert.Error(t, err)

	_, err = f.CreateConfirmationStore("memcached")
	assert.Error(t, err)
}

func TestStoreFactory_PingWithoutRedis(t *testing.T) {
	f := NewStoreFactory(config.RedisConfig{})
	_, err := f.CreateOrderLocker(BackendMemory)
	require.NoError(t, err)

	assert.NoError(t, f.Ping(context.Background()))
}
