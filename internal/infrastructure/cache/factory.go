package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Backend names accepted by the factory
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// StoreFactory creates order lockers and confirmation stores based on configuration.
// Redis-backed components share one client.
type StoreFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
	lockTTL               time.Duration

	mu     sync.Mutex
	client *redis.Client
}

// StoreFactoryOption is a functional option for configuring the factory
type StoreFactoryOption func(*StoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to in-memory components when Redis is unavailable.
// Default is true (allow fallback)
func WithInMemoryFallback(allow bool) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// WithLockTTL sets the expiry of Redis order locks
func WithLockTTL(ttl time.Duration) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.lockTTL = ttl
	}
}

// NewStoreFactory creates a new factory
func NewStoreFactory(cfg config.RedisConfig, opts ...StoreFactoryOption) *StoreFactory {
	f := &StoreFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
		lockTTL:               defaultLockTTL,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// redisClient connects on first use and reuses the client afterwards
func (f *StoreFactory) redisClient() (*redis.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.client != nil {
		return f.client, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", f.redisConfig.Host, f.redisConfig.Port),
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	f.client = client
	return client, nil
}

// CreateOrderLocker creates the per-order exclusion for the given backend.
// WARNING: in-memory locks do not coordinate across instances.
func (f *StoreFactory) CreateOrderLocker(backend string) (fulfillment.OrderLocker, error) {
	switch backend {
	case BackendMemory, "":
		return NewInMemoryOrderLocker(), nil
	case BackendRedis:
		client, err := f.redisClient()
		if err == nil {
			f.logger.Info("using Redis order locker", zap.Duration("lock_ttl", f.lockTTL))
			return NewRedisOrderLocker(client, "", f.lockTTL), nil
		}
		if !f.allowInMemoryFallback {
			return nil, fmt.Errorf("Redis required for order locking but unavailable: %w", err)
		}
		f.logger.Warn("Redis unavailable, falling back to in-memory order locker. "+
			"Concurrent instances may process the same order.",
			zap.Error(err),
		)
		return NewInMemoryOrderLocker(), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", backend)
	}
}

// CreateConfirmationStore creates the delivery confirmation store for the given backend
func (f *StoreFactory) CreateConfirmationStore(backend string) (fulfillment.ConfirmationStore, error) {
	switch backend {
	case BackendMemory, "":
		return NewInMemoryConfirmationStore(), nil
	case BackendRedis:
		client, err := f.redisClient()
		if err == nil {
			f.logger.Info("using Redis confirmation store")
			return NewRedisConfirmationStore(client, ""), nil
		}
		if !f.allowInMemoryFallback {
			return nil, fmt.Errorf("Redis required for confirmations but unavailable: %w", err)
		}
		f.logger.Warn("Redis unavailable, falling back to in-memory confirmation store", zap.Error(err))
		return NewInMemoryConfirmationStore(), nil
	default:
		return nil, fmt.Errorf("unknown confirmation store backend %q", backend)
	}
}

// Ping checks the shared Redis client. It is a no-op when no Redis-backed
// component was created.
func (f *StoreFactory) Ping(ctx context.Context) error {
	f.mu.Lock()
	client := f.client
	f.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Ping(ctx).Err()
}

// Close closes the shared Redis client, if one was opened
func (f *StoreFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.client == nil {
		return nil
	}
	err := f.client.Close()
	f.client = nil
	return err
}
