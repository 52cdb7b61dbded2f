package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockKeyPrefix = "fulfillment:lock:"
	defaultLockTTL       = 2 * time.Minute
)

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOrderLocker implements fulfillment.OrderLocker with SET NX PX so that
// several service instances never process the same order at once.
type RedisOrderLocker struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisOrderLocker creates a locker. ttl bounds how long a crashed holder
// can block an order and must exceed the process timeout.
func NewRedisOrderLocker(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisOrderLocker {
	if keyPrefix == "" {
		keyPrefix = defaultLockKeyPrefix
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisOrderLocker{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

// Acquire takes the lock for orderID or returns ErrAlreadyProcessing
func (l *RedisOrderLocker) Acquire(ctx context.Context, orderID string) (fulfillment.ReleaseFunc, error) {
	key := l.keyPrefix + orderID
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire order lock: %w", err)
	}
	if !ok {
		return nil, fulfillment.ErrAlreadyProcessing
	}

	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("failed to release order lock: %w", err)
		}
		if n == 0 {
			return fulfillment.ErrLockNotHeld
		}
		return nil
	}, nil
}

var _ fulfillment.OrderLocker = (*RedisOrderLocker)(nil)
