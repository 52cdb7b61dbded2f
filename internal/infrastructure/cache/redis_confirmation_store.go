package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/redis/go-redis/v9"
)

const defaultConfirmationKeyPrefix = "fulfillment:confirmation:"

// RedisConfirmationStore implements fulfillment.ConfirmationStore using Redis.
// Instances behind a load balancer share confirmations through it.
type RedisConfirmationStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisConfirmationStore creates a store with an existing Redis client
func NewRedisConfirmationStore(client *redis.Client, keyPrefix string) *RedisConfirmationStore {
	if keyPrefix == "" {
		keyPrefix = defaultConfirmationKeyPrefix
	}
	return &RedisConfirmationStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Get returns the confirmation recorded for orderNumber
func (s *RedisConfirmationStore) Get(ctx context.Context, orderNumber string) (string, error) {
	id, err := s.client.Get(ctx, s.keyPrefix+orderNumber).Result()
	if errors.Is(err, redis.Nil) {
		return "", fulfillment.ErrConfirmationNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	return id, nil
}

// Put records a confirmation with SETNX so the first confirmation wins
func (s *RedisConfirmationStore) Put(ctx context.Context, orderNumber, confirmationID string, ttl time.Duration) error {
	if err := s.client.SetNX(ctx, s.keyPrefix+orderNumber, confirmationID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store confirmation: %w", err)
	}
	return nil
}

// Close is a no-op; the shared client is closed by its owner
func (s *RedisConfirmationStore) Close() error {
	return nil
}

var _ fulfillment.ConfirmationStore = (*RedisConfirmationStore)(nil)
