package cache

import (
	"context"
	"sync"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
)

// InMemoryOrderLocker is a keyed, non-blocking mutex scoped to one process.
// An entry exists only while a run holds the order.
type InMemoryOrderLocker struct {
	mu    sync.Mutex
	held  map[string]uint64
	token uint64
}

// NewInMemoryOrderLocker creates an empty locker
func NewInMemoryOrderLocker() *InMemoryOrderLocker {
	return &InMemoryOrderLocker{held: make(map[string]uint64)}
}

// Acquire takes the lock for orderID or returns ErrAlreadyProcessing
func (l *InMemoryOrderLocker) Acquire(ctx context.Context, orderID string) (fulfillment.ReleaseFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[orderID]; busy {
		return nil, fulfillment.ErrAlreadyProcessing
	}
	l.token++
	token := l.token
	l.held[orderID] = token

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if current, ok := l.held[orderID]; !ok || current != token {
			return fulfillment.ErrLockNotHeld
		}
		delete(l.held, orderID)
		return nil
	}, nil
}

// Held returns the number of orders currently locked (for testing/monitoring)
func (l *InMemoryOrderLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

var _ fulfillment.OrderLocker = (*InMemoryOrderLocker)(nil)
