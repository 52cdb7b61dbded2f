package cache

import (
	"context"
	"sync"
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
)

// confirmationEntry is a stored confirmation with its expiry
type confirmationEntry struct {
	confirmationID string
	expiresAt      time.Time
}

// InMemoryConfirmationStore implements fulfillment.ConfirmationStore using an in-memory map.
// This is suitable for single-instance deployments and testing
type InMemoryConfirmationStore struct {
	mu        sync.RWMutex
	entries   map[string]confirmationEntry
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	now       func() time.Time
}

// NewInMemoryConfirmationStore creates a new in-memory confirmation store.
// It starts a background goroutine that drops expired confirmations.
func NewInMemoryConfirmationStore() *InMemoryConfirmationStore {
	store := &InMemoryConfirmationStore{
		entries:  make(map[string]confirmationEntry),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}

	store.wg.Add(1)
	go store.cleanupLoop()

	return store
}

// Get returns the confirmation recorded for orderNumber
func (s *InMemoryConfirmationStore) Get(ctx context.Context, orderNumber string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.entries[orderNumber]
	if !exists || !s.now().Before(e.expiresAt) {
		return "", fulfillment.ErrConfirmationNotFound
	}
	return e.confirmationID, nil
}

// Put records a confirmation unless a live one already exists
func (s *InMemoryConfirmationStore) Put(ctx context.Context, orderNumber, confirmationID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, exists := s.entries[orderNumber]; exists && now.Before(e.expiresAt) {
		return nil
	}
	s.entries[orderNumber] = confirmationEntry{
		confirmationID: confirmationID,
		expiresAt:      now.Add(ttl),
	}
	return nil
}

// Close stops the cleanup goroutine and releases resources.
// Safe to call multiple times
func (s *InMemoryConfirmationStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

// cleanupLoop periodically removes expired entries
func (s *InMemoryConfirmationStore) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *InMemoryConfirmationStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for orderNumber, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, orderNumber)
		}
	}
}

// Size returns the number of entries in the store (for testing/monitoring)
func (s *InMemoryConfirmationStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

var _ fulfillment.ConfirmationStore = (*InMemoryConfirmationStore)(nil)
