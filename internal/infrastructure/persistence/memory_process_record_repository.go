package persistence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
)

// InMemoryProcessRecordRepository keeps process records in memory.
// It is the default store for single-instance deployments and tests.
type InMemoryProcessRecordRepository struct {
	mu      sync.RWMutex
	records map[string]*fulfillment.ProcessRecord
	// byOrder lists process IDs per order in creation order
	byOrder map[string][]string
}

// NewInMemoryProcessRecordRepository creates an empty repository
func NewInMemoryProcessRecordRepository() *InMemoryProcessRecordRepository {
	return &InMemoryProcessRecordRepository{
		records: make(map[string]*fulfillment.ProcessRecord),
		byOrder: make(map[string][]string),
	}
}

// Save stores a copy of record
func (r *InMemoryProcessRecordRepository) Save(ctx context.Context, record *fulfillment.ProcessRecord) error {
	if record == nil || record.ProcessID == "" {
		return errors.New("persistence: process record must have a process ID")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.ProcessID]; !exists {
		r.byOrder[record.OrderID] = append(r.byOrder[record.OrderID], record.ProcessID)
	}
	r.records[record.ProcessID] = record.Clone()
	return nil
}

// FindLatestByOrderID returns the most recently created record for an order
func (r *InMemoryProcessRecordRepository) FindLatestByOrderID(ctx context.Context, orderID string) (*fulfillment.ProcessRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *fulfillment.ProcessRecord
	for _, id := range r.byOrder[orderID] {
		rec := r.records[id]
		if latest == nil || !rec.CreatedAt.Before(latest.CreatedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, fulfillment.ErrProcessNotFound
	}
	return latest.Clone(), nil
}

// FindByProcessID returns a record by its process ID
func (r *InMemoryProcessRecordRepository) FindByProcessID(ctx context.Context, processID string) (*fulfillment.ProcessRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[processID]
	if !ok {
		return nil, fulfillment.ErrProcessNotFound
	}
	return rec.Clone(), nil
}

// DeleteTerminalBefore removes finished records last updated before cutoff.
// Runs still in flight are never removed.
func (r *InMemoryProcessRecordRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for orderID, ids := range r.byOrder {
		kept := ids[:0]
		for _, id := range ids {
			rec := r.records[id]
			if rec.IsTerminal() && rec.UpdatedAt.Before(cutoff) {
				delete(r.records, id)
				deleted++
				continue
			}
			kept = append(kept, id)
		}
		if len(kept) == 0 {
			delete(r.byOrder, orderID)
		} else {
			r.byOrder[orderID] = kept
		}
	}
	return deleted, nil
}

// Len returns the number of stored records
func (r *InMemoryProcessRecordRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

var _ fulfillment.ProcessRecordRepository = (*InMemoryProcessRecordRepository)(nil)
