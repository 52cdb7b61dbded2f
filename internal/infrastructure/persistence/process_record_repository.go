package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormProcessRecordRepository implements fulfillment.ProcessRecordRepository using GORM
type GormProcessRecordRepository struct {
	db *gorm.DB
}

// NewGormProcessRecordRepository creates a new GormProcessRecordRepository
func NewGormProcessRecordRepository(db *gorm.DB) *GormProcessRecordRepository {
	return &GormProcessRecordRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormProcessRecordRepository) WithTx(tx *gorm.DB) *GormProcessRecordRepository {
	return &GormProcessRecordRepository{db: tx}
}

// Save inserts the record or updates it in place by process ID
func (r *GormProcessRecordRepository) Save(ctx context.Context, record *fulfillment.ProcessRecord) error {
	if record == nil || record.ProcessID == "" {
		return errors.New("persistence: process record must have a process ID")
	}
	model := models.ProcessRecordModelFromDomain(record)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return fmt.Errorf("save process record %s: %w", record.ProcessID, err)
	}
	return nil
}

// FindLatestByOrderID returns the most recently created record for an order
func (r *GormProcessRecordRepository) FindLatestByOrderID(ctx context.Context, orderID string) (*fulfillment.ProcessRecord, error) {
	var model models.ProcessRecordModel
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fulfillment.ErrProcessNotFound
		}
		return nil, fmt.Errorf("find process record for order %s: %w", orderID, err)
	}
	return model.ToDomain(), nil
}

// FindByProcessID returns a record by its process ID
func (r *GormProcessRecordRepository) FindByProcessID(ctx context.Context, processID string) (*fulfillment.ProcessRecord, error) {
	var model models.ProcessRecordModel
	if err := r.db.WithContext(ctx).First(&model, "process_id = ?", processID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fulfillment.ErrProcessNotFound
		}
		return nil, fmt.Errorf("find process record %s: %w", processID, err)
	}
	return model.ToDomain(), nil
}

// DeleteTerminalBefore removes finished records last updated before cutoff
// and returns how many were deleted.
func (r *GormProcessRecordRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("state IN ? AND updated_at < ?",
			[]string{fulfillment.ProcessStateSucceeded.String(), fulfillment.ProcessStateFailed.String()},
			cutoff).
		Delete(&models.ProcessRecordModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("purge process records: %w", result.Error)
	}
	return result.RowsAffected, nil
}

var _ fulfillment.ProcessRecordRepository = (*GormProcessRecordRepository)(nil)
