package models

import (
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
)

// ProcessRecordModel is the persistence model for fulfillment.ProcessRecord.
// Steps are stored as a JSON array; timestamps are owned by the domain and
// never touched by GORM.
type ProcessRecordModel struct {
	ProcessID      string                    `gorm:"type:varchar(64);primaryKey"`
	OrderID        string                    `gorm:"type:varchar(128);not null;index:idx_process_records_order_created,priority:1"`
	ContactID      string                    `gorm:"type:varchar(128)"`
	State          string                    `gorm:"type:varchar(20);not null"`
	FailedStage    string                    `gorm:"type:varchar(20)"`
	ErrorCode      string                    `gorm:"type:varchar(64)"`
	ErrorMessage   string                    `gorm:"type:text"`
	WMSOrderNumber string                    `gorm:"column:wms_order_number;type:varchar(160)"`
	ConfirmationID string                    `gorm:"type:varchar(128)"`
	Attempts       int                       `gorm:"not null;default:0"`
	Steps          []fulfillment.ProcessStep `gorm:"type:jsonb;serializer:json"`
	CreatedAt      time.Time                 `gorm:"not null;autoCreateTime:false;index:idx_process_records_order_created,priority:2"`
	UpdatedAt      time.Time                 `gorm:"not null;autoUpdateTime:false"`
}

// TableName returns the table name for GORM
func (ProcessRecordModel) TableName() string {
	return "process_records"
}

// ToDomain converts the persistence model to a domain ProcessRecord
func (m *ProcessRecordModel) ToDomain() *fulfillment.ProcessRecord {
	steps := m.Steps
	if steps == nil {
		steps = []fulfillment.ProcessStep{}
	}
	return &fulfillment.ProcessRecord{
		ProcessID:      m.ProcessID,
		OrderID:        m.OrderID,
		ContactID:      m.ContactID,
		State:          fulfillment.ProcessState(m.State),
		FailedStage:    fulfillment.ProcessState(m.FailedStage),
		ErrorCode:      m.ErrorCode,
		ErrorMessage:   m.ErrorMessage,
		WMSOrderNumber: m.WMSOrderNumber,
		ConfirmationID: m.ConfirmationID,
		Attempts:       m.Attempts,
		Steps:          steps,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// ProcessRecordModelFromDomain creates a persistence model from a domain ProcessRecord
func ProcessRecordModelFromDomain(r *fulfillment.ProcessRecord) *ProcessRecordModel {
	return &ProcessRecordModel{
		ProcessID:      r.ProcessID,
		OrderID:        r.OrderID,
		ContactID:      r.ContactID,
		State:          r.State.String(),
		FailedStage:    r.FailedStage.String(),
		ErrorCode:      r.ErrorCode,
		ErrorMessage:   r.ErrorMessage,
		WMSOrderNumber: r.WMSOrderNumber,
		ConfirmationID: r.ConfirmationID,
		Attempts:       r.Attempts,
		Steps:          append([]fulfillment.ProcessStep(nil), r.Steps...),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}
