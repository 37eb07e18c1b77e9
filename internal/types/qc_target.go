package types

import (
	"time"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type QCTarget struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Analyte  string    `gorm:"not null;index:idx_qc_target_series,unique,priority:1" json:"analyte"`
	MethodID uuid.UUID `gorm:"type:uuid;not null;index:idx_qc_target_series,unique,priority:2" json:"method_id"`
	// Nil instrument scopes the target to every instrument running the method.
	InstrumentID *uuid.UUID `gorm:"type:uuid;index:idx_qc_target_series,unique,priority:3" json:"instrument_id,omitempty"`
	Mean float64 `gorm:"not null" json:"mean"`
	SD   float64 `gorm:"not null" json:"sd"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (QCTarget) TableName() string { return "qc_target" }
