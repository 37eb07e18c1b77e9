package types

import (
	"time"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AnalysisRun struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MethodID uuid.UUID `gorm:"type:uuid;not null;index:idx_run_method_sample,priority:1" json:"method_id"`
	Method   *Method   `gorm:"constraint:OnDelete:CASCADE;foreignKey:MethodID;references:ID" json:"method,omitempty"`
	SampleID uuid.UUID `gorm:"type:uuid;not null;index:idx_run_method_sample,priority:2" json:"sample_id"`
	Sample   *Sample   `gorm:"constraint:OnDelete:CASCADE;foreignKey:SampleID;references:ID" json:"sample,omitempty"`
	InstrumentID uuid.UUID   `gorm:"type:uuid;not null;index" json:"instrument_id"`
	Instrument   *Instrument `gorm:"constraint:OnDelete:CASCADE;foreignKey:InstrumentID;references:ID" json:"instrument,omitempty"`
	Status string `gorm:"not null;default:'completed';index" json:"status"` // completed|failed
	Seed   int64  `gorm:"not null" json:"seed"`
	RunDurationMin float64 `gorm:"column:run_duration_min" json:"run_duration_min"`
	// Per-detector traces are not persisted; peaks, KPIs, quant results and
	// simulator warnings are kept as JSON documents on the run row.
	KPIs         datatypes.JSON `gorm:"column:kpis" json:"kpis,omitempty"`
	Peaks        datatypes.JSON `gorm:"column:peaks" json:"peaks,omitempty"`
	QuantResults datatypes.JSON `gorm:"column:quant_results" json:"quant_results,omitempty"`
	Warnings     datatypes.JSON `gorm:"column:warnings" json:"warnings,omitempty"`
	QCRecordID *uuid.UUID `gorm:"type:uuid;index" json:"qc_record_id,omitempty"`
	StartedBy uuid.UUID      `gorm:"type:uuid;index" json:"started_by"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (AnalysisRun) TableName() string { return "analysis_run" }
