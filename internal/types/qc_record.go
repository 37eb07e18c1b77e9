package types

import (
	"time"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// QCRecord rows are append-only; the only mutation after creation is an
// explicit override which is audited separately.
type QCRecord struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RunID uuid.UUID `gorm:"type:uuid;not null;index" json:"run_id"`
	Analyte      string     `gorm:"not null;index:idx_qc_record_series,priority:1" json:"analyte"`
	MethodID     uuid.UUID  `gorm:"type:uuid;not null;index:idx_qc_record_series,priority:2" json:"method_id"`
	InstrumentID *uuid.UUID `gorm:"type:uuid;index:idx_qc_record_series,priority:3" json:"instrument_id,omitempty"`
	Value  float64 `gorm:"not null" json:"value"`
	ZScore float64 `gorm:"column:zscore;not null" json:"zscore"`
	RuleHits      datatypes.JSON `gorm:"column:rule_hits" json:"rule_hits,omitempty"`
	OverallStatus string         `gorm:"not null;index" json:"overall_status"` // PASS|WARNING|REJECT
	Overridden     bool   `gorm:"not null;default:false" json:"overridden"`
	OverrideReason string `json:"override_reason,omitempty"`
	CreatedAt time.Time `gorm:"not null;index:idx_qc_record_series,priority:4" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (QCRecord) TableName() string { return "qc_record" }
