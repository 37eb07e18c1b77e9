package types

import (
	"time"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CalibrationModel struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MethodID uuid.UUID `gorm:"type:uuid;not null;index:idx_calibration_method_analyte,priority:1" json:"method_id"`
	Method   *Method   `gorm:"constraint:OnDelete:CASCADE;foreignKey:MethodID;references:ID" json:"method,omitempty"`
	Analyte   string `gorm:"not null;index:idx_calibration_method_analyte,priority:2" json:"analyte"`
	FitType   string `gorm:"not null" json:"fit_type"`  // linear|linearThroughOrigin|quadratic
	Weighting string `gorm:"not null" json:"weighting"` // none|1/x|1/x2
	Mode      string `gorm:"not null" json:"mode"`      // external|istd
	IstdAnalyte string `json:"istd_analyte,omitempty"`
	// Standard points and fitted curve as produced by calibration.Fit
	StandardPoints datatypes.JSON `gorm:"column:standard_points;not null" json:"standard_points"`
	Curve          datatypes.JSON `gorm:"column:curve;not null" json:"curve"`
	ResidualSD float64 `gorm:"column:residual_sd" json:"residual_sd"`
	LOD        float64 `gorm:"column:lod" json:"lod"`
	LOQ        float64 `gorm:"column:loq" json:"loq"`
	Active bool `gorm:"not null;default:false;index" json:"active"`
	CreatedBy uuid.UUID      `gorm:"type:uuid;index" json:"created_by"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (CalibrationModel) TableName() string { return "calibration_model" }
