package types

import (
	"time"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Sample struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name string `gorm:"not null;index" json:"name"`
	Kind string `gorm:"not null;default:'unknown';index" json:"kind"` // unknown|standard|blank|qc
	// Full analysis.SampleProfile document (analyte list with concentrations)
	Profile datatypes.JSON `gorm:"column:profile;not null" json:"profile"`
	CreatedBy uuid.UUID      `gorm:"type:uuid;index" json:"created_by"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Sample) TableName() string { return "sample" }
