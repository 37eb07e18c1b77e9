package types

import (
	"time"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Method struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string `gorm:"not null;index" json:"name"`
	Description string `json:"description"`
	Version     int    `gorm:"not null;default:1" json:"version"`
	// Full analysis.MethodParameters document (inlets, columns, detectors, oven program)
	Parameters datatypes.JSON `gorm:"column:parameters;not null" json:"parameters"`
	CreatedBy uuid.UUID      `gorm:"type:uuid;index" json:"created_by"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Method) TableName() string { return "method" }
