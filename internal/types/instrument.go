package types

import (
	"time"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Instrument struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name         string `gorm:"not null;uniqueIndex" json:"name"`
	SerialNumber string `gorm:"column:serial_number" json:"serial_number"`
	Model        string `json:"model"`
	// Installed detector channels, e.g. [{"kind":"FID","name":"front"}]
	Detectors datatypes.JSON `gorm:"column:detectors" json:"detectors"`
	Status    string         `gorm:"not null;default:'online';index" json:"status"` // online|offline|maintenance
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Instrument) TableName() string { return "instrument" }
