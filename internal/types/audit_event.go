package types

import (
	"time"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type AuditEvent struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ActorID    uuid.UUID      `gorm:"type:uuid;index" json:"actor_id"`
	Action     string         `gorm:"not null;index" json:"action"` // create|update|delete|run|override
	EntityType string         `gorm:"not null;index:idx_audit_entity,priority:1" json:"entity_type"`
	EntityID   uuid.UUID      `gorm:"type:uuid;index:idx_audit_entity,priority:2" json:"entity_id"`
	Detail     datatypes.JSON `gorm:"column:detail" json:"detail,omitempty"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (AuditEvent) TableName() string { return "audit_event" }
