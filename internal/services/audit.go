package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veldtlab/chromalab-backend/internal/logger"
	"github.com/veldtlab/chromalab-backend/internal/repos"
	"github.com/veldtlab/chromalab-backend/internal/requestdata"
	"github.com/veldtlab/chromalab-backend/internal/types"
)

type AuditService interface {
	// Record writes one audit row. Failures are logged and swallowed so
	// a broken audit sink never blocks lab work.
	Record(ctx context.Context, tx *gorm.DB, action, entityType string, entityID uuid.UUID, detail any)
	ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit int) ([]*types.AuditEvent, error)
}

type auditService struct {
	log       *logger.Logger
	auditRepo repos.AuditEventRepo
}

func NewAuditService(log *logger.Logger, auditRepo repos.AuditEventRepo) AuditService {
	return &auditService{
		log:       log.With("service", "AuditService"),
		auditRepo: auditRepo,
	}
}

func (s *auditService) Record(ctx context.Context, tx *gorm.DB, action, entityType string, entityID uuid.UUID, detail any) {
	var actorID uuid.UUID
	if rd := requestdata.GetRequestData(ctx); rd != nil {
		actorID = rd.UserID
	}

	event := &types.AuditEvent{
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
	}
	if detail != nil {
		raw, err := json.Marshal(detail)
		if err != nil {
			s.log.Warn("Failed to marshal audit detail", "action", action, "entity_type", entityType, "error", err)
		} else {
			event.Detail = raw
		}
	}

	if _, err := s.auditRepo.Create(ctx, tx, event); err != nil {
		s.log.Warn("Failed to write audit event", "action", action, "entity_type", entityType, "entity_id", entityID, "error", err)
	}
}

func (s *auditService) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit int) ([]*types.AuditEvent, error) {
	return s.auditRepo.ListByEntity(ctx, nil, entityType, entityID, limit)
}
