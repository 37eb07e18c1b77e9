package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veldtlab/chromalab-backend/internal/analysis"
	"github.com/veldtlab/chromalab-backend/internal/logger"
	"github.com/veldtlab/chromalab-backend/internal/repos"
	"github.com/veldtlab/chromalab-backend/internal/types"
)

type InstrumentService interface {
	Create(ctx context.Context, instrument *types.Instrument) (*types.Instrument, error)
	Get(ctx context.Context, id uuid.UUID) (*types.Instrument, error)
	List(ctx context.Context) ([]*types.Instrument, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type instrumentService struct {
	db             *gorm.DB
	log            *logger.Logger
	instrumentRepo repos.InstrumentRepo
	auditService   AuditService
}

func NewInstrumentService(db *gorm.DB, log *logger.Logger, instrumentRepo repos.InstrumentRepo, auditService AuditService) InstrumentService {
	return &instrumentService{
		db:             db,
		log:            log.With("service", "InstrumentService"),
		instrumentRepo: instrumentRepo,
		auditService:   auditService,
	}
}

var instrumentStatuses = map[string]bool{
	"online":      true,
	"offline":     true,
	"maintenance": true,
}

func (s *instrumentService) Create(ctx context.Context, instrument *types.Instrument) (*types.Instrument, error) {
	if instrument.Name == "" {
		return nil, fmt.Errorf("instrument name is required")
	}
	if instrument.Status == "" {
		instrument.Status = "online"
	}
	if !instrumentStatuses[instrument.Status] {
		return nil, fmt.Errorf("unknown instrument status %q", instrument.Status)
	}
	if len(instrument.Detectors) > 0 {
		var detectors []analysis.DetectorSpec
		if err := json.Unmarshal(instrument.Detectors, &detectors); err != nil {
			return nil, fmt.Errorf("parse detectors: %w", err)
		}
		for _, d := range detectors {
			if !analysis.ValidDetectorKind(d.Kind) {
				return nil, fmt.Errorf("unknown detector kind %q", d.Kind)
			}
		}
	}

	var created *types.Instrument
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cErr error
		created, cErr = s.instrumentRepo.Create(ctx, tx, instrument)
		if cErr != nil {
			return cErr
		}
		s.auditService.Record(ctx, tx, "create", "instrument", created.ID, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *instrumentService) Get(ctx context.Context, id uuid.UUID) (*types.Instrument, error) {
	instrument, err := s.instrumentRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if instrument == nil {
		return nil, fmt.Errorf("instrument %s not found", id)
	}
	return instrument, nil
}

func (s *instrumentService) List(ctx context.Context) ([]*types.Instrument, error) {
	return s.instrumentRepo.List(ctx, nil)
}

func (s *instrumentService) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	if !instrumentStatuses[status] {
		return fmt.Errorf("unknown instrument status %q", status)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.instrumentRepo.UpdateFields(ctx, tx, id, map[string]interface{}{"status": status}); err != nil {
			return err
		}
		s.auditService.Record(ctx, tx, "update", "instrument", id, map[string]string{"status": status})
		return nil
	})
}

func (s *instrumentService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.instrumentRepo.SoftDeleteByID(ctx, tx, id); err != nil {
			return err
		}
		s.auditService.Record(ctx, tx, "delete", "instrument", id, nil)
		return nil
	})
}
