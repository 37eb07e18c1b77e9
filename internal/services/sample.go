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
	"github.com/veldtlab/chromalab-backend/internal/requestdata"
	"github.com/veldtlab/chromalab-backend/internal/types"
)

type SampleService interface {
	Create(ctx context.Context, name, kind string, profile analysis.SampleProfile) (*types.Sample, error)
	Get(ctx context.Context, id uuid.UUID) (*types.Sample, error)
	List(ctx context.Context, kind string) ([]*types.Sample, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// Profile decodes the stored analyte document.
	Profile(sample *types.Sample) (analysis.SampleProfile, error)
}

type sampleService struct {
	db           *gorm.DB
	log          *logger.Logger
	sampleRepo   repos.SampleRepo
	auditService AuditService
}

func NewSampleService(db *gorm.DB, log *logger.Logger, sampleRepo repos.SampleRepo, auditService AuditService) SampleService {
	return &sampleService{
		db:           db,
		log:          log.With("service", "SampleService"),
		sampleRepo:   sampleRepo,
		auditService: auditService,
	}
}

var sampleKinds = map[string]bool{
	"unknown":  true,
	"standard": true,
	"blank":    true,
	"qc":       true,
}

func (s *sampleService) Create(ctx context.Context, name, kind string, profile analysis.SampleProfile) (*types.Sample, error) {
	if name == "" {
		return nil, fmt.Errorf("sample name is required")
	}
	if kind == "" {
		kind = "unknown"
	}
	if !sampleKinds[kind] {
		return nil, fmt.Errorf("unknown sample kind %q", kind)
	}
	// Blanks are allowed an empty analyte list; everything else must
	// declare what was injected.
	if kind != "blank" {
		if err := profile.Validate(); err != nil {
			return nil, err
		}
	}
	raw, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}

	sample := &types.Sample{
		Name:    name,
		Kind:    kind,
		Profile: raw,
	}
	if rd := requestdata.GetRequestData(ctx); rd != nil {
		sample.CreatedBy = rd.UserID
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, cErr := s.sampleRepo.Create(ctx, tx, sample); cErr != nil {
			return cErr
		}
		s.auditService.Record(ctx, tx, "create", "sample", sample.ID, map[string]string{"name": name, "kind": kind})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sample, nil
}

func (s *sampleService) Get(ctx context.Context, id uuid.UUID) (*types.Sample, error) {
	sample, err := s.sampleRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if sample == nil {
		return nil, fmt.Errorf("sample %s not found", id)
	}
	return sample, nil
}

func (s *sampleService) List(ctx context.Context, kind string) ([]*types.Sample, error) {
	if kind != "" && !sampleKinds[kind] {
		return nil, fmt.Errorf("unknown sample kind %q", kind)
	}
	return s.sampleRepo.List(ctx, nil, kind)
}

func (s *sampleService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.sampleRepo.SoftDeleteByID(ctx, tx, id); err != nil {
			return err
		}
		s.auditService.Record(ctx, tx, "delete", "sample", id, nil)
		return nil
	})
}

func (s *sampleService) Profile(sample *types.Sample) (analysis.SampleProfile, error) {
	var profile analysis.SampleProfile
	if err := json.Unmarshal(sample.Profile, &profile); err != nil {
		return profile, fmt.Errorf("decode sample profile: %w", err)
	}
	return profile, nil
}
