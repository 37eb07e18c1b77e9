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

type MethodService interface {
	Create(ctx context.Context, name, description string, params analysis.MethodParameters) (*types.Method, error)
	Get(ctx context.Context, id uuid.UUID) (*types.Method, error)
	List(ctx context.Context) ([]*types.Method, error)
	// UpdateParameters validates and swaps the parameter document,
	// bumping the method version.
	UpdateParameters(ctx context.Context, id uuid.UUID, params analysis.MethodParameters) error
	Delete(ctx context.Context, id uuid.UUID) error

	// Parameters decodes the stored parameter document.
	Parameters(method *types.Method) (analysis.MethodParameters, error)
}

type methodService struct {
	db           *gorm.DB
	log          *logger.Logger
	methodRepo   repos.MethodRepo
	auditService AuditService
}

func NewMethodService(db *gorm.DB, log *logger.Logger, methodRepo repos.MethodRepo, auditService AuditService) MethodService {
	return &methodService{
		db:           db,
		log:          log.With("service", "MethodService"),
		methodRepo:   methodRepo,
		auditService: auditService,
	}
}

func (s *methodService) Create(ctx context.Context, name, description string, params analysis.MethodParameters) (*types.Method, error) {
	if name == "" {
		return nil, fmt.Errorf("method name is required")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}

	method := &types.Method{
		Name:        name,
		Description: description,
		Version:     1,
		Parameters:  raw,
	}
	if rd := requestdata.GetRequestData(ctx); rd != nil {
		method.CreatedBy = rd.UserID
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, cErr := s.methodRepo.Create(ctx, tx, method); cErr != nil {
			return cErr
		}
		s.auditService.Record(ctx, tx, "create", "method", method.ID, map[string]string{"name": name})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return method, nil
}

func (s *methodService) Get(ctx context.Context, id uuid.UUID) (*types.Method, error) {
	method, err := s.methodRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if method == nil {
		return nil, fmt.Errorf("method %s not found", id)
	}
	return method, nil
}

func (s *methodService) List(ctx context.Context) ([]*types.Method, error) {
	return s.methodRepo.List(ctx, nil)
}

func (s *methodService) UpdateParameters(ctx context.Context, id uuid.UUID, params analysis.MethodParameters) error {
	if err := params.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if uErr := s.methodRepo.UpdateParameters(ctx, tx, id, map[string]interface{}{"parameters": raw}); uErr != nil {
			return uErr
		}
		s.auditService.Record(ctx, tx, "update", "method", id, nil)
		return nil
	})
}

func (s *methodService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.methodRepo.SoftDeleteByID(ctx, tx, id); err != nil {
			return err
		}
		s.auditService.Record(ctx, tx, "delete", "method", id, nil)
		return nil
	})
}

func (s *methodService) Parameters(method *types.Method) (analysis.MethodParameters, error) {
	var params analysis.MethodParameters
	if err := json.Unmarshal(method.Parameters, &params); err != nil {
		return params, fmt.Errorf("decode method parameters: %w", err)
	}
	return params, nil
}
