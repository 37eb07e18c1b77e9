package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veldtlab/chromalab-backend/internal/analysis/calibration"
	"github.com/veldtlab/chromalab-backend/internal/cache"
	"github.com/veldtlab/chromalab-backend/internal/logger"
	"github.com/veldtlab/chromalab-backend/internal/repos"
	"github.com/veldtlab/chromalab-backend/internal/types"
)

// FitRequest carries everything needed to calibrate one analyte of a
// method from its standard injections.
type FitRequest struct {
	MethodID    uuid.UUID                   `json:"method_id"`
	Analyte     string                      `json:"analyte"`
	FitType     calibration.FitType         `json:"fit_type"`
	Weighting   calibration.Weighting       `json:"weighting"`
	Mode        calibration.Mode            `json:"mode"`
	IstdAnalyte string                      `json:"istd_analyte,omitempty"`
	Points      []calibration.StandardPoint `json:"points"`
	Activate    bool                        `json:"activate"`
}

type CalibrationService interface {
	Fit(ctx context.Context, req FitRequest) (*types.CalibrationModel, error)
	Activate(ctx context.Context, id uuid.UUID) error
	ListHistory(ctx context.Context, methodID uuid.UUID, analyte string) ([]*types.CalibrationModel, error)

	// ActiveCurves loads the active fitted curves for a method, serving
	// from the read-through cache when warm. Quantitation calls this on
	// every run.
	ActiveCurves(ctx context.Context, methodID uuid.UUID) (map[string]*calibration.CurveFit, error)
}

type calibrationService struct {
	db               *gorm.DB
	log              *logger.Logger
	calibrationRepo  repos.CalibrationModelRepo
	calibrationCache cache.CalibrationCache
	auditService     AuditService
}

func NewCalibrationService(
	db *gorm.DB,
	log *logger.Logger,
	calibrationRepo repos.CalibrationModelRepo,
	calibrationCache cache.CalibrationCache,
	auditService AuditService,
) CalibrationService {
	return &calibrationService{
		db:               db,
		log:              log.With("service", "CalibrationService"),
		calibrationRepo:  calibrationRepo,
		calibrationCache: calibrationCache,
		auditService:     auditService,
	}
}

func (s *calibrationService) Fit(ctx context.Context, req FitRequest) (*types.CalibrationModel, error) {
	if req.MethodID == uuid.Nil {
		return nil, fmt.Errorf("method id is required")
	}

	fit, err := calibration.Fit(req.Analyte, req.Points, req.FitType, req.Weighting, req.Mode, req.IstdAnalyte)
	if err != nil {
		return nil, err
	}

	pointsRaw, err := json.Marshal(req.Points)
	if err != nil {
		return nil, fmt.Errorf("marshal standard points: %w", err)
	}
	curveRaw, err := json.Marshal(fit)
	if err != nil {
		return nil, fmt.Errorf("marshal curve: %w", err)
	}

	model := &types.CalibrationModel{
		MethodID:       req.MethodID,
		Analyte:        req.Analyte,
		FitType:        string(req.FitType),
		Weighting:      string(req.Weighting),
		Mode:           string(req.Mode),
		IstdAnalyte:    req.IstdAnalyte,
		StandardPoints: pointsRaw,
		Curve:          curveRaw,
		ResidualSD:     fit.ResidualSD,
		LOD:            fit.LOD,
		LOQ:            fit.LOQ,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, cErr := s.calibrationRepo.Create(ctx, tx, model); cErr != nil {
			return cErr
		}
		s.auditService.Record(ctx, tx, "create", "calibration_model", model.ID, map[string]any{
			"analyte":   req.Analyte,
			"fit_type":  req.FitType,
			"weighting": req.Weighting,
			"r2":        fit.RSquared,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if req.Activate {
		if aErr := s.Activate(ctx, model.ID); aErr != nil {
			return nil, aErr
		}
		model.Active = true
	}
	return model, nil
}

func (s *calibrationService) Activate(ctx context.Context, id uuid.UUID) error {
	model, err := s.calibrationRepo.GetByID(ctx, nil, id)
	if err != nil {
		return err
	}
	if model == nil {
		return fmt.Errorf("calibration model %s not found", id)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if aErr := s.calibrationRepo.Activate(ctx, tx, id); aErr != nil {
			return aErr
		}
		s.auditService.Record(ctx, tx, "update", "calibration_model", id, map[string]string{"state": "activated"})
		return nil
	})
	if err != nil {
		return err
	}

	// Stale cache entries would quantitate against the old curve.
	if iErr := s.calibrationCache.Invalidate(ctx, model.MethodID, model.Analyte); iErr != nil {
		s.log.Warn("Failed to invalidate calibration cache", "method_id", model.MethodID, "analyte", model.Analyte, "error", iErr)
	}
	return nil
}

func (s *calibrationService) ListHistory(ctx context.Context, methodID uuid.UUID, analyte string) ([]*types.CalibrationModel, error) {
	return s.calibrationRepo.ListByMethodAnalyte(ctx, nil, methodID, analyte)
}

func (s *calibrationService) ActiveCurves(ctx context.Context, methodID uuid.UUID) (map[string]*calibration.CurveFit, error) {
	models, err := s.calibrationRepo.ListActiveByMethod(ctx, nil, methodID)
	if err != nil {
		return nil, err
	}

	curves := make(map[string]*calibration.CurveFit, len(models))
	for _, model := range models {
		cached, hit, cErr := s.calibrationCache.GetActive(ctx, methodID, model.Analyte)
		if cErr != nil {
			s.log.Warn("Calibration cache read failed", "analyte", model.Analyte, "error", cErr)
		}
		src := model
		if hit && cached.ID == model.ID {
			src = cached
		} else {
			if sErr := s.calibrationCache.SetActive(ctx, model); sErr != nil {
				s.log.Warn("Calibration cache write failed", "analyte", model.Analyte, "error", sErr)
			}
		}
		var fit calibration.CurveFit
		if uErr := json.Unmarshal(src.Curve, &fit); uErr != nil {
			return nil, fmt.Errorf("decode curve for %q: %w", model.Analyte, uErr)
		}
		curves[model.Analyte] = &fit
	}
	return curves, nil
}
