package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veldtlab/chromalab-backend/internal/logger"
	"github.com/veldtlab/chromalab-backend/internal/types"
)

type CalibrationModelRepo interface {
	Create(ctx context.Context, tx *gorm.DB, model *types.CalibrationModel) (*types.CalibrationModel, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.CalibrationModel, error)
	// GetActive returns the active model for one analyte of a method, or
	// nil when the analyte has never been calibrated.
	GetActive(ctx context.Context, tx *gorm.DB, methodID uuid.UUID, analyte string) (*types.CalibrationModel, error)
	ListActiveByMethod(ctx context.Context, tx *gorm.DB, methodID uuid.UUID) ([]*types.CalibrationModel, error)
	ListByMethodAnalyte(ctx context.Context, tx *gorm.DB, methodID uuid.UUID, analyte string) ([]*types.CalibrationModel, error)
	// Activate marks one model active and deactivates every sibling for
	// the same (method, analyte) pair in a single transaction.
	Activate(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type calibrationModelRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCalibrationModelRepo(db *gorm.DB, baseLog *logger.Logger) CalibrationModelRepo {
	return &calibrationModelRepo{db: db, log: baseLog.With("repo", "CalibrationModelRepo")}
}

func (r *calibrationModelRepo) Create(ctx context.Context, tx *gorm.DB, model *types.CalibrationModel) (*types.CalibrationModel, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(model).Error; err != nil {
		return nil, err
	}
	return model, nil
}

func (r *calibrationModelRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.CalibrationModel, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var model types.CalibrationModel
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &model, nil
}

func (r *calibrationModelRepo) GetActive(ctx context.Context, tx *gorm.DB, methodID uuid.UUID, analyte string) (*types.CalibrationModel, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var model types.CalibrationModel
	err := transaction.WithContext(ctx).
		Where("method_id = ? AND analyte = ? AND active = ?", methodID, analyte, true).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &model, nil
}

func (r *calibrationModelRepo) ListActiveByMethod(ctx context.Context, tx *gorm.DB, methodID uuid.UUID) ([]*types.CalibrationModel, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.CalibrationModel
	if err := transaction.WithContext(ctx).
		Where("method_id = ? AND active = ?", methodID, true).
		Order("analyte ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *calibrationModelRepo) ListByMethodAnalyte(ctx context.Context, tx *gorm.DB, methodID uuid.UUID, analyte string) ([]*types.CalibrationModel, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.CalibrationModel
	if err := transaction.WithContext(ctx).
		Where("method_id = ? AND analyte = ?", methodID, analyte).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *calibrationModelRepo) Activate(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var model types.CalibrationModel
		if err := txx.Where("id = ?", id).First(&model).Error; err != nil {
			return err
		}
		if err := txx.Model(&types.CalibrationModel{}).
			Where("method_id = ? AND analyte = ? AND id <> ?", model.MethodID, model.Analyte, id).
			Update("active", false).Error; err != nil {
			return err
		}
		return txx.Model(&types.CalibrationModel{}).
			Where("id = ?", id).
			Update("active", true).Error
	})
}
