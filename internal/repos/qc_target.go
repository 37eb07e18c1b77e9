package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/veldtlab/chromalab-backend/internal/logger"
	"github.com/veldtlab/chromalab-backend/internal/types"
)

type QCTargetRepo interface {
	// Upsert inserts or replaces the target for its (analyte, method,
	// instrument) series.
	Upsert(ctx context.Context, tx *gorm.DB, target *types.QCTarget) (*types.QCTarget, error)
	GetBySeries(ctx context.Context, tx *gorm.DB, analyte string, methodID uuid.UUID, instrumentID *uuid.UUID) (*types.QCTarget, error)
	ListByMethod(ctx context.Context, tx *gorm.DB, methodID uuid.UUID) ([]*types.QCTarget, error)
	SoftDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type qcTargetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQCTargetRepo(db *gorm.DB, baseLog *logger.Logger) QCTargetRepo {
	return &qcTargetRepo{db: db, log: baseLog.With("repo", "QCTargetRepo")}
}

func (r *qcTargetRepo) Upsert(ctx context.Context, tx *gorm.DB, target *types.QCTarget) (*types.QCTarget, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "analyte"}, {Name: "method_id"}, {Name: "instrument_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"mean", "sd", "updated_at"}),
		}).
		Create(target).Error; err != nil {
		return nil, err
	}
	return target, nil
}

func (r *qcTargetRepo) GetBySeries(ctx context.Context, tx *gorm.DB, analyte string, methodID uuid.UUID, instrumentID *uuid.UUID) (*types.QCTarget, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).
		Where("analyte = ? AND method_id = ?", analyte, methodID)
	if instrumentID != nil {
		q = q.Where("instrument_id = ?", *instrumentID)
	} else {
		q = q.Where("instrument_id IS NULL")
	}
	var target types.QCTarget
	err := q.First(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &target, nil
}

func (r *qcTargetRepo) ListByMethod(ctx context.Context, tx *gorm.DB, methodID uuid.UUID) ([]*types.QCTarget, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.QCTarget
	if err := transaction.WithContext(ctx).
		Where("method_id = ?", methodID).
		Order("analyte ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *qcTargetRepo) SoftDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.QCTarget{}).Error
}
