package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veldtlab/chromalab-backend/internal/logger"
	"github.com/veldtlab/chromalab-backend/internal/types"
)

// RunFilter narrows ListRuns. Zero values mean "no constraint".
type RunFilter struct {
	MethodID     uuid.UUID
	SampleID     uuid.UUID
	InstrumentID uuid.UUID
	Status       string
	Limit        int
	Offset       int
}

type AnalysisRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, run *types.AnalysisRun) (*types.AnalysisRun, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AnalysisRun, error)
	List(ctx context.Context, tx *gorm.DB, filter RunFilter) ([]*types.AnalysisRun, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type analysisRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnalysisRunRepo(db *gorm.DB, baseLog *logger.Logger) AnalysisRunRepo {
	return &analysisRunRepo{db: db, log: baseLog.With("repo", "AnalysisRunRepo")}
}

func (r *analysisRunRepo) Create(ctx context.Context, tx *gorm.DB, run *types.AnalysisRun) (*types.AnalysisRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (r *analysisRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AnalysisRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var run types.AnalysisRun
	err := transaction.WithContext(ctx).
		Preload("Method").
		Preload("Sample").
		Preload("Instrument").
		Where("id = ?", id).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *analysisRunRepo) List(ctx context.Context, tx *gorm.DB, filter RunFilter) ([]*types.AnalysisRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Order("created_at DESC")
	if filter.MethodID != uuid.Nil {
		q = q.Where("method_id = ?", filter.MethodID)
	}
	if filter.SampleID != uuid.Nil {
		q = q.Where("sample_id = ?", filter.SampleID)
	}
	if filter.InstrumentID != uuid.Nil {
		q = q.Where("instrument_id = ?", filter.InstrumentID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	var out []*types.AnalysisRun
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *analysisRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(updates) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.AnalysisRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}
