package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veldtlab/chromalab-backend/internal/logger"
	"github.com/veldtlab/chromalab-backend/internal/types"
)

type SampleRepo interface {
	Create(ctx context.Context, tx *gorm.DB, sample *types.Sample) (*types.Sample, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Sample, error)
	List(ctx context.Context, tx *gorm.DB, kind string) ([]*types.Sample, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	SoftDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type sampleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSampleRepo(db *gorm.DB, baseLog *logger.Logger) SampleRepo {
	return &sampleRepo{db: db, log: baseLog.With("repo", "SampleRepo")}
}

func (r *sampleRepo) Create(ctx context.Context, tx *gorm.DB, sample *types.Sample) (*types.Sample, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(sample).Error; err != nil {
		return nil, err
	}
	return sample, nil
}

func (r *sampleRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Sample, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var sample types.Sample
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&sample).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sample, nil
}

func (r *sampleRepo) List(ctx context.Context, tx *gorm.DB, kind string) ([]*types.Sample, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Order("created_at DESC")
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var out []*types.Sample
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sampleRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(updates) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.Sample{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *sampleRepo) SoftDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.Sample{}).Error
}
