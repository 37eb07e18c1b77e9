package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veldtlab/chromalab-backend/internal/logger"
	"github.com/veldtlab/chromalab-backend/internal/types"
)

type InstrumentRepo interface {
	Create(ctx context.Context, tx *gorm.DB, instrument *types.Instrument) (*types.Instrument, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Instrument, error)
	List(ctx context.Context, tx *gorm.DB) ([]*types.Instrument, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	SoftDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type instrumentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewInstrumentRepo(db *gorm.DB, baseLog *logger.Logger) InstrumentRepo {
	return &instrumentRepo{db: db, log: baseLog.With("repo", "InstrumentRepo")}
}

func (r *instrumentRepo) Create(ctx context.Context, tx *gorm.DB, instrument *types.Instrument) (*types.Instrument, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(instrument).Error; err != nil {
		return nil, err
	}
	return instrument, nil
}

func (r *instrumentRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Instrument, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var instrument types.Instrument
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&instrument).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &instrument, nil
}

func (r *instrumentRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.Instrument, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Instrument
	if err := transaction.WithContext(ctx).
		Order("name ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *instrumentRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(updates) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.Instrument{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *instrumentRepo) SoftDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.Instrument{}).Error
}
