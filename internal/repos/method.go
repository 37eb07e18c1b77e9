package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veldtlab/chromalab-backend/internal/logger"
	"github.com/veldtlab/chromalab-backend/internal/types"
)

type MethodRepo interface {
	Create(ctx context.Context, tx *gorm.DB, method *types.Method) (*types.Method, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Method, error)
	List(ctx context.Context, tx *gorm.DB) ([]*types.Method, error)
	// UpdateParameters replaces the parameter document and bumps Version.
	UpdateParameters(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	SoftDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type methodRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMethodRepo(db *gorm.DB, baseLog *logger.Logger) MethodRepo {
	return &methodRepo{db: db, log: baseLog.With("repo", "MethodRepo")}
}

func (r *methodRepo) Create(ctx context.Context, tx *gorm.DB, method *types.Method) (*types.Method, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(method).Error; err != nil {
		return nil, err
	}
	return method, nil
}

func (r *methodRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Method, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var method types.Method
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&method).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &method, nil
}

func (r *methodRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.Method, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Method
	if err := transaction.WithContext(ctx).
		Order("name ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *methodRepo) UpdateParameters(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(updates) == 0 {
		return nil
	}
	updates["version"] = gorm.Expr("version + 1")
	return transaction.WithContext(ctx).
		Model(&types.Method{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *methodRepo) SoftDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.Method{}).Error
}
