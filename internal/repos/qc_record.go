package repos

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veldtlab/chromalab-backend/internal/analysis/qc"
	"github.com/veldtlab/chromalab-backend/internal/logger"
	"github.com/veldtlab/chromalab-backend/internal/types"
)

type QCRecordRepo interface {
	// LockSeries serializes one control-chart series for the rest of the
	// transaction. Callers take the lock before reading the trailing
	// window so evaluate-then-append sequences cannot interleave.
	LockSeries(ctx context.Context, tx *gorm.DB, analyte string, methodID uuid.UUID, instrumentID *uuid.UUID) error
	Append(ctx context.Context, tx *gorm.DB, records []*types.QCRecord) ([]*types.QCRecord, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.QCRecord, error)
	ListBySeries(ctx context.Context, tx *gorm.DB, analyte string, methodID uuid.UUID, instrumentID *uuid.UUID, limit int) ([]*types.QCRecord, error)
	Override(ctx context.Context, tx *gorm.DB, id uuid.UUID, reason string) error

	// RecentZScores satisfies qc.History for rule evaluation. Scores come
	// back oldest first, excluding overridden points.
	RecentZScores(key qc.SeriesKey, n int) ([]float64, error)

	// HistoryIn binds qc.History to an open transaction, so an evaluation
	// holding series locks reads the window through the same transaction
	// it will append in.
	HistoryIn(tx *gorm.DB) qc.History
}

type qcRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQCRecordRepo(db *gorm.DB, baseLog *logger.Logger) QCRecordRepo {
	return &qcRecordRepo{db: db, log: baseLog.With("repo", "QCRecordRepo")}
}

func seriesLockKey(analyte string, methodID uuid.UUID, instrumentID *uuid.UUID) int64 {
	h := fnv.New64a()
	h.Write([]byte(analyte))
	h.Write([]byte{0})
	h.Write([]byte(methodID.String()))
	if instrumentID != nil {
		h.Write([]byte{0})
		h.Write([]byte(instrumentID.String()))
	}
	return int64(h.Sum64())
}

func (r *qcRecordRepo) LockSeries(ctx context.Context, tx *gorm.DB, analyte string, methodID uuid.UUID, instrumentID *uuid.UUID) error {
	if tx == nil {
		return fmt.Errorf("series lock requires an open transaction")
	}
	// Advisory locks are Postgres-only; the SQLite used in tests
	// serializes writers on its own.
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	key := seriesLockKey(analyte, methodID, instrumentID)
	if err := tx.WithContext(ctx).Exec(`SELECT pg_advisory_xact_lock(?)`, key).Error; err != nil {
		return fmt.Errorf("acquire series lock: %w", err)
	}
	return nil
}

func (r *qcRecordRepo) Append(ctx context.Context, tx *gorm.DB, records []*types.QCRecord) ([]*types.QCRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(records) == 0 {
		return []*types.QCRecord{}, nil
	}
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		// Re-entrant when the caller already holds the series locks.
		for _, rec := range records {
			if lErr := r.LockSeries(ctx, txx, rec.Analyte, rec.MethodID, rec.InstrumentID); lErr != nil {
				return lErr
			}
		}
		return txx.Create(&records).Error
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *qcRecordRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.QCRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rec types.QCRecord
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *qcRecordRepo) ListBySeries(ctx context.Context, tx *gorm.DB, analyte string, methodID uuid.UUID, instrumentID *uuid.UUID, limit int) ([]*types.QCRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).
		Where("analyte = ? AND method_id = ?", analyte, methodID).
		Order("created_at DESC")
	if instrumentID != nil {
		q = q.Where("instrument_id = ?", *instrumentID)
	} else {
		q = q.Where("instrument_id IS NULL")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.QCRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *qcRecordRepo) Override(ctx context.Context, tx *gorm.DB, id uuid.UUID, reason string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if reason == "" {
		return fmt.Errorf("override requires a reason")
	}
	return transaction.WithContext(ctx).
		Model(&types.QCRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"overridden":      true,
			"override_reason": reason,
		}).Error
}

func (r *qcRecordRepo) RecentZScores(key qc.SeriesKey, n int) ([]float64, error) {
	return r.recentZScores(r.db, key, n)
}

func (r *qcRecordRepo) HistoryIn(tx *gorm.DB) qc.History {
	if tx == nil {
		return r
	}
	return &txHistory{repo: r, tx: tx}
}

type txHistory struct {
	repo *qcRecordRepo
	tx   *gorm.DB
}

func (h *txHistory) RecentZScores(key qc.SeriesKey, n int) ([]float64, error) {
	return h.repo.recentZScores(h.tx, key, n)
}

func (r *qcRecordRepo) recentZScores(db *gorm.DB, key qc.SeriesKey, n int) ([]float64, error) {
	methodID, err := uuid.Parse(key.MethodID)
	if err != nil {
		return nil, fmt.Errorf("qc series method id: %w", err)
	}
	var instrumentID *uuid.UUID
	if key.InstrumentID != "" {
		id, err := uuid.Parse(key.InstrumentID)
		if err != nil {
			return nil, fmt.Errorf("qc series instrument id: %w", err)
		}
		instrumentID = &id
	}

	q := db.
		Model(&types.QCRecord{}).
		Where("analyte = ? AND method_id = ? AND overridden = ?", key.Analyte, methodID, false).
		Order("created_at DESC")
	if instrumentID != nil {
		q = q.Where("instrument_id = ?", *instrumentID)
	} else {
		q = q.Where("instrument_id IS NULL")
	}
	if n > 0 {
		q = q.Limit(n)
	}
	var zscores []float64
	if err := q.Pluck("zscore", &zscores).Error; err != nil {
		return nil, err
	}
	// Newest-first from the query, oldest-first for rule windows.
	for i, j := 0, len(zscores)-1; i < j; i, j = i+1, j-1 {
		zscores[i], zscores[j] = zscores[j], zscores[i]
	}
	return zscores, nil
}
