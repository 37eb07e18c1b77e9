package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/veldtlab/chromalab-backend/internal/logger"
	"github.com/veldtlab/chromalab-backend/internal/types"
)

// CalibrationCache is a read-through cache for active calibration
// models, keyed per (method, analyte). Quantitation hits this on every
// run, so a short TTL keeps activation latency bounded without
// hammering Postgres.
type CalibrationCache interface {
	GetActive(ctx context.Context, methodID uuid.UUID, analyte string) (*types.CalibrationModel, bool, error)
	SetActive(ctx context.Context, model *types.CalibrationModel) error
	Invalidate(ctx context.Context, methodID uuid.UUID, analyte string) error
	Close() error
}

type redisCalibrationCache struct {
	log *logger.Logger
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCalibrationCache(log *logger.Logger) (CalibrationCache, error) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisCalibrationCache{
		log: log.With("service", "CalibrationCache"),
		rdb: rdb,
		ttl: 10 * time.Minute,
	}, nil
}

func calibrationKey(methodID uuid.UUID, analyte string) string {
	return fmt.Sprintf("calibration:active:%s:%s", methodID, analyte)
}

func (c *redisCalibrationCache) GetActive(ctx context.Context, methodID uuid.UUID, analyte string) (*types.CalibrationModel, bool, error) {
	raw, err := c.rdb.Get(ctx, calibrationKey(methodID, analyte)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var model types.CalibrationModel
	if err := json.Unmarshal(raw, &model); err != nil {
		// Corrupt entry: drop it and fall through to the DB.
		c.log.Warn("Dropping unreadable cache entry", "method_id", methodID, "analyte", analyte, "error", err)
		_ = c.rdb.Del(ctx, calibrationKey(methodID, analyte)).Err()
		return nil, false, nil
	}
	return &model, true, nil
}

func (c *redisCalibrationCache) SetActive(ctx context.Context, model *types.CalibrationModel) error {
	raw, err := json.Marshal(model)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, calibrationKey(model.MethodID, model.Analyte), raw, c.ttl).Err()
}

func (c *redisCalibrationCache) Invalidate(ctx context.Context, methodID uuid.UUID, analyte string) error {
	return c.rdb.Del(ctx, calibrationKey(methodID, analyte)).Err()
}

func (c *redisCalibrationCache) Close() error {
	return c.rdb.Close()
}

// NoopCalibrationCache is used when REDIS_ADDR is unset (local dev,
// tests). Every lookup misses.
type NoopCalibrationCache struct{}

func (NoopCalibrationCache) GetActive(ctx context.Context, methodID uuid.UUID, analyte string) (*types.CalibrationModel, bool, error) {
	return nil, false, nil
}
func (NoopCalibrationCache) SetActive(ctx context.Context, model *types.CalibrationModel) error {
	return nil
}
func (NoopCalibrationCache) Invalidate(ctx context.Context, methodID uuid.UUID, analyte string) error {
	return nil
}
func (NoopCalibrationCache) Close() error { return nil }
