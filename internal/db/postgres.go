package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/veldtlab/chromalab-backend/internal/logger"
	"github.com/veldtlab/chromalab-backend/internal/types"
	"github.com/veldtlab/chromalab-backend/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := utils.GetEnv("POSTGRES_NAME", "chromalab", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	log.Info("Connecting to Postgres...")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		log.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("Failed to connect to Postgres: %w", err)
	}

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		log.Error("Failed to enable uuid-ossp extension", "error", err)
		return nil, fmt.Errorf("Failed to enable uuid-ossp extension: %w", err)
	}

	return &PostgresService{db: db, log: serviceLog}, nil
}

func (s *PostgresService) DB() *gorm.DB { return s.db }

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := EnsureIndexes(s.db); err != nil {
		s.log.Error("Index migration failed", "error", err)
		return err
	}
	return nil
}

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(

		// Identity + auth
		&types.User{},
		&types.UserToken{},

		// Lab inventory
		&types.Instrument{},
		&types.Method{},
		&types.Sample{},

		// Acquisition + quantitation
		&types.AnalysisRun{},
		&types.CalibrationModel{},

		// Quality control
		&types.QCTarget{},
		&types.QCRecord{},

		// Audit trail
		&types.AuditEvent{},
	)
}

func EnsureIndexes(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_calibration_model_active
		ON calibration_model (method_id, analyte)
		WHERE active AND deleted_at IS NULL;
	`).Error; err != nil {
		return fmt.Errorf("create idx_calibration_model_active: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_qc_record_series
		ON qc_record (analyte, method_id, instrument_id, created_at DESC);
	`).Error; err != nil {
		return fmt.Errorf("create idx_qc_record_series: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_analysis_run_method_created
		ON analysis_run (method_id, created_at DESC);
	`).Error; err != nil {
		return fmt.Errorf("create idx_analysis_run_method_created: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_audit_event_entity
		ON audit_event (entity_type, entity_id, created_at DESC);
	`).Error; err != nil {
		return fmt.Errorf("create idx_audit_event_entity: %w", err)
	}
	return nil
}
