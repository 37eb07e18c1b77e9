package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veldtlab/chromalab-backend/internal/analysis/qc"
	"github.com/veldtlab/chromalab-backend/internal/logger"
	"github.com/veldtlab/chromalab-backend/internal/repos"
	"github.com/veldtlab/chromalab-backend/internal/types"
	"github.com/veldtlab/chromalab-backend/internal/utils"
)

type QCService interface {
	UpsertTarget(ctx context.Context, target *types.QCTarget) (*types.QCTarget, error)
	ListTargets(ctx context.Context, methodID uuid.UUID) ([]*types.QCTarget, error)
	DeleteTarget(ctx context.Context, id uuid.UUID) error

	History(ctx context.Context, analyte string, methodID uuid.UUID, instrumentID *uuid.UUID, limit int) ([]*types.QCRecord, error)
	// Override marks a QC point as excluded from future rule windows.
	// Supervisor-level action; a reason is mandatory and audited.
	Override(ctx context.Context, id uuid.UUID, reason string) error

	// Policy is the standing rule set runs are evaluated against.
	Policy() qc.Policy
}

type qcService struct {
	db           *gorm.DB
	log          *logger.Logger
	qcTargetRepo repos.QCTargetRepo
	qcRecordRepo repos.QCRecordRepo
	auditService AuditService
	policy       qc.Policy
}

func NewQCService(
	db *gorm.DB,
	log *logger.Logger,
	qcTargetRepo repos.QCTargetRepo,
	qcRecordRepo repos.QCRecordRepo,
	auditService AuditService,
) (QCService, error) {
	serviceLog := log.With("service", "QCService")

	policyPath := utils.GetEnv("QC_POLICY_PATH", "", log)
	policy, err := qc.LoadPolicyFile(policyPath)
	if err != nil {
		return nil, fmt.Errorf("load qc policy: %w", err)
	}
	serviceLog.Info("QC policy loaded", "name", policy.Name, "rules", len(policy.Rules))

	return &qcService{
		db:           db,
		log:          serviceLog,
		qcTargetRepo: qcTargetRepo,
		qcRecordRepo: qcRecordRepo,
		auditService: auditService,
		policy:       policy,
	}, nil
}

func (s *qcService) UpsertTarget(ctx context.Context, target *types.QCTarget) (*types.QCTarget, error) {
	if target.Analyte == "" {
		return nil, fmt.Errorf("target analyte is required")
	}
	if target.MethodID == uuid.Nil {
		return nil, fmt.Errorf("target method id is required")
	}
	check := qc.Target{Analyte: target.Analyte, Mean: target.Mean, SD: target.SD}
	if err := check.Validate(); err != nil {
		return nil, err
	}

	var saved *types.QCTarget
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var uErr error
		saved, uErr = s.qcTargetRepo.Upsert(ctx, tx, target)
		if uErr != nil {
			return uErr
		}
		s.auditService.Record(ctx, tx, "update", "qc_target", saved.ID, map[string]any{
			"analyte": target.Analyte,
			"mean":    target.Mean,
			"sd":      target.SD,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *qcService) ListTargets(ctx context.Context, methodID uuid.UUID) ([]*types.QCTarget, error) {
	return s.qcTargetRepo.ListByMethod(ctx, nil, methodID)
}

func (s *qcService) DeleteTarget(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.qcTargetRepo.SoftDeleteByID(ctx, tx, id); err != nil {
			return err
		}
		s.auditService.Record(ctx, tx, "delete", "qc_target", id, nil)
		return nil
	})
}

func (s *qcService) History(ctx context.Context, analyte string, methodID uuid.UUID, instrumentID *uuid.UUID, limit int) ([]*types.QCRecord, error) {
	return s.qcRecordRepo.ListBySeries(ctx, nil, analyte, methodID, instrumentID, limit)
}

func (s *qcService) Override(ctx context.Context, id uuid.UUID, reason string) error {
	rec, err := s.qcRecordRepo.GetByID(ctx, nil, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("qc record %s not found", id)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if oErr := s.qcRecordRepo.Override(ctx, tx, id, reason); oErr != nil {
			return oErr
		}
		s.auditService.Record(ctx, tx, "override", "qc_record", id, map[string]string{"reason": reason})
		return nil
	})
}

func (s *qcService) Policy() qc.Policy {
	return s.policy
}
