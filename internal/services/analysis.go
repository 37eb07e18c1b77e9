package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veldtlab/chromalab-backend/internal/analysis"
	"github.com/veldtlab/chromalab-backend/internal/analysis/calibration"
	"github.com/veldtlab/chromalab-backend/internal/analysis/peaks"
	"github.com/veldtlab/chromalab-backend/internal/analysis/qc"
	"github.com/veldtlab/chromalab-backend/internal/analysis/simulate"
	"github.com/veldtlab/chromalab-backend/internal/logger"
	"github.com/veldtlab/chromalab-backend/internal/render"
	"github.com/veldtlab/chromalab-backend/internal/repos"
	"github.com/veldtlab/chromalab-backend/internal/requestdata"
	"github.com/veldtlab/chromalab-backend/internal/types"
)

// StartRunRequest describes one injection. A nil seed lets the
// simulator draw one; it is echoed on the stored run for replay.
type StartRunRequest struct {
	MethodID     uuid.UUID `json:"method_id"`
	SampleID     uuid.UUID `json:"sample_id"`
	InstrumentID uuid.UUID `json:"instrument_id"`
	Seed         *uint64   `json:"seed,omitempty"`
}

// RunArtifacts is the full in-memory result of a run; the stored
// AnalysisRun row keeps everything except the raw traces.
type RunArtifacts struct {
	Run           *types.AnalysisRun     `json:"run"`
	Chromatograms []simulate.Chromatogram `json:"chromatograms"`
	Peaks         map[string][]peaks.Peak `json:"peaks"`
	Quant         *calibration.QuantResult `json:"quant,omitempty"`
	QCRecord      *qc.Record              `json:"qc_record,omitempty"`
}

type AnalysisService interface {
	StartRun(ctx context.Context, req StartRunRequest) (*RunArtifacts, error)
	GetRun(ctx context.Context, id uuid.UUID) (*types.AnalysisRun, error)
	ListRuns(ctx context.Context, filter repos.RunFilter) ([]*types.AnalysisRun, error)
	// RenderRun replays the stored seed and draws the named detector
	// trace as a PNG.
	RenderRun(ctx context.Context, id uuid.UUID, detectorName string) (bytes.Buffer, error)
}

type analysisService struct {
	db                 *gorm.DB
	log                *logger.Logger
	methodService      MethodService
	sampleService      SampleService
	instrumentRepo     repos.InstrumentRepo
	runRepo            repos.AnalysisRunRepo
	qcRecordRepo       repos.QCRecordRepo
	qcService          QCService
	calibrationService CalibrationService
	auditService       AuditService
	renderer           *render.Renderer
}

func NewAnalysisService(
	db *gorm.DB,
	log *logger.Logger,
	methodService MethodService,
	sampleService SampleService,
	instrumentRepo repos.InstrumentRepo,
	runRepo repos.AnalysisRunRepo,
	qcRecordRepo repos.QCRecordRepo,
	qcService QCService,
	calibrationService CalibrationService,
	auditService AuditService,
	renderer *render.Renderer,
) AnalysisService {
	return &analysisService{
		db:                 db,
		log:                log.With("service", "AnalysisService"),
		methodService:      methodService,
		sampleService:      sampleService,
		instrumentRepo:     instrumentRepo,
		runRepo:            runRepo,
		qcRecordRepo:       qcRecordRepo,
		qcService:          qcService,
		calibrationService: calibrationService,
		auditService:       auditService,
		renderer:           renderer,
	}
}

func (s *analysisService) StartRun(ctx context.Context, req StartRunRequest) (*RunArtifacts, error) {
	method, params, err := s.loadMethod(ctx, req.MethodID)
	if err != nil {
		return nil, err
	}
	sample, err := s.sampleService.Get(ctx, req.SampleID)
	if err != nil {
		return nil, err
	}
	profile, err := s.sampleService.Profile(sample)
	if err != nil {
		return nil, err
	}
	instrument, err := s.instrumentRepo.GetByID(ctx, nil, req.InstrumentID)
	if err != nil {
		return nil, err
	}
	if instrument == nil {
		return nil, fmt.Errorf("instrument %s not found", req.InstrumentID)
	}
	if instrument.Status != "online" {
		return nil, fmt.Errorf("instrument %q is %s", instrument.Name, instrument.Status)
	}

	result, err := simulate.Run(params, profile, simulate.Options{
		Seed:                 req.Seed,
		IncludeNoise:         true,
		IncludeBaselineDrift: true,
	})
	if err != nil {
		return nil, err
	}

	detectedByDetector := make(map[string][]peaks.Peak, len(result.Chromatograms))
	for _, ch := range result.Chromatograms {
		detected, dErr := peaks.Detect(ch.TimeMin, ch.Signal, peaks.Options{})
		if dErr != nil {
			return nil, fmt.Errorf("peak detection on %q: %w", ch.Detector.Name, dErr)
		}
		detectedByDetector[ch.Detector.Name] = detected
	}

	artifacts := &RunArtifacts{
		Chromatograms: result.Chromatograms,
		Peaks:         detectedByDetector,
	}

	// Quantitate on the primary detector when the method has active
	// calibrations; runs without calibration still store raw peaks.
	var quant *calibration.QuantResult
	curves, err := s.calibrationService.ActiveCurves(ctx, method.ID)
	if err != nil {
		return nil, err
	}
	if len(curves) > 0 && len(result.Chromatograms) > 0 {
		primary := result.Chromatograms[0]
		mapping := buildMapping(primary.GroundTruth, profile)
		quant, err = calibration.Quantitate(detectedByDetector[primary.Detector.Name], curves, mapping)
		if err != nil {
			return nil, err
		}
		artifacts.Quant = quant
	}

	run := &types.AnalysisRun{
		MethodID:       method.ID,
		SampleID:       sample.ID,
		InstrumentID:   instrument.ID,
		Status:         "completed",
		Seed:           int64(result.Seed),
		RunDurationMin: result.KPIs.TotalRunMin,
	}
	if rd := requestdata.GetRequestData(ctx); rd != nil {
		run.StartedBy = rd.UserID
	}
	if run.KPIs, err = json.Marshal(result.KPIs); err != nil {
		return nil, fmt.Errorf("marshal kpis: %w", err)
	}
	if run.Peaks, err = json.Marshal(detectedByDetector); err != nil {
		return nil, fmt.Errorf("marshal peaks: %w", err)
	}
	if len(result.Warnings) > 0 {
		if run.Warnings, err = json.Marshal(result.Warnings); err != nil {
			return nil, fmt.Errorf("marshal warnings: %w", err)
		}
	}
	if quant != nil {
		if run.QuantResults, err = json.Marshal(quant); err != nil {
			return nil, fmt.Errorf("marshal quant results: %w", err)
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, cErr := s.runRepo.Create(ctx, tx, run); cErr != nil {
			return cErr
		}
		s.auditService.Record(ctx, tx, "run", "analysis_run", run.ID, map[string]any{
			"method_id": method.ID,
			"sample_id": sample.ID,
			"seed":      result.Seed,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// QC samples feed the control charts after the run row exists, so
	// the record can reference it.
	if sample.Kind == "qc" && quant != nil {
		qcRecord, qErr := s.evaluateQC(ctx, run, method.ID, instrument.ID, quant)
		if qErr != nil {
			return nil, qErr
		}
		artifacts.QCRecord = qcRecord
	}

	artifacts.Run = run
	return artifacts, nil
}

func (s *analysisService) evaluateQC(ctx context.Context, run *types.AnalysisRun, methodID, instrumentID uuid.UUID, quant *calibration.QuantResult) (*qc.Record, error) {
	targets, err := s.qcService.ListTargets(ctx, methodID)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, nil
	}

	qcTargets := make([]qc.Target, 0, len(targets))
	for _, t := range targets {
		if t.InstrumentID != nil && *t.InstrumentID != instrumentID {
			continue
		}
		key := qc.SeriesKey{Analyte: t.Analyte, MethodID: methodID.String()}
		if t.InstrumentID != nil {
			key.InstrumentID = t.InstrumentID.String()
		}
		qcTargets = append(qcTargets, qc.Target{
			Analyte:      t.Analyte,
			MethodID:     key.MethodID,
			InstrumentID: key.InstrumentID,
			Mean:         t.Mean,
			SD:           t.SD,
		})
	}
	if len(qcTargets) == 0 {
		return nil, nil
	}

	var inputs []qc.Input
	for _, res := range quant.Results {
		if res.Concentration == nil {
			continue
		}
		inputs = append(inputs, qc.Input{Analyte: res.Analyte, Value: *res.Concentration})
	}
	if len(inputs) == 0 {
		return nil, nil
	}

	// Evaluation and append happen inside one transaction holding every
	// involved series lock: the trailing window a windowed rule reads
	// cannot change between the read and this run's append. Locks are
	// taken in a deterministic order.
	sort.Slice(qcTargets, func(i, j int) bool {
		if qcTargets[i].Analyte != qcTargets[j].Analyte {
			return qcTargets[i].Analyte < qcTargets[j].Analyte
		}
		return qcTargets[i].InstrumentID < qcTargets[j].InstrumentID
	})

	var record *qc.Record
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, t := range qcTargets {
			var lockInstrument *uuid.UUID
			if t.InstrumentID != "" {
				id := instrumentID
				lockInstrument = &id
			}
			if lErr := s.qcRecordRepo.LockSeries(ctx, tx, t.Analyte, methodID, lockInstrument); lErr != nil {
				return lErr
			}
		}

		var eErr error
		record, eErr = qc.Evaluate(run.ID.String(), inputs, qcTargets, s.qcService.Policy(), s.qcRecordRepo.HistoryIn(tx))
		if eErr != nil {
			return eErr
		}

		rows := make([]*types.QCRecord, 0, len(record.Results))
		for _, point := range record.Results {
			var hits []qc.RuleHit
			for _, h := range record.RuleHits {
				if h.Analyte == point.Analyte {
					hits = append(hits, h)
				}
			}
			row := &types.QCRecord{
				RunID:         run.ID,
				Analyte:       point.Analyte,
				MethodID:      methodID,
				Value:         point.Value,
				ZScore:        point.ZScore,
				OverallStatus: string(record.Overall),
			}
			for _, t := range qcTargets {
				if t.Analyte == point.Analyte && t.InstrumentID != "" {
					id := instrumentID
					row.InstrumentID = &id
				}
			}
			if len(hits) > 0 {
				raw, mErr := json.Marshal(hits)
				if mErr != nil {
					return fmt.Errorf("marshal rule hits: %w", mErr)
				}
				row.RuleHits = raw
			}
			rows = append(rows, row)
		}

		saved, aErr := s.qcRecordRepo.Append(ctx, tx, rows)
		if aErr != nil {
			return aErr
		}
		if len(saved) > 0 {
			if uErr := s.runRepo.UpdateFields(ctx, tx, run.ID, map[string]interface{}{"qc_record_id": saved[0].ID}); uErr != nil {
				return uErr
			}
			run.QCRecordID = &saved[0].ID
		}
		if record.Overall != qc.StatusPass {
			s.auditService.Record(ctx, tx, "run", "qc_record", saved[0].ID, map[string]any{
				"status": record.Overall,
				"hits":   record.RuleHits,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *analysisService) GetRun(ctx context.Context, id uuid.UUID) (*types.AnalysisRun, error) {
	run, err := s.runRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("run %s not found", id)
	}
	return run, nil
}

func (s *analysisService) ListRuns(ctx context.Context, filter repos.RunFilter) ([]*types.AnalysisRun, error) {
	return s.runRepo.List(ctx, nil, filter)
}

func (s *analysisService) RenderRun(ctx context.Context, id uuid.UUID, detectorName string) (bytes.Buffer, error) {
	var buf bytes.Buffer

	run, err := s.GetRun(ctx, id)
	if err != nil {
		return buf, err
	}
	if run.Sample == nil || run.Method == nil {
		return buf, fmt.Errorf("run %s is missing its method or sample", id)
	}
	params, err := s.methodService.Parameters(run.Method)
	if err != nil {
		return buf, err
	}
	profile, err := s.sampleService.Profile(run.Sample)
	if err != nil {
		return buf, err
	}

	// Replay with the stored seed: traces are bit-identical to the
	// original acquisition.
	seed := uint64(run.Seed)
	result, err := simulate.Run(params, profile, simulate.Options{
		Seed:                 &seed,
		IncludeNoise:         true,
		IncludeBaselineDrift: true,
	})
	if err != nil {
		return buf, err
	}

	for _, ch := range result.Chromatograms {
		if detectorName != "" && ch.Detector.Name != detectorName {
			continue
		}
		detected, dErr := peaks.Detect(ch.TimeMin, ch.Signal, peaks.Options{})
		if dErr != nil {
			return buf, dErr
		}
		return s.renderer.Chromatogram(ch, detected, render.Options{
			Title:       fmt.Sprintf("%s / %s", run.Sample.Name, ch.Detector.Name),
			MarkPeaks:   true,
			LabelApexes: true,
		})
	}
	return buf, fmt.Errorf("run %s has no detector %q", id, detectorName)
}

func (s *analysisService) loadMethod(ctx context.Context, id uuid.UUID) (*types.Method, analysis.MethodParameters, error) {
	var params analysis.MethodParameters
	method, err := s.methodService.Get(ctx, id)
	if err != nil {
		return nil, params, err
	}
	params, err = s.methodService.Parameters(method)
	if err != nil {
		return nil, params, err
	}
	return method, params, nil
}

// buildMapping derives the retention-time windows for quantitation from
// the run's own ground-truth elutions.
func buildMapping(groundTruth []simulate.GroundTruthPeak, profile analysis.SampleProfile) []calibration.MappingEntry {
	istd := map[string]float64{}
	var istdConc float64
	for _, a := range profile.Analytes {
		if a.InternalStandard {
			istd[a.Name] = a.ConcentrationPPM
			istdConc = a.ConcentrationPPM
		}
	}
	entries := make([]calibration.MappingEntry, 0, len(groundTruth))
	for _, gt := range groundTruth {
		entry := calibration.MappingEntry{
			Analyte:    gt.Analyte,
			ExpectedRT: gt.RetentionMin,
			// Window scales with the peak's own width so narrow early peaks
			// do not capture neighbors.
			ToleranceMin: 3 * gt.WidthHalfHeight,
		}
		if conc, ok := istd[gt.Analyte]; ok {
			entry.IsIstd = true
			entry.IstdConc = conc
		} else {
			// The known ISTD concentration scales ratio-domain inversions for
			// every other analyte when its model is ISTD-calibrated.
			entry.IstdConc = istdConc
		}
		entries = append(entries, entry)
	}
	return entries
}
