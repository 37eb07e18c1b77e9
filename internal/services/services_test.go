package services

import (
	"bytes"
	"context"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/veldtlab/chromalab-backend/internal/analysis"
	"github.com/veldtlab/chromalab-backend/internal/analysis/calibration"
	"github.com/veldtlab/chromalab-backend/internal/analysis/qc"
	"github.com/veldtlab/chromalab-backend/internal/cache"
	"github.com/veldtlab/chromalab-backend/internal/db"
	"github.com/veldtlab/chromalab-backend/internal/logger"
	"github.com/veldtlab/chromalab-backend/internal/render"
	"github.com/veldtlab/chromalab-backend/internal/repos"
	"github.com/veldtlab/chromalab-backend/internal/types"
)

// testEnv wires the full service stack against an in-memory database,
// mirroring the composition in cmd/main.go.
type testEnv struct {
	db                 *gorm.DB
	analysisService    AnalysisService
	methodService      MethodService
	sampleService      SampleService
	instrumentService  InstrumentService
	calibrationService CalibrationService
	qcService          QCService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("QC_POLICY_PATH", "")

	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	gdb, err := db.NewSQLiteInMemory()
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	renderer, err := render.NewRenderer(log)
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}

	instrumentRepo := repos.NewInstrumentRepo(gdb, log)
	methodRepo := repos.NewMethodRepo(gdb, log)
	sampleRepo := repos.NewSampleRepo(gdb, log)
	runRepo := repos.NewAnalysisRunRepo(gdb, log)
	calibrationRepo := repos.NewCalibrationModelRepo(gdb, log)
	qcTargetRepo := repos.NewQCTargetRepo(gdb, log)
	qcRecordRepo := repos.NewQCRecordRepo(gdb, log)
	auditRepo := repos.NewAuditEventRepo(gdb, log)

	auditService := NewAuditService(log, auditRepo)
	instrumentService := NewInstrumentService(gdb, log, instrumentRepo, auditService)
	methodService := NewMethodService(gdb, log, methodRepo, auditService)
	sampleService := NewSampleService(gdb, log, sampleRepo, auditService)
	calibrationService := NewCalibrationService(gdb, log, calibrationRepo, cache.NoopCalibrationCache{}, auditService)
	qcService, err := NewQCService(gdb, log, qcTargetRepo, qcRecordRepo, auditService)
	if err != nil {
		t.Fatalf("qc service: %v", err)
	}
	analysisService := NewAnalysisService(
		gdb, log,
		methodService, sampleService,
		instrumentRepo, runRepo, qcRecordRepo,
		qcService, calibrationService, auditService,
		renderer,
	)

	return &testEnv{
		db:                 gdb,
		analysisService:    analysisService,
		methodService:      methodService,
		sampleService:      sampleService,
		instrumentService:  instrumentService,
		calibrationService: calibrationService,
		qcService:          qcService,
	}
}

func gcParams() analysis.MethodParameters {
	return analysis.MethodParameters{
		Columns: []analysis.ColumnSpec{{
			Name:          "HP-5",
			LengthM:       30,
			PlateCount:    80000,
			HoldupTimeMin: 1.0,
		}},
		Detectors: []analysis.DetectorSpec{
			{Kind: analysis.DetectorFID, Name: "front"},
		},
		OvenProgram: []analysis.OvenStep{
			{TargetTempC: 40, HoldMin: 2},
			{TargetTempC: 200, RampCPerMin: 20, HoldMin: 4},
		},
		SamplingHz: 5,
	}
}

func gcProfile() analysis.SampleProfile {
	return analysis.SampleProfile{
		Name: "std-mix",
		Analytes: []analysis.AnalyteSpec{
			{Name: "hexane", ConcentrationPPM: 50, RetentionFactor: 1.8, DiffusionCoefficient: 1.2, ResponseFactor: 1.0},
			{Name: "octane", ConcentrationPPM: 25, RetentionFactor: 4.5, DiffusionCoefficient: 0.9, ResponseFactor: 1.1},
		},
	}
}

// The shared-cache database persists across tests, so every seeded
// entity gets a unique name.
func uniqueName(prefix string) string {
	return prefix + "-" + strings.Split(uuid.NewString(), "-")[0]
}

func seedBench(t *testing.T, env *testEnv, sampleKind, instrumentStatus string) (method *types.Method, sample *types.Sample, instrument *types.Instrument) {
	t.Helper()
	ctx := context.Background()

	method, err := env.methodService.Create(ctx, uniqueName("light-ends"), "simulated distillation", gcParams())
	if err != nil {
		t.Fatalf("create method: %v", err)
	}
	sample, err = env.sampleService.Create(ctx, uniqueName("std-mix"), sampleKind, gcProfile())
	if err != nil {
		t.Fatalf("create sample: %v", err)
	}
	instrument, err = env.instrumentService.Create(ctx, &types.Instrument{
		Name:      uniqueName("gc"),
		Model:     "8890",
		Detectors: datatypes.JSON([]byte(`[{"kind":"FID","name":"front"}]`)),
		Status:    instrumentStatus,
	})
	if err != nil {
		t.Fatalf("create instrument: %v", err)
	}
	return method, sample, instrument
}

// Slope-one through-origin curve: quantitated concentration equals the
// detected area, which keeps assertions independent of detector gain.
func activateIdentityCurve(t *testing.T, env *testEnv, methodID uuid.UUID, analyte string) {
	t.Helper()
	_, err := env.calibrationService.Fit(context.Background(), FitRequest{
		MethodID:  methodID,
		Analyte:   analyte,
		FitType:   calibration.FitLinearThroughOrigin,
		Weighting: calibration.WeightNone,
		Mode:      calibration.ModeExternal,
		Points: []calibration.StandardPoint{
			{Concentration: 1, Response: 1},
			{Concentration: 10, Response: 10},
			{Concentration: 100, Response: 100},
			{Concentration: 1000, Response: 1000},
		},
		Activate: true,
	})
	if err != nil {
		t.Fatalf("fit %s: %v", analyte, err)
	}
}

func TestStartRunWithoutCalibrationStoresRawPeaks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	method, sample, instrument := seedBench(t, env, "standard", "online")

	seed := uint64(7)
	artifacts, err := env.analysisService.StartRun(ctx, StartRunRequest{
		MethodID:     method.ID,
		SampleID:     sample.ID,
		InstrumentID: instrument.ID,
		Seed:         &seed,
	})
	if err != nil {
		t.Fatalf("start run: %v", err)
	}

	if artifacts.Quant != nil {
		t.Fatalf("expected no quantitation without an active calibration")
	}
	if got := len(artifacts.Peaks["front"]); got < 2 {
		t.Fatalf("expected both analyte peaks on the front detector, got %d", got)
	}

	stored, err := env.analysisService.GetRun(ctx, artifacts.Run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if stored.Status != "completed" {
		t.Fatalf("run status = %q", stored.Status)
	}
	if stored.Seed != 7 {
		t.Fatalf("stored seed = %d, want 7", stored.Seed)
	}
	if len(stored.Peaks) == 0 {
		t.Fatalf("expected persisted peak table")
	}
	if len(stored.QuantResults) != 0 {
		t.Fatalf("expected empty quant results")
	}
}

func TestStartRunRejectsOfflineInstrument(t *testing.T) {
	env := newTestEnv(t)
	method, sample, instrument := seedBench(t, env, "standard", "maintenance")

	_, err := env.analysisService.StartRun(context.Background(), StartRunRequest{
		MethodID:     method.ID,
		SampleID:     sample.ID,
		InstrumentID: instrument.ID,
	})
	if err == nil {
		t.Fatalf("expected rejection for an instrument in maintenance")
	}
	if !strings.Contains(err.Error(), "maintenance") {
		t.Fatalf("error should name the instrument state, got %v", err)
	}
}

func TestStartRunQuantitatesWithActiveCurves(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	method, sample, instrument := seedBench(t, env, "standard", "online")
	activateIdentityCurve(t, env, method.ID, "hexane")
	activateIdentityCurve(t, env, method.ID, "octane")

	seed := uint64(11)
	artifacts, err := env.analysisService.StartRun(ctx, StartRunRequest{
		MethodID:     method.ID,
		SampleID:     sample.ID,
		InstrumentID: instrument.ID,
		Seed:         &seed,
	})
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if artifacts.Quant == nil {
		t.Fatalf("expected quantitation with active curves")
	}
	if len(artifacts.Quant.Results) != 2 {
		t.Fatalf("expected 2 quantitated analytes, got %d", len(artifacts.Quant.Results))
	}
	for _, res := range artifacts.Quant.Results {
		if res.Concentration == nil {
			t.Fatalf("analyte %s was not detected", res.Analyte)
		}
		if *res.Concentration <= 0 {
			t.Fatalf("analyte %s has non-positive concentration %v", res.Analyte, *res.Concentration)
		}
	}

	stored, err := env.analysisService.GetRun(ctx, artifacts.Run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if len(stored.QuantResults) == 0 {
		t.Fatalf("expected persisted quant results")
	}
}

func TestStartRunQCSampleFeedsControlChart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	method, sample, instrument := seedBench(t, env, "qc", "online")
	activateIdentityCurve(t, env, method.ID, "hexane")
	activateIdentityCurve(t, env, method.ID, "octane")

	// Very wide limits: the point lands near center and the run passes.
	for _, analyte := range []string{"hexane", "octane"} {
		if _, err := env.qcService.UpsertTarget(ctx, &types.QCTarget{
			Analyte:  analyte,
			MethodID: method.ID,
			Mean:     0,
			SD:       1e9,
		}); err != nil {
			t.Fatalf("upsert target %s: %v", analyte, err)
		}
	}

	artifacts, err := env.analysisService.StartRun(ctx, StartRunRequest{
		MethodID:     method.ID,
		SampleID:     sample.ID,
		InstrumentID: instrument.ID,
	})
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if artifacts.QCRecord == nil {
		t.Fatalf("expected a QC evaluation for a qc-kind sample")
	}
	if artifacts.QCRecord.Overall != qc.StatusPass {
		t.Fatalf("overall = %s, want PASS", artifacts.QCRecord.Overall)
	}
	if artifacts.Run.QCRecordID == nil {
		t.Fatalf("run should link its control chart point")
	}

	history, err := env.qcService.History(ctx, "hexane", method.ID, nil, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one control chart point, got %d", len(history))
	}
	if history[0].RunID != artifacts.Run.ID {
		t.Fatalf("control chart point references the wrong run")
	}
}

func TestStartRunQCSampleWithoutTargetsSkipsEvaluation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	method, sample, instrument := seedBench(t, env, "qc", "online")
	activateIdentityCurve(t, env, method.ID, "hexane")
	activateIdentityCurve(t, env, method.ID, "octane")

	artifacts, err := env.analysisService.StartRun(ctx, StartRunRequest{
		MethodID:     method.ID,
		SampleID:     sample.ID,
		InstrumentID: instrument.ID,
	})
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if artifacts.QCRecord != nil {
		t.Fatalf("no targets configured, expected no QC record")
	}
	if artifacts.Run.QCRecordID != nil {
		t.Fatalf("run should not link a control chart point")
	}
}

func TestRenderRunReplaysStoredSeed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	method, sample, instrument := seedBench(t, env, "standard", "online")

	artifacts, err := env.analysisService.StartRun(ctx, StartRunRequest{
		MethodID:     method.ID,
		SampleID:     sample.ID,
		InstrumentID: instrument.ID,
	})
	if err != nil {
		t.Fatalf("start run: %v", err)
	}

	buf, err := env.analysisService.RenderRun(ctx, artifacts.Run.ID, "front")
	if err != nil {
		t.Fatalf("render run: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
		t.Fatalf("rendered image is empty")
	}

	if _, err := env.analysisService.RenderRun(ctx, artifacts.Run.ID, "back"); err == nil {
		t.Fatalf("expected an error for an unknown detector channel")
	}
}

func TestCalibrationActivateIsExclusivePerAnalyte(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	method, _, _ := seedBench(t, env, "standard", "online")

	_, err := env.calibrationService.Fit(ctx, FitRequest{
		MethodID:  method.ID,
		Analyte:   "hexane",
		FitType:   calibration.FitLinear,
		Weighting: calibration.WeightNone,
		Mode:      calibration.ModeExternal,
		Points: []calibration.StandardPoint{
			{Concentration: 10, Response: 21},
			{Concentration: 50, Response: 99},
			{Concentration: 100, Response: 203},
		},
		Activate: true,
	})
	if err != nil {
		t.Fatalf("first fit: %v", err)
	}

	_, err = env.calibrationService.Fit(ctx, FitRequest{
		MethodID:  method.ID,
		Analyte:   "hexane",
		FitType:   calibration.FitLinear,
		Weighting: calibration.WeightInvX,
		Mode:      calibration.ModeExternal,
		Points: []calibration.StandardPoint{
			{Concentration: 10, Response: 20},
			{Concentration: 50, Response: 101},
			{Concentration: 100, Response: 199},
		},
		Activate: true,
	})
	if err != nil {
		t.Fatalf("second fit: %v", err)
	}

	curves, err := env.calibrationService.ActiveCurves(ctx, method.ID)
	if err != nil {
		t.Fatalf("active curves: %v", err)
	}
	if len(curves) != 1 {
		t.Fatalf("expected a single active curve, got %d", len(curves))
	}
	if curves["hexane"].Weighting != calibration.WeightInvX {
		t.Fatalf("active curve should be the second fit")
	}

	history, err := env.calibrationService.ListHistory(ctx, method.ID, "hexane")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected both fits in history, got %d", len(history))
	}
}

func TestMethodUpdateParametersBumpsVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	method, _, _ := seedBench(t, env, "standard", "online")

	params := gcParams()
	params.OvenProgram = append(params.OvenProgram, analysis.OvenStep{TargetTempC: 260, RampCPerMin: 30, HoldMin: 2})
	if err := env.methodService.UpdateParameters(ctx, method.ID, params); err != nil {
		t.Fatalf("update parameters: %v", err)
	}

	reloaded, err := env.methodService.Get(ctx, method.ID)
	if err != nil {
		t.Fatalf("get method: %v", err)
	}
	if reloaded.Version != 2 {
		t.Fatalf("version = %d, want 2", reloaded.Version)
	}
	decoded, err := env.methodService.Parameters(reloaded)
	if err != nil {
		t.Fatalf("decode parameters: %v", err)
	}
	if len(decoded.OvenProgram) != 3 {
		t.Fatalf("oven program not replaced")
	}
	if reloaded.UpdatedAt.Before(reloaded.CreatedAt.Add(-time.Second)) {
		t.Fatalf("updated_at not maintained")
	}
}

func TestQCSecondRunBeyond2SDRejects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	method, standard, instrument := seedBench(t, env, "standard", "online")
	activateIdentityCurve(t, env, method.ID, "hexane")
	activateIdentityCurve(t, env, method.ID, "octane")

	// Same seed means bit-identical traces, so every replay quantitates
	// hexane to exactly the same concentration.
	seed := uint64(77)
	reference, err := env.analysisService.StartRun(ctx, StartRunRequest{
		MethodID:     method.ID,
		SampleID:     standard.ID,
		InstrumentID: instrument.ID,
		Seed:         &seed,
	})
	if err != nil {
		t.Fatalf("reference run: %v", err)
	}
	var hexane float64
	for _, res := range reference.Quant.Results {
		if res.Analyte == "hexane" && res.Concentration != nil {
			hexane = *res.Concentration
		}
	}
	if hexane == 0 {
		t.Fatalf("hexane not quantitated on the reference run")
	}

	// Target placed so each replay lands 2.5 SD high: inside 1-3s, but a
	// second consecutive point must trip 2-2s.
	if _, err := env.qcService.UpsertTarget(ctx, &types.QCTarget{
		Analyte:  "hexane",
		MethodID: method.ID,
		Mean:     hexane - 2.5,
		SD:       1,
	}); err != nil {
		t.Fatalf("upsert target: %v", err)
	}

	qcSample, err := env.sampleService.Create(ctx, uniqueName("qc-mix"), "qc", gcProfile())
	if err != nil {
		t.Fatalf("create qc sample: %v", err)
	}

	first, err := env.analysisService.StartRun(ctx, StartRunRequest{
		MethodID:     method.ID,
		SampleID:     qcSample.ID,
		InstrumentID: instrument.ID,
		Seed:         &seed,
	})
	if err != nil {
		t.Fatalf("first qc run: %v", err)
	}
	if first.QCRecord == nil || first.QCRecord.Overall != qc.StatusPass {
		t.Fatalf("first qc run overall = %v, want PASS (one 2.5 SD point alone)", first.QCRecord)
	}

	second, err := env.analysisService.StartRun(ctx, StartRunRequest{
		MethodID:     method.ID,
		SampleID:     qcSample.ID,
		InstrumentID: instrument.ID,
		Seed:         &seed,
	})
	if err != nil {
		t.Fatalf("second qc run: %v", err)
	}
	if second.QCRecord == nil {
		t.Fatalf("second qc run has no evaluation")
	}
	if second.QCRecord.Overall != qc.StatusReject {
		t.Fatalf("second qc run overall = %s, want REJECT: the window must include the first run's point", second.QCRecord.Overall)
	}
	ruleFired := false
	for _, hit := range second.QCRecord.RuleHits {
		if hit.Rule == "2-2s" && hit.Analyte == "hexane" {
			ruleFired = true
		}
	}
	if !ruleFired {
		t.Fatalf("expected a 2-2s hit for hexane, got %v", second.QCRecord.RuleHits)
	}
}
