package simulate

import (
	"errors"
	"math"
	"testing"

	"github.com/veldtlab/chromalab-backend/internal/analysis"
)

func testMethod() analysis.MethodParameters {
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

func testSample() analysis.SampleProfile {
	return analysis.SampleProfile{
		Name: "std-mix",
		Analytes: []analysis.AnalyteSpec{
			{Name: "hexane", ConcentrationPPM: 50, RetentionFactor: 1.8, DiffusionCoefficient: 1.2, ResponseFactor: 1.0},
			{Name: "octane", ConcentrationPPM: 25, RetentionFactor: 4.5, DiffusionCoefficient: 0.9, ResponseFactor: 1.1},
		},
	}
}

func TestRunDeterministicWithSeed(t *testing.T) {
	seed := uint64(42)
	opts := Options{Seed: &seed, IncludeNoise: true, IncludeBaselineDrift: true}

	first, err := Run(testMethod(), testSample(), opts)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := Run(testMethod(), testSample(), opts)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(first.Chromatograms) != 1 || len(second.Chromatograms) != 1 {
		t.Fatalf("expected one detector trace per run")
	}
	a, b := first.Chromatograms[0], second.Chromatograms[0]
	if len(a.Signal) != len(b.Signal) {
		t.Fatalf("signal lengths differ: %d vs %d", len(a.Signal), len(b.Signal))
	}
	for i := range a.Signal {
		if a.Signal[i] != b.Signal[i] {
			t.Fatalf("signals diverge at sample %d: %v vs %v", i, a.Signal[i], b.Signal[i])
		}
		if a.TimeMin[i] != b.TimeMin[i] {
			t.Fatalf("time axes diverge at sample %d", i)
		}
	}
	if first.Seed != 42 || second.Seed != 42 {
		t.Fatalf("seed not echoed on result")
	}
}

func TestRunZeroConcentrationContributesNoPeak(t *testing.T) {
	sample := analysis.SampleProfile{
		Name: "blank-ish",
		Analytes: []analysis.AnalyteSpec{
			{Name: "hexane", ConcentrationPPM: 0, RetentionFactor: 1.8, DiffusionCoefficient: 1.2, ResponseFactor: 1.0},
			{Name: "octane", ConcentrationPPM: 25, RetentionFactor: 4.5, DiffusionCoefficient: 0.9, ResponseFactor: 1.1},
		},
	}
	seed := uint64(7)
	res, err := Run(testMethod(), sample, Options{Seed: &seed})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	truth := res.Chromatograms[0].GroundTruth
	if len(truth) != 1 {
		t.Fatalf("expected 1 ground truth peak, got %d", len(truth))
	}
	if truth[0].Analyte != "octane" {
		t.Fatalf("expected octane, got %q", truth[0].Analyte)
	}
}

func TestRunLateAnalyteOmittedWithWarning(t *testing.T) {
	method := testMethod()
	method.OvenProgram = []analysis.OvenStep{{TargetTempC: 40, HoldMin: 3}}
	sample := analysis.SampleProfile{
		Name: "heavy",
		Analytes: []analysis.AnalyteSpec{
			{Name: "eicosane", ConcentrationPPM: 10, RetentionFactor: 40, DiffusionCoefficient: 0.4, ResponseFactor: 1.0},
		},
	}
	seed := uint64(1)
	res, err := Run(method, sample, Options{Seed: &seed})
	if err != nil {
		t.Fatalf("late elution must warn, not fail: %v", err)
	}
	if len(res.Chromatograms[0].GroundTruth) != 0 {
		t.Fatalf("late analyte should be omitted from the trace")
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", res.Warnings)
	}
}

func TestRunIsothermalClosedForm(t *testing.T) {
	method := testMethod()
	method.OvenProgram = []analysis.OvenStep{{TargetTempC: 40, HoldMin: 10}}
	sample := analysis.SampleProfile{
		Name: "one",
		Analytes: []analysis.AnalyteSpec{
			{Name: "hexane", ConcentrationPPM: 50, RetentionFactor: 1.8, DiffusionCoefficient: 1.2, ResponseFactor: 1.0},
		},
	}
	seed := uint64(3)
	res, err := Run(method, sample, Options{Seed: &seed})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	truth := res.Chromatograms[0].GroundTruth
	if len(truth) != 1 {
		t.Fatalf("expected 1 peak, got %d", len(truth))
	}
	// At the 40 C reference, k' equals the analyte's retention factor:
	// t = t0 * (1 + k') = 1.0 * 2.8.
	if math.Abs(truth[0].RetentionMin-2.8) > 1e-9 {
		t.Fatalf("isothermal retention: got %v, want 2.8", truth[0].RetentionMin)
	}
}

func TestRunRejectsRampedFirstStep(t *testing.T) {
	method := testMethod()
	method.OvenProgram[0].RampCPerMin = 10
	_, err := Run(method, testSample(), Options{})
	if err == nil {
		t.Fatalf("expected validation error for ramped first step")
	}
	var verr *analysis.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *analysis.ValidationError, got %T", err)
	}
}

func TestRunDetectorGainsDiffer(t *testing.T) {
	method := testMethod()
	method.Detectors = []analysis.DetectorSpec{
		{Kind: analysis.DetectorFID, Name: "front"},
		{Kind: analysis.DetectorTCD, Name: "back"},
	}
	seed := uint64(11)
	res, err := Run(method, testSample(), Options{Seed: &seed})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Chromatograms) != 2 {
		t.Fatalf("expected 2 traces, got %d", len(res.Chromatograms))
	}
	fid := res.Chromatograms[0].GroundTruth[0]
	tcd := res.Chromatograms[1].GroundTruth[0]
	if fid.RetentionMin != tcd.RetentionMin {
		t.Fatalf("elution must be detector independent")
	}
	if !(fid.Height > tcd.Height) {
		t.Fatalf("FID gain should exceed TCD gain: %v vs %v", fid.Height, tcd.Height)
	}
}

func TestEMGAreaMatchesGaussian(t *testing.T) {
	// Trapezoid-integrate a single EMG; parameterization must preserve
	// h * sigma * sqrt(2*pi).
	h, mu, sigma, tau := 1000.0, 5.0, 0.05, 0.015
	dt := 0.0005
	area := 0.0
	prev := emg(0, h, mu, sigma, tau)
	for t := dt; t < 10; t += dt {
		cur := emg(t, h, mu, sigma, tau)
		area += 0.5 * (prev + cur) * dt
		prev = cur
	}
	want := h * sigma * math.Sqrt(2*math.Pi)
	if math.Abs(area-want)/want > 0.005 {
		t.Fatalf("EMG area %v, want %v within 0.5%%", area, want)
	}
}
