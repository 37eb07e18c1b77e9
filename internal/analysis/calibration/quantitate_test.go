package calibration

import (
	"errors"
	"math"
	"testing"

	"github.com/veldtlab/chromalab-backend/internal/analysis/peaks"
)

func linearModel(t *testing.T, analyte string) *CurveFit {
	t.Helper()
	fit, err := Fit(analyte, []StandardPoint{{1, 100}, {5, 500}, {10, 1000}}, FitLinearThroughOrigin, WeightNone, ModeExternal, "")
	if err != nil {
		t.Fatalf("fit %s: %v", analyte, err)
	}
	return fit
}

func TestQuantitateInRange(t *testing.T) {
	models := map[string]*CurveFit{"benzene": linearModel(t, "benzene")}
	detected := []peaks.Peak{{RetentionTime: 4.02, Area: 750}}
	mapping := []MappingEntry{{Analyte: "benzene", ExpectedRT: 4.0, ToleranceMin: 0.1}}

	res, err := Quantitate(detected, models, mapping)
	if err != nil {
		t.Fatalf("quantitate: %v", err)
	}
	if len(res.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(res.Results))
	}
	r := res.Results[0]
	if r.Flag != FlagInRange {
		t.Fatalf("flag %v, want inRange", r.Flag)
	}
	if r.Concentration == nil || math.Abs(*r.Concentration-7.5) > 1e-9 {
		t.Fatalf("concentration %v, want 7.5", r.Concentration)
	}
	if r.Unit != "ppm" {
		t.Fatalf("unit %q, want ppm", r.Unit)
	}
}

func TestQuantitateRangeFlagsNeverClamp(t *testing.T) {
	models := map[string]*CurveFit{"benzene": linearModel(t, "benzene")}
	mapping := []MappingEntry{{Analyte: "benzene", ExpectedRT: 4.0, ToleranceMin: 0.1}}

	above, err := Quantitate([]peaks.Peak{{RetentionTime: 4.0, Area: 2000}}, models, mapping)
	if err != nil {
		t.Fatalf("quantitate above: %v", err)
	}
	if above.Results[0].Flag != FlagAboveRange {
		t.Fatalf("flag %v, want aboveRange", above.Results[0].Flag)
	}
	if *above.Results[0].Concentration != 20 {
		t.Fatalf("above-range value must not be clamped: got %v, want 20", *above.Results[0].Concentration)
	}

	below, err := Quantitate([]peaks.Peak{{RetentionTime: 4.0, Area: 50}}, models, mapping)
	if err != nil {
		t.Fatalf("quantitate below: %v", err)
	}
	if below.Results[0].Flag != FlagBelowRange {
		t.Fatalf("flag %v, want belowRange", below.Results[0].Flag)
	}
}

func TestQuantitateNotDetected(t *testing.T) {
	models := map[string]*CurveFit{"benzene": linearModel(t, "benzene")}
	mapping := []MappingEntry{{Analyte: "benzene", ExpectedRT: 4.0, ToleranceMin: 0.1}}

	res, err := Quantitate([]peaks.Peak{}, models, mapping)
	if err != nil {
		t.Fatalf("quantitate: %v", err)
	}
	r := res.Results[0]
	if r.Flag != FlagNotDetected {
		t.Fatalf("flag %v, want notDetected", r.Flag)
	}
	if r.Concentration != nil {
		t.Fatalf("undetected analyte must carry no numeric concentration, got %v", *r.Concentration)
	}
}

func TestQuantitateMissingModel(t *testing.T) {
	mapping := []MappingEntry{{Analyte: "benzene", ExpectedRT: 4.0}}
	_, err := Quantitate([]peaks.Peak{{RetentionTime: 4.0, Area: 100}}, map[string]*CurveFit{}, mapping)
	var merr *CalibrationMissingError
	if !errors.As(err, &merr) {
		t.Fatalf("expected *CalibrationMissingError, got %v", err)
	}
	if merr.Analyte != "benzene" {
		t.Fatalf("error must name the analyte, got %q", merr.Analyte)
	}
}

func TestQuantitateAmbiguousMapping(t *testing.T) {
	models := map[string]*CurveFit{"benzene": linearModel(t, "benzene")}
	detected := []peaks.Peak{
		{RetentionTime: 3.95, Area: 400},
		{RetentionTime: 4.05, Area: 450},
	}
	mapping := []MappingEntry{{Analyte: "benzene", ExpectedRT: 4.0, ToleranceMin: 0.1}}
	_, err := Quantitate(detected, models, mapping)
	var aerr *MappingAmbiguousError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected *MappingAmbiguousError, got %v", err)
	}
	if len(aerr.PeakTimes) != 2 {
		t.Fatalf("expected 2 candidate peaks in the error, got %v", aerr.PeakTimes)
	}
}

func TestQuantitateIstdMode(t *testing.T) {
	// Ratio-domain fit: response ratio = 0.1 * concentration ratio.
	fit, err := Fit("benzene", []StandardPoint{{0.5, 0.05}, {1, 0.1}, {2, 0.2}}, FitLinearThroughOrigin, WeightNone, ModeIstd, "d8-toluene")
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	models := map[string]*CurveFit{"benzene": fit}
	detected := []peaks.Peak{
		{RetentionTime: 4.0, Area: 300},
		{RetentionTime: 6.0, Area: 2000}, // internal standard
	}
	mapping := []MappingEntry{
		{Analyte: "benzene", ExpectedRT: 4.0, ToleranceMin: 0.1, IstdConc: 40},
		{Analyte: "d8-toluene", ExpectedRT: 6.0, ToleranceMin: 0.1, IsIstd: true},
	}
	res, err := Quantitate(detected, models, mapping)
	if err != nil {
		t.Fatalf("quantitate: %v", err)
	}
	r := res.Results[0]
	// ratio = 300/2000 = 0.15 -> conc ratio 1.5 -> 1.5 * 40 ppm istd = 60.
	if r.Concentration == nil || math.Abs(*r.Concentration-60) > 1e-9 {
		t.Fatalf("istd concentration %v, want 60", r.Concentration)
	}
}

func TestQuantitateIstdMissingPeak(t *testing.T) {
	fit, err := Fit("benzene", []StandardPoint{{0.5, 0.05}, {1, 0.1}, {2, 0.2}}, FitLinearThroughOrigin, WeightNone, ModeIstd, "d8-toluene")
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	models := map[string]*CurveFit{"benzene": fit}
	detected := []peaks.Peak{{RetentionTime: 4.0, Area: 300}}
	mapping := []MappingEntry{
		{Analyte: "benzene", ExpectedRT: 4.0, ToleranceMin: 0.1, IstdConc: 40},
		{Analyte: "d8-toluene", ExpectedRT: 6.0, ToleranceMin: 0.1, IsIstd: true},
	}
	_, err = Quantitate(detected, models, mapping)
	var ierr *MissingIstdError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected *MissingIstdError, got %v", err)
	}
}

func TestQuantitateIstdUnknownConcRejected(t *testing.T) {
	fit, err := Fit("benzene", []StandardPoint{{0.5, 0.05}, {1, 0.1}, {2, 0.2}}, FitLinearThroughOrigin, WeightNone, ModeIstd, "d8-toluene")
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	models := map[string]*CurveFit{"benzene": fit}
	detected := []peaks.Peak{
		{RetentionTime: 4.0, Area: 300},
		{RetentionTime: 6.0, Area: 2000},
	}
	// No IstdConc on the analyte entry: the ratio cannot be scaled back
	// to a concentration, and 0 ppm must never be reported instead.
	mapping := []MappingEntry{
		{Analyte: "benzene", ExpectedRT: 4.0, ToleranceMin: 0.1},
		{Analyte: "d8-toluene", ExpectedRT: 6.0, ToleranceMin: 0.1, IsIstd: true},
	}
	_, err = Quantitate(detected, models, mapping)
	var cerr *InvalidIstdConcError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *InvalidIstdConcError, got %v", err)
	}
	if cerr.Analyte != "benzene" {
		t.Fatalf("error names %q, want benzene", cerr.Analyte)
	}
}
