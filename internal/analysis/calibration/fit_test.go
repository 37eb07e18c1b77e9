package calibration

import (
	"errors"
	"math"
	"testing"
)

func TestFitLinearThroughOriginRoundTrip(t *testing.T) {
	pts := []StandardPoint{{1, 100}, {5, 500}, {10, 1000}}
	fit, err := Fit("benzene", pts, FitLinearThroughOrigin, WeightNone, ModeExternal, "")
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if math.Abs(fit.Coeffs[0]) > 1e-9 {
		t.Fatalf("through-origin intercept must be zero, got %v", fit.Coeffs[0])
	}
	if math.Abs(fit.Coeffs[1]-100) > 1e-9 {
		t.Fatalf("slope %v, want 100", fit.Coeffs[1])
	}
	conc, err := fit.Invert(750)
	if err != nil {
		t.Fatalf("invert: %v", err)
	}
	if math.Abs(conc-7.5) > 1e-9 {
		t.Fatalf("concentration %v, want 7.5", conc)
	}
}

func TestFitLinearWithIntercept(t *testing.T) {
	// y = 50 + 20x exactly.
	pts := []StandardPoint{{1, 70}, {2, 90}, {5, 150}, {10, 250}}
	fit, err := Fit("toluene", pts, FitLinear, WeightNone, ModeExternal, "")
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if math.Abs(fit.Coeffs[0]-50) > 1e-6 || math.Abs(fit.Coeffs[1]-20) > 1e-6 {
		t.Fatalf("coeffs %v, want [50 20 0]", fit.Coeffs)
	}
	if fit.ResidualSD > 1e-6 {
		t.Fatalf("exact fit must have ~zero residual SD, got %v", fit.ResidualSD)
	}
	if fit.RSquared < 0.999999 {
		t.Fatalf("r-squared %v, want ~1", fit.RSquared)
	}
}

func TestFitQuadraticRootSelection(t *testing.T) {
	// y = 10x - 0.1x^2 over 1..40: mildly saturating detector.
	var pts []StandardPoint
	for _, x := range []float64{1, 5, 10, 20, 40} {
		pts = append(pts, StandardPoint{x, 10*x - 0.1*x*x})
	}
	fit, err := Fit("xylene", pts, FitQuadratic, WeightNone, ModeExternal, "")
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	// Response at x=15 is 127.5; the quadratic has a second root far outside
	// the calibrated range which must be discarded.
	conc, err := fit.Invert(127.5)
	if err != nil {
		t.Fatalf("invert: %v", err)
	}
	if math.Abs(conc-15) > 0.01 {
		t.Fatalf("concentration %v, want 15", conc)
	}
}

func TestFitWeightingDownweightsHighLevels(t *testing.T) {
	// A high-leverage outlier at the top level pulls an unweighted fit; 1/x2
	// weighting should keep the low end accurate.
	pts := []StandardPoint{{1, 100}, {2, 200}, {5, 500}, {100, 10900}}
	unweighted, err := Fit("analyte", pts, FitLinear, WeightNone, ModeExternal, "")
	if err != nil {
		t.Fatalf("unweighted fit: %v", err)
	}
	weighted, err := Fit("analyte", pts, FitLinear, WeightInvXSq, ModeExternal, "")
	if err != nil {
		t.Fatalf("weighted fit: %v", err)
	}
	errUnweighted := math.Abs(unweighted.Predict(1) - 100)
	errWeighted := math.Abs(weighted.Predict(1) - 100)
	if errWeighted >= errUnweighted {
		t.Fatalf("1/x2 weighting should fit the low level better: weighted err %v, unweighted err %v", errWeighted, errUnweighted)
	}
}

func TestFitDegenerateCases(t *testing.T) {
	cases := []struct {
		name string
		pts  []StandardPoint
		ft   FitType
	}{
		{name: "single_level", pts: []StandardPoint{{5, 100}, {5, 101}}, ft: FitLinear},
		{name: "all_responses_equal", pts: []StandardPoint{{1, 100}, {5, 100}, {10, 100}}, ft: FitLinear},
		{name: "decreasing_responses", pts: []StandardPoint{{1, 1000}, {5, 500}, {10, 100}}, ft: FitLinear},
		{name: "quadratic_two_levels", pts: []StandardPoint{{1, 100}, {10, 1000}}, ft: FitQuadratic},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Fit("analyte", tc.pts, tc.ft, WeightNone, ModeExternal, "")
			if err == nil {
				t.Fatalf("expected DegenerateFitError")
			}
			var derr *DegenerateFitError
			if !errors.As(err, &derr) {
				t.Fatalf("expected *DegenerateFitError, got %T", err)
			}
			if derr.Analyte != "analyte" {
				t.Fatalf("error must name the analyte, got %q", derr.Analyte)
			}
		})
	}
}

func TestFitRequiresExplicitMode(t *testing.T) {
	pts := []StandardPoint{{1, 100}, {10, 1000}}
	if _, err := Fit("analyte", pts, FitLinear, WeightNone, Mode(""), ""); err == nil {
		t.Fatalf("empty mode must be rejected")
	}
	if _, err := Fit("analyte", pts, FitLinear, WeightNone, ModeIstd, ""); err == nil {
		t.Fatalf("istd mode without an istd analyte must be rejected")
	}
}

func TestFitLODAndLOQ(t *testing.T) {
	// Slight scatter around y=100x.
	pts := []StandardPoint{{1, 102}, {2, 197}, {5, 504}, {10, 996}}
	fit, err := Fit("analyte", pts, FitLinear, WeightNone, ModeExternal, "")
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if fit.LOD <= 0 || fit.LOQ <= 0 {
		t.Fatalf("LOD/LOQ must be positive: %v / %v", fit.LOD, fit.LOQ)
	}
	ratio := fit.LOQ / fit.LOD
	if math.Abs(ratio-10.0/3.3) > 1e-9 {
		t.Fatalf("LOQ/LOD ratio %v, want %v", ratio, 10.0/3.3)
	}
}
