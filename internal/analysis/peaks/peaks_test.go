package peaks

import (
	"errors"
	"math"
	"testing"
)

func synthAxis(durationMin, hz float64) []float64 {
	n := int(durationMin*60*hz) + 1
	out := make([]float64, n)
	dt := 1.0 / (60 * hz)
	for i := range out {
		out[i] = float64(i) * dt
	}
	return out
}

func addGaussian(timeMin, signal []float64, h, mu, sigma float64) {
	for i, t := range timeMin {
		u := (t - mu) / sigma
		if u > -30 && u < 30 {
			signal[i] += h * math.Exp(-0.5*u*u)
		}
	}
}

func TestDetectRejectsMalformedInput(t *testing.T) {
	cases := []struct {
		name   string
		time   []float64
		signal []float64
	}{
		{name: "both_empty", time: []float64{}, signal: []float64{}},
		{name: "length_mismatch", time: []float64{0, 1, 2}, signal: []float64{0, 1}},
		{name: "single_sample", time: []float64{0}, signal: []float64{5}},
		{name: "non_increasing_time", time: []float64{0, 1, 1}, signal: []float64{0, 1, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Detect(tc.time, tc.signal, Options{})
			if err == nil {
				t.Fatalf("expected InvalidSignalError")
			}
			var serr *InvalidSignalError
			if !errors.As(err, &serr) {
				t.Fatalf("expected *InvalidSignalError, got %T", err)
			}
		})
	}
}

func TestDetectFlatSignalReturnsEmpty(t *testing.T) {
	timeMin := synthAxis(5, 5)
	signal := make([]float64, len(timeMin))
	for i := range signal {
		signal[i] = 2.0 // flat at baseline
	}
	got, err := Detect(timeMin, signal, Options{MinHeight: 1})
	if err != nil {
		t.Fatalf("flat signal must not fail: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no peaks, got %d", len(got))
	}
}

func TestDetectSingleGaussianAreaRecovery(t *testing.T) {
	timeMin := synthAxis(10, 20)
	signal := make([]float64, len(timeMin))
	addGaussian(timeMin, signal, 1000, 5.0, 0.05)

	got, err := Detect(timeMin, signal, Options{MinHeight: 10})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 peak, got %d", len(got))
	}
	p := got[0]
	want := 1000 * 0.05 * math.Sqrt(2*math.Pi) // ~125.33
	if math.Abs(p.Area-want)/want > 0.01 {
		t.Fatalf("area %v, want %v within 1%%", p.Area, want)
	}
	if math.Abs(p.RetentionTime-5.0) > 0.01 {
		t.Fatalf("retention time %v, want 5.0", p.RetentionTime)
	}
	wantWidth := 2.355 * 0.05
	if math.Abs(p.WidthHalfHeight-wantWidth)/wantWidth > 0.05 {
		t.Fatalf("width at half height %v, want ~%v", p.WidthHalfHeight, wantWidth)
	}
}

func TestDetectResolutionFormula(t *testing.T) {
	// Two clean peaks with half-height width 0.2 min at 5.0 and 6.0 min:
	// R = 2*(6-5)/(0.2+0.2) = 5.
	sigma := 0.2 / 2.355
	timeMin := synthAxis(10, 20)
	signal := make([]float64, len(timeMin))
	addGaussian(timeMin, signal, 800, 5.0, sigma)
	addGaussian(timeMin, signal, 800, 6.0, sigma)

	got, err := Detect(timeMin, signal, Options{MinHeight: 10})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 peaks, got %d", len(got))
	}
	if got[0].ResolutionToPrevious != 0 {
		t.Fatalf("first peak must have zero resolution, got %v", got[0].ResolutionToPrevious)
	}
	if math.Abs(got[1].ResolutionToPrevious-5.0) > 0.25 {
		t.Fatalf("resolution %v, want ~5.0", got[1].ResolutionToPrevious)
	}
}

func TestDetectOverlappingPeaksSplitAtValley(t *testing.T) {
	sigma := 0.05
	timeMin := synthAxis(10, 20)
	signal := make([]float64, len(timeMin))
	addGaussian(timeMin, signal, 1000, 5.0, sigma)
	addGaussian(timeMin, signal, 600, 5.2, sigma)

	got, err := Detect(timeMin, signal, Options{MinHeight: 50})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 peaks, got %d", len(got))
	}
	// Boundaries must meet at the shared valley, not overlap.
	if got[0].EndTime > got[1].StartTime+1e-9 {
		t.Fatalf("peak boundaries overlap: %v > %v", got[0].EndTime, got[1].StartTime)
	}
}

func TestDetectCoelutingPeaksFlaggedUnresolved(t *testing.T) {
	sigma := 0.05
	timeMin := synthAxis(10, 20)
	signal := make([]float64, len(timeMin))
	addGaussian(timeMin, signal, 1000, 5.00, sigma)
	addGaussian(timeMin, signal, 950, 5.12, sigma)

	got, err := Detect(timeMin, signal, Options{MinHeight: 50})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 apexes, got %d", len(got))
	}
	if !got[0].Unresolved || !got[1].Unresolved {
		t.Fatalf("co-eluting peaks sharing a shallow valley must be flagged unresolved")
	}
}

func TestDetectTailingFactor(t *testing.T) {
	// A symmetric Gaussian has tailing factor ~1.
	timeMin := synthAxis(10, 20)
	signal := make([]float64, len(timeMin))
	addGaussian(timeMin, signal, 500, 5.0, 0.08)
	got, err := Detect(timeMin, signal, Options{MinHeight: 10})
	if err != nil || len(got) != 1 {
		t.Fatalf("detect: %v peaks=%d", err, len(got))
	}
	if math.Abs(got[0].TailingFactor-1.0) > 0.1 {
		t.Fatalf("tailing factor %v, want ~1.0", got[0].TailingFactor)
	}
}

func TestDetectMinAreaDiscardsNoiseBlips(t *testing.T) {
	timeMin := synthAxis(10, 20)
	signal := make([]float64, len(timeMin))
	addGaussian(timeMin, signal, 1000, 5.0, 0.05)
	addGaussian(timeMin, signal, 30, 7.0, 0.01) // tiny blip

	got, err := Detect(timeMin, signal, Options{MinHeight: 10, MinArea: 5})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected the blip to be discarded, got %d peaks", len(got))
	}
}

func TestDetectPlateCount(t *testing.T) {
	timeMin := synthAxis(10, 20)
	signal := make([]float64, len(timeMin))
	addGaussian(timeMin, signal, 1000, 5.0, 0.05)
	got, err := Detect(timeMin, signal, Options{MinHeight: 10})
	if err != nil || len(got) != 1 {
		t.Fatalf("detect: %v peaks=%d", err, len(got))
	}
	p := got[0]
	want := 5.54 * (p.RetentionTime / p.WidthHalfHeight) * (p.RetentionTime / p.WidthHalfHeight)
	if math.Abs(p.PlateCount-want) > 1e-6 {
		t.Fatalf("plate count %v, want %v", p.PlateCount, want)
	}
}

func TestASLSBaselineTracksDrift(t *testing.T) {
	timeMin := synthAxis(10, 5)
	signal := make([]float64, len(timeMin))
	for i, tm := range timeMin {
		signal[i] = 10 + 2*tm // linear drift
	}
	addGaussian(timeMin, signal, 500, 5.0, 0.05)

	got, err := Detect(timeMin, signal, Options{MinHeight: 50, BaselineMethod: BaselineASLS})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 peak over drifting baseline, got %d", len(got))
	}
	if math.Abs(got[0].Height-500) > 50 {
		t.Fatalf("baseline-corrected height %v, want ~500", got[0].Height)
	}
}
