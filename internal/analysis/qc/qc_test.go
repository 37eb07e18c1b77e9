package qc

import (
	"errors"
	"math"
	"testing"
)

type fakeHistory struct {
	z map[SeriesKey][]float64
}

func (f *fakeHistory) RecentZScores(key SeriesKey, n int) ([]float64, error) {
	series := f.z[key]
	if len(series) > n {
		series = series[len(series)-n:]
	}
	return series, nil
}

func target() Target {
	return Target{Analyte: "benzene", MethodID: "m1", InstrumentID: "i1", Mean: 10.0, SD: 1.0}
}

func TestEvaluateCenteredValuePasses(t *testing.T) {
	rec, err := Evaluate("run-1", []Input{{Analyte: "benzene", Value: 10.0}}, []Target{target()}, DefaultPolicy(), &fakeHistory{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(rec.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(rec.Results))
	}
	if rec.Results[0].ZScore != 0 {
		t.Fatalf("z %v, want 0", rec.Results[0].ZScore)
	}
	if rec.Overall != StatusPass {
		t.Fatalf("status %v, want PASS", rec.Overall)
	}
	if len(rec.RuleHits) != 0 {
		t.Fatalf("unexpected rule hits: %v", rec.RuleHits)
	}
}

func TestEvaluateSinglePointBeyond3SDRejects(t *testing.T) {
	rec, err := Evaluate("run-1", []Input{{Analyte: "benzene", Value: 13.5}}, []Target{target()}, DefaultPolicy(), &fakeHistory{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if rec.Overall != StatusReject {
		t.Fatalf("status %v, want REJECT", rec.Overall)
	}
	found := false
	for _, h := range rec.RuleHits {
		if h.Rule == "1-3s" && h.Severity == SeverityReject {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a 1-3s hit, got %v", rec.RuleHits)
	}
}

func TestEvaluateTwoOfTwoBeyond2SD(t *testing.T) {
	// Prior point at z=3.0; new point 13.2 (z=3.2): 2-2s fires.
	hist := &fakeHistory{z: map[SeriesKey][]float64{
		{Analyte: "benzene", MethodID: "m1", InstrumentID: "i1"}: {3.0},
	}}
	rec, err := Evaluate("run-2", []Input{{Analyte: "benzene", Value: 13.2}}, []Target{target()}, DefaultPolicy(), hist)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if rec.Overall != StatusReject {
		t.Fatalf("status %v, want REJECT", rec.Overall)
	}
	found := false
	for _, h := range rec.RuleHits {
		if h.Rule == "2-2s" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a 2-2s hit, got %v", rec.RuleHits)
	}
}

func TestEvaluateOppositeSidesDoNotFire22s(t *testing.T) {
	hist := &fakeHistory{z: map[SeriesKey][]float64{
		{Analyte: "benzene", MethodID: "m1", InstrumentID: "i1"}: {-2.5},
	}}
	rec, err := Evaluate("run-2", []Input{{Analyte: "benzene", Value: 12.5}}, []Target{target()}, DefaultPolicy(), hist)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	for _, h := range rec.RuleHits {
		if h.Rule == "2-2s" {
			t.Fatalf("2-2s must not fire on opposite sides")
		}
	}
	// R-4s should fire instead: |2.5 - (-2.5)| = 5 > 4.
	found := false
	for _, h := range rec.RuleHits {
		if h.Rule == "R-4s" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an R-4s hit, got %v", rec.RuleHits)
	}
}

func TestEvaluateTenSameSideWarns(t *testing.T) {
	nine := make([]float64, 9)
	for i := range nine {
		nine[i] = 0.4
	}
	hist := &fakeHistory{z: map[SeriesKey][]float64{
		{Analyte: "benzene", MethodID: "m1", InstrumentID: "i1"}: nine,
	}}
	rec, err := Evaluate("run-10", []Input{{Analyte: "benzene", Value: 10.3}}, []Target{target()}, DefaultPolicy(), hist)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if rec.Overall != StatusWarning {
		t.Fatalf("status %v, want WARNING", rec.Overall)
	}
	found := false
	for _, h := range rec.RuleHits {
		if h.Rule == "10-x" && h.Severity == SeverityWarning {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a 10-x warning, got %v", rec.RuleHits)
	}
}

func TestEvaluateShortHistorySkipsWindowedRules(t *testing.T) {
	// No history at all: multi-point rules are skipped, not failed.
	rec, err := Evaluate("run-1", []Input{{Analyte: "benzene", Value: 12.5}}, []Target{target()}, DefaultPolicy(), &fakeHistory{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if rec.Overall != StatusPass {
		t.Fatalf("status %v, want PASS (z=2.5 alone fires nothing)", rec.Overall)
	}
}

func TestEvaluateRejectsNonPositiveSD(t *testing.T) {
	bad := target()
	bad.SD = 0
	_, err := Evaluate("run-1", []Input{{Analyte: "benzene", Value: 10}}, []Target{bad}, DefaultPolicy(), &fakeHistory{})
	var terr *InvalidTargetError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *InvalidTargetError, got %v", err)
	}
	if terr.Analyte != "benzene" {
		t.Fatalf("error must name the analyte, got %q", terr.Analyte)
	}
}

func TestEvaluateAnalyteWithoutTargetIgnored(t *testing.T) {
	rec, err := Evaluate("run-1", []Input{{Analyte: "mystery", Value: 99}}, []Target{target()}, DefaultPolicy(), &fakeHistory{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(rec.Results) != 0 {
		t.Fatalf("uncontrolled analyte must not produce results, got %v", rec.Results)
	}
	if rec.Overall != StatusPass {
		t.Fatalf("status %v, want PASS", rec.Overall)
	}
}

func TestZScoreComputation(t *testing.T) {
	rec, err := Evaluate("run-1", []Input{{Analyte: "benzene", Value: 11.7}}, []Target{target()}, DefaultPolicy(), &fakeHistory{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if math.Abs(rec.Results[0].ZScore-1.7) > 1e-12 {
		t.Fatalf("z %v, want 1.7", rec.Results[0].ZScore)
	}
}

func TestParsePolicyYAML(t *testing.T) {
	doc := []byte(`
name: strict
rules:
  - name: 1-2.5s
    kind: beyond_sd
    window: 1
    threshold: 2.5
    severity: reject
  - name: 6-x
    kind: same_side_of_mean
    window: 6
    severity: warning
`)
	p, err := ParsePolicy(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Name != "strict" || len(p.Rules) != 2 {
		t.Fatalf("unexpected policy: %+v", p)
	}
	if p.Rules[0].Threshold != 2.5 {
		t.Fatalf("threshold %v, want 2.5", p.Rules[0].Threshold)
	}
}

func TestParsePolicyRejectsUnknownKind(t *testing.T) {
	doc := []byte(`
name: broken
rules:
  - name: nope
    kind: sideways
    window: 1
    severity: reject
`)
	if _, err := ParsePolicy(doc); err == nil {
		t.Fatalf("expected validation error for unknown rule kind")
	}
}
