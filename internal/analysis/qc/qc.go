// Package qc evaluates quantitation results against statistical control
// targets using multi-point trailing-window rules.
package qc

import (
	"fmt"
	"math"
	"time"
)

type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityReject  Severity = "reject"
)

type Status string

const (
	StatusPass    Status = "PASS"
	StatusWarning Status = "WARNING"
	StatusReject  Status = "REJECT"
)

// Rule kinds. BeyondSD fires when Window consecutive points sit beyond
// Threshold standard deviations on the same side; SameSideOfMean fires when
// Window consecutive points sit on one side of the target mean; RangeSD fires
// when two consecutive points differ by more than Threshold standard
// deviations.
const (
	RuleBeyondSD       = "beyond_sd"
	RuleSameSideOfMean = "same_side_of_mean"
	RuleRangeSD        = "range_sd"
)

type Rule struct {
	Name      string   `json:"name" yaml:"name"`
	Kind      string   `json:"kind" yaml:"kind"`
	Window    int      `json:"window" yaml:"window"`
	Threshold float64  `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Severity  Severity `json:"severity" yaml:"severity"`
}

type Policy struct {
	Name  string `json:"name" yaml:"name"`
	Rules []Rule `json:"rules" yaml:"rules"`
}

// DefaultPolicy is the standing Westgard-style rule set.
func DefaultPolicy() Policy {
	return Policy{
		Name: "default",
		Rules: []Rule{
			{Name: "1-3s", Kind: RuleBeyondSD, Window: 1, Threshold: 3, Severity: SeverityReject},
			{Name: "2-2s", Kind: RuleBeyondSD, Window: 2, Threshold: 2, Severity: SeverityReject},
			{Name: "R-4s", Kind: RuleRangeSD, Window: 2, Threshold: 4, Severity: SeverityReject},
			{Name: "4-1s", Kind: RuleBeyondSD, Window: 4, Threshold: 1, Severity: SeverityWarning},
			{Name: "10-x", Kind: RuleSameSideOfMean, Window: 10, Severity: SeverityWarning},
		},
	}
}

// SeriesKey scopes one control series.
type SeriesKey struct {
	Analyte      string
	MethodID     string
	InstrumentID string
}

func (k SeriesKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Analyte, k.MethodID, k.InstrumentID)
}

type Target struct {
	Analyte      string  `json:"analyte"`
	MethodID     string  `json:"method_id"`
	InstrumentID string  `json:"instrument_id,omitempty"`
	Mean         float64 `json:"mean"`
	SD           float64 `json:"sd"`
}

// InvalidTargetError rejects a non-positive standard deviation at the
// boundary; it is never silently corrected.
type InvalidTargetError struct {
	Analyte string
	SD      float64
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid QC target for %q: sd must be positive, got %v", e.Analyte, e.SD)
}

func (t Target) Validate() error {
	if t.SD <= 0 {
		return &InvalidTargetError{Analyte: t.Analyte, SD: t.SD}
	}
	return nil
}

type PointResult struct {
	Analyte string  `json:"analyte"`
	Value   float64 `json:"value"`
	ZScore  float64 `json:"zscore"`
}

type RuleHit struct {
	Rule     string   `json:"rule"`
	Analyte  string   `json:"analyte"`
	Severity Severity `json:"severity"`
}

type Record struct {
	RunID     string        `json:"run_id"`
	Timestamp time.Time     `json:"timestamp"`
	Results   []PointResult `json:"results"`
	RuleHits  []RuleHit     `json:"rule_hits"`
	Overall   Status        `json:"overall"`
}

// History supplies the trailing window of z-scores for one series, newest
// last. Implementations must serialize appends per key.
type History interface {
	RecentZScores(key SeriesKey, n int) ([]float64, error)
}

// Input is one analyte measurement entering evaluation.
type Input struct {
	Analyte string
	Value   float64
}

// Evaluate scores each measured analyte against its target and applies every
// policy rule over the new point plus the trailing window. Rules whose window
// exceeds the available history are skipped, not failed. The overall status
// is derived from the hits and nothing else.
func Evaluate(runID string, measurements []Input, targets []Target, policy Policy, hist History) (*Record, error) {
	byAnalyte := make(map[string]Target, len(targets))
	for _, tgt := range targets {
		if err := tgt.Validate(); err != nil {
			return nil, err
		}
		byAnalyte[tgt.Analyte] = tgt
	}

	rec := &Record{RunID: runID, Timestamp: time.Now().UTC()}
	for _, m := range measurements {
		tgt, ok := byAnalyte[m.Analyte]
		if !ok {
			continue // no target, nothing to control
		}
		z := (m.Value - tgt.Mean) / tgt.SD
		rec.Results = append(rec.Results, PointResult{Analyte: m.Analyte, Value: m.Value, ZScore: z})

		maxWindow := 1
		for _, rule := range policy.Rules {
			if rule.Window > maxWindow {
				maxWindow = rule.Window
			}
		}
		var trailing []float64
		if hist != nil && maxWindow > 1 {
			var err error
			trailing, err = hist.RecentZScores(SeriesKey{Analyte: tgt.Analyte, MethodID: tgt.MethodID, InstrumentID: tgt.InstrumentID}, maxWindow-1)
			if err != nil {
				return nil, fmt.Errorf("qc history for analyte %q: %w", m.Analyte, err)
			}
		}
		window := append(append([]float64{}, trailing...), z)

		for _, rule := range policy.Rules {
			if fireRule(rule, window) {
				rec.RuleHits = append(rec.RuleHits, RuleHit{Rule: rule.Name, Analyte: m.Analyte, Severity: rule.Severity})
			}
		}
	}

	rec.Overall = StatusPass
	for _, hit := range rec.RuleHits {
		if hit.Severity == SeverityReject {
			rec.Overall = StatusReject
			break
		}
		rec.Overall = StatusWarning
	}
	return rec, nil
}

// fireRule checks one rule against the window (oldest first, newest last).
// Insufficient history means the rule is not evaluated.
func fireRule(rule Rule, window []float64) bool {
	w := rule.Window
	if w < 1 {
		return false
	}
	if len(window) < w {
		return false
	}
	tail := window[len(window)-w:]
	switch rule.Kind {
	case RuleBeyondSD:
		side := 0.0
		for _, z := range tail {
			if math.Abs(z) <= rule.Threshold {
				return false
			}
			s := math.Copysign(1, z)
			if side == 0 {
				side = s
			} else if s != side {
				return false
			}
		}
		return true
	case RuleSameSideOfMean:
		side := 0.0
		for _, z := range tail {
			if z == 0 {
				return false
			}
			s := math.Copysign(1, z)
			if side == 0 {
				side = s
			} else if s != side {
				return false
			}
		}
		return true
	case RuleRangeSD:
		if w < 2 {
			return false
		}
		for i := 1; i < len(tail); i++ {
			if math.Abs(tail[i]-tail[i-1]) > rule.Threshold {
				return true
			}
		}
		return false
	}
	return false
}
