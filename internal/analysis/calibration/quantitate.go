package calibration

import (
	"math"

	"github.com/veldtlab/chromalab-backend/internal/analysis/peaks"
)

type RangeFlag string

const (
	FlagInRange     RangeFlag = "inRange"
	FlagBelowRange  RangeFlag = "belowRange"
	FlagAboveRange  RangeFlag = "aboveRange"
	FlagNotDetected RangeFlag = "notDetected"
)

// MappingEntry assigns one expected analyte to a retention-time window.
type MappingEntry struct {
	Analyte      string  `json:"analyte"`
	ExpectedRT   float64 `json:"expected_rt"`
	ToleranceMin float64 `json:"tolerance_min"`
	// Marks the internal standard peak; its known concentration feeds the
	// ratio inversion for ISTD-calibrated analytes.
	IsIstd   bool    `json:"is_istd,omitempty"`
	IstdConc float64 `json:"istd_conc,omitempty"`
}

// AnalyteResult is one quantitated analyte. Concentration is nil when the
// analyte was not detected; it is never a numeric placeholder.
type AnalyteResult struct {
	Analyte       string    `json:"analyte"`
	Concentration *float64  `json:"concentration,omitempty"`
	Unit          string    `json:"unit"`
	Flag          RangeFlag `json:"flag"`
	Response      float64   `json:"response,omitempty"`
	RetentionTime float64   `json:"retention_time,omitempty"`
	LOD           float64   `json:"lod,omitempty"`
	LOQ           float64   `json:"loq,omitempty"`
	Unresolved    bool      `json:"unresolved,omitempty"`
}

type QuantResult struct {
	Results []AnalyteResult `json:"results"`
}

const defaultRTToleranceMin = 0.1

// Quantitate maps detected peaks to analytes by retention time and inverts
// each analyte's model. Out-of-range concentrations are flagged, never
// clamped. Models must exist for every mapped analyte.
func Quantitate(detected []peaks.Peak, models map[string]*CurveFit, mapping []MappingEntry) (*QuantResult, error) {
	// Resolve the internal standard first: ISTD-mode models need its area.
	istdArea := math.NaN()
	istdName := ""
	for _, entry := range mapping {
		if !entry.IsIstd {
			continue
		}
		istdName = entry.Analyte
		pk, found, err := matchPeak(detected, entry)
		if err != nil {
			return nil, err
		}
		if found {
			istdArea = pk.Area
		}
	}

	out := &QuantResult{Results: make([]AnalyteResult, 0, len(mapping))}
	for _, entry := range mapping {
		if entry.IsIstd {
			continue
		}
		model, ok := models[entry.Analyte]
		if !ok || model == nil {
			return nil, &CalibrationMissingError{Analyte: entry.Analyte}
		}

		pk, found, err := matchPeak(detected, entry)
		if err != nil {
			return nil, err
		}
		if !found {
			out.Results = append(out.Results, AnalyteResult{
				Analyte: entry.Analyte,
				Unit:    "ppm",
				Flag:    FlagNotDetected,
				LOD:     model.LOD,
				LOQ:     model.LOQ,
			})
			continue
		}

		response := pk.Area
		if model.Mode == ModeIstd {
			if math.IsNaN(istdArea) || istdArea <= 0 {
				return nil, &MissingIstdError{Istd: firstNonEmpty(model.IstdAnalyte, istdName), Analyte: entry.Analyte}
			}
			if entry.IstdConc <= 0 {
				return nil, &InvalidIstdConcError{Analyte: entry.Analyte, Conc: entry.IstdConc}
			}
			response = pk.Area / istdArea
		}

		fitted, err := model.Invert(response)
		if err != nil {
			return nil, err
		}
		// Range flagging happens in the fit's own domain: concentration for
		// external mode, concentration ratio for ISTD mode.
		flag := FlagInRange
		switch {
		case fitted < model.MinConc:
			flag = FlagBelowRange
		case fitted > model.MaxConc:
			flag = FlagAboveRange
		}
		value := fitted
		if model.Mode == ModeIstd {
			// Scale the ratio back by the known ISTD concentration.
			value = fitted * entry.IstdConc
		}

		v := value
		out.Results = append(out.Results, AnalyteResult{
			Analyte:       entry.Analyte,
			Concentration: &v,
			Unit:          "ppm",
			Flag:          flag,
			Response:      response,
			RetentionTime: pk.RetentionTime,
			LOD:           model.LOD,
			LOQ:           model.LOQ,
			Unresolved:    pk.Unresolved,
		})
	}
	return out, nil
}

// matchPeak finds the unique peak inside the entry's retention window.
func matchPeak(detected []peaks.Peak, entry MappingEntry) (peaks.Peak, bool, error) {
	tol := entry.ToleranceMin
	if tol <= 0 {
		tol = defaultRTToleranceMin
	}
	var hits []peaks.Peak
	for _, pk := range detected {
		if math.Abs(pk.RetentionTime-entry.ExpectedRT) <= tol {
			hits = append(hits, pk)
		}
	}
	switch len(hits) {
	case 0:
		return peaks.Peak{}, false, nil
	case 1:
		return hits[0], true, nil
	default:
		times := make([]float64, len(hits))
		for i, h := range hits {
			times[i] = h.RetentionTime
		}
		return peaks.Peak{}, false, &MappingAmbiguousError{Analyte: entry.Analyte, PeakTimes: times}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
