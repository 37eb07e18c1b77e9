package calibration

import "fmt"

// DegenerateFitError reports a regression that cannot produce a usable model:
// too few levels, a singular matrix, or a non-increasing response.
type DegenerateFitError struct {
	Analyte string
	Reason  string
}

func (e *DegenerateFitError) Error() string {
	return fmt.Sprintf("degenerate calibration fit for %q: %s", e.Analyte, e.Reason)
}

// CalibrationMissingError reports that no model exists for a required analyte.
type CalibrationMissingError struct {
	Analyte string
}

func (e *CalibrationMissingError) Error() string {
	return fmt.Sprintf("no calibration model for analyte %q", e.Analyte)
}

// MappingAmbiguousError reports more than one detected peak inside the
// retention-time tolerance for one analyte.
type MappingAmbiguousError struct {
	Analyte   string
	PeakTimes []float64
}

func (e *MappingAmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous peak mapping for analyte %q: %d peaks within tolerance at %v", e.Analyte, len(e.PeakTimes), e.PeakTimes)
}

// MissingIstdError reports an internal-standard peak absent from a run that
// was quantitated in ISTD mode.
type MissingIstdError struct {
	Istd    string
	Analyte string
}

func (e *MissingIstdError) Error() string {
	return fmt.Sprintf("internal standard %q peak not found (required to quantitate %q)", e.Istd, e.Analyte)
}

// InvalidIstdConcError reports an ISTD-calibrated analyte whose mapping
// carries no usable internal-standard concentration to scale the ratio by.
type InvalidIstdConcError struct {
	Analyte string
	Conc    float64
}

func (e *InvalidIstdConcError) Error() string {
	return fmt.Sprintf("cannot quantitate %q in ISTD mode: internal standard concentration must be positive, got %v", e.Analyte, e.Conc)
}

// RootSelectionError reports a quadratic inversion with no physical root.
type RootSelectionError struct {
	Analyte  string
	Response float64
	Reason   string
}

func (e *RootSelectionError) Error() string {
	return fmt.Sprintf("cannot invert calibration for %q at response %v: %s", e.Analyte, e.Response, e.Reason)
}
