// Package analysis holds the value types shared by the chromatography
// computation packages (simulate, peaks, calibration, qc). Everything in this
// tree is pure: no persistence, no transport, no shared state.
package analysis

import "fmt"

type DetectorKind string

const (
	DetectorFID DetectorKind = "FID" // flame ionization
	DetectorSCD DetectorKind = "SCD" // sulfur chemiluminescence
	DetectorTCD DetectorKind = "TCD" // thermal conductivity
	DetectorECD DetectorKind = "ECD" // electron capture
)

func ValidDetectorKind(k DetectorKind) bool {
	switch k {
	case DetectorFID, DetectorSCD, DetectorTCD, DetectorECD:
		return true
	}
	return false
}

type InletSpec struct {
	Name         string  `json:"name"`
	TemperatureC float64 `json:"temperature_c"`
	SplitRatio   float64 `json:"split_ratio"`
}

type ColumnSpec struct {
	Name            string  `json:"name"`
	LengthM         float64 `json:"length_m"`
	InnerDiameterMM float64 `json:"inner_diameter_mm"`
	FilmThicknessUM float64 `json:"film_thickness_um"`
	// Reference efficiency of the installed column. Per-analyte plate counts
	// are derated from this by the analyte's diffusion behavior.
	PlateCount int `json:"plate_count"`
	// Carrier holdup time at the reference temperature, minutes.
	HoldupTimeMin float64 `json:"holdup_time_min"`
}

type DetectorSpec struct {
	Kind DetectorKind `json:"kind"`
	Name string       `json:"name"`
}

// OvenStep is one segment of the temperature program. The first step holds at
// TargetTempC and must carry no ramp; later steps ramp from the previous
// temperature at RampCPerMin, then hold for HoldMin.
type OvenStep struct {
	TargetTempC float64 `json:"target_temp_c"`
	RampCPerMin float64 `json:"ramp_c_per_min"`
	HoldMin     float64 `json:"hold_min"`
}

type MethodParameters struct {
	Inlets      []InletSpec    `json:"inlets"`
	Columns     []ColumnSpec   `json:"columns"`
	Detectors   []DetectorSpec `json:"detectors"`
	OvenProgram []OvenStep     `json:"oven_program"`
	// Detector sampling rate. Zero means the simulator default.
	SamplingHz float64 `json:"sampling_hz,omitempty"`
}

type AnalyteSpec struct {
	Name string `json:"name"`
	// Concentration in the injected sample, ppm.
	ConcentrationPPM float64 `json:"concentration_ppm"`
	// Retention factor k' at the reference temperature (40 C).
	RetentionFactor float64 `json:"retention_factor"`
	// Longitudinal diffusion coefficient, 1e-5 cm^2/s units.
	DiffusionCoefficient float64 `json:"diffusion_coefficient"`
	// Analyte-specific detector response multiplier.
	ResponseFactor float64 `json:"response_factor"`
	// Marks the internal standard in ISTD-calibrated samples.
	InternalStandard bool `json:"internal_standard,omitempty"`
}

type SampleProfile struct {
	Name     string        `json:"name"`
	Analytes []AnalyteSpec `json:"analytes"`
}

// TotalProgramMin is the programmed run window: the sum of every hold plus
// every ramp duration.
func (m MethodParameters) TotalProgramMin() float64 {
	if len(m.OvenProgram) == 0 {
		return 0
	}
	total := m.OvenProgram[0].HoldMin
	prev := m.OvenProgram[0].TargetTempC
	for _, step := range m.OvenProgram[1:] {
		if step.RampCPerMin > 0 {
			total += (step.TargetTempC - prev) / step.RampCPerMin
		}
		total += step.HoldMin
		prev = step.TargetTempC
	}
	return total
}

// TempAt evaluates the oven temperature profile at elapsed minutes t.
func (m MethodParameters) TempAt(t float64) float64 {
	if len(m.OvenProgram) == 0 {
		return 0
	}
	cur := m.OvenProgram[0].TargetTempC
	elapsed := m.OvenProgram[0].HoldMin
	if t <= elapsed {
		return cur
	}
	for _, step := range m.OvenProgram[1:] {
		if step.RampCPerMin > 0 {
			rampDur := (step.TargetTempC - cur) / step.RampCPerMin
			if t <= elapsed+rampDur {
				return cur + step.RampCPerMin*(t-elapsed)
			}
			elapsed += rampDur
		}
		cur = step.TargetTempC
		if t <= elapsed+step.HoldMin {
			return cur
		}
		elapsed += step.HoldMin
	}
	return cur
}

func (m MethodParameters) Validate() error {
	if len(m.Columns) == 0 {
		return &ValidationError{Entity: "method", Field: "columns", Reason: "at least one column is required"}
	}
	if len(m.Detectors) == 0 {
		return &ValidationError{Entity: "method", Field: "detectors", Reason: "at least one detector is required"}
	}
	for _, d := range m.Detectors {
		switch d.Kind {
		case DetectorFID, DetectorSCD, DetectorTCD, DetectorECD:
		default:
			return &ValidationError{Entity: "method", Field: "detectors", Reason: fmt.Sprintf("unknown detector kind %q", d.Kind)}
		}
	}
	if len(m.OvenProgram) == 0 {
		return &ValidationError{Entity: "method", Field: "oven_program", Reason: "oven program is empty"}
	}
	if m.OvenProgram[0].RampCPerMin != 0 {
		return &ValidationError{Entity: "method", Field: "oven_program", Reason: "first oven step must not ramp"}
	}
	prev := m.OvenProgram[0].TargetTempC
	for i, step := range m.OvenProgram {
		if step.TargetTempC <= -273.15 {
			return &ValidationError{Entity: "method", Field: "oven_program", Reason: fmt.Sprintf("step %d has non-physical temperature", i)}
		}
		if step.HoldMin < 0 {
			return &ValidationError{Entity: "method", Field: "oven_program", Reason: fmt.Sprintf("step %d has negative hold", i)}
		}
		if i > 0 {
			if step.RampCPerMin < 0 {
				return &ValidationError{Entity: "method", Field: "oven_program", Reason: fmt.Sprintf("step %d has negative ramp rate", i)}
			}
			if step.TargetTempC > prev && step.RampCPerMin == 0 {
				return &ValidationError{Entity: "method", Field: "oven_program", Reason: fmt.Sprintf("step %d raises temperature without a ramp rate", i)}
			}
			if step.TargetTempC < prev {
				return &ValidationError{Entity: "method", Field: "oven_program", Reason: fmt.Sprintf("step %d lowers temperature; steps must be ordered", i)}
			}
		}
		prev = step.TargetTempC
	}
	for _, c := range m.Columns {
		if c.LengthM <= 0 {
			return &ValidationError{Entity: "method", Field: "columns", Reason: fmt.Sprintf("column %q has non-positive length", c.Name)}
		}
	}
	return nil
}

func (s SampleProfile) Validate() error {
	if len(s.Analytes) == 0 {
		return &ValidationError{Entity: "sample", Field: "analytes", Reason: "analyte list is empty"}
	}
	for _, a := range s.Analytes {
		if a.Name == "" {
			return &ValidationError{Entity: "sample", Field: "analytes", Reason: "analyte with empty name"}
		}
		if a.ConcentrationPPM < 0 {
			return &ValidationError{Entity: "sample", Field: "analytes", Reason: fmt.Sprintf("analyte %q has negative concentration", a.Name)}
		}
		if a.RetentionFactor <= 0 {
			return &ValidationError{Entity: "sample", Field: "analytes", Reason: fmt.Sprintf("analyte %q has non-positive retention factor", a.Name)}
		}
	}
	return nil
}
