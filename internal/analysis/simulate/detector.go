package simulate

import "github.com/veldtlab/chromalab-backend/internal/analysis"

// detectorProfile is the closed capability set for a detector variant:
// response gain, noise character and peak asymmetry. Selection is by kind tag,
// never by probing.
type detectorProfile struct {
	// Multiplies analyte response factors into signal counts.
	Gain float64
	// White noise standard deviation, counts.
	WhiteNoiseSD float64
	// Amplitude of the slow baseline wander, counts.
	DriftAmplitude float64
	// Random-walk step mixed into the drift, counts per sample.
	WanderStep float64
	// EMG asymmetry: tau = (Asymmetry - 1) * sigma.
	Asymmetry float64
}

var detectorProfiles = map[analysis.DetectorKind]detectorProfile{
	analysis.DetectorFID: {Gain: 1.0, WhiteNoiseSD: 0.8, DriftAmplitude: 1.5, WanderStep: 0.02, Asymmetry: 1.12},
	analysis.DetectorSCD: {Gain: 0.45, WhiteNoiseSD: 2.5, DriftAmplitude: 4.0, WanderStep: 0.05, Asymmetry: 1.30},
	analysis.DetectorTCD: {Gain: 0.22, WhiteNoiseSD: 1.2, DriftAmplitude: 8.0, WanderStep: 0.12, Asymmetry: 1.18},
	analysis.DetectorECD: {Gain: 2.1, WhiteNoiseSD: 1.8, DriftAmplitude: 2.5, WanderStep: 0.04, Asymmetry: 1.35},
}

func profileFor(kind analysis.DetectorKind) detectorProfile {
	if p, ok := detectorProfiles[kind]; ok {
		return p
	}
	return detectorProfiles[analysis.DetectorFID]
}
