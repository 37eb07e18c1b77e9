// Package calibration fits response-vs-concentration models from standards
// and inverts them to quantitate unknowns.
package calibration

import (
	"math"
	"sort"
)

type FitType string

const (
	FitLinear              FitType = "linear"
	FitLinearThroughOrigin FitType = "linearThroughOrigin"
	FitQuadratic           FitType = "quadratic"
)

type Weighting string

const (
	WeightNone     Weighting = "none"
	WeightInvX     Weighting = "1/x"
	WeightInvXSq   Weighting = "1/x2"
)

type Mode string

const (
	ModeExternal Mode = "external"
	ModeIstd     Mode = "istd"
)

type StandardPoint struct {
	Concentration float64 `json:"concentration"`
	Response      float64 `json:"response"`
}

// CurveFit is a fitted calibration model. Coeffs holds c0 + c1*x + c2*x^2;
// unused terms are zero.
type CurveFit struct {
	Analyte     string          `json:"analyte"`
	Type        FitType         `json:"type"`
	Weighting   Weighting       `json:"weighting"`
	Mode        Mode            `json:"mode"`
	IstdAnalyte string          `json:"istd_analyte,omitempty"`
	Points      []StandardPoint `json:"points"`
	Coeffs      [3]float64      `json:"coeffs"`
	ResidualSD  float64         `json:"residual_sd"`
	RSquared    float64         `json:"r_squared"`
	LOD         float64         `json:"lod"`
	LOQ         float64         `json:"loq"`
	MinConc     float64         `json:"min_conc"`
	MaxConc     float64         `json:"max_conc"`
}

const singularEps = 1e-12

// Fit runs the requested weighted regression over the standard points. In
// ISTD mode the caller supplies ratio-domain points (analyteArea/istdArea vs
// analyteConc/istdConc); the fit itself is mode-agnostic.
func Fit(analyte string, points []StandardPoint, fitType FitType, weighting Weighting, mode Mode, istdAnalyte string) (*CurveFit, error) {
	switch fitType {
	case FitLinear, FitLinearThroughOrigin, FitQuadratic:
	default:
		return nil, &DegenerateFitError{Analyte: analyte, Reason: "unknown fit type " + string(fitType)}
	}
	switch weighting {
	case WeightNone, WeightInvX, WeightInvXSq:
	default:
		return nil, &DegenerateFitError{Analyte: analyte, Reason: "unknown weighting " + string(weighting)}
	}
	switch mode {
	case ModeExternal:
	case ModeIstd:
		if istdAnalyte == "" {
			return nil, &DegenerateFitError{Analyte: analyte, Reason: "istd mode requires an internal standard analyte"}
		}
	default:
		return nil, &DegenerateFitError{Analyte: analyte, Reason: "calibration mode must be explicit (external or istd)"}
	}

	pts := make([]StandardPoint, len(points))
	copy(pts, points)
	sort.Slice(pts, func(i, j int) bool { return pts[i].Concentration < pts[j].Concentration })

	levels := distinctLevels(pts)
	if levels < 2 {
		return nil, &DegenerateFitError{Analyte: analyte, Reason: "fewer than 2 distinct concentration levels"}
	}
	if fitType == FitQuadratic && levels < 3 {
		return nil, &DegenerateFitError{Analyte: analyte, Reason: "quadratic fit needs at least 3 distinct levels"}
	}
	for _, p := range pts {
		if p.Concentration < 0 {
			return nil, &DegenerateFitError{Analyte: analyte, Reason: "negative standard concentration"}
		}
	}
	if err := checkMonotone(analyte, pts); err != nil {
		return nil, err
	}

	w := weights(pts, weighting)
	var coeffs [3]float64
	var err error
	switch fitType {
	case FitLinearThroughOrigin:
		coeffs, err = fitThroughOrigin(analyte, pts, w)
	case FitLinear:
		coeffs, err = fitPolynomial(analyte, pts, w, 1)
	case FitQuadratic:
		coeffs, err = fitPolynomial(analyte, pts, w, 2)
	}
	if err != nil {
		return nil, err
	}

	fit := &CurveFit{
		Analyte:     analyte,
		Type:        fitType,
		Weighting:   weighting,
		Mode:        mode,
		IstdAnalyte: istdAnalyte,
		Points:      pts,
		Coeffs:      coeffs,
		MinConc:     pts[0].Concentration,
		MaxConc:     pts[len(pts)-1].Concentration,
	}
	fit.ResidualSD, fit.RSquared = residualStats(pts, coeffs)

	slope := coeffs[1]
	if math.Abs(slope) < singularEps {
		return nil, &DegenerateFitError{Analyte: analyte, Reason: "fitted slope is zero"}
	}
	fit.LOD = 3.3 * fit.ResidualSD / slope
	fit.LOQ = 10 * fit.ResidualSD / slope
	return fit, nil
}

// Predict evaluates the fitted curve at concentration x.
func (f *CurveFit) Predict(x float64) float64 {
	return f.Coeffs[0] + f.Coeffs[1]*x + f.Coeffs[2]*x*x
}

// Invert maps a response back to concentration. Quadratic fits pick the real
// root nearest the calibrated range; non-physical roots are discarded.
func (f *CurveFit) Invert(response float64) (float64, error) {
	c0, c1, c2 := f.Coeffs[0], f.Coeffs[1], f.Coeffs[2]
	if math.Abs(c2) < singularEps {
		if math.Abs(c1) < singularEps {
			return 0, &RootSelectionError{Analyte: f.Analyte, Response: response, Reason: "zero slope"}
		}
		return (response - c0) / c1, nil
	}
	disc := c1*c1 - 4*c2*(c0-response)
	if disc < 0 {
		return 0, &RootSelectionError{Analyte: f.Analyte, Response: response, Reason: "no real root"}
	}
	sqrtD := math.Sqrt(disc)
	roots := []float64{(-c1 + sqrtD) / (2 * c2), (-c1 - sqrtD) / (2 * c2)}

	span := f.MaxConc - f.MinConc
	if span <= 0 {
		span = math.Max(f.MaxConc, 1)
	}
	best := math.NaN()
	bestDist := math.Inf(1)
	for _, r := range roots {
		if r < 0 {
			continue // non-physical
		}
		if r > f.MaxConc+10*span || r < f.MinConc-10*span {
			continue // far outside any calibrated neighborhood
		}
		d := distanceToRange(r, f.MinConc, f.MaxConc)
		if d < bestDist {
			best = r
			bestDist = d
		}
	}
	if math.IsNaN(best) {
		return 0, &RootSelectionError{Analyte: f.Analyte, Response: response, Reason: "no physical root near the calibrated range"}
	}
	return best, nil
}

func distanceToRange(x, lo, hi float64) float64 {
	if x < lo {
		return lo - x
	}
	if x > hi {
		return x - hi
	}
	return 0
}

func distinctLevels(pts []StandardPoint) int {
	levels := 0
	for i, p := range pts {
		if i == 0 || math.Abs(p.Concentration-pts[i-1].Concentration) > 1e-12 {
			levels++
		}
	}
	return levels
}

// checkMonotone enforces the model invariant that mean response does not
// decrease with concentration. Replicate scatter inside a level is fine;
// a drop between level means beyond tolerance is not.
func checkMonotone(analyte string, pts []StandardPoint) error {
	type level struct {
		conc, sum float64
		n         int
	}
	var levels []level
	for _, p := range pts {
		if len(levels) > 0 && math.Abs(p.Concentration-levels[len(levels)-1].conc) <= 1e-12 {
			levels[len(levels)-1].sum += p.Response
			levels[len(levels)-1].n++
			continue
		}
		levels = append(levels, level{conc: p.Concentration, sum: p.Response, n: 1})
	}
	lo := levels[0].sum / float64(levels[0].n)
	hi := levels[len(levels)-1].sum / float64(levels[len(levels)-1].n)
	tol := 0.02 * math.Abs(hi-lo)
	prev := lo
	for _, l := range levels[1:] {
		mean := l.sum / float64(l.n)
		if mean < prev-tol {
			return &DegenerateFitError{Analyte: analyte, Reason: "responses decrease with concentration"}
		}
		prev = mean
	}
	if hi <= lo {
		return &DegenerateFitError{Analyte: analyte, Reason: "responses do not increase across the calibrated range"}
	}
	return nil
}

func weights(pts []StandardPoint, weighting Weighting) []float64 {
	w := make([]float64, len(pts))
	for i, p := range pts {
		switch weighting {
		case WeightInvX:
			if p.Concentration > 0 {
				w[i] = 1 / p.Concentration
			} else {
				w[i] = 1
			}
		case WeightInvXSq:
			if p.Concentration > 0 {
				w[i] = 1 / (p.Concentration * p.Concentration)
			} else {
				w[i] = 1
			}
		default:
			w[i] = 1
		}
	}
	return w
}

func fitThroughOrigin(analyte string, pts []StandardPoint, w []float64) ([3]float64, error) {
	sxx, sxy := 0.0, 0.0
	for i, p := range pts {
		sxx += w[i] * p.Concentration * p.Concentration
		sxy += w[i] * p.Concentration * p.Response
	}
	if math.Abs(sxx) < singularEps {
		return [3]float64{}, &DegenerateFitError{Analyte: analyte, Reason: "singular regression matrix"}
	}
	return [3]float64{0, sxy / sxx, 0}, nil
}

// fitPolynomial solves the weighted normal equations for degree 1 or 2.
func fitPolynomial(analyte string, pts []StandardPoint, w []float64, degree int) ([3]float64, error) {
	size := degree + 1
	var m [3][3]float64
	var v [3]float64
	for i, p := range pts {
		x := p.Concentration
		pow := [5]float64{1, x, x * x, x * x * x, x * x * x * x}
		for r := 0; r < size; r++ {
			for c := 0; c < size; c++ {
				m[r][c] += w[i] * pow[r+c]
			}
			v[r] += w[i] * pow[r] * p.Response
		}
	}
	sol, ok := solveSymmetric(m, v, size)
	if !ok {
		return [3]float64{}, &DegenerateFitError{Analyte: analyte, Reason: "singular regression matrix"}
	}
	return sol, nil
}

// solveSymmetric runs Gaussian elimination with partial pivoting on the
// size x size leading block.
func solveSymmetric(m [3][3]float64, v [3]float64, size int) ([3]float64, bool) {
	for col := 0; col < size; col++ {
		pivot := col
		for r := col + 1; r < size; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < singularEps {
			return [3]float64{}, false
		}
		if pivot != col {
			m[pivot], m[col] = m[col], m[pivot]
			v[pivot], v[col] = v[col], v[pivot]
		}
		for r := col + 1; r < size; r++ {
			f := m[r][col] / m[col][col]
			for c := col; c < size; c++ {
				m[r][c] -= f * m[col][c]
			}
			v[r] -= f * v[col]
		}
	}
	var out [3]float64
	for r := size - 1; r >= 0; r-- {
		sum := v[r]
		for c := r + 1; c < size; c++ {
			sum -= m[r][c] * out[c]
		}
		out[r] = sum / m[r][r]
	}
	return out, true
}

func residualStats(pts []StandardPoint, coeffs [3]float64) (residSD, r2 float64) {
	n := len(pts)
	meanY := 0.0
	for _, p := range pts {
		meanY += p.Response
	}
	meanY /= float64(n)

	ssRes, ssTot := 0.0, 0.0
	for _, p := range pts {
		pred := coeffs[0] + coeffs[1]*p.Concentration + coeffs[2]*p.Concentration*p.Concentration
		ssRes += (p.Response - pred) * (p.Response - pred)
		ssTot += (p.Response - meanY) * (p.Response - meanY)
	}
	dof := n - 2
	if coeffs[2] != 0 {
		dof = n - 3
	}
	if dof < 1 {
		dof = 1
	}
	residSD = math.Sqrt(ssRes / float64(dof))
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}
	return residSD, r2
}
