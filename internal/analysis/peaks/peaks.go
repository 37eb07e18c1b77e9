// Package peaks extracts peaks from a detector time series. It works on any
// (time, signal) pair, simulated or imported.
package peaks

import (
	"fmt"
	"math"
	"sort"
)

const (
	BaselineValleys = "valleys"
	BaselineASLS    = "asls"

	defaultSmoothingWindow = 5
	// Boundary walk stops once the corrected signal stays below this many
	// noise standard deviations.
	noiseReturnMultiplier = 3.0
	// A shared valley higher than this fraction of the lower apex marks both
	// peaks unresolved.
	unresolvedValleyFraction = 0.5
)

type Options struct {
	// Minimum apex height above baseline. Zero derives a floor from the
	// estimated noise level.
	MinHeight float64
	// Peaks with smaller area are discarded as noise.
	MinArea float64
	// Moving-average width in samples, forced odd. Zero means the default.
	SmoothingWindow int
	// BaselineValleys or BaselineASLS. Empty means valleys.
	BaselineMethod string
}

type Peak struct {
	RetentionTime        float64 `json:"retention_time"`
	StartTime            float64 `json:"start_time"`
	EndTime              float64 `json:"end_time"`
	Height               float64 `json:"height"`
	Area                 float64 `json:"area"`
	WidthHalfHeight      float64 `json:"width_half_height"`
	TailingFactor        float64 `json:"tailing_factor"`
	PlateCount           float64 `json:"plate_count"`
	ResolutionToPrevious float64 `json:"resolution_to_previous"`
	Unresolved           bool    `json:"unresolved,omitempty"`
	ApexIndex            int     `json:"apex_index"`
}

// InvalidSignalError reports a structurally unusable input series.
type InvalidSignalError struct {
	Reason string
}

func (e *InvalidSignalError) Error() string {
	return fmt.Sprintf("invalid signal: %s", e.Reason)
}

// Detect runs baseline correction, apex detection, the boundary walk and the
// per-peak metrics. A signal with nothing above threshold yields an empty,
// non-nil slice.
func Detect(timeMin, signal []float64, opts Options) ([]Peak, error) {
	if len(timeMin) != len(signal) {
		return nil, &InvalidSignalError{Reason: fmt.Sprintf("time and signal lengths differ (%d vs %d)", len(timeMin), len(signal))}
	}
	if len(signal) < 2 {
		return nil, &InvalidSignalError{Reason: fmt.Sprintf("need at least 2 samples, got %d", len(signal))}
	}
	for i := 1; i < len(timeMin); i++ {
		if timeMin[i] <= timeMin[i-1] {
			return nil, &InvalidSignalError{Reason: fmt.Sprintf("time axis not strictly increasing at sample %d", i)}
		}
	}

	window := opts.SmoothingWindow
	if window <= 0 {
		window = defaultSmoothingWindow
	}
	if window%2 == 0 {
		window++
	}

	baseline := estimateBaseline(signal, opts.BaselineMethod, window)
	n := len(signal)
	corrected := make([]float64, n)
	for i := range corrected {
		corrected[i] = signal[i] - baseline[i]
	}
	smoothed := movingAverage(corrected, window)
	noise := estimateNoise(corrected, smoothed)

	minHeight := opts.MinHeight
	if minHeight <= 0 {
		minHeight = 5 * noise
	}
	if minHeight <= 0 {
		minHeight = 1e-12
	}

	apexes := findApexes(smoothed, minHeight)
	if len(apexes) == 0 {
		return []Peak{}, nil
	}

	// Shared valleys between consecutive apexes become split points.
	valleys := make([]int, len(apexes)-1)
	for k := 0; k < len(apexes)-1; k++ {
		valleys[k] = argminRange(smoothed, apexes[k], apexes[k+1])
	}

	floor := noiseReturnMultiplier * noise
	detected := make([]Peak, 0, len(apexes))
	for k, apex := range apexes {
		start := walkLeft(smoothed, apex, floor)
		end := walkRight(smoothed, apex, floor)
		unresolved := false
		if k > 0 && start < valleys[k-1] {
			start = valleys[k-1]
			if !valleyResolves(smoothed, valleys[k-1], apexes[k-1], apex) {
				unresolved = true
			}
		}
		if k < len(apexes)-1 && end > valleys[k] {
			end = valleys[k]
			if !valleyResolves(smoothed, valleys[k], apex, apexes[k+1]) {
				unresolved = true
			}
		}
		if end-start+1 < window {
			continue // narrower than the smoothing window: noise
		}

		p := measurePeak(timeMin, corrected, apex, start, end)
		p.Unresolved = unresolved
		if p.Height < minHeight {
			continue
		}
		if opts.MinArea > 0 && p.Area < opts.MinArea {
			continue
		}
		detected = append(detected, p)
	}

	sort.Slice(detected, func(i, j int) bool { return detected[i].RetentionTime < detected[j].RetentionTime })
	for i := 1; i < len(detected); i++ {
		wSum := detected[i].WidthHalfHeight + detected[i-1].WidthHalfHeight
		if wSum > 0 {
			detected[i].ResolutionToPrevious = 2 * (detected[i].RetentionTime - detected[i-1].RetentionTime) / wSum
		}
	}
	return detected, nil
}

// estimateNoise is a robust (median absolute deviation) estimate of the
// high-frequency residual left after smoothing.
func estimateNoise(corrected, smoothed []float64) float64 {
	resid := make([]float64, len(corrected))
	for i := range corrected {
		resid[i] = math.Abs(corrected[i] - smoothed[i])
	}
	sort.Float64s(resid)
	mad := resid[len(resid)/2]
	return 1.4826 * mad
}

func findApexes(smoothed []float64, minHeight float64) []int {
	var apexes []int
	for i := 1; i < len(smoothed)-1; i++ {
		if smoothed[i] < minHeight {
			continue
		}
		if smoothed[i] > smoothed[i-1] && smoothed[i] >= smoothed[i+1] {
			apexes = append(apexes, i)
		}
	}
	return apexes
}

func argminRange(v []float64, lo, hi int) int {
	best := lo
	for i := lo + 1; i <= hi; i++ {
		if v[i] < v[best] {
			best = i
		}
	}
	return best
}

func walkLeft(smoothed []float64, apex int, floor float64) int {
	i := apex
	for i > 0 && smoothed[i] > floor {
		i--
	}
	return i
}

func walkRight(smoothed []float64, apex int, floor float64) int {
	i := apex
	for i < len(smoothed)-1 && smoothed[i] > floor {
		i++
	}
	return i
}

// valleyResolves reports whether the valley drops far enough below both
// apexes to justify a perpendicular split.
func valleyResolves(smoothed []float64, valley, apexA, apexB int) bool {
	lower := math.Min(smoothed[apexA], smoothed[apexB])
	if lower <= 0 {
		return true
	}
	return smoothed[valley] <= unresolvedValleyFraction*lower
}

func measurePeak(timeMin, corrected []float64, apex, start, end int) Peak {
	// Refine the apex on the unsmoothed signal near the smoothed candidate.
	lo, hi := apex-2, apex+2
	if lo < start {
		lo = start
	}
	if hi > end {
		hi = end
	}
	for i := lo; i <= hi; i++ {
		if corrected[i] > corrected[apex] {
			apex = i
		}
	}
	height := corrected[apex]
	rt := timeMin[apex]

	area := 0.0
	for i := start; i < end; i++ {
		area += 0.5 * (corrected[i] + corrected[i+1]) * (timeMin[i+1] - timeMin[i])
	}

	leftHalf := crossingTime(timeMin, corrected, apex, start, height/2, -1)
	rightHalf := crossingTime(timeMin, corrected, apex, end, height/2, +1)
	whh := widthFromCrossings(rt, leftHalf, rightHalf)

	left10 := crossingTime(timeMin, corrected, apex, start, height*0.10, -1)
	right10 := crossingTime(timeMin, corrected, apex, end, height*0.10, +1)
	tailing := 0.0
	front := rt - left10
	back := right10 - rt
	if front > 0 {
		tailing = back / front
	}

	plates := 0.0
	if whh > 0 {
		plates = 5.54 * (rt / whh) * (rt / whh)
	}

	return Peak{
		RetentionTime:   rt,
		StartTime:       timeMin[start],
		EndTime:         timeMin[end],
		Height:          height,
		Area:            area,
		WidthHalfHeight: whh,
		TailingFactor:   tailing,
		PlateCount:      plates,
		ApexIndex:       apex,
	}
}

// crossingTime walks from the apex toward limit until the signal drops below
// level, then linearly interpolates the crossing time. If the level is never
// crossed (truncated side of an overlap), the limit time is returned.
func crossingTime(timeMin, corrected []float64, apex, limit int, level float64, dir int) float64 {
	i := apex
	for i != limit {
		next := i + dir
		if corrected[next] <= level {
			span := corrected[i] - corrected[next]
			frac := 0.0
			if span > 0 {
				frac = (corrected[i] - level) / span
			}
			return timeMin[i] + frac*(timeMin[next]-timeMin[i])
		}
		i = next
	}
	return timeMin[limit]
}

// widthFromCrossings symmetrizes the half-height width when one side is
// truncated at a shared valley.
func widthFromCrossings(rt, left, right float64) float64 {
	l := rt - left
	r := right - rt
	if l <= 0 && r <= 0 {
		return 0
	}
	if l <= 0 {
		return 2 * r
	}
	if r <= 0 {
		return 2 * l
	}
	return l + r
}
