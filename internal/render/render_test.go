package render

import (
	"bytes"
	"image/png"
	"math"
	"testing"

	"github.com/veldtlab/chromalab-backend/internal/analysis"
	"github.com/veldtlab/chromalab-backend/internal/analysis/peaks"
	"github.com/veldtlab/chromalab-backend/internal/analysis/simulate"
	"github.com/veldtlab/chromalab-backend/internal/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func testChromatogram() simulate.Chromatogram {
	n := 600
	times := make([]float64, n)
	signal := make([]float64, n)
	for i := range times {
		t := float64(i) * 12.0 / float64(n-1)
		times[i] = t
		signal[i] = 100 * math.Exp(-0.5*math.Pow((t-5.0)/0.1, 2))
	}
	return simulate.Chromatogram{
		Detector:       analysis.DetectorSpec{Kind: analysis.DetectorFID, Name: "Front FID"},
		TimeMin:        times,
		Signal:         signal,
		RunDurationMin: 12.0,
	}
}

func TestChromatogramEncodesPNGWithRequestedSize(t *testing.T) {
	r, err := NewRenderer(testLogger(t))
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}

	buf, err := r.Chromatogram(testChromatogram(), nil, Options{Width: 800, Height: 300})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("output is not a valid PNG: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 800 || b.Dy() != 300 {
		t.Fatalf("got %dx%d, want 800x300", b.Dx(), b.Dy())
	}
}

func TestChromatogramDefaultsAndPeakMarkers(t *testing.T) {
	r, err := NewRenderer(testLogger(t))
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}

	detected := []peaks.Peak{{RetentionTime: 5.0, Height: 100, Area: 25}}
	buf, err := r.Chromatogram(testChromatogram(), detected, Options{MarkPeaks: true, LabelApexes: true})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("output is not a valid PNG: %v", err)
	}
	if img.Bounds().Dx() != 1280 {
		t.Fatalf("default width %d, want 1280", img.Bounds().Dx())
	}
}

func TestChromatogramRejectsEmptySeries(t *testing.T) {
	r, err := NewRenderer(testLogger(t))
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	if _, err := r.Chromatogram(simulate.Chromatogram{}, nil, Options{}); err == nil {
		t.Fatalf("expected an error for an empty series")
	}
}
