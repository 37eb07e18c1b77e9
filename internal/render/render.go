package render

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"os"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/veldtlab/chromalab-backend/internal/analysis/peaks"
	"github.com/veldtlab/chromalab-backend/internal/analysis/simulate"
	"github.com/veldtlab/chromalab-backend/internal/logger"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
)

const (
	marginLeft   = 72.0
	marginRight  = 24.0
	marginTop    = 48.0
	marginBottom = 56.0
)

var tracePalette = []color.NRGBA{
	{R: 0x1F, G: 0x77, B: 0xB4, A: 0xFF},
	{R: 0xD6, G: 0x27, B: 0x28, A: 0xFF},
	{R: 0x2C, G: 0xA0, B: 0x2C, A: 0xFF},
	{R: 0x94, G: 0x67, B: 0xBD, A: 0xFF},
}

type Options struct {
	Width       int
	Height      int
	Title       string
	MarkPeaks   bool
	LabelApexes bool
}

// Renderer draws chromatogram traces to PNG. It is safe for
// concurrent use: the font face is loaded once at construction.
type Renderer struct {
	log      *logger.Logger
	fontFace font.Face
	fontBig  font.Face
}

// NewRenderer loads an optional TTF from CHROMALAB_FONT_PATH and falls
// back to the fixed 7x13 face when the variable is unset.
func NewRenderer(log *logger.Logger) (*Renderer, error) {
	rlog := log.With("component", "Renderer")

	fontPath := strings.TrimSpace(os.Getenv("CHROMALAB_FONT_PATH"))
	if fontPath == "" {
		rlog.Debug("CHROMALAB_FONT_PATH unset, using built-in face")
		return &Renderer{log: rlog, fontFace: basicfont.Face7x13, fontBig: basicfont.Face7x13}, nil
	}

	rlog.Info("Loading plot font", "font", fontPath)
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("read font file: %w", err)
	}
	parsedFont, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("parse TTF: %w", err)
	}
	small := truetype.NewFace(parsedFont, &truetype.Options{Size: 12, DPI: 72, Hinting: font.HintingNone})
	big := truetype.NewFace(parsedFont, &truetype.Options{Size: 16, DPI: 72, Hinting: font.HintingNone})
	return &Renderer{log: rlog, fontFace: small, fontBig: big}, nil
}

// Chromatogram renders a single detector trace with axes and an
// optional set of detected peak markers.
func (r *Renderer) Chromatogram(ch simulate.Chromatogram, detected []peaks.Peak, opts Options) (bytes.Buffer, error) {
	var buf bytes.Buffer
	if len(ch.TimeMin) == 0 || len(ch.TimeMin) != len(ch.Signal) {
		return buf, fmt.Errorf("chromatogram has no drawable samples")
	}
	if opts.Width <= 0 {
		opts.Width = 1280
	}
	if opts.Height <= 0 {
		opts.Height = 480
	}

	dc := gg.NewContext(opts.Width, opts.Height)
	dc.SetColor(color.White)
	dc.Clear()

	plotW := float64(opts.Width) - marginLeft - marginRight
	plotH := float64(opts.Height) - marginTop - marginBottom

	tMin, tMax := ch.TimeMin[0], ch.TimeMin[len(ch.TimeMin)-1]
	sMin, sMax := seriesRange(ch.Signal)
	if sMax <= sMin {
		sMax = sMin + 1
	}
	// Headroom so the tallest apex does not touch the frame.
	pad := (sMax - sMin) * 0.06
	sMin -= pad
	sMax += pad

	toX := func(t float64) float64 {
		return marginLeft + (t-tMin)/(tMax-tMin)*plotW
	}
	toY := func(s float64) float64 {
		return marginTop + (1-(s-sMin)/(sMax-sMin))*plotH
	}

	r.drawFrame(dc, opts, tMin, tMax, sMin, sMax, toX, toY)

	// Trace
	trace := tracePalette[traceIndex(string(ch.Detector.Kind))]
	dc.SetColor(trace)
	dc.SetLineWidth(1.4)
	dc.MoveTo(toX(ch.TimeMin[0]), toY(ch.Signal[0]))
	for i := 1; i < len(ch.TimeMin); i++ {
		dc.LineTo(toX(ch.TimeMin[i]), toY(ch.Signal[i]))
	}
	dc.Stroke()

	if opts.MarkPeaks {
		r.drawPeakMarkers(dc, detected, opts, toX, toY)
	}

	title := opts.Title
	if title == "" {
		title = fmt.Sprintf("%s (%s)", ch.Detector.Name, ch.Detector.Kind)
	}
	dc.SetFontFace(r.fontBig)
	dc.SetColor(color.Black)
	tw, _ := dc.MeasureString(title)
	dc.DrawString(title, marginLeft+(plotW-tw)/2, marginTop-16)

	if err := dc.EncodePNG(&buf); err != nil {
		return buf, fmt.Errorf("encode PNG: %w", err)
	}
	return buf, nil
}

func (r *Renderer) drawFrame(dc *gg.Context, opts Options, tMin, tMax, sMin, sMax float64, toX, toY func(float64) float64) {
	grid := color.NRGBA{R: 0xE0, G: 0xE0, B: 0xE0, A: 0xFF}
	axis := color.NRGBA{R: 0x40, G: 0x40, B: 0x40, A: 0xFF}

	dc.SetFontFace(r.fontFace)

	// Vertical gridlines with minute labels.
	for _, t := range niceTicks(tMin, tMax, 10) {
		x := toX(t)
		dc.SetColor(grid)
		dc.SetLineWidth(1)
		dc.DrawLine(x, marginTop, x, float64(opts.Height)-marginBottom)
		dc.Stroke()

		label := fmt.Sprintf("%.1f", t)
		dc.SetColor(axis)
		lw, _ := dc.MeasureString(label)
		dc.DrawString(label, x-lw/2, float64(opts.Height)-marginBottom+18)
	}

	// Horizontal gridlines with signal labels.
	for _, s := range niceTicks(sMin, sMax, 6) {
		y := toY(s)
		dc.SetColor(grid)
		dc.SetLineWidth(1)
		dc.DrawLine(marginLeft, y, float64(opts.Width)-marginRight, y)
		dc.Stroke()

		label := fmt.Sprintf("%.0f", s)
		dc.SetColor(axis)
		lw, _ := dc.MeasureString(label)
		dc.DrawString(label, marginLeft-lw-8, y+4)
	}

	// Frame on top of the grid.
	dc.SetColor(axis)
	dc.SetLineWidth(1.2)
	dc.DrawRectangle(marginLeft, marginTop, float64(opts.Width)-marginLeft-marginRight, float64(opts.Height)-marginTop-marginBottom)
	dc.Stroke()

	dc.DrawString("min", float64(opts.Width)-marginRight-24, float64(opts.Height)-marginBottom+36)
}

func (r *Renderer) drawPeakMarkers(dc *gg.Context, detected []peaks.Peak, opts Options, toX, toY func(float64) float64) {
	marker := color.NRGBA{R: 0xFF, G: 0x7F, B: 0x0E, A: 0xFF}
	dc.SetFontFace(r.fontFace)

	for i, p := range detected {
		x := toX(p.RetentionTime)
		dc.SetColor(marker)
		dc.SetLineWidth(1)
		dc.DrawLine(x, marginTop, x, float64(opts.Height)-marginBottom)
		dc.SetDash(4, 4)
		dc.Stroke()
		dc.SetDash()

		if opts.LabelApexes {
			label := fmt.Sprintf("#%d %.2f", i+1, p.RetentionTime)
			if p.Unresolved {
				label += " *"
			}
			dc.SetColor(color.Black)
			dc.DrawString(label, x+4, marginTop+14+float64(i%4)*14)
		}
	}
}

func seriesRange(s []float64) (float64, float64) {
	lo, hi := s[0], s[0]
	for _, v := range s[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// niceTicks returns round tick positions covering [lo, hi] with at
// most n intervals.
func niceTicks(lo, hi float64, n int) []float64 {
	if hi <= lo || n < 1 {
		return nil
	}
	raw := (hi - lo) / float64(n)
	mag := math.Pow(10, math.Floor(math.Log10(raw)))
	step := mag
	for _, m := range []float64{1, 2, 2.5, 5, 10} {
		if mag*m >= raw {
			step = mag * m
			break
		}
	}
	start := math.Ceil(lo/step) * step
	var ticks []float64
	for t := start; t <= hi+step*1e-9; t += step {
		ticks = append(ticks, t)
	}
	return ticks
}

func traceIndex(kind string) int {
	switch kind {
	case "FID":
		return 0
	case "SCD":
		return 1
	case "TCD":
		return 2
	case "ECD":
		return 3
	}
	return 0
}
