package report

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"soilscope/internal/models"
	"soilscope/internal/raster"
)

// Ramp interpolates linearly between two colours.
type Ramp struct {
	Low  color.NRGBA
	High color.NRGBA
}

var (
	SOCRamp      = Ramp{Low: color.NRGBA{R: 247, G: 252, B: 245, A: 255}, High: color.NRGBA{R: 0, G: 68, B: 27, A: 255}}
	MoistureRamp = Ramp{Low: color.NRGBA{R: 247, G: 251, B: 255, A: 255}, High: color.NRGBA{R: 8, G: 48, B: 107, A: 255}}
)

// At maps t in [0, 1] to a colour; values outside are clamped.
func (r Ramp) At(t float64) color.NRGBA {
	t = math.Max(0, math.Min(1, t))
	lerp := func(a, b uint8) uint8 {
		return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
	}
	return color.NRGBA{
		R: lerp(r.Low.R, r.High.R),
		G: lerp(r.Low.G, r.High.G),
		B: lerp(r.Low.B, r.High.B),
		A: 255,
	}
}

// RenderMap encodes the first band of img as a PNG coloured between
// stats.Min and stats.Max. Non-finite pixels are transparent.
func RenderMap(img *raster.Image, stats models.Statistics, ramp Ramp) ([]byte, error) {
	if img == nil || len(img.Bands) == 0 {
		return nil, fmt.Errorf("render map: no raster")
	}
	data := img.Bands[0].Data
	span := stats.Max - stats.Min
	canvas := image.NewNRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			v := data[y*img.Width+x]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			t := 0.5
			if span > 0 {
				t = (v - stats.Min) / span
			}
			canvas.SetNRGBA(x, y, ramp.At(t))
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Bin is one histogram bucket [Low, High).
type Bin struct {
	Low     float64
	High    float64
	Count   int
	Percent float64
}

// Histogram splits finite values into n equal-width bins over [min, max].
// The max value lands in the last bin.
func Histogram(values []float64, stats models.Statistics, n int) []Bin {
	if n <= 0 {
		return nil
	}
	width := (stats.Max - stats.Min) / float64(n)
	bins := make([]Bin, n)
	for i := range bins {
		bins[i].Low = round2(stats.Min + float64(i)*width)
		bins[i].High = round2(stats.Min + float64(i+1)*width)
	}
	total := 0
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		i := 0
		if width > 0 {
			i = int((v - stats.Min) / width)
		}
		i = max(0, min(n-1, i))
		bins[i].Count++
		total++
	}
	if total > 0 {
		for i := range bins {
			bins[i].Percent = round2(100 * float64(bins[i].Count) / float64(total))
		}
	}
	return bins
}
