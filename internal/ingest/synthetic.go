package ingest

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"github.com/paulmach/orb"
	log "github.com/sirupsen/logrus"

	"soilscope/internal/geo"
	"soilscope/internal/raster"
)

const (
	DefaultGridSize = 100

	reflectanceMax = 10000
	soilSOCMax     = 150
	cloudFraction  = 0.2
)

// SyntheticAdapter stands in for the real catalog clients. It produces
// deterministic sample scenes sized to a fixed grid over the region's bounding
// box; the same seed, region and dates always yield the same pixels.
type SyntheticAdapter struct {
	Width  int
	Height int
	Seed   uint64
}

var _ Adapter = (*SyntheticAdapter)(nil)

// NewSyntheticAdapter returns an adapter on a width x height grid; zero
// dimensions fall back to DefaultGridSize.
func NewSyntheticAdapter(width, height int, seed uint64) *SyntheticAdapter {
	if width <= 0 {
		width = DefaultGridSize
	}
	if height <= 0 {
		height = DefaultGridSize
	}
	return &SyntheticAdapter{Width: width, Height: height, Seed: seed}
}

func (a *SyntheticAdapter) Fetch(ctx context.Context, region orb.Polygon, start, end time.Time) (*Result, error) {
	if err := geo.ValidatePolygon(region); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end date %s before start date %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	minX, minY, maxX, maxY := geo.Bounds(region)
	gt := raster.FromBounds(minX, minY, maxX, maxY, a.Width, a.Height)
	rng := rand.New(rand.NewPCG(a.Seed, requestHash(minX, minY, maxX, maxY, start, end)))

	sentinel, err := a.sentinelScene(rng, gt)
	if err != nil {
		return nil, err
	}
	landsat, err := a.landsatScene(rng, gt)
	if err != nil {
		return nil, err
	}
	soil, err := a.soilGrid(rng, gt)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Sentinel: []*raster.Image{sentinel},
		Landsat:  []*raster.Image{landsat},
		Soil:     soil,
		Weather:  weatherSeries(rng, start, end),
	}
	log.WithField("grid", fmt.Sprintf("%dx%d", a.Width, a.Height)).Debugf("synthetic ingest: %s", res.Summary())
	return res, nil
}

func (a *SyntheticAdapter) sentinelScene(rng *rand.Rand, gt raster.GeoTransform) (*raster.Image, error) {
	return raster.New(a.Width, a.Height, gt, raster.CRSWGS84, 0,
		a.uniformBand(rng, raster.BandRed, reflectanceMax),
		a.uniformBand(rng, raster.BandGreen, reflectanceMax),
		a.uniformBand(rng, raster.BandBlue, reflectanceMax),
		a.uniformBand(rng, raster.BandNIR, reflectanceMax),
	)
}

func (a *SyntheticAdapter) landsatScene(rng *rand.Rand, gt raster.GeoTransform) (*raster.Image, error) {
	qa := make([]float64, a.Width*a.Height)
	for i := range qa {
		if rng.Float64() > 1-cloudFraction {
			qa[i] = 1
		}
	}
	return raster.New(a.Width, a.Height, gt, raster.CRSWGS84, 0,
		a.uniformBand(rng, raster.BandBlue, reflectanceMax),
		a.uniformBand(rng, raster.BandGreen, reflectanceMax),
		a.uniformBand(rng, raster.BandRed, reflectanceMax),
		a.uniformBand(rng, raster.BandNIR, reflectanceMax),
		a.uniformBand(rng, raster.BandSWIR1, reflectanceMax),
		a.uniformBand(rng, raster.BandSWIR2, reflectanceMax),
		raster.Band{Label: raster.BandQA, Data: qa},
	)
}

func (a *SyntheticAdapter) soilGrid(rng *rand.Rand, gt raster.GeoTransform) (*raster.Image, error) {
	return raster.New(a.Width, a.Height, gt, raster.CRSWGS84, 0,
		a.uniformBand(rng, raster.BandSOC, soilSOCMax))
}

// uniformBand draws integers in [0, upper) like an unsigned sensor product.
func (a *SyntheticAdapter) uniformBand(rng *rand.Rand, label raster.BandLabel, upper int) raster.Band {
	data := make([]float64, a.Width*a.Height)
	for i := range data {
		data[i] = float64(rng.IntN(upper))
	}
	return raster.Band{Label: label, Data: data}
}

func weatherSeries(rng *rand.Rand, start, end time.Time) []WeatherObservation {
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	var out []WeatherObservation
	for ; !day.After(last); day = day.AddDate(0, 0, 1) {
		out = append(out, WeatherObservation{
			Date:             day,
			TemperatureC:     round2(15 + 15*rng.Float64()),
			PrecipitationMM:  round2(10 * rng.Float64()),
			SolarRadiationMJ: round2(10 + 15*rng.Float64()),
		})
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func requestHash(minX, minY, maxX, maxY float64, start, end time.Time) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range []float64{minX, minY, maxX, maxY} {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	for _, t := range []time.Time{start, end} {
		binary.LittleEndian.PutUint64(buf[:], uint64(t.Unix()))
		h.Write(buf[:])
	}
	return h.Sum64()
}
