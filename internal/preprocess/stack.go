package preprocess

import (
	"fmt"

	"soilscope/internal/models"
	"soilscope/internal/raster"
)

// FeatureStack is the ordered model input: the reference scene's spectral
// bands in native order, then NDVI, EVI, NDMI. The order is part of the
// model contract.
type FeatureStack struct {
	Width     int
	Height    int
	Transform raster.GeoTransform
	CRS       string
	Bands     []raster.Band
}

// IndexChannels is the number of spectral index bands appended to a stack.
const IndexChannels = 3

// StackChannels is the stack width produced when reference is the first
// requested sensor.
func StackChannels(reference raster.SensorKind) int {
	return reference.SpectralBands() + IndexChannels
}

// Channels returns the number of stacked bands.
func (s *FeatureStack) Channels() int {
	return len(s.Bands)
}

// Labels lists the stacked band labels in order.
func (s *FeatureStack) Labels() []raster.BandLabel {
	out := make([]raster.BandLabel, len(s.Bands))
	for i, b := range s.Bands {
		out[i] = b.Label
	}
	return out
}

// Assemble builds the stack from the first image and the first index set.
// Every supplied raster must share one width x height; nothing is resampled
// and no partial stack is returned on error.
func Assemble(images []*raster.Image, indices []*SpectralIndexSet) (*FeatureStack, error) {
	if len(images) == 0 {
		return nil, models.StageErrorf(models.StagePreprocessing, "feature stack: no reference image")
	}
	if len(indices) == 0 {
		return nil, models.StageErrorf(models.StagePreprocessing, "feature stack: no spectral indices")
	}
	ref := images[0]
	if ref == nil {
		return nil, models.StageErrorf(models.StagePreprocessing, "feature stack: nil reference image")
	}

	check := func(what string, img *raster.Image) error {
		if img == nil {
			return models.StageErrorf(models.StagePreprocessing, "feature stack: %s is nil", what)
		}
		if !ref.SameGrid(img) {
			return models.StageErrorf(models.StagePreprocessing,
				"feature stack: %s is %dx%d, reference is %dx%d", what, img.Width, img.Height, ref.Width, ref.Height)
		}
		for _, b := range img.Bands {
			if len(b.Data) != ref.Pixels() {
				return models.StageErrorf(models.StagePreprocessing,
					"feature stack: %s band %s has %d pixels, want %d", what, b.Label, len(b.Data), ref.Pixels())
			}
		}
		return nil
	}
	for i, img := range images {
		if err := check(fmt.Sprintf("image %d", i), img); err != nil {
			return nil, err
		}
	}
	for i, set := range indices {
		if set == nil {
			return nil, models.StageErrorf(models.StagePreprocessing, "feature stack: index set %d is nil", i)
		}
		for _, idx := range set.Ordered() {
			name := fmt.Sprintf("index set %d", i)
			if idx != nil && len(idx.Bands) > 0 {
				name = fmt.Sprintf("index set %d %s", i, idx.Bands[0].Label)
			}
			if err := check(name, idx); err != nil {
				return nil, err
			}
		}
	}

	stack := &FeatureStack{
		Width:     ref.Width,
		Height:    ref.Height,
		Transform: ref.Transform,
		CRS:       ref.CRS,
	}
	for _, b := range ref.Bands {
		if b.Label.IsQuality() {
			continue
		}
		stack.Bands = append(stack.Bands, b)
	}
	for _, idx := range indices[0].Ordered() {
		stack.Bands = append(stack.Bands, idx.Bands[0])
	}
	return stack, nil
}
