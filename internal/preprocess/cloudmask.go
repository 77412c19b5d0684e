// Package preprocess turns raw scenes into model input: per-sensor cloud
// masking, spectral indices and the ordered feature stack.
package preprocess

import (
	"soilscope/internal/models"
	"soilscope/internal/raster"
)

const (
	minSentinelBands = 4
	minLandsatBands  = 7
)

// Sentinel-2 scene classification classes treated as obstructed.
var sclObstructed = map[int]bool{
	3:  true, // cloud shadow
	8:  true, // cloud, medium probability
	9:  true, // cloud, high probability
	10: true, // thin cirrus
}

// MaskedImage is a scene whose obstructed pixels hold the nodata value. The
// mask that was applied is kept alongside for auditing.
type MaskedImage struct {
	*raster.Image
	Sensor    raster.SensorKind
	CloudMask []bool
}

// MaskedCount returns how many pixels were masked.
func (m *MaskedImage) MaskedCount() int {
	n := 0
	for _, v := range m.CloudMask {
		if v {
			n++
		}
	}
	return n
}

// Mask applies the sensor's cloud/shadow mask. The input is not modified.
func Mask(img *raster.Image, sensor raster.SensorKind) (*MaskedImage, error) {
	if img == nil {
		return nil, models.StageErrorf(models.StagePreprocessing, "cloud mask: nil image")
	}

	var (
		cloud   []bool
		flagIdx int
	)
	switch sensor {
	case raster.Sentinel2:
		if len(img.Bands) < minSentinelBands {
			return nil, models.StageErrorf(models.StagePreprocessing,
				"cloud mask: sentinel2 image has %d bands, need at least %d", len(img.Bands), minSentinelBands)
		}
		flagIdx = img.BandIndex(raster.BandSCL)
		cloud = make([]bool, img.Pixels())
		if flagIdx >= 0 {
			for i, v := range img.Bands[flagIdx].Data {
				cloud[i] = sclObstructed[int(v)]
			}
		}
	case raster.Landsat:
		if len(img.Bands) < minLandsatBands {
			return nil, models.StageErrorf(models.StagePreprocessing,
				"cloud mask: landsat image has %d bands, need at least %d", len(img.Bands), minLandsatBands)
		}
		flagIdx = len(img.Bands) - 1
		cloud = make([]bool, img.Pixels())
		for i, v := range img.Bands[flagIdx].Data {
			cloud[i] = v != 0
		}
	default:
		return nil, models.StageErrorf(models.StagePreprocessing, "cloud mask: unsupported sensor %q", sensor)
	}

	out := img.Clone()
	for b := range out.Bands {
		if b == flagIdx {
			continue
		}
		data := out.Bands[b].Data
		for i, masked := range cloud {
			if masked {
				data[i] = out.NoData
			}
		}
	}
	return &MaskedImage{Image: out, Sensor: sensor, CloudMask: cloud}, nil
}
