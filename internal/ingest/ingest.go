// Package ingest is the boundary to the raw data sources: optical imagery,
// gridded soil data and weather series for a region and date range.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/paulmach/orb"

	"soilscope/internal/models"
	"soilscope/internal/raster"
)

// WeatherObservation is one daily row of the weather series.
type WeatherObservation struct {
	Date             time.Time `json:"date"`
	TemperatureC     float64   `json:"temperature_c"`
	PrecipitationMM  float64   `json:"precipitation_mm"`
	SolarRadiationMJ float64   `json:"solar_radiation_mj"`
}

// Result bundles everything fetched for one job.
type Result struct {
	Sentinel []*raster.Image
	Landsat  []*raster.Image
	Soil     *raster.Image
	Weather  []WeatherObservation
}

// Images returns the scenes for a sensor family.
func (r *Result) Images(kind raster.SensorKind) []*raster.Image {
	switch kind {
	case raster.Sentinel2:
		return r.Sentinel
	case raster.Landsat:
		return r.Landsat
	default:
		return nil
	}
}

// Adapter fetches raw inputs. Region is WGS84; converting it to whatever the
// real data source needs is the adapter's job.
type Adapter interface {
	Fetch(ctx context.Context, region orb.Polygon, start, end time.Time) (*Result, error)
}

// Validate enforces the ingestion contract: every requested sensor family has
// at least one scene and soil data is present. Empty results are failures.
func Validate(res *Result, sensors []raster.SensorKind) error {
	if res == nil {
		return models.StageErrorf(models.StageIngestion, "adapter returned no data")
	}
	for _, kind := range sensors {
		images := res.Images(kind)
		if len(images) == 0 {
			return models.StageErrorf(models.StageIngestion, "no %s scenes found for region and date range", kind)
		}
		for i, img := range images {
			if img == nil {
				return models.StageErrorf(models.StageIngestion, "%s scene %d is nil", kind, i)
			}
		}
	}
	if res.Soil == nil {
		return models.StageErrorf(models.StageIngestion, "no soil grid data found for region")
	}
	return nil
}

// Summary renders a short description used in logs.
func (r *Result) Summary() string {
	return fmt.Sprintf("sentinel=%d landsat=%d soil=%t weather_days=%d",
		len(r.Sentinel), len(r.Landsat), r.Soil != nil, len(r.Weather))
}
