// Package report turns prediction results into a stored report: colour
// maps, summary statistics and an HTML document.
package report

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"soilscope/internal/ingest"
	"soilscope/internal/models"
)

// DateLayout is how report dates are printed, e.g. "March 01, 2024".
const DateLayout = "January 02, 2006"

// DataSource describes one input family in the report.
type DataSource struct {
	Name   string
	Detail string
}

// WeatherSummary aggregates the daily weather series.
type WeatherSummary struct {
	Days                 int
	MeanTemperatureC     float64
	TotalPrecipitationMM float64
	MeanSolarRadiationMJ float64
}

// SummarizeWeather reduces daily observations to a WeatherSummary.
func SummarizeWeather(obs []ingest.WeatherObservation) WeatherSummary {
	s := WeatherSummary{Days: len(obs)}
	if len(obs) == 0 {
		return s
	}
	var temp, solar float64
	for _, o := range obs {
		temp += o.TemperatureC
		solar += o.SolarRadiationMJ
		s.TotalPrecipitationMM += o.PrecipitationMM
	}
	s.MeanTemperatureC = round2(temp / float64(len(obs)))
	s.MeanSolarRadiationMJ = round2(solar / float64(len(obs)))
	s.TotalPrecipitationMM = round2(s.TotalPrecipitationMM)
	return s
}

// Input is everything the composer needs for one job.
type Input struct {
	JobID        uuid.UUID
	RegionName   string
	Start        time.Time
	End          time.Time
	SOC          *models.PredictionResult
	Moisture     *models.PredictionResult
	Sources      []DataSource
	Weather      WeatherSummary
	FeatureBands []string
}

// Validate checks that both predictions are present.
func (in Input) Validate() error {
	if in.SOC == nil || in.Moisture == nil {
		return fmt.Errorf("report needs both SOC and moisture predictions")
	}
	return nil
}

// Composer renders and stores a report, returning the keys of what it wrote.
type Composer interface {
	Compose(ctx context.Context, in Input) (models.ReportReference, error)
}

// Prefix is the blob key prefix for a job's artefacts.
func Prefix(jobID uuid.UUID) string {
	return fmt.Sprintf("reports/job_%s", jobID)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
