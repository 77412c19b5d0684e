package inference

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"soilscope/internal/models"
)

var (
	ErrEmptyRaster    = errors.New("empty output raster")
	ErrNonFiniteValue = errors.New("non-finite value in output raster")
)

// ComputeStatistics returns population statistics over every value of the
// output raster. A NaN or infinite value is an error rather than skipped.
// The result always satisfies Min <= Mean <= Max and Std >= 0.
func ComputeStatistics(values []float64) (models.Statistics, error) {
	if len(values) == 0 {
		return models.Statistics{}, ErrEmptyRaster
	}
	bad := 0
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			bad++
		}
	}
	if bad > 0 {
		return models.Statistics{}, fmt.Errorf("%w: %d of %d pixels", ErrNonFiniteValue, bad, len(values))
	}

	mean, std := stat.PopMeanStdDev(values, nil)
	s := models.Statistics{
		Min:  floats.Min(values),
		Max:  floats.Max(values),
		Mean: mean,
		Std:  std,
	}
	// Summation error can push the mean a ulp past the extremes.
	s.Mean = math.Min(math.Max(s.Mean, s.Min), s.Max)
	if math.IsNaN(s.Std) || s.Std < 0 {
		s.Std = 0
	}
	return s, nil
}
