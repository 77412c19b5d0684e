package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soilscope/internal/geo"
	"soilscope/internal/models"
	"soilscope/internal/raster"
)

var (
	day   = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	bothS = []raster.SensorKind{raster.Sentinel2, raster.Landsat}
)

func TestSyntheticAdapter_Shapes(t *testing.T) {
	a := NewSyntheticAdapter(0, 0, 7)
	res, err := a.Fetch(context.Background(), geo.Rect(0, 0, 1, 1), day, day)
	require.NoError(t, err)
	require.NoError(t, Validate(res, bothS))

	require.Len(t, res.Sentinel, 1)
	s2 := res.Sentinel[0]
	assert.Equal(t, 100, s2.Width)
	assert.Equal(t, 100, s2.Height)
	assert.Equal(t, []raster.BandLabel{raster.BandRed, raster.BandGreen, raster.BandBlue, raster.BandNIR}, s2.Labels())

	require.Len(t, res.Landsat, 1)
	ls := res.Landsat[0]
	assert.Len(t, ls.Bands, 7)
	assert.Equal(t, raster.BandQA, ls.Bands[6].Label)
	for _, v := range ls.Bands[6].Data {
		assert.True(t, v == 0 || v == 1)
	}
	for _, v := range s2.Bands[0].Data {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 10000.0)
	}

	assert.Len(t, s2.Bands, raster.Sentinel2.SpectralBands())
	assert.Len(t, ls.Bands, raster.Landsat.SpectralBands()+1)

	assert.Equal(t, raster.FromBounds(0, 0, 1, 1, 100, 100), s2.Transform)
	assert.Len(t, res.Weather, 1)
	assert.NotNil(t, res.Soil)
}

func TestSyntheticAdapter_Deterministic(t *testing.T) {
	a := NewSyntheticAdapter(10, 10, 42)
	region := geo.Rect(5, 5, 6, 6)

	r1, err := a.Fetch(context.Background(), region, day, day.AddDate(0, 0, 2))
	require.NoError(t, err)
	r2, err := a.Fetch(context.Background(), region, day, day.AddDate(0, 0, 2))
	require.NoError(t, err)

	assert.Equal(t, r1.Sentinel[0].Bands, r2.Sentinel[0].Bands)
	assert.Equal(t, r1.Weather, r2.Weather)
	assert.Len(t, r1.Weather, 3)
}

func TestSyntheticAdapter_RejectsReversedDates(t *testing.T) {
	a := NewSyntheticAdapter(10, 10, 1)
	_, err := a.Fetch(context.Background(), geo.Rect(0, 0, 1, 1), day, day.AddDate(0, 0, -1))
	assert.Error(t, err)
}

func TestValidate_EmptySensorFamilyIsIngestionError(t *testing.T) {
	a := NewSyntheticAdapter(4, 4, 1)
	res, err := a.Fetch(context.Background(), geo.Rect(0, 0, 1, 1), day, day)
	require.NoError(t, err)
	res.Landsat = nil

	err = Validate(res, bothS)
	require.Error(t, err)
	assert.True(t, models.IsStage(err, models.StageIngestion))
	assert.Contains(t, err.Error(), "landsat")

	// Only sentinel requested: still valid.
	assert.NoError(t, Validate(res, []raster.SensorKind{raster.Sentinel2}))
}

func TestValidate_NilResult(t *testing.T) {
	err := Validate(nil, bothS)
	assert.True(t, models.IsStage(err, models.StageIngestion))
}
