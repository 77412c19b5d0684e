package preprocess

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soilscope/internal/models"
	"soilscope/internal/raster"
)

func filled(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func sentinelImage(t *testing.T, w, h int, red, green, blue, nir float64) *raster.Image {
	t.Helper()
	n := w * h
	img, err := raster.New(w, h, raster.FromBounds(0, 0, 1, 1, w, h), raster.CRSWGS84, 0,
		raster.Band{Label: raster.BandRed, Data: filled(n, red)},
		raster.Band{Label: raster.BandGreen, Data: filled(n, green)},
		raster.Band{Label: raster.BandBlue, Data: filled(n, blue)},
		raster.Band{Label: raster.BandNIR, Data: filled(n, nir)},
	)
	require.NoError(t, err)
	return img
}

func landsatImage(t *testing.T, w, h int, qa []float64) *raster.Image {
	t.Helper()
	n := w * h
	labels := []raster.BandLabel{raster.BandBlue, raster.BandGreen, raster.BandRed, raster.BandNIR, raster.BandSWIR1, raster.BandSWIR2}
	var bands []raster.Band
	for i, l := range labels {
		bands = append(bands, raster.Band{Label: l, Data: filled(n, float64(1000*(i+1)))})
	}
	bands = append(bands, raster.Band{Label: raster.BandQA, Data: qa})
	img, err := raster.New(w, h, raster.FromBounds(0, 0, 1, 1, w, h), raster.CRSWGS84, 0, bands...)
	require.NoError(t, err)
	return img
}

func TestMask_LandsatZeroesAllButQA(t *testing.T) {
	qa := []float64{0, 1, 0, 2}
	img := landsatImage(t, 2, 2, qa)

	m, err := Mask(img, raster.Landsat)
	require.NoError(t, err)

	assert.Equal(t, []bool{false, true, false, true}, m.CloudMask)
	assert.Equal(t, 2, m.MaskedCount())
	for b := 0; b < 6; b++ {
		assert.Equal(t, 0.0, m.Bands[b].Data[1])
		assert.Equal(t, 0.0, m.Bands[b].Data[3])
		assert.NotEqual(t, 0.0, m.Bands[b].Data[0])
	}
	assert.Equal(t, qa, m.Bands[6].Data, "QA band must be untouched")

	// shape, transform and CRS preserved; input not mutated
	assert.Equal(t, img.Width, m.Width)
	assert.Equal(t, img.Transform, m.Transform)
	assert.Equal(t, img.CRS, m.CRS)
	assert.Equal(t, 2000.0, img.Bands[1].Data[1])
}

func TestMask_SentinelUsesSCL(t *testing.T) {
	img := sentinelImage(t, 2, 2, 100, 100, 100, 100)
	img.Bands = append(img.Bands, raster.Band{Label: raster.BandSCL, Data: []float64{4, 9, 3, 5}})

	m, err := Mask(img, raster.Sentinel2)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, true, false}, m.CloudMask)
	assert.Equal(t, []float64{100, 0, 0, 100}, m.Bands[0].Data)
	assert.Equal(t, []float64{4, 9, 3, 5}, m.Bands[4].Data)
}

func TestMask_SentinelWithoutSCLIsClear(t *testing.T) {
	img := sentinelImage(t, 3, 3, 1, 2, 3, 4)
	m, err := Mask(img, raster.Sentinel2)
	require.NoError(t, err)
	assert.Zero(t, m.MaskedCount())
	assert.Equal(t, img.Bands, m.Bands)
}

func TestMask_TooFewBands(t *testing.T) {
	img, err := raster.New(1, 1, raster.GeoTransform{}, raster.CRSWGS84, 0,
		raster.Band{Label: raster.BandRed, Data: []float64{1}},
		raster.Band{Label: raster.BandQA, Data: []float64{0}},
	)
	require.NoError(t, err)

	_, err = Mask(img, raster.Landsat)
	assert.True(t, models.IsStage(err, models.StagePreprocessing))
	_, err = Mask(img, raster.Sentinel2)
	assert.True(t, models.IsStage(err, models.StagePreprocessing))
	_, err = Mask(img, raster.SensorKind("modis"))
	assert.True(t, models.IsStage(err, models.StagePreprocessing))
}

func TestIndexFormulas(t *testing.T) {
	assert.InDelta(t, (0.5-0.1)/(0.5+0.1), NDVI(0.5, 0.1), 1e-12)
	assert.InDelta(t, 2.5*(5000.0-1000)/(5000+6*1000-7.5*500+1), EVI(5000, 1000, 500), 1e-12)
	assert.InDelta(t, (3000.0-1000)/(3000+1000), NDMI(3000, 1000), 1e-12)
}

func TestIndexFormulas_DegenerateDenominatorIsZero(t *testing.T) {
	cases := []struct {
		name string
		got  float64
	}{
		{"ndvi zero", NDVI(0, 0)},
		{"ndvi negative", NDVI(-5, 2)},
		{"evi zero", EVI(0, 0, 1.0/7.5)},
		{"evi negative", EVI(0, 0, 1000)},
		{"ndmi zero", NDMI(0, 0)},
		{"ndmi negative", NDMI(-1, -1)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, 0.0, c.got)
			assert.False(t, math.IsNaN(c.got))
			assert.False(t, math.IsInf(c.got, 0))
		})
	}
}

func TestCompute_MaskedPixelsSaturateToZero(t *testing.T) {
	img := landsatImage(t, 2, 1, []float64{1, 0})
	m, err := Mask(img, raster.Landsat)
	require.NoError(t, err)

	set, err := NewIndexCalculator(1).Compute(m)
	require.NoError(t, err)

	for _, idx := range set.Ordered() {
		assert.Equal(t, 0.0, idx.Bands[0].Data[0], "masked pixel of %s", idx.Bands[0].Label)
		assert.Equal(t, img.Transform, idx.Transform)
		assert.Equal(t, img.CRS, idx.CRS)
		assert.Equal(t, 2, idx.Width)
	}
	// landsat: blue=1000 green=2000 red=3000 nir=4000 swir1=5000
	assert.InDelta(t, NDVI(4000, 3000), set.NDVI.Bands[0].Data[1], 1e-12)
	assert.InDelta(t, NDMI(4000, 5000), set.NDMI.Bands[0].Data[1], 1e-12)
}

func TestCompute_SentinelSWIR(t *testing.T) {
	img := sentinelImage(t, 2, 2, 1000, 1000, 500, 4000)
	m, err := Mask(img, raster.Sentinel2)
	require.NoError(t, err)

	calc := &IndexCalculator{SWIRFallback: func(w, h int) []float64 { return filled(w*h, 2000) }}
	set, err := calc.Compute(m)
	require.NoError(t, err)
	assert.InDelta(t, NDMI(4000, 2000), set.NDMI.Bands[0].Data[0], 1e-12)

	// an explicit SWIR band wins over the fallback
	img.Bands = append(img.Bands, raster.Band{Label: raster.BandSWIR, Data: filled(4, 4000)})
	m, err = Mask(img, raster.Sentinel2)
	require.NoError(t, err)
	set, err = calc.Compute(m)
	require.NoError(t, err)
	assert.Equal(t, 0.0, set.NDMI.Bands[0].Data[0])

	// no band, no fallback
	img.Bands = img.Bands[:4]
	m, err = Mask(img, raster.Sentinel2)
	require.NoError(t, err)
	_, err = (&IndexCalculator{}).Compute(m)
	assert.True(t, models.IsStage(err, models.StagePreprocessing))
}

func TestSeededSWIR_Deterministic(t *testing.T) {
	a := SeededSWIR(9)(10, 10)
	b := SeededSWIR(9)(10, 10)
	assert.Equal(t, a, b)
	assert.Len(t, a, 100)
}

func TestAssemble_OrderAndShape(t *testing.T) {
	img := sentinelImage(t, 4, 3, 1000, 1000, 500, 4000)
	m, err := Mask(img, raster.Sentinel2)
	require.NoError(t, err)
	set, err := NewIndexCalculator(1).Compute(m)
	require.NoError(t, err)

	stack, err := Assemble([]*raster.Image{m.Image}, []*SpectralIndexSet{set})
	require.NoError(t, err)
	assert.Equal(t, 7, stack.Channels())
	assert.Equal(t, StackChannels(raster.Sentinel2), stack.Channels())
	assert.Equal(t, 9, StackChannels(raster.Landsat))
	assert.Equal(t, []raster.BandLabel{
		raster.BandRed, raster.BandGreen, raster.BandBlue, raster.BandNIR,
		raster.BandNDVI, raster.BandEVI, raster.BandNDMI,
	}, stack.Labels())
	assert.Equal(t, 4, stack.Width)
	assert.Equal(t, 3, stack.Height)
	assert.Equal(t, img.Transform, stack.Transform)
}

func TestAssemble_SkipsQualityBands(t *testing.T) {
	img := landsatImage(t, 2, 2, filled(4, 0))
	m, err := Mask(img, raster.Landsat)
	require.NoError(t, err)
	set, err := NewIndexCalculator(1).Compute(m)
	require.NoError(t, err)

	stack, err := Assemble([]*raster.Image{m.Image}, []*SpectralIndexSet{set})
	require.NoError(t, err)
	assert.Equal(t, 9, stack.Channels())
	assert.NotContains(t, stack.Labels(), raster.BandQA)
}

func TestAssemble_RejectsMismatchedShapes(t *testing.T) {
	a := sentinelImage(t, 4, 4, 1, 1, 1, 1)
	b := sentinelImage(t, 5, 4, 1, 1, 1, 1)
	ma, err := Mask(a, raster.Sentinel2)
	require.NoError(t, err)
	mb, err := Mask(b, raster.Sentinel2)
	require.NoError(t, err)
	calc := NewIndexCalculator(1)
	setA, err := calc.Compute(ma)
	require.NoError(t, err)
	setB, err := calc.Compute(mb)
	require.NoError(t, err)

	stack, err := Assemble([]*raster.Image{ma.Image}, []*SpectralIndexSet{setB})
	assert.Nil(t, stack)
	assert.True(t, models.IsStage(err, models.StagePreprocessing))

	stack, err = Assemble([]*raster.Image{ma.Image, mb.Image}, []*SpectralIndexSet{setA})
	assert.Nil(t, stack)
	assert.True(t, models.IsStage(err, models.StagePreprocessing))

	stack, err = Assemble(nil, []*SpectralIndexSet{setA})
	assert.Nil(t, stack)
	assert.Error(t, err)
}

func TestProcessor_KeepsOrder(t *testing.T) {
	scenes := []Scene{
		{Image: sentinelImage(t, 2, 2, 1, 1, 1, 1), Sensor: raster.Sentinel2},
		{Image: landsatImage(t, 3, 3, filled(9, 0)), Sensor: raster.Landsat},
		{Image: sentinelImage(t, 4, 4, 1, 1, 1, 1), Sensor: raster.Sentinel2},
	}
	p := NewProcessor(NewIndexCalculator(3), 2)

	out, err := p.Process(context.Background(), scenes)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, 2, out[0].Masked.Width)
	assert.Equal(t, raster.Landsat, out[1].Masked.Sensor)
	assert.Equal(t, 4, out[2].Indices.NDVI.Width)
}

func TestProcessor_PropagatesStageError(t *testing.T) {
	bad, err := raster.New(1, 1, raster.GeoTransform{}, raster.CRSWGS84, 0, raster.Band{Label: raster.BandRed, Data: []float64{1}})
	require.NoError(t, err)

	_, err = NewProcessor(NewIndexCalculator(1), 0).Process(context.Background(), []Scene{{Image: bad, Sensor: raster.Landsat}})
	assert.True(t, models.IsStage(err, models.StagePreprocessing))
}
