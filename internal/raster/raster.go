// Package raster holds the in-memory multi-band raster type exchanged between
// pipeline stages. Bands are stored row-major as float64.
package raster

import (
	"errors"
	"fmt"
)

// CRSWGS84 is the coordinate reference system used for every synthetic raster.
const CRSWGS84 = "EPSG:4326"

var ErrShape = errors.New("raster shape mismatch")

// BandLabel names the semantic content of a band.
type BandLabel string

const (
	BandRed   BandLabel = "red"
	BandGreen BandLabel = "green"
	BandBlue  BandLabel = "blue"
	BandNIR   BandLabel = "nir"
	BandSWIR  BandLabel = "swir"
	BandSWIR1 BandLabel = "swir1"
	BandSWIR2 BandLabel = "swir2"
	BandQA    BandLabel = "qa"
	BandSCL   BandLabel = "scl"
	BandSOC   BandLabel = "soc"
	BandNDVI  BandLabel = "ndvi"
	BandEVI   BandLabel = "evi"
	BandNDMI  BandLabel = "ndmi"

	BandMoisture BandLabel = "moisture"
)

// IsQuality reports whether the band carries quality/classification flags
// rather than a measured quantity.
func (l BandLabel) IsQuality() bool {
	return l == BandQA || l == BandSCL
}

// SensorKind selects band semantics and the masking strategy.
type SensorKind string

const (
	Sentinel2 SensorKind = "sentinel2"
	Landsat   SensorKind = "landsat"
)

func (k SensorKind) Valid() bool {
	return k == Sentinel2 || k == Landsat
}

// SpectralBands is the number of reflectance bands a scene of this sensor
// carries, quality bands excluded.
func (k SensorKind) SpectralBands() int {
	switch k {
	case Sentinel2:
		return 4 // red, green, blue, nir
	case Landsat:
		return 6 // blue, green, red, nir, swir1, swir2
	default:
		return 0
	}
}

// ParseSensorKind converts a config or CLI string.
func ParseSensorKind(s string) (SensorKind, error) {
	k := SensorKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown sensor kind %q", s)
	}
	return k, nil
}

// GeoTransform is the GDAL-style affine transform:
// x = T[0] + col*T[1] + row*T[2], y = T[3] + col*T[4] + row*T[5].
type GeoTransform [6]float64

// FromBounds returns the north-up transform that maps a width x height grid
// onto the given bounds.
func FromBounds(minX, minY, maxX, maxY float64, width, height int) GeoTransform {
	return GeoTransform{
		minX, (maxX - minX) / float64(width), 0,
		maxY, 0, -(maxY - minY) / float64(height),
	}
}

// Apply maps a pixel corner (col, row) to geographic coordinates.
func (t GeoTransform) Apply(col, row float64) (x, y float64) {
	return t[0] + col*t[1] + row*t[2], t[3] + col*t[4] + row*t[5]
}

// Band is one labelled plane of pixels.
type Band struct {
	Label BandLabel
	Data  []float64
}

// Image is a stack of bands sharing one grid.
type Image struct {
	Width     int
	Height    int
	Bands     []Band
	Transform GeoTransform
	CRS       string
	NoData    float64
}

// New builds an image and checks that every band covers width*height pixels.
func New(width, height int, transform GeoTransform, crs string, nodata float64, bands ...Band) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: non-positive size %dx%d", ErrShape, width, height)
	}
	if len(bands) == 0 {
		return nil, fmt.Errorf("%w: image needs at least one band", ErrShape)
	}
	n := width * height
	for i, b := range bands {
		if len(b.Data) != n {
			return nil, fmt.Errorf("%w: band %d (%s) has %d pixels, want %d", ErrShape, i, b.Label, len(b.Data), n)
		}
	}
	return &Image{
		Width:     width,
		Height:    height,
		Bands:     bands,
		Transform: transform,
		CRS:       crs,
		NoData:    nodata,
	}, nil
}

// Single builds a one-band image on the same grid as ref.
func Single(ref *Image, label BandLabel, data []float64) (*Image, error) {
	return New(ref.Width, ref.Height, ref.Transform, ref.CRS, ref.NoData, Band{Label: label, Data: data})
}

// Pixels returns width*height.
func (img *Image) Pixels() int {
	return img.Width * img.Height
}

// SameGrid reports whether other has the same size.
func (img *Image) SameGrid(other *Image) bool {
	return img.Width == other.Width && img.Height == other.Height
}

// BandIndex returns the position of the first band with the label, or -1.
func (img *Image) BandIndex(label BandLabel) int {
	for i, b := range img.Bands {
		if b.Label == label {
			return i
		}
	}
	return -1
}

// Band returns the pixel data for label.
func (img *Image) Band(label BandLabel) ([]float64, bool) {
	i := img.BandIndex(label)
	if i < 0 {
		return nil, false
	}
	return img.Bands[i].Data, true
}

// Clone deep-copies the image so callers can change pixels freely.
func (img *Image) Clone() *Image {
	out := *img
	out.Bands = make([]Band, len(img.Bands))
	for i, b := range img.Bands {
		data := make([]float64, len(b.Data))
		copy(data, b.Data)
		out.Bands[i] = Band{Label: b.Label, Data: data}
	}
	return &out
}

// Labels lists band labels in order.
func (img *Image) Labels() []BandLabel {
	labels := make([]BandLabel, len(img.Bands))
	for i, b := range img.Bands {
		labels[i] = b.Label
	}
	return labels
}
