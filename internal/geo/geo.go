// Package geo handles the region-of-interest geometry that analysis jobs are
// submitted with. Regions are single WGS84 polygons exchanged as GeoJSON.
package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// DefaultRegionName is used when a submitted Feature carries no name.
const DefaultRegionName = "Selected Region"

var ErrInvalidRegion = errors.New("invalid region")

// Region is a parsed submission: the polygon plus feature metadata.
type Region struct {
	Polygon     orb.Polygon
	Name        string
	Description string
}

// ParseRegion accepts a GeoJSON Feature, a bare Polygon geometry, or a
// MultiPolygon holding exactly one polygon.
func ParseRegion(raw []byte) (Region, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Region{}, fmt.Errorf("%w: %v", ErrInvalidRegion, err)
	}

	switch envelope.Type {
	case "Feature":
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			return Region{}, fmt.Errorf("%w: %v", ErrInvalidRegion, err)
		}
		poly, err := toPolygon(f.Geometry)
		if err != nil {
			return Region{}, err
		}
		return Region{
			Polygon:     poly,
			Name:        f.Properties.MustString("name", DefaultRegionName),
			Description: f.Properties.MustString("description", ""),
		}, nil
	case "":
		return Region{}, fmt.Errorf("%w: missing GeoJSON type", ErrInvalidRegion)
	default:
		poly, err := ParsePolygon(raw)
		if err != nil {
			return Region{}, err
		}
		return Region{Polygon: poly, Name: DefaultRegionName}, nil
	}
}

// ParsePolygon decodes a GeoJSON geometry into a validated polygon.
func ParsePolygon(raw []byte) (orb.Polygon, error) {
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegion, err)
	}
	return toPolygon(g.Geometry())
}

// MarshalPolygon encodes p as a GeoJSON geometry.
func MarshalPolygon(p orb.Polygon) ([]byte, error) {
	return json.Marshal(geojson.NewGeometry(p))
}

func toPolygon(g orb.Geometry) (orb.Polygon, error) {
	var poly orb.Polygon
	switch v := g.(type) {
	case orb.Polygon:
		poly = v
	case orb.MultiPolygon:
		if len(v) != 1 {
			return nil, fmt.Errorf("%w: multipolygon with %d parts, want 1", ErrInvalidRegion, len(v))
		}
		poly = v[0]
	case nil:
		return nil, fmt.Errorf("%w: missing geometry", ErrInvalidRegion)
	default:
		return nil, fmt.Errorf("%w: unsupported geometry %s", ErrInvalidRegion, strings.ToLower(g.GeoJSONType()))
	}
	if err := ValidatePolygon(poly); err != nil {
		return nil, err
	}
	return poly, nil
}

// ValidatePolygon checks ring structure, coordinate ranges and that the
// bounding box has a positive area.
func ValidatePolygon(p orb.Polygon) error {
	if len(p) == 0 {
		return fmt.Errorf("%w: polygon has no rings", ErrInvalidRegion)
	}
	outer := p[0]
	if len(outer) < 4 {
		return fmt.Errorf("%w: outer ring needs at least 4 positions, got %d", ErrInvalidRegion, len(outer))
	}
	if !outer.Closed() {
		return fmt.Errorf("%w: outer ring is not closed", ErrInvalidRegion)
	}
	for _, ring := range p {
		for _, pt := range ring {
			if pt.Lon() < -180 || pt.Lon() > 180 || pt.Lat() < -90 || pt.Lat() > 90 {
				return fmt.Errorf("%w: coordinate %v outside WGS84 range", ErrInvalidRegion, pt)
			}
		}
	}
	b := p.Bound()
	if b.Right() <= b.Left() || b.Top() <= b.Bottom() {
		return fmt.Errorf("%w: degenerate bounds %v", ErrInvalidRegion, b)
	}
	return nil
}

// Bounds returns minx, miny, maxx, maxy of the polygon.
func Bounds(p orb.Polygon) (minX, minY, maxX, maxY float64) {
	b := p.Bound()
	return b.Left(), b.Bottom(), b.Right(), b.Top()
}

// Rect builds a closed rectangular polygon; handy for tests and the CLI.
func Rect(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}}
}
