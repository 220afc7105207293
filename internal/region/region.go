// Package region maps administrative regions to the grid cells they contain
// so a region can be drilled down into its constituent cells.
package region

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/sells-group/gridmap/internal/grid"
)

// ErrMalformedInput is returned when a geometry collection is empty or
// structurally unusable. The layer built from it must not render.
var ErrMalformedInput = eris.New("region: malformed input")

// Region is a coarse administrative area, e.g. an administrative dong.
type Region struct {
	ID       string
	Name     string
	Geometry geom.T
}

// Cell is a fine-grained grid cell geometry.
type Cell struct {
	ID       string
	Geometry geom.T
}

// RepresentativePoint returns the single coordinate that stands in for g in
// containment and classification: the point itself, or the first vertex of
// the first ring for polygons. This is not a centroid; boundary cells attach
// to whichever region holds that vertex.
func RepresentativePoint(g geom.T) (grid.Coord, bool) {
	if g == nil || g.Empty() {
		return grid.Coord{}, false
	}
	switch t := g.(type) {
	case *geom.Point:
		return grid.Coord{Lon: t.X(), Lat: t.Y()}, true
	case *geom.Polygon:
		if t.NumLinearRings() == 0 {
			return grid.Coord{}, false
		}
		ring := t.LinearRing(0)
		if ring.NumCoords() == 0 {
			return grid.Coord{}, false
		}
		c := ring.Coord(0)
		return grid.Coord{Lon: c.X(), Lat: c.Y()}, true
	case *geom.MultiPolygon:
		if t.NumPolygons() == 0 {
			return grid.Coord{}, false
		}
		return RepresentativePoint(t.Polygon(0))
	default:
		zap.L().Debug("region: unsupported geometry type for representative point",
			zap.String("type", geometryType(g)),
		)
		return grid.Coord{}, false
	}
}

// Contains reports whether g contains c. Points on a ring boundary count as
// inside; points inside a hole do not.
func Contains(g geom.T, c grid.Coord) bool {
	switch t := g.(type) {
	case *geom.Polygon:
		return polygonContains(t, c)
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			if polygonContains(t.Polygon(i), c) {
				return true
			}
		}
	}
	return false
}

func polygonContains(p *geom.Polygon, c grid.Coord) bool {
	if p.NumLinearRings() == 0 {
		return false
	}
	pt := geom.Coord{c.Lon, c.Lat}
	outer := p.LinearRing(0)
	if outer.NumCoords() < 4 || !xy.IsPointInRing(p.Layout(), pt, outer.FlatCoords()) {
		return false
	}
	for i := 1; i < p.NumLinearRings(); i++ {
		hole := p.LinearRing(i)
		if hole.NumCoords() >= 4 && xy.IsPointInRing(p.Layout(), pt, hole.FlatCoords()) {
			return false
		}
	}
	return true
}

// Centroid returns the area centroid of a region, used to recentre the map
// on drill-down.
func Centroid(g geom.T) (grid.Coord, error) {
	if g == nil || g.Empty() {
		return grid.Coord{}, eris.New("region: centroid of empty geometry")
	}
	c, err := xy.Centroid(g)
	if err != nil {
		return grid.Coord{}, eris.Wrap(err, "region: centroid")
	}
	return grid.Coord{Lon: c.X(), Lat: c.Y()}, nil
}

// BBox is a lon/lat bounding box.
type BBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// Bounds returns the bounding box of g.
func Bounds(g geom.T) BBox {
	b := g.Bounds()
	return BBox{MinLon: b.Min(0), MinLat: b.Min(1), MaxLon: b.Max(0), MaxLat: b.Max(1)}
}

// Contains reports whether c lies within the box, edges included.
func (b BBox) Contains(c grid.Coord) bool {
	return c.Lon >= b.MinLon && c.Lon <= b.MaxLon && c.Lat >= b.MinLat && c.Lat <= b.MaxLat
}

func geometryType(g geom.T) string {
	switch g.(type) {
	case *geom.Point:
		return "Point"
	case *geom.MultiPoint:
		return "MultiPoint"
	case *geom.LineString:
		return "LineString"
	case *geom.MultiLineString:
		return "MultiLineString"
	case *geom.Polygon:
		return "Polygon"
	case *geom.MultiPolygon:
		return "MultiPolygon"
	case *geom.GeometryCollection:
		return "GeometryCollection"
	default:
		return "unknown"
	}
}
