// Package viewport keeps the screen-space overlay aligned with a pannable,
// zoomable Web-Mercator map.
package viewport

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"
	"github.com/rotisserie/eris"

	"github.com/sells-group/gridmap/internal/grid"
)

const (
	// TileSize is the edge of a basemap tile in pixels.
	TileSize = 256
	// MaxZoom bounds the zoom level accepted by a Transform.
	MaxZoom = 22
	// MaxLatitude is the Web-Mercator latitude limit.
	MaxLatitude = 85.0511287798
)

const circumference = 2 * math.Pi * orb.EarthRadius

// Point is a pixel position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p+q.
func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

// Sub returns p-q.
func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

// Size is a viewport size in pixels.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Scale is the world width in pixels at zoom.
func Scale(zoom float64) float64 {
	return TileSize * math.Exp2(zoom)
}

// Project returns the world pixel of c at zoom.
func Project(c grid.Coord, zoom float64) Point {
	m := project.WGS84.ToMercator(orb.Point{c.Lon, clampLat(c.Lat)})
	scale := Scale(zoom)
	return Point{
		X: (m[0]/circumference + 0.5) * scale,
		Y: (0.5 - m[1]/circumference) * scale,
	}
}

// Unproject is the inverse of Project.
func Unproject(p Point, zoom float64) grid.Coord {
	scale := Scale(zoom)
	m := orb.Point{
		(p.X/scale - 0.5) * circumference,
		(0.5 - p.Y/scale) * circumference,
	}
	ll := project.Mercator.ToWGS84(m)
	return grid.Coord{Lon: ll[0], Lat: ll[1]}
}

func worldX(lon, scale float64) float64 {
	return (lon/360 + 0.5) * scale
}

func clampLat(lat float64) float64 {
	return math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
}

// Transform is one immutable map view: centre, fractional zoom and pixel
// size. Layer points are world pixels relative to the top-left origin.
type Transform struct {
	center grid.Coord
	zoom   float64
	size   Size
	origin Point
}

// NewTransform validates and builds a view.
func NewTransform(center grid.Coord, zoom, width, height float64) (Transform, error) {
	if math.IsNaN(zoom) || zoom < 0 || zoom > MaxZoom {
		return Transform{}, eris.Errorf("viewport: zoom %v out of range [0,%d]", zoom, MaxZoom)
	}
	if !(width > 0) || !(height > 0) {
		return Transform{}, eris.Errorf("viewport: invalid size %vx%v", width, height)
	}
	if math.IsNaN(center.Lon) || math.IsNaN(center.Lat) {
		return Transform{}, eris.New("viewport: invalid centre")
	}
	return newTransform(center, zoom, Size{Width: width, Height: height}), nil
}

func newTransform(center grid.Coord, zoom float64, size Size) Transform {
	center.Lat = clampLat(center.Lat)
	c := Project(center, zoom)
	return Transform{
		center: center,
		zoom:   zoom,
		size:   size,
		origin: Point{X: c.X - size.Width/2, Y: c.Y - size.Height/2},
	}
}

// Center returns the view centre.
func (t Transform) Center() grid.Coord { return t.center }

// Zoom returns the fractional zoom.
func (t Transform) Zoom() float64 { return t.zoom }

// Size returns the pixel size.
func (t Transform) Size() Size { return t.size }

// Origin returns the world pixel of the top-left corner.
func (t Transform) Origin() Point { return t.origin }

// LayerPoint returns the overlay pixel of c.
func (t Transform) LayerPoint(c grid.Coord) Point {
	return Project(c, t.zoom).Sub(t.origin)
}

// Coord returns the coordinate under overlay pixel p.
func (t Transform) Coord(p Point) grid.Coord {
	return Unproject(p.Add(t.origin), t.zoom)
}

// Bounds returns the geographic box covered by the view.
func (t Transform) Bounds() orb.Bound {
	nw := t.Coord(Point{})
	se := t.Coord(Point{X: t.size.Width, Y: t.size.Height})
	return orb.Bound{
		Min: orb.Point{nw.Lon, se.Lat},
		Max: orb.Point{se.Lon, nw.Lat},
	}
}

// Pan moves the view by dx, dy pixels.
func (t Transform) Pan(dx, dy float64) Transform {
	c := t.Coord(Point{X: t.size.Width/2 + dx, Y: t.size.Height/2 + dy})
	return newTransform(c, t.zoom, t.size)
}

// ZoomTo changes the zoom keeping the centre.
func (t Transform) ZoomTo(zoom float64) Transform {
	return newTransform(t.center, clampZoom(zoom), t.size)
}

// SetView recentres the view at zoom.
func (t Transform) SetView(center grid.Coord, zoom float64) Transform {
	return newTransform(center, clampZoom(zoom), t.size)
}

// Resize changes the pixel size keeping the centre.
func (t Transform) Resize(width, height float64) Transform {
	if !(width > 0) || !(height > 0) {
		return t
	}
	return newTransform(t.center, t.zoom, Size{Width: width, Height: height})
}

// TileZoom is the integer basemap zoom for the view.
func (t Transform) TileZoom() maptile.Zoom {
	return maptile.Zoom(math.Round(t.zoom))
}

// VisibleTiles returns the basemap tiles covering the view, row by row.
func (t Transform) VisibleTiles() []maptile.Tile {
	z := t.TileZoom()
	b := t.Bounds()
	nw := maptile.At(orb.Point{clampLon(b.Min[0]), b.Max[1]}, z)
	se := maptile.At(orb.Point{clampLon(b.Max[0]), b.Min[1]}, z)

	tiles := make([]maptile.Tile, 0, int(se.X-nw.X+1)*int(se.Y-nw.Y+1))
	for y := nw.Y; y <= se.Y; y++ {
		for x := nw.X; x <= se.X; x++ {
			tiles = append(tiles, maptile.New(x, y, z))
		}
	}
	return tiles
}

func clampZoom(z float64) float64 {
	if math.IsNaN(z) {
		return 0
	}
	return math.Max(0, math.Min(MaxZoom, z))
}

func clampLon(lon float64) float64 {
	return math.Max(-180, math.Min(179.9999999, lon))
}
