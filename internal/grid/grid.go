// Package grid quantizes geographic coordinates into fixed-size cells and
// classifies each cell by comparing a predicted binary outcome with the
// observed one.
package grid

import (
	"math"
	"strconv"

	"github.com/rotisserie/eris"
)

// DefaultSize is the 100 m grid (0.001°) used by the risk overlay.
const DefaultSize = 0.001

// snapEpsilon absorbs float noise when a coordinate already sits on a cell
// edge, e.g. 127.3/0.001 == 127299.99999999999.
const snapEpsilon = 1e-9

// keyDecimals bounds the decimal digits kept in a snapped key.
const keyDecimals = 10

// Coord is a longitude/latitude pair in degrees.
type Coord struct {
	Lon float64 `json:"longitude"`
	Lat float64 `json:"latitude"`
}

// Key identifies a grid cell by its south-west corner.
type Key struct {
	Lon float64 `json:"longitude"`
	Lat float64 `json:"latitude"`
}

// String renders the key as "lon,lat".
func (k Key) String() string {
	return strconv.FormatFloat(k.Lon, 'f', -1, 64) + "," + strconv.FormatFloat(k.Lat, 'f', -1, 64)
}

// Coord returns the south-west corner of the cell.
func (k Key) Coord() Coord {
	return Coord{Lon: k.Lon, Lat: k.Lat}
}

// Index quantizes coordinates for one grid size. Every producer and consumer
// of keys must share the same Index or lookups silently miss.
type Index struct {
	size float64
}

// NewIndex returns an Index for the given cell size in degrees.
func NewIndex(size float64) (Index, error) {
	if size <= 0 || math.IsNaN(size) || math.IsInf(size, 0) {
		return Index{}, eris.Errorf("grid: invalid cell size %v", size)
	}
	return Index{size: size}, nil
}

// MustIndex is NewIndex that panics on an invalid size.
func MustIndex(size float64) Index {
	idx, err := NewIndex(size)
	if err != nil {
		panic(err)
	}
	return idx
}

// Size returns the cell size in degrees.
func (i Index) Size() float64 {
	return i.size
}

// Snap returns the key of the cell containing c. It is pure and idempotent:
// Snap(Snap(c).Coord()) == Snap(c).
func (i Index) Snap(c Coord) Key {
	return Key{Lon: i.snapAxis(c.Lon), Lat: i.snapAxis(c.Lat)}
}

// Row returns the integer row number of a latitude.
func (i Index) Row(lat float64) int64 {
	return int64(math.Floor(lat/i.size + snapEpsilon))
}

// Column returns the integer column number of a longitude.
func (i Index) Column(lon float64) int64 {
	return int64(math.Floor(lon/i.size + snapEpsilon))
}

func (i Index) snapAxis(v float64) float64 {
	n := math.Floor(v/i.size + snapEpsilon)
	return roundTo(n*i.size, keyDecimals)
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
