package viewport

import (
	"github.com/sells-group/gridmap/internal/grid"
)

type rowSpan struct {
	top    float64
	bottom float64
}

// CellMetrics caches grid cell geometry in world pixels for one
// (grid size, zoom) pair. Widths are constant across the grid; heights vary
// by row, so the projection runs once per row instead of once per cell.
type CellMetrics struct {
	idx   grid.Index
	zoom  float64
	scale float64
	width float64
	rows  map[int64]rowSpan
}

// NewCellMetrics computes the cell width for idx at zoom.
func NewCellMetrics(idx grid.Index, zoom float64) *CellMetrics {
	scale := Scale(zoom)
	return &CellMetrics{
		idx:   idx,
		zoom:  zoom,
		scale: scale,
		width: idx.Size() / 360 * scale,
		rows:  make(map[int64]rowSpan),
	}
}

// Matches reports whether the cache is valid for idx at zoom.
func (m *CellMetrics) Matches(idx grid.Index, zoom float64) bool {
	return m != nil && m.idx == idx && m.zoom == zoom
}

// Width returns the cell width in pixels.
func (m *CellMetrics) Width() float64 { return m.width }

// Rows returns how many grid rows have been projected.
func (m *CellMetrics) Rows() int { return len(m.rows) }

// Rect returns the world-pixel top-left corner and size of the cell k.
func (m *CellMetrics) Rect(k grid.Key) (Point, Size) {
	span := m.row(k)
	return Point{X: worldX(k.Lon, m.scale), Y: span.top},
		Size{Width: m.width, Height: span.bottom - span.top}
}

func (m *CellMetrics) row(k grid.Key) rowSpan {
	r := m.idx.Row(k.Lat)
	if span, ok := m.rows[r]; ok {
		return span
	}
	south := k.Lat
	north := k.Lat + m.idx.Size()
	span := rowSpan{
		top:    Project(grid.Coord{Lon: k.Lon, Lat: north}, m.zoom).Y,
		bottom: Project(grid.Coord{Lon: k.Lon, Lat: south}, m.zoom).Y,
	}
	m.rows[r] = span
	return span
}
