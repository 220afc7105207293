package viewport

import (
	"sync"

	"github.com/paulmach/orb/maptile"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/gridmap/internal/grid"
)

// RegionShape is a region boundary primitive.
type RegionShape struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Path   [][]Point `json:"path"`
	Hidden bool      `json:"-"`

	rings [][]grid.Coord
}

// CellRect is a grid cell rectangle primitive.
type CellRect struct {
	ID     string              `json:"id"`
	Key    grid.Key            `json:"key"`
	Class  grid.Classification `json:"class"`
	Hover  bool                `json:"hover,omitempty"`
	Hidden bool                `json:"-"`
	X      float64             `json:"x"`
	Y      float64             `json:"y"`
	Width  float64             `json:"width"`
	Height float64             `json:"height"`
}

// Fill returns the rectangle colour, the hover colour while hovered.
func (c CellRect) Fill() string {
	if c.Hover {
		return grid.HoverColor
	}
	return c.Class.Color()
}

// Frame is a snapshot of every visible primitive in layer pixels.
type Frame struct {
	Center  grid.Coord    `json:"center"`
	Zoom    float64       `json:"zoom"`
	Size    Size          `json:"size"`
	Regions []RegionShape `json:"regions"`
	Cells   []CellFrame   `json:"cells"`
}

// CellFrame is a CellRect with its resolved fill.
type CellFrame struct {
	CellRect
	Fill string `json:"fill"`
}

// Sync owns the overlay primitives and repositions them whenever the map
// transform changes.
type Sync struct {
	mu sync.RWMutex

	idx     grid.Index
	t       Transform
	metrics *CellMetrics

	regions     map[string]*RegionShape
	regionOrder []string
	cells       map[string]*CellRect
	cellOrder   []string

	repositioned int
}

// NewSync returns a Sync for the grid idx at the initial view t.
func NewSync(idx grid.Index, t Transform) *Sync {
	return &Sync{
		idx:     idx,
		t:       t,
		metrics: NewCellMetrics(idx, t.Zoom()),
		regions: make(map[string]*RegionShape),
		cells:   make(map[string]*CellRect),
	}
}

// Transform returns the current view.
func (s *Sync) Transform() Transform {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.t
}

// AddRegion registers a visible region boundary.
func (s *Sync) AddRegion(id, name string, g geom.T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.regions[id]; !ok {
		s.regionOrder = append(s.regionOrder, id)
	}
	r := &RegionShape{ID: id, Name: name, rings: rings(g)}
	s.regions[id] = r
	s.placeRegion(r)
}

// AddCell registers a hidden cell rectangle.
func (s *Sync) AddCell(id string, key grid.Key, class grid.Classification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cells[id]; !ok {
		s.cellOrder = append(s.cellOrder, id)
	}
	s.cells[id] = &CellRect{ID: id, Key: key, Class: class, Hidden: true}
}

// SetRegionHidden shows or hides a region boundary.
func (s *Sync) SetRegionHidden(id string, hidden bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.regions[id]
	if !ok {
		return
	}
	r.Hidden = hidden
	if !hidden {
		s.placeRegion(r)
	}
}

// SetCellsHidden shows or hides cells. Revealed cells are positioned for the
// current view.
func (s *Sync) SetCellsHidden(ids []string, hidden bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		c, ok := s.cells[id]
		if !ok {
			continue
		}
		c.Hidden = hidden
		if hidden {
			c.Hover = false
		} else {
			s.placeCell(c)
		}
	}
}

// SetCellClass recolours a cell in place.
func (s *Sync) SetCellClass(id string, class grid.Classification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.cells[id]; ok {
		c.Class = class
	}
}

// SetHover toggles the hover highlight of a visible cell.
func (s *Sync) SetHover(id string, hover bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cells[id]
	if !ok || c.Hidden {
		return false
	}
	c.Hover = hover
	return true
}

// TransformChanged adopts the new view and repositions every visible
// primitive. Row metrics are reused unless the zoom changed.
func (s *Sync) TransformChanged(t Transform) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.t = t
	if !s.metrics.Matches(s.idx, t.Zoom()) {
		s.metrics = NewCellMetrics(s.idx, t.Zoom())
	}
	s.repositioned = 0
	for _, id := range s.regionOrder {
		if r := s.regions[id]; !r.Hidden {
			s.placeRegion(r)
			s.repositioned++
		}
	}
	for _, id := range s.cellOrder {
		if c := s.cells[id]; !c.Hidden {
			s.placeCell(c)
			s.repositioned++
		}
	}
}

// Repositioned returns how many primitives the last transform moved.
func (s *Sync) Repositioned() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repositioned
}

// MetricRows returns how many grid rows are cached for the current zoom.
func (s *Sync) MetricRows() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics.Rows()
}

// Cell returns a copy of a cell primitive.
func (s *Sync) Cell(id string) (CellRect, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cells[id]
	if !ok {
		return CellRect{}, false
	}
	return *c, true
}

// Region returns a copy of a region primitive.
func (s *Sync) Region(id string) (RegionShape, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.regions[id]
	if !ok {
		return RegionShape{}, false
	}
	return *r, true
}

// Frame snapshots the visible primitives.
func (s *Sync) Frame() Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f := Frame{
		Center:  s.t.Center(),
		Zoom:    s.t.Zoom(),
		Size:    s.t.Size(),
		Regions: []RegionShape{},
		Cells:   []CellFrame{},
	}
	for _, id := range s.regionOrder {
		if r := s.regions[id]; !r.Hidden {
			f.Regions = append(f.Regions, *r)
		}
	}
	for _, id := range s.cellOrder {
		if c := s.cells[id]; !c.Hidden {
			f.Cells = append(f.Cells, CellFrame{CellRect: *c, Fill: c.Fill()})
		}
	}
	return f
}

// VisibleTiles returns the basemap tiles under the current view.
func (s *Sync) VisibleTiles() []maptile.Tile {
	return s.Transform().VisibleTiles()
}

func (s *Sync) placeRegion(r *RegionShape) {
	path := make([][]Point, len(r.rings))
	for i, ring := range r.rings {
		pts := make([]Point, len(ring))
		for j, c := range ring {
			pts[j] = s.t.LayerPoint(c)
		}
		path[i] = pts
	}
	r.Path = path
}

func (s *Sync) placeCell(c *CellRect) {
	topLeft, size := s.metrics.Rect(c.Key)
	p := topLeft.Sub(s.t.Origin())
	c.X, c.Y = p.X, p.Y
	c.Width, c.Height = size.Width, size.Height
}

func rings(g geom.T) [][]grid.Coord {
	var out [][]grid.Coord
	add := func(p *geom.Polygon) {
		for i := 0; i < p.NumLinearRings(); i++ {
			lr := p.LinearRing(i)
			ring := make([]grid.Coord, lr.NumCoords())
			for j := range ring {
				c := lr.Coord(j)
				ring[j] = grid.Coord{Lon: c.X(), Lat: c.Y()}
			}
			out = append(out, ring)
		}
	}
	switch t := g.(type) {
	case *geom.Polygon:
		add(t)
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			add(t.Polygon(i))
		}
	}
	return out
}
