package region

import (
	"context"
	"runtime"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/gridmap/internal/grid"
)

// OverlapPolicy decides where a cell goes when its representative point lies
// in more than one region.
type OverlapPolicy int

const (
	// FirstMatch attaches the cell to the earliest containing region in
	// input order.
	FirstMatch OverlapPolicy = iota
	// MultiMembership attaches the cell to every containing region.
	MultiMembership
)

// ParseOverlapPolicy maps "first_match" or "multi" to a policy.
func ParseOverlapPolicy(s string) (OverlapPolicy, error) {
	switch s {
	case "", "first_match":
		return FirstMatch, nil
	case "multi":
		return MultiMembership, nil
	default:
		return FirstMatch, eris.Errorf("region: unknown overlap policy %q", s)
	}
}

const defaultChunkSize = 512

type buildOptions struct {
	overlap   OverlapPolicy
	workers   int
	chunkSize int
}

// Option configures Build.
type Option func(*buildOptions)

// WithOverlapPolicy sets the overlap tie-break.
func WithOverlapPolicy(p OverlapPolicy) Option {
	return func(o *buildOptions) {
		o.overlap = p
	}
}

// WithWorkers bounds the number of goroutines testing containment.
func WithWorkers(n int) Option {
	return func(o *buildOptions) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithChunkSize sets how many cells each worker task handles.
func WithChunkSize(n int) Option {
	return func(o *buildOptions) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// Stats summarises a membership build.
type Stats struct {
	Regions     int `json:"regions"`
	Cells       int `json:"cells"`
	Assigned    int `json:"assigned"`
	Unassigned  int `json:"unassigned"`
	Overlapping int `json:"overlapping"`
	Unsupported int `json:"unsupported"`
}

// Membership is the immutable region → cell mapping.
type Membership struct {
	regions  []Region
	regionIx map[string]int
	cells    []Cell
	cellIx   map[string]int
	points   []grid.Coord
	located  []bool
	members  map[string][]string
	owners   map[string][]string
	stats    Stats
}

type cellHit struct {
	point   grid.Coord
	ok      bool
	regions []int
}

// Build computes which cells each region contains. Region and cell order is
// preserved so identical inputs always produce identical output.
func Build(ctx context.Context, regions []Region, cells []Cell, opts ...Option) (*Membership, error) {
	if len(regions) == 0 {
		return nil, eris.Wrap(ErrMalformedInput, "region: no regions")
	}
	if len(cells) == 0 {
		return nil, eris.Wrap(ErrMalformedInput, "region: no cells")
	}

	o := buildOptions{
		overlap:   FirstMatch,
		workers:   runtime.GOMAXPROCS(0),
		chunkSize: defaultChunkSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Membership{
		regions:  regions,
		regionIx: make(map[string]int, len(regions)),
		cells:    cells,
		cellIx:   make(map[string]int, len(cells)),
		points:   make([]grid.Coord, len(cells)),
		located:  make([]bool, len(cells)),
		members:  make(map[string][]string, len(regions)),
		owners:   make(map[string][]string, len(cells)),
	}
	for i, r := range regions {
		if _, dup := m.regionIx[r.ID]; dup {
			return nil, eris.Wrapf(ErrMalformedInput, "region: duplicate region id %q", r.ID)
		}
		m.regionIx[r.ID] = i
	}
	for i, c := range cells {
		if _, dup := m.cellIx[c.ID]; dup {
			return nil, eris.Wrapf(ErrMalformedInput, "region: duplicate cell id %q", c.ID)
		}
		m.cellIx[c.ID] = i
	}

	b := newBucket(regions)
	hits := make([]cellHit, len(cells))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for start := 0; start < len(cells); start += o.chunkSize {
		end := min(start+o.chunkSize, len(cells))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				pt, ok := RepresentativePoint(cells[i].Geometry)
				if !ok {
					continue
				}
				hits[i] = cellHit{point: pt, ok: true, regions: b.containing(pt)}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "region: build membership")
	}

	m.stats = Stats{Regions: len(regions), Cells: len(cells)}
	for i, h := range hits {
		if !h.ok {
			m.stats.Unsupported++
			continue
		}
		m.points[i] = h.point
		m.located[i] = true
		if len(h.regions) == 0 {
			m.stats.Unassigned++
			continue
		}
		if len(h.regions) > 1 {
			m.stats.Overlapping++
		}
		targets := h.regions
		if o.overlap == FirstMatch {
			targets = targets[:1]
		}
		cellID := cells[i].ID
		for _, ri := range targets {
			rid := regions[ri].ID
			m.members[rid] = append(m.members[rid], cellID)
			m.owners[cellID] = append(m.owners[cellID], rid)
		}
		m.stats.Assigned++
	}

	log := zap.L().With(zap.String("component", "region.membership"))
	if m.stats.Overlapping > 0 {
		log.Warn("cells fall in more than one region",
			zap.Int("overlapping", m.stats.Overlapping),
			zap.Bool("multi_membership", o.overlap == MultiMembership),
		)
	}
	log.Info("membership built",
		zap.Int("regions", m.stats.Regions),
		zap.Int("cells", m.stats.Cells),
		zap.Int("assigned", m.stats.Assigned),
		zap.Int("unassigned", m.stats.Unassigned),
		zap.Int("unsupported", m.stats.Unsupported),
	)

	return m, nil
}

// Stats returns the build summary.
func (m *Membership) Stats() Stats {
	return m.stats
}

// Regions returns every region in input order.
func (m *Membership) Regions() []Region {
	out := make([]Region, len(m.regions))
	copy(out, m.regions)
	return out
}

// Region returns the region with the given id.
func (m *Membership) Region(id string) (Region, bool) {
	i, ok := m.regionIx[id]
	if !ok {
		return Region{}, false
	}
	return m.regions[i], true
}

// Cells returns the ids of the cells contained in a region, in input order.
func (m *Membership) Cells(regionID string) []string {
	ids := m.members[regionID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Cell returns the cell with the given id.
func (m *Membership) Cell(id string) (Cell, bool) {
	i, ok := m.cellIx[id]
	if !ok {
		return Cell{}, false
	}
	return m.cells[i], true
}

// Point returns the representative point of a cell.
func (m *Membership) Point(cellID string) (grid.Coord, bool) {
	i, ok := m.cellIx[cellID]
	if !ok || !m.located[i] {
		return grid.Coord{}, false
	}
	return m.points[i], true
}

// RegionsOf returns the regions a cell belongs to.
func (m *Membership) RegionsOf(cellID string) []string {
	ids := m.owners[cellID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// RegionOf returns the first region a cell belongs to.
func (m *Membership) RegionOf(cellID string) (string, bool) {
	ids := m.owners[cellID]
	if len(ids) == 0 {
		return "", false
	}
	return ids[0], true
}

// Keys snaps the representative points of cellIDs with idx, skipping cells
// without a point.
func (m *Membership) Keys(idx grid.Index, cellIDs []string) []grid.Key {
	keys := make([]grid.Key, 0, len(cellIDs))
	for _, id := range cellIDs {
		if pt, ok := m.Point(id); ok {
			keys = append(keys, idx.Snap(pt))
		}
	}
	return keys
}

// Pending is a membership build running off the caller's goroutine.
// Drill-down actions must Wait on it before touching the membership.
type Pending struct {
	done chan struct{}
	m    *Membership
	err  error
}

// BuildAsync starts Build in a goroutine.
func BuildAsync(ctx context.Context, regions []Region, cells []Cell, opts ...Option) *Pending {
	p := &Pending{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		p.m, p.err = Build(ctx, regions, cells, opts...)
		if p.err != nil {
			zap.L().Error("region: membership build failed", zap.Error(p.err))
		}
	}()
	return p
}

// Ready wraps an already built membership.
func Ready(m *Membership) *Pending {
	p := &Pending{done: make(chan struct{}), m: m}
	close(p.done)
	return p
}

// Done is closed once the build finishes.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the build finishes or ctx is done.
func (p *Pending) Wait(ctx context.Context) (*Membership, error) {
	select {
	case <-p.done:
		return p.m, p.err
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "region: wait for membership")
	}
}

// Then returns a Pending that completes after p does and fn has run on the
// built membership. fn is skipped when the build failed.
func (p *Pending) Then(fn func(*Membership)) *Pending {
	next := &Pending{done: make(chan struct{})}
	go func() {
		defer close(next.done)
		<-p.done
		next.m, next.err = p.m, p.err
		if p.err == nil && fn != nil {
			fn(p.m)
		}
	}()
	return next
}
