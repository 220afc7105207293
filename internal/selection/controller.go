package selection

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gridmap/internal/grid"
	"github.com/sells-group/gridmap/internal/metrics"
	"github.com/sells-group/gridmap/internal/region"
	"github.com/sells-group/gridmap/internal/viewport"
	"github.com/sells-group/gridmap/pkg/detail"
)

const (
	// DefaultTimeout bounds one detail request.
	DefaultTimeout = 10 * time.Second
	// DrillZoom is the zoom used after selecting a region.
	DrillZoom = 15.0
	// OverviewZoom is the zoom restored on deselect.
	OverviewZoom = 12.0
)

var (
	// ErrUnknownRegion is returned for a region id not in the membership.
	ErrUnknownRegion = eris.New("selection: unknown region")
	// ErrUnknownCell is returned for a cell id not in the membership.
	ErrUnknownCell = eris.New("selection: unknown cell")
)

// Fetcher retrieves the detail of one cell.
type Fetcher interface {
	Fetch(ctx context.Context, at grid.Coord) (*detail.Record, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, at grid.Coord) (*detail.Record, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, at grid.Coord) (*detail.Record, error) {
	return f(ctx, at)
}

// ClientFetcher fetches through a detail.Client.
func ClientFetcher(c detail.Client) Fetcher {
	return FetcherFunc(func(ctx context.Context, at grid.Coord) (*detail.Record, error) {
		return c.Cell(ctx, at.Lon, at.Lat)
	})
}

// Option configures a Controller.
type Option func(*Controller)

// WithTimeout sets the per-request detail timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithZooms sets the drill-down and overview zooms.
func WithZooms(drill, overview float64) Option {
	return func(c *Controller) {
		c.drillZoom, c.overviewZoom = drill, overview
	}
}

// WithBaseContext sets the parent context of detail requests. Cancelling it
// abandons every in-flight request.
func WithBaseContext(ctx context.Context) Option {
	return func(c *Controller) {
		c.base = ctx
	}
}

// Controller owns the selection state. Detail requests run in goroutines;
// only the response to the latest request is applied.
type Controller struct {
	pending   *region.Pending
	overlay   *viewport.Sync
	fetcher   Fetcher
	presenter Presenter
	log       *zap.Logger

	base         context.Context
	timeout      time.Duration
	drillZoom    float64
	overviewZoom float64

	mu     sync.Mutex
	idx    grid.Index
	table  *grid.Table
	state  State
	token  uint64
	cancel context.CancelFunc
	stale  int
	wg     sync.WaitGroup
}

// New returns an idle Controller.
func New(pending *region.Pending, table *grid.Table, overlay *viewport.Sync, f Fetcher, p Presenter, opts ...Option) *Controller {
	if p == nil {
		p = NopPresenter{}
	}
	c := &Controller{
		pending:      pending,
		overlay:      overlay,
		fetcher:      f,
		presenter:    p,
		log:          zap.L().With(zap.String("component", "selection")),
		base:         context.Background(),
		timeout:      DefaultTimeout,
		drillZoom:    DrillZoom,
		overviewZoom: OverviewZoom,
		idx:          table.Index(),
		table:        table,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns a snapshot of the selection.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.RevealedCells = append([]string(nil), s.RevealedCells...)
	s.Token = c.token
	return s
}

// Stale returns how many detail responses arrived too late to apply.
func (c *Controller) Stale() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

// Table returns the active classification table.
func (c *Controller) Table() *grid.Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.table
}

// SelectRegion drills into a region: its boundary is hidden, its cells are
// revealed and classified, and the view recentres on it.
func (c *Controller) SelectRegion(ctx context.Context, id string) error {
	m, err := c.pending.Wait(ctx)
	if err != nil {
		return eris.Wrap(err, "selection: membership unavailable")
	}
	r, ok := m.Region(id)
	if !ok {
		return eris.Wrapf(ErrUnknownRegion, "selection: region %q", id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.restoreLocked()
	c.invalidateLocked()

	cells := m.Cells(id)
	keys := c.classifyLocked(m, cells)
	c.overlay.SetCellsHidden(cells, false)
	c.overlay.SetRegionHidden(id, true)

	agg := Aggregate{RegionID: id, RegionName: r.Name, Counts: c.table.Aggregate(keys), Cells: len(cells)}
	c.state = State{
		Phase:         RegionSelected,
		ActiveRegion:  id,
		RevealedCells: cells,
		Counts:        agg.Counts,
	}

	center, err := region.Centroid(r.Geometry)
	if err != nil {
		bb := region.Bounds(r.Geometry)
		center = grid.Coord{Lon: (bb.MinLon + bb.MaxLon) / 2, Lat: (bb.MinLat + bb.MaxLat) / 2}
	}
	c.overlay.TransformChanged(c.overlay.Transform().SetView(center, c.drillZoom))

	c.presenter.DetailCleared()
	c.presenter.Aggregate(agg)
	metrics.RecordSelection("region")
	c.log.Debug("region selected", zap.String("region", id), zap.Int("cells", len(cells)))
	return nil
}

// SelectCell requests a cell's detail. Any in-flight request is cancelled
// and its response, should it still arrive, is discarded.
func (c *Controller) SelectCell(ctx context.Context, cellID string) error {
	m, err := c.pending.Wait(ctx)
	if err != nil {
		return eris.Wrap(err, "selection: membership unavailable")
	}
	at, ok := m.Point(cellID)
	if !ok {
		return eris.Wrapf(ErrUnknownCell, "selection: cell %q", cellID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.invalidateLocked()
	token := c.token
	fctx, cancel := context.WithTimeout(c.base, c.timeout)
	c.cancel = cancel

	c.state.Phase = CellPending
	c.state.Cell = cellID
	c.state.Detail = nil
	c.state.Err = ""

	t := c.overlay.Transform()
	c.overlay.TransformChanged(t.SetView(at, t.Zoom()))

	c.presenter.DetailCleared()
	c.presenter.DetailPending(cellID)
	metrics.RecordSelection("cell")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		start := time.Now()
		rec, err := c.fetcher.Fetch(fctx, at)
		c.apply(token, cellID, rec, err, time.Since(start))
	}()
	return nil
}

func (c *Controller) apply(token uint64, cellID string, rec *detail.Record, err error, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if token != c.token {
		c.stale++
		metrics.RecordDetail(metrics.OutcomeStale, elapsed)
		c.log.Debug("discarding stale detail", zap.String("cell", cellID), zap.Uint64("token", token))
		return
	}
	c.cancel = nil

	if err != nil {
		c.state.Phase = CellFailed
		c.state.Detail = nil
		c.state.Err = err.Error()
		c.presenter.DetailFailed(cellID, err)
		metrics.RecordDetail(metrics.OutcomeFailed, elapsed)
		c.log.Warn("cell detail failed", zap.String("cell", cellID), zap.Error(err))
		return
	}

	c.state.Phase = CellResolved
	c.state.Detail = rec
	c.presenter.DetailResolved(cellID, rec)
	metrics.RecordDetail(metrics.OutcomeResolved, elapsed)
}

// Deselect returns to Idle: the region boundary is restored, its cells are
// hidden, detail is cleared and any pending response is invalidated.
func (c *Controller) Deselect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.restoreLocked()
	c.invalidateLocked()
	c.state = State{Phase: Idle}

	t := c.overlay.Transform()
	if t.Zoom() > c.overviewZoom {
		c.overlay.TransformChanged(t.ZoomTo(c.overviewZoom))
	}

	c.presenter.DetailCleared()
	c.presenter.AggregateCleared()
	metrics.RecordSelection("deselect")
}

// Reload swaps the classification table. Revealed cells are recoloured in
// place and the aggregate re-emitted; membership is untouched.
func (c *Controller) Reload(ctx context.Context, table *grid.Table) error {
	if table == nil {
		return eris.New("selection: reload with nil table")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.table = table
	c.idx = table.Index()
	metrics.RecordReload(table.Len())

	if c.state.ActiveRegion == "" {
		return nil
	}
	m, err := c.pending.Wait(ctx)
	if err != nil {
		return eris.Wrap(err, "selection: membership unavailable")
	}
	r, _ := m.Region(c.state.ActiveRegion)
	keys := c.classifyLocked(m, c.state.RevealedCells)
	c.state.Counts = c.table.Aggregate(keys)
	c.presenter.Aggregate(Aggregate{
		RegionID:   r.ID,
		RegionName: r.Name,
		Counts:     c.state.Counts,
		Cells:      len(c.state.RevealedCells),
	})
	return nil
}

// Wait blocks until in-flight detail requests finish.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) classifyLocked(m *region.Membership, cells []string) []grid.Key {
	keys := make([]grid.Key, 0, len(cells))
	for _, id := range cells {
		pt, ok := m.Point(id)
		if !ok {
			continue
		}
		k := c.idx.Snap(pt)
		keys = append(keys, k)
		c.overlay.SetCellClass(id, c.table.Classify(k))
	}
	return keys
}

func (c *Controller) restoreLocked() {
	if c.state.ActiveRegion == "" {
		return
	}
	c.overlay.SetCellsHidden(c.state.RevealedCells, true)
	c.overlay.SetRegionHidden(c.state.ActiveRegion, false)
}

func (c *Controller) invalidateLocked() {
	c.token++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}
