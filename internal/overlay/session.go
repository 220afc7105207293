// Package overlay runs the interactive map overlay: one Session per viewer
// consumes input events and publishes selection output.
package overlay

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gridmap/internal/dataset"
	"github.com/sells-group/gridmap/internal/gesture"
	"github.com/sells-group/gridmap/internal/grid"
	"github.com/sells-group/gridmap/internal/region"
	"github.com/sells-group/gridmap/internal/selection"
	"github.com/sells-group/gridmap/internal/viewport"
)

// ErrUnknownEvent is returned for an event kind the session does not handle.
var ErrUnknownEvent = eris.New("overlay: unknown event")

// Loader loads a period's classification table.
type Loader interface {
	Load(ctx context.Context, idx grid.Index, period string) (*grid.Table, dataset.Stats, error)
}

// Options tunes a Session.
type Options struct {
	Threshold    float64
	Timeout      time.Duration
	DrillZoom    float64
	OverviewZoom float64
}

// Session is one viewer's overlay: its primitives, gesture router and
// selection controller. Handle must be called from a single goroutine.
type Session struct {
	id      string
	idx     grid.Index
	overlay *viewport.Sync
	ctrl    *selection.Controller
	router  *gesture.Router
	ready   *region.Pending
	loader  Loader
	bcast   *Broadcaster
	log     *zap.Logger
}

// NewSession builds a session over a shared membership. Primitives are
// created once the membership is ready; selections wait for that.
func NewSession(ctx context.Context, pending *region.Pending, table *grid.Table, view viewport.Transform, f selection.Fetcher, loader Loader, opts Options) *Session {
	id := uuid.NewString()
	s := &Session{
		id:      id,
		idx:     table.Index(),
		overlay: viewport.NewSync(table.Index(), view),
		loader:  loader,
		bcast:   NewBroadcaster(id),
		log:     zap.L().With(zap.String("component", "overlay"), zap.String("session", id)),
	}
	s.ready = pending.Then(func(m *region.Membership) { s.populate(m, table) })

	ctrlOpts := []selection.Option{selection.WithBaseContext(ctx)}
	if opts.Timeout > 0 {
		ctrlOpts = append(ctrlOpts, selection.WithTimeout(opts.Timeout))
	}
	if opts.DrillZoom > 0 && opts.OverviewZoom > 0 {
		ctrlOpts = append(ctrlOpts, selection.WithZooms(opts.DrillZoom, opts.OverviewZoom))
	}
	s.ctrl = selection.New(s.ready, table, s.overlay, f, s.bcast, ctrlOpts...)
	s.router = gesture.NewRouter(opts.Threshold, nil)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Broadcaster returns the session's output stream.
func (s *Session) Broadcaster() *Broadcaster { return s.bcast }

// Ready completes once the session's primitives exist.
func (s *Session) Ready() *region.Pending { return s.ready }

// Frame returns the visible primitives.
func (s *Session) Frame() viewport.Frame { return s.overlay.Frame() }

// State returns the selection snapshot.
func (s *Session) State() selection.State { return s.ctrl.State() }

// Overlay returns the primitive store.
func (s *Session) Overlay() *viewport.Sync { return s.overlay }

// populate adds one boundary per region and one hidden rectangle per
// assigned cell.
func (s *Session) populate(m *region.Membership, table *grid.Table) {
	seen := make(map[string]bool)
	for _, r := range m.Regions() {
		s.overlay.AddRegion(r.ID, r.Name, r.Geometry)
		for _, id := range m.Cells(r.ID) {
			if seen[id] {
				continue
			}
			seen[id] = true
			pt, ok := m.Point(id)
			if !ok {
				continue
			}
			k := s.idx.Snap(pt)
			s.overlay.AddCell(id, k, table.Classify(k))
		}
	}
	s.log.Debug("overlay populated", zap.Int("regions", len(m.Regions())), zap.Int("cells", len(seen)))
}

// Run handles events until ctx is done or events is closed, then waits for
// in-flight detail requests.
func (s *Session) Run(ctx context.Context, events <-chan Event) error {
	defer s.ctrl.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			err := s.Handle(ctx, ev)
			if err != nil {
				s.log.Debug("event failed", zap.String("kind", string(ev.Kind)), zap.Error(err))
				s.bcast.Publish(Message{Type: MsgError, Error: err.Error()})
			}
			if ev.Reply != nil {
				ev.Reply <- err
			}
		}
	}
}

// Handle applies one event. Events that move the viewport or change which
// primitives are visible publish a fresh frame.
func (s *Session) Handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case PointerDown:
		s.router.PointerDown(ev.Point)
		return nil
	case PointerUp:
		return s.framed(s.pointerUp(ctx, ev))
	case ViewChanged:
		s.applyView(ev)
		return nil
	case SelectRegion:
		return s.framed(s.ctrl.SelectRegion(ctx, ev.ID))
	case SelectCell:
		return s.framed(s.ctrl.SelectCell(ctx, ev.ID))
	case Deselect:
		s.ctrl.Deselect()
		return s.framed(nil)
	case Reload:
		return s.framed(s.reload(ctx, ev))
	case Hover:
		if s.overlay.SetHover(ev.ID, ev.On) {
			s.bcast.Publish(Message{Type: MsgHover, Cell: ev.ID, Hover: ev.On})
			s.publishFrame()
		}
		return nil
	default:
		return eris.Wrapf(ErrUnknownEvent, "overlay: %q", ev.Kind)
	}
}

// framed publishes the current frame unless err is set.
func (s *Session) framed(err error) error {
	if err != nil {
		return err
	}
	s.publishFrame()
	return nil
}

func (s *Session) publishFrame() {
	f := s.overlay.Frame()
	s.bcast.Publish(Message{Type: MsgFrame, Frame: &f})
}

// pointerUp resolves the gesture; only a click reaches the controller.
func (s *Session) pointerUp(ctx context.Context, ev Event) error {
	kind := s.router.PointerUp(ev.Point, ev.Target)
	if kind != gesture.Click {
		return nil
	}
	switch ev.Target.Kind {
	case gesture.RegionTarget:
		return s.ctrl.SelectRegion(ctx, ev.Target.ID)
	case gesture.CellTarget:
		return s.ctrl.SelectCell(ctx, ev.Target.ID)
	default:
		s.ctrl.Deselect()
		return nil
	}
}

func (s *Session) applyView(ev Event) {
	t := s.overlay.Transform()
	if ev.Size != nil {
		t = t.Resize(ev.Size.Width, ev.Size.Height)
	}
	switch {
	case ev.Center != nil && ev.Zoom != nil:
		t = t.SetView(*ev.Center, *ev.Zoom)
	case ev.Center != nil:
		t = t.SetView(*ev.Center, t.Zoom())
	case ev.Zoom != nil:
		t = t.ZoomTo(*ev.Zoom)
	}
	if ev.Pan != nil {
		t = t.Pan(ev.Pan.X, ev.Pan.Y)
	}
	s.overlay.TransformChanged(t)
	s.publishFrame()
}

func (s *Session) reload(ctx context.Context, ev Event) error {
	table := ev.Table
	if table == nil {
		if s.loader == nil {
			return eris.New("overlay: no dataset loader")
		}
		t, _, err := s.loader.Load(ctx, s.idx, ev.Period)
		if err != nil {
			return eris.Wrapf(err, "overlay: reload %q", ev.Period)
		}
		table = t
	}
	if err := s.ctrl.Reload(ctx, table); err != nil {
		return err
	}
	s.bcast.Publish(Message{Type: MsgPeriod, Period: ev.Period})
	return nil
}
