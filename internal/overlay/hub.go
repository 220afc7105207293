package overlay

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gridmap/internal/dataset"
	"github.com/sells-group/gridmap/internal/grid"
	"github.com/sells-group/gridmap/internal/region"
	"github.com/sells-group/gridmap/internal/selection"
	"github.com/sells-group/gridmap/internal/viewport"
)

// ErrUnknownSession is returned for a session id the hub does not hold.
var ErrUnknownSession = eris.New("overlay: unknown session")

// Hub owns the running sessions and the shared membership and table.
type Hub struct {
	base    context.Context
	pending *region.Pending
	fetcher selection.Fetcher
	loader  Loader
	view    viewport.Transform
	opts    Options

	// reloadMu holds a reload from load through fan-out.
	reloadMu sync.Mutex

	mu       sync.Mutex
	table    *grid.Table
	period   string
	sessions map[string]*running
}

type running struct {
	s      *Session
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub returns a Hub serving table as period. Sessions run under ctx.
func NewHub(ctx context.Context, pending *region.Pending, table *grid.Table, period string, view viewport.Transform, f selection.Fetcher, loader Loader, opts Options) *Hub {
	return &Hub{
		base:     ctx,
		pending:  pending,
		fetcher:  f,
		loader:   loader,
		view:     view,
		opts:     opts,
		table:    table,
		period:   period,
		sessions: make(map[string]*running),
	}
}

// Open starts a new session.
func (h *Hub) Open() *Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	ctx, cancel := context.WithCancel(h.base)
	s := NewSession(ctx, h.pending, h.table, h.view, h.fetcher, h.loader, h.opts)
	r := &running{s: s, events: make(chan Event, 16), cancel: cancel, done: make(chan struct{})}
	h.sessions[s.ID()] = r

	go func() {
		defer close(r.done)
		_ = s.Run(ctx, r.events)
	}()
	zap.L().Debug("overlay: session opened", zap.String("session", s.ID()))
	return s
}

// Session returns a running session.
func (h *Hub) Session(id string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.sessions[id]
	if !ok {
		return nil, false
	}
	return r.s, true
}

// Len returns the number of running sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close stops a session and waits for it to exit.
func (h *Hub) Close(id string) {
	h.mu.Lock()
	r, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if !ok {
		return
	}
	r.cancel()
	<-r.done
}

// Shutdown stops every session.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.Close(id)
	}
}

// Submit delivers ev to a session and waits for its outcome.
func (h *Hub) Submit(ctx context.Context, id string, ev Event) error {
	h.mu.Lock()
	r, ok := h.sessions[id]
	h.mu.Unlock()
	if !ok {
		return eris.Wrapf(ErrUnknownSession, "overlay: session %q", id)
	}

	reply := make(chan error, 1)
	ev.Reply = reply
	select {
	case r.events <- ev:
	case <-r.done:
		return eris.Wrapf(ErrUnknownSession, "overlay: session %q stopped", id)
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "overlay: submit")
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		return eris.Wrapf(ErrUnknownSession, "overlay: session %q stopped", id)
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "overlay: await reply")
	}
}

// Period returns the active period and its table.
func (h *Hub) Period() (string, *grid.Table) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.period, h.table
}

// Membership waits for the shared membership.
func (h *Hub) Membership(ctx context.Context) (*region.Membership, error) {
	return h.pending.Wait(ctx)
}

// Reload loads period once and swaps it into every session. The table is
// replaced even if a session fails to apply it. Concurrent reloads run one
// at a time.
func (h *Hub) Reload(ctx context.Context, period string) (dataset.Stats, error) {
	if h.loader == nil {
		return dataset.Stats{}, eris.New("overlay: no dataset loader")
	}
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	h.mu.Lock()
	idx := h.table.Index()
	h.mu.Unlock()

	table, stats, err := h.loader.Load(ctx, idx, period)
	if err != nil {
		return stats, err
	}

	h.mu.Lock()
	h.table, h.period = table, period
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := h.Submit(ctx, id, Event{Kind: Reload, Period: period, Table: table}); err != nil && !eris.Is(err, ErrUnknownSession) {
			errs = append(errs, err)
		}
	}
	zap.L().Info("overlay: period reloaded", zap.String("period", period), zap.Int("sessions", len(ids)), zap.Int("cells", table.Len()))
	if len(errs) > 0 {
		return stats, eris.Wrapf(errs[0], "overlay: reload failed in %d sessions", len(errs))
	}
	return stats, nil
}
