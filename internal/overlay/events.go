package overlay

import (
	"github.com/sells-group/gridmap/internal/gesture"
	"github.com/sells-group/gridmap/internal/grid"
	"github.com/sells-group/gridmap/internal/viewport"
)

// EventKind names an input event.
type EventKind string

// Input events.
const (
	PointerDown  EventKind = "pointer_down"
	PointerUp    EventKind = "pointer_up"
	ViewChanged  EventKind = "transform"
	SelectRegion EventKind = "select_region"
	SelectCell   EventKind = "select_cell"
	Deselect     EventKind = "deselect"
	Reload       EventKind = "reload"
	Hover        EventKind = "hover"
)

// Event is one input to a Session. Only the fields relevant to Kind are
// read.
type Event struct {
	Kind EventKind `json:"kind"`

	// PointerDown, PointerUp.
	Point  viewport.Point `json:"point"`
	Target gesture.Target `json:"target"`

	// ViewChanged. Pan is applied after Center and Zoom.
	Center *grid.Coord     `json:"center,omitempty"`
	Zoom   *float64        `json:"zoom,omitempty"`
	Pan    *viewport.Point `json:"pan,omitempty"`
	Size   *viewport.Size  `json:"size,omitempty"`

	// SelectRegion, SelectCell, Hover.
	ID string `json:"id,omitempty"`
	On bool   `json:"on,omitempty"`

	// Reload. Table, when set, is used instead of loading Period.
	Period string      `json:"period,omitempty"`
	Table  *grid.Table `json:"-"`

	// Reply receives the outcome when non-nil.
	Reply chan<- error `json:"-"`
}

// Message types published to subscribers.
const (
	MsgAggregate        = "aggregate"
	MsgAggregateCleared = "aggregate_cleared"
	MsgDetailPending    = "detail_pending"
	MsgDetail           = "detail"
	MsgDetailFailed     = "detail_failed"
	MsgDetailCleared    = "detail_cleared"
	MsgFrame            = "frame"
	MsgPeriod           = "period"
	MsgHover            = "hover"
	MsgError            = "error"
)
