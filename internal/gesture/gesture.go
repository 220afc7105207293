// Package gesture tells clicks from drags so a map pan never triggers a
// selection.
package gesture

import (
	"sync"

	"github.com/sells-group/gridmap/internal/viewport"
)

// DefaultThreshold is the click tolerance in pixels.
const DefaultThreshold = 5.0

// Kind is the resolved gesture.
type Kind int

const (
	// None means the pointer-up had no matching pointer-down.
	None Kind = iota
	// Click is a press and release within the threshold.
	Click
	// Drag is anything that moved further.
	Drag
)

func (k Kind) String() string {
	switch k {
	case Click:
		return "click"
	case Drag:
		return "drag"
	default:
		return "none"
	}
}

// TargetKind identifies what was under the pointer.
type TargetKind int

const (
	// Background is the bare map.
	Background TargetKind = iota
	// RegionTarget is a region boundary.
	RegionTarget
	// CellTarget is a grid cell.
	CellTarget
)

// Target is the primitive under the pointer on release.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
}

// Handler receives resolved clicks.
type Handler func(Target)

// Router resolves pointer down/up pairs.
type Router struct {
	mu        sync.Mutex
	threshold float64
	origin    *viewport.Point
	handler   Handler
}

// NewRouter returns a Router with the default threshold. threshold <= 0
// uses DefaultThreshold.
func NewRouter(threshold float64, h Handler) *Router {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Router{threshold: threshold, handler: h}
}

// Threshold returns the click tolerance in pixels.
func (r *Router) Threshold() float64 {
	return r.threshold
}

// PointerDown records the gesture origin.
func (r *Router) PointerDown(p viewport.Point) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.origin = &p
}

// PointerUp resolves the gesture and clears the origin. Clicks are
// dispatched to the handler; drags are dropped.
func (r *Router) PointerUp(p viewport.Point, target Target) Kind {
	r.mu.Lock()
	origin := r.origin
	r.origin = nil
	r.mu.Unlock()

	if origin == nil {
		return None
	}
	dx := p.X - origin.X
	dy := p.Y - origin.Y
	if dx*dx+dy*dy > r.threshold*r.threshold {
		return Drag
	}
	if r.handler != nil {
		r.handler(target)
	}
	return Click
}
