// Package selection drives region drill-down and per-cell detail retrieval.
package selection

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/gridmap/internal/grid"
	"github.com/sells-group/gridmap/pkg/detail"
)

// Phase is the selection lifecycle stage.
type Phase int

const (
	// Idle has nothing selected.
	Idle Phase = iota
	// RegionSelected shows a region's cells and aggregate.
	RegionSelected
	// CellPending waits for a cell's detail.
	CellPending
	// CellResolved shows a cell's detail.
	CellResolved
	// CellFailed shows a detail failure.
	CellFailed
)

func (p Phase) String() string {
	switch p {
	case RegionSelected:
		return "region_selected"
	case CellPending:
		return "cell_pending"
	case CellResolved:
		return "cell_resolved"
	case CellFailed:
		return "cell_failed"
	default:
		return "idle"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(b []byte) error {
	for _, v := range []Phase{Idle, RegionSelected, CellPending, CellResolved, CellFailed} {
		if v.String() == string(b) {
			*p = v
			return nil
		}
	}
	return eris.Errorf("selection: unknown phase %q", b)
}

// State is a snapshot of the selection.
type State struct {
	Phase         Phase          `json:"phase"`
	ActiveRegion  string         `json:"active_region,omitempty"`
	RevealedCells []string       `json:"revealed_cells,omitempty"`
	Counts        grid.Counts    `json:"counts,omitempty"`
	Cell          string         `json:"cell,omitempty"`
	Detail        *detail.Record `json:"detail,omitempty"`
	Err           string         `json:"error,omitempty"`
	Token         uint64         `json:"token"`
}

// Aggregate is the per-region classification summary.
type Aggregate struct {
	RegionID   string      `json:"region_id"`
	RegionName string      `json:"region_name"`
	Counts     grid.Counts `json:"counts"`
	Cells      int         `json:"cells"`
}

// Presenter receives selection output. Calls are serialised and made while
// the controller holds its lock, so a Presenter must not call back into the
// controller.
type Presenter interface {
	Aggregate(a Aggregate)
	AggregateCleared()
	DetailPending(cellID string)
	DetailResolved(cellID string, rec *detail.Record)
	DetailFailed(cellID string, err error)
	DetailCleared()
}

// NopPresenter discards output.
type NopPresenter struct{}

func (NopPresenter) Aggregate(Aggregate) {}
func (NopPresenter) AggregateCleared() {}
func (NopPresenter) DetailPending(string) {}
func (NopPresenter) DetailResolved(string, *detail.Record) {}
func (NopPresenter) DetailFailed(string, error) {}
func (NopPresenter) DetailCleared() {}
