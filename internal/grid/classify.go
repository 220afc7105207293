package grid

import "github.com/rotisserie/eris"

// Classification is the confusion-matrix readout of one cell.
// The zero value is TrueNegative so absent cells read as neutral.
type Classification int

// Classification values.
const (
	TrueNegative Classification = iota
	TruePositive
	FalseNegative
	FalsePositive
)

// All lists every classification in display order.
var All = []Classification{TruePositive, FalseNegative, FalsePositive, TrueNegative}

// Fill colours used by the overlay.
const (
	colorTruePositive  = "#00ff00"
	colorFalseNegative = "#9b111e"
	colorFalsePositive = "#0000ff"
	colorTrueNegative  = "#ffffff"

	// HoverColor replaces the fill of the cell under the pointer.
	HoverColor = "#ffcc00"
)

// Classify returns the classification for an observed/predicted pair.
//   - (1,1) TruePositive
//   - (1,0) FalseNegative
//   - (0,1) FalsePositive
//   - (0,0) TrueNegative
func Classify(actual, predicted bool) Classification {
	switch {
	case actual && predicted:
		return TruePositive
	case actual:
		return FalseNegative
	case predicted:
		return FalsePositive
	default:
		return TrueNegative
	}
}

func (c Classification) String() string {
	switch c {
	case TruePositive:
		return "tp"
	case FalseNegative:
		return "fn"
	case FalsePositive:
		return "fp"
	default:
		return "tn"
	}
}

// Color returns the overlay fill colour.
func (c Classification) Color() string {
	switch c {
	case TruePositive:
		return colorTruePositive
	case FalseNegative:
		return colorFalseNegative
	case FalsePositive:
		return colorFalsePositive
	default:
		return colorTrueNegative
	}
}

// MarshalText lets classifications key JSON objects.
func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses "tp", "fn", "fp" or "tn".
func (c *Classification) UnmarshalText(b []byte) error {
	switch string(b) {
	case "tp":
		*c = TruePositive
	case "fn":
		*c = FalseNegative
	case "fp":
		*c = FalsePositive
	case "tn":
		*c = TrueNegative
	default:
		return eris.Errorf("grid: unknown classification %q", string(b))
	}
	return nil
}

// Counts tallies cells per classification.
type Counts map[Classification]int

// Total returns the number of counted cells.
func (c Counts) Total() int {
	var n int
	for _, v := range c {
		n += v
	}
	return n
}
