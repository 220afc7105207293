// Package detail fetches per-cell demographic detail from the grid detail
// service by coordinate.
package detail

// Query is the request body: the coordinate of a grid cell.
type Query struct {
	Longitude *float64 `json:"longitude"`
	Latitude  *float64 `json:"latitude"`
}

// NewQuery returns a Query for lon, lat.
func NewQuery(lon, lat float64) Query {
	return Query{Longitude: &lon, Latitude: &lat}
}

// Area is the administrative naming of a grid cell.
type Area struct {
	Grid100 string  `json:"grid_100"`
	HArea   string  `json:"h_area"`
	BArea   string  `json:"b_area"`
	GArea   *string `json:"g_area"`
}

// Record is the full detail of a grid cell: naming, position and
// population counts. Counts are nil when the source has no value.
type Record struct {
	Area
	City            string   `json:"city"`
	HAArea          string   `json:"h_a_area"`
	X               *float64 `json:"x"`
	Y               *float64 `json:"y"`
	Male            *int     `json:"male"`
	Female          *int     `json:"female"`
	TotalPopulation *int     `json:"total_population"`
	Kid             *int     `json:"kid"`
	Old             *int     `json:"old"`
	RealKid         *int     `json:"realkid"`
	Element         *int     `json:"element"`
	Middle          *int     `json:"middle"`
	High            *int     `json:"high"`
	Twenty          *int     `json:"twenty"`
	Thirty          *int     `json:"thirty"`
	Fourty          *int     `json:"fourty"`
	Fifty           *int     `json:"fifty"`
	Sixty           *int     `json:"sixty"`
	Seventy         *int     `json:"seventy"`
}

// AgeBands returns the population per age band in display order, with nil
// counts as zero.
func (r Record) AgeBands() []Band {
	return []Band{
		{"20s", deref(r.Twenty)},
		{"30s", deref(r.Thirty)},
		{"40s", deref(r.Fourty)},
		{"50s", deref(r.Fifty)},
		{"60s", deref(r.Sixty)},
		{"70s", deref(r.Seventy)},
	}
}

// Band is one bar of an age histogram.
type Band struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// Response is the service envelope.
type Response[T any] struct {
	Data  []T    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}
