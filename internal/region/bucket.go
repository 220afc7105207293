package region

import (
	"sort"

	"github.com/tidwall/rtree"

	"github.com/sells-group/gridmap/internal/grid"
)

// bucket indexes region bounding boxes so a point is only tested against
// regions whose box covers it.
type bucket struct {
	regions []Region
	tree    rtree.RTreeG[int]
}

func newBucket(regions []Region) *bucket {
	b := &bucket{regions: regions}
	for i, r := range regions {
		if r.Geometry == nil || r.Geometry.Empty() {
			continue
		}
		bb := Bounds(r.Geometry)
		b.tree.Insert([2]float64{bb.MinLon, bb.MinLat}, [2]float64{bb.MaxLon, bb.MaxLat}, i)
	}
	return b
}

// containing returns the indexes of every region containing c, ascending.
func (b *bucket) containing(c grid.Coord) []int {
	pt := [2]float64{c.Lon, c.Lat}
	var hits []int
	b.tree.Search(pt, pt, func(_, _ [2]float64, i int) bool {
		if Contains(b.regions[i].Geometry, c) {
			hits = append(hits, i)
		}
		return true
	})
	sort.Ints(hits)
	return hits
}
