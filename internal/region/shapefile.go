package region

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// ReadShapefile loads region polygons from an ESRI shapefile. Outer rings
// are clockwise; counter-clockwise rings are holes of the preceding shell.
func ReadShapefile(path string, opts FeatureOptions) ([]Region, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "region: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	var dec *encoding.Decoder
	if opts.Charset != "" {
		enc, err := htmlindex.Get(opts.Charset)
		if err != nil {
			return nil, eris.Wrapf(err, "region: unsupported charset %q", opts.Charset)
		}
		dec = enc.NewDecoder()
	}

	idIdx := fieldIndex(reader, opts.IDProperty)
	nameIdx := fieldIndex(reader, opts.NameProperty)
	if opts.IDProperty != "" && idIdx < 0 {
		return nil, eris.Wrapf(ErrMalformedInput, "region: shapefile field %q not found", opts.IDProperty)
	}

	attr := func(i int) string {
		if i < 0 {
			return ""
		}
		v := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
		if dec != nil {
			if s, err := dec.String(v); err == nil {
				v = s
			}
		}
		return v
	}

	log := zap.L().With(zap.String("component", "region.shapefile"))
	var regions []Region
	for reader.Next() {
		n, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			log.Debug("skipping non-polygon shape", zap.Int("shape", n))
			continue
		}
		g := shapeToMultiPolygon(poly)
		if g == nil {
			continue
		}
		id := firstNonEmpty(attr(idIdx), strconv.Itoa(n))
		regions = append(regions, Region{
			ID:       id,
			Name:     firstNonEmpty(attr(nameIdx), id),
			Geometry: g,
		})
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrap(err, "region: read shapefile")
	}
	if len(regions) == 0 {
		return nil, eris.Wrap(ErrMalformedInput, "region: shapefile has no polygons")
	}

	log.Info("loaded regions from shapefile", zap.String("path", path), zap.Int("regions", len(regions)))
	return regions, nil
}

func fieldIndex(reader *shp.Reader, name string) int {
	if name == "" {
		return -1
	}
	for i, f := range reader.Fields() {
		if strings.EqualFold(f.String(), name) {
			return i
		}
	}
	return -1
}

// shapeToMultiPolygon groups shapefile parts into polygons with holes.
func shapeToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY)
	var current *geom.Polygon
	flush := func() {
		if current == nil {
			return
		}
		if err := mp.Push(current); err != nil {
			zap.L().Debug("region: skipping malformed polygon", zap.Error(err))
		}
		current = nil
	}

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			continue
		}

		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		if xy.IsRingCounterClockwise(geom.XY, flat) && current != nil {
			if err := current.Push(ring); err != nil {
				zap.L().Debug("region: skipping malformed hole", zap.Int32("part", i), zap.Error(err))
			}
			continue
		}

		flush()
		current = geom.NewPolygon(geom.XY)
		if err := current.Push(ring); err != nil {
			zap.L().Debug("region: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
			current = nil
		}
	}
	flush()

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}
