package region

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
)

// FeatureOptions names the properties carrying a feature's id and display
// name. The GeoJSON "id" member is used when IDProperty is empty or missing.
// Charset applies to shapefile attributes only, e.g. "euc-kr".
type FeatureOptions struct {
	IDProperty   string
	NameProperty string
	Charset      string
}

// ReadRegions decodes a GeoJSON FeatureCollection of regions.
func ReadRegions(r io.Reader, opts FeatureOptions) ([]Region, error) {
	features, err := decodeFeatures(r)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("component", "region.geojson"))
	regions := make([]Region, 0, len(features))
	for i, f := range features {
		if f.Geometry == nil {
			log.Debug("skipping region without geometry", zap.Int("feature", i))
			continue
		}
		id := featureID(f, opts.IDProperty, i)
		regions = append(regions, Region{
			ID:       id,
			Name:     firstNonEmpty(propString(f.Properties, opts.NameProperty), id),
			Geometry: f.Geometry,
		})
	}
	if len(regions) == 0 {
		return nil, eris.Wrap(ErrMalformedInput, "region: no region geometries")
	}
	return regions, nil
}

// ReadCells decodes a GeoJSON FeatureCollection of grid cells.
func ReadCells(r io.Reader, opts FeatureOptions) ([]Cell, error) {
	features, err := decodeFeatures(r)
	if err != nil {
		return nil, err
	}

	cells := make([]Cell, 0, len(features))
	for i, f := range features {
		if f.Geometry == nil {
			zap.L().Debug("region: skipping cell without geometry", zap.Int("feature", i))
			continue
		}
		cells = append(cells, Cell{ID: featureID(f, opts.IDProperty, i), Geometry: f.Geometry})
	}
	if len(cells) == 0 {
		return nil, eris.Wrap(ErrMalformedInput, "region: no cell geometries")
	}
	return cells, nil
}

// ReadRegionsFile loads regions from a .geojson/.json file or an ESRI
// shapefile, chosen by extension.
func ReadRegionsFile(path string, opts FeatureOptions) ([]Region, error) {
	if strings.EqualFold(filepath.Ext(path), ".shp") {
		return ReadShapefile(path, opts)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "region: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return ReadRegions(f, opts)
}

// ReadCellsFile loads cells from a GeoJSON file.
func ReadCellsFile(path string, opts FeatureOptions) ([]Cell, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "region: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return ReadCells(f, opts)
}

func decodeFeatures(r io.Reader) ([]*geojson.Feature, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "region: read geojson")
	}
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(ErrMalformedInput, "region: decode feature collection: %v", err)
	}
	if len(fc.Features) == 0 {
		return nil, eris.Wrap(ErrMalformedInput, "region: empty feature collection")
	}
	return fc.Features, nil
}

func featureID(f *geojson.Feature, prop string, i int) string {
	if id := propString(f.Properties, prop); id != "" {
		return id
	}
	if f.ID != "" {
		return f.ID
	}
	return strconv.Itoa(i)
}

func propString(props map[string]interface{}, key string) string {
	if key == "" || props == nil {
		return ""
	}
	switch v := props[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
