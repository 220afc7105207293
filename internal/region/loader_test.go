package region

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

const dongGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {"adm_cd": "3017060", "adm_nm": "대전광역시 서구 둔산1동"},
      "geometry": {"type": "Polygon", "coordinates": [[[127.37,36.34],[127.39,36.34],[127.39,36.36],[127.37,36.36],[127.37,36.34]]]}
    },
    {
      "type": "Feature",
      "id": 7,
      "properties": {"adm_nm": "no code"},
      "geometry": {"type": "MultiPolygon", "coordinates": [[[[127.40,36.34],[127.42,36.34],[127.42,36.36],[127.40,36.34]]]]}
    },
    {
      "type": "Feature",
      "properties": {"adm_cd": "broken"},
      "geometry": null
    }
  ]
}`

const cellGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"gid": "다바123456"}, "geometry": {"type": "Polygon", "coordinates": [[[127.380,36.350],[127.381,36.350],[127.381,36.351],[127.380,36.351],[127.380,36.350]]]}},
    {"type": "Feature", "properties": {"gid": 42}, "geometry": {"type": "Point", "coordinates": [127.41, 36.345]}}
  ]
}`

func TestReadRegions(t *testing.T) {
	regions, err := ReadRegions(strings.NewReader(dongGeoJSON), FeatureOptions{IDProperty: "adm_cd", NameProperty: "adm_nm"})
	require.NoError(t, err)
	require.Len(t, regions, 2, "null geometry is skipped")

	assert.Equal(t, "3017060", regions[0].ID)
	assert.Equal(t, "대전광역시 서구 둔산1동", regions[0].Name)
	assert.IsType(t, &geom.Polygon{}, regions[0].Geometry)

	assert.Equal(t, "7", regions[1].ID, "falls back to the feature id")
	assert.IsType(t, &geom.MultiPolygon{}, regions[1].Geometry)
}

func TestReadCells_BuildMembership(t *testing.T) {
	opts := FeatureOptions{IDProperty: "adm_cd", NameProperty: "adm_nm"}
	regions, err := ReadRegions(strings.NewReader(dongGeoJSON), opts)
	require.NoError(t, err)

	cells, err := ReadCells(strings.NewReader(cellGeoJSON), FeatureOptions{IDProperty: "gid"})
	require.NoError(t, err)
	require.Len(t, cells, 2)
	assert.Equal(t, "다바123456", cells[0].ID)
	assert.Equal(t, "42", cells[1].ID)

	m, err := Build(context.Background(), regions, cells)
	require.NoError(t, err)
	assert.Equal(t, []string{"다바123456"}, m.Cells("3017060"))
	assert.Equal(t, []string{"42"}, m.Cells("7"))
}

func TestReadRegions_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty collection", `{"type":"FeatureCollection","features":[]}`},
		{"not json", `{{`},
		{"wrong type", `{"type":"Feature","geometry":null,"properties":{}}`},
		{"only null geometries", `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":null,"properties":{}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadRegions(strings.NewReader(tt.input), FeatureOptions{})
			require.Error(t, err)
			assert.True(t, eris.Is(err, ErrMalformedInput))
		})
	}
}

func TestReadRegionsFile_GeoJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dong.geojson")
	require.NoError(t, os.WriteFile(path, []byte(dongGeoJSON), 0o600))

	regions, err := ReadRegionsFile(path, FeatureOptions{IDProperty: "adm_cd"})
	require.NoError(t, err)
	assert.Len(t, regions, 2)

	_, err = ReadRegionsFile(filepath.Join(t.TempDir(), "missing.geojson"), FeatureOptions{})
	assert.Error(t, err)
}

func TestReadRegionsFile_DottedDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "boundaries.shp", "data.v2")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "dong")
	require.NoError(t, os.WriteFile(path, []byte(dongGeoJSON), 0o600))

	regions, err := ReadRegionsFile(path, FeatureOptions{IDProperty: "adm_cd"})
	require.NoError(t, err)
	assert.Len(t, regions, 2)
}

func writeShapefile(t *testing.T, path string) {
	t.Helper()

	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("ADM_CD", 10),
		shp.StringField("ADM_NM", 20),
	}))

	// Clockwise shell with a counter-clockwise hole.
	withHole := shp.Polygon(*shp.NewPolyLine([][]shp.Point{
		{{X: 0, Y: 0}, {X: 0, Y: 4}, {X: 4, Y: 4}, {X: 4, Y: 0}, {X: 0, Y: 0}},
		{{X: 1, Y: 1}, {X: 3, Y: 1}, {X: 3, Y: 3}, {X: 1, Y: 3}, {X: 1, Y: 1}},
	}))
	row := w.Write(&withHole)
	require.NoError(t, w.WriteAttribute(int(row), 0, "A1"))
	require.NoError(t, w.WriteAttribute(int(row), 1, "Alpha"))

	plain := shp.Polygon(*shp.NewPolyLine([][]shp.Point{
		{{X: 10, Y: 10}, {X: 10, Y: 11}, {X: 11, Y: 11}, {X: 11, Y: 10}, {X: 10, Y: 10}},
	}))
	row = w.Write(&plain)
	require.NoError(t, w.WriteAttribute(int(row), 0, "B2"))

	w.Close()

	// go-shp v0.1.1 names the attribute table "<base>dbf" without the dot.
	base := strings.TrimSuffix(path, ".shp")
	require.NoError(t, os.Rename(base+"dbf", base+".dbf"))
}

func TestReadShapefile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dong.shp")
	writeShapefile(t, path)

	regions, err := ReadRegionsFile(path, FeatureOptions{IDProperty: "adm_cd", NameProperty: "adm_nm"})
	require.NoError(t, err)
	require.Len(t, regions, 2)

	assert.Equal(t, "A1", regions[0].ID)
	assert.Equal(t, "Alpha", regions[0].Name)
	assert.Equal(t, "B2", regions[1].ID)
	assert.Equal(t, "B2", regions[1].Name, "name falls back to id")

	mp, ok := regions[0].Geometry.(*geom.MultiPolygon)
	require.True(t, ok)
	require.Equal(t, 1, mp.NumPolygons())
	assert.Equal(t, 2, mp.Polygon(0).NumLinearRings(), "counter-clockwise ring becomes a hole")

	cells := []Cell{
		{ID: "in", Geometry: point(0.5, 0.5)},
		{ID: "hole", Geometry: point(2, 2)},
		{ID: "b", Geometry: point(10.5, 10.5)},
	}
	m, err := Build(context.Background(), regions, cells)
	require.NoError(t, err)
	assert.Equal(t, []string{"in"}, m.Cells("A1"))
	assert.Equal(t, []string{"b"}, m.Cells("B2"))
}

func TestReadShapefile_MissingField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dong.shp")
	writeShapefile(t, path)

	_, err := ReadShapefile(path, FeatureOptions{IDProperty: "nope"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMalformedInput))
}
