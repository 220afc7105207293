package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/gridmap/internal/config"
)

const regionsGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"adm_cd": "dunsan", "adm_nm": "둔산동"},
     "geometry": {"type": "Polygon", "coordinates": [[[127.37,36.34],[127.39,36.34],[127.39,36.36],[127.37,36.36],[127.37,36.34]]]}},
    {"type": "Feature", "properties": {"adm_cd": "wolpyeong", "adm_nm": "월평동"},
     "geometry": {"type": "Polygon", "coordinates": [[[127.40,36.34],[127.42,36.34],[127.42,36.36],[127.40,36.36],[127.40,36.34]]]}}
  ]
}`

const cellsGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"gid": "a"}, "geometry": {"type": "Point", "coordinates": [127.3805, 36.3505]}},
    {"type": "Feature", "properties": {"gid": "b"}, "geometry": {"type": "Point", "coordinates": [127.3815, 36.3505]}},
    {"type": "Feature", "properties": {"gid": "c"}, "geometry": {"type": "Point", "coordinates": [127.4105, 36.3505]}}
  ]
}`

// a is a false positive, b a true positive, c a false negative.
const julyCSV = `longitude,latitude,actual,predicted
127.3805,36.3505,0,1
127.3815,36.3505,1,1
127.4105,36.3505,1,0
`

const augustCSV = `경도,위도,실제값,예측값
127.3805,36.3505,1,1
`

const manifestYAML = `default: july
periods:
  - name: july
    path: july.csv
  - name: august
    path: august.csv
`

const detailCSV = `다사001,둔산1동,둔산동,,대전광역시 서구,대전광역시 서구 둔산1동,36.3505,127.3805,10,12,22,3,4,1,2,1,1,3,4,5,3,2,1
`

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// testConfig writes a complete fixture set and returns a config over it.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	writeFixture(t, dir, "july.csv", julyCSV)
	writeFixture(t, dir, "august.csv", augustCSV)

	c := &config.Config{}
	c.Grid.Size = 0.001
	c.Dataset.Manifest = writeFixture(t, dir, "periods.yaml", manifestYAML)
	c.Geometry = config.GeometryConfig{
		Regions:        writeFixture(t, dir, "regions.geojson", regionsGeoJSON),
		Cells:          writeFixture(t, dir, "cells.geojson", cellsGeoJSON),
		IDProperty:     "adm_cd",
		NameProperty:   "adm_nm",
		CellIDProperty: "gid",
		OverlapPolicy:  "first_match",
	}
	c.Viewport = config.ViewportConfig{
		CenterLon: 127.39, CenterLat: 36.35, Zoom: 12,
		Width: 800, Height: 600, DrillZoom: 15, OverviewZoom: 12,
	}
	c.Gesture.Threshold = 5
	c.Detail.TimeoutSecs = 5
	c.Detail.LocalData = writeFixture(t, dir, "detail.csv", detailCSV)
	c.Detail.LocalDSN = "file::memory:"
	c.Server.ReadyTimeoutSecs = 5
	return c
}
