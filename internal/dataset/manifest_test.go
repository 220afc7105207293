package dataset

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/korean"

	"github.com/sells-group/gridmap/internal/grid"
)

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "july.csv", "longitude,latitude,actual,predicted\n127.3805,36.3505,0,1\n127.3805,36.3509,1,1\n")
	writeFile(t, dir, "august.csv", "longitude,latitude,actual,predicted\n127.3805,36.3505,1,1\n")
	path := writeFile(t, dir, "periods.yaml", `
default: august
periods:
  - name: july
    path: july.csv
  - name: august
    path: august.csv
`)

	cat, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "august", cat.Default())
	require.Len(t, cat.Periods(), 2)
	assert.Equal(t, "july", cat.Periods()[0].Name)

	p, ok := cat.Period("july")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "july.csv"), p.Path)

	idx := grid.MustIndex(0.001)
	table, stats, err := cat.Load(context.Background(), idx, "july")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Records)
	// Both rows snap to the same cell; the later one wins.
	assert.Equal(t, 1, table.Len())
	assert.Equal(t, 1, table.Duplicates())
	assert.Equal(t, grid.TruePositive, table.ClassifyCoord(grid.Coord{Lon: 127.3805, Lat: 36.3505}))

	_, _, err = cat.Load(context.Background(), idx, "december")
	assert.True(t, eris.Is(err, ErrUnknownPeriod))
}

func TestNewCatalog_Validation(t *testing.T) {
	tests := []struct {
		name string
		m    Manifest
		want error
	}{
		{"empty", Manifest{}, ErrMalformedInput},
		{"no path", Manifest{Periods: []Period{{Name: "a"}}}, ErrMalformedInput},
		{"duplicate", Manifest{Periods: []Period{{Name: "a", Path: "a.csv"}, {Name: "a", Path: "b.csv"}}}, ErrMalformedInput},
		{"bad default", Manifest{Default: "z", Periods: []Period{{Name: "a", Path: "a.csv"}}}, ErrUnknownPeriod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog("", tt.m)
			require.Error(t, err)
			assert.True(t, eris.Is(err, tt.want))
		})
	}

	cat, err := NewCatalog("", Manifest{Periods: []Period{{Name: "a", Path: "/abs/a.csv"}}})
	require.NoError(t, err)
	assert.Equal(t, "a", cat.Default())
}

func TestLoadManifest_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadManifest(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)

	path := writeFile(t, dir, "bad.yaml", "periods: [unterminated")
	_, err = LoadManifest(path)
	assert.True(t, eris.Is(err, ErrMalformedInput))
}

func TestCatalog_DefaultCharset(t *testing.T) {
	dir := t.TempDir()
	encoded, err := korean.EUCKR.NewEncoder().String("경도,위도,실제값,예측값\n127.3805,36.3505,1,0\n")
	require.NoError(t, err)
	writeFile(t, dir, "july.csv", encoded)
	path := writeFile(t, dir, "periods.yaml", "periods:\n  - name: july\n    path: july.csv\n")

	cat, err := LoadManifest(path)
	require.NoError(t, err)
	cat.SetDefaultCharset("euc-kr")

	table, stats, err := cat.Load(context.Background(), grid.MustIndex(0.001), "july")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Records)
	assert.Equal(t, grid.FalseNegative, table.ClassifyCoord(grid.Coord{Lon: 127.3805, Lat: 36.3505}))
}
