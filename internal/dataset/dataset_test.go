package dataset

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/gridmap/internal/grid"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadCSV_EnglishHeaders(t *testing.T) {
	in := "gridLabel,longitude,latitude,actual,predicted\n" +
		"g1,127.3805,36.3505,1,1\n" +
		"g2,127.3815,36.3505,1,0\n" +
		"g3,127.3825,36.3505,0,1\n" +
		"g4,127.3835,36.3505,0,0\n"

	recs, stats, err := ReadCSV(context.Background(), strings.NewReader(in), Options{})
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, Stats{Rows: 4, Records: 4}, stats)

	assert.Equal(t, "g1", recs[0].Label)
	assert.Equal(t, grid.Coord{Lon: 127.3805, Lat: 36.3505}, recs[0].Coord)
	assert.Equal(t, grid.TruePositive, recs[0].Classification())
	assert.Equal(t, grid.FalseNegative, recs[1].Classification())
	assert.Equal(t, grid.FalsePositive, recs[2].Classification())
	assert.Equal(t, grid.TrueNegative, recs[3].Classification())
}

func TestReadCSV_KoreanHeadersAndBOM(t *testing.T) {
	in := "\ufeff격자,경도,위도,실제값,예측값\n" +
		"다사123,127.38,36.35,1.0,0.0\n"

	recs, _, err := ReadCSV(context.Background(), strings.NewReader(in), Options{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "다사123", recs[0].Label)
	assert.True(t, recs[0].Actual)
	assert.False(t, recs[0].Predicted)
}

func TestReadCSV_DecomposedHeaders(t *testing.T) {
	header := norm.NFD.String("경도") + "," + norm.NFD.String("위도") + ",실제값,예측값\n"
	recs, _, err := ReadCSV(context.Background(), strings.NewReader(header+"127.38,36.35,0,1\n"), Options{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Predicted)
}

func TestReadCSV_Charset(t *testing.T) {
	encoded, err := korean.EUCKR.NewEncoder().String("경도,위도,실제값,예측값\n127.38,36.35,1,1\n")
	require.NoError(t, err)

	recs, _, err := ReadCSV(context.Background(), strings.NewReader(encoded), Options{Charset: "euc-kr"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, grid.TruePositive, recs[0].Classification())

	_, _, err = ReadCSV(context.Background(), strings.NewReader(encoded), Options{Charset: "klingon"})
	assert.Error(t, err)
}

func TestReadCSV_SkipsBadRows(t *testing.T) {
	in := "longitude,latitude,actual,predicted\n" +
		"127.38,36.35,1,0\n" +
		",,,\n" +
		"abc,36.35,1,0\n" +
		"127.39,NaN,0,0\n" +
		"127.40,36.35,yes,\n"

	recs, stats, err := ReadCSV(context.Background(), strings.NewReader(in), Options{})
	require.NoError(t, err)
	assert.Equal(t, Stats{Rows: 5, Records: 2, Skipped: 3}, stats)
	require.Len(t, recs, 2)
	assert.False(t, recs[1].Actual)
	assert.False(t, recs[1].Predicted)
}

func TestReadCSV_MissingColumns(t *testing.T) {
	_, _, err := ReadCSV(context.Background(), strings.NewReader("longitude,latitude\n1,2\n"), Options{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMalformedInput))
	assert.Contains(t, err.Error(), "actual")
	assert.Contains(t, err.Error(), "predicted")

	_, _, err = ReadCSV(context.Background(), strings.NewReader(""), Options{})
	assert.True(t, eris.Is(err, ErrMalformedInput))
}

func TestReadCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var b strings.Builder
	b.WriteString("longitude,latitude,actual,predicted\n")
	for i := 0; i < 1000; i++ {
		b.WriteString("127.38,36.35,1,0\n")
	}
	_, _, err := ReadCSV(ctx, strings.NewReader(b.String()), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseFlag(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"1", true},
		{"1.0", true},
		{" 1 ", true},
		{"true", true},
		{"TRUE", true},
		{"0", false},
		{"2", false},
		{"", false},
		{"false", false},
		{"x", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseFlag(tt.in))
		})
	}
}

func TestResolveColumns(t *testing.T) {
	cols, err := ResolveColumns([]string{" Latitude ", "LON", "Predicted", "ACTUAL"})
	require.NoError(t, err)
	assert.Equal(t, -1, cols[FieldLabel])
	assert.Equal(t, 1, cols[FieldLongitude])
	assert.Equal(t, 0, cols[FieldLatitude])
	assert.Equal(t, 3, cols[FieldActual])
	assert.Equal(t, 2, cols[FieldPredicted])

	// First matching header wins.
	cols, err = ResolveColumns([]string{"lon", "lng", "lat", "actual", "predicted"})
	require.NoError(t, err)
	assert.Equal(t, 0, cols[FieldLongitude])
}

func TestReadXLSX(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"2024-07": {
			{"격자", "경도", "위도", "실제값", "예측값"},
			{"a", "127.38", "36.35", "1", "1"},
			{"b", "127.39", "36.35", "0", "1"},
		},
	})

	recs, stats, err := ReadXLSX(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Records)
	require.Len(t, recs, 2)
	assert.Equal(t, grid.FalsePositive, recs[1].Classification())

	recs, _, err = ReadFile(context.Background(), path, Options{Sheet: "2024-07"})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	_, _, err = ReadXLSX(context.Background(), path, Options{Sheet: "missing"})
	assert.True(t, eris.Is(err, ErrMalformedInput))
}

func TestReadFile_Dispatch(t *testing.T) {
	dir := t.TempDir()
	tsv := writeFile(t, dir, "d.tsv", "longitude\tlatitude\tactual\tpredicted\n127.38\t36.35\t1\t0\n")
	recs, _, err := ReadFile(context.Background(), tsv, Options{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Actual)

	_, _, err = ReadFile(context.Background(), filepath.Join(dir, "d.parquet"), Options{})
	assert.True(t, eris.Is(err, ErrMalformedInput))

	_, _, err = ReadFile(context.Background(), filepath.Join(dir, "absent.csv"), Options{})
	assert.Error(t, err)
}
