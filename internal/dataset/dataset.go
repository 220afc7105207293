// Package dataset loads per-period classification records from CSV or XLSX
// files and the YAML manifest that names them.
package dataset

import (
	"context"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gridmap/internal/grid"
)

// ErrMalformedInput is returned when a file cannot be interpreted as a dataset.
var ErrMalformedInput = eris.New("dataset: malformed input")

// Options configures a dataset read.
type Options struct {
	// Charset names the source encoding of CSV input, e.g. "euc-kr". Empty
	// means UTF-8.
	Charset string
	// Delimiter is the CSV field separator (default ',').
	Delimiter rune
	// Sheet selects an XLSX sheet by name; empty means the first sheet.
	Sheet string
}

// Stats reports what a read kept and dropped.
type Stats struct {
	Rows    int `json:"rows"`
	Records int `json:"records"`
	Skipped int `json:"skipped"`
}

// ReadFile reads a dataset, choosing the format from the extension.
func ReadFile(ctx context.Context, path string, opts Options) ([]grid.Record, Stats, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(ctx, path, opts)
	case ".csv", ".tsv", ".txt":
		if opts.Delimiter == 0 && strings.EqualFold(filepath.Ext(path), ".tsv") {
			opts.Delimiter = '\t'
		}
		return ReadCSVFile(ctx, path, opts)
	default:
		return nil, Stats{}, eris.Wrapf(ErrMalformedInput, "dataset: unsupported file type %q", filepath.Ext(path))
	}
}

// collect turns a header and row stream into records. Rows whose
// coordinates do not parse are skipped and counted.
func collect(ctx context.Context, rows <-chan []string, errs <-chan error, source string) ([]grid.Record, Stats, error) {
	log := zap.L().With(zap.String("component", "dataset"), zap.String("source", source))

	var (
		stats   Stats
		cols    Columns
		header  bool
		records []grid.Record
	)
	for row := range rows {
		if !header {
			c, err := ResolveColumns(row)
			if err != nil {
				drain(rows)
				return nil, stats, err
			}
			cols, header = c, true
			continue
		}
		stats.Rows++
		if blank(row) {
			stats.Skipped++
			continue
		}
		rec, err := parseRow(cols, row)
		if err != nil {
			stats.Skipped++
			log.Debug("skipping row", zap.Int("row", stats.Rows+1), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	if err := <-errs; err != nil {
		return nil, stats, err
	}
	if ctx.Err() != nil {
		return nil, stats, eris.Wrap(ctx.Err(), "dataset: read cancelled")
	}
	if !header {
		return nil, stats, eris.Wrap(ErrMalformedInput, "dataset: no header row")
	}

	stats.Records = len(records)
	if stats.Skipped > 0 {
		log.Warn("dataset rows skipped", zap.Int("skipped", stats.Skipped), zap.Int("records", stats.Records))
	}
	return records, stats, nil
}

func parseRow(cols Columns, row []string) (grid.Record, error) {
	lon, err := parseCoord(cols.get(row, FieldLongitude))
	if err != nil {
		return grid.Record{}, eris.Wrap(err, "longitude")
	}
	lat, err := parseCoord(cols.get(row, FieldLatitude))
	if err != nil {
		return grid.Record{}, eris.Wrap(err, "latitude")
	}
	return grid.Record{
		Label:     cols.get(row, FieldLabel),
		Coord:     grid.Coord{Lon: lon, Lat: lat},
		Actual:    ParseFlag(cols.get(row, FieldActual)),
		Predicted: ParseFlag(cols.get(row, FieldPredicted)),
	}, nil
}

func parseCoord(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "parse %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, eris.Errorf("non-finite value %q", s)
	}
	return v, nil
}

// ParseFlag reads an actual/predicted cell. Only a numeric 1 or a boolean
// true is set; anything else, including blanks, is unset.
func ParseFlag(s string) bool {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v == 1
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return false
}

func blank(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func drain(rows <-chan []string) {
	for range rows {
	}
}
