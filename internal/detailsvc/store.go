// Package detailsvc serves per-cell demographic detail loaded from CSV into
// SQLite (in memory by default) or PostgreSQL.
package detailsvc

import (
	"context"
	"database/sql"
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/gridmap/pkg/detail"
)

const (
	// MemoryDSN keeps the table in process memory.
	MemoryDSN = "file::memory:"
	// Tolerance is the half-width of the coordinate match window.
	Tolerance = 0.00001
	// columns is the width of a source row.
	columns = 23
)

const migration = `
CREATE TABLE IF NOT EXISTS cells (
	grid_100         TEXT PRIMARY KEY,
	h_area           TEXT NOT NULL,
	b_area           TEXT NOT NULL,
	g_area           TEXT,
	city             TEXT NOT NULL,
	h_a_area         TEXT NOT NULL,
	x                REAL,
	y                REAL,
	male             INTEGER,
	female           INTEGER,
	total_population INTEGER,
	kid              INTEGER,
	old              INTEGER,
	realkid          INTEGER,
	element          INTEGER,
	middle           INTEGER,
	high             INTEGER,
	twenty           INTEGER,
	thirty           INTEGER,
	fourty           INTEGER,
	fifty            INTEGER,
	sixty            INTEGER,
	seventy          INTEGER
);

CREATE INDEX IF NOT EXISTS idx_cells_xy ON cells(x, y);
`

var columnNames = []string{
	"grid_100", "h_area", "b_area", "g_area", "city", "h_a_area", "x", "y",
	"male", "female", "total_population", "kid", "old", "realkid", "element", "middle", "high",
	"twenty", "thirty", "fourty", "fifty", "sixty", "seventy",
}

var selectColumns = strings.Join(columnNames, ", ")

// Backend is a loadable detail store.
type Backend interface {
	Finder
	LoadFile(ctx context.Context, path string) (int, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// OpenBackend opens a PostgreSQL store for postgres:// DSNs and a SQLite
// store otherwise.
func OpenBackend(ctx context.Context, dsn string) (Backend, error) {
	if IsPostgresDSN(dsn) {
		s, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// IsPostgresDSN reports whether dsn is a PostgreSQL connection URL.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Store holds detail records in SQLite. x is latitude and y is longitude.
type Store struct {
	db *sql.DB
}

// Open opens a store at dsn and creates its table.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = MemoryDSN
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "detailsvc: open")
	}
	// Each connection to an in-memory database sees its own database.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, migration); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "detailsvc: migrate")
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadFile loads a headerless CSV of detail rows.
func (s *Store) LoadFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, eris.Wrapf(err, "detailsvc: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return s.Load(ctx, f)
}

// Load inserts headerless CSV rows in a single transaction. Empty rows are
// skipped; a repeated grid_100 replaces the earlier row. Empty numeric
// fields are stored as NULL.
func (s *Store) Load(ctx context.Context, r io.Reader) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "detailsvc: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO cells (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "detailsvc: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	n, err := readRows(r, func(line int, args []any) error {
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return eris.Wrapf(err, "detailsvc: insert line %d", line)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "detailsvc: commit")
	}
	zap.L().Info("detail records loaded", zap.String("component", "detailsvc"), zap.Int("rows", n))
	return n, nil
}

// readRows parses headerless CSV detail rows and calls fn with each row's
// column values, skipping blank lines.
func readRows(r io.Reader, fn func(line int, args []any) error) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	n, line := 0, 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return 0, eris.Wrapf(err, "detailsvc: read line %d", line)
		}
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		if len(row) < columns {
			return 0, eris.Errorf("detailsvc: line %d has %d fields, want %d", line, len(row), columns)
		}

		args, err := rowArgs(row)
		if err != nil {
			return 0, eris.Wrapf(err, "detailsvc: line %d", line)
		}
		if err := fn(line, args); err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

func rowArgs(row []string) ([]any, error) {
	args := make([]any, 0, columns)
	for i := 0; i < 6; i++ {
		v := strings.TrimSpace(row[i])
		if i == 3 && v == "" {
			args = append(args, nil)
			continue
		}
		args = append(args, v)
	}
	for i := 6; i < 8; i++ {
		v, err := nullFloat(row[i])
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	for i := 8; i < columns; i++ {
		v, err := nullInt(row[i])
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

func nullFloat(s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "parse %q", s)
	}
	return v, nil
}

func nullInt(s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "parse %q", s)
	}
	return int64(f), nil
}

// Round7 rounds v to 7 decimal places.
func Round7(v float64) float64 {
	return math.Round(v*1e7) / 1e7
}

// Near returns every record within Tolerance of the rounded coordinate,
// ordered by grid id.
func (s *Store) Near(ctx context.Context, lon, lat float64) ([]detail.Record, error) {
	lon, lat = Round7(lon), Round7(lat)
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM cells
		WHERE x BETWEEN ? AND ? AND y BETWEEN ? AND ?
		ORDER BY grid_100`,
		lat-Tolerance, lat+Tolerance, lon-Tolerance, lon+Tolerance)
	if err != nil {
		return nil, eris.Wrap(err, "detailsvc: query near")
	}
	defer rows.Close() //nolint:errcheck

	var out []detail.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "detailsvc: iterate near")
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cells`).Scan(&n)
	return n, eris.Wrap(err, "detailsvc: count")
}

func scanRecord(rows *sql.Rows) (detail.Record, error) {
	var (
		rec   detail.Record
		garea sql.NullString
		x, y  sql.NullFloat64
		ints  [15]sql.NullInt64
	)
	dest := []any{&rec.Grid100, &rec.HArea, &rec.BArea, &garea, &rec.City, &rec.HAArea, &x, &y}
	for i := range ints {
		dest = append(dest, &ints[i])
	}
	if err := rows.Scan(dest...); err != nil {
		return rec, eris.Wrap(err, "detailsvc: scan")
	}

	if garea.Valid {
		rec.GArea = &garea.String
	}
	rec.X = floatPtr(x)
	rec.Y = floatPtr(y)
	for i, p := range []**int{
		&rec.Male, &rec.Female, &rec.TotalPopulation, &rec.Kid, &rec.Old,
		&rec.RealKid, &rec.Element, &rec.Middle, &rec.High,
		&rec.Twenty, &rec.Thirty, &rec.Fourty, &rec.Fifty, &rec.Sixty, &rec.Seventy,
	} {
		if ints[i].Valid {
			v := int(ints[i].Int64)
			*p = &v
		}
	}
	return rec, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
