package detailsvc

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gridmap/pkg/detail"
)

const pgTable = "detail_cells"

var pgMigrations = []string{
	`CREATE TABLE IF NOT EXISTS detail_cells (
		grid_100         TEXT PRIMARY KEY,
		h_area           TEXT NOT NULL,
		b_area           TEXT NOT NULL,
		g_area           TEXT,
		city             TEXT NOT NULL,
		h_a_area         TEXT NOT NULL,
		x                DOUBLE PRECISION,
		y                DOUBLE PRECISION,
		male             BIGINT,
		female           BIGINT,
		total_population BIGINT,
		kid              BIGINT,
		old              BIGINT,
		realkid          BIGINT,
		element          BIGINT,
		middle           BIGINT,
		high             BIGINT,
		twenty           BIGINT,
		thirty           BIGINT,
		fourty           BIGINT,
		fifty            BIGINT,
		sixty            BIGINT,
		seventy          BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_detail_cells_xy ON detail_cells (x, y)`,
}

// Pool is the subset of pgxpool.Pool the PostgreSQL store uses.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore holds detail records in PostgreSQL.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// OpenPostgres connects to dsn and creates the detail table.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "detailsvc: parse postgres config")
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "detailsvc: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "detailsvc: ping")
	}

	s := &PostgresStore{pool: pool, closeFn: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the detail table and its coordinate index.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range pgMigrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "detailsvc: migrate")
		}
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// LoadFile loads a headerless CSV of detail rows.
func (s *PostgresStore) LoadFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, eris.Wrapf(err, "detailsvc: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return s.Load(ctx, f)
}

// Load upserts headerless CSV rows through a temp table and COPY. Within one
// load the last row for a grid_100 wins.
func (s *PostgresStore) Load(ctx context.Context, r io.Reader) (int, error) {
	var rows [][]any
	byID := make(map[string]int)
	n, err := readRows(r, func(_ int, args []any) error {
		id := args[0].(string)
		if i, ok := byID[id]; ok {
			rows[i] = args
			return nil
		}
		byID[id] = len(rows)
		rows = append(rows, args)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "detailsvc: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tmp := "_tmp_" + pgTable
	createSQL := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tmp}.Sanitize(), pgx.Identifier{pgTable}.Sanitize())
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrap(err, "detailsvc: create temp table")
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tmp}, columnNames, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrap(err, "detailsvc: copy rows")
	}

	sets := make([]string, 0, len(columnNames)-1)
	for _, c := range columnNames[1:] {
		col := pgx.Identifier{c}.Sanitize()
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	upsertSQL := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (grid_100) DO UPDATE SET %s",
		pgx.Identifier{pgTable}.Sanitize(), selectColumns, selectColumns,
		pgx.Identifier{tmp}.Sanitize(), strings.Join(sets, ", "))
	if _, err := tx.Exec(ctx, upsertSQL); err != nil {
		return 0, eris.Wrap(err, "detailsvc: upsert rows")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "detailsvc: commit")
	}
	zap.L().Info("detail records loaded",
		zap.String("component", "detailsvc"),
		zap.String("backend", "postgres"),
		zap.Int("rows", n),
		zap.Int("unique", len(rows)),
	)
	return n, nil
}

// Near returns every record within Tolerance of the rounded coordinate,
// ordered by grid id.
func (s *PostgresStore) Near(ctx context.Context, lon, lat float64) ([]detail.Record, error) {
	lon, lat = Round7(lon), Round7(lat)
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM `+pgTable+`
		WHERE x BETWEEN $1 AND $2 AND y BETWEEN $3 AND $4
		ORDER BY grid_100`,
		lat-Tolerance, lat+Tolerance, lon-Tolerance, lon+Tolerance)
	if err != nil {
		return nil, eris.Wrap(err, "detailsvc: query near")
	}
	defer rows.Close()

	var out []detail.Record
	for rows.Next() {
		var rec detail.Record
		if err := rows.Scan(
			&rec.Grid100, &rec.HArea, &rec.BArea, &rec.GArea, &rec.City, &rec.HAArea, &rec.X, &rec.Y,
			&rec.Male, &rec.Female, &rec.TotalPopulation, &rec.Kid, &rec.Old,
			&rec.RealKid, &rec.Element, &rec.Middle, &rec.High,
			&rec.Twenty, &rec.Thirty, &rec.Fourty, &rec.Fifty, &rec.Sixty, &rec.Seventy,
		); err != nil {
			return nil, eris.Wrap(err, "detailsvc: scan")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "detailsvc: iterate near")
}

// Count returns the number of stored records.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+pgTable).Scan(&n)
	return n, eris.Wrap(err, "detailsvc: count")
}
