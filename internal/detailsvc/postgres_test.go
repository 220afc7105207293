package detailsvc

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return &PostgresStore{pool: mock}, mock
}

func TestIsPostgresDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want bool
	}{
		{"postgres://user@localhost/gridmap", true},
		{"postgresql://localhost:5432/gridmap?sslmode=disable", true},
		{MemoryDSN, false},
		{"/var/lib/gridmap/detail.db", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsPostgresDSN(tt.dsn), tt.dsn)
	}
}

func TestOpenBackend_SQLite(t *testing.T) {
	b, err := OpenBackend(context.Background(), MemoryDSN)
	require.NoError(t, err)
	defer b.Close() //nolint:errcheck

	_, ok := b.(*Store)
	assert.True(t, ok)
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS detail_cells").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_detail_cells_xy").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))

	err := s.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrate")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Load(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// 다사001 appears twice; only the later row is copied.
	data := fixture + "다사001,둔산1동,둔산동,,대전광역시 서구,대전광역시 서구 둔산1동,36.3505,127.3805,,,,,,,,,,,,,,,\n"

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_detail_cells"}, columnNames).WillReturnResult(3)
	mock.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", 3))
	mock.ExpectCommit()

	n, err := s.Load(context.Background(), strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Load_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	n, err := s.Load(context.Background(), strings.NewReader("\n\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Load_CopyError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_detail_cells"}, columnNames).WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	_, err := s.Load(context.Background(), strings.NewReader(fixture))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy rows")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Load_MalformedRow(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	_, err := s.Load(context.Background(), strings.NewReader("다사001,too,short\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want 23")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Near(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	garea := "둔산권"
	x, y := 36.3505, 127.3805
	total, twenty := 22, 3
	cols := append([]string(nil), columnNames...)
	row := []any{"다사001", "둔산1동", "둔산동", &garea, "대전광역시 서구", "대전광역시 서구 둔산1동", &x, &y,
		nil, nil, &total, nil, nil, nil, nil, nil, nil, &twenty, nil, nil, nil, nil, nil}

	mock.ExpectQuery(`SELECT grid_100, .* FROM detail_cells\s+WHERE x BETWEEN \$1 AND \$2 AND y BETWEEN \$3 AND \$4`).
		WithArgs(Round7(36.3505)-Tolerance, Round7(36.3505)+Tolerance, Round7(127.3805)-Tolerance, Round7(127.3805)+Tolerance).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(row...))

	recs, err := s.Near(context.Background(), 127.3805, 36.3505)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "다사001", recs[0].Grid100)
	require.NotNil(t, recs[0].GArea)
	assert.Equal(t, "둔산권", *recs[0].GArea)
	require.NotNil(t, recs[0].TotalPopulation)
	assert.Equal(t, 22, *recs[0].TotalPopulation)
	assert.Nil(t, recs[0].Male)
	assert.Equal(t, 3, recs[0].AgeBands()[0].Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Near_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))

	_, err := s.Near(context.Background(), 127.3805, 36.3505)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query near")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Count(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM detail_cells`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
