package storage_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neexbeast/instantweather/internal/storage"
	"github.com/neexbeast/instantweather/internal/weather"
)

// ---- mock Querier ----

type mockQuerier struct {
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFn    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFn     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	beginFn    func(ctx context.Context) (pgx.Tx, error)
}

func (m *mockQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return m.queryRowFn(ctx, sql, args...)
}
func (m *mockQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return m.queryFn(ctx, sql, args...)
}
func (m *mockQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return m.execFn(ctx, sql, args...)
}
func (m *mockQuerier) Begin(ctx context.Context) (pgx.Tx, error) {
	return m.beginFn(ctx)
}

// ---- mock pgx.Row ----

type fakeRow struct {
	scanFn func(dest ...any) error
}

func (f *fakeRow) Scan(dest ...any) error { return f.scanFn(dest...) }

// ---- mock pgx.Rows ----

type fakeRows struct {
	rows    [][]any
	idx     int
	rowErr  error
	scanErr error
}

func (f *fakeRows) Next() bool                                   { f.idx++; return f.idx <= len(f.rows) }
func (f *fakeRows) Err() error                                   { return f.rowErr }
func (f *fakeRows) Close()                                       {}
func (f *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (f *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (f *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (f *fakeRows) RawValues() [][]byte                          { return nil }
func (f *fakeRows) Conn() *pgx.Conn                              { return nil }

func (f *fakeRows) Scan(dest ...any) error {
	if f.scanErr != nil {
		return f.scanErr
	}
	row := f.rows[f.idx-1]
	for i, d := range dest {
		if i >= len(row) {
			break
		}
		switch v := d.(type) {
		case *int:
			*v = row[i].(int)
		case *float64:
			*v = row[i].(float64)
		case *string:
			*v = row[i].(string)
		case *[]byte:
			*v = row[i].([]byte)
		case *time.Time:
			*v = row[i].(time.Time)
		}
	}
	return nil
}

// ---- mock pgx.Tx ----

type mockTx struct {
	execFn     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	commitFn   func(ctx context.Context) error
	rollbackFn func(ctx context.Context) error
}

func (t *mockTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.execFn(ctx, sql, args...)
}
func (t *mockTx) Commit(ctx context.Context) error   { return t.commitFn(ctx) }
func (t *mockTx) Rollback(ctx context.Context) error { return t.rollbackFn(ctx) }

// pgx.Tx has many more methods; stub them all out.
func (t *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { return nil, nil }
func (t *mockTx) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *mockTx) SendBatch(_ context.Context, _ *pgx.Batch) pgx.BatchResults { return nil }
func (t *mockTx) LargeObjects() pgx.LargeObjects                             { return pgx.LargeObjects{} }
func (t *mockTx) Prepare(_ context.Context, _, _ string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (t *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *mockTx) Conn() *pgx.Conn { return nil }

// recordingTx records every statement and whether it was committed or rolled back.
type recordingTx struct {
	mockTx
	statements []string
	committed  bool
	rolledBack bool
}

func newRecordingTx(failOn string) *recordingTx {
	rt := &recordingTx{}
	rt.execFn = func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
		rt.statements = append(rt.statements, sql)
		if failOn != "" && strings.Contains(sql, failOn) {
			return pgconn.CommandTag{}, fmt.Errorf("%s failed", failOn)
		}
		return pgconn.CommandTag{}, nil
	}
	rt.commitFn = func(_ context.Context) error { rt.committed = true; return nil }
	rt.rollbackFn = func(_ context.Context) error { rt.rolledBack = true; return nil }
	return rt
}

// ---- mock TxBeginner ----

type mockBeginner struct {
	beginFn func(ctx context.Context) (pgx.Tx, error)
}

func (m *mockBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	return m.beginFn(ctx)
}

// ---- helpers ----

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func writeSQLFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func sampleSnapshotRow() weather.SnapshotRow {
	return weather.SnapshotRow{
		CityID:             2332459,
		CityName:           "Lagos",
		TemperatureCelsius: 27.5,
		FeelsLikeCelsius:   30.1,
		Humidity:           78,
		Pressure:           1010,
		Wind:               weather.Wind{Speed: 3.6, Degree: 210},
		Descriptions:       []weather.Description{{ID: 802, Main: "Clouds", Description: "scattered clouds"}},
		ConditionCode:      802,
		ObservedAt:         time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

// ---- GetWeather tests ----

func TestGetWeather_Found(t *testing.T) {
	observed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	windJSON := mustJSON(t, weather.Wind{Speed: 3.6, Degree: 210})
	descJSON := mustJSON(t, []weather.Description{{ID: 802, Description: "scattered clouds"}})

	q := &mockQuerier{
		queryRowFn: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &fakeRow{scanFn: func(dest ...any) error {
				*dest[0].(*int) = 1
				*dest[1].(*int) = 2332459
				*dest[2].(*string) = "Lagos"
				*dest[3].(*float64) = 27.5
				*dest[4].(*float64) = 30.1
				*dest[5].(*float64) = 78
				*dest[6].(*float64) = 1010
				*dest[7].(*[]byte) = windJSON
				*dest[8].(*[]byte) = descJSON
				*dest[9].(*int) = 802
				*dest[10].(*time.Time) = observed
				return nil
			}}
		},
	}

	repo := storage.NewRepositoryWithQuerier(q)
	row, err := repo.GetWeather(context.Background())
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "Lagos", row.CityName)
	assert.Equal(t, 27.5, row.TemperatureCelsius)
	assert.Equal(t, 210.0, row.Wind.Degree)
	require.Len(t, row.Descriptions, 1)
	assert.Equal(t, "scattered clouds", row.Descriptions[0].Description)
	assert.Equal(t, observed, row.ObservedAt)
}

func TestGetWeather_Empty(t *testing.T) {
	q := &mockQuerier{
		queryRowFn: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &fakeRow{scanFn: func(dest ...any) error { return pgx.ErrNoRows }}
		},
	}

	repo := storage.NewRepositoryWithQuerier(q)
	row, err := repo.GetWeather(context.Background())
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestGetWeather_DBError(t *testing.T) {
	q := &mockQuerier{
		queryRowFn: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &fakeRow{scanFn: func(dest ...any) error { return fmt.Errorf("connection reset") }}
		},
	}

	repo := storage.NewRepositoryWithQuerier(q)
	_, err := repo.GetWeather(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "querying weather")
}

func TestGetWeather_BadJSON(t *testing.T) {
	q := &mockQuerier{
		queryRowFn: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &fakeRow{scanFn: func(dest ...any) error {
				*dest[7].(*[]byte) = []byte("not-valid-json")
				*dest[8].(*[]byte) = []byte("[]")
				return nil
			}}
		},
	}

	repo := storage.NewRepositoryWithQuerier(q)
	_, err := repo.GetWeather(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshaling")
}

// ---- InsertWeather / DeleteAllWeather ----

func TestInsertWeather_Success(t *testing.T) {
	var capturedArgs []any
	q := &mockQuerier{
		execFn: func(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
			capturedArgs = args
			return pgconn.CommandTag{}, nil
		},
	}

	repo := storage.NewRepositoryWithQuerier(q)
	require.NoError(t, repo.InsertWeather(context.Background(), sampleSnapshotRow()))
	require.Len(t, capturedArgs, 10)
	assert.Equal(t, 2332459, capturedArgs[0])
	assert.Equal(t, "Lagos", capturedArgs[1])
	assert.Equal(t, 27.5, capturedArgs[2])
	assert.JSONEq(t, `{"speed":3.6,"deg":210}`, string(capturedArgs[6].([]byte)))
}

func TestInsertWeather_NilDescriptionsStoredAsEmptyArray(t *testing.T) {
	var capturedArgs []any
	q := &mockQuerier{
		execFn: func(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
			capturedArgs = args
			return pgconn.CommandTag{}, nil
		},
	}

	row := sampleSnapshotRow()
	row.Descriptions = nil

	repo := storage.NewRepositoryWithQuerier(q)
	require.NoError(t, repo.InsertWeather(context.Background(), row))
	assert.Equal(t, "[]", string(capturedArgs[7].([]byte)))
}

func TestInsertWeather_DBError(t *testing.T) {
	q := &mockQuerier{
		execFn: func(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, fmt.Errorf("db error")
		},
	}

	repo := storage.NewRepositoryWithQuerier(q)
	err := repo.InsertWeather(context.Background(), sampleSnapshotRow())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inserting weather")
}

func TestDeleteAllWeather(t *testing.T) {
	var captured string
	q := &mockQuerier{
		execFn: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
			captured = sql
			return pgconn.CommandTag{}, nil
		},
	}

	repo := storage.NewRepositoryWithQuerier(q)
	require.NoError(t, repo.DeleteAllWeather(context.Background()))
	assert.Equal(t, "DELETE FROM weather", captured)
}

// ---- ReplaceWeather ----

func TestReplaceWeather_DeletesThenInsertsInTx(t *testing.T) {
	tx := newRecordingTx("")
	q := &mockQuerier{
		beginFn: func(_ context.Context) (pgx.Tx, error) { return tx, nil },
	}

	repo := storage.NewRepositoryWithQuerier(q)
	require.NoError(t, repo.ReplaceWeather(context.Background(), sampleSnapshotRow()))

	require.Len(t, tx.statements, 2)
	assert.Contains(t, tx.statements[0], "DELETE FROM weather")
	assert.Contains(t, tx.statements[1], "INSERT INTO weather")
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)
}

func TestReplaceWeather_InsertFailureRollsBack(t *testing.T) {
	tx := newRecordingTx("INSERT")
	q := &mockQuerier{
		beginFn: func(_ context.Context) (pgx.Tx, error) { return tx, nil },
	}

	repo := storage.NewRepositoryWithQuerier(q)
	err := repo.ReplaceWeather(context.Background(), sampleSnapshotRow())
	require.Error(t, err)
	assert.True(t, tx.rolledBack)
	assert.False(t, tx.committed)
}

func TestReplaceWeather_BeginError(t *testing.T) {
	q := &mockQuerier{
		beginFn: func(_ context.Context) (pgx.Tx, error) { return nil, fmt.Errorf("pool exhausted") },
	}

	repo := storage.NewRepositoryWithQuerier(q)
	err := repo.ReplaceWeather(context.Background(), sampleSnapshotRow())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "beginning transaction")
}

// ---- GetForecast ----

func TestGetForecast_Found(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	wind := mustJSON(t, weather.Wind{Speed: 2})
	desc := mustJSON(t, []weather.Description{{ID: 500}})

	rows := &fakeRows{
		rows: [][]any{
			{1, 42, t0, 21.0, wind, desc, 500},
			{2, 42, t0.Add(3 * time.Hour), 19.5, wind, desc, 500},
		},
	}
	q := &mockQuerier{
		queryFn: func(_ context.Context, _ string, _ ...any) (pgx.Rows, error) { return rows, nil },
	}

	repo := storage.NewRepositoryWithQuerier(q)
	results, err := repo.GetForecast(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, t0, results[0].ForecastAt)
	assert.Equal(t, 19.5, results[1].TemperatureCelsius)
	assert.Equal(t, 500, results[1].Descriptions[0].ID)
}

func TestGetForecast_Empty(t *testing.T) {
	q := &mockQuerier{
		queryFn: func(_ context.Context, _ string, _ ...any) (pgx.Rows, error) { return &fakeRows{}, nil },
	}

	repo := storage.NewRepositoryWithQuerier(q)
	results, err := repo.GetForecast(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestGetForecast_QueryError(t *testing.T) {
	q := &mockQuerier{
		queryFn: func(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
			return nil, fmt.Errorf("query failed")
		},
	}

	repo := storage.NewRepositoryWithQuerier(q)
	_, err := repo.GetForecast(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "querying forecast")
}

func TestGetForecast_ScanError(t *testing.T) {
	rows := &fakeRows{
		rows:    [][]any{{1, 42, time.Now(), 21.0, []byte("{}"), []byte("[]"), 0}},
		scanErr: fmt.Errorf("scan failed"),
	}
	q := &mockQuerier{
		queryFn: func(_ context.Context, _ string, _ ...any) (pgx.Rows, error) { return rows, nil },
	}

	repo := storage.NewRepositoryWithQuerier(q)
	_, err := repo.GetForecast(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scanning")
}

func TestGetForecast_RowsErr(t *testing.T) {
	rows := &fakeRows{rowErr: fmt.Errorf("rows iteration error")}
	q := &mockQuerier{
		queryFn: func(_ context.Context, _ string, _ ...any) (pgx.Rows, error) { return rows, nil },
	}

	repo := storage.NewRepositoryWithQuerier(q)
	_, err := repo.GetForecast(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iterating")
}

func TestGetForecast_BadJSON(t *testing.T) {
	rows := &fakeRows{
		rows: [][]any{{1, 42, time.Now(), 21.0, []byte("{}"), []byte("not-json"), 0}},
	}
	q := &mockQuerier{
		queryFn: func(_ context.Context, _ string, _ ...any) (pgx.Rows, error) { return rows, nil },
	}

	repo := storage.NewRepositoryWithQuerier(q)
	_, err := repo.GetForecast(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshaling")
}

// ---- Insert/Delete/Replace forecast ----

func TestInsertForecast_Success(t *testing.T) {
	var capturedArgs []any
	q := &mockQuerier{
		execFn: func(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
			capturedArgs = args
			return pgconn.CommandTag{}, nil
		},
	}

	at := time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC)
	repo := storage.NewRepositoryWithQuerier(q)
	err := repo.InsertForecast(context.Background(), weather.ForecastRow{CityID: 7, ForecastAt: at, TemperatureCelsius: 12})
	require.NoError(t, err)
	require.Len(t, capturedArgs, 6)
	assert.Equal(t, 7, capturedArgs[0])
	assert.Equal(t, at, capturedArgs[1])
}

func TestDeleteAllForecast_DBError(t *testing.T) {
	q := &mockQuerier{
		execFn: func(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, fmt.Errorf("db error")
		},
	}

	repo := storage.NewRepositoryWithQuerier(q)
	err := repo.DeleteAllForecast(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deleting forecast")
}

func TestReplaceForecast_DeletesThenInsertsEveryRow(t *testing.T) {
	tx := newRecordingTx("")
	q := &mockQuerier{
		beginFn: func(_ context.Context) (pgx.Tx, error) { return tx, nil },
	}

	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := []weather.ForecastRow{
		{CityID: 1, ForecastAt: t0},
		{CityID: 1, ForecastAt: t0.Add(3 * time.Hour)},
		{CityID: 1, ForecastAt: t0.Add(6 * time.Hour)},
	}

	repo := storage.NewRepositoryWithQuerier(q)
	require.NoError(t, repo.ReplaceForecast(context.Background(), rows))

	require.Len(t, tx.statements, 4)
	assert.Contains(t, tx.statements[0], "DELETE FROM weather_forecast")
	for _, s := range tx.statements[1:] {
		assert.Contains(t, s, "INSERT INTO weather_forecast")
	}
	assert.True(t, tx.committed)
}

func TestReplaceForecast_DeleteFailureRollsBack(t *testing.T) {
	tx := newRecordingTx("DELETE")
	q := &mockQuerier{
		beginFn: func(_ context.Context) (pgx.Tx, error) { return tx, nil },
	}

	repo := storage.NewRepositoryWithQuerier(q)
	err := repo.ReplaceForecast(context.Background(), []weather.ForecastRow{{CityID: 1}})
	require.Error(t, err)
	assert.Len(t, tx.statements, 1)
	assert.True(t, tx.rolledBack)
	assert.False(t, tx.committed)
}

// ---- NewRepository ----

func TestNewRepository_NotNil(t *testing.T) {
	repo := storage.NewRepository(nil)
	assert.NotNil(t, repo)
}

// ---- RunMigrations tests ----

func TestRunMigrations_MissingDir(t *testing.T) {
	err := storage.RunMigrations(context.Background(), nil, "/nonexistent/dir")
	require.Error(t, err)
}

func TestRunMigrations_EmptyDir(t *testing.T) {
	err := storage.RunMigrations(context.Background(), nil, t.TempDir())
	require.NoError(t, err)
}

func TestRunMigrations_Success(t *testing.T) {
	dir := t.TempDir()
	writeSQLFile(t, dir, "001_test.sql", "SELECT 1;")

	tx := newRecordingTx("")
	pool := &mockBeginner{
		beginFn: func(_ context.Context) (pgx.Tx, error) { return tx, nil },
	}

	require.NoError(t, storage.RunMigrations(context.Background(), pool, dir))
	assert.True(t, tx.committed)
}

func TestRunMigrations_BeginError(t *testing.T) {
	dir := t.TempDir()
	writeSQLFile(t, dir, "001_test.sql", "SELECT 1;")

	pool := &mockBeginner{
		beginFn: func(_ context.Context) (pgx.Tx, error) { return nil, fmt.Errorf("cannot begin") },
	}

	err := storage.RunMigrations(context.Background(), pool, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executing migration")
}

func TestRunMigrations_ExecError(t *testing.T) {
	dir := t.TempDir()
	writeSQLFile(t, dir, "001_test.sql", "INVALID SQL;")

	tx := newRecordingTx("INVALID")
	pool := &mockBeginner{
		beginFn: func(_ context.Context) (pgx.Tx, error) { return tx, nil },
	}

	err := storage.RunMigrations(context.Background(), pool, dir)
	require.Error(t, err)
	assert.True(t, tx.rolledBack)
}

func TestRunMigrations_SortsFilesLexicographically(t *testing.T) {
	dir := t.TempDir()
	writeSQLFile(t, dir, "003_c.sql", "SELECT 3;")
	writeSQLFile(t, dir, "001_a.sql", "SELECT 1;")
	writeSQLFile(t, dir, "002_b.sql", "SELECT 2;")
	writeSQLFile(t, dir, "README.md", "ignored")

	tx := newRecordingTx("")
	pool := &mockBeginner{
		beginFn: func(_ context.Context) (pgx.Tx, error) { return tx, nil },
	}

	require.NoError(t, storage.RunMigrations(context.Background(), pool, dir))
	assert.Equal(t, []string{"SELECT 1;", "SELECT 2;", "SELECT 3;"}, tx.statements)
}

func TestRunMigrations_ShippedFilesApplyInOrder(t *testing.T) {
	tx := newRecordingTx("")
	pool := &mockBeginner{
		beginFn: func(_ context.Context) (pgx.Tx, error) { return tx, nil },
	}

	require.NoError(t, storage.RunMigrations(context.Background(), pool, "../../migrations"))
	require.Len(t, tx.statements, 2)
	assert.Contains(t, tx.statements[0], "CREATE TABLE IF NOT EXISTS weather (")
	assert.Contains(t, tx.statements[1], "CREATE TABLE IF NOT EXISTS weather_forecast")
}

// ---- Connect tests ----

func TestConnect_BadURL(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := storage.Connect(ctx, "postgres://invalid-host-xyz:5432/db?sslmode=disable")
	require.Error(t, err)
}
