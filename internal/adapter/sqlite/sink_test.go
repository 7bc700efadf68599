package sqlite

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-pattern-etl/internal/domain"
	"github.com/couchcryptid/weather-pattern-etl/internal/pipeline"
)

func ptr[T any](v T) *T { return &v }

var hour0 = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleBatch(table string) pipeline.SummaryBatch {
	return pipeline.SummaryBatch{
		RunID: "run-1",
		Table: table,
		Rows: []domain.HourlySummary{
			{Hour: hour0, CommonWindDirection: ptr(270), AvgWindSpeed: ptr(12.17), MaxCloudCover: ptr(5), AvgCloudBaseHeight: ptr(1500.0)},
			{Hour: hour0.Add(time.Hour)},
		},
	}
}

func TestSink_WriteAndRead(t *testing.T) {
	db := setupDB(t)
	sink := NewSink(db, true, discardLogger())
	ctx := context.Background()

	require.NoError(t, sink.WriteSummaries(ctx, sampleBatch("weather_pattern")))

	got, err := ReadSummaries(ctx, db, "weather_pattern")
	require.NoError(t, err)
	assert.Equal(t, sampleBatch("weather_pattern").Rows, got)
}

func TestSink_OverwriteReplacesRows(t *testing.T) {
	db := setupDB(t)
	sink := NewSink(db, true, discardLogger())
	ctx := context.Background()

	require.NoError(t, sink.WriteSummaries(ctx, sampleBatch("weather_pattern")))
	require.NoError(t, sink.WriteSummaries(ctx, sampleBatch("weather_pattern")))

	got, err := ReadSummaries(ctx, db, "weather_pattern")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSink_AppendKeepsRows(t *testing.T) {
	db := setupDB(t)
	sink := NewSink(db, false, discardLogger())
	ctx := context.Background()

	require.NoError(t, sink.WriteSummaries(ctx, sampleBatch("weather_pattern")))
	require.NoError(t, sink.WriteSummaries(ctx, sampleBatch("weather_pattern")))

	got, err := ReadSummaries(ctx, db, "weather_pattern")
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestSink_EmptyBatchCreatesTable(t *testing.T) {
	db := setupDB(t)
	sink := NewSink(db, true, discardLogger())
	ctx := context.Background()

	require.NoError(t, sink.WriteSummaries(ctx, pipeline.SummaryBatch{Table: "hourly"}))

	got, err := ReadSummaries(ctx, db, "hourly")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSink_Columns(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, NewSink(db, true, discardLogger()).WriteSummaries(context.Background(), sampleBatch("weather_pattern")))

	rows, err := db.Query(`SELECT * FROM weather_pattern LIMIT 0`)
	require.NoError(t, err)
	defer rows.Close()
	cols, err := rows.Columns()
	require.NoError(t, err)
	assert.Equal(t, []string{"hour", "common_wind_dir", "avg_wind_speed", "max_cloud_cover", "avg_cloud_baseHeight"}, cols)
}

func TestSink_InvalidTableName(t *testing.T) {
	db := setupDB(t)
	err := NewSink(db, true, discardLogger()).WriteSummaries(context.Background(), sampleBatch("weather; DROP TABLE x"))
	require.Error(t, err)

	_, err = ReadSummaries(context.Background(), db, "1bad")
	require.Error(t, err)
}

func TestOpen_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "weather.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, NewSink(db, true, discardLogger()).WriteSummaries(context.Background(), sampleBatch("weather_pattern")))
	got, err := ReadSummaries(context.Background(), db, "weather_pattern")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
