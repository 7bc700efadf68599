package parquet

import (
	"context"
	"io"
	"log/slog"
	"os"
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

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func batch(runID string) pipeline.SummaryBatch {
	return pipeline.SummaryBatch{
		RunID: runID,
		Table: "weather_pattern",
		Rows: []domain.HourlySummary{
			{Hour: hour0, CommonWindDirection: ptr(270), AvgWindSpeed: ptr(12.17), MaxCloudCover: ptr(5), AvgCloudBaseHeight: ptr(1500.0)},
			{Hour: hour0.Add(time.Hour), MaxCloudCover: ptr(2)},
		},
	}
}

func parts(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "weather_pattern", "*"))
	require.NoError(t, err)
	return matches
}

func TestSink_WriteAndRead(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewSink(dir, true, discardLogger()).WriteSummaries(context.Background(), batch("run-1")))

	got, err := ReadTable(dir, "weather_pattern")
	require.NoError(t, err)
	require.Len(t, got, 2)

	want := batch("run-1").Rows
	for i := range want {
		assert.True(t, want[i].Hour.Equal(got[i].Hour), "hour %d", i)
		assert.Equal(t, want[i].CommonWindDirection, got[i].CommonWindDirection)
		assert.Equal(t, want[i].AvgWindSpeed, got[i].AvgWindSpeed)
		assert.Equal(t, want[i].MaxCloudCover, got[i].MaxCloudCover)
		assert.Equal(t, want[i].AvgCloudBaseHeight, got[i].AvgCloudBaseHeight)
	}
	assert.Equal(t, []string{filepath.Join(dir, "weather_pattern", "part-run-1.parquet")}, parts(t, dir))
}

func TestSink_OverwriteRemovesOldParts(t *testing.T) {
	dir := t.TempDir()
	sink := NewSink(dir, true, discardLogger())

	require.NoError(t, sink.WriteSummaries(context.Background(), batch("run-1")))
	require.NoError(t, sink.WriteSummaries(context.Background(), batch("run-2")))

	assert.Equal(t, []string{filepath.Join(dir, "weather_pattern", "part-run-2.parquet")}, parts(t, dir))
	got, err := ReadTable(dir, "weather_pattern")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSink_AppendKeepsParts(t *testing.T) {
	dir := t.TempDir()
	sink := NewSink(dir, false, discardLogger())

	require.NoError(t, sink.WriteSummaries(context.Background(), batch("run-1")))
	require.NoError(t, sink.WriteSummaries(context.Background(), batch("run-2")))

	assert.Len(t, parts(t, dir), 2)
	got, err := ReadTable(dir, "weather_pattern")
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestSink_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewSink(dir, true, discardLogger()).WriteSummaries(context.Background(), batch("run-1")))

	entries, err := os.ReadDir(filepath.Join(dir, "weather_pattern"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "part-run-1.parquet", entries[0].Name())
}

func TestSink_InvalidTable(t *testing.T) {
	b := batch("run-1")
	b.Table = "../escape"
	require.Error(t, NewSink(t.TempDir(), true, discardLogger()).WriteSummaries(context.Background(), b))
}

func TestSink_EmptyRunIDStillWritesUniqueParts(t *testing.T) {
	dir := t.TempDir()
	sink := NewSink(dir, false, discardLogger())

	require.NoError(t, sink.WriteSummaries(context.Background(), batch("")))
	require.NoError(t, sink.WriteSummaries(context.Background(), batch("")))

	assert.Len(t, parts(t, dir), 2)
}
