// Package parquet writes hourly summaries as Parquet part files, one
// directory per table.
package parquet

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/couchcryptid/weather-pattern-etl/internal/domain"
	"github.com/couchcryptid/weather-pattern-etl/internal/pipeline"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const partExt = ".parquet"

// summaryRow is the on-disk layout. Pointer fields are optional columns.
type summaryRow struct {
	Hour               time.Time `parquet:"hour,timestamp"`
	CommonWindDir      *int32    `parquet:"common_wind_dir,optional"`
	AvgWindSpeed       *float64  `parquet:"avg_wind_speed,optional"`
	MaxCloudCover      *int32    `parquet:"max_cloud_cover,optional"`
	AvgCloudBaseHeight *float64  `parquet:"avg_cloud_baseHeight,optional"`
}

// Sink writes each batch to <dir>/<table>/part-<run_id>.parquet.
// It implements pipeline.Sink.
type Sink struct {
	dir       string
	overwrite bool
	logger    *slog.Logger
}

// NewSink creates a Sink rooted at dir. With overwrite set, the previous
// part files of the table are removed once the new part is in place.
func NewSink(dir string, overwrite bool, logger *slog.Logger) *Sink {
	return &Sink{dir: dir, overwrite: overwrite, logger: logger}
}

// WriteSummaries writes the batch to a temporary file and renames it into
// the table directory, so readers never observe a partial part.
func (s *Sink) WriteSummaries(ctx context.Context, batch pipeline.SummaryBatch) error {
	if !identRe.MatchString(batch.Table) {
		return fmt.Errorf("invalid table name %q", batch.Table)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tableDir := filepath.Join(s.dir, batch.Table)
	if err := os.MkdirAll(tableDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", tableDir, err)
	}

	runID := batch.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	part := filepath.Join(tableDir, "part-"+runID+partExt)

	tmp, err := os.CreateTemp(tableDir, ".part-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := writeRows(tmp, batch.Rows); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), part); err != nil {
		return fmt.Errorf("rename part: %w", err)
	}

	if s.overwrite {
		if err := removeOtherParts(tableDir, part); err != nil {
			return err
		}
	}

	s.logger.Info("summaries written", "sink", "parquet", "table", batch.Table, "path", part, "rows", len(batch.Rows), "overwrite", s.overwrite)
	return nil
}

func writeRows(f *os.File, rows []domain.HourlySummary) error {
	w := parquet.NewGenericWriter[summaryRow](f, parquet.Compression(&parquet.Zstd))
	out := make([]summaryRow, len(rows))
	for i, r := range rows {
		out[i] = toRow(r)
	}
	if _, err := w.Write(out); err != nil {
		_ = w.Close()
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize parquet: %w", err)
	}
	return nil
}

func removeOtherParts(tableDir, keep string) error {
	entries, err := os.ReadDir(tableDir)
	if err != nil {
		return fmt.Errorf("list %s: %w", tableDir, err)
	}
	for _, e := range entries {
		name := e.Name()
		path := filepath.Join(tableDir, name)
		if e.IsDir() || path == keep || !strings.HasPrefix(name, "part-") || !strings.HasSuffix(name, partExt) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove old part: %w", err)
		}
	}
	return nil
}

// ReadTable reads every part of table under dir, ordered by file name.
func ReadTable(dir, table string) ([]domain.HourlySummary, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	parts, err := filepath.Glob(filepath.Join(dir, table, "part-*"+partExt))
	if err != nil {
		return nil, err
	}
	var out []domain.HourlySummary
	for _, p := range parts {
		rows, err := parquet.ReadFile[summaryRow](p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		for _, r := range rows {
			out = append(out, fromRow(r))
		}
	}
	return out, nil
}

func toRow(s domain.HourlySummary) summaryRow {
	return summaryRow{
		Hour:               s.Hour.UTC(),
		CommonWindDir:      int32Ptr(s.CommonWindDirection),
		AvgWindSpeed:       s.AvgWindSpeed,
		MaxCloudCover:      int32Ptr(s.MaxCloudCover),
		AvgCloudBaseHeight: s.AvgCloudBaseHeight,
	}
}

func fromRow(r summaryRow) domain.HourlySummary {
	return domain.HourlySummary{
		Hour:                r.Hour.UTC(),
		CommonWindDirection: intPtr(r.CommonWindDir),
		AvgWindSpeed:        r.AvgWindSpeed,
		MaxCloudCover:       intPtr(r.MaxCloudCover),
		AvgCloudBaseHeight:  r.AvgCloudBaseHeight,
	}
}

func int32Ptr(v *int) *int32 {
	if v == nil {
		return nil
	}
	n := int32(*v)
	return &n
}

func intPtr(v *int32) *int {
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}
