// Package sqlite persists hourly summaries to an embedded SQLite table.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/couchcryptid/weather-pattern-etl/internal/domain"
	"github.com/couchcryptid/weather-pattern-etl/internal/pipeline"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Open opens (creating if needed) the SQLite database at path.
// ":memory:" opens a private in-memory database.
func Open(path string) (*sql.DB, error) {
	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	// A single connection keeps :memory: databases coherent and avoids
	// "database is locked" on writes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func buildDSN(path string) (string, error) {
	if path == ":memory:" {
		return "file::memory:?_busy_timeout=5000", nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	params := "_busy_timeout=5000&_journal_mode=WAL"
	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + params, nil
	}
	return fmt.Sprintf("file:%s?%s", path, params), nil
}

// Sink writes summary batches to a table. It implements pipeline.Sink.
type Sink struct {
	db        *sql.DB
	overwrite bool
	logger    *slog.Logger
}

// NewSink creates a Sink. When overwrite is set each batch replaces the
// table contents; otherwise rows are appended.
func NewSink(db *sql.DB, overwrite bool, logger *slog.Logger) *Sink {
	return &Sink{db: db, overwrite: overwrite, logger: logger}
}

// WriteSummaries creates the table if needed and writes the batch in one transaction.
func (s *Sink) WriteSummaries(ctx context.Context, batch pipeline.SummaryBatch) error {
	if !identRe.MatchString(batch.Table) {
		return fmt.Errorf("invalid table name %q", batch.Table)
	}
	table := quote(batch.Table)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, createTableSQL(table)); err != nil {
		return fmt.Errorf("create table %s: %w", batch.Table, err)
	}
	if s.overwrite {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear table %s: %w", batch.Table, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+table+
		` (hour, common_wind_dir, avg_wind_speed, max_cloud_cover, "avg_cloud_baseHeight") VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range batch.Rows {
		if _, err := stmt.ExecContext(ctx,
			r.Hour.UTC(),
			nullInt(r.CommonWindDirection),
			nullFloat(r.AvgWindSpeed),
			nullInt(r.MaxCloudCover),
			nullFloat(r.AvgCloudBaseHeight),
		); err != nil {
			return fmt.Errorf("insert hour %s: %w", r.Hour.Format(time.RFC3339), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Info("summaries written", "sink", "sqlite", "table", batch.Table, "rows", len(batch.Rows), "overwrite", s.overwrite)
	return nil
}

// ReadSummaries returns the rows of table ordered by hour.
func ReadSummaries(ctx context.Context, db *sql.DB, table string) ([]domain.HourlySummary, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	rows, err := db.QueryContext(ctx, `SELECT hour, common_wind_dir, avg_wind_speed, max_cloud_cover, "avg_cloud_baseHeight" FROM `+
		quote(table)+` ORDER BY hour`)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var out []domain.HourlySummary
	for rows.Next() {
		var (
			s             domain.HourlySummary
			dir, cover    sql.NullInt64
			speed, height sql.NullFloat64
		)
		if err := rows.Scan(&s.Hour, &dir, &speed, &cover, &height); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		s.Hour = s.Hour.UTC()
		s.CommonWindDirection = intPtr(dir)
		s.AvgWindSpeed = floatPtr(speed)
		s.MaxCloudCover = intPtr(cover)
		s.AvgCloudBaseHeight = floatPtr(height)
		out = append(out, s)
	}
	return out, rows.Err()
}

func createTableSQL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
	hour TIMESTAMP NOT NULL,
	common_wind_dir INTEGER NULL,
	avg_wind_speed DOUBLE NULL,
	max_cloud_cover INTEGER NULL,
	"avg_cloud_baseHeight" DOUBLE NULL
)`
}

func quote(ident string) string {
	return `"` + ident + `"`
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
