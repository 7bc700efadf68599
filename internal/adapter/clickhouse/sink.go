// Package clickhouse persists hourly summaries to a ClickHouse MergeTree table.
package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/couchcryptid/weather-pattern-etl/internal/domain"
	"github.com/couchcryptid/weather-pattern-etl/internal/pipeline"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options configure the connection.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
}

// Open connects to ClickHouse and verifies the connection.
func Open(ctx context.Context, opts Options) (driver.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return conn, nil
}

// Conn is the subset of driver.Conn the sink uses.
type Conn interface {
	Exec(ctx context.Context, query string, args ...any) error
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
}

// Sink writes summary batches to a table. It implements pipeline.Sink.
// Overwrite truncates the table before inserting; ClickHouse has no
// transaction spanning both statements.
type Sink struct {
	conn      Conn
	database  string
	overwrite bool
	logger    *slog.Logger
}

// NewSink creates a Sink writing into database.
func NewSink(conn Conn, database string, overwrite bool, logger *slog.Logger) *Sink {
	return &Sink{conn: conn, database: database, overwrite: overwrite, logger: logger}
}

// WriteSummaries creates the table if needed and inserts the batch with one block insert.
func (s *Sink) WriteSummaries(ctx context.Context, batch pipeline.SummaryBatch) error {
	table, err := s.tableFQN(batch.Table)
	if err != nil {
		return err
	}

	if err := s.conn.Exec(ctx, createTableSQL(table)); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	if s.overwrite {
		if err := s.conn.Exec(ctx, "TRUNCATE TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	if len(batch.Rows) == 0 {
		return nil
	}

	b, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+table)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, r := range batch.Rows {
		if err := b.Append(appendArgs(r)...); err != nil {
			_ = b.Abort()
			return fmt.Errorf("append hour %s: %w", r.Hour.Format(time.RFC3339), err)
		}
	}
	if err := b.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	s.logger.Info("summaries written", "sink", "clickhouse", "table", table, "rows", len(batch.Rows), "overwrite", s.overwrite)
	return nil
}

func (s *Sink) tableFQN(table string) (string, error) {
	if !identRe.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	if s.database == "" {
		return table, nil
	}
	if !identRe.MatchString(s.database) {
		return "", fmt.Errorf("invalid database name %q", s.database)
	}
	return s.database + "." + table, nil
}

func createTableSQL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
	hour DateTime('UTC'),
	common_wind_dir Nullable(Int32),
	avg_wind_speed Nullable(Float64),
	max_cloud_cover Nullable(Int32),
	avg_cloud_baseHeight Nullable(Float64)
) ENGINE = MergeTree
ORDER BY hour`
}

// appendArgs orders a summary's values to match the table columns.
func appendArgs(r domain.HourlySummary) []any {
	return []any{
		r.Hour.UTC(),
		int32Ptr(r.CommonWindDirection),
		r.AvgWindSpeed,
		int32Ptr(r.MaxCloudCover),
		r.AvgCloudBaseHeight,
	}
}

func int32Ptr(v *int) *int32 {
	if v == nil {
		return nil
	}
	n := int32(*v)
	return &n
}
