package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	clickhouseadapter "github.com/couchcryptid/weather-pattern-etl/internal/adapter/clickhouse"
	"github.com/couchcryptid/weather-pattern-etl/internal/adapter/file"
	httpadapter "github.com/couchcryptid/weather-pattern-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/weather-pattern-etl/internal/adapter/kafka"
	parquetadapter "github.com/couchcryptid/weather-pattern-etl/internal/adapter/parquet"
	sqliteadapter "github.com/couchcryptid/weather-pattern-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/weather-pattern-etl/internal/config"
	"github.com/couchcryptid/weather-pattern-etl/internal/domain"
	"github.com/couchcryptid/weather-pattern-etl/internal/observability"
	"github.com/couchcryptid/weather-pattern-etl/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	extractor, closeSource, err := newSource(cfg, logger)
	if err != nil {
		logger.Error("failed to open source", "source", cfg.Source, "error", err)
		return 1
	}
	defer closeSource()

	sink, closeSink, err := newSink(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open sink", "sink", cfg.Sink, "error", err)
		return 1
	}
	defer closeSink()

	job := pipeline.New(extractor, pipeline.NewTransformer(cfg.InputLocation), sink, logger, metrics, pipeline.Options{
		Table:              cfg.TableName,
		Expand:             domain.ExpandOptions{Interval: cfg.ExpandInterval},
		Aggregate:          domain.AggregateOptions{Precision: cfg.RoundPrecision},
		Workers:            cfg.Workers,
		BatchSize:          cfg.BatchSize,
		AbortOnSchemaError: cfg.SchemaErrorPolicy == config.SchemaErrorAbort,
		MaxRetries:         cfg.ExtractMaxRetries,
	})

	var srv *httpadapter.Server
	if cfg.HTTPAddr != "" {
		srv = httpadapter.NewServer(cfg.HTTPAddr, job, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	code := 0
	if cfg.ScheduleInterval > 0 {
		if err := pipeline.NewScheduler(job, cfg.ScheduleInterval, nil, logger).Run(ctx); err != nil {
			logger.Error("scheduler error", "error", err)
			code = 1
		}
	} else if _, err := job.Run(ctx); err != nil {
		code = 1
	}

	logger.Info("shutting down")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
	}
	logger.Info("shutdown complete", "exit_code", code)
	return code
}

func newSource(cfg *config.Config, logger *slog.Logger) (pipeline.BatchExtractor, func(), error) {
	switch cfg.Source {
	case config.SourceKafka:
		r := kafkaadapter.NewReader(cfg, logger)
		return r, closer(logger, "kafka reader", r.Close), nil
	case config.SourceFile:
		l, err := file.NewLoader(cfg.InputPath, logger)
		if err != nil {
			return nil, nil, err
		}
		return l, closer(logger, "file loader", l.Close), nil
	default:
		return nil, nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}

func newSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pipeline.Sink, func(), error) {
	overwrite := cfg.WriteMode == config.WriteOverwrite
	switch cfg.Sink {
	case config.SinkSQLite:
		db, err := sqliteadapter.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return sqliteadapter.NewSink(db, overwrite, logger), closer(logger, "sqlite", db.Close), nil
	case config.SinkClickHouse:
		conn, err := clickhouseadapter.Open(ctx, clickhouseadapter.Options{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
		})
		if err != nil {
			return nil, nil, err
		}
		return clickhouseadapter.NewSink(conn, cfg.ClickHouseDatabase, overwrite, logger), closer(logger, "clickhouse", conn.Close), nil
	case config.SinkParquet:
		return parquetadapter.NewSink(cfg.ParquetDir, overwrite, logger), func() {}, nil
	case config.SinkKafka:
		w := kafkaadapter.NewWriter(cfg, logger)
		return w, closer(logger, "kafka writer", w.Close), nil
	default:
		return nil, nil, fmt.Errorf("unknown sink %q", cfg.Sink)
	}
}

func closer(logger *slog.Logger, name string, fn func() error) func() {
	return func() {
		if err := fn(); err != nil {
			logger.Error("close error", "component", name, "error", err)
		}
	}
}
