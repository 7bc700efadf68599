package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/weather-pattern-etl/internal/domain"
	"github.com/couchcryptid/weather-pattern-etl/internal/observability"
)

const (
	defaultBatchSize  = 50
	defaultBackoff    = 200 * time.Millisecond
	defaultMaxBackoff = 5 * time.Second
)

// BatchExtractor reads up to batchSize raw rows from the source.
// It returns io.EOF once the source is exhausted; rows returned alongside
// io.EOF are still processed.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawRow, error)
}

// Rewinder is implemented by extractors over re-readable sources. A Job
// rewinds its extractor at the start of every run.
type Rewinder interface {
	Rewind() error
}

// Transformer types a raw row.
type Transformer interface {
	Transform(ctx context.Context, row domain.RawRow) (domain.RawRecord, error)
}

// SummaryBatch is the complete output of one run.
type SummaryBatch struct {
	RunID       string
	Table       string
	ProcessedAt time.Time
	Rows        []domain.HourlySummary
}

// Sink persists hourly summaries to the configured table.
type Sink interface {
	WriteSummaries(ctx context.Context, batch SummaryBatch) error
}

// Options tune a Job. Zero values fall back to defaults.
type Options struct {
	Table              string
	Expand             domain.ExpandOptions
	Aggregate          domain.AggregateOptions
	Workers            int
	BatchSize          int
	AbortOnSchemaError bool
	MaxRetries         int
	Backoff            time.Duration
	Clock              clockwork.Clock
}

// RunResult describes a completed run.
type RunResult struct {
	RunID           string
	RowsRead        int
	RecordsTyped    int
	SchemaErrors    int
	EmptyExpansions int
	FlatRecords     int
	Summaries       int
	StartedAt       time.Time
	FinishedAt      time.Time
	Err             error // nil on success
}

// Job runs the extract-type-expand-aggregate-load sequence over a bounded dataset.
type Job struct {
	extractor   BatchExtractor
	transformer Transformer
	sink        Sink
	logger      *slog.Logger
	metrics     *observability.Metrics
	opts        Options
	clock       clockwork.Clock
	lastRun     atomic.Pointer[RunResult]
}

// New creates a Job with the given stages and observability.
func New(e BatchExtractor, t Transformer, s Sink, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Job {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Job{
		extractor:   e,
		transformer: t,
		sink:        s,
		logger:      logger,
		metrics:     metrics,
		opts:        opts,
		clock:       opts.Clock,
	}
}

// CheckReadiness returns nil while the most recent run succeeded.
func (j *Job) CheckReadiness(_ context.Context) error {
	res := j.lastRun.Load()
	if res == nil {
		return errors.New("no run has completed yet")
	}
	if res.Err != nil {
		return fmt.Errorf("last run failed: %w", res.Err)
	}
	return nil
}

// LastRun returns the result of the most recent run, successful or not.
func (j *Job) LastRun() (RunResult, bool) {
	res := j.lastRun.Load()
	if res == nil {
		return RunResult{}, false
	}
	return *res, true
}

// Run processes the whole dataset once. Source offsets are committed only
// after the sink write succeeds.
func (j *Job) Run(ctx context.Context) (RunResult, error) {
	res := RunResult{
		RunID:     uuid.NewString(),
		StartedAt: j.clock.Now().UTC(),
	}
	logger := j.logger.With("run_id", res.RunID, "table", j.opts.Table)
	logger.Info("run started", "batch_size", j.opts.BatchSize, "workers", j.opts.Workers)

	j.metrics.PipelineRunning.Set(1)
	defer j.metrics.PipelineRunning.Set(0)

	if r, ok := j.extractor.(Rewinder); ok {
		if err := r.Rewind(); err != nil {
			return j.fail(logger, res, fmt.Errorf("rewind source: %w", err))
		}
	}

	flat, pending, err := j.extractAndExpand(ctx, logger, &res)
	if err != nil {
		return j.fail(logger, res, err)
	}

	summaries, err := AggregateParallel(ctx, flat, j.opts.Aggregate, j.opts.Workers)
	if err != nil {
		return j.fail(logger, res, fmt.Errorf("aggregate: %w", err))
	}
	res.Summaries = len(summaries)

	batch := SummaryBatch{
		RunID:       res.RunID,
		Table:       j.opts.Table,
		ProcessedAt: j.clock.Now().UTC(),
		Rows:        summaries,
	}
	if err := j.sink.WriteSummaries(ctx, batch); err != nil {
		return j.fail(logger, res, fmt.Errorf("write summaries: %w", err))
	}
	j.metrics.SummariesWritten.Add(float64(len(summaries)))

	for _, row := range pending {
		j.commitOffset(ctx, logger, row)
	}

	res.FinishedAt = j.clock.Now().UTC()
	j.metrics.RunDuration.Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
	j.metrics.Runs.WithLabelValues("success").Inc()
	j.lastRun.Store(&res)

	logger.Info("run complete",
		"rows", res.RowsRead,
		"records", res.RecordsTyped,
		"schema_errors", res.SchemaErrors,
		"flat_records", res.FlatRecords,
		"summaries", res.Summaries,
	)
	return res, nil
}

func (j *Job) fail(logger *slog.Logger, res RunResult, err error) (RunResult, error) {
	res.FinishedAt = j.clock.Now().UTC()
	res.Err = err
	j.lastRun.Store(&res)
	j.metrics.Runs.WithLabelValues("error").Inc()
	logger.Error("run failed", "error", err)
	return res, err
}

// extractAndExpand drains the source batch by batch, typing and expanding
// each batch before reading the next. It returns the flat records and the
// rows whose offsets must be committed after the write.
func (j *Job) extractAndExpand(ctx context.Context, logger *slog.Logger, res *RunResult) ([]domain.FlatRecord, []domain.RawRow, error) {
	var (
		flat    []domain.FlatRecord
		pending []domain.RawRow
	)

	backoff := j.opts.Backoff
	retries := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		rows, err := j.extractor.ExtractBatch(ctx, j.opts.BatchSize)
		done := errors.Is(err, io.EOF)
		if err != nil && !done {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			retries++
			if retries > j.opts.MaxRetries {
				return nil, nil, fmt.Errorf("extract batch: %w", err)
			}
			logger.Warn("extract batch failed, retrying", "error", err, "attempt", retries, "backoff", backoff)
			if !j.sleep(ctx, backoff) {
				return nil, nil, ctx.Err()
			}
			backoff = retry.NextBackoff(backoff, defaultMaxBackoff)
			continue
		}
		retries = 0
		backoff = j.opts.Backoff

		if len(rows) > 0 {
			res.RowsRead += len(rows)
			j.metrics.RowsExtracted.Add(float64(len(rows)))
			j.metrics.BatchSize.Observe(float64(len(rows)))

			records, err := j.typeBatch(ctx, logger, rows, res)
			if err != nil {
				return nil, nil, err
			}

			expanded, err := ExpandAll(ctx, records, j.opts.Expand, j.opts.Workers)
			if err != nil {
				return nil, nil, fmt.Errorf("expand: %w", err)
			}
			res.FlatRecords += len(expanded)
			j.metrics.FlatRecords.Add(float64(len(expanded)))
			flat = append(flat, expanded...)

			for _, row := range rows {
				if row.Commit != nil {
					pending = append(pending, row)
				}
			}
		}

		if done {
			return flat, pending, nil
		}
	}
}

// typeBatch applies the row schema. Rows that cannot be typed are skipped
// or abort the run depending on AbortOnSchemaError.
func (j *Job) typeBatch(ctx context.Context, logger *slog.Logger, rows []domain.RawRow, res *RunResult) ([]domain.RawRecord, error) {
	records := make([]domain.RawRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := j.transformer.Transform(ctx, row)
		if err != nil {
			if !domain.IsSchemaError(err) || j.opts.AbortOnSchemaError {
				return nil, fmt.Errorf("type row: %w", err)
			}
			res.SchemaErrors++
			j.metrics.SchemaErrors.Inc()
			logger.Warn("schema violation, skipping row", "error", err, "source", row.Source, "offset", row.Offset)
			continue
		}
		if domain.ExpandCount(rec, j.opts.Expand) == 0 {
			res.EmptyExpansions++
			j.metrics.EmptyExpansions.Inc()
			logger.Debug("record expands to nothing", "station", rec.StationID, "source", row.Source, "offset", row.Offset)
		}
		records = append(records, rec)
	}
	res.RecordsTyped += len(records)
	j.metrics.RecordsTyped.Add(float64(len(records)))
	return records, nil
}

func (j *Job) commitOffset(ctx context.Context, logger *slog.Logger, row domain.RawRow) {
	if err := row.Commit(ctx); err != nil {
		logger.Warn("commit offset failed", "error", err, "source", row.Source, "offset", row.Offset)
	}
}

func (j *Job) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-j.clock.After(d):
		return true
	}
}
