package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-pattern-etl/internal/domain"
	"github.com/couchcryptid/weather-pattern-etl/internal/observability"
	"github.com/couchcryptid/weather-pattern-etl/internal/pipeline"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// partitionLog is a single-partition topic with one consumer group offset.
type partitionLog struct {
	mu        sync.Mutex
	msgs      []kafkago.Message
	committed int64
	opened    int
}

func newPartitionLog(values ...string) *partitionLog {
	p := &partitionLog{}
	for i, v := range values {
		p.msgs = append(p.msgs, kafkago.Message{Topic: "raw", Offset: int64(i), Value: []byte(v)})
	}
	return p
}

func (p *partitionLog) open() messageReader {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opened++
	return &groupReader{log: p, pos: p.committed}
}

// groupReader mimics a group reader: the fetch position lives in memory and
// starts from the committed offset.
type groupReader struct {
	log *partitionLog
	pos int64
}

func (g *groupReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	g.log.mu.Lock()
	if g.pos < int64(len(g.log.msgs)) {
		msg := g.log.msgs[g.pos]
		g.pos++
		g.log.mu.Unlock()
		return msg, nil
	}
	g.log.mu.Unlock()
	<-ctx.Done()
	return kafkago.Message{}, ctx.Err()
}

func (g *groupReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	g.log.mu.Lock()
	defer g.log.mu.Unlock()
	for _, m := range msgs {
		g.log.committed = max(g.log.committed, m.Offset+1)
	}
	return nil
}

func (g *groupReader) Close() error { return nil }

func drainReader(t *testing.T, r *Reader) []domain.RawRow {
	t.Helper()
	var all []domain.RawRow
	for {
		rows, err := r.ExtractBatch(context.Background(), 10)
		all = append(all, rows...)
		if err == io.EOF {
			return all
		}
		require.NoError(t, err)
	}
}

func TestReader_EndsDatasetWhenIdle(t *testing.T) {
	log := newPartitionLog("a", "b", "c")
	r := newReader(log.open, 20*time.Millisecond, 5*time.Millisecond, discardLogger())

	rows := drainReader(t, r)
	require.Len(t, rows, 3)
	assert.Equal(t, "raw/0", rows[0].Source)
	assert.Equal(t, int64(2), rows[2].Offset)
}

func TestReader_RewindRedeliversUncommitted(t *testing.T) {
	log := newPartitionLog("a", "b", "c")
	r := newReader(log.open, 20*time.Millisecond, 5*time.Millisecond, discardLogger())

	first := drainReader(t, r)
	require.Len(t, first, 3)

	// Nothing committed: the sink write failed.
	require.NoError(t, r.Rewind())
	assert.Equal(t, 2, log.opened)

	second := drainReader(t, r)
	require.Len(t, second, 3)
	assert.Equal(t, first[0].Value, second[0].Value)

	for _, row := range second {
		require.NoError(t, row.Commit(context.Background()))
	}

	require.NoError(t, r.Rewind())
	assert.Equal(t, 2, log.opened, "fully committed reader is kept")
	assert.Empty(t, drainReader(t, r))
}

func TestReader_RewindAfterPartialCommit(t *testing.T) {
	log := newPartitionLog("a", "b", "c")
	r := newReader(log.open, 20*time.Millisecond, 5*time.Millisecond, discardLogger())

	rows := drainReader(t, r)
	require.NoError(t, rows[0].Commit(context.Background()))

	require.NoError(t, r.Rewind())
	again := drainReader(t, r)
	require.Len(t, again, 2)
	assert.Equal(t, "b", string(again[0].Value))
}

type flakySink struct {
	err    error
	writes []pipeline.SummaryBatch
}

func (s *flakySink) WriteSummaries(_ context.Context, batch pipeline.SummaryBatch) error {
	if s.err != nil {
		return s.err
	}
	s.writes = append(s.writes, batch)
	return nil
}

func TestReader_JobRedeliversAfterSinkFailure(t *testing.T) {
	row := domain.FormatRow(domain.RawRecord{
		StationID:         "EGLL",
		IssueTime:         time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		ForecastValidFrom: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		ForecastValidTo:   time.Date(2023, 1, 1, 1, 0, 0, 0, time.UTC),
		WindDirection:     ptr(270),
		WindSpeed:         ptr(12.0),
		CloudCoverage:     ptr(`[{"cover":3,"baseHeight":1000}]`),
		Type:              "TAF",
	})
	log := newPartitionLog(row, row)
	r := newReader(log.open, 20*time.Millisecond, 5*time.Millisecond, discardLogger())
	sink := &flakySink{err: errors.New("sink unavailable")}
	job := pipeline.New(r, pipeline.NewTransformer(nil), sink, discardLogger(), observability.NewMetricsForTesting(),
		pipeline.Options{Table: "weather_pattern", Workers: 1})

	_, err := job.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(0), log.committed)

	sink.err = nil
	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowsRead)
	assert.Equal(t, 2, res.Summaries)
	require.Len(t, sink.writes, 1)
	assert.Equal(t, int64(2), log.committed)

	res, err = job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.RowsRead)
}
