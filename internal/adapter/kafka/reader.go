package kafka

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/weather-pattern-etl/internal/config"
	"github.com/couchcryptid/weather-pattern-etl/internal/domain"
)

// messageReader is the part of *kafkago.Reader the Reader uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Reader consumes raw forecast rows from a Kafka topic, one row per message.
// It implements pipeline.BatchExtractor and pipeline.Rewinder. A topic has
// no natural end, so the dataset ends once no message arrives within the
// idle timeout.
type Reader struct {
	open          func() messageReader
	reader        messageReader
	logger        *slog.Logger
	idleTimeout   time.Duration
	flushInterval time.Duration
	uncommitted   atomic.Int64
}

// NewReader creates a Kafka consumer for the configured source topic.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	rc := kafkago.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaSourceTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  cfg.BatchFlushInterval,
	}
	return newReader(func() messageReader { return kafkago.NewReader(rc) }, cfg.KafkaIdleTimeout, cfg.BatchFlushInterval, logger)
}

func newReader(open func() messageReader, idleTimeout, flushInterval time.Duration, logger *slog.Logger) *Reader {
	return &Reader{
		open:          open,
		reader:        open(),
		logger:        logger,
		idleTimeout:   idleTimeout,
		flushInterval: flushInterval,
	}
}

// ExtractBatch fetches up to batchSize messages. The first message may take
// up to the idle timeout; once one has arrived the batch is flushed after
// BatchFlushInterval without further messages. It returns io.EOF when the
// topic stays idle for the whole idle timeout.
func (r *Reader) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawRow, error) {
	rows := make([]domain.RawRow, 0, batchSize)
	wait := r.idleTimeout

	for len(rows) < batchSize {
		fetchCtx, cancel := context.WithTimeout(ctx, wait)
		msg, err := r.reader.FetchMessage(fetchCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if len(rows) > 0 {
				// Deliver what we have; a persistent error resurfaces on the next call.
				return rows, nil
			}
			if errors.Is(err, context.DeadlineExceeded) {
				r.logger.Info("source topic idle, ending dataset", "idle_timeout", r.idleTimeout)
				return nil, io.EOF
			}
			return nil, fmt.Errorf("fetch message: %w", err)
		}

		r.uncommitted.Add(1)
		row := mapMessageToRawRow(msg)
		row.Commit = func(ctx context.Context) error {
			if err := r.reader.CommitMessages(ctx, msg); err != nil {
				return err
			}
			r.uncommitted.Add(-1)
			return nil
		}
		rows = append(rows, row)
		wait = r.flushInterval
	}
	return rows, nil
}

// Rewind makes messages fetched but never committed, for example because
// the sink write failed, available again. The group reader keeps its fetch
// position in memory, so it is reopened to resume from the committed offsets.
func (r *Reader) Rewind() error {
	pending := r.uncommitted.Swap(0)
	if pending == 0 {
		return nil
	}
	r.logger.Info("reopening source reader to redeliver uncommitted messages", "messages", pending)
	if err := r.reader.Close(); err != nil {
		r.logger.Warn("close source reader failed", "error", err)
	}
	r.reader = r.open()
	return nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

// mapMessageToRawRow converts a Kafka message into a RawRow. The source names
// the topic and partition so schema errors can be traced back to a message.
func mapMessageToRawRow(msg kafkago.Message) domain.RawRow {
	return domain.RawRow{
		Value:  bytes.TrimRight(msg.Value, "\r\n"),
		Source: fmt.Sprintf("%s/%d", msg.Topic, msg.Partition),
		Offset: msg.Offset,
	}
}
