package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/weather-pattern-etl/internal/config"
	"github.com/couchcryptid/weather-pattern-etl/internal/domain"
	"github.com/couchcryptid/weather-pattern-etl/internal/pipeline"
)

// Writer publishes hourly summaries to a Kafka topic, one message per hour.
// It implements pipeline.Sink. A topic is append-only, so the write mode
// does not apply; consumers keep the latest value per hour key.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// WriteSummaries serializes the batch and publishes it in a single
// WriteMessages call.
func (w *Writer) WriteSummaries(ctx context.Context, batch pipeline.SummaryBatch) error {
	if len(batch.Rows) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(batch.Rows))
	for i := range batch.Rows {
		msg, err := serializeToMessage(batch, batch.Rows[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish summaries: %w", err)
	}
	w.logger.Info("summaries written", "sink", "kafka", "topic", w.writer.Topic, "table", batch.Table, "rows", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals one summary into a Kafka message keyed by hour.
func serializeToMessage(batch pipeline.SummaryBatch, s domain.HourlySummary) (kafkago.Message, error) {
	s.Hour = s.Hour.UTC()
	data, err := json.Marshal(s)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize hourly summary: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(s.Hour.Format(time.RFC3339)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "table", Value: []byte(batch.Table)},
			{Key: "run_id", Value: []byte(batch.RunID)},
			{Key: "processed_at", Value: []byte(batch.ProcessedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
