package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/shirkeanjali/medgenix/pkg/tracing"
)

// Config holds Kafka configuration
type Config struct {
	Brokers     []string
	SearchTopic string
}

// ParseConfig parses a comma-separated broker string
func ParseConfig(brokers string, searchTopic string) Config {
	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}

	return Config{
		Brokers:     brokerList,
		SearchTopic: searchTopic,
	}
}

// Producer handles producing search events to Kafka
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.SearchTopic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// Allow Kafka to auto-create the topic in dev environments when it doesn't exist yet.
		// Without this, a first publish may fail with "Unknown Topic Or Partition".
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.SearchTopic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// SearchRecordedMessage is published after each search is counted. Downstream
// consumers (reporting, recommendation) react to these instead of polling.
type SearchRecordedMessage struct {
	Type            string    `json:"type"` // "medicine.search.recorded"
	MedicineName    string    `json:"medicine_name"`
	AllTimeSearches int64     `json:"all_time_searches"`
	Month           int       `json:"month"`
	Year            int       `json:"year"`
	UserID          string    `json:"user_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`

	// Tracing
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// PublishSearchRecorded publishes a search event, keyed by medicine name so
// events for one medicine stay ordered within a partition.
func (p *Producer) PublishSearchRecorded(ctx context.Context, msg *SearchRecordedMessage) error {
	ctx, span := tracing.StartSpan(ctx, "Kafka.PublishSearchRecorded")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("medicine_name", msg.MedicineName),
	)

	if msg.Type == "" {
		msg.Type = "medicine.search.recorded"
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.TraceID = tracing.GetTraceID(ctx)
	msg.SpanID = tracing.GetSpanID(ctx)

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal message")
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	headers := []kafka.Header{
		{Key: "type", Value: []byte(msg.Type)},
		{Key: "medicine_name", Value: []byte(msg.MedicineName)},
	}

	// W3C trace context headers for distributed tracing
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}
	if tracestate := tracing.GetTraceState(ctx); tracestate != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(msg.MedicineName),
		Value:   data,
		Headers: headers,
	})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish message")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish to Kafka topic %s", p.topic)
		return err
	}

	span.SetStatus(codes.Ok, "message published")
	p.logger.WithContext(ctx).Debugf("Published search event to Kafka: medicine=%s total=%d trace=%s",
		msg.MedicineName, msg.AllTimeSearches, msg.TraceID)

	return nil
}

// Stats returns producer statistics
func (p *Producer) Stats() kafka.WriterStats {
	return p.writer.Stats()
}
