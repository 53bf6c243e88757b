// Package kafka publishes incident lifecycle events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/erpops/incident-triage/internal/incidents"
	"github.com/segmentio/kafka-go"
)

// Config holds producer configuration. No brokers makes the producer a no-op.
type Config struct {
	Brokers []string
	Topic   string
}

// messageWriter is the subset of *kafka.Writer used by Producer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer implements incidents.EventPublisher. Writes are asynchronous so
// publishing never waits on the brokers; delivery failures are logged.
type Producer struct {
	writer messageWriter
}

// NewProducer creates a producer.
func NewProducer(cfg Config) *Producer {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return &Producer{}
	}
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			Completion:   logFailures,
		},
	}
}

// Enabled reports whether brokers are configured.
func (p *Producer) Enabled() bool {
	return p.writer != nil
}

// Publish enqueues the event keyed by incident ID, so events of one incident
// keep their order within a partition.
func (p *Producer) Publish(ctx context.Context, event incidents.Event) error {
	if p.writer == nil {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal incident event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Incident.ID),
		Value: body,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write incident event: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func logFailures(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	slog.Error("failed to deliver incident events", "count", len(messages), "error", err)
}

var _ incidents.EventPublisher = (*Producer)(nil)
