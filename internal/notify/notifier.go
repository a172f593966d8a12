// Package notify publishes batch-ingested events after a write commits.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/magcollector/internal/domain"
)

// EventType is carried in the event-type header of every message.
const EventType = "magcollector.batch.ingested.v1"

// MessageWriter is satisfied by the *kafka.Writer returned from NewBatchWriter.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewBatchWriter builds the writer for the batch event topic. Events are hashed by device
// key so one device's batches stay ordered on one partition, and every event waits for all
// in-sync replicas.
func NewBatchWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// Noop drops every event.
type Noop struct{}

// BatchIngested performs no action.
func (Noop) BatchIngested(context.Context, domain.BatchEvent) error { return nil }

// KafkaNotifier publishes one JSON message per committed batch, keyed by device.
type KafkaNotifier struct {
	writer MessageWriter
}

var _ domain.BatchNotifier = (*KafkaNotifier)(nil)

// NewKafkaNotifier constructs a KafkaNotifier.
func NewKafkaNotifier(writer MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

// BatchIngested publishes event.
func (n *KafkaNotifier) BatchIngested(ctx context.Context, event domain.BatchEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode batch event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.DeviceID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(event.EventID)},
			{Key: "event-type", Value: []byte(EventType)},
		},
		Time: event.OccurredAt,
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish batch event %s: %w", event.EventID, err)
	}
	return nil
}
