package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaEmitter writes audit events to a Kafka topic as JSON.
type KafkaEmitter struct {
	writer *kafka.Writer
}

// NewKafkaEmitter creates an emitter for the given brokers and topic.
// Returns (nil, nil) when brokers or topic are unset, which disables the
// audit trail; a nil *KafkaEmitter is safe to use.
func NewKafkaEmitter(brokers []string, topic string) (*KafkaEmitter, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaEmitter{writer: writer}, nil
}

// Emit serializes the event and writes it keyed by identity id, so one
// identity's events stay ordered within a partition.
func (k *KafkaEmitter) Emit(ctx context.Context, e *Event) error {
	if k == nil || k.writer == nil || e == nil {
		return nil
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, emitTimeout)
	defer cancel()
	var key []byte
	if e.IdentityID != "" {
		key = []byte(e.IdentityID)
	}
	return k.writer.WriteMessages(writeCtx, kafka.Message{Key: key, Value: payload})
}

// Close closes the Kafka writer. Safe to call on nil or twice.
func (k *KafkaEmitter) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
