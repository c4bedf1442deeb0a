package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	gatedomain "kallied-admin/backend/internal/gate/domain"
)

const writeTimeout = 5 * time.Second

// messageWriter is the part of kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer implements Producer using segmentio/kafka-go.
type KafkaProducer struct {
	writer messageWriter
	topic  string
}

// NewKafkaProducer creates a producer that writes gate events to topic.
// Returns nil when brokers or topic is empty so callers can treat Kafka as optional.
func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &KafkaProducer{writer: writer, topic: topic}
}

// Emit writes the event as JSON keyed by operator so one operator's events stay ordered on a partition.
func (p *KafkaProducer) Emit(ctx context.Context, event gatedomain.Event) error {
	if p == nil || p.writer == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(event.Owner),
		Value: payload,
		Time:  event.At,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
}

// Close closes the Kafka writer. Safe to call on a nil producer.
func (p *KafkaProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
