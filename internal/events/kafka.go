package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes each event to topic "<prefix>.<type>", keyed by user
// so one user's events stay ordered within a partition. Writes are async;
// delivery errors are logged.
type KafkaPublisher struct {
	writer *kafka.Writer
	prefix string
}

func NewKafka(brokers []string, prefix string, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Transport:              &kafka.Transport{Dial: dialer.DialFunc},
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka delivery failed", "messages", len(messages), "error", err)
			}
		},
	}
	return &KafkaPublisher{writer: w, prefix: prefix}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.writer.WriteMessages(ctx, p.message(e, payload))
}

func (p *KafkaPublisher) message(e Event, payload []byte) kafka.Message {
	return kafka.Message{
		Topic: Subject(p.prefix, e.Type),
		Key:   []byte(e.UserID),
		Value: payload,
		Time:  e.At,
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
