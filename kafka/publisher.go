package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/tzhukov/pollprobe/logger"
	"github.com/tzhukov/pollprobe/models"
)

// MessageWriter is the subset of *kafka.Writer used by Publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends finished run records to a Kafka topic, keyed by run id.
type Publisher struct {
	broker string
	topic  string
	w      MessageWriter
}

func NewPublisher(broker, topic string) *Publisher {
	return &Publisher{
		broker: broker,
		topic:  topic,
		w: &kafka.Writer{
			Addr:                   kafka.TCP(broker),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
	}
}

func NewPublisherWithWriter(topic string, w MessageWriter) *Publisher {
	return &Publisher{topic: topic, w: w}
}

func (p *Publisher) Record(ctx context.Context, rec models.RunRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{Key: []byte(rec.RunID), Value: b}); err != nil {
		return fmt.Errorf("write to %s: %w", p.topic, err)
	}
	logger.Debug("run record published", logger.FieldKV("topic", p.topic), logger.FieldKV("run_id", rec.RunID))
	return nil
}

// Ping dials the broker to check it is reachable.
func (p *Publisher) Ping(ctx context.Context) error {
	if p.broker == "" {
		return nil
	}
	conn, err := kafka.DialContext(ctx, "tcp", p.broker)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.broker, err)
	}
	return conn.Close()
}

func (p *Publisher) Close() error { return p.w.Close() }
