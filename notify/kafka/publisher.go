// Package kafka publishes audit lines to a Kafka topic, for
// deployments where an external consumer renders the audit feed.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pledge/donor-engine/donor"
	"github.com/segmentio/kafka-go"
)

// Publisher implements donor.Auditor over a Kafka topic.
type Publisher struct {
	writer *kafka.Writer
}

var _ donor.Auditor = (*Publisher)(nil)

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// auditEvent is the wire form of one audit line.
type auditEvent struct {
	At   time.Time `json:"at"`
	Line string    `json:"line"`
}

// Emit publishes the line. The caller treats failures as non-fatal.
func (p *Publisher) Emit(ctx context.Context, line string) error {
	data, err := json.Marshal(auditEvent{At: time.Now().UTC(), Line: line})
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{Value: data})
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
