// Package kafka carries the two broker-facing flows: the instruction
// intake reader and the fills feed producer.
package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer publishes to one topic with full acks.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer builds a synchronous producer for the topic.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Send publishes one keyed message.
func (p *Producer) Send(ctx context.Context, key, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: value,
	})
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
