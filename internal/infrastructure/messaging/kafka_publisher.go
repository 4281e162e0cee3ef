// Package messaging delivers checkout handoffs to order placement.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-cart/internal/domain/checkout"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher implements checkout.Publisher. Handoffs are keyed by their
// ID so retries of the same handoff land on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	log    logrus.FieldLogger
}

// NewKafkaPublisher creates a publisher writing to topic on brokers
func NewKafkaPublisher(brokers []string, topic string, log logrus.FieldLogger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka publisher requires a topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}
	return newKafkaPublisher(w, topic, log), nil
}

func newKafkaPublisher(w messageWriter, topic string, log logrus.FieldLogger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: w,
		topic:  topic,
		log:    log.WithField("component", "checkout_publisher"),
	}
}

// Publish implements checkout.Publisher
func (p *KafkaPublisher) Publish(ctx context.Context, h *checkout.Handoff) error {
	payload, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to encode handoff: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(h.ID),
		Value: payload,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish handoff %s: %w", h.ID, err)
	}

	p.log.WithFields(logrus.Fields{
		"handoff_id": h.ID,
		"topic":      p.topic,
		"items":      len(h.Items),
	}).Info("Checkout handoff published")
	return nil
}

// Close flushes and closes the underlying writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
