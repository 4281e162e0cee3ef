package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/storefront-cart/internal/domain/cart"
	"github.com/your-org/storefront-cart/internal/domain/checkout"
	"github.com/your-org/storefront-cart/internal/pkg/logger"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewKafkaPublisher_RequiresBrokersAndTopic(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "checkout", logger.Discard())
	assert.Error(t, err)

	_, err = NewKafkaPublisher([]string{"localhost:9092"}, "", logger.Discard())
	assert.Error(t, err)
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, "checkout-handoff", logger.Discard())

	h := &checkout.Handoff{
		ID:            "h-1",
		Items:         []cart.CartItem{{ProductID: "p1", Size: "M", Quantity: 2}},
		PaymentMethod: "card",
	}
	require.NoError(t, p.Publish(context.Background(), h))

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "h-1", string(msg.Key))

	var decoded checkout.Handoff
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "h-1", decoded.ID)
	assert.Equal(t, "card", decoded.PaymentMethod)
	require.Len(t, decoded.Items, 1)
	assert.Equal(t, 2, decoded.Items[0].Quantity)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WriteFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := newKafkaPublisher(w, "checkout-handoff", logger.Discard())

	err := p.Publish(context.Background(), &checkout.Handoff{ID: "h-2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "h-2")
}
