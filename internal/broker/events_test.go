package broker

import (
	"context"
	"errors"
	"testing"

	"stall-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryWriter struct {
	messages []kafka.Message
	err      error
}

func (w *memoryWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *memoryWriter) Close() error { return nil }

func TestPublishChange(t *testing.T) {
	writer := &memoryWriter{}
	publisher := NewEventPublisher(NewProducerWithWriter(writer), "till-1")

	err := publisher.PublishChange(context.Background(), models.EventTypeSaleCreated, models.CollectionSales, "sale-9")
	require.NoError(t, err)

	require.Len(t, writer.messages, 1)
	assert.Equal(t, "sales-sale-9", string(writer.messages[0].Key))

	event, err := DecodeChange(writer.messages[0])
	require.NoError(t, err)
	assert.Equal(t, models.EventTypeSaleCreated, event.EventType)
	assert.Equal(t, "till-1", event.Origin)
	assert.Equal(t, "sale-9", event.DocumentID)
	assert.NotEmpty(t, event.EventID)
}

func TestPublishChangeWriteError(t *testing.T) {
	writer := &memoryWriter{err: errors.New("broker down")}
	publisher := NewEventPublisher(NewProducerWithWriter(writer), "till-1")

	err := publisher.PublishChange(context.Background(), models.EventTypeStockSet, models.CollectionProducts, "1")
	assert.ErrorContains(t, err, "broker down")
}

func TestDecodeChangeRejectsGarbage(t *testing.T) {
	_, err := DecodeChange(kafka.Message{Value: []byte("not json")})
	assert.Error(t, err)

	_, err = DecodeChange(kafka.Message{Value: []byte(`{"event_type":"ORDER_PAID"}`)})
	assert.ErrorContains(t, err, "unknown event type")
}
