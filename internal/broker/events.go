package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stall-service/internal/models"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// EventPublisher announces remote writes to the other terminals
type EventPublisher struct {
	producer *Producer
	origin   string
}

// NewEventPublisher creates a new event publisher. origin identifies this terminal.
func NewEventPublisher(producer *Producer, origin string) *EventPublisher {
	return &EventPublisher{producer: producer, origin: origin}
}

// PublishChange publishes a change notification for one document
func (ep *EventPublisher) PublishChange(ctx context.Context, eventType, collection, documentID string) error {
	event := models.ChangeEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.NewString(),
			EventType: eventType,
			Timestamp: time.Now().UTC(),
			Origin:    ep.origin,
		},
		Collection: collection,
		DocumentID: documentID,
	}

	key := fmt.Sprintf("%s-%s", collection, documentID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// DecodeChange parses a change notification
func DecodeChange(msg kafka.Message) (models.ChangeEvent, error) {
	var event models.ChangeEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return models.ChangeEvent{}, fmt.Errorf("failed to unmarshal change event: %w", err)
	}

	switch event.EventType {
	case models.EventTypeSaleCreated, models.EventTypeSaleUpdated,
		models.EventTypeSaleDeleted, models.EventTypeStockSet:
	default:
		return models.ChangeEvent{}, fmt.Errorf("unknown event type %q", event.EventType)
	}
	return event, nil
}
