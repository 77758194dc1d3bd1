package models

import "time"

// Event types
const (
	EventTypeSaleCreated = "SALE_CREATED"
	EventTypeSaleUpdated = "SALE_UPDATED"
	EventTypeSaleDeleted = "SALE_DELETED"
	EventTypeStockSet    = "STOCK_SET"
)

// Collections in the remote store
const (
	CollectionProducts = "products"
	CollectionSales    = "sales"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Origin    string    `json:"origin"`
}

// ChangeEvent is published after a remote write succeeds. Subscribers treat
// it as a signal to reload, the payload is not applied directly.
type ChangeEvent struct {
	BaseEvent
	Collection string `json:"collection"`
	DocumentID string `json:"document_id"`
}
