package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies the shape of an event payload. Payloads are modeled
// as one typed variant per event type, not free-form maps.
type EventType string

const (
	EventImportStarted   EventType = "import.started"
	EventImportCompleted EventType = "import.completed"
	EventImportFailed    EventType = "import.failed"
	EventProductCreated  EventType = "product.created"
	EventProductUpdated  EventType = "product.updated"
	EventProductDeleted  EventType = "product.deleted"
	EventWebhookTest     EventType = "webhook.test"
)

// KnownEventType reports whether t is one of the defined event types.
func KnownEventType(t EventType) bool {
	switch t {
	case EventImportStarted, EventImportCompleted, EventImportFailed,
		EventProductCreated, EventProductUpdated, EventProductDeleted,
		EventWebhookTest:
		return true
	}
	return false
}

// Event is an outbound notification. Data holds the variant matching Type.
type Event struct {
	Type      EventType   `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ImportStartedData is the payload for import.started.
type ImportStartedData struct {
	JobID    string `json:"job_id"`
	Filename string `json:"filename"`
}

// ImportCompletedData is the payload for import.completed.
type ImportCompletedData struct {
	JobID         string `json:"job_id"`
	Filename      string `json:"filename"`
	TotalRows     int    `json:"total_rows"`
	ImportedRows  int    `json:"imported_rows"`
	UpdatedRows   int    `json:"updated_rows"`
	SkippedRows   int    `json:"skipped_rows"`
	ProcessedRows int    `json:"processed_rows"`
}

// ImportFailedData is the payload for import.failed.
type ImportFailedData struct {
	JobID         string `json:"job_id"`
	Filename      string `json:"filename,omitempty"`
	Error         string `json:"error"`
	ProcessedRows int    `json:"processed_rows"`
}

// ProductDeletedData is the payload for product.deleted.
type ProductDeletedData struct {
	JobID   string `json:"job_id,omitempty"`
	Deleted int    `json:"deleted"`
}

// WebhookTestData is the payload for webhook.test.
type WebhookTestData struct {
	Message string `json:"message"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(t EventType, data interface{}) *Event {
	return &Event{Type: t, Timestamp: time.Now().UTC(), Data: data}
}

// NewRawEvent builds an event from an externally supplied payload, validating
// the event type. The payload is carried opaque.
func NewRawEvent(t EventType, payload json.RawMessage) (*Event, error) {
	if !KnownEventType(t) {
		return nil, fmt.Errorf("unknown event type: %s", t)
	}
	return &Event{Type: t, Timestamp: time.Now().UTC(), Data: payload}, nil
}

// Marshal renders the event to the exact byte form that is signed and sent.
func (e *Event) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", e.Type, err)
	}
	return b, nil
}
