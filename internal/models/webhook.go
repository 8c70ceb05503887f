package models

import (
	"strings"
	"time"
)

// Webhook is an outbound endpoint configuration. CRUD for webhooks is
// collaborator plumbing; the delivery subsystem only reads enabled rows
// whose subscriptions match an event type.
type Webhook struct {
	ID         int64     `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	URL        string    `json:"url" db:"url"`
	Events     string    `json:"-" db:"events"` // comma separated event types
	HMACSecret *string   `json:"hmacSecret,omitempty" db:"hmac_secret"`
	Enabled    bool      `json:"enabled" db:"enabled"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updated_at"`
}

// EventTypes returns the subscribed event types as a slice.
func (w *Webhook) EventTypes() []string {
	if w.Events == "" {
		return nil
	}
	parts := strings.Split(w.Events, ",")
	types := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			types = append(types, p)
		}
	}
	return types
}

// SubscribedTo reports whether the webhook subscribes to the given event type.
func (w *Webhook) SubscribedTo(eventType EventType) bool {
	for _, t := range w.EventTypes() {
		if t == string(eventType) {
			return true
		}
	}
	return false
}
