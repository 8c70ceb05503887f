package models

import "time"

// WebhookLog records one logical delivery of an event to a webhook, across
// all of its attempts. Attempt never exceeds MaxAttempts; once DeliveredAt
// is set the row is immutable.
type WebhookLog struct {
	ID           int64      `json:"id" db:"id"`
	WebhookID    int64      `json:"webhookId" db:"webhook_id"`
	EventType    EventType  `json:"eventType" db:"event_type"`
	Payload      []byte     `json:"payload" db:"payload"` // exact bytes that get signed and sent
	StatusCode   *int       `json:"statusCode,omitempty" db:"status_code"`
	ResponseBody *string    `json:"responseBody,omitempty" db:"response_body"`
	ErrorMessage *string    `json:"errorMessage,omitempty" db:"error_message"`
	Attempt      int        `json:"attempt" db:"attempt"`
	MaxAttempts  int        `json:"maxAttempts" db:"max_attempts"`
	NextRetryAt  *time.Time `json:"nextRetryAt,omitempty" db:"next_retry_at"`
	DeliveredAt  *time.Time `json:"deliveredAt,omitempty" db:"delivered_at"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
}

// Delivered reports whether the delivery reached a 2xx response.
func (l *WebhookLog) Delivered() bool {
	return l.DeliveredAt != nil
}

// Exhausted reports whether the retry budget is spent without a delivery.
func (l *WebhookLog) Exhausted() bool {
	return !l.Delivered() && l.Attempt >= l.MaxAttempts && l.NextRetryAt == nil && l.ErrorMessage != nil
}
