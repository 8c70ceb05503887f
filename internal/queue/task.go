// Package queue implements the durable task queue shared by import jobs and
// delivery attempts. Tasks live in Redis: a ready list for runnable work, a
// sorted set for work scheduled with a not-before timestamp, and a processing
// list that makes dispatch at-least-once across worker crashes.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskType identifies the unit of work a task carries.
type TaskType string

const (
	TaskImportCSV      TaskType = "import_csv"
	TaskDeleteProducts TaskType = "delete_all_products"
	TaskDeliverWebhook TaskType = "deliver_webhook"
)

// Task is one durable unit of work.
type Task struct {
	ID         string          `json:"id"`
	Type       TaskType        `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`

	// raw is the exact serialized form sitting in the processing list,
	// needed to acknowledge the task.
	raw string
}

// ImportPayload is the payload for import_csv tasks.
type ImportPayload struct {
	JobID    string `json:"job_id"`
	FilePath string `json:"file_path"`
}

// DeletePayload is the payload for delete_all_products tasks.
type DeletePayload struct {
	JobID string `json:"job_id"`
}

// DeliverPayload is the payload for deliver_webhook tasks. One task exists
// per pending attempt of a (event, endpoint) delivery, so attempts for one
// delivery are strictly sequential.
type DeliverPayload struct {
	LogID int64 `json:"log_id"`
}

// NewTask builds a task with a fresh id, marshaling the payload.
func NewTask(taskType TaskType, payload interface{}) (*Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", taskType, err)
	}

	return &Task{
		ID:         uuid.New().String(),
		Type:       taskType,
		Payload:    body,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the task payload into out.
func (t *Task) Decode(out interface{}) error {
	if err := json.Unmarshal(t.Payload, out); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", t.Type, err)
	}
	return nil
}

func (t *Task) encode() (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task %s: %w", t.ID, err)
	}
	return string(b), nil
}

func decodeTask(raw string) (*Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	t.raw = raw
	return &t, nil
}
