package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/catalog-importer/internal/models"
	"github.com/jackc/pgx/v5"
)

// WebhookLogRepository handles delivery attempt log persistence. A log row
// is created when an event is enqueued for an endpoint, mutated by the
// delivery queue on each attempt, and never deleted.
type WebhookLogRepository struct {
	db *PostgresDB
}

// NewWebhookLogRepository creates a new webhook log repository
func NewWebhookLogRepository(db *PostgresDB) *WebhookLogRepository {
	return &WebhookLogRepository{db: db}
}

// Create creates a delivery log row at attempt 1
func (r *WebhookLogRepository) Create(ctx context.Context, l *models.WebhookLog) error {
	query := `
		INSERT INTO webhook_logs (
			webhook_id, event_type, payload, status_code, response_body,
			error_message, attempt, max_attempts, next_retry_at, delivered_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	err := r.db.Pool().QueryRow(ctx, query,
		l.WebhookID,
		l.EventType,
		l.Payload,
		l.StatusCode,
		l.ResponseBody,
		l.ErrorMessage,
		l.Attempt,
		l.MaxAttempts,
		l.NextRetryAt,
		l.DeliveredAt,
		l.CreatedAt,
	).Scan(&l.ID)

	if err != nil {
		return fmt.Errorf("failed to create webhook log: %w", err)
	}

	return nil
}

// GetByID retrieves a delivery log by id
func (r *WebhookLogRepository) GetByID(ctx context.Context, id int64) (*models.WebhookLog, error) {
	query := `
		SELECT id, webhook_id, event_type, payload, status_code, response_body,
		       error_message, attempt, max_attempts, next_retry_at, delivered_at, created_at
		FROM webhook_logs
		WHERE id = $1
	`

	l, err := scanWebhookLog(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("webhook log %d: %w", id, pgx.ErrNoRows)
		}
		return nil, fmt.Errorf("failed to get webhook log: %w", err)
	}

	return l, nil
}

// Update persists the outcome of one attempt. Delivered rows are immutable:
// the update is refused once delivered_at is set.
func (r *WebhookLogRepository) Update(ctx context.Context, l *models.WebhookLog) error {
	query := `
		UPDATE webhook_logs
		SET status_code = $2, response_body = $3, error_message = $4,
		    attempt = $5, next_retry_at = $6, delivered_at = $7
		WHERE id = $1 AND delivered_at IS NULL
	`

	tag, err := r.db.Pool().Exec(ctx, query,
		l.ID,
		l.StatusCode,
		l.ResponseBody,
		l.ErrorMessage,
		l.Attempt,
		l.NextRetryAt,
		l.DeliveredAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update webhook log: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("webhook log not found or already delivered: %d", l.ID)
	}

	return nil
}

// ListByWebhook retrieves delivery logs for an endpoint, newest first.
func (r *WebhookLogRepository) ListByWebhook(ctx context.Context, webhookID int64, limit int) ([]*models.WebhookLog, error) {
	query := `
		SELECT id, webhook_id, event_type, payload, status_code, response_body,
		       error_message, attempt, max_attempts, next_retry_at, delivered_at, created_at
		FROM webhook_logs
		WHERE webhook_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.WebhookLog
	for rows.Next() {
		l, err := scanWebhookLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook log: %w", err)
		}
		logs = append(logs, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook logs: %w", err)
	}

	return logs, nil
}

func scanWebhookLog(row pgx.Row) (*models.WebhookLog, error) {
	var l models.WebhookLog
	err := row.Scan(
		&l.ID,
		&l.WebhookID,
		&l.EventType,
		&l.Payload,
		&l.StatusCode,
		&l.ResponseBody,
		&l.ErrorMessage,
		&l.Attempt,
		&l.MaxAttempts,
		&l.NextRetryAt,
		&l.DeliveredAt,
		&l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
