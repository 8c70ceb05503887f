package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/catalog-importer/internal/models"
	"github.com/jackc/pgx/v5"
)

// WebhookRepository reads webhook endpoint configurations. Webhook CRUD is
// owned by an external surface; the delivery subsystem only needs enabled
// endpoints matching an event type, plus lookups for test deliveries.
type WebhookRepository struct {
	db *PostgresDB
}

// NewWebhookRepository creates a new webhook repository
func NewWebhookRepository(db *PostgresDB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

const webhookColumns = `id, name, url, events, hmac_secret, enabled, created_at, updated_at`

func scanWebhook(row pgx.Row) (*models.Webhook, error) {
	var w models.Webhook
	err := row.Scan(
		&w.ID,
		&w.Name,
		&w.URL,
		&w.Events,
		&w.HMACSecret,
		&w.Enabled,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetByID retrieves a webhook by id
func (r *WebhookRepository) GetByID(ctx context.Context, id int64) (*models.Webhook, error) {
	query := fmt.Sprintf(`SELECT %s FROM webhooks WHERE id = $1`, webhookColumns)

	w, err := scanWebhook(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("webhook %d: %w", id, pgx.ErrNoRows)
		}
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}

	return w, nil
}

// ListEnabledForEvent retrieves enabled webhooks subscribed to the event
// type. Subscription matching happens in SQL against the comma separated
// events column; tokens are trimmed the same way Webhook.EventTypes trims
// them, so "a, b" subscribes to both.
func (r *WebhookRepository) ListEnabledForEvent(ctx context.Context, eventType models.EventType) ([]*models.Webhook, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM webhooks
		WHERE enabled = true
		  AND EXISTS (
			SELECT 1 FROM unnest(string_to_array(events, ',')) AS t
			WHERE btrim(t) = $1
		  )
		ORDER BY id
	`, webhookColumns)

	rows, err := r.db.Pool().Query(ctx, query, string(eventType))
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks for event %s: %w", eventType, err)
	}
	defer rows.Close()

	var webhooks []*models.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		webhooks = append(webhooks, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhooks: %w", err)
	}

	return webhooks, nil
}
