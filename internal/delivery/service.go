package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/time/rate"

	"github.com/catalog-importer/internal/config"
	apperrors "github.com/catalog-importer/internal/errors"
	"github.com/catalog-importer/internal/logging"
	"github.com/catalog-importer/internal/metrics"
	"github.com/catalog-importer/internal/models"
	"github.com/catalog-importer/internal/queue"
)

// WebhookStore is the slice of the webhook repository the service needs.
type WebhookStore interface {
	GetByID(ctx context.Context, id int64) (*models.Webhook, error)
	ListEnabledForEvent(ctx context.Context, eventType models.EventType) ([]*models.Webhook, error)
}

// LogStore persists delivery logs.
type LogStore interface {
	Create(ctx context.Context, l *models.WebhookLog) error
	GetByID(ctx context.Context, id int64) (*models.WebhookLog, error)
	Update(ctx context.Context, l *models.WebhookLog) error
	ListByWebhook(ctx context.Context, webhookID int64, limit int) ([]*models.WebhookLog, error)
}

// TaskQueue schedules delivery tasks, immediately or after a delay.
type TaskQueue interface {
	Enqueue(ctx context.Context, task *queue.Task) error
	EnqueueAt(ctx context.Context, task *queue.Task, notBefore time.Time) error
}

// Service fans events out to subscribed webhooks and executes delivery
// attempts. Attempts for one delivery are strictly sequential: each attempt
// schedules at most one successor task, so no two attempts for the same log
// can ever run concurrently.
type Service struct {
	webhooks    WebhookStore
	logs        LogStore
	queue       TaskQueue
	sender      *Sender
	limiter     *rate.Limiter
	maxAttempts int
	retryDelays []time.Duration
	logger      *logging.Logger
}

// NewService wires the delivery subsystem from config.
func NewService(cfg *config.WebhookConfig, webhooks WebhookStore, logs LogStore, q TaskQueue, logger *logging.Logger) *Service {
	rps := cfg.OutboundRPS
	if rps <= 0 {
		rps = 50
	}
	return &Service{
		webhooks:    webhooks,
		logs:        logs,
		queue:       q,
		sender:      NewSender(cfg.Timeout),
		limiter:     rate.NewLimiter(rate.Limit(rps), int(rps)),
		maxAttempts: cfg.MaxAttempts,
		retryDelays: cfg.RetryDelays,
		logger:      logger.WithField("component", "delivery"),
	}
}

// Publish fans event out: one durable log row and one queued task per
// subscribed enabled webhook. The payload is marshaled exactly once so every
// attempt signs and sends identical bytes. A failure for one webhook never
// blocks fan-out to the others.
func (s *Service) Publish(ctx context.Context, event *models.Event) error {
	payload, err := event.Marshal()
	if err != nil {
		return err
	}

	webhooks, err := s.webhooks.ListEnabledForEvent(ctx, event.Type)
	if err != nil {
		return fmt.Errorf("failed to list webhooks for %s: %w", event.Type, err)
	}

	var firstErr error
	for _, wh := range webhooks {
		if err := s.enqueueDelivery(ctx, wh, event.Type, payload); err != nil {
			s.logger.WithField("webhook_id", wh.ID).WithError(err).Error("failed to schedule delivery")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Service) enqueueDelivery(ctx context.Context, wh *models.Webhook, eventType models.EventType, payload []byte) error {
	l := &models.WebhookLog{
		WebhookID:   wh.ID,
		EventType:   eventType,
		Payload:     payload,
		Attempt:     1,
		MaxAttempts: s.maxAttempts,
	}
	if err := s.logs.Create(ctx, l); err != nil {
		return fmt.Errorf("failed to create delivery log: %w", err)
	}

	task, err := queue.NewTask(queue.TaskDeliverWebhook, queue.DeliverPayload{LogID: l.ID})
	if err != nil {
		return err
	}
	return s.queue.Enqueue(ctx, task)
}

// Deliver executes one attempt for the delivery identified by logID. The task
// queue is at-least-once, so a redelivered task for an already delivered or
// permanently failed log is a no-op. The webhook row is re-read on every
// attempt: a webhook disabled mid-retry cancels the remaining attempts
// without an outbound call.
func (s *Service) Deliver(ctx context.Context, logID int64) error {
	l, err := s.logs.GetByID(ctx, logID)
	if err != nil {
		return fmt.Errorf("failed to load delivery log %d: %w", logID, err)
	}
	logger := s.logger.WithFields(map[string]interface{}{
		"log_id":     l.ID,
		"webhook_id": l.WebhookID,
		"attempt":    l.Attempt,
	})

	if l.Delivered() || l.Exhausted() {
		logger.Debug("skipping settled delivery")
		return nil
	}

	wh, err := s.webhooks.GetByID(ctx, l.WebhookID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.cancel(ctx, l, "webhook deleted", logger)
		}
		return fmt.Errorf("failed to load webhook %d: %w", l.WebhookID, err)
	}
	if !wh.Enabled {
		return s.cancel(ctx, l, "webhook disabled", logger)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	secret := ""
	if wh.HMACSecret != nil {
		secret = *wh.HMACSecret
	}

	res, sendErr := s.sender.Send(ctx, wh.URL, secret, l.EventType, l.Payload)
	if res != nil {
		metrics.DeliveryLatency.Observe(res.Latency.Seconds())
	}

	if sendErr == nil && res.Success() {
		return s.settleDelivered(ctx, l, res, logger)
	}
	return s.settleFailed(ctx, l, res, sendErr, logger)
}

func (s *Service) settleDelivered(ctx context.Context, l *models.WebhookLog, res *Result, logger *logging.Logger) error {
	now := time.Now().UTC()
	l.StatusCode = &res.StatusCode
	l.ResponseBody = &res.Body
	l.ErrorMessage = nil
	l.NextRetryAt = nil
	l.DeliveredAt = &now

	if err := s.logs.Update(ctx, l); err != nil {
		return fmt.Errorf("failed to persist delivered log %d: %w", l.ID, err)
	}
	metrics.DeliveryAttempts.WithLabelValues("delivered").Inc()
	logger.WithField("status", res.StatusCode).Info("webhook delivered")
	return nil
}

// settleFailed records a failed attempt and, while the retry budget lasts,
// schedules the next attempt through the delayed queue. No goroutine sleeps
// through the backoff; the pending retry survives restarts.
func (s *Service) settleFailed(ctx context.Context, l *models.WebhookLog, res *Result, sendErr error, logger *logging.Logger) error {
	attemptErr := &apperrors.DeliveryError{
		WebhookID: l.WebhookID,
		Attempt:   l.Attempt,
		Message:   "request failed",
		Cause:     sendErr,
	}
	if sendErr != nil {
		attemptErr.Message = sendErr.Error()
	}
	if res != nil {
		attemptErr.StatusCode = res.StatusCode
		l.StatusCode = &res.StatusCode
		l.ResponseBody = &res.Body
	}
	msg := attemptErr.Error()
	l.ErrorMessage = &msg

	if l.Attempt >= l.MaxAttempts {
		l.NextRetryAt = nil
		if err := s.logs.Update(ctx, l); err != nil {
			return fmt.Errorf("failed to persist exhausted log %d: %w", l.ID, err)
		}
		metrics.DeliveryAttempts.WithLabelValues("exhausted").Inc()
		logger.WithError(attemptErr).Warn("delivery permanently failed, retry budget exhausted")
		return nil
	}

	next := time.Now().UTC().Add(s.retryDelay(l.Attempt))
	l.Attempt++
	l.NextRetryAt = &next
	if err := s.logs.Update(ctx, l); err != nil {
		return fmt.Errorf("failed to persist retry state for log %d: %w", l.ID, err)
	}

	task, err := queue.NewTask(queue.TaskDeliverWebhook, queue.DeliverPayload{LogID: l.ID})
	if err != nil {
		return err
	}
	if err := s.queue.EnqueueAt(ctx, task, next); err != nil {
		return fmt.Errorf("failed to schedule retry for log %d: %w", l.ID, err)
	}

	metrics.DeliveryAttempts.WithLabelValues("retried").Inc()
	logger.WithField("next_retry_at", next.Format(time.RFC3339)).WithError(attemptErr).Warn("delivery failed, retry scheduled")
	return nil
}

// cancel settles the delivery as permanently failed without an outbound
// call. Attempt is pinned to the budget so the log reads as exhausted: a
// crash-redelivered task finds it settled and cannot resume it, even after
// the webhook is re-enabled.
func (s *Service) cancel(ctx context.Context, l *models.WebhookLog, reason string, logger *logging.Logger) error {
	l.Attempt = l.MaxAttempts
	l.ErrorMessage = &reason
	l.NextRetryAt = nil
	if err := s.logs.Update(ctx, l); err != nil {
		return fmt.Errorf("failed to persist canceled log %d: %w", l.ID, err)
	}
	metrics.DeliveryAttempts.WithLabelValues("canceled").Inc()
	logger.WithField("reason", reason).Warn("delivery canceled")
	return nil
}

// retryDelay returns the wait after failed attempt number attempt. The
// schedule is clamped to its last entry.
func (s *Service) retryDelay(attempt int) time.Duration {
	if len(s.retryDelays) == 0 {
		return time.Minute
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(s.retryDelays) {
		idx = len(s.retryDelays) - 1
	}
	return s.retryDelays[idx]
}

// TestDelivery sends a synthetic webhook.test event synchronously. It is not
// logged and never retried; the caller gets the raw outcome.
func (s *Service) TestDelivery(ctx context.Context, webhookID int64) (*Result, error) {
	wh, err := s.webhooks.GetByID(ctx, webhookID)
	if err != nil {
		return nil, fmt.Errorf("failed to load webhook %d: %w", webhookID, err)
	}

	event := models.NewEvent(models.EventWebhookTest, models.WebhookTestData{
		Message: "test delivery from catalog importer",
	})
	payload, err := event.Marshal()
	if err != nil {
		return nil, err
	}

	secret := ""
	if wh.HMACSecret != nil {
		secret = *wh.HMACSecret
	}
	return s.sender.Send(ctx, wh.URL, secret, event.Type, payload)
}

// ListLogs returns recent delivery logs for a webhook, newest first.
func (s *Service) ListLogs(ctx context.Context, webhookID int64, limit int) ([]*models.WebhookLog, error) {
	if _, err := s.webhooks.GetByID(ctx, webhookID); err != nil {
		return nil, err
	}
	return s.logs.ListByWebhook(ctx, webhookID, limit)
}
