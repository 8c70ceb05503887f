package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/catalog-importer/internal/models"
)

const (
	headerEvent     = "X-Webhook-Event"
	headerSignature = "X-Webhook-Signature"
	userAgent       = "catalog-importer-webhooks/1.0"

	// maxResponseBody bounds how much of the receiver's response is retained
	// for the delivery log.
	maxResponseBody = 2048
)

// Result is the outcome of one completed HTTP exchange. A transport failure
// (timeout, refused connection) yields an error instead of a Result.
type Result struct {
	StatusCode int
	Body       string
	Latency    time.Duration
}

// Success reports whether the receiver acknowledged with a 2xx status.
func (r *Result) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Sender performs one webhook HTTP request per call. It holds no retry
// logic; retries are scheduled by the Service through the task queue.
type Sender struct {
	client *http.Client
}

// NewSender creates a sender whose requests are bounded by timeout.
func NewSender(timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Sender{client: &http.Client{Timeout: timeout}}
}

// Send posts payload to url. The signature covers the exact payload bytes and
// is omitted when the webhook has no secret.
func (s *Sender) Send(ctx context.Context, url, secret string, eventType models.EventType, payload []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(headerEvent, string(eventType))
	if secret != "" {
		req.Header.Set(headerSignature, SignatureHeader(secret, payload))
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	return &Result{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		Latency:    time.Since(start),
	}, nil
}
