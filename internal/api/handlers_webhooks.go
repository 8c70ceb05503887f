package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 200
)

// handleWebhookLogs returns recent delivery logs for one webhook, newest
// first.
func (s *Server) handleWebhookLogs(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "webhook id must be an integer")
		return
	}

	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be a positive integer")
			return
		}
		if limit > maxLogLimit {
			limit = maxLogLimit
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), clientTimeout)
	defer cancel()

	logs, err := s.webhooks.ListLogs(ctx, id, limit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "webhook not found")
			return
		}
		s.logger.WithField("webhook_id", id).WithError(err).Error("failed to list delivery logs")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to list delivery logs")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"webhook_id": id,
		"logs":       logs,
	})
}

// handleTestWebhook fires a synchronous test delivery and relays the
// receiver's response. Test deliveries are never logged or retried.
func (s *Server) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "webhook id must be an integer")
		return
	}

	// The outbound request has its own timeout; allow for it on top of the
	// storage read.
	ctx, cancel := context.WithTimeout(r.Context(), clientTimeout+s.config.Webhook.Timeout)
	defer cancel()

	res, err := s.webhooks.TestDelivery(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "webhook not found")
			return
		}
		respondError(w, http.StatusBadGateway, ErrCodeUpstreamError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status_code": res.StatusCode,
		"success":     res.Success(),
		"latency_ms":  res.Latency.Milliseconds(),
		"body":        res.Body,
	})
}
