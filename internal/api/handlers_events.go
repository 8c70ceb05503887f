package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/catalog-importer/internal/models"
)

// handleIngestEvent accepts an externally produced event and fans it out to
// subscribed webhooks. Fan-out creates durable delivery logs synchronously;
// the outbound requests themselves run on workers.
func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EventType string          `json:"event_type"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := parseJSONBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "malformed JSON body")
		return
	}
	if body.EventType == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "event_type is required")
		return
	}

	event, err := models.NewRawEvent(models.EventType(body.EventType), body.Payload)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), clientTimeout)
	defer cancel()

	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithField("event_type", body.EventType).WithError(err).Error("event fan-out failed")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to schedule deliveries")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"event_type": body.EventType,
		"status":     "queued",
	})
}
