package api

import (
	"context"
	"net/http"

	apperrors "github.com/catalog-importer/internal/errors"
	"github.com/catalog-importer/internal/importer"
	"github.com/catalog-importer/internal/job"
	"github.com/catalog-importer/internal/queue"
)

// handleDeleteAll schedules removal of the entire catalog. The typed
// confirmation phrase is checked before any state is created; a mismatch has
// zero side effects.
func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	confirmation := r.URL.Query().Get("confirmation")
	if confirmation == "" {
		var body struct {
			Confirmation string `json:"confirmation"`
		}
		if err := parseJSONBody(r, &body); err == nil {
			confirmation = body.Confirmation
		}
	}

	if err := importer.ValidateConfirmation(confirmation); apperrors.IsConfirmation(err) {
		respondError(w, http.StatusBadRequest, ErrCodeConfirmationRequired, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), clientTimeout)
	defer cancel()

	j := job.New(job.KindDeleteAll, "", 0)
	if err := s.jobs.Create(ctx, j); err != nil {
		s.logger.WithError(err).Error("failed to create delete job")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to create delete job")
		return
	}

	task, err := queue.NewTask(queue.TaskDeleteProducts, queue.DeletePayload{JobID: j.JobID})
	if err == nil {
		err = s.tasks.Enqueue(ctx, task)
	}
	if err != nil {
		s.logger.WithField("job_id", j.JobID).WithError(err).Error("failed to enqueue delete task")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to schedule delete")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": j.JobID,
		"status": string(j.Status),
	})
}
