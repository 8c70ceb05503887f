package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"

	"github.com/catalog-importer/internal/job"
	"github.com/catalog-importer/internal/queue"
)

// handleCreateImport accepts a multipart CSV upload, persists it to the
// upload directory without buffering the whole file, creates a pending job,
// and enqueues the import task. The response is 202 with the job id; all
// parsing happens on a worker.
func (s *Server) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Import.MaxUploadSize)

	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "expected multipart/form-data with a file field")
		return
	}

	var filename string
	var size int64
	var savedPath string

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.removeSaved(savedPath)
			if isBodyTooLarge(err) {
				respondError(w, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "upload exceeds the size limit")
				return
			}
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "malformed multipart body")
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		filename = filepath.Base(part.FileName())
		if !strings.EqualFold(filepath.Ext(filename), ".csv") {
			part.Close()
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "only .csv files are accepted")
			return
		}

		savedPath, size, err = s.saveUpload(part)
		part.Close()
		if err != nil {
			s.removeSaved(savedPath)
			if isBodyTooLarge(err) {
				respondError(w, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "upload exceeds the size limit")
				return
			}
			s.logger.WithError(err).Error("failed to save upload")
			respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to store uploaded file")
			return
		}
		break
	}

	if savedPath == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "missing file field")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), clientTimeout)
	defer cancel()

	j := job.New(job.KindImport, filename, size)
	j.SetMaxErrorSamples(s.config.Import.MaxErrorSamples)
	if err := s.jobs.Create(ctx, j); err != nil {
		s.removeSaved(savedPath)
		s.logger.WithError(err).Error("failed to create import job")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to create import job")
		return
	}

	task, err := queue.NewTask(queue.TaskImportCSV, queue.ImportPayload{JobID: j.JobID, FilePath: savedPath})
	if err == nil {
		err = s.tasks.Enqueue(ctx, task)
	}
	if err != nil {
		s.removeSaved(savedPath)
		s.logger.WithField("job_id", j.JobID).WithError(err).Error("failed to enqueue import task")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to schedule import")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":   j.JobID,
		"status":   string(j.Status),
		"filename": filename,
	})
}

// saveUpload streams the part to a fresh file under the upload directory.
func (s *Server) saveUpload(part io.Reader) (string, int64, error) {
	dir := s.config.Import.UploadDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create upload directory: %w", err)
	}

	path := filepath.Join(dir, uuid.New().String()+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create upload file: %w", err)
	}

	size, err := io.Copy(f, part)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return path, size, fmt.Errorf("failed to write upload file: %w", err)
	}
	return path, size, nil
}

func (s *Server) removeSaved(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.WithField("path", path).WithError(err).Warn("failed to remove upload")
	}
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// handleImportStatus returns the live progress snapshot for one job.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	if _, err := uuid.Parse(jobID); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "job_id must be a UUID")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), clientTimeout)
	defer cancel()

	j, err := s.jobs.GetByJobID(ctx, jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "import job not found")
			return
		}
		s.logger.WithField("job_id", jobID).WithError(err).Error("failed to load import job")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to load import job")
		return
	}

	respondJSON(w, http.StatusOK, j)
}
