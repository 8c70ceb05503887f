package importer

import (
	"context"
	"fmt"
	"os"

	apperrors "github.com/catalog-importer/internal/errors"
	"github.com/catalog-importer/internal/job"
	"github.com/catalog-importer/internal/logging"
	"github.com/catalog-importer/internal/metrics"
	"github.com/catalog-importer/internal/models"
)

// ConfirmationPhrase must be supplied verbatim to authorize a bulk delete.
const ConfirmationPhrase = "DELETE ALL"

// ValidateConfirmation rejects a bulk delete whose confirmation phrase does
// not match exactly. No side effect may occur before this check passes.
func ValidateConfirmation(phrase string) error {
	if phrase != ConfirmationPhrase {
		return &apperrors.ConfirmationError{Expected: ConfirmationPhrase}
	}
	return nil
}

// EventPublisher fans an event out to subscribed webhooks. Publication is
// fire-and-forget from the importer's point of view: a publish failure is
// logged and never fails the job.
type EventPublisher interface {
	Publish(ctx context.Context, event *models.Event) error
}

// Service executes import and bulk-delete jobs pulled off the task queue.
type Service struct {
	products  ProductStore
	jobs      JobStore
	events    EventPublisher
	batchSize int
	logger    *logging.Logger
}

// NewService wires the job runner.
func NewService(products ProductStore, jobs JobStore, events EventPublisher, batchSize int, logger *logging.Logger) *Service {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Service{
		products:  products,
		jobs:      jobs,
		events:    events,
		batchSize: batchSize,
		logger:    logger.WithField("component", "importer"),
	}
}

// RunImport executes one import job end to end. Task delivery is
// at-least-once, so a redelivered job that already reached a terminal state
// is acknowledged without side effects; a job interrupted mid-run cannot be
// resumed (transitions are forward-only) and is marked failed.
func (s *Service) RunImport(ctx context.Context, jobID, filePath string) error {
	logger := s.logger.WithField("job_id", jobID)

	j, err := s.jobs.GetByJobID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load import job %s: %w", jobID, err)
	}
	if j.Status.Terminal() {
		logger.WithField("status", string(j.Status)).Warn("skipping redelivered job in terminal state")
		s.removeUpload(filePath, logger)
		return nil
	}
	if j.Status != job.StatusPending {
		if ferr := j.Fail("interrupted by worker restart"); ferr == nil {
			if uerr := s.jobs.Update(ctx, j); uerr != nil {
				logger.WithError(uerr).Error("failed to persist failed state")
			}
		}
		s.publish(ctx, models.NewEvent(models.EventImportFailed, models.ImportFailedData{
			JobID: jobID, Error: "interrupted by worker restart",
		}), logger)
		s.removeUpload(filePath, logger)
		return nil
	}

	metrics.ImportsStarted.Inc()
	s.publish(ctx, models.NewEvent(models.EventImportStarted, models.ImportStartedData{
		JobID: jobID, Filename: j.Filename,
	}), logger)

	if err := j.Transition(job.StatusUploading); err != nil {
		return err
	}
	if err := s.jobs.Update(ctx, j); err != nil {
		return fmt.Errorf("failed to persist uploading state: %w", err)
	}

	f, err := os.Open(filePath)
	if err != nil {
		cause := apperrors.NewStreamError("open", "failed to open uploaded file", err)
		s.failJob(ctx, j, cause, logger)
		s.finishImport(ctx, j, cause, logger)
		return nil
	}
	defer f.Close()
	defer s.removeUpload(filePath, logger)

	pipeline := NewPipeline(s.products, s.jobs, s.batchSize, s.logger)
	runErr := pipeline.Run(ctx, j, f)

	s.finishImport(ctx, j, runErr, logger)
	return nil
}

// finishImport records metrics and publishes the terminal event.
func (s *Service) finishImport(ctx context.Context, j *job.Job, runErr error, logger *logging.Logger) {
	metrics.RowsProcessed.Add(float64(j.ProcessedRows))
	metrics.RowsApplied.WithLabelValues("inserted").Add(float64(j.ImportedRows))
	metrics.RowsApplied.WithLabelValues("updated").Add(float64(j.UpdatedRows))
	metrics.RowsApplied.WithLabelValues("skipped").Add(float64(j.SkippedRows))

	if runErr != nil {
		metrics.ImportsFinished.WithLabelValues("failed").Inc()
		s.publish(ctx, models.NewEvent(models.EventImportFailed, models.ImportFailedData{
			JobID: j.JobID, Filename: j.Filename, Error: runErr.Error(), ProcessedRows: j.ProcessedRows,
		}), logger)
		return
	}

	metrics.ImportsFinished.WithLabelValues("completed").Inc()
	s.publish(ctx, models.NewEvent(models.EventImportCompleted, models.ImportCompletedData{
		JobID:         j.JobID,
		Filename:      j.Filename,
		TotalRows:     j.TotalRows,
		ProcessedRows: j.ProcessedRows,
		ImportedRows:  j.ImportedRows,
		UpdatedRows:   j.UpdatedRows,
		SkippedRows:   j.SkippedRows,
	}), logger)
}

// RunDelete executes one bulk-delete job. Deletion proceeds in batches so a
// mid-run failure retains its progress, mirroring import durability.
func (s *Service) RunDelete(ctx context.Context, jobID string) error {
	logger := s.logger.WithField("job_id", jobID)

	j, err := s.jobs.GetByJobID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load delete job %s: %w", jobID, err)
	}
	if j.Status.Terminal() {
		logger.WithField("status", string(j.Status)).Warn("skipping redelivered job in terminal state")
		return nil
	}
	if j.Status != job.StatusPending {
		if ferr := j.Fail("interrupted by worker restart"); ferr == nil {
			if uerr := s.jobs.Update(ctx, j); uerr != nil {
				logger.WithError(uerr).Error("failed to persist failed state")
			}
		}
		return nil
	}

	if err := j.Transition(job.StatusDeleting); err != nil {
		return err
	}

	total, err := s.products.Count(ctx)
	if err != nil {
		s.failJob(ctx, j, fmt.Errorf("failed to count products: %w", err), logger)
		return nil
	}
	j.SetTotal(int(total))
	if err := s.jobs.Update(ctx, j); err != nil {
		return fmt.Errorf("failed to persist deleting state: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			s.failJob(ctx, j, fmt.Errorf("delete canceled: %w", err), logger)
			return nil
		}

		n, err := s.products.DeleteBatch(ctx, s.batchSize)
		if err != nil {
			s.failJob(ctx, j, fmt.Errorf("delete batch failed: %w", err), logger)
			return nil
		}
		if n == 0 {
			break
		}

		j.RecordDeleted(int(n))
		if err := s.jobs.Update(ctx, j); err != nil {
			return fmt.Errorf("failed to persist delete progress: %w", err)
		}
	}

	if err := j.Complete(); err != nil {
		return err
	}
	if err := s.jobs.Update(ctx, j); err != nil {
		return fmt.Errorf("failed to persist completed state: %w", err)
	}

	s.publish(ctx, models.NewEvent(models.EventProductDeleted, models.ProductDeletedData{
		JobID: jobID, Deleted: j.ProcessedRows,
	}), logger)
	logger.WithField("deleted", j.ProcessedRows).Info("bulk delete completed")
	return nil
}

func (s *Service) failJob(ctx context.Context, j *job.Job, cause error, logger *logging.Logger) {
	if ferr := j.Fail(cause.Error()); ferr != nil {
		logger.WithError(ferr).Error("could not mark job failed")
		return
	}
	if uerr := s.jobs.Update(ctx, j); uerr != nil {
		logger.WithError(uerr).Error("failed to persist failed state")
	}
	logger.WithError(cause).Error("job failed")
}

func (s *Service) publish(ctx context.Context, event *models.Event, logger *logging.Logger) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		logger.WithField("event", string(event.Type)).WithError(err).Warn("event publish failed")
	}
}

func (s *Service) removeUpload(path string, logger *logging.Logger) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.WithField("path", path).WithError(err).Warn("failed to remove uploaded file")
	}
}
