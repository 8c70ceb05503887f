package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	apperrors "github.com/catalog-importer/internal/errors"
	"github.com/catalog-importer/internal/job"
	"github.com/catalog-importer/internal/logging"
	"github.com/catalog-importer/internal/metrics"
	"github.com/catalog-importer/internal/models"
)

// ProductStore is the slice of the product repository the pipeline needs.
type ProductStore interface {
	UpsertBatch(ctx context.Context, products []*models.Product) (models.UpsertResult, error)
	Count(ctx context.Context) (int64, error)
	DeleteBatch(ctx context.Context, limit int) (int64, error)
}

// JobStore persists job progress. The pipeline writes once per batch and once
// per state transition, never per row.
type JobStore interface {
	GetByJobID(ctx context.Context, jobID string) (*job.Job, error)
	Update(ctx context.Context, j *job.Job) error
}

// Pipeline streams records into the store in bounded batches.
type Pipeline struct {
	products  ProductStore
	jobs      JobStore
	batchSize int
	logger    *logging.Logger
}

// NewPipeline creates a pipeline. batchSize bounds both memory and the unit
// of durability: a mid-stream failure retains every batch applied before it.
func NewPipeline(products ProductStore, jobs JobStore, batchSize int, logger *logging.Logger) *Pipeline {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Pipeline{
		products:  products,
		jobs:      jobs,
		batchSize: batchSize,
		logger:    logger.WithField("component", "pipeline"),
	}
}

// Run consumes the stream for j, which must be in the uploading state. On
// return j is terminal and persisted; the returned error is the fatal cause,
// nil on completion.
func (p *Pipeline) Run(ctx context.Context, j *job.Job, r io.Reader) error {
	logger := p.logger.WithField("job_id", j.JobID)

	if err := j.Transition(job.StatusParsing); err != nil {
		return err
	}
	if err := p.jobs.Update(ctx, j); err != nil {
		return fmt.Errorf("failed to persist parsing state: %w", err)
	}

	reader, err := NewReader(r)
	if err != nil {
		return p.fail(ctx, j, err)
	}

	if err := j.Transition(job.StatusImporting); err != nil {
		return err
	}
	if err := p.jobs.Update(ctx, j); err != nil {
		return fmt.Errorf("failed to persist importing state: %w", err)
	}

	batch := make([]*models.Product, 0, p.batchSize)
	pendingProcessed := 0
	pendingSkipped := 0
	batchOffset := 0 // row number of the first row folded into the pending batch

	for {
		if err := ctx.Err(); err != nil {
			return p.fail(ctx, j, apperrors.NewStreamError("decode", "import canceled", err))
		}

		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return p.fail(ctx, j, err)
		}

		if batchOffset == 0 {
			batchOffset = rec.Line
		}
		pendingProcessed++
		j.SetTotal(j.ProcessedRows + pendingProcessed)

		product, verr := ValidateRow(rec)
		if verr != nil {
			var ve *apperrors.ValidationError
			if errors.As(verr, &ve) {
				j.RecordRowError(ve.Line, ve.Reason)
			}
			pendingSkipped++
			continue
		}
		batch = append(batch, product)

		if len(batch) >= p.batchSize {
			if err := p.flush(ctx, j, batch, pendingProcessed, pendingSkipped, batchOffset); err != nil {
				return p.fail(ctx, j, err)
			}
			batch = batch[:0]
			pendingProcessed, pendingSkipped, batchOffset = 0, 0, 0
		}
	}

	if pendingProcessed > 0 {
		if err := p.flush(ctx, j, batch, pendingProcessed, pendingSkipped, batchOffset); err != nil {
			return p.fail(ctx, j, err)
		}
	}

	if err := j.Complete(); err != nil {
		return err
	}
	if err := p.jobs.Update(ctx, j); err != nil {
		return fmt.Errorf("failed to persist completed state: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"processed": j.ProcessedRows,
		"imported":  j.ImportedRows,
		"updated":   j.UpdatedRows,
		"skipped":   j.SkippedRows,
	}).Info("import completed")
	return nil
}

// flush applies one batch and persists the counters it produced. An empty
// batch still records rows consumed by validation failures.
func (p *Pipeline) flush(ctx context.Context, j *job.Job, batch []*models.Product, processed, skipped, offset int) error {
	var res models.UpsertResult
	if len(batch) > 0 {
		start := time.Now()
		var err error
		res, err = p.products.UpsertBatch(ctx, batch)
		if err != nil {
			return apperrors.NewConflictError(offset, err)
		}
		metrics.BatchDuration.Observe(time.Since(start).Seconds())
	}

	j.RecordBatch(processed, skipped, res)
	if err := p.jobs.Update(ctx, j); err != nil {
		return fmt.Errorf("failed to persist batch progress: %w", err)
	}

	p.logger.WithFields(map[string]interface{}{
		"job_id":    j.JobID,
		"processed": j.ProcessedRows,
		"inserted":  res.Inserted,
		"updated":   res.Updated,
	}).Debug("batch applied")
	return nil
}

// fail moves j to failed with the error as its message and persists it. The
// original error is returned for the caller's accounting.
func (p *Pipeline) fail(ctx context.Context, j *job.Job, cause error) error {
	if ferr := j.Fail(cause.Error()); ferr != nil {
		p.logger.WithField("job_id", j.JobID).WithError(ferr).Error("could not mark job failed")
		return cause
	}
	if uerr := p.jobs.Update(ctx, j); uerr != nil {
		p.logger.WithField("job_id", j.JobID).WithError(uerr).Error("failed to persist failed state")
	}
	p.logger.WithField("job_id", j.JobID).WithError(cause).Error("import failed")
	return cause
}
