package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/catalog-importer/internal/job"
	"github.com/jackc/pgx/v5"
)

// ImportJobRepository handles import job persistence. Jobs are mutated only
// by the owning worker; pollers read committed rows, so a status read may lag
// the latest batch but never exposes a half-applied batch.
type ImportJobRepository struct {
	db *PostgresDB
}

// NewImportJobRepository creates a new import job repository
func NewImportJobRepository(db *PostgresDB) *ImportJobRepository {
	return &ImportJobRepository{db: db}
}

// Create creates a new job record
func (r *ImportJobRepository) Create(ctx context.Context, j *job.Job) error {
	errorLog, err := json.Marshal(j.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal error samples: %w", err)
	}

	query := `
		INSERT INTO imports (
			job_id, kind, filename, file_size, status,
			total_rows, processed_rows, imported_rows, updated_rows, skipped_rows,
			error_log, error_message, started_at, finished_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`

	err = r.db.Pool().QueryRow(ctx, query,
		j.JobID,
		j.Kind,
		j.Filename,
		j.FileSize,
		j.Status,
		j.TotalRows,
		j.ProcessedRows,
		j.ImportedRows,
		j.UpdatedRows,
		j.SkippedRows,
		errorLog,
		j.ErrorMessage,
		j.StartedAt,
		j.FinishedAt,
		j.CreatedAt,
	).Scan(&j.ID)

	if err != nil {
		return fmt.Errorf("failed to create import job: %w", err)
	}

	return nil
}

// GetByJobID retrieves a job by its public id
func (r *ImportJobRepository) GetByJobID(ctx context.Context, jobID string) (*job.Job, error) {
	query := `
		SELECT id, job_id, kind, filename, file_size, status,
		       total_rows, processed_rows, imported_rows, updated_rows, skipped_rows,
		       error_log, error_message, started_at, finished_at, created_at
		FROM imports
		WHERE job_id = $1
	`

	var j job.Job
	var errorLog []byte

	err := r.db.Pool().QueryRow(ctx, query, jobID).Scan(
		&j.ID,
		&j.JobID,
		&j.Kind,
		&j.Filename,
		&j.FileSize,
		&j.Status,
		&j.TotalRows,
		&j.ProcessedRows,
		&j.ImportedRows,
		&j.UpdatedRows,
		&j.SkippedRows,
		&errorLog,
		&j.ErrorMessage,
		&j.StartedAt,
		&j.FinishedAt,
		&j.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("import job %s: %w", jobID, pgx.ErrNoRows)
		}
		return nil, fmt.Errorf("failed to get import job: %w", err)
	}

	if len(errorLog) > 0 {
		if err := json.Unmarshal(errorLog, &j.Errors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error samples: %w", err)
		}
	}
	if j.Errors == nil {
		j.Errors = []job.RowError{}
	}

	return &j, nil
}

// Update persists the job's current state. Called once per applied batch and
// on every status transition, never per row.
func (r *ImportJobRepository) Update(ctx context.Context, j *job.Job) error {
	errorLog, err := json.Marshal(j.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal error samples: %w", err)
	}

	query := `
		UPDATE imports
		SET status = $2, total_rows = $3, processed_rows = $4, imported_rows = $5,
		    updated_rows = $6, skipped_rows = $7, error_log = $8, error_message = $9,
		    started_at = $10, finished_at = $11
		WHERE job_id = $1
	`

	tag, err := r.db.Pool().Exec(ctx, query,
		j.JobID,
		j.Status,
		j.TotalRows,
		j.ProcessedRows,
		j.ImportedRows,
		j.UpdatedRows,
		j.SkippedRows,
		errorLog,
		j.ErrorMessage,
		j.StartedAt,
		j.FinishedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update import job: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("import job not found: %s", j.JobID)
	}

	return nil
}
