// Package job implements the persisted state machine for long-running units
// of work (CSV imports and bulk deletes). It is pure data plus transition
// rules; persistence lives in the storage package and all mutation happens on
// the single worker that owns the job.
package job

import (
	"fmt"
	"time"

	"github.com/catalog-importer/internal/models"
	"github.com/google/uuid"
)

// Kind distinguishes the job variants.
type Kind string

const (
	KindImport    Kind = "import"
	KindDeleteAll Kind = "delete_all"
)

// Status is the job lifecycle state. Transitions are strictly forward; no
// state is ever re-entered.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusParsing   Status = "parsing"
	StatusImporting Status = "importing"
	StatusDeleting  Status = "deleting"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// transitions maps each status to the states reachable from it. Failed is
// reachable from every non-terminal state and is handled in Fail.
var transitions = map[Status][]Status{
	StatusPending:   {StatusUploading, StatusDeleting},
	StatusUploading: {StatusParsing},
	StatusParsing:   {StatusImporting},
	StatusImporting: {StatusCompleted},
	StatusDeleting:  {StatusCompleted},
}

// MaxErrorSamples is the default cap on retained row-error samples. Counters
// stay exact even after samples are dropped.
const MaxErrorSamples = 100

// RowError is one retained validation failure sample.
type RowError struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// Job tracks progress of an import or bulk-delete run. Created at intake
// acceptance, mutated only by the owning worker, never deleted automatically.
type Job struct {
	ID         int64  `json:"-" db:"id"`
	JobID      string `json:"job_id" db:"job_id"`
	Kind       Kind   `json:"kind" db:"kind"`
	Filename   string `json:"filename" db:"filename"`
	FileSize   int64  `json:"file_size" db:"file_size"`
	Status     Status `json:"status" db:"status"`

	TotalRows     int `json:"total_rows" db:"total_rows"`
	ProcessedRows int `json:"processed_rows" db:"processed_rows"`
	ImportedRows  int `json:"imported_rows" db:"imported_rows"`
	UpdatedRows   int `json:"updated_rows" db:"updated_rows"`
	SkippedRows   int `json:"skipped_rows" db:"skipped_rows"`

	Errors       []RowError `json:"errors" db:"error_log"`
	ErrorMessage *string    `json:"error_message,omitempty" db:"error_message"`

	maxSamples int

	StartedAt  *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// New creates a pending job with a fresh id.
func New(kind Kind, filename string, fileSize int64) *Job {
	now := time.Now().UTC()
	return &Job{
		JobID:      uuid.New().String(),
		Kind:       kind,
		Filename:   filename,
		FileSize:   fileSize,
		Status:     StatusPending,
		Errors:     []RowError{},
		maxSamples: MaxErrorSamples,
		CreatedAt:  now,
	}
}

// SetMaxErrorSamples overrides the error-sample cap. Zero or negative keeps
// the default.
func (j *Job) SetMaxErrorSamples(n int) {
	if n > 0 {
		j.maxSamples = n
	}
}

// Transition moves the job to the given non-failed state, enforcing the
// forward-only transition table.
func (j *Job) Transition(to Status) error {
	if to == StatusFailed {
		return fmt.Errorf("use Fail to transition to failed")
	}
	if j.Status.Terminal() {
		return fmt.Errorf("job %s is terminal (%s), cannot transition to %s", j.JobID, j.Status, to)
	}
	for _, allowed := range transitions[j.Status] {
		if allowed == to {
			if j.StartedAt == nil && j.Status == StatusPending {
				now := time.Now().UTC()
				j.StartedAt = &now
			}
			j.Status = to
			if to.Terminal() {
				j.finalize()
			}
			return nil
		}
	}
	return fmt.Errorf("invalid transition for %s job %s: %s -> %s", j.Kind, j.JobID, j.Status, to)
}

// Fail moves the job to the terminal failed state. The message must be
// non-empty; failed jobs always carry one.
func (j *Job) Fail(message string) error {
	if message == "" {
		return fmt.Errorf("failed status requires a non-empty error message")
	}
	if j.Status.Terminal() {
		return fmt.Errorf("job %s is terminal (%s), cannot fail", j.JobID, j.Status)
	}
	j.Status = StatusFailed
	j.ErrorMessage = &message
	j.finalize()
	return nil
}

// Complete moves the job to the terminal completed state.
func (j *Job) Complete() error {
	switch j.Status {
	case StatusImporting, StatusDeleting:
		j.Status = StatusCompleted
		j.finalize()
		return nil
	default:
		return fmt.Errorf("invalid transition for %s job %s: %s -> %s", j.Kind, j.JobID, j.Status, StatusCompleted)
	}
}

// finalize stamps the finish time and pins the total so processed can never
// exceed a finalized total. Until this point the total is provisional.
func (j *Job) finalize() {
	now := time.Now().UTC()
	j.FinishedAt = &now
	if j.TotalRows < j.ProcessedRows {
		j.TotalRows = j.ProcessedRows
	}
}

// SetTotal records an upfront total where one is known (bulk deletes know
// the row count before the first batch).
func (j *Job) SetTotal(n int) {
	if n > j.TotalRows {
		j.TotalRows = n
	}
}

// RecordBatch folds one applied batch into the counters. processed covers
// every row consumed for the batch, including rows skipped by validation or
// superseded inside the batch. Counters only ever increase.
func (j *Job) RecordBatch(processed, skipped int, res models.UpsertResult) {
	j.ProcessedRows += processed
	j.ImportedRows += res.Inserted
	j.UpdatedRows += res.Updated
	j.SkippedRows += skipped + res.Superseded
}

// RecordDeleted folds one delete batch into the processed counter.
func (j *Job) RecordDeleted(n int) {
	if n > 0 {
		j.ProcessedRows += n
	}
}

// RecordRowError retains a bounded sample of one row-level failure. The
// skipped counter is advanced by RecordBatch, not here, so samples past the
// cap never skew accounting.
func (j *Job) RecordRowError(line int, reason string) {
	limit := j.maxSamples
	if limit <= 0 {
		limit = MaxErrorSamples
	}
	if len(j.Errors) >= limit {
		return
	}
	j.Errors = append(j.Errors, RowError{Line: line, Error: reason})
}

// SampleCount returns the number of retained error samples.
func (j *Job) SampleCount() int { return len(j.Errors) }
