package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	apperrors "github.com/catalog-importer/internal/errors"
	"github.com/catalog-importer/internal/job"
	"github.com/catalog-importer/internal/logging"
	"github.com/catalog-importer/internal/models"
)

// fakeProductStore mirrors the real store's contract: batches are deduped by
// normalized key keeping the last occurrence, and inserted/updated is decided
// against the rows already applied.
type fakeProductStore struct {
	rows        map[string]*models.Product
	upsertCalls int
	failOnCall  int // 1-based call number that fails, 0 for never
	deleted     int64
}

func newFakeProductStore() *fakeProductStore {
	return &fakeProductStore{rows: make(map[string]*models.Product)}
}

func (f *fakeProductStore) UpsertBatch(_ context.Context, batch []*models.Product) (models.UpsertResult, error) {
	f.upsertCalls++
	if f.failOnCall > 0 && f.upsertCalls == f.failOnCall {
		return models.UpsertResult{}, errors.New("deadlock detected")
	}

	var res models.UpsertResult
	last := make(map[string]*models.Product, len(batch))
	for _, p := range batch {
		if _, seen := last[p.SKUNorm]; seen {
			res.Superseded++
		}
		last[p.SKUNorm] = p
	}
	for key, p := range last {
		if _, exists := f.rows[key]; exists {
			res.Updated++
		} else {
			res.Inserted++
		}
		f.rows[key] = p
	}
	return res, nil
}

func (f *fakeProductStore) Count(context.Context) (int64, error) {
	return int64(len(f.rows)), nil
}

func (f *fakeProductStore) DeleteBatch(_ context.Context, limit int) (int64, error) {
	var n int64
	for key := range f.rows {
		if n >= int64(limit) {
			break
		}
		delete(f.rows, key)
		n++
	}
	f.deleted += n
	return n, nil
}

type fakeJobStore struct {
	jobs    map[string]*job.Job
	updates int
	failing bool
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*job.Job)}
}

func (f *fakeJobStore) GetByJobID(_ context.Context, jobID string) (*job.Job, error) {
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("import job not found: %s", jobID)
	}
	return j, nil
}

func (f *fakeJobStore) Update(_ context.Context, j *job.Job) error {
	if f.failing {
		return errors.New("connection refused")
	}
	f.updates++
	f.jobs[j.JobID] = j
	return nil
}

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.LevelError, logging.FormatText)
}

func uploadedJob() *job.Job {
	j := job.New(job.KindImport, "products.csv", 0)
	_ = j.Transition(job.StatusUploading)
	return j
}

func runPipeline(t *testing.T, store *fakeProductStore, batchSize int, csv string) (*job.Job, *fakeJobStore, error) {
	t.Helper()
	jobs := newFakeJobStore()
	j := uploadedJob()
	jobs.jobs[j.JobID] = j

	p := NewPipeline(store, jobs, batchSize, testLogger())
	err := p.Run(context.Background(), j, strings.NewReader(csv))
	return j, jobs, err
}

func TestPipelineHappyPath(t *testing.T) {
	store := newFakeProductStore()
	csv := "SKU,Name,Price,Stock\n" +
		"A-1,Widget,9.99,5\n" +
		"B-2,Gadget,19.99,0\n" +
		"C-3,Gizmo,5.00,12\n"

	j, jobs, err := runPipeline(t, store, 1000, csv)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if j.Status != job.StatusCompleted {
		t.Fatalf("status = %s, want completed", j.Status)
	}
	if j.ProcessedRows != 3 || j.ImportedRows != 3 || j.UpdatedRows != 0 || j.SkippedRows != 0 {
		t.Errorf("counters = %d/%d/%d/%d, want 3/3/0/0",
			j.ProcessedRows, j.ImportedRows, j.UpdatedRows, j.SkippedRows)
	}
	if j.TotalRows != 3 {
		t.Errorf("TotalRows = %d, want 3", j.TotalRows)
	}
	if jobs.updates == 0 {
		t.Error("progress was never persisted")
	}
}

func TestPipelineCaseInsensitiveCollision(t *testing.T) {
	store := newFakeProductStore()
	var b strings.Builder
	b.WriteString("SKU,Name,Price,Stock\n")
	for i := 1; i <= 8; i++ {
		fmt.Fprintf(&b, "SKU-%d,Item %d,1.00,1\n", i, i)
	}
	b.WriteString("Widget-X,First,1.00,1\n")
	b.WriteString("WIDGET-x,Second,2.00,2\n")

	j, _, err := runPipeline(t, store, 1000, b.String())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if j.ProcessedRows != 10 {
		t.Errorf("ProcessedRows = %d, want 10", j.ProcessedRows)
	}
	if j.ImportedRows != 9 {
		t.Errorf("ImportedRows = %d, want 9", j.ImportedRows)
	}
	if j.SkippedRows != 1 {
		t.Errorf("SkippedRows = %d, want 1", j.SkippedRows)
	}

	won := store.rows["widget-x"]
	if won == nil || won.Name != "Second" {
		t.Errorf("last occurrence should win, got %+v", won)
	}
}

func TestPipelineReupload(t *testing.T) {
	store := newFakeProductStore()
	csv := "SKU,Name,Price,Stock\nA-1,Widget,9.99,5\nB-2,Gadget,19.99,0\n"

	if _, _, err := runPipeline(t, store, 1000, csv); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	csv2 := "SKU,Name,Price,Stock\na-1,Widget v2,10.99,7\nC-3,Gizmo,5.00,1\n"
	j, _, err := runPipeline(t, store, 1000, csv2)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if j.ImportedRows != 1 || j.UpdatedRows != 1 {
		t.Errorf("second run imported/updated = %d/%d, want 1/1", j.ImportedRows, j.UpdatedRows)
	}
	if got := store.rows["a-1"].Name; got != "Widget v2" {
		t.Errorf("a-1 name = %q, want Widget v2", got)
	}
	if len(store.rows) != 3 {
		t.Errorf("store has %d products, want 3", len(store.rows))
	}
}

func TestPipelineValidationErrorsDoNotAbort(t *testing.T) {
	store := newFakeProductStore()
	csv := "SKU,Name,Price,Stock\n" +
		"A-1,Widget,9.99,5\n" +
		",NoSku,1.00,1\n" +
		"B-2,Gadget,free,1\n" +
		"C-3,Gizmo,5.00,12\n"

	j, _, err := runPipeline(t, store, 1000, csv)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if j.Status != job.StatusCompleted {
		t.Fatalf("status = %s, want completed", j.Status)
	}
	if j.ProcessedRows != 4 || j.ImportedRows != 2 || j.SkippedRows != 2 {
		t.Errorf("counters = %d/%d/%d, want 4/2/2", j.ProcessedRows, j.ImportedRows, j.SkippedRows)
	}
	if j.SampleCount() != 2 {
		t.Fatalf("SampleCount = %d, want 2", j.SampleCount())
	}
	if j.Errors[0].Line != 2 || j.Errors[1].Line != 3 {
		t.Errorf("sample lines = %d,%d, want 2,3", j.Errors[0].Line, j.Errors[1].Line)
	}
}

func TestPipelineBatching(t *testing.T) {
	store := newFakeProductStore()
	var b strings.Builder
	b.WriteString("SKU,Name,Price,Stock\n")
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&b, "SKU-%d,Item %d,1.00,1\n", i, i)
	}

	j, _, err := runPipeline(t, store, 2, b.String())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if store.upsertCalls != 3 {
		t.Errorf("upsert calls = %d, want 3", store.upsertCalls)
	}
	if j.ProcessedRows != 5 || j.ImportedRows != 5 {
		t.Errorf("counters = %d/%d, want 5/5", j.ProcessedRows, j.ImportedRows)
	}
}

func TestPipelineBatchFailureRetainsProgress(t *testing.T) {
	store := newFakeProductStore()
	store.failOnCall = 3

	var b strings.Builder
	b.WriteString("SKU,Name,Price,Stock\n")
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&b, "SKU-%d,Item %d,1.00,1\n", i, i)
	}

	j, _, err := runPipeline(t, store, 2, b.String())
	if err == nil {
		t.Fatal("Run should fail")
	}
	if !apperrors.IsConflict(err) {
		t.Fatalf("error %v should be a conflict error", err)
	}

	var ce *apperrors.ConflictError
	errors.As(err, &ce)
	if ce.Offset != 5 {
		t.Errorf("conflict offset = %d, want 5", ce.Offset)
	}

	if j.Status != job.StatusFailed {
		t.Fatalf("status = %s, want failed", j.Status)
	}
	if j.ErrorMessage == nil {
		t.Fatal("failed job must carry an error message")
	}
	// Two batches landed before the failure.
	if j.ProcessedRows != 4 || j.ImportedRows != 4 {
		t.Errorf("counters = %d/%d, want 4/4", j.ProcessedRows, j.ImportedRows)
	}
	if len(store.rows) != 4 {
		t.Errorf("store has %d products, want the 4 applied before the failure", len(store.rows))
	}
}

func TestPipelineHeaderFailureFailsJob(t *testing.T) {
	store := newFakeProductStore()
	j, _, err := runPipeline(t, store, 1000, "Name,Stock\nWidget,5\n")
	if err == nil {
		t.Fatal("Run should fail")
	}
	if !apperrors.IsStream(err) {
		t.Fatalf("error %v should be a stream error", err)
	}
	if j.Status != job.StatusFailed {
		t.Fatalf("status = %s, want failed", j.Status)
	}
	if store.upsertCalls != 0 {
		t.Error("no batch may be applied on a header failure")
	}
}

type failingReader struct {
	header io.Reader
	done   bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.done {
		n, err := r.header.Read(p)
		if errors.Is(err, io.EOF) {
			r.done = true
			return n, nil
		}
		return n, err
	}
	return 0, errors.New("connection reset by peer")
}

func TestPipelineMidStreamReadFailure(t *testing.T) {
	store := newFakeProductStore()
	jobs := newFakeJobStore()
	j := uploadedJob()
	jobs.jobs[j.JobID] = j

	p := NewPipeline(store, jobs, 1000, testLogger())
	r := &failingReader{header: strings.NewReader("SKU,Name,Price,Stock\nA-1,W,1,1\n")}

	err := p.Run(context.Background(), j, r)
	if err == nil {
		t.Fatal("Run should fail")
	}
	if !apperrors.IsStream(err) {
		t.Fatalf("error %v should be a stream error", err)
	}
	if j.Status != job.StatusFailed {
		t.Fatalf("status = %s, want failed", j.Status)
	}
}

func TestPipelineEmptyFile(t *testing.T) {
	store := newFakeProductStore()
	j, _, err := runPipeline(t, store, 1000, "SKU,Name,Price,Stock\n")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if j.Status != job.StatusCompleted {
		t.Fatalf("status = %s, want completed", j.Status)
	}
	if j.ProcessedRows != 0 || j.TotalRows != 0 {
		t.Errorf("counters = %d/%d, want 0/0", j.ProcessedRows, j.TotalRows)
	}
}
