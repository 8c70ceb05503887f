package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/catalog-importer/internal/config"
	"github.com/catalog-importer/internal/delivery"
	"github.com/catalog-importer/internal/job"
	"github.com/catalog-importer/internal/logging"
	"github.com/catalog-importer/internal/models"
	"github.com/catalog-importer/internal/queue"
)

type fakeJobStore struct {
	jobs    map[string]*job.Job
	created int
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*job.Job)}
}

func (f *fakeJobStore) Create(_ context.Context, j *job.Job) error {
	f.created++
	f.jobs[j.JobID] = j
	return nil
}

func (f *fakeJobStore) GetByJobID(_ context.Context, jobID string) (*job.Job, error) {
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("import job %s: %w", jobID, pgx.ErrNoRows)
	}
	return j, nil
}

type fakeTaskQueue struct {
	tasks []*queue.Task
}

func (f *fakeTaskQueue) Enqueue(_ context.Context, task *queue.Task) error {
	f.tasks = append(f.tasks, task)
	return nil
}

type fakePublisher struct {
	events []*models.Event
}

func (f *fakePublisher) Publish(_ context.Context, e *models.Event) error {
	f.events = append(f.events, e)
	return nil
}

type fakeWebhookService struct {
	logs    map[int64][]*models.WebhookLog
	result  *delivery.Result
	testErr error
}

func (f *fakeWebhookService) TestDelivery(_ context.Context, webhookID int64) (*delivery.Result, error) {
	if f.testErr != nil {
		return nil, f.testErr
	}
	if _, ok := f.logs[webhookID]; !ok {
		return nil, fmt.Errorf("webhook %d: %w", webhookID, pgx.ErrNoRows)
	}
	return f.result, nil
}

func (f *fakeWebhookService) ListLogs(_ context.Context, webhookID int64, limit int) ([]*models.WebhookLog, error) {
	logs, ok := f.logs[webhookID]
	if !ok {
		return nil, fmt.Errorf("webhook %d: %w", webhookID, pgx.ErrNoRows)
	}
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func newTestServer(t *testing.T) (*Server, *fakeJobStore, *fakeTaskQueue, *fakePublisher, *fakeWebhookService) {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: "0"},
		Import: config.ImportConfig{
			BatchSize:       1000,
			MaxErrorSamples: 100,
			UploadDir:       t.TempDir(),
			MaxUploadSize:   1 << 20,
		},
		Webhook: config.WebhookConfig{Timeout: time.Second},
	}

	jobs := newFakeJobStore()
	tasks := &fakeTaskQueue{}
	publisher := &fakePublisher{}
	webhooks := &fakeWebhookService{logs: map[int64][]*models.WebhookLog{}}
	logger := logging.NewLogger(logging.LevelError, logging.FormatText)

	return NewServer(cfg, jobs, tasks, publisher, webhooks, logger), jobs, tasks, publisher, webhooks
}

func multipartCSV(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func TestCreateImportAccepted(t *testing.T) {
	srv, jobs, tasks, _, _ := newTestServer(t)

	body, contentType := multipartCSV(t, "file", "products.csv", "SKU,Name,Price,Stock\nA-1,W,1,1\n")
	req := httptest.NewRequest(http.MethodPost, "/api/imports", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	jobID, _ := resp["job_id"].(string)
	if jobID == "" {
		t.Fatal("response missing job_id")
	}
	if resp["status"] != "pending" {
		t.Errorf("status = %v, want pending", resp["status"])
	}

	if jobs.created != 1 {
		t.Errorf("jobs created = %d, want 1", jobs.created)
	}
	if len(tasks.tasks) != 1 || tasks.tasks[0].Type != queue.TaskImportCSV {
		t.Fatalf("tasks = %+v, want one import task", tasks.tasks)
	}

	var payload queue.ImportPayload
	if err := tasks.tasks[0].Decode(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.JobID != jobID {
		t.Errorf("task job id = %s, want %s", payload.JobID, jobID)
	}
	if _, err := os.Stat(payload.FilePath); err != nil {
		t.Errorf("uploaded file missing: %v", err)
	}
}

func TestCreateImportRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name        string
		field       string
		filename    string
		contentType string
		want        int
	}{
		{"wrong extension", "file", "products.txt", "", http.StatusBadRequest},
		{"missing file field", "attachment", "products.csv", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, jobs, _, _, _ := newTestServer(t)

			body, contentType := multipartCSV(t, tt.field, tt.filename, "SKU,Name,Price,Stock\n")
			req := httptest.NewRequest(http.MethodPost, "/api/imports", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if jobs.created != 0 {
				t.Error("rejected upload must not create a job")
			}
		})
	}
}

func TestCreateImportNotMultipart(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/imports", strings.NewReader("SKU,Name\n"))
	req.Header.Set("Content-Type", "text/csv")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestImportStatus(t *testing.T) {
	srv, jobs, _, _, _ := newTestServer(t)

	j := job.New(job.KindImport, "products.csv", 100)
	j.Status = job.StatusImporting
	j.TotalRows = 500
	j.ProcessedRows = 200
	jobs.jobs[j.JobID] = j

	req := httptest.NewRequest(http.MethodGet, "/api/imports/"+j.JobID+"/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got["status"] != "importing" {
		t.Errorf("status = %v, want importing", got["status"])
	}
	if got["processed_rows"].(float64) != 200 {
		t.Errorf("processed_rows = %v, want 200", got["processed_rows"])
	}
}

func TestImportStatusNotFound(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/imports/0b0e9d9e-6df1-4b76-8cb1-0f0a41e0e3ff/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestImportStatusBadID(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/imports/not-a-uuid/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDeleteAllRequiresConfirmation(t *testing.T) {
	tests := []struct {
		name  string
		query string
		body  string
		want  int
	}{
		{"exact phrase", "?confirmation=DELETE+ALL", "", http.StatusAccepted},
		{"body phrase", "", `{"confirmation":"DELETE ALL"}`, http.StatusAccepted},
		{"wrong case", "?confirmation=delete+all", "", http.StatusBadRequest},
		{"missing", "", "", http.StatusBadRequest},
		{"wrong phrase", "?confirmation=YES", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, jobs, tasks, _, _ := newTestServer(t)

			req := httptest.NewRequest(http.MethodPost, "/api/products/delete_all"+tt.query, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}

			if tt.want == http.StatusAccepted {
				if jobs.created != 1 || len(tasks.tasks) != 1 {
					t.Error("accepted delete must create a job and a task")
				}
				if tasks.tasks[0].Type != queue.TaskDeleteProducts {
					t.Errorf("task type = %s", tasks.tasks[0].Type)
				}
			} else {
				if jobs.created != 0 || len(tasks.tasks) != 0 {
					t.Error("rejected confirmation must have zero side effects")
				}
			}
		})
	}
}

func TestIngestEvent(t *testing.T) {
	srv, _, _, publisher, _ := newTestServer(t)

	body := `{"event_type":"product.updated","payload":{"sku":"A-1"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body)
	}
	if len(publisher.events) != 1 || publisher.events[0].Type != models.EventProductUpdated {
		t.Fatalf("published = %+v, want one product.updated", publisher.events)
	}
}

func TestIngestEventUnknownType(t *testing.T) {
	srv, _, _, publisher, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(`{"event_type":"order.shipped","payload":{}}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(publisher.events) != 0 {
		t.Error("unknown event type must not be published")
	}
}

func TestWebhookLogs(t *testing.T) {
	srv, _, _, _, webhooks := newTestServer(t)

	code := 200
	webhooks.logs[3] = []*models.WebhookLog{
		{ID: 1, WebhookID: 3, EventType: models.EventImportCompleted, Attempt: 1, MaxAttempts: 5, StatusCode: &code},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/webhooks/3/logs", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}

	var resp struct {
		WebhookID int64                `json:"webhook_id"`
		Logs      []models.WebhookLog  `json:"logs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.WebhookID != 3 || len(resp.Logs) != 1 {
		t.Errorf("resp = %+v, want one log for webhook 3", resp)
	}
}

func TestWebhookLogsNotFound(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/webhooks/99/logs", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestWebhookTest(t *testing.T) {
	srv, _, _, _, webhooks := newTestServer(t)
	webhooks.logs[3] = nil
	webhooks.result = &delivery.Result{StatusCode: 200, Body: "ok", Latency: 12 * time.Millisecond}

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/3/test", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp["success"] != true {
		t.Errorf("success = %v, want true", resp["success"])
	}
}

func TestWebhookTestUpstreamFailure(t *testing.T) {
	srv, _, _, _, webhooks := newTestServer(t)
	webhooks.testErr = fmt.Errorf("webhook request failed: connection refused")

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/3/test", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("body = %s", rec.Body)
	}
}
