// Package api provides the HTTP intake surface: import submission, job
// status, bulk delete, event ingestion, and webhook inspection endpoints.
// Heavy work never happens in a handler; accepted requests become queued
// tasks and the handler returns 202 with a job id.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/catalog-importer/internal/config"
	"github.com/catalog-importer/internal/delivery"
	"github.com/catalog-importer/internal/job"
	"github.com/catalog-importer/internal/logging"
	"github.com/catalog-importer/internal/models"
	"github.com/catalog-importer/internal/queue"
)

// JobStore creates and reads import jobs.
type JobStore interface {
	Create(ctx context.Context, j *job.Job) error
	GetByJobID(ctx context.Context, jobID string) (*job.Job, error)
}

// TaskQueue enqueues ready tasks.
type TaskQueue interface {
	Enqueue(ctx context.Context, task *queue.Task) error
}

// Publisher fans an ingested event out to webhooks.
type Publisher interface {
	Publish(ctx context.Context, event *models.Event) error
}

// WebhookService exposes the webhook inspection operations.
type WebhookService interface {
	TestDelivery(ctx context.Context, webhookID int64) (*delivery.Result, error)
	ListLogs(ctx context.Context, webhookID int64, limit int) ([]*models.WebhookLog, error)
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	jobs       JobStore
	tasks      TaskQueue
	publisher  Publisher
	webhooks   WebhookService
	config     *config.Config
	logger     *logging.Logger
}

// NewServer creates the API server and wires its routes.
func NewServer(cfg *config.Config, jobs JobStore, tasks TaskQueue, publisher Publisher, webhooks WebhookService, logger *logging.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		jobs:      jobs,
		tasks:     tasks,
		publisher: publisher,
		webhooks:  webhooks,
		config:    cfg,
		logger:    logger.WithField("component", "api"),
	}

	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Server.Host, s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/imports", s.handleCreateImport).Methods("POST")
	api.HandleFunc("/imports/{job_id}/status", s.handleImportStatus).Methods("GET")

	api.HandleFunc("/products/delete_all", s.handleDeleteAll).Methods("POST")

	api.HandleFunc("/events", s.handleIngestEvent).Methods("POST")

	api.HandleFunc("/webhooks/{id}/logs", s.handleWebhookLogs).Methods("GET")
	api.HandleFunc("/webhooks/{id}/test", s.handleTestWebhook).Methods("POST")
}

// Handler returns the routed handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "catalog-importer",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// clientTimeout bounds handler-side calls that hit storage.
const clientTimeout = 10 * time.Second
