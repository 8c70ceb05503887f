// Package worker runs the task-consuming side of the system: a pool of
// goroutines pulling tasks off the durable queue and dispatching them to the
// importer and delivery services.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/catalog-importer/internal/logging"
	"github.com/catalog-importer/internal/metrics"
	"github.com/catalog-importer/internal/queue"
)

// Importer executes import and bulk-delete jobs.
type Importer interface {
	RunImport(ctx context.Context, jobID, filePath string) error
	RunDelete(ctx context.Context, jobID string) error
}

// Deliverer executes one webhook delivery attempt.
type Deliverer interface {
	Deliver(ctx context.Context, logID int64) error
}

// Pool consumes tasks with a fixed number of goroutines. Dispatch is
// at-least-once: a task is acknowledged only after its handler returns, and
// tasks orphaned by a crashed worker are requeued at startup.
type Pool struct {
	queue        *queue.Queue
	importer     Importer
	deliverer    Deliverer
	concurrency  int
	pollInterval time.Duration
	logger       *logging.Logger

	wg sync.WaitGroup
}

// NewPool wires a worker pool.
func NewPool(q *queue.Queue, importer Importer, deliverer Deliverer, concurrency int, pollInterval time.Duration, logger *logging.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 5
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Pool{
		queue:        q,
		importer:     importer,
		deliverer:    deliverer,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		logger:       logger.WithField("component", "worker"),
	}
}

// Start requeues orphaned tasks from a previous run and launches the
// consumers. It returns immediately; Stop blocks until the consumers drain.
func (p *Pool) Start(ctx context.Context) error {
	requeued, err := p.queue.RequeueOrphans(ctx)
	if err != nil {
		return fmt.Errorf("failed to requeue orphaned tasks: %w", err)
	}
	if requeued > 0 {
		p.logger.WithField("count", requeued).Warn("requeued tasks orphaned by a previous run")
	}

	p.logger.WithField("concurrency", p.concurrency).Info("starting workers")
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}

	p.wg.Add(1)
	go p.reportDepth(ctx)
	return nil
}

// reportDepth samples queue depth for the ready-tasks gauge.
func (p *Pool) reportDepth(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ready, _, err := p.queue.Depth(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.WithError(err).Warn("could not read queue depth")
				}
				continue
			}
			metrics.QueueDepth.WithLabelValues(p.queue.Namespace()).Set(float64(ready))
		}
	}
}

// Stop blocks until every consumer goroutine has exited. Cancel the context
// passed to Start first.
func (p *Pool) Stop() {
	p.wg.Wait()
	p.logger.Info("workers stopped")
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.WithField("worker", id)

	for {
		if ctx.Err() != nil {
			return
		}

		task, err := p.queue.Dequeue(ctx, p.pollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Error("dequeue failed")
			sleep(ctx, p.pollInterval)
			continue
		}
		if task == nil {
			continue
		}

		if err := p.handle(ctx, task); err != nil {
			// Handlers own their domain retries (job failure states, the
			// delivery retry schedule). A handler error here means the task
			// itself could not be processed; acknowledging it anyway would
			// lose it, so leave it on the processing list for requeue.
			logger.WithFields(map[string]interface{}{
				"task_id":   task.ID,
				"task_type": string(task.Type),
			}).WithError(err).Error("task handler failed")
			continue
		}

		if err := p.queue.Ack(ctx, task); err != nil {
			logger.WithField("task_id", task.ID).WithError(err).Error("ack failed")
		}
	}
}

func (p *Pool) handle(ctx context.Context, task *queue.Task) error {
	switch task.Type {
	case queue.TaskImportCSV:
		var payload queue.ImportPayload
		if err := task.Decode(&payload); err != nil {
			return err
		}
		return p.importer.RunImport(ctx, payload.JobID, payload.FilePath)

	case queue.TaskDeleteProducts:
		var payload queue.DeletePayload
		if err := task.Decode(&payload); err != nil {
			return err
		}
		return p.importer.RunDelete(ctx, payload.JobID)

	case queue.TaskDeliverWebhook:
		var payload queue.DeliverPayload
		if err := task.Decode(&payload); err != nil {
			return err
		}
		return p.deliverer.Deliver(ctx, payload.LogID)

	default:
		return fmt.Errorf("unknown task type: %s", task.Type)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
