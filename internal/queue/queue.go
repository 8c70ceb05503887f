package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/catalog-importer/internal/logging"
	"github.com/redis/go-redis/v9"
)

// Queue is the durable Redis-backed task queue.
//
// Keys (under the configured namespace):
//
//	<ns>:ready      list   runnable tasks, consumed with BLMOVE
//	<ns>:delayed    zset   tasks scheduled with a not-before unix timestamp
//	<ns>:processing list   tasks handed to a worker but not yet acked
//
// A worker crash leaves the task in the processing list; RequeueOrphans moves
// it back to ready on startup, which is what makes dispatch at-least-once.
// Delayed retries are re-enqueues with a score, never a sleeping goroutine,
// so they survive restarts and spread across the pool.
type Queue struct {
	client    *redis.Client
	namespace string
	logger    *logging.Logger
}

// New creates a queue over the given Redis client.
func New(client *redis.Client, namespace string, logger *logging.Logger) *Queue {
	if namespace == "" {
		namespace = "tasks"
	}
	return &Queue{
		client:    client,
		namespace: namespace,
		logger:    logger.WithField("component", "queue"),
	}
}

// Namespace returns the key prefix this queue operates under.
func (q *Queue) Namespace() string { return q.namespace }

func (q *Queue) readyKey() string      { return q.namespace + ":ready" }
func (q *Queue) delayedKey() string    { return q.namespace + ":delayed" }
func (q *Queue) processingKey() string { return q.namespace + ":processing" }

// Enqueue makes the task runnable immediately.
func (q *Queue) Enqueue(ctx context.Context, task *Task) error {
	raw, err := task.encode()
	if err != nil {
		return err
	}

	if err := q.client.LPush(ctx, q.readyKey(), raw).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", task.ID, err)
	}

	q.logger.WithFields(map[string]interface{}{
		"taskId":   task.ID,
		"taskType": task.Type,
	}).Debug("Task enqueued")

	return nil
}

// EnqueueAt schedules the task to become runnable no earlier than notBefore.
func (q *Queue) EnqueueAt(ctx context.Context, task *Task, notBefore time.Time) error {
	raw, err := task.encode()
	if err != nil {
		return err
	}

	member := redis.Z{
		Score:  float64(notBefore.Unix()),
		Member: raw,
	}
	if err := q.client.ZAdd(ctx, q.delayedKey(), member).Err(); err != nil {
		return fmt.Errorf("failed to schedule task %s: %w", task.ID, err)
	}

	q.logger.WithFields(map[string]interface{}{
		"taskId":    task.ID,
		"taskType":  task.Type,
		"notBefore": notBefore.UTC().Format(time.RFC3339),
	}).Debug("Task scheduled")

	return nil
}

// Dequeue promotes due delayed tasks, then blocks up to timeout for the next
// runnable task. It returns (nil, nil) when the timeout elapses with nothing
// to do. The task stays in the processing list until Ack.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	if err := q.promoteDue(ctx); err != nil {
		return nil, err
	}

	raw, err := q.client.BLMove(ctx, q.readyKey(), q.processingKey(), "RIGHT", "LEFT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue task: %w", err)
	}

	task, err := decodeTask(raw)
	if err != nil {
		// Poison entry: drop it from processing so it cannot wedge the loop.
		q.client.LRem(ctx, q.processingKey(), 1, raw)
		return nil, err
	}

	return task, nil
}

// Ack removes a completed task from the processing list.
func (q *Queue) Ack(ctx context.Context, task *Task) error {
	if task.raw == "" {
		return fmt.Errorf("task %s was not dequeued from this queue", task.ID)
	}
	if err := q.client.LRem(ctx, q.processingKey(), 1, task.raw).Err(); err != nil {
		return fmt.Errorf("failed to ack task %s: %w", task.ID, err)
	}
	return nil
}

// RequeueOrphans moves tasks abandoned in the processing list back to the
// ready list. Called on worker startup; redelivery of a task that was in
// flight during a crash is the at-least-once contract, handlers tolerate it.
func (q *Queue) RequeueOrphans(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := q.client.LMove(ctx, q.processingKey(), q.readyKey(), "RIGHT", "LEFT").Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			return moved, fmt.Errorf("failed to requeue orphaned tasks: %w", err)
		}
		moved++
	}

	if moved > 0 {
		q.logger.WithField("count", moved).Warn("Requeued orphaned tasks from processing list")
	}

	return moved, nil
}

// promoteDue moves delayed tasks whose not-before has passed to the ready
// list. Runs at the top of every Dequeue, so any worker promotes work for
// the whole pool.
func (q *Queue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)

	due, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: 100,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read delayed tasks: %w", err)
	}

	for _, raw := range due {
		// ZRem first: only the caller that wins the removal promotes the
		// task, so concurrent workers cannot double-promote it.
		removed, err := q.client.ZRem(ctx, q.delayedKey(), raw).Result()
		if err != nil {
			return fmt.Errorf("failed to remove delayed task: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.readyKey(), raw).Err(); err != nil {
			return fmt.Errorf("failed to promote delayed task: %w", err)
		}
	}

	return nil
}

// Depth returns the number of runnable and delayed tasks, for health
// reporting.
func (q *Queue) Depth(ctx context.Context) (ready int64, delayed int64, err error) {
	ready, err = q.client.LLen(ctx, q.readyKey()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read ready depth: %w", err)
	}
	delayed, err = q.client.ZCard(ctx, q.delayedKey()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read delayed depth: %w", err)
	}
	return ready, delayed, nil
}
