// Package queue dispatches rendition tasks to worker pools. Each named
// queue gets its own pool so slow jobs on one queue can't starve
// another.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sawmill-video/sawmill/log"
	"github.com/sawmill-video/sawmill/metrics"
)

// Task is one unit of queued work, typically a full rendition run. The
// context is cancelled when the task is revoked or its soft time limit
// expires; tasks are expected to notice and wind down.
type Task func(ctx context.Context) error

type Queue interface {
	// Enqueue schedules the task on the named queue and returns a task
	// ID usable with Revoke.
	Enqueue(queueName string, task Task) (string, error)
	// Revoke cancels a task. Pending tasks are dropped before they
	// start; running tasks get their context cancelled.
	Revoke(taskID string)
	// Shutdown stops accepting work and waits for running tasks, up to
	// the context deadline.
	Shutdown(ctx context.Context) error
}

type queuedTask struct {
	id   string
	task Task
}

// InProcessQueue runs tasks on goroutine pools inside the API process.
// Task state is process-local, which is fine because a revoked task
// that was lost with its process is equally dead either way.
type InProcessQueue struct {
	concurrency   int
	softTimeLimit time.Duration

	mu       sync.Mutex
	queues   map[string]chan queuedTask
	running  map[string]context.CancelFunc
	revoked  map[string]bool
	shutdown bool
	wg       sync.WaitGroup
}

func NewInProcessQueue(concurrency int, softTimeLimit time.Duration) *InProcessQueue {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &InProcessQueue{
		concurrency:   concurrency,
		softTimeLimit: softTimeLimit,
		queues:        make(map[string]chan queuedTask),
		running:       make(map[string]context.CancelFunc),
		revoked:       make(map[string]bool),
	}
}

func (q *InProcessQueue) Enqueue(queueName string, task Task) (string, error) {
	q.mu.Lock()
	if q.shutdown {
		q.mu.Unlock()
		return "", fmt.Errorf("queue is shut down")
	}
	ch, ok := q.queues[queueName]
	if !ok {
		ch = make(chan queuedTask, 1024)
		q.queues[queueName] = ch
		for i := 0; i < q.concurrency; i++ {
			q.wg.Add(1)
			go q.worker(queueName, ch)
		}
	}
	id := uuid.New().String()
	q.mu.Unlock()

	select {
	case ch <- queuedTask{id: id, task: task}:
		return id, nil
	default:
		return "", fmt.Errorf("queue %q is full", queueName)
	}
}

func (q *InProcessQueue) Revoke(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cancel, ok := q.running[taskID]; ok {
		cancel()
		return
	}
	q.revoked[taskID] = true
}

func (q *InProcessQueue) worker(queueName string, ch chan queuedTask) {
	defer q.wg.Done()
	for qt := range ch {
		q.runTask(queueName, qt)
	}
}

func (q *InProcessQueue) runTask(queueName string, qt queuedTask) {
	q.mu.Lock()
	if q.revoked[qt.id] {
		delete(q.revoked, qt.id)
		q.mu.Unlock()
		return
	}
	ctx := context.Background()
	var cancel context.CancelFunc
	if q.softTimeLimit > 0 {
		ctx, cancel = context.WithTimeout(ctx, q.softTimeLimit)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	q.running[qt.id] = cancel
	q.mu.Unlock()

	defer func() {
		cancel()
		q.mu.Lock()
		delete(q.running, qt.id)
		q.mu.Unlock()
	}()

	start := time.Now()
	err := qt.task(ctx)
	metrics.Metrics.QueueTaskDurationSec.
		WithLabelValues(queueName, boolToStatus(err == nil)).
		Observe(time.Since(start).Seconds())
	if err != nil {
		log.LogNoJobID("task failed", "queue", queueName, "task_id", qt.id, "err", err)
	}
}

func boolToStatus(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (q *InProcessQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.shutdown {
		q.shutdown = true
		for _, ch := range q.queues {
			close(ch)
		}
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
