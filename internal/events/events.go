// Package events runs background work handed off from request handlers.
package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Handler processes one submitted job, identified by id.
type Handler func(ctx context.Context, id string) error

// Stats is a snapshot of queue counters.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Dropped   int64 `json:"dropped"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Pending   int   `json:"pending"`
}

// Queue is a bounded channel of job ids drained by a fixed pool of workers.
type Queue struct {
	name    string
	jobs    chan string
	workers int
	handler Handler
	logger  *zap.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup

	submitted atomic.Int64
	dropped   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// NewQueue creates a queue. Start must be called before jobs are processed.
func NewQueue(name string, size, workers int, handler Handler, logger *zap.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	if workers <= 0 {
		workers = 1
	}
	return &Queue{
		name:    name,
		jobs:    make(chan string, size),
		workers: workers,
		handler: handler,
		logger:  logger.With(zap.String("queue", name)),
	}
}

// Submit enqueues id without blocking. It reports false when the queue is
// full or shut down.
func (q *Queue) Submit(id string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.dropped.Add(1)
		q.logger.Warn("queue closed, job dropped", zap.String("id", id))
		return false
	}

	select {
	case q.jobs <- id:
		q.submitted.Add(1)
		return true
	default:
		q.dropped.Add(1)
		q.logger.Warn("queue full, job dropped", zap.String("id", id))
		return false
	}
}

// Start launches the workers. They run until Shutdown drains the queue.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}
}

func (q *Queue) work(ctx context.Context) {
	defer q.wg.Done()
	for id := range q.jobs {
		if err := q.run(ctx, id); err != nil {
			q.failed.Add(1)
			q.logger.Error("job failed", zap.String("id", id), zap.Error(err))
			continue
		}
		q.succeeded.Add(1)
	}
}

func (q *Queue) run(ctx context.Context, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return q.handler(ctx, id)
}

// Shutdown stops accepting jobs and waits for the workers to finish what is queued.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
}

// Stats returns the current counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Submitted: q.submitted.Load(),
		Dropped:   q.dropped.Load(),
		Succeeded: q.succeeded.Load(),
		Failed:    q.failed.Load(),
		Pending:   len(q.jobs),
	}
}
