// Package workqueue runs blocking work with per-key ordering.
package workqueue

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("workqueue: closed")

// KeyedQueue runs tasks FIFO per key. Tasks for different keys run
// concurrently, at most limit at a time.
type KeyedQueue struct {
	sem *semaphore.Weighted

	mu     sync.Mutex
	queues map[string][]func()
	closed bool
	wg     sync.WaitGroup
}

// New creates a KeyedQueue running at most limit tasks at once. A limit
// below one is treated as one.
func New(limit int) *KeyedQueue {
	if limit < 1 {
		limit = 1
	}
	return &KeyedQueue{
		sem:    semaphore.NewWeighted(int64(limit)),
		queues: make(map[string][]func()),
	}
}

// Submit queues fn behind every earlier task submitted with the same key.
func (q *KeyedQueue) Submit(key string, fn func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	pending, running := q.queues[key]
	q.queues[key] = append(pending, fn)
	q.wg.Add(1)
	if !running {
		go q.run(key)
	}
	return nil
}

// run drains the queue for key. The map entry stays present while the
// runner is alive so later submissions append instead of racing it.
func (q *KeyedQueue) run(key string) {
	for {
		q.mu.Lock()
		pending := q.queues[key]
		if len(pending) == 0 {
			delete(q.queues, key)
			q.mu.Unlock()
			return
		}
		fn := pending[0]
		q.queues[key] = pending[1:]
		q.mu.Unlock()

		_ = q.sem.Acquire(context.Background(), 1)
		fn()
		q.sem.Release(1)
		q.wg.Done()
	}
}

// Pending returns the number of tasks waiting to start.
func (q *KeyedQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, pending := range q.queues {
		n += len(pending)
	}
	return n
}

// Wait blocks until every submitted task has finished.
func (q *KeyedQueue) Wait() {
	q.wg.Wait()
}

// Close rejects new tasks and waits for queued ones to finish.
func (q *KeyedQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
}
