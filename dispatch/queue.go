// Package dispatch provides the callback queues used to deliver results to
// callers. A Queue decides which goroutine runs a callback; it never
// decides whether the callback runs (that is the operation's job).
package dispatch

import (
	"sync"
)

// Queue schedules callbacks.
type Queue interface {
	// Async schedules fn to run. Implementations must run every scheduled
	// function exactly once unless the queue has been closed.
	Async(fn func())
}

// QueueFunc adapts a function to the Queue interface.
type QueueFunc func(fn func())

// Async implements Queue.
func (f QueueFunc) Async(fn func()) {
	f(fn)
}

type inlineQueue struct{}

func (inlineQueue) Async(fn func()) { fn() }

// Inline returns a queue that runs callbacks on the goroutine that
// schedules them.
func Inline() Queue {
	return inlineQueue{}
}

type concurrentQueue struct{}

func (concurrentQueue) Async(fn func()) { go fn() }

// Concurrent returns a queue that runs every callback on its own goroutine.
func Concurrent() Queue {
	return concurrentQueue{}
}

// Serial runs callbacks one at a time, in scheduling order, on a single
// worker goroutine.
type Serial struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	running bool
	closed  bool
	done    chan struct{}
}

// NewSerial creates a serial queue and starts its worker.
func NewSerial() *Serial {
	q := &Serial{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

// Async implements Queue. Calls after Close are dropped.
func (q *Serial) Async(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pending = append(q.pending, fn)
	q.cond.Broadcast()
}

// Wait blocks until every callback scheduled before the call has run.
func (q *Serial) Wait() {
	q.mu.Lock()
	for (len(q.pending) > 0 || q.running) && !q.closed {
		q.cond.Wait()
	}
	q.mu.Unlock()
}

// Close drains the callbacks already scheduled and stops the worker.
func (q *Serial) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}

func (q *Serial) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.running = true
		q.mu.Unlock()

		fn()

		q.mu.Lock()
		q.running = false
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

var (
	mainOnce  sync.Once
	mainQueue *Serial
)

// Main returns the process-wide serial queue. It plays the role of a UI
// thread for callers that want every callback delivered in order on a
// single goroutine. It is created on first use and never closed.
func Main() *Serial {
	mainOnce.Do(func() {
		mainQueue = NewSerial()
	})
	return mainQueue
}
