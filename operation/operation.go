// Package operation provides cancellable handles for outstanding requests.
//
// A Token carries an explicit state machine (Pending, Running, Completed,
// Cancelled) and owns the delivery of its callbacks. Every callback is
// passed through Token.Deliver, which checks the cancellation state under
// the token's lock at the moment the callback is invoked. Once Cancel has
// returned, no callback delivered through the token starts.
package operation

import (
	"sync"

	"github.com/google/uuid"

	"github.com/jmgilman/go/imageloader/dispatch"
)

// State is the lifecycle state of an operation.
type State int

const (
	// Pending operations have been created but have not started work.
	Pending State = iota
	// Running operations have started work.
	Running
	// Completed operations delivered their terminal callback.
	Completed
	// Cancelled operations were cancelled before completing.
	Cancelled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the state is Completed or Cancelled.
func (s State) IsTerminal() bool {
	return s == Completed || s == Cancelled
}

// Operation is a cancellable request handle.
type Operation interface {
	// Cancel stops the operation. It is safe to call multiple times,
	// concurrently, and after completion.
	Cancel()
	// IsCancelled reports whether Cancel won against completion.
	IsCancelled() bool
}

type delivery struct {
	fn    func()
	final bool
}

// Token is the standard Operation implementation.
type Token struct {
	id string

	mu       sync.Mutex
	state    State
	hooks    []func()
	pending  []delivery
	draining bool
	sealed   bool // a final delivery has been queued
}

// New returns a pending token.
func New() *Token {
	return &Token{id: uuid.NewString()}
}

// ID returns the token's unique identifier, used for logging.
func (t *Token) ID() string {
	return t.id
}

// State returns the current state.
func (t *Token) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsCancelled implements Operation.
func (t *Token) IsCancelled() bool {
	return t.State() == Cancelled
}

// Start moves a pending token to Running. It returns false if the token
// is already terminal.
func (t *Token) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.IsTerminal() {
		return false
	}
	t.state = Running
	return true
}

// Cancel implements Operation. Pending deliveries are dropped and the
// registered cancel hooks run on the calling goroutine. Cancel never
// waits for a callback that is already executing, so it may be called
// from inside one.
func (t *Token) Cancel() {
	t.mu.Lock()
	if t.state.IsTerminal() {
		t.mu.Unlock()
		return
	}
	t.state = Cancelled
	t.pending = nil
	hooks := t.hooks
	t.hooks = nil
	t.mu.Unlock()

	for _, hook := range hooks {
		hook()
	}
}

// OnCancel registers fn to run when the token is cancelled. If the token
// is already cancelled fn runs immediately; if it already completed fn is
// discarded.
func (t *Token) OnCancel(fn func()) {
	t.mu.Lock()
	switch t.state {
	case Cancelled:
		t.mu.Unlock()
		fn()
		return
	case Completed:
		t.mu.Unlock()
		return
	}
	t.hooks = append(t.hooks, fn)
	t.mu.Unlock()
}

// Complete marks the token completed without delivering a callback. It
// returns false if the token was already terminal.
func (t *Token) Complete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.IsTerminal() {
		return false
	}
	t.state = Completed
	t.pending = nil
	t.hooks = nil
	return true
}

// Deliver schedules a non-terminal callback (progress, partial result) on
// q. Callbacks from one token run in the order they were delivered.
func (t *Token) Deliver(q dispatch.Queue, fn func()) {
	t.enqueue(q, delivery{fn: fn})
}

// DeliverFinal schedules the terminal callback on q. The token becomes
// Completed at the moment fn is invoked; later deliveries are dropped.
func (t *Token) DeliverFinal(q dispatch.Queue, fn func()) {
	t.enqueue(q, delivery{fn: fn, final: true})
}

func (t *Token) enqueue(q dispatch.Queue, d delivery) {
	if q == nil {
		q = dispatch.Inline()
	}

	t.mu.Lock()
	if t.state.IsTerminal() || t.sealed {
		t.mu.Unlock()
		return
	}
	if d.final {
		t.sealed = true
	}
	t.pending = append(t.pending, d)
	if t.draining {
		t.mu.Unlock()
		return
	}
	t.draining = true
	t.mu.Unlock()

	q.Async(t.drain)
}

// drain runs queued deliveries until the mailbox is empty. The state check
// and the transition to Completed happen under the lock, which is the
// linearization point against Cancel.
func (t *Token) drain() {
	for {
		t.mu.Lock()
		if len(t.pending) == 0 || t.state == Cancelled {
			t.pending = nil
			t.draining = false
			t.mu.Unlock()
			return
		}
		d := t.pending[0]
		t.pending[0] = delivery{}
		t.pending = t.pending[1:]
		if d.final {
			t.state = Completed
			t.hooks = nil
		}
		t.mu.Unlock()

		d.fn()
	}
}
