package imageloader

import (
	"sync"

	"github.com/jmgilman/go/imageloader/dispatch"
	"github.com/jmgilman/go/imageloader/operation"
)

// CombinedOperation is the handle of one Manager.Load call. It owns the
// cache query and the loader operation of the request; at most one of
// them is active at a time.
type CombinedOperation struct {
	token *operation.Token

	mu       sync.Mutex
	cacheOp  operation.Operation
	loaderOp operation.Operation
	hooks    []func()

	doneOnce sync.Once
	done     chan struct{}
}

func newCombinedOperation() *CombinedOperation {
	op := &CombinedOperation{
		token: operation.New(),
		done:  make(chan struct{}),
	}
	op.token.OnCancel(op.cancelled)
	return op
}

// ID returns the operation's unique identifier.
func (o *CombinedOperation) ID() string {
	return o.token.ID()
}

// State returns the lifecycle state.
func (o *CombinedOperation) State() operation.State {
	return o.token.State()
}

// Cancel stops the request. No callback starts after Cancel returns. It
// is safe to call repeatedly and after completion.
func (o *CombinedOperation) Cancel() {
	o.token.Cancel()
}

// IsCancelled reports whether the request was cancelled.
func (o *CombinedOperation) IsCancelled() bool {
	return o.token.IsCancelled()
}

// Done is closed once the request is completed or cancelled.
func (o *CombinedOperation) Done() <-chan struct{} {
	return o.done
}

// CacheOperation returns the cache query, if one was started.
func (o *CombinedOperation) CacheOperation() operation.Operation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cacheOp
}

// LoaderOperation returns the loader operation, if one was started.
func (o *CombinedOperation) LoaderOperation() operation.Operation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loaderOp
}

func (o *CombinedOperation) setCacheOperation(op operation.Operation) {
	o.mu.Lock()
	o.cacheOp = op
	o.mu.Unlock()
	if op != nil && o.IsCancelled() {
		op.Cancel()
	}
}

func (o *CombinedOperation) setLoaderOperation(op operation.Operation) {
	o.mu.Lock()
	o.loaderOp = op
	o.mu.Unlock()
	if op != nil && o.IsCancelled() {
		op.Cancel()
	}
}

// onFinish registers fn to run once the operation is terminal.
func (o *CombinedOperation) onFinish(fn func()) {
	select {
	case <-o.done:
		fn()
		return
	default:
	}
	o.mu.Lock()
	o.hooks = append(o.hooks, fn)
	o.mu.Unlock()

	// finish may have run between the check and the append.
	select {
	case <-o.done:
		o.runHooks()
	default:
	}
}

func (o *CombinedOperation) runHooks() {
	o.mu.Lock()
	hooks := o.hooks
	o.hooks = nil
	o.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (o *CombinedOperation) finish() {
	o.doneOnce.Do(func() {
		close(o.done)
	})
	o.runHooks()
}

func (o *CombinedOperation) cancelled() {
	o.mu.Lock()
	cacheOp, loaderOp := o.cacheOp, o.loaderOp
	o.mu.Unlock()
	if cacheOp != nil {
		cacheOp.Cancel()
	}
	if loaderOp != nil {
		loaderOp.Cancel()
	}
	o.finish()
}

// deliver schedules a non-terminal callback.
func (o *CombinedOperation) deliver(q dispatch.Queue, fn func()) {
	o.token.Deliver(q, fn)
}

// deliverFinal schedules the terminal callback; the operation finishes
// after fn has run.
func (o *CombinedOperation) deliverFinal(q dispatch.Queue, fn func()) {
	o.token.DeliverFinal(q, func() {
		fn()
		o.finish()
	})
}

// complete finishes the operation without a terminal callback.
func (o *CombinedOperation) complete() {
	if o.token.Complete() {
		o.finish()
	}
}
