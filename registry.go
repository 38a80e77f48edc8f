package imageloader

import (
	"context"
	"sync"

	"github.com/jmgilman/go/imageloader/dispatch"
	"github.com/jmgilman/go/imageloader/operation"
)

type slotKey struct {
	owner any
	key   string
}

// Registry holds at most one operation per slot. A slot is a caller-owned
// identity (owner must be comparable) plus an operation key, so one owner
// can run several independent requests.
type Registry struct {
	manager *Manager

	mu  sync.Mutex
	ops map[slotKey]operation.Operation
}

// NewRegistry creates a registry that loads through m. A nil m uses
// Default().
func NewRegistry(m *Manager) *Registry {
	if m == nil {
		m = Default()
	}
	return &Registry{
		manager: m,
		ops:     make(map[slotKey]operation.Operation),
	}
}

// Set registers op for the slot, cancelling the operation it replaces.
func (r *Registry) Set(owner any, key string, op operation.Operation) {
	k := slotKey{owner: owner, key: key}
	r.mu.Lock()
	prev := r.ops[k]
	if op == nil {
		delete(r.ops, k)
	} else {
		r.ops[k] = op
	}
	r.mu.Unlock()

	if prev != nil && prev != op {
		prev.Cancel()
	}
}

// Get returns the slot's operation, or nil.
func (r *Registry) Get(owner any, key string) operation.Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ops[slotKey{owner: owner, key: key}]
}

// Cancel cancels and removes the slot's operation.
func (r *Registry) Cancel(owner any, key string) {
	k := slotKey{owner: owner, key: key}
	r.mu.Lock()
	op := r.ops[k]
	delete(r.ops, k)
	r.mu.Unlock()

	if op != nil {
		op.Cancel()
	}
}

// Remove forgets the slot's operation without cancelling it.
func (r *Registry) Remove(owner any, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ops, slotKey{owner: owner, key: key})
}

// removeIf forgets the slot only while op is still registered there.
func (r *Registry) removeIf(owner any, key string, op operation.Operation) {
	k := slotKey{owner: owner, key: key}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ops[k] == op {
		delete(r.ops, k)
	}
}

// Len returns the number of occupied slots.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops)
}

// Load cancels the slot's current operation and starts loading rawURL in
// its place. Callbacks default to dispatch.Main(). The slot is released
// when the load finishes, unless a newer load already took it.
func (r *Registry) Load(ctx context.Context, owner any, key, rawURL string, opts Options, lctx *LoadContext, progress ProgressFunc, done CompletedFunc) *CombinedOperation {
	r.Cancel(owner, key)

	lctx = lctx.clone()
	if lctx.CallbackQueue == nil {
		lctx.CallbackQueue = dispatch.Main()
	}

	op := r.manager.Load(ctx, rawURL, opts, lctx, progress, done)
	r.Set(owner, key, op)
	op.onFinish(func() {
		r.removeIf(owner, key, op)
	})
	return op
}
