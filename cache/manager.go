package cache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jmgilman/go/imageloader/coder"
	"github.com/jmgilman/go/imageloader/dispatch"
	"github.com/jmgilman/go/imageloader/operation"
)

// Policy decides how a Manager fans an operation out to its caches.
type Policy int

const (
	// Serial runs caches one after another, highest priority first.
	Serial Policy = iota
	// Concurrent runs every cache at once.
	Concurrent
	// HighestOnly uses only the highest priority cache.
	HighestOnly
	// LowestOnly uses only the lowest priority cache.
	LowestOnly
)

func (p Policy) String() string {
	switch p {
	case Serial:
		return "serial"
	case Concurrent:
		return "concurrent"
	case HighestOnly:
		return "highest_only"
	case LowestOnly:
		return "lowest_only"
	default:
		return "unknown"
	}
}

// Manager combines several caches into one. The cache added last has the
// highest priority.
type Manager struct {
	mu     sync.RWMutex
	caches []Cache

	QueryPolicy    Policy
	StorePolicy    Policy
	RemovePolicy   Policy
	ContainsPolicy Policy
	ClearPolicy    Policy
}

// NewManager creates a manager over caches, lowest priority first.
func NewManager(caches ...Cache) *Manager {
	return &Manager{
		caches:         append([]Cache(nil), caches...),
		QueryPolicy:    Serial,
		StorePolicy:    HighestOnly,
		RemovePolicy:   Concurrent,
		ContainsPolicy: Serial,
		ClearPolicy:    Concurrent,
	}
}

// Add appends c as the new highest priority cache.
func (m *Manager) Add(c Cache) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches = append(m.caches, c)
}

// RemoveCache drops c.
func (m *Manager) RemoveCache(c Cache) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.caches {
		if existing == c {
			m.caches = append(m.caches[:i], m.caches[i+1:]...)
			return
		}
	}
}

// Caches returns the caches, highest priority first.
func (m *Manager) Caches() []Cache {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Cache, len(m.caches))
	for i, c := range m.caches {
		out[len(m.caches)-1-i] = c
	}
	return out
}

// selected returns the caches a policy applies to, highest first.
func (m *Manager) selected(p Policy) []Cache {
	caches := m.Caches()
	if len(caches) == 0 {
		return nil
	}
	switch p {
	case HighestOnly:
		return caches[:1]
	case LowestOnly:
		return caches[len(caches)-1:]
	default:
		return caches
	}
}

// Query implements Cache.
func (m *Manager) Query(ctx context.Context, key string, opts QueryOptions, done QueryFunc) operation.Operation {
	token := operation.New()
	token.Start()
	deliver := func(img *coder.Image, data []byte, tier Type) {
		token.DeliverFinal(dispatch.Inline(), func() {
			if done != nil {
				done(img, data, tier)
			}
		})
	}

	caches := m.selected(m.QueryPolicy)
	if len(caches) == 0 {
		deliver(nil, nil, None)
		return token
	}
	if m.QueryPolicy == Concurrent && len(caches) > 1 {
		m.queryConcurrent(ctx, token, caches, key, opts, deliver)
		return token
	}
	m.querySerial(ctx, token, caches, key, opts, deliver)
	return token
}

func (m *Manager) querySerial(ctx context.Context, token *operation.Token, caches []Cache, key string, opts QueryOptions, deliver QueryFunc) {
	var mu sync.Mutex
	var current operation.Operation
	stage := 0
	token.OnCancel(func() {
		mu.Lock()
		op := current
		mu.Unlock()
		if op != nil {
			op.Cancel()
		}
	})

	var next func(i int)
	next = func(i int) {
		if i == len(caches) || token.IsCancelled() {
			deliver(nil, nil, None)
			return
		}
		mu.Lock()
		stage = i
		mu.Unlock()
		op := caches[i].Query(ctx, key, opts, func(img *coder.Image, data []byte, tier Type) {
			if img != nil || data != nil {
				deliver(img, data, tier)
				return
			}
			next(i + 1)
		})
		mu.Lock()
		if stage == i {
			current = op
		}
		mu.Unlock()
		if token.IsCancelled() && op != nil {
			op.Cancel()
		}
	}
	next(0)
}

func (m *Manager) queryConcurrent(ctx context.Context, token *operation.Token, caches []Cache, key string, opts QueryOptions, deliver QueryFunc) {
	var mu sync.Mutex
	ops := make([]operation.Operation, len(caches))
	remaining := len(caches)
	won := false

	cancelOthers := func(except int) {
		mu.Lock()
		pending := append([]operation.Operation(nil), ops...)
		mu.Unlock()
		for i, op := range pending {
			if i != except && op != nil {
				op.Cancel()
			}
		}
	}
	token.OnCancel(func() { cancelOthers(-1) })

	for i, c := range caches {
		mu.Lock()
		stop := won
		mu.Unlock()
		if stop {
			break
		}
		op := c.Query(ctx, key, opts, func(img *coder.Image, data []byte, tier Type) {
			mu.Lock()
			remaining--
			hit := img != nil || data != nil
			first := hit && !won
			if first {
				won = true
			}
			allMissed := remaining == 0 && !won
			mu.Unlock()

			switch {
			case first:
				cancelOthers(i)
				deliver(img, data, tier)
			case allMissed:
				deliver(nil, nil, None)
			}
		})
		mu.Lock()
		ops[i] = op
		mu.Unlock()
	}
}

// Store implements Cache.
func (m *Manager) Store(ctx context.Context, img *coder.Image, data []byte, key string, typ Type, done DoneFunc) {
	m.fanOut(ctx, m.StorePolicy, done, func(c Cache, cb DoneFunc) {
		c.Store(ctx, img, data, key, typ, cb)
	})
}

// Remove implements Cache.
func (m *Manager) Remove(ctx context.Context, key string, typ Type, done DoneFunc) {
	m.fanOut(ctx, m.RemovePolicy, done, func(c Cache, cb DoneFunc) {
		c.Remove(ctx, key, typ, cb)
	})
}

// Clear implements Cache.
func (m *Manager) Clear(ctx context.Context, typ Type, done DoneFunc) {
	m.fanOut(ctx, m.ClearPolicy, done, func(c Cache, cb DoneFunc) {
		c.Clear(ctx, typ, cb)
	})
}

// fanOut runs op on the caches selected by p and reports the first error
// once all have finished.
func (m *Manager) fanOut(ctx context.Context, p Policy, done DoneFunc, op func(Cache, DoneFunc)) {
	caches := m.selected(p)
	switch {
	case len(caches) == 0:
		finish(done, nil)
		return
	case len(caches) == 1:
		op(caches[0], done)
		return
	}

	await := func(c Cache) error {
		ch := make(chan error, 1)
		op(c, func(err error) { ch <- err })
		select {
		case err := <-ch:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		if p != Concurrent {
			var first error
			for _, c := range caches {
				if err := await(c); err != nil && first == nil {
					first = err
				}
			}
			finish(done, first)
			return
		}

		var g errgroup.Group
		for _, c := range caches {
			g.Go(func() error { return await(c) })
		}
		if err := g.Wait(); err != nil {
			finish(done, fmt.Errorf("cache fan-out: %w", err))
			return
		}
		finish(done, nil)
	}()
}

// Contains implements Cache.
func (m *Manager) Contains(ctx context.Context, key string, typ Type, done ContainsFunc) {
	report := func(tier Type) {
		if done != nil {
			done(tier)
		}
	}

	caches := m.selected(m.ContainsPolicy)
	if len(caches) == 0 {
		report(None)
		return
	}

	if m.ContainsPolicy != Concurrent {
		var next func(i int)
		next = func(i int) {
			if i == len(caches) {
				report(None)
				return
			}
			caches[i].Contains(ctx, key, typ, func(tier Type) {
				if tier != None {
					report(tier)
					return
				}
				next(i + 1)
			})
		}
		next(0)
		return
	}

	var mu sync.Mutex
	remaining := len(caches)
	reported := false
	for _, c := range caches {
		c.Contains(ctx, key, typ, func(tier Type) {
			mu.Lock()
			remaining--
			first := tier != None && !reported
			if first {
				reported = true
			}
			last := remaining == 0 && !reported
			mu.Unlock()

			if first {
				report(tier)
			} else if last {
				report(None)
			}
		})
	}
}
