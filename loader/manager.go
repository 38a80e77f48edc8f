package loader

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/jmgilman/go/imageloader/coder"
	"github.com/jmgilman/go/imageloader/dispatch"
	"github.com/jmgilman/go/imageloader/errs"
	"github.com/jmgilman/go/imageloader/operation"
)

// Policy decides how a Manager picks among capable loaders.
type Policy int

const (
	// Serial tries loaders one after another until one succeeds.
	Serial Policy = iota
	// Concurrent runs every capable loader and keeps the first success.
	Concurrent
	// HighestOnly uses the highest priority capable loader.
	HighestOnly
	// LowestOnly uses the lowest priority capable loader.
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

// Manager combines several loaders into one. The loader added last has
// the highest priority.
type Manager struct {
	mu      sync.RWMutex
	loaders []Loader

	Policy Policy
}

// NewManager creates a manager over loaders, lowest priority first.
func NewManager(loaders ...Loader) *Manager {
	return &Manager{
		loaders: append([]Loader(nil), loaders...),
		Policy:  HighestOnly,
	}
}

// Add appends l as the new highest priority loader.
func (m *Manager) Add(l Loader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaders = append(m.loaders, l)
}

// Remove drops l.
func (m *Manager) Remove(l Loader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.loaders {
		if existing == l {
			m.loaders = append(m.loaders[:i], m.loaders[i+1:]...)
			return
		}
	}
}

// Loaders returns the loaders, highest priority first.
func (m *Manager) Loaders() []Loader {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Loader, len(m.loaders))
	for i, l := range m.loaders {
		out[len(m.loaders)-1-i] = l
	}
	return out
}

func (m *Manager) capable(u *url.URL) []Loader {
	var out []Loader
	for _, l := range m.Loaders() {
		if l.CanLoad(u) {
			out = append(out, l)
		}
	}
	return out
}

// CanLoad implements Loader.
func (m *Manager) CanLoad(u *url.URL) bool {
	return len(m.capable(u)) > 0
}

// ShouldBlockFailedURL implements Loader by asking the highest priority
// capable loader.
func (m *Manager) ShouldBlockFailedURL(u *url.URL, err error) bool {
	if capable := m.capable(u); len(capable) > 0 {
		return capable[0].ShouldBlockFailedURL(u, err)
	}
	return errs.ShouldBlock(err)
}

// Load implements Loader.
func (m *Manager) Load(ctx context.Context, u *url.URL, opts Options, progress ProgressFunc, done CompletedFunc) operation.Operation {
	token := operation.New()
	token.Start()
	if done == nil {
		done = func(*coder.Image, []byte, error, bool) {}
	}

	loaders := m.capable(u)
	if len(loaders) == 0 {
		raw := ""
		if u != nil {
			raw = u.String()
		}
		token.DeliverFinal(dispatch.Inline(), func() {
			done(nil, nil, errs.InvalidURL(raw, "no loader can load the url"), true)
		})
		return token
	}

	switch m.Policy {
	case HighestOnly:
		loaders = loaders[:1]
	case LowestOnly:
		loaders = loaders[len(loaders)-1:]
	case Concurrent:
		if len(loaders) > 1 {
			m.loadConcurrent(ctx, token, loaders, u, opts, progress, done)
			return token
		}
	}
	m.loadSerial(ctx, token, loaders, u, opts, progress, done)
	return token
}

// forwardProgress wraps progress so it passes through token's gate.
func forwardProgress(token *operation.Token, progress ProgressFunc) ProgressFunc {
	if progress == nil {
		return nil
	}
	return func(received, expected int64, u *url.URL) {
		token.Deliver(dispatch.Inline(), func() { progress(received, expected, u) })
	}
}

// onCancelled runs fn when op is cancelled, for operations that report
// it. A loader operation cancelled from outside never calls its done.
func onCancelled(op operation.Operation, fn func()) {
	if c, ok := op.(interface{ OnCancel(func()) }); ok {
		c.OnCancel(fn)
	}
}

func (m *Manager) loadSerial(ctx context.Context, token *operation.Token, loaders []Loader, u *url.URL, opts Options, progress ProgressFunc, done CompletedFunc) {
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
		mu.Lock()
		stage = i
		mu.Unlock()

		var settled atomic.Bool
		finish := func(img *coder.Image, data []byte, err error) {
			if !settled.CompareAndSwap(false, true) {
				return
			}
			if err != nil && i+1 < len(loaders) && !errors.Is(err, errs.ErrCancelled) && !token.IsCancelled() {
				next(i + 1)
				return
			}
			token.DeliverFinal(dispatch.Inline(), func() { done(img, data, err, true) })
		}
		op := loaders[i].Load(ctx, u, opts, forwardProgress(token, progress), func(img *coder.Image, data []byte, err error, finished bool) {
			if !finished {
				token.Deliver(dispatch.Inline(), func() { done(img, data, err, false) })
				return
			}
			finish(img, data, err)
		})
		mu.Lock()
		if stage == i {
			current = op
		}
		mu.Unlock()
		if op == nil {
			return
		}
		onCancelled(op, func() { finish(nil, nil, errs.Cancelled("loader operation cancelled")) })
		if token.IsCancelled() {
			op.Cancel()
		}
	}
	next(0)
}

func (m *Manager) loadConcurrent(ctx context.Context, token *operation.Token, loaders []Loader, u *url.URL, opts Options, progress ProgressFunc, done CompletedFunc) {
	var mu sync.Mutex
	ops := make([]operation.Operation, len(loaders))
	settled := make([]bool, len(loaders))
	remaining := len(loaders)
	won := false
	var firstErr error

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

	finish := func(i int, img *coder.Image, data []byte, err error) {
		mu.Lock()
		if settled[i] {
			mu.Unlock()
			return
		}
		settled[i] = true
		remaining--
		first := err == nil && !won
		if first {
			won = true
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
		allFailed := remaining == 0 && !won
		failure := firstErr
		mu.Unlock()

		switch {
		case first:
			cancelOthers(i)
			token.DeliverFinal(dispatch.Inline(), func() { done(img, data, nil, true) })
		case allFailed:
			token.DeliverFinal(dispatch.Inline(), func() { done(nil, nil, failure, true) })
		}
	}

	for i, l := range loaders {
		mu.Lock()
		stop := won
		mu.Unlock()
		if stop {
			break
		}
		op := l.Load(ctx, u, opts, forwardProgress(token, progress), func(img *coder.Image, data []byte, err error, finished bool) {
			if finished {
				finish(i, img, data, err)
			}
		})
		mu.Lock()
		ops[i] = op
		stop = won
		mu.Unlock()
		if op == nil {
			continue
		}
		onCancelled(op, func() { finish(i, nil, nil, errs.Cancelled("loader operation cancelled")) })
		if stop || token.IsCancelled() {
			op.Cancel()
		}
	}
}
