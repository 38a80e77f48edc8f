package imageloader

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jmgilman/go/imageloader/cache"
	"github.com/jmgilman/go/imageloader/coder"
	"github.com/jmgilman/go/imageloader/dispatch"
	"github.com/jmgilman/go/imageloader/internal/logging"
	"github.com/jmgilman/go/imageloader/operation"
)

// DefaultMaxConcurrentPrefetchCount bounds the loads of one Prefetch call.
const DefaultMaxConcurrentPrefetchCount = 3

// PrefetchProgressFunc receives the number of finished URLs after each
// one completes. finished counts failures too.
type PrefetchProgressFunc func(finished, total int)

// PrefetchDoneFunc receives the final counts; skipped is the number of
// URLs that failed.
type PrefetchDoneFunc func(finished, skipped int)

// Prefetcher warms the cache with a list of URLs. Fields must be set
// before the first Prefetch call.
type Prefetcher struct {
	manager *Manager

	// Options apply to every load. Defaults to LowPriority.
	Options Options
	// Context applies to every load; its callback queue is ignored.
	Context *LoadContext
	// MaxConcurrentPrefetchCount bounds the loads of one Prefetch call.
	MaxConcurrentPrefetchCount int
	// CallbackQueue receives progress and done callbacks. Defaults to
	// dispatch.Main().
	CallbackQueue dispatch.Queue

	mu     sync.Mutex
	tokens map[*PrefetchToken]struct{}
}

// NewPrefetcher creates a prefetcher that loads through m. A nil m uses
// Default().
func NewPrefetcher(m *Manager) *Prefetcher {
	if m == nil {
		m = Default()
	}
	return &Prefetcher{
		manager:                    m,
		Options:                    LowPriority,
		MaxConcurrentPrefetchCount: DefaultMaxConcurrentPrefetchCount,
		CallbackQueue:              dispatch.Main(),
		tokens:                     make(map[*PrefetchToken]struct{}),
	}
}

var (
	defaultPrefetcherOnce sync.Once
	defaultPrefetcher     *Prefetcher
)

// DefaultPrefetcher returns the process-wide prefetcher over Default().
func DefaultPrefetcher() *Prefetcher {
	defaultPrefetcherOnce.Do(func() {
		defaultPrefetcher = NewPrefetcher(Default())
	})
	return defaultPrefetcher
}

// PrefetchToken is the handle of one Prefetch call.
type PrefetchToken struct {
	token *operation.Token
	urls  []string
	done  chan struct{}

	mu  sync.Mutex
	ops []*CombinedOperation

	reportMu sync.Mutex
	finished int
	skipped  int
}

// URLs returns the URLs being prefetched.
func (t *PrefetchToken) URLs() []string {
	return append([]string(nil), t.urls...)
}

// Cancel stops the prefetch. Running loads are cancelled and no further
// callback is delivered.
func (t *PrefetchToken) Cancel() {
	t.token.Cancel()
}

// IsCancelled reports whether the prefetch was cancelled.
func (t *PrefetchToken) IsCancelled() bool {
	return t.token.IsCancelled()
}

// Done is closed once every load has finished or the prefetch was
// cancelled and its workers returned.
func (t *PrefetchToken) Done() <-chan struct{} {
	return t.done
}

// Counts returns the finished and skipped URL counts so far.
func (t *PrefetchToken) Counts() (finished, skipped int) {
	t.reportMu.Lock()
	defer t.reportMu.Unlock()
	return t.finished, t.skipped
}

func (t *PrefetchToken) add(op *CombinedOperation) {
	t.mu.Lock()
	t.ops = append(t.ops, op)
	t.mu.Unlock()
	if t.token.IsCancelled() {
		op.Cancel()
	}
}

func (t *PrefetchToken) cancelLoads() {
	t.mu.Lock()
	ops := t.ops
	t.ops = nil
	t.mu.Unlock()
	for _, op := range ops {
		op.Cancel()
	}
}

// record counts one finished URL and reports progress. Delivery happens
// under reportMu so progress reaches the queue in counting order.
func (t *PrefetchToken) record(failed bool, q dispatch.Queue, progress PrefetchProgressFunc) {
	t.reportMu.Lock()
	defer t.reportMu.Unlock()
	t.finished++
	if failed {
		t.skipped++
	}
	if progress == nil {
		return
	}
	finished, total := t.finished, len(t.urls)
	t.token.Deliver(q, func() { progress(finished, total) })
}

// Prefetch loads urls into the cache, at most MaxConcurrentPrefetchCount
// at a time. done is called once unless the token is cancelled; an empty
// list completes immediately with (0, 0).
func (p *Prefetcher) Prefetch(ctx context.Context, urls []string, progress PrefetchProgressFunc, done PrefetchDoneFunc) *PrefetchToken {
	t := &PrefetchToken{
		token: operation.New(),
		urls:  append([]string(nil), urls...),
		done:  make(chan struct{}),
	}
	t.token.Start()

	queue := p.CallbackQueue
	if queue == nil {
		queue = dispatch.Main()
	}
	if done == nil {
		done = func(int, int) {}
	}

	if len(urls) == 0 {
		t.token.DeliverFinal(queue, func() { done(0, 0) })
		close(t.done)
		return t
	}

	ctx, cancel := context.WithCancel(ctx)
	t.token.OnCancel(func() {
		cancel()
		t.cancelLoads()
	})
	p.track(t)

	logger := p.manager.logger.WithOperation(logging.OpPrefetch).With("count", len(urls))
	logger.Debug(ctx, "prefetch started")

	go func() {
		defer close(t.done)
		defer cancel()
		defer p.untrack(t)

		limit := p.MaxConcurrentPrefetchCount
		if limit <= 0 {
			limit = DefaultMaxConcurrentPrefetchCount
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for _, raw := range t.urls {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				p.prefetchOne(gctx, t, raw, queue, progress)
				return nil
			})
		}
		_ = g.Wait()

		finished, skipped := t.Counts()
		logger.Debug(ctx, "prefetch finished", "finished", finished, "skipped", skipped)
		t.token.DeliverFinal(queue, func() { done(finished, skipped) })
	}()
	return t
}

func (p *Prefetcher) prefetchOne(ctx context.Context, t *PrefetchToken, raw string, q dispatch.Queue, progress PrefetchProgressFunc) {
	if t.token.IsCancelled() || ctx.Err() != nil {
		return
	}

	lctx := p.Context.clone()
	lctx.CallbackQueue = dispatch.Inline()

	failed := true
	op := p.manager.Load(ctx, raw, p.Options, lctx, nil, func(img *coder.Image, data []byte, err error, _ cache.Type, finished bool, _ *url.URL) {
		if finished {
			failed = err != nil || (img == nil && data == nil)
		}
	})
	t.add(op)

	stop := context.AfterFunc(ctx, op.Cancel)
	<-op.Done()
	stop()

	if op.IsCancelled() {
		return
	}
	t.record(failed, q, progress)
}

func (p *Prefetcher) track(t *PrefetchToken) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[t] = struct{}{}
}

func (p *Prefetcher) untrack(t *PrefetchToken) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tokens, t)
}

// CancelPrefetching cancels every running Prefetch call.
func (p *Prefetcher) CancelPrefetching() {
	p.mu.Lock()
	tokens := make([]*PrefetchToken, 0, len(p.tokens))
	for t := range p.tokens {
		tokens = append(tokens, t)
	}
	p.mu.Unlock()

	for _, t := range tokens {
		t.Cancel()
	}
}
