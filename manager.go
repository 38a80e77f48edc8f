package imageloader

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"

	"github.com/jmgilman/go/imageloader/cache"
	"github.com/jmgilman/go/imageloader/coder"
	"github.com/jmgilman/go/imageloader/dispatch"
	"github.com/jmgilman/go/imageloader/errs"
	"github.com/jmgilman/go/imageloader/internal/logging"
	"github.com/jmgilman/go/imageloader/loader"
	"github.com/jmgilman/go/imageloader/transform"
)

// CompletedFunc receives the result of a load. tier is the cache tier the
// image came from, cache.None for loader results and errors. Progressive
// partial images arrive with finished=false.
type CompletedFunc func(img *coder.Image, data []byte, err error, tier cache.Type, finished bool, u *url.URL)

// ProgressFunc receives download progress.
type ProgressFunc = loader.ProgressFunc

// Manager ties a cache and a loader together.
type Manager struct {
	cache         cache.Cache
	loader        loader.Loader
	transformer   transform.Transformer
	keyFilter     KeyFilter
	serializer    CacheSerializer
	processor     OptionsProcessor
	callbackQueue dispatch.Queue
	logger        *logging.Logger
	blacklist     *Blacklist

	mu      sync.Mutex
	running map[*CombinedOperation]struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithCache sets the cache. Defaults to cache.Default().
func WithCache(c cache.Cache) Option {
	return func(m *Manager) {
		m.cache = c
	}
}

// WithLoader sets the loader. Defaults to loader.DefaultDownloader().
func WithLoader(l loader.Loader) Option {
	return func(m *Manager) {
		m.loader = l
	}
}

// WithTransformer sets the transformer applied to every loaded image.
func WithTransformer(t transform.Transformer) Option {
	return func(m *Manager) {
		m.transformer = t
	}
}

// WithKeyFilter sets the manager-wide cache key filter.
func WithKeyFilter(f KeyFilter) Option {
	return func(m *Manager) {
		m.keyFilter = f
	}
}

// WithCacheSerializer sets the manager-wide cache serializer.
func WithCacheSerializer(s CacheSerializer) Option {
	return func(m *Manager) {
		m.serializer = s
	}
}

// WithOptionsProcessor sets the manager-wide options processor.
func WithOptionsProcessor(p OptionsProcessor) Option {
	return func(m *Manager) {
		m.processor = p
	}
}

// WithCallbackQueue sets the queue that receives callbacks. Defaults to
// dispatch.Inline().
func WithCallbackQueue(q dispatch.Queue) Option {
	return func(m *Manager) {
		m.callbackQueue = q
	}
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logging.FromSlog(logger)
	}
}

// New creates a Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		callbackQueue: dispatch.Inline(),
		blacklist:     NewBlacklist(),
		running:       make(map[*CombinedOperation]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cache == nil {
		m.cache = cache.Default()
	}
	if m.loader == nil {
		m.loader = loader.DefaultDownloader()
	}
	if m.callbackQueue == nil {
		m.callbackQueue = dispatch.Inline()
	}
	if m.logger == nil {
		m.logger = logging.NewNop()
	}
	return m
}

var (
	defaultOnce    sync.Once
	defaultManager *Manager
)

// Default returns the process-wide manager over cache.Default() and
// loader.DefaultDownloader().
func Default() *Manager {
	defaultOnce.Do(func() {
		defaultManager = New()
	})
	return defaultManager
}

// Cache returns the manager's cache.
func (m *Manager) Cache() cache.Cache {
	return m.cache
}

// Loader returns the manager's loader.
func (m *Manager) Loader() loader.Loader {
	return m.loader
}

// Transformer returns the manager-wide transformer, or nil.
func (m *Manager) Transformer() transform.Transformer {
	return m.transformer
}

func (m *Manager) transformerFor(lctx *LoadContext) transform.Transformer {
	if lctx != nil && lctx.Transformer != nil {
		return lctx.Transformer
	}
	return m.transformer
}

// RemoveFailedURL takes rawURL off the failure blacklist.
func (m *Manager) RemoveFailedURL(rawURL string) {
	m.blacklist.Remove(failedURLKey(rawURL))
}

// RemoveAllFailedURLs clears the failure blacklist.
func (m *Manager) RemoveAllFailedURLs() {
	m.blacklist.Clear()
}

// IsFailedURL reports whether rawURL is blacklisted.
func (m *Manager) IsFailedURL(rawURL string) bool {
	return m.blacklist.Contains(failedURLKey(rawURL))
}

// failedURLKey is the form Load records failed URLs under.
func failedURLKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.String()
}

// CancelAll cancels every running load.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	ops := make([]*CombinedOperation, 0, len(m.running))
	for op := range m.running {
		ops = append(ops, op)
	}
	m.mu.Unlock()

	for _, op := range ops {
		op.Cancel()
	}
}

// IsRunning reports whether any load is in progress.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running) > 0
}

func (m *Manager) track(op *CombinedOperation) {
	m.mu.Lock()
	m.running[op] = struct{}{}
	m.mu.Unlock()
	op.onFinish(func() {
		m.mu.Lock()
		delete(m.running, op)
		m.mu.Unlock()
	})
}

// Load fetches rawURL from the cache or, on a miss, from the loader.
// done receives exactly one finished=true call per request, or two with
// RefreshCached when the cached image changed on the server; it is never
// called after the returned operation is cancelled. progress and done
// may be nil.
func (m *Manager) Load(ctx context.Context, rawURL string, opts Options, lctx *LoadContext, progress ProgressFunc, done CompletedFunc) *CombinedOperation {
	op := newCombinedOperation()
	op.token.Start()
	if done == nil {
		done = func(*coder.Image, []byte, error, cache.Type, bool, *url.URL) {}
	}

	u, err := url.Parse(rawURL)
	if rawURL == "" || err != nil || u.Scheme == "" {
		reason := "missing scheme"
		if err != nil {
			reason = err.Error()
		} else if rawURL == "" {
			reason = "empty url"
		}
		op.deliverFinal(dispatch.Inline(), func() {
			done(nil, nil, errs.InvalidURL(rawURL, reason), cache.None, true, u)
		})
		return op
	}
	m.track(op)

	processor := m.processor
	if lctx != nil && lctx.OptionsProcessor != nil {
		processor = lctx.OptionsProcessor
	}
	lctx = lctx.clone()
	if processor != nil {
		opts, lctx = processor.Process(u, opts, lctx)
		lctx = lctx.clone()
	}

	r := &request{
		m:           m,
		ctx:         ctx,
		op:          op,
		u:           u,
		raw:         u.String(),
		opts:        opts,
		lctx:        lctx,
		key:         m.LoadCacheKey(u, opts, lctx),
		cache:       m.cache,
		loader:      m.loader,
		transformer: m.transformerFor(lctx),
		serializer:  m.serializer,
		queue:       m.callbackQueue,
		progress:    progress,
		done:        done,
	}
	if lctx.Cache != nil {
		r.cache = lctx.Cache
	}
	if lctx.Loader != nil {
		r.loader = lctx.Loader
	}
	if lctx.CacheSerializer != nil {
		r.serializer = lctx.CacheSerializer
	}
	if lctx.CallbackQueue != nil {
		r.queue = lctx.CallbackQueue
	}
	r.logger = m.logger.WithOperation(logging.OpLoad).WithURL(r.raw).With("operation_id", op.ID())
	r.logger.Debug(ctx, "load started", "key", r.key, "options", opts.String())

	r.queryCache()
	return op
}

// request is the state of one Load call.
type request struct {
	m           *Manager
	ctx         context.Context
	op          *CombinedOperation
	u           *url.URL
	raw         string
	opts        Options
	lctx        *LoadContext
	key         string
	cache       cache.Cache
	loader      loader.Loader
	transformer transform.Transformer
	serializer  CacheSerializer
	queue       dispatch.Queue
	progress    ProgressFunc
	done        CompletedFunc
	logger      *logging.Logger

	// refreshing is set once a cached image was delivered ahead of a
	// revalidating download.
	refreshing bool
}

// queryOptions queries typ; disk hits are promoted into memory only when
// store includes the memory tier.
func (r *request) queryOptions(typ, store cache.Type) cache.QueryOptions {
	flags := r.opts.cacheFlags()
	if !store.Has(cache.Memory) {
		flags |= cache.SkipMemoryPromotion
	}
	return cache.QueryOptions{
		Flags:  flags,
		Type:   typ,
		Decode: r.lctx.decodeOptions(r.opts),
		Coder:  r.lctx.Coder,
	}
}

func (r *request) originalCache() cache.Cache {
	if r.lctx.OriginalCache != nil {
		return r.lctx.OriginalCache
	}
	return r.cache
}

func (r *request) queryCache() {
	typ := r.lctx.queryCacheType()
	if r.opts.Has(FromLoaderOnly) || typ == cache.None || r.key == "" {
		r.callLoad(nil, nil, cache.None)
		return
	}

	cacheOp := r.cache.Query(r.ctx, r.key, r.queryOptions(typ, r.lctx.storeCacheType()), func(img *coder.Image, data []byte, tier cache.Type) {
		if r.op.IsCancelled() {
			return
		}
		if img == nil && data == nil && r.transformer != nil && r.lctx.originalQueryCacheType() != cache.None {
			r.queryOriginal()
			return
		}
		r.callLoad(img, data, tier)
	})
	r.op.setCacheOperation(cacheOp)
}

// queryOriginal looks up the untransformed image and, on a hit, derives
// the transformed image from it instead of loading.
func (r *request) queryOriginal() {
	key := r.m.originalCacheKey(r.u, r.opts, r.lctx)
	if key == "" {
		r.callLoad(nil, nil, cache.None)
		return
	}

	typ := r.lctx.originalQueryCacheType()
	cacheOp := r.originalCache().Query(r.ctx, key, r.queryOptions(typ, r.lctx.originalStoreCacheType()), func(img *coder.Image, data []byte, tier cache.Type) {
		if r.op.IsCancelled() {
			return
		}
		if img == nil {
			r.callLoad(nil, data, tier)
			return
		}
		final, transformed := r.transform(img, key)
		if !transformed {
			r.callLoad(img, data, tier)
			return
		}
		r.store(final, nil, func() {
			r.callLoad(final, nil, tier)
		})
	})
	r.op.setCacheOperation(cacheOp)
}

// callLoad decides whether the loader runs after a cache query.
func (r *request) callLoad(cached *coder.Image, cachedData []byte, tier cache.Type) {
	hit := cached != nil || cachedData != nil
	shouldLoad := !r.opts.Has(FromCacheOnly) &&
		(!hit || r.opts.Has(RefreshCached)) &&
		r.loader.CanLoad(r.u)

	if !shouldLoad {
		switch {
		case hit:
			r.finish(cached, cachedData, nil, tier)
		case r.opts.Has(FromCacheOnly):
			r.finish(nil, nil, nil, cache.None)
		default:
			r.finish(nil, nil, errs.InvalidURL(r.raw, "no loader can load the url"), cache.None)
		}
		return
	}

	blacklisted := !r.opts.Has(RetryFailed) && r.m.blacklist.Contains(r.raw)
	if hit {
		if blacklisted {
			r.finish(cached, cachedData, nil, tier)
			return
		}
		r.refreshing = true
		r.op.deliver(r.queue, func() {
			r.done(cached, cachedData, nil, tier, true, r.u)
		})
	} else if blacklisted {
		r.logger.Debug(r.ctx, "url is blacklisted")
		r.finish(nil, nil, errs.Blacklisted(r.raw), cache.None)
		return
	}

	var progress loader.ProgressFunc
	if r.progress != nil {
		progress = func(received, expected int64, u *url.URL) {
			r.op.deliver(r.queue, func() { r.progress(received, expected, u) })
		}
	}
	loaderOp := r.loader.Load(r.ctx, r.u, r.lctx.loaderOptions(r.opts), progress, r.loaded)
	r.op.setLoaderOperation(loaderOp)
}

func (r *request) loaded(img *coder.Image, data []byte, err error, finished bool) {
	if r.op.IsCancelled() {
		return
	}
	if !finished {
		if err == nil && img != nil {
			r.op.deliver(r.queue, func() {
				r.done(img, data, nil, cache.None, false, r.u)
			})
		}
		return
	}
	if err == nil && img == nil && len(data) == 0 {
		err = errs.BadImageData(r.raw, "loader returned no image")
	}
	if err != nil {
		r.failed(err)
		return
	}

	if r.opts.Has(RetryFailed) {
		r.m.blacklist.Remove(r.raw)
	}
	r.process(img, data)
}

func (r *request) failed(err error) {
	if r.refreshing && errors.Is(err, errs.ErrCacheNotModified) {
		r.logger.Debug(r.ctx, "cached image not modified")
		r.op.complete()
		return
	}
	if !r.opts.Has(RetryFailed) && r.loader.ShouldBlockFailedURL(r.u, err) {
		r.m.blacklist.Add(r.raw)
	}
	r.logger.Warn(r.ctx, "load failed", "error", err)
	r.finish(nil, nil, err, cache.None)
}

// process transforms, stores and delivers a loaded image.
func (r *request) process(img *coder.Image, data []byte) {
	originalKey := r.m.originalCacheKey(r.u, r.opts, r.lctx)

	if r.transformer != nil && img != nil {
		if typ := r.lctx.originalStoreCacheType(); typ != cache.None && originalKey != "" {
			r.originalCache().Store(r.ctx, img, data, originalKey, typ, r.logStore(originalKey))
		}
	}

	final, transformed := r.transform(img, originalKey)

	storeData := data
	if transformed || (final != nil && final.Thumbnail) {
		storeData = nil
	}
	r.store(final, storeData, func() {
		r.finish(final, data, nil, cache.None)
	})
}

// transform applies the request's transformer. Animated images are left
// alone unless TransformAnimatedImage is set; a failing transformer keeps
// the original image.
func (r *request) transform(img *coder.Image, key string) (*coder.Image, bool) {
	if r.transformer == nil || img == nil {
		return img, false
	}
	if img.IsAnimated() && !r.opts.Has(TransformAnimatedImage) {
		return img, false
	}

	logger := r.logger.WithOperation(logging.OpTransform).With("transformer", r.transformer.Key())
	out, err := r.transformer.Transform(img, key)
	if err != nil {
		logger.Warn(r.ctx, "transform failed", "error", err)
		return img, false
	}
	if out == nil || out == img {
		return img, false
	}
	if !out.Transformed {
		cp := *out
		cp.Transformed = true
		out = &cp
	}
	logger.Debug(r.ctx, "image transformed")
	return out, true
}

// store writes the final image with the store cache type and calls next,
// after the write when WaitStoreCache is set.
func (r *request) store(img *coder.Image, data []byte, next func()) {
	typ := r.lctx.storeCacheType()
	if r.serializer != nil && img != nil {
		data = r.serializer.CacheData(img, data, r.u)
	}
	if typ == cache.None || r.key == "" || (img == nil && len(data) == 0) {
		next()
		return
	}

	logStore := r.logStore(r.key)
	if !r.opts.Has(WaitStoreCache) {
		r.cache.Store(r.ctx, img, data, r.key, typ, logStore)
		next()
		return
	}
	r.cache.Store(r.ctx, img, data, r.key, typ, func(err error) {
		logStore(err)
		next()
	})
}

// logStore reports store failures, which never fail the load.
func (r *request) logStore(key string) cache.DoneFunc {
	return func(err error) {
		if err != nil {
			r.logger.WithKey(key).Warn(r.ctx, "cache store failed", "error", err)
		}
	}
}

func (r *request) finish(img *coder.Image, data []byte, err error, tier cache.Type) {
	r.op.deliverFinal(r.queue, func() {
		r.done(img, data, err, tier, true, r.u)
	})
}
