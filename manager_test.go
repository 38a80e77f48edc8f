package imageloader

import (
	"context"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"net/url"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmgilman/go/fs/billy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/go/imageloader/cache"
	cachemocks "github.com/jmgilman/go/imageloader/cache/mocks"
	"github.com/jmgilman/go/imageloader/coder"
	"github.com/jmgilman/go/imageloader/dispatch"
	"github.com/jmgilman/go/imageloader/errs"
	"github.com/jmgilman/go/imageloader/internal/testutil"
	"github.com/jmgilman/go/imageloader/loader"
	loadermocks "github.com/jmgilman/go/imageloader/loader/mocks"
	"github.com/jmgilman/go/imageloader/operation"
	"github.com/jmgilman/go/imageloader/transform"
)

const testURL = "http://example.com/a.png"

type loadResult struct {
	img      *coder.Image
	data     []byte
	err      error
	tier     cache.Type
	finished bool
}

// recorder collects the callbacks of one or more loads.
type recorder struct {
	mu      sync.Mutex
	results []loadResult
	final   chan loadResult
}

func newRecorder() *recorder {
	return &recorder{final: make(chan loadResult, 16)}
}

func (r *recorder) done(img *coder.Image, data []byte, err error, tier cache.Type, finished bool, _ *url.URL) {
	res := loadResult{img: img, data: data, err: err, tier: tier, finished: finished}
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
	if finished {
		r.final <- res
	}
}

func (r *recorder) all() []loadResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]loadResult(nil), r.results...)
}

func (r *recorder) wait(t *testing.T) loadResult {
	t.Helper()
	select {
	case res := <-r.final:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("load did not complete")
		return loadResult{}
	}
}

// loadSync runs a load whose collaborators all answer synchronously.
func loadSync(t *testing.T, m *Manager, raw string, opts Options, lctx *LoadContext) []loadResult {
	t.Helper()
	rec := newRecorder()
	m.Load(context.Background(), raw, opts, lctx, nil, rec.done)
	return rec.all()
}

func testImage() *coder.Image {
	return coder.NewImage(testutil.Gradient(4, 4), coder.PNG)
}

func newMemoryFSCache(t *testing.T) *cache.ImageCache {
	t.Helper()
	c, err := cache.New(context.Background(), cache.Config{
		Root:            "/cache",
		Namespace:       "test",
		CleanupInterval: -1,
	}, cache.WithFS(billy.NewMemory()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// missCache misses every query and accepts every store synchronously.
func missCache() *cachemocks.CacheMock {
	return &cachemocks.CacheMock{
		QueryFunc: func(_ context.Context, _ string, _ cache.QueryOptions, done cache.QueryFunc) operation.Operation {
			token := operation.New()
			done(nil, nil, cache.None)
			return token
		},
		StoreFunc: func(_ context.Context, _ *coder.Image, _ []byte, _ string, _ cache.Type, done cache.DoneFunc) {
			if done != nil {
				done(nil)
			}
		},
	}
}

// staticLoader completes every load synchronously with the given result.
func staticLoader(img *coder.Image, data []byte, err error) *loadermocks.LoaderMock {
	return &loadermocks.LoaderMock{
		CanLoadFunc: func(*url.URL) bool { return true },
		LoadFunc: func(_ context.Context, _ *url.URL, _ loader.Options, _ loader.ProgressFunc, done loader.CompletedFunc) operation.Operation {
			done(img, data, err, true)
			return operation.New()
		},
		ShouldBlockFailedURLFunc: func(_ *url.URL, err error) bool { return errs.ShouldBlock(err) },
	}
}

type heldLoad struct {
	u        *url.URL
	opts     loader.Options
	token    *operation.Token
	progress loader.ProgressFunc
	done     loader.CompletedFunc
}

// holdingLoader never completes on its own; each load is handed to the
// test through the returned channel.
func holdingLoader() (*loadermocks.LoaderMock, chan heldLoad) {
	held := make(chan heldLoad, 64)
	return &loadermocks.LoaderMock{
		CanLoadFunc: func(*url.URL) bool { return true },
		LoadFunc: func(_ context.Context, u *url.URL, opts loader.Options, progress loader.ProgressFunc, done loader.CompletedFunc) operation.Operation {
			token := operation.New()
			token.Start()
			held <- heldLoad{u: u, opts: opts, token: token, progress: progress, done: done}
			return token
		},
		ShouldBlockFailedURLFunc: func(_ *url.URL, err error) bool { return errs.ShouldBlock(err) },
	}, held
}

func TestManager_InvalidURL(t *testing.T) {
	ld := staticLoader(testImage(), nil, nil)
	m := New(WithCache(missCache()), WithLoader(ld))

	for _, raw := range []string{"", "no-scheme/a.png", "http://[::1"} {
		t.Run(raw, func(t *testing.T) {
			results := loadSync(t, m, raw, 0, nil)
			require.Len(t, results, 1, "invalid urls are reported synchronously")
			assert.ErrorIs(t, results[0].err, ErrInvalidURL)
			assert.Equal(t, cache.None, results[0].tier)
			assert.True(t, results[0].finished)
		})
	}
	assert.Empty(t, ld.LoadCalls())
	assert.False(t, m.IsRunning())
}

func TestManager_LoadStoresAndServesFromMemory(t *testing.T) {
	payload := testutil.PNG(t, 8, 8)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)

	d, err := loader.NewDownloader()
	require.NoError(t, err)
	c := newMemoryFSCache(t)
	m := New(WithCache(c), WithLoader(d))
	raw := srv.URL + "/img.png"

	rec := newRecorder()
	m.Load(context.Background(), raw, 0, nil, nil, rec.done)
	res := rec.wait(t)
	require.NoError(t, res.err)
	require.NotNil(t, res.img)
	assert.Equal(t, payload, res.data)
	assert.Equal(t, cache.None, res.tier)
	assert.Len(t, rec.all(), 1)
	assert.Same(t, res.img, c.ImageFromMemory(raw))

	var second *loadResult
	m.Load(context.Background(), raw, 0, nil, nil, func(img *coder.Image, data []byte, err error, tier cache.Type, finished bool, _ *url.URL) {
		second = &loadResult{img: img, data: data, err: err, tier: tier, finished: finished}
	})
	require.NotNil(t, second, "memory hits are delivered before Load returns")
	assert.NoError(t, second.err)
	assert.Equal(t, cache.Memory, second.tier)
	assert.Same(t, res.img, second.img)
	assert.Equal(t, int32(1), hits.Load())
}

func TestManager_ScaleDownUsesItsOwnKey(t *testing.T) {
	payload := testutil.PNG(t, 400, 400)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)

	d, err := loader.NewDownloader()
	require.NoError(t, err)
	c := newMemoryFSCache(t)
	m := New(WithCache(c), WithLoader(d))
	raw := srv.URL + "/img.png"
	scaled := &LoadContext{ScaleDownLimitBytes: 100 * 100 * 4}

	load := func(opts Options, lctx *LoadContext) loadResult {
		rec := newRecorder()
		m.Load(context.Background(), raw, opts|WaitStoreCache, lctx, nil, rec.done)
		res := rec.wait(t)
		require.NoError(t, res.err)
		require.NotNil(t, res.img)
		return res
	}

	small := load(ScaleDownLargeImages, scaled)
	assert.Equal(t, image.Pt(100, 100), small.img.PixelSize())
	assert.Equal(t, cache.None, small.tier)

	full := load(0, nil)
	assert.Equal(t, image.Pt(400, 400), full.img.PixelSize(), "a plain load never sees the scaled image")
	assert.Equal(t, cache.None, full.tier)
	assert.Equal(t, int32(2), hits.Load())

	again := load(ScaleDownLargeImages, scaled)
	assert.Equal(t, image.Pt(100, 100), again.img.PixelSize())
	assert.Equal(t, cache.Memory, again.tier)

	u := mustParse(t, raw)
	assert.Same(t, full.img, c.ImageFromMemory(m.CacheKey(u, nil)))
	assert.Same(t, small.img, c.ImageFromMemory(m.LoadCacheKey(u, ScaleDownLargeImages, scaled)))
}

func TestManager_DiskHitPromotionFollowsStoreType(t *testing.T) {
	payload := testutil.PNG(t, 4, 4)
	ld := staticLoader(nil, nil, errs.BadImageData(testURL, "unused"))

	t.Run("default store type promotes", func(t *testing.T) {
		c := newMemoryFSCache(t)
		require.NoError(t, c.StoreDataToDisk(context.Background(), payload, testURL))
		m := New(WithCache(c), WithLoader(ld))

		rec := newRecorder()
		m.Load(context.Background(), testURL, 0, &LoadContext{QueryCacheType: Tier(cache.Disk)}, nil, rec.done)
		res := rec.wait(t)
		require.NoError(t, res.err)
		assert.Equal(t, cache.Disk, res.tier)
		assert.Same(t, res.img, c.ImageFromMemory(testURL))
	})

	t.Run("disk store type keeps memory empty", func(t *testing.T) {
		c := newMemoryFSCache(t)
		require.NoError(t, c.StoreDataToDisk(context.Background(), payload, testURL))
		m := New(WithCache(c), WithLoader(ld))

		rec := newRecorder()
		m.Load(context.Background(), testURL, 0, &LoadContext{StoreCacheType: Tier(cache.Disk)}, nil, rec.done)
		res := rec.wait(t)
		require.NoError(t, res.err)
		assert.Equal(t, cache.Disk, res.tier)
		assert.Nil(t, c.ImageFromMemory(testURL))
	})
	assert.Empty(t, ld.LoadCalls())
}

func TestManager_NotFoundBlacklistsURL(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	d, err := loader.NewDownloader()
	require.NoError(t, err)
	m := New(WithCache(newMemoryFSCache(t)), WithLoader(d))
	raw := srv.URL + "/missing.png"

	load := func() loadResult {
		rec := newRecorder()
		m.Load(context.Background(), raw, 0, nil, nil, rec.done)
		return rec.wait(t)
	}

	res := load()
	require.ErrorIs(t, res.err, ErrInvalidDownloadStatusCode)
	status, ok := errs.StatusCode(res.err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, status)
	assert.True(t, m.IsFailedURL(raw))

	res = load()
	assert.ErrorIs(t, res.err, ErrBlacklisted)
	assert.Equal(t, int32(1), hits.Load(), "blacklisted urls are not fetched")

	m.RemoveFailedURL(raw)
	res = load()
	assert.ErrorIs(t, res.err, ErrInvalidDownloadStatusCode)
	assert.Equal(t, int32(2), hits.Load())
}

func TestManager_Blacklist(t *testing.T) {
	img := testImage()
	ld := staticLoader(nil, nil, errs.BadImageData(testURL, "corrupt"))
	m := New(WithCache(missCache()), WithLoader(ld))

	results := loadSync(t, m, testURL, 0, nil)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].err, ErrBadImageData)
	assert.True(t, m.IsFailedURL(testURL))

	results = loadSync(t, m, testURL, 0, nil)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].err, ErrBlacklisted)
	assert.Len(t, ld.LoadCalls(), 1)

	results = loadSync(t, m, testURL, RetryFailed, nil)
	assert.ErrorIs(t, results[0].err, ErrBadImageData)
	assert.Len(t, ld.LoadCalls(), 2, "RetryFailed bypasses the blacklist")

	ld.LoadFunc = func(_ context.Context, _ *url.URL, _ loader.Options, _ loader.ProgressFunc, done loader.CompletedFunc) operation.Operation {
		done(img, nil, nil, true)
		return operation.New()
	}
	results = loadSync(t, m, testURL, RetryFailed, nil)
	require.NoError(t, results[0].err)
	assert.False(t, m.IsFailedURL(testURL), "a successful retry clears the url")

	m.blacklist.Add("http://example.com/b.png")
	m.blacklist.Add("http://example.com/c.png")
	m.RemoveAllFailedURLs()
	assert.Zero(t, m.blacklist.Len())
}

func TestManager_BlacklistMatchesReencodedURLs(t *testing.T) {
	raw := "http://example.com/a b.png"
	ld := staticLoader(nil, nil, errs.InvalidDownloadStatusCode(raw, http.StatusNotFound))
	m := New(WithCache(missCache()), WithLoader(ld))

	results := loadSync(t, m, raw, 0, nil)
	require.Len(t, results, 1)
	require.ErrorIs(t, results[0].err, ErrInvalidDownloadStatusCode)
	assert.True(t, m.IsFailedURL(raw))
	assert.True(t, m.IsFailedURL("http://example.com/a%20b.png"))

	m.RemoveFailedURL(raw)
	assert.False(t, m.IsFailedURL(raw))
	results = loadSync(t, m, raw, 0, nil)
	assert.ErrorIs(t, results[0].err, ErrInvalidDownloadStatusCode)
	assert.Len(t, ld.LoadCalls(), 2, "a removed url reaches the loader again")

	assert.False(t, m.IsFailedURL("http://[::1"))
	m.RemoveFailedURL("http://[::1")
}

func TestManager_TransientFailuresAreNotBlacklisted(t *testing.T) {
	for name, failure := range map[string]error{
		"timeout":     errs.Timeout(testURL, context.DeadlineExceeded),
		"network":     errs.Network(testURL, errors.New("connection reset")),
		"server":      errs.InvalidDownloadStatusCode(testURL, http.StatusServiceUnavailable),
		"cancelled":   errs.Cancelled("download cancelled"),
		"retry_later": errs.InvalidDownloadStatusCode(testURL, http.StatusTooManyRequests),
	} {
		t.Run(name, func(t *testing.T) {
			m := New(WithCache(missCache()), WithLoader(staticLoader(nil, nil, failure)))
			results := loadSync(t, m, testURL, 0, nil)
			require.Len(t, results, 1)
			assert.Error(t, results[0].err)
			assert.False(t, m.IsFailedURL(testURL))
		})
	}
}

func TestManager_ProgressiveOrdering(t *testing.T) {
	final := testImage()
	c := missCache()
	ld := &loadermocks.LoaderMock{
		CanLoadFunc: func(*url.URL) bool { return true },
		LoadFunc: func(_ context.Context, u *url.URL, _ loader.Options, progress loader.ProgressFunc, done loader.CompletedFunc) operation.Operation {
			for i := 1; i <= 3; i++ {
				progress(int64(i*10), 40, u)
				partial := *final
				partial.Partial = true
				done(&partial, nil, nil, false)
			}
			progress(40, 40, u)
			done(final, []byte("full"), nil, true)
			return operation.New()
		},
	}

	queue := dispatch.NewSerial()
	t.Cleanup(queue.Close)
	m := New(WithCache(c), WithLoader(ld), WithCallbackQueue(queue))

	var mu sync.Mutex
	var events []string
	rec := newRecorder()
	m.Load(context.Background(), testURL, ProgressiveLoad, nil,
		func(int64, int64, *url.URL) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, "progress")
		},
		func(img *coder.Image, data []byte, err error, tier cache.Type, finished bool, u *url.URL) {
			mu.Lock()
			if finished {
				events = append(events, "final")
			} else {
				events = append(events, "partial")
			}
			mu.Unlock()
			rec.done(img, data, err, tier, finished, u)
		})
	res := rec.wait(t)
	require.NoError(t, res.err)
	assert.Same(t, final, res.img)

	var finished []bool
	for _, r := range rec.all() {
		finished = append(finished, r.finished)
	}
	assert.Equal(t, []bool{false, false, false, true}, finished)

	mu.Lock()
	assert.Equal(t, []string{"progress", "partial", "progress", "partial", "progress", "partial", "progress", "final"}, events)
	mu.Unlock()

	stores := c.StoreCalls()
	require.Len(t, stores, 1, "partial images are never cached")
	assert.Same(t, final, stores[0].Img)
	assert.Equal(t, []byte("full"), stores[0].Data)
}

func TestManager_CacheOnlyAndLoaderOnly(t *testing.T) {
	t.Run("cache only miss", func(t *testing.T) {
		ld := staticLoader(testImage(), nil, nil)
		m := New(WithCache(missCache()), WithLoader(ld))

		results := loadSync(t, m, testURL, FromCacheOnly, nil)
		require.Len(t, results, 1)
		assert.Equal(t, loadResult{tier: cache.None, finished: true}, results[0])
		assert.Empty(t, ld.LoadCalls())
	})

	t.Run("loader only", func(t *testing.T) {
		c := missCache()
		m := New(WithCache(c), WithLoader(staticLoader(testImage(), nil, nil)))

		results := loadSync(t, m, testURL, FromLoaderOnly, nil)
		require.NoError(t, results[0].err)
		assert.Empty(t, c.QueryCalls())
		assert.Len(t, c.StoreCalls(), 1)
	})

	t.Run("query cache type none", func(t *testing.T) {
		c := missCache()
		m := New(WithCache(c), WithLoader(staticLoader(testImage(), nil, nil)))

		loadSync(t, m, testURL, 0, &LoadContext{QueryCacheType: Tier(cache.None), StoreCacheType: Tier(cache.Memory)})
		assert.Empty(t, c.QueryCalls())
		require.Len(t, c.StoreCalls(), 1)
		assert.Equal(t, cache.Memory, c.StoreCalls()[0].Typ)
	})

	t.Run("store cache type none", func(t *testing.T) {
		c := missCache()
		m := New(WithCache(c), WithLoader(staticLoader(testImage(), nil, nil)))

		results := loadSync(t, m, testURL, 0, &LoadContext{StoreCacheType: Tier(cache.None)})
		require.NoError(t, results[0].err)
		assert.Empty(t, c.StoreCalls())
	})
}

func TestManager_NoCapableLoader(t *testing.T) {
	ld := staticLoader(testImage(), nil, nil)
	ld.CanLoadFunc = func(*url.URL) bool { return false }
	m := New(WithCache(missCache()), WithLoader(ld))

	results := loadSync(t, m, "ftp://example.com/a.png", 0, nil)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].err, ErrInvalidURL)
	assert.Empty(t, ld.LoadCalls())
}

func TestManager_RefreshCached(t *testing.T) {
	cached := testImage()
	fresh := coder.NewImage(testutil.Solid(4, 4, color.Black), coder.PNG)

	setup := func(t *testing.T, ld *loadermocks.LoaderMock) *Manager {
		c := newMemoryFSCache(t)
		c.StoreToMemory(cached, testURL)
		return New(WithCache(c), WithLoader(ld))
	}

	t.Run("cached then network", func(t *testing.T) {
		ld := staticLoader(fresh, []byte("new"), nil)
		m := setup(t, ld)

		results := loadSync(t, m, testURL, RefreshCached, nil)
		require.Len(t, results, 2)
		assert.Equal(t, loadResult{img: cached, tier: cache.Memory, finished: true}, results[0])
		assert.Equal(t, loadResult{img: fresh, data: []byte("new"), tier: cache.None, finished: true}, results[1])
		require.Len(t, ld.LoadCalls(), 1)
		assert.True(t, ld.LoadCalls()[0].Opts.Refresh)
	})

	t.Run("not modified", func(t *testing.T) {
		m := setup(t, staticLoader(nil, nil, errs.CacheNotModified(testURL)))

		rec := newRecorder()
		op := m.Load(context.Background(), testURL, RefreshCached, nil, nil, rec.done)
		results := rec.all()
		require.Len(t, results, 1, "a 304 suppresses the second callback")
		assert.Same(t, cached, results[0].img)
		assert.Equal(t, operation.Completed, op.State())
		assert.False(t, m.IsFailedURL(testURL))
		assert.False(t, m.IsRunning())
		select {
		case <-op.Done():
		default:
			t.Fatal("operation is not done")
		}
	})

	t.Run("without refresh the loader is skipped", func(t *testing.T) {
		ld := staticLoader(fresh, nil, nil)
		m := setup(t, ld)

		results := loadSync(t, m, testURL, 0, nil)
		require.Len(t, results, 1)
		assert.Same(t, cached, results[0].img)
		assert.Empty(t, ld.LoadCalls())
	})

	t.Run("blacklisted url keeps the cached image", func(t *testing.T) {
		ld := staticLoader(fresh, nil, nil)
		m := setup(t, ld)
		m.blacklist.Add(testURL)

		results := loadSync(t, m, testURL, RefreshCached, nil)
		require.Len(t, results, 1)
		assert.Same(t, cached, results[0].img)
		assert.Equal(t, cache.Memory, results[0].tier)
		assert.Empty(t, ld.LoadCalls())
	})
}

func TestManager_Transformer(t *testing.T) {
	u := mustParse(t, testURL)
	transformedKey := "http://example.com/a-Grayscale.png"

	t.Run("stores the transformed image without data", func(t *testing.T) {
		src := testImage()
		c := missCache()
		m := New(WithCache(c), WithLoader(staticLoader(src, []byte("png"), nil)), WithTransformer(transform.Grayscale{}))
		require.Equal(t, transformedKey, m.CacheKey(u, nil))

		results := loadSync(t, m, testURL, 0, nil)
		require.Len(t, results, 1)
		require.NoError(t, results[0].err)
		assert.True(t, results[0].img.Transformed)
		assert.Equal(t, []byte("png"), results[0].data, "callers receive the downloaded bytes")

		require.Len(t, c.StoreCalls(), 1)
		store := c.StoreCalls()[0]
		assert.Equal(t, transformedKey, store.Key)
		assert.Nil(t, store.Data)
		assert.Same(t, results[0].img, store.Img)
	})

	t.Run("original store cache type", func(t *testing.T) {
		src := testImage()
		c := newMemoryFSCache(t)
		m := New(WithCache(c), WithLoader(staticLoader(src, []byte("png"), nil)), WithTransformer(transform.Grayscale{}))

		rec := newRecorder()
		m.Load(context.Background(), testURL, WaitStoreCache, &LoadContext{OriginalStoreCacheType: Tier(cache.Memory)}, nil, rec.done)
		res := rec.wait(t)
		require.NoError(t, res.err)
		assert.Same(t, res.img, c.ImageFromMemory(transformedKey))
		assert.Same(t, src, c.ImageFromMemory(testURL))
	})

	t.Run("original query derives the transformed image", func(t *testing.T) {
		src := testImage()
		c := newMemoryFSCache(t)
		c.StoreToMemory(src, testURL)
		ld := staticLoader(nil, nil, errs.BadImageData(testURL, "unused"))
		m := New(WithCache(c), WithLoader(ld), WithTransformer(transform.Grayscale{}))

		results := loadSync(t, m, testURL, 0, &LoadContext{
			QueryCacheType:         Tier(cache.Memory),
			OriginalQueryCacheType: Tier(cache.Memory),
		})
		require.Len(t, results, 1)
		require.NoError(t, results[0].err)
		assert.True(t, results[0].img.Transformed)
		assert.Equal(t, cache.Memory, results[0].tier)
		assert.Empty(t, ld.LoadCalls())
		assert.Same(t, results[0].img, c.ImageFromMemory(transformedKey))
	})

	t.Run("animated images are skipped by default", func(t *testing.T) {
		frame := testutil.Solid(2, 2, color.White)
		anim := &coder.Image{
			Image:  frame,
			Format: coder.GIF,
			Scale:  1,
			Frames: []coder.Frame{{Image: frame}, {Image: frame}},
		}
		var calls int
		counting := transform.Func{ID: "count", Fn: func(img *coder.Image, _ string) (*coder.Image, error) {
			calls++
			return img.WithImage(testutil.Solid(1, 1, color.Black)), nil
		}}
		m := New(WithCache(missCache()), WithLoader(staticLoader(anim, nil, nil)), WithTransformer(counting))

		results := loadSync(t, m, testURL, 0, nil)
		assert.Same(t, anim, results[0].img)
		assert.Zero(t, calls)

		results = loadSync(t, m, testURL, TransformAnimatedImage, nil)
		assert.Equal(t, 1, calls)
		assert.True(t, results[0].img.Transformed)
	})

	t.Run("failing transformer keeps the original", func(t *testing.T) {
		src := testImage()
		c := missCache()
		failing := transform.Func{ID: "fail", Fn: func(*coder.Image, string) (*coder.Image, error) {
			return nil, errors.New("boom")
		}}
		m := New(WithCache(c), WithLoader(staticLoader(src, []byte("png"), nil)), WithTransformer(failing))

		results := loadSync(t, m, testURL, 0, nil)
		require.NoError(t, results[0].err)
		assert.Same(t, src, results[0].img)
		assert.Equal(t, []byte("png"), c.StoreCalls()[0].Data)
	})
}

func TestManager_WaitStoreCache(t *testing.T) {
	var mu sync.Mutex
	var pending []cache.DoneFunc
	c := missCache()
	c.StoreFunc = func(_ context.Context, _ *coder.Image, _ []byte, _ string, _ cache.Type, done cache.DoneFunc) {
		mu.Lock()
		defer mu.Unlock()
		pending = append(pending, done)
	}
	m := New(WithCache(c), WithLoader(staticLoader(testImage(), []byte("d"), nil)))

	rec := newRecorder()
	m.Load(context.Background(), testURL, WaitStoreCache, nil, nil, rec.done)
	assert.Empty(t, rec.all(), "completion waits for the store")

	mu.Lock()
	require.Len(t, pending, 1)
	storeDone := pending[0]
	mu.Unlock()
	storeDone(errors.New("disk full"))

	results := rec.all()
	require.Len(t, results, 1)
	assert.NoError(t, results[0].err, "store failures never fail the load")

	rec = newRecorder()
	m.Load(context.Background(), testURL, 0, nil, nil, rec.done)
	assert.Len(t, rec.all(), 1, "without WaitStoreCache completion does not wait")
}

func TestManager_CacheSerializer(t *testing.T) {
	c := missCache()
	custom := CacheSerializerFunc(func(_ *coder.Image, data []byte, _ *url.URL) []byte {
		return append([]byte("custom:"), data...)
	})
	m := New(WithCache(c), WithLoader(staticLoader(testImage(), []byte("d"), nil)), WithCacheSerializer(custom))

	loadSync(t, m, testURL, 0, nil)
	assert.Equal(t, []byte("custom:d"), c.StoreCalls()[0].Data)

	encodeInCache := CacheSerializerFunc(func(*coder.Image, []byte, *url.URL) []byte { return nil })
	loadSync(t, m, testURL, 0, &LoadContext{CacheSerializer: encodeInCache})
	assert.Nil(t, c.StoreCalls()[1].Data, "the request serializer wins")
}

func TestManager_OptionsProcessor(t *testing.T) {
	ld := staticLoader(testImage(), nil, nil)
	c := missCache()
	cacheOnly := OptionsProcessorFunc(func(_ *url.URL, opts Options, lctx *LoadContext) (Options, *LoadContext) {
		return opts | FromCacheOnly, lctx
	})
	m := New(WithCache(c), WithLoader(ld), WithOptionsProcessor(cacheOnly))

	results := loadSync(t, m, testURL, 0, nil)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].img)
	assert.Empty(t, ld.LoadCalls())

	memoryOnly := OptionsProcessorFunc(func(_ *url.URL, opts Options, lctx *LoadContext) (Options, *LoadContext) {
		lctx.StoreCacheType = Tier(cache.Memory)
		return opts, lctx
	})
	lctx := &LoadContext{OptionsProcessor: memoryOnly}
	results = loadSync(t, m, testURL, 0, lctx)
	require.NoError(t, results[0].err)
	assert.Len(t, ld.LoadCalls(), 1, "the request processor replaces the manager's")
	assert.Equal(t, cache.Memory, c.StoreCalls()[0].Typ)
	assert.Nil(t, lctx.StoreCacheType, "the caller's context is not modified")

	dropContext := OptionsProcessorFunc(func(_ *url.URL, opts Options, _ *LoadContext) (Options, *LoadContext) {
		return opts, nil
	})
	results = loadSync(t, m, testURL, 0, &LoadContext{OptionsProcessor: dropContext})
	assert.NoError(t, results[0].err)
}

func TestManager_KeyFilter(t *testing.T) {
	c := missCache()
	stripQuery := KeyFilterFunc(func(u *url.URL) string {
		cp := *u
		cp.RawQuery = ""
		return cp.String()
	})
	m := New(WithCache(c), WithLoader(staticLoader(testImage(), nil, nil)), WithKeyFilter(stripQuery))

	loadSync(t, m, testURL+"?token=abc", 0, nil)
	assert.Equal(t, testURL, c.QueryCalls()[0].Key)
	assert.Equal(t, testURL, c.StoreCalls()[0].Key)

	noKey := KeyFilterFunc(func(*url.URL) string { return "" })
	results := loadSync(t, m, testURL, 0, &LoadContext{KeyFilter: noKey})
	require.NoError(t, results[0].err)
	assert.Len(t, c.QueryCalls(), 1, "an empty key skips the cache")
	assert.Len(t, c.StoreCalls(), 1)
}

func TestManager_AvoidDecodeImage(t *testing.T) {
	c := missCache()
	m := New(WithCache(c), WithLoader(staticLoader(nil, []byte("raw"), nil)))

	results := loadSync(t, m, testURL, AvoidDecodeImage, nil)
	require.NoError(t, results[0].err)
	assert.Nil(t, results[0].img)
	assert.Equal(t, []byte("raw"), results[0].data)
	assert.Equal(t, []byte("raw"), c.StoreCalls()[0].Data)
	assert.True(t, c.QueryCalls()[0].Opts.Flags&cache.AvoidDecodeImage != 0)

	empty := New(WithCache(missCache()), WithLoader(staticLoader(nil, nil, nil)))
	results = loadSync(t, empty, testURL, 0, nil)
	assert.ErrorIs(t, results[0].err, ErrBadImageData)
}

func TestManager_RequestCollaborators(t *testing.T) {
	managerCache, requestCache := missCache(), missCache()
	managerLoader := staticLoader(testImage(), nil, nil)
	requestLoader := staticLoader(testImage(), nil, nil)
	m := New(WithCache(managerCache), WithLoader(managerLoader))

	loadSync(t, m, testURL, HighPriority, &LoadContext{Cache: requestCache, Loader: requestLoader})
	assert.Empty(t, managerCache.QueryCalls())
	assert.Empty(t, managerLoader.LoadCalls())
	assert.Len(t, requestCache.QueryCalls(), 1)
	require.Len(t, requestLoader.LoadCalls(), 1)
	assert.Equal(t, loader.PriorityHigh, requestLoader.LoadCalls()[0].Opts.Priority)
}

func TestManager_Cancel(t *testing.T) {
	t.Run("during load", func(t *testing.T) {
		ld, held := holdingLoader()
		m := New(WithCache(missCache()), WithLoader(ld))

		rec := newRecorder()
		op := m.Load(context.Background(), testURL, 0, nil, func(int64, int64, *url.URL) {
			t.Error("progress after cancel")
		}, rec.done)
		h := <-held
		assert.True(t, m.IsRunning())
		assert.Same(t, h.token, op.LoaderOperation())

		op.Cancel()
		op.Cancel()
		assert.True(t, op.IsCancelled())
		assert.Equal(t, operation.Cancelled, op.State())
		assert.True(t, h.token.IsCancelled())
		assert.False(t, m.IsRunning())

		h.progress(1, 2, h.u)
		h.done(testImage(), nil, nil, true)
		assert.Empty(t, rec.all())
		select {
		case <-op.Done():
		default:
			t.Fatal("cancelled operation is not done")
		}
	})

	t.Run("during query", func(t *testing.T) {
		queryToken := operation.New()
		c := missCache()
		c.QueryFunc = func(context.Context, string, cache.QueryOptions, cache.QueryFunc) operation.Operation {
			queryToken.Start()
			return queryToken
		}
		ld := staticLoader(testImage(), nil, nil)
		m := New(WithCache(c), WithLoader(ld))

		op := m.Load(context.Background(), testURL, 0, nil, nil, nil)
		op.Cancel()
		assert.True(t, queryToken.IsCancelled())

		c.QueryCalls()[0].Done(nil, nil, cache.None)
		assert.Empty(t, ld.LoadCalls(), "a late query result does not start the loader")
	})

	t.Run("cancel all", func(t *testing.T) {
		ld, held := holdingLoader()
		m := New(WithCache(missCache()), WithLoader(ld))

		first := m.Load(context.Background(), testURL, 0, nil, nil, nil)
		second := m.Load(context.Background(), "http://example.com/b.png", 0, nil, nil, nil)
		<-held
		<-held

		m.CancelAll()
		assert.True(t, first.IsCancelled())
		assert.True(t, second.IsCancelled())
		assert.False(t, m.IsRunning())
	})

	t.Run("after completion", func(t *testing.T) {
		m := New(WithCache(missCache()), WithLoader(staticLoader(testImage(), nil, nil)))
		op := m.Load(context.Background(), testURL, 0, nil, nil, nil)
		op.Cancel()
		assert.Equal(t, operation.Completed, op.State())
		assert.False(t, op.IsCancelled())
	})
}

func TestManager_CancelRace(t *testing.T) {
	img := testImage()
	var wg sync.WaitGroup
	ld := &loadermocks.LoaderMock{
		CanLoadFunc: func(*url.URL) bool { return true },
		LoadFunc: func(_ context.Context, _ *url.URL, _ loader.Options, _ loader.ProgressFunc, done loader.CompletedFunc) operation.Operation {
			token := operation.New()
			token.Start()
			wg.Add(1)
			go func() {
				defer wg.Done()
				runtime.Gosched()
				done(img, nil, nil, true)
			}()
			return token
		},
	}
	m := New(WithCache(missCache()), WithLoader(ld))

	queues := []dispatch.Queue{dispatch.Inline(), dispatch.Concurrent()}
	for i := 0; i < 500; i++ {
		var calls atomic.Int32
		lctx := &LoadContext{CallbackQueue: queues[i%len(queues)]}
		op := m.Load(context.Background(), testURL, 0, lctx, nil, func(*coder.Image, []byte, error, cache.Type, bool, *url.URL) {
			calls.Add(1)
		})
		if i%3 == 0 {
			runtime.Gosched()
		}
		op.Cancel()
		wg.Wait()

		select {
		case <-op.Done():
		case <-time.After(5 * time.Second):
			t.Fatalf("iteration %d: operation never finished", i)
		}
		if op.IsCancelled() {
			require.Zero(t, calls.Load(), "iteration %d: callback ran after cancellation", i)
		} else {
			require.Equal(t, int32(1), calls.Load(), "iteration %d", i)
		}
	}
	assert.False(t, m.IsRunning())
}

func TestManager_Defaults(t *testing.T) {
	m := New(WithCache(missCache()), WithLoader(staticLoader(nil, nil, nil)), WithCallbackQueue(nil), WithLogger(nil))
	assert.NotNil(t, m.callbackQueue)
	assert.NotNil(t, m.logger)
	assert.Nil(t, m.Transformer())
	assert.NotNil(t, m.Cache())
	assert.NotNil(t, m.Loader())
}
