// Package imageloader retrieves images by URL through a memory cache, a
// disk cache and a pluggable loader.
//
// A Manager runs the pipeline for each request:
//
//	m := imageloader.New(
//	    imageloader.WithCache(c),
//	    imageloader.WithLoader(d),
//	)
//	op := m.Load(ctx, "https://example.com/a.png", imageloader.RefreshCached, nil, nil,
//	    func(img *coder.Image, data []byte, err error, tier cache.Type, finished bool, u *url.URL) { ... })
//
// The request derives a cache key from the URL, the key filter, the
// thumbnail size and the transformer, and queries the cache. On a miss the
// loader runs; its result is transformed, written back to the cache and
// delivered with tier cache.None. Memory hits are delivered on the calling
// goroutine.
//
// # Callbacks
//
// Every Load returns a CombinedOperation. Its callbacks go through the
// operation's own mailbox on the configured dispatch.Queue, in order, with
// the finished=true callback last. Once Cancel returns no callback of the
// operation starts.
//
// With RefreshCached a cached image is delivered first (finished=true,
// tier of the hit) and the loader revalidates it. The network image
// follows with tier cache.None, unless the server answered 304.
//
// # Failures
//
// Permanent loader failures put the URL on the failure blacklist; later
// loads fail with ErrBlacklisted without calling the loader until
// RemoveFailedURL is called or RetryFailed is set.
//
// # Slots and prefetching
//
// Registry keeps at most one operation per caller-defined slot and
// cancels the previous one when a slot is reused. Prefetcher warms the
// cache with a bounded number of concurrent loads.
package imageloader
