package imageloader

import (
	"image"
	"net/url"
	"strings"

	"github.com/jmgilman/go/imageloader/cache"
	"github.com/jmgilman/go/imageloader/coder"
	"github.com/jmgilman/go/imageloader/dispatch"
	"github.com/jmgilman/go/imageloader/loader"
	"github.com/jmgilman/go/imageloader/transform"
)

// Options are per-request flags.
type Options uint

const (
	// RetryFailed loads URLs on the failure blacklist and removes them
	// from it on success.
	RetryFailed Options = 1 << iota
	// LowPriority queues the download behind default requests.
	LowPriority
	// ProgressiveLoad delivers partial images while downloading.
	ProgressiveLoad
	// RefreshCached delivers a cached image and then revalidates it
	// against the server.
	RefreshCached
	// HandleCookies sends and stores cookies with the download.
	HandleCookies
	// AllowInvalidTLS accepts untrusted certificates.
	AllowInvalidTLS
	// HighPriority moves the download to the front of the queue.
	HighPriority
	// ScaleDownLargeImages limits the decoded size of large images.
	ScaleDownLargeImages
	// QueryMemoryData also reads the bytes on a memory hit.
	QueryMemoryData
	// QueryMemoryDataSync reads those bytes synchronously.
	QueryMemoryDataSync
	// QueryDiskDataSync reads the disk tier synchronously.
	QueryDiskDataSync
	// FromCacheOnly never invokes the loader.
	FromCacheOnly
	// FromLoaderOnly skips the cache query.
	FromLoaderOnly
	// AvoidDecodeImage returns bytes without decoding them.
	AvoidDecodeImage
	// DecodeFirstFrameOnly decodes only the first frame of animations.
	DecodeFirstFrameOnly
	// TransformAnimatedImage applies the transformer to animated images,
	// which are left untouched otherwise.
	TransformAnimatedImage
	// WaitStoreCache delays the completion until the cache store has
	// finished.
	WaitStoreCache
)

var optionNames = []struct {
	flag Options
	name string
}{
	{RetryFailed, "retry_failed"},
	{LowPriority, "low_priority"},
	{ProgressiveLoad, "progressive_load"},
	{RefreshCached, "refresh_cached"},
	{HandleCookies, "handle_cookies"},
	{AllowInvalidTLS, "allow_invalid_tls"},
	{HighPriority, "high_priority"},
	{ScaleDownLargeImages, "scale_down_large_images"},
	{QueryMemoryData, "query_memory_data"},
	{QueryMemoryDataSync, "query_memory_data_sync"},
	{QueryDiskDataSync, "query_disk_data_sync"},
	{FromCacheOnly, "from_cache_only"},
	{FromLoaderOnly, "from_loader_only"},
	{AvoidDecodeImage, "avoid_decode_image"},
	{DecodeFirstFrameOnly, "decode_first_frame_only"},
	{TransformAnimatedImage, "transform_animated_image"},
	{WaitStoreCache, "wait_store_cache"},
}

// Has reports whether every flag of f is set.
func (o Options) Has(f Options) bool {
	return o&f == f
}

// String returns the set flags joined with "|".
func (o Options) String() string {
	var names []string
	for _, n := range optionNames {
		if o.Has(n.flag) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// ParseOptions parses flag names as printed by String.
func ParseOptions(names ...string) (Options, bool) {
	var o Options
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || name == "none" {
			continue
		}
		found := false
		for _, n := range optionNames {
			if n.name == name {
				o |= n.flag
				found = true
				break
			}
		}
		if !found {
			return 0, false
		}
	}
	return o, true
}

func (o Options) priority() loader.Priority {
	switch {
	case o.Has(HighPriority):
		return loader.PriorityHigh
	case o.Has(LowPriority):
		return loader.PriorityLow
	default:
		return loader.PriorityDefault
	}
}

func (o Options) cacheFlags() cache.Options {
	var flags cache.Options
	for _, m := range []struct {
		from Options
		to   cache.Options
	}{
		{QueryMemoryData, cache.QueryMemoryData},
		{QueryMemoryDataSync, cache.QueryMemoryDataSync},
		{QueryDiskDataSync, cache.QueryDiskDataSync},
		{ScaleDownLargeImages, cache.ScaleDownLargeImages},
		{AvoidDecodeImage, cache.AvoidDecodeImage},
		{DecodeFirstFrameOnly, cache.DecodeFirstFrameOnly},
	} {
		if o.Has(m.from) {
			flags |= m.to
		}
	}
	return flags
}

// Tier returns a pointer to t for the cache type fields of LoadContext.
func Tier(t cache.Type) *cache.Type {
	return &t
}

// LoadContext carries per-request collaborators and values. Unset fields
// fall back to the Manager's configuration.
type LoadContext struct {
	// Cache, Loader, Transformer and Coder replace the manager's.
	Cache       cache.Cache
	Loader      loader.Loader
	Transformer transform.Transformer
	Coder       coder.Coder

	// OriginalCache receives original images when a transformer is used.
	// Defaults to Cache.
	OriginalCache cache.Cache

	// CallbackQueue receives the callbacks of the request.
	CallbackQueue dispatch.Queue

	KeyFilter        KeyFilter
	CacheSerializer  CacheSerializer
	OptionsProcessor OptionsProcessor

	// QueryCacheType and StoreCacheType default to cache.All.
	QueryCacheType *cache.Type
	StoreCacheType *cache.Type
	// OriginalQueryCacheType and OriginalStoreCacheType apply to the
	// untransformed image and default to cache.None.
	OriginalQueryCacheType *cache.Type
	OriginalStoreCacheType *cache.Type

	// Scale is the scale factor of decoded images.
	Scale float64
	// ThumbnailPixelSize requests thumbnail decoding; it is part of the
	// cache key.
	ThumbnailPixelSize  image.Point
	PreserveAspectRatio bool
	// ScaleDownLimitBytes caps the decoded size of images.
	ScaleDownLimitBytes int64

	RequestModifier  loader.RequestModifier
	ResponseModifier loader.ResponseModifier
	Decryptor        loader.Decryptor
}

func (c *LoadContext) clone() *LoadContext {
	if c == nil {
		return &LoadContext{}
	}
	cp := *c
	return &cp
}

func tierOr(t *cache.Type, def cache.Type) cache.Type {
	if t == nil {
		return def
	}
	return *t
}

func (c *LoadContext) queryCacheType() cache.Type {
	return tierOr(c.QueryCacheType, cache.All)
}

func (c *LoadContext) storeCacheType() cache.Type {
	return tierOr(c.StoreCacheType, cache.All)
}

func (c *LoadContext) originalQueryCacheType() cache.Type {
	return tierOr(c.OriginalQueryCacheType, cache.None)
}

func (c *LoadContext) originalStoreCacheType() cache.Type {
	return tierOr(c.OriginalStoreCacheType, cache.None)
}

// decodeOptions combines the context values with the decode flags.
func (c *LoadContext) decodeOptions(opts Options) coder.DecodeOptions {
	d := coder.DecodeOptions{
		Scale:               c.Scale,
		FirstFrameOnly:      opts.Has(DecodeFirstFrameOnly),
		PreserveAspectRatio: c.PreserveAspectRatio,
		ThumbnailPixelSize:  c.ThumbnailPixelSize,
		TypeHint:            coder.Undefined,
		LimitBytes:          c.ScaleDownLimitBytes,
	}
	if opts.Has(ScaleDownLargeImages) && d.LimitBytes == 0 {
		d.LimitBytes = cache.DefaultScaleDownLimitBytes
	}
	return d
}

// loaderOptions maps request flags and context values to loader options.
func (c *LoadContext) loaderOptions(opts Options) loader.Options {
	return loader.Options{
		Priority:         opts.priority(),
		HandleCookies:    opts.Has(HandleCookies),
		AllowInvalidTLS:  opts.Has(AllowInvalidTLS),
		Progressive:      opts.Has(ProgressiveLoad),
		Refresh:          opts.Has(RefreshCached),
		AvoidDecode:      opts.Has(AvoidDecodeImage),
		Decode:           c.decodeOptions(opts),
		RequestModifier:  c.RequestModifier,
		ResponseModifier: c.ResponseModifier,
		Decryptor:        c.Decryptor,
	}
}

// KeyFilter maps a URL to its cache key. An empty key disables caching
// for the request.
type KeyFilter interface {
	CacheKey(u *url.URL) string
}

// KeyFilterFunc adapts a function to KeyFilter.
type KeyFilterFunc func(u *url.URL) string

// CacheKey implements KeyFilter.
func (f KeyFilterFunc) CacheKey(u *url.URL) string {
	return f(u)
}

// CacheSerializer decides the bytes written to disk for a loaded image.
// data is the downloaded payload and is nil when the image was
// transformed. Returning nil lets the cache encode the image itself.
type CacheSerializer interface {
	CacheData(img *coder.Image, data []byte, u *url.URL) []byte
}

// CacheSerializerFunc adapts a function to CacheSerializer.
type CacheSerializerFunc func(img *coder.Image, data []byte, u *url.URL) []byte

// CacheData implements CacheSerializer.
func (f CacheSerializerFunc) CacheData(img *coder.Image, data []byte, u *url.URL) []byte {
	return f(img, data, u)
}

// OptionsProcessor rewrites the options and context of a request before
// it starts.
type OptionsProcessor interface {
	Process(u *url.URL, opts Options, lctx *LoadContext) (Options, *LoadContext)
}

// OptionsProcessorFunc adapts a function to OptionsProcessor.
type OptionsProcessorFunc func(u *url.URL, opts Options, lctx *LoadContext) (Options, *LoadContext)

// Process implements OptionsProcessor.
func (f OptionsProcessorFunc) Process(u *url.URL, opts Options, lctx *LoadContext) (Options, *LoadContext) {
	return f(u, opts, lctx)
}
