package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmgilman/go/fs/billy"
	"github.com/jmgilman/go/fs/core"

	"github.com/jmgilman/go/imageloader/coder"
	"github.com/jmgilman/go/imageloader/dispatch"
	"github.com/jmgilman/go/imageloader/internal/logging"
	"github.com/jmgilman/go/imageloader/internal/workqueue"
	"github.com/jmgilman/go/imageloader/operation"
)

// maintenanceKey orders clears and sweeps on the I/O queue. It cannot
// collide with a real key because real keys are never empty.
const maintenanceKey = ""

// ErrClosed is reported for work submitted after Close.
var ErrClosed = errors.New("cache: closed")

// ImageCache is the two-tier cache coordinator: an in-memory LRU of
// decoded images over a disk cache of encoded bytes. Disk work runs on a
// keyed queue so operations on one key happen in submission order.
type ImageCache struct {
	mu            sync.RWMutex
	config        Config
	memory        *MemoryCache
	disk          *DiskCache
	io            *workqueue.KeyedQueue
	coder         coder.Coder
	metrics       *DetailedMetrics
	logger        *logging.Logger
	cleanupTicker *time.Ticker
	cleanupDone   chan struct{}
	cleanupWG     sync.WaitGroup
	closed        bool
}

// New creates an ImageCache and starts its background sweep.
func New(ctx context.Context, config Config, opts ...Option) (*ImageCache, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}
	config.SetDefaults()

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fs == nil {
		o.fs = billy.NewLocal()
	}
	if o.fs.Type() == core.FSTypeLocal && !filepath.IsAbs(config.Root) {
		abs, err := filepath.Abs(config.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve cache root: %w", err)
		}
		config.Root = abs
	}
	if o.coder == nil {
		o.coder = coder.Default()
	}

	disk, err := NewDiskCache(o.fs, config.Dir(), config.diskConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize disk cache: %w", err)
	}
	if o.now != nil {
		disk.now = o.now
	}

	c := &ImageCache{
		config:      config,
		disk:        disk,
		io:          workqueue.New(config.IOConcurrency),
		coder:       o.coder,
		metrics:     NewDetailedMetrics(),
		logger:      logging.FromSlog(o.logger).With("namespace", config.Namespace),
		cleanupDone: make(chan struct{}),
	}
	if !config.DisableMemory {
		c.memory = NewMemoryCache(config.MaxMemoryCost, config.MaxMemoryCount, func(key string, cost int64) {
			c.metrics.RecordEviction(cost)
			logging.LogEviction(context.Background(), c.logger, key, cost, "memory_limit")
		})
	}

	if config.CleanupInterval > 0 {
		c.startCleanupScheduler(ctx)
	}
	return c, nil
}

var (
	defaultOnce  sync.Once
	defaultCache *ImageCache
)

// Default returns the process-wide cache, created on first use in the
// user cache directory. If that directory is unusable the cache falls back
// to an in-memory filesystem.
func Default() *ImageCache {
	defaultOnce.Do(func() {
		c, err := New(context.Background(), Config{})
		if err != nil {
			c, _ = New(context.Background(), Config{Root: "/imageloader"}, WithFS(billy.NewMemory()))
		}
		defaultCache = c
	})
	return defaultCache
}

func (c *ImageCache) startCleanupScheduler(ctx context.Context) {
	c.mu.Lock()
	c.cleanupTicker = time.NewTicker(c.config.CleanupInterval)
	ticker := c.cleanupTicker
	c.mu.Unlock()

	c.cleanupWG.Add(1)
	go func() {
		defer c.cleanupWG.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.cleanupDone:
				return
			case <-ticker.C:
				if _, err := c.sweep(ctx); err != nil {
					c.metrics.RecordError()
				}
			}
		}
	}()
}

func (c *ImageCache) sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	logger := c.logger.WithOperation(logging.OpPurgeExpired)

	result, err := c.disk.Sweep(ctx)
	if err != nil {
		logger.Error(ctx, "failed to sweep disk cache", "error", err)
		return result, fmt.Errorf("failed to sweep disk cache: %w", err)
	}
	c.metrics.RecordSweep(result.Removed, result.Freed)
	logging.LogCleanup(ctx, logger, logging.OpPurgeExpired, result.Removed, result.Freed, time.Since(start))
	return result, nil
}

func (c *ImageCache) submit(key string, fn func()) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return c.io.Submit(key, fn)
}

func (c *ImageCache) coderFor(opts QueryOptions) coder.Coder {
	if opts.Coder != nil {
		return opts.Coder
	}
	return c.coder
}

// Query implements Cache. A memory hit is delivered on the calling
// goroutine unless disk bytes were requested asynchronously. Disk reads
// and decoding run on the I/O queue unless QueryDiskDataSync is set.
// Cancelling the returned operation suppresses the callback.
func (c *ImageCache) Query(ctx context.Context, key string, opts QueryOptions, done QueryFunc) operation.Operation {
	token := operation.New()
	token.Start()
	start := time.Now()
	logger := c.logger.WithOperation(logging.OpQuery).WithKey(key)

	deliver := func(img *coder.Image, data []byte, tier Type) {
		c.metrics.RecordLatency(LatencyQuery, time.Since(start))
		token.DeliverFinal(dispatch.Inline(), func() {
			if done != nil {
				done(img, data, tier)
			}
		})
	}

	if key == "" {
		deliver(nil, nil, None)
		return token
	}

	types := opts.types()
	if types.Has(Memory) && c.memory != nil {
		if img, ok := c.memory.Get(key); ok {
			c.metrics.RecordHit(Memory, img.Cost())
			logging.LogCacheHit(ctx, logger, Memory.String(), img.Cost())

			if opts.Flags&QueryMemoryData == 0 {
				deliver(img, nil, Memory)
				return token
			}
			readData := func() {
				data, _ := c.disk.Read(ctx, key)
				deliver(img, data, Memory)
			}
			if opts.Flags&QueryMemoryDataSync != 0 {
				readData()
			} else if err := c.submit(key, readData); err != nil {
				deliver(img, nil, Memory)
			}
			return token
		}
	}

	if !types.Has(Disk) {
		c.metrics.RecordMiss()
		logging.LogCacheMiss(ctx, logger, "memory")
		deliver(nil, nil, None)
		return token
	}

	queryDisk := func() {
		if token.IsCancelled() {
			return
		}
		img, data := c.queryDisk(ctx, logger, key, opts)
		if img == nil && data == nil {
			deliver(nil, nil, None)
			return
		}
		deliver(img, data, Disk)
	}
	if opts.Flags&QueryDiskDataSync != 0 {
		queryDisk()
	} else if err := c.submit(key, queryDisk); err != nil {
		deliver(nil, nil, None)
	}
	return token
}

// queryDisk reads and decodes key. Read and decode failures are misses.
// Decoded hits are promoted into memory unless SkipMemoryPromotion is set.
func (c *ImageCache) queryDisk(ctx context.Context, logger *logging.Logger, key string, opts QueryOptions) (*coder.Image, []byte) {
	data, err := c.disk.Read(ctx, key)
	if err != nil {
		c.metrics.RecordMiss()
		if !errors.Is(err, ErrNotFound) {
			c.metrics.RecordError()
			logger.Warn(ctx, "disk read failed", "error", err)
		}
		logging.LogCacheMiss(ctx, logger, "disk")
		return nil, nil
	}

	if opts.Flags&AvoidDecodeImage != 0 {
		c.metrics.RecordHit(Disk, int64(len(data)))
		return nil, data
	}

	img, err := c.coderFor(opts).Decode(data, opts.decodeOptions())
	if err != nil {
		c.metrics.RecordMiss()
		c.metrics.RecordDecodeFailure()
		logger.Warn(ctx, "cached data is not decodable", "error", err, "size", len(data))
		return nil, nil
	}

	c.metrics.RecordHit(Disk, int64(len(data)))
	logging.LogCacheHit(ctx, logger, Disk.String(), int64(len(data)))
	if c.memory != nil && opts.Flags&SkipMemoryPromotion == 0 {
		c.memory.Set(key, img)
	}
	return img, data
}

// Store implements Cache. The memory write happens before Store returns;
// the disk write runs on the I/O queue and reports to done.
func (c *ImageCache) Store(ctx context.Context, img *coder.Image, data []byte, key string, typ Type, done DoneFunc) {
	if key == "" {
		finish(done, nil)
		return
	}
	if img == nil && len(data) == 0 {
		finish(done, fmt.Errorf("nothing to store for %s", key))
		return
	}

	if typ.Has(Memory) && c.memory != nil && img != nil {
		c.memory.Set(key, img)
	}
	if !typ.Has(Disk) {
		finish(done, nil)
		return
	}

	err := c.submit(key, func() {
		finish(done, c.storeToDisk(ctx, img, data, key))
	})
	if err != nil {
		finish(done, err)
	}
}

func (c *ImageCache) storeToDisk(ctx context.Context, img *coder.Image, data []byte, key string) error {
	start := time.Now()
	logger := c.logger.WithOperation(logging.OpStore).WithKey(key)

	if len(data) == 0 {
		encoded, err := c.encode(img)
		if err != nil {
			c.metrics.RecordError()
			logging.LogCacheOperation(ctx, logger, logging.OpStore, time.Since(start), 0, err)
			return err
		}
		data = encoded
	}

	err := c.disk.Write(ctx, key, data)
	c.metrics.RecordLatency(LatencyStore, time.Since(start))
	if err != nil {
		c.metrics.RecordError()
	} else {
		c.metrics.RecordStore(int64(len(data)))
	}
	logging.LogCacheOperation(ctx, logger, logging.OpStore, time.Since(start), int64(len(data)), err)
	return err
}

// encode serializes img in its own format, falling back to PNG for images
// with transparency and JPEG otherwise.
func (c *ImageCache) encode(img *coder.Image) ([]byte, error) {
	format := img.Format
	if format == coder.Undefined || !c.coder.CanEncode(format) {
		format = coder.JPEG
		if img.HasAlpha() {
			format = coder.PNG
		}
	}
	data, err := c.coder.Encode(img, format, coder.EncodeOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s for disk: %w", format, err)
	}
	return data, nil
}

// Remove implements Cache.
func (c *ImageCache) Remove(ctx context.Context, key string, typ Type, done DoneFunc) {
	if key == "" {
		finish(done, nil)
		return
	}
	if typ.Has(Memory) && c.memory != nil {
		c.memory.Remove(key)
	}
	if !typ.Has(Disk) {
		finish(done, nil)
		return
	}
	err := c.submit(key, func() {
		start := time.Now()
		err := c.disk.Remove(ctx, key)
		c.metrics.RecordLatency(LatencyRemove, time.Since(start))
		logging.LogCacheOperation(ctx, c.logger.WithKey(key), logging.OpRemove, time.Since(start), 0, err)
		finish(done, err)
	})
	if err != nil {
		finish(done, err)
	}
}

// Contains implements Cache. A memory hit is reported synchronously.
func (c *ImageCache) Contains(ctx context.Context, key string, typ Type, done ContainsFunc) {
	report := func(tier Type) {
		if done != nil {
			done(tier)
		}
	}
	if key == "" {
		report(None)
		return
	}
	if typ.Has(Memory) && c.memory != nil && c.memory.Contains(key) {
		report(Memory)
		return
	}
	if !typ.Has(Disk) {
		report(None)
		return
	}
	err := c.submit(key, func() {
		if ok, _ := c.disk.Exists(ctx, key); ok {
			report(Disk)
			return
		}
		report(None)
	})
	if err != nil {
		report(None)
	}
}

// Clear implements Cache.
func (c *ImageCache) Clear(ctx context.Context, typ Type, done DoneFunc) {
	if typ.Has(Memory) {
		c.ClearMemory()
	}
	if !typ.Has(Disk) {
		finish(done, nil)
		return
	}
	err := c.submit(maintenanceKey, func() {
		start := time.Now()
		err := c.disk.Clear(ctx)
		logging.LogCacheOperation(ctx, c.logger, logging.OpClear, time.Since(start), 0, err)
		finish(done, err)
	})
	if err != nil {
		finish(done, err)
	}
}

// PurgeExpired runs the disk sweep on the I/O queue.
func (c *ImageCache) PurgeExpired(ctx context.Context, done DoneFunc) {
	err := c.submit(maintenanceKey, func() {
		_, err := c.sweep(ctx)
		finish(done, err)
	})
	if err != nil {
		finish(done, err)
	}
}

// HandleEvent reacts to process lifecycle events.
func (c *ImageCache) HandleEvent(ctx context.Context, event Event) {
	c.logger.Debug(ctx, "handling cache event", "event", event.String())
	switch event {
	case EventLowMemory:
		c.ClearMemory()
	case EventBackground:
		c.ClearMemory()
		c.PurgeExpired(ctx, nil)
	}
}

// ImageFromMemory returns the image cached in memory for key.
func (c *ImageCache) ImageFromMemory(key string) *coder.Image {
	if c.memory == nil || key == "" {
		return nil
	}
	img, _ := c.memory.Get(key)
	return img
}

// ImageFromDisk reads and decodes key on the calling goroutine, promoting
// the result into memory.
func (c *ImageCache) ImageFromDisk(ctx context.Context, key string, opts QueryOptions) *coder.Image {
	if key == "" {
		return nil
	}
	img, _ := c.queryDisk(ctx, c.logger.WithOperation(logging.OpQuery).WithKey(key), key, opts)
	return img
}

// StoreToMemory writes img to the memory tier only.
func (c *ImageCache) StoreToMemory(img *coder.Image, key string) {
	if c.memory != nil && key != "" {
		c.memory.Set(key, img)
	}
}

// StoreDataToDisk writes data for key on the calling goroutine.
func (c *ImageCache) StoreDataToDisk(ctx context.Context, data []byte, key string) error {
	if key == "" {
		return nil
	}
	return c.storeToDisk(ctx, nil, data, key)
}

// DiskDataExists reports whether key has a disk entry.
func (c *ImageCache) DiskDataExists(ctx context.Context, key string) bool {
	ok, _ := c.disk.Exists(ctx, key)
	return ok
}

// DiskData returns the disk bytes for key, or nil.
func (c *ImageCache) DiskData(ctx context.Context, key string) []byte {
	data, _ := c.disk.Read(ctx, key)
	return data
}

// RemoveFromMemory removes key from the memory tier.
func (c *ImageCache) RemoveFromMemory(key string) {
	if c.memory != nil {
		c.memory.Remove(key)
	}
}

// ClearMemory empties the memory tier.
func (c *ImageCache) ClearMemory() {
	if c.memory != nil {
		c.memory.Clear()
	}
}

// TotalDiskSize returns the bytes used by the disk tier.
func (c *ImageCache) TotalDiskSize(ctx context.Context) (int64, error) {
	return c.disk.Size(ctx)
}

// TotalDiskCount returns the number of disk entries.
func (c *ImageCache) TotalDiskCount(ctx context.Context) (int, error) {
	return c.disk.Count(ctx)
}

// CachePath returns the disk path used for key.
func (c *ImageCache) CachePath(key string) string {
	if key == "" {
		return ""
	}
	return c.disk.Path(key)
}

// Config returns the effective configuration.
func (c *ImageCache) Config() Config {
	return c.config
}

// Metrics returns a snapshot of the cache metrics.
func (c *ImageCache) Metrics() MetricsSnapshot {
	return c.metrics.GetSnapshot()
}

// Stats describes the current state of both tiers.
type Stats struct {
	Path          string          `json:"path" yaml:"path"`
	MemoryEntries int             `json:"memory_entries" yaml:"memory_entries"`
	MemoryCost    int64           `json:"memory_cost" yaml:"memory_cost"`
	MaxMemoryCost int64           `json:"max_memory_cost" yaml:"max_memory_cost"`
	DiskEntries   int             `json:"disk_entries" yaml:"disk_entries"`
	DiskSize      int64           `json:"disk_size" yaml:"disk_size"`
	MaxDiskSize   int64           `json:"max_disk_size" yaml:"max_disk_size"`
	Metrics       MetricsSnapshot `json:"metrics" yaml:"metrics"`
}

// Stats returns statistics for both tiers.
func (c *ImageCache) Stats(ctx context.Context) (Stats, error) {
	size, err := c.disk.Size(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get disk size: %w", err)
	}
	count, err := c.disk.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get disk count: %w", err)
	}

	stats := Stats{
		Path:          c.config.Dir(),
		DiskEntries:   count,
		DiskSize:      size,
		MaxDiskSize:   c.config.MaxDiskSize,
		MaxMemoryCost: c.config.MaxMemoryCost,
		Metrics:       c.metrics.GetSnapshot(),
	}
	if c.memory != nil {
		stats.MemoryEntries = c.memory.Len()
		stats.MemoryCost = c.memory.TotalCost()
	}
	return stats, nil
}

// Wait blocks until all queued disk work has finished.
func (c *ImageCache) Wait() {
	c.io.Wait()
}

// Close stops the background sweep and waits for queued disk work.
func (c *ImageCache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.cleanupTicker != nil {
		close(c.cleanupDone)
		c.cleanupTicker = nil
	}
	c.mu.Unlock()

	c.cleanupWG.Wait()
	c.io.Close()
	return nil
}
