package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmgilman/go/imageloader"
	"github.com/jmgilman/go/imageloader/cache"
	"github.com/jmgilman/go/imageloader/config"
	"github.com/jmgilman/go/imageloader/loader"
)

// runtime is the pipeline assembled from one configuration.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	images  *cache.ImageCache
	objects *cache.ObjectCache
	// cache is images, or a cache.Manager over the object tier and images.
	cache   cache.Cache
	manager *imageloader.Manager
}

func newRuntime(ctx context.Context, cfg *config.Config, opts ...imageloader.Option) (*runtime, error) {
	logger, err := cfg.Logger()
	if err != nil {
		return nil, err
	}

	cacheConfig, err := cfg.CacheConfig()
	if err != nil {
		return nil, err
	}
	images, err := cache.New(ctx, cacheConfig, cache.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	r := &runtime{cfg: cfg, logger: logger, images: images, cache: images}

	if objectConfig, ok := cfg.ObjectConfig(logger); ok {
		objects, err := cache.NewObjectCache(objectConfig)
		if err != nil {
			_ = images.Close()
			return nil, fmt.Errorf("failed to open object cache: %w", err)
		}
		r.objects = objects
		r.cache = cache.NewManager(objects, images)
	}

	downloaderOpts, err := cfg.DownloaderOptions(logger)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	downloader, err := loader.NewDownloader(downloaderOpts...)
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("failed to create downloader: %w", err)
	}

	base := []imageloader.Option{
		imageloader.WithCache(r.cache),
		imageloader.WithLoader(downloader),
		imageloader.WithLogger(logger),
	}
	r.manager = imageloader.New(append(base, opts...)...)
	return r, nil
}

// Close waits for pending cache writes.
func (r *runtime) Close() error {
	if r.objects != nil {
		_ = r.objects.Close()
	}
	return r.images.Close()
}

// wait blocks until done is called and returns its error.
func wait(ctx context.Context, run func(done cache.DoneFunc)) error {
	errc := make(chan error, 1)
	run(func(err error) { errc <- err })
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
