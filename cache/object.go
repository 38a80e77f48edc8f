package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jmgilman/go/imageloader/coder"
	"github.com/jmgilman/go/imageloader/dispatch"
	"github.com/jmgilman/go/imageloader/internal/logging"
	"github.com/jmgilman/go/imageloader/internal/workqueue"
	"github.com/jmgilman/go/imageloader/operation"
)

// ObjectStore is the subset of an S3-compatible bucket used by
// ObjectCache. Missing objects are reported with ErrNotFound.
type ObjectStore interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Put(ctx context.Context, name string, data []byte, contentType string) error
	Exists(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, name string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// ObjectConfig configures an ObjectCache.
type ObjectConfig struct {
	// Endpoint is the server address, e.g. "localhost:9000".
	Endpoint string
	// Bucket holds the cached objects.
	Bucket string
	// AccessKey and SecretKey authenticate against the server.
	AccessKey string
	SecretKey string
	// UseSSL enables HTTPS.
	UseSSL bool
	// Prefix namespaces the object names.
	Prefix string
	// Client is an optional pre-configured client. When set the
	// connection fields are ignored.
	Client *minio.Client
	// Store overrides the bucket entirely.
	Store ObjectStore
	// Concurrency bounds concurrent object requests. Defaults to 4.
	Concurrency int
	// Coder decodes and encodes images. Defaults to coder.Default().
	Coder coder.Coder
	// Logger receives operation logs. Nil disables logging.
	Logger *slog.Logger
}

// Validate checks that the configuration can produce a store.
func (c *ObjectConfig) Validate() error {
	if c.Store != nil {
		return nil
	}
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.Client != nil {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when client is not provided")
	}
	if c.AccessKey == "" {
		return fmt.Errorf("access key is required when client is not provided")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("secret key is required when client is not provided")
	}
	return nil
}

// ObjectCache is a remote cache tier over an S3-compatible bucket. It
// reports hits as Disk, the persistent tier, and is meant to sit below an
// ImageCache in a Manager.
type ObjectCache struct {
	store   ObjectStore
	prefix  string
	coder   coder.Coder
	queue   *workqueue.KeyedQueue
	logger  *logging.Logger
	metrics *DetailedMetrics
}

// NewObjectCache creates an object cache.
func NewObjectCache(cfg ObjectConfig) (*ObjectCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid object cache config: %w", err)
	}

	store := cfg.Store
	if store == nil {
		client := cfg.Client
		if client == nil {
			var err error
			client, err = minio.New(cfg.Endpoint, &minio.Options{
				Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
				Secure: cfg.UseSSL,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create minio client: %w", err)
			}
		}
		store = NewMinioStore(client, cfg.Bucket)
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultIOConcurrency
	}
	c := cfg.Coder
	if c == nil {
		c = coder.Default()
	}

	return &ObjectCache{
		store:   store,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		coder:   c,
		queue:   workqueue.New(concurrency),
		logger:  logging.FromSlog(cfg.Logger).With("tier", "object"),
		metrics: NewDetailedMetrics(),
	}, nil
}

// ObjectName returns the object name used for key.
func (o *ObjectCache) ObjectName(key string) string {
	if o.prefix == "" {
		return FileName(key)
	}
	return path.Join(o.prefix, FileName(key))
}

// Metrics returns a snapshot of the object cache metrics.
func (o *ObjectCache) Metrics() MetricsSnapshot {
	return o.metrics.GetSnapshot()
}

// Query implements Cache.
func (o *ObjectCache) Query(ctx context.Context, key string, opts QueryOptions, done QueryFunc) operation.Operation {
	token := operation.New()
	token.Start()
	deliver := func(img *coder.Image, data []byte, tier Type) {
		token.DeliverFinal(dispatch.Inline(), func() {
			if done != nil {
				done(img, data, tier)
			}
		})
	}

	if key == "" || !opts.types().Has(Disk) {
		deliver(nil, nil, None)
		return token
	}

	err := o.queue.Submit(key, func() {
		if token.IsCancelled() {
			return
		}
		start := time.Now()
		logger := o.logger.WithOperation(logging.OpQuery).WithKey(key)

		data, err := o.store.Get(ctx, o.ObjectName(key))
		o.metrics.RecordLatency(LatencyQuery, time.Since(start))
		if err != nil {
			o.metrics.RecordMiss()
			if !errors.Is(err, ErrNotFound) {
				o.metrics.RecordError()
				logger.Warn(ctx, "object read failed", "error", err)
			}
			deliver(nil, nil, None)
			return
		}
		if opts.Flags&AvoidDecodeImage != 0 {
			o.metrics.RecordHit(Disk, int64(len(data)))
			deliver(nil, data, Disk)
			return
		}

		c := o.coder
		if opts.Coder != nil {
			c = opts.Coder
		}
		img, err := c.Decode(data, opts.decodeOptions())
		if err != nil {
			o.metrics.RecordMiss()
			o.metrics.RecordDecodeFailure()
			logger.Warn(ctx, "cached object is not decodable", "error", err)
			deliver(nil, nil, None)
			return
		}
		o.metrics.RecordHit(Disk, int64(len(data)))
		logging.LogCacheHit(ctx, logger, "object", int64(len(data)))
		deliver(img, data, Disk)
	})
	if err != nil {
		deliver(nil, nil, None)
	}
	return token
}

// Store implements Cache. Only the Disk tier applies.
func (o *ObjectCache) Store(ctx context.Context, img *coder.Image, data []byte, key string, typ Type, done DoneFunc) {
	if key == "" || !typ.Has(Disk) {
		finish(done, nil)
		return
	}
	if img == nil && len(data) == 0 {
		finish(done, fmt.Errorf("nothing to store for %s", key))
		return
	}

	err := o.queue.Submit(key, func() {
		start := time.Now()
		payload := data
		if len(payload) == 0 {
			format := img.Format
			if format == coder.Undefined || !o.coder.CanEncode(format) {
				format = coder.JPEG
				if img.HasAlpha() {
					format = coder.PNG
				}
			}
			encoded, err := o.coder.Encode(img, format, coder.EncodeOptions{})
			if err != nil {
				o.metrics.RecordError()
				finish(done, fmt.Errorf("failed to encode %s for object store: %w", format, err))
				return
			}
			payload = encoded
		}

		err := o.store.Put(ctx, o.ObjectName(key), payload, coder.DetectFormat(payload).MIMEType())
		o.metrics.RecordLatency(LatencyStore, time.Since(start))
		if err != nil {
			o.metrics.RecordError()
		} else {
			o.metrics.RecordStore(int64(len(payload)))
		}
		logging.LogCacheOperation(ctx, o.logger.WithKey(key), logging.OpStore, time.Since(start), int64(len(payload)), err)
		finish(done, err)
	})
	if err != nil {
		finish(done, err)
	}
}

// Remove implements Cache.
func (o *ObjectCache) Remove(ctx context.Context, key string, typ Type, done DoneFunc) {
	if key == "" || !typ.Has(Disk) {
		finish(done, nil)
		return
	}
	err := o.queue.Submit(key, func() {
		err := o.store.Delete(ctx, o.ObjectName(key))
		if errors.Is(err, ErrNotFound) {
			err = nil
		}
		finish(done, err)
	})
	if err != nil {
		finish(done, err)
	}
}

// Contains implements Cache.
func (o *ObjectCache) Contains(ctx context.Context, key string, typ Type, done ContainsFunc) {
	report := func(tier Type) {
		if done != nil {
			done(tier)
		}
	}
	if key == "" || !typ.Has(Disk) {
		report(None)
		return
	}
	err := o.queue.Submit(key, func() {
		if ok, _ := o.store.Exists(ctx, o.ObjectName(key)); ok {
			report(Disk)
			return
		}
		report(None)
	})
	if err != nil {
		report(None)
	}
}

// Clear implements Cache. It removes every object under the prefix.
func (o *ObjectCache) Clear(ctx context.Context, typ Type, done DoneFunc) {
	if !typ.Has(Disk) {
		finish(done, nil)
		return
	}
	err := o.queue.Submit(maintenanceKey, func() {
		prefix := o.prefix
		if prefix != "" {
			prefix += "/"
		}
		finish(done, o.store.DeletePrefix(ctx, prefix))
	})
	if err != nil {
		finish(done, err)
	}
}

// Close waits for outstanding requests.
func (o *ObjectCache) Close() error {
	o.queue.Close()
	return nil
}

// minioStore implements ObjectStore with a minio client.
type minioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore returns an ObjectStore over bucket.
func NewMinioStore(client *minio.Client, bucket string) ObjectStore {
	return &minioStore{client: client, bucket: bucket}
}

func translate(name string, err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *minioStore) Get(ctx context.Context, name string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(name, err)
	}
	defer func() {
		_ = obj.Close()
	}()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translate(name, err)
	}
	return data, nil
}

func (s *minioStore) Put(ctx context.Context, name string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return translate(name, err)
}

func (s *minioStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if err = translate(name, err); errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (s *minioStore) Delete(ctx context.Context, name string) error {
	return translate(name, s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{}))
}

func (s *minioStore) DeletePrefix(ctx context.Context, prefix string) error {
	objects := make(chan minio.ObjectInfo, 100)
	listErr := make(chan error, 1)
	go func() {
		defer close(objects)
		for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		}) {
			if object.Err != nil {
				listErr <- object.Err
				return
			}
			objects <- object
		}
	}()

	for rErr := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		if rErr.Err != nil {
			return fmt.Errorf("failed to remove %s: %w", rErr.ObjectName, rErr.Err)
		}
	}
	select {
	case err := <-listErr:
		return fmt.Errorf("failed to list %s: %w", prefix, err)
	default:
		return nil
	}
}
