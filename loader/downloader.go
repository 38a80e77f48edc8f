package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jmgilman/go/imageloader/coder"
	"github.com/jmgilman/go/imageloader/dispatch"
	"github.com/jmgilman/go/imageloader/errs"
	"github.com/jmgilman/go/imageloader/internal/logging"
	"github.com/jmgilman/go/imageloader/operation"
)

const (
	readChunkSize = 32 << 10
	// maxPrealloc caps the buffer reserved from Content-Length.
	maxPrealloc = 16 << 20
	// validatorCacheSize bounds the remembered ETag/Last-Modified pairs.
	validatorCacheSize = 512
)

// validator holds the revalidation headers of a previous response.
type validator struct {
	etag         string
	lastModified string
}

type subscriber struct {
	token    *operation.Token
	progress ProgressFunc
	done     CompletedFunc
	stop     func() bool
}

// transfer is one HTTP fetch shared by every subscriber that asked for the
// same URL with the same options.
type transfer struct {
	key      string
	u        *url.URL
	opts     Options
	priority Priority // guarded by the scheduler
	ctx      context.Context
	cancel   context.CancelFunc

	mu          sync.Mutex
	subscribers []*subscriber
	closed      bool
	lastPartial *coder.Image
}

func (t *transfer) add(s *subscriber) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.subscribers = append(t.subscribers, s)
	return true
}

func (t *transfer) snapshot() []*subscriber {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*subscriber(nil), t.subscribers...)
}

// Downloader is the built-in HTTP loader. Transfers run on a scheduler
// with bounded concurrency and identical concurrent requests share one
// transfer.
type Downloader struct {
	config     DownloaderConfig
	coder      coder.Coder
	logger     *logging.Logger
	sched      *scheduler
	validators *lru.Cache[string, validator]

	mu        sync.Mutex
	headers   http.Header
	transfers map[string]*transfer
	active    map[*transfer]struct{}

	clientsMu sync.Mutex
	clients   map[clientKey]*http.Client
}

// NewDownloader creates a downloader from the default configuration and
// opts.
func NewDownloader(opts ...DownloaderOption) (*Downloader, error) {
	config := DefaultDownloaderConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid downloader config: %w", err)
	}

	validators, err := lru.New[string, validator](validatorCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create validator cache: %w", err)
	}

	d := &Downloader{
		config:     config,
		coder:      config.Coder,
		logger:     logging.FromSlog(config.Logger).With("component", "downloader"),
		validators: validators,
		headers:    make(http.Header),
		transfers:  make(map[string]*transfer),
		active:     make(map[*transfer]struct{}),
		clients:    make(map[clientKey]*http.Client),
	}
	if d.coder == nil {
		d.coder = coder.Default()
	}
	for k, v := range config.Headers {
		d.headers.Set(k, v)
	}
	d.sched = newScheduler(config.MaxConcurrentDownloads, config.ExecutionOrder, d.run)
	return d, nil
}

var (
	defaultOnce       sync.Once
	defaultDownloader *Downloader
)

// DefaultDownloader returns the process-wide downloader.
func DefaultDownloader() *Downloader {
	defaultOnce.Do(func() {
		defaultDownloader, _ = NewDownloader()
	})
	return defaultDownloader
}

// Config returns the downloader configuration.
func (d *Downloader) Config() DownloaderConfig {
	return d.config
}

// SetHeader sets a header sent with every request. An empty value removes
// it.
func (d *Downloader) SetHeader(field, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if value == "" {
		d.headers.Del(field)
		return
	}
	d.headers.Set(field, value)
}

// Header returns the value of a default header.
func (d *Downloader) Header(field string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.headers.Get(field)
}

// SetSuspended pauses or resumes starting queued downloads. Running
// downloads are not affected.
func (d *Downloader) SetSuspended(suspended bool) {
	d.sched.setSuspended(suspended)
}

// IsSuspended reports whether the queue is paused.
func (d *Downloader) IsSuspended() bool {
	return d.sched.isSuspended()
}

// CurrentDownloadCount returns the running and queued transfers.
func (d *Downloader) CurrentDownloadCount() int {
	running, queued := d.sched.counts()
	return running + queued
}

// CancelAll cancels every outstanding load.
func (d *Downloader) CancelAll() {
	d.mu.Lock()
	transfers := make([]*transfer, 0, len(d.active))
	for t := range d.active {
		transfers = append(transfers, t)
	}
	d.mu.Unlock()

	for _, t := range transfers {
		for _, s := range t.snapshot() {
			s.token.Cancel()
		}
	}
}

// CanLoad implements Loader. HTTP and HTTPS URLs with a host are
// accepted.
func (d *Downloader) CanLoad(u *url.URL) bool {
	if u == nil || u.Host == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

// ShouldBlockFailedURL implements Loader.
func (d *Downloader) ShouldBlockFailedURL(_ *url.URL, err error) bool {
	return errs.ShouldBlock(err)
}

// Load implements Loader. Cancelling ctx cancels the returned operation.
func (d *Downloader) Load(ctx context.Context, u *url.URL, opts Options, progress ProgressFunc, done CompletedFunc) operation.Operation {
	token := operation.New()
	token.Start()
	if done == nil {
		done = func(*coder.Image, []byte, error, bool) {}
	}

	if !d.CanLoad(u) {
		raw := ""
		if u != nil {
			raw = u.String()
		}
		token.DeliverFinal(dispatch.Inline(), func() {
			done(nil, nil, errs.InvalidURL(raw, "downloader only loads http and https urls"), true)
		})
		return token
	}

	sub := &subscriber{
		token:    token,
		progress: progress,
		done:     done,
		stop:     context.AfterFunc(ctx, token.Cancel),
	}

	key := coalesceKey(u, opts)
	d.mu.Lock()
	t, ok := d.transfers[key]
	if ok && key != "" && t.add(sub) {
		d.mu.Unlock()
		d.sched.promote(t, opts.Priority)
		d.logger.WithURL(u.String()).Debug(ctx, "joined running download")
	} else {
		tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		t = &transfer{
			key:      key,
			u:        u,
			opts:     opts,
			priority: opts.Priority,
			ctx:      tctx,
			cancel:   cancel,
		}
		t.add(sub)
		if key != "" {
			d.transfers[key] = t
		}
		d.active[t] = struct{}{}
		d.mu.Unlock()
		d.sched.enqueue(t)
	}

	token.OnCancel(func() { d.unsubscribe(t, sub) })
	return token
}

// coalesceKey identifies requests that can share a transfer. Requests
// with their own modifiers or decryptor never share.
func coalesceKey(u *url.URL, opts Options) string {
	if opts.RequestModifier != nil || opts.ResponseModifier != nil || opts.Decryptor != nil {
		return ""
	}
	return fmt.Sprintf("%s|%t|%t|%t|%t|%t|%+v",
		u.String(), opts.Progressive, opts.AvoidDecode, opts.Refresh,
		opts.AllowInvalidTLS, opts.HandleCookies, opts.Decode)
}

// unsubscribe detaches a cancelled subscriber. The transfer is abandoned
// when its last subscriber leaves.
func (d *Downloader) unsubscribe(t *transfer, sub *subscriber) {
	sub.stop()

	t.mu.Lock()
	for i, s := range t.subscribers {
		if s == sub {
			t.subscribers = append(t.subscribers[:i], t.subscribers[i+1:]...)
			break
		}
	}
	abandoned := len(t.subscribers) == 0 && !t.closed
	if abandoned {
		t.closed = true
	}
	t.mu.Unlock()
	if !abandoned {
		return
	}

	d.forget(t)
	t.cancel()
	if d.sched.remove(t) {
		d.logger.WithURL(t.u.String()).Debug(t.ctx, "queued download cancelled")
	}
}

func (d *Downloader) forget(t *transfer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t.key != "" && d.transfers[t.key] == t {
		delete(d.transfers, t.key)
	}
	delete(d.active, t)
}

// run is the scheduler entry point for a transfer.
func (d *Downloader) run(t *transfer) {
	defer d.sched.done()
	if t.ctx.Err() != nil {
		return
	}

	logger := d.logger.WithOperation(logging.OpDownload).WithURL(t.u.String())
	start := time.Now()
	logger.Debug(t.ctx, "download started", "priority", t.opts.Priority.String())

	img, data, err := d.fetch(t)

	switch {
	case t.ctx.Err() != nil:
		logger.Debug(t.ctx, "download cancelled", "duration", time.Since(start))
	case err != nil:
		logger.Warn(t.ctx, "download failed", "error", err, "duration", time.Since(start))
	default:
		logger.Info(t.ctx, "download finished", "size", len(data), "duration", time.Since(start))
	}
	d.complete(t, img, data, err)
}

func (d *Downloader) complete(t *transfer, img *coder.Image, data []byte, err error) {
	d.forget(t)

	t.mu.Lock()
	t.closed = true
	subs := t.subscribers
	t.subscribers = nil
	t.mu.Unlock()

	for _, s := range subs {
		s.stop()
		s.token.DeliverFinal(dispatch.Inline(), func() {
			s.done(img, data, err, true)
		})
	}
	t.cancel()
}

func (d *Downloader) emitProgress(t *transfer, received, expected int64) {
	for _, s := range t.snapshot() {
		if s.progress == nil {
			continue
		}
		s.token.Deliver(dispatch.Inline(), func() {
			s.progress(received, expected, t.u)
		})
	}
}

func (d *Downloader) emitPartial(t *transfer, img *coder.Image) {
	t.mu.Lock()
	if img == t.lastPartial {
		t.mu.Unlock()
		return
	}
	t.lastPartial = img
	t.mu.Unlock()

	for _, s := range t.snapshot() {
		s.token.Deliver(dispatch.Inline(), func() {
			s.done(img, nil, nil, false)
		})
	}
}

func (d *Downloader) requestModifier(opts Options) RequestModifier {
	if opts.RequestModifier != nil {
		return opts.RequestModifier
	}
	return d.config.RequestModifier
}

func (d *Downloader) responseModifier(opts Options) ResponseModifier {
	if opts.ResponseModifier != nil {
		return opts.ResponseModifier
	}
	return d.config.ResponseModifier
}

func (d *Downloader) decryptor(opts Options) Decryptor {
	if opts.Decryptor != nil {
		return opts.Decryptor
	}
	return d.config.Decryptor
}

// fetch performs the request, validates the response and decodes the
// body.
func (d *Downloader) fetch(t *transfer) (*coder.Image, []byte, error) {
	raw := t.u.String()
	ctx := t.ctx
	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, nil, errs.InvalidDownloadOperation(raw, err.Error())
	}
	d.mu.Lock()
	req.Header = d.headers.Clone()
	d.mu.Unlock()
	if d.config.Username != "" || d.config.Password != "" {
		req.SetBasicAuth(d.config.Username, d.config.Password)
	}
	if t.opts.Refresh {
		if v, ok := d.validators.Get(raw); ok {
			if v.etag != "" {
				req.Header.Set("If-None-Match", v.etag)
			}
			if v.lastModified != "" {
				req.Header.Set("If-Modified-Since", v.lastModified)
			}
		}
	}
	if m := d.requestModifier(t.opts); m != nil {
		if req = m.ModifyRequest(req); req == nil {
			return nil, nil, errs.InvalidDownloadOperation(raw, "request modifier returned nil")
		}
	}

	resp, err := d.client(t.opts).Do(req)
	if err != nil {
		return nil, nil, d.transportError(t, ctx, raw, err)
	}
	if m := d.responseModifier(t.opts); m != nil {
		modified := m.ModifyResponse(resp)
		if modified == nil {
			_ = resp.Body.Close()
			return nil, nil, errs.InvalidDownloadResponse(raw, "response modifier returned nil")
		}
		if modified.Body != resp.Body {
			_ = resp.Body.Close()
		}
		resp = modified
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotModified {
		return nil, nil, errs.CacheNotModified(raw)
	}
	if !d.config.acceptsStatus(resp.StatusCode) {
		return nil, nil, errs.InvalidDownloadStatusCode(raw, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !d.config.acceptsContentType(ct) {
		return nil, nil, errs.InvalidDownloadContentType(raw, ct)
	}

	decryptor := d.decryptor(t.opts)
	data, err := d.readBody(t, resp, decryptor == nil)
	if err != nil {
		return nil, nil, d.transportError(t, ctx, raw, err)
	}
	if len(data) == 0 {
		return nil, nil, errs.BadImageData(raw, "response body is empty")
	}
	d.remember(raw, resp)

	if decryptor != nil {
		if data = decryptor.Decrypt(data, resp); data == nil {
			return nil, nil, errs.BadImageData(raw, "decryptor returned nil")
		}
	}
	if t.opts.AvoidDecode {
		return nil, data, nil
	}

	img, err := d.coder.Decode(data, t.opts.Decode)
	if err != nil {
		return nil, nil, errs.BadImageData(raw, err.Error())
	}
	return img, data, nil
}

// readBody reads the response, reporting throttled progress and, for
// progressive requests, partial images.
func (d *Downloader) readBody(t *transfer, resp *http.Response, allowProgressive bool) ([]byte, error) {
	expected := resp.ContentLength
	var buf bytes.Buffer
	if expected > 0 {
		buf.Grow(int(min(expected, maxPrealloc)))
	}

	var incremental coder.IncrementalDecoder
	pc, progressive := d.coder.(coder.ProgressiveCoder)
	progressive = progressive && allowProgressive && t.opts.Progressive && !t.opts.AvoidDecode

	d.emitProgress(t, 0, expected)
	last := 0.0
	chunk := make([]byte, readChunkSize)
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			received := int64(buf.Len())
			if d.shouldReport(&last, received, expected) {
				d.emitProgress(t, received, expected)
				if progressive {
					if incremental == nil && pc.CanDecodeIncrementally(buf.Bytes()) {
						incremental = pc.NewIncrementalDecoder(t.opts.Decode)
					}
					if incremental != nil {
						incremental.Update(buf.Bytes(), false)
						if img := incremental.Image(t.opts.Decode); img != nil && img.Partial {
							d.emitPartial(t, img)
						}
					}
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// shouldReport applies MinimumProgressInterval. Transfers of unknown size
// and the final read are always reported.
func (d *Downloader) shouldReport(last *float64, received, expected int64) bool {
	interval := d.config.MinimumProgressInterval
	if interval <= 0 || expected <= 0 {
		return true
	}
	current := float64(received) / float64(expected)
	if received < expected && current-*last < interval {
		return false
	}
	*last = current
	return true
}

func (d *Downloader) remember(raw string, resp *http.Response) {
	v := validator{
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
	}
	if v.etag == "" && v.lastModified == "" {
		return
	}
	d.validators.Add(raw, v)
}

// transportError classifies a failed request or body read.
func (d *Downloader) transportError(t *transfer, ctx context.Context, raw string, err error) error {
	if t.ctx.Err() != nil {
		return errs.Cancelled("download cancelled")
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errs.Timeout(raw, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.Timeout(raw, err)
	}
	return errs.Network(raw, err)
}
