package loader

import (
	"context"
	"net/url"

	"github.com/jmgilman/go/imageloader/coder"
	"github.com/jmgilman/go/imageloader/errs"
	"github.com/jmgilman/go/imageloader/operation"
)

// ProgressFunc receives transfer progress. expected is -1 when the size is
// unknown.
type ProgressFunc func(received, expected int64, u *url.URL)

// CompletedFunc receives a load result. Partial images arrive with
// finished=false; exactly one call has finished=true unless the load is
// cancelled.
type CompletedFunc func(img *coder.Image, data []byte, err error, finished bool)

// Loader fetches image data for a URL.
type Loader interface {
	// CanLoad reports whether the loader handles u.
	CanLoad(u *url.URL) bool
	// Load starts fetching u. Cancelling the returned operation
	// suppresses every later callback.
	Load(ctx context.Context, u *url.URL, opts Options, progress ProgressFunc, done CompletedFunc) operation.Operation
	// ShouldBlockFailedURL reports whether err is permanent enough to
	// stop retrying u.
	ShouldBlockFailedURL(u *url.URL, err error) bool
}

// Priority orders queued downloads.
type Priority int

const (
	PriorityDefault Priority = iota
	PriorityLow
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "default"
	}
}

// Options are per-request load options.
type Options struct {
	Priority Priority
	// HandleCookies sends and stores cookies through the configured jar.
	HandleCookies bool
	// AllowInvalidTLS accepts untrusted certificates.
	AllowInvalidTLS bool
	// Progressive delivers partial images while the body downloads.
	Progressive bool
	// Refresh revalidates against the server with the validators of the
	// previous response, so an unchanged image answers 304.
	Refresh bool
	// AvoidDecode returns the bytes without decoding them.
	AvoidDecode bool
	// Decode is passed to the coder.
	Decode coder.DecodeOptions
	// RequestModifier, ResponseModifier and Decryptor override the
	// loader-wide values for this request.
	RequestModifier  RequestModifier
	ResponseModifier ResponseModifier
	Decryptor        Decryptor
}

// Func adapts closures to Loader. A nil CanLoadFn accepts every URL and
// a nil ShouldBlockFn uses errs.ShouldBlock.
type Func struct {
	CanLoadFn     func(u *url.URL) bool
	LoadFn        func(ctx context.Context, u *url.URL, opts Options, progress ProgressFunc, done CompletedFunc) operation.Operation
	ShouldBlockFn func(u *url.URL, err error) bool
}

// CanLoad implements Loader.
func (f Func) CanLoad(u *url.URL) bool {
	if f.CanLoadFn == nil {
		return u != nil
	}
	return f.CanLoadFn(u)
}

// Load implements Loader.
func (f Func) Load(ctx context.Context, u *url.URL, opts Options, progress ProgressFunc, done CompletedFunc) operation.Operation {
	return f.LoadFn(ctx, u, opts, progress, done)
}

// ShouldBlockFailedURL implements Loader.
func (f Func) ShouldBlockFailedURL(u *url.URL, err error) bool {
	if f.ShouldBlockFn == nil {
		return errs.ShouldBlock(err)
	}
	return f.ShouldBlockFn(u, err)
}
