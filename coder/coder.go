// Package coder defines the decode/encode capability used by caches and
// loaders, and ships adapters over the Go image decoders.
//
// Coders are consulted through a Registry. The coder added last is asked
// first, so applications can override the built-in coders:
//
//	reg := coder.NewRegistry(coder.NewRasterCoder(), coder.NewGIFCoder())
//	reg.Add(myAVIFCoder)
//	img, err := reg.Decode(data, coder.DecodeOptions{ThumbnailPixelSize: image.Pt(200, 200)})
package coder

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnsupported is returned when no coder handles the data or format.
var ErrUnsupported = errors.New("unsupported image format")

// Coder decodes and encodes images.
type Coder interface {
	// CanDecode reports whether data looks decodable by this coder.
	CanDecode(data []byte) bool
	// Decode turns data into an image.
	Decode(data []byte, opts DecodeOptions) (*Image, error)
	// CanEncode reports whether the coder writes format f.
	CanEncode(f Format) bool
	// Encode turns img into bytes of format f.
	Encode(img *Image, f Format, opts EncodeOptions) ([]byte, error)
}

// ProgressiveCoder is a Coder that can decode partial data.
type ProgressiveCoder interface {
	Coder
	// CanDecodeIncrementally reports whether partial data can be fed to
	// an incremental decoder of this coder.
	CanDecodeIncrementally(data []byte) bool
	// NewIncrementalDecoder starts a new incremental decode.
	NewIncrementalDecoder(opts DecodeOptions) IncrementalDecoder
}

// IncrementalDecoder reconstructs an image as bytes arrive.
type IncrementalDecoder interface {
	// Update replaces the accumulated data. final marks the last update.
	Update(data []byte, final bool)
	// Image returns the best image decodable so far, or nil.
	Image(opts DecodeOptions) *Image
}

// Registry is an ordered, concurrency-safe set of coders. It implements
// ProgressiveCoder by delegating to its members.
type Registry struct {
	mu     sync.RWMutex
	coders []Coder
}

// NewRegistry creates a registry; later coders take priority.
func NewRegistry(coders ...Coder) *Registry {
	return &Registry{coders: append([]Coder(nil), coders...)}
}

// Add registers c with the highest priority.
func (r *Registry) Add(c Coder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coders = append(r.coders, c)
}

// Remove unregisters c.
func (r *Registry) Remove(c Coder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.coders {
		if existing == c {
			r.coders = append(r.coders[:i], r.coders[i+1:]...)
			return
		}
	}
}

// Coders returns the registered coders, highest priority first.
func (r *Registry) Coders() []Coder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Coder, 0, len(r.coders))
	for i := len(r.coders) - 1; i >= 0; i-- {
		out = append(out, r.coders[i])
	}
	return out
}

// CanDecode implements Coder.
func (r *Registry) CanDecode(data []byte) bool {
	for _, c := range r.Coders() {
		if c.CanDecode(data) {
			return true
		}
	}
	return false
}

// Decode implements Coder using the first coder that accepts data.
func (r *Registry) Decode(data []byte, opts DecodeOptions) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode: empty data: %w", ErrUnsupported)
	}
	for _, c := range r.Coders() {
		if c.CanDecode(data) {
			return c.Decode(data, opts)
		}
	}
	return nil, fmt.Errorf("decode %s: %w", DetectFormat(data), ErrUnsupported)
}

// CanEncode implements Coder.
func (r *Registry) CanEncode(f Format) bool {
	for _, c := range r.Coders() {
		if c.CanEncode(f) {
			return true
		}
	}
	return false
}

// Encode implements Coder using the first coder that writes f.
func (r *Registry) Encode(img *Image, f Format, opts EncodeOptions) ([]byte, error) {
	if img == nil || img.Image == nil {
		return nil, errors.New("encode: nil image")
	}
	for _, c := range r.Coders() {
		if c.CanEncode(f) {
			return c.Encode(img, f, opts)
		}
	}
	return nil, fmt.Errorf("encode %s: %w", f, ErrUnsupported)
}

// CanDecodeIncrementally implements ProgressiveCoder.
func (r *Registry) CanDecodeIncrementally(data []byte) bool {
	for _, c := range r.Coders() {
		if pc, ok := c.(ProgressiveCoder); ok && pc.CanDecodeIncrementally(data) {
			return true
		}
	}
	return false
}

// NewIncrementalDecoder implements ProgressiveCoder. The member coder is
// chosen once enough bytes have arrived to recognise the format.
func (r *Registry) NewIncrementalDecoder(opts DecodeOptions) IncrementalDecoder {
	return &registryDecoder{registry: r, opts: opts}
}

type registryDecoder struct {
	registry *Registry
	opts     DecodeOptions
	decoder  IncrementalDecoder
	data     []byte
	final    bool
}

func (d *registryDecoder) Update(data []byte, final bool) {
	d.data, d.final = data, final
	if d.decoder == nil {
		for _, c := range d.registry.Coders() {
			if pc, ok := c.(ProgressiveCoder); ok && pc.CanDecodeIncrementally(data) {
				d.decoder = pc.NewIncrementalDecoder(d.opts)
				break
			}
		}
	}
	if d.decoder != nil {
		d.decoder.Update(data, final)
	}
}

func (d *registryDecoder) Image(opts DecodeOptions) *Image {
	if d.decoder == nil {
		return nil
	}
	return d.decoder.Image(opts)
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry holding the raster and GIF
// coders.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(NewRasterCoder(), NewGIFCoder())
	})
	return defaultRegistry
}
