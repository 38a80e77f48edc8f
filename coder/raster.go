package coder

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder
)

// incrementalStep is how much new data an incremental decode waits for
// before trying again.
const incrementalStep = 16 << 10

var imagingFormats = map[Format]imaging.Format{
	JPEG: imaging.JPEG,
	PNG:  imaging.PNG,
	GIF:  imaging.GIF,
	TIFF: imaging.TIFF,
	BMP:  imaging.BMP,
}

// RasterCoder decodes JPEG, PNG, BMP, TIFF and WebP still images and
// encodes JPEG, PNG, GIF, TIFF and BMP.
type RasterCoder struct{}

// NewRasterCoder creates a RasterCoder.
func NewRasterCoder() *RasterCoder {
	return &RasterCoder{}
}

func (c *RasterCoder) decodes(f Format) bool {
	switch f {
	case JPEG, PNG, BMP, TIFF, WebP:
		return true
	}
	return false
}

// CanDecode implements Coder.
func (c *RasterCoder) CanDecode(data []byte) bool {
	return c.decodes(DetectFormat(data))
}

// Decode implements Coder.
func (c *RasterCoder) Decode(data []byte, opts DecodeOptions) (*Image, error) {
	format := DetectFormat(data)
	if !c.decodes(format) {
		return nil, fmt.Errorf("raster decode %s: %w", format, ErrUnsupported)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("raster decode %s: %w", format, err)
	}

	img := &Image{Image: src, Format: format, Scale: opts.scale()}
	if size, ok := ThumbnailPixelSize(src.Bounds().Size(), 1, opts); ok {
		img.Image = imaging.Resize(src, size.X, size.Y, imaging.Lanczos)
		img.Thumbnail = true
	}
	return img, nil
}

// CanEncode implements Coder.
func (c *RasterCoder) CanEncode(f Format) bool {
	_, ok := imagingFormats[f]
	return ok
}

// Encode implements Coder. MaxFileSize is honoured for JPEG by lowering
// the quality until the output fits.
func (c *RasterCoder) Encode(img *Image, f Format, opts EncodeOptions) ([]byte, error) {
	target, ok := imagingFormats[f]
	if !ok {
		return nil, fmt.Errorf("raster encode %s: %w", f, ErrUnsupported)
	}
	if img == nil || img.Image == nil {
		return nil, fmt.Errorf("raster encode %s: nil image", f)
	}

	src := img.Image
	if limit := opts.MaxPixelSize; limit.X > 0 && limit.Y > 0 {
		size := src.Bounds().Size()
		if size.X > limit.X || size.Y > limit.Y {
			src = imaging.Fit(src, limit.X, limit.Y, imaging.Lanczos)
		}
	}

	quality := opts.quality()
	for {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, src, target, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("raster encode %s: %w", f, err)
		}
		if f != JPEG || opts.MaxFileSize <= 0 || int64(buf.Len()) <= opts.MaxFileSize || quality <= 10 {
			return buf.Bytes(), nil
		}
		quality -= 10
	}
}

// CanDecodeIncrementally implements ProgressiveCoder.
func (c *RasterCoder) CanDecodeIncrementally(data []byte) bool {
	return c.CanDecode(data)
}

// NewIncrementalDecoder implements ProgressiveCoder. The standard library
// decoders reject truncated input, so intermediate images appear only
// once a decodable prefix (in practice the full payload) has arrived.
func (c *RasterCoder) NewIncrementalDecoder(opts DecodeOptions) IncrementalDecoder {
	return &rasterIncremental{coder: c, opts: opts}
}

type rasterIncremental struct {
	coder     *RasterCoder
	opts      DecodeOptions
	data      []byte
	final     bool
	triedLen  int
	lastImage *Image
}

func (d *rasterIncremental) Update(data []byte, final bool) {
	d.data = data
	d.final = final
}

func (d *rasterIncremental) Image(opts DecodeOptions) *Image {
	if !d.final && len(d.data)-d.triedLen < incrementalStep {
		return d.lastImage
	}
	d.triedLen = len(d.data)

	img, err := d.coder.Decode(d.data, opts)
	if err != nil {
		return d.lastImage
	}
	img.Partial = !d.final
	d.lastImage = img
	return img
}
