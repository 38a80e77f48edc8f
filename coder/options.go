package coder

import (
	"image"
	"math"
)

// bytesPerPixel is the decoded size of one RGBA pixel.
const bytesPerPixel = 4

// DecodeOptions control how bytes become an image.
type DecodeOptions struct {
	// Scale is the scale factor of the result; values below 1 mean 1.
	Scale float64
	// FirstFrameOnly decodes only the first frame of animated formats.
	FirstFrameOnly bool
	// PreserveAspectRatio keeps the source aspect ratio when decoding a
	// thumbnail. Without it the thumbnail has exactly ThumbnailPixelSize.
	PreserveAspectRatio bool
	// ThumbnailPixelSize requests a thumbnail no larger than this size.
	ThumbnailPixelSize image.Point
	// TypeHint is the expected format when known.
	TypeHint Format
	// LimitBytes caps the decoded size; larger images are scaled down.
	LimitBytes int64
}

// EncodeOptions control how an image becomes bytes.
type EncodeOptions struct {
	// Quality is the compression quality in [0, 1]; 0 means 1.
	Quality float64
	// MaxPixelSize caps the output dimensions, keeping the aspect ratio.
	MaxPixelSize image.Point
	// MaxFileSize caps the output size for lossy formats.
	MaxFileSize int64
	// FirstFrameOnly encodes only the first frame of animations.
	FirstFrameOnly bool
}

func (o DecodeOptions) scale() float64 {
	if o.Scale < 1 {
		return 1
	}
	return o.Scale
}

func (o EncodeOptions) quality() int {
	q := o.Quality
	if q <= 0 || q > 1 {
		q = 1
	}
	return int(math.Round(q * 100))
}

// LimitedPixelSize returns the largest frame size whose decoded footprint
// for frameCount frames fits in limitBytes, keeping the aspect ratio of
// src. The second result is false when src already fits.
func LimitedPixelSize(src image.Point, frameCount int, limitBytes int64) (image.Point, bool) {
	if limitBytes <= 0 || src.X <= 0 || src.Y <= 0 {
		return src, false
	}
	if frameCount < 1 {
		frameCount = 1
	}
	framePixels := float64(limitBytes) / float64(frameCount) / bytesPerPixel
	srcPixels := float64(src.X) * float64(src.Y)
	if srcPixels <= framePixels {
		return src, false
	}
	ratio := math.Sqrt(framePixels / srcPixels)
	dst := image.Pt(int(math.Floor(float64(src.X)*ratio)), int(math.Floor(float64(src.Y)*ratio)))
	if dst.X < 1 {
		dst.X = 1
	}
	if dst.Y < 1 {
		dst.Y = 1
	}
	return dst, true
}

// ThumbnailPixelSize returns the size a source of size src should be
// decoded at under opts. It never upscales. The second result is false
// when the full size should be used.
func ThumbnailPixelSize(src image.Point, frameCount int, opts DecodeOptions) (image.Point, bool) {
	dst := src
	changed := false

	want := opts.ThumbnailPixelSize
	if want.X > 0 && want.Y > 0 && (src.X > want.X || src.Y > want.Y) {
		if opts.PreserveAspectRatio {
			ratio := math.Min(float64(want.X)/float64(src.X), float64(want.Y)/float64(src.Y))
			dst = image.Pt(maxInt(1, int(math.Round(float64(src.X)*ratio))), maxInt(1, int(math.Round(float64(src.Y)*ratio))))
		} else {
			dst = want
		}
		changed = true
	}

	if limited, ok := LimitedPixelSize(dst, frameCount, opts.LimitBytes); ok {
		dst = limited
		changed = true
	}
	return dst, changed
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
