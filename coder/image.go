package coder

import (
	"image"
	"time"
)

// Frame is one frame of an animated image.
type Frame struct {
	Image    image.Image
	Duration time.Duration
}

// Image is a decoded image as it travels through caches, loaders and
// transformers. The embedded image.Image is the still image, or the first
// frame of an animation.
type Image struct {
	image.Image

	// Format is the format the image was decoded from, Undefined for
	// images built in memory.
	Format Format
	// Scale is the point-to-pixel scale factor, at least 1.
	Scale float64
	// Frames holds every frame of an animated image. Empty for stills.
	Frames []Frame
	// LoopCount is the animation loop count, 0 meaning forever.
	LoopCount int
	// Thumbnail is set when the image was decoded below its full size.
	Thumbnail bool
	// Partial is set on progressive results that are not final.
	Partial bool
	// Transformed is set once a transformer produced the image.
	Transformed bool
}

// NewImage wraps img with scale 1.
func NewImage(img image.Image, format Format) *Image {
	return &Image{Image: img, Format: format, Scale: 1}
}

// IsAnimated reports whether the image has more than one frame.
func (i *Image) IsAnimated() bool {
	return len(i.Frames) > 1
}

// FrameCount returns the number of frames, 1 for stills.
func (i *Image) FrameCount() int {
	if len(i.Frames) > 1 {
		return len(i.Frames)
	}
	return 1
}

// PixelSize returns the size of the still image in pixels.
func (i *Image) PixelSize() image.Point {
	if i == nil || i.Image == nil {
		return image.Point{}
	}
	return i.Bounds().Size()
}

// Cost is the decoded memory footprint used by the memory cache.
func (i *Image) Cost() int64 {
	size := i.PixelSize()
	return int64(size.X) * int64(size.Y) * bytesPerPixel * int64(i.FrameCount())
}

// HasAlpha reports whether the image has any non-opaque pixel.
func (i *Image) HasAlpha() bool {
	if i == nil || i.Image == nil {
		return false
	}
	if o, ok := i.Image.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}

// WithImage returns a shallow copy carrying a different still image.
// Animation frames are dropped.
func (i *Image) WithImage(img image.Image) *Image {
	c := *i
	c.Image = img
	c.Frames = nil
	return &c
}
