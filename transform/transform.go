// Package transform provides image transformers applied after loading and
// before caching. Every transformer has a stable key that becomes part of
// the cache key of its output.
package transform

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/jmgilman/go/imageloader/coder"
)

// Transformer turns one image into another.
type Transformer interface {
	// Key identifies the transformation; equal keys must produce equal
	// pixels for equal input.
	Key() string
	// Transform returns the transformed image. key is the cache key of
	// the source image.
	Transform(img *coder.Image, key string) (*coder.Image, error)
}

// Func adapts a function to the Transformer interface.
type Func struct {
	ID string
	Fn func(img *coder.Image, key string) (*coder.Image, error)
}

// Key implements Transformer.
func (f Func) Key() string { return f.ID }

// Transform implements Transformer.
func (f Func) Transform(img *coder.Image, key string) (*coder.Image, error) {
	return f.Fn(img, key)
}

// Pipeline runs transformers in order.
type Pipeline []Transformer

// Key implements Transformer.
func (p Pipeline) Key() string {
	keys := make([]string, 0, len(p))
	for _, t := range p {
		keys = append(keys, t.Key())
	}
	return strings.Join(keys, "-")
}

// Transform implements Transformer. A nil result from any stage stops
// the pipeline and returns nil.
func (p Pipeline) Transform(img *coder.Image, key string) (*coder.Image, error) {
	out := img
	for _, t := range p {
		next, err := t.Transform(out, key)
		if err != nil {
			return nil, fmt.Errorf("transform %s: %w", t.Key(), err)
		}
		if next == nil {
			return nil, nil
		}
		out = next
	}
	return out, nil
}

// apply runs fn over the still image and every animation frame.
func apply(img *coder.Image, fn func(image.Image) image.Image) (*coder.Image, error) {
	if img == nil || img.Image == nil {
		return nil, fmt.Errorf("nil image")
	}
	out := *img
	out.Image = fn(img.Image)
	if len(img.Frames) > 0 {
		out.Frames = make([]coder.Frame, len(img.Frames))
		for i, frame := range img.Frames {
			out.Frames[i] = coder.Frame{Image: fn(frame.Image), Duration: frame.Duration}
		}
	}
	out.Transformed = true
	return &out, nil
}

// ScaleMode selects how Resize fits the target size.
type ScaleMode int

const (
	// Fill scales to cover the target and crops the overflow.
	Fill ScaleMode = iota
	// Fit scales to fit inside the target, keeping the aspect ratio.
	Fit
	// Stretch scales to exactly the target, ignoring the aspect ratio.
	Stretch
)

func (m ScaleMode) String() string {
	switch m {
	case Fit:
		return "fit"
	case Stretch:
		return "stretch"
	default:
		return "fill"
	}
}

// Resize scales images to Size.
type Resize struct {
	Size image.Point
	Mode ScaleMode
}

// Key implements Transformer.
func (r Resize) Key() string {
	return fmt.Sprintf("Resize(%dx%d,%s)", r.Size.X, r.Size.Y, r.Mode)
}

// Transform implements Transformer.
func (r Resize) Transform(img *coder.Image, _ string) (*coder.Image, error) {
	if r.Size.X <= 0 || r.Size.Y <= 0 {
		return nil, fmt.Errorf("resize: invalid size %v", r.Size)
	}
	return apply(img, func(src image.Image) image.Image {
		switch r.Mode {
		case Fit:
			return imaging.Fit(src, r.Size.X, r.Size.Y, imaging.Lanczos)
		case Stretch:
			return imaging.Resize(src, r.Size.X, r.Size.Y, imaging.Lanczos)
		default:
			return imaging.Fill(src, r.Size.X, r.Size.Y, imaging.Center, imaging.Lanczos)
		}
	})
}

// Crop cuts Rect out of images.
type Crop struct {
	Rect image.Rectangle
}

// Key implements Transformer.
func (c Crop) Key() string {
	return fmt.Sprintf("Crop(%d,%d,%d,%d)", c.Rect.Min.X, c.Rect.Min.Y, c.Rect.Dx(), c.Rect.Dy())
}

// Transform implements Transformer.
func (c Crop) Transform(img *coder.Image, _ string) (*coder.Image, error) {
	if c.Rect.Empty() {
		return nil, fmt.Errorf("crop: empty rectangle")
	}
	return apply(img, func(src image.Image) image.Image {
		return imaging.Crop(src, c.Rect.Add(src.Bounds().Min))
	})
}

// Rotate rotates images counter-clockwise by Angle degrees, filling the
// uncovered area with Background.
type Rotate struct {
	Angle      float64
	Background color.Color
}

// Key implements Transformer.
func (r Rotate) Key() string {
	return fmt.Sprintf("Rotate(%g)", r.Angle)
}

// Transform implements Transformer.
func (r Rotate) Transform(img *coder.Image, _ string) (*coder.Image, error) {
	bg := r.Background
	if bg == nil {
		bg = color.Transparent
	}
	return apply(img, func(src image.Image) image.Image {
		return imaging.Rotate(src, r.Angle, bg)
	})
}

// Flip mirrors images.
type Flip struct {
	Horizontal bool
	Vertical   bool
}

// Key implements Transformer.
func (f Flip) Key() string {
	return fmt.Sprintf("Flip(%t,%t)", f.Horizontal, f.Vertical)
}

// Transform implements Transformer.
func (f Flip) Transform(img *coder.Image, _ string) (*coder.Image, error) {
	return apply(img, func(src image.Image) image.Image {
		out := src
		if f.Horizontal {
			out = imaging.FlipH(out)
		}
		if f.Vertical {
			out = imaging.FlipV(out)
		}
		return out
	})
}

// Blur applies a gaussian blur.
type Blur struct {
	Radius float64
}

// Key implements Transformer.
func (b Blur) Key() string {
	return fmt.Sprintf("Blur(%g)", b.Radius)
}

// Transform implements Transformer.
func (b Blur) Transform(img *coder.Image, _ string) (*coder.Image, error) {
	return apply(img, func(src image.Image) image.Image {
		return blur.Gaussian(src, b.Radius)
	})
}

// Grayscale removes colour.
type Grayscale struct{}

// Key implements Transformer.
func (Grayscale) Key() string { return "Grayscale" }

// Transform implements Transformer.
func (Grayscale) Transform(img *coder.Image, _ string) (*coder.Image, error) {
	return apply(img, func(src image.Image) image.Image {
		return effect.Grayscale(src)
	})
}

// Sharpen sharpens edges.
type Sharpen struct{}

// Key implements Transformer.
func (Sharpen) Key() string { return "Sharpen" }

// Transform implements Transformer.
func (Sharpen) Transform(img *coder.Image, _ string) (*coder.Image, error) {
	return apply(img, func(src image.Image) image.Image {
		return effect.Sharpen(src)
	})
}

// Tint blends every pixel towards Color by Amount in [0, 1], mixing in
// the CIE L*a*b* space.
type Tint struct {
	Color  colorful.Color
	Amount float64
}

// NewTint parses a hex colour such as "#ff8800".
func NewTint(hex string, amount float64) (Tint, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return Tint{}, fmt.Errorf("tint: %w", err)
	}
	return Tint{Color: c, Amount: amount}, nil
}

// Key implements Transformer.
func (t Tint) Key() string {
	return fmt.Sprintf("Tint(%s,%g)", t.Color.Hex(), t.Amount)
}

// Transform implements Transformer.
func (t Tint) Transform(img *coder.Image, _ string) (*coder.Image, error) {
	amount := t.Amount
	if amount < 0 {
		amount = 0
	} else if amount > 1 {
		amount = 1
	}
	return apply(img, func(src image.Image) image.Image {
		b := src.Bounds()
		dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				px := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				c, _ := colorful.MakeColor(color.NRGBA{R: px.R, G: px.G, B: px.B, A: 255})
				r, g, bl := c.BlendLab(t.Color, amount).Clamped().RGB255()
				dst.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: bl, A: px.A})
			}
		}
		return dst
	})
}
