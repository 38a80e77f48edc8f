package coder

import (
	"bytes"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"time"

	"github.com/disintegration/imaging"
)

// GIFCoder decodes and encodes animated GIFs. Frames are composited onto
// a full-size canvas so every Frame is directly displayable.
type GIFCoder struct{}

// NewGIFCoder creates a GIFCoder.
func NewGIFCoder() *GIFCoder {
	return &GIFCoder{}
}

// CanDecode implements Coder.
func (c *GIFCoder) CanDecode(data []byte) bool {
	return DetectFormat(data) == GIF
}

// Decode implements Coder.
func (c *GIFCoder) Decode(data []byte, opts DecodeOptions) (*Image, error) {
	if opts.FirstFrameOnly {
		src, err := gif.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gif decode: %w", err)
		}
		img := &Image{Image: src, Format: GIF, Scale: opts.scale()}
		if size, ok := ThumbnailPixelSize(src.Bounds().Size(), 1, opts); ok {
			img.Image = imaging.Resize(src, size.X, size.Y, imaging.Lanczos)
			img.Thumbnail = true
		}
		return img, nil
	}

	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gif decode: %w", err)
	}
	if len(g.Image) == 0 {
		return nil, fmt.Errorf("gif decode: no frames")
	}

	frames := composite(g)
	img := &Image{
		Format:    GIF,
		Scale:     opts.scale(),
		LoopCount: g.LoopCount,
	}
	if size, ok := ThumbnailPixelSize(frames[0].Image.Bounds().Size(), len(frames), opts); ok {
		for i := range frames {
			frames[i].Image = imaging.Resize(frames[i].Image, size.X, size.Y, imaging.Lanczos)
		}
		img.Thumbnail = true
	}
	img.Image = frames[0].Image
	if len(frames) > 1 {
		img.Frames = frames
	}
	return img, nil
}

func composite(g *gif.GIF) []Frame {
	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		bounds = g.Image[0].Bounds()
	}

	canvas := image.NewRGBA(bounds)
	frames := make([]Frame, 0, len(g.Image))
	for i, frame := range g.Image {
		disposal := byte(0)
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}

		var previous *image.RGBA
		if disposal == gif.DisposalPrevious {
			previous = cloneRGBA(canvas)
		}

		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)

		delay := time.Duration(0)
		if i < len(g.Delay) {
			delay = time.Duration(g.Delay[i]) * 10 * time.Millisecond
		}
		frames = append(frames, Frame{Image: cloneRGBA(canvas), Duration: delay})

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = previous
		}
	}
	return frames
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}

// CanEncode implements Coder.
func (c *GIFCoder) CanEncode(f Format) bool {
	return f == GIF
}

// Encode implements Coder. Still images produce a single-frame GIF.
func (c *GIFCoder) Encode(img *Image, f Format, opts EncodeOptions) ([]byte, error) {
	if f != GIF {
		return nil, fmt.Errorf("gif encode %s: %w", f, ErrUnsupported)
	}
	if img == nil || img.Image == nil {
		return nil, fmt.Errorf("gif encode: nil image")
	}

	frames := img.Frames
	if opts.FirstFrameOnly || len(frames) < 2 {
		frames = []Frame{{Image: img.Image}}
	}

	out := &gif.GIF{LoopCount: img.LoopCount}
	for _, frame := range frames {
		src := frame.Image
		if limit := opts.MaxPixelSize; limit.X > 0 && limit.Y > 0 {
			size := src.Bounds().Size()
			if size.X > limit.X || size.Y > limit.Y {
				src = imaging.Fit(src, limit.X, limit.Y, imaging.Lanczos)
			}
		}
		b := src.Bounds()
		paletted := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), palette.Plan9)
		draw.FloydSteinberg.Draw(paletted, paletted.Bounds(), src, b.Min)
		out.Image = append(out.Image, paletted)
		out.Delay = append(out.Delay, int(frame.Duration/(10*time.Millisecond)))
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, out); err != nil {
		return nil, fmt.Errorf("gif encode: %w", err)
	}
	return buf.Bytes(), nil
}
