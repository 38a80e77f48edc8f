package imageloader

import (
	"fmt"
	"image"
	"net/url"
	"path"
	"strings"

	"github.com/jmgilman/go/imageloader/coder"
)

// CacheKey derives the cache key of u under lctx. The key changes with
// everything that changes the decoded pixels (key filter, thumbnail size,
// decode scale and limits, transformer) and with nothing else. An empty
// key disables caching.
func (m *Manager) CacheKey(u *url.URL, lctx *LoadContext) string {
	return m.LoadCacheKey(u, 0, lctx)
}

// LoadCacheKey is the key a Load of u with opts reads and writes. It
// differs from CacheKey when opts carries decode flags such as
// ScaleDownLargeImages or DecodeFirstFrameOnly.
func (m *Manager) LoadCacheKey(u *url.URL, opts Options, lctx *LoadContext) string {
	if lctx == nil {
		lctx = &LoadContext{}
	}
	key := m.originalCacheKey(u, opts, lctx)
	if key == "" {
		return ""
	}
	if t := m.transformerFor(lctx); t != nil {
		key = TransformedKey(key, t.Key())
	}
	return key
}

// originalCacheKey is the key of the untransformed image.
func (m *Manager) originalCacheKey(u *url.URL, opts Options, lctx *LoadContext) string {
	if u == nil {
		return ""
	}

	filter := lctx.KeyFilter
	if filter == nil {
		filter = m.keyFilter
	}
	var key string
	if filter != nil {
		key = filter.CacheKey(u)
	} else {
		key = u.String()
	}
	if key == "" {
		return ""
	}

	if size := lctx.ThumbnailPixelSize; size.X > 0 && size.Y > 0 {
		key = ThumbnailedKey(key, size, lctx.PreserveAspectRatio)
	}
	return DecodedKey(key, lctx.decodeOptions(opts))
}

// TransformedKey inserts "-<transformerKey>" before the path extension of
// key. URL keys keep their query string:
//
//	TransformedKey("http://x/a.png?v=1", "Grayscale") == "http://x/a-Grayscale.png?v=1"
func TransformedKey(key, transformerKey string) string {
	if transformerKey == "" {
		return key
	}
	u, err := url.Parse(key)
	if err != nil || u.Scheme == "" || u.Opaque != "" {
		return insertBeforeExt(key, transformerKey)
	}

	// Edit the raw string so the rest of the key keeps its encoding.
	base, rest := key, ""
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		base, rest = key[:i], key[i:]
	}
	prefix := ""
	if i := strings.Index(base, "://"); i >= 0 {
		authority := i + len("://")
		if j := strings.IndexByte(base[authority:], '/'); j >= 0 {
			prefix, base = base[:authority+j], base[authority+j:]
		} else {
			prefix, base = base, "/"
		}
	}
	return prefix + insertBeforeExt(base, transformerKey) + rest
}

// ThumbnailedKey marks key with a thumbnail size:
//
//	ThumbnailedKey("http://x/a.png", image.Pt(100, 50), true) == "http://x/a-Thumbnail({100,50},1).png"
func ThumbnailedKey(key string, size image.Point, preserveAspectRatio bool) string {
	preserve := 0
	if preserveAspectRatio {
		preserve = 1
	}
	return TransformedKey(key, fmt.Sprintf("Thumbnail({%d,%d},%d)", size.X, size.Y, preserve))
}

// DecodedKey marks key with the decode options that change the decoded
// image. Thumbnail sizing is left to ThumbnailedKey.
//
//	DecodedKey("http://x/a.gif", coder.DecodeOptions{Scale: 2, FirstFrameOnly: true}) == "http://x/a-Scale(2)-FirstFrame.gif"
func DecodedKey(key string, opts coder.DecodeOptions) string {
	if opts.Scale > 1 {
		key = TransformedKey(key, fmt.Sprintf("Scale(%g)", opts.Scale))
	}
	if opts.FirstFrameOnly {
		key = TransformedKey(key, "FirstFrame")
	}
	if opts.LimitBytes > 0 {
		key = TransformedKey(key, fmt.Sprintf("ScaleDown(%d)", opts.LimitBytes))
	}
	return key
}

func insertBeforeExt(p, suffix string) string {
	ext := path.Ext(p)
	if ext == "" {
		return p + "-" + suffix
	}
	return strings.TrimSuffix(p, ext) + "-" + suffix + ext
}
