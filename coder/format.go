package coder

import (
	"bytes"
	"strings"

	"github.com/h2non/filetype"
)

// Format identifies an encoded image format.
type Format int

// Image formats. Undefined is used when sniffing fails.
const (
	Undefined Format = iota - 1
	JPEG
	PNG
	GIF
	TIFF
	WebP
	HEIC
	HEIF
	PDF
	SVG
	BMP
	RAW
)

var formatNames = map[Format]string{
	Undefined: "undefined",
	JPEG:      "jpeg",
	PNG:       "png",
	GIF:       "gif",
	TIFF:      "tiff",
	WebP:      "webp",
	HEIC:      "heic",
	HEIF:      "heif",
	PDF:       "pdf",
	SVG:       "svg",
	BMP:       "bmp",
	RAW:       "raw",
}

var formatMIME = map[Format]string{
	JPEG: "image/jpeg",
	PNG:  "image/png",
	GIF:  "image/gif",
	TIFF: "image/tiff",
	WebP: "image/webp",
	HEIC: "image/heic",
	HEIF: "image/heif",
	PDF:  "application/pdf",
	SVG:  "image/svg+xml",
	BMP:  "image/bmp",
	RAW:  "image/x-raw",
}

// String returns the lower-case format name.
func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return formatNames[Undefined]
}

// MIMEType returns the format's MIME type, or "" for Undefined.
func (f Format) MIMEType() string {
	return formatMIME[f]
}

// ParseFormat maps a format name or file extension ("jpg", ".png") to a
// Format.
func ParseFormat(name string) Format {
	switch strings.TrimPrefix(strings.ToLower(name), ".") {
	case "jpg", "jpeg":
		return JPEG
	case "png":
		return PNG
	case "gif":
		return GIF
	case "tif", "tiff":
		return TIFF
	case "webp":
		return WebP
	case "heic":
		return HEIC
	case "heif":
		return HEIF
	case "pdf":
		return PDF
	case "svg":
		return SVG
	case "bmp":
		return BMP
	case "raw", "cr2", "nef", "dng":
		return RAW
	default:
		return Undefined
	}
}

// DetectFormat sniffs the format from the leading bytes of data.
func DetectFormat(data []byte) Format {
	if len(data) == 0 {
		return Undefined
	}

	kind, err := filetype.Match(data)
	if err == nil && kind != filetype.Unknown {
		if kind.Extension == "heif" {
			return heifBrand(data)
		}
		if f := ParseFormat(kind.Extension); f != Undefined {
			return f
		}
	}

	if looksLikeSVG(data) {
		return SVG
	}
	return Undefined
}

// heifBrand separates HEIC from generic HEIF using the ftyp major brand.
func heifBrand(data []byte) Format {
	if len(data) >= 12 {
		switch string(data[8:12]) {
		case "heic", "heix", "hevc", "hevx":
			return HEIC
		}
	}
	return HEIF
}

func looksLikeSVG(data []byte) bool {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	head = bytes.TrimSpace(head)
	return bytes.HasPrefix(head, []byte("<svg")) ||
		(bytes.HasPrefix(head, []byte("<?xml")) && bytes.Contains(head, []byte("<svg")))
}
