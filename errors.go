package imageloader

import "github.com/jmgilman/go/imageloader/errs"

// Sentinels of the errors delivered by Manager.Load, re-exported from the
// errs package for errors.Is checks.
var (
	ErrInvalidURL                 = errs.ErrInvalidURL
	ErrBadImageData               = errs.ErrBadImageData
	ErrCacheNotModified           = errs.ErrCacheNotModified
	ErrBlacklisted                = errs.ErrBlacklisted
	ErrInvalidDownloadOperation   = errs.ErrInvalidDownloadOperation
	ErrInvalidDownloadStatusCode  = errs.ErrInvalidDownloadStatusCode
	ErrCancelled                  = errs.ErrCancelled
	ErrInvalidDownloadResponse    = errs.ErrInvalidDownloadResponse
	ErrInvalidDownloadContentType = errs.ErrInvalidDownloadContentType
)
