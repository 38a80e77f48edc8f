// Package errs defines the error taxonomy of the image loading pipeline.
//
// Every error returned by the pipeline is a PlatformError from
// github.com/jmgilman/go/errors carrying one of the codes below and
// wrapping a sentinel, so both styles of inspection work:
//
//	if errors.Is(err, errs.ErrBlacklisted) { ... }
//	if errs.CodeOf(err) == errs.CodeBlacklisted { ... }
//
// Classification decides whether a failure is retryable; permanent
// failures are what the failure blacklist records.
package errs

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/jmgilman/go/errors"
)

// Image loader error codes.
const (
	CodeInvalidURL                 errors.ErrorCode = "INVALID_URL"
	CodeBadImageData               errors.ErrorCode = "BAD_IMAGE_DATA"
	CodeCacheNotModified           errors.ErrorCode = "CACHE_NOT_MODIFIED"
	CodeBlacklisted                errors.ErrorCode = "BLACKLISTED"
	CodeInvalidDownloadOperation   errors.ErrorCode = "INVALID_DOWNLOAD_OPERATION"
	CodeInvalidDownloadStatusCode  errors.ErrorCode = "INVALID_DOWNLOAD_STATUS_CODE"
	CodeCancelled                  errors.ErrorCode = "CANCELLED"
	CodeInvalidDownloadResponse    errors.ErrorCode = "INVALID_DOWNLOAD_RESPONSE"
	CodeInvalidDownloadContentType errors.ErrorCode = "INVALID_DOWNLOAD_CONTENT_TYPE"
)

// Context keys attached to errors.
const (
	KeyURL         = "url"
	KeyStatusCode  = "status_code"
	KeyContentType = "content_type"
)

// Sentinel errors wrapped by every constructor in this package.
var (
	ErrInvalidURL                 = stderrors.New("invalid url")
	ErrBadImageData               = stderrors.New("bad image data")
	ErrCacheNotModified           = stderrors.New("cache not modified")
	ErrBlacklisted                = stderrors.New("url is blacklisted")
	ErrInvalidDownloadOperation   = stderrors.New("invalid download operation")
	ErrInvalidDownloadStatusCode  = stderrors.New("invalid download status code")
	ErrCancelled                  = stderrors.New("operation cancelled")
	ErrInvalidDownloadResponse    = stderrors.New("invalid download response")
	ErrInvalidDownloadContentType = stderrors.New("invalid download content type")
)

// numbers maps codes to the stable numeric values used in logs and by the
// CLI exit status.
var numbers = map[errors.ErrorCode]int{
	CodeInvalidURL:                 1000,
	CodeBadImageData:               1001,
	CodeCacheNotModified:           1002,
	CodeBlacklisted:                1003,
	CodeInvalidDownloadOperation:   2000,
	CodeInvalidDownloadStatusCode:  2001,
	CodeCancelled:                  2002,
	CodeInvalidDownloadResponse:    2003,
	CodeInvalidDownloadContentType: 2004,
}

// Number returns the numeric value of an image loader code, or 0.
func Number(code errors.ErrorCode) int {
	return numbers[code]
}

func newError(sentinel error, code errors.ErrorCode, msg string, ctx map[string]interface{}) error {
	return errors.WrapWithContext(sentinel, code, msg, ctx)
}

// InvalidURL reports a missing or malformed URL.
func InvalidURL(rawURL, reason string) error {
	return newError(ErrInvalidURL, CodeInvalidURL, reason, map[string]interface{}{KeyURL: rawURL})
}

// BadImageData reports bytes that could not be turned into an image.
func BadImageData(rawURL, reason string) error {
	return newError(ErrBadImageData, CodeBadImageData, reason, map[string]interface{}{KeyURL: rawURL})
}

// CacheNotModified reports a 304 answer to a conditional fetch.
func CacheNotModified(rawURL string) error {
	return newError(ErrCacheNotModified, CodeCacheNotModified,
		"remote image not modified", map[string]interface{}{
			KeyURL:        rawURL,
			KeyStatusCode: http.StatusNotModified,
		})
}

// Blacklisted reports a URL that previously failed permanently.
func Blacklisted(rawURL string) error {
	return newError(ErrBlacklisted, CodeBlacklisted,
		"url failed previously and is blacklisted", map[string]interface{}{KeyURL: rawURL})
}

// InvalidDownloadOperation reports a download that could not be started.
func InvalidDownloadOperation(rawURL, reason string) error {
	return newError(ErrInvalidDownloadOperation, CodeInvalidDownloadOperation, reason,
		map[string]interface{}{KeyURL: rawURL})
}

// InvalidDownloadStatusCode reports an unacceptable HTTP status. 5xx,
// 408 and 429 are retryable; everything else is permanent.
func InvalidDownloadStatusCode(rawURL string, status int) error {
	err := newError(ErrInvalidDownloadStatusCode, CodeInvalidDownloadStatusCode,
		fmt.Sprintf("download returned status %d", status), map[string]interface{}{
			KeyURL:        rawURL,
			KeyStatusCode: status,
		})
	if transientStatus(status) {
		return errors.WithClassification(err, errors.ClassificationRetryable)
	}
	return err
}

// Cancelled reports an operation cancelled before completion. The
// pipeline suppresses callbacks on cancellation; this error surfaces only
// from synchronous helpers.
func Cancelled(reason string) error {
	return newError(ErrCancelled, CodeCancelled, reason, nil)
}

// InvalidDownloadResponse reports a response rejected by a modifier.
func InvalidDownloadResponse(rawURL, reason string) error {
	return newError(ErrInvalidDownloadResponse, CodeInvalidDownloadResponse, reason,
		map[string]interface{}{KeyURL: rawURL})
}

// InvalidDownloadContentType reports an unacceptable response MIME type.
func InvalidDownloadContentType(rawURL, contentType string) error {
	return newError(ErrInvalidDownloadContentType, CodeInvalidDownloadContentType,
		fmt.Sprintf("download returned content type %q", contentType), map[string]interface{}{
			KeyURL:         rawURL,
			KeyContentType: contentType,
		})
}

// Network wraps a transport failure. It is retryable.
func Network(rawURL string, err error) error {
	return errors.WrapWithContext(err, errors.CodeNetwork, "download failed",
		map[string]interface{}{KeyURL: rawURL})
}

// Timeout wraps a fetch that exceeded its deadline. It is retryable.
func Timeout(rawURL string, err error) error {
	return errors.WrapWithContext(err, errors.CodeTimeout, "download timed out",
		map[string]interface{}{KeyURL: rawURL})
}

func transientStatus(status int) bool {
	return status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}

// CodeOf returns the code of the outermost PlatformError in err's chain.
func CodeOf(err error) errors.ErrorCode {
	return errors.GetCode(err)
}

// StatusCode returns the HTTP status carried by err, if any.
func StatusCode(err error) (int, bool) {
	v, ok := contextValue(err, KeyStatusCode)
	if !ok {
		return 0, false
	}
	code, ok := v.(int)
	return code, ok
}

// ContentType returns the MIME type carried by err, if any.
func ContentType(err error) (string, bool) {
	v, ok := contextValue(err, KeyContentType)
	if !ok {
		return "", false
	}
	ct, ok := v.(string)
	return ct, ok
}

func contextValue(err error, key string) (interface{}, bool) {
	var pe errors.PlatformError
	if !errors.As(err, &pe) {
		return nil, false
	}
	v, ok := pe.Context()[key]
	return v, ok
}

// ShouldBlock reports whether a loader failure is permanent enough to
// blacklist the URL: bad data, invalid URLs, rejected content types and
// permanent 4xx statuses. Cancellation, timeouts, network failures, 5xx
// and 304 never block.
func ShouldBlock(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case CodeInvalidURL, CodeBadImageData, CodeInvalidDownloadContentType:
		return true
	case CodeInvalidDownloadStatusCode:
		status, ok := StatusCode(err)
		if !ok {
			return false
		}
		return status >= 400 && status < 500 && !transientStatus(status)
	default:
		return false
	}
}
