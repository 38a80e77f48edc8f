package errs

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
)

func TestConstructors_WrapSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		code     errors.ErrorCode
		number   int
	}{
		{"invalid url", InvalidURL("::", "cannot parse"), ErrInvalidURL, CodeInvalidURL, 1000},
		{"bad data", BadImageData("http://x/a.png", "empty body"), ErrBadImageData, CodeBadImageData, 1001},
		{"not modified", CacheNotModified("http://x/a.png"), ErrCacheNotModified, CodeCacheNotModified, 1002},
		{"blacklisted", Blacklisted("http://x/a.png"), ErrBlacklisted, CodeBlacklisted, 1003},
		{"operation", InvalidDownloadOperation("http://x", "nil request"), ErrInvalidDownloadOperation, CodeInvalidDownloadOperation, 2000},
		{"status", InvalidDownloadStatusCode("http://x", 404), ErrInvalidDownloadStatusCode, CodeInvalidDownloadStatusCode, 2001},
		{"cancelled", Cancelled("stopped"), ErrCancelled, CodeCancelled, 2002},
		{"response", InvalidDownloadResponse("http://x", "rejected"), ErrInvalidDownloadResponse, CodeInvalidDownloadResponse, 2003},
		{"content type", InvalidDownloadContentType("http://x", "text/html"), ErrInvalidDownloadContentType, CodeInvalidDownloadContentType, 2004},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, stderrors.Is(tt.err, tt.sentinel))
			assert.Equal(t, tt.code, CodeOf(tt.err))
			assert.Equal(t, tt.number, Number(tt.code))
		})
	}
}

func TestStatusCode(t *testing.T) {
	err := InvalidDownloadStatusCode("http://x/a.png", http.StatusNotFound)
	code, ok := StatusCode(err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, errors.IsRetryable(err))

	err = InvalidDownloadStatusCode("http://x/a.png", http.StatusServiceUnavailable)
	assert.True(t, errors.IsRetryable(err))
	assert.True(t, stderrors.Is(err, ErrInvalidDownloadStatusCode), "reclassification keeps the sentinel")

	_, ok = StatusCode(stderrors.New("plain"))
	assert.False(t, ok)
}

func TestContentType(t *testing.T) {
	ct, ok := ContentType(InvalidDownloadContentType("http://x", "text/html"))
	assert.True(t, ok)
	assert.Equal(t, "text/html", ct)

	_, ok = ContentType(BadImageData("http://x", "empty"))
	assert.False(t, ok)
}

func TestShouldBlock(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"404", InvalidDownloadStatusCode("u", 404), true},
		{"410", InvalidDownloadStatusCode("u", 410), true},
		{"408", InvalidDownloadStatusCode("u", 408), false},
		{"429", InvalidDownloadStatusCode("u", 429), false},
		{"500", InvalidDownloadStatusCode("u", 500), false},
		{"bad data", BadImageData("u", "x"), true},
		{"invalid url", InvalidURL("u", "x"), true},
		{"content type", InvalidDownloadContentType("u", "text/plain"), true},
		{"not modified", CacheNotModified("u"), false},
		{"cancelled", Cancelled("x"), false},
		{"network", Network("u", stderrors.New("reset")), false},
		{"timeout", Timeout("u", stderrors.New("deadline")), false},
		{"foreign", stderrors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldBlock(tt.err))
		})
	}
}

func TestTransportErrorsAreRetryable(t *testing.T) {
	assert.True(t, errors.IsRetryable(Network("u", stderrors.New("reset"))))
	assert.True(t, errors.IsRetryable(Timeout("u", stderrors.New("deadline"))))
	assert.Nil(t, Network("u", nil))
}
