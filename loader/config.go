package loader

import (
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/jmgilman/go/imageloader/coder"
)

// Downloader defaults.
const (
	DefaultMaxConcurrentDownloads = 6
	DefaultTimeout                = 15 * time.Second
	DefaultAccept                 = "image/*,*/*;q=0.8"
)

// ExecutionOrder decides which queued download of equal priority starts
// next.
type ExecutionOrder int

const (
	// FIFO starts the oldest queued download first.
	FIFO ExecutionOrder = iota
	// LIFO starts the newest queued download first.
	LIFO
)

func (o ExecutionOrder) String() string {
	if o == LIFO {
		return "lifo"
	}
	return "fifo"
}

// ParseExecutionOrder parses "fifo" or "lifo".
func ParseExecutionOrder(s string) (ExecutionOrder, error) {
	switch strings.ToLower(s) {
	case "fifo", "":
		return FIFO, nil
	case "lifo":
		return LIFO, nil
	}
	return FIFO, fmt.Errorf("unknown execution order %q", s)
}

// StatusRange is a half-open range of HTTP status codes [Min, Max).
type StatusRange struct {
	Min int
	Max int
}

// Contains reports whether status falls in the range.
func (r StatusRange) Contains(status int) bool {
	return status >= r.Min && status < r.Max
}

// DefaultStatusRange accepts every success and redirect status.
var DefaultStatusRange = StatusRange{Min: 200, Max: 400}

// DownloaderConfig configures a Downloader.
type DownloaderConfig struct {
	// MaxConcurrentDownloads bounds the transfers in flight.
	MaxConcurrentDownloads int
	// Timeout bounds each transfer, headers and body included.
	Timeout time.Duration
	// MinimumProgressInterval is the smallest completed fraction (0..1)
	// between two progress callbacks. Zero reports every read.
	MinimumProgressInterval float64
	// ExecutionOrder orders queued downloads of equal priority.
	ExecutionOrder ExecutionOrder

	// Username and Password enable basic authentication.
	Username string
	Password string

	// AcceptableStatusCodes defaults to DefaultStatusRange.
	AcceptableStatusCodes []StatusRange
	// AcceptableContentTypes restricts response media types; "image/*"
	// style wildcards are allowed. Nil accepts any type.
	AcceptableContentTypes []string
	// Headers are sent with every request.
	Headers map[string]string

	// Client performs the requests. Its Timeout and Jar are ignored.
	Client *http.Client
	// CookieJar stores cookies for requests that handle cookies.
	CookieJar http.CookieJar

	RequestModifier  RequestModifier
	ResponseModifier ResponseModifier
	Decryptor        Decryptor

	// Coder decodes downloaded bytes. Defaults to coder.Default().
	Coder coder.Coder
	// Logger receives download logs. Nil disables logging.
	Logger *slog.Logger
}

// DefaultDownloaderConfig returns the default configuration.
func DefaultDownloaderConfig() DownloaderConfig {
	return DownloaderConfig{
		MaxConcurrentDownloads: DefaultMaxConcurrentDownloads,
		Timeout:                DefaultTimeout,
		ExecutionOrder:         FIFO,
		AcceptableStatusCodes:  []StatusRange{DefaultStatusRange},
		Headers:                map[string]string{"Accept": DefaultAccept},
	}
}

// Validate checks the configuration.
func (c *DownloaderConfig) Validate() error {
	if c.MaxConcurrentDownloads < 1 {
		return fmt.Errorf("max concurrent downloads must be at least 1")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if c.MinimumProgressInterval < 0 || c.MinimumProgressInterval > 1 {
		return fmt.Errorf("minimum progress interval must be between 0 and 1")
	}
	if c.ExecutionOrder != FIFO && c.ExecutionOrder != LIFO {
		return fmt.Errorf("unknown execution order %d", c.ExecutionOrder)
	}
	for _, r := range c.AcceptableStatusCodes {
		if r.Min >= r.Max {
			return fmt.Errorf("invalid status range [%d,%d)", r.Min, r.Max)
		}
	}
	return nil
}

func (c *DownloaderConfig) acceptsStatus(status int) bool {
	ranges := c.AcceptableStatusCodes
	if len(ranges) == 0 {
		ranges = []StatusRange{DefaultStatusRange}
	}
	for _, r := range ranges {
		if r.Contains(status) {
			return true
		}
	}
	return false
}

func (c *DownloaderConfig) acceptsContentType(contentType string) bool {
	if c.AcceptableContentTypes == nil {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	for _, accepted := range c.AcceptableContentTypes {
		accepted = strings.ToLower(accepted)
		if accepted == "*/*" || accepted == mediaType {
			return true
		}
		if prefix, ok := strings.CutSuffix(accepted, "/*"); ok && strings.HasPrefix(mediaType, prefix+"/") {
			return true
		}
	}
	return false
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*DownloaderConfig)

// WithConfig replaces the whole configuration.
func WithConfig(config DownloaderConfig) DownloaderOption {
	return func(c *DownloaderConfig) {
		*c = config
	}
}

// WithMaxConcurrentDownloads sets the transfer concurrency.
func WithMaxConcurrentDownloads(n int) DownloaderOption {
	return func(c *DownloaderConfig) {
		c.MaxConcurrentDownloads = n
	}
}

// WithTimeout sets the per-transfer timeout.
func WithTimeout(d time.Duration) DownloaderOption {
	return func(c *DownloaderConfig) {
		c.Timeout = d
	}
}

// WithMinimumProgressInterval sets the progress throttle.
func WithMinimumProgressInterval(fraction float64) DownloaderOption {
	return func(c *DownloaderConfig) {
		c.MinimumProgressInterval = fraction
	}
}

// WithExecutionOrder sets the queue order.
func WithExecutionOrder(order ExecutionOrder) DownloaderOption {
	return func(c *DownloaderConfig) {
		c.ExecutionOrder = order
	}
}

// WithCredentials enables basic authentication.
func WithCredentials(username, password string) DownloaderOption {
	return func(c *DownloaderConfig) {
		c.Username = username
		c.Password = password
	}
}

// WithAcceptableStatusCodes replaces the accepted status ranges.
func WithAcceptableStatusCodes(ranges ...StatusRange) DownloaderOption {
	return func(c *DownloaderConfig) {
		c.AcceptableStatusCodes = ranges
	}
}

// WithAcceptableContentTypes restricts the accepted media types.
func WithAcceptableContentTypes(types ...string) DownloaderOption {
	return func(c *DownloaderConfig) {
		c.AcceptableContentTypes = types
	}
}

// WithHeader adds a default header.
func WithHeader(field, value string) DownloaderOption {
	return func(c *DownloaderConfig) {
		if c.Headers == nil {
			c.Headers = make(map[string]string)
		}
		c.Headers[field] = value
	}
}

// WithClient sets the HTTP client.
func WithClient(client *http.Client) DownloaderOption {
	return func(c *DownloaderConfig) {
		c.Client = client
	}
}

// WithCookieJar sets the cookie jar used by requests that handle cookies.
func WithCookieJar(jar http.CookieJar) DownloaderOption {
	return func(c *DownloaderConfig) {
		c.CookieJar = jar
	}
}

// WithRequestModifier sets the default request modifier.
func WithRequestModifier(m RequestModifier) DownloaderOption {
	return func(c *DownloaderConfig) {
		c.RequestModifier = m
	}
}

// WithResponseModifier sets the default response modifier.
func WithResponseModifier(m ResponseModifier) DownloaderOption {
	return func(c *DownloaderConfig) {
		c.ResponseModifier = m
	}
}

// WithDecryptor sets the default decryptor.
func WithDecryptor(d Decryptor) DownloaderOption {
	return func(c *DownloaderConfig) {
		c.Decryptor = d
	}
}

// WithCoder sets the coder.
func WithCoder(cd coder.Coder) DownloaderOption {
	return func(c *DownloaderConfig) {
		c.Coder = cd
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) DownloaderOption {
	return func(c *DownloaderConfig) {
		c.Logger = logger
	}
}
