// Package logging provides the structured logger shared by the cache,
// loader and manager packages.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Level represents different logging levels
type Level int

// Logging levels.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config holds configuration for the logger.
type Config struct {
	// Level sets the minimum log level
	Level Level
	// EnableCallerInfo includes file and line number in logs
	EnableCallerInfo bool
	// JSON switches the handler from text to JSON output
	JSON bool
	// EnableCacheOperations enables logging of individual cache operations
	EnableCacheOperations bool
}

// DefaultConfig returns a default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:                 LevelInfo,
		EnableCacheOperations: false, // Disabled by default to avoid noise
	}
}

// Logger provides structured logging for the pipeline. A nil *Logger is
// valid and discards everything.
type Logger struct {
	logger *slog.Logger
	config Config
}

// New creates a logger writing to stderr.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{
		Level:     config.Level.slogLevel(),
		AddSource: config.EnableCallerInfo,
	}
	var handler slog.Handler
	if config.JSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return &Logger{logger: slog.New(handler), config: config}
}

// FromSlog wraps an existing slog logger. A nil input yields a nop logger.
func FromSlog(l *slog.Logger) *Logger {
	if l == nil {
		return NewNop()
	}
	return &Logger{logger: l, config: Config{Level: LevelDebug, EnableCacheOperations: true}}
}

// NewNop creates a logger that discards all messages.
func NewNop() *Logger {
	return &Logger{}
}

// Slog returns the underlying slog logger, or nil for a nop logger.
func (l *Logger) Slog() *slog.Logger {
	if l == nil {
		return nil
	}
	return l.logger
}

func (l *Logger) enabled() bool {
	return l != nil && l.logger != nil
}

// Debug logs debug-level messages
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	if l.enabled() {
		l.logger.DebugContext(ctx, msg, args...)
	}
}

// Info logs info-level messages
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	if l.enabled() {
		l.logger.InfoContext(ctx, msg, args...)
	}
}

// Warn logs warning-level messages
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	if l.enabled() {
		l.logger.WarnContext(ctx, msg, args...)
	}
}

// Error logs error-level messages
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	if l.enabled() {
		l.logger.ErrorContext(ctx, msg, args...)
	}
}

// With returns a logger with additional context fields
func (l *Logger) With(args ...any) *Logger {
	if !l.enabled() {
		return l
	}
	return &Logger{logger: l.logger.With(args...), config: l.config}
}

// WithOperation returns a logger with operation context
func (l *Logger) WithOperation(op Operation) *Logger {
	return l.With("operation", string(op))
}

// WithKey returns a logger with cache key context
func (l *Logger) WithKey(key string) *Logger {
	return l.With("key", key)
}

// WithURL returns a logger with URL context
func (l *Logger) WithURL(u string) *Logger {
	return l.With("url", u)
}

// WithSize returns a logger with size context
func (l *Logger) WithSize(size int64) *Logger {
	return l.With("size", size)
}

// Operation names a pipeline operation for logging.
type Operation string

// Operation constants
const (
	OpQuery        Operation = "query"
	OpStore        Operation = "store"
	OpRemove       Operation = "remove"
	OpClear        Operation = "clear"
	OpPurgeExpired Operation = "purge_expired"
	OpDownload     Operation = "download"
	OpLoad         Operation = "load"
	OpTransform    Operation = "transform"
	OpPrefetch     Operation = "prefetch"
)

// LogCacheOperation logs a cache operation with its duration and outcome.
func LogCacheOperation(
	ctx context.Context,
	logger *Logger,
	op Operation,
	duration time.Duration,
	size int64,
	err error,
) {
	if !logger.enabled() || !logger.config.EnableCacheOperations {
		return
	}

	fields := []any{
		"operation", string(op),
		"duration_ms", duration.Milliseconds(),
		"success", err == nil,
	}
	if size > 0 {
		fields = append(fields, "size", size)
	}
	if err != nil {
		fields = append(fields, "error", err.Error())
		logger.Warn(ctx, "cache operation failed", fields...)
		return
	}
	logger.Debug(ctx, "cache operation completed", fields...)
}

// LogCacheHit logs a cache hit event.
func LogCacheHit(ctx context.Context, logger *Logger, tier string, size int64) {
	logger.Debug(ctx, "cache hit",
		"tier", tier,
		"size", size,
		"result", "hit")
}

// LogCacheMiss logs a cache miss event.
func LogCacheMiss(ctx context.Context, logger *Logger, reason string) {
	logger.Debug(ctx, "cache miss",
		"reason", reason,
		"result", "miss")
}

// LogEviction logs an eviction event.
func LogEviction(ctx context.Context, logger *Logger, key string, size int64, reason string) {
	logger.Debug(ctx, "cache entry evicted",
		"key", key,
		"size", size,
		"reason", reason)
}

// LogCleanup logs cleanup operations.
func LogCleanup(
	ctx context.Context,
	logger *Logger,
	op Operation,
	entriesRemoved int,
	bytesFreed int64,
	duration time.Duration,
) {
	logger.Info(ctx, "cache cleanup completed",
		"operation", string(op),
		"entries_removed", entriesRemoved,
		"bytes_freed", bytesFreed,
		"duration_ms", duration.Milliseconds())
}

// ParseLevel parses a string log level into a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}
