package cache

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmgilman/go/fs/core"

	"github.com/jmgilman/go/imageloader/coder"
)

// Defaults applied by Config.SetDefaults.
const (
	DefaultNamespace       = "default"
	DefaultMaxDiskAge      = 7 * 24 * time.Hour
	DefaultCleanupInterval = 30 * time.Minute
	DefaultIOConcurrency   = 4
)

// Config holds the limits and layout of an ImageCache.
type Config struct {
	// Namespace is the sub-directory of Root holding this cache's files.
	Namespace string
	// Root is the parent directory of every namespace. Defaults to the
	// user cache directory.
	Root string
	// DisableMemory turns the memory tier off.
	DisableMemory bool
	// MaxMemoryCost bounds the decoded bytes held in memory; 0 is unlimited.
	MaxMemoryCost int64
	// MaxMemoryCount bounds the images held in memory; 0 is unlimited.
	MaxMemoryCount int
	// MaxDiskAge expires disk entries; 0 means DefaultMaxDiskAge and a
	// negative value keeps entries forever.
	MaxDiskAge time.Duration
	// MaxDiskSize is the disk byte budget; 0 is unlimited.
	MaxDiskSize int64
	// MaxDiskCount is the disk file budget; 0 is unlimited.
	MaxDiskCount int
	// CleanupInterval is the period of the background sweep; 0 means
	// DefaultCleanupInterval and a negative value disables it.
	CleanupInterval time.Duration
	// IOConcurrency bounds concurrent disk operations.
	IOConcurrency int
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.MaxMemoryCost < 0 {
		return fmt.Errorf("max memory cost cannot be negative")
	}
	if c.MaxMemoryCount < 0 {
		return fmt.Errorf("max memory count cannot be negative")
	}
	if c.MaxDiskSize < 0 {
		return fmt.Errorf("max disk size cannot be negative")
	}
	if c.MaxDiskCount < 0 {
		return fmt.Errorf("max disk count cannot be negative")
	}
	if c.IOConcurrency < 0 {
		return fmt.Errorf("io concurrency cannot be negative")
	}
	if strings.ContainsAny(c.Namespace, `/\`) || c.Namespace == "." || c.Namespace == ".." {
		return fmt.Errorf("invalid namespace %q", c.Namespace)
	}
	return nil
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.Root == "" {
		c.Root = defaultRoot()
	}
	if c.MaxDiskAge == 0 {
		c.MaxDiskAge = DefaultMaxDiskAge
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.IOConcurrency == 0 {
		c.IOConcurrency = DefaultIOConcurrency
	}
}

// Dir returns the directory of the namespace.
func (c *Config) Dir() string {
	return filepath.Join(c.Root, c.Namespace)
}

func (c *Config) diskConfig() DiskConfig {
	return DiskConfig{
		MaxAge:   c.MaxDiskAge,
		MaxSize:  c.MaxDiskSize,
		MaxCount: c.MaxDiskCount,
	}
}

func defaultRoot() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "imageloader")
}

type options struct {
	fs     core.FS
	logger *slog.Logger
	coder  coder.Coder
	now    func() time.Time
}

// Option configures an ImageCache.
type Option func(*options)

// WithFS sets the filesystem holding the disk tier. Defaults to the local
// filesystem.
func WithFS(fsys core.FS) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithLogger sets the logger. Nil disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCoder sets the coder used to decode disk hits and encode stores.
// Defaults to coder.Default().
func WithCoder(c coder.Coder) Option {
	return func(o *options) {
		o.coder = c
	}
}

// WithClock sets the time source used for disk expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}
