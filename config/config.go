// Package config loads the YAML configuration of the imgload tool and
// turns it into cache, downloader and manager settings.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/jmgilman/go/imageloader"
	"github.com/jmgilman/go/imageloader/cache"
	"github.com/jmgilman/go/imageloader/internal/logging"
	"github.com/jmgilman/go/imageloader/loader"
)

// Config is the root of the configuration file.
type Config struct {
	Cache      CacheSection      `yaml:"cache" mapstructure:"cache"`
	Object     ObjectSection     `yaml:"object" mapstructure:"object"`
	Downloader DownloaderSection `yaml:"downloader" mapstructure:"downloader"`
	Manager    ManagerSection    `yaml:"manager" mapstructure:"manager"`
	Prefetcher PrefetcherSection `yaml:"prefetcher" mapstructure:"prefetcher"`
	Log        LogSection        `yaml:"log" mapstructure:"log"`
}

// CacheSection configures the memory and disk tiers.
type CacheSection struct {
	Root            string `yaml:"root" mapstructure:"root"`
	Namespace       string `yaml:"namespace" mapstructure:"namespace"`
	DisableMemory   bool   `yaml:"disable_memory" mapstructure:"disable_memory"`
	MaxMemoryCost   int64  `yaml:"max_memory_cost" mapstructure:"max_memory_cost"`
	MaxMemoryCount  int    `yaml:"max_memory_count" mapstructure:"max_memory_count"`
	MaxDiskAge      string `yaml:"max_disk_age" mapstructure:"max_disk_age"`
	MaxDiskSize     int64  `yaml:"max_disk_size" mapstructure:"max_disk_size"`
	MaxDiskCount    int    `yaml:"max_disk_count" mapstructure:"max_disk_count"`
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
	IOConcurrency   int    `yaml:"io_concurrency" mapstructure:"io_concurrency"`
}

// ObjectSection configures the optional S3-compatible cache tier.
type ObjectSection struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Endpoint    string `yaml:"endpoint" mapstructure:"endpoint"`
	Bucket      string `yaml:"bucket" mapstructure:"bucket"`
	AccessKey   string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey   string `yaml:"secret_key" mapstructure:"secret_key"`
	UseSSL      bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
	Prefix      string `yaml:"prefix" mapstructure:"prefix"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// DownloaderSection configures the HTTP downloader.
type DownloaderSection struct {
	MaxConcurrentDownloads  int               `yaml:"max_concurrent_downloads" mapstructure:"max_concurrent_downloads"`
	Timeout                 string            `yaml:"timeout" mapstructure:"timeout"`
	MinimumProgressInterval float64           `yaml:"minimum_progress_interval" mapstructure:"minimum_progress_interval"`
	ExecutionOrder          string            `yaml:"execution_order" mapstructure:"execution_order"`
	Username                string            `yaml:"username" mapstructure:"username"`
	Password                string            `yaml:"password" mapstructure:"password"`
	Headers                 map[string]string `yaml:"headers" mapstructure:"headers"`
	AcceptableContentTypes  []string          `yaml:"acceptable_content_types" mapstructure:"acceptable_content_types"`
}

// ManagerSection holds the default request options, by flag name.
type ManagerSection struct {
	Options []string `yaml:"options" mapstructure:"options"`
}

// PrefetcherSection configures prefetching.
type PrefetcherSection struct {
	MaxConcurrent int      `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	Options       []string `yaml:"options" mapstructure:"options"`
}

// LogSection configures logging.
type LogSection struct {
	Level string `yaml:"level" mapstructure:"level"`
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Cache: CacheSection{
			Namespace:       cache.DefaultNamespace,
			MaxDiskAge:      cache.DefaultMaxDiskAge.String(),
			CleanupInterval: cache.DefaultCleanupInterval.String(),
			IOConcurrency:   cache.DefaultIOConcurrency,
		},
		Object: ObjectSection{
			Prefix:      "imageloader",
			Concurrency: 4,
		},
		Downloader: DownloaderSection{
			MaxConcurrentDownloads: loader.DefaultMaxConcurrentDownloads,
			Timeout:                loader.DefaultTimeout.String(),
			ExecutionOrder:         loader.FIFO.String(),
		},
		Prefetcher: PrefetcherSection{
			MaxConcurrent: imageloader.DefaultMaxConcurrentPrefetchCount,
			Options:       []string{"low_priority"},
		},
		Log: LogSection{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path over the defaults. A leading "~" is
// expanded to the home directory.
func Load(path string) (*Config, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand config path: %w", err)
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if _, err := c.CacheConfig(); err != nil {
		return err
	}
	if c.Object.Enabled {
		if c.Object.Endpoint == "" {
			return fmt.Errorf("object endpoint is required")
		}
		if c.Object.Bucket == "" {
			return fmt.Errorf("object bucket is required")
		}
	}
	if _, err := c.DownloaderOptions(nil); err != nil {
		return err
	}
	if _, err := c.LoadOptions(); err != nil {
		return err
	}
	if _, err := c.PrefetchOptions(); err != nil {
		return err
	}
	if c.Prefetcher.MaxConcurrent < 0 {
		return fmt.Errorf("prefetcher max concurrent cannot be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// CacheConfig builds the ImageCache configuration.
func (c *Config) CacheConfig() (cache.Config, error) {
	root, err := homedir.Expand(c.Cache.Root)
	if err != nil {
		return cache.Config{}, fmt.Errorf("failed to expand cache root: %w", err)
	}
	maxAge, err := parseDuration("cache.max_disk_age", c.Cache.MaxDiskAge)
	if err != nil {
		return cache.Config{}, err
	}
	interval, err := parseDuration("cache.cleanup_interval", c.Cache.CleanupInterval)
	if err != nil {
		return cache.Config{}, err
	}

	cfg := cache.Config{
		Root:            root,
		Namespace:       c.Cache.Namespace,
		DisableMemory:   c.Cache.DisableMemory,
		MaxMemoryCost:   c.Cache.MaxMemoryCost,
		MaxMemoryCount:  c.Cache.MaxMemoryCount,
		MaxDiskAge:      maxAge,
		MaxDiskSize:     c.Cache.MaxDiskSize,
		MaxDiskCount:    c.Cache.MaxDiskCount,
		CleanupInterval: interval,
		IOConcurrency:   c.Cache.IOConcurrency,
	}
	if err := cfg.Validate(); err != nil {
		return cache.Config{}, fmt.Errorf("cache: %w", err)
	}
	return cfg, nil
}

// ObjectConfig builds the object-store tier configuration. It reports
// false when the tier is disabled.
func (c *Config) ObjectConfig(logger *slog.Logger) (cache.ObjectConfig, bool) {
	if !c.Object.Enabled {
		return cache.ObjectConfig{}, false
	}
	return cache.ObjectConfig{
		Endpoint:    c.Object.Endpoint,
		Bucket:      c.Object.Bucket,
		AccessKey:   c.Object.AccessKey,
		SecretKey:   c.Object.SecretKey,
		UseSSL:      c.Object.UseSSL,
		Prefix:      c.Object.Prefix,
		Concurrency: c.Object.Concurrency,
		Logger:      logger,
	}, true
}

// DownloaderOptions builds the downloader options. logger may be nil.
func (c *Config) DownloaderOptions(logger *slog.Logger) ([]loader.DownloaderOption, error) {
	d := c.Downloader
	timeout, err := parseDuration("downloader.timeout", d.Timeout)
	if err != nil {
		return nil, err
	}
	order, err := loader.ParseExecutionOrder(d.ExecutionOrder)
	if err != nil {
		return nil, fmt.Errorf("downloader.execution_order: %w", err)
	}
	if d.MaxConcurrentDownloads < 0 {
		return nil, fmt.Errorf("downloader.max_concurrent_downloads cannot be negative")
	}
	if d.MinimumProgressInterval < 0 || d.MinimumProgressInterval > 1 {
		return nil, fmt.Errorf("downloader.minimum_progress_interval must be between 0 and 1")
	}

	opts := []loader.DownloaderOption{
		loader.WithExecutionOrder(order),
		loader.WithMinimumProgressInterval(d.MinimumProgressInterval),
		loader.WithLogger(logger),
	}
	if d.MaxConcurrentDownloads > 0 {
		opts = append(opts, loader.WithMaxConcurrentDownloads(d.MaxConcurrentDownloads))
	}
	if timeout > 0 {
		opts = append(opts, loader.WithTimeout(timeout))
	}
	if d.Username != "" {
		opts = append(opts, loader.WithCredentials(d.Username, d.Password))
	}
	for field, value := range d.Headers {
		opts = append(opts, loader.WithHeader(field, value))
	}
	if len(d.AcceptableContentTypes) > 0 {
		opts = append(opts, loader.WithAcceptableContentTypes(d.AcceptableContentTypes...))
	}
	return opts, nil
}

// LoadOptions parses the manager's default request options.
func (c *Config) LoadOptions() (imageloader.Options, error) {
	opts, ok := imageloader.ParseOptions(c.Manager.Options...)
	if !ok {
		return 0, fmt.Errorf("manager.options: unknown option in %v", c.Manager.Options)
	}
	return opts, nil
}

// PrefetchOptions parses the prefetcher's request options.
func (c *Config) PrefetchOptions() (imageloader.Options, error) {
	opts, ok := imageloader.ParseOptions(c.Prefetcher.Options...)
	if !ok {
		return 0, fmt.Errorf("prefetcher.options: unknown option in %v", c.Prefetcher.Options)
	}
	return opts, nil
}

// Logger builds the slog logger described by the log section.
func (c *Config) Logger() (*slog.Logger, error) {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{Level: level, JSON: c.Log.JSON}).Slog(), nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
