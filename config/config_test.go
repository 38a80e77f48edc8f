package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/go/imageloader"
	"github.com/jmgilman/go/imageloader/cache"
	"github.com/jmgilman/go/imageloader/loader"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "imgload.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cc, err := cfg.CacheConfig()
	require.NoError(t, err)
	want := cache.Config{
		Namespace:       cache.DefaultNamespace,
		MaxDiskAge:      cache.DefaultMaxDiskAge,
		CleanupInterval: cache.DefaultCleanupInterval,
		IOConcurrency:   cache.DefaultIOConcurrency,
	}
	if diff := cmp.Diff(want, cc); diff != "" {
		t.Errorf("CacheConfig() mismatch (-want +got):\n%s", diff)
	}

	opts, err := cfg.PrefetchOptions()
	require.NoError(t, err)
	assert.Equal(t, imageloader.LowPriority, opts)

	_, enabled := cfg.ObjectConfig(nil)
	assert.False(t, enabled)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
cache:
  namespace: thumbs
  max_memory_count: 50
  max_disk_age: 1h
  cleanup_interval: -1s
downloader:
  max_concurrent_downloads: 2
  timeout: 5s
  execution_order: lifo
  headers:
    X-Client: imgload
manager:
  options: [retry_failed, refresh_cached]
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	cc, err := cfg.CacheConfig()
	require.NoError(t, err)
	assert.Equal(t, "thumbs", cc.Namespace)
	assert.Equal(t, 50, cc.MaxMemoryCount)
	assert.Equal(t, time.Hour, cc.MaxDiskAge)
	assert.Negative(t, cc.CleanupInterval)
	// Unset fields keep their defaults.
	assert.Equal(t, cache.DefaultIOConcurrency, cc.IOConcurrency)

	opts, err := cfg.LoadOptions()
	require.NoError(t, err)
	assert.Equal(t, imageloader.RetryFailed|imageloader.RefreshCached, opts)

	dopts, err := cfg.DownloaderOptions(nil)
	require.NoError(t, err)
	dc := loader.DefaultDownloaderConfig()
	for _, o := range dopts {
		o(&dc)
	}
	assert.Equal(t, 2, dc.MaxConcurrentDownloads)
	assert.Equal(t, 5*time.Second, dc.Timeout)
	assert.Equal(t, loader.LIFO, dc.ExecutionOrder)
	assert.Equal(t, "imgload", dc.Headers["X-Client"])
	assert.Equal(t, loader.DefaultAccept, dc.Headers["Accept"])

	logger, err := cfg.Logger()
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "cache: [\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})

	t.Run("invalid section", func(t *testing.T) {
		_, err := Load(writeConfig(t, "downloader:\n  timeout: soon\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "downloader.timeout")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:    "bad disk age",
			modify:  func(c *Config) { c.Cache.MaxDiskAge = "forever" },
			wantErr: "cache.max_disk_age",
		},
		{
			name:    "negative memory cost",
			modify:  func(c *Config) { c.Cache.MaxMemoryCost = -1 },
			wantErr: "max memory cost",
		},
		{
			name:    "bad namespace",
			modify:  func(c *Config) { c.Cache.Namespace = "a/b" },
			wantErr: "invalid namespace",
		},
		{
			name:    "unknown execution order",
			modify:  func(c *Config) { c.Downloader.ExecutionOrder = "random" },
			wantErr: "execution_order",
		},
		{
			name:    "progress interval out of range",
			modify:  func(c *Config) { c.Downloader.MinimumProgressInterval = 2 },
			wantErr: "minimum_progress_interval",
		},
		{
			name:    "unknown manager option",
			modify:  func(c *Config) { c.Manager.Options = []string{"fastest"} },
			wantErr: "manager.options",
		},
		{
			name:    "unknown prefetch option",
			modify:  func(c *Config) { c.Prefetcher.Options = []string{"eager"} },
			wantErr: "prefetcher.options",
		},
		{
			name:    "negative prefetch limit",
			modify:  func(c *Config) { c.Prefetcher.MaxConcurrent = -2 },
			wantErr: "max concurrent",
		},
		{
			name:    "bad log level",
			modify:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: "invalid log level",
		},
		{
			name:    "object tier without bucket",
			modify:  func(c *Config) { c.Object.Enabled = true; c.Object.Endpoint = "localhost:9000" },
			wantErr: "bucket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCacheConfig_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })

	cfg := Default()
	cfg.Cache.Root = "~/images"
	cc, err := cfg.CacheConfig()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "images"), cc.Root)
}

func TestObjectConfig(t *testing.T) {
	cfg := Default()
	cfg.Object = ObjectSection{
		Enabled:   true,
		Endpoint:  "localhost:9000",
		Bucket:    "images",
		AccessKey: "access",
		SecretKey: "secret",
		Prefix:    "cache",
	}
	require.NoError(t, cfg.Validate())

	oc, enabled := cfg.ObjectConfig(nil)
	require.True(t, enabled)
	assert.Equal(t, "images", oc.Bucket)
	assert.Equal(t, "cache", oc.Prefix)
	require.NoError(t, oc.Validate())
}
