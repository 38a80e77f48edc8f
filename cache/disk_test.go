package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"testing"
	"time"

	"github.com/jmgilman/go/fs/billy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileName(t *testing.T) {
	hash := func(s string) string {
		sum := sha256.Sum256([]byte(s))
		return hex.EncodeToString(sum[:])
	}

	tests := []struct {
		name string
		key  string
		want string
	}{
		{"url with extension", "https://example.com/a/b.png?x=1", hash("https://example.com/a/b.png?x=1") + ".png"},
		{"no extension", "https://example.com/avatar", hash("https://example.com/avatar")},
		{"extension too long", "https://example.com/a.verylongext", hash("https://example.com/a.verylongext")},
		{"non alphanumeric extension", "https://example.com/a.p-g", hash("https://example.com/a.p-g")},
		{"plain key", "photo.jpeg", hash("photo.jpeg") + ".jpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FileName(tt.key))
		})
	}
}

func TestDiskCache_ReadWriteRemove(t *testing.T) {
	ctx := context.Background()
	d, err := NewDiskCache(billy.NewMemory(), "/cache/test", DiskConfig{})
	require.NoError(t, err)

	_, err = d.Read(ctx, "k.png")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, d.Write(ctx, "k.png", []byte("hello")))
	data, err := d.Read(ctx, "k.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	require.NoError(t, d.Write(ctx, "k.png", []byte("replaced")))
	data, err = d.Read(ctx, "k.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), data)

	ok, err := d.Exists(ctx, "k.png")
	require.NoError(t, err)
	assert.True(t, ok)

	count, err := d.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "temp directory is not an entry")

	size, err := d.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len("replaced")), size)

	require.NoError(t, d.Remove(ctx, "k.png"))
	require.NoError(t, d.Remove(ctx, "k.png"))
	ok, err = d.Exists(ctx, "k.png")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, d.Write(ctx, "empty", nil))
}

func TestDiskCache_Clear(t *testing.T) {
	ctx := context.Background()
	d, err := NewDiskCache(billy.NewMemory(), "/cache/test", DiskConfig{})
	require.NoError(t, err)

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, d.Write(ctx, k, []byte(k)))
	}
	require.NoError(t, d.Clear(ctx))

	count, err := d.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, d.Write(ctx, "a", []byte("a")), "cache is usable after clear")
}

// localDisk creates a disk cache on the OS filesystem so modification
// times can be controlled.
func localDisk(t *testing.T, config DiskConfig) *DiskCache {
	t.Helper()
	d, err := NewDiskCache(billy.NewLocal(), t.TempDir(), config)
	require.NoError(t, err)
	return d
}

func writeAged(t *testing.T, d *DiskCache, key string, size int, mtime time.Time) {
	t.Helper()
	require.NoError(t, d.Write(context.Background(), key, bytes.Repeat([]byte{'x'}, size)))
	require.NoError(t, os.Chtimes(d.Path(key), mtime, mtime))
}

func exists(t *testing.T, d *DiskCache, key string) bool {
	t.Helper()
	ok, err := d.Exists(context.Background(), key)
	require.NoError(t, err)
	return ok
}

func TestDiskCache_SweepExpired(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	d := localDisk(t, DiskConfig{MaxAge: time.Hour})
	d.now = func() time.Time { return now }

	writeAged(t, d, "old", 10, now.Add(-2*time.Hour))
	writeAged(t, d, "fresh", 10, now.Add(-time.Minute))

	result, err := d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Removed: 1, Freed: 10}, result)
	assert.False(t, exists(t, d, "old"))
	assert.True(t, exists(t, d, "fresh"))
}

func TestDiskCache_SweepSizeRemovesOldestToHalf(t *testing.T) {
	now := time.Now()
	d := localDisk(t, DiskConfig{MaxSize: 100})

	keys := []string{"k1", "k2", "k3", "k4"}
	for i, k := range keys {
		writeAged(t, d, k, 40, now.Add(time.Duration(i-10)*time.Minute))
	}

	result, err := d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Removed)
	assert.Equal(t, int64(120), result.Freed)
	assert.True(t, exists(t, d, "k4"), "newest file survives")

	size, err := d.Size(context.Background())
	require.NoError(t, err)
	assert.Less(t, size, int64(50))
}

func TestDiskCache_SweepCount(t *testing.T) {
	now := time.Now()
	d := localDisk(t, DiskConfig{MaxCount: 4})

	for i := 0; i < 6; i++ {
		writeAged(t, d, string(rune('a'+i)), 1, now.Add(time.Duration(i-10)*time.Minute))
	}

	result, err := d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, result.Removed)

	count, err := d.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.True(t, exists(t, d, "e"))
	assert.True(t, exists(t, d, "f"))
}

func TestDiskCache_SweepWithinBudget(t *testing.T) {
	d := localDisk(t, DiskConfig{MaxSize: 1000, MaxCount: 10})
	writeAged(t, d, "a", 10, time.Now())

	result, err := d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Removed)
}
