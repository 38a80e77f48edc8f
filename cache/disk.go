package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/jmgilman/go/fs/core"
	"github.com/opencontainers/go-digest"
)

// maxExtensionLength bounds the path extension kept on disk file names.
const maxExtensionLength = 8

// ErrNotFound is returned by disk reads for keys that are not cached.
var ErrNotFound = errors.New("cache: entry not found")

// DiskConfig bounds a DiskCache. Zero values disable the limit.
type DiskConfig struct {
	// MaxAge removes files whose modification time is older. Negative or
	// zero keeps files forever.
	MaxAge time.Duration
	// MaxSize is the total byte budget.
	MaxSize int64
	// MaxCount is the file count budget.
	MaxCount int
}

// DiskCache stores raw image bytes, one file per key, under a directory.
// File age is the modification time; there is no index.
type DiskCache struct {
	storage *Storage
	config  DiskConfig
	now     func() time.Time
}

// NewDiskCache creates a disk cache rooted at dir on fsys.
func NewDiskCache(fsys core.FS, dir string, config DiskConfig) (*DiskCache, error) {
	storage, err := NewStorage(fsys, dir)
	if err != nil {
		return nil, err
	}
	// Leftovers from interrupted writes are never valid entries.
	_ = storage.CleanupTempFiles(context.Background())
	return &DiskCache{storage: storage, config: config, now: time.Now}, nil
}

// FileName returns the file name used for key: the hex SHA-256 digest of
// the key followed by the extension of the key's path, if it is short and
// alphanumeric.
func FileName(key string) string {
	name := digest.FromString(key).Encoded()
	if ext := keyExtension(key); ext != "" {
		name += "." + ext
	}
	return name
}

func keyExtension(key string) string {
	p := key
	if u, err := url.Parse(key); err == nil && u.Path != "" {
		p = u.Path
	}
	ext := strings.TrimPrefix(path.Ext(p), ".")
	if ext == "" || len(ext) > maxExtensionLength {
		return ""
	}
	for _, r := range ext {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return ""
		}
	}
	return ext
}

// Path returns the full path of the file for key.
func (d *DiskCache) Path(key string) string {
	return filepath.Join(d.storage.Root(), FileName(key))
}

// Read returns the bytes cached for key, or an error matching ErrNotFound.
func (d *DiskCache) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := d.storage.Read(ctx, FileName(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

// Write stores data for key.
func (d *DiskCache) Write(ctx context.Context, key string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("refusing to cache empty data for %s", key)
	}
	return d.storage.WriteAtomically(ctx, FileName(key), data)
}

// Exists reports whether key is cached.
func (d *DiskCache) Exists(ctx context.Context, key string) (bool, error) {
	return d.storage.Exists(ctx, FileName(key))
}

// Remove deletes key.
func (d *DiskCache) Remove(ctx context.Context, key string) error {
	return d.storage.Remove(ctx, FileName(key))
}

// Clear deletes every cached file.
func (d *DiskCache) Clear(ctx context.Context) error {
	return d.storage.RemoveAll(ctx)
}

// Size returns the total size of the cached files.
func (d *DiskCache) Size(ctx context.Context) (int64, error) {
	files, err := d.storage.ListFiles(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		total += f.Size()
	}
	return total, nil
}

// Count returns the number of cached files.
func (d *DiskCache) Count(ctx context.Context) (int, error) {
	files, err := d.storage.ListFiles(ctx)
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

// SweepResult describes the work done by Sweep.
type SweepResult struct {
	Removed int
	Freed   int64
}

// Sweep removes expired files, then, while the size or count budget is
// exceeded, removes the oldest files until usage is below half of the
// budget.
func (d *DiskCache) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	files, err := d.storage.ListFiles(ctx)
	if err != nil {
		return result, err
	}

	remove := func(f fs.FileInfo) error {
		if err := d.storage.Remove(ctx, f.Name()); err != nil {
			return err
		}
		result.Removed++
		result.Freed += f.Size()
		return nil
	}

	kept := files[:0]
	if d.config.MaxAge > 0 {
		cutoff := d.now().Add(-d.config.MaxAge)
		for _, f := range files {
			if f.ModTime().Before(cutoff) {
				if err := remove(f); err != nil {
					return result, err
				}
				continue
			}
			kept = append(kept, f)
		}
	} else {
		kept = files
	}

	var total int64
	for _, f := range kept {
		total += f.Size()
	}
	count := len(kept)

	overSize := d.config.MaxSize > 0 && total > d.config.MaxSize
	overCount := d.config.MaxCount > 0 && count > d.config.MaxCount
	if !overSize && !overCount {
		return result, nil
	}

	sort.Slice(kept, func(i, j int) bool {
		return kept[i].ModTime().Before(kept[j].ModTime())
	})

	sizeTarget := d.config.MaxSize / 2
	countTarget := d.config.MaxCount / 2
	for _, f := range kept {
		sizeOK := d.config.MaxSize <= 0 || total < sizeTarget
		countOK := d.config.MaxCount <= 0 || count <= countTarget
		if sizeOK && countOK {
			break
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := remove(f); err != nil {
			return result, err
		}
		total -= f.Size()
		count--
	}
	return result, nil
}
