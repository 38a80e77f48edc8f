package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/jmgilman/go/fs/core"
)

// Storage provides atomic file operations for the disk tier over a core.FS,
// so the same code runs against the OS filesystem and in-memory ones.
type Storage struct {
	fs         core.FS
	rootPath   string
	tempDir    string
	fileLocks  *sync.Map // map[string]*sync.Mutex
	globalLock sync.RWMutex
}

// NewStorage creates the root directory and its temp directory.
func NewStorage(fsys core.FS, rootPath string) (*Storage, error) {
	if fsys == nil {
		return nil, fmt.Errorf("filesystem cannot be nil")
	}
	if rootPath == "" {
		return nil, fmt.Errorf("root path cannot be empty")
	}

	if err := fsys.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}

	tempDir := filepath.Join(rootPath, ".temp")
	if err := fsys.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &Storage{
		fs:        fsys,
		rootPath:  rootPath,
		tempDir:   tempDir,
		fileLocks: &sync.Map{},
	}, nil
}

// Root returns the directory holding the cached files.
func (s *Storage) Root() string {
	return s.rootPath
}

func (s *Storage) getFileLock(path string) *sync.Mutex {
	lock, _ := s.fileLocks.LoadOrStore(path, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// WriteAtomically writes data to a temp file and renames it into place, so
// readers never observe a partial file.
func (s *Storage) WriteAtomically(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	fullPath := filepath.Join(s.rootPath, name)

	lock := s.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	tempFile := filepath.Join(s.tempDir, uuid.NewString())

	s.globalLock.Lock()
	err := s.fs.WriteFile(tempFile, data, 0o644)
	s.globalLock.Unlock()
	if err != nil {
		s.globalLock.Lock()
		_ = s.fs.Remove(tempFile)
		s.globalLock.Unlock()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	s.globalLock.Lock()
	err = s.fs.Rename(tempFile, fullPath)
	if err != nil {
		_ = s.fs.Remove(tempFile)
	}
	s.globalLock.Unlock()
	if err != nil {
		return fmt.Errorf("failed to rename temp file to %q: %w", fullPath, err)
	}
	return nil
}

// Read returns the content of name. A missing file yields an error
// matching fs.ErrNotExist.
func (s *Storage) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	fullPath := filepath.Join(s.rootPath, name)

	lock := s.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	s.globalLock.RLock()
	data, err := s.fs.ReadFile(fullPath)
	s.globalLock.RUnlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return nil, fmt.Errorf("file does not exist: %s: %w", fullPath, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to read %q: %w", fullPath, err)
	}
	return data, nil
}

// Exists reports whether name exists.
func (s *Storage) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("context cancelled: %w", err)
	}

	fullPath := filepath.Join(s.rootPath, name)
	s.globalLock.RLock()
	exists, err := s.fs.Exists(fullPath)
	s.globalLock.RUnlock()
	if err != nil {
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}
	return exists, nil
}

// Remove deletes name. Removing a missing file is not an error.
func (s *Storage) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	fullPath := filepath.Join(s.rootPath, name)

	lock := s.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	s.globalLock.Lock()
	err := s.fs.Remove(fullPath)
	s.globalLock.Unlock()
	if err != nil && !errors.Is(err, fs.ErrNotExist) && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove file %q: %w", fullPath, err)
	}
	return nil
}

// ListFiles returns metadata for every regular file in the root.
func (s *Storage) ListFiles(ctx context.Context) ([]fs.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	s.globalLock.RLock()
	entries, err := s.fs.ReadDir(s.rootPath)
	s.globalLock.RUnlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory %q: %w", s.rootPath, err)
	}

	files := make([]fs.FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, info)
	}
	return files, nil
}

// RemoveAll deletes every file in the root, keeping the directory.
func (s *Storage) RemoveAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	if err := s.fs.RemoveAll(s.rootPath); err != nil {
		return fmt.Errorf("failed to remove %q: %w", s.rootPath, err)
	}
	if err := s.fs.MkdirAll(s.tempDir, 0o755); err != nil {
		return fmt.Errorf("failed to recreate temp directory: %w", err)
	}
	return nil
}

// CleanupTempFiles removes temp files left behind by interrupted writes.
func (s *Storage) CleanupTempFiles(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	entries, err := s.fs.ReadDir(s.tempDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read temp directory: %w", err)
	}
	for _, entry := range entries {
		path := filepath.Join(s.tempDir, entry.Name())
		if err := s.fs.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to remove temp file %q: %w", path, err)
		}
	}
	return nil
}
