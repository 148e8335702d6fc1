package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileBucket stores objects as files under a base directory.
type FileBucket struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileBucket creates the base directory if needed.
func NewFileBucket(baseDir string) (*FileBucket, error) {
	//nolint:gosec // G301: archive directory is shared with readers
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure archive dir: %w", err)
	}
	return &FileBucket{baseDir: baseDir}, nil
}

// Put writes to a temp file and renames it into place.
func (b *FileBucket) Put(_ context.Context, key string, data []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := filepath.Join(b.baseDir, filepath.FromSlash(key))
	//nolint:gosec // G301
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create dir for %s: %w", key, err)
	}
	tmpPath := path + ".tmp"
	//nolint:gosec // G306: archived documents are public
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to commit %s: %w", key, err)
	}
	return nil
}

func (b *FileBucket) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(b.baseDir, filepath.FromSlash(key)))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

func (b *FileBucket) Close() error { return nil }
