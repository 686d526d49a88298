package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// LocalCache keeps the catalogue in a JSON file. Writes go through a
// temporary file and a rename, so a crash never leaves a torn file behind.
type LocalCache struct {
	mu   sync.RWMutex
	path string
}

// NewLocalCache creates a cache backed by path. An empty path disables it.
func NewLocalCache(path string) *LocalCache {
	return &LocalCache{path: path}
}

// Get reads the snapshot. A missing file, or one written by another cache
// version, yields nil, nil.
func (c *LocalCache) Get(_ context.Context) (*ModelCache, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	var snapshot ModelCache
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse cache file %s: %w", c.path, err)
	}
	if snapshot.Version != CurrentVersion {
		return nil, nil
	}
	return &snapshot, nil
}

// Set replaces the file with snapshot.
func (c *LocalCache) Set(_ context.Context, snapshot *ModelCache) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}
	return writeFileAtomic(c.path, data)
}

// Close is a no-op.
func (c *LocalCache) Close() error {
	return nil
}

func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}
