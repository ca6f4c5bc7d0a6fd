package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/superyldr/relayer/pkg/models"
)

// FileCache persists active intents as a JSON object on disk so a restarted
// recover session picks up where the last one stopped
type FileCache struct {
	path string
	mu   sync.RWMutex
}

func NewFileCache(path string) (*FileCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %v", err)
	}
	return &FileCache{path: path}, nil
}

func (c *FileCache) load() (map[string]models.ActiveMeta, error) {
	entries := make(map[string]models.ActiveMeta)
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read active cache: %v", err)
	}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode active cache: %v", err)
	}
	return entries, nil
}

// save writes to a temp file and renames it over the cache
func (c *FileCache) save(entries map[string]models.ActiveMeta) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write active cache: %v", err)
	}
	return os.Rename(tmp, c.path)
}

func (c *FileCache) mutate(fn func(entries map[string]models.ActiveMeta)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.load()
	if err != nil {
		return err
	}
	fn(entries)
	return c.save(entries)
}

func (c *FileCache) TrackActive(_ context.Context, meta models.ActiveMeta) error {
	return c.mutate(func(entries map[string]models.ActiveMeta) {
		entries[cacheKey(meta.RefID)] = meta
	})
}

func (c *FileCache) UpdateActive(_ context.Context, refID string, patch models.ActiveMeta) error {
	return c.mutate(func(entries map[string]models.ActiveMeta) {
		var existing *models.ActiveMeta
		if meta, ok := entries[cacheKey(refID)]; ok {
			existing = &meta
		}
		entries[cacheKey(refID)] = merge(existing, refID, patch)
	})
}

func (c *FileCache) ClearActive(_ context.Context, refID string) error {
	return c.mutate(func(entries map[string]models.ActiveMeta) {
		delete(entries, cacheKey(refID))
	})
}

func (c *FileCache) ReadAllActive(_ context.Context) (map[string]models.ActiveMeta, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.load()
}
