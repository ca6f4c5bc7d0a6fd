package recovery

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/superyldr/relayer/pkg/models"
)

// ActiveCache is the client-side record of intents that have not finished.
// Entries are created when an intent is submitted, updated on every status
// change and removed once the intent is terminal.
type ActiveCache interface {
	TrackActive(ctx context.Context, meta models.ActiveMeta) error
	UpdateActive(ctx context.Context, refID string, patch models.ActiveMeta) error
	ClearActive(ctx context.Context, refID string) error
	ReadAllActive(ctx context.Context) (map[string]models.ActiveMeta, error)
}

func cacheKey(refID string) string {
	return strings.ToLower(refID)
}

// merge applies patch to the entry stored under refID, creating it when missing
func merge(existing *models.ActiveMeta, refID string, patch models.ActiveMeta) models.ActiveMeta {
	var meta models.ActiveMeta
	if existing != nil {
		meta = *existing
	} else {
		meta = models.ActiveMeta{RefID: refID, CreatedAt: time.Now().UTC()}
	}
	meta.Merge(patch)
	return meta
}

// MemoryCache keeps active intents for the lifetime of the process
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]models.ActiveMeta
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]models.ActiveMeta)}
}

func (c *MemoryCache) TrackActive(_ context.Context, meta models.ActiveMeta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(meta.RefID)] = meta
	return nil
}

func (c *MemoryCache) UpdateActive(_ context.Context, refID string, patch models.ActiveMeta) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var existing *models.ActiveMeta
	if meta, ok := c.entries[cacheKey(refID)]; ok {
		existing = &meta
	}
	c.entries[cacheKey(refID)] = merge(existing, refID, patch)
	return nil
}

func (c *MemoryCache) ClearActive(_ context.Context, refID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(refID))
	return nil
}

func (c *MemoryCache) ReadAllActive(_ context.Context) (map[string]models.ActiveMeta, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]models.ActiveMeta, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out, nil
}
