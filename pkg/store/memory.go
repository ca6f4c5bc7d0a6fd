package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/superyldr/relayer/pkg/models"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.Record)}
}

func key(refID string) string {
	return strings.ToLower(refID)
}

func (m *MemoryStore) Create(_ context.Context, rec *models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[key(rec.RefID)]; exists {
		return models.ErrAlreadyExists
	}
	stored := rec.Clone()
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	m.records[key(rec.RefID)] = stored
	return nil
}

func (m *MemoryStore) FindByRefID(_ context.Context, refID string) (*models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key(refID)]
	if !ok {
		return nil, models.ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) ConditionalUpdate(_ context.Context, refID string, expected, next models.Status, patch models.Patch, now time.Time) (int64, error) {
	if err := patch.Validate(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key(refID)]
	if !ok || rec.Status != expected {
		return 0, nil
	}
	rec.Status = next
	rec.Apply(patch)
	rec.UpdatedAt = now.UTC()
	return 1, nil
}

func (m *MemoryStore) ListPendingByUser(_ context.Context, user string, limit int) ([]*models.Record, error) {
	return m.list(limit, func(r *models.Record) bool {
		return strings.EqualFold(r.User, user)
	}, func(a, b *models.Record) bool {
		return a.UpdatedAt.After(b.UpdatedAt)
	}), nil
}

func (m *MemoryStore) ListNonTerminal(_ context.Context, limit int) ([]*models.Record, error) {
	return m.list(limit, func(*models.Record) bool { return true }, func(a, b *models.Record) bool {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}), nil
}

func (m *MemoryStore) list(limit int, match func(*models.Record) bool, less func(a, b *models.Record) bool) []*models.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Record
	for _, rec := range m.records {
		if rec.Status.IsTerminal() || !match(rec) {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MemoryStore) Close() {}
