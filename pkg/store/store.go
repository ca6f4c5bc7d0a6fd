// Package store persists intent lifecycle records.
package store

import (
	"context"
	"time"

	"github.com/superyldr/relayer/pkg/models"
)

// DefaultPendingLimit caps pending-list queries
const DefaultPendingLimit = 20

// Store is the durable record of every intent, keyed by refId.
// Status changes go through ConditionalUpdate only.
type Store interface {
	// Create inserts a new record. It returns models.ErrAlreadyExists when the refId is taken.
	Create(ctx context.Context, rec *models.Record) error

	// FindByRefID returns the record or models.ErrNotFound.
	FindByRefID(ctx context.Context, refID string) (*models.Record, error)

	// ConditionalUpdate sets status to next, merges patch and refreshes updated_at,
	// only if the stored status still equals expected. It returns the rows matched.
	ConditionalUpdate(ctx context.Context, refID string, expected, next models.Status, patch models.Patch, now time.Time) (int64, error)

	// ListPendingByUser returns the user's non-terminal intents, newest update first.
	ListPendingByUser(ctx context.Context, user string, limit int) ([]*models.Record, error)

	// ListNonTerminal returns non-terminal intents of every user, oldest update first.
	ListNonTerminal(ctx context.Context, limit int) ([]*models.Record, error)

	Close()
}
