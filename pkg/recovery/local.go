package recovery

import (
	"context"
	"fmt"

	"github.com/superyldr/relayer/pkg/models"
	"github.com/superyldr/relayer/pkg/store"
)

// Nudger queues a settlement pass for an intent
type Nudger interface {
	Nudge(source, refID string) bool
}

// LocalServer serves recovery from the relayer's own store and worker pool
type LocalServer struct {
	store  store.Store
	nudger Nudger
}

func NewLocalServer(s store.Store, nudger Nudger) *LocalServer {
	return &LocalServer{store: s, nudger: nudger}
}

func (s *LocalServer) ListPending(ctx context.Context, user string) ([]models.StatusView, error) {
	recs, err := s.store.ListPendingByUser(ctx, user, store.DefaultPendingLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending intents: %v", err)
	}
	views := make([]models.StatusView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, rec.View())
	}
	return views, nil
}

func (s *LocalServer) Status(ctx context.Context, refID string) (*models.StatusView, error) {
	rec, err := s.store.FindByRefID(ctx, refID)
	if err != nil {
		return nil, err
	}
	view := rec.View()
	return &view, nil
}

func (s *LocalServer) Nudge(_ context.Context, refID string) error {
	s.nudger.Nudge("recovery", refID)
	return nil
}
