// Package advancer applies guarded status transitions to stored intents.
package advancer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/superyldr/relayer/pkg/logger"
	"github.com/superyldr/relayer/pkg/metrics"
	"github.com/superyldr/relayer/pkg/models"
	"github.com/superyldr/relayer/pkg/statemachine"
	"github.com/superyldr/relayer/pkg/store"
)

// Advancer moves an intent along its flow graph. Every write is a compare-and-set
// on the current status, so of two racers on the same edge exactly one wins.
type Advancer struct {
	store  store.Store
	logger logger.Logger
	now    func() time.Time
}

func New(s store.Store, l logger.Logger) *Advancer {
	return &Advancer{
		store:  s,
		logger: l,
		now:    time.Now,
	}
}

// WithClock replaces the time source used for updated_at
func (a *Advancer) WithClock(now func() time.Time) *Advancer {
	a.now = now
	return a
}

// Advance transitions refID from → to and merges patch.
// An edge outside the graph is rejected with IllegalTransitionError before the store
// is touched. Losing the race yields a ConflictError carrying the status observed after.
func (a *Advancer) Advance(ctx context.Context, flow models.Flow, refID string, from, to models.Status, patch models.Patch) error {
	machine, err := statemachine.For(flow)
	if err != nil {
		return err
	}
	if !machine.CanTransition(from, to) {
		metrics.IllegalTransitions.WithLabelValues(string(flow), string(from), string(to)).Inc()
		return &models.IllegalTransitionError{Flow: flow, From: from, To: to}
	}

	n, err := a.store.ConditionalUpdate(ctx, refID, from, to, patch, a.now())
	if err != nil {
		return fmt.Errorf("advance %s %s -> %s: %w", refID, from, to, err)
	}
	if n == 0 {
		actual := models.StatusUnknown
		rec, err := a.store.FindByRefID(ctx, refID)
		switch {
		case err == nil:
			actual = rec.Status
		case !errors.Is(err, models.ErrNotFound):
			return fmt.Errorf("re-read %s after conflict: %w", refID, err)
		}
		metrics.Conflicts.WithLabelValues(string(flow), string(from), string(to)).Inc()
		a.logger.Debug("Transition %s -> %s on %s lost, status is %s", from, to, refID, actual)
		return &models.ConflictError{RefID: refID, From: from, To: to, Actual: actual}
	}

	if from != to {
		metrics.Transitions.WithLabelValues(string(flow), string(from), string(to)).Inc()
		a.logger.Info("Intent %s: %s -> %s", refID, from, to)
		if to.IsTerminal() {
			metrics.IntentsCompleted.WithLabelValues(string(flow), string(to)).Inc()
		}
	}
	return nil
}

// Fail moves the intent to FAILED with the error recorded, if the graph allows it
// from the given state.
func (a *Advancer) Fail(ctx context.Context, flow models.Flow, refID string, from models.Status, cause error) error {
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	return a.Advance(ctx, flow, refID, from, models.StatusFailed, models.Patch{models.FieldError: reason})
}
