// Package recovery reconciles a user's unfinished intents after a reconnect,
// nudges each one back into settlement and follows them until they finish.
package recovery

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/superyldr/relayer/pkg/logger"
	"github.com/superyldr/relayer/pkg/models"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultRenudgeEvery = 6
	DefaultUnknownTicks = 12
)

// Server is the relayer surface recovery talks to, in process or over HTTP
type Server interface {
	ListPending(ctx context.Context, user string) ([]models.StatusView, error)
	Status(ctx context.Context, refID string) (*models.StatusView, error)
	Nudge(ctx context.Context, refID string) error
}

// Config sets the polling cadence
type Config struct {
	PollInterval time.Duration

	// non-terminal intents are nudged again every RenudgeEvery ticks
	RenudgeEvery int

	// a refId the server has never heard of is dropped from the session after
	// this many ticks; its cache entry stays
	UnknownTicks int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RenudgeEvery <= 0 {
		c.RenudgeEvery = DefaultRenudgeEvery
	}
	if c.UnknownTicks <= 0 {
		c.UnknownTicks = DefaultUnknownTicks
	}
	return c
}

// Orchestrator runs recovery sessions
type Orchestrator struct {
	server Server
	cache  ActiveCache
	cfg    Config
	logger logger.Logger
}

func New(server Server, cache ActiveCache, cfg Config, l logger.Logger) *Orchestrator {
	return &Orchestrator{
		server: server,
		cache:  cache,
		cfg:    cfg.withDefaults(),
		logger: l,
	}
}

// Reconcile builds the working set for user: the server's pending intents
// followed by cached ones the server did not list. Every member gets exactly
// one nudge.
func (o *Orchestrator) Reconcile(ctx context.Context, user string) ([]string, error) {
	pending, err := o.server.ListPending(ctx, user)
	if err != nil {
		return nil, err
	}
	cached, err := o.cache.ReadAllActive(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var set []string
	for _, view := range pending {
		key := cacheKey(view.RefID)
		if seen[key] {
			continue
		}
		seen[key] = true
		set = append(set, view.RefID)

		if _, ok := cached[key]; !ok {
			if err := o.cache.TrackActive(ctx, metaFromView(view)); err != nil {
				o.logger.Error("Failed to cache %s: %v", view.RefID, err)
			}
		}
	}
	for key, meta := range cached {
		if seen[key] {
			continue
		}
		if meta.User != "" && !strings.EqualFold(meta.User, user) {
			continue
		}
		seen[key] = true
		set = append(set, meta.RefID)
	}

	o.logger.Info("Recovering %d intents for %s (%d from server)", len(set), user, len(pending))
	o.nudgeAll(ctx, set)
	return set, nil
}

// nudgeAll fans the nudges out. A failed nudge is logged; the next re-nudge
// covers it.
func (o *Orchestrator) nudgeAll(ctx context.Context, refIDs []string) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, refID := range refIDs {
		refID := refID
		g.Go(func() error {
			if err := o.server.Nudge(gctx, refID); err != nil {
				o.logger.Notice("Nudge for %s failed: %v", refID, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Run reconciles and then polls until every intent of the session is terminal
// or unknown to the server, or ctx is done. It returns the last status seen
// per refId.
func (o *Orchestrator) Run(ctx context.Context, user string) (map[string]models.Status, error) {
	set, err := o.Reconcile(ctx, user)
	if err != nil {
		return nil, err
	}

	last := make(map[string]models.Status, len(set))
	unknownFor := make(map[string]int)
	active := make(map[string]bool, len(set))
	for _, refID := range set {
		active[refID] = true
		last[refID] = models.StatusUnknown
	}

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for tick := 1; len(active) > 0; tick++ {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}

		for refID := range active {
			status, done := o.poll(ctx, refID, unknownFor)
			last[refID] = status
			if done {
				delete(active, refID)
			}
		}

		if tick%o.cfg.RenudgeEvery == 0 && len(active) > 0 {
			var stalled []string
			for refID := range active {
				stalled = append(stalled, refID)
			}
			o.logger.Debug("Re-nudging %d unfinished intents", len(stalled))
			o.nudgeAll(ctx, stalled)
		}
	}
	return last, nil
}

// poll refreshes one intent and reports whether the session is done with it
func (o *Orchestrator) poll(ctx context.Context, refID string, unknownFor map[string]int) (models.Status, bool) {
	view, err := o.server.Status(ctx, refID)
	if errors.Is(err, models.ErrNotFound) {
		unknownFor[refID]++
		if unknownFor[refID] >= o.cfg.UnknownTicks {
			o.logger.Notice("Intent %s is still unknown to the server, keeping it cached", refID)
			return models.StatusUnknown, true
		}
		return models.StatusUnknown, false
	}
	if err != nil {
		o.logger.Debug("Status of %s unavailable: %v", refID, err)
		return models.StatusUnknown, false
	}
	delete(unknownFor, refID)

	if view.Status.IsTerminal() {
		if err := o.cache.ClearActive(ctx, refID); err != nil {
			o.logger.Error("Failed to clear %s from cache: %v", refID, err)
		}
		o.logger.Info("Intent %s finished with %s", refID, view.Status)
		return view.Status, true
	}
	if err := o.cache.UpdateActive(ctx, refID, metaFromView(*view)); err != nil {
		o.logger.Error("Failed to update cached %s: %v", refID, err)
	}
	return view.Status, false
}

func metaFromView(v models.StatusView) models.ActiveMeta {
	return models.ActiveMeta{
		RefID:       v.RefID,
		User:        v.User,
		Flow:        v.Flow,
		Status:      v.Status,
		FromChainID: v.FromChainID,
		ToChainID:   v.ToChainID,
		FromTxHash:  v.FromTxHash,
		ToTxHash:    v.ToTxHash,
		MinAmount:   v.MinAmount,
		CreatedAt:   v.CreatedAt,
		UpdatedAt:   v.UpdatedAt,
	}
}
