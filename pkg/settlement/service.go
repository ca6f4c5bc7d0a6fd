package settlement

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/superyldr/relayer/pkg/chainclient"
	"github.com/superyldr/relayer/pkg/logger"
	"github.com/superyldr/relayer/pkg/metrics"
	"github.com/superyldr/relayer/pkg/models"
	"github.com/superyldr/relayer/pkg/store"
)

const (
	jobBufferSize = 100
	sweepLimit    = 1000
)

// Settler drives one intent to its next resting state
type Settler interface {
	Settle(ctx context.Context, refID string) error
}

// Service runs settlements on a worker pool. Work arrives as nudges from the
// API, the recovery orchestrator, the retry queue and the startup sweep; a
// refId is never settled by two workers of the same process at once.
type Service struct {
	settler Settler
	store   store.Store
	workers int
	logger  logger.Logger

	jobs      chan string
	retryJobs chan models.RetryJob
	retry     retryPolicy

	mu      sync.Mutex
	queued  map[string]bool
	rerun   map[string]bool
	retries map[string]int

	wg sync.WaitGroup
}

// NewService creates a settlement service
func NewService(settler Settler, s store.Store, workers int, l logger.Logger) *Service {
	if workers <= 0 {
		workers = 1
	}
	return &Service{
		settler:   settler,
		store:     s,
		workers:   workers,
		logger:    l,
		jobs:      make(chan string, jobBufferSize),
		retryJobs: make(chan models.RetryJob, jobBufferSize),
		retry:     defaultRetryPolicy,
		queued:    make(map[string]bool),
		rerun:     make(map[string]bool),
		retries:   make(map[string]int),
	}
}

// Start launches the workers and the retry handler, then queues every
// non-terminal intent left over from a previous run
func (s *Service) Start(ctx context.Context) {
	s.logger.Info("Starting %d settlement workers", s.workers)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.wg.Add(1)
	go s.retryHandler(ctx)

	recs, err := s.store.ListNonTerminal(ctx, sweepLimit)
	if err != nil {
		s.logger.Error("Startup sweep failed: %v", err)
		return
	}
	if len(recs) > 0 {
		s.logger.Info("Resuming %d unfinished intents", len(recs))
	}
	for _, rec := range recs {
		s.Nudge("sweep", rec.RefID)
	}
}

// Wait blocks until every worker has exited after the context passed to Start is done
func (s *Service) Wait() {
	s.wg.Wait()
}

// Nudge asks for refID to be settled. It reports whether new work was queued:
// a refId already queued or running is marked for one more pass instead, and
// a full queue drops the nudge.
func (s *Service) Nudge(source, refID string) bool {
	key := strings.ToLower(refID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queued[key] {
		s.rerun[key] = true
		metrics.Nudges.WithLabelValues(source, "deduped").Inc()
		return false
	}
	select {
	case s.jobs <- key:
		s.queued[key] = true
		metrics.Nudges.WithLabelValues(source, "queued").Inc()
		return true
	default:
		s.logger.Notice("Settlement queue full, dropping %s nudge for %s", source, key)
		metrics.Nudges.WithLabelValues(source, "dropped").Inc()
		return false
	}
}

func (s *Service) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	s.logger.Debug("Starting worker %d", id)

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Worker %d shutting down", id)
			return
		case refID := <-s.jobs:
			metrics.ActiveSettlements.Inc()
			err := s.settler.Settle(ctx, refID)
			metrics.ActiveSettlements.Dec()

			s.handleResult(ctx, id, refID, err)
			if s.finish(refID) {
				s.Nudge("rerun", refID)
			}
		}
	}
}

// finish releases refID and reports whether a nudge arrived while it ran
func (s *Service) finish(refID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.queued, refID)
	again := s.rerun[refID]
	delete(s.rerun, refID)
	return again
}

func (s *Service) handleResult(ctx context.Context, workerID int, refID string, err error) {
	if err == nil {
		s.mu.Lock()
		delete(s.retries, refID)
		s.mu.Unlock()
		return
	}
	if ctx.Err() != nil {
		return
	}

	var (
		illegal   *models.IllegalTransitionError
		submitErr *models.ChainSubmissionError
	)
	switch {
	case models.IsValidation(err):
		s.logger.Notice("Worker %d: intent %s rejected: %v", workerID, refID, err)
		return
	case errors.As(err, &illegal):
		s.logger.Error("Worker %d: BUG on intent %s: %v", workerID, refID, err)
		return
	case errors.As(err, &submitErr):
		s.logger.ErrorWithChain(submitErr.ChainID, "Worker %d: intent %s failed: %v", workerID, refID, err)
		return
	case errors.Is(err, models.ErrNotFound):
		s.logger.Notice("Worker %d: intent %s does not exist", workerID, refID)
		return
	}

	shouldRetry, errorType := chainclient.ClassifyError(err)
	s.logger.Info("Worker %d: intent %s stalled (%s, retry: %v): %v", workerID, refID, errorType, shouldRetry, err)
	if shouldRetry {
		s.scheduleRetry(ctx, refID, errorType)
	}
}
