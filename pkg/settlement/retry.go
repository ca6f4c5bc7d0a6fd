package settlement

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/superyldr/relayer/pkg/metrics"
	"github.com/superyldr/relayer/pkg/models"
)

type retryPolicy struct {
	base         time.Duration
	maxBackoff   time.Duration
	maxAttempts  int
	tick         time.Duration
	maxQueueSize int
	maxPerTick   int
}

var defaultRetryPolicy = retryPolicy{
	base:         10 * time.Second,
	maxBackoff:   2 * time.Minute,
	maxAttempts:  3,
	tick:         10 * time.Second,
	maxQueueSize: 1000,
	maxPerTick:   10,
}

// backoff is 2^n * base, capped
func (p retryPolicy) backoff(retryCount int) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(retryCount))) * p.base
	if backoff > p.maxBackoff {
		backoff = p.maxBackoff
	}
	return backoff
}

func (s *Service) scheduleRetry(ctx context.Context, refID, errorType string) {
	s.mu.Lock()
	count := s.retries[refID]
	if count >= s.retry.maxAttempts {
		delete(s.retries, refID)
		s.mu.Unlock()
		s.logger.Notice("Max retries reached for intent %s, leaving it to recovery (error: %s)", refID, errorType)
		metrics.MaxRetriesReached.WithLabelValues(errorType).Inc()
		return
	}
	s.retries[refID] = count + 1
	s.mu.Unlock()

	backoff := s.retry.backoff(count)
	job := models.RetryJob{
		RefID:       refID,
		RetryCount:  count + 1,
		NextAttempt: time.Now().Add(backoff),
		ErrorType:   errorType,
	}
	s.logger.Info("Scheduling retry #%d for intent %s in %v (error: %s)", job.RetryCount, refID, backoff, errorType)

	select {
	case s.retryJobs <- job:
	case <-ctx.Done():
	}
}

// retryHandler holds stalled intents until their backoff elapses and nudges them again
func (s *Service) retryHandler(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.retry.tick)
	defer ticker.Stop()

	var queue []models.RetryJob
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.retryJobs:
			if len(queue) >= s.retry.maxQueueSize {
				s.logger.Notice("Retry queue at capacity (%d jobs), dropping retry for intent %s", s.retry.maxQueueSize, job.RefID)
				continue
			}
			queue = append(queue, job)
			sort.Slice(queue, func(i, j int) bool {
				return queue[i].NextAttempt.Before(queue[j].NextAttempt)
			})
			metrics.RetryQueueSize.Set(float64(len(queue)))
			ticker.Reset(s.nextTick(queue, time.Now()))

		case <-ticker.C:
			now := time.Now()
			processed := 0
			var remaining []models.RetryJob
			for _, job := range queue {
				if job.NextAttempt.After(now) || processed >= s.retry.maxPerTick {
					remaining = append(remaining, job)
					continue
				}
				s.logger.Info("Retrying intent %s (attempt #%d, error type: %s)", job.RefID, job.RetryCount, job.ErrorType)
				s.Nudge("retry", job.RefID)
				metrics.RetriesExecuted.WithLabelValues(job.ErrorType).Inc()
				processed++
			}
			queue = remaining
			metrics.RetryQueueSize.Set(float64(len(queue)))
			ticker.Reset(s.nextTick(queue, now))
		}
	}
}

// nextTick wakes the handler just after the earliest job, at most one tick away
func (s *Service) nextTick(queue []models.RetryJob, now time.Time) time.Duration {
	if len(queue) == 0 {
		return s.retry.tick
	}
	wait := queue[0].NextAttempt.Sub(now)
	if wait <= 0 {
		return time.Millisecond
	}
	if wait > s.retry.tick {
		return s.retry.tick
	}
	return wait
}
