package circuitbreaker

import (
	"strconv"
	"sync"
	"time"

	"github.com/superyldr/relayer/pkg/logger"
	"github.com/superyldr/relayer/pkg/metrics"
)

// CircuitBreaker stops a chain's transaction submissions after repeated failures
type CircuitBreaker struct {
	chainID       int
	enabled       bool
	failureCount  int
	failureWindow time.Duration
	failThreshold int
	resetTimeout  time.Duration
	lastFailure   time.Time
	tripped       bool
	tripTime      time.Time
	logger        logger.Logger
	now           func() time.Time
	mu            sync.Mutex
}

// State is a snapshot of the breaker for the status endpoint
type State struct {
	ChainID       int       `json:"chainId"`
	Enabled       bool      `json:"enabled"`
	Open          bool      `json:"open"`
	FailureCount  int       `json:"failureCount"`
	FailThreshold int       `json:"failThreshold"`
	LastFailure   time.Time `json:"lastFailure,omitempty"`
	TripTime      time.Time `json:"tripTime,omitempty"`
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(chainID int, enabled bool, threshold int, window time.Duration, resetTimeout time.Duration, l logger.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		chainID:       chainID,
		enabled:       enabled,
		failThreshold: threshold,
		failureWindow: window,
		resetTimeout:  resetTimeout,
		logger:        l,
		now:           time.Now,
	}
}

// RecordFailure records a failure and trips the circuit if threshold is exceeded
func (cb *CircuitBreaker) RecordFailure() bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()

	if cb.tripped {
		if now.Sub(cb.tripTime) > cb.resetTimeout {
			cb.logger.InfoWithChain(cb.chainID, "Circuit breaker: attempting to reset after timeout")
			cb.close()
		} else {
			return true
		}
	}

	if now.Sub(cb.lastFailure) > cb.failureWindow {
		cb.failureCount = 0
	}

	cb.failureCount++
	cb.lastFailure = now

	if cb.failureCount >= cb.failThreshold {
		cb.tripped = true
		cb.tripTime = now
		metrics.CircuitOpen.WithLabelValues(strconv.Itoa(cb.chainID)).Set(1)
		cb.logger.ErrorWithChain(cb.chainID, "Circuit breaker tripped: %d failures in window", cb.failureCount)
		return true
	}

	return false
}

// IsOpen returns true if the circuit is open (tripped)
func (cb *CircuitBreaker) IsOpen() bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.tripped && cb.now().Sub(cb.tripTime) > cb.resetTimeout {
		cb.close()
		return false
	}

	return cb.tripped
}

// Reset manually resets the circuit breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.close()
	cb.logger.NoticeWithChain(cb.chainID, "Circuit breaker reset")
}

func (cb *CircuitBreaker) close() {
	cb.tripped = false
	cb.failureCount = 0
	metrics.CircuitOpen.WithLabelValues(strconv.Itoa(cb.chainID)).Set(0)
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	open := cb.IsOpen()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	return State{
		ChainID:       cb.chainID,
		Enabled:       cb.enabled,
		Open:          open,
		FailureCount:  cb.failureCount,
		FailThreshold: cb.failThreshold,
		LastFailure:   cb.lastFailure,
		TripTime:      cb.tripTime,
	}
}
