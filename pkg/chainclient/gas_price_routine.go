package chainclient

import (
	"context"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/superyldr/relayer/pkg/logger"
	"github.com/superyldr/relayer/pkg/metrics"
)

// gasPriceUpdater is the part of Client the routine refreshes
type gasPriceUpdater interface {
	ID() int
	UpdateGasPrice(ctx context.Context) (*big.Int, error)
}

// GasPriceRoutine periodically refreshes a chain's gas price so submissions
// do not wait on an RPC round trip
type GasPriceRoutine struct {
	client   gasPriceUpdater
	interval time.Duration
	stopChan chan struct{}
	mu       sync.RWMutex
	running  bool
	logger   logger.Logger
}

// NewGasPriceRoutine creates a new gas price routine
func NewGasPriceRoutine(client gasPriceUpdater, interval time.Duration, l logger.Logger) *GasPriceRoutine {
	return &GasPriceRoutine{
		client:   client,
		interval: interval,
		logger:   l,
	}
}

// Start begins the periodic updates
func (r *GasPriceRoutine) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}

	r.stopChan = make(chan struct{})
	r.running = true

	go r.run(ctx, r.stopChan)
}

// Stop halts the periodic updates
func (r *GasPriceRoutine) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	close(r.stopChan)
	r.stopChan = nil
	r.running = false
}

// IsRunning returns whether the routine is currently running
func (r *GasPriceRoutine) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

func (r *GasPriceRoutine) run(ctx context.Context, stop chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.update(ctx)

	for {
		select {
		case <-ticker.C:
			r.update(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *GasPriceRoutine) update(ctx context.Context) {
	gasPrice, err := r.client.UpdateGasPrice(ctx)
	if err != nil {
		r.logger.ErrorWithChain(r.client.ID(), "Failed to update gas price: %v", err)
		return
	}

	gwei := weiToGwei(gasPrice)
	metrics.GasPrice.WithLabelValues(strconv.Itoa(r.client.ID())).Set(gwei)
	r.logger.DebugWithChain(r.client.ID(), "Updated gas price: %.4f gwei", gwei)
}

// weiToGwei converts a wei amount to gwei for display
func weiToGwei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e9)).Float64()
	return gwei
}
