// Package bridgewatch detects the arrival of bridged funds by polling a balance
// until it rises above a baseline.
package bridgewatch

import (
	"context"
	"math/big"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/superyldr/relayer/pkg/logger"
	"github.com/superyldr/relayer/pkg/metrics"
	"github.com/superyldr/relayer/pkg/models"
)

const (
	DefaultInitialDelay = 10 * time.Second
	DefaultInterval     = 6 * time.Second
	DefaultTimeout      = 15 * time.Minute
)

const (
	stateRunning int32 = iota
	stateFired
	stateCancelled
)

// BalanceReader reads an ERC20 balance on the watched chain
type BalanceReader interface {
	ID() int
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// Config sets the polling cadence of a watch
type Config struct {
	InitialDelay time.Duration
	Interval     time.Duration
	Timeout      time.Duration

	// token decimals, for the bridged amount gauge
	Decimals int32
}

func (c Config) withDefaults() Config {
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Decimals == 0 {
		c.Decimals = 6
	}
	return c
}

// Target is the balance being watched
type Target struct {
	Token    common.Address
	Account  common.Address
	Baseline *big.Int
	// Min is the smallest rise that counts as landed; nil means any rise
	Min *big.Int
}

// Watch is one running balance poll. onLanded fires at most once: with the
// positive delta when funds arrive, or with zero when the timeout elapses.
type Watch struct {
	state      atomic.Int32
	cancel     context.CancelFunc
	done       chan struct{}
	deadline   time.Time
	chainLabel string
}

// Start launches a watch on its own goroutine. The first read happens after
// InitialDelay, then every Interval until Timeout.
func Start(ctx context.Context, reader BalanceReader, cfg Config, target Target, onLanded func(delta *big.Int), l logger.Logger) *Watch {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(ctx)

	w := &Watch{
		cancel:     cancel,
		done:       make(chan struct{}),
		deadline:   time.Now().Add(cfg.Timeout),
		chainLabel: strconv.Itoa(reader.ID()),
	}
	baseline := target.Baseline
	if baseline == nil {
		baseline = new(big.Int)
	}
	threshold := new(big.Int).Add(baseline, big.NewInt(1))
	if target.Min != nil && target.Min.Sign() > 0 {
		threshold.Add(baseline, target.Min)
	}

	go w.run(ctx, reader, cfg, target, baseline, threshold, onLanded, l)
	return w
}

func (w *Watch) run(ctx context.Context, reader BalanceReader, cfg Config, target Target, baseline, threshold *big.Int, onLanded func(*big.Int), l logger.Logger) {
	defer close(w.done)
	defer w.cancel()

	chainID := reader.ID()
	chainLabel := w.chainLabel

	timer := time.NewTimer(minDuration(cfg.InitialDelay, cfg.Timeout))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.markCancelled()
			return
		case <-timer.C:
		}

		balance, err := reader.BalanceOf(ctx, target.Token, target.Account)
		switch {
		case err != nil:
			l.DebugWithChain(chainID, "Balance read for %s failed, retrying next tick: %v", target.Account.Hex(), err)
		case balance.Cmp(threshold) >= 0:
			delta := new(big.Int).Sub(balance, baseline)
			if w.fire(onLanded, delta) {
				metrics.BridgeWatches.WithLabelValues(chainLabel, "landed").Inc()
				metrics.BridgedAmount.WithLabelValues(chainLabel).Set(metrics.TokenUnits(delta.String(), cfg.Decimals))
				l.InfoWithChain(chainID, "Bridged funds landed for %s: +%s", target.Account.Hex(), delta)
			}
			return
		}

		remaining := w.Remaining()
		if remaining <= 0 {
			if w.fire(onLanded, new(big.Int)) {
				metrics.BridgeWatches.WithLabelValues(chainLabel, "timeout").Inc()
				l.NoticeWithChain(chainID, "No bridged funds for %s after %v", target.Account.Hex(), cfg.Timeout)
			}
			return
		}
		timer.Reset(minDuration(cfg.Interval, remaining))
	}
}

func (w *Watch) fire(onLanded func(*big.Int), delta *big.Int) bool {
	if !w.state.CompareAndSwap(stateRunning, stateFired) {
		return false
	}
	onLanded(delta)
	return true
}

// Cancel stops the watch and waits for its goroutine to exit. onLanded never
// fires after Cancel returns. It must not be called from inside onLanded.
func (w *Watch) Cancel() {
	w.markCancelled()
	w.cancel()
	<-w.done
}

func (w *Watch) markCancelled() {
	if w.state.CompareAndSwap(stateRunning, stateCancelled) {
		metrics.BridgeWatches.WithLabelValues(w.chainLabel, "cancelled").Inc()
	}
}

// Done is closed once the watch has fired or been cancelled
func (w *Watch) Done() <-chan struct{} {
	return w.done
}

// Remaining is the time left before the watch gives up
func (w *Watch) Remaining() time.Duration {
	if w.state.Load() != stateRunning {
		return 0
	}
	if d := time.Until(w.deadline); d > 0 {
		return d
	}
	return 0
}

// WaitLanded blocks until funds land and returns the delta. It returns a
// *models.TimeoutError when nothing arrives in time.
func WaitLanded(ctx context.Context, reader BalanceReader, cfg Config, target Target, l logger.Logger) (*big.Int, error) {
	cfg = cfg.withDefaults()
	result := make(chan *big.Int, 1)

	w := Start(ctx, reader, cfg, target, func(delta *big.Int) { result <- delta }, l)

	select {
	case delta := <-result:
		if delta.Sign() == 0 {
			return nil, &models.TimeoutError{Op: "bridge watch on " + target.Account.Hex(), After: cfg.Timeout}
		}
		return delta, nil
	case <-ctx.Done():
		w.Cancel()
		return nil, ctx.Err()
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
