package settlement

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/superyldr/relayer/pkg/models"
)

// restoreReceiptWait bounds the receipt lookup of a checkpointed leg while
// holds are rebuilt at startup
const restoreReceiptWait = 5 * time.Second

// ledger tracks the relayer's Lisk USDT0 that already belongs to an intent:
// landed deposits not yet supplied and redeemed withdraws not yet bridged out.
// Legs that move that balance hold the lock from submission until the hold is
// updated, so balance watchers never see a move without its hold.
type ledger struct {
	sem  chan struct{}
	held map[string]*big.Int
}

func newLedger() *ledger {
	return &ledger{
		sem:  make(chan struct{}, 1),
		held: make(map[string]*big.Int),
	}
}

func (l *ledger) lock(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *ledger) unlock() {
	<-l.sem
}

// heldExcept sums the holds of every intent but refID. Callers hold the lock.
func (l *ledger) heldExcept(refID string) *big.Int {
	sum := new(big.Int)
	for id, amount := range l.held {
		if id != refID {
			sum.Add(sum, amount)
		}
	}
	return sum
}

func (l *ledger) hold(refID string, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		delete(l.held, refID)
		return
	}
	l.held[refID] = new(big.Int).Set(amount)
}

func (l *ledger) release(refID string) {
	delete(l.held, refID)
}

// available is the relayer's USDT0 on Lisk minus what other intents hold
func (e *Executor) available(ctx context.Context, refID string) (*big.Int, error) {
	if err := e.ledger.lock(ctx); err != nil {
		return nil, err
	}
	defer e.ledger.unlock()
	return e.availableLocked(ctx, refID)
}

func (e *Executor) availableLocked(ctx context.Context, refID string) (*big.Int, error) {
	balance, err := e.chains.Lisk.BalanceOf(ctx, e.cfg.USDT0Address, e.chains.Lisk.Address())
	if err != nil {
		return nil, err
	}
	return balance.Sub(balance, e.ledger.heldExcept(refID)), nil
}

// unheldBalance is the balance a deposit's bridge watch polls
type unheldBalance struct {
	e     *Executor
	refID string
}

func (u unheldBalance) ID() int {
	return u.e.chains.Lisk.ID()
}

func (u unheldBalance) BalanceOf(ctx context.Context, _, _ common.Address) (*big.Int, error) {
	return u.e.available(ctx, u.refID)
}

// RestoreHolds rebuilds the ledger from the stored intents. It runs once
// before the workers start.
func (e *Executor) RestoreHolds(ctx context.Context) error {
	if e.chains.Lisk == nil {
		return nil
	}
	recs, err := e.store.ListNonTerminal(ctx, sweepLimit)
	if err != nil {
		return err
	}
	if err := e.ledger.lock(ctx); err != nil {
		return err
	}
	defer e.ledger.unlock()

	for _, rec := range recs {
		amount := e.restoredHold(ctx, rec)
		if amount == nil {
			continue
		}
		e.ledger.hold(rec.RefID, amount)
		e.logger.Debug("Intent %s holds %s USDT0 on Lisk", rec.RefID, amount)
	}
	return nil
}

func (e *Executor) restoredHold(ctx context.Context, rec *models.Record) *big.Int {
	bridged, _ := new(big.Int).SetString(rec.BridgedAmount, 10)

	switch {
	case rec.Flow == models.FlowDeposit && rec.Status == models.StatusBridged:
		return bridged
	case rec.Flow == models.FlowDeposit && rec.Status == models.StatusDepositing:
		if e.minedOnLisk(ctx, rec.DepositTxHash) != nil {
			return nil
		}
		return bridged
	case rec.Flow == models.FlowWithdraw && rec.Status == models.StatusRedeeming:
		receipt := e.minedOnLisk(ctx, rec.RedeemTxHash)
		if receipt == nil {
			return nil
		}
		assets, _ := redeemedAssets(receipt, e.cfg.VaultAddress, e.chains.Lisk.Address())
		return assets
	case rec.Flow == models.FlowWithdraw && rec.Status == models.StatusRedeemed:
		return bridged
	case rec.Flow == models.FlowWithdraw && rec.Status == models.StatusBridging:
		if e.minedOnLisk(ctx, rec.FromTxHash) != nil {
			return nil
		}
		return bridged
	}
	return nil
}

// minedOnLisk returns the successful receipt of hash, or nil when there is
// none yet
func (e *Executor) minedOnLisk(ctx context.Context, hash string) *types.Receipt {
	if hash == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, restoreReceiptWait)
	defer cancel()
	receipt, err := e.chains.Lisk.WaitForReceipt(ctx, common.HexToHash(hash))
	if err != nil || receipt.Status != types.ReceiptStatusSuccessful {
		return nil
	}
	return receipt
}

// redeemedAssets reads the assets paid to receiver from the vault's ERC4626
// Withdraw event
func redeemedAssets(receipt *types.Receipt, vault, receiver common.Address) (*big.Int, bool) {
	event, ok := vaultABI.Events["Withdraw"]
	if !ok || receipt == nil {
		return nil, false
	}
	for _, lg := range receipt.Logs {
		if lg.Address != vault || len(lg.Topics) < 3 || lg.Topics[0] != event.ID {
			continue
		}
		if common.BytesToAddress(lg.Topics[2].Bytes()) != receiver {
			continue
		}
		values, err := event.Inputs.NonIndexed().Unpack(lg.Data)
		if err != nil || len(values) == 0 {
			continue
		}
		if assets, ok := values[0].(*big.Int); ok {
			return assets, true
		}
	}
	return nil, false
}
