package settlement

import (
	"context"
	"errors"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/superyldr/relayer/pkg/chainclient"
	"github.com/superyldr/relayer/pkg/metrics"
	"github.com/superyldr/relayer/pkg/models"
)

// leg is one on-chain submission guarded by a leg state. The tx hash is
// checkpointed before the receipt wait so a restarted relayer waits on the
// same transaction instead of submitting again.
type leg struct {
	name      string
	chain     ChainRPC
	state     models.Status
	next      models.Status
	hashField models.Field

	// expires legs are not submitted once the intent's deadline has passed
	expires bool
	// moves legs change the relayer's USDT0 on Lisk. They run under the ledger
	// lock until settle has updated the intent's hold.
	moves bool

	submit       func(ctx context.Context, rec *models.Record) (common.Hash, error)
	settle       func(ctx context.Context, rec *models.Record, receipt *types.Receipt) (models.Patch, error)
	afterReceipt func(ctx context.Context, rec *models.Record, receipt *types.Receipt) (models.Patch, error)
}

// runLeg submits the leg (or resumes the checkpointed one), waits for the receipt
// and advances to the leg's next state. resumed is set when the record was
// already in the leg state before this drive claimed it.
func (e *Executor) runLeg(ctx context.Context, rec *models.Record, l leg, resumed bool) error {
	if rec.Status != l.state {
		return &models.ConflictError{RefID: rec.RefID, From: l.state, To: l.next, Actual: rec.Status}
	}
	if l.chain == nil {
		return models.NewValidationError("%s leg has no chain configured", l.name)
	}
	chainID := l.chain.ID()
	started := e.now()

	hashHex := rec.Get(l.hashField)
	if hashHex == "" && resumed && e.now().Sub(rec.UpdatedAt) < e.cfg.StaleLegAfter {
		return errInFlight
	}

	locked := false
	if l.moves {
		if err := e.ledger.lock(ctx); err != nil {
			return err
		}
		locked = true
	}
	unlock := func() {
		if locked {
			locked = false
			e.ledger.unlock()
		}
	}
	defer unlock()

	if hashHex == "" {
		fresh, err := e.store.FindByRefID(ctx, rec.RefID)
		if err != nil {
			return err
		}
		if fresh.Status != l.state || fresh.Get(l.hashField) != "" {
			return &models.ConflictError{RefID: rec.RefID, From: l.state, To: l.next, Actual: fresh.Status}
		}
		if l.expires {
			if err := e.checkDeadline(rec); err != nil {
				e.logger.NoticeWithChain(chainID, "Intent %s: not submitting %s: %v", rec.RefID, l.name, err)
				if ferr := e.advancer.Fail(ctx, rec.Flow, rec.RefID, l.state, err); ferr != nil && models.IsConflict(ferr) {
					return ferr
				}
				return err
			}
		}
		if l.chain.CircuitOpen() {
			return &models.TimeoutError{Op: l.name + " on chain " + strconv.Itoa(chainID) + " (circuit open)"}
		}

		hash, err := l.submit(ctx, rec)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case models.IsTimeout(err), models.IsConflict(err):
				return err
			}
			return e.failLeg(ctx, rec, l, err)
		}
		hashHex = hash.Hex()
		e.logger.InfoWithChain(chainID, "Intent %s: %s submitted, tx %s", rec.RefID, l.name, hashHex)

		patch := models.Patch{l.hashField: hashHex}
		if err := e.advancer.Advance(ctx, rec.Flow, rec.RefID, l.state, l.state, patch); err != nil {
			return err
		}
		rec = rec.Clone()
		rec.Apply(patch)
	} else {
		e.logger.InfoWithChain(chainID, "Intent %s: resuming %s, waiting on tx %s", rec.RefID, l.name, hashHex)
	}

	receipt, err := l.chain.WaitForReceipt(ctx, common.HexToHash(hashHex))
	if err != nil {
		if chainclient.IsRevert(err) {
			return e.failLeg(ctx, rec, l, err)
		}
		return err
	}
	metrics.LegDuration.WithLabelValues(strconv.Itoa(chainID), l.name).Observe(time.Since(started).Seconds())

	patch := models.Patch{}
	if l.settle != nil {
		settled, err := l.settle(ctx, rec, receipt)
		if err != nil {
			return err
		}
		for field, value := range settled {
			patch[field] = value
		}
	}
	unlock()

	if l.afterReceipt != nil {
		after, err := l.afterReceipt(ctx, rec, receipt)
		if err != nil {
			return err
		}
		for field, value := range after {
			patch[field] = value
		}
	}
	return e.advancer.Advance(ctx, rec.Flow, rec.RefID, l.state, l.next, patch)
}

// failLeg records a rejected or reverted leg as FAILED and reports it as a
// ChainSubmissionError
func (e *Executor) failLeg(ctx context.Context, rec *models.Record, l leg, cause error) error {
	subErr := &models.ChainSubmissionError{ChainID: l.chain.ID(), Leg: l.name, Err: cause}
	e.logger.ErrorWithChain(l.chain.ID(), "Intent %s: %v", rec.RefID, subErr)
	if err := e.advancer.Fail(ctx, rec.Flow, rec.RefID, l.state, subErr); err != nil {
		var conflict *models.ConflictError
		if errors.As(err, &conflict) {
			return err
		}
		e.logger.Error("Could not record failure of %s: %v", rec.RefID, err)
	}
	return subErr
}

// ensureAllowance approves spender for at least amount. Tokens like USDT reject
// a change from one non-zero allowance to another, so a short allowance is
// first reset to zero. Each mined approval refreshes the intent's updated_at
// so the leg does not look stale while it is still being submitted.
func (e *Executor) ensureAllowance(ctx context.Context, rec *models.Record, chain ChainRPC, token, spender common.Address, amount *big.Int) error {
	current, err := chain.Allowance(ctx, token, chain.Address(), spender)
	if err != nil {
		return err
	}
	if current.Cmp(amount) >= 0 {
		return nil
	}
	if current.Sign() > 0 {
		if err := e.approve(ctx, rec, chain, token, spender, new(big.Int)); err != nil {
			return err
		}
	}
	return e.approve(ctx, rec, chain, token, spender, amount)
}

func (e *Executor) approve(ctx context.Context, rec *models.Record, chain ChainRPC, token, spender common.Address, amount *big.Int) error {
	hash, err := chain.WriteContract(ctx, chainclient.Call{
		To:     token,
		ABI:    chainclient.ERC20ABI,
		Method: "approve",
		Args:   []interface{}{spender, amount},
	})
	if err != nil {
		return err
	}
	e.logger.DebugWithChain(chain.ID(), "Approval %s for %s to %s", hash.Hex(), amount, spender.Hex())
	if _, err := chain.WaitForReceipt(ctx, hash); err != nil {
		return err
	}
	return e.advancer.Advance(ctx, rec.Flow, rec.RefID, rec.Status, rec.Status, nil)
}
