package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/superyldr/relayer/pkg/bridgewatch"
	"github.com/superyldr/relayer/pkg/chainclient"
	"github.com/superyldr/relayer/pkg/intent"
	"github.com/superyldr/relayer/pkg/models"
)

func (e *Executor) depositStep(ctx context.Context, rec *models.Record) error {
	switch rec.Status {
	case models.StatusPending:
		patch, err := e.preflightDeposit(ctx, rec)
		if err != nil {
			return err
		}
		return e.advancer.Advance(ctx, rec.Flow, rec.RefID, models.StatusPending, models.StatusProcessing, patch)

	case models.StatusProcessing:
		if rec.FromTxHash != "" {
			return e.advancer.Advance(ctx, rec.Flow, rec.RefID, models.StatusProcessing, models.StatusBridgeInFlight, nil)
		}
		return e.advancer.Advance(ctx, rec.Flow, rec.RefID, models.StatusProcessing, models.StatusWaitingRoute, nil)

	case models.StatusWaitingRoute, models.StatusBridgeInFlight:
		return e.awaitBridgeIn(ctx, rec)

	case models.StatusBridged:
		if err := e.checkDeadline(rec); err != nil {
			return err
		}
		amount, err := creditedAmount(rec)
		if err != nil {
			return err
		}
		balance, err := e.available(ctx, rec.RefID)
		if err != nil {
			return err
		}
		if balance.Cmp(amount) < 0 {
			return &models.TimeoutError{Op: "vault deposit funding for " + rec.RefID}
		}
		claimed, err := e.claim(ctx, rec, models.StatusDepositing, nil)
		if err != nil {
			return err
		}
		return e.runLeg(ctx, claimed, e.depositLeg(), false)

	case models.StatusDepositing:
		return e.runLeg(ctx, rec, e.depositLeg(), true)

	case models.StatusDeposited:
		claimed, err := e.claim(ctx, rec, models.StatusMinting, nil)
		if err != nil {
			return err
		}
		return e.runLeg(ctx, claimed, e.mintLeg(), false)

	case models.StatusMinting:
		return e.runLeg(ctx, rec, e.mintLeg(), true)
	}
	return &models.IllegalTransitionError{Flow: rec.Flow, From: rec.Status, To: rec.Status}
}

// preflightDeposit runs the read-only checks of a new deposit and returns the
// baseline relayer balance the bridge watch measures against
func (e *Executor) preflightDeposit(ctx context.Context, rec *models.Record) (models.Patch, error) {
	if err := e.verifier.VerifyRecord(rec); err != nil {
		return nil, err
	}
	if err := e.checkDeadline(rec); err != nil {
		return nil, err
	}
	d, err := intent.DepositFromRecord(rec)
	if err != nil {
		return nil, err
	}
	if e.chains.Lisk == nil {
		return nil, models.NewValidationError("lisk chain is not configured")
	}

	var adapterOK, assetOK bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		adapterOK, err = e.readBool(gctx, "adapterAllowed", d.Key)
		return err
	})
	g.Go(func() error {
		var err error
		assetOK, err = e.readBool(gctx, "assetAllowed", d.Asset)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if !adapterOK {
		return nil, models.NewValidationError("adapter %s is not allowed", d.Key.Hex())
	}
	if !assetOK {
		return nil, models.NewValidationError("asset %s is not allowed", d.Asset.Hex())
	}

	baseline, err := e.available(ctx, rec.RefID)
	if err != nil {
		return nil, err
	}
	return models.Patch{models.FieldBaselineBalance: baseline.String()}, nil
}

func (e *Executor) readBool(ctx context.Context, method string, arg interface{}) (bool, error) {
	out, err := e.chains.Lisk.ReadContract(ctx, chainclient.Call{
		To:     e.cfg.ExecutorAddress,
		ABI:    executorABI,
		Method: method,
		Args:   []interface{}{arg},
	})
	if err != nil {
		return false, err
	}
	if len(out) == 0 {
		return false, errors.New(method + " returned no values")
	}
	ok, _ := out[0].(bool)
	return ok, nil
}

// awaitBridgeIn watches the relayer's unheld USDT0 on Lisk until at least the
// signed minAmount has landed, then records the bridged amount capped at the
// signed amount and holds it for the intent
func (e *Executor) awaitBridgeIn(ctx context.Context, rec *models.Record) error {
	baseline := new(big.Int)
	if rec.BaselineBalance != "" {
		// holds can exceed the balance, so the baseline may be negative
		if _, ok := baseline.SetString(rec.BaselineBalance, 10); !ok {
			return fmt.Errorf("invalid baseline balance: %q", rec.BaselineBalance)
		}
	}
	minAmount, err := parseAmount("minAmount", rec.MinAmount)
	if err != nil {
		return err
	}
	signed, err := parseAmount("amount", rec.Amount)
	if err != nil {
		return err
	}
	_, err = bridgewatch.WaitLanded(ctx, unheldBalance{e: e, refID: rec.RefID}, e.cfg.BridgeWatch, bridgewatch.Target{
		Token:    e.cfg.USDT0Address,
		Account:  e.chains.Lisk.Address(),
		Baseline: baseline,
		Min:      minAmount,
	}, e.logger)
	if err != nil {
		return err
	}

	// re-measured under the lock, another watch may have taken the funds
	if err := e.ledger.lock(ctx); err != nil {
		return err
	}
	defer e.ledger.unlock()

	available, err := e.availableLocked(ctx, rec.RefID)
	if err != nil {
		return err
	}
	credited := available.Sub(available, baseline)
	if credited.Cmp(minAmount) < 0 {
		return &models.TimeoutError{Op: "bridge-in of " + rec.RefID + " below minAmount"}
	}
	if credited.Cmp(signed) > 0 {
		e.logger.NoticeWithChain(LiskChainID, "Intent %s: %s landed, crediting the signed %s", rec.RefID, credited, signed)
		credited = signed
	}

	patch := models.Patch{models.FieldBridgedAmount: credited.String()}
	err = e.advancer.Advance(ctx, rec.Flow, rec.RefID, rec.Status, models.StatusBridged, patch)

	// route progress may have moved the intent while the watch was running
	var conflict *models.ConflictError
	if errors.As(err, &conflict) && rec.Status == models.StatusWaitingRoute && conflict.Actual == models.StatusBridgeInFlight {
		err = e.advancer.Advance(ctx, rec.Flow, rec.RefID, models.StatusBridgeInFlight, models.StatusBridged, patch)
	}
	if err == nil {
		e.ledger.hold(rec.RefID, credited)
	}
	return err
}

// creditedAmount is the bridged amount, never more than the user signed for
func creditedAmount(rec *models.Record) (*big.Int, error) {
	amount, err := parseAmount("bridged amount", rec.BridgedAmount)
	if err != nil {
		return nil, err
	}
	if signed, ok := new(big.Int).SetString(rec.Amount, 10); ok && amount.Cmp(signed) > 0 {
		return signed, nil
	}
	return amount, nil
}

func (e *Executor) depositLeg() leg {
	return leg{
		name:      "vault deposit",
		chain:     e.chains.Lisk,
		state:     models.StatusDepositing,
		next:      models.StatusDeposited,
		hashField: models.FieldDepositTxHash,
		expires:   true,
		moves:     true,
		submit: func(ctx context.Context, rec *models.Record) (common.Hash, error) {
			amount, err := creditedAmount(rec)
			if err != nil {
				return common.Hash{}, err
			}
			if err := e.ensureAllowance(ctx, rec, e.chains.Lisk, e.cfg.USDT0Address, e.cfg.VaultAddress, amount); err != nil {
				return common.Hash{}, err
			}
			return e.chains.Lisk.WriteContract(ctx, chainclient.Call{
				To:     e.cfg.VaultAddress,
				ABI:    vaultABI,
				Method: "deposit",
				Args:   []interface{}{amount, e.cfg.SafeAddress},
			})
		},
		settle: func(_ context.Context, rec *models.Record, _ *types.Receipt) (models.Patch, error) {
			e.ledger.release(rec.RefID)
			return nil, nil
		},
	}
}

func (e *Executor) mintLeg() leg {
	return leg{
		name:      "receipt mint",
		chain:     e.chains.Optimism,
		state:     models.StatusMinting,
		next:      models.StatusMinted,
		hashField: models.FieldMintTxHash,
		submit: func(ctx context.Context, rec *models.Record) (common.Hash, error) {
			amount, err := creditedAmount(rec)
			if err != nil {
				return common.Hash{}, err
			}
			return e.chains.Optimism.WriteContract(ctx, chainclient.Call{
				To:     e.cfg.RewardsVaultAddress,
				ABI:    rewardsVaultABI,
				Method: "recordDeposit",
				Args:   []interface{}{common.HexToAddress(rec.User), amount},
			})
		},
	}
}

// RouteProgress is what the client reports once it has sent the user's bridge transaction
type RouteProgress struct {
	FromTxHash     string
	FromChainID    int64
	ToChainID      int64
	ToTokenAddress string
}

const routeProgressAttempts = 3

// RecordRouteProgress stores the user's bridge transaction on a deposit. Fields
// already set are kept. An intent still waiting for its route moves to
// BRIDGE_IN_FLIGHT; later states only take the missing fields.
func (e *Executor) RecordRouteProgress(ctx context.Context, refID string, p RouteProgress) error {
	var err error
	for i := 0; i < routeProgressAttempts; i++ {
		var rec *models.Record
		if rec, err = e.store.FindByRefID(ctx, refID); err != nil {
			return err
		}
		if rec.Flow != models.FlowDeposit {
			return models.NewValidationError("route progress only applies to deposits")
		}
		if rec.Status.IsTerminal() {
			return nil
		}

		patch := models.Patch{}
		if rec.FromTxHash == "" && p.FromTxHash != "" {
			patch[models.FieldFromTxHash] = p.FromTxHash
		}
		if rec.FromChainID == 0 && p.FromChainID != 0 {
			patch[models.FieldFromChainID] = strconv.FormatInt(p.FromChainID, 10)
		}
		if rec.ToChainID == 0 && p.ToChainID != 0 {
			patch[models.FieldToChainID] = strconv.FormatInt(p.ToChainID, 10)
		}
		if rec.ToTokenAddress == "" && p.ToTokenAddress != "" {
			patch[models.FieldToTokenAddress] = p.ToTokenAddress
		}

		to := rec.Status
		if rec.Status == models.StatusProcessing || rec.Status == models.StatusWaitingRoute {
			to = models.StatusBridgeInFlight
		}
		if to == rec.Status && len(patch) == 0 {
			return nil
		}

		err = e.advancer.Advance(ctx, rec.Flow, refID, rec.Status, to, patch)
		if !models.IsConflict(err) {
			return err
		}
	}
	return err
}
