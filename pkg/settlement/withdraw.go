package settlement

import (
	"context"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/superyldr/relayer/pkg/bridgewatch"
	"github.com/superyldr/relayer/pkg/chainclient"
	"github.com/superyldr/relayer/pkg/intent"
	"github.com/superyldr/relayer/pkg/models"
)

func (e *Executor) withdrawStep(ctx context.Context, rec *models.Record) error {
	switch rec.Status {
	case models.StatusPending:
		if err := e.preflightWithdraw(rec); err != nil {
			return err
		}
		claimed, err := e.claim(ctx, rec, models.StatusProcessing, nil)
		if err != nil {
			return err
		}
		return e.runLeg(ctx, claimed, e.burnLeg(), false)

	case models.StatusProcessing:
		return e.runLeg(ctx, rec, e.burnLeg(), true)

	case models.StatusBurned:
		if err := e.checkDeadline(rec); err != nil {
			return err
		}
		claimed, err := e.claim(ctx, rec, models.StatusRedeeming, nil)
		if err != nil {
			return err
		}
		return e.runLeg(ctx, claimed, e.redeemLeg(), false)

	case models.StatusRedeeming:
		return e.runLeg(ctx, rec, e.redeemLeg(), true)

	case models.StatusRedeemed:
		patch, err := e.prepareBridgeOut(ctx, rec)
		if err != nil {
			return err
		}
		claimed, err := e.claim(ctx, rec, models.StatusBridging, patch)
		if err != nil {
			return err
		}
		return e.runLeg(ctx, claimed, e.bridgeOutLeg(rec.DstChainID), false)

	case models.StatusBridging:
		return e.runLeg(ctx, rec, e.bridgeOutLeg(rec.DstChainID), true)
	}
	return &models.IllegalTransitionError{Flow: rec.Flow, From: rec.Status, To: rec.Status}
}

func (e *Executor) preflightWithdraw(rec *models.Record) error {
	if err := e.verifier.VerifyRecord(rec); err != nil {
		return err
	}
	if err := e.checkDeadline(rec); err != nil {
		return err
	}
	if _, err := intent.WithdrawFromRecord(rec); err != nil {
		return err
	}
	if e.chains.Lisk == nil || e.chains.Optimism == nil {
		return models.NewValidationError("lisk and optimism chains must be configured")
	}
	if _, ok := e.chains.destination(rec.DstChainID); !ok {
		return models.NewValidationError("destination chain %d is not supported", rec.DstChainID)
	}
	if e.cfg.BridgeAdapterAddress == (common.Address{}) {
		return models.NewValidationError("no bridge adapter configured")
	}
	return nil
}

// prepareBridgeOut waits for the redeemed USDT0 to be spendable and snapshots
// the user's balance on the destination chain
func (e *Executor) prepareBridgeOut(ctx context.Context, rec *models.Record) (models.Patch, error) {
	if err := e.checkDeadline(rec); err != nil {
		return nil, err
	}
	dst, ok := e.chains.destination(rec.DstChainID)
	if !ok {
		return nil, models.NewValidationError("destination chain %d is not supported", rec.DstChainID)
	}
	minOut, err := parseAmount("minAmountOut", rec.MinAmountOut)
	if err != nil {
		return nil, err
	}
	if err := e.waitBalanceAtLeast(ctx, e.chains.Lisk, e.cfg.USDT0Address, minOut); err != nil {
		return nil, err
	}
	baseline, err := dst.BalanceOf(ctx, common.HexToAddress(rec.DstToken), common.HexToAddress(rec.User))
	if err != nil {
		return nil, err
	}
	return models.Patch{
		models.FieldBaselineBalance: baseline.String(),
		models.FieldFromChainID:     strconv.Itoa(LiskChainID),
		models.FieldToChainID:       strconv.FormatInt(rec.DstChainID, 10),
		models.FieldToTokenAddress:  rec.DstToken,
	}, nil
}

// waitBalanceAtLeast polls the relayer's balance until it covers min
func (e *Executor) waitBalanceAtLeast(ctx context.Context, chain ChainRPC, token common.Address, want *big.Int) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RedeemBalanceTimeout)
	defer cancel()

	ticker := time.NewTicker(e.cfg.RedeemBalanceInterval)
	defer ticker.Stop()

	for {
		balance, err := chain.BalanceOf(ctx, token, chain.Address())
		if err == nil && balance.Cmp(want) >= 0 {
			return nil
		}
		if err != nil {
			e.logger.DebugWithChain(chain.ID(), "Balance read failed, retrying: %v", err)
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return &models.TimeoutError{Op: "redeemed balance", After: e.cfg.RedeemBalanceTimeout}
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Executor) burnLeg() leg {
	return leg{
		name:      "receipt burn",
		chain:     e.chains.Optimism,
		state:     models.StatusProcessing,
		next:      models.StatusBurned,
		hashField: models.FieldBurnTxHash,
		expires:   true,
		submit: func(ctx context.Context, rec *models.Record) (common.Hash, error) {
			shares, err := parseAmount("amountShares", rec.AmountShares)
			if err != nil {
				return common.Hash{}, err
			}
			return e.chains.Optimism.WriteContract(ctx, chainclient.Call{
				To:     e.cfg.RewardsVaultAddress,
				ABI:    rewardsVaultABI,
				Method: "recordWithdrawal",
				Args:   []interface{}{common.HexToAddress(rec.User), shares},
			})
		},
	}
}

func (e *Executor) redeemLeg() leg {
	return leg{
		name:      "vault redeem",
		chain:     e.chains.Lisk,
		state:     models.StatusRedeeming,
		next:      models.StatusRedeemed,
		hashField: models.FieldRedeemTxHash,
		expires:   true,
		moves:     true,
		submit: func(ctx context.Context, rec *models.Record) (common.Hash, error) {
			shares, err := parseAmount("amountShares", rec.AmountShares)
			if err != nil {
				return common.Hash{}, err
			}
			return e.chains.Lisk.WriteContract(ctx, chainclient.Call{
				To:     e.cfg.VaultAddress,
				ABI:    vaultABI,
				Method: "redeem",
				Args:   []interface{}{shares, e.chains.Lisk.Address(), e.cfg.SafeAddress},
			})
		},
		settle: func(ctx context.Context, rec *models.Record, receipt *types.Receipt) (models.Patch, error) {
			assets, ok := redeemedAssets(receipt, e.cfg.VaultAddress, e.chains.Lisk.Address())
			if !ok {
				var err error
				if assets, err = e.redeemedFallback(ctx, rec); err != nil {
					return nil, err
				}
			}
			e.ledger.hold(rec.RefID, assets)
			return models.Patch{models.FieldBridgedAmount: assets.String()}, nil
		},
	}
}

// redeemedFallback bounds the vault's quote for the shares by what the relayer
// actually has unheld, for receipts without a Withdraw event. The ledger is locked.
func (e *Executor) redeemedFallback(ctx context.Context, rec *models.Record) (*big.Int, error) {
	shares, err := parseAmount("amountShares", rec.AmountShares)
	if err != nil {
		return nil, err
	}
	out, err := e.chains.Lisk.ReadContract(ctx, chainclient.Call{
		To:     e.cfg.VaultAddress,
		ABI:    vaultABI,
		Method: "convertToAssets",
		Args:   []interface{}{shares},
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &models.TimeoutError{Op: "convertToAssets returned no values"}
	}
	quoted, ok := out[0].(*big.Int)
	if !ok {
		return nil, models.NewValidationError("convertToAssets returned %T", out[0])
	}
	available, err := e.availableLocked(ctx, rec.RefID)
	if err != nil {
		return nil, err
	}
	switch {
	case available.Sign() <= 0:
		return new(big.Int), nil
	case available.Cmp(quoted) < 0:
		e.logger.NoticeWithChain(LiskChainID, "Intent %s: vault quoted %s for the redeem, %s arrived", rec.RefID, quoted, available)
		return available, nil
	}
	return quoted, nil
}

func (e *Executor) bridgeOutLeg(dstChainID int64) leg {
	dst, _ := e.chains.destination(dstChainID)
	return leg{
		name:      "bridge out",
		chain:     e.chains.Lisk,
		state:     models.StatusBridging,
		next:      models.StatusSuccess,
		hashField: models.FieldFromTxHash,
		expires:   true,
		moves:     true,
		submit: func(ctx context.Context, rec *models.Record) (common.Hash, error) {
			amount, err := parseAmount("bridged amount", rec.BridgedAmount)
			if err != nil {
				return common.Hash{}, err
			}
			minOut, err := parseAmount("minAmountOut", rec.MinAmountOut)
			if err != nil {
				return common.Hash{}, err
			}
			if err := e.ensureAllowance(ctx, rec, e.chains.Lisk, e.cfg.USDT0Address, e.cfg.BridgeAdapterAddress, amount); err != nil {
				return common.Hash{}, err
			}
			return e.chains.Lisk.WriteContract(ctx, chainclient.Call{
				To:     e.cfg.BridgeAdapterAddress,
				ABI:    bridgeAdapterABI,
				Method: "bridge",
				Args: []interface{}{
					e.cfg.USDT0Address,
					amount,
					big.NewInt(rec.DstChainID),
					common.HexToAddress(rec.User),
					common.HexToAddress(rec.DstToken),
					minOut,
				},
			})
		},
		settle: func(_ context.Context, rec *models.Record, _ *types.Receipt) (models.Patch, error) {
			e.ledger.release(rec.RefID)
			return nil, nil
		},
		afterReceipt: func(ctx context.Context, rec *models.Record, _ *types.Receipt) (models.Patch, error) {
			if dst == nil {
				return nil, models.NewValidationError("destination chain %d is not supported", dstChainID)
			}
			baseline := new(big.Int)
			if rec.BaselineBalance != "" {
				var err error
				if baseline, err = parseAmount("baseline balance", rec.BaselineBalance); err != nil {
					return nil, err
				}
			}
			delta, err := bridgewatch.WaitLanded(ctx, dst, e.cfg.BridgeWatch, bridgewatch.Target{
				Token:    common.HexToAddress(rec.DstToken),
				Account:  common.HexToAddress(rec.User),
				Baseline: baseline,
			}, e.logger)
			if err != nil {
				return nil, err
			}
			return models.Patch{models.FieldAmountOut: delta.String()}, nil
		},
	}
}
