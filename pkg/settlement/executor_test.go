package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superyldr/relayer/pkg/advancer"
	"github.com/superyldr/relayer/pkg/chainclient"
	"github.com/superyldr/relayer/pkg/logger"
	"github.com/superyldr/relayer/pkg/models"
)

func TestDepositHappyPath(t *testing.T) {
	h := newHarness(t)
	h.create(t, h.depositRecord(t, time.Now().Add(time.Hour)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.executor.Settle(ctx, depositRefID) }()

	require.Eventually(t, func() bool {
		return h.status(t, depositRefID).Status == models.StatusWaitingRoute
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.executor.RecordRouteProgress(ctx, depositRefID, RouteProgress{
		FromTxHash:     "0x1234",
		ToTokenAddress: usdt0Addr.Hex(),
	}))
	h.lisk.SetBalance(usdt0Addr, relayerAddr, amount(1000000))

	require.NoError(t, <-done)

	assert.Equal(t, []models.Status{
		models.StatusProcessing,
		models.StatusWaitingRoute,
		models.StatusBridgeInFlight,
		models.StatusBridged,
		models.StatusDepositing,
		models.StatusDeposited,
		models.StatusMinting,
		models.StatusMinted,
	}, h.store.Transitions())

	rec := h.status(t, depositRefID)
	assert.Equal(t, "1000000", rec.BridgedAmount)
	assert.Equal(t, "0", rec.BaselineBalance)
	assert.Equal(t, "0x1234", rec.FromTxHash)
	assert.NotEmpty(t, rec.DepositTxHash)
	assert.NotEmpty(t, rec.MintTxHash)

	assert.Equal(t, []string{"approve", "deposit"}, h.lisk.WriteMethods())
	deposit := h.lisk.Writes()[1]
	assert.Equal(t, vaultAddr, deposit.To)
	assert.Equal(t, []interface{}{amount(1000000), safeAddr}, deposit.Args)

	assert.Equal(t, []string{"recordDeposit"}, h.optimism.WriteMethods())
	assert.Equal(t, []interface{}{h.user, amount(1000000)}, h.optimism.Writes()[0].Args)
}

func TestBridgeLandingWhileWaitingForRoute(t *testing.T) {
	h := newHarness(t)
	rec := h.depositRecord(t, time.Now().Add(time.Hour))
	rec.Status = models.StatusWaitingRoute
	rec.BaselineBalance = "500"
	h.create(t, rec)
	h.lisk.SetBalance(usdt0Addr, relayerAddr, amount(1000500))

	require.NoError(t, h.executor.Settle(context.Background(), depositRefID))

	transitions := h.store.Transitions()
	require.NotEmpty(t, transitions)
	assert.Equal(t, models.StatusBridged, transitions[0])

	got := h.status(t, depositRefID)
	assert.Equal(t, "1000000", got.BridgedAmount)
	assert.Equal(t, models.StatusMinted, got.Status)
}

func TestExpiredDeadlineRejectedAtPreflight(t *testing.T) {
	h := newHarness(t)
	h.create(t, h.depositRecord(t, time.Now().Add(-time.Minute)))

	err := h.executor.Settle(context.Background(), depositRefID)
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))

	assert.Equal(t, models.StatusPending, h.status(t, depositRefID).Status)
	assert.Empty(t, h.store.Transitions())
	assert.Empty(t, h.lisk.Writes())
	assert.Empty(t, h.optimism.Writes())
}

func TestDisallowedAssetRejected(t *testing.T) {
	h := newHarness(t)
	h.lisk.Reads["assetAllowed"] = []interface{}{false}
	h.create(t, h.depositRecord(t, time.Now().Add(time.Hour)))

	err := h.executor.Settle(context.Background(), depositRefID)
	assert.True(t, models.IsValidation(err))
	assert.Contains(t, err.Error(), "asset")
	assert.Equal(t, models.StatusPending, h.status(t, depositRefID).Status)
}

func TestTamperedSignatureRejected(t *testing.T) {
	h := newHarness(t)
	rec := h.depositRecord(t, time.Now().Add(time.Hour))
	rec.Amount = "2000000"
	h.create(t, rec)

	err := h.executor.Settle(context.Background(), depositRefID)
	assert.True(t, models.IsValidation(err))
	assert.Equal(t, models.StatusPending, h.status(t, depositRefID).Status)
}

func TestRedeemRevertFailsIntent(t *testing.T) {
	h := newHarness(t)
	rec := h.withdrawRecord(t, time.Now().Add(time.Hour))
	rec.Status = models.StatusRedeeming
	rec.BurnTxHash = "0xburn"
	rec.UpdatedAt = time.Now().Add(-time.Hour)
	h.create(t, rec)
	h.lisk.Reverts["redeem"] = true

	err := h.executor.Settle(context.Background(), withdrawRefID)
	var subErr *models.ChainSubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, LiskChainID, subErr.ChainID)
	assert.True(t, chainclient.IsRevert(err))

	got := h.status(t, withdrawRefID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "revert")
	assert.NotEmpty(t, got.RedeemTxHash)

	adv := advancer.New(h.store, &logger.EmptyLogger{})
	err = adv.Advance(context.Background(), models.FlowWithdraw, withdrawRefID, models.StatusFailed, models.StatusSuccess, nil)
	var illegal *models.IllegalTransitionError
	assert.True(t, errors.As(err, &illegal))
}

func TestSubmissionRejectedFailsIntent(t *testing.T) {
	h := newHarness(t)
	h.optimism.WriteErrs["recordWithdrawal"] = errors.New("insufficient funds for gas * price + value")
	h.create(t, h.withdrawRecord(t, time.Now().Add(time.Hour)))

	err := h.executor.Settle(context.Background(), withdrawRefID)
	var subErr *models.ChainSubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, OptimismChainID, subErr.ChainID)

	got := h.status(t, withdrawRefID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "insufficient funds")
	assert.Equal(t, []models.Status{models.StatusProcessing, models.StatusFailed}, h.store.Transitions())
}

func TestResumeWaitsOnCheckpointedTransaction(t *testing.T) {
	h := newHarness(t)
	rec := h.depositRecord(t, time.Now().Add(time.Hour))
	rec.Status = models.StatusDepositing
	rec.BridgedAmount = "1000000"
	rec.DepositTxHash = "0x00000000000000000000000000000000000000000000000000000000000000d1"
	h.create(t, rec)

	require.NoError(t, h.executor.Settle(context.Background(), depositRefID))

	assert.Empty(t, h.lisk.Writes())
	assert.Equal(t, []string{"recordDeposit"}, h.optimism.WriteMethods())
	got := h.status(t, depositRefID)
	assert.Equal(t, models.StatusMinted, got.Status)
	assert.Equal(t, rec.DepositTxHash, got.DepositTxHash)
}

func TestFreshLegWithoutHashIsLeftAlone(t *testing.T) {
	h := newHarness(t)
	rec := h.depositRecord(t, time.Now().Add(time.Hour))
	rec.Status = models.StatusDepositing
	rec.BridgedAmount = "1000000"
	h.create(t, rec)

	require.NoError(t, h.executor.Settle(context.Background(), depositRefID))

	assert.Empty(t, h.lisk.Writes())
	assert.Equal(t, models.StatusDepositing, h.status(t, depositRefID).Status)
}

func TestStaleLegWithoutHashIsResubmitted(t *testing.T) {
	h := newHarness(t)
	rec := h.depositRecord(t, time.Now().Add(time.Hour))
	rec.Status = models.StatusMinting
	rec.BridgedAmount = "1000000"
	rec.UpdatedAt = time.Now().Add(-10 * time.Minute)
	h.create(t, rec)

	require.NoError(t, h.executor.Settle(context.Background(), depositRefID))

	assert.Equal(t, []string{"recordDeposit"}, h.optimism.WriteMethods())
	assert.Equal(t, models.StatusMinted, h.status(t, depositRefID).Status)
}

func TestReceiptTimeoutStallsIntent(t *testing.T) {
	h := newHarness(t)
	rec := h.depositRecord(t, time.Now().Add(time.Hour))
	rec.Status = models.StatusDeposited
	rec.BridgedAmount = "1000000"
	h.create(t, rec)
	h.optimism.ReceiptTimeouts["recordDeposit"] = true

	err := h.executor.Settle(context.Background(), depositRefID)
	assert.True(t, models.IsTimeout(err))

	got := h.status(t, depositRefID)
	assert.Equal(t, models.StatusMinting, got.Status)
	assert.NotEmpty(t, got.MintTxHash)
	assert.Empty(t, got.Error)
}

func TestOpenCircuitHoldsLeg(t *testing.T) {
	h := newHarness(t)
	rec := h.depositRecord(t, time.Now().Add(time.Hour))
	rec.Status = models.StatusDeposited
	rec.BridgedAmount = "1000000"
	h.create(t, rec)
	h.optimism.Open = true

	err := h.executor.Settle(context.Background(), depositRefID)
	assert.True(t, models.IsTimeout(err))
	assert.Empty(t, h.optimism.Writes())
	assert.Equal(t, models.StatusMinting, h.status(t, depositRefID).Status)
}

func TestAllowanceResetBeforeIncrease(t *testing.T) {
	h := newHarness(t)
	rec := h.depositRecord(t, time.Now().Add(time.Hour))
	rec.Status = models.StatusBridged
	rec.BridgedAmount = "1000000"
	h.create(t, rec)
	h.lisk.SetBalance(usdt0Addr, relayerAddr, amount(1000000))
	h.lisk.SetAllowance(usdt0Addr, vaultAddr, amount(10))

	require.NoError(t, h.executor.Settle(context.Background(), depositRefID))

	writes := h.lisk.Writes()
	require.Len(t, writes, 3)
	assert.Equal(t, "approve", writes[0].Method)
	assert.Equal(t, amount(0), writes[0].Args[1])
	assert.Equal(t, "approve", writes[1].Method)
	assert.Equal(t, amount(1000000), writes[1].Args[1])
	assert.Equal(t, "deposit", writes[2].Method)
}

func TestUnfundedDepositStalls(t *testing.T) {
	h := newHarness(t)
	rec := h.depositRecord(t, time.Now().Add(time.Hour))
	rec.Status = models.StatusBridged
	rec.BridgedAmount = "1000000"
	h.create(t, rec)

	err := h.executor.Settle(context.Background(), depositRefID)
	assert.True(t, models.IsTimeout(err))
	assert.Equal(t, models.StatusBridged, h.status(t, depositRefID).Status)
	assert.Empty(t, h.lisk.Writes())
}

func TestWithdrawHappyPath(t *testing.T) {
	h := newHarness(t)
	h.create(t, h.withdrawRecord(t, time.Now().Add(time.Hour)))
	h.lisk.Reads["convertToAssets"] = []interface{}{amount(1000000)}
	h.lisk.OnWrite = func(call chainclient.Call) {
		switch call.Method {
		case "redeem":
			h.lisk.AddBalance(usdt0Addr, relayerAddr, amount(1000000))
		case "bridge":
			h.base.AddBalance(baseUSDCAddr, h.user, amount(999000))
		}
	}

	require.NoError(t, h.executor.Settle(context.Background(), withdrawRefID))

	assert.Equal(t, []models.Status{
		models.StatusProcessing,
		models.StatusBurned,
		models.StatusRedeeming,
		models.StatusRedeemed,
		models.StatusBridging,
		models.StatusSuccess,
	}, h.store.Transitions())

	got := h.status(t, withdrawRefID)
	assert.Equal(t, "1000000", got.BridgedAmount)
	assert.Equal(t, "999000", got.AmountOut)
	assert.Equal(t, int64(LiskChainID), got.FromChainID)
	assert.Equal(t, int64(baseChainID), got.ToChainID)
	assert.NotEmpty(t, got.BurnTxHash)
	assert.NotEmpty(t, got.RedeemTxHash)
	assert.NotEmpty(t, got.FromTxHash)

	assert.Equal(t, []string{"recordWithdrawal"}, h.optimism.WriteMethods())
	assert.Equal(t, []string{"redeem", "approve", "bridge"}, h.lisk.WriteMethods())
	bridge := h.lisk.Writes()[2]
	assert.Equal(t, adapterAddr, bridge.To)
	assert.Equal(t, h.user, bridge.Args[3])
}

func TestWithdrawToUnknownChainRejected(t *testing.T) {
	h := newHarness(t)
	h.executor.chains.Destinations = nil
	h.create(t, h.withdrawRecord(t, time.Now().Add(time.Hour)))

	err := h.executor.Settle(context.Background(), withdrawRefID)
	assert.True(t, models.IsValidation(err))
	assert.Equal(t, models.StatusPending, h.status(t, withdrawRefID).Status)
}

func TestSettleTerminalIsNoop(t *testing.T) {
	h := newHarness(t)
	rec := h.depositRecord(t, time.Now().Add(time.Hour))
	rec.Status = models.StatusMinted
	h.create(t, rec)

	require.NoError(t, h.executor.Settle(context.Background(), depositRefID))
	assert.Empty(t, h.store.Transitions())
}

func TestSettleMissingIntent(t *testing.T) {
	h := newHarness(t)
	err := h.executor.Settle(context.Background(), depositRefID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRecordRouteProgress(t *testing.T) {
	t.Run("fills only missing fields", func(t *testing.T) {
		h := newHarness(t)
		rec := h.depositRecord(t, time.Now().Add(time.Hour))
		rec.Status = models.StatusBridged
		rec.FromTxHash = "0xfirst"
		h.create(t, rec)

		require.NoError(t, h.executor.RecordRouteProgress(context.Background(), depositRefID, RouteProgress{
			FromTxHash:     "0xsecond",
			ToTokenAddress: usdt0Addr.Hex(),
		}))

		got := h.status(t, depositRefID)
		assert.Equal(t, models.StatusBridged, got.Status)
		assert.Equal(t, "0xfirst", got.FromTxHash)
		assert.Equal(t, usdt0Addr.Hex(), got.ToTokenAddress)
	})

	t.Run("moves processing to bridge in flight", func(t *testing.T) {
		h := newHarness(t)
		rec := h.depositRecord(t, time.Now().Add(time.Hour))
		rec.Status = models.StatusProcessing
		h.create(t, rec)

		require.NoError(t, h.executor.RecordRouteProgress(context.Background(), depositRefID, RouteProgress{FromTxHash: "0xabc"}))
		assert.Equal(t, models.StatusBridgeInFlight, h.status(t, depositRefID).Status)
	})

	t.Run("terminal intent untouched", func(t *testing.T) {
		h := newHarness(t)
		rec := h.depositRecord(t, time.Now().Add(time.Hour))
		rec.Status = models.StatusMinted
		h.create(t, rec)

		require.NoError(t, h.executor.RecordRouteProgress(context.Background(), depositRefID, RouteProgress{FromTxHash: "0xabc"}))
		assert.Empty(t, h.status(t, depositRefID).FromTxHash)
	})

	t.Run("withdraw rejected", func(t *testing.T) {
		h := newHarness(t)
		h.create(t, h.withdrawRecord(t, time.Now().Add(time.Hour)))

		err := h.executor.RecordRouteProgress(context.Background(), withdrawRefID, RouteProgress{FromTxHash: "0xabc"})
		assert.True(t, models.IsValidation(err))
	})
}

func TestApproveReceiptTimeoutStallsLeg(t *testing.T) {
	h := newHarness(t)
	rec := h.depositRecord(t, time.Now().Add(time.Hour))
	rec.Status = models.StatusBridged
	rec.BridgedAmount = "1000000"
	h.create(t, rec)
	h.lisk.SetBalance(usdt0Addr, relayerAddr, amount(1000000))
	h.lisk.ReceiptTimeouts["approve"] = true

	err := h.executor.Settle(context.Background(), depositRefID)
	assert.True(t, models.IsTimeout(err))

	got := h.status(t, depositRefID)
	assert.Equal(t, models.StatusDepositing, got.Status)
	assert.Empty(t, got.Error)
	assert.Empty(t, got.DepositTxHash)
	assert.Equal(t, []string{"approve"}, h.lisk.WriteMethods())
}

func TestApprovalKeepsLegFresh(t *testing.T) {
	h := newHarness(t)
	rec := h.depositRecord(t, time.Now().Add(time.Hour))
	rec.Status = models.StatusDepositing
	rec.BridgedAmount = "1000000"
	rec.UpdatedAt = time.Now().Add(-10 * time.Minute)
	h.create(t, rec)
	h.lisk.SetBalance(usdt0Addr, relayerAddr, amount(1000000))
	h.lisk.WriteErrs["deposit"] = &models.TimeoutError{Op: "send deposit"}

	err := h.executor.Settle(context.Background(), depositRefID)
	assert.True(t, models.IsTimeout(err))

	got := h.status(t, depositRefID)
	assert.Equal(t, models.StatusDepositing, got.Status)
	assert.WithinDuration(t, time.Now(), got.UpdatedAt, time.Minute)

	// the approval moved updated_at, so the leg is not yet up for resubmission
	require.NoError(t, h.executor.Settle(context.Background(), depositRefID))
	assert.Equal(t, []string{"approve"}, h.lisk.WriteMethods())
}

func TestStaleLegPastDeadlineFails(t *testing.T) {
	h := newHarness(t)
	rec := h.depositRecord(t, time.Now().Add(-time.Minute))
	rec.Status = models.StatusDepositing
	rec.BridgedAmount = "1000000"
	rec.UpdatedAt = time.Now().Add(-10 * time.Minute)
	h.create(t, rec)
	h.lisk.SetBalance(usdt0Addr, relayerAddr, amount(1000000))

	err := h.executor.Settle(context.Background(), depositRefID)
	assert.True(t, models.IsValidation(err))

	got := h.status(t, depositRefID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "deadline")
	assert.Empty(t, h.lisk.Writes())
}

func TestCheckpointedLegPastDeadlineCompletes(t *testing.T) {
	h := newHarness(t)
	rec := h.depositRecord(t, time.Now().Add(-time.Minute))
	rec.Status = models.StatusDepositing
	rec.BridgedAmount = "1000000"
	rec.DepositTxHash = "0x00000000000000000000000000000000000000000000000000000000000000d1"
	h.create(t, rec)

	require.NoError(t, h.executor.Settle(context.Background(), depositRefID))
	assert.Empty(t, h.lisk.Writes())
	assert.Equal(t, models.StatusMinted, h.status(t, depositRefID).Status)
}
