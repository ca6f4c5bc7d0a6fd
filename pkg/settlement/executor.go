// Package settlement drives deposit and withdraw intents through their on-chain legs.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/superyldr/relayer/pkg/advancer"
	"github.com/superyldr/relayer/pkg/bridgewatch"
	"github.com/superyldr/relayer/pkg/chainclient"
	"github.com/superyldr/relayer/pkg/intent"
	"github.com/superyldr/relayer/pkg/logger"
	"github.com/superyldr/relayer/pkg/models"
	"github.com/superyldr/relayer/pkg/store"
)

// LiskChainID is the chain holding the vault, the executor and the relayer's USDT0
const LiskChainID = 1135

// OptimismChainID is the chain holding the receipt-token rewards vault
const OptimismChainID = 10

// maxSteps bounds one Settle call; every flow finishes well within it
const maxSteps = 32

// errInFlight ends a drive without error when another worker owns the current leg
var errInFlight = errors.New("leg in flight elsewhere")

// ChainRPC is the chain access the executor needs. *chainclient.Client implements it.
type ChainRPC interface {
	ID() int
	Address() common.Address
	ReadContract(ctx context.Context, call chainclient.Call) ([]interface{}, error)
	WriteContract(ctx context.Context, call chainclient.Call) (common.Hash, error)
	WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	CircuitOpen() bool
}

// Chains groups the chains a settlement touches
type Chains struct {
	Lisk     ChainRPC
	Optimism ChainRPC

	// withdraw destinations other than Lisk and Optimism, by chain id
	Destinations map[int64]ChainRPC
}

// destination returns the chain a withdraw pays out on
func (c Chains) destination(chainID int64) (ChainRPC, bool) {
	switch chainID {
	case LiskChainID:
		return c.Lisk, c.Lisk != nil
	case OptimismChainID:
		return c.Optimism, c.Optimism != nil
	}
	chain, ok := c.Destinations[chainID]
	return chain, ok && chain != nil
}

// Config holds the contract addresses and timings of the executor
type Config struct {
	ExecutorAddress      common.Address
	VaultAddress         common.Address
	USDT0Address         common.Address
	RewardsVaultAddress  common.Address
	SafeAddress          common.Address
	BridgeAdapterAddress common.Address

	BridgeWatch           bridgewatch.Config
	RedeemBalanceTimeout  time.Duration
	RedeemBalanceInterval time.Duration

	// a leg state with no recorded tx hash and no update for this long is resubmitted
	StaleLegAfter time.Duration
}

// Executor drives one intent at a time from its stored status to a terminal
// status. All status writes go through the advancer.
type Executor struct {
	store    store.Store
	advancer *advancer.Advancer
	verifier *intent.Verifier
	chains   Chains
	cfg      Config
	logger   logger.Logger
	ledger   *ledger
	now      func() time.Time
}

func NewExecutor(s store.Store, adv *advancer.Advancer, verifier *intent.Verifier, chains Chains, cfg Config, l logger.Logger) *Executor {
	if cfg.RedeemBalanceTimeout <= 0 {
		cfg.RedeemBalanceTimeout = 90 * time.Second
	}
	if cfg.RedeemBalanceInterval <= 0 {
		cfg.RedeemBalanceInterval = 3 * time.Second
	}
	if cfg.StaleLegAfter <= 0 {
		cfg.StaleLegAfter = 7 * time.Minute
	}
	return &Executor{
		store:    s,
		advancer: adv,
		verifier: verifier,
		chains:   chains,
		cfg:      cfg,
		logger:   l,
		ledger:   newLedger(),
		now:      time.Now,
	}
}

// Settle advances the intent as far as it can go. It is safe to call for any
// refId at any time: terminal intents return immediately, a leg another worker
// is running is left alone, and a lost transition race re-reads the status and
// continues from there.
func (e *Executor) Settle(ctx context.Context, refID string) error {
	for i := 0; i < maxSteps; i++ {
		rec, err := e.store.FindByRefID(ctx, refID)
		if err != nil {
			return err
		}
		if rec.Status.IsTerminal() {
			return nil
		}

		err = e.step(ctx, rec)
		switch {
		case err == nil:
		case models.IsConflict(err):
			e.logger.Debug("Intent %s moved underneath us: %v", refID, err)
		case errors.Is(err, errInFlight):
			e.logger.Debug("Intent %s: %s leg is in flight elsewhere", refID, rec.Status)
			return nil
		default:
			return err
		}
	}
	return fmt.Errorf("intent %s did not settle within %d steps", refID, maxSteps)
}

func (e *Executor) step(ctx context.Context, rec *models.Record) error {
	switch rec.Flow {
	case models.FlowDeposit:
		return e.depositStep(ctx, rec)
	case models.FlowWithdraw:
		return e.withdrawStep(ctx, rec)
	}
	return models.NewValidationError("unknown flow %q", rec.Flow)
}

// claim moves the intent into a leg state before the leg is submitted, so of
// several nudged workers only one submits.
func (e *Executor) claim(ctx context.Context, rec *models.Record, to models.Status, patch models.Patch) (*models.Record, error) {
	if err := e.advancer.Advance(ctx, rec.Flow, rec.RefID, rec.Status, to, patch); err != nil {
		return nil, err
	}
	claimed := rec.Clone()
	claimed.Status = to
	claimed.Apply(patch)
	claimed.UpdatedAt = e.now()
	return claimed, nil
}

func (e *Executor) checkDeadline(rec *models.Record) error {
	if rec.Deadline > 0 && e.now().Unix() > rec.Deadline {
		return models.NewValidationError("deadline %d has passed", rec.Deadline)
	}
	return nil
}

func parseAmount(name, value string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s: %q", name, value)
	}
	return v, nil
}
