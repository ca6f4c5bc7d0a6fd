package settlement

import (
	"context"
	"math/big"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/superyldr/relayer/pkg/advancer"
	"github.com/superyldr/relayer/pkg/bridgewatch"
	"github.com/superyldr/relayer/pkg/intent"
	"github.com/superyldr/relayer/pkg/logger"
	"github.com/superyldr/relayer/pkg/models"
	"github.com/superyldr/relayer/pkg/settlement/mocks"
	"github.com/superyldr/relayer/pkg/store"
)

const (
	baseChainID   = 8453
	depositRefID  = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	withdrawRefID = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

var (
	relayerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	usdt0Addr     = common.HexToAddress("0x43F2376D5D03553aE72F4A8093bbe9de4336EB08")
	vaultAddr     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	executorAddr  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	rewardsAddr   = common.HexToAddress("0x00000000000000000000000000000000000000b3")
	safeAddr      = common.HexToAddress("0x00000000000000000000000000000000000000b4")
	adapterAddr   = common.HexToAddress("0x00000000000000000000000000000000000000b5")
	baseUSDCAddr  = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	adapterKeyHex = crypto.Keccak256Hash([]byte("morpho-blue:lisk:USDT0")).Hex()
)

// recordingStore remembers every status change that went through
type recordingStore struct {
	*store.MemoryStore

	mu          sync.Mutex
	transitions []models.Status
}

func (s *recordingStore) ConditionalUpdate(ctx context.Context, refID string, expected, next models.Status, patch models.Patch, now time.Time) (int64, error) {
	n, err := s.MemoryStore.ConditionalUpdate(ctx, refID, expected, next, patch, now)
	if err == nil && n == 1 && expected != next {
		s.mu.Lock()
		s.transitions = append(s.transitions, next)
		s.mu.Unlock()
	}
	return n, err
}

func (s *recordingStore) Transitions() []models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Status(nil), s.transitions...)
}

type harness struct {
	store    *recordingStore
	executor *Executor
	lisk     *mocks.MockChain
	optimism *mocks.MockChain
	base     *mocks.MockChain
	verifier *intent.Verifier
	key      []byte
	user     common.Address
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	h := &harness{
		store:    &recordingStore{MemoryStore: store.NewMemoryStore()},
		lisk:     mocks.NewMockChain(LiskChainID, relayerAddr),
		optimism: mocks.NewMockChain(OptimismChainID, relayerAddr),
		base:     mocks.NewMockChain(baseChainID, relayerAddr),
		verifier: intent.NewVerifier("", ""),
		key:      crypto.FromECDSA(key),
		user:     crypto.PubkeyToAddress(key.PublicKey),
	}
	h.lisk.Reads["adapterAllowed"] = []interface{}{true}
	h.lisk.Reads["assetAllowed"] = []interface{}{true}

	l := &logger.EmptyLogger{}
	h.executor = NewExecutor(h.store, advancer.New(h.store, l), h.verifier, Chains{
		Lisk:         h.lisk,
		Optimism:     h.optimism,
		Destinations: map[int64]ChainRPC{baseChainID: h.base},
	}, Config{
		ExecutorAddress:      executorAddr,
		VaultAddress:         vaultAddr,
		USDT0Address:         usdt0Addr,
		RewardsVaultAddress:  rewardsAddr,
		SafeAddress:          safeAddr,
		BridgeAdapterAddress: adapterAddr,
		BridgeWatch: bridgewatch.Config{
			InitialDelay: 10 * time.Millisecond,
			Interval:     10 * time.Millisecond,
			Timeout:      2 * time.Second,
		},
		RedeemBalanceTimeout:  time.Second,
		RedeemBalanceInterval: 10 * time.Millisecond,
	}, l)
	return h
}

func (h *harness) depositRecord(t *testing.T, deadline time.Time) *models.Record {
	t.Helper()
	d, err := intent.ParseDeposit(intent.DepositRequest{
		User:       h.user.Hex(),
		Key:        adapterKeyHex,
		Asset:      usdt0Addr.Hex(),
		Amount:     "1000000",
		MinAmount:  "990000",
		Deadline:   strconv.FormatInt(deadline.Unix(), 10),
		Nonce:      "1",
		RefID:      depositRefID,
		DstChainID: strconv.Itoa(LiskChainID),
	})
	require.NoError(t, err)
	sig, err := intent.Sign(d.TypedData(h.verifier.Domain(baseChainID)), h.key)
	require.NoError(t, err)
	return d.Record(baseChainID, sig)
}

func (h *harness) withdrawRecord(t *testing.T, deadline time.Time) *models.Record {
	t.Helper()
	w, err := intent.ParseWithdraw(intent.WithdrawRequest{
		User:         h.user.Hex(),
		AmountShares: "1000000",
		DstChainID:   strconv.Itoa(baseChainID),
		DstToken:     baseUSDCAddr.Hex(),
		MinAmountOut: "990000",
		Deadline:     strconv.FormatInt(deadline.Unix(), 10),
		Nonce:        "2",
		RefID:        withdrawRefID,
	})
	require.NoError(t, err)
	sig, err := intent.Sign(w.TypedData(h.verifier.Domain(OptimismChainID)), h.key)
	require.NoError(t, err)
	return w.Record(OptimismChainID, sig)
}

func (h *harness) create(t *testing.T, rec *models.Record) {
	t.Helper()
	require.NoError(t, h.store.Create(context.Background(), rec))
}

func (h *harness) status(t *testing.T, refID string) *models.Record {
	t.Helper()
	rec, err := h.store.FindByRefID(context.Background(), refID)
	require.NoError(t, err)
	return rec
}

func amount(v int64) *big.Int {
	return big.NewInt(v)
}
