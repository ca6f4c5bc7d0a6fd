package blockchain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/superyldr/relayer/pkg/logger"
)

// TransactionStatus represents the status of a transaction
type TransactionStatus int

const (
	// TxPending indicates transaction is pending
	TxPending TransactionStatus = iota
	// TxConfirmed indicates transaction is confirmed
	TxConfirmed
	// TxFailed indicates transaction has failed
	TxFailed
)

// TransactionRecord tracks details about a transaction
type TransactionRecord struct {
	Hash      common.Hash
	Nonce     uint64
	CreatedAt time.Time
	UpdatedAt time.Time
	Status    TransactionStatus
}

// NonceReader fetches the pending nonce of an account
type NonceReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager hands out nonces for the relayer account, one sequence per chain
type NonceManager struct {
	chains map[int]*chainNonceData
	mu     sync.RWMutex

	// resync with the node after this long
	syncInterval time.Duration
	logger       logger.Logger
}

// chainNonceData holds nonce data for a specific chain
type chainNonceData struct {
	currentNonce uint64
	pendingTxs   map[uint64]*TransactionRecord
	lastSync     time.Time
	mu           sync.Mutex
}

// NewNonceManager creates a new nonce manager
func NewNonceManager(l logger.Logger) *NonceManager {
	return &NonceManager{
		chains:       make(map[int]*chainNonceData),
		syncInterval: 5 * time.Minute,
		logger:       l,
	}
}

// chain returns the data of a chain, initializing it on first use
func (nm *NonceManager) chain(chainID int) *chainNonceData {
	nm.mu.RLock()
	data, exists := nm.chains[chainID]
	nm.mu.RUnlock()
	if exists {
		return data
	}

	nm.mu.Lock()
	defer nm.mu.Unlock()
	if data, exists = nm.chains[chainID]; !exists {
		data = &chainNonceData{pendingTxs: make(map[uint64]*TransactionRecord)}
		nm.chains[chainID] = data
	}
	return data
}

// GetNonce reserves and returns the next available nonce
func (nm *NonceManager) GetNonce(ctx context.Context, chainID int, client NonceReader, address common.Address) (uint64, error) {
	chainData := nm.chain(chainID)

	chainData.mu.Lock()
	defer chainData.mu.Unlock()

	if chainData.lastSync.IsZero() || time.Since(chainData.lastSync) > nm.syncInterval {
		nonce, err := client.PendingNonceAt(ctx, address)
		if err != nil {
			return 0, fmt.Errorf("failed to get pending nonce: %v", err)
		}
		if nonce > chainData.currentNonce {
			nm.logger.DebugWithChain(chainID, "Updating nonce: %d -> %d", chainData.currentNonce, nonce)
			chainData.currentNonce = nonce
		}
		chainData.lastSync = time.Now()
	}

	nonce := chainData.currentNonce
	chainData.currentNonce++
	return nonce, nil
}

// ReleaseNonce hands back a nonce whose transaction never reached the node.
// Only the most recently allocated nonce can be released.
func (nm *NonceManager) ReleaseNonce(chainID int, nonce uint64) {
	chainData := nm.chain(chainID)

	chainData.mu.Lock()
	defer chainData.mu.Unlock()

	if chainData.currentNonce == nonce+1 {
		chainData.currentNonce = nonce
		nm.logger.DebugWithChain(chainID, "Released nonce %d", nonce)
	}
}

// TrackTransaction records a submitted transaction
func (nm *NonceManager) TrackTransaction(chainID int, txHash common.Hash, nonce uint64) {
	chainData := nm.chain(chainID)

	chainData.mu.Lock()
	defer chainData.mu.Unlock()

	now := time.Now()
	chainData.pendingTxs[nonce] = &TransactionRecord{
		Hash:      txHash,
		Nonce:     nonce,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    TxPending,
	}
	nm.logger.DebugWithChain(chainID, "Tracking transaction with nonce %d: %s", nonce, txHash.Hex())
}

// Settle drops a mined transaction from the pending set, whatever its receipt status.
// A mined transaction always consumes its nonce.
func (nm *NonceManager) Settle(chainID int, txHash common.Hash) bool {
	chainData := nm.chain(chainID)

	chainData.mu.Lock()
	defer chainData.mu.Unlock()

	for nonce, tx := range chainData.pendingTxs {
		if tx.Hash == txHash {
			delete(chainData.pendingTxs, nonce)
			return true
		}
	}
	return false
}

// SyncWithBlockchain synchronizes nonce state with the node. With nothing pending
// locally the node's view wins outright, otherwise the counter only moves forward.
func (nm *NonceManager) SyncWithBlockchain(ctx context.Context, chainID int, client NonceReader, address common.Address) error {
	chainData := nm.chain(chainID)

	chainData.mu.Lock()
	defer chainData.mu.Unlock()

	nonce, err := client.PendingNonceAt(ctx, address)
	if err != nil {
		return fmt.Errorf("failed to get pending nonce: %v", err)
	}

	nm.logger.DebugWithChain(chainID, "Node nonce: %d, our nonce: %d", nonce, chainData.currentNonce)

	if nonce > chainData.currentNonce || len(chainData.pendingTxs) == 0 {
		chainData.currentNonce = nonce
	}
	chainData.lastSync = time.Now()
	return nil
}

// GetPendingTransactionsCount returns the number of pending transactions for a chain
func (nm *NonceManager) GetPendingTransactionsCount(chainID int) int {
	chainData := nm.chain(chainID)

	chainData.mu.Lock()
	defer chainData.mu.Unlock()

	return len(chainData.pendingTxs)
}
