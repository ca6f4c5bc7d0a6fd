package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/superyldr/relayer/pkg/blockchain"
	"github.com/superyldr/relayer/pkg/circuitbreaker"
	"github.com/superyldr/relayer/pkg/logger"
)

// Backend is the node connection a Client drives. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Config holds the per-chain settings of a Client
type Config struct {
	ChainID        int
	RPCURL         string
	PrivateKey     string
	GasMultiplier  float64
	MaxGasPrice    *big.Int
	ReceiptTimeout time.Duration
	PollInterval   time.Duration

	BreakerEnabled   bool
	BreakerThreshold int
	BreakerWindow    time.Duration
	BreakerReset     time.Duration
}

// Client contains the connection and signer for a specific blockchain
type Client struct {
	ChainID int

	backend Backend
	auth    *bind.TransactOpts
	nonces  *blockchain.NonceManager
	breaker *circuitbreaker.CircuitBreaker
	logger  logger.Logger

	gasMultiplier  float64
	maxGasPrice    *big.Int
	receiptTimeout time.Duration
	pollInterval   time.Duration

	mu              sync.RWMutex
	currentGasPrice *big.Int
}

// New dials the RPC endpoint and creates a client
func New(ctx context.Context, cfg Config, nonces *blockchain.NonceManager, l logger.Logger) (*Client, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain %d: %v", cfg.ChainID, err)
	}
	c, err := NewWithBackend(ctx, cfg, client, nonces, l)
	if err != nil {
		client.Close()
		return nil, err
	}
	return c, nil
}

// NewWithBackend creates a client over an existing backend. Without a private key
// the client is read-only.
func NewWithBackend(ctx context.Context, cfg Config, backend Backend, nonces *blockchain.NonceManager, l logger.Logger) (*Client, error) {
	if cfg.GasMultiplier <= 0 {
		cfg.GasMultiplier = 1.1
	}
	if cfg.ReceiptTimeout == 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}
	if nonces == nil {
		nonces = blockchain.NewNonceManager(l)
	}

	c := &Client{
		ChainID:        cfg.ChainID,
		backend:        backend,
		nonces:         nonces,
		logger:         l,
		gasMultiplier:  cfg.GasMultiplier,
		maxGasPrice:    cfg.MaxGasPrice,
		receiptTimeout: cfg.ReceiptTimeout,
		pollInterval:   cfg.PollInterval,
		breaker: circuitbreaker.NewCircuitBreaker(cfg.ChainID, cfg.BreakerEnabled, cfg.BreakerThreshold,
			cfg.BreakerWindow, cfg.BreakerReset, l),
	}

	if cfg.PrivateKey != "" {
		auth, err := createAuthenticator(ctx, backend, cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create authenticator: %v", err)
		}
		c.auth = auth
	}
	return c, nil
}

// ID returns the chain id
func (c *Client) ID() int {
	return c.ChainID
}

// Address returns the relayer account, or the zero address for a read-only client
func (c *Client) Address() common.Address {
	if c.auth == nil {
		return common.Address{}
	}
	return c.auth.From
}

// Breaker returns the submission circuit breaker of the chain
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

// CircuitOpen reports whether submissions on this chain are paused
func (c *Client) CircuitOpen() bool {
	return c.breaker.IsOpen()
}

// UpdateGasPrice refreshes the gas price from the node, applying the multiplier
// and the configured ceiling
func (c *Client) UpdateGasPrice(ctx context.Context) (*big.Int, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gasPrice, err := c.backend.SuggestGasPrice(timeoutCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %v", err)
	}

	// Apply gas multiplier (e.g. 1.1 = 10% buffer)
	multiplied := new(big.Float).Mul(new(big.Float).SetInt(gasPrice), big.NewFloat(c.gasMultiplier))
	finalGasPrice := new(big.Int)
	multiplied.Int(finalGasPrice)

	if c.maxGasPrice != nil && c.maxGasPrice.Sign() > 0 && finalGasPrice.Cmp(c.maxGasPrice) > 0 {
		c.logger.NoticeWithChain(c.ChainID, "Gas price %s above ceiling, capping at %s", finalGasPrice, c.maxGasPrice)
		finalGasPrice = new(big.Int).Set(c.maxGasPrice)
	}

	c.mu.Lock()
	c.currentGasPrice = finalGasPrice
	c.mu.Unlock()

	return finalGasPrice, nil
}

// CurrentGasPrice returns the last gas price seen by UpdateGasPrice
func (c *Client) CurrentGasPrice() *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.currentGasPrice == nil {
		return nil
	}
	return new(big.Int).Set(c.currentGasPrice)
}

// GetLatestBlockNumber gets the latest block number from the chain
func (c *Client) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.backend.BlockNumber(ctx)
}

// Close releases the underlying connection
func (c *Client) Close() {
	if closer, ok := c.backend.(interface{ Close() }); ok {
		closer.Close()
	}
}

// Helper function to create authenticator
func createAuthenticator(ctx context.Context, backend Backend, privateKeyHex string) (*bind.TransactOpts, error) {
	privateKey, err := crypto.HexToECDSA(trimHexPrefix(privateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %v", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %v", err)
	}

	return auth, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
