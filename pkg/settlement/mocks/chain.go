// Package mocks provides an in-memory chain for settlement tests.
package mocks

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/superyldr/relayer/pkg/chainclient"
	"github.com/superyldr/relayer/pkg/models"
)

type balanceKey struct {
	token common.Address
	owner common.Address
}

// MockChain records writes and serves balances, allowances and view calls from memory
type MockChain struct {
	ChainID int
	From    common.Address

	// Reads answers view calls by method name
	Reads map[string][]interface{}
	// ReadErrs fails view calls by method name
	ReadErrs map[string]error
	// WriteErrs rejects submissions by method name
	WriteErrs map[string]error
	// Reverts makes the receipt of a method's transaction report a revert
	Reverts map[string]bool
	// ReceiptTimeouts makes the receipt wait of a method's transaction time out
	ReceiptTimeouts map[string]bool
	// Logs are attached to the receipt of a method's transaction
	Logs map[string][]*types.Log
	// OnWrite runs after every accepted write, with the lock released
	OnWrite func(call chainclient.Call)
	// Open is reported by CircuitOpen
	Open bool

	mu         sync.Mutex
	balances   map[balanceKey]*big.Int
	allowances map[balanceKey]*big.Int
	writes     []chainclient.Call
	txMethods  map[common.Hash]string
	nonce      uint64
}

// NewMockChain creates an empty chain whose relayer account is from
func NewMockChain(chainID int, from common.Address) *MockChain {
	return &MockChain{
		ChainID:         chainID,
		From:            from,
		Reads:           make(map[string][]interface{}),
		ReadErrs:        make(map[string]error),
		WriteErrs:       make(map[string]error),
		Reverts:         make(map[string]bool),
		ReceiptTimeouts: make(map[string]bool),
		Logs:            make(map[string][]*types.Log),
		balances:        make(map[balanceKey]*big.Int),
		allowances:      make(map[balanceKey]*big.Int),
		txMethods:       make(map[common.Hash]string),
	}
}

func (m *MockChain) ID() int {
	return m.ChainID
}

func (m *MockChain) Address() common.Address {
	return m.From
}

func (m *MockChain) CircuitOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Open
}

// SetBalance sets the token balance of owner
func (m *MockChain) SetBalance(token, owner common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[balanceKey{token, owner}] = new(big.Int).Set(amount)
}

// AddBalance credits owner with amount
func (m *MockChain) AddBalance(token, owner common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.balanceLocked(token, owner)
	m.balances[balanceKey{token, owner}] = new(big.Int).Add(current, amount)
}

// SetAllowance sets the relayer's allowance of token for spender
func (m *MockChain) SetAllowance(token, spender common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[balanceKey{token, spender}] = new(big.Int).Set(amount)
}

// Writes returns the submitted calls in order
func (m *MockChain) Writes() []chainclient.Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chainclient.Call, len(m.writes))
	copy(out, m.writes)
	return out
}

// WriteMethods returns the method names of the submitted calls in order
func (m *MockChain) WriteMethods() []string {
	calls := m.Writes()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Method
	}
	return out
}

func (m *MockChain) ReadContract(_ context.Context, call chainclient.Call) ([]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ReadErrs[call.Method]; err != nil {
		return nil, err
	}
	out, ok := m.Reads[call.Method]
	if !ok {
		return nil, fmt.Errorf("no mocked result for %s", call.Method)
	}
	return out, nil
}

func (m *MockChain) WriteContract(_ context.Context, call chainclient.Call) (common.Hash, error) {
	m.mu.Lock()
	if err := m.WriteErrs[call.Method]; err != nil {
		m.mu.Unlock()
		return common.Hash{}, err
	}
	m.nonce++
	hash := crypto.Keccak256Hash(big.NewInt(int64(m.ChainID)).Bytes(), new(big.Int).SetUint64(m.nonce).Bytes())
	m.txMethods[hash] = call.Method
	m.writes = append(m.writes, call)

	if call.Method == "approve" && len(call.Args) == 2 {
		spender, _ := call.Args[0].(common.Address)
		amount, _ := call.Args[1].(*big.Int)
		if amount != nil {
			m.allowances[balanceKey{call.To, spender}] = new(big.Int).Set(amount)
		}
	}
	onWrite := m.OnWrite
	m.mu.Unlock()

	if onWrite != nil {
		onWrite(call)
	}
	return hash, nil
}

func (m *MockChain) WaitForReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	method, ok := m.txMethods[hash]
	if !ok {
		// a transaction from an earlier run
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash}, nil
	}
	if m.ReceiptTimeouts[method] {
		return nil, &models.TimeoutError{Op: "receipt for " + hash.Hex()}
	}
	if m.Reverts[method] {
		return &types.Receipt{Status: types.ReceiptStatusFailed, TxHash: hash},
			&chainclient.RevertError{Method: method, Reason: "mock revert", Err: errors.New("execution reverted")}
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash, Logs: m.Logs[method]}, nil
}

func (m *MockChain) BalanceOf(_ context.Context, token, owner common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ReadErrs["balanceOf"]; err != nil {
		return nil, err
	}
	return new(big.Int).Set(m.balanceLocked(token, owner)), nil
}

func (m *MockChain) Allowance(_ context.Context, token, _, spender common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.allowances[balanceKey{token, spender}]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (m *MockChain) balanceLocked(token, owner common.Address) *big.Int {
	if v, ok := m.balances[balanceKey{token, owner}]; ok {
		return v
	}
	return new(big.Int)
}
