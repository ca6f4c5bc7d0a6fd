package chainclient

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/superyldr/relayer/pkg/metrics"
	"github.com/superyldr/relayer/pkg/models"
)

const maxNonceAttempts = 3

var nonceRetryDelay = 1200 * time.Millisecond

// Call is a contract method invocation
type Call struct {
	To     common.Address
	ABI    abi.ABI
	Method string
	Args   []interface{}
}

// PreparedCall is a Call that passed simulation and is ready to sign
type PreparedCall struct {
	Call
	From common.Address
	Data []byte
	Gas  uint64
}

// ReadContract executes a view call against the latest block and returns the unpacked outputs
func (c *Client) ReadContract(ctx context.Context, call Call) ([]interface{}, error) {
	bound := bind.NewBoundContract(call.To, call.ABI, c.backend, c.backend, c.backend)

	var out []interface{}
	if err := bound.Call(&bind.CallOpts{Context: ctx, From: c.Address()}, &out, call.Method, call.Args...); err != nil {
		return nil, asRevert(call.Method, err)
	}
	return out, nil
}

// SimulateContract dry-runs a state-changing call as the relayer account and
// estimates its gas. A revert surfaces as *RevertError.
func (c *Client) SimulateContract(ctx context.Context, call Call) (*PreparedCall, error) {
	data, err := call.ABI.Pack(call.Method, call.Args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", call.Method, err)
	}

	msg := ethereum.CallMsg{From: c.Address(), To: &call.To, Data: data}
	if _, err := c.backend.CallContract(ctx, msg, nil); err != nil {
		return nil, asRevert(call.Method, err)
	}

	gas, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		return nil, asRevert(call.Method, err)
	}

	return &PreparedCall{
		Call: call,
		From: msg.From,
		Data: data,
		Gas:  gas * 12 / 10,
	}, nil
}

// WriteContract simulates then signs and broadcasts the call, returning the
// transaction hash once the node accepts it. Nonce errors are retried after
// resyncing with the node.
func (c *Client) WriteContract(ctx context.Context, call Call) (common.Hash, error) {
	if c.auth == nil {
		return common.Hash{}, errors.New("no signer configured")
	}

	var lastErr error
	for attempt := 1; attempt <= maxNonceAttempts; attempt++ {
		prepared, err := c.SimulateContract(ctx, call)
		if err != nil {
			c.recordFailure(err)
			return common.Hash{}, err
		}

		hash, err := c.send(ctx, prepared)
		if err == nil {
			return hash, nil
		}
		lastErr = err

		if _, errorType := ClassifyError(err); errorType != ErrorTypeNonce {
			break
		}
		c.logger.NoticeWithChain(c.ChainID, "Nonce error on %s (attempt %d/%d): %v", call.Method, attempt, maxNonceAttempts, err)

		select {
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		case <-time.After(nonceRetryDelay):
		}
		if err := c.nonces.SyncWithBlockchain(ctx, c.ChainID, c.backend, c.auth.From); err != nil {
			c.logger.ErrorWithChain(c.ChainID, "Failed to resync nonce: %v", err)
		}
	}

	c.recordFailure(lastErr)
	return common.Hash{}, lastErr
}

func (c *Client) send(ctx context.Context, prepared *PreparedCall) (common.Hash, error) {
	gasPrice := c.CurrentGasPrice()
	if gasPrice == nil {
		var err error
		if gasPrice, err = c.UpdateGasPrice(ctx); err != nil {
			return common.Hash{}, err
		}
	}

	nonce, err := c.nonces.GetNonce(ctx, c.ChainID, c.backend, c.auth.From)
	if err != nil {
		return common.Hash{}, err
	}

	opts := *c.auth
	opts.Context = ctx
	opts.Nonce = new(big.Int).SetUint64(nonce)
	opts.GasPrice = gasPrice
	opts.GasLimit = prepared.Gas

	bound := bind.NewBoundContract(prepared.To, prepared.ABI, c.backend, c.backend, c.backend)
	tx, err := bound.RawTransact(&opts, prepared.Data)
	if err != nil {
		c.nonces.ReleaseNonce(c.ChainID, nonce)
		return common.Hash{}, asRevert(prepared.Method, err)
	}

	c.nonces.TrackTransaction(c.ChainID, tx.Hash(), nonce)
	c.logger.InfoWithChain(c.ChainID, "Sent %s: %s (nonce: %d)", prepared.Method, tx.Hash().Hex(), nonce)
	return tx.Hash(), nil
}

// WaitForReceipt polls for the receipt of hash until the receipt timeout.
// A reverted receipt is returned together with a *RevertError. Exceeding the
// timeout yields *models.TimeoutError.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(c.receiptTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			c.nonces.Settle(c.ChainID, hash)
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, &RevertError{Method: hash.Hex(), Reason: "transaction reverted"}
			}
			return receipt, nil
		case !errors.Is(err, ethereum.NotFound):
			c.recordFailure(err)
			return nil, fmt.Errorf("receipt of %s: %w", hash.Hex(), err)
		}

		if !time.Now().Before(deadline) {
			return nil, &models.TimeoutError{Op: "receipt " + hash.Hex(), After: c.receiptTimeout}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// BalanceOf reads an ERC20 balance
func (c *Client) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return c.readUint(ctx, Call{To: token, ABI: ERC20ABI, Method: "balanceOf", Args: []interface{}{owner}})
}

// Allowance reads an ERC20 allowance
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return c.readUint(ctx, Call{To: token, ABI: ERC20ABI, Method: "allowance", Args: []interface{}{owner, spender}})
}

func (c *Client) readUint(ctx context.Context, call Call) (*big.Int, error) {
	out, err := c.ReadContract(ctx, call)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no values", call.Method)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

func (c *Client) recordFailure(err error) {
	if err == nil {
		return
	}
	_, errorType := ClassifyError(err)
	metrics.ChainErrors.WithLabelValues(strconv.Itoa(c.ChainID), errorType).Inc()
	if errorType != ErrorTypeContract {
		c.breaker.RecordFailure()
	}
}
