package chainclient

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/superyldr/relayer/pkg/models"
)

// Error types reported by ClassifyError
const (
	ErrorTypeNetwork   = "network_error"
	ErrorTypeNodeState = "node_state_error"
	ErrorTypeGas       = "gas_error"
	ErrorTypeNonce     = "nonce_error"
	ErrorTypeBalance   = "insufficient_balance"
	ErrorTypeContract  = "contract_error"
	ErrorTypeTimeout   = "timeout"
	ErrorTypeUnknown   = "unknown_error"
)

// RevertError means a call or transaction was reverted by the EVM
type RevertError struct {
	Method string
	Reason string
	Err    error
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: execution reverted", e.Method)
	}
	return fmt.Sprintf("%s: execution reverted: %s", e.Method, e.Reason)
}

func (e *RevertError) Unwrap() error {
	return e.Err
}

// IsRevert reports whether err is or wraps a RevertError
func IsRevert(err error) bool {
	var target *RevertError
	return errors.As(err, &target)
}

// asRevert turns node errors carrying revert data into *RevertError
func asRevert(method string, err error) error {
	if err == nil {
		return nil
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if hexData, ok := dataErr.ErrorData().(string); ok {
			if data, decodeErr := hexutil.Decode(hexData); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return &RevertError{Method: method, Reason: reason, Err: err}
				}
				return &RevertError{Method: method, Reason: hexData, Err: err}
			}
		}
	}

	msg := err.Error()
	if i := strings.Index(msg, "execution reverted"); i >= 0 {
		reason := strings.TrimPrefix(msg[i+len("execution reverted"):], ":")
		return &RevertError{Method: method, Reason: strings.TrimSpace(reason), Err: err}
	}
	return err
}

// ClassifyError tells whether a chain error is worth retrying and labels its type
func ClassifyError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}
	if IsRevert(err) {
		return false, ErrorTypeContract
	}
	if models.IsTimeout(err) {
		return true, ErrorTypeTimeout
	}

	errStr := err.Error()

	// Network/RPC errors - retry is appropriate
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "timed out") ||
		strings.Contains(errStr, "no response") ||
		strings.Contains(errStr, "EOF") {
		return true, ErrorTypeNetwork
	}

	// RPC node state errors - retry with longer backoff
	if strings.Contains(errStr, "missing trie node") ||
		strings.Contains(errStr, "layer stale") ||
		strings.Contains(errStr, "state inconsistency") ||
		strings.Contains(errStr, "header not found") ||
		strings.Contains(errStr, "block not found") {
		return true, ErrorTypeNodeState
	}

	// Nonce-related errors - retry may help after nonce is corrected
	if strings.Contains(errStr, "nonce too low") ||
		strings.Contains(errStr, "nonce too high") ||
		strings.Contains(errStr, "replacement transaction underpriced") ||
		strings.Contains(errStr, "already known") {
		return true, ErrorTypeNonce
	}

	// Gas-related errors - retry may help if gas prices change
	if strings.Contains(errStr, "gas required exceeds allowance") ||
		strings.Contains(errStr, "insufficient funds for gas") ||
		strings.Contains(errStr, "gas price too low") ||
		strings.Contains(errStr, "max fee per gas less than block base fee") {
		return true, ErrorTypeGas
	}

	// Balance-related errors - permanent failures
	if strings.Contains(errStr, "insufficient balance") ||
		strings.Contains(errStr, "insufficient funds") {
		return false, ErrorTypeBalance
	}

	// Contract-related errors - permanent failures
	if strings.Contains(errStr, "invalid opcode") ||
		strings.Contains(errStr, "out of gas") {
		return false, ErrorTypeContract
	}

	// Unknown errors - retry with caution
	return true, ErrorTypeUnknown
}
