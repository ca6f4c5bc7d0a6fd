package chainclient

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superyldr/relayer/pkg/models"
)

type dataError struct {
	msg  string
	data interface{}
}

func (e *dataError) Error() string          { return e.msg }
func (e *dataError) ErrorData() interface{} { return e.data }

func revertData(t *testing.T, reason string) string {
	t.Helper()
	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	require.NoError(t, err)
	return hexutil.Encode(append(hexutil.MustDecode("0x08c379a0"), packed...))
}

func TestAsRevertDecodesReason(t *testing.T) {
	err := asRevert("deposit", &dataError{msg: "execution reverted", data: revertData(t, "adapter not allowed")})

	var revert *RevertError
	require.True(t, errors.As(err, &revert))
	assert.Equal(t, "deposit", revert.Method)
	assert.Equal(t, "adapter not allowed", revert.Reason)
	assert.Contains(t, revert.Error(), "adapter not allowed")
}

func TestAsRevertPassesOtherErrors(t *testing.T) {
	plain := errors.New("connection refused")
	assert.Equal(t, plain, asRevert("deposit", plain))
	assert.Nil(t, asRevert("deposit", nil))
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err       error
		retry     bool
		errorType string
	}{
		{&RevertError{Method: "redeem"}, false, ErrorTypeContract},
		{fmt.Errorf("wrapped: %w", &RevertError{Method: "redeem"}), false, ErrorTypeContract},
		{&models.TimeoutError{Op: "receipt", After: time.Minute}, true, ErrorTypeTimeout},
		{errors.New("dial tcp: connection refused"), true, ErrorTypeNetwork},
		{errors.New("missing trie node abc"), true, ErrorTypeNodeState},
		{errors.New("nonce too low: next nonce 5"), true, ErrorTypeNonce},
		{errors.New("replacement transaction underpriced"), true, ErrorTypeNonce},
		{errors.New("gas price too low"), true, ErrorTypeGas},
		{errors.New("insufficient funds for gas * price + value"), true, ErrorTypeGas},
		{errors.New("insufficient balance for transfer"), false, ErrorTypeBalance},
		{errors.New("invalid opcode"), false, ErrorTypeContract},
		{errors.New("something odd"), true, ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			retry, errorType := ClassifyError(tt.err)
			assert.Equal(t, tt.retry, retry)
			assert.Equal(t, tt.errorType, errorType)
		})
	}
}
