// Package intent defines the signable deposit and withdraw intents and verifies their
// EIP-712 signatures.
package intent

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	// DefaultDomainName is the EIP-712 domain name the dApp signs with
	DefaultDomainName = "SuperYLDR"

	// DefaultDomainVersion is the schema version of the typed intents
	DefaultDomainVersion = "1"

	depositPrimaryType  = "DepositIntent"
	withdrawPrimaryType = "WithdrawIntent"
)

// Domain is the EIP-712 domain. ChainID is the chain the wallet signed against,
// which is not necessarily the chain the relayer executes on.
type Domain struct {
	Name    string
	Version string
	ChainID int64
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
}

var depositType = []apitypes.Type{
	{Name: "user", Type: "address"},
	{Name: "key", Type: "bytes32"},
	{Name: "asset", Type: "address"},
	{Name: "amount", Type: "uint256"},
	{Name: "minAmount", Type: "uint256"},
	{Name: "deadline", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
	{Name: "refId", Type: "bytes32"},
	{Name: "dstChainId", Type: "uint256"},
}

var withdrawType = []apitypes.Type{
	{Name: "user", Type: "address"},
	{Name: "amountShares", Type: "uint256"},
	{Name: "dstChainId", Type: "uint256"},
	{Name: "dstToken", Type: "address"},
	{Name: "minAmountOut", Type: "uint256"},
	{Name: "deadline", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
	{Name: "refId", Type: "bytes32"},
}

func (d Domain) typedDomain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:    d.Name,
		Version: d.Version,
		ChainId: math.NewHexOrDecimal256(d.ChainID),
	}
}

// typedData assembles the structure the wallet signed for one primary type
func typedData(domain Domain, primaryType string, fields []apitypes.Type, message apitypes.TypedDataMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			primaryType:    fields,
		},
		PrimaryType: primaryType,
		Domain:      domain.typedDomain(),
		Message:     message,
	}
}

// hashTypedData computes keccak256("\x19\x01" ‖ domainSeparator ‖ hashStruct(message))
func hashTypedData(td apitypes.TypedData) (common.Hash, error) {
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %v", err)
	}
	messageHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash %s: %v", td.PrimaryType, err)
	}
	raw := make([]byte, 0, 66)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256Hash(raw), nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
