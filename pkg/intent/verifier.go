package intent

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/superyldr/relayer/pkg/models"
)

// Verifier checks intent signatures against a fixed domain name and version
type Verifier struct {
	name    string
	version string
}

// NewVerifier creates a verifier for the given domain name and version
func NewVerifier(name, version string) *Verifier {
	if name == "" {
		name = DefaultDomainName
	}
	if version == "" {
		version = DefaultDomainVersion
	}
	return &Verifier{name: name, version: version}
}

// Domain returns the domain for a signing chain
func (v *Verifier) Domain(signedChainID int64) Domain {
	return Domain{Name: v.name, Version: v.version, ChainID: signedChainID}
}

// VerifyDeposit checks that signature over the deposit recovers to its user
func (v *Verifier) VerifyDeposit(d *DepositIntent, signedChainID int64, signature string) error {
	return v.verify(d.TypedData(v.Domain(signedChainID)), d.User, signedChainID, signature)
}

// VerifyWithdraw checks that signature over the withdraw recovers to its user
func (v *Verifier) VerifyWithdraw(w *WithdrawIntent, signedChainID int64, signature string) error {
	return v.verify(w.TypedData(v.Domain(signedChainID)), w.User, signedChainID, signature)
}

// VerifyRecord rebuilds the signed message of a stored intent and verifies its signature
func (v *Verifier) VerifyRecord(rec *models.Record) error {
	switch rec.Flow {
	case models.FlowDeposit:
		d, err := DepositFromRecord(rec)
		if err != nil {
			return err
		}
		return v.VerifyDeposit(d, rec.SignedChainID, rec.Signature)
	case models.FlowWithdraw:
		w, err := WithdrawFromRecord(rec)
		if err != nil {
			return err
		}
		return v.VerifyWithdraw(w, rec.SignedChainID, rec.Signature)
	}
	return models.NewValidationError("unknown flow %q", rec.Flow)
}

// verify fails closed: any hashing or recovery problem is an invalid signature
func (v *Verifier) verify(td apitypes.TypedData, user common.Address, signedChainID int64, signature string) error {
	if signedChainID <= 0 {
		return models.NewValidationError("signedChainId must be greater than 0")
	}
	signer, err := Recover(td, signature)
	if err != nil {
		return models.NewValidationError("invalid signature: %v", err)
	}
	if !bytes.Equal(signer.Bytes(), user.Bytes()) {
		return models.NewValidationError("invalid signature: recovered %s, expected %s", signer.Hex(), user.Hex())
	}
	return nil
}

// Recover returns the address that produced signature over the typed data
func Recover(td apitypes.TypedData, signature string) (common.Address, error) {
	hash, err := hashTypedData(td)
	if err != nil {
		return common.Address{}, err
	}
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("malformed signature: %v", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	// wallets produce v in {27, 28}; ecrecover wants {0, 1}
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("invalid recovery id %d", sig[crypto.RecoveryIDOffset])
	}
	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %v", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign produces a wallet-style signature (v in {27, 28}) over the typed data
func Sign(td apitypes.TypedData, key []byte) (string, error) {
	hash, err := hashTypedData(td)
	if err != nil {
		return "", err
	}
	priv, err := crypto.ToECDSA(key)
	if err != nil {
		return "", fmt.Errorf("failed to parse private key: %v", err)
	}
	sig, err := crypto.Sign(hash.Bytes(), priv)
	if err != nil {
		return "", fmt.Errorf("failed to sign typed data: %v", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}
