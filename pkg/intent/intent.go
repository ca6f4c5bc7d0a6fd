package intent

import (
	"fmt"
	"math/big"
	"regexp"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/superyldr/relayer/pkg/models"
)

var bytes32Pattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// DepositIntent is the message a user signs to move value into the Lisk vault
type DepositIntent struct {
	User       common.Address
	Key        common.Hash
	Asset      common.Address
	Amount     *big.Int
	MinAmount  *big.Int
	Deadline   *big.Int
	Nonce      *big.Int
	RefID      common.Hash
	DstChainID *big.Int
}

// WithdrawIntent is the message a user signs to burn receipt shares and bridge the proceeds back
type WithdrawIntent struct {
	User         common.Address
	AmountShares *big.Int
	DstChainID   *big.Int
	DstToken     common.Address
	MinAmountOut *big.Int
	Deadline     *big.Int
	Nonce        *big.Int
	RefID        common.Hash
}

// DepositRequest is the wire shape of a deposit intent. Integers are decimal strings.
type DepositRequest struct {
	User          string `json:"user"`
	Key           string `json:"key"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	MinAmount     string `json:"minAmount"`
	Deadline      string `json:"deadline"`
	Nonce         string `json:"nonce"`
	RefID         string `json:"refId"`
	DstChainID    string `json:"dstChainId"`
	SignedChainID int64  `json:"signedChainId"`
	Signature     string `json:"signature"`
}

// WithdrawRequest is the wire shape of a withdraw intent
type WithdrawRequest struct {
	User          string `json:"user"`
	AmountShares  string `json:"amountShares"`
	DstChainID    string `json:"dstChainId"`
	DstToken      string `json:"dstToken"`
	MinAmountOut  string `json:"minAmountOut"`
	Deadline      string `json:"deadline"`
	Nonce         string `json:"nonce"`
	RefID         string `json:"refId"`
	SignedChainID int64  `json:"signedChainId"`
	Signature     string `json:"signature"`
}

// ParseDeposit validates the wire fields and builds the typed intent
func ParseDeposit(req DepositRequest) (*DepositIntent, error) {
	user, err := parseAddress("user", req.User)
	if err != nil {
		return nil, err
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		return nil, err
	}
	key := common.Hash{}
	if req.Key != "" {
		if key, err = parseBytes32("key", req.Key); err != nil {
			return nil, err
		}
	}
	refID, err := parseBytes32("refId", req.RefID)
	if err != nil {
		return nil, err
	}
	amount, err := parseUint("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	minAmount, err := parseUint("minAmount", req.MinAmount)
	if err != nil {
		return nil, err
	}
	deadline, err := parseUint("deadline", req.Deadline)
	if err != nil {
		return nil, err
	}
	nonce, err := parseUint("nonce", req.Nonce)
	if err != nil {
		return nil, err
	}
	dstChainID, err := parseUint("dstChainId", req.DstChainID)
	if err != nil {
		return nil, err
	}
	if dstChainID.Sign() == 0 || !dstChainID.IsInt64() {
		return nil, models.NewValidationError("dstChainId must be a positive chain id")
	}
	if !deadline.IsInt64() {
		return nil, models.NewValidationError("deadline out of range")
	}
	if amount.Sign() == 0 {
		return nil, models.NewValidationError("amount must be greater than 0")
	}
	return &DepositIntent{
		User:       user,
		Key:        key,
		Asset:      asset,
		Amount:     amount,
		MinAmount:  minAmount,
		Deadline:   deadline,
		Nonce:      nonce,
		RefID:      refID,
		DstChainID: dstChainID,
	}, nil
}

// ParseWithdraw validates the wire fields and builds the typed intent
func ParseWithdraw(req WithdrawRequest) (*WithdrawIntent, error) {
	user, err := parseAddress("user", req.User)
	if err != nil {
		return nil, err
	}
	dstToken, err := parseAddress("dstToken", req.DstToken)
	if err != nil {
		return nil, err
	}
	refID, err := parseBytes32("refId", req.RefID)
	if err != nil {
		return nil, err
	}
	shares, err := parseUint("amountShares", req.AmountShares)
	if err != nil {
		return nil, err
	}
	dstChainID, err := parseUint("dstChainId", req.DstChainID)
	if err != nil {
		return nil, err
	}
	minOut, err := parseUint("minAmountOut", req.MinAmountOut)
	if err != nil {
		return nil, err
	}
	deadline, err := parseUint("deadline", req.Deadline)
	if err != nil {
		return nil, err
	}
	nonce, err := parseUint("nonce", req.Nonce)
	if err != nil {
		return nil, err
	}
	if dstChainID.Sign() == 0 || !dstChainID.IsInt64() {
		return nil, models.NewValidationError("dstChainId must be a positive chain id")
	}
	if !deadline.IsInt64() {
		return nil, models.NewValidationError("deadline out of range")
	}
	if shares.Sign() == 0 {
		return nil, models.NewValidationError("amountShares must be greater than 0")
	}
	return &WithdrawIntent{
		User:         user,
		AmountShares: shares,
		DstChainID:   dstChainID,
		DstToken:     dstToken,
		MinAmountOut: minOut,
		Deadline:     deadline,
		Nonce:        nonce,
		RefID:        refID,
	}, nil
}

func (d *DepositIntent) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"user":       d.User.Hex(),
		"key":        d.Key.Hex(),
		"asset":      d.Asset.Hex(),
		"amount":     bigString(d.Amount),
		"minAmount":  bigString(d.MinAmount),
		"deadline":   bigString(d.Deadline),
		"nonce":      bigString(d.Nonce),
		"refId":      d.RefID.Hex(),
		"dstChainId": bigString(d.DstChainID),
	}
}

func (w *WithdrawIntent) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"user":         w.User.Hex(),
		"amountShares": bigString(w.AmountShares),
		"dstChainId":   bigString(w.DstChainID),
		"dstToken":     w.DstToken.Hex(),
		"minAmountOut": bigString(w.MinAmountOut),
		"deadline":     bigString(w.Deadline),
		"nonce":        bigString(w.Nonce),
		"refId":        w.RefID.Hex(),
	}
}

// TypedData returns the EIP-712 structure of the deposit intent under the domain
func (d *DepositIntent) TypedData(domain Domain) apitypes.TypedData {
	return typedData(domain, depositPrimaryType, depositType, d.message())
}

// TypedData returns the EIP-712 structure of the withdraw intent under the domain
func (w *WithdrawIntent) TypedData(domain Domain) apitypes.TypedData {
	return typedData(domain, withdrawPrimaryType, withdrawType, w.message())
}

// Record builds the PENDING store record of a signed deposit intent
func (d *DepositIntent) Record(signedChainID int64, signature string) *models.Record {
	return &models.Record{
		RefID:         d.RefID.Hex(),
		Flow:          models.FlowDeposit,
		User:          d.User.Hex(),
		Status:        models.StatusPending,
		Signature:     signature,
		SignedChainID: signedChainID,
		Nonce:         bigString(d.Nonce),
		Deadline:      d.Deadline.Int64(),
		AdapterKey:    d.Key.Hex(),
		Asset:         d.Asset.Hex(),
		Amount:        bigString(d.Amount),
		MinAmount:     bigString(d.MinAmount),
		DstChainID:    d.DstChainID.Int64(),
		FromChainID:   signedChainID,
		ToChainID:     d.DstChainID.Int64(),
	}
}

// Record builds the PENDING store record of a signed withdraw intent
func (w *WithdrawIntent) Record(signedChainID int64, signature string) *models.Record {
	return &models.Record{
		RefID:         w.RefID.Hex(),
		Flow:          models.FlowWithdraw,
		User:          w.User.Hex(),
		Status:        models.StatusPending,
		Signature:     signature,
		SignedChainID: signedChainID,
		Nonce:         bigString(w.Nonce),
		Deadline:      w.Deadline.Int64(),
		AmountShares:  bigString(w.AmountShares),
		DstToken:      w.DstToken.Hex(),
		MinAmountOut:  bigString(w.MinAmountOut),
		DstChainID:    w.DstChainID.Int64(),
		ToChainID:     w.DstChainID.Int64(),
	}
}

// DepositFromRecord rebuilds the signed message of a stored deposit
func DepositFromRecord(rec *models.Record) (*DepositIntent, error) {
	if rec.Flow != models.FlowDeposit {
		return nil, models.NewValidationError("intent %s is not a deposit", rec.RefID)
	}
	return ParseDeposit(DepositRequest{
		User:       rec.User,
		Key:        rec.AdapterKey,
		Asset:      rec.Asset,
		Amount:     rec.Amount,
		MinAmount:  rec.MinAmount,
		Deadline:   strconv.FormatInt(rec.Deadline, 10),
		Nonce:      rec.Nonce,
		RefID:      rec.RefID,
		DstChainID: strconv.FormatInt(rec.DstChainID, 10),
	})
}

// WithdrawFromRecord rebuilds the signed message of a stored withdraw
func WithdrawFromRecord(rec *models.Record) (*WithdrawIntent, error) {
	if rec.Flow != models.FlowWithdraw {
		return nil, models.NewValidationError("intent %s is not a withdraw", rec.RefID)
	}
	return ParseWithdraw(WithdrawRequest{
		User:         rec.User,
		AmountShares: rec.AmountShares,
		DstChainID:   strconv.FormatInt(rec.DstChainID, 10),
		DstToken:     rec.DstToken,
		MinAmountOut: rec.MinAmountOut,
		Deadline:     strconv.FormatInt(rec.Deadline, 10),
		Nonce:        rec.Nonce,
		RefID:        rec.RefID,
	})
}

func parseAddress(name, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, models.NewValidationError("invalid %s address: %q", name, value)
	}
	return common.HexToAddress(value), nil
}

func parseBytes32(name, value string) (common.Hash, error) {
	if !bytes32Pattern.MatchString(value) {
		return common.Hash{}, models.NewValidationError("invalid %s: must be 0x followed by 64 hex characters", name)
	}
	return common.HexToHash(value), nil
}

func parseUint(name, value string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok || v.Sign() < 0 {
		return nil, models.NewValidationError("invalid %s value: %q, must be a non-negative integer", name, value)
	}
	if v.BitLen() > 256 {
		return nil, models.NewValidationError("%s overflows uint256", name)
	}
	return v, nil
}

// String implements fmt.Stringer for log lines
func (d *DepositIntent) String() string {
	return fmt.Sprintf("deposit %s user=%s amount=%s", d.RefID.Hex(), d.User.Hex(), bigString(d.Amount))
}

// String implements fmt.Stringer for log lines
func (w *WithdrawIntent) String() string {
	return fmt.Sprintf("withdraw %s user=%s shares=%s", w.RefID.Hex(), w.User.Hex(), bigString(w.AmountShares))
}
