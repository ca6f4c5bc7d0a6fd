package models

import (
	"fmt"
	"strconv"
	"time"
)

// Record is the persisted lifecycle record of a deposit or withdraw intent.
// Deposit-only and withdraw-only fields stay empty for the other flow.
type Record struct {
	RefID         string `json:"refId"`
	Flow          Flow   `json:"flow"`
	User          string `json:"user"`
	Status        Status `json:"status"`
	Signature     string `json:"signature"`
	SignedChainID int64  `json:"signedChainId"`
	Nonce         string `json:"nonce"`
	Deadline      int64  `json:"deadline"`

	// deposit
	AdapterKey string `json:"adapterKey,omitempty"`
	Asset      string `json:"asset,omitempty"`
	Amount     string `json:"amount,omitempty"`
	MinAmount  string `json:"minAmount,omitempty"`

	// withdraw
	AmountShares string `json:"amountShares,omitempty"`
	DstToken     string `json:"dstToken,omitempty"`
	MinAmountOut string `json:"minAmountOut,omitempty"`

	DstChainID     int64  `json:"dstChainId"`
	FromChainID    int64  `json:"fromChainId,omitempty"`
	ToChainID      int64  `json:"toChainId,omitempty"`
	ToTokenAddress string `json:"toTokenAddress,omitempty"`

	FromTxHash    string `json:"fromTxHash,omitempty"`
	ToTxHash      string `json:"toTxHash,omitempty"`
	DepositTxHash string `json:"depositTxHash,omitempty"`
	MintTxHash    string `json:"mintTxHash,omitempty"`
	BurnTxHash    string `json:"burnTxHash,omitempty"`
	RedeemTxHash  string `json:"redeemTxHash,omitempty"`

	BridgedAmount   string `json:"bridgedAmount,omitempty"`
	AmountOut       string `json:"amountOut,omitempty"`
	BaselineBalance string `json:"baselineBalance,omitempty"`

	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Field names a patchable column of a Record. The value doubles as the SQL column name.
type Field string

const (
	FieldFromTxHash      Field = "from_tx_hash"
	FieldToTxHash        Field = "to_tx_hash"
	FieldDepositTxHash   Field = "deposit_tx_hash"
	FieldMintTxHash      Field = "mint_tx_hash"
	FieldBurnTxHash      Field = "burn_tx_hash"
	FieldRedeemTxHash    Field = "redeem_tx_hash"
	FieldBridgedAmount   Field = "bridged_amount"
	FieldAmountOut       Field = "amount_out"
	FieldBaselineBalance Field = "baseline_balance"
	FieldFromChainID     Field = "from_chain_id"
	FieldToChainID       Field = "to_chain_id"
	FieldToTokenAddress  Field = "to_token_address"
	FieldError           Field = "error"
)

var patchable = map[Field]bool{
	FieldFromTxHash:      true,
	FieldToTxHash:        true,
	FieldDepositTxHash:   true,
	FieldMintTxHash:      true,
	FieldBurnTxHash:      true,
	FieldRedeemTxHash:    true,
	FieldBridgedAmount:   true,
	FieldAmountOut:       true,
	FieldBaselineBalance: true,
	FieldFromChainID:     true,
	FieldToChainID:       true,
	FieldToTokenAddress:  true,
	FieldError:           true,
}

// IsInt reports whether the field is stored as an integer column
func (f Field) IsInt() bool {
	return f == FieldFromChainID || f == FieldToChainID
}

// Patch holds the fields merged into a record alongside a status change
type Patch map[Field]string

// Validate rejects unknown fields and non-numeric chain ids
func (p Patch) Validate() error {
	for field, value := range p {
		if !patchable[field] {
			return fmt.Errorf("field %q is not patchable", field)
		}
		if field.IsInt() {
			if _, err := strconv.ParseInt(value, 10, 64); err != nil {
				return fmt.Errorf("invalid %s value: %s, must be an integer", field, value)
			}
		}
	}
	return nil
}

// Get returns the current value of a patchable field
func (r *Record) Get(field Field) string {
	switch field {
	case FieldFromTxHash:
		return r.FromTxHash
	case FieldToTxHash:
		return r.ToTxHash
	case FieldDepositTxHash:
		return r.DepositTxHash
	case FieldMintTxHash:
		return r.MintTxHash
	case FieldBurnTxHash:
		return r.BurnTxHash
	case FieldRedeemTxHash:
		return r.RedeemTxHash
	case FieldBridgedAmount:
		return r.BridgedAmount
	case FieldAmountOut:
		return r.AmountOut
	case FieldBaselineBalance:
		return r.BaselineBalance
	case FieldFromChainID:
		return strconv.FormatInt(r.FromChainID, 10)
	case FieldToChainID:
		return strconv.FormatInt(r.ToChainID, 10)
	case FieldToTokenAddress:
		return r.ToTokenAddress
	case FieldError:
		return r.Error
	}
	return ""
}

// Apply merges the patch into the record. The patch must have passed Validate.
func (r *Record) Apply(p Patch) {
	for field, value := range p {
		switch field {
		case FieldFromTxHash:
			r.FromTxHash = value
		case FieldToTxHash:
			r.ToTxHash = value
		case FieldDepositTxHash:
			r.DepositTxHash = value
		case FieldMintTxHash:
			r.MintTxHash = value
		case FieldBurnTxHash:
			r.BurnTxHash = value
		case FieldRedeemTxHash:
			r.RedeemTxHash = value
		case FieldBridgedAmount:
			r.BridgedAmount = value
		case FieldAmountOut:
			r.AmountOut = value
		case FieldBaselineBalance:
			r.BaselineBalance = value
		case FieldFromChainID:
			r.FromChainID, _ = strconv.ParseInt(value, 10, 64)
		case FieldToChainID:
			r.ToChainID, _ = strconv.ParseInt(value, 10, 64)
		case FieldToTokenAddress:
			r.ToTokenAddress = value
		case FieldError:
			r.Error = value
		}
	}
}

// Clone returns a copy safe to hand out of a store
func (r *Record) Clone() *Record {
	c := *r
	return &c
}

// StatusView is the status-query shape exposed to collaborators
type StatusView struct {
	RefID          string    `json:"refId"`
	Flow           Flow      `json:"flow"`
	User           string    `json:"user"`
	Status         Status    `json:"status"`
	FromTxHash     string    `json:"fromTxHash,omitempty"`
	ToTxHash       string    `json:"toTxHash,omitempty"`
	DepositTxHash  string    `json:"depositTxHash,omitempty"`
	MintTxHash     string    `json:"mintTxHash,omitempty"`
	BurnTxHash     string    `json:"burnTxHash,omitempty"`
	RedeemTxHash   string    `json:"redeemTxHash,omitempty"`
	FromChainID    int64     `json:"fromChainId,omitempty"`
	ToChainID      int64     `json:"toChainId,omitempty"`
	ToTokenAddress string    `json:"toTokenAddress,omitempty"`
	MinAmount      string    `json:"minAmount,omitempty"`
	BridgedAmount  string    `json:"bridgedAmount,omitempty"`
	AmountOut      string    `json:"amountOut,omitempty"`
	AmountHuman    string    `json:"amountHuman,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// View projects the record onto its public status shape
func (r *Record) View() StatusView {
	minAmount := r.MinAmount
	if r.Flow == FlowWithdraw {
		minAmount = r.MinAmountOut
	}
	return StatusView{
		RefID:          r.RefID,
		Flow:           r.Flow,
		User:           r.User,
		Status:         r.Status,
		FromTxHash:     r.FromTxHash,
		ToTxHash:       r.ToTxHash,
		DepositTxHash:  r.DepositTxHash,
		MintTxHash:     r.MintTxHash,
		BurnTxHash:     r.BurnTxHash,
		RedeemTxHash:   r.RedeemTxHash,
		FromChainID:    r.FromChainID,
		ToChainID:      r.ToChainID,
		ToTokenAddress: r.ToTokenAddress,
		MinAmount:      minAmount,
		BridgedAmount:  r.BridgedAmount,
		AmountOut:      r.AmountOut,
		Error:          r.Error,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}
