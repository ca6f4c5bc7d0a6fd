package models

// Flow identifies which lifecycle an intent follows
type Flow string

const (
	FlowDeposit  Flow = "deposit"
	FlowWithdraw Flow = "withdraw"
)

// Status is the lifecycle state of an intent
type Status string

// Shared states
const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusFailed     Status = "FAILED"

	// StatusUnknown is reported for locally tracked intents the server has no record of
	StatusUnknown Status = "UNKNOWN"
)

// Deposit states
const (
	StatusWaitingRoute   Status = "WAITING_ROUTE"
	StatusBridgeInFlight Status = "BRIDGE_IN_FLIGHT"
	StatusBridged        Status = "BRIDGED"
	StatusDepositing     Status = "DEPOSITING"
	StatusDeposited      Status = "DEPOSITED"
	StatusMinting        Status = "MINTING"
	StatusMinted         Status = "MINTED"
)

// Withdraw states
const (
	StatusBurned    Status = "BURNED"
	StatusRedeeming Status = "REDEEMING"
	StatusRedeemed  Status = "REDEEMED"
	StatusBridging  Status = "BRIDGING"
	StatusSuccess   Status = "SUCCESS"
)

// TerminalStatuses lists the states no intent ever leaves
var TerminalStatuses = []Status{StatusMinted, StatusSuccess, StatusFailed}

// IsTerminal reports whether the status is MINTED, SUCCESS or FAILED
func (s Status) IsTerminal() bool {
	switch s {
	case StatusMinted, StatusSuccess, StatusFailed:
		return true
	}
	return false
}
