// Package statemachine holds the legal status graphs of the deposit and withdraw flows.
package statemachine

import (
	"fmt"

	"github.com/superyldr/relayer/pkg/models"
)

type edge struct {
	from models.Status
	to   models.Status
}

// Machine is the transition table of one flow
type Machine struct {
	flow   models.Flow
	states []models.Status
	edges  map[edge]struct{}
}

func newMachine(flow models.Flow, states []models.Status, edges ...edge) *Machine {
	m := &Machine{
		flow:   flow,
		states: states,
		edges:  make(map[edge]struct{}, len(edges)),
	}
	for _, e := range edges {
		m.edges[e] = struct{}{}
	}
	return m
}

// Deposit: PENDING → PROCESSING → WAITING_ROUTE → BRIDGE_IN_FLIGHT → BRIDGED → DEPOSITING → DEPOSITED → MINTING → MINTED
var Deposit = newMachine(models.FlowDeposit,
	[]models.Status{
		models.StatusPending,
		models.StatusProcessing,
		models.StatusWaitingRoute,
		models.StatusBridgeInFlight,
		models.StatusBridged,
		models.StatusDepositing,
		models.StatusDeposited,
		models.StatusMinting,
		models.StatusMinted,
		models.StatusFailed,
	},
	edge{models.StatusPending, models.StatusProcessing},
	edge{models.StatusProcessing, models.StatusWaitingRoute},
	edge{models.StatusWaitingRoute, models.StatusBridgeInFlight},
	edge{models.StatusBridgeInFlight, models.StatusBridged},
	edge{models.StatusBridged, models.StatusDepositing},
	edge{models.StatusDepositing, models.StatusDeposited},
	edge{models.StatusDeposited, models.StatusMinting},
	edge{models.StatusMinting, models.StatusMinted},

	// resume shortcuts
	edge{models.StatusWaitingRoute, models.StatusBridged},
	edge{models.StatusProcessing, models.StatusBridgeInFlight},

	edge{models.StatusProcessing, models.StatusFailed},
	edge{models.StatusWaitingRoute, models.StatusFailed},
	edge{models.StatusBridgeInFlight, models.StatusFailed},
	edge{models.StatusDepositing, models.StatusFailed},
	edge{models.StatusMinting, models.StatusFailed},
)

// Withdraw: PENDING → PROCESSING → BURNED → REDEEMING → REDEEMED → BRIDGING → SUCCESS
var Withdraw = newMachine(models.FlowWithdraw,
	[]models.Status{
		models.StatusPending,
		models.StatusProcessing,
		models.StatusBurned,
		models.StatusRedeeming,
		models.StatusRedeemed,
		models.StatusBridging,
		models.StatusSuccess,
		models.StatusFailed,
	},
	edge{models.StatusPending, models.StatusProcessing},
	edge{models.StatusProcessing, models.StatusBurned},
	edge{models.StatusBurned, models.StatusRedeeming},
	edge{models.StatusRedeeming, models.StatusRedeemed},
	edge{models.StatusRedeemed, models.StatusBridging},
	edge{models.StatusBridging, models.StatusSuccess},

	edge{models.StatusProcessing, models.StatusFailed},
	edge{models.StatusBurned, models.StatusFailed},
	edge{models.StatusRedeeming, models.StatusFailed},
	edge{models.StatusBridging, models.StatusFailed},
)

// For returns the machine of a flow
func For(flow models.Flow) (*Machine, error) {
	switch flow {
	case models.FlowDeposit:
		return Deposit, nil
	case models.FlowWithdraw:
		return Withdraw, nil
	}
	return nil, fmt.Errorf("unknown flow: %q", flow)
}

// Flow returns the flow the machine models
func (m *Machine) Flow() models.Flow {
	return m.flow
}

// States returns every state of the flow in lifecycle order, FAILED last
func (m *Machine) States() []models.Status {
	out := make([]models.Status, len(m.states))
	copy(out, m.states)
	return out
}

// CanTransition reports whether from → to is legal. A self-loop is always legal.
func (m *Machine) CanTransition(from, to models.Status) bool {
	if from == to {
		return true
	}
	_, ok := m.edges[edge{from, to}]
	return ok
}

// CanFail reports whether the state has an edge to FAILED
func (m *Machine) CanFail(from models.Status) bool {
	return from != models.StatusFailed && m.CanTransition(from, models.StatusFailed)
}
