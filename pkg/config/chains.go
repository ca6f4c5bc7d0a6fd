package config

import "strings"

// Chain ids the relayer settles on
const (
	EthereumChainID = 1
	OptimismChainID = 10
	BaseChainID     = 8453
	LiskChainID     = 1135
	ArbitrumChainID = 42161
)

// chainNames maps chain IDs to their names
var chainNames = map[int]string{
	EthereumChainID: "ETHEREUM",
	OptimismChainID: "OPTIMISM",
	BaseChainID:     "BASE",
	LiskChainID:     "LISK",
	ArbitrumChainID: "ARBITRUM",
}

// defaultRPCURLs maps chain IDs to public RPC endpoints
var defaultRPCURLs = map[int]string{
	EthereumChainID: "https://eth.llamarpc.com",
	OptimismChainID: "https://mainnet.optimism.io",
	BaseChainID:     "https://mainnet.base.org",
	LiskChainID:     "https://rpc.api.lisk.com",
	ArbitrumChainID: "https://arb1.arbitrum.io/rpc",
}

// destinationChains are the withdraw payout chains besides Lisk and Optimism
var destinationChains = []int{EthereumChainID, BaseChainID, ArbitrumChainID}

// GetChainName returns the name of the chain for a given chain ID
func GetChainName(chainID int) string {
	name, exists := chainNames[chainID]
	if !exists {
		return "UNKNOWN"
	}
	return name
}

// rpcEnvKey returns the variable overriding the RPC endpoint of a chain
func rpcEnvKey(chainID int) string {
	return strings.ToUpper(GetChainName(chainID)) + "_RPC_URL"
}
