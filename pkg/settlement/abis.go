package settlement

import "github.com/superyldr/relayer/pkg/chainclient"

// executorABI is the allow-list surface of the Lisk settlement executor
var executorABI = chainclient.MustParseABI(`[
	{"inputs":[{"name":"","type":"bytes32"}],"name":"adapterAllowed","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"","type":"address"}],"name":"assetAllowed","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"}
]`)

// vaultABI is the ERC4626 subset of the Morpho vault on Lisk
var vaultABI = chainclient.MustParseABI(`[
	{"inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"}],"name":"deposit","outputs":[{"name":"shares","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"shares","type":"uint256"},{"name":"receiver","type":"address"},{"name":"owner","type":"address"}],"name":"redeem","outputs":[{"name":"assets","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"shares","type":"uint256"}],"name":"convertToAssets","outputs":[{"name":"assets","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"sender","type":"address"},{"indexed":true,"name":"receiver","type":"address"},{"indexed":true,"name":"owner","type":"address"},{"indexed":false,"name":"assets","type":"uint256"},{"indexed":false,"name":"shares","type":"uint256"}],"name":"Withdraw","type":"event"}
]`)

// rewardsVaultABI is the receipt-token bookkeeping on Optimism
var rewardsVaultABI = chainclient.MustParseABI(`[
	{"inputs":[{"name":"user","type":"address"},{"name":"amount","type":"uint256"}],"name":"recordDeposit","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"user","type":"address"},{"name":"shares","type":"uint256"}],"name":"recordWithdrawal","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`)

// bridgeAdapterABI moves relayer-held tokens to the user's destination chain
var bridgeAdapterABI = chainclient.MustParseABI(`[
	{"inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"dstChainId","type":"uint256"},{"name":"recipient","type":"address"},{"name":"dstToken","type":"address"},{"name":"minAmountOut","type":"uint256"}],"name":"bridge","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`)
