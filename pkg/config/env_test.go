package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superyldr/relayer/pkg/logger"
)

func TestGetEnvChainConfigs(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		chains, err := GetEnvChainConfigs()
		require.NoError(t, err)
		assert.Len(t, chains, 5)
		assert.Equal(t, "https://rpc.api.lisk.com", chains[LiskChainID].RPCURL)
		assert.Equal(t, "BASE", chains[BaseChainID].Name)
	})

	t.Run("override and restrict destinations", func(t *testing.T) {
		t.Setenv("LISK_RPC_URL", "http://localhost:8545")
		t.Setenv("WITHDRAW_DESTINATIONS", "8453, 10")
		chains, err := GetEnvChainConfigs()
		require.NoError(t, err)
		assert.Len(t, chains, 3)
		assert.Equal(t, "http://localhost:8545", chains[LiskChainID].RPCURL)
		_, ok := chains[ArbitrumChainID]
		assert.False(t, ok)
	})

	t.Run("no destinations", func(t *testing.T) {
		t.Setenv("WITHDRAW_DESTINATIONS", "")
		chains, err := GetEnvChainConfigs()
		require.NoError(t, err)
		assert.Len(t, chains, 2)
	})

	t.Run("unsupported destination", func(t *testing.T) {
		t.Setenv("WITHDRAW_DESTINATIONS", "137")
		_, err := GetEnvChainConfigs()
		assert.Error(t, err)
	})

	t.Run("invalid rpc url", func(t *testing.T) {
		t.Setenv("OPTIMISM_RPC_URL", "not a url")
		_, err := GetEnvChainConfigs()
		assert.Error(t, err)
	})
}

func TestGetEnvContracts(t *testing.T) {
	c, err := GetEnvContracts()
	require.NoError(t, err)
	assert.Equal(t, DefaultExecutorAddress, c.Executor)
	assert.Empty(t, c.Safe)

	t.Setenv("SAFE_VAULT_ADDRESS", "0x000000000000000000000000000000000000dEaD")
	c, err = GetEnvContracts()
	require.NoError(t, err)
	assert.Equal(t, "0x000000000000000000000000000000000000dEaD", c.Safe)

	t.Setenv("BRIDGE_ADAPTER_ADDRESS", "0x1234")
	_, err = GetEnvContracts()
	assert.Error(t, err)
}

func TestGetEnvTimings(t *testing.T) {
	timings, err := GetEnvTimings()
	require.NoError(t, err)
	assert.Equal(t, DefaultBridgeWatchTimeout, timings.BridgeWatchTimeout)
	assert.Equal(t, DefaultStaleLegAfter, timings.StaleLegAfter)

	t.Setenv("RECEIPT_TIMEOUT", "45s")
	timings, err = GetEnvTimings()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, timings.ReceiptTimeout)

	t.Setenv("REDEEM_BALANCE_TIMEOUT", "soon")
	_, err = GetEnvTimings()
	assert.Error(t, err)

	t.Setenv("REDEEM_BALANCE_TIMEOUT", "-1s")
	_, err = GetEnvTimings()
	assert.Error(t, err)
}

func TestGetEnvScalars(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		get     func() error
		wantErr bool
	}{
		{"worker count", "WORKER_COUNT", "8", func() error { _, err := GetEnvWorkerCount(); return err }, false},
		{"zero workers", "WORKER_COUNT", "0", func() error { _, err := GetEnvWorkerCount(); return err }, true},
		{"api port", "API_PORT", "http", func() error { _, err := GetEnvAPIPort(); return err }, true},
		{"redis db", "REDIS_DB", "-1", func() error { _, err := GetEnvRedis(); return err }, true},
		{"max gas price", "MAX_GAS_PRICE", "abc", func() error { _, err := GetEnvMaxGasPrice(); return err }, true},
		{"breaker flag", "CIRCUIT_BREAKER_ENABLED", "yes", func() error { _, err := GetEnvCircuitBreaker(); return err }, true},
		{"log level", "LOG_LEVEL", "loud", func() error { _, err := GetEnvLoggerConfig(); return err }, true},
		{"relay api", "RELAY_API_URL", "https://relayer.example.com", func() error { _, err := GetEnvRelayAPIURL(); return err }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if tt.wantErr {
				assert.Error(t, tt.get())
			} else {
				assert.NoError(t, tt.get())
			}
		})
	}
}

func TestGetEnvLoggerConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_COLORING", "false")
	cfg, err := GetEnvLoggerConfig()
	require.NoError(t, err)
	assert.Equal(t, logger.DebugLevel, cfg.Level)
	assert.False(t, cfg.Coloring)
}

func TestValidateRelayer(t *testing.T) {
	t.Setenv("RELAYER_PRIVATE_KEY", "")
	t.Setenv("SAFE_VAULT_ADDRESS", "0x000000000000000000000000000000000000dEaD")
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Error(t, cfg.ValidateRelayer())

	cfg.PrivateKey = "0x01"
	assert.NoError(t, cfg.ValidateRelayer())
	assert.ElementsMatch(t, []int{EthereumChainID, BaseChainID, ArbitrumChainID}, cfg.DestinationChainIDs())

	cfg.Timings.StaleLegAfter = 2 * cfg.Timings.ReceiptTimeout
	assert.Error(t, cfg.ValidateRelayer())
	cfg.Timings.StaleLegAfter = DefaultStaleLegAfter

	cfg.Contracts.Safe = ""
	assert.Error(t, cfg.ValidateRelayer())
}
