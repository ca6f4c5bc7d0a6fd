// Package config loads the relayer settings from the environment.
package config

import (
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/joho/godotenv"

	"github.com/superyldr/relayer/pkg/logger"
)

// Config holds the configuration for the relayer
type Config struct {
	PrivateKey      string
	DatabaseURL     string
	Redis           RedisConfig
	ActiveCachePath string

	Chains    map[int]ChainConfig
	Contracts ContractsConfig
	Domain    DomainConfig

	WorkerCount    int
	APIPort        string
	MetricsAPIKey  string
	AllowedOrigins []string
	RelayAPIURL    string

	Timings           TimingConfig
	CircuitBreaker    CircuitBreakerConfig
	GasUpdateInterval time.Duration
	MaxGasPrice       *big.Int
	LoggerConfig      LoggerConfig
}

// RedisConfig locates the active-intent cache. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ChainConfig holds the configuration for a specific blockchain
type ChainConfig struct {
	ChainID int
	Name    string
	RPCURL  string
}

// ContractsConfig holds the on-chain addresses the settlement legs call
type ContractsConfig struct {
	Executor      string
	Vault         string
	USDT0         string
	RewardsVault  string
	Safe          string
	BridgeAdapter string
}

// DomainConfig is the EIP-712 domain intents are signed under
type DomainConfig struct {
	Name    string
	Version string
}

// TimingConfig holds the settlement and recovery timings
type TimingConfig struct {
	BridgeWatchInitialDelay time.Duration
	BridgeWatchInterval     time.Duration
	BridgeWatchTimeout      time.Duration
	ReceiptTimeout          time.Duration
	RedeemBalanceTimeout    time.Duration
	RecoveryPollInterval    time.Duration
	StaleLegAfter           time.Duration
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	cfg := &Config{
		PrivateKey:      GetEnvPrivateKey(),
		DatabaseURL:     GetEnvDatabaseURL(),
		ActiveCachePath: GetEnvActiveCachePath(),
		MetricsAPIKey:   GetEnvMetricsAPIKey(),
		AllowedOrigins:  GetEnvAllowedOrigins(),
		Domain:          GetEnvDomain(),
	}

	var err error
	if cfg.Redis, err = GetEnvRedis(); err != nil {
		return nil, err
	}
	if cfg.Chains, err = GetEnvChainConfigs(); err != nil {
		return nil, err
	}
	if cfg.Contracts, err = GetEnvContracts(); err != nil {
		return nil, err
	}
	if cfg.WorkerCount, err = GetEnvWorkerCount(); err != nil {
		return nil, err
	}
	if cfg.APIPort, err = GetEnvAPIPort(); err != nil {
		return nil, err
	}
	if cfg.RelayAPIURL, err = GetEnvRelayAPIURL(); err != nil {
		return nil, err
	}
	if cfg.Timings, err = GetEnvTimings(); err != nil {
		return nil, err
	}
	if cfg.CircuitBreaker, err = GetEnvCircuitBreaker(); err != nil {
		return nil, err
	}
	if cfg.GasUpdateInterval, err = GetEnvGasUpdateInterval(); err != nil {
		return nil, err
	}
	if cfg.MaxGasPrice, err = GetEnvMaxGasPrice(); err != nil {
		return nil, err
	}
	if cfg.LoggerConfig, err = GetEnvLoggerConfig(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ValidateRelayer checks the settings the settlement side needs to sign and pay out
func (c *Config) ValidateRelayer() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("RELAYER_PRIVATE_KEY environment variable is required")
	}
	if c.Contracts.Safe == "" {
		return fmt.Errorf("SAFE_VAULT_ADDRESS environment variable is required")
	}
	if _, ok := c.Chains[LiskChainID]; !ok {
		return fmt.Errorf("a Lisk chain configuration is required")
	}
	if _, ok := c.Chains[OptimismChainID]; !ok {
		return fmt.Errorf("an Optimism chain configuration is required")
	}
	// a leg submission can wait on two approval receipts before its tx hash is recorded
	if c.Timings.StaleLegAfter <= 2*c.Timings.ReceiptTimeout {
		return fmt.Errorf("STALE_LEG_AFTER (%v) must exceed twice RECEIPT_TIMEOUT (%v)", c.Timings.StaleLegAfter, c.Timings.ReceiptTimeout)
	}
	return nil
}

// DestinationChainIDs returns the configured withdraw payout chains besides Lisk and Optimism
func (c *Config) DestinationChainIDs() []int {
	var ids []int
	for _, id := range destinationChains {
		if _, ok := c.Chains[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
