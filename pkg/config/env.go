package config

import (
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/superyldr/relayer/pkg/logger"
)

const (
	// DefaultActiveCachePath is where the active-intent cache lives when Redis is not configured
	DefaultActiveCachePath = "active-intents.json"

	// DefaultWorkerCount defines the default number of settlement workers
	DefaultWorkerCount = 5

	// DefaultAPIPort defines the default port for the API server
	DefaultAPIPort = "8080"

	// DefaultRelayAPIURL is the relayer API the recover command talks to
	DefaultRelayAPIURL = "http://localhost:8080"

	// DefaultDomainName and DefaultDomainVersion form the EIP-712 signing domain
	DefaultDomainName    = "SuperYLDR"
	DefaultDomainVersion = "1"

	// Lisk contracts
	DefaultExecutorAddress     = "0x8F60907f41593d4B41f5e0cEa48415cd61854a79"
	DefaultVaultAddress        = "0x50cb55be8cf05480a844642cb979820c847782ae"
	DefaultUSDT0Address        = "0x43f2376d5d03553ae72f4a8093bbe9de4336eb08"
	DefaultRewardsVaultAddress = "0x1aDBe89F2887a79C64725128fd1D53b10FD6b441"

	// DefaultWithdrawDestinations lists the payout chains besides Lisk and Optimism
	DefaultWithdrawDestinations = "1,8453,42161"

	DefaultBridgeWatchInitialDelay = 10 * time.Second
	DefaultBridgeWatchInterval     = 6 * time.Second
	DefaultBridgeWatchTimeout      = 15 * time.Minute
	DefaultReceiptTimeout          = 3 * time.Minute
	DefaultRedeemBalanceTimeout    = 90 * time.Second
	DefaultRecoveryPollInterval    = 5 * time.Second
	DefaultStaleLegAfter           = 7 * time.Minute

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 5 * time.Minute

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 15 * time.Minute

	// DefaultGasUpdateInterval defines how often gas prices are refreshed
	DefaultGasUpdateInterval = 30 * time.Second

	// DefaultMaxGasPrice defines the maximum gas price for transactions
	DefaultMaxGasPrice = "50000000000" // 50 Gwei
)

// GetEnvPrivateKey returns the relayer signing key
func GetEnvPrivateKey() string {
	return os.Getenv("RELAYER_PRIVATE_KEY")
}

// GetEnvDatabaseURL returns the Postgres DSN; empty selects the in-memory store
func GetEnvDatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// GetEnvActiveCachePath returns the file backing the active-intent cache
func GetEnvActiveCachePath() string {
	path, ok := os.LookupEnv("ACTIVE_CACHE_PATH")
	if !ok {
		return DefaultActiveCachePath
	}
	return path
}

// GetEnvMetricsAPIKey returns the bearer token guarding /metrics
func GetEnvMetricsAPIKey() string {
	return os.Getenv("METRICS_API_KEY")
}

// GetEnvAllowedOrigins returns the CORS origins of the API
func GetEnvAllowedOrigins() []string {
	return splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))
}

// GetEnvDomain returns the EIP-712 domain intents are signed under
func GetEnvDomain() DomainConfig {
	domain := DomainConfig{
		Name:    os.Getenv("DOMAIN_NAME"),
		Version: os.Getenv("DOMAIN_VERSION"),
	}
	if domain.Name == "" {
		domain.Name = DefaultDomainName
	}
	if domain.Version == "" {
		domain.Version = DefaultDomainVersion
	}
	return domain
}

// GetEnvRedis returns the Redis settings of the active-intent cache
func GetEnvRedis() (RedisConfig, error) {
	cfg := RedisConfig{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
	}

	db := os.Getenv("REDIS_DB")
	if db == "" {
		return cfg, nil
	}
	n, err := strconv.Atoi(db)
	if err != nil || n < 0 {
		return RedisConfig{}, fmt.Errorf("invalid REDIS_DB value: %s, must be a non-negative integer", db)
	}
	cfg.DB = n
	return cfg, nil
}

// GetEnvChainConfigs returns Lisk, Optimism and the enabled withdraw destinations
func GetEnvChainConfigs() (map[int]ChainConfig, error) {
	ids := []int{LiskChainID, OptimismChainID}

	destinations, err := GetEnvWithdrawDestinations()
	if err != nil {
		return nil, err
	}
	ids = append(ids, destinations...)

	chains := make(map[int]ChainConfig, len(ids))
	for _, id := range ids {
		key := rpcEnvKey(id)
		rpc := os.Getenv(key)
		if rpc == "" {
			rpc = defaultRPCURLs[id]
		}
		if _, err := url.ParseRequestURI(rpc); err != nil {
			return nil, fmt.Errorf("invalid %s value: %s, must be a valid URL", key, rpc)
		}
		chains[id] = ChainConfig{ChainID: id, Name: GetChainName(id), RPCURL: rpc}
	}
	return chains, nil
}

// GetEnvWithdrawDestinations returns the payout chains besides Lisk and Optimism
func GetEnvWithdrawDestinations() ([]int, error) {
	value, ok := os.LookupEnv("WITHDRAW_DESTINATIONS")
	if !ok {
		value = DefaultWithdrawDestinations
	}

	var ids []int
	for _, item := range splitList(value) {
		id, err := strconv.Atoi(item)
		if err != nil {
			return nil, fmt.Errorf("invalid WITHDRAW_DESTINATIONS entry: %s, must be a chain id", item)
		}
		if _, ok := defaultRPCURLs[id]; !ok {
			return nil, fmt.Errorf("unsupported withdraw destination: %d", id)
		}
		if id == LiskChainID || id == OptimismChainID {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetEnvContracts returns the contract addresses
func GetEnvContracts() (ContractsConfig, error) {
	var (
		c   ContractsConfig
		err error
	)
	if c.Executor, err = getEnvAddress("EXECUTOR_ADDRESS", DefaultExecutorAddress); err != nil {
		return c, err
	}
	if c.Vault, err = getEnvAddress("MORPHO_VAULT_ADDRESS", DefaultVaultAddress); err != nil {
		return c, err
	}
	if c.USDT0, err = getEnvAddress("LISK_USDT0_ADDRESS", DefaultUSDT0Address); err != nil {
		return c, err
	}
	if c.RewardsVault, err = getEnvAddress("REWARDS_VAULT_ADDRESS", DefaultRewardsVaultAddress); err != nil {
		return c, err
	}
	if c.Safe, err = getEnvAddress("SAFE_VAULT_ADDRESS", ""); err != nil {
		return c, err
	}
	if c.BridgeAdapter, err = getEnvAddress("BRIDGE_ADAPTER_ADDRESS", ""); err != nil {
		return c, err
	}
	return c, nil
}

// GetEnvWorkerCount returns the number of workers from environment variables
func GetEnvWorkerCount() (int, error) {
	workerCount := os.Getenv("WORKER_COUNT")
	if workerCount == "" {
		return DefaultWorkerCount, nil
	}

	count, err := strconv.Atoi(workerCount)
	if err != nil {
		return 0, fmt.Errorf("invalid WORKER_COUNT value: %s, must be an integer", workerCount)
	}
	if count <= 0 {
		return 0, fmt.Errorf("WORKER_COUNT must be greater than 0")
	}
	return count, nil
}

// GetEnvAPIPort returns the API server port from environment variables
func GetEnvAPIPort() (string, error) {
	port := os.Getenv("API_PORT")
	if port == "" {
		return DefaultAPIPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid API_PORT value: %s, must be a valid integer", port)
	}
	return port, nil
}

// GetEnvRelayAPIURL returns the relayer API endpoint used by the recover command
func GetEnvRelayAPIURL() (string, error) {
	endpoint := os.Getenv("RELAY_API_URL")
	if endpoint == "" {
		return DefaultRelayAPIURL, nil
	}

	// Validate URL format
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return "", fmt.Errorf("invalid RELAY_API_URL value: %s, must be a valid URL", endpoint)
	}
	return endpoint, nil
}

// GetEnvTimings returns the settlement and recovery timings
func GetEnvTimings() (TimingConfig, error) {
	var (
		t   TimingConfig
		err error
	)
	if t.BridgeWatchInitialDelay, err = getEnvDuration("BRIDGE_WATCH_INITIAL_DELAY", DefaultBridgeWatchInitialDelay); err != nil {
		return t, err
	}
	if t.BridgeWatchInterval, err = getEnvDuration("BRIDGE_WATCH_INTERVAL", DefaultBridgeWatchInterval); err != nil {
		return t, err
	}
	if t.BridgeWatchTimeout, err = getEnvDuration("BRIDGE_WATCH_TIMEOUT", DefaultBridgeWatchTimeout); err != nil {
		return t, err
	}
	if t.ReceiptTimeout, err = getEnvDuration("RECEIPT_TIMEOUT", DefaultReceiptTimeout); err != nil {
		return t, err
	}
	if t.RedeemBalanceTimeout, err = getEnvDuration("REDEEM_BALANCE_TIMEOUT", DefaultRedeemBalanceTimeout); err != nil {
		return t, err
	}
	if t.RecoveryPollInterval, err = getEnvDuration("RECOVERY_POLL_INTERVAL", DefaultRecoveryPollInterval); err != nil {
		return t, err
	}
	if t.StaleLegAfter, err = getEnvDuration("STALE_LEG_AFTER", DefaultStaleLegAfter); err != nil {
		return t, err
	}
	return t, nil
}

// GetEnvCircuitBreaker returns the circuit breaker settings
func GetEnvCircuitBreaker() (CircuitBreakerConfig, error) {
	cb := CircuitBreakerConfig{Enabled: DefaultCircuitBreakerEnabled, Threshold: DefaultCircuitBreakerThreshold}

	switch enabled := os.Getenv("CIRCUIT_BREAKER_ENABLED"); enabled {
	case "":
	case "true":
		cb.Enabled = true
	case "false":
		cb.Enabled = false
	default:
		return cb, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s, must be 'true' or 'false'", enabled)
	}

	if threshold := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); threshold != "" {
		n, err := strconv.Atoi(threshold)
		if err != nil {
			return cb, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
		}
		if n <= 0 {
			return cb, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
		}
		cb.Threshold = n
	}

	var err error
	if cb.WindowDuration, err = getEnvDuration("CIRCUIT_BREAKER_WINDOW", DefaultCircuitBreakerWindow); err != nil {
		return cb, err
	}
	if cb.ResetTimeout, err = getEnvDuration("CIRCUIT_BREAKER_RESET", DefaultCircuitBreakerReset); err != nil {
		return cb, err
	}
	return cb, nil
}

// GetEnvGasUpdateInterval returns how often gas prices are refreshed
func GetEnvGasUpdateInterval() (time.Duration, error) {
	return getEnvDuration("GAS_UPDATE_INTERVAL", DefaultGasUpdateInterval)
}

// GetEnvMaxGasPrice returns the maximum gas price from environment variables
func GetEnvMaxGasPrice() (*big.Int, error) {
	maxGasPrice := os.Getenv("MAX_GAS_PRICE")
	if maxGasPrice == "" {
		maxGasPrice = DefaultMaxGasPrice
	}

	maxGasPriceBig := new(big.Int)
	if _, ok := maxGasPriceBig.SetString(maxGasPrice, 10); !ok {
		return nil, fmt.Errorf("invalid MAX_GAS_PRICE value: %s, must be a valid integer string", maxGasPrice)
	}

	if maxGasPriceBig.Sign() < 0 {
		return nil, fmt.Errorf("MAX_GAS_PRICE must be greater than or equal to 0")
	}
	return maxGasPriceBig, nil
}

// GetEnvLoggerConfig returns the log level and coloring
func GetEnvLoggerConfig() (LoggerConfig, error) {
	cfg := LoggerConfig{Level: logger.InfoLevel, Coloring: true}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		parsed, err := logger.ParseLevel(level)
		if err != nil {
			return cfg, fmt.Errorf("invalid LOG_LEVEL value: %s, must be debug, info, notice or error", level)
		}
		cfg.Level = parsed
	}

	switch coloring := os.Getenv("LOG_COLORING"); coloring {
	case "", "true":
	case "false":
		cfg.Coloring = false
	default:
		return cfg, fmt.Errorf("invalid LOG_COLORING value: %s, must be 'true' or 'false'", coloring)
	}
	return cfg, nil
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return def, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be a valid duration string", key, value)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return parsed, nil
}

func getEnvAddress(key, def string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return def, nil
	}

	// Validate Ethereum address format
	if !common.IsHexAddress(value) {
		return "", fmt.Errorf("invalid %s value: %s, must be a valid Ethereum address", key, value)
	}
	return value, nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
