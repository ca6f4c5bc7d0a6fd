package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/superyldr/relayer/pkg/advancer"
	"github.com/superyldr/relayer/pkg/api"
	"github.com/superyldr/relayer/pkg/blockchain"
	"github.com/superyldr/relayer/pkg/bridgewatch"
	"github.com/superyldr/relayer/pkg/chainclient"
	"github.com/superyldr/relayer/pkg/config"
	"github.com/superyldr/relayer/pkg/intent"
	"github.com/superyldr/relayer/pkg/logger"
	"github.com/superyldr/relayer/pkg/recovery"
	"github.com/superyldr/relayer/pkg/relayclient"
	"github.com/superyldr/relayer/pkg/settlement"
	"github.com/superyldr/relayer/pkg/store"
)

const usage = `Usage: relayer [serve]
       relayer recover --user <address> [--local]

serve     run the API and the settlement workers (default)
recover   reconcile and drive a user's unfinished intents to completion
`

func main() {
	flags := pflag.NewFlagSet("relayer", pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	user := flags.String("user", "", "user address whose intents are recovered")
	local := flags.Bool("local", false, "recover against a local settlement stack instead of the relayer API")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("Failed to parse flags: %v", err)
	}

	mode := "serve"
	if flags.NArg() > 0 {
		mode = flags.Arg(0)
	}

	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	relayerID := uuid.NewString()
	l := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level).WithRelayerID(relayerID)

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		l.Notice("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	switch mode {
	case "serve":
		err = serve(ctx, cfg, relayerID, l)
	case "recover":
		err = recoverIntents(ctx, cfg, *user, *local, l)
	default:
		flags.Usage()
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("relayer %s: %v", mode, err)
	}
}

// relayer is the settlement side: store, chain clients, executor and workers
type relayer struct {
	store    store.Store
	clients  []*chainclient.Client
	verifier *intent.Verifier
	executor *settlement.Executor
	service  *settlement.Service
	logger   logger.Logger
}

func newRelayer(ctx context.Context, cfg *config.Config, l logger.Logger) (*relayer, error) {
	if err := cfg.ValidateRelayer(); err != nil {
		return nil, err
	}

	var s store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %v", err)
		}
		s = pg
	} else {
		l.Notice("DATABASE_URL not set, intents are kept in memory only")
		s = store.NewMemoryStore()
	}

	r := &relayer{store: s, logger: l}

	nonces := blockchain.NewNonceManager(l)
	byID := make(map[int]*chainclient.Client, len(cfg.Chains))
	ids := make([]int, 0, len(cfg.Chains))
	for id := range cfg.Chains {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		chainCfg := cfg.Chains[id]
		client, err := chainclient.New(ctx, chainclient.Config{
			ChainID:          id,
			RPCURL:           chainCfg.RPCURL,
			PrivateKey:       cfg.PrivateKey,
			MaxGasPrice:      cfg.MaxGasPrice,
			ReceiptTimeout:   cfg.Timings.ReceiptTimeout,
			BreakerEnabled:   cfg.CircuitBreaker.Enabled,
			BreakerThreshold: cfg.CircuitBreaker.Threshold,
			BreakerWindow:    cfg.CircuitBreaker.WindowDuration,
			BreakerReset:     cfg.CircuitBreaker.ResetTimeout,
		}, nonces, l)
		if err != nil {
			r.close()
			return nil, fmt.Errorf("failed to create %s client: %v", chainCfg.Name, err)
		}
		l.InfoWithChain(id, "Connected to %s, relayer address %s", chainCfg.Name, client.Address().Hex())
		byID[id] = client
		r.clients = append(r.clients, client)
	}

	chains := settlement.Chains{
		Lisk:         byID[config.LiskChainID],
		Optimism:     byID[config.OptimismChainID],
		Destinations: make(map[int64]settlement.ChainRPC),
	}
	for _, id := range cfg.DestinationChainIDs() {
		chains.Destinations[int64(id)] = byID[id]
	}

	r.verifier = intent.NewVerifier(cfg.Domain.Name, cfg.Domain.Version)
	r.executor = settlement.NewExecutor(s, advancer.New(s, l), r.verifier, chains, settlement.Config{
		ExecutorAddress:      common.HexToAddress(cfg.Contracts.Executor),
		VaultAddress:         common.HexToAddress(cfg.Contracts.Vault),
		USDT0Address:         common.HexToAddress(cfg.Contracts.USDT0),
		RewardsVaultAddress:  common.HexToAddress(cfg.Contracts.RewardsVault),
		SafeAddress:          common.HexToAddress(cfg.Contracts.Safe),
		BridgeAdapterAddress: common.HexToAddress(cfg.Contracts.BridgeAdapter),
		BridgeWatch: bridgewatch.Config{
			InitialDelay: cfg.Timings.BridgeWatchInitialDelay,
			Interval:     cfg.Timings.BridgeWatchInterval,
			Timeout:      cfg.Timings.BridgeWatchTimeout,
		},
		RedeemBalanceTimeout: cfg.Timings.RedeemBalanceTimeout,
		StaleLegAfter:        cfg.Timings.StaleLegAfter,
	}, l)
	r.service = settlement.NewService(r.executor, s, cfg.WorkerCount, l)
	return r, nil
}

// start launches the gas price routines and the settlement workers
func (r *relayer) start(ctx context.Context, gasInterval time.Duration) {
	for _, client := range r.clients {
		chainclient.NewGasPriceRoutine(client, gasInterval, r.logger).Start(ctx)
	}
	if err := r.executor.RestoreHolds(ctx); err != nil {
		r.logger.Error("Could not restore USDT0 holds: %v", err)
	}
	r.service.Start(ctx)
}

func (r *relayer) close() {
	for _, client := range r.clients {
		client.Close()
	}
	r.store.Close()
}

func serve(ctx context.Context, cfg *config.Config, relayerID string, l logger.Logger) error {
	r, err := newRelayer(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer r.close()

	r.start(ctx, cfg.GasUpdateInterval)

	apiChains := make([]api.Chain, 0, len(r.clients))
	for _, client := range r.clients {
		apiChains = append(apiChains, client)
	}
	server := api.NewServer(api.Config{
		Port:           cfg.APIPort,
		MetricsAPIKey:  cfg.MetricsAPIKey,
		RelayerID:      relayerID,
		AllowedOrigins: cfg.AllowedOrigins,
	}, r.store, r.verifier, r.service, r.executor, apiChains, l)

	l.Info("Relayer %s started with %d workers", relayerID, cfg.WorkerCount)
	err = server.Start(ctx)
	r.service.Wait()
	return err
}

func recoverIntents(ctx context.Context, cfg *config.Config, user string, local bool, l logger.Logger) error {
	if !common.IsHexAddress(user) {
		return fmt.Errorf("--user must be a valid address, got %q", user)
	}

	cache, err := newActiveCache(cfg, l)
	if err != nil {
		return err
	}

	var server recovery.Server
	if local {
		r, err := newRelayer(ctx, cfg, l)
		if err != nil {
			return err
		}
		defer r.close()
		r.start(ctx, cfg.GasUpdateInterval)
		server = recovery.NewLocalServer(r.store, r.service)
	} else {
		server = relayclient.New(cfg.RelayAPIURL, l)
	}

	orchestrator := recovery.New(server, cache, recovery.Config{PollInterval: cfg.Timings.RecoveryPollInterval}, l)
	statuses, err := orchestrator.Run(ctx, user)

	refIDs := make([]string, 0, len(statuses))
	for refID := range statuses {
		refIDs = append(refIDs, refID)
	}
	sort.Strings(refIDs)
	for _, refID := range refIDs {
		l.Info("%s: %s", refID, statuses[refID])
	}
	return err
}

func newActiveCache(cfg *config.Config, l logger.Logger) (recovery.ActiveCache, error) {
	switch {
	case cfg.Redis.Addr != "":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		l.Debug("Active intents cached in redis at %s", cfg.Redis.Addr)
		return recovery.NewRedisCache(client, recovery.DefaultRedisKey), nil
	case cfg.ActiveCachePath != "":
		cache, err := recovery.NewFileCache(cfg.ActiveCachePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open active cache: %v", err)
		}
		l.Debug("Active intents cached in %s", cfg.ActiveCachePath)
		return cache, nil
	default:
		return recovery.NewMemoryCache(), nil
	}
}
