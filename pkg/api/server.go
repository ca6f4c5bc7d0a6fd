// Package api exposes intent creation, status, nudge and route progress,
// together with the health, status and metrics endpoints of the relayer.
package api

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/superyldr/relayer/pkg/circuitbreaker"
	"github.com/superyldr/relayer/pkg/intent"
	"github.com/superyldr/relayer/pkg/logger"
	"github.com/superyldr/relayer/pkg/settlement"
	"github.com/superyldr/relayer/pkg/store"
)

// Chain is the view of a chain client the status endpoints need
type Chain interface {
	ID() int
	Address() common.Address
	Breaker() *circuitbreaker.CircuitBreaker
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
	CurrentGasPrice() *big.Int
}

// Nudger queues a settlement pass for an intent
type Nudger interface {
	Nudge(source, refID string) bool
}

// RouteRecorder stores the client's bridge transaction on a deposit
type RouteRecorder interface {
	RecordRouteProgress(ctx context.Context, refID string, p settlement.RouteProgress) error
}

// Config holds the HTTP settings
type Config struct {
	Port           string
	MetricsAPIKey  string
	RelayerID      string
	AllowedOrigins []string

	// decimals of the settled token, for amountHuman
	Decimals int32
}

// Server serves the relayer API
type Server struct {
	cfg      Config
	store    store.Store
	verifier *intent.Verifier
	nudger   Nudger
	routes   RouteRecorder
	chains   map[int]Chain
	logger   logger.Logger
	started  time.Time
}

// NewServer creates a new API server
func NewServer(cfg Config, s store.Store, verifier *intent.Verifier, nudger Nudger, routes RouteRecorder, chains []Chain, l logger.Logger) *Server {
	if cfg.Decimals == 0 {
		cfg.Decimals = 6
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"https://*", "http://*"}
	}
	byID := make(map[int]Chain, len(chains))
	for _, c := range chains {
		byID[c.ID()] = c
	}
	return &Server{
		cfg:      cfg,
		store:    s,
		verifier: verifier,
		nudger:   nudger,
		routes:   routes,
		chains:   byID,
		logger:   l,
		started:  time.Now(),
	}
}

// Router builds the HTTP handler
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/status", s.handleStatus)
	r.Post("/circuit/reset", s.handleCircuitReset)
	r.With(s.metricsAuthMiddleware).Handle("/metrics", promhttp.Handler())

	r.Route("/intents", func(r chi.Router) {
		r.Post("/deposit", s.handleCreateDeposit)
		r.Post("/withdraw", s.handleCreateWithdraw)
		r.Get("/pending", s.handlePending)
		r.Post("/nudge", s.handleNudge)
		r.Get("/{refId}", s.handleGetIntent)
		r.Post("/{refId}/route-progress", s.handleRouteProgress)
	})

	return r
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server on port %s", s.cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// metricsAuthMiddleware is a middleware that checks for a valid API key
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.cfg.MetricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if parts[1] != s.cfg.MetricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
