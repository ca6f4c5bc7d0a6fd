package api

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/superyldr/relayer/pkg/circuitbreaker"
)

type chainStatus struct {
	ChainID     int                  `json:"chainId"`
	Address     string               `json:"address"`
	LatestBlock uint64               `json:"latestBlock,omitempty"`
	GasPrice    string               `json:"gasPrice,omitempty"`
	Error       string               `json:"error,omitempty"`
	Circuit     circuitbreaker.State `json:"circuit"`
}

type statusResponse struct {
	RelayerID string        `json:"relayerId"`
	Uptime    string        `json:"uptime"`
	Chains    []chainStatus `json:"chains"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports ready once every chain answers a block number query
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	for chainID, chain := range s.chains {
		if _, err := chain.GetLatestBlockNumber(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf("Chain %d not reachable", chainID)))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		RelayerID: s.cfg.RelayerID,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}

	for chainID, chain := range s.chains {
		status := chainStatus{
			ChainID: chainID,
			Address: chain.Address().Hex(),
			Circuit: chain.Breaker().GetState(),
		}
		if block, err := chain.GetLatestBlockNumber(r.Context()); err != nil {
			status.Error = err.Error()
		} else {
			status.LatestBlock = block
		}
		if price := chain.CurrentGasPrice(); price != nil {
			status.GasPrice = price.String()
		}
		resp.Chains = append(resp.Chains, status)
	}
	sort.Slice(resp.Chains, func(i, j int) bool { return resp.Chains[i].ChainID < resp.Chains[j].ChainID })

	respondWithJSON(w, http.StatusOK, resp)
}

// handleCircuitReset closes the submission breaker of ?chain=
func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	chainIDStr := r.URL.Query().Get("chain")
	if chainIDStr == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Missing chain parameter"))
		return
	}

	chainID, err := strconv.Atoi(chainIDStr)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Invalid chain ID"))
		return
	}

	chain, ok := s.chains[chainID]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(fmt.Sprintf("No circuit breaker for chain %d", chainID)))
		return
	}

	chain.Breaker().Reset()
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(fmt.Sprintf("Circuit breaker for chain %d reset", chainID)))
}
