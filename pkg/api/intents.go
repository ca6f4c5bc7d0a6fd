package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/superyldr/relayer/pkg/intent"
	"github.com/superyldr/relayer/pkg/metrics"
	"github.com/superyldr/relayer/pkg/models"
	"github.com/superyldr/relayer/pkg/settlement"
	"github.com/superyldr/relayer/pkg/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

type pendingResponse struct {
	Intents []models.StatusView `json:"intents"`
	Count   int                 `json:"count"`
}

type nudgeRequest struct {
	RefID string `json:"refId"`
}

type nudgeResponse struct {
	RefID     string `json:"refId"`
	Queued    bool   `json:"queued"`
	RequestID string `json:"requestId"`
}

type routeProgressRequest struct {
	FromTxHash     string `json:"fromTxHash"`
	FromChainID    int64  `json:"fromChainId"`
	ToChainID      int64  `json:"toChainId"`
	ToTokenAddress string `json:"toTokenAddress"`
}

func (s *Server) handleCreateDeposit(w http.ResponseWriter, r *http.Request) {
	var req intent.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := intent.ParseDeposit(req)
	if err != nil {
		s.rejected(w, models.FlowDeposit, http.StatusBadRequest, err)
		return
	}
	if err := checkDeadline(d.Deadline); err != nil {
		s.rejected(w, models.FlowDeposit, http.StatusBadRequest, err)
		return
	}
	if err := s.verifier.VerifyDeposit(d, req.SignedChainID, req.Signature); err != nil {
		s.rejected(w, models.FlowDeposit, http.StatusUnauthorized, err)
		return
	}
	s.createIntent(w, r, d.Record(req.SignedChainID, req.Signature))
}

func (s *Server) handleCreateWithdraw(w http.ResponseWriter, r *http.Request) {
	var req intent.WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wi, err := intent.ParseWithdraw(req)
	if err != nil {
		s.rejected(w, models.FlowWithdraw, http.StatusBadRequest, err)
		return
	}
	if err := checkDeadline(wi.Deadline); err != nil {
		s.rejected(w, models.FlowWithdraw, http.StatusBadRequest, err)
		return
	}
	if err := s.verifier.VerifyWithdraw(wi, req.SignedChainID, req.Signature); err != nil {
		s.rejected(w, models.FlowWithdraw, http.StatusUnauthorized, err)
		return
	}
	s.createIntent(w, r, wi.Record(req.SignedChainID, req.Signature))
}

// checkDeadline refuses intents whose deadline has already passed
func checkDeadline(deadline *big.Int) error {
	if deadline != nil && deadline.Cmp(big.NewInt(time.Now().Unix())) < 0 {
		return models.NewValidationError("deadline %s has passed", deadline)
	}
	return nil
}

func (s *Server) rejected(w http.ResponseWriter, flow models.Flow, code int, err error) {
	metrics.ValidationErrors.WithLabelValues(string(flow)).Inc()
	respondWithError(w, code, err.Error())
}

// createIntent stores a verified intent as PENDING. Resubmitting the same
// signed intent returns the stored record; a different intent under a taken
// refId is a conflict.
func (s *Server) createIntent(w http.ResponseWriter, r *http.Request, rec *models.Record) {
	err := s.store.Create(r.Context(), rec)
	if errors.Is(err, models.ErrAlreadyExists) {
		existing, findErr := s.store.FindByRefID(r.Context(), rec.RefID)
		if findErr != nil {
			respondWithError(w, http.StatusInternalServerError, findErr.Error())
			return
		}
		if !sameIntent(existing, rec) {
			s.rejected(w, rec.Flow, http.StatusConflict, models.NewValidationError("refId %s is already used by another intent", rec.RefID))
			return
		}
		s.nudger.Nudge("api", existing.RefID)
		respondWithJSON(w, http.StatusOK, s.view(existing))
		return
	}
	if err != nil {
		s.logger.Error("Failed to create intent %s: %v", rec.RefID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to store intent")
		return
	}

	metrics.IntentsCreated.WithLabelValues(string(rec.Flow)).Inc()
	s.logger.Info("Intent %s created: %s by %s (request %s)", rec.RefID, rec.Flow, rec.User, middleware.GetReqID(r.Context()))
	s.nudger.Nudge("api", rec.RefID)

	stored, err := s.store.FindByRefID(r.Context(), rec.RefID)
	if err != nil {
		stored = rec
	}
	respondWithJSON(w, http.StatusCreated, s.view(stored))
}

func sameIntent(a, b *models.Record) bool {
	return a.Flow == b.Flow &&
		strings.EqualFold(a.User, b.User) &&
		a.SignedChainID == b.SignedChainID &&
		strings.EqualFold(a.Signature, b.Signature) &&
		a.Nonce == b.Nonce &&
		a.Deadline == b.Deadline &&
		strings.EqualFold(a.AdapterKey, b.AdapterKey) &&
		strings.EqualFold(a.Asset, b.Asset) &&
		a.Amount == b.Amount &&
		a.MinAmount == b.MinAmount &&
		a.AmountShares == b.AmountShares &&
		strings.EqualFold(a.DstToken, b.DstToken) &&
		a.MinAmountOut == b.MinAmountOut &&
		a.DstChainID == b.DstChainID
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		respondWithError(w, http.StatusBadRequest, "missing user parameter")
		return
	}

	recs, err := s.store.ListPendingByUser(r.Context(), user, store.DefaultPendingLimit)
	if err != nil {
		s.logger.Error("Failed to list pending intents for %s: %v", user, err)
		respondWithError(w, http.StatusInternalServerError, "failed to list intents")
		return
	}

	resp := pendingResponse{Intents: make([]models.StatusView, 0, len(recs))}
	for _, rec := range recs {
		resp.Intents = append(resp.Intents, s.view(rec))
	}
	resp.Count = len(resp.Intents)
	respondWithJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.findIntent(w, r, chi.URLParam(r, "refId"))
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, s.view(rec))
}

func (s *Server) handleNudge(w http.ResponseWriter, r *http.Request) {
	var req nudgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefID == "" {
		respondWithError(w, http.StatusBadRequest, "refId is required")
		return
	}
	rec, ok := s.findIntent(w, r, req.RefID)
	if !ok {
		return
	}

	resp := nudgeResponse{RefID: rec.RefID, RequestID: uuid.NewString()}
	if !rec.Status.IsTerminal() {
		resp.Queued = s.nudger.Nudge("api", rec.RefID)
	}
	respondWithJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleRouteProgress(w http.ResponseWriter, r *http.Request) {
	refID := chi.URLParam(r, "refId")

	var req routeProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FromTxHash == "" {
		respondWithError(w, http.StatusBadRequest, "fromTxHash is required")
		return
	}

	err := s.routes.RecordRouteProgress(r.Context(), refID, settlement.RouteProgress{
		FromTxHash:     req.FromTxHash,
		FromChainID:    req.FromChainID,
		ToChainID:      req.ToChainID,
		ToTokenAddress: req.ToTokenAddress,
	})
	switch {
	case errors.Is(err, models.ErrNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
		return
	case models.IsValidation(err):
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	case models.IsConflict(err):
		respondWithError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("Failed to record route progress for %s: %v", refID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to record route progress")
		return
	}

	s.nudger.Nudge("route", refID)
	rec, ok := s.findIntent(w, r, refID)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, s.view(rec))
}

func (s *Server) findIntent(w http.ResponseWriter, r *http.Request, refID string) (*models.Record, bool) {
	rec, err := s.store.FindByRefID(r.Context(), refID)
	if errors.Is(err, models.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	if err != nil {
		s.logger.Error("Failed to read intent %s: %v", refID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to read intent")
		return nil, false
	}
	return rec, true
}

// view adds amountHuman: the best known amount in token units
func (s *Server) view(rec *models.Record) models.StatusView {
	v := rec.View()
	for _, amount := range []string{rec.AmountOut, rec.BridgedAmount, rec.Amount} {
		if amount == "" {
			continue
		}
		if d, err := decimal.NewFromString(amount); err == nil {
			v.AmountHuman = d.Shift(-s.cfg.Decimals).String()
		}
		break
	}
	return v
}

// respondWithJSON is a helper function to write JSON responses
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, errorResponse{Error: message})
}
