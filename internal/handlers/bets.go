package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gagliardetto/solana-go"

	"dicegame/internal/logger"
	"dicegame/internal/service"
)

// PlaceBetRequest is the request body for placing a bet
type PlaceBetRequest struct {
	Seed   uint64 `json:"seed"`
	Roll   uint8  `json:"roll"`
	Amount uint64 `json:"amount"`
}

// ResolveBetRequest carries the oracle signature over the bet message
type ResolveBetRequest struct {
	Signature string `json:"signature"` // base58
}

// ListBetsResponse is the response for GET /api/v1/bets
type ListBetsResponse struct {
	Bets []*service.OpenBet `json:"bets"`
}

// HandlePlaceBet handles the POST /api/v1/bets endpoint. The signer is the player.
func (h *Handler) HandlePlaceBet(w http.ResponseWriter, r *http.Request) {
	player, ok := signerFromContext(w, r)
	if !ok {
		return
	}

	var req PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	bet, err := h.engine.PlaceBet(r.Context(), player, req.Seed, req.Roll, req.Amount)
	if err != nil {
		logger.Debug(player.String(), "place_bet_rejected", err.Error())
		respondWithEngineError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, bet)
}

// HandleListBets handles the GET /api/v1/bets endpoint
func (h *Handler) HandleListBets(w http.ResponseWriter, r *http.Request) {
	bets, err := h.engine.OpenBets(r.Context(), parseIntParam(r, "limit", 50))
	if err != nil {
		respondWithEngineError(w, r, err)
		return
	}
	if bets == nil {
		bets = []*service.OpenBet{}
	}
	respondJSON(w, http.StatusOK, ListBetsResponse{Bets: bets})
}

// HandleGetBet handles the GET /api/v1/bets/{address} endpoint
func (h *Handler) HandleGetBet(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}

	bet, err := h.engine.Bet(r.Context(), addr)
	if err != nil {
		respondWithEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, bet)
}

// HandleResolveBet handles the POST /api/v1/bets/{address}/resolve endpoint.
// Anyone may submit; the oracle signature is the authorization.
func (h *Handler) HandleResolveBet(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}

	var req ResolveBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	sig, err := solana.SignatureFromBase58(req.Signature)
	if err != nil {
		respondWithError(w, fmt.Sprintf("Invalid signature encoding: %v", err), http.StatusBadRequest)
		return
	}

	settlement, err := h.engine.ResolveBet(r.Context(), addr, sig[:])
	if err != nil {
		logger.Debug(addr.String(), "resolve_rejected", err.Error())
		respondWithEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, settlement)
}

// HandleRefundBet handles the POST /api/v1/bets/{address}/refund endpoint.
// Only the player who placed the bet may claim the refund.
func (h *Handler) HandleRefundBet(w http.ResponseWriter, r *http.Request) {
	caller, ok := signerFromContext(w, r)
	if !ok {
		return
	}
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}

	settlement, err := h.engine.RefundBet(r.Context(), caller, addr)
	if err != nil {
		logger.Debug(caller.String(), "refund_rejected", err.Error())
		respondWithEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, settlement)
}
