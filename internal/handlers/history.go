package handlers

import (
	"net/http"

	"dicegame/internal/storage"
)

// SettlementsResponse is the audit trail of one bet address
type SettlementsResponse struct {
	BetAddress  string                `json:"bet_address"`
	Settlements []*storage.Settlement `json:"settlements"`
}

// HandleSettlements handles the GET /api/v1/bets/{address}/settlements endpoint.
// A closed bet no longer has a record; this is where its outcome is kept.
func (h *Handler) HandleSettlements(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}

	list, err := h.engine.Settlements(r.Context(), addr)
	if err != nil {
		respondWithEngineError(w, r, err)
		return
	}
	if list == nil {
		list = []*storage.Settlement{}
	}

	respondJSON(w, http.StatusOK, SettlementsResponse{
		BetAddress:  addr.String(),
		Settlements: list,
	})
}
