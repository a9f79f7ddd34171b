package handlers

import (
	"net/http"

	"dicegame/internal/storage"
)

// HandleLeaderboard handles GET /api/v1/leaderboard
func (h *Handler) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.Leaderboard(r.Context(), parseIntParam(r, "limit", 20))
	if err != nil {
		respondWithEngineError(w, r, err)
		return
	}
	if entries == nil {
		entries = []storage.LeaderboardEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}
