package handlers

import (
	"context"
	"net/http"
	"time"

	"dicegame/internal/logger"
)

// PingResponse is the response for the ping endpoint
type PingResponse struct {
	Status      string `json:"status"`
	Initialized bool   `json:"initialized"`
}

// PingHandler handles the /api/ping endpoint
func (h *Handler) PingHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	_, err := h.engine.Config(ctx)
	if err != nil && statusForError(err) == http.StatusInternalServerError {
		logger.Error("api", "ping_failed", err)
		respondWithError(w, "database unhealthy", http.StatusServiceUnavailable)
		return
	}

	respondJSON(w, http.StatusOK, PingResponse{
		Status:      "ok",
		Initialized: err == nil,
	})
}
