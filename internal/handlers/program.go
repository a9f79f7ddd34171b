package handlers

import (
	"encoding/json"
	"net/http"

	"dicegame/internal/logger"
)

// InitializeRequest is the request body for POST /api/v1/initialize
type InitializeRequest struct {
	Amount uint64 `json:"amount"` // initial vault funding in lamports
}

// HandleInitialize handles the POST /api/v1/initialize endpoint. Only the
// configured authority may sign it.
func (h *Handler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	signer, ok := signerFromContext(w, r)
	if !ok {
		return
	}
	if signer != h.authority {
		logger.Info(signer.String(), "initialize_forbidden", "signer is not the authority")
		respondWithError(w, "Forbidden: authority only", http.StatusForbidden)
		return
	}

	var req InitializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	cfg, err := h.engine.Initialize(r.Context(), signer, req.Amount, h.params)
	if err != nil {
		respondWithEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, cfg)
}

// HandleConfig handles the GET /api/v1/config endpoint
func (h *Handler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.engine.Config(r.Context())
	if err != nil {
		respondWithEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

// HandleVault handles the GET /api/v1/vault endpoint
func (h *Handler) HandleVault(w http.ResponseWriter, r *http.Request) {
	vault, err := h.engine.Vault(r.Context())
	if err != nil {
		respondWithEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, vault)
}
