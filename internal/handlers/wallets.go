package handlers

import (
	"net/http"

	"dicegame/internal/logger"
	"dicegame/internal/storage"
)

// WalletResponse is a wallet with its latest balance movements
type WalletResponse struct {
	Wallet       *storage.Account      `json:"wallet"`
	Transactions []storage.Transaction `json:"transactions"`
}

// HandleCreateWallet handles the POST /api/v1/wallets endpoint. The signer
// becomes the wallet owner and receives the welcome bonus.
func (h *Handler) HandleCreateWallet(w http.ResponseWriter, r *http.Request) {
	owner, ok := signerFromContext(w, r)
	if !ok {
		return
	}

	wallet, err := h.engine.CreateWallet(r.Context(), owner, h.welcomeBonus)
	if err != nil {
		respondWithEngineError(w, r, err)
		return
	}

	logger.Info(owner.String(), "wallet_registered", "")
	respondJSON(w, http.StatusCreated, wallet)
}

// HandleWallet handles the GET /api/v1/wallets/{address} endpoint
func (h *Handler) HandleWallet(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}

	wallet, err := h.engine.Wallet(r.Context(), addr)
	if err != nil {
		respondWithEngineError(w, r, err)
		return
	}

	txs, err := h.engine.Ledger(r.Context(), addr, parseIntParam(r, "limit", 50))
	if err != nil {
		respondWithEngineError(w, r, err)
		return
	}
	if txs == nil {
		txs = []storage.Transaction{}
	}

	respondJSON(w, http.StatusOK, WalletResponse{Wallet: wallet, Transactions: txs})
}

