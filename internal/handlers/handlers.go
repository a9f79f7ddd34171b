package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"dicegame/internal/auth"
	"dicegame/internal/logger"
	"dicegame/internal/service"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	engine       *service.Engine
	authority    solana.PublicKey
	params       service.InitParams
	welcomeBonus uint64
}

// NewHandler creates a new handler. Only authority may call initialize, and
// it always initializes with params.
func NewHandler(engine *service.Engine, authority solana.PublicKey, params service.InitParams, welcomeBonus uint64) *Handler {
	return &Handler{
		engine:       engine,
		authority:    authority,
		params:       params,
		welcomeBonus: welcomeBonus,
	}
}

// NewRouter wires every route
func NewRouter(h *Handler, corsOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", auth.HeaderSigner, auth.HeaderTimestamp, auth.HeaderSignature},
		MaxAge:         300,
	}))

	r.Get("/api/ping", h.PingHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/config", h.HandleConfig)
		r.Get("/vault", h.HandleVault)
		r.Get("/leaderboard", h.HandleLeaderboard)
		r.With(auth.Middleware).Post("/initialize", h.HandleInitialize)

		r.Route("/wallets", func(r chi.Router) {
			r.With(auth.Middleware).Post("/", h.HandleCreateWallet)
			r.Get("/{address}", h.HandleWallet)
		})

		r.Route("/bets", func(r chi.Router) {
			r.Get("/", h.HandleListBets)
			r.With(auth.Middleware).Post("/", h.HandlePlaceBet)
			r.Get("/{address}", h.HandleGetBet)
			r.Get("/{address}/settlements", h.HandleSettlements)
			r.Post("/{address}/resolve", h.HandleResolveBet)
			r.With(auth.Middleware).Post("/{address}/refund", h.HandleRefundBet)
		})
	})

	return r
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, message string, statusCode int) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}

// respondWithEngineError maps an engine error to its status code
func respondWithEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		logger.Error(middleware.GetReqID(r.Context()), "request_failed", err)
		respondWithError(w, "Internal server error", status)
		return
	}
	respondWithError(w, err.Error(), status)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidRoll),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidConfig),
		errors.Is(err, service.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden
	// Checked before ErrBetNotFound, which it wraps
	case errors.Is(err, service.ErrAlreadyResolved),
		errors.Is(err, service.ErrAlreadyInitialized),
		errors.Is(err, service.ErrNotInitialized),
		errors.Is(err, service.ErrDuplicateOpenBet),
		errors.Is(err, service.ErrSeedAlreadyUsed),
		errors.Is(err, service.ErrWalletExists),
		errors.Is(err, service.ErrRefundNotYetEligible):
		return http.StatusConflict
	case errors.Is(err, service.ErrBetNotFound),
		errors.Is(err, service.ErrWalletNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInsufficientFunds),
		errors.Is(err, service.ErrInsufficientVaultReserve),
		errors.Is(err, service.ErrVaultUnderfunded),
		errors.Is(err, service.ErrArithmeticOverflow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// addressParam parses the {address} URL parameter
func addressParam(w http.ResponseWriter, r *http.Request) (solana.PublicKey, bool) {
	addr, err := solana.PublicKeyFromBase58(chi.URLParam(r, "address"))
	if err != nil {
		respondWithError(w, "Invalid address", http.StatusBadRequest)
		return solana.PublicKey{}, false
	}
	return addr, true
}

// signerFromContext returns the authenticated wallet set by auth.Middleware
func signerFromContext(w http.ResponseWriter, r *http.Request) (solana.PublicKey, bool) {
	signer, ok := auth.GetSignerFromContext(r.Context())
	if !ok {
		respondWithError(w, "Unauthorized: signer not in context", http.StatusUnauthorized)
		return solana.PublicKey{}, false
	}
	return signer, true
}

func parseIntParam(r *http.Request, key string, defaultValue int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
