package store

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crash-lite/crash"
)

// UserResolver maps an incoming request to an authenticated user ID.
type UserResolver func(r *http.Request) (uint64, bool)

type Handler struct {
	service Service
	resolve UserResolver
}

func NewHandler(service Service, resolve UserResolver) *Handler {
	return &Handler{service: service, resolve: resolve}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/history/rounds", h.handleRounds)
	mux.HandleFunc("/api/history/bets", h.handleBets)
	mux.HandleFunc("/api/fair/verify", h.handleVerify)
}

func (h *Handler) handleRounds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx, cancel := contextWithTimeout(r)
	defer cancel()

	rounds, err := h.service.ListRecentRounds(ctx, limitParam(r))
	if err != nil {
		log.Printf("[Store] list rounds failed: %v", err)
		httpError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	httpJSON(w, http.StatusOK, map[string]any{"rounds": rounds})
}

func (h *Handler) handleBets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, ok := h.resolve(r)
	if !ok {
		httpError(w, http.StatusUnauthorized, "invalid session")
		return
	}
	ctx, cancel := contextWithTimeout(r)
	defer cancel()

	bets, err := h.service.ListUserBets(ctx, userID, limitParam(r))
	if err != nil {
		log.Printf("[Store] list bets failed for user %d: %v", userID, err)
		httpError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	httpJSON(w, http.StatusOK, map[string]any{"bets": bets})
}

// handleVerify recomputes a crash point from revealed seed material. It is
// a pure computation so it needs no auth and touches no storage.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	serverSeed := strings.TrimSpace(q.Get("server_seed"))
	clientSeed := strings.TrimSpace(q.Get("client_seed"))
	if serverSeed == "" || clientSeed == "" {
		httpError(w, http.StatusBadRequest, "server_seed and client_seed are required")
		return
	}
	nonce, err := strconv.ParseUint(strings.TrimSpace(q.Get("nonce")), 10, 64)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid nonce")
		return
	}

	cfg := crash.DefaultConfig()
	crashPoint := crash.DeriveCrashPoint(serverSeed, clientSeed, nonce,
		cfg.HouseEdge, cfg.MinMultiplier, cfg.MaxMultiplier)

	httpJSON(w, http.StatusOK, map[string]any{
		"server_seed_hash": crash.HashServerSeed(serverSeed),
		"crash_point":      crashPoint,
		"crash_multiplier": crash.FormatMultiplier(crashPoint),
	})
}

func limitParam(r *http.Request) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return v
}

func contextWithTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 3*time.Second)
}

func httpJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[Store] write response failed: %v", err)
	}
}

func httpError(w http.ResponseWriter, status int, message string) {
	httpJSON(w, status, map[string]string{"error": message})
}
