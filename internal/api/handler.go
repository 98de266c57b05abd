// Package api provides the HTTP surface of the concierge service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/careline/concierge/internal/domain"
	"github.com/careline/concierge/internal/identity"
	"github.com/careline/concierge/internal/orchestrator"
	"github.com/careline/concierge/internal/store"
)

const maxChatBodyBytes = 64 << 10

// Handler provides the REST endpoints.
type Handler struct {
	orch        *orchestrator.Orchestrator
	store       store.Store
	limiter     *RateLimiter
	turnTimeout time.Duration
}

// NewHandler creates a Handler. A nil limiter disables throttling.
func NewHandler(orch *orchestrator.Orchestrator, st store.Store, limiter *RateLimiter, turnTimeout time.Duration) *Handler {
	if turnTimeout <= 0 {
		turnTimeout = 60 * time.Second
	}
	return &Handler{orch: orch, store: st, limiter: limiter, turnTimeout: turnTimeout}
}

// RegisterRoutes mounts the REST endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.handleChat)
	r.Get("/api/session/{sessionID}", h.handleGetSession)
	r.Post("/api/session/{sessionID}/reset", h.handleResetSession)
	r.Get("/api/health", h.handleHealth)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	domain.ChatResponse
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID := identity.SessionIDFromContext(r.Context())
	if req.SessionID != "" {
		id, ok := identity.Sanitize(req.SessionID)
		if !ok {
			Error(w, http.StatusBadRequest, "invalid session_id")
			return
		}
		sessionID = id
	}
	if sessionID == "" {
		sessionID = identity.NewSessionID()
	}

	if h.limiter != nil && !h.limiter.Allow(sessionID) {
		Error(w, http.StatusTooManyRequests, "too many requests, slow down")
		return
	}

	ctx, cancel := context.WithTimeout(identity.WithSessionID(r.Context(), sessionID), h.turnTimeout)
	defer cancel()

	resp, err := h.orch.ProcessMessage(ctx, sessionID, req.Message)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to process message")
		return
	}
	JSON(w, http.StatusOK, chatResponse{SessionID: sessionID, ChatResponse: resp})
}

// sessionView is the redacted external shape of a session: verification
// internals and buffered queries stay server-side.
type sessionView struct {
	ID           string           `json:"id"`
	AuthState    domain.AuthState `json:"auth_state"`
	CustomerName string           `json:"customer_name,omitempty"`
	Turns        int              `json:"turns"`
	History      []domain.Message `json:"history"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := identity.Sanitize(chi.URLParam(r, "sessionID"))
	if !ok {
		Error(w, http.StatusBadRequest, "invalid session id")
		return
	}

	session, err := h.orch.Session(r.Context(), sessionID)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if session == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	JSON(w, http.StatusOK, sessionView{
		ID:           session.ID,
		AuthState:    session.UserContext.AuthState,
		CustomerName: session.UserContext.CustomerName,
		Turns:        len(session.History),
		History:      session.History,
		CreatedAt:    session.CreatedAt,
		UpdatedAt:    session.UpdatedAt,
	})
}

func (h *Handler) handleResetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := identity.Sanitize(chi.URLParam(r, "sessionID"))
	if !ok {
		Error(w, http.StatusBadRequest, "invalid session id")
		return
	}

	err := h.orch.Reset(r.Context(), sessionID)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to reset session")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		Error(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
