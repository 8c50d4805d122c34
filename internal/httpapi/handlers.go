// Package httpapi is the thin request/response surface over the command
// processor: session and timer creation plus session fetch, mirroring the
// websocket protocol's entities.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/kparsons/timehub/internal/command"
	"github.com/kparsons/timehub/internal/event"
	"github.com/kparsons/timehub/internal/gateway"
)

type Handler struct {
	processor gateway.CommandProcessor
}

func NewHandler(processor gateway.CommandProcessor) *Handler {
	return &Handler{processor: processor}
}

type createSessionRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type createTimerRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CreateSession handles POST /api/sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	// An empty body is fine; only a malformed one is rejected.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.processor.CreateSession(r.Context(), req.Title, req.Description)
	if err != nil {
		log.Error().Err(err).Msg("create session failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// GetSession handles GET /api/sessions/{id}, returning the session with its
// timers embedded.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	session, timers, err := h.processor.JoinSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, command.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		log.Error().Err(err).Str("session_id", id).Msg("get session failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, event.SessionDataPayload{Session: session, Timers: timers})
}

// CreateTimer handles POST /api/sessions/{id}/timers.
func (h *Handler) CreateTimer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req createTimerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	timer, err := h.processor.CreateTimer(r.Context(), id, req.Title, req.Description)
	if err != nil {
		if errors.Is(err, command.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		log.Error().Err(err).Str("session_id", id).Msg("create timer failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, timer)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
