// Package chat exposes the staff-facing REST surface: the open-session
// listing for the dispatch dashboard, transcript reads, and the close
// action.
package chat

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	chatservice "github.com/hotel7days/concierge/backend/internal/service/chat"
	"github.com/hotel7days/concierge/backend/internal/store"
	"github.com/hotel7days/concierge/backend/pkg/utils"
)

// Handler serves the REST chat routes.
type Handler struct {
	svc *chatservice.Service
}

// New creates the REST handler.
func New(svc *chatservice.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the chat routes on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/chat/session", func(r chi.Router) {
		r.Get("/open", h.handleOpenSessions)
		r.Get("/{sessionID}/messages", h.handleMessages)
		r.Post("/{sessionID}/close", h.handleClose)
	})
}

func (h *Handler) handleOpenSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svc.OpenSessions(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	utils.RespondData(w, http.StatusOK, sessions)
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			utils.RespondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	messages, err := h.svc.History(r.Context(), sessionID, limit)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	utils.RespondData(w, http.StatusOK, messages)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	// Identity comes from the authentication collaborator upstream; the
	// header is its hand-off, not a credential check.
	staffID := r.Header.Get("X-Staff-Id")

	notice, err := h.svc.Close(r.Context(), sessionID, staffID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSessionNotFound):
			utils.RespondError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, store.ErrAlreadyClosed):
			utils.RespondError(w, http.StatusConflict, "session already closed")
		default:
			utils.RespondError(w, http.StatusInternalServerError, "failed to close session")
		}
		return
	}
	utils.RespondData(w, http.StatusOK, notice)
}

func parseSessionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "sessionID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		utils.RespondError(w, http.StatusBadRequest, "invalid session id")
		return 0, false
	}
	return id, true
}
