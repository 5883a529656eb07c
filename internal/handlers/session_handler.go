package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/purgo/internal/models"
	"github.com/ternarybob/purgo/internal/services/sessions"
)

// SessionHandler handles session-related API requests
type SessionHandler struct {
	sessionService *sessions.Service
	logger         arbor.ILogger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessionService *sessions.Service, logger arbor.ILogger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		logger:         logger,
	}
}

// CreateSessionHandler registers a new session for grouped uploads
// POST /api/v1/sessions
func (h *SessionHandler) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := h.sessionService.Create(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to create session")
		WriteError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	details, err := h.sessionService.Get(ctx, id)
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", id).Msg("Created session vanished")
		WriteError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/sessions/%s", id))
	WriteJSON(w, http.StatusCreated, details)
}

// GetSessionHandler returns a session with aggregated member state. The
// member list itself is only included when the jobs query parameter asks
// for it.
// GET /api/v1/sessions/{id}?jobs={bool}
func (h *SessionHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDFromPath(w, r)
	if !ok {
		return
	}

	details, err := h.sessionService.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Session not found")
			return
		}
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to get session")
		WriteError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}

	if withJobs, _ := strconv.ParseBool(r.URL.Query().Get("jobs")); !withJobs {
		details.Jobs = nil
	}
	WriteJSON(w, http.StatusOK, details)
}

// DeleteSessionHandler deletes a session and all of its jobs. Sessions
// with unfinished members are refused with 409.
// DELETE /api/v1/sessions/{id}
func (h *SessionHandler) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDFromPath(w, r)
	if !ok {
		return
	}

	if err := h.sessionService.Delete(r.Context(), sessionID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Session not found")
			return
		}
		if errors.Is(err, models.ErrInvalidState) {
			WriteError(w, http.StatusConflict, "Session still has unfinished jobs")
			return
		}
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to delete session")
		WriteError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// sessionIDFromPath extracts the session id from /api/v1/sessions/{id}.
func sessionIDFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) < 4 || pathParts[3] == "" {
		WriteError(w, http.StatusBadRequest, "Session ID is required")
		return "", false
	}
	return pathParts[3], true
}
