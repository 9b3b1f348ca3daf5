package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fluxion/voice-agent/internal/domain"
	"github.com/fluxion/voice-agent/internal/session"
	"github.com/fluxion/voice-agent/pkg/logging"
)

const defaultAnalyticsWindow = 7 * 24 * time.Hour

// SessionReader reads stored sessions. *session.Manager implements it.
type SessionReader interface {
	LoadSession(ctx context.Context, id string) (*domain.Session, error)
	Analytics(ctx context.Context, since time.Time, loc *time.Location) (session.Analytics, error)
}

// SessionsHandler serves the analytics report and single-session lookups.
type SessionsHandler struct {
	sessions SessionReader
	loc      *time.Location
	now      func() time.Time
	logger   *logging.Logger
}

// NewSessionsHandler creates a SessionsHandler. Peak hours are bucketed in
// loc.
func NewSessionsHandler(sessions SessionReader, loc *time.Location, logger *logging.Logger) *SessionsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &SessionsHandler{sessions: sessions, loc: loc, now: time.Now, logger: logger}
}

// HandleAnalytics returns the report for sessions created since the
// RFC 3339 "since" parameter, or over the last seven days.
func (h *SessionsHandler) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	since := h.now().Add(-defaultAnalyticsWindow)
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}
	report, err := h.sessions.Analytics(r.Context(), since, h.loc)
	if err != nil {
		h.logger.Error("analytics failed", "error", err)
		writeError(w, http.StatusInternalServerError, "analytics unavailable")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleSession returns one session with its turns.
func (h *SessionsHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.sessions.LoadSession(r.Context(), id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
		return
	case err != nil:
		h.logger.Error("session lookup failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "session unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s)
}
