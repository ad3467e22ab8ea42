package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/zj793039327/jBrowserDriver/internal/backend"
	"github.com/zj793039327/jBrowserDriver/internal/command"
	"github.com/zj793039327/jBrowserDriver/internal/engine"
	"github.com/zj793039327/jBrowserDriver/internal/profile"
	"github.com/zj793039327/jBrowserDriver/internal/session"
	"github.com/zj793039327/jBrowserDriver/pkg/models"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	sessionMgr *session.Manager
	router     *command.Router
	log        logrus.FieldLogger
}

// NewHandler creates a new HTTP handler
func NewHandler(sessionMgr *session.Manager, router *command.Router, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		sessionMgr: sessionMgr,
		router:     router,
		log:        log,
	}
}

// CreateSession handles POST /v1/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	sess, err := h.sessionMgr.CreateSession(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

// GetSession handles GET /v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessionMgr.GetSession(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// ListSessions handles GET /v1/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectId")
	status := models.SessionStatus(r.URL.Query().Get("status"))

	sessions := h.sessionMgr.ListSessions(projectID, status)
	if sessions == nil {
		sessions = []*models.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// DeleteSession handles DELETE /v1/sessions/{id}
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessionMgr.DeleteSession(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SessionCommand handles POST /v1/sessions/{id}/commands
func (h *Handler) SessionCommand(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessionMgr.Session(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req models.CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	// command failures travel in the body
	writeJSON(w, http.StatusOK, h.router.Dispatch(r.Context(), sess, req))
}

// NavigateSession handles POST /v1/sessions/{id}/navigate
func (h *Handler) NavigateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessionMgr.Session(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req models.NavigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		http.Error(w, "Invalid request: url is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := sess.Get(ctx, req.URL); err != nil {
		h.writeError(w, err)
		return
	}
	code, err := sess.StatusCode(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	current, err := sess.CurrentURL(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.NavigateResponse{URL: current, Status: code})
}

// ResetSession handles POST /v1/sessions/{id}/reset
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessionMgr.Session(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}

	// a reset replaces every setting, so the body must carry all of them
	var settings models.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := sess.Reset(r.Context(), settings); err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess.Settings())
}

// GetSessionScreenshot handles GET /v1/sessions/{id}/screenshot
func (h *Handler) GetSessionScreenshot(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessionMgr.Session(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}

	png, err := sess.Screenshot(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Write(png)
}

// ProjectUsage handles GET /v1/projects/{id}/usage
func (h *Handler) ProjectUsage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessionMgr.Usage(mux.Vars(r)["id"]))
}

// Healthz handles GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// projectOf finds the project a request counts against: the projectId query
// parameter, the X-Project-ID header, or the project of the addressed session.
func (h *Handler) projectOf(r *http.Request) string {
	if projectID := r.URL.Query().Get("projectId"); projectID != "" {
		return projectID
	}
	if projectID := r.Header.Get("X-Project-ID"); projectID != "" {
		return projectID
	}
	if id := mux.Vars(r)["id"]; id != "" {
		if sess, err := h.sessionMgr.GetSession(id); err == nil {
			return sess.ProjectID
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusOf maps domain errors to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, profile.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNotRunning), errors.Is(err, session.ErrUnavailable):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidArgument), errors.Is(err, backend.ErrUnknownBackend):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, session.ErrBootstrap):
		return http.StatusBadGateway
	case errors.Is(err, engine.ErrUnsupported):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).Error("request failed")
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  command.Code(err),
	})
}
