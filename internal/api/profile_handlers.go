package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/zj793039327/jBrowserDriver/internal/profile"
	"github.com/zj793039327/jBrowserDriver/pkg/models"
)

// ProfileHandler holds dependencies for profile HTTP handlers
type ProfileHandler struct {
	profileMgr *profile.Manager
	errors     *Handler
}

// NewProfileHandler creates a new profile HTTP handler
func NewProfileHandler(profileMgr *profile.Manager, h *Handler) *ProfileHandler {
	return &ProfileHandler{
		profileMgr: profileMgr,
		errors:     h,
	}
}

// CreateProfile handles POST /v1/profiles
func (h *ProfileHandler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req models.CreateProfileRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	p, err := h.profileMgr.CreateProfile(req.ProjectID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// GetProfile handles GET /v1/profiles/{id}
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.profileMgr.GetProfile(mux.Vars(r)["id"])
	if err != nil {
		h.errors.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// DeleteProfile handles DELETE /v1/profiles/{id}
func (h *ProfileHandler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.profileMgr.DeleteProfile(mux.Vars(r)["id"]); err != nil {
		h.errors.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
