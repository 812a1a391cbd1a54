package api

import (
	"encoding/json"
	"net/http"

	"github.com/oriys/ces/internal/domain"
)

type createSessionRequest struct {
	SessionID string `json:"session_id"`
	Cwd       string `json:"cwd"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Cwd       string `json:"cwd"`
}

// CreateSession handles POST /sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorMsg(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	sess, err := h.Registry.Create(r.Context(), req.SessionID, req.Cwd)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.Host.Start(r.Context(), sess.ID, sess.SessionDir, sess.Cwd); err != nil {
		_ = h.Registry.Stop(sess.ID)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: sess.ID,
		Status:    "created",
		Cwd:       sess.Cwd,
	})
}

// ListSessions handles GET /sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Registry.List())
}

// GetSession handles GET /sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// StopSession handles DELETE /sessions/{id}.
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Registry.Stop(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type loadPluginRequest struct {
	Name   string         `json:"name"`
	Code   string         `json:"code"`
	Config map[string]any `json:"config"`
}

// LoadPlugin handles POST /sessions/{id}/plugins.
func (h *Handler) LoadPlugin(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.Registry.Exists(id) {
		writeError(w, domain.ErrNotFound)
		return
	}

	var req loadPluginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeErrorMsg(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.Host.LoadPlugin(id, req.Name, req.Code, req.Config); err != nil {
		writeError(w, err)
		return
	}
	h.Registry.RecordPlugin(id, req.Name)
	w.WriteHeader(http.StatusNoContent)
}

type updateVariablesRequest struct {
	Variables map[string]string `json:"variables"`
}

// UpdateVariables handles POST /sessions/{id}/variables.
func (h *Handler) UpdateVariables(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.Registry.Exists(id) {
		writeError(w, domain.ErrNotFound)
		return
	}

	var req updateVariablesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.Host.UpdateSessionVar(id, req.Variables); err != nil {
		writeError(w, err)
		return
	}
	h.Registry.MergeVariables(id, req.Variables)
	w.WriteHeader(http.StatusNoContent)
}
