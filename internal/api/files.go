package api

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/oriys/ces/internal/domain"
)

type uploadFileRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// UploadFile handles POST /sessions/{id}/files. The filename is
// sanitized to its basename, grounded on the teacher's
// controlplane.sanitizePath traversal guard (archive.go), so a
// caller-supplied "../../etc/passwd" cannot escape the session's cwd.
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := h.Registry.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.Config.MaxUploadSize)
	var req uploadFileRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid request body")
		return
	}

	name := filepath.Base(strings.TrimSpace(req.Filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		writeErrorMsg(w, http.StatusBadRequest, "missing or invalid filename")
		return
	}

	var data []byte
	switch req.Encoding {
	case "base64":
		data, err = base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			writeErrorMsg(w, http.StatusBadRequest, "invalid base64 content")
			return
		}
	default:
		data = []byte(req.Content)
	}

	dest := filepath.Join(sess.Cwd, name)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		writeError(w, domain.ErrTransport)
		return
	}

	h.Registry.Touch(id)
	writeJSON(w, http.StatusOK, map[string]string{"filename": name})
}

// DownloadArtifact handles GET /sessions/{id}/artifacts/{name}. 404 if
// the file is absent; 403 if the resolved path escapes the session's
// cwd (the {name} wildcard still accepts subdirectories, so a
// filepath.Rel check is required in addition to filepath.Base).
func (h *Handler) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := h.Registry.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	name := r.PathValue("name")
	resolved := filepath.Join(sess.Cwd, name)

	rel, err := filepath.Rel(sess.Cwd, resolved)
	if err != nil || strings.HasPrefix(rel, "..") {
		writeError(w, domain.ErrPathEscape)
		return
	}

	f, err := os.Open(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, domain.ErrNotFound)
			return
		}
		writeError(w, domain.ErrTransport)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(resolved)+"\"")
	_, _ = io.Copy(w, f)
}
