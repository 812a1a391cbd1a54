package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/oriys/ces/internal/domain"
)

// errorResponse is the fixed {detail} envelope every non-2xx response
// uses, per §4.3.
type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Detail: err.Error()})
}

func writeErrorMsg(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

// statusFor maps the domain error taxonomy (§7) to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrSessionGone):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPathEscape):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrPluginLoadFailed):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrKernelStartFailed), errors.Is(err, domain.ErrSupervisor):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
