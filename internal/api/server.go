// Package api implements the Execution API (C3): the HTTP surface
// tenants use to create sessions, execute code, stream output, manage
// files/plugins/variables, and fetch artifacts. Route composition and
// middleware layering are grounded on the teacher's StartHTTPServer
// (this file, pre-adaptation) and its access-log wrapper in
// internal/observability.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/oriys/ces/internal/backend"
	"github.com/oriys/ces/internal/kernel"
	"github.com/oriys/ces/internal/logging"
	"github.com/oriys/ces/internal/metrics"
	"github.com/oriys/ces/internal/registry"
	"github.com/oriys/ces/internal/stream"
	"github.com/oriys/ces/internal/tracing"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

// Config holds the tunables for Handler's route wiring.
type Config struct {
	APIKey        string
	StreamDepth   int
	StreamGrace   time.Duration
	StreamKeepIdl time.Duration
	MaxUploadSize int64
}

// Handler composes the Execution API's dependencies and exposes
// RegisterRoutes to mount them on a mux.
type Handler struct {
	Registry *registry.Registry
	Host     *kernel.Host
	Streams  stream.Queue
	Backend  backend.Backend
	Config   Config
}

// NewHandler constructs a Handler from its dependencies.
func NewHandler(reg *registry.Registry, host *kernel.Host, streams stream.Queue, be backend.Backend, cfg Config) *Handler {
	if cfg.StreamDepth <= 0 {
		cfg.StreamDepth = 256
	}
	if cfg.StreamGrace <= 0 {
		cfg.StreamGrace = 5 * time.Second
	} else if cfg.StreamGrace < time.Second {
		cfg.StreamGrace = time.Second
	}
	if cfg.StreamKeepIdl <= 0 {
		cfg.StreamKeepIdl = 300 * time.Second
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = 32 << 20
	}
	return &Handler{Registry: reg, Host: host, Streams: streams, Backend: be, Config: cfg}
}

// RegisterRoutes mounts the Execution API on mux. Health is public;
// everything else sits behind requireAPIKey and access logging.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/health", h.Health)

	protected := http.NewServeMux()
	protected.HandleFunc("POST /sessions", h.CreateSession)
	protected.HandleFunc("GET /sessions", h.ListSessions)
	protected.HandleFunc("GET /sessions/{id}", h.GetSession)
	protected.HandleFunc("DELETE /sessions/{id}", h.StopSession)
	protected.HandleFunc("GET /sessions/{id}/backends", h.ListBackends)

	protected.HandleFunc("POST /sessions/{id}/plugins", h.LoadPlugin)
	protected.HandleFunc("POST /sessions/{id}/variables", h.UpdateVariables)
	protected.HandleFunc("POST /sessions/{id}/files", h.UploadFile)
	protected.HandleFunc("GET /sessions/{id}/artifacts/{name}", h.DownloadArtifact)

	protected.HandleFunc("POST /sessions/{id}/execute", h.Execute)
	protected.HandleFunc("GET /sessions/{id}/execute/{exec_id}/stream", h.ExecuteStream)

	chain := tracing.Middleware(withAccessLog(requireAPIKey(h.Config.APIKey, http.StripPrefix("/api/v1", protected))))
	mux.Handle("/api/v1/sessions", chain)
	mux.Handle("/api/v1/sessions/", chain)
}

// RegisterMetrics mounts the Prometheus registry at /api/v1/metrics,
// independent of whether it shares a listener with RegisterRoutes (see
// --metrics-addr). Gated behind the same shared-secret auth as every
// other non-health route, per §4.3.
func (h *Handler) RegisterMetrics(mux *http.ServeMux) {
	mux.Handle("GET /api/v1/metrics", requireAPIKey(h.Config.APIKey, metrics.Global().Handler()))
}

type healthResponse struct {
	Version       string `json:"version"`
	ActiveSession int    `json:"active_sessions"`
}

// Health reports liveness and the current session count.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Version:       Version,
		ActiveSession: len(h.Registry.List()),
	})
}

type backendInfo struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// ListBackends reports which backend.Backend implementations this host
// can run sessions on, as reported by backend.DetectAvailable.
func (h *Handler) ListBackends(w http.ResponseWriter, r *http.Request) {
	infos := backend.DetectAvailable()
	out := make([]backendInfo, 0, len(infos))
	for _, in := range infos {
		out = append(out, backendInfo{Name: in.Name, Available: in.Available, Reason: in.Reason})
	}
	writeJSON(w, http.StatusOK, out)
}

// withAccessLog wraps next with a structured access-log entry per
// request, grounded on the teacher's observability.HTTPMiddleware shape
// but writing through internal/logging's access logger instead of a
// trace span (tracing is handled separately, see internal/tracing).
func withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rid := requestID(r)
		ctx := context.WithValue(r.Context(), requestIDKey{}, rid)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r.WithContext(ctx))

		logging.DefaultAccess().Log(&logging.AccessLogEntry{
			RequestID:  rid,
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     rec.status,
			DurationMs: time.Since(start).Milliseconds(),
		})
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
