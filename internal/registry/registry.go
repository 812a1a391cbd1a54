// Package registry implements the Session Registry (C2): the
// id→Session map every other component resolves a session through, and
// the on-disk directory layout each session's kernel runs inside.
//
// # Concurrency model
//
// A single mutex guards the map. Long-running kernel operations (start,
// execute) are never held under this lock — registry.Stop only tears
// down the Kernel Host binding and removes the map entry; the kernel's
// own per-session lock (internal/kernel) serializes executions.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/ces/internal/domain"
	"github.com/oriys/ces/internal/kernel"
	"github.com/oriys/ces/internal/logging"
	"github.com/oriys/ces/internal/metrics"
)

// Registry owns every running Session and the Kernel Host that brings
// its interpreter up and down.
type Registry struct {
	workDir string
	host    *kernel.Host

	mu       sync.Mutex
	sessions map[string]*domain.Session
}

// New constructs a Registry rooted at workDir, using host to start and
// stop each session's interpreter.
func New(workDir string, host *kernel.Host) *Registry {
	return &Registry{
		workDir:  workDir,
		host:     host,
		sessions: make(map[string]*domain.Session),
	}
}

// Create brings up a new session. If id is empty, one is generated. If
// cwd is empty, it defaults to <work_dir>/sessions/<id>/cwd. A duplicate
// id fails with ErrConflict (SessionExists, HTTP 409).
func (r *Registry) Create(ctx context.Context, id, cwd string) (*domain.Session, error) {
	if id == "" {
		id = uuid.NewString()
	}

	sessionDir := filepath.Join(r.workDir, "sessions", id)
	if cwd == "" {
		cwd = filepath.Join(sessionDir, "cwd")
	}

	sess := &domain.Session{
		ID:           id,
		Status:       domain.SessionRunning,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
		Cwd:          cwd,
		SessionDir:   sessionDir,
		Plugins:      []string{},
		Variables:    make(map[string]string),
	}

	// Reserve the id up front so two concurrent Create calls for the same
	// id can't both pass the existence check and both start a kernel.
	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s already exists", domain.ErrConflict, id)
	}
	r.sessions[id] = sess
	r.mu.Unlock()

	if err := os.MkdirAll(cwd, 0o755); err != nil {
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		return nil, fmt.Errorf("registry: create session directory: %w", err)
	}

	if err := r.host.Start(ctx, id, sessionDir, cwd); err != nil {
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		return nil, err
	}

	metrics.Global().SessionCreated()
	return sess, nil
}

// Get returns the session for id, or ErrNotFound.
func (r *Registry) Get(id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	return sess, nil
}

// Exists reports whether id names a known session.
func (r *Registry) Exists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	return ok
}

// List returns every known session.
func (r *Registry) List() []*domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Touch updates a session's last-activity timestamp and bumps its
// execution count; called by the Execution API after each execute.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[id]; ok {
		sess.LastActivity = time.Now()
		sess.ExecutionCount++
	}
}

// RecordPlugin appends name to a session's loaded-plugin list, replacing
// any prior entry of the same name so re-registration keeps the list
// unique, per §3's Plugin invariant.
func (r *Registry) RecordPlugin(id, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return
	}
	filtered := sess.Plugins[:0:0]
	for _, p := range sess.Plugins {
		if p != name {
			filtered = append(filtered, p)
		}
	}
	sess.Plugins = append(filtered, name)
}

// MergeVariables shallow-merges kv into a session's variable snapshot,
// mirroring what the kernel applies to the live namespace.
func (r *Registry) MergeVariables(id string, kv map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return
	}
	for k, v := range kv {
		sess.Variables[k] = v
	}
}

// Stop tears down id's interpreter and removes it from the registry.
// Unknown id fails with ErrNotFound (SessionNotFound, HTTP 404).
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	sess.Status = domain.SessionStopped
	metrics.Global().SessionStopped()
	return r.host.Stop(id)
}

// CleanupAll stops every session, best-effort: an individual stop error
// is logged and skipped rather than aborting the sweep. The registry is
// emptied regardless of per-session errors.
func (r *Registry) CleanupAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.Stop(id); err != nil {
			logging.Op().Error("cleanup: failed to stop session", "session_id", id, "error", err)
		}
	}
}
