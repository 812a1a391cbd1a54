// Package kernel implements the Kernel Host (C1): one persistent
// interpreter per session, reached through a pluggable backend
// (localprocess or container), running the pre-execution pipeline
// (magic-line split, verification, execution, artifact collection,
// variable snapshot) ahead of every execute call.
package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oriys/ces/internal/backend"
	"github.com/oriys/ces/internal/domain"
	"github.com/oriys/ces/internal/logging"
	"github.com/oriys/ces/internal/metrics"
	"github.com/oriys/ces/internal/verifier"
)

// OutputFunc receives streamed output as an execution produces it.
type OutputFunc func(stream, text string)

type kernelSession struct {
	execMu sync.Mutex // serializes execute calls for this session
	handle *backend.Handle
	client backend.Client
	cwd    string
}

// Host drives one Backend's workers across every running session.
type Host struct {
	backend         backend.Backend
	verifierEnabled bool
	policy          *verifier.Policy

	mu       sync.RWMutex
	sessions map[string]*kernelSession
}

// New constructs a Host bound to a single Backend implementation. CES
// selects which Backend to pass in at daemon startup based on
// configuration (§4.6's subprocess vs. container supervisor modes map
// 1:1 onto localprocess vs. container here).
func New(b backend.Backend, policy *verifier.Policy, verifierEnabled bool) *Host {
	return &Host{
		backend:         b,
		verifierEnabled: verifierEnabled,
		policy:          policy,
		sessions:        make(map[string]*kernelSession),
	}
}

// Start brings up a fresh interpreter for sessionID rooted at cwd.
// Idempotent: calling it again for an already-running session is a
// no-op.
func (h *Host) Start(ctx context.Context, sessionID, sessionDir, cwd string) error {
	h.mu.Lock()
	if _, ok := h.sessions[sessionID]; ok {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	handle, err := h.backend.StartWorker(ctx, sessionID, cwd)
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrKernelStartFailed, err)
	}
	client, err := h.backend.NewClient(handle)
	if err != nil {
		_ = h.backend.StopWorker(sessionID)
		return fmt.Errorf("%w: %s", domain.ErrKernelStartFailed, err)
	}
	if err := client.Init(sessionID, cwd); err != nil {
		_ = client.Close()
		_ = h.backend.StopWorker(sessionID)
		return fmt.Errorf("%w: %s", domain.ErrKernelStartFailed, err)
	}

	h.mu.Lock()
	h.sessions[sessionID] = &kernelSession{handle: handle, client: client, cwd: cwd}
	h.mu.Unlock()
	return nil
}

// Stop terminates sessionID's interpreter. Idempotent; never errors for
// an unknown session.
func (h *Host) Stop(sessionID string) error {
	h.mu.Lock()
	ks, ok := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	h.mu.Unlock()
	if !ok {
		return nil
	}
	_ = ks.client.Close()
	return h.backend.StopWorker(sessionID)
}

// LoadPlugin compiles/imports plugin source into sessionID's namespace.
func (h *Host) LoadPlugin(sessionID, name, source string, config map[string]any) error {
	ks, err := h.session(sessionID)
	if err != nil {
		return err
	}
	if err := ks.client.LoadPlugin(name, source, config); err != nil {
		metrics.Global().PluginLoad(false)
		return fmt.Errorf("%w: %s", domain.ErrPluginLoadFailed, err)
	}
	metrics.Global().PluginLoad(true)
	return nil
}

// UpdateSessionVar shallow-merges kv into sessionID's variable store.
func (h *Host) UpdateSessionVar(sessionID string, kv map[string]string) error {
	ks, err := h.session(sessionID)
	if err != nil {
		return err
	}
	return ks.client.UpdateVars(kv)
}

// Execute runs the pre-execution pipeline and returns the Execution
// Result. Per-session executions are strictly serialized.
func (h *Host) Execute(ctx context.Context, sessionID string, req domain.ExecutionRequest, onOutput OutputFunc) (*domain.ExecutionResult, error) {
	ks, err := h.session(sessionID)
	if err != nil {
		return nil, err
	}

	ks.execMu.Lock()
	defer ks.execMu.Unlock()

	started := time.Now()

	code, installs, rejected := splitMagic(req.Code)
	if len(rejected) > 0 {
		result := &domain.ExecutionResult{
			ExecID:    req.ExecID,
			Code:      req.Code,
			IsSuccess: false,
			Error:     formatMagicRejection(rejected),
			Stdout:    []string{},
			Stderr:    []string{},
			Artifacts: []domain.Artifact{},
			Variables: []domain.VariableEntry{},
		}
		metrics.Global().ExecutionCompleted(false, time.Since(started))
		return result, nil
	}

	for _, spec := range installs {
		resp, err := ks.client.InstallPackage(spec)
		if err != nil {
			h.mu.Lock()
			delete(h.sessions, sessionID)
			h.mu.Unlock()
			metrics.Global().ExecutionCompleted(false, time.Since(started))
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionGone, err)
		}
		if !resp.IsSuccess {
			result := &domain.ExecutionResult{
				ExecID:    req.ExecID,
				Code:      req.Code,
				IsSuccess: false,
				Error:     formatInstallFailure(spec, resp),
				Stdout:    []string{},
				Stderr:    []string{},
				Artifacts: []domain.Artifact{},
				Variables: []domain.VariableEntry{},
			}
			metrics.Global().ExecutionCompleted(false, time.Since(started))
			return result, nil
		}
	}

	if h.verifierEnabled {
		if violations := verifier.Verify(code, h.policy); len(violations) > 0 {
			metrics.Global().VerifierRejected()
			metrics.Global().ExecutionCompleted(false, time.Since(started))
			return &domain.ExecutionResult{
				ExecID:    req.ExecID,
				Code:      req.Code,
				IsSuccess: false,
				Error:     formatViolations(violations),
				Stdout:    []string{},
				Stderr:    []string{},
				Artifacts: []domain.Artifact{},
				Variables: []domain.VariableEntry{},
			}, nil
		}
	}

	var resp *backend.ExecuteResponsePayload
	var execErr error
	if onOutput != nil {
		resp, execErr = ks.client.ExecuteStream(backend.ExecuteRequest{ExecID: req.ExecID, Code: code}, backend.OutputFunc(onOutput))
	} else {
		resp, execErr = ks.client.Execute(backend.ExecuteRequest{ExecID: req.ExecID, Code: code})
	}
	if execErr != nil {
		h.mu.Lock()
		delete(h.sessions, sessionID)
		h.mu.Unlock()
		metrics.Global().ExecutionCompleted(false, time.Since(started))
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionGone, execErr)
	}

	artifacts, err := materializeArtifacts(sessionID, ks.cwd, resp.Artifacts)
	if err != nil {
		logging.Op().Error("artifact persistence failed", "session_id", sessionID, "exec_id", req.ExecID, "error", err)
		artifacts = []domain.Artifact{}
	}

	variables := make([]domain.VariableEntry, 0, len(resp.Variables))
	for _, v := range resp.Variables {
		if !domain.IsVisibleVariable(v.Name, false) {
			continue
		}
		variables = append(variables, domain.VariableEntry{Name: v.Name, Value: v.Value})
	}

	result := &domain.ExecutionResult{
		ExecID:    resp.ExecID,
		Code:      req.Code,
		IsSuccess: resp.IsSuccess,
		Error:     resp.Error,
		Output:    resp.Output,
		Stdout:    nonNil(resp.Stdout),
		Stderr:    nonNil(resp.Stderr),
		Logs:      []domain.LogEntry{},
		Artifacts: artifacts,
		Variables: variables,
	}
	metrics.Global().ExecutionCompleted(resp.IsSuccess, time.Since(started))
	return result, nil
}

func (h *Host) session(sessionID string) (*kernelSession, error) {
	h.mu.RLock()
	ks, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: session %s", domain.ErrSessionGone, sessionID)
	}
	return ks, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func formatViolations(violations []verifier.Violation) string {
	msg := "verification failed:"
	for _, v := range violations {
		msg += fmt.Sprintf("\n  line %d: %s", v.Line, v.Message)
	}
	return msg
}

func formatMagicRejection(rejected []string) string {
	msg := "magic line not permitted:"
	for _, r := range rejected {
		msg += fmt.Sprintf("\n  %s", r)
	}
	return msg
}

func formatInstallFailure(spec string, resp *backend.InstallPackageResponsePayload) string {
	msg := fmt.Sprintf("package install failed: %s", spec)
	if resp.Error != "" {
		msg += fmt.Sprintf("\n  %s", resp.Error)
	}
	return msg
}
