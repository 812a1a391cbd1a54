// Package localprocess is CES's default Kernel Host backend: one
// long-lived worker subprocess per session, speaking the backend wire
// protocol over stdin/stdout. It is grounded on the teacher's process
// supervision idiom (cmd/nova daemon wiring, internal/docker/manager.go's
// readiness-polling shape) generalized away from containers.
package localprocess

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/oriys/ces/internal/backend"
	"github.com/oriys/ces/internal/logging"
)

// Config controls how a worker subprocess is launched.
type Config struct {
	// Command is the worker executable and its fixed arguments, e.g.
	// []string{"/opt/ces/bin/ces-kernel-worker"}. The backend appends no
	// further arguments; session identity travels over the wire protocol
	// via MsgInit instead of argv, so one binary serves every session.
	Command []string

	// StartTimeout bounds how long StartWorker waits for the worker to
	// answer an initial Ping after spawning.
	StartTimeout time.Duration
}

// DefaultConfig returns a Config pointing at the conventional install
// path, matching the teacher's AgentPath default in internal/docker.
func DefaultConfig() Config {
	return Config{
		Command:      []string{"/opt/ces/bin/ces-kernel-worker"},
		StartTimeout: 10 * time.Second,
	}
}

type worker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	mu     sync.Mutex
}

// Backend spawns and drives one worker subprocess per session.
type Backend struct {
	cfg Config

	mu      sync.Mutex
	workers map[string]*worker
}

// New constructs a localprocess Backend.
func New(cfg Config) *Backend {
	return &Backend{cfg: cfg, workers: make(map[string]*worker)}
}

// StartWorker spawns a fresh subprocess for sessionID rooted at cwd.
func (b *Backend) StartWorker(ctx context.Context, sessionID, cwd string) (*backend.Handle, error) {
	if len(b.cfg.Command) == 0 {
		return nil, fmt.Errorf("localprocess: no worker command configured")
	}

	cmd := exec.Command(b.cfg.Command[0], b.cfg.Command[1:]...)
	cmd.Dir = cwd

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("localprocess: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("localprocess: stdout pipe: %w", err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("localprocess: start worker: %w", err)
	}

	w := &worker{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}

	if err := backend.WriteMessage(w.stdin, &backend.Message{Type: backend.MsgPing}); err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("localprocess: ping worker: %w", err)
	}
	deadline := time.Now().Add(b.cfg.StartTimeout)
	if b.cfg.StartTimeout <= 0 {
		deadline = time.Now().Add(10 * time.Second)
	}
	type pingResult struct {
		msg *backend.Message
		err error
	}
	done := make(chan pingResult, 1)
	go func() {
		msg, err := backend.ReadMessage(w.stdout)
		done <- pingResult{msg, err}
	}()
	select {
	case res := <-done:
		if res.err != nil || res.msg.Type != backend.MsgResp {
			_ = cmd.Process.Kill()
			return nil, fmt.Errorf("localprocess: worker did not answer ready ping")
		}
	case <-time.After(time.Until(deadline)):
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("localprocess: worker start timed out")
	}

	b.mu.Lock()
	b.workers[sessionID] = w
	b.mu.Unlock()

	logging.Op().Info("localprocess worker started", "session_id", sessionID, "pid", cmd.Process.Pid)
	return &backend.Handle{SessionID: sessionID}, nil
}

// StopWorker kills the subprocess backing sessionID, if any.
func (b *Backend) StopWorker(sessionID string) error {
	b.mu.Lock()
	w, ok := b.workers[sessionID]
	delete(b.workers, sessionID)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.stdin.Close()
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
	_ = w.cmd.Wait()
	return nil
}

// NewClient returns a Client bound to sessionID's running worker.
func (b *Backend) NewClient(h *backend.Handle) (backend.Client, error) {
	b.mu.Lock()
	w, ok := b.workers[h.SessionID]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("localprocess: no worker for session %s", h.SessionID)
	}
	return &client{w: w}, nil
}

// Shutdown kills every worker this Backend owns.
func (b *Backend) Shutdown() {
	b.mu.Lock()
	ids := make([]string, 0, len(b.workers))
	for id := range b.workers {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	for _, id := range ids {
		_ = b.StopWorker(id)
	}
}
