// Package container is CES's Docker-backed Kernel Host backend: one
// container per session, reached over a TCP port mapped to the worker's
// listening socket inside the container. Directly adapted from the
// teacher's internal/docker/manager.go (port allocation, docker run
// invocation, readiness polling, length-prefixed TCP framing), swapped
// from per-invocation VM lifecycle to per-session long-lived containers.
package container

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/oriys/ces/internal/backend"
	"github.com/oriys/ces/internal/logging"
)

// Config controls container image, networking, and resource limits.
type Config struct {
	Image        string // worker image, e.g. "ces/kernel-worker:latest"
	WorkDir      string // host directory containing per-session cwd mounts
	Network      string // docker network name, empty = default bridge
	PortRangeMin int
	PortRangeMax int
	CPULimit     string // docker --cpus value
	MemoryMB     int    // docker --memory value in MB
	StartTimeout time.Duration
}

// DefaultConfig mirrors the teacher's NOVA_DOCKER_* environment
// conventions, renamed to the CES namespace.
func DefaultConfig() Config {
	cfg := Config{
		Image:        "ces/kernel-worker:latest",
		WorkDir:      "/tmp/ces",
		PortRangeMin: 20000,
		PortRangeMax: 30000,
		CPULimit:     "1.0",
		MemoryMB:     512,
		StartTimeout: 20 * time.Second,
	}
	if v := os.Getenv("CES_WORKER_IMAGE"); v != "" {
		cfg.Image = v
	}
	if v := os.Getenv("CES_DOCKER_NETWORK"); v != "" {
		cfg.Network = v
	}
	return cfg
}

const workerPort = 9999

type containerHandle struct {
	containerID string
	port        int
}

// Backend starts one Docker container per session; its Clients talk to
// the container's mapped worker port over one persistent connection.
type Backend struct {
	cfg Config

	mu         sync.RWMutex
	containers map[string]*containerHandle
	nextPort   int32
}

// New constructs a container Backend. It does not verify docker is
// reachable; StartWorker surfaces that error per session, matching the
// teacher's NewManager docker-version probe deferred to first use here
// since CES backends are constructed before the daemon knows whether
// container mode will ever be selected.
func New(cfg Config) *Backend {
	return &Backend{
		cfg:        cfg,
		containers: make(map[string]*containerHandle),
		nextPort:   int32(cfg.PortRangeMin),
	}
}

func (b *Backend) allocatePort() int {
	span := int32(b.cfg.PortRangeMax - b.cfg.PortRangeMin)
	if span <= 0 {
		span = 1
	}
	n := atomic.AddInt32(&b.nextPort, 1)
	return b.cfg.PortRangeMin + int(n%span)
}

// StartWorker runs a fresh container for sessionID, bind-mounting cwd
// read-write at /workspace, and waits for the in-container worker to
// answer a TCP connection before returning.
func (b *Backend) StartWorker(ctx context.Context, sessionID, cwd string) (*backend.Handle, error) {
	port := b.allocatePort()
	name := "ces-" + sessionID

	absCwd, err := filepath.Abs(cwd)
	if err != nil {
		return nil, fmt.Errorf("container: resolve cwd: %w", err)
	}

	args := []string{
		"run", "-d",
		"--name", name,
		"-p", fmt.Sprintf("127.0.0.1:%d:%d", port, workerPort),
		"-v", fmt.Sprintf("%s:/workspace", absCwd),
		"-e", fmt.Sprintf("CES_SESSION_ID=%s", sessionID),
	}
	if b.cfg.Network != "" {
		args = append(args, "--network", b.cfg.Network)
	}
	if b.cfg.MemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", b.cfg.MemoryMB))
	}
	if b.cfg.CPULimit != "" {
		args = append(args, "--cpus", b.cfg.CPULimit)
	}
	args = append(args, b.cfg.Image)

	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("container: docker run: %w: %s", err, string(out))
	}
	containerID := firstLine(out)

	if err := waitForWorker(ctx, port, b.cfg.StartTimeout); err != nil {
		_ = stopContainer(name)
		return nil, fmt.Errorf("container: worker did not become ready: %w", err)
	}

	b.mu.Lock()
	b.containers[sessionID] = &containerHandle{containerID: containerID, port: port}
	b.mu.Unlock()

	logging.Op().Info("container worker started", "session_id", sessionID, "container", name, "port", port)
	return &backend.Handle{SessionID: sessionID, Addr: fmt.Sprintf("127.0.0.1:%d", port)}, nil
}

// StopWorker stops and removes the container backing sessionID.
func (b *Backend) StopWorker(sessionID string) error {
	b.mu.Lock()
	_, ok := b.containers[sessionID]
	delete(b.containers, sessionID)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return stopContainer("ces-" + sessionID)
}

// NewClient dials the container's mapped worker port.
func (b *Backend) NewClient(h *backend.Handle) (backend.Client, error) {
	b.mu.RLock()
	ch, ok := b.containers[h.SessionID]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("container: no container for session %s", h.SessionID)
	}
	return &client{addr: fmt.Sprintf("127.0.0.1:%d", ch.port)}, nil
}

// Shutdown stops every container this Backend owns.
func (b *Backend) Shutdown() {
	b.mu.Lock()
	ids := make([]string, 0, len(b.containers))
	for id := range b.containers {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	for _, id := range ids {
		_ = b.StopWorker(id)
	}
}

func stopContainer(name string) error {
	_ = exec.Command("docker", "rm", "-f", name).Run()
	return nil
}

func firstLine(b []byte) string {
	for i, c := range b {
		if c == '\n' {
			return string(b[:i])
		}
	}
	return string(b)
}

// waitForWorker polls the mapped port until the worker accepts TCP
// connections, using exponential backoff, grounded on the retry shape
// the pack's session loop uses for kernel readiness (cenkalti/backoff).
func waitForWorker(ctx context.Context, port int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 1 * time.Second
	b.MaxElapsedTime = timeout

	return backoff.Retry(func() error {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 500*time.Millisecond)
		if err != nil {
			return err
		}
		return conn.Close()
	}, backoff.WithContext(b, ctx))
}
