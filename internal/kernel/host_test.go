package kernel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/oriys/ces/internal/backend"
	"github.com/oriys/ces/internal/domain"
	"github.com/oriys/ces/internal/verifier"
)

// fakeClient is an in-memory backend.Client standing in for a real
// worker, recording every Execute call for the serialization test.
type fakeClient struct {
	mu          sync.Mutex
	delay       time.Duration
	order       *[]string
	closed      bool
	installs    []string
	installFail bool
}

func (c *fakeClient) Init(sessionID, cwd string) error { return nil }
func (c *fakeClient) LoadPlugin(name, source string, config map[string]any) error {
	if source == "bad syntax(" {
		return errBadPlugin
	}
	return nil
}
func (c *fakeClient) UpdateVars(vars map[string]string) error { return nil }

func (c *fakeClient) Execute(req backend.ExecuteRequest) (*backend.ExecuteResponsePayload, error) {
	return c.ExecuteStream(req, nil)
}

func (c *fakeClient) ExecuteStream(req backend.ExecuteRequest, out backend.OutputFunc) (*backend.ExecuteResponsePayload, error) {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if out != nil {
		out("stdout", "hello\n")
	}
	if c.order != nil {
		c.mu.Lock()
		*c.order = append(*c.order, req.ExecID)
		c.mu.Unlock()
	}
	return &backend.ExecuteResponsePayload{
		ExecID:    req.ExecID,
		IsSuccess: true,
		Output:    "42",
		Stdout:    []string{"hello"},
		Stderr:    []string{},
		Variables: []backend.RawVariable{{Name: "x", Value: "1"}, {Name: "_hidden", Value: "2"}},
	}, nil
}

func (c *fakeClient) InstallPackage(spec string) (*backend.InstallPackageResponsePayload, error) {
	c.mu.Lock()
	c.installs = append(c.installs, spec)
	c.mu.Unlock()
	if c.installFail {
		return &backend.InstallPackageResponsePayload{IsSuccess: false, Error: "no matching distribution"}, nil
	}
	return &backend.InstallPackageResponsePayload{IsSuccess: true}, nil
}

func (c *fakeClient) Ping() error  { return nil }
func (c *fakeClient) Close() error { c.closed = true; return nil }

var errBadPlugin = &pluginErr{}

type pluginErr struct{}

func (e *pluginErr) Error() string { return "syntax error" }

// fakeBackend hands out one fakeClient per session.
type fakeBackend struct {
	mu      sync.Mutex
	clients map[string]*fakeClient
	order   []string
	delay   time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{clients: make(map[string]*fakeClient)}
}

func (b *fakeBackend) StartWorker(ctx context.Context, sessionID, cwd string) (*backend.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[sessionID] = &fakeClient{delay: b.delay, order: &b.order}
	return &backend.Handle{SessionID: sessionID}, nil
}

func (b *fakeBackend) StopWorker(sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, sessionID)
	return nil
}

func (b *fakeBackend) NewClient(h *backend.Handle) (backend.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clients[h.SessionID], nil
}

func (b *fakeBackend) Shutdown() {}

func TestHostExecuteSuccess(t *testing.T) {
	h := New(newFakeBackend(), verifier.Permissive(), true)
	ctx := context.Background()
	cwd := t.TempDir()

	if err := h.Start(ctx, "s1", cwd, cwd); err != nil {
		t.Fatalf("Start: %v", err)
	}

	result, err := h.Execute(ctx, "s1", domain.ExecutionRequest{ExecID: "e1", Code: "x = 1"}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsSuccess {
		t.Fatalf("IsSuccess = false, want true (error=%q)", result.Error)
	}
	if len(result.Variables) != 1 || result.Variables[0].Name != "x" {
		t.Fatalf("Variables = %v, want only visible \"x\"", result.Variables)
	}
}

func TestHostExecuteVerifierRejection(t *testing.T) {
	policy := &verifier.Policy{BlockedModules: []string{"os"}}
	h := New(newFakeBackend(), policy, true)
	ctx := context.Background()
	cwd := t.TempDir()

	if err := h.Start(ctx, "s1", cwd, cwd); err != nil {
		t.Fatalf("Start: %v", err)
	}

	result, err := h.Execute(ctx, "s1", domain.ExecutionRequest{ExecID: "e1", Code: "import os\nos.system(\"rm -rf /\")"}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsSuccess {
		t.Fatalf("IsSuccess = true, want false for blocked import")
	}
}

func TestHostExecuteSerializesPerSession(t *testing.T) {
	b := newFakeBackend()
	b.delay = 20 * time.Millisecond
	h := New(b, verifier.Permissive(), false)
	ctx := context.Background()
	cwd := t.TempDir()
	if err := h.Start(ctx, "s1", cwd, cwd); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		execID := []string{"a", "b", "c"}[i]
		go func() {
			defer wg.Done()
			_, _ = h.Execute(ctx, "s1", domain.ExecutionRequest{ExecID: execID, Code: "1"}, nil)
		}()
	}
	wg.Wait()

	if len(b.order) != 3 {
		t.Fatalf("order = %v, want 3 entries (serialized executes)", b.order)
	}
}

func TestHostExecuteUnknownSessionFails(t *testing.T) {
	h := New(newFakeBackend(), verifier.Permissive(), false)
	_, err := h.Execute(context.Background(), "ghost", domain.ExecutionRequest{ExecID: "e1", Code: "1"}, nil)
	if err == nil {
		t.Fatal("Execute on unknown session = nil error, want ErrSessionGone")
	}
}

func TestHostExecuteDispatchesPackageInstalls(t *testing.T) {
	b := newFakeBackend()
	h := New(b, verifier.Permissive(), false)
	ctx := context.Background()
	cwd := t.TempDir()
	if err := h.Start(ctx, "s1", cwd, cwd); err != nil {
		t.Fatalf("Start: %v", err)
	}

	result, err := h.Execute(ctx, "s1", domain.ExecutionRequest{
		ExecID: "e1",
		Code:   "!pip install numpy\nx = 1",
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsSuccess {
		t.Fatalf("IsSuccess = false, want true (error=%q)", result.Error)
	}

	b.mu.Lock()
	fc := b.clients["s1"]
	b.mu.Unlock()
	if len(fc.installs) != 1 || fc.installs[0] != "pip install numpy" {
		t.Fatalf("installs = %v, want [\"pip install numpy\"]", fc.installs)
	}
}

func TestHostExecuteStopsOnInstallFailure(t *testing.T) {
	b := newFakeBackend()
	h := New(b, verifier.Permissive(), false)
	ctx := context.Background()
	cwd := t.TempDir()
	if err := h.Start(ctx, "s1", cwd, cwd); err != nil {
		t.Fatalf("Start: %v", err)
	}
	b.mu.Lock()
	b.clients["s1"].installFail = true
	b.mu.Unlock()

	result, err := h.Execute(ctx, "s1", domain.ExecutionRequest{
		ExecID: "e1",
		Code:   "!pip install not-a-real-package\nx = 1",
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsSuccess {
		t.Fatalf("IsSuccess = true, want false for failed install")
	}
}

func TestHostStopIsIdempotent(t *testing.T) {
	h := New(newFakeBackend(), verifier.Permissive(), false)
	if err := h.Stop("never-started"); err != nil {
		t.Fatalf("Stop(unknown) = %v, want nil", err)
	}
}
