package localprocess

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/oriys/ces/internal/backend"
)

// helperCommand re-execs this test binary as the worker subprocess,
// routing it straight into TestHelperProcess below. Mirrors the
// os/exec_test.go TestHelperProcess idiom: no separately built worker
// binary is needed, just the test binary re-invoked with a narrowed
// -test.run and an env var telling it which role to play.
func helperCommand() []string {
	return []string{os.Args[0], "-test.run=TestHelperProcess", "--"}
}

func TestBackendStartExecuteInstallStop(t *testing.T) {
	os.Setenv("GO_WANT_HELPER_PROCESS", "1")
	defer os.Unsetenv("GO_WANT_HELPER_PROCESS")

	b := New(Config{Command: helperCommand(), StartTimeout: 5 * time.Second})
	ctx := context.Background()

	handle, err := b.StartWorker(ctx, "s1", t.TempDir())
	if err != nil {
		t.Fatalf("StartWorker: %v", err)
	}

	c, err := b.NewClient(handle)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	resp, err := c.Execute(backend.ExecuteRequest{ExecID: "e1", Code: "1+1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !resp.IsSuccess || resp.ExecID != "e1" {
		t.Fatalf("resp = %+v, want IsSuccess=true ExecID=e1", resp)
	}

	installResp, err := c.InstallPackage("pip install numpy")
	if err != nil {
		t.Fatalf("InstallPackage: %v", err)
	}
	if !installResp.IsSuccess {
		t.Fatalf("InstallPackage.IsSuccess = false, want true")
	}

	if err := c.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	if err := b.StopWorker("s1"); err != nil {
		t.Fatalf("StopWorker: %v", err)
	}
	if _, err := b.NewClient(handle); err == nil {
		t.Fatalf("NewClient after StopWorker = nil error, want an error")
	}
}

func TestBackendStartWorkerTimesOutWithoutPing(t *testing.T) {
	os.Setenv("GO_WANT_HELPER_PROCESS", "1")
	os.Setenv("GO_HELPER_NO_PING", "1")
	defer os.Unsetenv("GO_WANT_HELPER_PROCESS")
	defer os.Unsetenv("GO_HELPER_NO_PING")

	b := New(Config{Command: helperCommand(), StartTimeout: 200 * time.Millisecond})
	ctx := context.Background()

	_, err := b.StartWorker(ctx, "s1", t.TempDir())
	if err == nil {
		t.Fatalf("StartWorker against a silent worker = nil error, want a start-timeout error")
	}
}

// TestHelperProcess is not a real test; it is re-exec'd as the fake
// worker subprocess by the tests above. It returns immediately under a
// normal `go test` run, same as os/exec_test.go's helper.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	if os.Getenv("GO_HELPER_NO_PING") == "1" {
		select {}
	}

	stdin := bufio.NewReader(os.Stdin)
	for {
		msg, err := backend.ReadMessage(stdin)
		if err != nil {
			return
		}
		switch msg.Type {
		case backend.MsgExecute:
			var req backend.ExecutePayload
			_ = json.Unmarshal(msg.Payload, &req)
			payload, _ := json.Marshal(backend.ExecuteResponsePayload{
				ExecID: req.ExecID, IsSuccess: true, Output: "ok",
				Stdout: []string{}, Stderr: []string{},
			})
			_ = backend.WriteMessage(os.Stdout, &backend.Message{Type: backend.MsgResp, Payload: payload})
		case backend.MsgInstallPackage:
			payload, _ := json.Marshal(backend.InstallPackageResponsePayload{IsSuccess: true})
			_ = backend.WriteMessage(os.Stdout, &backend.Message{Type: backend.MsgResp, Payload: payload})
		default:
			_ = backend.WriteMessage(os.Stdout, &backend.Message{Type: backend.MsgResp})
		}
	}
}
