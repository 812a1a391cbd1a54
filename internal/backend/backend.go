package backend

import "context"

// ExecuteRequest is one code submission handed to a worker.
type ExecuteRequest struct {
	ExecID string
	Code   string
}

// OutputFunc receives one streamed output chunk as a worker produces it.
// stream is "stdout" or "stderr".
type OutputFunc func(stream, text string)

// Handle identifies a running worker, opaque outside its owning Backend.
type Handle struct {
	SessionID string
	// Addr is set by backends that communicate over a network socket
	// (container). Empty for backends that hold the process directly
	// (localprocess).
	Addr string
}

// Backend starts, drives, and tears down the worker processes that host
// session namespaces. CES ships two: localprocess (default, one
// subprocess per session) and container (Docker, one container per
// session). This generalizes the teacher's VM-oriented Backend interface
// from "invoke a function inside a short-lived VM" to "run code inside a
// long-lived session namespace."
type Backend interface {
	// StartWorker brings up a fresh worker for sessionID rooted at cwd
	// and returns a handle to it.
	StartWorker(ctx context.Context, sessionID, cwd string) (*Handle, error)

	// StopWorker tears down the worker backing sessionID. Idempotent.
	StopWorker(sessionID string) error

	// NewClient opens a Client bound to an already-started worker.
	NewClient(h *Handle) (Client, error)

	// Shutdown tears down every worker this Backend owns.
	Shutdown()
}

// Client drives one worker's namespace: submitting code, loading
// plugins, merging variables, and health-checking the connection.
type Client interface {
	Init(sessionID, cwd string) error
	LoadPlugin(name, source string, config map[string]any) error
	UpdateVars(vars map[string]string) error

	// Execute runs code to completion and returns the final result.
	Execute(req ExecuteRequest) (*ExecuteResponsePayload, error)

	// ExecuteStream runs code to completion, invoking out for every
	// streamed chunk before returning the final result.
	ExecuteStream(req ExecuteRequest, out OutputFunc) (*ExecuteResponsePayload, error)

	// InstallPackage dispatches one package-install magic line (the
	// body of a "!pip install ..."/"!conda install ..." line) to the
	// worker's package installer, ahead of the code it was split from.
	InstallPackage(spec string) (*InstallPackageResponsePayload, error)

	Ping() error
	Close() error
}
