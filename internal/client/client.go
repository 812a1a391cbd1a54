// Package client implements the Service Client (C7): a network-side
// implementation of the Kernel Host operation surface, each instance
// bound to one session id and one base URL. It mirrors the teacher's
// backend.Client interface shape (Execute/ExecuteStream/Close) but
// drives an HTTP Execution API instead of an in-process worker.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oriys/ces/internal/domain"
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Client drives one session's Execution API surface over HTTP.
type Client struct {
	cfg       Config
	sessionID string
}

// New constructs a Client bound to sessionID. sessionID may be empty
// until Start assigns a server-generated one.
func New(cfg Config, sessionID string) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg, sessionID: sessionID}
}

// SessionID returns the id this Client is bound to.
func (c *Client) SessionID() string { return c.sessionID }

type createSessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Cwd       string `json:"cwd,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Cwd       string `json:"cwd"`
}

// Start creates (or adopts) the session. A 409 response means the
// session already exists server-side; per §4.7 that is treated as
// success, not an error.
func (c *Client) Start(ctx context.Context, cwd string) (string, error) {
	body, _ := json.Marshal(createSessionRequest{SessionID: c.sessionID, Cwd: cwd})
	resp, err := c.do(ctx, http.MethodPost, "/sessions", body)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return c.sessionID, nil
		}
		return "", err
	}
	defer resp.Body.Close()

	var created createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("%w: decode create response: %v", domain.ErrTransport, err)
	}
	c.sessionID = created.SessionID
	return created.SessionID, nil
}

// Stop tears down the session.
func (c *Client) Stop(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodDelete, "/sessions/"+c.sessionID, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

type loadPluginRequest struct {
	Name   string         `json:"name"`
	Code   string         `json:"code"`
	Config map[string]any `json:"config,omitempty"`
}

// LoadPlugin registers a plugin in the session's namespace.
func (c *Client) LoadPlugin(ctx context.Context, name, source string, config map[string]any) error {
	body, _ := json.Marshal(loadPluginRequest{Name: name, Code: source, Config: config})
	resp, err := c.do(ctx, http.MethodPost, "/sessions/"+c.sessionID+"/plugins", body)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// UpdateSessionVar merges variables into the session's namespace.
func (c *Client) UpdateSessionVar(ctx context.Context, kv map[string]string) error {
	body, _ := json.Marshal(map[string]any{"variables": kv})
	resp, err := c.do(ctx, http.MethodPost, "/sessions/"+c.sessionID+"/variables", body)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// UploadFile base64-encodes data and uploads it under name.
func (c *Client) UploadFile(ctx context.Context, name string, data []byte) error {
	body, _ := json.Marshal(map[string]string{
		"filename": name,
		"content":  base64.StdEncoding.EncodeToString(data),
		"encoding": "base64",
	})
	resp, err := c.do(ctx, http.MethodPost, "/sessions/"+c.sessionID+"/files", body)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// DownloadArtifact fetches an artifact's raw bytes.
func (c *Client) DownloadArtifact(ctx context.Context, name string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/sessions/"+c.sessionID+"/artifacts/"+name, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

type executeRequest struct {
	ExecID string `json:"exec_id"`
	Code   string `json:"code"`
	Stream bool   `json:"stream"`
}

type streamAcceptedResponse struct {
	ExecutionID string `json:"execution_id"`
	StreamURL   string `json:"stream_url"`
}

// OutputFunc receives one streamed output chunk.
type OutputFunc func(stream, text string)

// Execute submits code for execution. With onOutput == nil it issues a
// synchronous request and returns the full Result. With onOutput set it
// issues a stream:true request, then opens the returned SSE stream and
// relays output events to onOutput before returning the final Result.
func (c *Client) Execute(ctx context.Context, execID, code string, onOutput OutputFunc) (*domain.ExecutionResult, error) {
	if onOutput == nil {
		return c.executeSync(ctx, execID, code)
	}
	return c.executeStreamed(ctx, execID, code, onOutput)
}

func (c *Client) executeSync(ctx context.Context, execID, code string) (*domain.ExecutionResult, error) {
	body, _ := json.Marshal(executeRequest{ExecID: execID, Code: code, Stream: false})
	resp, err := c.do(ctx, http.MethodPost, "/sessions/"+c.sessionID+"/execute", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result domain.ExecutionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode execute response: %v", domain.ErrTransport, err)
	}
	return &result, nil
}

func (c *Client) executeStreamed(ctx context.Context, execID, code string, onOutput OutputFunc) (*domain.ExecutionResult, error) {
	body, _ := json.Marshal(executeRequest{ExecID: execID, Code: code, Stream: true})
	resp, err := c.do(ctx, http.MethodPost, "/sessions/"+c.sessionID+"/execute", body)
	if err != nil {
		return nil, err
	}
	var accepted streamAcceptedResponse
	decErr := json.NewDecoder(resp.Body).Decode(&accepted)
	resp.Body.Close()
	if decErr != nil {
		return nil, fmt.Errorf("%w: decode stream-accepted response: %v", domain.ErrTransport, decErr)
	}

	// The server returns a root-relative "/api/v1/..." URL; do adds the
	// "/api/v1" prefix itself, so strip it here.
	streamResp, err := c.do(ctx, http.MethodGet, strings.TrimPrefix(accepted.StreamURL, "/api/v1"), nil)
	if err != nil {
		return nil, err
	}
	defer streamResp.Body.Close()

	return parseSSE(streamResp.Body, onOutput)
}

type sseOutputEvent struct {
	Stream string `json:"type"`
	Text   string `json:"text"`
}

// parseSSE reads standard "event:"/"data:" lines, separated by blank
// lines, exiting on the first "done" event per §4.7. No SSE client
// library appears anywhere in the retrieved pack (only server-side
// SSE writers), so this is a small hand-written scanner.
func parseSSE(r io.Reader, onOutput OutputFunc) (*domain.ExecutionResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var eventName string
	var dataBuf bytes.Buffer
	var result *domain.ExecutionResult

	flush := func() error {
		defer func() {
			eventName = ""
			dataBuf.Reset()
		}()
		if eventName == "" {
			return nil
		}
		switch eventName {
		case "output":
			var ev sseOutputEvent
			if err := json.Unmarshal(dataBuf.Bytes(), &ev); err == nil && onOutput != nil {
				onOutput(ev.Stream, ev.Text)
			}
		case "result":
			var res domain.ExecutionResult
			if err := json.Unmarshal(dataBuf.Bytes(), &res); err == nil {
				result = &res
			}
		case "done":
			return errDone
		}
		return nil
	}

scanLoop:
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				if errors.Is(err, errDone) {
					break scanLoop
				}
				return nil, err
			}
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataBuf.WriteString(strings.TrimPrefix(line, "data:"))
		case strings.HasPrefix(line, ":"):
			// comment/keepalive line, ignore
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read SSE stream: %v", domain.ErrTransport, err)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: stream ended without a result event", domain.ErrTransport)
	}
	return result, nil
}

var errDone = errors.New("client: done event reached")

// do issues an HTTP request against the Execution API and translates
// non-2xx responses into the domain error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	url := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		url = strings.TrimRight(c.cfg.BaseURL, "/") + "/api/v1" + path
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrTransport, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	var detail struct {
		Detail string `json:"detail"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&detail)
	msg := detail.Detail
	if msg == "" {
		msg = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusConflict:
		return nil, fmt.Errorf("%w: %s", domain.ErrConflict, msg)
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionGone, msg)
	case http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", domain.ErrPathEscape, msg)
	case http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s", domain.ErrAuth, msg)
	case http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, msg)
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrTransport, msg)
	}
}
