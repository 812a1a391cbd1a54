package container

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/oriys/ces/internal/backend"
)

// client keeps one persistent connection to a container's mapped worker
// port for every call, dialing it lazily and redialing after a failed
// call closed it; Execute/ExecuteStream also retry on a broken pipe.
// Adapted from the teacher's docker Client
// (internal/docker/manager.go), which redials per request; CES instead
// holds the connection for a session's lifetime since a worker here
// lives across many executions, not one per invocation.
type client struct {
	addr string

	mu   sync.Mutex
	conn net.Conn
}

var retryDelays = []time.Duration{10 * time.Millisecond, 25 * time.Millisecond, 50 * time.Millisecond}

func (c *client) dialLocked() error {
	if c.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", c.addr, 2*time.Second)
	if err != nil {
		return fmt.Errorf("container: dial %s: %w", c.addr, err)
	}
	c.conn = conn
	return nil
}

func (c *client) closeLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *client) Init(sessionID, cwd string) error {
	payload, _ := json.Marshal(backend.InitPayload{SessionID: sessionID, Cwd: cwd})
	_, err := c.call(backend.MsgInit, payload)
	return err
}

func (c *client) LoadPlugin(name, source string, config map[string]any) error {
	payload, _ := json.Marshal(backend.LoadPluginPayload{Name: name, Source: source, Config: config})
	_, err := c.call(backend.MsgLoadPlugin, payload)
	return err
}

func (c *client) UpdateVars(vars map[string]string) error {
	payload, _ := json.Marshal(backend.UpdateVarsPayload{Variables: vars})
	_, err := c.call(backend.MsgUpdateVars, payload)
	return err
}

func (c *client) Execute(req backend.ExecuteRequest) (*backend.ExecuteResponsePayload, error) {
	return c.ExecuteStream(req, nil)
}

func (c *client) ExecuteStream(req backend.ExecuteRequest, out backend.OutputFunc) (*backend.ExecuteResponsePayload, error) {
	payload, _ := json.Marshal(backend.ExecutePayload{ExecID: req.ExecID, Code: req.Code})

	var lastErr error
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		resp, err := c.executeOnce(backend.MsgExecute, payload, out)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isBrokenConnErr(err) || attempt == len(retryDelays) {
			break
		}
		time.Sleep(retryDelays[attempt])
	}
	return nil, lastErr
}

func (c *client) executeOnce(t backend.MessageType, payload json.RawMessage, out backend.OutputFunc) (*backend.ExecuteResponsePayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.dialLocked(); err != nil {
		return nil, err
	}
	if err := backend.WriteMessage(c.conn, &backend.Message{Type: t, Payload: payload}); err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("container: send execute: %w", err)
	}

	for {
		msg, err := backend.ReadMessage(c.conn)
		if err != nil {
			c.closeLocked()
			return nil, fmt.Errorf("container: read response: %w", err)
		}
		switch msg.Type {
		case backend.MsgOutputChunk:
			if out == nil {
				continue
			}
			var chunk backend.OutputChunkPayload
			if err := json.Unmarshal(msg.Payload, &chunk); err == nil {
				out(chunk.Stream, chunk.Text)
			}
		case backend.MsgResp:
			var resp backend.ExecuteResponsePayload
			if err := json.Unmarshal(msg.Payload, &resp); err != nil {
				return nil, fmt.Errorf("container: decode response: %w", err)
			}
			return &resp, nil
		default:
			c.closeLocked()
			return nil, fmt.Errorf("container: unexpected message type %d", msg.Type)
		}
	}
}

func (c *client) call(t backend.MessageType, payload json.RawMessage) (*backend.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.dialLocked(); err != nil {
		return nil, err
	}
	if err := backend.WriteMessage(c.conn, &backend.Message{Type: t, Payload: payload}); err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("container: send: %w", err)
	}
	msg, err := backend.ReadMessage(c.conn)
	if err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("container: receive: %w", err)
	}
	if msg.Type != backend.MsgResp {
		return nil, fmt.Errorf("container: unexpected message type %d", msg.Type)
	}
	return msg, nil
}

func (c *client) InstallPackage(spec string) (*backend.InstallPackageResponsePayload, error) {
	payload, _ := json.Marshal(backend.InstallPackagePayload{Spec: spec})
	msg, err := c.call(backend.MsgInstallPackage, payload)
	if err != nil {
		return nil, err
	}
	var resp backend.InstallPackageResponsePayload
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		return nil, fmt.Errorf("container: decode install response: %w", err)
	}
	return &resp, nil
}

func (c *client) Ping() error {
	_, err := c.call(backend.MsgPing, nil)
	return err
}

func (c *client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

// isBrokenConnErr reports whether err indicates a dead TCP connection
// worth a redial-and-retry, matching the teacher's docker Client check.
func isBrokenConnErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "use of closed network connection")
}
