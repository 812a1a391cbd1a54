package localprocess

import (
	"encoding/json"
	"fmt"

	"github.com/oriys/ces/internal/backend"
)

// client drives one worker's namespace over its stdin/stdout pipes.
type client struct {
	w *worker
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
	c.w.mu.Lock()
	defer c.w.mu.Unlock()

	payload, _ := json.Marshal(backend.ExecutePayload{ExecID: req.ExecID, Code: req.Code})
	if err := backend.WriteMessage(c.w.stdin, &backend.Message{Type: backend.MsgExecute, Payload: payload}); err != nil {
		return nil, fmt.Errorf("localprocess: send execute: %w", err)
	}

	for {
		msg, err := backend.ReadMessage(c.w.stdout)
		if err != nil {
			return nil, fmt.Errorf("localprocess: read response: %w", err)
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
				return nil, fmt.Errorf("localprocess: decode response: %w", err)
			}
			return &resp, nil
		default:
			return nil, fmt.Errorf("localprocess: unexpected message type %d", msg.Type)
		}
	}
}

func (c *client) InstallPackage(spec string) (*backend.InstallPackageResponsePayload, error) {
	payload, _ := json.Marshal(backend.InstallPackagePayload{Spec: spec})
	msg, err := c.call(backend.MsgInstallPackage, payload)
	if err != nil {
		return nil, err
	}
	var resp backend.InstallPackageResponsePayload
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		return nil, fmt.Errorf("localprocess: decode install response: %w", err)
	}
	return &resp, nil
}

func (c *client) Ping() error {
	_, err := c.call(backend.MsgPing, nil)
	return err
}

func (c *client) Close() error {
	return nil
}

// call sends a request frame and waits for the single MsgResp reply,
// used for the non-streaming control messages (init, load plugin,
// update vars, ping).
func (c *client) call(t backend.MessageType, payload json.RawMessage) (*backend.Message, error) {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()

	if err := backend.WriteMessage(c.w.stdin, &backend.Message{Type: t, Payload: payload}); err != nil {
		return nil, fmt.Errorf("localprocess: send: %w", err)
	}
	msg, err := backend.ReadMessage(c.w.stdout)
	if err != nil {
		return nil, fmt.Errorf("localprocess: receive: %w", err)
	}
	if msg.Type != backend.MsgResp {
		return nil, fmt.Errorf("localprocess: unexpected message type %d", msg.Type)
	}
	return msg, nil
}
