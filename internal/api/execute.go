package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/oriys/ces/internal/domain"
	"github.com/oriys/ces/internal/stream"
)

type executeRequest struct {
	ExecID string `json:"exec_id"`
	Code   string `json:"code"`
	Stream bool   `json:"stream"`
}

type streamAcceptedResponse struct {
	ExecutionID string `json:"execution_id"`
	StreamURL   string `json:"stream_url"`
}

// Execute handles POST /sessions/{id}/execute. A sync request blocks
// for the full ExecutionResult; stream:true allocates the streaming
// channel, launches the execution in the background, and returns a
// stream URL immediately per §4.4.
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.Registry.Exists(id) {
		writeError(w, domain.ErrNotFound)
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ExecID == "" {
		req.ExecID = uuid.NewString()
	}

	execReq := domain.ExecutionRequest{ExecID: req.ExecID, Code: req.Code, Stream: req.Stream}

	if !req.Stream {
		result, err := h.Host.Execute(r.Context(), id, execReq, nil)
		if err != nil {
			writeError(w, err)
			return
		}
		h.Registry.Touch(id)
		writeJSON(w, http.StatusOK, result)
		return
	}

	key := stream.Key{SessionID: id, ExecID: req.ExecID}
	if err := h.Streams.Open(key, h.Config.StreamDepth); err != nil {
		writeError(w, err)
		return
	}

	go h.runStreamed(id, execReq, key)

	writeJSON(w, http.StatusOK, streamAcceptedResponse{
		ExecutionID: req.ExecID,
		StreamURL:   "/api/v1/sessions/" + id + "/execute/" + req.ExecID + "/stream",
	})
}

// runStreamed drives an execution to completion on a background
// goroutine, relaying output chunks and the final result onto the
// session's streaming queue. It outlives the HTTP request that started
// it, per §4.4's "execution continues to completion" rule.
func (h *Handler) runStreamed(sessionID string, req domain.ExecutionRequest, key stream.Key) {
	ctx := context.Background()
	onOutput := func(streamName, text string) {
		_ = h.Streams.Publish(ctx, key, stream.Event{
			Type:   stream.EventOutput,
			Output: &stream.OutputEvent{Stream: streamName, Text: text},
		})
	}

	result, err := h.Host.Execute(ctx, sessionID, req, onOutput)
	if err != nil {
		result = &domain.ExecutionResult{ExecID: req.ExecID, Code: req.Code, IsSuccess: false, Error: err.Error()}
	}
	h.Registry.Touch(sessionID)

	_ = h.Streams.Publish(ctx, key, stream.Event{Type: stream.EventResult, Result: result})
	_ = h.Streams.Publish(ctx, key, stream.Event{Type: stream.EventDone})
	h.Streams.Finalize(key, h.Config.StreamGrace)
}

// ExecuteStream handles GET /sessions/{id}/execute/{exec_id}/stream.
func (h *Handler) ExecuteStream(w http.ResponseWriter, r *http.Request) {
	key := stream.Key{SessionID: r.PathValue("id"), ExecID: r.PathValue("exec_id")}
	events, err := h.Streams.Subscribe(key)
	if err != nil {
		writeError(w, domain.ErrNotFound)
		return
	}
	stream.WriteSSE(w, events, h.Config.StreamKeepIdl)
}
