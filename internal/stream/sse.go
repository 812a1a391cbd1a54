package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oriys/ces/internal/metrics"
)

// WriteSSE drains events and writes them to w as Server-Sent Events,
// following the Content-Type/flush pattern grounded on the teacher's
// InvokeFunctionStream handler (internal/api/dataplane/handlers.go).
// It returns once an EventDone is written or the channel closes; it does
// not watch the request context, so a disconnected client does not end
// the loop early.
func WriteSSE(w http.ResponseWriter, events <-chan Event, keepaliveIdle time.Duration) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if keepaliveIdle <= 0 {
		keepaliveIdle = 300 * time.Second
	}

	metrics.Global().StreamOpened()
	defer metrics.Global().StreamClosed()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeEvent(w, ev)
			flusher.Flush()
			if ev.Type == EventDone {
				return
			}
		case <-time.After(keepaliveIdle):
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
			metrics.Global().StreamKeepalive()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev Event) {
	switch ev.Type {
	case EventOutput:
		data, _ := json.Marshal(ev.Output)
		fmt.Fprintf(w, "event: output\ndata: %s\n\n", data)
	case EventResult:
		data, _ := json.Marshal(ev.Result)
		fmt.Fprintf(w, "event: result\ndata: %s\n\n", data)
	case EventDone:
		fmt.Fprint(w, "event: done\ndata: {}\n\n")
	}
}
