// Package stream implements the Streaming Channel (C4): a bounded event
// queue keyed by (session_id, exec_id) that carries output/result/done
// events from a running execution to whichever caller is listening over
// SSE, plus the SSE writer itself.
package stream

import (
	"context"
	"errors"
	"time"

	"github.com/oriys/ces/internal/domain"
)

// ErrNotFound is returned when a key names no open or recently-closed
// stream; the Execution API maps this to HTTP 404.
var ErrNotFound = errors.New("stream: not found")

// Key identifies one execution's event stream.
type Key struct {
	SessionID string
	ExecID    string
}

// EventType enumerates the three SSE event kinds §4.4 specifies.
type EventType string

const (
	EventOutput EventType = "output"
	EventResult EventType = "result"
	EventDone   EventType = "done"
)

// Event is one queued item. Exactly one of Output/Result is set,
// depending on Type; Type EventDone carries neither.
type Event struct {
	Type   EventType
	Output *OutputEvent
	Result *domain.ExecutionResult
}

// OutputEvent is one streamed stdout/stderr chunk.
type OutputEvent struct {
	Stream string `json:"type"` // "stdout" or "stderr"
	Text   string `json:"text"`
}

// Queue opens, publishes to, and drains per-key event streams. CES ships
// an in-memory implementation (default) and an optional Redis-backed one
// for multi-instance deployments.
type Queue interface {
	// Open allocates a bounded queue for key with the given depth. Safe
	// to call once per key; a second Open for the same key is a no-op.
	Open(key Key, depth int) error

	// Publish enqueues ev for key. Blocks if the queue is full — the
	// execution producing events is expected to backpressure rather than
	// drop output.
	Publish(ctx context.Context, key Key, ev Event) error

	// Subscribe returns a channel of events for key. The channel closes
	// when the queue is finalized and its grace period elapses.
	Subscribe(key Key) (<-chan Event, error)

	// Finalize marks key as complete: no more Publish calls will arrive.
	// The queue is retained for gracePeriod to tolerate a reconnecting
	// client, then discarded.
	Finalize(key Key, gracePeriod time.Duration)

	// Exists reports whether key is currently open or within its grace
	// period.
	Exists(key Key) bool
}
