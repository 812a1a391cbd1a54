package stream

import (
	"context"
	"testing"
	"time"

	"github.com/oriys/ces/internal/domain"
)

func TestMemoryQueuePublishSubscribeOrder(t *testing.T) {
	q := NewMemoryQueue()
	key := Key{SessionID: "s1", ExecID: "e1"}
	if err := q.Open(key, 8); err != nil {
		t.Fatalf("Open: %v", err)
	}

	events, err := q.Subscribe(key)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ctx := context.Background()
	_ = q.Publish(ctx, key, Event{Type: EventOutput, Output: &OutputEvent{Stream: "stdout", Text: "one"}})
	_ = q.Publish(ctx, key, Event{Type: EventOutput, Output: &OutputEvent{Stream: "stdout", Text: "two"}})
	_ = q.Publish(ctx, key, Event{Type: EventResult, Result: &domain.ExecutionResult{ExecID: "e1", IsSuccess: true}})
	_ = q.Publish(ctx, key, Event{Type: EventDone})
	q.Finalize(key, 50*time.Millisecond)

	var got []EventType
	for ev := range events {
		got = append(got, ev.Type)
	}

	want := []EventType{EventOutput, EventOutput, EventResult, EventDone}
	if len(got) != len(want) {
		t.Fatalf("got %v events, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestMemoryQueueUnknownKeyNotFound(t *testing.T) {
	q := NewMemoryQueue()
	if _, err := q.Subscribe(Key{SessionID: "ghost", ExecID: "e1"}); err != ErrNotFound {
		t.Fatalf("Subscribe(unknown) = %v, want ErrNotFound", err)
	}
}

func TestMemoryQueueDiscardedAfterGracePeriod(t *testing.T) {
	q := NewMemoryQueue()
	key := Key{SessionID: "s1", ExecID: "e1"}
	_ = q.Open(key, 4)
	q.Finalize(key, 20*time.Millisecond)

	if !q.Exists(key) {
		t.Fatal("Exists() = false immediately after Finalize, want true during grace period")
	}
	time.Sleep(60 * time.Millisecond)
	if q.Exists(key) {
		t.Fatal("Exists() = true after grace period elapsed, want false")
	}
}
