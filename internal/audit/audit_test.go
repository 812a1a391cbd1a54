package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oriys/ces/internal/domain"
)

type fakeSink struct {
	mu      sync.Mutex
	batches [][]Record
	err     error
	closed  bool
}

func (f *fakeSink) SaveBatch(ctx context.Context, records []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	cp := make([]Record, len(records))
	copy(cp, records)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSink) totalRecords() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func waitForRecords(t *testing.T, sink *fakeSink, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sink.totalRecords() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("records not flushed within timeout: got %d, want %d", sink.totalRecords(), want)
}

func TestBatcherFlushesOnBatchSize(t *testing.T) {
	sink := &fakeSink{}
	b := NewBatcher(sink, Config{BatchSize: 3, FlushInterval: time.Hour})
	defer b.Shutdown(time.Second)

	for i := 0; i < 3; i++ {
		b.Enqueue(Record{SessionID: "s1", ExecID: "e", Result: domain.ExecutionResult{IsSuccess: true}})
	}

	waitForRecords(t, sink, 3)
}

func TestBatcherFlushesOnTicker(t *testing.T) {
	sink := &fakeSink{}
	b := NewBatcher(sink, Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond})
	defer b.Shutdown(time.Second)

	b.Enqueue(Record{SessionID: "s1", ExecID: "e1"})

	waitForRecords(t, sink, 1)
}

func TestBatcherShutdownFlushesRemainder(t *testing.T) {
	sink := &fakeSink{}
	b := NewBatcher(sink, Config{BatchSize: 100, FlushInterval: time.Hour})

	b.Enqueue(Record{SessionID: "s1", ExecID: "e1"})
	b.Enqueue(Record{SessionID: "s1", ExecID: "e2"})

	b.Shutdown(time.Second)

	if got := sink.totalRecords(); got != 2 {
		t.Fatalf("records = %d, want 2", got)
	}
	if !sink.closed {
		t.Fatal("expected sink to be closed on shutdown")
	}
}

func TestBatcherDropsWhenBufferFull(t *testing.T) {
	sink := &fakeSink{err: errors.New("unavailable")}
	b := NewBatcher(sink, Config{BatchSize: 1, BufferSize: 1, FlushInterval: time.Hour})
	defer b.Shutdown(time.Second)

	for i := 0; i < 10; i++ {
		b.Enqueue(Record{SessionID: "s1", ExecID: "e"})
	}
}

func TestNoopSinkDiscards(t *testing.T) {
	var s NoopSink
	if err := s.SaveBatch(context.Background(), []Record{{SessionID: "s1"}}); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
