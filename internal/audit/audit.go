// Package audit implements the optional execution-audit sink (A5): an
// async batched writer that persists completed executions for later
// querying, independent of session state. Grounded on the teacher's
// invocation log batcher (internal/executor/invocation_log_batcher.go):
// same bounded channel + ticker + bounded-retry-with-backoff flush
// loop, generalized from function invocations to code executions.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/oriys/ces/internal/domain"
	"github.com/oriys/ces/internal/logging"
)

const (
	defaultBatchSize     = 100
	defaultBufferSize    = 1000
	defaultFlushInterval = 500 * time.Millisecond
	defaultTimeout       = 5 * time.Second
	maxRetries           = 3
	retryInterval        = 100 * time.Millisecond
)

// Record is one completed execution as seen by the Kernel Host, ready
// for durable storage.
type Record struct {
	SessionID string
	ExecID    string
	StartedAt time.Time
	Duration  time.Duration
	Result    domain.ExecutionResult
}

// Sink abstracts the audit destination. Implementations must be safe
// for concurrent use.
type Sink interface {
	SaveBatch(ctx context.Context, records []Record) error
	Close() error
}

// NoopSink discards every record. Used when auditing is disabled.
type NoopSink struct{}

func (NoopSink) SaveBatch(context.Context, []Record) error { return nil }
func (NoopSink) Close() error                              { return nil }

// Config configures a Batcher.
type Config struct {
	BatchSize     int
	BufferSize    int
	FlushInterval time.Duration
	Timeout       time.Duration
}

// Batcher buffers Records and flushes them to a Sink on a ticker or
// once a batch fills, whichever comes first.
type Batcher struct {
	sink          Sink
	logger        *slog.Logger
	records       chan Record
	flushInterval time.Duration
	batchSize     int
	timeout       time.Duration
	done          chan struct{}
}

// NewBatcher constructs and starts a Batcher. Call Shutdown to drain
// and stop it.
func NewBatcher(sink Sink, cfg Config) *Batcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	b := &Batcher{
		sink:          sink,
		logger:        logging.Op(),
		records:       make(chan Record, cfg.BufferSize),
		flushInterval: cfg.FlushInterval,
		batchSize:     cfg.BatchSize,
		timeout:       cfg.Timeout,
		done:          make(chan struct{}),
	}
	go b.run()
	return b
}

// Enqueue submits a Record for async persistence. Non-blocking: if the
// buffer is full, the record is dropped and logged.
func (b *Batcher) Enqueue(r Record) {
	select {
	case b.records <- r:
	default:
		b.logger.Warn("dropping audit record due to full buffer", "session_id", r.SessionID, "exec_id", r.ExecID)
	}
}

// Shutdown closes the input channel, flushes any pending batch, and
// waits up to timeout for the worker to finish.
func (b *Batcher) Shutdown(timeout time.Duration) {
	close(b.records)
	select {
	case <-b.done:
	case <-time.After(timeout):
		b.logger.Warn("timeout waiting for audit batcher shutdown", "timeout", timeout)
	}
	_ = b.sink.Close()
}

func (b *Batcher) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, b.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		var lastErr error
		for attempt := 0; attempt < maxRetries; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
			lastErr = b.sink.SaveBatch(ctx, batch)
			cancel()
			if lastErr == nil {
				break
			}
			b.logger.Warn("failed to persist audit records, retrying",
				"error", lastErr, "count", len(batch), "attempt", attempt+1)
			time.Sleep(time.Duration(1<<uint(attempt)) * retryInterval)
		}
		if lastErr != nil {
			b.logger.Error("permanently failed to persist audit records after retries",
				"error", lastErr, "count", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case r, ok := <-b.records:
			if !ok {
				flush()
				return
			}
			batch = append(batch, r)
			if len(batch) >= b.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
