// Package compactor implements the Context Compactor (C8): a single
// background worker that, each time NotifyRoundsChanged wakes it,
// summarizes old conversation rounds into a running Compacted Message, so the agent layer's prompt
// never has to carry the full history. The single-worker/signal-channel
// shape is grounded on the teacher's internal/asyncqueue.WorkerPool
// (simplified from N pollers/workers down to the one worker this
// component's contract calls for); the trigger condition (uncompacted
// rounds against a threshold) is the same shape as
// telnet2-opencode/go-opencode's shouldCompact/compactMessages.
package compactor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/ces/internal/domain"
	"github.com/oriys/ces/internal/logging"
)

// Summarizer adapts an LLM call into the one shape the Compactor needs:
// produce a prompt's completion. CES ships no concrete implementation
// (no LLM SDK appears in the retrieved pack); callers supply their own.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// RoundsAccessor returns the full round history as the Compactor last
// observed it. Called once per pass; the Compactor never mutates it.
type RoundsAccessor func() []domain.Round

const maxRoundChars = 1024

// Config configures a Compactor.
type Config struct {
	Threshold    int // uncompacted rounds required before a pass fires
	RetainRecent int // most-recent rounds never compacted
}

// Compactor holds at most one in-flight compaction job.
type Compactor struct {
	cfg        Config
	rounds     RoundsAccessor
	summarizer Summarizer

	signal chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool

	last atomic.Pointer[domain.CompactedMessage]
}

// New constructs a Compactor. Threshold defaults to 10 if unset; a
// negative RetainRecent is treated as 0.
func New(cfg Config, rounds RoundsAccessor, summarizer Summarizer) *Compactor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 10
	}
	if cfg.RetainRecent < 0 {
		cfg.RetainRecent = 0
	}
	return &Compactor{
		cfg:        cfg,
		rounds:     rounds,
		summarizer: summarizer,
		signal:     make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the single worker goroutine. Idempotent.
func (c *Compactor) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.wg.Add(1)
	go c.loop()
}

// Stop signals the worker to exit and joins it, bounded to 5s.
func (c *Compactor) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	close(c.stopCh)
	c.mu.Unlock()

	done := make(chan struct{})
	go func() { c.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logging.Op().Warn("compactor: worker did not exit within 5s")
	}
}

// NotifyRoundsChanged wakes the worker. Non-blocking: multiple
// notifications queued before the worker picks them up coalesce into a
// single pass.
func (c *Compactor) NotifyRoundsChanged() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// GetCompaction returns the latest Compacted Message, or nil if none
// has been produced yet. Lock-free: readers observe the latest atomic
// pointer write.
func (c *Compactor) GetCompaction() *domain.CompactedMessage {
	return c.last.Load()
}

func (c *Compactor) loop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.signal:
			c.runPass(context.Background())
		}
	}
}

func (c *Compactor) runPass(ctx context.Context) {
	rounds := c.rounds()
	total := len(rounds)

	prevEnd := 0
	prevSummary := "None"
	if prev := c.last.Load(); prev != nil {
		prevEnd = prev.EndIndex
		prevSummary = prev.Summary
	}

	uncompacted := total - prevEnd
	if uncompacted < c.cfg.Threshold {
		return
	}
	newEnd := total - c.cfg.RetainRecent
	if newEnd <= prevEnd {
		return
	}

	prompt := buildPrompt(prevSummary, rounds[prevEnd:newEnd])

	summary, err := c.summarizer.Summarize(ctx, prompt)
	if err != nil {
		logging.Op().Error("compactor: summarize failed", "error", err)
		return
	}
	if strings.TrimSpace(summary) == "" {
		logging.Op().Warn("compactor: summarizer returned empty summary, keeping previous compaction")
		return
	}

	c.last.Store(&domain.CompactedMessage{
		StartIndex: 1,
		EndIndex:   newEnd,
		Summary:    summary,
	})
}

func buildPrompt(prevSummary string, rounds []domain.Round) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Previous summary: %s\n\n", prevSummary)
	b.WriteString("Rounds to fold into the summary:\n")
	for _, r := range rounds {
		content := r.Content
		if len(content) > maxRoundChars {
			content = content[:maxRoundChars]
		}
		fmt.Fprintf(&b, "[%d] %s: %s\n", r.Index, r.Role, content)
	}
	return b.String()
}
