package compactor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oriys/ces/internal/domain"
)

type fakeSummarizer struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	reply   string
	err     error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeSummarizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func rounds(n int) []domain.Round {
	out := make([]domain.Round, n)
	for i := range out {
		out[i] = domain.Round{Index: i + 1, Role: "user", Content: fmt.Sprintf("round %d", i+1)}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestCompactorFiresAboveThreshold(t *testing.T) {
	summarizer := &fakeSummarizer{reply: "summary one"}
	var mu sync.Mutex
	total := 12

	c := New(Config{Threshold: 10, RetainRecent: 2}, func() []domain.Round {
		mu.Lock()
		defer mu.Unlock()
		return rounds(total)
	}, summarizer)

	c.Start()
	defer c.Stop()

	c.NotifyRoundsChanged()
	waitFor(t, func() bool { return c.GetCompaction() != nil })

	got := c.GetCompaction()
	if got.StartIndex != 1 || got.EndIndex != 10 {
		t.Fatalf("got compaction %+v, want StartIndex=1 EndIndex=10", got)
	}
	if got.Summary != "summary one" {
		t.Fatalf("summary = %q", got.Summary)
	}
}

func TestCompactorSkipsBelowThreshold(t *testing.T) {
	summarizer := &fakeSummarizer{reply: "unused"}
	c := New(Config{Threshold: 10, RetainRecent: 2}, func() []domain.Round {
		return rounds(5)
	}, summarizer)

	c.Start()
	defer c.Stop()

	c.NotifyRoundsChanged()
	time.Sleep(50 * time.Millisecond)

	if c.GetCompaction() != nil {
		t.Fatal("expected no compaction below threshold")
	}
	if summarizer.callCount() != 0 {
		t.Fatalf("summarizer called %d times, want 0", summarizer.callCount())
	}
}

func TestCompactorPreservesPreviousOnSummarizeError(t *testing.T) {
	summarizer := &fakeSummarizer{reply: "first summary"}
	var mu sync.Mutex
	total := 12

	c := New(Config{Threshold: 10, RetainRecent: 2}, func() []domain.Round {
		mu.Lock()
		defer mu.Unlock()
		return rounds(total)
	}, summarizer)

	c.Start()
	defer c.Stop()

	c.NotifyRoundsChanged()
	waitFor(t, func() bool { return c.GetCompaction() != nil })
	first := c.GetCompaction()

	summarizer.mu.Lock()
	summarizer.err = errors.New("llm unavailable")
	summarizer.mu.Unlock()

	mu.Lock()
	total = 25
	mu.Unlock()

	c.NotifyRoundsChanged()
	waitFor(t, func() bool { return summarizer.callCount() >= 2 })
	time.Sleep(20 * time.Millisecond)

	still := c.GetCompaction()
	if still.EndIndex != first.EndIndex || still.Summary != first.Summary {
		t.Fatalf("compaction changed after a failed pass: got %+v, want unchanged %+v", still, first)
	}
}

func TestCompactorCoalescesSignals(t *testing.T) {
	summarizer := &fakeSummarizer{reply: "summary"}
	c := New(Config{Threshold: 10, RetainRecent: 0}, func() []domain.Round {
		return rounds(12)
	}, summarizer)

	for i := 0; i < 5; i++ {
		c.NotifyRoundsChanged()
	}
	c.Start()
	defer c.Stop()

	waitFor(t, func() bool { return c.GetCompaction() != nil })
	time.Sleep(20 * time.Millisecond)

	if calls := summarizer.callCount(); calls != 1 {
		t.Fatalf("summarizer called %d times, want 1 (signals should coalesce)", calls)
	}
}

func TestBuildPromptIncludesPreviousSummaryAndTruncates(t *testing.T) {
	longContent := strings.Repeat("x", 2000)
	p := buildPrompt("earlier context", []domain.Round{{Index: 1, Role: "user", Content: longContent}})

	if !strings.Contains(p, "Previous summary: earlier context") {
		t.Fatalf("prompt missing previous summary: %s", p)
	}
	if strings.Contains(p, longContent) {
		t.Fatal("prompt should truncate long round content")
	}
	if !strings.Contains(p, strings.Repeat("x", maxRoundChars)) {
		t.Fatal("prompt should contain the truncated prefix")
	}
}
