package supervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSupervisorAttachEnsureRunningSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New(Config{Mode: ModeAttach, BaseURL: srv.URL, StartupBudget: 2 * time.Second})
	if err := s.EnsureRunning(context.Background()); err != nil {
		t.Fatalf("EnsureRunning: %v", err)
	}
}

func TestSupervisorAttachEnsureRunningTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := New(Config{Mode: ModeAttach, BaseURL: srv.URL, StartupBudget: 300 * time.Millisecond})
	if err := s.EnsureRunning(context.Background()); err == nil {
		t.Fatal("expected EnsureRunning to fail when health never returns 200")
	}
}

func TestSupervisorStopIsIdempotentForAttach(t *testing.T) {
	s := New(Config{Mode: ModeAttach})
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestSupervisorStopSubprocessNoopWithoutStart(t *testing.T) {
	s := New(Config{Mode: ModeSubprocess})
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop without Start: %v", err)
	}
}
