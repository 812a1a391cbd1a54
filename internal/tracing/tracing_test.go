package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDisabledTracingIsNoop(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if Enabled() {
		t.Fatal("expected tracing to be disabled")
	}

	ctx, span := StartSpan(context.Background(), "test.span")
	SetSpanOK(span)
	span.End()
	if ctx == nil {
		t.Fatal("expected non-nil context from StartSpan")
	}

	called := false
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
	if !called {
		t.Fatal("expected the wrapped handler to run")
	}
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestSetSpanErrorDoesNotPanicWhenDisabled(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	_, span := StartSpan(context.Background(), "test.span")
	SetSpanError(span, errors.New("boom"))
	span.End()
}
