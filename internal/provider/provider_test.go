package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oriys/ces/internal/client"
	"github.com/oriys/ces/internal/supervisor"
)

func TestProviderInitializeAndGetSessionClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/health":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/sessions":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"session_id":"s1","status":"created","cwd":"/tmp/s1/cwd"}`))
		}
	}))
	defer srv.Close()

	p := New(Config{
		Supervisor: supervisor.Config{Mode: supervisor.ModeAttach, BaseURL: srv.URL},
		Client:     client.Config{BaseURL: srv.URL},
	})

	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	c1, err := p.GetSessionClient(context.Background(), "s1", "")
	if err != nil {
		t.Fatalf("GetSessionClient: %v", err)
	}

	c2, err := p.GetSessionClient(context.Background(), "s1", "")
	if err != nil {
		t.Fatalf("GetSessionClient (cached): %v", err)
	}
	if c1 != c2 {
		t.Fatal("expected the same *client.Client to be returned for a repeated session id")
	}

	if err := p.CleanUp(context.Background()); err != nil {
		t.Fatalf("CleanUp: %v", err)
	}
}
