package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oriys/ces/internal/domain"
)

func TestClientStartAdoptsOnConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"detail":"session exists"}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, "s1")
	id, err := c.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id != "s1" {
		t.Fatalf("id = %q, want s1", id)
	}
}

func TestClientStartNotFoundTranslatesToSessionGone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"detail":"gone"}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, "s1")
	_, err := c.Start(context.Background(), "")
	if !errors.Is(err, domain.ErrSessionGone) {
		t.Fatalf("err = %v, want ErrSessionGone", err)
	}
}

func TestClientExecuteSync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"exec_id":"e1","code":"1+1","is_success":true,"output":"2","stdout":[],"stderr":[],"logs":[],"artifacts":[],"variables":[]}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, "s1")
	result, err := c.Execute(context.Background(), "e1", "1+1", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsSuccess || result.Output != "2" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestClientExecuteStreamed(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"execution_id":"e1","stream_url":"%s/api/v1/sessions/s1/execute/e1/stream"}`, srv.URL)
		default:
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "event: output\ndata: {\"type\":\"stdout\",\"text\":\"hi\\n\"}\n\n")
			fmt.Fprint(w, "event: result\ndata: {\"exec_id\":\"e1\",\"is_success\":true,\"output\":\"4\"}\n\n")
			fmt.Fprint(w, "event: done\ndata: {}\n\n")
		}
	}))
	defer srv.Close()

	var gotStream, gotText string
	c := New(Config{BaseURL: srv.URL}, "s1")
	result, err := c.Execute(context.Background(), "e1", "code", func(stream, text string) {
		gotStream, gotText = stream, text
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotStream != "stdout" || gotText != "hi\n" {
		t.Fatalf("output callback got (%q, %q)", gotStream, gotText)
	}
	if !result.IsSuccess || result.Output != "4" {
		t.Fatalf("unexpected result: %+v", result)
	}
}
