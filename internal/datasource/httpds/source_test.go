package httpds

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSource_StreamsBody(t *testing.T) {
	t.Parallel()

	const body = `[{"Email":"a@b.com"}]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			w.WriteHeader(http.StatusNotAcceptable)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	src := NewSource(NewClient(Config{}), srv.URL, nil)
	rc, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != body {
		t.Fatalf("body = %q; want %q", got, body)
	}
}

func TestSource_NonSuccessStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(Config{})
	c.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := NewSource(c, srv.URL+"?token=SECRET", nil).Open(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("err = %v; want status 403", err)
	}
	if strings.Contains(err.Error(), "SECRET") {
		t.Fatalf("error leaks query string: %v", err)
	}
}
