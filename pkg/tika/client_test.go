package tika

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"docchat-go/internal/config"
)

func TestExtractText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/tika" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/pdf" {
			t.Errorf("content type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write([]byte("extracted:" + string(body)))
	}))
	defer srv.Close()

	c := NewClient(config.TikaConfig{ServerURL: srv.URL})
	text, err := c.ExtractText(context.Background(), strings.NewReader("raw"), "policy.pdf", "")
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if text != "extracted:raw" {
		t.Fatalf("text = %q", text)
	}
}

func TestExtractTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(config.TikaConfig{ServerURL: srv.URL})
	if _, err := c.ExtractText(context.Background(), strings.NewReader("x"), "a.txt", "text/plain"); err == nil {
		t.Fatal("expected error")
	}
}

func TestDetectMimeType(t *testing.T) {
	if got := detectMimeType("noext"); got != "application/octet-stream" {
		t.Fatalf("got %q", got)
	}
	if got := detectMimeType("x.pdf"); got != "application/pdf" {
		t.Fatalf("got %q", got)
	}
}
