package embedding

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"docchat-go/internal/config"
	"docchat-go/pkg/ratelimit"
)

func TestCreateEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(ratelimit.HeaderLimit, "100")
		w.Header().Set(ratelimit.HeaderRemaining, "5")
		w.Header().Set(ratelimit.HeaderReset, "20ms")
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	limiter := ratelimit.New("embedding", 10)
	c := NewClient(config.EmbeddingConfig{BaseURL: srv.URL, Model: "e"}, limiter)
	vec, err := c.CreateEmbedding(context.Background(), "text")
	if err != nil {
		t.Fatalf("CreateEmbedding: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("unexpected vector %v", vec)
	}
	if limiter.Delay() <= 0 {
		t.Fatal("expected limiter to throttle after remaining fell under floor")
	}
	// 第二次调用会先等待窗口重置，然后成功
	if _, err := c.CreateEmbedding(context.Background(), "again"); err != nil {
		t.Fatalf("second CreateEmbedding: %v", err)
	}
}

func TestCreateEmbeddingEmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := NewClient(config.EmbeddingConfig{BaseURL: srv.URL}, ratelimit.New("embedding", 10))
	if _, err := c.CreateEmbedding(context.Background(), "x"); err == nil {
		t.Fatal("expected error for empty embedding")
	}
}
