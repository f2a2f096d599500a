package providers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestMockClient(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		c := NewMockClient()
		c.ResponseText = "Acme Runner"

		result, err := c.Complete(context.Background(), &CompletionRequest{Prompt: "p", Model: "m"})
		if err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		if result.Text != "Acme Runner" {
			t.Errorf("Text = %q, want %q", result.Text, "Acme Runner")
		}
		if c.RequestCount() != 1 {
			t.Errorf("RequestCount = %d, want 1", c.RequestCount())
		}
	})

	t.Run("fail after", func(t *testing.T) {
		c := NewMockClient()
		c.FailAfter = 1

		if _, err := c.Complete(context.Background(), &CompletionRequest{Prompt: "a"}); err != nil {
			t.Fatalf("first request failed: %v", err)
		}
		if _, err := c.Complete(context.Background(), &CompletionRequest{Prompt: "b"}); err == nil {
			t.Error("expected second request to fail")
		}
		if diff := cmp.Diff([]string{"a", "b"}, c.Prompts()); diff != "" {
			t.Errorf("prompts mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		c := NewMockClient()
		c.Latency = time.Second
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := c.Complete(ctx, &CompletionRequest{Prompt: "p"}); err == nil {
			t.Error("expected context error")
		}
	})
}

func TestRateLimiter(t *testing.T) {
	r := NewRateLimiter(2)
	if !r.TryTake() || !r.TryTake() {
		t.Fatal("expected two tokens available")
	}
	if r.TryTake() {
		t.Error("expected bucket to be empty")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := r.Wait(ctx); err == nil {
		t.Error("expected Wait to give up when the context expires")
	}

	stats := r.Stats()
	if stats.Limit != 2 || stats.Taken != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestRateLimiter_Pause(t *testing.T) {
	r := NewRateLimiter(600)
	r.Pause(time.Hour)
	if r.TryTake() {
		t.Error("paused limiter handed out a token")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := r.Wait(ctx); err == nil {
		t.Error("expected Wait to block while paused")
	}
	if got := r.Stats().Throttled; got != 1 {
		t.Errorf("throttled = %d, want 1", got)
	}
}

func TestRegistry_Reload(t *testing.T) {
	ctx := context.Background()
	cfg := RegistryConfig{Clients: map[string]ClientConfig{
		"mock":     {Type: "mock", RateLimit: 10, Enabled: true},
		"disabled": {Type: "mock", Enabled: false},
		"broken":   {Type: "openai", Enabled: true},
	}}

	r := NewRegistryFromConfig(ctx, cfg)
	if diff := cmp.Diff([]string{"mock"}, r.List()); diff != "" {
		t.Errorf("clients mismatch (-want +got):\n%s", diff)
	}
	first, _ := r.Get("mock")

	// Unchanged config keeps the same instance.
	r.Reload(ctx, cfg)
	if again, _ := r.Get("mock"); again != first {
		t.Error("unchanged client should not be recreated")
	}

	cfg.Clients["mock"] = ClientConfig{Type: "mock", RateLimit: 20, Enabled: true}
	r.Reload(ctx, cfg)
	updated, _ := r.Get("mock")
	if updated.RequestsPerMinute() != 20 {
		t.Errorf("RPM = %d, want 20", updated.RequestsPerMinute())
	}

	delete(cfg.Clients, "mock")
	r.Reload(ctx, cfg)
	if r.Has("mock") {
		t.Error("removed client should be unregistered")
	}
	if _, err := r.Get("mock"); err == nil {
		t.Error("expected not found error")
	}
}

func TestOpenAIClient_Complete(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": " Acme Runner "}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, RPM: 60, HTTPClient: srv.Client()})
	result, err := c.Complete(context.Background(), &CompletionRequest{
		Prompt:          "shorten this",
		MaxOutputTokens: 8,
		Temperature:     0.2,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if result.Text != " Acme Runner " || result.PromptTokens != 12 {
		t.Errorf("unexpected result %+v", result)
	}
	if !strings.Contains(body, `"max_tokens":8`) || !strings.Contains(body, "shorten this") {
		t.Errorf("unexpected request body %s", body)
	}
}
