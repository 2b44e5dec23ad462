package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parley-labs/parley/pkg/core"
)

func TestComplete_RequestAndResponse(t *testing.T) {
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"message":           map[string]string{"role": "assistant", "content": "Bonjour!"},
			"done":              true,
			"prompt_eval_count": 12,
			"eval_count":        3,
		})
	}))
	defer srv.Close()

	p := New(srv.URL)
	resp, err := p.Complete(context.Background(), &core.CompletionRequest{
		Model:       "llama3.2:1b",
		System:      "You are a travel guide",
		Messages:    []core.ChatMessage{{Role: "user", Content: "say hi in french"}},
		Temperature: 0.7,
		MaxTokens:   120,
	})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if resp.Text != "Bonjour!" {
		t.Fatalf("text = %q", resp.Text)
	}
	if resp.PromptTokens != 12 || resp.CompletionTokens != 3 {
		t.Fatalf("token counts = %d/%d", resp.PromptTokens, resp.CompletionTokens)
	}

	if captured.Model != "llama3.2:1b" {
		t.Fatalf("model = %q", captured.Model)
	}
	if captured.Stream {
		t.Fatalf("request asks for streaming")
	}
	if captured.Options.NumPredict != 120 || captured.Options.Temperature != 0.7 {
		t.Fatalf("options = %+v", captured.Options)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" {
		t.Fatalf("system prompt not prepended: %+v", captured.Messages)
	}
}

func TestComplete_NoSystemMessage(t *testing.T) {
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "question"},
			"done":    true,
		})
	}))
	defer srv.Close()

	p := New(srv.URL)
	if _, err := p.Complete(context.Background(), &core.CompletionRequest{
		Model:    "qwen2.5:1.5b",
		Messages: []core.ChatMessage{{Role: "user", Content: "classify this"}},
	}); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if len(captured.Messages) != 1 || captured.Messages[0].Role != "user" {
		t.Fatalf("messages = %+v, want user message only", captured.Messages)
	}
}

func TestComplete_BackendFailureIsAdapterError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New(srv.URL)
	_, err := p.Complete(context.Background(), &core.CompletionRequest{
		Model:    "missing-model",
		Messages: []core.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if core.KindOf(err) != core.ErrAdapter {
		t.Fatalf("error kind = %v, want %v", core.KindOf(err), core.ErrAdapter)
	}
}

func TestComplete_RequiresModel(t *testing.T) {
	p := New("http://localhost:1")
	if _, err := p.Complete(context.Background(), &core.CompletionRequest{}); err == nil {
		t.Fatalf("expected error for empty model")
	}
	if _, err := p.Complete(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil request")
	}
}

func TestComplete_ContextCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(srv.URL)
	_, err := p.Complete(ctx, &core.CompletionRequest{
		Model:    "llama3.2:1b",
		Messages: []core.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatalf("expected error after cancellation")
	}
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q, want /api/tags", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if !New(srv.URL).Healthy(context.Background()) {
		t.Fatalf("Healthy() = false for a live backend")
	}

	srv.Close()
	if New(srv.URL).Healthy(context.Background()) {
		t.Fatalf("Healthy() = true for a dead backend")
	}
}
