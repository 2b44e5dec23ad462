package core

import "context"

// TextCompleter is the interface that language-model backends implement.
// Both pipeline stages (intent classification and response generation)
// go through it; a call in flight must abort when ctx is canceled.
type TextCompleter interface {
	// Name returns the backend identifier (e.g., "ollama").
	Name() string

	// Complete sends one request and returns the full completion.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// ChatMessage is one entry of the conversation context window.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// CompletionRequest parameterizes one language-model call.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
}

// CompletionResponse is the result of a completion call.
type CompletionResponse struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}
