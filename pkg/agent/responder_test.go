package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/parley-labs/parley/pkg/core"
)

func TestCleanForSpeech(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Plain reply.", "Plain reply."},
		{"**Bold** and `code` gone", "Bold and code gone"},
		{"<p>Tagged</p> text", "Tagged text"},
		{"Assistant: I can help with that.", "I can help with that."},
		{"AI: sure thing", "sure thing"},
		{"  spaced\n\nout\treply  ", "spaced out reply"},
		{"```\nfenced\n```", "fenced"},
		{"# Heading stripped", "Heading stripped"},
		{"<b></b>", ""},
		{"   ", ""},
	}

	for _, tc := range cases {
		if got := CleanForSpeech(tc.in); got != tc.want {
			t.Errorf("CleanForSpeech(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRespond_RequestShape(t *testing.T) {
	completer := &fakeCompleter{text: "The Eiffel Tower opens at 9am."}
	p := NewPipeline(completer, nil)
	cfg := pipelineConfig()

	history := []Turn{
		{Speaker: "user", Text: "hi"},
		{Speaker: "agent", Text: "Hello! Where to?"},
	}
	reply, err := p.Respond(context.Background(), cfg, "when does the eiffel tower open", Intent{Label: "question"}, history)
	if err != nil {
		t.Fatalf("Respond() error: %v", err)
	}
	if reply != "The Eiffel Tower opens at 9am." {
		t.Fatalf("reply = %q", reply)
	}

	req := completer.lastRequest(t)
	if req.Model != "responder-model" {
		t.Fatalf("model = %q, want responder-model", req.Model)
	}
	if req.System != cfg.SystemPrompt {
		t.Fatalf("system = %q, want persona", req.System)
	}
	if req.MaxTokens != responderMaxTokens {
		t.Fatalf("max tokens = %d, want %d", req.MaxTokens, responderMaxTokens)
	}

	prompt := req.Messages[0].Content
	for _, want := range []string{
		"question",
		"user: hi",
		"agent: Hello! Where to?",
		"when does the eiffel tower open",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestRespond_EmptyIntentDefaultsToOther(t *testing.T) {
	completer := &fakeCompleter{text: "Sure."}
	p := NewPipeline(completer, nil)

	if _, err := p.Respond(context.Background(), pipelineConfig(), "ok", Intent{}, nil); err != nil {
		t.Fatalf("Respond() error: %v", err)
	}
	if !strings.Contains(completer.lastRequest(t).Messages[0].Content, "intent: other") {
		t.Fatalf("prompt does not default empty intent to other")
	}
}

func TestRespond_EmptyAfterCleaningIsAdapterError(t *testing.T) {
	completer := &fakeCompleter{text: "<br/> ** ** "}
	p := NewPipeline(completer, nil)

	_, err := p.Respond(context.Background(), pipelineConfig(), "hello", Intent{Label: "greeting"}, nil)
	if err == nil {
		t.Fatalf("expected error for empty cleaned reply")
	}
	if core.KindOf(err) != core.ErrAdapter {
		t.Fatalf("error kind = %v, want %v", core.KindOf(err), core.ErrAdapter)
	}
}

func TestHistoryPrompt(t *testing.T) {
	if got := historyPrompt(nil); got != "No previous conversation" {
		t.Fatalf("historyPrompt(nil) = %q", got)
	}

	got := historyPrompt([]Turn{
		{Speaker: "user", Text: "hi"},
		{Speaker: "agent", Text: "hello"},
	})
	if got != "user: hi\nagent: hello" {
		t.Fatalf("historyPrompt() = %q", got)
	}

	// Only the trailing window survives.
	var long []Turn
	for i := 0; i < Window+5; i++ {
		long = append(long, Turn{Speaker: "user", Text: "turn"})
	}
	lines := strings.Split(historyPrompt(long), "\n")
	if len(lines) != Window {
		t.Fatalf("history lines = %d, want %d", len(lines), Window)
	}
}
