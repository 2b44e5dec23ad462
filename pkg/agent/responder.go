package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/parley-labs/parley/pkg/core"
)

const responsePrompt = `You are: %s

User's intent: %s
Previous conversation: %s

User: %s

Respond naturally in 1-2 sentences (voice-friendly). Plain text only, no
markdown, no lists:`

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// Respond generates the agent's reply for one classified utterance.
func (p *Pipeline) Respond(ctx context.Context, cfg Config, utterance string, intent Intent, history []Turn) (string, error) {
	persona := cfg.SystemPrompt
	label := intent.Label
	if label == "" {
		label = "other"
	}

	resp, err := p.completer.Complete(ctx, &core.CompletionRequest{
		Model:  cfg.ResponderModel,
		System: persona,
		Messages: []core.ChatMessage{{
			Role:    "user",
			Content: fmt.Sprintf(responsePrompt, persona, label, historyPrompt(history), utterance),
		}},
		Temperature: responderTemperature,
		MaxTokens:   responderMaxTokens,
	})
	if err != nil {
		return "", err
	}

	text := CleanForSpeech(resp.Text)
	if text == "" {
		return "", core.NewAdapterError(p.completer.Name(), fmt.Errorf("empty response"))
	}
	return text, nil
}

// CleanForSpeech strips artifacts small models leak into replies that a
// TTS voice should never read aloud: HTML tags, markdown emphasis and
// code fences, leading role labels.
func CleanForSpeech(text string) string {
	text = htmlTagPattern.ReplaceAllString(text, "")
	text = strings.NewReplacer("**", "", "__", "", "```", "", "`", "", "#", "").Replace(text)
	text = strings.TrimSpace(text)
	for _, prefix := range []string{"Assistant:", "assistant:", "AI:"} {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimSpace(strings.TrimPrefix(text, prefix))
		}
	}
	return strings.Join(strings.Fields(text), " ")
}
