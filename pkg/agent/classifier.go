package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/parley-labs/parley/pkg/core"
)

// Intent is the classifier's route decision for one utterance.
type Intent struct {
	Label string
	Hint  string // raw model output, kept for turn logging
}

var validIntents = map[string]struct{}{
	"greeting":      {},
	"question":      {},
	"command":       {},
	"farewell":      {},
	"clarification": {},
	"other":         {},
}

const intentPrompt = `Classify the user's intent into ONE category:
- greeting: Starting conversation
- question: Asking for information
- command: Requesting action
- farewell: Ending conversation
- clarification: Needs more info
- other: Anything else

User: %q

Respond with ONLY the category name (one word):`

// Classify labels one finalized utterance. The call is cancellable; a
// result arriving after cancellation is discarded by the caller.
func (p *Pipeline) Classify(ctx context.Context, cfg Config, utterance string) (Intent, error) {
	resp, err := p.completer.Complete(ctx, &core.CompletionRequest{
		Model:       cfg.ClassifierModel,
		Messages:    []core.ChatMessage{{Role: "user", Content: fmt.Sprintf(intentPrompt, utterance)}},
		Temperature: classifierTemperature,
		MaxTokens:   classifierMaxTokens,
	})
	if err != nil {
		return Intent{}, err
	}
	return Intent{Label: normalizeIntent(resp.Text), Hint: strings.TrimSpace(resp.Text)}, nil
}

// normalizeIntent maps raw model output onto the fixed label set.
// Anything unrecognized becomes "other".
func normalizeIntent(raw string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(raw)))
	if len(fields) == 0 {
		return "other"
	}
	label := strings.Trim(fields[0], ".,:;\"'")
	if _, ok := validIntents[label]; ok {
		return label
	}
	return "other"
}
