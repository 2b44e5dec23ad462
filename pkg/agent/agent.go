// Package agent implements the two-stage language pipeline behind a voice
// session: a low-temperature intent classifier and a higher-temperature
// response generator, both running over a core.TextCompleter.
package agent

import (
	"log/slog"
	"strings"

	"github.com/parley-labs/parley/pkg/core"
)

// Config is the immutable agent binding for one session.
type Config struct {
	Name            string
	SystemPrompt    string
	ClassifierModel string
	ResponderModel  string
	Voice           string
}

// Validate reports whether the configuration can open a session.
func (c Config) Validate() error {
	if strings.TrimSpace(c.SystemPrompt) == "" {
		return core.NewConfigurationError("agent system_prompt is required")
	}
	return nil
}

// Turn is one utterance-and-reply entry of the conversation.
type Turn struct {
	Speaker   string // "user" or "agent"
	Text      string
	Intent    string
	LatencyMS int64
}

const (
	// Window is the number of turns kept for prompt context.
	Window = 10

	classifierTemperature = 0.2
	responderTemperature  = 0.7

	classifierMaxTokens = 8
	responderMaxTokens  = 120
)

// Pipeline runs both stages for one session.
type Pipeline struct {
	completer core.TextCompleter
	logger    *slog.Logger
}

// NewPipeline creates a pipeline over the given completer.
func NewPipeline(completer core.TextCompleter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		completer: completer,
		logger:    logger.With(slog.String("component", "agent")),
	}
}

// historyPrompt formats the trailing context window for prompting.
func historyPrompt(history []Turn) string {
	if len(history) == 0 {
		return "No previous conversation"
	}
	if len(history) > Window {
		history = history[len(history)-Window:]
	}
	var b strings.Builder
	for i, t := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(t.Speaker)
		b.WriteString(": ")
		b.WriteString(t.Text)
	}
	return b.String()
}
