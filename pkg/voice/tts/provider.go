// Package tts provides streaming text-to-speech.
package tts

import "context"

// Synthesizer is the interface for text-to-speech services.
type Synthesizer interface {
	// Name returns the provider identifier.
	Name() string

	// Speak synthesizes text into a lazy chunk stream. Canceling ctx
	// stops the stream mid-flight; chunks queued after cancellation are
	// never delivered.
	Speak(ctx context.Context, text string, opts SpeakOptions) (Stream, error)
}

// SpeakOptions configures synthesis.
type SpeakOptions struct {
	Voice      string // provider voice identifier
	Language   string // language code
	SampleRate int    // output sample rate in Hz (default 16000)
}

// Chunk is one synthesized audio chunk.
type Chunk struct {
	Seq   int64
	Audio []byte
	Final bool // set on the last chunk of the stream
}

// Stream yields audio chunks as the backend produces them. The channel
// closes after the final chunk, or early on cancellation or error.
type Stream interface {
	Chunks() <-chan Chunk
	Err() error
	Close() error
}
