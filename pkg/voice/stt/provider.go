// Package stt provides streaming speech-to-text.
package stt

import "context"

// Transcriber is the interface for speech-to-text services.
type Transcriber interface {
	// Name returns the provider identifier.
	Name() string

	// NewStream opens a live transcription stream for one session.
	NewStream(ctx context.Context, opts StreamOptions) (Stream, error)
}

// Stream is one live transcription session. Audio goes in via SendAudio;
// transcript events come out of Events. Exactly one final event terminates
// an utterance; chunks sent after it begin a new utterance on the same
// stream. The consumer may stop reading at any time; Close releases the
// underlying connection without draining the backlog.
type Stream interface {
	SendAudio(data []byte) error
	Finalize() error
	Events() <-chan TranscriptEvent
	Close() error
}

// StreamOptions configures a transcription stream.
type StreamOptions struct {
	Model      string // provider-specific model name
	Language   string // ISO language code (default "en")
	Encoding   string // audio encoding tag (e.g. "webm", "pcm_s16le")
	SampleRate int    // sample rate in Hz, 0 when the container carries it
}

// TranscriptEvent is one incremental or final transcription result.
type TranscriptEvent struct {
	Text       string
	Confidence float64
	IsFinal    bool
}
