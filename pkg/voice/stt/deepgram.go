package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	deepgramWSBaseURL = "wss://api.deepgram.com/v1/listen"
	deepgramModel     = "nova-2"
)

// DeepgramTranscriber implements Transcriber against Deepgram's live
// streaming API.
type DeepgramTranscriber struct {
	apiKey    string
	wsBaseURL string
}

// NewDeepgram creates a Deepgram transcriber.
func NewDeepgram(apiKey string) *DeepgramTranscriber {
	return &DeepgramTranscriber{apiKey: apiKey, wsBaseURL: deepgramWSBaseURL}
}

// NewDeepgramWithURL creates a transcriber against a custom endpoint.
// Used by tests to point at a local server.
func NewDeepgramWithURL(apiKey, wsBaseURL string) *DeepgramTranscriber {
	return &DeepgramTranscriber{apiKey: apiKey, wsBaseURL: wsBaseURL}
}

func (d *DeepgramTranscriber) Name() string {
	return "deepgram"
}

// NewStream opens a live transcription WebSocket.
func (d *DeepgramTranscriber) NewStream(ctx context.Context, opts StreamOptions) (Stream, error) {
	u, err := url.Parse(d.wsBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}

	q := u.Query()
	model := opts.Model
	if model == "" {
		model = deepgramModel
	}
	q.Set("model", model)
	language := opts.Language
	if language == "" {
		language = "en"
	}
	q.Set("language", language)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	if opts.Encoding != "" && opts.Encoding != "webm" {
		q.Set("encoding", opts.Encoding)
	}
	if opts.SampleRate > 0 {
		q.Set("sample_rate", fmt.Sprintf("%d", opts.SampleRate))
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &deepgramStream{
		conn:   conn,
		events: make(chan TranscriptEvent, 100),
		ctx:    streamCtx,
		cancel: cancel,
	}
	go s.readLoop()
	return s, nil
}

type deepgramStream struct {
	conn    *websocket.Conn
	events  chan TranscriptEvent
	closed  atomic.Bool
	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// deepgramResult is the subset of Deepgram's live response we consume.
type deepgramResult struct {
	Type    string `json:"type"` // "Results", "Metadata", "SpeechStarted", "UtteranceEnd"
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *deepgramStream) readLoop() {
	defer close(s.events)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg deepgramResult
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "Results" || len(msg.Channel.Alternatives) == 0 {
			continue
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			continue
		}

		ev := TranscriptEvent{
			Text:       alt.Transcript,
			Confidence: alt.Confidence,
			IsFinal:    msg.IsFinal,
		}
		select {
		case s.events <- ev:
		case <-s.ctx.Done():
			return
		}
	}
}

// SendAudio forwards one opaque audio chunk.
func (s *deepgramStream) SendAudio(data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("stream closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Finalize flushes buffered audio so the current utterance gets its final
// result without waiting for endpointing.
func (s *deepgramStream) Finalize() error {
	if s.closed.Load() {
		return fmt.Errorf("stream closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Finalize"}`))
}

func (s *deepgramStream) Events() <-chan TranscriptEvent {
	return s.events
}

// Close tears the connection down without draining the backlog.
func (s *deepgramStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()
	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	return s.conn.Close()
}
