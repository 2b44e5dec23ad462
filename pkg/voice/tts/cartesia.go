package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	cartesiaWSBaseURL = "wss://api.cartesia.ai/tts/websocket"
	cartesiaVersion   = "2025-04-16"
	cartesiaModelID   = "sonic-2"

	defaultVoiceID    = "a0e99841-438c-4a64-b679-ae501e7d6091"
	defaultSampleRate = 16000
)

// CartesiaSynthesizer implements Synthesizer against Cartesia's streaming
// WebSocket API. One connection is dialed per Speak call; barge-in tears
// it down via context cancellation.
type CartesiaSynthesizer struct {
	apiKey    string
	wsBaseURL string
}

// NewCartesia creates a Cartesia synthesizer.
func NewCartesia(apiKey string) *CartesiaSynthesizer {
	return &CartesiaSynthesizer{apiKey: apiKey, wsBaseURL: cartesiaWSBaseURL}
}

// NewCartesiaWithURL creates a synthesizer against a custom endpoint.
// Used by tests to point at a local server.
func NewCartesiaWithURL(apiKey, wsBaseURL string) *CartesiaSynthesizer {
	return &CartesiaSynthesizer{apiKey: apiKey, wsBaseURL: wsBaseURL}
}

func (c *CartesiaSynthesizer) Name() string {
	return "cartesia"
}

type cartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoiceSpec    `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
	ContextID    string               `json:"context_id"`
	Language     *string              `json:"language,omitempty"`
}

type cartesiaVoiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type cartesiaChunk struct {
	Type      string `json:"type"` // "chunk", "done", "error"
	ContextID string `json:"context_id"`
	Data      string `json:"data,omitempty"` // base64 PCM
	Error     string `json:"error,omitempty"`
}

// Speak dials a synthesis connection and streams audio chunks back.
func (c *CartesiaSynthesizer) Speak(ctx context.Context, text string, opts SpeakOptions) (Stream, error) {
	u, err := url.Parse(c.wsBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("api_key", c.apiKey)
	q.Set("cartesia_version", cartesiaVersion)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("X-API-Key", c.apiKey)
	headers.Set("Cartesia-Version", cartesiaVersion)

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

	voice := opts.Voice
	if voice == "" {
		voice = defaultVoiceID
	}
	sampleRate := opts.SampleRate
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}

	req := cartesiaRequest{
		ModelID:    cartesiaModelID,
		Transcript: text,
		Voice:      cartesiaVoiceSpec{Mode: "id", ID: voice},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: sampleRate,
		},
		ContextID: "ctx_" + uuid.NewString(),
	}
	if opts.Language != "" {
		req.Language = &opts.Language
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send synthesis request: %w", err)
	}

	s := &cartesiaStream{
		conn:   conn,
		chunks: make(chan Chunk, 100),
		done:   make(chan struct{}),
	}
	go s.watchCancel(ctx)
	go s.readLoop()
	return s, nil
}

type cartesiaStream struct {
	conn      *websocket.Conn
	chunks    chan Chunk
	done      chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

func (s *cartesiaStream) watchCancel(ctx context.Context) {
	select {
	case <-ctx.Done():
		s.setErr(ctx.Err())
		_ = s.Close()
	case <-s.done:
	}
}

func (s *cartesiaStream) readLoop() {
	defer close(s.chunks)

	var seq int64
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.setErr(err)
			}
			return
		}

		var msg cartesiaChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "chunk":
			audio, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil || len(audio) == 0 {
				continue
			}
			select {
			case s.chunks <- Chunk{Seq: seq, Audio: audio}:
				seq++
			case <-s.done:
				return
			}
		case "done":
			select {
			case s.chunks <- Chunk{Seq: seq, Final: true}:
			case <-s.done:
			}
			return
		case "error":
			s.setErr(fmt.Errorf("cartesia: %s", msg.Error))
			return
		}
	}
}

func (s *cartesiaStream) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *cartesiaStream) Chunks() <-chan Chunk {
	return s.chunks
}

func (s *cartesiaStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *cartesiaStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
