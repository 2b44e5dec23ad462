package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// deepgramFixture runs a local stand-in for the live transcription
// endpoint: it echoes a partial and a final result for each binary
// audio frame it receives.
func deepgramFixture(t *testing.T) (*DeepgramTranscriber, chan *http.Request) {
	t.Helper()

	requests := make(chan *http.Request, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case requests <- r.Clone(context.Background()):
		default:
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			partial := `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"what is","confidence":0.4}]}}`
			final := `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"what is the weather","confidence":0.91}]}}`
			if err := conn.WriteMessage(websocket.TextMessage, []byte(partial)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(final)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return NewDeepgramWithURL("dg-test-key", wsURL), requests
}

func TestDeepgram_StreamEvents(t *testing.T) {
	d, requests := deepgramFixture(t)

	stream, err := d.NewStream(context.Background(), StreamOptions{
		Language:   "en",
		Encoding:   "pcm_s16le",
		SampleRate: 16000,
	})
	if err != nil {
		t.Fatalf("NewStream() error: %v", err)
	}
	defer stream.Close()

	req := <-requests
	if got := req.Header.Get("Authorization"); got != "Token dg-test-key" {
		t.Fatalf("authorization = %q", got)
	}
	q := req.URL.Query()
	if q.Get("model") != "nova-2" {
		t.Fatalf("model = %q, want default nova-2", q.Get("model"))
	}
	if q.Get("language") != "en" || q.Get("interim_results") != "true" {
		t.Fatalf("query = %v", q)
	}
	if q.Get("encoding") != "pcm_s16le" || q.Get("sample_rate") != "16000" {
		t.Fatalf("audio params not forwarded: %v", q)
	}

	if err := stream.SendAudio([]byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("SendAudio() error: %v", err)
	}

	var events []TranscriptEvent
	timeout := time.After(2 * time.Second)
	for len(events) < 2 {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				t.Fatalf("events closed after %d events", len(events))
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("only %d events arrived", len(events))
		}
	}

	if events[0].IsFinal || events[0].Text != "what is" {
		t.Fatalf("first event = %+v, want the partial", events[0])
	}
	if !events[1].IsFinal || events[1].Text != "what is the weather" {
		t.Fatalf("second event = %+v, want the final", events[1])
	}
	if events[1].Confidence < 0.9 {
		t.Fatalf("confidence not forwarded: %+v", events[1])
	}
}

func TestDeepgram_WebmOmitsEncoding(t *testing.T) {
	d, requests := deepgramFixture(t)

	stream, err := d.NewStream(context.Background(), StreamOptions{Encoding: "webm"})
	if err != nil {
		t.Fatalf("NewStream() error: %v", err)
	}
	defer stream.Close()

	req := <-requests
	if req.URL.Query().Has("encoding") {
		t.Fatalf("container-carried encoding leaked into the query: %v", req.URL.Query())
	}
}

func TestDeepgram_CloseStopsStream(t *testing.T) {
	d, _ := deepgramFixture(t)

	stream, err := d.NewStream(context.Background(), StreamOptions{})
	if err != nil {
		t.Fatalf("NewStream() error: %v", err)
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	// Close is idempotent.
	if err := stream.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}

	if err := stream.SendAudio([]byte{0x01}); err == nil {
		t.Fatalf("SendAudio() accepted after Close()")
	}
	if err := stream.Finalize(); err == nil {
		t.Fatalf("Finalize() accepted after Close()")
	}

	select {
	case _, ok := <-stream.Events():
		if ok {
			t.Fatalf("event delivered after Close()")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("events channel not closed")
	}
}

func TestDeepgram_ConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := NewDeepgramWithURL("bad-key", "ws"+strings.TrimPrefix(srv.URL, "http"))
	if _, err := d.NewStream(context.Background(), StreamOptions{}); err == nil {
		t.Fatalf("NewStream() accepted a rejected handshake")
	}
}
