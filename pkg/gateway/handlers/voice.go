package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parley-labs/parley/pkg/agent"
	"github.com/parley-labs/parley/pkg/agent/catalog"
	"github.com/parley-labs/parley/pkg/core"
	"github.com/parley-labs/parley/pkg/gateway/config"
	"github.com/parley-labs/parley/pkg/gateway/mw"
	"github.com/parley-labs/parley/pkg/live/session"
	"github.com/parley-labs/parley/pkg/live/sessions"
	"github.com/parley-labs/parley/pkg/store"
	"github.com/parley-labs/parley/pkg/voice/stt"
	"github.com/parley-labs/parley/pkg/voice/tts"
)

// VoiceHandler handles /v1/voice websocket sessions: one upgrade, one
// coordinator, one conversation.
type VoiceHandler struct {
	Config   config.Config
	Logger   *slog.Logger
	Catalog  *catalog.Catalog
	Pipeline *agent.Pipeline
	STT      stt.Transcriber
	TTS      tts.Synthesizer
	Store    store.TurnStore
	Sessions *sessions.Registry
	Draining func() bool
}

func (h VoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.Draining != nil && h.Draining() {
		writeJSONError(w, http.StatusServiceUnavailable, "server is draining")
		return
	}

	agentID := strings.TrimSpace(r.URL.Query().Get("agent_id"))
	if agentID == "" {
		writeJSONError(w, http.StatusBadRequest, "agent_id is required")
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))

	agentCfg, err := h.Catalog.Lookup(agentID)
	if err != nil {
		status := http.StatusNotFound
		if core.KindOf(err) == core.ErrConfiguration {
			status = http.StatusBadRequest
		}
		writeJSONError(w, status, "unknown or invalid agent")
		if h.Logger != nil {
			h.Logger.Warn("agent lookup failed", "request_id", reqID, "agent_id", agentID, "error", err)
		}
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sessionID := "s_" + uuid.NewString()
	startedAt := time.Now()

	s, err := session.New(session.Dependencies{
		Conn:      conn,
		Logger:    h.Logger,
		Agent:     agentCfg,
		Pipeline:  h.Pipeline,
		STT:       h.STT,
		TTS:       h.TTS,
		Store:     h.Store,
		SessionID: sessionID,
		AgentID:   agentID,
		UserID:    userID,
		Config: session.Config{
			IdleTimeout:       h.Config.IdleTimeout,
			TurnTimeout:       h.Config.TurnTimeout,
			PingInterval:      h.Config.WSPingInterval,
			WriteTimeout:      h.Config.WSWriteTimeout,
			ReadTimeout:       h.Config.WSReadTimeout,
			MaxMessageBytes:   h.Config.MaxMessageBytes,
			OutboundQueueSize: h.Config.OutboundQueueSize,
			STTLanguage:       "en",
			STTEncoding:       h.Config.AudioEncoding,
			STTSampleRate:     h.Config.AudioSampleRate,
			TTSSampleRate:     h.Config.TTSSampleRate,
		},
	})
	if err != nil {
		// The upgrade already succeeded, so the refusal has to go
		// over the socket.
		payload, _ := json.Marshal(map[string]string{"type": "error", "message": "failed to open session"})
		_ = conn.WriteMessage(websocket.TextMessage, payload)
		if h.Logger != nil {
			h.Logger.Warn("session open failed", "request_id", reqID, "agent_id", agentID, "error", err)
		}
		return
	}

	unregister := func() {}
	if h.Sessions != nil {
		unregister = h.Sessions.Register(sessionID, sessions.Handle{
			Info: sessions.Info{
				SessionID: sessionID,
				AgentID:   agentID,
				StartedAt: startedAt,
			},
			Cancel: s.Cancel,
		})
	}
	defer unregister()

	if err := s.Run(); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("voice session ended with error",
				"session_id", sessionID, "request_id", reqID, "error", err)
		}
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": message}})
}
