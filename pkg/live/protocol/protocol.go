// Package protocol defines the JSON frames exchanged over a voice
// session's WebSocket connection.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeError describes a rejected inbound frame.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// Inbound frames.

// ClientAudioChunk carries one opaque audio chunk from the client.
type ClientAudioChunk struct {
	Type      string `json:"type"`
	Data      string `json:"data"` // base64
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Audio returns the decoded payload.
func (m ClientAudioChunk) Audio() ([]byte, error) {
	return base64.StdEncoding.DecodeString(m.Data)
}

// ClientTextMessage bypasses speech-to-text; used for testing and
// text-only clients.
type ClientTextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ClientEndStream asks the server to end the session.
type ClientEndStream struct {
	Type string `json:"type"`
}

// ClientConfig updates the agent presentation fields between turns.
type ClientConfig struct {
	Type   string      `json:"type"`
	Config AgentConfig `json:"config"`
}

// AgentConfig is the client-visible slice of an agent's configuration.
type AgentConfig struct {
	Name         string `json:"name,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// DecodeClientMessage parses and validates one inbound frame.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "audio_chunk":
		var msg ClientAudioChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio_chunk", "")
		}
		if strings.TrimSpace(msg.Data) == "" {
			return nil, badRequest("audio_chunk.data is required", "data")
		}
		return msg, nil
	case "text_message":
		var msg ClientTextMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid text_message", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("text_message.text is required", "text")
		}
		return msg, nil
	case "end_stream":
		var msg ClientEndStream
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid end_stream", "")
		}
		return msg, nil
	case "config":
		var msg ClientConfig
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid config", "")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// Outbound frames.

// ServerSessionReady confirms the session is open.
type ServerSessionReady struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	AgentName string `json:"agent_name,omitempty"`
}

// ServerTranscript is an incremental or final transcription result.
type ServerTranscript struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// ServerAgentResponse carries the generated reply text.
type ServerAgentResponse struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Intent string `json:"intent,omitempty"`
}

// ServerAudioChunk carries one synthesized audio chunk.
type ServerAudioChunk struct {
	Type  string `json:"type"`
	Data  string `json:"data"` // base64
	Seq   int64  `json:"seq"`
	Final bool   `json:"final,omitempty"`
}

// ServerError reports a recoverable failure; the session continues.
type ServerError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ServerSessionEnded is the last frame of a session.
type ServerSessionEnded struct {
	Type   string `json:"type"`
	Reason string `json:"reason"` // "client", "timeout", "shutdown", "error"
}

// End reasons.
const (
	EndReasonClient   = "client"
	EndReasonTimeout  = "timeout"
	EndReasonShutdown = "shutdown"
	EndReasonError    = "error"
)
