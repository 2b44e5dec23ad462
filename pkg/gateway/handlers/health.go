package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/parley-labs/parley/pkg/gateway/config"
	"github.com/parley-labs/parley/pkg/live/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config   config.Config
	Sessions *sessions.Registry
	Agents   func() []string
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		ActiveSessions int      `json:"active_sessions"`
		Agents         []string `json:"agents,omitempty"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if h.Config.IdleTimeout <= 0 {
		issues = append(issues, "idle timeout must be > 0")
	}
	if h.Config.TurnTimeout <= 0 {
		issues = append(issues, "turn timeout must be > 0")
	}
	if h.Config.MaxMessageBytes <= 0 {
		issues = append(issues, "max message bytes must be > 0")
	}
	if h.Config.DeepgramAPIKey == "" {
		issues = append(issues, "deepgram api key is not configured")
	}
	if h.Config.CartesiaAPIKey == "" {
		issues = append(issues, "cartesia api key is not configured")
	}

	var agents []string
	if h.Agents != nil {
		agents = h.Agents()
		if len(agents) == 0 {
			issues = append(issues, "agent catalog is empty")
		}
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:             ok,
		ActiveSessions: h.Sessions.Count(),
		Agents:         agents,
		Issues:         issues,
	})
}
