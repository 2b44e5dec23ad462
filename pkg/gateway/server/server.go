// Package server assembles the HTTP surface: the voice WebSocket
// endpoint plus health and readiness probes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/parley-labs/parley/pkg/agent"
	"github.com/parley-labs/parley/pkg/agent/catalog"
	"github.com/parley-labs/parley/pkg/core/providers/ollama"
	"github.com/parley-labs/parley/pkg/gateway/config"
	"github.com/parley-labs/parley/pkg/gateway/handlers"
	"github.com/parley-labs/parley/pkg/gateway/mw"
	"github.com/parley-labs/parley/pkg/live/sessions"
	"github.com/parley-labs/parley/pkg/store"
	"github.com/parley-labs/parley/pkg/voice/stt"
	"github.com/parley-labs/parley/pkg/voice/tts"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	catalog   *catalog.Catalog
	pipeline  *agent.Pipeline
	stt       stt.Transcriber
	tts       tts.Synthesizer
	turnStore store.TurnStore
	sessions  *sessions.Registry
	draining  atomic.Bool
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	agents, err := catalog.Load(cfg.AgentCatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load agent catalog: %w", err)
	}

	var turnStore store.TurnStore = store.Noop{}
	if cfg.StorePath != "" {
		sqlite, err := store.OpenSQLite(ctx, cfg.StorePath, logger)
		if err != nil {
			return nil, fmt.Errorf("open turn store: %w", err)
		}
		turnStore = sqlite
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		catalog:   agents,
		pipeline:  agent.NewPipeline(ollama.New(cfg.OllamaBaseURL), logger),
		stt:       stt.NewDeepgram(cfg.DeepgramAPIKey),
		tts:       tts.NewCartesia(cfg.CartesiaAPIKey),
		turnStore: turnStore,
		sessions:  sessions.NewRegistry(),
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:   s.cfg,
		Sessions: s.sessions,
		Agents:   s.catalog.IDs,
	})

	s.mux.Handle("/v1/voice", handlers.VoiceHandler{
		Config:   s.cfg,
		Logger:   s.logger,
		Catalog:  s.catalog,
		Pipeline: s.pipeline,
		STT:      s.stt,
		TTS:      s.tts,
		Store:    s.turnStore,
		Sessions: s.sessions,
		Draining: s.draining.Load,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining makes the server refuse new sessions while existing ones
// run out.
func (s *Server) SetDraining() {
	s.draining.Store(true)
}

func (s *Server) CancelSessions() int {
	return s.sessions.CancelAll()
}

func (s *Server) WaitSessions(ctx context.Context) bool {
	return s.sessions.Wait(ctx)
}

func (s *Server) Close() error {
	return s.turnStore.Close()
}
