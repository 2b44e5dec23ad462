package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/parley-labs/parley/pkg/gateway/config"
	gatewayserver "github.com/parley-labs/parley/pkg/gateway/server"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	catalogPath := filepath.Join(t.TempDir(), "agents.yaml")
	content := `
agents:
  travel-guide:
    system_prompt: You are a helpful travel guide
`
	if err := os.WriteFile(catalogPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return config.Config{
		Addr:                "127.0.0.1:0",
		AgentCatalogPath:    catalogPath,
		OllamaBaseURL:       "http://localhost:11434",
		IdleTimeout:         15 * time.Second,
		TurnTimeout:         30 * time.Second,
		MaxMessageBytes:     256 * 1024,
		OutboundQueueSize:   128,
		TTSSampleRate:       16000,
		ReadHeaderTimeout:   10 * time.Second,
		ShutdownGracePeriod: time.Second,
	}
}

// signalHarness feeds a fake shutdown signal once the server loop has
// installed its handler.
type signalHarness struct {
	mu sync.Mutex
	ch chan<- os.Signal
}

func (h *signalHarness) notify(c chan<- os.Signal, _ ...os.Signal) {
	h.mu.Lock()
	h.ch = c
	h.mu.Unlock()
}

func (h *signalHarness) stop(chan<- os.Signal) {}

func (h *signalHarness) send(t *testing.T, sig os.Signal) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		ch := h.ch
		h.mu.Unlock()
		if ch != nil {
			ch <- sig
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("signal handler never installed")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRunServer_SignalShutdown(t *testing.T) {
	cfg := testConfig(t)
	harness := &signalHarness{}
	deps := serverDeps{
		loadConfig:   func() (config.Config, error) { return cfg, nil },
		newServer:    gatewayserver.New,
		signalNotify: harness.notify,
		signalStop:   harness.stop,
	}

	done := make(chan error, 1)
	go func() { done <- runServer(context.Background(), testLogger(), deps) }()

	harness.send(t, syscall.SIGTERM)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runServer() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("runServer() did not shut down")
	}
}

func TestRunServer_ContextCancel(t *testing.T) {
	cfg := testConfig(t)
	harness := &signalHarness{}
	deps := serverDeps{
		loadConfig:   func() (config.Config, error) { return cfg, nil },
		newServer:    gatewayserver.New,
		signalNotify: harness.notify,
		signalStop:   harness.stop,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServer(ctx, testLogger(), deps) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("runServer() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("runServer() did not stop on cancel")
	}
}

func TestRunServer_ConfigFailure(t *testing.T) {
	deps := defaultServerDeps()
	deps.loadConfig = func() (config.Config, error) {
		return config.Config{}, errors.New("PARLEY_IDLE_TIMEOUT must be > 0")
	}

	err := runServer(context.Background(), testLogger(), deps)
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("runServer() error = %v", err)
	}
}

func TestRunServer_MissingDeps(t *testing.T) {
	if err := runServer(context.Background(), testLogger(), serverDeps{}); err == nil {
		t.Fatalf("runServer() accepted empty dependencies")
	}
}

func TestRunServer_ListenFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Addr = "256.256.256.256:99999"
	harness := &signalHarness{}
	deps := serverDeps{
		loadConfig:   func() (config.Config, error) { return cfg, nil },
		newServer:    gatewayserver.New,
		signalNotify: harness.notify,
		signalStop:   harness.stop,
	}

	err := runServer(context.Background(), testLogger(), deps)
	if err == nil || !strings.Contains(err.Error(), "serve") {
		t.Fatalf("runServer() error = %v, want serve failure", err)
	}
}

func TestBuildHTTPServer(t *testing.T) {
	cfg := testConfig(t)
	srv := buildHTTPServer(cfg, http.NotFoundHandler())
	if srv.Addr != cfg.Addr {
		t.Fatalf("addr = %q", srv.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("read header timeout = %v", srv.ReadHeaderTimeout)
	}
}

func TestRunMain_ReportsFailure(t *testing.T) {
	var stderr bytes.Buffer
	deps := defaultServerDeps()
	deps.loadConfig = func() (config.Config, error) {
		return config.Config{}, errors.New("bad config")
	}

	if code := runMain(context.Background(), &stderr, deps); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "parleyd:") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}
