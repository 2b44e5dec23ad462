package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Agent catalog and persistence.
	AgentCatalogPath string
	StorePath        string // empty => turns are not persisted

	// Language backend.
	OllamaBaseURL string

	// Voice backends.
	DeepgramAPIKey string
	CartesiaAPIKey string

	// Inbound audio description forwarded to the transcriber.
	AudioEncoding   string
	AudioSampleRate int

	// Live WebSocket session policy.
	IdleTimeout       time.Duration
	TurnTimeout       time.Duration
	MaxMessageBytes   int64
	OutboundQueueSize int
	WSPingInterval    time.Duration
	WSWriteTimeout    time.Duration
	WSReadTimeout     time.Duration
	TTSSampleRate     int

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("PARLEY_ADDR", ":8080"),
		AgentCatalogPath:    envOr("PARLEY_AGENT_CATALOG", "agents.yaml"),
		StorePath:           strings.TrimSpace(os.Getenv("PARLEY_STORE_PATH")),
		OllamaBaseURL:       envOr("PARLEY_OLLAMA_BASE_URL", "http://localhost:11434"),
		DeepgramAPIKey:      strings.TrimSpace(os.Getenv("PARLEY_DEEPGRAM_API_KEY")),
		CartesiaAPIKey:      strings.TrimSpace(os.Getenv("PARLEY_CARTESIA_API_KEY")),
		AudioEncoding:       envOr("PARLEY_AUDIO_ENCODING", "webm"),
		AudioSampleRate:     envIntOr("PARLEY_AUDIO_SAMPLE_RATE", 0),
		IdleTimeout:         envDurationOr("PARLEY_IDLE_TIMEOUT", 15*time.Second),
		TurnTimeout:         envDurationOr("PARLEY_TURN_TIMEOUT", 30*time.Second),
		MaxMessageBytes:     envInt64Or("PARLEY_MAX_MESSAGE_BYTES", 256*1024),
		OutboundQueueSize:   envIntOr("PARLEY_OUTBOUND_QUEUE_SIZE", 128),
		WSPingInterval:      envDurationOr("PARLEY_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:      envDurationOr("PARLEY_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:       envDurationOr("PARLEY_WS_READ_TIMEOUT", 0),
		TTSSampleRate:       envIntOr("PARLEY_TTS_SAMPLE_RATE", 16000),
		ReadHeaderTimeout:   envDurationOr("PARLEY_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("PARLEY_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if strings.TrimSpace(cfg.AgentCatalogPath) == "" {
		return Config{}, fmt.Errorf("PARLEY_AGENT_CATALOG must not be empty")
	}
	if strings.TrimSpace(cfg.OllamaBaseURL) == "" {
		return Config{}, fmt.Errorf("PARLEY_OLLAMA_BASE_URL must not be empty")
	}
	if cfg.IdleTimeout <= 0 {
		return Config{}, fmt.Errorf("PARLEY_IDLE_TIMEOUT must be > 0")
	}
	if cfg.TurnTimeout <= 0 {
		return Config{}, fmt.Errorf("PARLEY_TURN_TIMEOUT must be > 0")
	}
	if cfg.MaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("PARLEY_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.OutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("PARLEY_OUTBOUND_QUEUE_SIZE must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("PARLEY_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("PARLEY_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout < 0 {
		return Config{}, fmt.Errorf("PARLEY_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.TTSSampleRate <= 0 {
		return Config{}, fmt.Errorf("PARLEY_TTS_SAMPLE_RATE must be > 0")
	}
	if cfg.AudioSampleRate < 0 {
		return Config{}, fmt.Errorf("PARLEY_AUDIO_SAMPLE_RATE must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("PARLEY_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("PARLEY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
