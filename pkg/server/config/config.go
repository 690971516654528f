// Package config loads the server configuration from ZUBI_* environment
// variables.
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

	// Upstream model service.
	OpenAIAPIKey  string
	OpenAIBaseURL string
	Model         string

	Temperature       float64
	MaxTokens         int
	FollowUpMaxTokens int

	// CORS allowlist; empty disables CORS entirely.
	CORSAllowedOrigins map[string]struct{}

	MaxBodyBytes int64
	MaxMessages  int

	StreamIdleTimeout time.Duration
	MaxStreamDuration time.Duration

	// Session and effect durations, served to no one here but owned by the
	// deployment: the client reads the same variables.
	SessionDuration time.Duration

	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

// LoadFromEnv builds a Config from the environment with defaults.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("ZUBI_ADDR", ":4000"),
		OpenAIAPIKey:        strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:       envOr("ZUBI_OPENAI_BASE_URL", "https://api.openai.com/v1"),
		Model:               envOr("ZUBI_MODEL", "gpt-4o-mini"),
		Temperature:         envFloat64Or("ZUBI_TEMPERATURE", 0.8),
		MaxTokens:           envIntOr("ZUBI_MAX_TOKENS", 250),
		FollowUpMaxTokens:   envIntOr("ZUBI_FOLLOWUP_MAX_TOKENS", 200),
		CORSAllowedOrigins:  make(map[string]struct{}),
		MaxBodyBytes:        envInt64Or("ZUBI_MAX_BODY_BYTES", 1<<20), // 1 MiB
		MaxMessages:         envIntOr("ZUBI_MAX_MESSAGES", 64),
		StreamIdleTimeout:   envDurationOr("ZUBI_STREAM_IDLE_TIMEOUT", 60*time.Second),
		MaxStreamDuration:   envDurationOr("ZUBI_MAX_STREAM_DURATION", 2*time.Minute),
		SessionDuration:     envDurationOr("ZUBI_SESSION_DURATION", 60*time.Second),
		ReadHeaderTimeout:   envDurationOr("ZUBI_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:         envDurationOr("ZUBI_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: envDurationOr("ZUBI_SHUTDOWN_GRACE", 10*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("ZUBI_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface mid-request.
// A missing OpenAI key is deliberately not an error here: the chat handler
// rejects with a clear 500 so /api/health stays useful without credentials.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("addr must not be empty")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be > 0")
	}
	if c.MaxMessages <= 0 {
		return fmt.Errorf("max messages must be > 0")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be within [0, 2]")
	}
	if c.MaxTokens <= 0 || c.FollowUpMaxTokens <= 0 {
		return fmt.Errorf("token budgets must be > 0")
	}
	if c.StreamIdleTimeout < 0 || c.MaxStreamDuration <= 0 {
		return fmt.Errorf("stream timeouts must be positive")
	}
	if c.SessionDuration <= 0 {
		return fmt.Errorf("session duration must be > 0")
	}
	return nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64Or(key string, def int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envFloat64Or(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDurationOr(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Bare integers are treated as seconds for deploy ergonomics.
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
