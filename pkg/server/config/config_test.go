package config

import (
	"testing"
	"time"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	for _, key := range []string{
		"ZUBI_ADDR", "OPENAI_API_KEY", "ZUBI_MODEL", "ZUBI_TEMPERATURE",
		"ZUBI_SESSION_DURATION", "ZUBI_CORS_ORIGINS",
	} {
		t.Setenv(key, "")
	}

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":4000" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.Temperature != 0.8 {
		t.Errorf("Temperature = %v", cfg.Temperature)
	}
	if cfg.MaxTokens != 250 || cfg.FollowUpMaxTokens != 200 {
		t.Errorf("token budgets = %d/%d", cfg.MaxTokens, cfg.FollowUpMaxTokens)
	}
	if cfg.SessionDuration != 60*time.Second {
		t.Errorf("SessionDuration = %v", cfg.SessionDuration)
	}
	// Missing credentials are surfaced at request time, not load time.
	if cfg.OpenAIAPIKey != "" {
		t.Errorf("OpenAIAPIKey = %q", cfg.OpenAIAPIKey)
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Errorf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("ZUBI_ADDR", "127.0.0.1:9000")
	t.Setenv("ZUBI_MODEL", "gpt-4o")
	t.Setenv("ZUBI_TEMPERATURE", "0.5")
	t.Setenv("ZUBI_SESSION_DURATION", "2m")
	t.Setenv("ZUBI_CORS_ORIGINS", "http://localhost:3000, https://zubi.example")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9000" || cfg.Model != "gpt-4o" || cfg.Temperature != 0.5 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.SessionDuration != 2*time.Minute {
		t.Errorf("SessionDuration = %v", cfg.SessionDuration)
	}
	if _, ok := cfg.CORSAllowedOrigins["https://zubi.example"]; !ok {
		t.Errorf("CORS origin missing: %v", cfg.CORSAllowedOrigins)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Errorf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
}

func TestDurationAcceptsBareSeconds(t *testing.T) {
	t.Setenv("ZUBI_SESSION_DURATION", "90")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.SessionDuration != 90*time.Second {
		t.Errorf("SessionDuration = %v, want 90s", cfg.SessionDuration)
	}
}

func TestValidate(t *testing.T) {
	base, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Addr = " " }},
		{"zero body limit", func(c *Config) { c.MaxBodyBytes = 0 }},
		{"zero message limit", func(c *Config) { c.MaxMessages = 0 }},
		{"temperature out of range", func(c *Config) { c.Temperature = 3 }},
		{"zero max tokens", func(c *Config) { c.MaxTokens = 0 }},
		{"zero session duration", func(c *Config) { c.SessionDuration = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate should fail")
			}
		})
	}
}
