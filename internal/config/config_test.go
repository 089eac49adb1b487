package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Transport != TransportWS {
		t.Errorf("expected ws transport, got %q", cfg.Transport)
	}
	if cfg.RetryInterval != 5*time.Second {
		t.Errorf("expected 5s retry, got %s", cfg.RetryInterval)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roomchat.yaml")
	data := []byte("api_url: http://chat.internal:8080\ntransport: nats\nretry_interval: 2s\nlog_level: debug\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIURL != "http://chat.internal:8080" {
		t.Errorf("expected api url from file, got %q", cfg.APIURL)
	}
	if cfg.Transport != TransportNATS {
		t.Errorf("expected nats transport, got %q", cfg.Transport)
	}
	if cfg.RetryInterval != 2*time.Second {
		t.Errorf("expected 2s retry, got %s", cfg.RetryInterval)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected env to override file, got %q", cfg.LogLevel)
	}
	if cfg.TypingDebounce != time.Second {
		t.Errorf("expected default debounce kept, got %s", cfg.TypingDebounce)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(env(map[string]string{
		"CHAT_API_URL":        "https://api.example.com",
		"REDIS_ADDR":          "redis:6379",
		"CHAT_RETRY_INTERVAL": "bogus",
		"TRANSCRIPT_DSN":      "postgres://u@db/chat",
	}))
	if cfg.APIURL != "https://api.example.com" || cfg.RedisAddr != "redis:6379" {
		t.Errorf("unexpected overrides: %+v", cfg)
	}
	if cfg.RetryInterval != 5*time.Second {
		t.Errorf("expected bad duration ignored, got %s", cfg.RetryInterval)
	}
	if cfg.TranscriptDSN != "postgres://u@db/chat" {
		t.Errorf("unexpected dsn %q", cfg.TranscriptDSN)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no api", func(c *Config) { c.APIURL = "" }},
		{"unknown transport", func(c *Config) { c.Transport = "carrier-pigeon" }},
		{"ws without url", func(c *Config) { c.WSURL = "" }},
		{"nats without url", func(c *Config) { c.Transport = TransportNATS; c.NATSURL = "" }},
		{"zero retry", func(c *Config) { c.RetryInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDerivedConfigs(t *testing.T) {
	cfg := Default()
	cfg.WSURL = "wss://chat.example.com/ws/websocket"
	cfg.TypingExpiry = 4 * time.Second

	if got := cfg.WS().URL; got != cfg.WSURL {
		t.Errorf("expected ws url %q, got %q", cfg.WSURL, got)
	}
	if got := cfg.Room().TypingExpiry; got != 4*time.Second {
		t.Errorf("expected typing expiry 4s, got %s", got)
	}
	if got := cfg.REST().BaseURL; got != cfg.APIURL {
		t.Errorf("expected base url %q, got %q", cfg.APIURL, got)
	}
}
