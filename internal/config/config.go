// Package config loads client settings. Values start from Default, are
// overlaid by an optional YAML file, then by environment variables; command
// line flags are applied last by the binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/whisper/roomchat/internal/messaging"
	"github.com/whisper/roomchat/internal/rest"
	"github.com/whisper/roomchat/internal/room"
	"github.com/whisper/roomchat/internal/ws"
)

// Transport names accepted in Config.Transport.
const (
	TransportWS   = "ws"
	TransportNATS = "nats"
)

// Config is the full client configuration.
type Config struct {
	APIURL         string        `yaml:"api_url"`
	WSURL          string        `yaml:"ws_url"`
	Transport      string        `yaml:"transport"`
	NATSURL        string        `yaml:"nats_url"`
	RedisAddr      string        `yaml:"redis_addr"` // empty selects the local Pebble session store
	DataDir        string        `yaml:"data_dir"`
	TranscriptDSN  string        `yaml:"transcript_dsn"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	LogLevel       string        `yaml:"log_level"`
	LogFormat      string        `yaml:"log_format"` // "console" or "json"
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
	TypingDebounce time.Duration `yaml:"typing_debounce"`
	TypingExpiry   time.Duration `yaml:"typing_expiry"`
}

// Default returns settings for a server running on localhost.
func Default() Config {
	rc := room.DefaultConfig()
	dataDir := ".roomchat"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".roomchat")
	}
	return Config{
		APIURL:         rest.DefaultConfig().BaseURL,
		WSURL:          ws.DefaultClientConfig().URL,
		Transport:      TransportWS,
		NATSURL:        messaging.DefaultNATSConfig().URL,
		DataDir:        dataDir,
		MetricsAddr:    ":9102",
		LogLevel:       "info",
		LogFormat:      "console",
		RequestTimeout: rest.DefaultConfig().Timeout,
		RetryInterval:  rc.RetryInterval,
		TypingDebounce: rc.TypingDebounce,
		TypingExpiry:   rc.TypingExpiry,
	}
}

// Load returns Default overlaid by the YAML file at path (if path is not
// empty) and then by the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables looked up with
// getenv. Unparseable durations are ignored.
func (c *Config) ApplyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("CHAT_API_URL", &c.APIURL)
	str("CHAT_WS_URL", &c.WSURL)
	str("CHAT_TRANSPORT", &c.Transport)
	str("NATS_URL", &c.NATSURL)
	str("REDIS_ADDR", &c.RedisAddr)
	str("CHAT_DATA_DIR", &c.DataDir)
	str("TRANSCRIPT_DSN", &c.TranscriptDSN)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	if v := getenv("CHAT_RETRY_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.RetryInterval = d
		}
	}
	if v := getenv("CHAT_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.RequestTimeout = d
		}
	}
}

// Validate checks the settings every binary depends on.
func (c Config) Validate() error {
	if c.APIURL == "" {
		return errors.New("config: api_url is required")
	}
	switch c.Transport {
	case TransportWS:
		if c.WSURL == "" {
			return errors.New("config: ws_url is required for the ws transport")
		}
	case TransportNATS:
		if c.NATSURL == "" {
			return errors.New("config: nats_url is required for the nats transport")
		}
	default:
		return fmt.Errorf("config: unknown transport %q (want %q or %q)", c.Transport, TransportWS, TransportNATS)
	}
	if c.RetryInterval <= 0 || c.TypingDebounce <= 0 || c.TypingExpiry <= 0 {
		return errors.New("config: timer durations must be positive")
	}
	return nil
}

// Room returns the room client timings.
func (c Config) Room() room.Config {
	rc := room.DefaultConfig()
	rc.RetryInterval = c.RetryInterval
	rc.TypingDebounce = c.TypingDebounce
	rc.TypingExpiry = c.TypingExpiry
	if c.RequestTimeout > 0 {
		rc.FetchTimeout = c.RequestTimeout
	}
	return rc
}

// REST returns the REST client settings.
func (c Config) REST() rest.Config {
	return rest.Config{BaseURL: c.APIURL, Timeout: c.RequestTimeout}
}

// WS returns the STOMP transport settings.
func (c Config) WS() ws.ClientConfig {
	wc := ws.DefaultClientConfig()
	wc.URL = c.WSURL
	return wc
}

// NATS returns the NATS transport settings.
func (c Config) NATS() messaging.NATSConfig {
	nc := messaging.DefaultNATSConfig()
	nc.URL = c.NATSURL
	return nc
}

// SessionDir is where the local session store keeps its files.
func (c Config) SessionDir() string {
	return filepath.Join(c.DataDir, "session")
}
