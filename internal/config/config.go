// ABOUTME: Configuration loading for the ragline client.
// ABOUTME: Loads TOML from an XDG path with env var expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the complete ragline client configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Push    PushConfig    `toml:"push"`
	API     APIConfig     `toml:"api"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig holds the backend endpoint.
type ServerConfig struct {
	URL string `toml:"url"`
}

// PushConfig holds push-channel connection and reconnection settings.
type PushConfig struct {
	// Transports is the preference order for establishing the push channel.
	// Known values: "websocket", "polling".
	Transports []string `toml:"transports"`

	ConnectTimeout       time.Duration `toml:"-"`
	MaxReconnectAttempts int           `toml:"max_reconnect_attempts"`
	BackoffBase          time.Duration `toml:"-"`
	BackoffCap           time.Duration `toml:"-"`

	// Raw string values for TOML unmarshaling
	ConnectTimeoutRaw string `toml:"connect_timeout"`
	BackoffBaseRaw    string `toml:"backoff_base"`
	BackoffCapRaw     string `toml:"backoff_cap"`
}

// APIConfig holds request/response call settings.
type APIConfig struct {
	RequestTimeout time.Duration `toml:"-"`

	RequestTimeoutRaw string `toml:"request_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// Default returns a Config populated with the engine defaults, used when no
// config file exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{URL: "http://localhost:5000"},
		Push: PushConfig{
			Transports:           []string{"websocket", "polling"},
			ConnectTimeout:       20 * time.Second,
			MaxReconnectAttempts: 5,
			BackoffBase:          time.Second,
			BackoffCap:           5 * time.Second,
		},
		API:     APIConfig{RequestTimeout: 30 * time.Second},
		Logging: LoggingConfig{Level: "info"},
	}
}

// DefaultPath returns the path to the client config file.
// Priority: RAGLINE_CONFIG env var > XDG_CONFIG_HOME/ragline/config.toml >
// ~/.config/ragline/config.toml
func DefaultPath() string {
	if envPath := os.Getenv("RAGLINE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "ragline", "config.toml")
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Unset fields fall back to defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// parseDurations converts raw duration strings into time.Duration values.
// Empty raw strings keep the default already present on the field.
func parseDurations(cfg *Config) error {
	entries := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Push.ConnectTimeoutRaw, &cfg.Push.ConnectTimeout, "push.connect_timeout"},
		{cfg.Push.BackoffBaseRaw, &cfg.Push.BackoffBase, "push.backoff_base"},
		{cfg.Push.BackoffCapRaw, &cfg.Push.BackoffCap, "push.backoff_cap"},
		{cfg.API.RequestTimeoutRaw, &cfg.API.RequestTimeout, "api.request_timeout"},
	}

	for _, e := range entries {
		if e.raw == "" {
			continue
		}
		d, err := time.ParseDuration(e.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", e.name, err)
		}
		*e.dst = d
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	if len(c.Push.Transports) == 0 {
		return fmt.Errorf("push.transports must name at least one transport")
	}
	for _, t := range c.Push.Transports {
		if t != "websocket" && t != "polling" {
			return fmt.Errorf("unknown transport %q", t)
		}
	}
	if c.Push.MaxReconnectAttempts < 1 {
		return fmt.Errorf("push.max_reconnect_attempts must be at least 1")
	}
	if c.Push.BackoffBase <= 0 || c.Push.BackoffCap <= 0 {
		return fmt.Errorf("backoff durations must be positive")
	}
	if c.Push.BackoffCap < c.Push.BackoffBase {
		return fmt.Errorf("push.backoff_cap must not be below push.backoff_base")
	}
	return nil
}
