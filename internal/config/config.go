// Package config loads client configuration from a YAML file.
//
// Only the server URL is required; Load fills every other field with a
// default so callers never handle zero values. Durations are written as
// Go duration strings ("30s", "100ms").
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load and Default for fields left unset.
const (
	DefaultTokenEnv          = "BULQ_TOKEN"
	DefaultRequestTimeout    = 10 * time.Second
	DefaultStaleAfter        = 30 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultReconnectDelay    = 3 * time.Second
	DefaultDialDelay         = 100 * time.Millisecond
	DefaultMaxReconnects     = 5
	DefaultRefreshBudget     = 3
)

// Duration is a time.Duration that decodes from YAML scalars
// like "30s" or "1m30s". Convert with time.Duration(d).
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds client settings loaded from a YAML file.
type Config struct {
	// ServerURL is the remote service base URL (http or https). Required.
	ServerURL string `yaml:"server_url"`

	// ChannelURL is the real-time topic base URL (ws or wss).
	// Derived from ServerURL when empty.
	ChannelURL string `yaml:"channel_url,omitempty"`

	// TokenEnv names the environment variable holding the bearer token.
	// Empty means no token is sent (observer access only).
	TokenEnv string `yaml:"token_env,omitempty"`

	// JournalPath locates the SQLite journal file.
	// Empty disables journaling.
	JournalPath string `yaml:"journal_path,omitempty"`

	// RequestTimeout bounds individual remote service calls.
	RequestTimeout Duration `yaml:"request_timeout,omitempty"`

	// StaleAfter is how long cached entities stay fresh without a push.
	StaleAfter Duration `yaml:"stale_after,omitempty"`

	// HeartbeatInterval is the write-idle interval between channel pings.
	HeartbeatInterval Duration `yaml:"heartbeat_interval,omitempty"`

	// ReconnectDelay is the fixed pause between reconnect attempts.
	ReconnectDelay Duration `yaml:"reconnect_delay,omitempty"`

	// DialDelay is the settle delay before the first dial of a topic.
	DialDelay Duration `yaml:"dial_delay,omitempty"`

	// MaxReconnects caps consecutive failed reconnect attempts.
	MaxReconnects int `yaml:"max_reconnects,omitempty"`

	// RefreshBudget caps consecutive failed background refreshes
	// per cached entity.
	RefreshBudget int `yaml:"refresh_budget,omitempty"`
}

// Default returns a Config with every optional field at its default.
// ServerURL is left empty and must be set by the caller.
func Default() *Config {
	return &Config{
		TokenEnv:          DefaultTokenEnv,
		RequestTimeout:    Duration(DefaultRequestTimeout),
		StaleAfter:        Duration(DefaultStaleAfter),
		HeartbeatInterval: Duration(DefaultHeartbeatInterval),
		ReconnectDelay:    Duration(DefaultReconnectDelay),
		DialDelay:         Duration(DefaultDialDelay),
		MaxReconnects:     DefaultMaxReconnects,
		RefreshBudget:     DefaultRefreshBudget,
	}
}

// Load reads and parses a config YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or fails validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like
	// "sever_url" vs "server_url") over pre-filled defaults.
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Derive the channel URL from the server URL BEFORE validation.
	if cfg.ChannelURL == "" {
		cfg.ChannelURL = deriveChannelURL(cfg.ServerURL)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Token resolves the bearer token from the configured environment
// variable. Empty when the variable is unset or TokenEnv is empty.
func (c *Config) Token() string {
	if c.TokenEnv == "" {
		return ""
	}
	return os.Getenv(c.TokenEnv)
}

// deriveChannelURL maps an http(s) server URL to its ws(s) counterpart.
// Returns "" for anything unparseable; validation reports it against
// server_url, where the mistake actually is.
func deriveChannelURL(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return ""
	}
	return u.String()
}

// validateConfig checks that required fields are present and valid.
func validateConfig(c *Config) error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	su, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("server_url: %w", err)
	}
	if su.Scheme != "http" && su.Scheme != "https" {
		return fmt.Errorf("server_url must use http or https, got %q", su.Scheme)
	}
	if su.Host == "" {
		return fmt.Errorf("server_url is missing a host")
	}

	cu, err := url.Parse(c.ChannelURL)
	if err != nil {
		return fmt.Errorf("channel_url: %w", err)
	}
	if cu.Scheme != "ws" && cu.Scheme != "wss" {
		return fmt.Errorf("channel_url must use ws or wss, got %q", cu.Scheme)
	}
	if cu.Host == "" {
		return fmt.Errorf("channel_url is missing a host")
	}

	for _, d := range []struct {
		name string
		val  Duration
	}{
		{"request_timeout", c.RequestTimeout},
		{"stale_after", c.StaleAfter},
		{"heartbeat_interval", c.HeartbeatInterval},
		{"reconnect_delay", c.ReconnectDelay},
	} {
		if d.val <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}
	if c.DialDelay < 0 {
		return fmt.Errorf("dial_delay must be non-negative")
	}
	if c.MaxReconnects < 0 {
		return fmt.Errorf("max_reconnects must be non-negative")
	}
	if c.RefreshBudget < 0 {
		return fmt.Errorf("refresh_budget must be non-negative")
	}

	return nil
}
