// ABOUTME: Configuration loading and parsing for wormhole-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Routing policies for the relay.
const (
	RoutingBroadcast = "broadcast"
	RoutingExclusive = "exclusive"
)

// Config represents the complete wormhole-gateway configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Tailscale  TailscaleConfig  `yaml:"tailscale" toml:"tailscale"`
	Relay      RelayConfig      `yaml:"relay" toml:"relay"`
	Transport  TransportConfig  `yaml:"transport" toml:"transport"`
	Agent      AgentConfig      `yaml:"agent" toml:"agent"`
	Transcript TranscriptConfig `yaml:"transcript" toml:"transcript"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds listener addresses
type ServerConfig struct {
	RelayAddr string `yaml:"relay_addr" toml:"relay_addr"`
	ProxyAddr string `yaml:"proxy_addr" toml:"proxy_addr"`
	HTTPAddr  string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
}

// RelayConfig controls how the relay routes commands to execution clients
type RelayConfig struct {
	Routing        string        `yaml:"routing" toml:"routing"`
	RequestTimeout time.Duration `yaml:"-" toml:"-"`
	DuplicateTTL   time.Duration `yaml:"-" toml:"-"`

	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout"`
	DuplicateTTLRaw   string `yaml:"duplicate_ttl" toml:"duplicate_ttl"`
}

// TransportConfig controls how callers reach the relay
type TransportConfig struct {
	RelayURL       string        `yaml:"relay_url" toml:"relay_url"`
	MaxRetries     int           `yaml:"max_retries" toml:"max_retries"`
	Timeout        time.Duration `yaml:"-" toml:"-"`
	InitialBackoff time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw        string `yaml:"timeout" toml:"timeout"`
	InitialBackoffRaw string `yaml:"initial_backoff" toml:"initial_backoff"`
}

// AgentConfig holds agent loop and prompt configuration
type AgentConfig struct {
	MaxSteps         int           `yaml:"max_steps" toml:"max_steps"`
	PromptsFile      string        `yaml:"prompts_file" toml:"prompts_file"`
	SystemFile       string        `yaml:"system_file" toml:"system_file"`
	RulesFile        string        `yaml:"rules_file" toml:"rules_file"`
	SessionCacheSize int           `yaml:"session_cache_size" toml:"session_cache_size"`
	SessionTTL       time.Duration `yaml:"-" toml:"-"`

	SessionTTLRaw string `yaml:"session_ttl" toml:"session_ttl"`
}

// TranscriptConfig holds on-disk conversation logging configuration
type TranscriptConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Dir      string `yaml:"dir" toml:"dir"`
	Database string `yaml:"database" toml:"database"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			RelayAddr: "localhost:8765",
			ProxyAddr: "0.0.0.0:8766",
			HTTPAddr:  "0.0.0.0:11434",
		},
		Tailscale: TailscaleConfig{
			Hostname: "wormhole",
		},
		Relay: RelayConfig{
			Routing:        RoutingBroadcast,
			RequestTimeout: 5 * time.Minute,
			DuplicateTTL:   time.Minute,
		},
		Transport: TransportConfig{
			RelayURL:       "ws://localhost:8765",
			MaxRetries:     3,
			Timeout:        5 * time.Minute,
			InitialBackoff: 500 * time.Millisecond,
		},
		Agent: AgentConfig{
			MaxSteps:         20,
			SessionCacheSize: 1024,
			SessionTTL:       2 * time.Hour,
		},
		Transcript: TranscriptConfig{
			Enabled:  true,
			Dir:      "data",
			Database: filepath.Join("data", "transcripts.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
// Values absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but returns the defaults when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg = Default()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnvOverrides lets deployments point at a relay or move the API without a config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WORMHOLE_RELAY_URL"); v != "" {
		cfg.Transport.RelayURL = v
	}
	if v := os.Getenv("WORMHOLE_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("WORMHOLE_RELAY_ADDR"); v != "" {
		cfg.Server.RelayAddr = v
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled {
		if c.Server.RelayAddr == "" {
			return fmt.Errorf("server.relay_addr is required (or enable tailscale)")
		}
		if c.Server.HTTPAddr == "" {
			return fmt.Errorf("server.http_addr is required (or enable tailscale)")
		}
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Relay.Routing {
	case RoutingBroadcast, RoutingExclusive:
	default:
		return fmt.Errorf("relay.routing must be %q or %q, got %q", RoutingBroadcast, RoutingExclusive, c.Relay.Routing)
	}

	if c.Transport.RelayURL == "" {
		return fmt.Errorf("transport.relay_url is required")
	}
	if !strings.HasPrefix(c.Transport.RelayURL, "ws://") && !strings.HasPrefix(c.Transport.RelayURL, "wss://") {
		return fmt.Errorf("transport.relay_url must use ws:// or wss://, got %q", c.Transport.RelayURL)
	}
	if c.Transport.MaxRetries < 0 {
		return fmt.Errorf("transport.max_retries cannot be negative")
	}

	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be positive")
	}
	if c.Agent.SessionCacheSize <= 0 {
		return fmt.Errorf("agent.session_cache_size must be positive")
	}

	if c.Transcript.Enabled && c.Transcript.Dir == "" {
		return fmt.Errorf("transcript.dir is required when transcripts are enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"relay.request_timeout", cfg.Relay.RequestTimeoutRaw, &cfg.Relay.RequestTimeout},
		{"relay.duplicate_ttl", cfg.Relay.DuplicateTTLRaw, &cfg.Relay.DuplicateTTL},
		{"transport.timeout", cfg.Transport.TimeoutRaw, &cfg.Transport.Timeout},
		{"transport.initial_backoff", cfg.Transport.InitialBackoffRaw, &cfg.Transport.InitialBackoff},
		{"agent.session_ttl", cfg.Agent.SessionTTLRaw, &cfg.Agent.SessionTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
