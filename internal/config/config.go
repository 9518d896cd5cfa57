// ABOUTME: Configuration loading and parsing for coven-relay
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-relay/internal/session"
)

// Defaults applied when a field is left empty.
const (
	DefaultRequestTimeout   = 100 * time.Second
	DefaultMaxSegmentLength = 2000
	DefaultCommandPrefix    = "!"
	DefaultMetricsPath      = "/metrics"
	DefaultDatabaseDriver   = "sqlite"
)

// Config represents the complete coven-relay configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Provider  ProviderConfig  `yaml:"provider" toml:"provider"`
	Relay     RelayConfig     `yaml:"relay" toml:"relay"`
	Matrix    MatrixConfig    `yaml:"matrix" toml:"matrix"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the HTTP listener address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// DatabaseConfig selects the session store backend
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // sqlite or bolt
	Path   string `yaml:"path" toml:"path"`
}

// ProviderConfig describes the completion provider endpoint and its clients
type ProviderConfig struct {
	BaseURL        string                 `yaml:"base_url" toml:"base_url"`
	Default        string                 `yaml:"default" toml:"default"`
	Clients        []ProviderClientConfig `yaml:"clients" toml:"clients"`
	RequestTimeout time.Duration          `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout"`
}

// ProviderClientConfig is one selectable provider
type ProviderClientConfig struct {
	Key         string `yaml:"key" toml:"key"`
	Kind        string `yaml:"kind" toml:"kind"` // thread or bound
	ClientToUse string `yaml:"client_to_use" toml:"client_to_use"`
}

// RelayConfig holds answer formatting limits
type RelayConfig struct {
	MaxSegmentLength int `yaml:"max_segment_length" toml:"max_segment_length"`
}

// MatrixConfig holds Matrix frontend configuration
type MatrixConfig struct {
	Homeserver      string   `yaml:"homeserver" toml:"homeserver"`
	UserID          string   `yaml:"user_id" toml:"user_id"`
	AccessToken     string   `yaml:"access_token" toml:"access_token"`
	Password        string   `yaml:"password" toml:"password"`
	DeviceID        string   `yaml:"device_id" toml:"device_id"`
	RecoveryKey     string   `yaml:"recovery_key" toml:"recovery_key"`
	CryptoDB        string   `yaml:"crypto_db" toml:"crypto_db"`
	AllowedRooms    []string `yaml:"allowed_rooms" toml:"allowed_rooms"`
	AllowedUsers    []string `yaml:"allowed_users" toml:"allowed_users"`
	CommandPrefix   string   `yaml:"command_prefix" toml:"command_prefix"`
	TypingIndicator bool     `yaml:"typing_indicator" toml:"typing_indicator"`
}

// AuthConfig holds announcement endpoint authentication
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
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

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
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

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}
	if c.Provider.RequestTimeout == 0 {
		c.Provider.RequestTimeout = DefaultRequestTimeout
	}
	if len(c.Provider.Clients) == 0 {
		c.Provider.Clients = []ProviderClientConfig{
			{Key: "chatgpt", Kind: string(session.KindThread)},
			{Key: "bing", Kind: string(session.KindBound)},
		}
	}
	if c.Provider.Default == "" {
		c.Provider.Default = c.Provider.Clients[0].Key
	}
	if c.Relay.MaxSegmentLength == 0 {
		c.Relay.MaxSegmentLength = DefaultMaxSegmentLength
	}
	if c.Matrix.CommandPrefix == "" {
		c.Matrix.CommandPrefix = DefaultCommandPrefix
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Database.Driver {
	case "sqlite", "bolt":
	default:
		return fmt.Errorf("database.driver must be sqlite or bolt, got %q", c.Database.Driver)
	}

	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	u, err := url.Parse(c.Provider.BaseURL)
	if err != nil {
		return fmt.Errorf("provider.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("provider.base_url must use http or https scheme")
	}
	if c.Provider.RequestTimeout <= 0 {
		return fmt.Errorf("provider.request_timeout must be positive")
	}
	if _, err := c.ProviderRegistry(); err != nil {
		return fmt.Errorf("provider.clients: %w", err)
	}

	if c.Relay.MaxSegmentLength <= 0 {
		return fmt.Errorf("relay.max_segment_length must be positive")
	}

	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if _, err := url.Parse(c.Matrix.Homeserver); err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if c.Matrix.UserID == "" {
		return fmt.Errorf("matrix.user_id is required")
	}
	if c.Matrix.AccessToken == "" && c.Matrix.Password == "" {
		return fmt.Errorf("matrix.access_token or matrix.password is required")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// ProviderRegistry builds the provider registry from provider.clients.
func (c *Config) ProviderRegistry() (*session.Registry, error) {
	providers := make([]session.Provider, 0, len(c.Provider.Clients))
	for _, pc := range c.Provider.Clients {
		providers = append(providers, session.Provider{
			Key:         pc.Key,
			Kind:        session.Kind(pc.Kind),
			ClientToUse: pc.ClientToUse,
		})
	}
	return session.NewRegistry(c.Provider.Default, providers...)
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Provider.RequestTimeoutRaw != "" {
		cfg.Provider.RequestTimeout, err = time.ParseDuration(cfg.Provider.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Provider.RequestTimeoutRaw, err)
		}
	}

	return nil
}
