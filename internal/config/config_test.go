// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/2389/coven-relay/internal/session"
)

const validYAML = `
server:
  http_addr: "0.0.0.0:8080"

database:
  driver: "bolt"
  path: "./relay.bolt"

provider:
  base_url: "http://localhost:3000"
  request_timeout: "45s"
  default: "bing"
  clients:
    - key: "chatgpt"
      kind: "thread"
    - key: "bing"
      kind: "bound"
      client_to_use: "bing-upstream"

relay:
  max_segment_length: 1500

matrix:
  homeserver: "https://matrix.org"
  user_id: "@relay:matrix.org"
  access_token: "matrix-token"
  allowed_rooms:
    - "!room1:matrix.org"
  command_prefix: "?"

auth:
  jwt_secret: "a-very-long-secret-for-announcements"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, "relay.yaml", validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Driver != "bolt" {
		t.Errorf("Database.Driver = %q, want bolt", cfg.Database.Driver)
	}
	if cfg.Provider.RequestTimeout != 45*time.Second {
		t.Errorf("Provider.RequestTimeout = %v, want 45s", cfg.Provider.RequestTimeout)
	}
	if cfg.Relay.MaxSegmentLength != 1500 {
		t.Errorf("Relay.MaxSegmentLength = %d, want 1500", cfg.Relay.MaxSegmentLength)
	}
	if cfg.Matrix.CommandPrefix != "?" {
		t.Errorf("Matrix.CommandPrefix = %q, want ?", cfg.Matrix.CommandPrefix)
	}
	if len(cfg.Matrix.AllowedRooms) != 1 {
		t.Errorf("Matrix.AllowedRooms len = %d, want 1", len(cfg.Matrix.AllowedRooms))
	}
	if cfg.Metrics.Path != DefaultMetricsPath {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, DefaultMetricsPath)
	}

	reg, err := cfg.ProviderRegistry()
	if err != nil {
		t.Fatalf("ProviderRegistry() error = %v", err)
	}
	if reg.Default().Key != "bing" {
		t.Errorf("default provider = %q, want bing", reg.Default().Key)
	}
	bing, err := reg.Lookup("bing")
	if err != nil {
		t.Fatalf("Lookup(bing) error = %v", err)
	}
	if bing.Kind != session.KindBound || bing.ClientToUse != "bing-upstream" {
		t.Errorf("bing provider = %+v", bing)
	}
}

func TestLoad_TOML(t *testing.T) {
	content := `
[server]
http_addr = "127.0.0.1:9090"

[database]
path = "/tmp/relay.db"

[provider]
base_url = "https://provider.example.com"

[matrix]
homeserver = "https://matrix.org"
user_id = "@relay:matrix.org"
password = "hunter2"
`
	cfg, err := Load(writeConfig(t, "relay.toml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Matrix.Password != "hunter2" {
		t.Errorf("Matrix.Password = %q", cfg.Matrix.Password)
	}
}

func TestLoad_Defaults(t *testing.T) {
	content := `
server:
  http_addr: ":8080"
database:
  path: "relay.db"
provider:
  base_url: "http://localhost:3000"
matrix:
  homeserver: "https://matrix.org"
  user_id: "@relay:matrix.org"
  access_token: "tok"
`
	cfg, err := Load(writeConfig(t, "relay.yaml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Provider.RequestTimeout != DefaultRequestTimeout {
		t.Errorf("Provider.RequestTimeout = %v, want %v", cfg.Provider.RequestTimeout, DefaultRequestTimeout)
	}
	if cfg.Relay.MaxSegmentLength != DefaultMaxSegmentLength {
		t.Errorf("Relay.MaxSegmentLength = %d, want %d", cfg.Relay.MaxSegmentLength, DefaultMaxSegmentLength)
	}
	if cfg.Matrix.CommandPrefix != "!" {
		t.Errorf("Matrix.CommandPrefix = %q, want !", cfg.Matrix.CommandPrefix)
	}
	if cfg.Provider.Default != "chatgpt" || len(cfg.Provider.Clients) != 2 {
		t.Errorf("Provider defaults = %q / %d clients", cfg.Provider.Default, len(cfg.Provider.Clients))
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging defaults = %+v", cfg.Logging)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_MATRIX_TOKEN", "secret-token-123")
	t.Setenv("TEST_PROVIDER_URL", "http://provider:3000")

	content := `
server:
  http_addr: ":8080"
database:
  path: "relay.db"
provider:
  base_url: "${TEST_PROVIDER_URL}"
matrix:
  homeserver: "https://matrix.org"
  user_id: "@relay:matrix.org"
  access_token: "${TEST_MATRIX_TOKEN}"
`
	cfg, err := Load(writeConfig(t, "relay.yaml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Matrix.AccessToken != "secret-token-123" {
		t.Errorf("Matrix.AccessToken = %q, want %q", cfg.Matrix.AccessToken, "secret-token-123")
	}
	if cfg.Provider.BaseURL != "http://provider:3000" {
		t.Errorf("Provider.BaseURL = %q", cfg.Provider.BaseURL)
	}
}

func TestExpandEnvVars_Unset(t *testing.T) {
	os.Unsetenv("DEFINITELY_NOT_SET_RELAY_VAR")
	if got := expandEnvVars("a${DEFINITELY_NOT_SET_RELAY_VAR}b"); got != "ab" {
		t.Errorf("expandEnvVars() = %q, want %q", got, "ab")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/relay.yaml")
	if err == nil {
		t.Fatal("Load() expected error for nonexistent file")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("error = %v, want reading config file error", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	content := strings.Replace(validYAML, `"45s"`, `"soon"`, 1)
	_, err := Load(writeConfig(t, "relay.yaml", content))
	if err == nil || !strings.Contains(err.Error(), "request_timeout") {
		t.Errorf("Load() error = %v, want request_timeout parse error", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{
			Server:   ServerConfig{HTTPAddr: ":8080"},
			Database: DatabaseConfig{Path: "relay.db"},
			Provider: ProviderConfig{BaseURL: "http://localhost:3000"},
			Matrix: MatrixConfig{
				Homeserver:  "https://matrix.org",
				UserID:      "@relay:matrix.org",
				AccessToken: "tok",
			},
		}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"no http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"tailscale replaces http addr", func(c *Config) {
			c.Server.HTTPAddr = ""
			c.Tailscale = TailscaleConfig{Enabled: true, Hostname: "relay"}
		}, ""},
		{"tailscale without hostname", func(c *Config) { c.Tailscale.Enabled = true }, "tailscale.hostname"},
		{"no database path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"bad driver", func(c *Config) { c.Database.Driver = "postgres" }, "database.driver"},
		{"no provider url", func(c *Config) { c.Provider.BaseURL = "" }, "provider.base_url"},
		{"bad provider scheme", func(c *Config) { c.Provider.BaseURL = "ftp://x" }, "http or https"},
		{"bad provider kind", func(c *Config) {
			c.Provider.Clients = []ProviderClientConfig{{Key: "x", Kind: "telepathy"}}
			c.Provider.Default = "x"
		}, "provider.clients"},
		{"default not registered", func(c *Config) { c.Provider.Default = "nope" }, "provider.clients"},
		{"negative segment length", func(c *Config) { c.Relay.MaxSegmentLength = -1 }, "max_segment_length"},
		{"no homeserver", func(c *Config) { c.Matrix.Homeserver = "" }, "matrix.homeserver"},
		{"no user id", func(c *Config) { c.Matrix.UserID = "" }, "matrix.user_id"},
		{"no credentials", func(c *Config) { c.Matrix.AccessToken = "" }, "matrix.access_token or matrix.password"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
