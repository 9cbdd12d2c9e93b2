// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, .env and env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "bridge.yaml", `
server:
  http_addr: "0.0.0.0:8080"
  request_timeout: "15s"
  shutdown_grace_period: "3s"

database:
  path: "./bridge.db"

auth:
  jwt_secret: "`+validSecret+`"
  hash_cost: 6

backend:
  url: "https://odoo.example.com"
  database: "prod"
  username: "admin"
  password: "pw"
  protocol: "xml"
  health_check_timeout: "2s"
  retry:
    max_attempts: 5
    initial_backoff: "50ms"

rate_limit:
  default_per_minute: 60
  window: "30s"

request_log:
  retention: "24h"
  max_entries: 500

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Server.RequestTimeout != 15*time.Second {
		t.Errorf("Server.RequestTimeout = %v, want 15s", cfg.Server.RequestTimeout)
	}
	if cfg.Server.ShutdownGracePeriod != 3*time.Second {
		t.Errorf("Server.ShutdownGracePeriod = %v, want 3s", cfg.Server.ShutdownGracePeriod)
	}
	if cfg.Auth.HashCost != 6 {
		t.Errorf("Auth.HashCost = %d, want 6", cfg.Auth.HashCost)
	}
	if cfg.Backend.Protocol != "xml" {
		t.Errorf("Backend.Protocol = %q, want xml", cfg.Backend.Protocol)
	}
	if cfg.Backend.HealthCheckTimeout != 2*time.Second {
		t.Errorf("Backend.HealthCheckTimeout = %v, want 2s", cfg.Backend.HealthCheckTimeout)
	}
	if cfg.Backend.Retry.MaxAttempts != 5 {
		t.Errorf("Backend.Retry.MaxAttempts = %d, want 5", cfg.Backend.Retry.MaxAttempts)
	}
	if cfg.Backend.Retry.InitialBackoff != 50*time.Millisecond {
		t.Errorf("Backend.Retry.InitialBackoff = %v, want 50ms", cfg.Backend.Retry.InitialBackoff)
	}
	if cfg.Backend.Retry.MaxBackoff != DefaultRetryMaxBackoff {
		t.Errorf("Backend.Retry.MaxBackoff = %v, want default %v", cfg.Backend.Retry.MaxBackoff, DefaultRetryMaxBackoff)
	}
	if cfg.RateLimit.DefaultPerMinute != 60 {
		t.Errorf("RateLimit.DefaultPerMinute = %d, want 60", cfg.RateLimit.DefaultPerMinute)
	}
	if cfg.RateLimit.Window != 30*time.Second {
		t.Errorf("RateLimit.Window = %v, want 30s", cfg.RateLimit.Window)
	}
	if !cfg.RateLimit.IsEnabled() {
		t.Error("RateLimit.IsEnabled() = false, want true by default")
	}
	if cfg.RequestLog.Retention != 24*time.Hour {
		t.Errorf("RequestLog.Retention = %v, want 24h", cfg.RequestLog.Retention)
	}
	if cfg.RequestLog.EntryLimit() != 500 {
		t.Errorf("RequestLog.EntryLimit() = %d, want 500", cfg.RequestLog.EntryLimit())
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "bridge.toml", `
[database]
path = "./bridge.db"

[auth]
jwt_secret = "`+validSecret+`"

[backend]
url = "http://localhost:8069"
database = "dev"
username = "admin"
api_key = "key"

[rate_limit]
enabled = false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.URL != "http://localhost:8069" {
		t.Errorf("Backend.URL = %q", cfg.Backend.URL)
	}
	if cfg.Backend.Secret() != "key" {
		t.Errorf("Backend.Secret() = %q, want api key", cfg.Backend.Secret())
	}
	if cfg.RateLimit.IsEnabled() {
		t.Error("RateLimit.IsEnabled() = true, want false")
	}
	if cfg.Server.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("Server.HTTPAddr = %q, want default", cfg.Server.HTTPAddr)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "bridge.yaml", `
database:
  path: "./bridge.db"
auth:
  jwt_secret: "`+validSecret+`"
backend:
  url: "http://localhost:8069"
  database: "dev"
  username: "admin"
  password: "pw"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.RequestTimeout != DefaultRequestTimeout {
		t.Errorf("RequestTimeout = %v, want %v", cfg.Server.RequestTimeout, DefaultRequestTimeout)
	}
	if cfg.Backend.Protocol != "auto" {
		t.Errorf("Backend.Protocol = %q, want auto", cfg.Backend.Protocol)
	}
	if cfg.Backend.JSONMinVersion != DefaultJSONMinVersion {
		t.Errorf("Backend.JSONMinVersion = %d, want %d", cfg.Backend.JSONMinVersion, DefaultJSONMinVersion)
	}
	if cfg.RateLimit.DefaultPerMinute != DefaultRateLimitPerMinute {
		t.Errorf("RateLimit.DefaultPerMinute = %d, want %d", cfg.RateLimit.DefaultPerMinute, DefaultRateLimitPerMinute)
	}
	if cfg.RateLimit.Store != "memory" {
		t.Errorf("RateLimit.Store = %q, want memory", cfg.RateLimit.Store)
	}
	if cfg.RequestLog.Retention != DefaultLogRetention {
		t.Errorf("RequestLog.Retention = %v, want %v", cfg.RequestLog.Retention, DefaultLogRetention)
	}
	if cfg.Auth.HashCost != DefaultHashCost {
		t.Errorf("Auth.HashCost = %d, want %d", cfg.Auth.HashCost, DefaultHashCost)
	}
	if cfg.RequestLog.EntryLimit() != DefaultLogMaxEntries {
		t.Errorf("RequestLog.EntryLimit() = %d, want %d", cfg.RequestLog.EntryLimit(), DefaultLogMaxEntries)
	}
	if cfg.MCP.AllowKeyInPath {
		t.Error("MCP.AllowKeyInPath should default to false")
	}
}

func TestLoad_ZeroMaxEntriesDisablesCountPruning(t *testing.T) {
	path := writeConfig(t, "bridge.yaml", `
database:
  path: "./bridge.db"
auth:
  jwt_secret: "`+validSecret+`"
backend:
  url: "http://localhost:8069"
  database: "dev"
  username: "admin"
  password: "pw"
request_log:
  max_entries: 0
mcp:
  allow_key_in_path: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RequestLog.EntryLimit() != 0 {
		t.Errorf("RequestLog.EntryLimit() = %d, want 0", cfg.RequestLog.EntryLimit())
	}
	if !cfg.MCP.AllowKeyInPath {
		t.Error("MCP.AllowKeyInPath = false, want true")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_ODOO_PASSWORD", "from-env")

	path := writeConfig(t, "bridge.yaml", `
database:
  path: "./bridge.db"
auth:
  jwt_secret: "`+validSecret+`"
backend:
  url: "http://localhost:8069"
  database: "dev"
  username: "admin"
  password: "${TEST_ODOO_PASSWORD}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.Password != "from-env" {
		t.Errorf("Backend.Password = %q, want from-env", cfg.Backend.Password)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	const name = "ODOO_BRIDGE_TEST_DOTENV_SECRET"
	t.Setenv(name, "")
	os.Unsetenv(name)
	t.Cleanup(func() { os.Unsetenv(name) })

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(name+"="+validSecret+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "bridge.yaml")
	content := `
database:
  path: "./bridge.db"
auth:
  jwt_secret: "${` + name + `}"
backend:
  url: "http://localhost:8069"
  database: "dev"
  username: "admin"
  password: "pw"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != validSecret {
		t.Errorf("Auth.JWTSecret = %q, want value from .env", cfg.Auth.JWTSecret)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "bridge.yaml", `
server:
  request_timeout: "soon"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "server.request_timeout") {
		t.Errorf("error = %v, want mention of server.request_timeout", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func validConfig() *Config {
	cfg := &Config{
		Database: DatabaseConfig{Path: "./bridge.db"},
		Auth:     AuthConfig{JWTSecret: validSecret},
		Backend: BackendConfig{
			URL:      "http://localhost:8069",
			Database: "dev",
			Username: "admin",
			Password: "pw",
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"short jwt secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "auth.jwt_secret"},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"missing backend url", func(c *Config) { c.Backend.URL = "" }, "backend.url"},
		{"bad backend scheme", func(c *Config) { c.Backend.URL = "ftp://odoo" }, "http or https"},
		{"missing backend database", func(c *Config) { c.Backend.Database = "" }, "backend.database"},
		{"missing credentials", func(c *Config) { c.Backend.Password = "" }, "backend.password"},
		{"bad protocol", func(c *Config) { c.Backend.Protocol = "soap" }, "backend.protocol"},
		{"redis without url", func(c *Config) { c.RateLimit.Store = "redis" }, "redis_url"},
		{"unknown limiter store", func(c *Config) { c.RateLimit.Store = "etcd" }, "rate_limit.store"},
		{"bad hash cost", func(c *Config) { c.Auth.HashCost = 99 }, "hash_cost"},
		{"tailscale without hostname", func(c *Config) { c.Tailscale.Enabled = true }, "tailscale.hostname"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"negative max entries", func(c *Config) { n := -1; c.RequestLog.MaxEntries = &n }, "max_entries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("ODOO_BRIDGE_CONFIG", "/etc/odoo-bridge/custom.yaml")
	if got := DefaultPath(); got != "/etc/odoo-bridge/custom.yaml" {
		t.Errorf("DefaultPath() = %q", got)
	}

	t.Setenv("ODOO_BRIDGE_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got := DefaultPath(); got != filepath.Join("/tmp/xdg", "odoo-bridge", "bridge.yaml") {
		t.Errorf("DefaultPath() = %q", got)
	}
}
