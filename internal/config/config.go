// ABOUTME: Configuration loading and parsing for odoo-bridge
// ABOUTME: Supports YAML or TOML files with .env loading, env var expansion and duration parsing

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
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default values applied by Load when the file leaves a field empty.
const (
	DefaultHTTPAddr            = "127.0.0.1:3000"
	DefaultRequestTimeout      = 30 * time.Second
	DefaultShutdownGrace       = 10 * time.Second
	DefaultMaxBodyBytes        = 1 << 20
	DefaultHashCost            = 10
	DefaultVerifyCacheTTL      = 5 * time.Minute
	DefaultJSONMinVersion      = 19
	DefaultHealthCheckTimeout  = 10 * time.Second
	DefaultSessionTTL          = 30 * time.Minute
	DefaultCallTimeout         = 30 * time.Second
	DefaultRetryAttempts       = 3
	DefaultRetryInitialBackoff = 200 * time.Millisecond
	DefaultRetryMaxBackoff     = 2 * time.Second
	DefaultRateLimitPerMinute  = 300
	DefaultRateLimitWindow     = time.Minute
	DefaultLogRetention        = 30 * 24 * time.Hour
	DefaultLogMaxEntries       = 100000
	DefaultLogPruneInterval    = time.Hour
	DefaultLogBufferSize       = 1024

	// MinJWTSecretLength is the minimum accepted length of auth.jwt_secret.
	MinJWTSecretLength = 32
)

// Config represents the complete odoo-bridge configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Tailscale  TailscaleConfig  `yaml:"tailscale" toml:"tailscale"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	Backend    BackendConfig    `yaml:"backend" toml:"backend"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" toml:"rate_limit"`
	RequestLog RequestLogConfig `yaml:"request_log" toml:"request_log"`
	MCP        MCPConfig        `yaml:"mcp" toml:"mcp"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the HTTP listener and request timing settings
type ServerConfig struct {
	HTTPAddr     string `yaml:"http_addr" toml:"http_addr"`
	MaxBodyBytes int64  `yaml:"max_body_bytes" toml:"max_body_bytes"`

	RequestTimeout      time.Duration `yaml:"-" toml:"-"`
	ShutdownGracePeriod time.Duration `yaml:"-" toml:"-"`

	RequestTimeoutRaw      string `yaml:"request_timeout" toml:"request_timeout"`
	ShutdownGracePeriodRaw string `yaml:"shutdown_grace_period" toml:"shutdown_grace_period"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public Funnel, implies HTTPS
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds credential and admin token configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
	// HashCost is the bcrypt cost used when issuing API keys.
	HashCost int `yaml:"hash_cost" toml:"hash_cost"`

	VerifyCacheTTL    time.Duration `yaml:"-" toml:"-"`
	VerifyCacheTTLRaw string        `yaml:"verify_cache_ttl" toml:"verify_cache_ttl"`
}

// BackendConfig describes how to reach the Odoo instance
type BackendConfig struct {
	URL      string `yaml:"url" toml:"url"`
	Database string `yaml:"database" toml:"database"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
	APIKey   string `yaml:"api_key" toml:"api_key"`

	// Protocol is auto, xml or json. auto asks the server for its version.
	Protocol       string `yaml:"protocol" toml:"protocol"`
	JSONMinVersion int    `yaml:"json_min_version" toml:"json_min_version"`

	HealthCheckTimeout time.Duration `yaml:"-" toml:"-"`
	SessionTTL         time.Duration `yaml:"-" toml:"-"`
	CallTimeout        time.Duration `yaml:"-" toml:"-"`

	HealthCheckTimeoutRaw string `yaml:"health_check_timeout" toml:"health_check_timeout"`
	SessionTTLRaw         string `yaml:"session_ttl" toml:"session_ttl"`
	CallTimeoutRaw        string `yaml:"call_timeout" toml:"call_timeout"`

	Retry RetryConfig `yaml:"retry" toml:"retry"`
}

// Secret returns the credential used to authenticate, preferring the API key.
func (b BackendConfig) Secret() string {
	if b.APIKey != "" {
		return b.APIKey
	}
	return b.Password
}

// RetryConfig bounds retries of transient backend failures
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts" toml:"max_attempts"`

	InitialBackoff time.Duration `yaml:"-" toml:"-"`
	MaxBackoff     time.Duration `yaml:"-" toml:"-"`

	InitialBackoffRaw string `yaml:"initial_backoff" toml:"initial_backoff"`
	MaxBackoffRaw     string `yaml:"max_backoff" toml:"max_backoff"`
}

// RateLimitConfig holds the per-key admission policy
type RateLimitConfig struct {
	Enabled          *bool  `yaml:"enabled" toml:"enabled"`
	DefaultPerMinute int    `yaml:"default_per_minute" toml:"default_per_minute"`
	Store            string `yaml:"store" toml:"store"` // memory or redis
	RedisURL         string `yaml:"redis_url" toml:"redis_url"`

	Window    time.Duration `yaml:"-" toml:"-"`
	WindowRaw string        `yaml:"window" toml:"window"`
}

// IsEnabled reports whether rate limiting applies. Defaults to true.
func (r RateLimitConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// RequestLogConfig holds request log retention settings
type RequestLogConfig struct {
	Enabled *bool `yaml:"enabled" toml:"enabled"`
	// MaxEntries caps the stored entries. Unset means DefaultLogMaxEntries;
	// 0 turns count pruning off.
	MaxEntries *int `yaml:"max_entries" toml:"max_entries"`
	BufferSize int  `yaml:"buffer_size" toml:"buffer_size"`

	Retention     time.Duration `yaml:"-" toml:"-"`
	PruneInterval time.Duration `yaml:"-" toml:"-"`

	RetentionRaw     string `yaml:"retention" toml:"retention"`
	PruneIntervalRaw string `yaml:"prune_interval" toml:"prune_interval"`
}

// IsEnabled reports whether request logging is on. Defaults to true.
func (r RequestLogConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// EntryLimit returns the configured entry cap, 0 for none.
func (r RequestLogConfig) EntryLimit() int {
	if r.MaxEntries == nil {
		return DefaultLogMaxEntries
	}
	return *r.MaxEntries
}

// MCPConfig toggles the MCP front door
type MCPConfig struct {
	Enabled *bool `yaml:"enabled" toml:"enabled"`
	// AllowKeyInPath accepts /mcp/<api-key> for clients that cannot send
	// headers. The key then shows up in proxy and access logs.
	AllowKeyInPath bool `yaml:"allow_key_in_path" toml:"allow_key_in_path"`
}

// IsEnabled reports whether the MCP endpoint is mounted. Defaults to true.
func (m MCPConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// A .env file next to the config is loaded first so ${VAR_NAME} references can use it.
// Files ending in .toml are decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	loadDotEnv(filepath.Dir(path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath returns the config location.
// Priority: ODOO_BRIDGE_CONFIG env var > XDG_CONFIG_HOME/odoo-bridge/bridge.yaml > ~/.config/odoo-bridge/bridge.yaml
func DefaultPath() string {
	if p := os.Getenv("ODOO_BRIDGE_CONFIG"); p != "" {
		return p
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "bridge.yaml"
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "odoo-bridge", "bridge.yaml")
}

// loadDotEnv loads .env from dir and then the working directory.
// Variables already in the environment win; a missing file is not an error.
func loadDotEnv(dir string) {
	candidates := []string{filepath.Join(dir, ".env"), ".env"}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			_ = godotenv.Load(c)
		}
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills zero-valued settings with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = DefaultRequestTimeout
	}
	if c.Server.ShutdownGracePeriod == 0 {
		c.Server.ShutdownGracePeriod = DefaultShutdownGrace
	}
	if c.Auth.HashCost == 0 {
		c.Auth.HashCost = DefaultHashCost
	}
	if c.Auth.VerifyCacheTTL == 0 {
		c.Auth.VerifyCacheTTL = DefaultVerifyCacheTTL
	}

	b := &c.Backend
	if b.Protocol == "" {
		b.Protocol = "auto"
	}
	if b.JSONMinVersion == 0 {
		b.JSONMinVersion = DefaultJSONMinVersion
	}
	if b.HealthCheckTimeout == 0 {
		b.HealthCheckTimeout = DefaultHealthCheckTimeout
	}
	if b.SessionTTL == 0 {
		b.SessionTTL = DefaultSessionTTL
	}
	if b.CallTimeout == 0 {
		b.CallTimeout = DefaultCallTimeout
	}
	if b.Retry.MaxAttempts == 0 {
		b.Retry.MaxAttempts = DefaultRetryAttempts
	}
	if b.Retry.InitialBackoff == 0 {
		b.Retry.InitialBackoff = DefaultRetryInitialBackoff
	}
	if b.Retry.MaxBackoff == 0 {
		b.Retry.MaxBackoff = DefaultRetryMaxBackoff
	}

	if c.RateLimit.DefaultPerMinute == 0 {
		c.RateLimit.DefaultPerMinute = DefaultRateLimitPerMinute
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = DefaultRateLimitWindow
	}
	if c.RateLimit.Store == "" {
		c.RateLimit.Store = "memory"
	}

	if c.RequestLog.Retention == 0 {
		c.RequestLog.Retention = DefaultLogRetention
	}
	if c.RequestLog.PruneInterval == 0 {
		c.RequestLog.PruneInterval = DefaultLogPruneInterval
	}
	if c.RequestLog.BufferSize == 0 {
		c.RequestLog.BufferSize = DefaultLogBufferSize
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
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d characters", MinJWTSecretLength)
	}
	if c.Auth.HashCost < 4 || c.Auth.HashCost > 31 {
		return fmt.Errorf("auth.hash_cost must be between 4 and 31, got %d", c.Auth.HashCost)
	}

	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil {
		return fmt.Errorf("backend.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.url must use http or https scheme")
	}
	if c.Backend.Database == "" {
		return fmt.Errorf("backend.database is required")
	}
	if c.Backend.Username == "" {
		return fmt.Errorf("backend.username is required")
	}
	if c.Backend.Secret() == "" {
		return fmt.Errorf("backend.password or backend.api_key is required")
	}
	switch c.Backend.Protocol {
	case "auto", "xml", "json":
	default:
		return fmt.Errorf("backend.protocol must be auto, xml or json, got %q", c.Backend.Protocol)
	}
	if c.Backend.Retry.MaxAttempts < 1 {
		return fmt.Errorf("backend.retry.max_attempts must be at least 1")
	}

	if c.RateLimit.DefaultPerMinute < 1 {
		return fmt.Errorf("rate_limit.default_per_minute must be positive")
	}
	switch c.RateLimit.Store {
	case "memory":
	case "redis":
		if c.RateLimit.RedisURL == "" {
			return fmt.Errorf("rate_limit.redis_url is required when rate_limit.store is redis")
		}
	default:
		return fmt.Errorf("rate_limit.store must be memory or redis, got %q", c.RateLimit.Store)
	}

	if c.RequestLog.MaxEntries != nil && *c.RequestLog.MaxEntries < 0 {
		return fmt.Errorf("request_log.max_entries must not be negative")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
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
		{"server.request_timeout", cfg.Server.RequestTimeoutRaw, &cfg.Server.RequestTimeout},
		{"server.shutdown_grace_period", cfg.Server.ShutdownGracePeriodRaw, &cfg.Server.ShutdownGracePeriod},
		{"auth.verify_cache_ttl", cfg.Auth.VerifyCacheTTLRaw, &cfg.Auth.VerifyCacheTTL},
		{"backend.health_check_timeout", cfg.Backend.HealthCheckTimeoutRaw, &cfg.Backend.HealthCheckTimeout},
		{"backend.session_ttl", cfg.Backend.SessionTTLRaw, &cfg.Backend.SessionTTL},
		{"backend.call_timeout", cfg.Backend.CallTimeoutRaw, &cfg.Backend.CallTimeout},
		{"backend.retry.initial_backoff", cfg.Backend.Retry.InitialBackoffRaw, &cfg.Backend.Retry.InitialBackoff},
		{"backend.retry.max_backoff", cfg.Backend.Retry.MaxBackoffRaw, &cfg.Backend.Retry.MaxBackoff},
		{"rate_limit.window", cfg.RateLimit.WindowRaw, &cfg.RateLimit.Window},
		{"request_log.retention", cfg.RequestLog.RetentionRaw, &cfg.RequestLog.Retention},
		{"request_log.prune_interval", cfg.RequestLog.PruneIntervalRaw, &cfg.RequestLog.PruneInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}

	return nil
}
