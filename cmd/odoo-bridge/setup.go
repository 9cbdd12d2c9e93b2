// ABOUTME: init and bootstrap subcommands that create a working configuration
// ABOUTME: bootstrap also creates the database, saves an admin token and issues the first API key

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/odoo-bridge/internal/auth"
	"github.com/2389/odoo-bridge/internal/config"
	"github.com/2389/odoo-bridge/internal/store"
)

// bootstrapTokenTTL is the lifetime of the admin token written by bootstrap.
const bootstrapTokenTTL = 30 * 24 * time.Hour

// dataPath returns the odoo-bridge data directory.
// Priority: XDG_DATA_HOME/odoo-bridge > ~/.local/share/odoo-bridge
func dataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "odoo-bridge")
}

// tokenPath is where bootstrap saves the admin token for the admin CLI.
func tokenPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "token")
}

// configValues are the settings written into a generated config file.
type configValues struct {
	HTTPAddr  string
	DBPath    string
	JWTSecret string

	BackendURL      string
	BackendDatabase string
	BackendUsername string
	// BackendSecretRef is written verbatim, normally an ${ENV} reference.
	BackendSecretRef string
	Protocol         string

	RateLimitPerMinute int

	TailscaleEnabled  bool
	TailscaleHostname string
	TailscaleFunnel   bool

	LogLevel  string
	LogFormat string
}

// renderConfig produces a YAML config file for v.
func renderConfig(v configValues) string {
	var b strings.Builder
	b.WriteString("# odoo-bridge configuration\n")
	b.WriteString("# Generated by odoo-bridge\n\n")

	b.WriteString("server:\n")
	fmt.Fprintf(&b, "  http_addr: %q\n", v.HTTPAddr)
	b.WriteString("  request_timeout: \"30s\"\n")
	b.WriteString("  shutdown_grace_period: \"10s\"\n\n")

	if v.TailscaleEnabled {
		b.WriteString("tailscale:\n")
		b.WriteString("  enabled: true\n")
		fmt.Fprintf(&b, "  hostname: %q\n", v.TailscaleHostname)
		fmt.Fprintf(&b, "  funnel: %t\n\n", v.TailscaleFunnel)
	}

	b.WriteString("database:\n")
	fmt.Fprintf(&b, "  path: %q\n\n", v.DBPath)

	b.WriteString("auth:\n")
	fmt.Fprintf(&b, "  jwt_secret: %q\n\n", v.JWTSecret)

	b.WriteString("backend:\n")
	fmt.Fprintf(&b, "  url: %q\n", v.BackendURL)
	fmt.Fprintf(&b, "  database: %q\n", v.BackendDatabase)
	fmt.Fprintf(&b, "  username: %q\n", v.BackendUsername)
	fmt.Fprintf(&b, "  api_key: %q\n", v.BackendSecretRef)
	fmt.Fprintf(&b, "  protocol: %q\n\n", v.Protocol)

	b.WriteString("rate_limit:\n")
	fmt.Fprintf(&b, "  default_per_minute: %d\n\n", v.RateLimitPerMinute)

	b.WriteString("request_log:\n")
	b.WriteString("  retention: \"720h\"\n")
	b.WriteString("  max_entries: 100000 # 0 keeps every entry until it ages out\n\n")

	b.WriteString("mcp:\n")
	b.WriteString("  # /mcp/<api-key> puts the key in proxy and access logs\n")
	b.WriteString("  allow_key_in_path: false\n\n")

	b.WriteString("logging:\n")
	fmt.Fprintf(&b, "  level: %q\n", v.LogLevel)
	fmt.Fprintf(&b, "  format: %q\n", v.LogFormat)
	return b.String()
}

func randomSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

// writeConfigFile writes content to path, creating parent directories.
func writeConfigFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// writeDotEnv stores the backend secret beside the config, where Load picks it up.
func writeDotEnv(configPath, secret string) error {
	line := "ODOO_API_KEY=" + secret + "\n"
	return os.WriteFile(filepath.Join(filepath.Dir(configPath), ".env"), []byte(line), 0600)
}

type bootstrapCommand struct {
	app *app

	OdooURL      string `long:"odoo-url" description:"Odoo base URL" default:"http://localhost:8069"`
	OdooDatabase string `long:"odoo-db" description:"Odoo database name"`
	OdooUser     string `long:"odoo-user" description:"Odoo login the bridge acts as"`
	OdooAPIKey   string `long:"odoo-api-key" env:"ODOO_API_KEY" description:"Odoo API key or password (saved to .env beside the config)"`
	Owner        string `long:"owner" default:"default" description:"Owner label of the first API key"`
	RateLimit    int    `long:"rate-limit" default:"300" description:"Per-minute limit of the first API key and the default for new keys"`
	AdminName    string `long:"admin" default:"admin" description:"Subject of the admin token"`
}

// Execute performs first-time setup:
// 1. Creates the config file with a random JWT secret (if not exists)
// 2. Creates the database
// 3. Saves an admin token next to the config for odoo-bridge-admin
// 4. Issues the first API key and prints it once
func (c *bootstrapCommand) Execute(_ []string) error {
	a := c.app
	configPath := a.configPath()

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	var (
		dbPath    string
		jwtSecret string
		hashCost  = config.DefaultHashCost
	)

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		if c.OdooDatabase == "" || c.OdooUser == "" {
			return errors.New("--odoo-db and --odoo-user are required when creating a new config")
		}
		secret, err := randomSecret()
		if err != nil {
			return err
		}
		jwtSecret = secret
		dbPath = filepath.Join(dataPath(), "bridge.db")

		content := renderConfig(configValues{
			HTTPAddr:           config.DefaultHTTPAddr,
			DBPath:             dbPath,
			JWTSecret:          jwtSecret,
			BackendURL:         c.OdooURL,
			BackendDatabase:    c.OdooDatabase,
			BackendUsername:    c.OdooUser,
			BackendSecretRef:   "${ODOO_API_KEY}",
			Protocol:           "auto",
			RateLimitPerMinute: c.RateLimit,
			LogLevel:           "info",
			LogFormat:          "text",
		})
		if err := writeConfigFile(configPath, content); err != nil {
			return err
		}
		green.Fprintf(a.stdout, "  ✓ Created config: %s\n", configPath)

		if c.OdooAPIKey != "" {
			if err := writeDotEnv(configPath, c.OdooAPIKey); err != nil {
				return fmt.Errorf("writing .env: %w", err)
			}
			green.Fprintln(a.stdout, "  ✓ Saved backend secret to .env")
		} else {
			yellow.Fprintln(a.stdout, "  ! Set ODOO_API_KEY (environment or .env beside the config) before serving")
		}
	} else {
		cfg, err := a.loadConfig()
		if err != nil {
			return err
		}
		dbPath = cfg.Database.Path
		jwtSecret = cfg.Auth.JWTSecret
		hashCost = cfg.Auth.HashCost
		cyan.Fprintf(a.stdout, "  Using existing config: %s\n", configPath)
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()
	green.Fprintf(a.stdout, "  ✓ Database: %s\n", dbPath)

	existing, err := s.ListAPIKeys(a.ctx, true)
	if err != nil {
		return fmt.Errorf("checking api keys: %w", err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("bootstrap already complete: %d api key(s) exist", len(existing))
	}

	verifier, err := auth.NewJWTVerifier([]byte(jwtSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(c.AdminName, bootstrapTokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	if err := os.WriteFile(tokenPath(configPath), []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Fprintf(a.stdout, "  ✓ Saved admin token: %s\n", tokenPath(configPath))

	creds := auth.NewCredentialStore(s, auth.CredentialOptions{HashCost: hashCost, DefaultRateLimit: c.RateLimit})
	key, plaintext, err := creds.Issue(a.ctx, auth.IssueRequest{OwnerLabel: c.Owner, RateLimitPerMinute: c.RateLimit})
	if err != nil {
		return fmt.Errorf("issuing api key: %w", err)
	}

	fmt.Fprintln(a.stdout)
	green.Fprintln(a.stdout, "  Bootstrap complete!")
	fmt.Fprintln(a.stdout)
	cyan.Fprintln(a.stdout, "  First API Key")
	cyan.Fprintln(a.stdout, "  -------------")
	fmt.Fprintf(a.stdout, "  ID:         %s\n", key.ID)
	fmt.Fprintf(a.stdout, "  Owner:      %s\n", key.OwnerLabel)
	fmt.Fprintf(a.stdout, "  Rate limit: %d/min\n", key.RateLimitPerMinute)
	fmt.Fprintf(a.stdout, "  Key:        %s\n", plaintext)
	yellow.Fprintln(a.stdout, "  This key is shown once. Store it now.")
	fmt.Fprintln(a.stdout)

	yellow.Fprintln(a.stdout, "  Ready to go:")
	fmt.Fprintln(a.stdout, "    odoo-bridge serve              # start the bridge")
	fmt.Fprintln(a.stdout, "    odoo-bridge-admin keys list    # manage keys remotely")
	fmt.Fprintln(a.stdout)
	return nil
}

type initCommand struct {
	app *app
}

func (c *initCommand) Execute(_ []string) error {
	a := c.app
	reader := bufio.NewReader(a.stdin)

	fmt.Fprintln(a.stdout, "odoo-bridge configuration setup")
	fmt.Fprintln(a.stdout, "===============================")
	fmt.Fprintln(a.stdout)

	outputFile := prompt(a.stdout, reader, "Config file path", a.configPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(a.stdout, reader, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(a.stdout, "Aborted.")
			return nil
		}
	}

	fmt.Fprintln(a.stdout, "\n--- Server ---")
	v := configValues{}
	v.HTTPAddr = prompt(a.stdout, reader, "HTTP address", config.DefaultHTTPAddr)
	v.DBPath = prompt(a.stdout, reader, "SQLite database path", filepath.Join(dataPath(), "bridge.db"))

	fmt.Fprintln(a.stdout, "\n--- Odoo backend ---")
	v.BackendURL = prompt(a.stdout, reader, "Odoo URL", "http://localhost:8069")
	v.BackendDatabase = prompt(a.stdout, reader, "Database", "odoo")
	v.BackendUsername = prompt(a.stdout, reader, "Login", "admin")
	v.Protocol = prompt(a.stdout, reader, "Protocol (auto/xml/json)", "auto")
	v.BackendSecretRef = "${ODOO_API_KEY}"

	fmt.Fprintln(a.stdout, "\n--- Rate limiting ---")
	fmt.Sscanf(prompt(a.stdout, reader, "Default requests per minute", "300"), "%d", &v.RateLimitPerMinute)
	if v.RateLimitPerMinute <= 0 {
		v.RateLimitPerMinute = config.DefaultRateLimitPerMinute
	}

	fmt.Fprintln(a.stdout, "\n--- Tailscale ---")
	v.TailscaleEnabled = yes(prompt(a.stdout, reader, "Enable Tailscale?", "no"))
	if v.TailscaleEnabled {
		v.TailscaleHostname = prompt(a.stdout, reader, "Tailscale hostname", "odoo-bridge")
		v.TailscaleFunnel = yes(prompt(a.stdout, reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Fprintln(a.stdout, "\n--- Logging ---")
	v.LogLevel = prompt(a.stdout, reader, "Log level (debug/info/warn/error)", "info")
	v.LogFormat = prompt(a.stdout, reader, "Log format (text/json)", "text")

	secret, err := randomSecret()
	if err != nil {
		return err
	}
	v.JWTSecret = secret

	if err := writeConfigFile(outputFile, renderConfig(v)); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(v.DBPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Fprintf(a.stdout, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(a.stdout, "Set ODOO_API_KEY in the environment or in a .env file next to the config.")
	fmt.Fprintln(a.stdout, "\nTo start the server:")
	fmt.Fprintln(a.stdout, "  odoo-bridge serve")
	return nil
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(out io.Writer, reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	if input == "" {
		return defaultVal
	}
	return input
}
