// ABOUTME: Entry point for the odoo-bridge server binary
// ABOUTME: Subcommands serve, stdio, health, init, bootstrap and keys; exit codes separate config and health failures

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jessevdk/go-flags"

	"github.com/2389/odoo-bridge/internal/config"
	"github.com/2389/odoo-bridge/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
           _                  _          _     _
  ___   __| | ___   ___      | |__  _ __(_) __| | __ _  ___
 / _ \ / _' |/ _ \ / _ \ ____| '_ \| '__| |/ _' |/ _' |/ _ \
| (_) | (_| | (_) | (_) |____| |_) | |  | | (_| | (_| |  __/
 \___/ \__,_|\___/ \___/     |_.__/|_|  |_|\__,_|\__, |\___|
                                                 |___/
`

// Process exit codes.
const (
	exitOK          = 0
	exitError       = 1
	exitConfig      = 2
	exitHealthCheck = 3
)

// errBadConfig marks failures to load or validate the configuration.
var errBadConfig = errors.New("invalid configuration")

// app carries process-wide state into go-flags commands.
type app struct {
	ctx    context.Context
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	Config string `short:"c" long:"config" env:"ODOO_BRIDGE_CONFIG" description:"Config file (default: $XDG_CONFIG_HOME/odoo-bridge/bridge.yaml)"`
}

func (a *app) configPath() string {
	if a.Config != "" {
		return a.Config
	}
	return config.DefaultPath()
}

func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.configPath())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBadConfig, err)
	}
	return cfg, nil
}

func newParser(a *app) *flags.Parser {
	p := flags.NewParser(a, flags.HelpFlag|flags.PassDoubleDash)
	p.Name = "odoo-bridge"
	p.ShortDescription = "MCP and REST bridge for Odoo"

	mustAdd := func(name, short, long string, cmd any) *flags.Command {
		c, err := p.AddCommand(name, short, long, cmd)
		if err != nil {
			panic(err)
		}
		return c
	}
	mustAdd("serve", "Start the bridge server", "Health-checks the backend, then serves REST, MCP and admin routes until interrupted.", &serveCommand{app: a})
	mustAdd("stdio", "Serve MCP over stdin/stdout", "Runs the MCP front door on stdin/stdout for one API key. Logs go to stderr.", &stdioCommand{app: a})
	mustAdd("health", "Check a running server", "Queries /health/ready (or /health with --live) on the configured address.", &healthCommand{app: a})
	mustAdd("init", "Create a config file interactively", "", &initCommand{app: a})
	mustAdd("bootstrap", "First-time setup", "Writes a config with a random JWT secret, creates the database, saves an admin token and issues the first API key.", &bootstrapCommand{app: a})
	addKeysCommand(p, a)
	return p
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	a := &app{ctx: ctx, stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	code := run(a, os.Args[1:])
	cancel()
	os.Exit(code)
}

// run parses args, executes the selected command and maps the result to an exit code.
func run(a *app, args []string) int {
	p := newParser(a)
	_, err := p.ParseArgs(args)
	if err == nil {
		return exitOK
	}

	var ferr *flags.Error
	if errors.As(err, &ferr) {
		if ferr.Type == flags.ErrHelp {
			fmt.Fprintln(a.stdout, ferr.Message)
			return exitOK
		}
		fmt.Fprintln(a.stderr, ferr.Message)
		return exitConfig
	}

	fmt.Fprintln(a.stderr, color.RedString("Error: %v", err))
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errBadConfig):
		return exitConfig
	case errors.Is(err, gateway.ErrHealthCheck):
		return exitHealthCheck
	default:
		return exitError
	}
}

type serveCommand struct {
	app *app
}

func (c *serveCommand) Execute(_ []string) error {
	a := c.app
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(a.stdout, banner)
	gray.Fprintf(a.stdout, "    version: %s\n\n", version)

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging, a.stdout)

	green.Fprint(a.stdout, "    ▶ ")
	fmt.Fprintf(a.stdout, "Config:    %s\n", a.configPath())
	green.Fprint(a.stdout, "    ▶ ")
	fmt.Fprintf(a.stdout, "Backend:   %s (db %s, %s)\n", cfg.Backend.URL, cfg.Backend.Database, cfg.Backend.Protocol)
	if cfg.Tailscale.Enabled {
		green.Fprint(a.stdout, "    ▶ ")
		fmt.Fprint(a.stdout, "Tailscale: ")
		cyan.Fprint(a.stdout, cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Fprint(a.stdout, " [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Fprint(a.stdout, " (ephemeral)")
		}
		fmt.Fprintln(a.stdout)
	} else {
		green.Fprint(a.stdout, "    ▶ ")
		fmt.Fprintf(a.stdout, "HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	if !cfg.MCP.IsEnabled() {
		yellow.Fprintln(a.stdout, "    ! MCP front door disabled")
	}
	fmt.Fprintln(a.stdout)

	logger.Info("starting odoo-bridge", "config", a.configPath(), "version", version)

	gateway.Version = version
	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(a.ctx)
}

type stdioCommand struct {
	app *app

	APIKey string `long:"api-key" env:"ODOO_BRIDGE_API_KEY" description:"API key the session acts as"`
}

func (c *stdioCommand) Execute(_ []string) error {
	a := c.app
	if c.APIKey == "" {
		return errors.New("an API key is required (--api-key or ODOO_BRIDGE_API_KEY)")
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	// stdout carries the protocol.
	logger := setupLogger(cfg.Logging, a.stderr)

	gateway.Version = version
	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.RunStdio(a.ctx, a.stdin, a.stdout, c.APIKey)
}

type healthCommand struct {
	app *app

	Live    bool          `long:"live" description:"Check liveness only (/health)"`
	Timeout time.Duration `long:"timeout" default:"5s" description:"Request timeout"`
}

func (c *healthCommand) Execute(_ []string) error {
	a := c.app
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	host := cfg.Server.HTTPAddr
	if cfg.Tailscale.Enabled {
		host = cfg.Tailscale.Hostname
	}
	path := "/health/ready"
	if c.Live {
		path = "/health"
	}

	ctx, cancel := context.WithTimeout(a.ctx, c.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+host+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	fmt.Fprintln(a.stdout, strings.TrimSpace(string(body)))
	return nil
}
