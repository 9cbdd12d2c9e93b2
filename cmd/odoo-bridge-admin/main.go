// ABOUTME: Admin CLI for a running odoo-bridge: API keys, request logs and admin tokens
// ABOUTME: Talks to the admin HTTP API with a JWT from --token, ODOO_BRIDGE_TOKEN or the bootstrap token file

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jessevdk/go-flags"

	"github.com/2389/odoo-bridge/internal/config"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// app holds global options and process I/O for every command.
type app struct {
	ctx    context.Context
	stdout io.Writer
	stderr io.Writer

	URL       string        `long:"url" env:"ODOO_BRIDGE_URL" default:"http://127.0.0.1:3000" description:"Bridge base URL"`
	Token     string        `long:"token" env:"ODOO_BRIDGE_TOKEN" description:"Admin JWT (default: token file written by bootstrap)"`
	TokenFile string        `long:"token-file" description:"Read the admin JWT from this file"`
	Timeout   time.Duration `long:"timeout" default:"15s" description:"Per-request timeout"`
}

// defaultTokenFile sits beside the default config, where bootstrap writes it.
func defaultTokenFile() string {
	return filepath.Join(filepath.Dir(config.DefaultPath()), "token")
}

func (a *app) token() (string, error) {
	if a.Token != "" {
		return a.Token, nil
	}
	path := a.TokenFile
	if path == "" {
		path = defaultTokenFile()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && a.TokenFile == "" {
			return "", errors.New("no admin token: pass --token, set ODOO_BRIDGE_TOKEN or run odoo-bridge bootstrap")
		}
		return "", fmt.Errorf("reading token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return token, nil
}

func (a *app) client() (*client, error) {
	token, err := a.token()
	if err != nil {
		return nil, err
	}
	return newClient(a.URL, token, a.Timeout), nil
}

func newParser(a *app) *flags.Parser {
	p := flags.NewParser(a, flags.HelpFlag|flags.PassDoubleDash)
	p.Name = "odoo-bridge-admin"
	p.ShortDescription = "Administer a running odoo-bridge"

	group := func(name, short string, subs ...subcommand) {
		parent, err := p.AddCommand(name, short, "", &struct{}{})
		if err != nil {
			panic(err)
		}
		for _, s := range subs {
			if _, err := parent.AddCommand(s.name, s.short, "", s.cmd); err != nil {
				panic(err)
			}
		}
	}
	group("keys", "Manage API keys",
		subcommand{"issue", "Issue a new API key", &keysIssueCommand{app: a}},
		subcommand{"list", "List API keys", &keysListCommand{app: a}},
		subcommand{"get", "Show one API key", &keysGetCommand{app: a}},
		subcommand{"revoke", "Revoke an API key", &keysRevokeCommand{app: a}},
	)
	group("logs", "Query the request log",
		subcommand{"list", "List request log entries", &logsListCommand{app: a}},
		subcommand{"stats", "Summarize recent requests", &logsStatsCommand{app: a}},
		subcommand{"prune", "Prune the request log", &logsPruneCommand{app: a}},
	)
	group("token", "Manage admin tokens",
		subcommand{"create", "Create an admin JWT", &tokenCreateCommand{app: a}},
	)
	return p
}

type subcommand struct {
	name, short string
	cmd         any
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	a := &app{ctx: ctx, stdout: os.Stdout, stderr: os.Stderr}
	code := run(a, os.Args[1:])
	cancel()
	os.Exit(code)
}

func run(a *app, args []string) int {
	_, err := newParser(a).ParseArgs(args)
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
		return exitUsage
	}

	fmt.Fprintln(a.stderr, color.RedString("Error: %v", err))
	return exitError
}
