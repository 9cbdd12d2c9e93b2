// ABOUTME: Offline API key management against the local database
// ABOUTME: keys issue | list | revoke work without a running server

package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/jessevdk/go-flags"

	"github.com/2389/odoo-bridge/internal/auth"
	"github.com/2389/odoo-bridge/internal/store"
)

func addKeysCommand(p *flags.Parser, a *app) {
	keys, err := p.AddCommand("keys", "Manage API keys offline", "Issue, list and revoke API keys directly in the database.", &struct{}{})
	if err != nil {
		panic(err)
	}
	for _, sub := range []struct {
		name, short string
		cmd         any
	}{
		{"issue", "Issue a new API key", &keysIssueCommand{app: a}},
		{"list", "List API keys", &keysListCommand{app: a}},
		{"revoke", "Revoke an API key", &keysRevokeCommand{app: a}},
	} {
		if _, err := keys.AddCommand(sub.name, sub.short, "", sub.cmd); err != nil {
			panic(err)
		}
	}
}

// openCredentials opens the configured database behind a credential store.
func (a *app) openCredentials() (*auth.CredentialStore, *store.SQLiteStore, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	creds := auth.NewCredentialStore(s, auth.CredentialOptions{
		HashCost:         cfg.Auth.HashCost,
		DefaultRateLimit: cfg.RateLimit.DefaultPerMinute,
	})
	return creds, s, nil
}

type keysIssueCommand struct {
	app *app

	Owner     string        `long:"owner" required:"true" description:"Owner label"`
	RateLimit int           `long:"rate-limit" description:"Requests per minute (default: rate_limit.default_per_minute)"`
	ExpiresIn time.Duration `long:"expires-in" description:"Expire the key after this long, e.g. 720h"`
}

func (c *keysIssueCommand) Execute(_ []string) error {
	a := c.app
	creds, s, err := a.openCredentials()
	if err != nil {
		return err
	}
	defer s.Close()

	req := auth.IssueRequest{OwnerLabel: c.Owner, RateLimitPerMinute: c.RateLimit}
	if c.ExpiresIn < 0 {
		return errors.New("--expires-in must be positive")
	}
	if c.ExpiresIn > 0 {
		t := time.Now().Add(c.ExpiresIn).UTC()
		req.ExpiresAt = &t
	}

	key, plaintext, err := creds.Issue(a.ctx, req)
	if err != nil {
		return fmt.Errorf("issuing api key: %w", err)
	}

	color.New(color.FgGreen).Fprintf(a.stdout, "  ✓ Issued key %s for %s (%d/min)\n", key.ID, key.OwnerLabel, key.RateLimitPerMinute)
	fmt.Fprintf(a.stdout, "  Key: %s\n", plaintext)
	color.New(color.FgYellow).Fprintln(a.stdout, "  This key is shown once. Store it now.")
	return nil
}

type keysListCommand struct {
	app *app

	All bool `long:"all" description:"Include revoked keys"`
}

func (c *keysListCommand) Execute(_ []string) error {
	a := c.app
	creds, s, err := a.openCredentials()
	if err != nil {
		return err
	}
	defer s.Close()

	keys, err := creds.List(a.ctx, c.All)
	if err != nil {
		return fmt.Errorf("listing api keys: %w", err)
	}

	if len(keys) == 0 {
		fmt.Fprintln(a.stdout, "  (no keys)")
		return nil
	}

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tOWNER\tLIMIT\tSTATUS\tCREATED\tLAST USED")
	for _, k := range keys {
		fmt.Fprintf(w, "  %s\t%s\t%d\t%s\t%s\t%s\n",
			k.ID, k.OwnerLabel, k.RateLimitPerMinute, keyStatus(k, time.Now()),
			k.CreatedAt.Format("Jan 02 15:04"), formatOptionalTime(k.LastUsedAt))
	}
	return w.Flush()
}

func keyStatus(k *store.APIKey, now time.Time) string {
	switch {
	case k.Revoked:
		return "revoked"
	case k.Expired(now):
		return "expired"
	default:
		return "active"
	}
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("Jan 02 15:04")
}

type keysRevokeCommand struct {
	app *app

	Args struct {
		ID string `positional-arg-name:"key-id" required:"true"`
	} `positional-args:"yes"`
}

func (c *keysRevokeCommand) Execute(_ []string) error {
	a := c.app
	creds, s, err := a.openCredentials()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := creds.Revoke(a.ctx, c.Args.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no api key with id %s", c.Args.ID)
		}
		return fmt.Errorf("revoking api key: %w", err)
	}
	color.New(color.FgGreen).Fprintf(a.stdout, "  ✓ Revoked key %s\n", c.Args.ID)
	return nil
}
