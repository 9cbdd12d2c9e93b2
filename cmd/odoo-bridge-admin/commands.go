// ABOUTME: keys, logs and token subcommands of odoo-bridge-admin
// ABOUTME: Each command maps onto one admin API route and prints a table or a summary

package main

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/odoo-bridge/internal/admin"
	"github.com/2389/odoo-bridge/internal/store"
)

type keysIssueCommand struct {
	app *app

	Owner     string `long:"owner" required:"true" description:"Owner label"`
	RateLimit int    `long:"rate-limit" description:"Requests per minute (default: server default)"`
	ExpiresIn string `long:"expires-in" description:"Expire the key after this long, e.g. 720h"`
}

func (c *keysIssueCommand) Execute(_ []string) error {
	a := c.app
	cl, err := a.client()
	if err != nil {
		return err
	}

	var resp admin.IssueKeyResponse
	req := admin.IssueKeyRequest{OwnerLabel: c.Owner, RateLimitPerMinute: c.RateLimit, ExpiresIn: c.ExpiresIn}
	if err := cl.do(a.ctx, http.MethodPost, "/admin/keys", nil, req, &resp); err != nil {
		return fmt.Errorf("issuing key: %w", err)
	}

	color.New(color.FgGreen).Fprintf(a.stdout, "  ✓ Issued key %s for %s (%d/min)\n", resp.ID, resp.OwnerLabel, resp.RateLimitPerMinute)
	if resp.ExpiresAt != nil {
		fmt.Fprintf(a.stdout, "  Expires: %s\n", resp.ExpiresAt.Local().Format(time.RFC3339))
	}
	fmt.Fprintf(a.stdout, "  Key: %s\n", resp.Key)
	color.New(color.FgYellow).Fprintln(a.stdout, "  This key is shown once. Store it now.")
	return nil
}

type keysListCommand struct {
	app *app

	All bool `long:"all" description:"Include revoked keys"`
}

func (c *keysListCommand) Execute(_ []string) error {
	a := c.app
	cl, err := a.client()
	if err != nil {
		return err
	}

	q := url.Values{}
	if c.All {
		q.Set("include_revoked", "true")
	}
	var resp struct {
		Keys []admin.KeyResponse `json:"keys"`
	}
	if err := cl.do(a.ctx, http.MethodGet, "/admin/keys", q, nil, &resp); err != nil {
		return fmt.Errorf("listing keys: %w", err)
	}

	if len(resp.Keys) == 0 {
		fmt.Fprintln(a.stdout, "  (no keys)")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tOWNER\tLIMIT\tSTATUS\tCREATED\tLAST USED")
	for _, k := range resp.Keys {
		fmt.Fprintf(w, "  %s\t%s\t%d\t%s\t%s\t%s\n",
			k.ID, k.OwnerLabel, k.RateLimitPerMinute, keyStatus(k, now),
			k.CreatedAt.Local().Format("Jan 02 15:04"), formatOptionalTime(k.LastUsedAt))
	}
	return w.Flush()
}

type keysGetCommand struct {
	app *app

	Args struct {
		ID string `positional-arg-name:"key-id" required:"true"`
	} `positional-args:"yes"`
}

func (c *keysGetCommand) Execute(_ []string) error {
	a := c.app
	cl, err := a.client()
	if err != nil {
		return err
	}

	var k admin.KeyResponse
	if err := cl.do(a.ctx, http.MethodGet, "/admin/keys/"+url.PathEscape(c.Args.ID), nil, nil, &k); err != nil {
		return fmt.Errorf("getting key: %w", err)
	}

	fmt.Fprintln(a.stdout)
	color.New(color.FgCyan).Fprintln(a.stdout, "  API Key")
	color.New(color.FgCyan).Fprintln(a.stdout, "  -------")
	fmt.Fprintf(a.stdout, "  ID:          %s\n", k.ID)
	fmt.Fprintf(a.stdout, "  Owner:       %s\n", k.OwnerLabel)
	fmt.Fprintf(a.stdout, "  Rate limit:  %d/min\n", k.RateLimitPerMinute)
	fmt.Fprintf(a.stdout, "  Status:      %s\n", keyStatus(k, time.Now()))
	fmt.Fprintf(a.stdout, "  Created:     %s\n", k.CreatedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(a.stdout, "  Expires:     %s\n", formatOptionalTime(k.ExpiresAt))
	fmt.Fprintf(a.stdout, "  Last used:   %s\n", formatOptionalTime(k.LastUsedAt))
	if k.RevokedAt != nil {
		fmt.Fprintf(a.stdout, "  Revoked:     %s\n", formatOptionalTime(k.RevokedAt))
	}
	fmt.Fprintln(a.stdout)
	return nil
}

type keysRevokeCommand struct {
	app *app

	Args struct {
		ID string `positional-arg-name:"key-id" required:"true"`
	} `positional-args:"yes"`
}

func (c *keysRevokeCommand) Execute(_ []string) error {
	a := c.app
	cl, err := a.client()
	if err != nil {
		return err
	}
	if err := cl.do(a.ctx, http.MethodDelete, "/admin/keys/"+url.PathEscape(c.Args.ID), nil, nil, nil); err != nil {
		return fmt.Errorf("revoking key: %w", err)
	}
	color.New(color.FgGreen).Fprintf(a.stdout, "  ✓ Revoked key %s\n", c.Args.ID)
	return nil
}

func keyStatus(k admin.KeyResponse, now time.Time) string {
	switch {
	case k.Revoked:
		return "revoked"
	case k.ExpiresAt != nil && !now.Before(*k.ExpiresAt):
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

type logsListCommand struct {
	app *app

	Key       string `long:"key" description:"Only entries for this API key id"`
	Operation string `long:"operation" description:"Only this operation (search_read, create, ...)"`
	Model     string `long:"model" description:"Only this target model"`
	Status    string `long:"status" choice:"ok" choice:"error" description:"Only this outcome"`
	Since     string `long:"since" description:"RFC3339 lower bound, or a duration like 1h"`
	Until     string `long:"until" description:"RFC3339 upper bound"`
	Limit     int    `long:"limit" default:"50" description:"Maximum entries"`
	Offset    int    `long:"offset" description:"Skip this many entries"`
}

func (c *logsListCommand) Execute(_ []string) error {
	a := c.app
	q := url.Values{}
	for name, v := range map[string]string{
		"api_key_id": c.Key,
		"operation":  c.Operation,
		"model":      c.Model,
		"status":     c.Status,
		"until":      c.Until,
	} {
		if v != "" {
			q.Set(name, v)
		}
	}
	if c.Since != "" {
		since, err := parseSince(c.Since, time.Now())
		if err != nil {
			return err
		}
		q.Set("since", since)
	}
	if c.Limit > 0 {
		q.Set("limit", strconv.Itoa(c.Limit))
	}
	if c.Offset > 0 {
		q.Set("offset", strconv.Itoa(c.Offset))
	}

	cl, err := a.client()
	if err != nil {
		return err
	}
	var resp struct {
		Entries []admin.LogEntryResponse `json:"entries"`
	}
	if err := cl.do(a.ctx, http.MethodGet, "/admin/logs", q, nil, &resp); err != nil {
		return fmt.Errorf("listing logs: %w", err)
	}

	if len(resp.Entries) == 0 {
		fmt.Fprintln(a.stdout, "  (no entries)")
		return nil
	}

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tKEY\tDOOR\tOPERATION\tMODEL\tSTATUS\tLATENCY\tERROR")
	for _, e := range resp.Entries {
		status := e.Status
		if status == "error" {
			status = color.RedString(status)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%s\t%dms\t%s\n",
			e.Timestamp.Local().Format("Jan 02 15:04:05"), orDash(e.APIKeyID), e.FrontDoor,
			e.Operation, orDash(e.TargetModel), status, e.LatencyMS, orDash(e.ErrorKind))
	}
	return w.Flush()
}

// parseSince accepts an RFC3339 timestamp or a duration counted back from now.
func parseSince(s string, now time.Time) (string, error) {
	if _, err := time.Parse(time.RFC3339, s); err == nil {
		return s, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return "", fmt.Errorf("--since must be an RFC3339 timestamp or a positive duration")
	}
	return now.Add(-d).UTC().Format(time.RFC3339), nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

type logsStatsCommand struct {
	app *app

	Window string `long:"window" default:"24h" description:"How far back to count"`
}

func (c *logsStatsCommand) Execute(_ []string) error {
	a := c.app
	cl, err := a.client()
	if err != nil {
		return err
	}

	var resp struct {
		Window string                `json:"window"`
		Stats  store.RequestLogStats `json:"stats"`
	}
	q := url.Values{"window": {c.Window}}
	if err := cl.do(a.ctx, http.MethodGet, "/admin/logs/stats", q, nil, &resp); err != nil {
		return fmt.Errorf("loading stats: %w", err)
	}

	s := resp.Stats
	fmt.Fprintln(a.stdout)
	color.New(color.FgCyan).Fprintf(a.stdout, "  Requests (last %s)\n", resp.Window)
	fmt.Fprintf(a.stdout, "  Total stored:  %d\n", s.Total)
	fmt.Fprintf(a.stdout, "  In window:     %d\n", s.Since)
	fmt.Fprintf(a.stdout, "  Avg latency:   %.1fms\n", s.AvgLatencyMS)
	printCounts(a, "By status", s.ByStatus)
	printCounts(a, "By error kind", s.ByErrorKind)
	fmt.Fprintln(a.stdout)
	return nil
}

func printCounts(a *app, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	color.New(color.FgYellow).Fprintf(a.stdout, "  %s:\n", title)
	for _, name := range names {
		fmt.Fprintf(a.stdout, "    %-20s %d\n", name, counts[name])
	}
}

type logsPruneCommand struct {
	app *app

	OlderThan  string `long:"older-than" description:"Remove entries older than this duration, e.g. 168h"`
	MaxEntries int    `long:"max-entries" description:"Keep at most this many entries"`
}

func (c *logsPruneCommand) Execute(_ []string) error {
	a := c.app
	cl, err := a.client()
	if err != nil {
		return err
	}

	var resp struct {
		Removed int `json:"removed"`
	}
	req := admin.PruneRequest{OlderThan: c.OlderThan, MaxEntries: c.MaxEntries}
	if err := cl.do(a.ctx, http.MethodPost, "/admin/logs/prune", nil, req, &resp); err != nil {
		return fmt.Errorf("pruning logs: %w", err)
	}
	color.New(color.FgGreen).Fprintf(a.stdout, "  ✓ Removed %d entries\n", resp.Removed)
	return nil
}

type tokenCreateCommand struct {
	app *app

	Subject string        `long:"subject" required:"true" description:"Token subject (who the token is for)"`
	TTL     time.Duration `long:"ttl" default:"720h" description:"Token lifetime"`
}

func (c *tokenCreateCommand) Execute(_ []string) error {
	a := c.app
	if c.TTL <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}
	cl, err := a.client()
	if err != nil {
		return err
	}

	var resp admin.CreateTokenResponse
	req := admin.CreateTokenRequest{Subject: c.Subject, TTLSeconds: int64(c.TTL / time.Second)}
	if err := cl.do(a.ctx, http.MethodPost, "/admin/tokens", nil, req, &resp); err != nil {
		return fmt.Errorf("creating token: %w", err)
	}

	color.New(color.FgGreen).Fprintf(a.stdout, "  ✓ Token for %s (expires %s)\n", resp.Subject, resp.ExpiresAt.Local().Format(time.RFC3339))
	fmt.Fprintln(a.stdout, resp.Token)
	return nil
}
