// ABOUTME: Listener setup for the bridge: plain TCP or a Tailscale tsnet node
// ABOUTME: tsnet can serve plain HTTP, HTTPS with tailnet certs or a public Funnel

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/odoo-bridge/internal/config"
	"github.com/2389/odoo-bridge/internal/mcp"
)

// setupListener creates the HTTP listener selected by the config.
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	g.logEndpoints("http://" + ln.Addr().String())
	return ln, nil
}

// logEndpoints logs where each front door is reachable.
func (g *Gateway) logEndpoints(base string) {
	attrs := []any{"rest", base + "/api", "admin", base + "/admin"}
	if g.mcpServer != nil {
		attrs = append(attrs, "mcp", base+"/mcp", "mcp_tools", strings.Join(mcp.ToolNames(), ","))
	}
	g.logger.Info("front doors available", attrs...)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "odoo-bridge", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key in config or the TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and listens on it.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg, status)

	return g.createTailscaleListener(tsCfg)
}

// logTailscaleStatus logs the node address and the endpoint base URL.
func (g *Gateway) logTailscaleStatus(tsCfg config.TailscaleConfig, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = strings.TrimSuffix(status.Self.DNSName, ".")
	}
	g.logger.Info("tailscale node ready", "hostname", tsCfg.Hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)

	host := dnsName
	if host == "" {
		host = tsCfg.Hostname
	}
	scheme := "http"
	if tsCfg.HTTPS || tsCfg.Funnel {
		scheme = "https"
	}
	g.logEndpoints(scheme + "://" + host)
}

// createTailscaleListener picks Funnel, tailnet HTTPS or plain HTTP.
func (g *Gateway) createTailscaleListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}
