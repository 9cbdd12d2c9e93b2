// ABOUTME: Server lifecycle manager that wires the bridge components and runs the HTTP listener
// ABOUTME: Health-checks the backend before accepting traffic and drains in-flight requests on shutdown

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"tailscale.com/tsnet"

	"github.com/2389/odoo-bridge/internal/admin"
	"github.com/2389/odoo-bridge/internal/auth"
	"github.com/2389/odoo-bridge/internal/config"
	"github.com/2389/odoo-bridge/internal/mcp"
	"github.com/2389/odoo-bridge/internal/odoo"
	"github.com/2389/odoo-bridge/internal/pipeline"
	"github.com/2389/odoo-bridge/internal/ratelimit"
	"github.com/2389/odoo-bridge/internal/requestlog"
	"github.com/2389/odoo-bridge/internal/rest"
	"github.com/2389/odoo-bridge/internal/store"
)

// ErrHealthCheck is returned by Run when the startup backend check fails.
var ErrHealthCheck = errors.New("backend health check failed")

// Version is reported to MCP clients. Overridden by the cmd package at link time.
var Version = "dev"

// Backend is the backend surface the lifecycle manager needs.
type Backend interface {
	pipeline.Backend
	HealthCheck(ctx context.Context) error
}

// Gateway owns every bridge component and the listener that serves them.
type Gateway struct {
	config      *config.Config
	store       store.Store
	creds       *auth.CredentialStore
	limiter     ratelimit.Limiter
	requestLog  *requestlog.Logger // nil when request logging is disabled
	backend     Backend
	pipeline    *pipeline.Pipeline
	mcpServer   *mcp.Server // nil when the MCP front door is disabled
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	mu    sync.Mutex
	state State
	ready chan struct{}
	addr  net.Addr

	closeOnce sync.Once
	closeErr  error
}

// initStore opens the SQLite database named by the config.
func initStore(cfg *config.Config) (store.Store, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newBackendClient builds the Odoo client from the backend section.
func newBackendClient(cfg config.BackendConfig, logger *slog.Logger) *odoo.Client {
	return odoo.New(cfg.URL, odoo.Credentials{
		Database: cfg.Database,
		Username: cfg.Username,
		Secret:   cfg.Secret(),
	}, odoo.Options{
		Protocol:       cfg.Protocol,
		JSONMinVersion: cfg.JSONMinVersion,
		SessionTTL:     cfg.SessionTTL,
		CallTimeout:    cfg.CallTimeout,
		Retry: odoo.RetryPolicy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
		},
		Logger: logger,
	})
}

// New creates a Gateway for cfg. Nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	return newGateway(cfg, logger, newBackendClient(cfg.Backend, logger))
}

func newGateway(cfg *config.Config, logger *slog.Logger, backend Backend) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		config:  cfg,
		store:   s,
		backend: backend,
		logger:  logger.With("component", "gateway"),
		state:   StateStarting,
		ready:   make(chan struct{}),
	}

	if err := gw.wire(logger); err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// wire builds the pipeline, both front doors and the admin API on one mux.
func (g *Gateway) wire(logger *slog.Logger) error {
	cfg := g.config

	g.creds = auth.NewCredentialStore(g.store, auth.CredentialOptions{
		HashCost:         cfg.Auth.HashCost,
		DefaultRateLimit: cfg.RateLimit.DefaultPerMinute,
		CacheTTL:         cfg.Auth.VerifyCacheTTL,
		Logger:           logger,
	})

	limiter, err := ratelimit.New(cfg.RateLimit, logger.With("component", "ratelimit"))
	if err != nil {
		return fmt.Errorf("creating rate limiter: %w", err)
	}
	g.limiter = limiter

	var recorder requestlog.Recorder = requestlog.Discard{}
	if cfg.RequestLog.IsEnabled() {
		g.requestLog = requestlog.New(g.store, requestlog.OptionsFromConfig(cfg.RequestLog, logger))
		recorder = g.requestLog
	} else {
		g.logger.Warn("request logging disabled")
	}

	g.pipeline = pipeline.New(pipeline.Deps{
		Credentials:    g.creds,
		Limiter:        g.limiter,
		Backend:        g.backend,
		Recorder:       recorder,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         logger,
	})

	jwtVerifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		_ = g.limiter.Close()
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	restHandler, err := rest.New(rest.Config{
		Executor:     g.pipeline,
		Logger:       logger,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})
	if err != nil {
		_ = g.limiter.Close()
		return fmt.Errorf("creating REST handler: %w", err)
	}
	restHandler.RegisterRoutes(mux)

	if cfg.MCP.IsEnabled() {
		g.mcpServer, err = mcp.NewServer(mcp.Config{
			Executor:       g.pipeline,
			Logger:         logger,
			MaxBodyBytes:   cfg.Server.MaxBodyBytes,
			ServerName:     "odoo-bridge",
			ServerVersion:  Version,
			AllowKeyInPath: cfg.MCP.AllowKeyInPath,
		})
		if err != nil {
			_ = g.limiter.Close()
			return fmt.Errorf("creating MCP server: %w", err)
		}
		g.mcpServer.RegisterRoutes(mux)
	} else {
		g.logger.Info("MCP front door disabled")
	}

	adminCfg := admin.Config{
		Keys:     g.creds,
		Logs:     g.store,
		Verifier: jwtVerifier,
		Tokens:   jwtVerifier,
		Logger:   logger,
	}
	// Leave Pruner as a nil interface, not a typed nil, when logging is off.
	if g.requestLog != nil {
		adminCfg.Pruner = g.requestLog
	}
	adminAPI, err := admin.New(adminCfg)
	if err != nil {
		_ = g.limiter.Close()
		return fmt.Errorf("creating admin API: %w", err)
	}
	adminAPI.RegisterRoutes(mux)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// State returns the current lifecycle state.
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Ready is closed once the gateway enters StateReady.
func (g *Gateway) Ready() <-chan struct{} {
	return g.ready
}

// Addr returns the bound listener address, or nil before Ready.
func (g *Gateway) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addr
}

func (g *Gateway) setState(to State) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	from := g.state
	if from == to {
		return nil
	}
	if !canTransition(from, to) {
		return fmt.Errorf("invalid lifecycle transition %s -> %s", from, to)
	}
	g.state = to
	if to == StateReady {
		close(g.ready)
	}
	g.logger.Info("lifecycle state changed", "from", from, "to", to)
	return nil
}

// healthCheck performs one bounded backend authentication round-trip.
func (g *Gateway) healthCheck(ctx context.Context) error {
	if err := g.setState(StateHealthChecking); err != nil {
		return err
	}
	hctx, cancel := context.WithTimeout(ctx, g.config.Backend.HealthCheckTimeout)
	defer cancel()

	start := time.Now()
	if err := g.backend.HealthCheck(hctx); err != nil {
		g.logger.Error("backend health check failed", "url", g.config.Backend.URL, "error", err)
		return fmt.Errorf("%w: %w", ErrHealthCheck, err)
	}
	g.logger.Info("backend health check passed", "url", g.config.Backend.URL, "elapsed", time.Since(start))

	if p, ok := g.limiter.(pinger); ok {
		if err := p.Ping(hctx); err != nil {
			g.logger.Error("rate limit store unreachable", "store", g.config.RateLimit.Store, "error", err)
			return fmt.Errorf("%w: rate limit store: %w", ErrHealthCheck, err)
		}
	}
	return nil
}

// pinger is implemented by limiters backed by a remote store.
type pinger interface {
	Ping(ctx context.Context) error
}

// Run health-checks the backend, serves HTTP until ctx is canceled, then
// drains and stops. Returns nil on a clean shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.healthCheck(ctx); err != nil {
		g.stop()
		return err
	}

	ln, err := g.setupListener(ctx)
	if err != nil {
		g.stop()
		return err
	}

	if g.requestLog != nil {
		g.requestLog.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	g.mu.Lock()
	g.addr = ln.Addr()
	g.mu.Unlock()
	if err := g.setState(StateReady); err != nil {
		g.stop()
		return err
	}

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// RunStdio health-checks the backend and serves MCP over in/out for apiKey
// until in is exhausted or ctx ends. No HTTP listener is opened.
func (g *Gateway) RunStdio(ctx context.Context, in io.Reader, out io.Writer, apiKey string) error {
	if err := g.healthCheck(ctx); err != nil {
		g.stop()
		return err
	}
	if g.requestLog != nil {
		g.requestLog.Start()
	}
	if err := g.setState(StateReady); err != nil {
		g.stop()
		return err
	}

	serveErr := mcp.ServeStdio(ctx, in, out, mcp.StdioConfig{
		Executor:      g.pipeline,
		APIKey:        apiKey,
		Logger:        g.logger,
		ServerName:    "odoo-bridge",
		ServerVersion: Version,
	})

	shutdownErr := g.gracefulShutdown()
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context bounded by the grace period since the
// run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.Server.ShutdownGracePeriod)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops admitting requests, waits for in-flight ones until ctx
// ends, then closes the listener and every component. Requests still
// running at the deadline are cut off.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.State() == StateStopped {
		// stop has run; calling it again waits for it and returns its result
		return g.stop()
	}
	_ = g.setState(StateDraining)
	g.logger.Info("draining in-flight requests", "in_flight", g.pipeline.InFlight())

	var errs []error
	if err := g.pipeline.Drain(ctx); err != nil {
		g.logger.Warn("grace period expired, forcing shutdown", "in_flight", g.pipeline.InFlight())
		errs = appendCloseError(errs, "drain", err)
		errs = appendCloseError(errs, "HTTP close", g.httpServer.Close())
	} else {
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	}

	if err := g.stop(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// stop releases every component exactly once and enters StateStopped.
func (g *Gateway) stop() error {
	g.closeOnce.Do(func() {
		var errs []error
		if g.requestLog != nil {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			errs = appendCloseError(errs, "request log flush", g.requestLog.Close(flushCtx))
			cancel()
		}
		errs = appendCloseError(errs, "rate limiter close", g.limiter.Close())
		if g.tsnetServer != nil {
			errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
		}
		errs = appendCloseError(errs, "store close", g.store.Close())
		g.closeErr = errors.Join(errs...)
		_ = g.setState(StateStopped)
	})
	return g.closeErr
}

// handleHealth returns 200 OK while the process is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// readiness is the /health/ready body.
type readiness struct {
	Status         string            `json:"status"`
	State          string            `json:"state"`
	InFlight       int               `json:"in_flight"`
	BackendVariant string            `json:"backend_variant,omitempty"`
	MCPSessions    *int              `json:"mcp_sessions,omitempty"`
	RequestLog     *requestLogHealth `json:"request_log,omitempty"`
}

type requestLogHealth struct {
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
}

// handleReady returns 200 OK only in StateReady. The body reports in-flight
// work, the negotiated backend variant and request log losses.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	state := g.State()
	body := readiness{Status: "ready", State: state.String(), InFlight: g.pipeline.InFlight()}
	if v, ok := g.backend.(interface{ Variant() odoo.ProtocolVariant }); ok && v.Variant() != 0 {
		body.BackendVariant = v.Variant().String()
	}
	if g.mcpServer != nil {
		n := g.mcpServer.SessionCount()
		body.MCPSessions = &n
	}
	if g.requestLog != nil {
		body.RequestLog = &requestLogHealth{Dropped: g.requestLog.Dropped(), Failed: g.requestLog.Failed()}
	}

	status := http.StatusOK
	if state != StateReady {
		status = http.StatusServiceUnavailable
		body.Status = "not ready"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
