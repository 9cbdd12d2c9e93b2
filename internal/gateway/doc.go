// Package gateway is the server lifecycle manager of odoo-bridge.
//
// # Overview
//
// The Gateway owns every long-lived component: the SQLite store, the
// credential store, the rate limiter, the request logger, the Odoo client,
// the shared pipeline and the HTTP mux carrying the REST, MCP, admin and
// health routes.
//
// # Lifecycle
//
//	Starting -> HealthChecking -> Ready -> Draining -> Stopped
//
// Run performs one backend authentication round-trip bounded by
// backend.health_check_timeout. If it fails the gateway goes straight to
// Stopped, no listener is opened and Run returns an error wrapping
// ErrHealthCheck. Otherwise the listener (TCP or a tsnet node) is opened and
// the gateway enters Ready.
//
// When the run context is canceled the gateway enters Draining: the pipeline
// refuses new requests with kind "unavailable" (HTTP 503) while in-flight ones
// finish. After server.shutdown_grace_period the HTTP server is closed, which
// cancels whatever is still running. The request log is flushed and the store
// closed last.
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil { ... }
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// RunStdio follows the same lifecycle but serves MCP over stdin/stdout
// instead of opening a listener.
//
// # Health Endpoints
//
//   - GET /health - 200 while the process is alive
//   - GET /health/ready - 200 only in the Ready state
package gateway
