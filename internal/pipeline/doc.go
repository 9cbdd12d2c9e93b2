// Package pipeline is the single path every bridge operation takes.
//
// Both the MCP and REST front doors parse their framing into an
// odoo.Operation and call Pipeline.Do, which
//
//  1. verifies the API key,
//  2. admits the request against the key's rate limit,
//  3. validates the operation,
//  4. executes it on the backend under the request timeout,
//  5. records the outcome in the request log.
//
// Failures come back as *Error with a stable Kind, a client-safe message
// and, for rate limiting, a retry hint in seconds. HTTPStatus gives the
// REST mapping; the MCP server puts the same fields in its tool error
// payload. Drain refuses new requests and waits for in-flight ones.
package pipeline
