// Package admin provides the administrative HTTP API of the bridge.
//
// # Overview
//
// The admin API manages API keys and exposes the request log. It is used by
// the odoo-bridge-admin CLI. Every route requires an admin JWT:
//
//	Authorization: Bearer <admin token>
//
// # Endpoints
//
// Key management:
//
//   - POST /admin/keys - Issue a key (the plaintext is returned once)
//   - GET /admin/keys - List keys (?include_revoked=true)
//   - GET /admin/keys/{id} - Get a key
//   - DELETE /admin/keys/{id} - Revoke a key
//   - POST /admin/keys/{id}/revoke - Revoke a key
//
// Request log:
//
//   - GET /admin/logs - Query entries (api_key_id, operation, model, status, since, until, limit, offset)
//   - GET /admin/logs/stats - Totals by status and error kind (?window=24h)
//   - POST /admin/logs/prune - Prune by the configured policy or an explicit one
//
// Tokens:
//
//   - POST /admin/tokens - Mint another admin token
package admin
