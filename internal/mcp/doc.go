// Package mcp implements the Model Context Protocol front door of the bridge.
//
// # Overview
//
// MCP clients (AI assistants and agents) discover a fixed set of tools and
// call them over JSON-RPC 2.0. Every tool call becomes one backend operation
// and runs through the same pipeline as the REST front door, so a key sees
// identical authentication, rate limits and request logging on both.
//
// # Transports
//
//   - POST /mcp: Streamable HTTP (2025-11-25)
//   - POST /mcp/<api-key>: the same, only with mcp.allow_key_in_path
//   - DELETE /mcp: session termination by the owning key
//   - ServeStdio: newline-delimited JSON-RPC with a key fixed at launch
//
// # Authentication
//
// The API key is taken from the X-API-Key header or an Authorization bearer
// token. With mcp.allow_key_in_path the URL path is checked first; a key
// there is visible to every proxy and access log on the way.
//
//	X-API-Key: omcp_<id>_<secret>
//
// initialize verifies the key and opens a session bound to it. Later requests
// must present the same key; each tools/call re-verifies it so revocation
// applies mid-session.
//
// # Tools
//
//   - odoo_search_records, odoo_read_record
//   - odoo_create_record, odoo_update_record, odoo_delete_record
//   - odoo_list_models, odoo_get_model_fields, odoo_call_method
//
// Failed calls return a result with isError set and a structured error
// carrying kind, message and, for rate limiting, retry_after_seconds:
//
//	{"error": {"kind": "rate_limit_exceeded", "message": "...", "retry_after_seconds": 12}}
//
// # Resources
//
// odoo://models lists the backend's models and odoo://models/<model>
// describes one model's fields.
//
// # Client configuration
//
//	{
//	  "mcpServers": {
//	    "odoo": {
//	      "url": "http://localhost:8080/mcp",
//	      "headers": {"X-API-Key": "omcp_..."}
//	    }
//	  }
//	}
package mcp
