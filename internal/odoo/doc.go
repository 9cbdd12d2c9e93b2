// Package odoo is the bridge's backend client for Odoo.
//
// # Overview
//
// The client translates an abstract Operation (read, write, create, delete,
// list_models, call_method) into one of two RPC dialects:
//
//   - VariantXML: XML-RPC over /xmlrpc/2/common and /xmlrpc/2/object,
//     understood by every Odoo release
//   - VariantJSON: the JSON-2 API over /json/2, used from Odoo 19
//
// # Version Detection
//
// On first authentication the client queries /web/webclient/version_info.
// A major version at or above the configured threshold selects VariantJSON;
// any lookup failure selects VariantXML. The result is fixed for the life of
// the client. Setting the protocol explicitly skips the lookup.
//
// # Sessions
//
// Do uses one cached Session. It is re-established when it outlives the
// session TTL or when the backend rejects it; concurrent callers share a
// single in-flight authentication (golang.org/x/sync/singleflight).
//
// # Errors
//
// Network failures and 502/503/504 responses are retried with capped
// exponential backoff and then reported as ErrUnavailable. Bad credentials
// are ErrAuthentication, malformed operations ErrInvalidOperation (raised
// before any request), missing record IDs ErrRecordNotFound. Other backend
// application errors are returned as *Fault.
package odoo
