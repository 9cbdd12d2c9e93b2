// Package rest implements the REST front door of the bridge.
//
// Routes map HTTP verbs onto backend operations:
//
//	GET    /api/models                   list models
//	GET    /api/<model>                  search (domain, fields, limit, offset, order query params)
//	GET    /api/<model>/<id>             read one record
//	GET    /api/<model>/fields           describe fields
//	POST   /api/<model>                  create (body: field values)
//	POST   /api/<model>/search           search (body: domain, fields, limit, offset, order)
//	POST   /api/<model>/call/<method>    call a public method (body: ids, args, kwargs)
//	PUT    /api/<model>/<id>             write
//	PATCH  /api/<model>/<id>             write
//	DELETE /api/<model>/<id>             delete
//
// The key is read from X-API-Key or an Authorization bearer token. Successful
// responses carry X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset; a 429 carries Retry-After. Bodies are wrapped as
//
//	{"success": true, "data": ..., "count": N}
//	{"success": false, "error": {"kind": "...", "message": "..."}}
package rest
