// Package auth provides authentication for the bridge.
//
// # API Keys
//
// Callers of the MCP and REST front doors present an API key of the form
//
//	omcp_<16 hex id>_<64 hex secret>
//
// either in the X-API-Key header or as an Authorization bearer token. Only
// a bcrypt hash of the secret is stored. CredentialStore.Issue returns the
// plaintext once; Verify parses out the ID, loads the record and compares
// the secret. Unknown IDs are compared against a dummy hash so that the
// outcome does not leak through timing.
//
// Successful verifications are cached (github.com/patrickmn/go-cache) by the
// SHA-256 digest of the presented key. A cache hit skips bcrypt but still
// reloads the record, so revocation and expiry take effect immediately.
//
// # Admin Tokens
//
// The admin surface uses HS256 JWTs signed with auth.jwt_secret. Tokens
// carry a "sub" claim and scope "admin":
//
//	verifier, err := NewJWTVerifier(secret)
//	token, err := verifier.Generate("ops", time.Hour)
//
// AdminMiddleware validates the token and attaches an AuthContext.
package auth
