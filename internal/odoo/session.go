// ABOUTME: Protocol variant tag and backend session state
// ABOUTME: A session's variant is chosen once by version detection and never changes

package odoo

import (
	"fmt"
	"strings"
	"time"
)

// ProtocolVariant selects which RPC dialect a session speaks.
type ProtocolVariant int

const (
	// VariantXML is XML-RPC over /xmlrpc/2, supported by every Odoo release.
	VariantXML ProtocolVariant = iota + 1
	// VariantJSON is the JSON-2 API over /json/2, available from Odoo 19.
	VariantJSON
)

func (v ProtocolVariant) String() string {
	switch v {
	case VariantXML:
		return "xml"
	case VariantJSON:
		return "json"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// ParseVariant parses "xml" or "json". Any other value, including "auto",
// reports false so the caller falls back to detection.
func ParseVariant(s string) (ProtocolVariant, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "xml", "xmlrpc", "xml-rpc":
		return VariantXML, true
	case "json", "json2", "json-rpc", "jsonrpc":
		return VariantJSON, true
	default:
		return 0, false
	}
}

// Credentials identify the backend user the bridge acts as.
type Credentials struct {
	Database string
	Username string
	// Secret is the password or API key. Never logged.
	Secret string
}

// Session is an authenticated backend session.
type Session struct {
	BaseURL       string
	Variant       ProtocolVariant
	UID           int64
	ServerVersion string
	Database      string
	EstablishedAt time.Time

	// token is the bearer token for JSON-2 or the secret replayed on each XML-RPC call.
	token string
}

// Expired reports whether the session is older than ttl. A zero ttl never expires.
func (s *Session) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(s.EstablishedAt) >= ttl
}
