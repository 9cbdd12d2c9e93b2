// ABOUTME: Error values returned by the Odoo backend client
// ABOUTME: Sentinels for auth, availability, validation and missing records plus the Fault type

package odoo

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

var (
	// ErrAuthentication means the backend rejected the configured credentials.
	ErrAuthentication = errors.New("backend authentication failed")

	// ErrUnavailable means the backend could not be reached after retries.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrInvalidOperation means the operation failed validation before dispatch.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrRecordNotFound means one or more requested record IDs do not exist.
	ErrRecordNotFound = errors.New("record not found")
)

// Fault is an application-level error reported by the backend, such as an
// XML-RPC fault or a JSON-2 error body.
type Fault struct {
	Code    string
	Message string
}

func (f *Fault) Error() string {
	if f.Code == "" {
		return "backend fault: " + f.Message
	}
	return fmt.Sprintf("backend fault %s: %s", f.Code, f.Message)
}

// AccessDenied reports whether the fault is a credential or session rejection.
func (f *Fault) AccessDenied() bool {
	return containsAny(f.Code+" "+f.Message, "AccessDenied", "Access Denied", "SessionExpired", "Session expired", "invalid api key")
}

// Missing reports whether the fault says a record does not exist.
func (f *Fault) Missing() bool {
	return containsAny(f.Code+" "+f.Message, "MissingError", "does not exist or has been deleted")
}

// transientError marks a failure worth retrying: network errors and gateway statuses.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return "transient: " + e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// notSent reports whether err happened before the request left the bridge.
func notSent(err error) bool {
	var op *net.OpError
	if errors.As(err, &op) && op.Op == "dial" {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

// classifyFault converts well-known fault shapes into sentinel errors.
func classifyFault(f *Fault) error {
	switch {
	case f.AccessDenied():
		return fmt.Errorf("%w: %s", ErrAuthentication, f.Message)
	case f.Missing():
		return fmt.Errorf("%w: %s", ErrRecordNotFound, f.Message)
	default:
		return f
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
