// ABOUTME: Public error taxonomy shared by the MCP and REST front doors
// ABOUTME: Classify is the single translation point from internal errors to stable kinds

package pipeline

import (
	"context"
	"errors"
	"net/http"

	"github.com/2389/odoo-bridge/internal/auth"
	"github.com/2389/odoo-bridge/internal/odoo"
)

// Kind is a stable machine-readable error category.
type Kind string

const (
	KindAuthentication     Kind = "authentication_error"
	KindRateLimitExceeded  Kind = "rate_limit_exceeded"
	KindValidation         Kind = "validation_error"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindTimeout            Kind = "timeout"
	KindInternal           Kind = "internal_error"
	KindUnavailable        Kind = "unavailable"
)

// Error is what callers of the pipeline see. Message is safe to return to
// clients; Err keeps the internal cause for logs.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter int // seconds, rate_limit_exceeded only
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the kind to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case KindValidation:
		return http.StatusBadRequest
	case KindBackendUnavailable:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the same request may succeed later.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimitExceeded, KindBackendUnavailable, KindUnavailable:
		return true
	default:
		return false
	}
}

// Validation builds a validation error for front-door parse failures.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// Classify translates err into the public taxonomy. Unknown errors become
// internal errors with a generic message.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	var fault *odoo.Fault
	switch {
	case errors.Is(err, auth.ErrInvalidAPIKey):
		return &Error{Kind: KindAuthentication, Message: "invalid, revoked or expired API key", Err: err}
	case errors.Is(err, odoo.ErrAuthentication):
		return &Error{Kind: KindAuthentication, Message: "backend rejected the bridge credentials", Err: err}
	case errors.Is(err, odoo.ErrInvalidOperation):
		return &Error{Kind: KindValidation, Message: err.Error(), Err: err}
	case errors.Is(err, odoo.ErrRecordNotFound):
		return &Error{Kind: KindValidation, Message: err.Error(), Err: err}
	case errors.As(err, &fault):
		return &Error{Kind: KindValidation, Message: fault.Message, Err: err}
	case errors.Is(err, odoo.ErrUnavailable):
		return &Error{Kind: KindBackendUnavailable, Message: "backend unavailable", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindTimeout, Message: "request cancelled", Err: err}
	default:
		return &Error{Kind: KindInternal, Message: "internal error", Err: err}
	}
}
