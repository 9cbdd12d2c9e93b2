// ABOUTME: Admin HTTP API for key management and request log inspection
// ABOUTME: Every route sits behind the admin JWT middleware; request bodies are checked with validator

package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/2389/odoo-bridge/internal/auth"
	"github.com/2389/odoo-bridge/internal/store"
)

// maxBodyBytes bounds admin request bodies.
const maxBodyBytes = 64 << 10

// KeyManager issues and manages API keys.
type KeyManager interface {
	Issue(ctx context.Context, req auth.IssueRequest) (*store.APIKey, string, error)
	Get(ctx context.Context, id string) (*store.APIKey, error)
	List(ctx context.Context, includeRevoked bool) ([]*store.APIKey, error)
	Revoke(ctx context.Context, id string) error
}

// LogQuerier reads the request log.
type LogQuerier interface {
	ListRequestLogs(ctx context.Context, f store.RequestLogFilter) ([]store.RequestLogEntry, error)
	RequestLogStats(ctx context.Context, since time.Time) (*store.RequestLogStats, error)
}

// Pruner prunes the request log.
type Pruner interface {
	Prune(ctx context.Context) (int, error)
	PruneWith(ctx context.Context, p store.PrunePolicy) (int, error)
}

// TokenGenerator mints admin tokens.
type TokenGenerator interface {
	Generate(subject string, ttl time.Duration) (string, error)
}

// Config wires the admin API.
type Config struct {
	Keys     KeyManager
	Logs     LogQuerier
	Pruner   Pruner
	Verifier auth.TokenVerifier
	Tokens   TokenGenerator // optional; token minting is disabled without it
	Logger   *slog.Logger
}

// API serves /admin routes.
type API struct {
	keys     KeyManager
	logs     LogQuerier
	pruner   Pruner
	verifier auth.TokenVerifier
	tokens   TokenGenerator
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// New creates the admin API.
func New(cfg Config) (*API, error) {
	if cfg.Keys == nil {
		return nil, errors.New("key manager is required")
	}
	if cfg.Logs == nil {
		return nil, errors.New("log querier is required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("token verifier is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		keys:     cfg.Keys,
		logs:     cfg.Logs,
		pruner:   cfg.Pruner,
		verifier: cfg.Verifier,
		tokens:   cfg.Tokens,
		validate: newValidator(),
		logger:   logger.With("component", "admin"),
		now:      time.Now,
	}, nil
}

// RegisterRoutes registers the admin routes on mux behind the admin JWT gate.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	protect := func(h http.HandlerFunc) http.Handler {
		return auth.AdminMiddleware(a.verifier)(auth.RequireAdminHTTP()(h))
	}

	mux.Handle("POST /admin/keys", protect(a.handleIssueKey))
	mux.Handle("GET /admin/keys", protect(a.handleListKeys))
	mux.Handle("GET /admin/keys/{id}", protect(a.handleGetKey))
	mux.Handle("DELETE /admin/keys/{id}", protect(a.handleRevokeKey))
	mux.Handle("POST /admin/keys/{id}/revoke", protect(a.handleRevokeKey))

	mux.Handle("GET /admin/logs", protect(a.handleListLogs))
	mux.Handle("GET /admin/logs/stats", protect(a.handleLogStats))
	mux.Handle("POST /admin/logs/prune", protect(a.handlePruneLogs))

	mux.Handle("POST /admin/tokens", protect(a.handleCreateToken))
}

// decodeBody decodes and validates a JSON body. An empty body decodes as {}.
func (a *API) decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return errors.New("failed to read request body")
	}
	if len(body) > maxBodyBytes {
		return errors.New("request body too large")
	}
	if len(bytes.TrimSpace(body)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			return errors.New("invalid JSON body")
		}
	}
	if err := a.validate.Struct(v); err != nil {
		return describeValidation(err)
	}
	return nil
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// describeValidation turns validator errors into one readable message.
func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("failed to encode response", "error", err)
	}
}

func (a *API) sendJSONError(w http.ResponseWriter, status int, message string) {
	a.writeJSON(w, status, map[string]string{"error": message})
}

// actor returns the admin subject for audit-style log lines.
func actor(r *http.Request) string {
	if ac := auth.FromContext(r.Context()); ac != nil {
		return ac.Subject
	}
	return ""
}
