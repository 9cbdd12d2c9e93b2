// ABOUTME: Odoo backend client: version detection, authentication and operation dispatch
// ABOUTME: Caches one session, re-authenticates single-flight and retries transient failures with backoff

package odoo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/2389/odoo-bridge/internal/auth"
)

// modelRegistry is the backend model listing all other models.
const modelRegistry = "ir.model"

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Options configures a Client.
type Options struct {
	// Protocol is "auto", "xml" or "json".
	Protocol string
	// JSONMinVersion is the lowest major version that gets the JSON variant.
	JSONMinVersion int
	SessionTTL     time.Duration
	// CallTimeout bounds a single backend call including retries.
	CallTimeout time.Duration
	Retry       RetryPolicy
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Result is the outcome of an operation. Which fields are set depends on the kind.
type Result struct {
	Records []map[string]any `json:"records,omitempty"`
	IDs     []int64          `json:"ids,omitempty"`
	Value   any              `json:"value,omitempty"`
}

// Client talks to one Odoo instance on behalf of the bridge.
type Client struct {
	baseURL string
	creds   Credentials
	opts    Options
	http    *http.Client
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	session *Session
	variant ProtocolVariant // fixed after the first detection

	auth singleflight.Group
}

// New creates a client for the backend at baseURL.
func New(baseURL string, creds Credentials, opts Options) *Client {
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}
	if opts.JSONMinVersion == 0 {
		opts.JSONMinVersion = 19
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		opts:    opts,
		http:    httpClient,
		logger:  logger.With("component", "odoo"),
		now:     time.Now,
	}
	if v, ok := ParseVariant(opts.Protocol); ok {
		c.variant = v
	}
	return c
}

// DetectVersion asks the backend for its version. A major version at or above the
// JSON threshold selects VariantJSON; any failure selects VariantXML.
func (c *Client) DetectVersion(ctx context.Context, baseURL string) (ProtocolVariant, string) {
	major, version, err := c.fetchVersion(ctx, strings.TrimRight(baseURL, "/"))
	if err != nil {
		c.logger.Info("version detection failed, using xml-rpc", "error", err)
		return VariantXML, version
	}
	if major >= c.opts.JSONMinVersion {
		c.logger.Info("backend version detected", "version", version, "variant", VariantJSON)
		return VariantJSON, version
	}
	c.logger.Info("backend version detected", "version", version, "variant", VariantXML)
	return VariantXML, version
}

// Authenticate establishes a new session. The protocol variant is detected on
// first use and reused by every later session.
func (c *Client) Authenticate(ctx context.Context, baseURL string, creds Credentials) (*Session, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	variant, version := c.resolveVariant(ctx, baseURL)

	sess := &Session{
		BaseURL:       baseURL,
		Variant:       variant,
		ServerVersion: version,
		Database:      creds.Database,
	}

	switch variant {
	case VariantJSON:
		uid, token, err := c.jsonAuthenticate(ctx, baseURL, creds)
		if err != nil {
			return nil, err
		}
		sess.UID = uid
		sess.token = token
	default:
		uid, err := c.xmlAuthenticate(ctx, baseURL, creds)
		if err != nil {
			return nil, err
		}
		sess.UID = uid
		sess.token = creds.Secret
	}

	sess.EstablishedAt = c.now()
	c.logger.Info("authenticated with backend",
		"url", baseURL,
		"database", creds.Database,
		"uid", sess.UID,
		"variant", sess.Variant,
	)
	return sess, nil
}

func (c *Client) resolveVariant(ctx context.Context, baseURL string) (ProtocolVariant, string) {
	c.mu.RLock()
	v := c.variant
	c.mu.RUnlock()
	if v != 0 {
		return v, ""
	}

	detected, version := c.DetectVersion(ctx, baseURL)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.variant == 0 {
		c.variant = detected
	}
	return c.variant, version
}

// Variant returns the protocol variant in use, or zero before detection.
func (c *Client) Variant() ProtocolVariant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.variant
}

func (c *Client) xmlAuthenticate(ctx context.Context, baseURL string, creds Credentials) (int64, error) {
	raw, err := c.xmlCall(ctx, baseURL, "common", "authenticate", true,
		creds.Database, creds.Username, creds.Secret, map[string]any{})
	if err != nil {
		var f *Fault
		if errors.As(err, &f) {
			return 0, classifyFault(f)
		}
		if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrAuthentication) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, err
		}
		// an answer that is not an XML-RPC response, e.g. a login page
		return 0, fmt.Errorf("%w: malformed authenticate response: %v", ErrAuthentication, err)
	}
	uid, ok := toInt64(raw)
	if !ok || uid == 0 {
		// authenticate answers false for bad credentials
		return 0, ErrAuthentication
	}
	return uid, nil
}

// xmlCall invokes method on /xmlrpc/2/<endpoint> with retries.
func (c *Client) xmlCall(ctx context.Context, baseURL, endpoint, method string, idempotent bool, params ...any) (any, error) {
	body, err := encodeMethodCall(method, params...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	url := baseURL + "/xmlrpc/2/" + endpoint

	return c.retry(ctx, endpoint+"."+method, idempotent, func(ctx context.Context) (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Content-Type", "text/xml")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, c.transportError(ctx, err)
		}
		defer resp.Body.Close()

		switch {
		case isGatewayStatus(resp.StatusCode):
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, &transientError{err: fmt.Errorf("status %d", resp.StatusCode)}
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, ErrAuthentication
		case resp.StatusCode != http.StatusOK:
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, fmt.Errorf("%w: %s returned status %d", ErrUnavailable, endpoint, resp.StatusCode)
		}

		v, err := decodeResponse(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return v, err
	})
}

// transportError separates cancellation from retryable network failures.
func (c *Client) transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &transientError{err: err}
}

// retry runs fn until it succeeds, fails permanently or attempts run out.
// Backoff doubles from InitialBackoff up to MaxBackoff. A call that is not
// idempotent is retried only when the request never reached the backend.
func (c *Client) retry(ctx context.Context, what string, idempotent bool, fn func(context.Context) (any, error)) (any, error) {
	backoff := c.opts.Retry.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= c.opts.Retry.MaxAttempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !isTransient(err) {
			return nil, err
		}
		if !idempotent && !notSent(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, what, err)
		}
		lastErr = err

		if attempt == c.opts.Retry.MaxAttempts {
			break
		}
		c.logger.Warn("transient backend failure, retrying",
			"call", what,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if c.opts.Retry.MaxBackoff > 0 && backoff > c.opts.Retry.MaxBackoff {
			backoff = c.opts.Retry.MaxBackoff
		}
	}

	return nil, fmt.Errorf("%w: %s failed after %d attempts: %v", ErrUnavailable, what, c.opts.Retry.MaxAttempts, lastErr)
}

// Session returns the cached session, authenticating if there is none or it
// has outlived the TTL. Concurrent callers share one authentication.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	c.mu.RLock()
	sess := c.session
	c.mu.RUnlock()
	if sess != nil && !sess.Expired(c.now(), c.opts.SessionTTL) {
		return sess, nil
	}

	ch := c.auth.DoChan("session", func() (any, error) {
		c.mu.RLock()
		current := c.session
		c.mu.RUnlock()
		if current != nil && current != sess && !current.Expired(c.now(), c.opts.SessionTTL) {
			return current, nil
		}

		// The flight outlives any single waiter's cancellation
		authCtx := context.WithoutCancel(ctx)
		if c.opts.CallTimeout > 0 {
			var cancel context.CancelFunc
			authCtx, cancel = context.WithTimeout(authCtx, c.opts.CallTimeout)
			defer cancel()
		}

		fresh, err := c.Authenticate(authCtx, c.baseURL, c.creds)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.session = fresh
		c.mu.Unlock()
		return fresh, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	}
}

// invalidate drops sess if it is still the cached session.
func (c *Client) invalidate(sess *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == sess {
		c.session = nil
	}
}

// HealthCheck performs one fresh authentication round-trip and caches the session.
func (c *Client) HealthCheck(ctx context.Context) error {
	sess, err := c.Authenticate(ctx, c.baseURL, c.creds)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
	return nil
}

// Do validates op and executes it on the cached session. A session rejected
// by the backend is re-established once and the operation retried.
func (c *Client) Do(ctx context.Context, op Operation) (*Result, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	sess, err := c.Session(ctx)
	if err != nil {
		return nil, err
	}

	res, err := c.Execute(ctx, sess, op)
	if !errors.Is(err, ErrAuthentication) {
		return res, err
	}

	c.logger.Info("backend rejected session, re-authenticating", "uid", sess.UID)
	c.invalidate(sess)
	sess, err = c.Session(ctx)
	if err != nil {
		return nil, err
	}
	return c.Execute(ctx, sess, op)
}

// Execute runs op on sess. Model syntax is validated before any dispatch.
func (c *Client) Execute(ctx context.Context, sess *Session, op Operation) (*Result, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	if c.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.CallTimeout)
		defer cancel()
	}

	switch op.Kind {
	case KindRead:
		return c.executeRead(ctx, sess, op)
	case KindCreate:
		raw, err := c.call(ctx, sess, op.Model, "create", []any{op.Values}, nil)
		if err != nil {
			return nil, err
		}
		ids, ok := toIDs(raw)
		if !ok {
			return nil, fmt.Errorf("unexpected create result %T", raw)
		}
		return &Result{IDs: ids}, nil
	case KindWrite:
		if err := c.ensureExist(ctx, sess, op.Model, op.IDs); err != nil {
			return nil, err
		}
		raw, err := c.call(ctx, sess, op.Model, "write", []any{op.IDs, op.Values}, nil)
		if err != nil {
			return nil, err
		}
		return &Result{IDs: op.IDs, Value: raw}, nil
	case KindDelete:
		if err := c.ensureExist(ctx, sess, op.Model, op.IDs); err != nil {
			return nil, err
		}
		raw, err := c.call(ctx, sess, op.Model, "unlink", []any{op.IDs}, nil)
		if err != nil {
			return nil, err
		}
		return &Result{IDs: op.IDs, Value: raw}, nil
	case KindListModels:
		raw, err := c.call(ctx, sess, modelRegistry, "search_read",
			[]any{[]any{[]any{"transient", "=", false}}},
			map[string]any{"fields": []string{"model", "name"}, "order": "name"},
		)
		if err != nil {
			return nil, err
		}
		records, ok := toRecords(raw)
		if !ok {
			return nil, fmt.Errorf("unexpected list_models result %T", raw)
		}
		return &Result{Records: records}, nil
	case KindCallMethod:
		args := op.Args
		if len(op.IDs) > 0 {
			args = append([]any{op.IDs}, args...)
		}
		raw, err := c.call(ctx, sess, op.Model, op.Method, args, op.Kwargs)
		if err != nil {
			return nil, err
		}
		return &Result{Value: raw}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, op.Kind)
	}
}

func (c *Client) executeRead(ctx context.Context, sess *Session, op Operation) (*Result, error) {
	kwargs := map[string]any{}
	if len(op.Fields) > 0 {
		kwargs["fields"] = op.Fields
	}

	if len(op.IDs) > 0 {
		raw, err := c.call(ctx, sess, op.Model, "read", []any{op.IDs}, kwargs)
		if err != nil {
			return nil, err
		}
		records, ok := toRecords(raw)
		if !ok {
			return nil, fmt.Errorf("unexpected read result %T", raw)
		}
		if missing := missingIDs(op.IDs, recordIDs(records)); len(missing) > 0 {
			return nil, fmt.Errorf("%w: %s ids %v", ErrRecordNotFound, op.Model, missing)
		}
		return &Result{Records: records}, nil
	}

	if op.Limit > 0 {
		kwargs["limit"] = op.Limit
	}
	if op.Offset > 0 {
		kwargs["offset"] = op.Offset
	}
	if op.Order != "" {
		kwargs["order"] = op.Order
	}
	domain := op.Domain
	if domain == nil {
		domain = []any{}
	}

	raw, err := c.call(ctx, sess, op.Model, "search_read", []any{domain}, kwargs)
	if err != nil {
		return nil, err
	}
	records, ok := toRecords(raw)
	if !ok {
		return nil, fmt.Errorf("unexpected search_read result %T", raw)
	}
	return &Result{Records: records}, nil
}

// ensureExist fails with ErrRecordNotFound unless every id exists, archived
// records included.
func (c *Client) ensureExist(ctx context.Context, sess *Session, model string, ids []int64) error {
	raw, err := c.call(ctx, sess, model, "search",
		[]any{[]any{[]any{"id", "in", ids}}},
		map[string]any{"context": map[string]any{"active_test": false}},
	)
	if err != nil {
		return err
	}
	found, ok := toIDs(raw)
	if !ok {
		return fmt.Errorf("unexpected search result %T", raw)
	}
	if missing := missingIDs(ids, found); len(missing) > 0 {
		return fmt.Errorf("%w: %s ids %v", ErrRecordNotFound, model, missing)
	}
	return nil
}

// readOnlyMethods are safe to resend after a failure mid-request. Every
// other method, create and write included, is sent again only when the
// first attempt never connected.
var readOnlyMethods = map[string]bool{
	"read":         true,
	"search":       true,
	"search_read":  true,
	"search_count": true,
	"fields_get":   true,
	"name_search":  true,
	"default_get":  true,
}

// call dispatches one model method on the session's variant.
func (c *Client) call(ctx context.Context, sess *Session, model, method string, args []any, kwargs map[string]any) (any, error) {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}

	start := time.Now()
	var (
		raw any
		err error
	)
	idempotent := readOnlyMethods[method]
	switch sess.Variant {
	case VariantJSON:
		raw, err = c.jsonExecute(ctx, sess, model, method, idempotent, args, kwargs)
	default:
		raw, err = c.xmlCall(ctx, sess.BaseURL, "object", "execute_kw", idempotent,
			sess.Database, sess.UID, sess.token, model, method, args, kwargs)
		var f *Fault
		if errors.As(err, &f) {
			err = classifyFault(f)
		}
	}

	attrs := []any{
		"model", model,
		"method", method,
		"variant", sess.Variant,
		"duration", time.Since(start),
		"error", err,
	}
	if keyID := auth.FromContext(ctx).KeyID(); keyID != "" {
		attrs = append(attrs, "key_id", keyID)
	}
	c.logger.Debug("backend call", attrs...)
	return raw, err
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), t == float64(int64(t))
	default:
		return 0, false
	}
}

// toIDs accepts a single id or a list of ids.
func toIDs(v any) ([]int64, bool) {
	if id, ok := toInt64(v); ok {
		return []int64{id}, true
	}
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	ids := make([]int64, 0, len(list))
	for _, item := range list {
		id, ok := toInt64(item)
		if !ok {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

func toRecords(v any) ([]map[string]any, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	records := make([]map[string]any, 0, len(list))
	for _, item := range list {
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		records = append(records, rec)
	}
	return records, true
}

func recordIDs(records []map[string]any) []int64 {
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		if id, ok := toInt64(r["id"]); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func missingIDs(want, have []int64) []int64 {
	seen := make(map[int64]bool, len(have))
	for _, id := range have {
		seen[id] = true
	}
	var missing []int64
	for _, id := range want {
		if !seen[id] {
			missing = append(missing, id)
			seen[id] = true
		}
	}
	return missing
}
