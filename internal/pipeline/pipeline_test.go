// ABOUTME: Tests for the shared request pipeline
// ABOUTME: Covers authentication, rate limiting, validation, error mapping, timeouts and draining

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/odoo-bridge/internal/auth"
	"github.com/2389/odoo-bridge/internal/odoo"
	"github.com/2389/odoo-bridge/internal/ratelimit"
	"github.com/2389/odoo-bridge/internal/store"
)

type fakeBackend struct {
	mu    sync.Mutex
	calls []odoo.Operation
	fn    func(ctx context.Context, op odoo.Operation) (*odoo.Result, error)
}

func (b *fakeBackend) Do(ctx context.Context, op odoo.Operation) (*odoo.Result, error) {
	b.mu.Lock()
	b.calls = append(b.calls, op)
	fn := b.fn
	b.mu.Unlock()
	if fn != nil {
		return fn(ctx, op)
	}
	return &odoo.Result{Records: []map[string]any{{"id": int64(1)}}}, nil
}

func (b *fakeBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

type captureRecorder struct {
	mu      sync.Mutex
	entries []store.RequestLogEntry
}

func (r *captureRecorder) Record(e store.RequestLogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *captureRecorder) Last() store.RequestLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[len(r.entries)-1]
}

func (r *captureRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

type harness struct {
	p        *Pipeline
	creds    *auth.CredentialStore
	backend  *fakeBackend
	recorder *captureRecorder
	limiter  *ratelimit.MemoryLimiter
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	creds := auth.NewCredentialStore(store.NewMockStore(), auth.CredentialOptions{HashCost: bcrypt.MinCost})
	limiter := ratelimit.NewMemoryLimiter(time.Minute)
	t.Cleanup(func() { _ = limiter.Close() })

	h := &harness{
		creds:    creds,
		backend:  &fakeBackend{},
		recorder: &captureRecorder{},
		limiter:  limiter,
	}
	h.p = New(Deps{
		Credentials:    creds,
		Limiter:        limiter,
		Backend:        h.backend,
		Recorder:       h.recorder,
		RequestTimeout: timeout,
	})
	return h
}

func (h *harness) issue(t *testing.T, limit int) (*store.APIKey, string) {
	t.Helper()
	key, plaintext, err := h.creds.Issue(context.Background(), auth.IssueRequest{OwnerLabel: "test", RateLimitPerMinute: limit})
	require.NoError(t, err)
	return key, plaintext
}

var readPartners = odoo.Operation{Kind: odoo.KindRead, Model: "res.partner"}

func TestDo_Success(t *testing.T) {
	h := newHarness(t, time.Second)
	key, plaintext := h.issue(t, 10)

	resp, perr := h.p.Do(context.Background(), Request{APIKey: plaintext, FrontDoor: FrontDoorREST, Operation: readPartners})
	require.Nil(t, perr)
	require.NotNil(t, resp)
	assert.Equal(t, key.ID, resp.Key.ID)
	assert.True(t, resp.RateLimit.Admitted)
	assert.Equal(t, 9, resp.RateLimit.Remaining)
	assert.Len(t, resp.Result.Records, 1)
	assert.NotEmpty(t, resp.RequestID)

	e := h.recorder.Last()
	assert.Equal(t, key.ID, e.APIKeyID)
	assert.Equal(t, "rest", e.FrontDoor)
	assert.Equal(t, "read", e.Operation)
	assert.Equal(t, "res.partner", e.TargetModel)
	assert.Equal(t, "ok", e.Status)
	assert.Empty(t, e.ErrorKind)
	assert.Equal(t, resp.RequestID, e.RequestID)
}

func TestDo_Authentication(t *testing.T) {
	h := newHarness(t, time.Second)
	key, plaintext := h.issue(t, 10)

	tests := []struct {
		name      string
		presented string
		wantMsg   string
	}{
		{"missing", "", "missing API key"},
		{"garbage", "nope", "invalid"},
		{"mutated", plaintext[:len(plaintext)-1] + "x", "invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, perr := h.p.Do(context.Background(), Request{APIKey: tt.presented, FrontDoor: FrontDoorMCP, Operation: readPartners})
			require.NotNil(t, perr)
			assert.Equal(t, KindAuthentication, perr.Kind)
			assert.Contains(t, perr.Message, tt.wantMsg)
			assert.Equal(t, http.StatusUnauthorized, perr.HTTPStatus())

			e := h.recorder.Last()
			assert.Empty(t, e.APIKeyID)
			assert.Equal(t, "error", e.Status)
			assert.Equal(t, "authentication_error", e.ErrorKind)
		})
	}

	require.NoError(t, h.creds.Revoke(context.Background(), key.ID))
	_, perr := h.p.Do(context.Background(), Request{APIKey: plaintext, Operation: readPartners})
	require.NotNil(t, perr)
	assert.Equal(t, KindAuthentication, perr.Kind)
	assert.Zero(t, h.backend.Calls())
}

func TestDo_RateLimitScenario(t *testing.T) {
	h := newHarness(t, time.Second)
	key, plaintext := h.issue(t, 3)

	for i := 0; i < 3; i++ {
		_, perr := h.p.Do(context.Background(), Request{APIKey: plaintext, Operation: readPartners})
		require.Nil(t, perr, "request %d", i+1)
	}

	_, perr := h.p.Do(context.Background(), Request{APIKey: plaintext, Operation: readPartners})
	require.NotNil(t, perr)
	assert.Equal(t, KindRateLimitExceeded, perr.Kind)
	assert.Positive(t, perr.RetryAfter)
	assert.Equal(t, http.StatusTooManyRequests, perr.HTTPStatus())
	assert.True(t, perr.Retryable())
	assert.Equal(t, 3, h.backend.Calls())

	e := h.recorder.Last()
	assert.Equal(t, key.ID, e.APIKeyID)
	assert.Equal(t, "rate_limit_exceeded", e.ErrorKind)
}

func TestDo_ValidationFailsBeforeBackend(t *testing.T) {
	h := newHarness(t, time.Second)
	_, plaintext := h.issue(t, 10)

	op := odoo.Operation{Kind: odoo.KindRead, Model: "Bad Model"}
	_, perr := h.p.Do(context.Background(), Request{APIKey: plaintext, Operation: op})
	require.NotNil(t, perr)
	assert.Equal(t, KindValidation, perr.Kind)
	assert.Equal(t, http.StatusBadRequest, perr.HTTPStatus())
	assert.Zero(t, h.backend.Calls())
}

func TestDo_BackendErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind Kind
		wantCode int
	}{
		{"unavailable", fmt.Errorf("%w: after 3 attempts", odoo.ErrUnavailable), KindBackendUnavailable, http.StatusBadGateway},
		{"missing record", fmt.Errorf("%w: ids [7]", odoo.ErrRecordNotFound), KindValidation, http.StatusBadRequest},
		{"fault", &odoo.Fault{Code: "ValueError", Message: "Invalid field"}, KindValidation, http.StatusBadRequest},
		{"backend auth", fmt.Errorf("%w: bad password", odoo.ErrAuthentication), KindAuthentication, http.StatusUnauthorized},
		{"unexpected", errors.New("boom"), KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, time.Second)
			_, plaintext := h.issue(t, 10)
			h.backend.fn = func(context.Context, odoo.Operation) (*odoo.Result, error) { return nil, tt.err }

			_, perr := h.p.Do(context.Background(), Request{APIKey: plaintext, Operation: readPartners})
			require.NotNil(t, perr)
			assert.Equal(t, tt.wantKind, perr.Kind)
			assert.Equal(t, tt.wantCode, perr.HTTPStatus())
			assert.Equal(t, string(tt.wantKind), h.recorder.Last().ErrorKind)
		})
	}
}

func TestDo_InternalMessageIsGeneric(t *testing.T) {
	h := newHarness(t, time.Second)
	_, plaintext := h.issue(t, 10)
	h.backend.fn = func(context.Context, odoo.Operation) (*odoo.Result, error) {
		return nil, errors.New("secret connection string leaked")
	}

	_, perr := h.p.Do(context.Background(), Request{APIKey: plaintext, Operation: readPartners})
	require.NotNil(t, perr)
	assert.Equal(t, "internal error", perr.Message)
}

func TestDo_Timeout(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	_, plaintext := h.issue(t, 10)
	h.backend.fn = func(ctx context.Context, _ odoo.Operation) (*odoo.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, perr := h.p.Do(context.Background(), Request{APIKey: plaintext, Operation: readPartners})
	require.NotNil(t, perr)
	assert.Equal(t, KindTimeout, perr.Kind)
	assert.Equal(t, http.StatusGatewayTimeout, perr.HTTPStatus())
	assert.False(t, perr.Retryable())
}

func TestDrain(t *testing.T) {
	h := newHarness(t, 0)
	_, plaintext := h.issue(t, 10)

	release := make(chan struct{})
	started := make(chan struct{})
	h.backend.fn = func(ctx context.Context, _ odoo.Operation) (*odoo.Result, error) {
		close(started)
		<-release
		return &odoo.Result{}, nil
	}

	done := make(chan *Error, 1)
	go func() {
		_, perr := h.p.Do(context.Background(), Request{APIKey: plaintext, Operation: readPartners})
		done <- perr
	}()
	<-started
	assert.Equal(t, 1, h.p.InFlight())

	drained := make(chan error, 1)
	go func() { drained <- h.p.Drain(context.Background()) }()

	assert.Eventually(t, h.p.Draining, time.Second, 5*time.Millisecond)

	_, perr := h.p.Do(context.Background(), Request{APIKey: plaintext, Operation: readPartners})
	require.NotNil(t, perr)
	assert.Equal(t, KindUnavailable, perr.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, perr.HTTPStatus())

	close(release)
	assert.Nil(t, <-done)
	assert.NoError(t, <-drained)
	assert.Equal(t, 0, h.p.InFlight())
}

func TestDrain_Deadline(t *testing.T) {
	h := newHarness(t, 0)
	_, plaintext := h.issue(t, 10)

	release := make(chan struct{})
	started := make(chan struct{})
	h.backend.fn = func(ctx context.Context, _ odoo.Operation) (*odoo.Result, error) {
		close(started)
		<-release
		return &odoo.Result{}, nil
	}
	go func() {
		_, _ = h.p.Do(context.Background(), Request{APIKey: plaintext, Operation: readPartners})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.p.Drain(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestAuthenticate(t *testing.T) {
	h := newHarness(t, 0)
	key, plaintext := h.issue(t, 10)

	got, perr := h.p.Authenticate(context.Background(), plaintext)
	require.Nil(t, perr)
	assert.Equal(t, key.ID, got.ID)

	_, perr = h.p.Authenticate(context.Background(), "")
	require.NotNil(t, perr)
	assert.Equal(t, KindAuthentication, perr.Kind)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))

	own := &Error{Kind: KindValidation, Message: "x"}
	assert.Same(t, own, Classify(fmt.Errorf("wrapped: %w", own)))

	tests := []struct {
		err  error
		want Kind
	}{
		{auth.ErrInvalidAPIKey, KindAuthentication},
		{odoo.ErrInvalidOperation, KindValidation},
		{context.DeadlineExceeded, KindTimeout},
		{context.Canceled, KindTimeout},
		{odoo.ErrUnavailable, KindBackendUnavailable},
		{errors.New("other"), KindInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err).Kind, "%v", tt.err)
	}
}

func TestError_Format(t *testing.T) {
	e := &Error{Kind: KindInternal, Message: "internal error", Err: errors.New("db closed")}
	assert.Equal(t, "internal_error: internal error: db closed", e.Error())
	assert.ErrorContains(t, e, "db closed")

	v := Validation("bad id")
	assert.Equal(t, "validation_error: bad id", v.Error())
	assert.Equal(t, http.StatusBadRequest, v.HTTPStatus())
}

func TestDo_InvalidRequestIsAdmittedThenRejected(t *testing.T) {
	h := newHarness(t, time.Second)
	_, plaintext := h.issue(t, 1)

	req := Request{APIKey: plaintext, FrontDoor: FrontDoorREST, Invalid: errors.New("id must be a positive integer")}
	_, perr := h.p.Do(context.Background(), req)
	require.NotNil(t, perr)
	assert.Equal(t, KindValidation, perr.Kind)
	assert.Equal(t, "id must be a positive integer", perr.Message)

	_, perr = h.p.Do(context.Background(), req)
	require.NotNil(t, perr)
	assert.Equal(t, KindRateLimitExceeded, perr.Kind, "an invalid request consumes quota")

	_, perr = h.p.Do(context.Background(), Request{APIKey: "nope", Invalid: errors.New("bad")})
	require.NotNil(t, perr)
	assert.Equal(t, KindAuthentication, perr.Kind)

	assert.Zero(t, h.backend.Calls())
	require.Equal(t, 3, h.recorder.Len())
	e := h.recorder.Last()
	assert.Equal(t, "unknown", e.Operation)
	assert.Equal(t, string(KindAuthentication), e.ErrorKind)
}

func TestDo_BackendSeesCaller(t *testing.T) {
	h := newHarness(t, time.Second)
	key, plaintext := h.issue(t, 10)

	var caller string
	h.backend.fn = func(ctx context.Context, op odoo.Operation) (*odoo.Result, error) {
		caller = auth.FromContext(ctx).KeyID()
		return &odoo.Result{}, nil
	}

	_, perr := h.p.Do(context.Background(), Request{APIKey: plaintext, FrontDoor: FrontDoorMCP, Operation: readPartners})
	require.Nil(t, perr)
	assert.Equal(t, key.ID, caller)
}
