// ABOUTME: The authenticated request pipeline both front doors funnel into
// ABOUTME: authenticate -> admit -> validate -> execute -> record, with in-flight tracking for draining

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/odoo-bridge/internal/auth"
	"github.com/2389/odoo-bridge/internal/odoo"
	"github.com/2389/odoo-bridge/internal/ratelimit"
	"github.com/2389/odoo-bridge/internal/requestlog"
	"github.com/2389/odoo-bridge/internal/store"
)

// Front door names recorded in the request log.
const (
	FrontDoorMCP  = "mcp"
	FrontDoorREST = "rest"
)

// Authenticator verifies presented API keys.
type Authenticator interface {
	Verify(ctx context.Context, presented string) (*store.APIKey, error)
}

// Backend executes validated operations.
type Backend interface {
	Do(ctx context.Context, op odoo.Operation) (*odoo.Result, error)
}

// Deps wires the pipeline.
type Deps struct {
	Credentials    Authenticator
	Limiter        ratelimit.Limiter
	Backend        Backend
	Recorder       requestlog.Recorder
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Request is one logical operation arriving at a front door.
type Request struct {
	APIKey    string
	FrontDoor string
	RequestID string
	Operation odoo.Operation
	// Invalid is set when the front door could not build Operation from the
	// request. The request is still authenticated, admitted and recorded,
	// then fails with a validation error.
	Invalid error
}

// Response is a successful pipeline outcome.
type Response struct {
	RequestID string
	Key       *store.APIKey
	RateLimit ratelimit.Decision
	Result    *odoo.Result
}

// Pipeline runs requests from both front doors through the same steps.
type Pipeline struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
	active   int
}

// New creates a pipeline.
func New(deps Deps) *Pipeline {
	if deps.Recorder == nil {
		deps.Recorder = requestlog.Discard{}
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.Unlimited{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		deps:   deps,
		logger: logger.With("component", "pipeline"),
		now:    time.Now,
	}
}

// Authenticate verifies a key without admitting or executing anything.
// Front doors use it for protocol handshakes that carry no operation.
func (p *Pipeline) Authenticate(ctx context.Context, presented string) (*store.APIKey, *Error) {
	if presented == "" {
		return nil, &Error{Kind: KindAuthentication, Message: "missing API key"}
	}
	key, err := p.deps.Credentials.Verify(ctx, presented)
	if err != nil {
		pe := Classify(err)
		if pe.Kind == KindInternal {
			p.logger.Error("credential lookup failed", "error", err)
		}
		return nil, pe
	}
	return key, nil
}

// Do runs one request. A non-nil error is always a *Error.
func (p *Pipeline) Do(ctx context.Context, req Request) (*Response, *Error) {
	if !p.enter() {
		return nil, &Error{Kind: KindUnavailable, Message: "server is shutting down"}
	}
	defer p.leave()

	start := p.now()
	if req.RequestID == "" {
		req.RequestID = auth.NewRequestID()
	}

	resp, key, perr := p.run(ctx, req)

	entry := store.RequestLogEntry{
		RequestID:   req.RequestID,
		Timestamp:   start.UTC(),
		FrontDoor:   req.FrontDoor,
		Operation:   string(req.Operation.Kind),
		TargetModel: req.Operation.TargetModel(),
		Status:      "ok",
		LatencyMS:   p.now().Sub(start).Milliseconds(),
	}
	if entry.Operation == "" {
		entry.Operation = "unknown"
	}
	if key != nil {
		entry.APIKeyID = key.ID
	}
	if perr != nil {
		entry.Status = "error"
		entry.ErrorKind = string(perr.Kind)
		p.logFailure(req, key, perr)
	}
	p.deps.Recorder.Record(entry)

	return resp, perr
}

func (p *Pipeline) run(ctx context.Context, req Request) (*Response, *store.APIKey, *Error) {
	key, perr := p.Authenticate(ctx, req.APIKey)
	if perr != nil {
		return nil, nil, perr
	}

	decision, err := p.deps.Limiter.Admit(ctx, key.ID, key.RateLimitPerMinute)
	if err != nil {
		return nil, key, &Error{Kind: KindInternal, Message: "internal error", Err: err}
	}
	if !decision.Admitted {
		return nil, key, &Error{
			Kind:       KindRateLimitExceeded,
			Message:    "rate limit exceeded",
			RetryAfter: decision.RetryAfterSeconds(),
		}
	}

	if req.Invalid != nil {
		return nil, key, Validation(req.Invalid.Error())
	}
	if err := req.Operation.Validate(); err != nil {
		return nil, key, Classify(err)
	}

	execCtx := ctx
	if p.deps.RequestTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, p.deps.RequestTimeout)
		defer cancel()
	}

	execCtx = auth.WithAuth(execCtx, auth.ForKey(key))
	result, err := p.deps.Backend.Do(execCtx, req.Operation)
	if err != nil {
		if execCtx.Err() != nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return nil, key, &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
		}
		return nil, key, Classify(err)
	}

	return &Response{
		RequestID: req.RequestID,
		Key:       key,
		RateLimit: decision,
		Result:    result,
	}, key, nil
}

func (p *Pipeline) logFailure(req Request, key *store.APIKey, perr *Error) {
	attrs := []any{
		"request_id", req.RequestID,
		"front_door", req.FrontDoor,
		"operation", req.Operation.Kind,
		"model", req.Operation.TargetModel(),
		"kind", perr.Kind,
	}
	if key != nil {
		attrs = append(attrs, "key_id", key.ID)
	}
	if perr.Err != nil {
		attrs = append(attrs, "error", perr.Err)
	}

	switch perr.Kind {
	case KindInternal:
		p.logger.Error("request failed", attrs...)
	case KindBackendUnavailable, KindTimeout:
		p.logger.Warn("request failed", attrs...)
	default:
		p.logger.Debug("request rejected", attrs...)
	}
}

func (p *Pipeline) enter() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draining {
		return false
	}
	p.inflight.Add(1)
	p.active++
	return true
}

func (p *Pipeline) leave() {
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	p.inflight.Done()
}

// InFlight returns the number of requests currently inside Do.
func (p *Pipeline) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Draining reports whether new requests are being refused.
func (p *Pipeline) Draining() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.draining
}

// Drain stops admitting requests and waits for in-flight ones to finish or
// ctx to end.
func (p *Pipeline) Drain(ctx context.Context) error {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.logger.Warn("drain deadline reached", "in_flight", p.InFlight())
		return ctx.Err()
	}
}
