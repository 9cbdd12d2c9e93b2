// ABOUTME: REST front door mapping HTTP verbs on /api/<model> onto backend operations
// ABOUTME: Shares the MCP pipeline so auth, rate limits and logging behave identically

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/2389/odoo-bridge/internal/auth"
	"github.com/2389/odoo-bridge/internal/odoo"
	"github.com/2389/odoo-bridge/internal/pipeline"
)

// MaxRequestBodySize is the default limit for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// Executor is the slice of the pipeline the REST front door needs.
type Executor interface {
	Do(ctx context.Context, req pipeline.Request) (*pipeline.Response, *pipeline.Error)
}

// Config configures the REST handler.
type Config struct {
	Executor     Executor
	Logger       *slog.Logger
	MaxBodyBytes int64
}

// Handler serves the /api routes.
type Handler struct {
	exec    Executor
	logger  *slog.Logger
	maxBody int64
}

// errorBody is the error half of every failed response.
type errorBody struct {
	Kind              string `json:"kind"`
	Message           string `json:"message"`
	Retryable         bool   `json:"retryable"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// envelope wraps every response body.
type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Count   *int       `json:"count,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

// route builds the operation for one request and shapes its result.
type route struct {
	status int
	build  func(r *http.Request, body []byte) (odoo.Operation, error)
	shape  func(res *odoo.Result) envelope
}

// New creates the REST handler.
func New(cfg Config) (*Handler, error) {
	if cfg.Executor == nil {
		return nil, errors.New("executor is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = MaxRequestBodySize
	}
	return &Handler{
		exec:    cfg.Executor,
		logger:  logger.With("component", "rest"),
		maxBody: cfg.MaxBodyBytes,
	}, nil
}

// RegisterRoutes registers the /api routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/models", h.serve(route{build: buildListModels, shape: recordsEnvelope}))
	mux.Handle("GET /api/{model}", h.serve(route{build: buildList, shape: recordsEnvelope}))
	mux.Handle("GET /api/{model}/fields", h.serve(route{build: buildFields, shape: valueEnvelope}))
	mux.Handle("GET /api/{model}/{id}", h.serve(route{build: buildGet, shape: singleRecordEnvelope}))
	mux.Handle("POST /api/{model}", h.serve(route{status: http.StatusCreated, build: buildCreate, shape: createdEnvelope}))
	mux.Handle("POST /api/{model}/create", h.serve(route{status: http.StatusCreated, build: buildCreate, shape: createdEnvelope}))
	mux.Handle("POST /api/{model}/search", h.serve(route{build: buildSearch, shape: recordsEnvelope}))
	mux.Handle("POST /api/{model}/call/{method}", h.serve(route{build: buildCall, shape: valueEnvelope}))
	mux.Handle("PUT /api/{model}/{id}", h.serve(route{build: buildWrite, shape: idsEnvelope}))
	mux.Handle("PATCH /api/{model}/{id}", h.serve(route{build: buildWrite, shape: idsEnvelope}))
	mux.Handle("DELETE /api/{model}/{id}", h.serve(route{build: buildDelete, shape: idsEnvelope}))
}

func (h *Handler) serve(rt route) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := auth.APIKeyFromRequest(r)

		body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody+1))
		if err == nil && int64(len(body)) > h.maxBody {
			err = errors.New("request body too large")
		}
		var op odoo.Operation
		if err == nil {
			op, err = rt.build(r, body)
		}

		resp, perr := h.exec.Do(r.Context(), pipeline.Request{
			APIKey:    apiKey,
			FrontDoor: pipeline.FrontDoorREST,
			Operation: op,
			Invalid:   err,
		})
		if perr != nil {
			h.writeError(w, perr)
			return
		}

		setRateLimitHeaders(w, resp)
		w.Header().Set("X-Request-Id", resp.RequestID)

		status := rt.status
		if status == 0 {
			status = http.StatusOK
		}
		out := rt.shape(resp.Result)
		out.Success = true
		h.writeJSON(w, status, out)
	})
}

func setRateLimitHeaders(w http.ResponseWriter, resp *pipeline.Response) {
	d := resp.RateLimit
	if d.Limit <= 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, perr *pipeline.Error) {
	if perr.Kind == pipeline.KindRateLimitExceeded && perr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(perr.RetryAfter))
	}
	h.writeJSON(w, perr.HTTPStatus(), envelope{Error: &errorBody{
		Kind:              string(perr.Kind),
		Message:           perr.Message,
		Retryable:         perr.Retryable(),
		RetryAfterSeconds: perr.RetryAfter,
	}})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}

// builders

func buildListModels(_ *http.Request, _ []byte) (odoo.Operation, error) {
	return odoo.Operation{Kind: odoo.KindListModels}, nil
}

func buildList(r *http.Request, _ []byte) (odoo.Operation, error) {
	op := odoo.Operation{Kind: odoo.KindRead, Model: r.PathValue("model")}
	q := r.URL.Query()

	if raw := q.Get("domain"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &op.Domain); err != nil {
			return op, fmt.Errorf("domain must be a JSON array: %w", err)
		}
	}
	if raw := q.Get("fields"); raw != "" {
		op.Fields = splitList(raw)
	}
	var err error
	if op.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		return op, err
	}
	if op.Offset, err = intParam(q.Get("offset"), "offset"); err != nil {
		return op, err
	}
	op.Order = q.Get("order")
	return op, nil
}

func buildGet(r *http.Request, _ []byte) (odoo.Operation, error) {
	id, err := recordID(r)
	if err != nil {
		return odoo.Operation{}, err
	}
	op := odoo.Operation{Kind: odoo.KindRead, Model: r.PathValue("model"), IDs: []int64{id}}
	if raw := r.URL.Query().Get("fields"); raw != "" {
		op.Fields = splitList(raw)
	}
	return op, nil
}

func buildFields(r *http.Request, _ []byte) (odoo.Operation, error) {
	op := odoo.Operation{
		Kind:   odoo.KindCallMethod,
		Model:  r.PathValue("model"),
		Method: "fields_get",
	}
	attrs := []string{"string", "type", "required", "readonly", "relation", "selection", "help"}
	if raw := r.URL.Query().Get("attributes"); raw != "" {
		attrs = splitList(raw)
	}
	op.Kwargs = map[string]any{"attributes": attrs}
	return op, nil
}

// searchBody is the POST /api/<model>/search body.
type searchBody struct {
	Domain []any    `json:"domain"`
	Fields []string `json:"fields"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
	Order  string   `json:"order"`
}

func buildSearch(r *http.Request, body []byte) (odoo.Operation, error) {
	var sb searchBody
	if err := decodeStrict(body, &sb, true); err != nil {
		return odoo.Operation{}, err
	}
	return odoo.Operation{
		Kind: odoo.KindRead, Model: r.PathValue("model"),
		Domain: sb.Domain, Fields: sb.Fields, Limit: sb.Limit, Offset: sb.Offset, Order: sb.Order,
	}, nil
}

func buildCreate(r *http.Request, body []byte) (odoo.Operation, error) {
	values, err := decodeValues(body)
	if err != nil {
		return odoo.Operation{}, err
	}
	return odoo.Operation{Kind: odoo.KindCreate, Model: r.PathValue("model"), Values: values}, nil
}

func buildWrite(r *http.Request, body []byte) (odoo.Operation, error) {
	id, err := recordID(r)
	if err != nil {
		return odoo.Operation{}, err
	}
	values, err := decodeValues(body)
	if err != nil {
		return odoo.Operation{}, err
	}
	return odoo.Operation{Kind: odoo.KindWrite, Model: r.PathValue("model"), IDs: []int64{id}, Values: values}, nil
}

func buildDelete(r *http.Request, _ []byte) (odoo.Operation, error) {
	id, err := recordID(r)
	if err != nil {
		return odoo.Operation{}, err
	}
	return odoo.Operation{Kind: odoo.KindDelete, Model: r.PathValue("model"), IDs: []int64{id}}, nil
}

// callBody is the POST /api/<model>/call/<method> body.
type callBody struct {
	IDs    []int64        `json:"ids"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

func buildCall(r *http.Request, body []byte) (odoo.Operation, error) {
	var cb callBody
	if err := decodeStrict(body, &cb, true); err != nil {
		return odoo.Operation{}, err
	}
	return odoo.Operation{
		Kind:   odoo.KindCallMethod,
		Model:  r.PathValue("model"),
		Method: r.PathValue("method"),
		IDs:    cb.IDs,
		Args:   cb.Args,
		Kwargs: cb.Kwargs,
	}, nil
}

// shapes

func recordsEnvelope(res *odoo.Result) envelope {
	records := res.Records
	if records == nil {
		records = []map[string]any{}
	}
	n := len(records)
	return envelope{Data: records, Count: &n}
}

func singleRecordEnvelope(res *odoo.Result) envelope {
	if len(res.Records) == 0 {
		return envelope{Data: map[string]any{}}
	}
	return envelope{Data: res.Records[0]}
}

func createdEnvelope(res *odoo.Result) envelope {
	data := map[string]any{"ids": res.IDs}
	if len(res.IDs) == 1 {
		data["id"] = res.IDs[0]
	}
	return envelope{Data: data}
}

func idsEnvelope(res *odoo.Result) envelope {
	return envelope{Data: map[string]any{"ids": res.IDs}}
}

func valueEnvelope(res *odoo.Result) envelope {
	return envelope{Data: res.Value}
}

// helpers

func recordID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("record id must be a positive integer")
	}
	return id, nil
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decodeStrict decodes a JSON object body, rejecting unknown fields.
func decodeStrict(body []byte, v any, allowEmpty bool) error {
	if len(bytes.TrimSpace(body)) == 0 {
		if allowEmpty {
			return nil
		}
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// decodeValues accepts either a bare field map or {"values": {...}}.
func decodeValues(body []byte) (map[string]any, error) {
	var values map[string]any
	if err := decodeStrict(body, &values, false); err != nil {
		return nil, err
	}
	if inner, ok := values["values"].(map[string]any); ok && len(values) == 1 {
		return inner, nil
	}
	return values, nil
}
