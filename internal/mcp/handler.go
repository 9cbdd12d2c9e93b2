// ABOUTME: Transport-independent MCP method dispatch over the shared request pipeline
// ABOUTME: Tool failures become structured isError results carrying the pipeline error kind

package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/2389/odoo-bridge/internal/odoo"
	"github.com/2389/odoo-bridge/internal/pipeline"
	"github.com/2389/odoo-bridge/internal/store"
)

// Resource URIs served by resources/read.
const (
	modelsResourceURI    = "odoo://models"
	modelFieldsURIPrefix = "odoo://models/"
	resourceJSONMimeType = "application/json"
	defaultServerName    = "odoo-bridge"
	defaultServerVersion = "dev"
)

// Executor is the slice of the pipeline the MCP front door needs.
type Executor interface {
	Do(ctx context.Context, req pipeline.Request) (*pipeline.Response, *pipeline.Error)
	Authenticate(ctx context.Context, presented string) (*store.APIKey, *pipeline.Error)
}

// handler answers MCP methods for one presented API key at a time.
type handler struct {
	exec    Executor
	logger  *slog.Logger
	name    string
	version string
}

// errorPayload is the structured body of a failed tool call or resource read.
type errorPayload struct {
	Kind              string `json:"kind"`
	Message           string `json:"message"`
	Retryable         bool   `json:"retryable"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

func payloadFor(perr *pipeline.Error) errorPayload {
	return errorPayload{
		Kind:              string(perr.Kind),
		Message:           perr.Message,
		Retryable:         perr.Retryable(),
		RetryAfterSeconds: perr.RetryAfter,
	}
}

// handle dispatches one request. It returns nil for notifications.
func (h *handler) handle(ctx context.Context, apiKey, frontDoor string, req JSONRPCRequest) *JSONRPCResponse {
	if req.IsNotification() {
		if strings.HasPrefix(req.Method, "notifications/") {
			h.logger.Debug("accepted MCP notification", "method", req.Method)
		} else {
			h.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		return nil
	}

	switch req.Method {
	case "initialize":
		return h.initialize(req)
	case "ping":
		return result(req.ID, map[string]any{})
	case "tools/list":
		return h.toolsList(req)
	case "tools/call":
		return h.toolsCall(ctx, apiKey, frontDoor, req)
	case "resources/list":
		return h.resourcesList(req)
	case "resources/read":
		return h.resourcesRead(ctx, apiKey, frontDoor, req)
	default:
		return rpcError(req.ID, JSONRPCMethodNotFound, "method not found", nil)
	}
}

func (h *handler) initialize(req JSONRPCRequest) *JSONRPCResponse {
	return result(req.ID, map[string]any{
		"protocolVersion": latestProtocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    h.name,
			"version": h.version,
		},
	})
}

func (h *handler) toolsList(req JSONRPCRequest) *JSONRPCResponse {
	res := MCPListToolsResult{Tools: make([]MCPToolInfo, len(toolTable))}
	for i, t := range toolTable {
		res.Tools[i] = t.info
	}
	return result(req.ID, res)
}

func (h *handler) toolsCall(ctx context.Context, apiKey, frontDoor string, req JSONRPCRequest) *JSONRPCResponse {
	var params MCPCallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpcError(req.ID, JSONRPCInvalidParams, "invalid params", nil)
		}
	}
	if params.Name == "" {
		return rpcError(req.ID, JSONRPCInvalidParams, "tool name is required", nil)
	}

	t, ok := toolsByName[params.Name]
	if !ok {
		return rpcError(req.ID, JSONRPCInvalidParams, "tool not found", nil)
	}

	op, err := t.build(params.Arguments)
	resp, perr := h.exec.Do(ctx, pipeline.Request{APIKey: apiKey, FrontDoor: frontDoor, Operation: op, Invalid: err})
	if perr != nil {
		h.logger.Debug("tools/call failed", "tool_name", params.Name, "kind", perr.Kind)
		return result(req.ID, toolError(perr))
	}

	out := t.shape(resp.Result)
	text, err := json.Marshal(out)
	if err != nil {
		h.logger.Error("failed to encode tool result", "tool_name", params.Name, "error", err)
		return result(req.ID, toolError(&pipeline.Error{Kind: pipeline.KindInternal, Message: "internal error"}))
	}

	h.logger.Debug("tools/call complete", "tool_name", params.Name, "request_id", resp.RequestID)
	return result(req.ID, MCPCallToolResult{
		Content:           []MCPContent{{Type: "text", Text: string(text)}},
		StructuredContent: out,
	})
}

func toolError(perr *pipeline.Error) MCPCallToolResult {
	body := map[string]any{"error": payloadFor(perr)}
	text, _ := json.Marshal(body)
	return MCPCallToolResult{
		Content:           []MCPContent{{Type: "text", Text: string(text)}},
		StructuredContent: body,
		IsError:           true,
	}
}

func (h *handler) resourcesList(req JSONRPCRequest) *JSONRPCResponse {
	return result(req.ID, MCPListResourcesResult{Resources: []MCPResource{{
		URI:         modelsResourceURI,
		Name:        "models",
		Description: "Models available on the backend. Read odoo://models/<model> for its fields.",
		MimeType:    resourceJSONMimeType,
	}}})
}

func (h *handler) resourcesRead(ctx context.Context, apiKey, frontDoor string, req JSONRPCRequest) *JSONRPCResponse {
	var params MCPReadResourceParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return rpcError(req.ID, JSONRPCInvalidParams, "uri is required", nil)
	}

	var (
		op    odoo.Operation
		shape func(*odoo.Result) map[string]any
	)
	switch {
	case params.URI == modelsResourceURI:
		op = odoo.Operation{Kind: odoo.KindListModels}
		shape = func(res *odoo.Result) map[string]any {
			return map[string]any{"models": nonNilRecords(res.Records)}
		}
	case strings.HasPrefix(params.URI, modelFieldsURIPrefix):
		model := strings.TrimPrefix(params.URI, modelFieldsURIPrefix)
		if !odoo.ValidModelName(model) {
			return rpcError(req.ID, JSONRPCInvalidParams, "invalid model in uri", nil)
		}
		op = fieldsOperation(model, nil)
		shape = valueShape("fields")
	default:
		return rpcError(req.ID, JSONRPCInvalidParams, "unknown resource", nil)
	}

	resp, perr := h.exec.Do(ctx, pipeline.Request{APIKey: apiKey, FrontDoor: frontDoor, Operation: op})
	if perr != nil {
		return rpcError(req.ID, JSONRPCServerError, perr.Message, payloadFor(perr))
	}

	text, err := json.Marshal(shape(resp.Result))
	if err != nil {
		return rpcError(req.ID, JSONRPCInternalError, "internal error", nil)
	}
	return result(req.ID, MCPReadResourceResult{Contents: []MCPResourceContents{{
		URI:      params.URI,
		MimeType: resourceJSONMimeType,
		Text:     string(text),
	}}})
}

func result(id json.RawMessage, v any) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: v}
}

func rpcError(id json.RawMessage, code int, message string, data any) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message, Data: data},
	}
}
