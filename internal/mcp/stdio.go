// ABOUTME: MCP stdio transport for clients that launch the bridge as a subprocess
// ABOUTME: Reads newline-delimited JSON-RPC from a reader and answers on a writer with a fixed API key

package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/2389/odoo-bridge/internal/pipeline"
)

// maxStdioLine bounds one JSON-RPC message on stdin.
const maxStdioLine = 4 << 20

// StdioConfig configures ServeStdio.
type StdioConfig struct {
	Executor      Executor
	APIKey        string
	Logger        *slog.Logger
	ServerName    string
	ServerVersion string
}

// ServeStdio answers requests read from in until in is exhausted or ctx ends.
// Every operation runs through the pipeline with cfg.APIKey, so stdio
// clients are rate limited and logged like HTTP clients.
func ServeStdio(ctx context.Context, in io.Reader, out io.Writer, cfg StdioConfig) error {
	if cfg.Executor == nil {
		return errors.New("executor is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mcp-stdio")
	h := newHandler(cfg.Executor, logger, cfg.ServerName, cfg.ServerVersion)

	lines, readErr := readLines(ctx, in)
	enc := json.NewEncoder(out)

	for {
		var line []byte
		select {
		case <-ctx.Done():
			// The reader goroutine stays parked on in until it closes.
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				return <-readErr
			}
			line = l
		}
		if len(line) == 0 {
			continue
		}

		resp := handleStdioLine(ctx, h, cfg.APIKey, line)
		if resp == nil {
			continue
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
}

// readLines scans in on its own goroutine so an idle stdin cannot hold the
// serve loop past cancellation. readErr receives exactly one value after
// lines is closed.
func readLines(ctx context.Context, in io.Reader) (<-chan []byte, <-chan error) {
	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), maxStdioLine)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				readErr <- ctx.Err()
				return
			}
		}
		if err := scanner.Err(); err != nil {
			readErr <- fmt.Errorf("reading stdin: %w", err)
			return
		}
		readErr <- nil
	}()
	return lines, readErr
}

func handleStdioLine(ctx context.Context, h *handler, apiKey string, line []byte) *JSONRPCResponse {
	var req JSONRPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return rpcError(nil, JSONRPCParseError, "invalid JSON", nil)
	}
	if req.JSONRPC != "2.0" {
		return rpcError(req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil)
	}

	if req.Method == "initialize" {
		if _, perr := h.exec.Authenticate(ctx, apiKey); perr != nil {
			return rpcError(req.ID, JSONRPCServerError, perr.Message, payloadFor(perr))
		}
	}
	return h.handle(ctx, apiKey, pipeline.FrontDoorMCP, req)
}
