// ABOUTME: MCP Streamable HTTP transport for the bridge's tool and resource surface
// ABOUTME: Sessions are bound to the API key that initialized them and expire when idle

package mcp

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/2389/odoo-bridge/internal/auth"
	"github.com/2389/odoo-bridge/internal/pipeline"
)

// MaxRequestBodySize is the default limit for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// DefaultSessionIdleTimeout drops sessions unused for this long.
const DefaultSessionIdleTimeout = 30 * time.Minute

// mcpSession tracks an active MCP client session.
type mcpSession struct {
	id              string
	protocolVersion string
	keyID           string
	ownerDigest     string // sha256 of the API key that initialized the session
	createdAt       time.Time
}

// sessionStore keeps sessions in a go-cache with sliding expiry.
type sessionStore struct {
	sessions *cache.Cache
}

func newSessionStore(idle time.Duration) *sessionStore {
	return &sessionStore{sessions: cache.New(idle, idle/2)}
}

func (s *sessionStore) create(protocolVersion, keyID, ownerDigest string) *mcpSession {
	sess := &mcpSession{
		id:              uuid.New().String(),
		protocolVersion: protocolVersion,
		keyID:           keyID,
		ownerDigest:     ownerDigest,
		createdAt:       time.Now(),
	}
	s.sessions.SetDefault(sess.id, sess)
	return sess
}

// get returns the session and extends its idle deadline.
func (s *sessionStore) get(id string) (*mcpSession, bool) {
	v, ok := s.sessions.Get(id)
	if !ok {
		return nil, false
	}
	sess := v.(*mcpSession)
	s.sessions.SetDefault(id, sess)
	return sess, true
}

func (s *sessionStore) delete(id string) bool {
	_, existed := s.sessions.Get(id)
	s.sessions.Delete(id)
	return existed
}

func (s *sessionStore) count() int {
	return s.sessions.ItemCount()
}

// Config holds configuration for the MCP server.
type Config struct {
	Executor           Executor
	Logger             *slog.Logger
	MaxBodyBytes       int64
	SessionIdleTimeout time.Duration
	ServerName         string
	ServerVersion      string
	// AllowKeyInPath mounts /mcp/<api-key>. Off by default because the key
	// ends up in proxy and access logs.
	AllowKeyInPath bool
}

// Server implements MCP-compatible HTTP endpoints.
// Implements the MCP Streamable HTTP transport, protocol revision 2025-11-25.
type Server struct {
	handler   *handler
	logger    *slog.Logger
	maxBody   int64
	sessions  *sessionStore
	pathKeyed bool
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Executor == nil {
		return nil, errors.New("executor is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mcp")

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = MaxRequestBodySize
	}
	if cfg.SessionIdleTimeout <= 0 {
		cfg.SessionIdleTimeout = DefaultSessionIdleTimeout
	}

	if cfg.AllowKeyInPath {
		logger.Warn("API keys accepted in the URL path; they will appear in proxy and access logs")
	}

	return &Server{
		handler:   newHandler(cfg.Executor, logger, cfg.ServerName, cfg.ServerVersion),
		logger:    logger,
		maxBody:   cfg.MaxBodyBytes,
		sessions:  newSessionStore(cfg.SessionIdleTimeout),
		pathKeyed: cfg.AllowKeyInPath,
	}, nil
}

func newHandler(exec Executor, logger *slog.Logger, name, version string) *handler {
	if name == "" {
		name = defaultServerName
	}
	if version == "" {
		version = defaultServerVersion
	}
	return &handler{exec: exec, logger: logger, name: name, version: version}
}

// RegisterRoutes registers the MCP endpoint on the given ServeMux.
// /mcp takes the key in headers; /mcp/<key> is mounted only when enabled.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.handleMCP)
	if s.pathKeyed {
		mux.HandleFunc("/mcp/", s.handleMCP)
	}
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	return s.sessions.count()
}

// MCP Streamable HTTP transport.
// Streamable HTTP transport spec.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		// No server-initiated SSE streams
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleDelete terminates a session. Only the key that created it may end it.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}

	sess, ok := s.sessions.get(sessionID)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if digest(s.apiKey(r)) != sess.ownerDigest {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	s.sessions.delete(sessionID)
	s.logger.Info("MCP session terminated", "session_id", sessionID, "key_id", sess.keyID)
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes JSON-RPC messages sent via HTTP POST.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	protoVersion := r.Header.Get("Mcp-Protocol-Version")

	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBody+1))
	if err != nil {
		s.send(w, http.StatusOK, rpcError(nil, JSONRPCParseError, "failed to read request body", nil))
		return
	}
	if int64(len(body)) > s.maxBody {
		s.send(w, http.StatusRequestEntityTooLarge, rpcError(nil, JSONRPCInvalidRequest, "request body too large", nil))
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.send(w, http.StatusOK, rpcError(nil, JSONRPCParseError, "invalid JSON", nil))
		return
	}
	if req.JSONRPC != "2.0" {
		s.send(w, http.StatusOK, rpcError(req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil))
		return
	}

	isInitialize := req.Method == "initialize"
	apiKey := s.apiKey(r)

	if !isInitialize && protoVersion != "" && !supportedProtocolVersions[protoVersion] {
		http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
		return
	}

	if isInitialize {
		key, perr := s.handler.exec.Authenticate(r.Context(), apiKey)
		if perr != nil {
			s.send(w, perr.HTTPStatus(), rpcError(req.ID, JSONRPCServerError, perr.Message, payloadFor(perr)))
			return
		}
		sess := s.sessions.create(latestProtocolVersion, key.ID, digest(apiKey))
		s.logger.Info("MCP session created",
			"session_id", sess.id,
			"key_id", key.ID,
			"protocol_version", sess.protocolVersion,
		)
		w.Header().Set("Mcp-Session-Id", sess.id)
	} else {
		if sessionID == "" {
			http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
			return
		}
		sess, ok := s.sessions.get(sessionID)
		if !ok {
			// client must re-initialize
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		if digest(apiKey) != sess.ownerDigest {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	s.logger.Debug("MCP request",
		"method", req.Method,
		"is_notification", req.IsNotification(),
		"session_id", sessionID,
	)

	resp := s.handler.handle(r.Context(), apiKey, pipeline.FrontDoorMCP, req)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	s.send(w, http.StatusOK, resp)
}

// apiKey extracts the presented key from the path, X-API-Key or Authorization.
func (s *Server) apiKey(r *http.Request) string {
	if !s.pathKeyed {
		return auth.APIKeyFromRequest(r)
	}
	if pathKey := strings.TrimPrefix(r.URL.Path, "/mcp/"); pathKey != "" && pathKey != r.URL.Path {
		return strings.TrimRight(pathKey, "/")
	}
	return auth.APIKeyFromRequest(r)
}

func (s *Server) send(w http.ResponseWriter, status int, resp *JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}

func digest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
