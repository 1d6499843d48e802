// ABOUTME: MCP-compatible HTTP server for clients like Puch and Claude Code.
// ABOUTME: Implements Streamable HTTP transport (spec 2025-11-25) with session management.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/puch-mcp/internal/auth"
	"github.com/2389/puch-mcp/internal/dedupe"
	"github.com/2389/puch-mcp/internal/store"
	"github.com/2389/puch-mcp/internal/tools"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2025-03-26": true,
	"2025-11-25": true,
}

// latestProtocolVersion is the version we advertise in initialize responses
const latestProtocolVersion = "2025-11-25"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// ServerName and ServerVersion identify this server in initialize responses.
const (
	ServerName    = "puch-mcp"
	ServerVersion = "1.0.0"
)

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// MCP-specific types

// MCPToolInfo represents an MCP tool definition.
type MCPToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// MCPListToolsResult is the result for tools/list.
type MCPListToolsResult struct {
	Tools []MCPToolInfo `json:"tools"`
}

// MCPCallToolParams are the params for tools/call.
type MCPCallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// MCPCallToolResult is the result for tools/call.
type MCPCallToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

// MCPContent represents content in a tool result, text or base64 image.
type MCPContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// mcpSession tracks an active MCP client session.
type mcpSession struct {
	id              string
	protocolVersion string
	subject         string
	capabilities    []string
	ownerToken      string // auth token used to verify session ownership on DELETE
	createdAt       time.Time
}

// Session bounds. Sessions live in memory only, so every initialize on a
// public endpoint grows the map; expired sessions are swept and the count is
// capped.
const (
	sessionTTL  = 24 * time.Hour
	maxSessions = 10000
)

// sessionStore manages active MCP sessions (in-memory).
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*mcpSession
	ttl      time.Duration
	max      int
}

func newSessionStore() *sessionStore {
	return &sessionStore{
		sessions: make(map[string]*mcpSession),
		ttl:      sessionTTL,
		max:      maxSessions,
	}
}

func (s *sessionStore) create(protocolVersion, subject string, caps []string, ownerToken string) *mcpSession {
	sess := &mcpSession{
		id:              uuid.New().String(),
		protocolVersion: protocolVersion,
		subject:         subject,
		capabilities:    caps,
		ownerToken:      ownerToken,
		createdAt:       time.Now(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) >= s.max {
		s.sweepExpiredLocked()
	}
	if len(s.sessions) >= s.max {
		s.evictOldestLocked()
	}
	s.sessions[sess.id] = sess
	return sess
}

func (s *sessionStore) get(id string) (*mcpSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if time.Since(sess.createdAt) > s.ttl {
		delete(s.sessions, id)
		return nil, false
	}
	return sess, true
}

func (s *sessionStore) sweepExpiredLocked() {
	cutoff := time.Now().Add(-s.ttl)
	for id, sess := range s.sessions {
		if sess.createdAt.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}

func (s *sessionStore) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, sess := range s.sessions {
		if oldestID == "" || sess.createdAt.Before(oldest) {
			oldestID = id
			oldest = sess.createdAt
		}
	}
	if oldestID != "" {
		delete(s.sessions, oldestID)
	}
}

func (s *sessionStore) delete(id string) bool {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	return existed
}

// UsageRecorder receives tool invocation records for the audit log.
type UsageRecorder interface {
	RecordToolUsage(ctx context.Context, u *store.ToolUsage) error
}

// Config holds configuration for the MCP server.
type Config struct {
	Registry *tools.Registry
	Router   *tools.Router
	Logger   *slog.Logger
	Verifier auth.TokenVerifier
	Usage    UsageRecorder // optional tool usage audit log
	Dedupe   *dedupe.Cache // optional request-id replay protection
}

// Server implements MCP-compatible HTTP endpoints.
// Conforms to MCP Streamable HTTP transport specification (2025-11-25).
type Server struct {
	registry *tools.Registry
	router   *tools.Router
	logger   *slog.Logger
	verifier auth.TokenVerifier
	usage    UsageRecorder
	dedupe   *dedupe.Cache
	sessions *sessionStore
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Router == nil {
		return nil, errors.New("router is required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("token verifier is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		registry: cfg.Registry,
		router:   cfg.Router,
		logger:   logger,
		verifier: cfg.Verifier,
		usage:    cfg.Usage,
		dedupe:   cfg.Dedupe,
		sessions: newSessionStore(),
	}, nil
}

// RegisterRoutes registers the MCP endpoint on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.handleMCP)
}

// handleMCP is the single MCP endpoint supporting POST, GET, and DELETE per the
// Streamable HTTP transport spec (2025-11-25).
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		// We don't support server-initiated SSE streams
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleDelete terminates a session per the Streamable HTTP spec.
// Verifies the caller owns the session to prevent unauthorized termination.
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

	// The DELETE request must carry the same bearer token as initialize
	if sess.ownerToken != "" {
		callerToken, _ := auth.ExtractBearerToken(r.Header.Get("Authorization"))
		if callerToken != sess.ownerToken {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	s.sessions.delete(sessionID)
	s.logger.Info("MCP session terminated", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes JSON-RPC messages sent via HTTP POST.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	protoVersion := r.Header.Get("Mcp-Protocol-Version")

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "failed to read request body", nil)
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendJSONRPCError(w, nil, JSONRPCInvalidRequest, "request body too large", nil)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "invalid JSON", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil)
		return
	}

	isInitialize := req.Method == "initialize"
	isNotification := len(req.ID) == 0 || string(req.ID) == "null"

	// Validate protocol version header (not required on initialize).
	// Per spec: server default assumption if missing is 2025-03-26.
	if !isInitialize && protoVersion != "" {
		if !supportedProtocolVersions[protoVersion] {
			http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
			return
		}
	}

	var sess *mcpSession
	if !isInitialize {
		// Non-initialize requests require a valid session
		if sessionID == "" {
			http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
			return
		}
		var ok bool
		sess, ok = s.sessions.get(sessionID)
		if !ok {
			// Session expired or invalid - client must re-initialize
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
	}

	s.logger.Debug("MCP request",
		"method", req.Method,
		"is_notification", isNotification,
		"session_id", sessionID,
	)

	// Handle notifications: accept and return HTTP 202 with no body
	if isNotification {
		if strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Debug("accepted MCP notification", "method", req.Method)
		} else {
			s.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	// Reject replayed request IDs within a session
	if sess != nil && s.dedupe != nil {
		if s.dedupe.CheckAndMark(sess.id + ":" + string(req.ID)) {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "duplicate request ID", nil)
			return
		}
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, r, req)
	case "tools/list":
		s.handleToolsList(w, req, sess)
	case "tools/call":
		s.handleToolsCall(w, r, req, sess)
	default:
		s.sendJSONRPCError(w, req.ID, JSONRPCMethodNotFound, "method not found", nil)
	}
}

// handleInitialize handles the MCP initialize handshake and creates a session.
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	token, errMsg := auth.ExtractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, errMsg, nil)
		return
	}

	identity, err := s.verifier.Verify(token)
	if err != nil {
		s.logger.Warn("initialize rejected", "error", err)
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "invalid or expired token", nil)
		return
	}

	sess := s.sessions.create(latestProtocolVersion, identity.Subject, identity.Capabilities, token)

	s.logger.Info("MCP session created",
		"session_id", sess.id,
		"subject", sess.subject,
		"protocol_version", sess.protocolVersion,
	)

	// Set the session ID header so the client can use it on subsequent requests
	w.Header().Set("Mcp-Session-Id", sess.id)

	result := map[string]any{
		"protocolVersion": latestProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    ServerName,
			"version": ServerVersion,
		},
	}
	s.sendJSONRPCResult(w, req.ID, result)
}

// handleToolsList handles tools/list requests, filtered to the session's
// capabilities.
func (s *Server) handleToolsList(w http.ResponseWriter, req JSONRPCRequest, sess *mcpSession) {
	defs := s.registry.GetToolsForCapabilities(sess.capabilities)

	result := MCPListToolsResult{
		Tools: make([]MCPToolInfo, len(defs)),
	}
	for i, def := range defs {
		result.Tools[i] = MCPToolInfo{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		}
	}

	s.logger.Debug("tools/list",
		"count", len(defs),
		"capabilities", sess.capabilities,
	)

	s.sendJSONRPCResult(w, req.ID, result)
}

// handleToolsCall handles tools/call requests.
func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request, req JSONRPCRequest, sess *mcpSession) {
	var params MCPCallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "invalid params", nil)
			return
		}
	}

	if params.Name == "" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool name is required", nil)
		return
	}

	toolDef := s.router.GetToolDefinition(params.Name)
	if toolDef == nil {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool not found", nil)
		return
	}

	if !tools.HasCapabilities(sess.capabilities, toolDef.RequiredCapabilities) {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "insufficient capabilities for this tool", nil)
		return
	}

	input := params.Arguments
	if len(input) == 0 || string(input) == "null" {
		input = json.RawMessage(`{}`)
	}

	s.logger.Debug("tools/call",
		"tool_name", params.Name,
		"session_id", sess.id,
	)

	start := time.Now()
	result, err := s.router.Execute(r.Context(), params.Name, sess.subject, input)
	s.recordUsage(params.Name, sess.subject, time.Since(start), err != nil || (result != nil && result.IsError))
	if err != nil {
		s.handleToolError(w, req.ID, params.Name, err)
		return
	}

	mcpResult := MCPCallToolResult{
		Content: make([]MCPContent, len(result.Content)),
		IsError: result.IsError,
	}
	for i, c := range result.Content {
		mcpResult.Content[i] = MCPContent{
			Type:     c.Type,
			Text:     c.Text,
			Data:     c.Data,
			MimeType: c.MimeType,
		}
	}

	s.logger.Debug("tools/call complete",
		"tool_name", params.Name,
		"is_error", mcpResult.IsError,
	)

	s.sendJSONRPCResult(w, req.ID, mcpResult)
}

// recordUsage writes a usage record when an audit store is configured.
func (s *Server) recordUsage(toolName, caller string, duration time.Duration, isError bool) {
	if s.usage == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.usage.RecordToolUsage(ctx, &store.ToolUsage{
		ToolName: toolName,
		Caller:   caller,
		IsError:  isError,
		Duration: duration,
	})
	if err != nil {
		s.logger.Warn("failed to record tool usage", "tool_name", toolName, "error", err)
	}
}

// handleToolError maps tool execution failures to JSON-RPC errors.
func (s *Server) handleToolError(w http.ResponseWriter, id json.RawMessage, toolName string, err error) {
	s.logger.Warn("tool execution failed",
		"tool_name", toolName,
		"error", err,
	)

	code := JSONRPCInternalError
	message := "tool execution failed"

	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		code = JSONRPCInvalidParams
		message = "tool not found"
	case errors.Is(err, tools.ErrInvalidInput):
		code = JSONRPCInvalidParams
		message = err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		message = "tool execution timed out"
	case errors.Is(err, context.Canceled):
		message = "request cancelled"
	}

	s.sendJSONRPCError(w, id, code, message, nil)
}

// sendJSONRPCResult sends a successful JSON-RPC response.
func (s *Server) sendJSONRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}

// sendJSONRPCError sends a JSON-RPC error response.
func (s *Server) sendJSONRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string, data any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC error response", "error", err)
	}
}
