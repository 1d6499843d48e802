// ABOUTME: Tests for the MCP Streamable HTTP server.
// ABOUTME: Covers the handshake, sessions, auth, capability gating, and error mapping.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/puch-mcp/internal/auth"
	"github.com/2389/puch-mcp/internal/dedupe"
	"github.com/2389/puch-mcp/internal/store"
	"github.com/2389/puch-mcp/internal/tools"
)

const (
	testToken       = "test-service-token"
	limitedToken    = "limited-token"
	testPhoneNumber = "919876543210"
)

// fakeVerifier maps raw tokens to identities.
type fakeVerifier map[string]*auth.Identity

func (f fakeVerifier) Verify(token string) (*auth.Identity, error) {
	if id, ok := f[token]; ok {
		return id, nil
	}
	return nil, auth.ErrInvalidToken
}

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	registry := tools.NewRegistry(testLogger())
	err := registry.RegisterPack(&tools.Pack{
		ID: "builtin:test",
		Tools: []*tools.Tool{
			{
				Definition: &tools.Definition{
					Name:                 "validate",
					Description:          "Return the owner's number",
					InputSchema:          json.RawMessage(`{"type":"object"}`),
					RequiredCapabilities: []string{"validate"},
				},
				Handler: func(ctx context.Context, caller string, input json.RawMessage) (*tools.Result, error) {
					return tools.TextResult(testPhoneNumber), nil
				},
			},
			{
				Definition: &tools.Definition{
					Name:                 "echo_image",
					Description:          "Return a tiny image",
					InputSchema:          json.RawMessage(`{"type":"object"}`),
					RequiredCapabilities: []string{"image"},
				},
				Handler: func(ctx context.Context, caller string, input json.RawMessage) (*tools.Result, error) {
					return tools.ImageResult("aGk=", "image/png"), nil
				},
			},
			{
				Definition: &tools.Definition{
					Name:                 "always_fails",
					Description:          "Fails at the tool level",
					InputSchema:          json.RawMessage(`{"type":"object"}`),
					RequiredCapabilities: []string{"validate"},
				},
				Handler: func(ctx context.Context, caller string, input json.RawMessage) (*tools.Result, error) {
					return nil, fmt.Errorf("backend unavailable")
				},
			},
			{
				Definition: &tools.Definition{
					Name:                 "picky",
					Description:          "Rejects its input",
					InputSchema:          json.RawMessage(`{"type":"object"}`),
					RequiredCapabilities: []string{"validate"},
				},
				Handler: func(ctx context.Context, caller string, input json.RawMessage) (*tools.Result, error) {
					return nil, fmt.Errorf("%w: field missing", tools.ErrInvalidInput)
				},
			},
		},
	})
	require.NoError(t, err)
	return registry
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testHarness struct {
	server *Server
	mux    *http.ServeMux
}

func newTestHarness(t *testing.T, opts ...func(*Config)) *testHarness {
	t.Helper()
	registry := testRegistry(t)
	router := tools.NewRouter(tools.RouterConfig{Registry: registry, Logger: testLogger()})
	cfg := Config{
		Registry: registry,
		Router:   router,
		Logger:   testLogger(),
		Verifier: fakeVerifier{
			testToken:    {Subject: "service", Capabilities: []string{"*"}},
			limitedToken: {Subject: "limited", Capabilities: []string{"image"}},
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	server, err := NewServer(cfg)
	require.NoError(t, err)

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	return &testHarness{server: server, mux: mux}
}

// post sends a JSON-RPC request and returns the recorder.
func (h *testHarness) post(body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.mux.ServeHTTP(w, req)
	return w
}

func (h *testHarness) rpc(t *testing.T, id int, method string, params any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	msg := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		msg["params"] = params
	}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return h.post(string(raw), headers)
}

// initialize performs the handshake and returns the session ID.
func (h *testHarness) initialize(t *testing.T, token string) string {
	t.Helper()
	w := h.rpc(t, 1, "initialize", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, w.Code)

	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Nil(t, resp.Error, "initialize failed: %+v", resp.Error)

	sessionID := w.Header().Get("Mcp-Session-Id")
	require.NotEmpty(t, sessionID)
	return sessionID
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) JSONRPCResponse {
	t.Helper()
	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestInitialize_NoAuth(t *testing.T) {
	h := newTestHarness(t)
	w := h.rpc(t, 1, "initialize", nil, nil)

	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCInvalidRequest, resp.Error.Code)
}

func TestInitialize_WrongToken(t *testing.T) {
	h := newTestHarness(t)
	w := h.rpc(t, 1, "initialize", nil, map[string]string{"Authorization": "Bearer nope"})

	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCInvalidRequest, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "invalid or expired token")
}

func TestInitialize_Success(t *testing.T) {
	h := newTestHarness(t)
	w := h.rpc(t, 1, "initialize", nil, map[string]string{"Authorization": "Bearer " + testToken})

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("Mcp-Session-Id"))

	resp := decodeResponse(t, w)
	require.Nil(t, resp.Error)

	result := resp.Result.(map[string]any)
	assert.Equal(t, latestProtocolVersion, result["protocolVersion"])
	serverInfo := result["serverInfo"].(map[string]any)
	assert.Equal(t, ServerName, serverInfo["name"])
}

func TestToolsList_WildcardSeesAll(t *testing.T) {
	h := newTestHarness(t)
	sessionID := h.initialize(t, testToken)

	w := h.rpc(t, 2, "tools/list", nil, map[string]string{"Mcp-Session-Id": sessionID})
	resp := decodeResponse(t, w)
	require.Nil(t, resp.Error)

	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result MCPListToolsResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Len(t, result.Tools, 4)
}

func TestToolsList_FilteredByCapabilities(t *testing.T) {
	h := newTestHarness(t)
	sessionID := h.initialize(t, limitedToken)

	w := h.rpc(t, 2, "tools/list", nil, map[string]string{"Mcp-Session-Id": sessionID})
	resp := decodeResponse(t, w)
	require.Nil(t, resp.Error)

	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result MCPListToolsResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "echo_image", result.Tools[0].Name)
}

func TestToolsCall_TextResult(t *testing.T) {
	h := newTestHarness(t)
	sessionID := h.initialize(t, testToken)

	w := h.rpc(t, 3, "tools/call", MCPCallToolParams{Name: "validate"},
		map[string]string{"Mcp-Session-Id": sessionID})
	resp := decodeResponse(t, w)
	require.Nil(t, resp.Error)

	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result MCPCallToolResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Content, 1)
	assert.Equal(t, "text", result.Content[0].Type)
	assert.Equal(t, testPhoneNumber, result.Content[0].Text)
	assert.False(t, result.IsError)
}

func TestToolsCall_ImageResult(t *testing.T) {
	h := newTestHarness(t)
	sessionID := h.initialize(t, testToken)

	w := h.rpc(t, 3, "tools/call", MCPCallToolParams{Name: "echo_image"},
		map[string]string{"Mcp-Session-Id": sessionID})
	resp := decodeResponse(t, w)
	require.Nil(t, resp.Error)

	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result MCPCallToolResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Content, 1)
	assert.Equal(t, "image", result.Content[0].Type)
	assert.Equal(t, "aGk=", result.Content[0].Data)
	assert.Equal(t, "image/png", result.Content[0].MimeType)
}

func TestToolsCall_InsufficientCapabilities(t *testing.T) {
	h := newTestHarness(t)
	sessionID := h.initialize(t, limitedToken)

	w := h.rpc(t, 3, "tools/call", MCPCallToolParams{Name: "validate"},
		map[string]string{"Mcp-Session-Id": sessionID})
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCInvalidRequest, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "insufficient capabilities")
}

func TestToolsCall_UnknownTool(t *testing.T) {
	h := newTestHarness(t)
	sessionID := h.initialize(t, testToken)

	w := h.rpc(t, 3, "tools/call", MCPCallToolParams{Name: "no_such_tool"},
		map[string]string{"Mcp-Session-Id": sessionID})
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCInvalidParams, resp.Error.Code)
}

func TestToolsCall_MissingName(t *testing.T) {
	h := newTestHarness(t)
	sessionID := h.initialize(t, testToken)

	w := h.rpc(t, 3, "tools/call", map[string]any{}, map[string]string{"Mcp-Session-Id": sessionID})
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCInvalidParams, resp.Error.Code)
}

func TestToolsCall_InvalidInputMapsToInvalidParams(t *testing.T) {
	h := newTestHarness(t)
	sessionID := h.initialize(t, testToken)

	w := h.rpc(t, 3, "tools/call", MCPCallToolParams{Name: "picky"},
		map[string]string{"Mcp-Session-Id": sessionID})
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCInvalidParams, resp.Error.Code)
}

func TestToolsCall_ToolErrorBecomesIsError(t *testing.T) {
	h := newTestHarness(t)
	sessionID := h.initialize(t, testToken)

	w := h.rpc(t, 3, "tools/call", MCPCallToolParams{Name: "always_fails"},
		map[string]string{"Mcp-Session-Id": sessionID})
	resp := decodeResponse(t, w)
	require.Nil(t, resp.Error)

	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result MCPCallToolResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "backend unavailable")
}

func TestNotifications_Accepted(t *testing.T) {
	h := newTestHarness(t)
	sessionID := h.initialize(t, testToken)

	w := h.post(`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		map[string]string{"Mcp-Session-Id": sessionID})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestPost_MissingSession(t *testing.T) {
	h := newTestHarness(t)
	w := h.rpc(t, 2, "tools/list", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPost_UnknownSession(t *testing.T) {
	h := newTestHarness(t)
	w := h.rpc(t, 2, "tools/list", nil, map[string]string{"Mcp-Session-Id": "bogus"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPost_UnsupportedProtocolVersion(t *testing.T) {
	h := newTestHarness(t)
	sessionID := h.initialize(t, testToken)

	w := h.rpc(t, 2, "tools/list", nil, map[string]string{
		"Mcp-Session-Id":       sessionID,
		"Mcp-Protocol-Version": "1999-01-01",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPost_SupportedProtocolVersions(t *testing.T) {
	h := newTestHarness(t)
	for _, version := range []string{"2025-03-26", "2025-11-25"} {
		sessionID := h.initialize(t, testToken)
		w := h.rpc(t, 2, "tools/list", nil, map[string]string{
			"Mcp-Session-Id":       sessionID,
			"Mcp-Protocol-Version": version,
		})
		assert.Equal(t, http.StatusOK, w.Code, version)
	}
}

func TestPost_ParseError(t *testing.T) {
	h := newTestHarness(t)
	w := h.post(`{not json`, nil)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCParseError, resp.Error.Code)
}

func TestPost_WrongJSONRPCVersion(t *testing.T) {
	h := newTestHarness(t)
	w := h.post(`{"jsonrpc":"1.0","id":1,"method":"initialize"}`, nil)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCInvalidRequest, resp.Error.Code)
}

func TestPost_BodyTooLarge(t *testing.T) {
	h := newTestHarness(t)
	huge := bytes.Repeat([]byte("x"), MaxRequestBodySize+10)
	w := h.post(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"pad":"`+string(huge)+`"}}`, nil)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCInvalidRequest, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "too large")
}

func TestPost_MethodNotFound(t *testing.T) {
	h := newTestHarness(t)
	sessionID := h.initialize(t, testToken)

	w := h.rpc(t, 2, "resources/list", nil, map[string]string{"Mcp-Session-Id": sessionID})
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCMethodNotFound, resp.Error.Code)
}

func TestGet_MethodNotAllowed(t *testing.T) {
	h := newTestHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	w := httptest.NewRecorder()
	h.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestDelete_TerminatesOwnSession(t *testing.T) {
	h := newTestHarness(t)
	sessionID := h.initialize(t, testToken)

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set("Mcp-Session-Id", sessionID)
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	h.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Session is gone
	listResp := h.rpc(t, 2, "tools/list", nil, map[string]string{"Mcp-Session-Id": sessionID})
	assert.Equal(t, http.StatusNotFound, listResp.Code)
}

func TestDelete_WrongOwnerForbidden(t *testing.T) {
	h := newTestHarness(t)
	sessionID := h.initialize(t, testToken)

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set("Mcp-Session-Id", sessionID)
	req.Header.Set("Authorization", "Bearer "+limitedToken)
	w := httptest.NewRecorder()
	h.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDelete_MissingSessionHeader(t *testing.T) {
	h := newTestHarness(t)
	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	w := httptest.NewRecorder()
	h.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDedupe_DuplicateRequestIDRejected(t *testing.T) {
	cache := dedupe.New(time.Minute, 100)
	defer cache.Close()

	h := newTestHarness(t, func(cfg *Config) { cfg.Dedupe = cache })
	sessionID := h.initialize(t, testToken)

	headers := map[string]string{"Mcp-Session-Id": sessionID}
	first := h.rpc(t, 7, "tools/list", nil, headers)
	require.Nil(t, decodeResponse(t, first).Error)

	second := h.rpc(t, 7, "tools/list", nil, headers)
	resp := decodeResponse(t, second)
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "duplicate request ID")
}

// recordingUsage captures usage records in memory.
type recordingUsage struct {
	records []*store.ToolUsage
}

func (r *recordingUsage) RecordToolUsage(ctx context.Context, u *store.ToolUsage) error {
	r.records = append(r.records, u)
	return nil
}

func TestToolsCall_RecordsUsage(t *testing.T) {
	usage := &recordingUsage{}
	h := newTestHarness(t, func(cfg *Config) { cfg.Usage = usage })
	sessionID := h.initialize(t, testToken)

	h.rpc(t, 3, "tools/call", MCPCallToolParams{Name: "validate"},
		map[string]string{"Mcp-Session-Id": sessionID})
	h.rpc(t, 4, "tools/call", MCPCallToolParams{Name: "always_fails"},
		map[string]string{"Mcp-Session-Id": sessionID})

	require.Len(t, usage.records, 2)
	assert.Equal(t, "validate", usage.records[0].ToolName)
	assert.Equal(t, "service", usage.records[0].Caller)
	assert.False(t, usage.records[0].IsError)
	assert.Equal(t, "always_fails", usage.records[1].ToolName)
	assert.True(t, usage.records[1].IsError)
}

func TestExpiredSessionRejected(t *testing.T) {
	h := newTestHarness(t)
	sessionID := h.initialize(t, testToken)

	sess, ok := h.server.sessions.get(sessionID)
	require.True(t, ok)
	sess.createdAt = time.Now().Add(-2 * sessionTTL)

	w := h.rpc(t, 2, "tools/list", nil, map[string]string{"Mcp-Session-Id": sessionID})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// The expired entry is dropped from the store
	_, ok = h.server.sessions.get(sessionID)
	assert.False(t, ok)
}

func TestSessionStore_CapEvictsOldest(t *testing.T) {
	s := newSessionStore()
	s.max = 2

	oldest := s.create("2025-11-25", "a", nil, "")
	oldest.createdAt = time.Now().Add(-time.Minute)
	second := s.create("2025-11-25", "b", nil, "")
	third := s.create("2025-11-25", "c", nil, "")

	_, ok := s.get(oldest.id)
	assert.False(t, ok)
	_, ok = s.get(second.id)
	assert.True(t, ok)
	_, ok = s.get(third.id)
	assert.True(t, ok)
}

func TestSessionStore_SweepsExpiredBeforeEvicting(t *testing.T) {
	s := newSessionStore()
	s.max = 2

	expired := s.create("2025-11-25", "a", nil, "")
	expired.createdAt = time.Now().Add(-2 * sessionTTL)
	live := s.create("2025-11-25", "b", nil, "")
	newest := s.create("2025-11-25", "c", nil, "")

	// The expired session is reaped; live ones are untouched
	_, ok := s.get(expired.id)
	assert.False(t, ok)
	_, ok = s.get(live.id)
	assert.True(t, ok)
	_, ok = s.get(newest.id)
	assert.True(t, ok)
}

func TestNewServer_Validation(t *testing.T) {
	registry := testRegistry(t)
	router := tools.NewRouter(tools.RouterConfig{Registry: registry, Logger: testLogger()})
	verifier := fakeVerifier{}

	_, err := NewServer(Config{Router: router, Verifier: verifier})
	assert.Error(t, err)

	_, err = NewServer(Config{Registry: registry, Verifier: verifier})
	assert.Error(t, err)

	_, err = NewServer(Config{Registry: registry, Router: router})
	assert.Error(t, err)
}
