// Package mcp implements the Model Context Protocol server for tool access.
//
// # Overview
//
// MCP (Model Context Protocol) is a standard for AI tool integration. This
// package provides an MCP-compatible HTTP server that exposes the builtin
// tool packs to MCP clients (Puch, Claude Desktop, or custom applications).
//
// # Protocol
//
// The server implements the Streamable HTTP transport: JSON-RPC 2.0 over
// HTTP POST to a single endpoint.
//
//   - POST /mcp - JSON-RPC requests (initialize, tools/list, tools/call)
//   - DELETE /mcp - terminate a session
//   - GET /mcp - 405, server-initiated streams are not supported
//
// # Authentication
//
// The server uses bearer token authentication on initialize:
//
//	Authorization: Bearer <token>
//
// Tokens are checked by an auth.TokenVerifier and yield an Identity with
// capabilities. The session created by initialize inherits those capabilities
// and is bound to the token that created it; only tools matching the
// session's capabilities are listed and callable.
//
// # Sessions
//
// A successful initialize returns an Mcp-Session-Id header. Clients send it
// back on every subsequent request. Requests without a valid session get 400
// or 404 and must re-initialize. DELETE with the session ID and the original
// bearer token terminates the session.
//
// # Tool Execution
//
// Clients call tools/call to execute a tool:
//
//	{
//	  "jsonrpc": "2.0",
//	  "method": "tools/call",
//	  "params": {
//	    "name": "job_finder",
//	    "arguments": {"user_goal": "find remote golang jobs"}
//	  },
//	  "id": 2
//	}
//
// Tool-level failures come back as isError results; transport-level failures
// (unknown tool, bad input, timeout) come back as JSON-RPC errors.
//
// # Usage
//
// Create the server and mount it:
//
//	server, err := mcp.NewServer(mcp.Config{
//	    Registry: registry,
//	    Router:   router,
//	    Verifier: verifier,
//	})
//	server.RegisterRoutes(mux)
package mcp
