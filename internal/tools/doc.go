// Package tools provides the tool registry and call router for puch-mcp.
//
// # Overview
//
// Every tool executes in-process. Tools are grouped into packs, registered at
// startup, and exposed to MCP clients whose capabilities cover the tool's
// requirements.
//
// # Architecture
//
//   - Definition: name, description, JSON Schema input, required capabilities
//   - Pack: a named collection of tools with handlers
//   - Registry: collision-checked lookup and capability filtering
//   - Router: dispatch with per-tool timeouts and error classification
//
// # Capabilities
//
// A caller's capability set comes from its bearer token. The static service
// token carries the wildcard "*", which passes every check. Minted client
// tokens can be scoped to individual packs ("jobs", "resume", ...).
//
// # Errors
//
// Handlers signal caller mistakes by wrapping ErrInvalidInput; those surface
// as JSON-RPC invalid-params errors. Any other handler error is reported as
// an isError tool result, matching MCP semantics for tool-level failures.
package tools
