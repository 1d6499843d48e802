// Package gateway wires the server together: SQLite store, token verifier
// chain, builtin tool packs, and the MCP HTTP endpoint, then manages the
// listener lifecycle.
//
// The gateway serves plain TCP by default. With tailscale enabled it joins a
// tailnet via tsnet instead, and with funnel enabled the MCP endpoint is
// published to the public internet over HTTPS, which is how clients outside
// the tailnet (like Puch) reach this server without a separate tunnel.
//
// Health endpoints:
//
//   - GET /health - liveness, always 200 while the process serves
//   - GET /health/ready - readiness: store reachable and tools registered
package gateway
