// Package auth implements bearer-token authentication for the MCP endpoint.
//
// Three verifier flavors compose through the TokenVerifier interface:
//
//   - StaticVerifier: the AUTH_TOKEN service token, compared in constant time.
//   - JWTVerifier: HS256 tokens minted via "puch-mcp token" for extra clients.
//   - RecordVerifier: tokens persisted as bcrypt hashes in the store.
//
// MultiVerifier tries each in order, so a deployment can start with just the
// static token and grow into per-client credentials without config changes.
package auth
