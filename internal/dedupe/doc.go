// Package dedupe provides a time-based, size-bounded cache used to reject
// replayed JSON-RPC request IDs and to memoize fetched web content.
package dedupe
