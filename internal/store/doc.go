// Package store provides SQLite-backed persistence for puch-mcp: resume
// documents for the resume tool pack, bcrypt-hashed API token records, and
// the tool usage audit log. The schema is created automatically on first
// open and the database runs in WAL mode.
package store
