// ABOUTME: Store interface and data types for puch-mcp persistence
// ABOUTME: Covers resumes, API token records, and tool usage accounting

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/puch-mcp/internal/auth"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("not found")

// Resume is a stored resume document, markdown or LaTeX source.
type Resume struct {
	ID         string    `json:"id"`
	Owner      string    `json:"owner"`
	Name       string    `json:"name"`
	Content    string    `json:"content"`
	TargetRole string    `json:"target_role,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ToolUsage is one recorded tool invocation.
type ToolUsage struct {
	ID        string        `json:"id"`
	ToolName  string        `json:"tool_name"`
	Caller    string        `json:"caller"`
	IsError   bool          `json:"is_error"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// UsageSummaryRow aggregates usage per tool.
type UsageSummaryRow struct {
	ToolName string `json:"tool_name"`
	Calls    int    `json:"calls"`
	Errors   int    `json:"errors"`
}

// ResumeStore provides resume persistence for the resume tool pack.
type ResumeStore interface {
	SaveResume(ctx context.Context, r *Resume) error
	GetResume(ctx context.Context, owner, name string) (*Resume, error)
	ListResumes(ctx context.Context, owner string) ([]*Resume, error)
	DeleteResume(ctx context.Context, owner, name string) error
}

// UsageStore records tool invocations for the usage audit log.
type UsageStore interface {
	RecordToolUsage(ctx context.Context, u *ToolUsage) error
	UsageSummary(ctx context.Context, since time.Time) ([]UsageSummaryRow, error)
}

// TokenStore manages persisted API token records.
type TokenStore interface {
	auth.TokenRecordStore
	CreateTokenRecord(ctx context.Context, rec *auth.TokenRecord) error
	DeleteTokenRecord(ctx context.Context, name string) error
}

// Store is the complete persistence interface.
type Store interface {
	ResumeStore
	UsageStore
	TokenStore

	// Ping verifies the underlying database is reachable (readiness checks).
	Ping(ctx context.Context) error
	Close() error
}
