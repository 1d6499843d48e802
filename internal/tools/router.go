// ABOUTME: Routes tool calls to registered handlers with timeouts.
// ABOUTME: Classifies handler failures into invalid-input vs tool-level errors.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// ErrToolNotFound indicates the requested tool is not registered.
var ErrToolNotFound = errors.New("tool not found")

// DefaultTimeout is the default timeout for tool execution.
const DefaultTimeout = 30 * time.Second

// Router dispatches tool calls to the registry's handlers.
type Router struct {
	registry *Registry
	logger   *slog.Logger
	timeout  time.Duration
}

// RouterConfig contains configuration options for the Router.
type RouterConfig struct {
	Registry *Registry
	Logger   *slog.Logger
	Timeout  time.Duration
}

// NewRouter creates a new Router with the given configuration.
func NewRouter(cfg RouterConfig) *Router {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Router{
		registry: cfg.Registry,
		logger:   cfg.Logger,
		timeout:  timeout,
	}
}

// Execute runs the named tool for the given caller.
//
// Handler errors wrapping ErrInvalidInput propagate as errors so the
// transport can reject the request; any other handler error becomes an
// isError Result per MCP tool semantics. Context cancellation and timeout
// propagate as errors.
func (r *Router) Execute(ctx context.Context, toolName, caller string, input json.RawMessage) (*Result, error) {
	tool := r.registry.GetTool(toolName)
	if tool == nil {
		r.logger.Debug("tool not found in registry", "tool_name", toolName)
		return nil, ErrToolNotFound
	}

	timeout := r.timeout
	if tool.Definition.TimeoutSeconds > 0 {
		timeout = time.Duration(tool.Definition.TimeoutSeconds) * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.logger.Info("→ dispatching tool call",
		"tool_name", toolName,
		"caller", caller,
	)

	result, err := tool.Handler(ctx, caller, input)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.logger.Warn("tool error",
			"tool_name", toolName,
			"caller", caller,
			"error", err,
		)
		return ErrorResult(err.Error()), nil
	}

	r.logger.Info("← tool responded",
		"tool_name", toolName,
		"caller", caller,
		"is_error", result.IsError,
	)
	return result, nil
}

// HasTool checks if a tool with the given name exists in the registry.
func (r *Router) HasTool(toolName string) bool {
	return r.registry.GetTool(toolName) != nil
}

// GetToolDefinition returns the tool definition for a given tool name.
// Returns nil if the tool is not found.
func (r *Router) GetToolDefinition(toolName string) *Definition {
	return r.registry.GetToolDefinition(toolName)
}
