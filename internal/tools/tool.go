// ABOUTME: Core tool types: definitions, handlers, packs, and call results.
// ABOUTME: Content supports both text and base64 image payloads.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidInput marks handler errors caused by bad caller input.
// The MCP layer maps these to JSON-RPC invalid-params errors.
var ErrInvalidInput = errors.New("invalid input")

// Definition describes a tool to MCP clients.
type Definition struct {
	Name                 string
	Description          string
	InputSchema          json.RawMessage
	RequiredCapabilities []string
	TimeoutSeconds       int
}

// Content is one element of a tool result, either text or an image.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Result is the outcome of a tool call.
type Result struct {
	Content []Content
	IsError bool
}

// TextResult builds a single-text result.
func TextResult(text string) *Result {
	return &Result{Content: []Content{{Type: "text", Text: text}}}
}

// Textf builds a single-text result from a format string.
func Textf(format string, args ...any) *Result {
	return TextResult(fmt.Sprintf(format, args...))
}

// JSONResult marshals v and wraps it as a text result.
func JSONResult(v any) (*Result, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return TextResult(string(data)), nil
}

// ImageResult builds a single-image result from base64 data.
func ImageResult(base64Data, mimeType string) *Result {
	return &Result{Content: []Content{{Type: "image", Data: base64Data, MimeType: mimeType}}}
}

// ErrorResult builds an isError text result for tool-level failures.
func ErrorResult(text string) *Result {
	return &Result{Content: []Content{{Type: "text", Text: text}}, IsError: true}
}

// Handler executes a tool. It receives the caller's subject and the tool
// input as JSON.
type Handler func(ctx context.Context, caller string, input json.RawMessage) (*Result, error)

// Tool pairs a definition with its handler.
type Tool struct {
	Definition *Definition
	Handler    Handler
}

// Pack is a named collection of tools registered together.
type Pack struct {
	ID    string
	Tools []*Tool
}
