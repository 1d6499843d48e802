// ABOUTME: Validate pack proves server ownership by returning the owner's number.
// ABOUTME: Requires the "validate" capability.

package builtins

import (
	"context"
	"encoding/json"

	"github.com/2389/puch-mcp/internal/tools"
)

// ValidatePack creates the validate pack. The single tool returns the
// configured phone number in {country_code}{number} format, which the
// connecting client compares against the account that issued the token.
func ValidatePack(myNumber string) *tools.Pack {
	return &tools.Pack{
		ID: "builtin:validate",
		Tools: []*tools.Tool{
			{
				Definition: &tools.Definition{
					Name:                 "validate",
					Description:          "Validate server ownership by returning the owner's phone number",
					InputSchema:          json.RawMessage(`{"type":"object","properties":{}}`),
					RequiredCapabilities: []string{"validate"},
				},
				Handler: func(ctx context.Context, caller string, input json.RawMessage) (*tools.Result, error) {
					return tools.TextResult(myNumber), nil
				},
			},
		},
	}
}
