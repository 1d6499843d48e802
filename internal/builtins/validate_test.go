// ABOUTME: Tests for the validate pack.
// ABOUTME: The tool must return the configured number exactly.

package builtins

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePack_ReturnsNumber(t *testing.T) {
	pack := ValidatePack("919876543210")
	require.Len(t, pack.Tools, 1)

	tool := pack.Tools[0]
	assert.Equal(t, "validate", tool.Definition.Name)
	assert.Equal(t, []string{"validate"}, tool.Definition.RequiredCapabilities)

	result, err := tool.Handler(context.Background(), "service", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "919876543210", result.Content[0].Text)
	assert.False(t, result.IsError)
}
