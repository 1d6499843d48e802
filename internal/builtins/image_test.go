// ABOUTME: Tests for the image pack grayscale conversion.
// ABOUTME: Round-trips a generated PNG through the tool and inspects the output.

package builtins

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/puch-mcp/internal/tools"
)

func testImageBase64(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 1, color.RGBA{G: 255, A: 255})
	img.Set(2, 2, color.RGBA{B: 255, A: 255})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func callImageTool(t *testing.T, input map[string]any) (*tools.Result, error) {
	t.Helper()
	raw, err := json.Marshal(input)
	require.NoError(t, err)
	return makeBlackAndWhite(context.Background(), "service", raw)
}

func TestMakeBlackAndWhite_ReturnsGrayscalePNG(t *testing.T) {
	result, err := callImageTool(t, map[string]any{"puch_image_data": testImageBase64(t)})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)

	content := result.Content[0]
	assert.Equal(t, "image", content.Type)
	assert.Equal(t, "image/png", content.MimeType)

	decoded, err := base64.StdEncoding.DecodeString(content.Data)
	require.NoError(t, err)

	out, err := png.Decode(bytes.NewReader(decoded))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 4), out.Bounds())

	// Every pixel must be gray
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			r, g, b, _ := out.At(x, y).RGBA()
			assert.Equal(t, r, g)
			assert.Equal(t, g, b)
		}
	}
}

func TestMakeBlackAndWhite_MissingData(t *testing.T) {
	_, err := callImageTool(t, map[string]any{})
	require.ErrorIs(t, err, tools.ErrInvalidInput)
}

func TestMakeBlackAndWhite_BadBase64(t *testing.T) {
	_, err := callImageTool(t, map[string]any{"puch_image_data": "not-base64!!!"})
	require.ErrorIs(t, err, tools.ErrInvalidInput)
}

func TestMakeBlackAndWhite_NotAnImage(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte("plain text"))
	_, err := callImageTool(t, map[string]any{"puch_image_data": data})
	require.ErrorIs(t, err, tools.ErrInvalidInput)
}
