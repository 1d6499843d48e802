// ABOUTME: Image pack converts base64 images to grayscale PNG.
// ABOUTME: Requires the "image" capability.

package builtins

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	// Register decoders for the formats clients send.
	_ "image/gif"
	_ "image/jpeg"

	"github.com/2389/puch-mcp/internal/tools"
)

// ImagePack creates the image pack with the black-and-white converter.
func ImagePack() *tools.Pack {
	return &tools.Pack{
		ID: "builtin:image",
		Tools: []*tools.Tool{
			{
				Definition: &tools.Definition{
					Name:                 "make_img_black_and_white",
					Description:          "Convert an image to black and white and return it as a PNG",
					InputSchema:          json.RawMessage(`{"type":"object","properties":{"puch_image_data":{"type":"string","description":"Base64-encoded image data"}},"required":["puch_image_data"]}`),
					RequiredCapabilities: []string{"image"},
				},
				Handler: makeBlackAndWhite,
			},
		},
	}
}

func makeBlackAndWhite(ctx context.Context, caller string, input json.RawMessage) (*tools.Result, error) {
	var in struct {
		ImageData string `json:"puch_image_data"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", tools.ErrInvalidInput, err)
	}
	if in.ImageData == "" {
		return nil, fmt.Errorf("%w: puch_image_data is required", tools.ErrInvalidInput)
	}

	raw, err := base64.StdEncoding.DecodeString(in.ImageData)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding base64 image: %v", tools.ErrInvalidInput, err)
	}

	src, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding image: %v", tools.ErrInvalidInput, err)
	}

	gray := image.NewGray(src.Bounds())
	draw.Draw(gray, gray.Bounds(), src, src.Bounds().Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, fmt.Errorf("encoding %s image as png: %w", format, err)
	}

	return tools.ImageResult(base64.StdEncoding.EncodeToString(buf.Bytes()), "image/png"), nil
}
