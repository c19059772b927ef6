package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	describePrompt      = "Describe what this image shows in as few words as possible."
	fallbackDescription = "image"
)

// AnthropicDescriber describes images with a Claude model.
type AnthropicDescriber struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicDescriber creates an image describer. Extra request options
// (base URL, HTTP client) are passed through to the SDK.
func NewAnthropicDescriber(apiKey string, opts ...option.RequestOption) (*AnthropicDescriber, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)

	return &AnthropicDescriber{
		client: anthropic.NewClient(opts...),
		model:  anthropic.ModelClaude3_5HaikuLatest,
	}, nil
}

// DescribeImage returns a short description of the image. Data URLs are
// sent inline, anything else by reference.
func (d *AnthropicDescriber) DescribeImage(ctx context.Context, imageURL string) (string, error) {
	var image anthropic.ContentBlockParamUnion
	if mediaType, data, ok := parseDataURL(imageURL); ok {
		image = anthropic.NewImageBlockBase64(mediaType, data)
	} else {
		image = anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: imageURL})
	}

	resp, err := d.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     d.model,
		MaxTokens: 128,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(image, anthropic.NewTextBlock(describePrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("describe image: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if s := strings.TrimSpace(text.String()); s != "" {
		return s, nil
	}
	return fallbackDescription, nil
}

// parseDataURL splits "data:image/jpeg;base64,<data>".
func parseDataURL(u string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(u, "data:")
	if !found {
		return "", "", false
	}
	meta, data, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mediaType, encoding, _ := strings.Cut(meta, ";")
	if encoding != "base64" || mediaType == "" {
		return "", "", false
	}
	return mediaType, data, true
}
