package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/capitalize-ai/chat-relay/internal/llm"
	"github.com/capitalize-ai/chat-relay/internal/model"
)

// ErrNoContent marks an inbound message with no content the relay can
// turn into text. Such messages are skipped.
var ErrNoContent = errors.New("message has no usable content")

// ContentResolver turns an inbound gateway message into the text the
// engine sees. Media is described by a vision model.
type ContentResolver struct {
	describer llm.Describer
}

// NewContentResolver creates a resolver. describer may be nil, in which
// case media without a caption is skipped.
func NewContentResolver(describer llm.Describer) *ContentResolver {
	return &ContentResolver{describer: describer}
}

// Resolve returns the message text. Text bodies win, then gifs, images
// and link previews, in that order.
func (r *ContentResolver) Resolve(ctx context.Context, msg *model.InboundMessage) (string, error) {
	switch {
	case msg.Text != nil && msg.Text.Body != "":
		return msg.Text.Body, nil

	case msg.Gif != nil && msg.Gif.Preview != "":
		text, err := r.describe(ctx, msg.Gif.Preview)
		if err != nil {
			return "", fmt.Errorf("describe gif: %w", err)
		}
		if msg.Gif.Caption != "" {
			text += " (" + msg.Gif.Caption + ")"
		}
		return text, nil

	case msg.Image != nil && msg.Image.Preview != "":
		text, err := r.describe(ctx, msg.Image.Preview)
		if err != nil {
			return "", fmt.Errorf("describe image: %w", err)
		}
		if msg.Image.Caption != "" {
			text += ". " + msg.Image.Caption
		}
		return text, nil

	case msg.LinkPreview != nil:
		lp := msg.LinkPreview
		text := lp.Title
		switch {
		case lp.Description != "":
			text += ". " + lp.Description
		case lp.Preview != "":
			desc, err := r.describe(ctx, lp.Preview)
			if err != nil {
				return "", fmt.Errorf("describe link preview: %w", err)
			}
			text += ". " + desc
		}
		if strings.TrimSpace(text) == "" {
			text = lp.Body
		}
		if strings.TrimSpace(text) == "" {
			return "", ErrNoContent
		}
		return text, nil
	}

	return "", ErrNoContent
}

func (r *ContentResolver) describe(ctx context.Context, url string) (string, error) {
	if r.describer == nil {
		return "", errors.New("no media describer configured")
	}
	return r.describer.DescribeImage(ctx, url)
}
