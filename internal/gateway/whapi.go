// Package gateway is the outbound client for the Whapi messaging gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

// EmptyGroupParticipants is reported for groups whose participant list
// comes back empty.
const EmptyGroupParticipants = 5

// Client calls the Whapi REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a gateway client.
func NewClient(baseURL, token string, httpClient *http.Client, log *logger.Logger) (*Client, error) {
	if token == "" {
		return nil, errors.New("Whapi token is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
		logger:     log.Named("whapi"),
	}, nil
}

// SendMessage posts a text message to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	body := map[string]string{"to": chatID, "body": text}
	if err := c.do(ctx, http.MethodPost, "/messages/text", body, nil); err != nil {
		return fmt.Errorf("send message to %s: %w", chatID, err)
	}
	c.logger.Debug("message sent", zap.String("chat_id", chatID))
	return nil
}

// React puts an emoji reaction on a message.
func (c *Client) React(ctx context.Context, messageID, emoji string) error {
	body := map[string]string{"emoji": emoji}
	if err := c.do(ctx, http.MethodPut, "/messages/"+url.PathEscape(messageID)+"/reaction", body, nil); err != nil {
		return fmt.Errorf("react to %s: %w", messageID, err)
	}
	return nil
}

// SendTyping shows the typing indicator in a chat.
func (c *Client) SendTyping(ctx context.Context, chatID string) error {
	body := map[string]any{"presence": "typing", "delay": 5}
	if err := c.do(ctx, http.MethodPut, "/presences/"+url.PathEscape(chatID), body, nil); err != nil {
		return fmt.Errorf("typing in %s: %w", chatID, err)
	}
	return nil
}

type groupInfo struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Participants []model.Participant `json:"participants"`
}

// ParticipantCount looks up the number of members of a chat. Direct chats
// always have two.
func (c *Client) ParticipantCount(ctx context.Context, chatID string) (int, error) {
	if !model.IsGroupID(chatID) {
		return model.DirectParticipantCount, nil
	}

	var info groupInfo
	if err := c.do(ctx, http.MethodGet, "/groups/"+url.PathEscape(chatID), nil, &info); err != nil {
		return 0, fmt.Errorf("get group %s: %w", chatID, err)
	}

	n := len(info.Participants)
	if n == 0 {
		n = EmptyGroupParticipants
	}
	c.logger.Debug("group participants", zap.String("chat_id", chatID), zap.Int("count", n))
	return n, nil
}

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whapi status %d: %s", e.StatusCode, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
