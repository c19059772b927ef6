package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
)

const (
	defaultTranscriptCapacity = 1024

	// maxTranscriptMessages bounds the context replayed per conversation.
	maxTranscriptMessages = 200
)

// ChatClient implements the turn protocol on Chat Completions. The API is
// stateless, so the client keeps the transcript behind the latest turn id
// of each conversation in a bounded in-process cache. Continuing from an id
// consumes it; an evicted, consumed or unknown id is a stale continuation.
type ChatClient struct {
	client *openai.Client
	model  string

	mu          sync.Mutex
	transcripts map[string][]openai.ChatCompletionMessage
	order       []string
	capacity    int
}

// NewChatClient creates a Chat Completions backend.
func NewChatClient(apiKey, baseURL, model string) (*ChatClient, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &ChatClient{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		transcripts: make(map[string][]openai.ChatCompletionMessage),
		capacity:    defaultTranscriptCapacity,
	}, nil
}

// Name returns the backend name.
func (c *ChatClient) Name() string {
	return "chat"
}

// Turn sends one chat completion request.
func (c *ChatClient) Turn(ctx context.Context, req *TurnRequest) (*TurnResponse, error) {
	var transcript []openai.ChatCompletionMessage
	if req.ContinuationToken != "" {
		prev, ok := c.transcript(req.ContinuationToken)
		if !ok {
			return nil, fmt.Errorf("%w: unknown turn %s", ErrStaleContinuation, req.ContinuationToken)
		}
		transcript = prev
	}

	for _, m := range req.Input {
		transcript = append(transcript, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	for _, out := range req.ToolOutputs {
		transcript = append(transcript, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    out.Output,
			ToolCallID: out.CallID,
		})
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(transcript)+1)
	if req.Instructions != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.Instructions})
	}
	messages = append(messages, transcript...)

	tools := make([]openai.Tool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	reply := resp.Choices[0].Message
	transcript = append(transcript, reply)

	id := resp.ID
	if id == "" {
		id = uuid.NewString()
	}
	c.remember(id, trimTranscript(transcript), req.ContinuationToken)

	turn := &TurnResponse{ID: id, Text: reply.Content}
	for _, tc := range reply.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		turn.ToolCalls = append(turn.ToolCalls, ToolCall{Name: tc.Function.Name, CallID: tc.ID, Arguments: args})
	}
	return turn, nil
}

func (c *ChatClient) transcript(id string) ([]openai.ChatCompletionMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.transcripts[id]
	if !ok {
		return nil, false
	}
	// Copy so appends never alias a cached transcript.
	return append([]openai.ChatCompletionMessage(nil), t...), true
}

// remember stores the transcript behind id and drops the one it continued
// from, so each conversation holds a single cached transcript.
func (c *ChatClient) remember(id string, transcript []openai.ChatCompletionMessage, prev string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev != "" && prev != id {
		delete(c.transcripts, prev)
	}
	if _, ok := c.transcripts[id]; !ok {
		c.order = append(c.order, id)
	}
	c.transcripts[id] = transcript

	for len(c.transcripts) > c.capacity && len(c.order) > 0 {
		delete(c.transcripts, c.order[0])
		c.order = c.order[1:]
	}
	if len(c.order) > 2*c.capacity {
		live := c.order[:0]
		for _, k := range c.order {
			if _, ok := c.transcripts[k]; ok {
				live = append(live, k)
			}
		}
		c.order = live
	}
}

// trimTranscript keeps the newest messages, starting at a user message so
// no tool output is left without its call.
func trimTranscript(t []openai.ChatCompletionMessage) []openai.ChatCompletionMessage {
	if len(t) <= maxTranscriptMessages {
		return t
	}
	t = t[len(t)-maxTranscriptMessages:]
	for i, m := range t {
		if m.Role == openai.ChatMessageRoleUser {
			return t[i:]
		}
	}
	return t[len(t)-1:]
}

// OpenAIDescriber describes images with a vision-capable chat model.
type OpenAIDescriber struct {
	client *openai.Client
	model  string
	prompt string
}

// NewOpenAIDescriber creates an image describer.
func NewOpenAIDescriber(apiKey, baseURL, model string) (*OpenAIDescriber, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIDescriber{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		prompt: describePrompt,
	}, nil
}

// DescribeImage returns a short description of the image.
func (d *OpenAIDescriber) DescribeImage(ctx context.Context, imageURL string) (string, error) {
	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: d.prompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: imageURL}},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("describe image: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fallbackDescription, nil
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return fallbackDescription, nil
	}
	return text, nil
}
