package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	oai "github.com/openai/openai-go"
	oaioption "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

// ResponsesClient talks to the OpenAI Responses API, which keeps turn
// state server side and resolves continuation tokens itself.
type ResponsesClient struct {
	client oai.Client
	model  string
}

// NewResponsesClient creates a Responses API backend. An empty baseURL
// uses the public OpenAI endpoint.
func NewResponsesClient(apiKey, baseURL, model string, httpClient *http.Client) (*ResponsesClient, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	opts := []oaioption.RequestOption{
		oaioption.WithAPIKey(apiKey),
		// Stale tokens and timeouts are retried by the tool loop.
		oaioption.WithMaxRetries(1),
	}
	if baseURL != "" {
		opts = append(opts, oaioption.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, oaioption.WithHTTPClient(httpClient))
	}

	return &ResponsesClient{
		client: oai.NewClient(opts...),
		model:  model,
	}, nil
}

// Name returns the backend name.
func (c *ResponsesClient) Name() string {
	return "responses"
}

// Turn sends one request to POST /responses.
func (c *ResponsesClient) Turn(ctx context.Context, req *TurnRequest) (*TurnResponse, error) {
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(c.model),
		Store: oai.Bool(true),
	}
	if req.Instructions != "" {
		params.Instructions = oai.String(req.Instructions)
	}
	if req.ContinuationToken != "" {
		params.PreviousResponseID = oai.String(req.ContinuationToken)
	}

	items := make(responses.ResponseInputParam, 0, len(req.Input)+len(req.ToolOutputs))
	for _, m := range req.Input {
		items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRole(m.Role)))
	}
	for _, out := range req.ToolOutputs {
		items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(out.CallID, out.Output))
	}
	params.Input = responses.ResponseNewParamsInputUnion{OfInputItemList: items}

	for _, t := range req.Tools {
		fn := &responses.FunctionToolParam{
			Name:       t.Name,
			Parameters: t.Parameters,
			Strict:     oai.Bool(false),
		}
		if t.Description != "" {
			fn.Description = oai.String(t.Description)
		}
		params.Tools = append(params.Tools, responses.ToolUnionParam{OfFunction: fn})
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			if req.ContinuationToken != "" && isStaleContinuation(apiErr) {
				return nil, fmt.Errorf("%w: %s", ErrStaleContinuation, apiErr.Message)
			}
			return nil, fmt.Errorf("responses API status %d: %s", apiErr.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("responses request: %w", err)
	}

	turn := &TurnResponse{ID: resp.ID, Text: resp.OutputText()}
	for _, item := range resp.Output {
		if item.Type != "function_call" {
			continue
		}
		call := item.AsFunctionCall()
		args := call.Arguments
		if args == "" {
			args = "{}"
		}
		turn.ToolCalls = append(turn.ToolCalls, ToolCall{
			Name:      call.Name,
			CallID:    call.CallID,
			Arguments: []byte(args),
		})
	}
	return turn, nil
}

// isStaleContinuation recognizes the API's "previous response not found"
// family of errors.
func isStaleContinuation(apiErr *oai.Error) bool {
	if apiErr.StatusCode != http.StatusBadRequest && apiErr.StatusCode != http.StatusNotFound {
		return false
	}
	if apiErr.Param == "previous_response_id" {
		return true
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "previous_response_id") || strings.Contains(msg, "previous response")
}
