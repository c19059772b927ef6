// Package llm provides the generative backend turn protocol and its
// provider implementations.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/capitalize-ai/chat-relay/pkg/metrics"
	"github.com/capitalize-ai/chat-relay/pkg/tracing"
)

var (
	// ErrStaleContinuation is returned when the backend cannot resolve the
	// supplied continuation token.
	ErrStaleContinuation = errors.New("stale continuation token")

	// ErrTurnTimeout is returned when a turn exceeds its deadline.
	ErrTurnTimeout = errors.New("backend turn timed out")
)

// InputMessage is one context message sent with a turn.
type InputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolSpec describes a tool the backend may call. Parameters is a JSON
// Schema object.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a backend request to run a local tool. CallID must be echoed
// back verbatim with the output.
type ToolCall struct {
	Name      string          `json:"name"`
	CallID    string          `json:"call_id"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolOutput is the result of a tool call submitted on the next turn.
type ToolOutput struct {
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// TurnRequest is one request/response exchange with the backend.
type TurnRequest struct {
	Instructions      string
	Input             []InputMessage
	ToolOutputs       []ToolOutput
	ContinuationToken string
	Tools             []ToolSpec
}

// TurnResponse carries either final text or tool calls. ID is the opaque
// reference to pass as ContinuationToken on the next turn.
type TurnResponse struct {
	ID        string
	Text      string
	ToolCalls []ToolCall
}

// Backend is the interface for generative backends.
type Backend interface {
	// Turn runs one exchange. Implementations return ErrStaleContinuation
	// when the continuation token cannot be resolved.
	Turn(ctx context.Context, req *TurnRequest) (*TurnResponse, error)

	// Name returns the backend name.
	Name() string
}

// Describer turns an image reference (URL or data URL) into a short text
// description.
type Describer interface {
	DescribeImage(ctx context.Context, imageURL string) (string, error)
}

// Instrumented wraps a backend with a per-turn deadline, metrics and a
// trace span. A deadline hit by the turn itself surfaces as ErrTurnTimeout.
func Instrumented(b Backend, timeout time.Duration) Backend {
	return &instrumented{next: b, timeout: timeout}
}

type instrumented struct {
	next    Backend
	timeout time.Duration
}

func (i *instrumented) Name() string { return i.next.Name() }

func (i *instrumented) Turn(ctx context.Context, req *TurnRequest) (*TurnResponse, error) {
	ctx, span := tracing.Tracer().Start(ctx, "llm.Turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.backend", i.next.Name()),
		attribute.Bool("llm.continuation", req.ContinuationToken != ""),
		attribute.Int("llm.tool_outputs", len(req.ToolOutputs)),
	)

	turnCtx := ctx
	if i.timeout > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := i.next.Turn(turnCtx, req)
	if err != nil && ctx.Err() == nil && errors.Is(turnCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %v", ErrTurnTimeout, i.timeout, err)
	}

	status := "ok"
	switch {
	case errors.Is(err, ErrStaleContinuation):
		status = "stale"
	case errors.Is(err, ErrTurnTimeout):
		status = "timeout"
	case err != nil:
		status = "error"
	}
	metrics.RecordBackendTurn(i.next.Name(), status, time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("llm.turn_id", resp.ID),
		attribute.Int("llm.tool_calls", len(resp.ToolCalls)),
	)
	return resp, nil
}

// CleanText trims whitespace and a single pair of wrapping double quotes
// that models like to add around short replies.
func CleanText(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
