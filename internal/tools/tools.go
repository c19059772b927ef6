// Package tools defines the tools the generative backend may call.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/capitalize-ai/chat-relay/internal/llm"
	"github.com/capitalize-ai/chat-relay/internal/store"
	"github.com/capitalize-ai/chat-relay/pkg/metrics"
)

// ErrUnknownTool is returned when the backend calls a tool that is not
// registered.
var ErrUnknownTool = errors.New("unknown tool")

// ConversationIDArg is injected into every call's arguments.
const ConversationIDArg = "conversation_id"

// Tool represents a callable tool.
type Tool struct {
	Name        string                                                         `json:"name"`
	Description string                                                         `json:"description"`
	Parameters  map[string]any                                                 `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`

	// ReadOnly tools run during dry runs.
	ReadOnly bool `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	tools     map[string]*Tool
	reminders store.ReminderStore
	now       func() time.Time
}

// NewRegistry creates a registry with the reminder tools registered.
func NewRegistry(reminders store.ReminderStore) *Registry {
	r := &Registry{
		tools:     make(map[string]*Tool),
		reminders: reminders,
		now:       time.Now,
	}
	r.registerReminderTools()
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Specs returns tool descriptors for the backend, ordered by name.
func (r *Registry) Specs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, llm.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Execute runs a tool by name. The arguments are always augmented with
// the calling conversation's id, overriding any value the backend sent.
func (r *Registry) Execute(ctx context.Context, conversationID, name, argsJSON string) (string, error) {
	return r.execute(ctx, conversationID, name, argsJSON, false)
}

// DryRun is Execute without side effects: read-only tools run normally
// and every other tool reports that it was skipped.
func (r *Registry) DryRun(ctx context.Context, conversationID, name, argsJSON string) (string, error) {
	return r.execute(ctx, conversationID, name, argsJSON, true)
}

func (r *Registry) execute(ctx context.Context, conversationID, name, argsJSON string, dryRun bool) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		metrics.RecordToolCall("unknown", "unknown")
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	args := map[string]any{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			metrics.RecordToolCall(name, "invalid")
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		if args == nil {
			args = map[string]any{}
		}
	}
	args[ConversationIDArg] = conversationID

	if dryRun && !tool.ReadOnly {
		metrics.RecordToolCall(name, "skipped")
		return jsonResult(map[string]any{"status": "skipped", "reason": "dry run", "tool": name})
	}

	result, err := tool.Handler(ctx, args)
	if err != nil {
		metrics.RecordToolCall(name, "error")
		return "", err
	}
	metrics.RecordToolCall(name, "ok")
	return result, nil
}

func jsonResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(b), nil
}
