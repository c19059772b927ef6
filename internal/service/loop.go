package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/llm"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

// errToolRoundLimit is fed back for calls left unanswered at the round cap.
var errToolRoundLimit = errors.New("tool round limit reached")

// turnInput is everything the first backend turn of an event needs.
type turnInput struct {
	conversationID string
	instructions   string
	history        []llm.InputMessage
	unsynced       []llm.InputMessage
	inbound        llm.InputMessage
	token          string
	dryRun         bool
}

type loopResult struct {
	text       string
	turnID     string
	toolRounds int
	retried    bool
}

// runTurns drives one event's generation: the first turn, then tool rounds
// until the backend stops asking for tools or the cap is reached. The full
// history is sent only when no continuation token is; a continued turn
// carries just the entries the backend has not seen yet.
func (e *Engine) runTurns(ctx context.Context, in turnInput, log *logger.Logger) (*loopResult, error) {
	tools := e.registry.Specs()
	res := &loopResult{}

	resp, err := e.backend.Turn(ctx, firstTurn(in, in.token, tools))
	if err != nil && (errors.Is(err, llm.ErrStaleContinuation) || errors.Is(err, llm.ErrTurnTimeout)) {
		log.Warn("first turn failed, retrying without continuation",
			zap.Bool("had_token", in.token != ""),
			zap.Error(err),
		)
		res.retried = true
		resp, err = e.backend.Turn(ctx, firstTurn(in, "", tools))
	}
	if err != nil {
		return nil, fmt.Errorf("first turn: %w", err)
	}

	for len(resp.ToolCalls) > 0 {
		if res.toolRounds >= e.cfg.MaxToolRounds {
			log.Warn("tool round limit reached", zap.Int("rounds", res.toolRounds))
			// Answer the pending calls without offering tools so the
			// backend closes the turn and its id stays a valid token.
			outputs := make([]llm.ToolOutput, 0, len(resp.ToolCalls))
			for _, call := range resp.ToolCalls {
				outputs = append(outputs, llm.ToolOutput{CallID: call.CallID, Output: errorOutput(errToolRoundLimit)})
			}
			resp, err = e.backend.Turn(ctx, &llm.TurnRequest{
				Instructions:      in.instructions,
				ToolOutputs:       outputs,
				ContinuationToken: resp.ID,
			})
			if err != nil {
				return nil, fmt.Errorf("closing turn: %w", err)
			}
			break
		}

		res.toolRounds++
		outputs := e.executeCalls(ctx, in, resp.ToolCalls, log)

		resp, err = e.backend.Turn(ctx, &llm.TurnRequest{
			Instructions:      in.instructions,
			ToolOutputs:       outputs,
			ContinuationToken: resp.ID,
			Tools:             tools,
		})
		if err != nil {
			return nil, fmt.Errorf("tool round %d: %w", res.toolRounds, err)
		}
	}

	res.text = resp.Text
	res.turnID = resp.ID
	return res, nil
}

func firstTurn(in turnInput, token string, tools []llm.ToolSpec) *llm.TurnRequest {
	req := &llm.TurnRequest{
		Instructions:      in.instructions,
		ContinuationToken: token,
		Tools:             tools,
	}
	prior := in.unsynced
	if token == "" {
		prior = in.history
	}
	req.Input = make([]llm.InputMessage, 0, len(prior)+1)
	req.Input = append(req.Input, prior...)
	req.Input = append(req.Input, in.inbound)
	return req
}

// executeCalls runs every call of one round in order. Tool failures are
// reported to the backend as error outputs, never returned.
func (e *Engine) executeCalls(ctx context.Context, in turnInput, calls []llm.ToolCall, log *logger.Logger) []llm.ToolOutput {
	outputs := make([]llm.ToolOutput, 0, len(calls))
	for _, call := range calls {
		var (
			out string
			err error
		)
		if in.dryRun {
			out, err = e.registry.DryRun(ctx, in.conversationID, call.Name, string(call.Arguments))
		} else {
			out, err = e.registry.Execute(ctx, in.conversationID, call.Name, string(call.Arguments))
		}
		if err != nil {
			log.Info("tool call failed",
				zap.String("tool", call.Name),
				zap.Error(err),
			)
			out = errorOutput(err)
		}
		outputs = append(outputs, llm.ToolOutput{CallID: call.CallID, Output: out})
	}
	return outputs
}

func errorOutput(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}
