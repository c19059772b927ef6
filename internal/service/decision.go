package service

import (
	"github.com/capitalize-ai/chat-relay/internal/model"
)

// ShouldGenerate decides whether an inbound message goes to the backend.
// In normal state every message does and the backend decides. In paused
// state only direct addresses and resume requests do.
func ShouldGenerate(state model.AssistantState, addressed, resumeRequested bool) bool {
	if state != model.StatePaused {
		return true
	}
	return addressed || resumeRequested
}

// NextState applies a generated outcome to the assistant state.
//
//   - a pause directive pauses from either state
//   - a paused turn with substantive text resumes
//   - a paused turn classified silent resumes only when the assistant has
//     no replies in the visible history window
func NextState(state model.AssistantState, kind OutcomeKind, assistantRepliesInWindow int) model.AssistantState {
	if kind == KindPause {
		return model.StatePaused
	}
	if state != model.StatePaused {
		return model.StateNormal
	}
	switch kind {
	case KindRespond:
		return model.StateNormal
	case KindSilent:
		if assistantRepliesInWindow == 0 {
			return model.StateNormal
		}
	}
	return model.StatePaused
}

func countAssistantReplies(history []model.Message) int {
	n := 0
	for _, m := range history {
		if m.Role == model.RoleAssistant {
			n++
		}
	}
	return n
}
