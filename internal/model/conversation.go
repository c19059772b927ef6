// Package model defines data structures for the chat relay.
package model

import (
	"regexp"
	"time"
)

// AssistantState is the per-conversation reply policy state.
type AssistantState string

const (
	StateNormal AssistantState = "normal"
	StatePaused AssistantState = "paused"
)

// DirectParticipantCount is the participant count assumed for direct chats.
const DirectParticipantCount = 2

var groupIDPattern = regexp.MustCompile(`^[\d-]{10,31}@g\.us$`)

// IsGroupID reports whether a chat identifier addresses a group chat.
func IsGroupID(chatID string) bool {
	return groupIDPattern.MatchString(chatID)
}

// Conversation is the persisted per-chat record.
type Conversation struct {
	ID                   string         `json:"id"`
	IsGroup              bool           `json:"is_group"`
	Name                 string         `json:"name,omitempty"`
	ParticipantCount     int            `json:"participant_count"`
	AssistantState       AssistantState `json:"assistant_state"`
	LastParticipantCheck time.Time      `json:"last_participant_check"`
	// ContinuationToken references the last successful backend turn.
	// It is opaque and never derived locally.
	ContinuationToken string `json:"continuation_token,omitempty"`
	// LastSyncedAt is the time of the newest history entry the backend
	// has seen under ContinuationToken. Later entries are sent with the
	// next continued turn.
	LastSyncedAt time.Time `json:"last_synced_at,omitempty"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewConversation returns a fresh record for a chat seen for the first time.
// LastParticipantCheck is left zero so the participant cache refreshes it.
func NewConversation(chatID string, now time.Time) *Conversation {
	conv := &Conversation{
		ID:             chatID,
		IsGroup:        IsGroupID(chatID),
		AssistantState: StateNormal,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if !conv.IsGroup {
		conv.ParticipantCount = DirectParticipantCount
	}
	return conv
}

// Paused reports whether the assistant is currently paused in this chat.
func (c *Conversation) Paused() bool {
	return c.AssistantState == StatePaused
}

// ConversationSummary is a row in the debug conversation listing.
type ConversationSummary struct {
	Conversation
	LastMessage *Message `json:"last_message,omitempty"`
}
