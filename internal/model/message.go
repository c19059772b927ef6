package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one immutable history entry.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Author         string    `json:"author,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ContextLine renders the message the way it is fed to the backend.
// Group messages carry the author label so the backend can tell
// participants apart.
func (m Message) ContextLine() string {
	if m.Role == RoleUser && m.Author != "" {
		return m.Author + ": " + m.Content
	}
	return m.Content
}

// Reminder is a scheduled task managed through the tool registry.
type Reminder struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title"`
	DueAt          time.Time `json:"due_at"`
	IsIndividual   bool      `json:"is_individual"`
	TargetPhone    string    `json:"target_phone,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SetIndividual updates the individual flag. A group-wide reminder has
// no target phone.
func (r *Reminder) SetIndividual(individual bool) {
	r.IsIndividual = individual
	if !individual {
		r.TargetPhone = ""
	}
}
