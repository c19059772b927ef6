// Package store defines the persistence contracts used by the relay.
// Implementations live in the memory and sqlite subpackages and in
// internal/nats.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/chat-relay/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ConversationStore persists per-conversation records.
type ConversationStore interface {
	// Get returns the record for a chat, or ErrNotFound.
	Get(ctx context.Context, id string) (*model.Conversation, error)
	// Save upserts the record.
	Save(ctx context.Context, conv *model.Conversation) error
	// List returns all records, most recently updated first.
	List(ctx context.Context) ([]*model.Conversation, error)
}

// HistoryStore is the append-only per-conversation message log.
type HistoryStore interface {
	// Append writes one entry. Entries are never mutated or deleted.
	Append(ctx context.Context, msg *model.Message) error
	// Recent returns at most limit entries created strictly before the
	// cutoff, oldest first. A limit below one returns no entries.
	Recent(ctx context.Context, conversationID string, limit int, before time.Time) ([]model.Message, error)
}

// ReminderStore persists reminders managed through the tool registry.
type ReminderStore interface {
	Create(ctx context.Context, r *model.Reminder) error
	Get(ctx context.Context, conversationID, id string) (*model.Reminder, error)
	Update(ctx context.Context, r *model.Reminder) error
	Delete(ctx context.Context, conversationID, id string) error
	List(ctx context.Context, conversationID string) ([]*model.Reminder, error)
}

// NewID generates a new UUIDv7.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Tail keeps the newest limit entries of an ascending slice. A limit
// below one keeps nothing.
func Tail(msgs []model.Message, limit int) []model.Message {
	if limit <= 0 {
		return []model.Message{}
	}
	if len(msgs) > limit {
		return msgs[len(msgs)-limit:]
	}
	return msgs
}

// EndOfTime is a cutoff later than any stored entry. It stays within the
// range of unix nanoseconds.
var EndOfTime = time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC)
