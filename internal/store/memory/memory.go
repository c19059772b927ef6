// Package memory provides in-process implementations of the store
// contracts. They are used in tests and for single-instance deployments
// that do not need durability.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/store"
)

// ConversationStore keeps conversation records in a map.
type ConversationStore struct {
	mu    sync.RWMutex
	convs map[string]model.Conversation
}

// NewConversationStore creates an empty conversation store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{convs: make(map[string]model.Conversation)}
}

// Get returns a copy of the stored record.
func (s *ConversationStore) Get(_ context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.convs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &conv, nil
}

// Save upserts a copy of the record.
func (s *ConversationStore) Save(_ context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.convs[conv.ID] = *conv
	return nil
}

// List returns copies of all records, most recently updated first.
func (s *ConversationStore) List(_ context.Context) ([]*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Conversation, 0, len(s.convs))
	for _, conv := range s.convs {
		c := conv
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// HistoryStore keeps per-conversation logs ordered by creation time.
type HistoryStore struct {
	mu       sync.RWMutex
	messages map[string][]model.Message
}

// NewHistoryStore creates an empty history store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{messages: make(map[string][]model.Message)}
}

// Append inserts the message keeping the log sorted by CreatedAt. Equal
// timestamps keep insertion order.
func (s *HistoryStore) Append(_ context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = store.NewID()
	}
	m := *msg
	log := s.messages[m.ConversationID]
	i := sort.Search(len(log), func(i int) bool { return log[i].CreatedAt.After(m.CreatedAt) })
	log = append(log, model.Message{})
	copy(log[i+1:], log[i:])
	log[i] = m
	s.messages[m.ConversationID] = log
	return nil
}

// Recent returns at most limit entries strictly before the cutoff.
func (s *HistoryStore) Recent(_ context.Context, conversationID string, limit int, before time.Time) ([]model.Message, error) {
	if limit <= 0 {
		return []model.Message{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.messages[conversationID]
	n := sort.Search(len(log), func(i int) bool { return !log[i].CreatedAt.Before(before) })
	out := make([]model.Message, n)
	copy(out, log[:n])
	return store.Tail(out, limit), nil
}

// ReminderStore keeps reminders per conversation.
type ReminderStore struct {
	mu        sync.RWMutex
	reminders map[string]map[string]model.Reminder
}

// NewReminderStore creates an empty reminder store.
func NewReminderStore() *ReminderStore {
	return &ReminderStore{reminders: make(map[string]map[string]model.Reminder)}
}

// Create stores a new reminder, assigning an ID when missing.
func (s *ReminderStore) Create(_ context.Context, r *model.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = store.NewID()
	}
	byID, ok := s.reminders[r.ConversationID]
	if !ok {
		byID = make(map[string]model.Reminder)
		s.reminders[r.ConversationID] = byID
	}
	byID[r.ID] = *r
	return nil
}

// Get returns a reminder scoped to its conversation.
func (s *ReminderStore) Get(_ context.Context, conversationID, id string) (*model.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reminders[conversationID][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

// Update replaces an existing reminder.
func (s *ReminderStore) Update(_ context.Context, r *model.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.reminders[r.ConversationID]
	if _, ok := byID[r.ID]; !ok {
		return store.ErrNotFound
	}
	byID[r.ID] = *r
	return nil
}

// Delete removes a reminder.
func (s *ReminderStore) Delete(_ context.Context, conversationID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.reminders[conversationID]
	if _, ok := byID[id]; !ok {
		return store.ErrNotFound
	}
	delete(byID, id)
	return nil
}

// List returns a conversation's reminders ordered by due time.
func (s *ReminderStore) List(_ context.Context, conversationID string) ([]*model.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Reminder, 0, len(s.reminders[conversationID]))
	for _, r := range s.reminders[conversationID] {
		rem := r
		out = append(out, &rem)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}
