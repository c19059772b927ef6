package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/store"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

// DefaultTimelineLimit bounds a timeline page when no limit is given.
const DefaultTimelineLimit = 50

// ReplayRequest asks for a debug evaluation of a message in an existing
// conversation.
type ReplayRequest struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Author    string    `json:"author,omitempty"`
}

// ConversationService is the read side used by the debug surface.
type ConversationService struct {
	convs   store.ConversationStore
	history store.HistoryStore
	engine  *Engine
	logger  *logger.Logger
	now     func() time.Time
}

// NewConversationService creates a new conversation service.
func NewConversationService(convs store.ConversationStore, history store.HistoryStore, engine *Engine, log *logger.Logger) *ConversationService {
	return &ConversationService{
		convs:   convs,
		history: history,
		engine:  engine,
		logger:  log.Named("conversations"),
		now:     time.Now,
	}
}

// List returns every conversation with its latest message, most recently
// updated first.
func (s *ConversationService) List(ctx context.Context) ([]model.ConversationSummary, error) {
	convs, err := s.convs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	out := make([]model.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		summary := model.ConversationSummary{Conversation: *c}
		last, err := s.history.Recent(ctx, c.ID, 1, store.EndOfTime)
		if err != nil {
			s.logger.Warn("load last message failed", zap.String("chat_id", c.ID), zap.Error(err))
		} else if len(last) == 1 {
			summary.LastMessage = &last[0]
		}
		out = append(out, summary)
	}
	return out, nil
}

// Get returns one conversation, or store.ErrNotFound.
func (s *ConversationService) Get(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := s.convs.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return conv, nil
}

// Timeline returns up to limit messages created before the cutoff, oldest
// first. A zero cutoff means now.
func (s *ConversationService) Timeline(ctx context.Context, id string, before time.Time, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = DefaultTimelineLimit
	}
	if before.IsZero() {
		before = store.EndOfTime
	}
	msgs, err := s.history.Recent(ctx, id, limit, before)
	if err != nil {
		return nil, fmt.Errorf("load timeline: %w", err)
	}
	return msgs, nil
}

// Replay evaluates a message in debug mode: the outcome is computed as of
// the request timestamp and nothing is stored or sent.
func (s *ConversationService) Replay(ctx context.Context, id string, req *ReplayRequest) (*Outcome, error) {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	at := req.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	author := req.Author
	if author == "" {
		author = "debug"
	}

	return s.engine.Handle(ctx, Event{
		ConversationID: conv.ID,
		Author:         author,
		Text:           req.Message,
		IsGroup:        conv.IsGroup,
		GroupName:      conv.Name,
		At:             at,
		Debug:          true,
	})
}
