package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
	"github.com/capitalize-ai/chat-relay/pkg/metrics"
)

// ParticipantLookup asks the messaging gateway how many members a chat has.
type ParticipantLookup interface {
	ParticipantCount(ctx context.Context, chatID string) (int, error)
}

// ParticipantCache keeps each conversation's participant count fresh
// within a TTL. Lookups never fail: a failed or empty refresh falls back
// to the previous value, then to a default.
type ParticipantCache struct {
	lookup       ParticipantLookup
	ttl          time.Duration
	groupDefault int
	logger       *logger.Logger
}

// NewParticipantCache creates a participant cache over the conversation
// record's cached count.
func NewParticipantCache(lookup ParticipantLookup, ttl time.Duration, groupDefault int, log *logger.Logger) *ParticipantCache {
	if groupDefault < 1 {
		groupDefault = 1
	}
	return &ParticipantCache{
		lookup:       lookup,
		ttl:          ttl,
		groupDefault: groupDefault,
		logger:       log.Named("participants"),
	}
}

// Resolve refreshes conv's participant count in place when the cached
// value is older than the TTL. It reports whether a fresh count was stored
// and the record therefore needs saving. The caller holds the conversation.
func (p *ParticipantCache) Resolve(ctx context.Context, conv *model.Conversation, now time.Time) bool {
	if !conv.LastParticipantCheck.IsZero() && now.Sub(conv.LastParticipantCheck) < p.ttl && conv.ParticipantCount > 0 {
		metrics.RecordParticipantLookup("cached")
		return false
	}

	n, err := p.fetch(ctx, conv.ID)
	if err == nil && n > 0 {
		conv.ParticipantCount = n
		conv.LastParticipantCheck = now
		metrics.RecordParticipantLookup("fresh")
		return true
	}

	if err != nil {
		p.logger.Warn("participant lookup failed",
			zap.String("chat_id", conv.ID),
			zap.Error(err),
		)
	}
	metrics.RecordParticipantLookup("fallback")

	if conv.ParticipantCount <= 0 {
		conv.ParticipantCount = p.defaultFor(conv)
	}
	return false
}

// Cached fills in conv's participant count from the record or the default
// without asking the gateway. Debug replays use it.
func (p *ParticipantCache) Cached(conv *model.Conversation) {
	metrics.RecordParticipantLookup("cached")
	if conv.ParticipantCount <= 0 {
		conv.ParticipantCount = p.defaultFor(conv)
	}
}

func (p *ParticipantCache) fetch(ctx context.Context, chatID string) (int, error) {
	if p.lookup == nil {
		return 0, nil
	}
	return p.lookup.ParticipantCount(ctx, chatID)
}

func (p *ParticipantCache) defaultFor(conv *model.Conversation) int {
	if conv.IsGroup {
		return p.groupDefault
	}
	return model.DirectParticipantCount
}
