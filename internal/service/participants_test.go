package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

func TestParticipantResolve(t *testing.T) {
	now := t0
	tests := []struct {
		name      string
		count     int
		checked   time.Time
		lookupN   int
		lookupErr error
		wantCount int
		wantFresh bool
		wantCalls int
	}{
		{name: "fresh cache", count: 9, checked: now.Add(-time.Hour), lookupN: 3, wantCount: 9, wantCalls: 0},
		{name: "stale refreshed", count: 9, checked: now.Add(-25 * time.Hour), lookupN: 3, wantCount: 3, wantFresh: true, wantCalls: 1},
		{name: "never checked", lookupN: 4, wantCount: 4, wantFresh: true, wantCalls: 1},
		{name: "failure keeps previous", count: 9, checked: now.Add(-25 * time.Hour), lookupErr: errors.New("boom"), wantCount: 9, wantCalls: 1},
		{name: "failure without previous uses default", lookupErr: errors.New("boom"), wantCount: 5, wantCalls: 1},
		{name: "zero without previous uses default", lookupN: 0, wantCount: 5, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := &fakeLookup{n: tt.lookupN, err: tt.lookupErr}
			cache := NewParticipantCache(lookup, 24*time.Hour, 5, logger.Nop())

			conv := model.NewConversation(groupChat, now)
			conv.ParticipantCount = tt.count
			conv.LastParticipantCheck = tt.checked

			fresh := cache.Resolve(context.Background(), conv, now)
			if fresh != tt.wantFresh {
				t.Errorf("Resolve() = %v, want %v", fresh, tt.wantFresh)
			}
			if conv.ParticipantCount != tt.wantCount {
				t.Errorf("ParticipantCount = %d, want %d", conv.ParticipantCount, tt.wantCount)
			}
			if lookup.calls != tt.wantCalls {
				t.Errorf("lookups = %d, want %d", lookup.calls, tt.wantCalls)
			}
			if fresh && !conv.LastParticipantCheck.Equal(now) {
				t.Errorf("LastParticipantCheck = %v, want %v", conv.LastParticipantCheck, now)
			}
		})
	}
}

func TestParticipantCachedNeverLooksUp(t *testing.T) {
	lookup := &fakeLookup{n: 3}
	cache := NewParticipantCache(lookup, 24*time.Hour, 5, logger.Nop())

	stale := model.NewConversation(groupChat, t0)
	stale.ParticipantCount = 9
	stale.LastParticipantCheck = t0.Add(-48 * time.Hour)
	cache.Cached(stale)
	if stale.ParticipantCount != 9 || !stale.LastParticipantCheck.Equal(t0.Add(-48*time.Hour)) {
		t.Errorf("stale record changed: count %d checked %v", stale.ParticipantCount, stale.LastParticipantCheck)
	}

	unknown := model.NewConversation(groupChat, t0)
	cache.Cached(unknown)
	if unknown.ParticipantCount != 5 {
		t.Errorf("unknown group count = %d, want default 5", unknown.ParticipantCount)
	}

	if lookup.calls != 0 {
		t.Errorf("lookups = %d, want 0", lookup.calls)
	}
}
