package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/store"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// testClient starts an embedded JetStream server and connects to it.
func testClient(t *testing.T) *Client {
	t.Helper()

	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	srv := natsserver.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	c, err := Connect(context.Background(), Config{URL: srv.ClientURL()}, logger.Nop())
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestHistoryRecentBounds(t *testing.T) {
	ctx := context.Background()
	h := NewHistoryStore(testClient(t))
	if err := h.EnsureStream(ctx); err != nil {
		t.Fatalf("EnsureStream() error: %v", err)
	}
	const chat = "120363041234567890@g.us"

	// "b" arrives after "c" but carries an earlier timestamp.
	for _, m := range []struct {
		content string
		offset  time.Duration
	}{
		{"a", 0},
		{"c", 2 * time.Minute},
		{"b", time.Minute},
		{"d", 3 * time.Minute},
		{"e", 4 * time.Minute},
	} {
		msg := &model.Message{ConversationID: chat, Role: model.RoleUser, Content: m.content, CreatedAt: base.Add(m.offset)}
		if err := h.Append(ctx, msg); err != nil {
			t.Fatalf("Append(%s) error: %v", m.content, err)
		}
		if msg.ID == "" {
			t.Fatal("Append() did not assign an ID")
		}
	}
	other := &model.Message{ConversationID: "40711111111@s.whatsapp.net", Role: model.RoleUser, Content: "x", CreatedAt: base}
	if err := h.Append(ctx, other); err != nil {
		t.Fatalf("Append(other) error: %v", err)
	}

	tests := []struct {
		name   string
		chat   string
		limit  int
		before time.Time
		want   string
	}{
		{name: "all in order", chat: chat, limit: 10, before: store.EndOfTime, want: "abcde"},
		{name: "tail bound", chat: chat, limit: 2, before: store.EndOfTime, want: "de"},
		{name: "exclusive cutoff", chat: chat, limit: 10, before: base.Add(2 * time.Minute), want: "ab"},
		{name: "cutoff and bound", chat: chat, limit: 1, before: base.Add(3 * time.Minute), want: "c"},
		{name: "zero limit", chat: chat, limit: 0, before: store.EndOfTime, want: ""},
		{name: "other chat isolated", chat: "40711111111@s.whatsapp.net", limit: 10, before: store.EndOfTime, want: "x"},
		{name: "unknown chat", chat: "999@g.us", limit: 10, before: store.EndOfTime, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.Recent(ctx, tt.chat, tt.limit, tt.before)
			if err != nil {
				t.Fatalf("Recent() error: %v", err)
			}
			var s string
			for _, m := range got {
				s += m.Content
			}
			if s != tt.want {
				t.Errorf("Recent() = %q, want %q", s, tt.want)
			}
		})
	}
}

func TestConversationKV(t *testing.T) {
	ctx := context.Background()
	convs, err := NewConversationStore(ctx, testClient(t))
	if err != nil {
		t.Fatalf("NewConversationStore() error: %v", err)
	}

	if list, err := convs.List(ctx); err != nil || len(list) != 0 {
		t.Fatalf("List(empty) = %v, %v", list, err)
	}
	if _, err := convs.Get(ctx, "120363041234567890@g.us"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}

	group := model.NewConversation("120363041234567890@g.us", base)
	group.Name = "Book club"
	group.AssistantState = model.StatePaused
	group.ContinuationToken = "resp_1"
	group.LastSyncedAt = base.Add(time.Minute)
	group.UpdatedAt = base.Add(time.Hour)

	direct := model.NewConversation("40711111111@s.whatsapp.net", base)
	direct.UpdatedAt = base.Add(2 * time.Hour)

	for _, c := range []*model.Conversation{group, direct} {
		if err := convs.Save(ctx, c); err != nil {
			t.Fatalf("Save(%s) error: %v", c.ID, err)
		}
	}

	got, err := convs.Get(ctx, group.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Name != "Book club" || !got.Paused() || got.ContinuationToken != "resp_1" || !got.IsGroup {
		t.Errorf("Get() = %+v", got)
	}
	if !got.LastSyncedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("LastSyncedAt = %v, want %v", got.LastSyncedAt, base.Add(time.Minute))
	}

	group.ContinuationToken = "resp_2"
	if err := convs.Save(ctx, group); err != nil {
		t.Fatalf("Save(update) error: %v", err)
	}
	if got, _ := convs.Get(ctx, group.ID); got.ContinuationToken != "resp_2" {
		t.Errorf("updated token = %q, want resp_2", got.ContinuationToken)
	}

	list, err := convs.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(list) != 2 || list[0].ID != direct.ID || list[1].ID != group.ID {
		t.Errorf("List() order = %v, want most recently updated first", list)
	}
}
