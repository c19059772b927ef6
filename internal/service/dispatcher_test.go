package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/capitalize-ai/chat-relay/internal/llm"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

type fakeDescriber struct {
	desc string
	err  error
	urls []string
}

func (d *fakeDescriber) DescribeImage(_ context.Context, url string) (string, error) {
	d.urls = append(d.urls, url)
	return d.desc, d.err
}

func TestContentResolve(t *testing.T) {
	tests := []struct {
		name string
		msg  model.InboundMessage
		want string
		err  error
	}{
		{name: "text", msg: model.InboundMessage{Text: &model.TextBody{Body: "hi"}}, want: "hi"},
		{name: "gif with caption", msg: model.InboundMessage{Gif: &model.MediaBody{Preview: "data:image/gif;base64,AA", Caption: "lol"}}, want: "a cat (lol)"},
		{name: "image with caption", msg: model.InboundMessage{Image: &model.MediaBody{Preview: "https://x/y.jpg", Caption: "my dog"}}, want: "a cat. my dog"},
		{name: "image without caption", msg: model.InboundMessage{Image: &model.MediaBody{Preview: "https://x/y.jpg"}}, want: "a cat"},
		{name: "link with description", msg: model.InboundMessage{LinkPreview: &model.LinkPreview{Title: "Go 1.24", Description: "Release notes"}}, want: "Go 1.24. Release notes"},
		{name: "link with preview image", msg: model.InboundMessage{LinkPreview: &model.LinkPreview{Title: "Go 1.24", Preview: "https://x/p.png"}}, want: "Go 1.24. a cat"},
		{name: "empty text falls through", msg: model.InboundMessage{Text: &model.TextBody{}}, err: ErrNoContent},
		{name: "sticker", msg: model.InboundMessage{Type: "sticker"}, err: ErrNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewContentResolver(&fakeDescriber{desc: "a cat"})
			got, err := r.Resolve(context.Background(), &tt.msg)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("Resolve() error = %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestContentResolveDescriberFailure(t *testing.T) {
	r := NewContentResolver(&fakeDescriber{err: errors.New("vision down")})
	_, err := r.Resolve(context.Background(), &model.InboundMessage{Image: &model.MediaBody{Preview: "https://x/y.jpg"}})
	if err == nil || errors.Is(err, ErrNoContent) {
		t.Errorf("Resolve() error = %v, want describer failure", err)
	}
}

func TestDispatchOrdersAndIsolatesEvents(t *testing.T) {
	env := newTestEnv(t)
	env.backend.fallback = func(req *llm.TurnRequest) (*llm.TurnResponse, error) {
		last := req.Input[len(req.Input)-1].Content
		if strings.Contains(last, "explode") {
			return nil, errors.New("backend exploded")
		}
		return &llm.TurnResponse{ID: "resp", Text: "no reply"}, nil
	}

	d := NewDispatcher(env.engine, NewContentResolver(&fakeDescriber{desc: "a photo"}), time.Minute, logger.Nop())
	d.Dispatch(&model.WebhookPayload{Messages: []model.InboundMessage{
		{ID: "1", ChatID: directChat, Text: &model.TextBody{Body: "first"}},
		{ID: "2", ChatID: directChat, FromMe: true, Text: &model.TextBody{Body: "echo of my own reply"}},
		{ID: "3", ChatID: directChat, Text: &model.TextBody{Body: "explode"}},
		{ID: "4", ChatID: directChat, Type: "sticker"},
		{ID: "5", ChatID: directChat, Image: &model.MediaBody{Preview: "https://x/y.jpg"}},
		{ID: "6", Text: &model.TextBody{Body: "no chat"}},
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	var got []string
	for _, m := range env.messages(t, directChat) {
		got = append(got, m.Content)
	}
	want := []string{"first", "explode", "a photo"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("history = %v, want %v", got, want)
	}
}

func TestDispatchGreetsNewGroup(t *testing.T) {
	env := newTestEnv(t, reply("greet_1", "Hello!"), reply("resp_2", "no reply"))

	d := NewDispatcher(env.engine, NewContentResolver(nil), time.Minute, logger.Nop())
	d.Dispatch(&model.WebhookPayload{
		Groups: []model.GroupNotification{{
			ID:           groupChat,
			Name:         "Book club",
			Participants: []model.Participant{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		}},
		Messages: []model.InboundMessage{
			{ID: "1", ChatID: groupChat, FromName: "Ana", Text: &model.TextBody{Body: "welcome!"}},
		},
	})
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	msgs := env.messages(t, groupChat)
	if len(msgs) != 2 || msgs[0].Role != model.RoleAssistant || msgs[1].Content != "welcome!" {
		t.Errorf("history = %+v, want greeting then message", msgs)
	}
	if conv := env.conversation(t, groupChat); conv.ParticipantCount != 3 || conv.Name != "Book club" {
		t.Errorf("conversation = %+v", conv)
	}
}
