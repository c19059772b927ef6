package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/capitalize-ai/chat-relay/internal/middleware"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/service"
	"github.com/capitalize-ai/chat-relay/internal/store"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

const groupChat = "120363041234567890@g.us"

type fakeDispatcher struct {
	payloads []*model.WebhookPayload
}

func (d *fakeDispatcher) Dispatch(p *model.WebhookPayload) {
	d.payloads = append(d.payloads, p)
}

type fakeService struct {
	convs     map[string]*model.Conversation
	messages  []model.Message
	gotBefore time.Time
	gotReplay *service.ReplayRequest
	replayErr error
}

func (s *fakeService) List(context.Context) ([]model.ConversationSummary, error) {
	var out []model.ConversationSummary
	for _, c := range s.convs {
		out = append(out, model.ConversationSummary{Conversation: *c})
	}
	return out, nil
}

func (s *fakeService) Get(_ context.Context, id string) (*model.Conversation, error) {
	c, ok := s.convs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (s *fakeService) Timeline(_ context.Context, _ string, before time.Time, _ int) ([]model.Message, error) {
	s.gotBefore = before
	return s.messages, nil
}

func (s *fakeService) Replay(ctx context.Context, id string, req *service.ReplayRequest) (*service.Outcome, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	s.gotReplay = req
	if s.replayErr != nil {
		return nil, s.replayErr
	}
	return &service.Outcome{Kind: service.KindRespond, Text: "hi", Generated: true, State: model.StateNormal, Debug: true}, nil
}

func newRouter(svc *fakeService, d *fakeDispatcher) http.Handler {
	msgs := NewMessageHandler(d, logger.Nop())
	convs := NewConversationHandler(svc, logger.Nop())

	r := chi.NewRouter()
	r.Post("/whapi", msgs.Webhook)
	r.Get("/debug/conversations", convs.List)
	r.Get("/debug/conversations/{id}", convs.Timeline)
	r.Post("/debug/conversations/{id}/replay", convs.Replay)
	return r
}

func testService() *fakeService {
	conv := model.NewConversation(groupChat, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	conv.Name = "Book club"
	conv.AssistantState = model.StatePaused
	return &fakeService{
		convs: map[string]*model.Conversation{groupChat: conv},
		messages: []model.Message{
			{ConversationID: groupChat, Role: model.RoleUser, Author: "Ana", Content: "**bold** <script>alert(1)</script>"},
			{ConversationID: groupChat, Role: model.RoleAssistant, Content: "plain reply"},
		},
	}
}

func TestWebhook(t *testing.T) {
	d := &fakeDispatcher{}
	r := newRouter(testService(), d)

	body := `{"messages":[{"id":"m1","chat_id":"40711111111@s.whatsapp.net","text":{"body":"hi"}}]}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/whapi", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]string
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["status"] != "success" {
		t.Errorf("body = %v", resp)
	}
	if len(d.payloads) != 1 || d.payloads[0].Messages[0].Text.Body != "hi" {
		t.Errorf("dispatched = %+v", d.payloads)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/whapi", strings.NewReader(`{"messages":`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
	if len(d.payloads) != 1 {
		t.Errorf("malformed body was dispatched")
	}
}

func TestWebhookLogsCorrelationID(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := &logger.Logger{Logger: zap.New(core)}
	h := middleware.Logging(log)(http.HandlerFunc(NewMessageHandler(&fakeDispatcher{}, log).Webhook))

	for _, body := range []string{`{"messages":[]}`, `{not json`} {
		req := httptest.NewRequest(http.MethodPost, "/whapi", strings.NewReader(body))
		req.Header.Set("X-Correlation-ID", "corr-42")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	for _, msg := range []string{"webhook received", "malformed webhook payload"} {
		entries := logs.FilterMessage(msg).All()
		if len(entries) != 1 {
			t.Fatalf("%q logged %d times, want 1", msg, len(entries))
		}
		if got := entries[0].ContextMap()["correlation_id"]; got != "corr-42" {
			t.Errorf("%q correlation_id = %v, want corr-42", msg, got)
		}
	}
}

func TestDebugList(t *testing.T) {
	r := newRouter(testService(), &fakeDispatcher{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/conversations", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, want := range []string{"Book club", `class="paused"`, "/debug/conversations/" + groupChat} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestDebugTimeline(t *testing.T) {
	svc := testService()
	r := newRouter(svc, &fakeDispatcher{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/conversations/"+groupChat+"?before=2025-03-01T12:00:00Z", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<strong>bold</strong>") {
		t.Error("markdown not rendered")
	}
	if strings.Contains(body, "<script>alert(1)</script>") {
		t.Error("raw HTML from a message reached the page")
	}
	if !svc.gotBefore.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("before = %v", svc.gotBefore)
	}

	for path, want := range map[string]int{
		"/debug/conversations/" + groupChat + "?before=yesterday": http.StatusBadRequest,
		"/debug/conversations/999@g.us":                          http.StatusNotFound,
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != want {
			t.Errorf("GET %s status = %d, want %d", path, rec.Code, want)
		}
	}
}

func TestDebugReplay(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		body      string
		replayErr error
		want      int
	}{
		{name: "ok", id: groupChat, body: `{"message":"@assistant hi","timestamp":"2025-03-01T12:00:00Z","author":"Ana"}`, want: http.StatusOK},
		{name: "empty message", id: groupChat, body: `{"message":""}`, want: http.StatusBadRequest},
		{name: "bad json", id: groupChat, body: `{`, want: http.StatusBadRequest},
		{name: "unknown conversation", id: "999@g.us", body: `{"message":"hi"}`, want: http.StatusNotFound},
		{name: "backend failure", id: groupChat, body: `{"message":"hi"}`, replayErr: errors.New("boom"), want: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := testService()
			svc.replayErr = tt.replayErr
			r := newRouter(svc, &fakeDispatcher{})

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/conversations/"+tt.id+"/replay", strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want != http.StatusOK {
				return
			}

			var out service.Outcome
			if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !out.Debug || out.Kind != service.KindRespond {
				t.Errorf("outcome = %+v", out)
			}
			if svc.gotReplay.Author != "Ana" || !svc.gotReplay.Timestamp.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)) {
				t.Errorf("replay request = %+v", svc.gotReplay)
			}
		})
	}
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReady(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"store": ok}).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("ready status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"store": ok, "nats": down}).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "connection refused") {
		t.Errorf("not ready: status %d body %s", rec.Code, rec.Body.String())
	}
}
