// Package handler provides HTTP handlers for the relay server.
package handler

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/middleware"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/service"
	"github.com/capitalize-ai/chat-relay/internal/store"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

// ConversationService is the debug read model plus replay.
type ConversationService interface {
	List(ctx context.Context) ([]model.ConversationSummary, error)
	Get(ctx context.Context, id string) (*model.Conversation, error)
	Timeline(ctx context.Context, id string, before time.Time, limit int) ([]model.Message, error)
	Replay(ctx context.Context, id string, req *service.ReplayRequest) (*service.Outcome, error)
}

// ConversationHandler serves the debug surface.
type ConversationHandler struct {
	service   ConversationService
	templates map[string]*template.Template
	logger    *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service:   svc,
		templates: loadTemplates(),
		logger:    log.Named("debug"),
	}
}

type listPage struct {
	Conversations []model.ConversationSummary
}

type timelinePage struct {
	Conversation *model.Conversation
	Messages     []timelineEntry
	Older        string
	ReplayURL    string
}

type timelineEntry struct {
	model.Message
	HTML template.HTML
}

// List handles GET /debug/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	convs, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list conversations", zap.Error(err))
		http.Error(w, "failed to list conversations", http.StatusInternalServerError)
		return
	}

	h.render(w, "conversations.html", listPage{Conversations: convs})
}

// Timeline handles GET /debug/conversations/{id}
func (h *ConversationHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := conversationID(r)

	if err := middleware.ValidateConversationID(id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var before time.Time
	if b := r.URL.Query().Get("before"); b != "" {
		parsed, err := time.Parse(time.RFC3339Nano, b)
		if err != nil {
			http.Error(w, "before must be an RFC3339 timestamp", http.StatusBadRequest)
			return
		}
		before = parsed
	}

	limit := service.DefaultTimelineLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	conv, err := h.service.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to get conversation", zap.String("chat_id", id), zap.Error(err))
		http.Error(w, "failed to get conversation", http.StatusInternalServerError)
		return
	}

	msgs, err := h.service.Timeline(ctx, id, before, limit)
	if err != nil {
		h.logger.Error("failed to load timeline", zap.String("chat_id", id), zap.Error(err))
		http.Error(w, "failed to load timeline", http.StatusInternalServerError)
		return
	}

	page := timelinePage{
		Conversation: conv,
		Messages:     make([]timelineEntry, 0, len(msgs)),
		ReplayURL:    strings.TrimSuffix(r.URL.Path, "/") + "/replay",
	}
	for _, m := range msgs {
		page.Messages = append(page.Messages, timelineEntry{Message: m, HTML: renderMarkdown(m.Content)})
	}
	if len(msgs) == limit {
		page.Older = msgs[0].CreatedAt.UTC().Format(time.RFC3339Nano)
	}

	h.render(w, "timeline.html", page)
}

// Replay handles POST /debug/conversations/{id}/replay
func (h *ConversationHandler) Replay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := conversationID(r)

	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req service.ReplayRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Message); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateAuthor(req.Author); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.service.Replay(ctx, id, &req)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.logger.Error("replay failed",
			zap.String("chat_id", id),
			zap.String("correlation_id", middleware.GetCorrelationID(ctx)),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "replay failed")
		return
	}

	writeJSON(w, http.StatusOK, out)
}
