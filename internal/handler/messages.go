package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/middleware"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

// Dispatcher accepts webhook batches for asynchronous processing.
type Dispatcher interface {
	Dispatch(payload *model.WebhookPayload)
}

// MessageHandler receives the messaging gateway's webhook.
type MessageHandler struct {
	dispatcher Dispatcher
	logger     *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(dispatcher Dispatcher, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		dispatcher: dispatcher,
		logger:     log.Named("webhook"),
	}
}

// Webhook handles POST /whapi. The batch is queued and acknowledged
// immediately; per-event failures never reach the gateway.
func (h *MessageHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var payload model.WebhookPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		h.logger.Warn("malformed webhook payload",
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.logger.Debug("webhook received",
		zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		zap.Int("groups", len(payload.Groups)),
		zap.Int("messages", len(payload.Messages)),
	)
	h.dispatcher.Dispatch(&payload)

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
