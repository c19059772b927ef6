package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
	"github.com/capitalize-ai/chat-relay/pkg/metrics"
)

// Dispatcher turns webhook batches into engine events. Events of one
// conversation are queued and handled in arrival order; failures are
// logged per event and never affect siblings.
type Dispatcher struct {
	engine       *Engine
	content      *ContentResolver
	queue        *KeyedQueue
	eventTimeout time.Duration
	logger       *logger.Logger
	now          func() time.Time

	base   context.Context
	cancel context.CancelFunc
}

// NewDispatcher creates a dispatcher. Queued work runs on a context
// detached from the webhook request and canceled by Shutdown.
func NewDispatcher(engine *Engine, content *ContentResolver, eventTimeout time.Duration, log *logger.Logger) *Dispatcher {
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		engine:       engine,
		content:      content,
		queue:        NewKeyedQueue(),
		eventTimeout: eventTimeout,
		logger:       log.Named("dispatcher"),
		now:          time.Now,
		base:         base,
		cancel:       cancel,
	}
}

// Dispatch enqueues every event of a batch and returns immediately.
// Group additions are queued before the batch's messages.
func (d *Dispatcher) Dispatch(payload *model.WebhookPayload) {
	if payload == nil {
		return
	}

	for _, g := range payload.Groups {
		if g.ID == "" {
			metrics.RecordEvent("greeting", "invalid")
			continue
		}
		addition := GroupAddition{
			ConversationID: g.ID,
			Name:           g.Name,
			Participants:   len(g.Participants),
			At:             d.now(),
		}
		d.submit(g.ID, func(ctx context.Context) {
			if _, err := d.engine.Greet(ctx, addition); err != nil {
				d.logger.Error("greeting failed",
					zap.String("chat_id", addition.ConversationID),
					zap.Error(err),
				)
			}
		})
	}

	for i := range payload.Messages {
		msg := payload.Messages[i]
		if msg.FromMe {
			continue
		}
		if msg.ChatID == "" {
			metrics.RecordEvent("message", "invalid")
			d.logger.Warn("message without chat id", zap.String("message_id", msg.ID))
			continue
		}
		at := d.now()
		d.submit(msg.ChatID, func(ctx context.Context) {
			d.handleMessage(ctx, &msg, at)
		})
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg *model.InboundMessage, at time.Time) {
	log := d.logger.WithChat(msg.ChatID, msg.ID)

	text, err := d.content.Resolve(ctx, msg)
	if err != nil {
		if errors.Is(err, ErrNoContent) {
			log.Info("skipping message without content", zap.String("type", msg.Type))
		} else {
			log.Warn("content resolution failed", zap.Error(err))
		}
		metrics.RecordEvent("message", "invalid")
		return
	}

	_, err = d.engine.Handle(ctx, Event{
		ConversationID: msg.ChatID,
		MessageID:      msg.ID,
		Author:         msg.FromName,
		Text:           text,
		IsGroup:        model.IsGroupID(msg.ChatID),
		GroupName:      msg.ChatName,
		At:             at,
	})
	if err != nil {
		log.Error("event processing failed",
			zap.String("author", msg.FromName),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) submit(key string, job func(ctx context.Context)) {
	ok := d.queue.Submit(key, func() {
		ctx := d.base
		if d.eventTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.eventTimeout)
			defer cancel()
		}
		job(ctx)
	})
	if !ok {
		d.logger.Warn("dispatcher closed, dropping event", zap.String("chat_id", key))
	}
}

// Shutdown stops accepting events and waits for queued ones. If ctx
// expires first, in-flight events are canceled.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.queue.Close()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
