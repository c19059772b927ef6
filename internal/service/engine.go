// Package service contains the reply-decision engine and the services
// built around it.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/llm"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/store"
	"github.com/capitalize-ai/chat-relay/internal/tools"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
	"github.com/capitalize-ai/chat-relay/pkg/metrics"
	"github.com/capitalize-ai/chat-relay/pkg/tracing"
)

// Messenger delivers engine output to the chat.
type Messenger interface {
	SendMessage(ctx context.Context, chatID, text string) error
	React(ctx context.Context, messageID, emoji string) error
	SendTyping(ctx context.Context, chatID string) error
}

// Prompts are the instruction templates. They may reference {{name}},
// {{author}}, {{group}} and {{participants}}.
type Prompts struct {
	Direct   string
	Group    string
	Paused   string
	Greeting string
}

// EngineConfig tunes the engine.
type EngineConfig struct {
	AssistantName string
	MentionToken  string
	SelfMentions  []string
	ResumePhrases []string
	PauseReaction string
	PauseText     string
	HistoryLimit  int
	MaxToolRounds int
	Prompts       Prompts
}

// Dependencies are the collaborators of an Engine.
type Dependencies struct {
	Conversations store.ConversationStore
	History       store.HistoryStore
	Registry      *tools.Registry
	Backend       llm.Backend
	Messenger     Messenger
	Participants  *ParticipantCache
	Classifier    *Classifier
	Locks         *KeyedMutex
}

// Event is one inbound chat message after content resolution.
type Event struct {
	ConversationID string
	MessageID      string
	Author         string
	Text           string
	IsGroup        bool
	GroupName      string
	At             time.Time
	// Debug events are evaluated against history before At and leave no
	// trace: nothing is stored or sent.
	Debug bool
}

// GroupAddition reports that the assistant was added to a group.
type GroupAddition struct {
	ConversationID string
	Name           string
	Participants   int
	At             time.Time
}

// Outcome is what the engine decided for one event.
type Outcome struct {
	Kind      OutcomeKind          `json:"kind"`
	Text      string               `json:"text,omitempty"`
	Reaction  string               `json:"reaction,omitempty"`
	Generated bool                 `json:"generated"`
	TurnID    string               `json:"turn_id,omitempty"`
	State     model.AssistantState `json:"state"`
	Debug     bool                 `json:"debug"`
}

// Engine decides whether and how the assistant replies to each event.
// Events of one conversation are handled one at a time.
type Engine struct {
	convs        store.ConversationStore
	history      store.HistoryStore
	registry     *tools.Registry
	backend      llm.Backend
	messenger    Messenger
	participants *ParticipantCache
	classifier   *Classifier
	locks        *KeyedMutex
	cfg          EngineConfig
	resume       []string
	tracer       trace.Tracer
	logger       *logger.Logger
	now          func() time.Time
}

// NewEngine creates an engine.
func NewEngine(deps Dependencies, cfg EngineConfig, log *logger.Logger) *Engine {
	if cfg.MaxToolRounds < 1 {
		cfg.MaxToolRounds = 1
	}
	if deps.Locks == nil {
		deps.Locks = NewKeyedMutex()
	}
	if deps.Classifier == nil {
		deps.Classifier = NewClassifier(nil, nil)
	}
	return &Engine{
		convs:        deps.Conversations,
		history:      deps.History,
		registry:     deps.Registry,
		backend:      deps.Backend,
		messenger:    deps.Messenger,
		participants: deps.Participants,
		classifier:   deps.Classifier,
		locks:        deps.Locks,
		cfg:          cfg,
		resume:       normalizeAll(cfg.ResumePhrases),
		tracer:       tracing.Tracer(),
		logger:       log.Named("engine"),
		now:          time.Now,
	}
}

// Handle processes one inbound message. Persistence happens before any
// delivery, so a failed send never loses the stored state; the delivery
// error is still returned alongside the outcome.
func (e *Engine) Handle(ctx context.Context, ev Event) (*Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Handle", trace.WithAttributes(
		attribute.String("chat.id", ev.ConversationID),
		attribute.Bool("debug", ev.Debug),
	))
	defer span.End()

	out, err := e.handle(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if out != nil {
		span.SetAttributes(
			attribute.String("outcome.kind", string(out.Kind)),
			attribute.Bool("outcome.generated", out.Generated),
		)
		metrics.RecordEvent("message", outcomeLabel(out))
	} else {
		metrics.RecordEvent("message", "error")
	}
	return out, err
}

func (e *Engine) handle(ctx context.Context, ev Event) (*Outcome, error) {
	unlock, err := e.locks.Lock(ctx, ev.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("lock conversation: %w", err)
	}
	defer unlock()

	log := e.logger.WithChat(ev.ConversationID, ev.MessageID)
	if ev.Debug {
		log = log.With(zap.Bool("debug", true))
	}

	now := ev.At
	if now.IsZero() {
		now = e.now()
	}
	text := e.normalizeMentions(ev.Text)

	conv, err := e.loadConversation(ctx, ev.ConversationID, now)
	if err != nil {
		return nil, err
	}
	if ev.IsGroup {
		conv.IsGroup = true
	}
	if ev.GroupName != "" {
		conv.Name = ev.GroupName
	}
	if e.participants != nil {
		if ev.Debug {
			e.participants.Cached(conv)
		} else {
			e.participants.Resolve(ctx, conv, now)
		}
	}

	history, err := e.history.Recent(ctx, conv.ID, e.cfg.HistoryLimit, now)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	inbound := &model.Message{
		ConversationID: conv.ID,
		Role:           model.RoleUser,
		Content:        text,
		CreatedAt:      now,
	}
	if conv.IsGroup {
		inbound.Author = ev.Author
	}

	if !ev.Debug {
		if err := e.history.Append(ctx, inbound); err != nil {
			return nil, fmt.Errorf("append inbound message: %w", err)
		}
		metrics.RecordMessageStored(string(model.RoleUser))
		conv.MessageCount++
		conv.UpdatedAt = now
		if err := e.convs.Save(ctx, conv); err != nil {
			return nil, fmt.Errorf("save conversation: %w", err)
		}
	}

	addressed := !conv.IsGroup || e.mentions(text)
	resume := containsAny(foldText(text), e.resume)

	if !ShouldGenerate(conv.AssistantState, addressed, resume) {
		log.Debug("paused, not generating")
		return &Outcome{Kind: KindSilent, State: conv.AssistantState, Debug: ev.Debug}, nil
	}

	if addressed && !ev.Debug && e.messenger != nil {
		if err := e.messenger.SendTyping(ctx, conv.ID); err != nil {
			log.Debug("typing indicator failed", zap.Error(err))
		}
	}

	in := turnInput{
		conversationID: conv.ID,
		instructions:   e.instructions(conv, ev.Author),
		history:        toInput(history),
		inbound:        llm.InputMessage{Role: string(model.RoleUser), Content: inbound.ContextLine()},
		dryRun:         ev.Debug,
	}
	// Debug replays rebuild context from history so later turns do not leak in.
	if !ev.Debug {
		in.token = conv.ContinuationToken
		in.unsynced = toInput(unsyncedSince(history, conv.LastSyncedAt))
	}

	res, err := e.runTurns(ctx, in, log)
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}

	kind, clean := e.classifier.Classify(res.text)
	next := NextState(conv.AssistantState, kind, countAssistantReplies(history))
	if next != conv.AssistantState {
		log.Info("assistant state changed",
			zap.String("from", string(conv.AssistantState)),
			zap.String("to", string(next)),
		)
	}

	out := &Outcome{
		Kind:      kind,
		Generated: true,
		TurnID:    res.turnID,
		State:     next,
		Debug:     ev.Debug,
	}
	switch kind {
	case KindRespond:
		out.Text = clean
	case KindPause:
		if ev.MessageID != "" && e.cfg.PauseReaction != "" {
			out.Reaction = e.cfg.PauseReaction
		} else {
			out.Text = e.cfg.PauseText
		}
	}

	if ev.Debug {
		return out, nil
	}

	conv.ContinuationToken = res.turnID
	conv.AssistantState = next
	conv.LastSyncedAt = now
	if out.Text != "" {
		reply := &model.Message{
			ConversationID: conv.ID,
			Role:           model.RoleAssistant,
			Content:        out.Text,
			CreatedAt:      e.replyTime(now),
		}
		if err := e.history.Append(ctx, reply); err != nil {
			return nil, fmt.Errorf("append reply: %w", err)
		}
		metrics.RecordMessageStored(string(model.RoleAssistant))
		conv.MessageCount++
		conv.UpdatedAt = reply.CreatedAt
		// The pause text is canned, so the backend has not seen it.
		if kind == KindRespond {
			conv.LastSyncedAt = reply.CreatedAt
		}
	}
	if err := e.convs.Save(ctx, conv); err != nil {
		return nil, fmt.Errorf("save conversation: %w", err)
	}

	log.Info("event handled",
		zap.String("outcome", string(kind)),
		zap.Int("tool_rounds", res.toolRounds),
		zap.Bool("retried", res.retried),
	)

	return out, e.deliver(ctx, conv.ID, ev.MessageID, out)
}

// Greet sends the introduction when the assistant joins a group it has
// no history with.
func (e *Engine) Greet(ctx context.Context, g GroupAddition) (*Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Greet", trace.WithAttributes(
		attribute.String("chat.id", g.ConversationID),
	))
	defer span.End()

	out, err := e.greet(ctx, g)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordEvent("greeting", "error")
		return nil, err
	}
	metrics.RecordEvent("greeting", outcomeLabel(out))
	return out, nil
}

func (e *Engine) greet(ctx context.Context, g GroupAddition) (*Outcome, error) {
	unlock, err := e.locks.Lock(ctx, g.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("lock conversation: %w", err)
	}
	defer unlock()

	log := e.logger.WithChat(g.ConversationID, "")

	now := g.At
	if now.IsZero() {
		now = e.now()
	}

	prior, err := e.history.Recent(ctx, g.ConversationID, 1, store.EndOfTime)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	conv, err := e.loadConversation(ctx, g.ConversationID, now)
	if err != nil {
		return nil, err
	}
	if len(prior) > 0 {
		log.Debug("known group, skipping greeting")
		return &Outcome{Kind: KindSilent, State: conv.AssistantState}, nil
	}

	conv.IsGroup = true
	if g.Name != "" {
		conv.Name = g.Name
	}
	if g.Participants > 0 {
		conv.ParticipantCount = g.Participants
		conv.LastParticipantCheck = now
	} else if e.participants != nil {
		e.participants.Resolve(ctx, conv, now)
	}

	resp, err := e.backend.Turn(ctx, &llm.TurnRequest{
		Instructions: e.render(e.cfg.Prompts.Greeting, conv, ""),
		Input: []llm.InputMessage{{
			Role:    string(model.RoleUser),
			Content: "Group: " + conv.Name,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("generate greeting: %w", err)
	}

	text := llm.CleanText(resp.Text)
	conv.ContinuationToken = resp.ID
	conv.LastSyncedAt = now
	conv.UpdatedAt = now
	if text != "" {
		msg := &model.Message{
			ConversationID: conv.ID,
			Role:           model.RoleAssistant,
			Content:        text,
			CreatedAt:      now,
		}
		if err := e.history.Append(ctx, msg); err != nil {
			return nil, fmt.Errorf("append greeting: %w", err)
		}
		metrics.RecordMessageStored(string(model.RoleAssistant))
		conv.MessageCount++
	}
	if err := e.convs.Save(ctx, conv); err != nil {
		return nil, fmt.Errorf("save conversation: %w", err)
	}

	out := &Outcome{Kind: KindSilent, Generated: true, TurnID: resp.ID, State: conv.AssistantState}
	if text == "" {
		return out, nil
	}
	out.Kind = KindRespond
	out.Text = text
	log.Info("greeted group", zap.String("group", conv.Name))
	return out, e.deliver(ctx, conv.ID, "", out)
}

func (e *Engine) deliver(ctx context.Context, chatID, messageID string, out *Outcome) error {
	if e.messenger == nil {
		return nil
	}
	if out.Reaction != "" {
		if err := e.messenger.React(ctx, messageID, out.Reaction); err != nil {
			return fmt.Errorf("send reaction: %w", err)
		}
		return nil
	}
	if out.Text != "" {
		if err := e.messenger.SendMessage(ctx, chatID, out.Text); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

func (e *Engine) loadConversation(ctx context.Context, id string, now time.Time) (*model.Conversation, error) {
	conv, err := e.convs.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.NewConversation(id, now), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return conv, nil
}

// normalizeMentions rewrites the assistant's own phone-number mentions to
// the mention token.
func (e *Engine) normalizeMentions(text string) string {
	if e.cfg.MentionToken == "" {
		return text
	}
	for _, m := range e.cfg.SelfMentions {
		if m != "" {
			text = strings.ReplaceAll(text, m, e.cfg.MentionToken)
		}
	}
	return text
}

func (e *Engine) mentions(text string) bool {
	if e.cfg.MentionToken == "" {
		return false
	}
	return strings.Contains(foldText(text), foldText(e.cfg.MentionToken))
}

func (e *Engine) instructions(conv *model.Conversation, author string) string {
	switch {
	case conv.Paused():
		return e.render(e.cfg.Prompts.Paused, conv, author)
	case conv.IsGroup:
		return e.render(e.cfg.Prompts.Group, conv, author)
	default:
		return e.render(e.cfg.Prompts.Direct, conv, author)
	}
}

func (e *Engine) render(tmpl string, conv *model.Conversation, author string) string {
	return strings.NewReplacer(
		"{{name}}", e.cfg.AssistantName,
		"{{author}}", author,
		"{{group}}", conv.Name,
		"{{participants}}", strconv.Itoa(conv.ParticipantCount),
	).Replace(tmpl)
}

// replyTime keeps a reply ordered after the message it answers.
func (e *Engine) replyTime(inbound time.Time) time.Time {
	t := e.now()
	if !t.After(inbound) {
		t = inbound.Add(time.Millisecond)
	}
	return t
}

// unsyncedSince returns the entries newer than the last one the backend
// has seen. A zero mark means the record predates tracking, so the whole
// window is sent.
func unsyncedSince(history []model.Message, mark time.Time) []model.Message {
	if mark.IsZero() {
		return history
	}
	i := sort.Search(len(history), func(i int) bool { return history[i].CreatedAt.After(mark) })
	return history[i:]
}

func toInput(history []model.Message) []llm.InputMessage {
	input := make([]llm.InputMessage, 0, len(history))
	for _, m := range history {
		input = append(input, llm.InputMessage{Role: string(m.Role), Content: m.ContextLine()})
	}
	return input
}

func outcomeLabel(out *Outcome) string {
	if !out.Generated {
		return "skipped"
	}
	return string(out.Kind)
}
