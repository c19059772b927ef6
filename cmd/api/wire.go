package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/config"
	"github.com/capitalize-ai/chat-relay/internal/handler"
	"github.com/capitalize-ai/chat-relay/internal/llm"
	natsclient "github.com/capitalize-ai/chat-relay/internal/nats"
	"github.com/capitalize-ai/chat-relay/internal/store"
	"github.com/capitalize-ai/chat-relay/internal/store/memory"
	"github.com/capitalize-ai/chat-relay/internal/store/sqlite"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

// storageSet bundles the persistence chosen by STORAGE_BACKEND.
type storageSet struct {
	Conversations store.ConversationStore
	History       store.HistoryStore
	Reminders     store.ReminderStore
	Checks        map[string]handler.Pinger
	Stats         func(context.Context) error

	closers []func()
}

func (s *storageSet) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores opens the configured backend. The NATS backend keeps
// conversations in a KV bucket and history in a stream; reminders need
// row updates, so they live in SQLite next to it.
func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*storageSet, error) {
	s := &storageSet{Checks: map[string]handler.Pinger{}}

	switch cfg.StorageBackend {
	case "memory":
		log.Warn("using in-memory storage, state is lost on restart")
		s.Conversations = memory.NewConversationStore()
		s.History = memory.NewHistoryStore()
		s.Reminders = memory.NewReminderStore()

	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { db.Close() })
		s.Conversations = db
		s.History = db
		s.Reminders = db.Reminders()
		s.Checks["sqlite"] = db

	case "nats":
		nc, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		s.closers = append(s.closers, nc.Close)
		s.Checks["nats"] = nc

		history := natsclient.NewHistoryStore(nc)
		if err := history.EnsureStream(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("ensure history stream: %w", err)
		}
		convs, err := natsclient.NewConversationStore(ctx, nc)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open conversation bucket: %w", err)
		}
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() { db.Close() })
		s.Checks["sqlite"] = db

		s.Conversations = convs
		s.History = history
		s.Reminders = db.Reminders()
		s.Stats = history.RecordStats
		log.Info("using NATS storage", zap.String("reminders", cfg.SQLitePath))

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}

	return s, nil
}

func newBackend(cfg *config.Config) (llm.Backend, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required")
	}
	switch cfg.Backend {
	case "chat":
		return llm.NewChatClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	default:
		return llm.NewResponsesClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, nil)
	}
}

// newDescriber returns a nil Describer on error so media without captions
// is skipped instead of failing start-up.
func newDescriber(cfg *config.Config) (llm.Describer, error) {
	switch cfg.Describer {
	case "anthropic":
		d, err := llm.NewAnthropicDescriber(cfg.AnthropicAPIKey, option.WithMaxRetries(2))
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		d, err := llm.NewOpenAIDescriber(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.VisionModel)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
}
