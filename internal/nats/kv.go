package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/store"
)

// ConversationBucket is the KV bucket holding conversation records.
const ConversationBucket = "relay_conversations"

// ConversationStore keeps conversation records in a JetStream KV bucket,
// one key per chat.
type ConversationStore struct {
	client *Client
	kv     jetstream.KeyValue
}

// NewConversationStore creates or binds the conversation bucket.
func NewConversationStore(ctx context.Context, client *Client) (*ConversationStore, error) {
	kv, err := client.JetStream().CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      ConversationBucket,
		Description: "Chat relay conversation records",
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create key-value bucket: %w", err)
	}
	return &ConversationStore{client: client, kv: kv}, nil
}

// ConversationKey returns the KV key for a chat id.
func ConversationKey(conversationID string) string {
	return encodeToken(conversationID)
}

// Get returns a conversation record.
func (s *ConversationStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	entry, err := s.kv.Get(ctx, ConversationKey(id))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}

	var conv model.Conversation
	if err := json.Unmarshal(entry.Value(), &conv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation %s: %w", id, err)
	}
	return &conv, nil
}

// Save upserts a conversation record.
func (s *ConversationStore) Save(ctx context.Context, conv *model.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if _, err := s.kv.Put(ctx, ConversationKey(conv.ID), data); err != nil {
		return fmt.Errorf("failed to put conversation %s: %w", conv.ID, err)
	}
	return nil
}

// List returns all records, most recently updated first.
func (s *ConversationStore) List(ctx context.Context) ([]*model.Conversation, error) {
	keys, err := s.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	out := make([]*model.Conversation, 0, len(keys))
	for _, key := range keys {
		id, err := decodeToken(key)
		if err != nil {
			s.client.logger.Warn("skipping undecodable conversation key", zap.String("key", key), zap.Error(err))
			continue
		}
		conv, err := s.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}
