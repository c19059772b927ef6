package nats

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/store"
	"github.com/capitalize-ai/chat-relay/pkg/metrics"
)

const (
	// HistoryStream is the name of the conversation history stream.
	HistoryStream = "RELAY_HISTORY"

	// SubjectPrefix is the prefix for all history subjects.
	SubjectPrefix = "relay.history"

	fetchBatch = 256
)

// HistoryStore is an append-only message log on a JetStream stream with
// one subject per conversation.
type HistoryStore struct {
	client *Client
}

// NewHistoryStore creates a history store. Call EnsureStream before use.
func NewHistoryStore(client *Client) *HistoryStore {
	return &HistoryStore{client: client}
}

// EnsureStream creates or updates the history stream. Deletes and purges
// are denied so the log stays append-only.
func (s *HistoryStore) EnsureStream(ctx context.Context) error {
	_, err := s.client.JetStream().CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        HistoryStream,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour, // 1 year
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Chat relay conversation history",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// HistorySubject returns the subject holding one conversation's log. Chat
// ids contain dots, so they are encoded into a single subject token.
func HistorySubject(conversationID string) string {
	return SubjectPrefix + "." + encodeToken(conversationID)
}

func encodeToken(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

func decodeToken(token string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Append publishes a message to the conversation subject.
func (s *HistoryStore) Append(ctx context.Context, msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = store.NewID()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := s.client.JetStream().Publish(ctx, HistorySubject(msg.ConversationID), data, jetstream.WithMsgID(msg.ID)); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Recent replays the conversation subject through an ephemeral consumer
// and keeps the newest limit entries before the cutoff.
func (s *HistoryStore) Recent(ctx context.Context, conversationID string, limit int, before time.Time) ([]model.Message, error) {
	if limit <= 0 {
		return []model.Message{}, nil
	}
	js := s.client.JetStream()

	consumer, err := js.CreateConsumer(ctx, HistoryStream, jetstream.ConsumerConfig{
		FilterSubject:     HistorySubject(conversationID),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}
	info := consumer.CachedInfo()
	defer func() {
		if err := js.DeleteConsumer(context.WithoutCancel(ctx), HistoryStream, info.Name); err != nil && !errors.Is(err, jetstream.ErrConsumerNotFound) {
			s.client.logger.Debug("failed to delete history consumer", zap.String("consumer", info.Name), zap.Error(err))
		}
	}()

	pending := int(info.NumPending)
	messages := make([]model.Message, 0, pending)
	for received := 0; received < pending; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, err := consumer.Fetch(min(pending-received, fetchBatch), jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch messages: %w", err)
		}

		n := 0
		for msg := range batch.Messages() {
			n++
			var m model.Message
			if err := json.Unmarshal(msg.Data(), &m); err != nil {
				s.client.logger.Warn("skipping malformed history entry", zap.String("subject", msg.Subject()), zap.Error(err))
				continue
			}
			if m.CreatedAt.Before(before) {
				messages = append(messages, m)
			}
		}
		if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("batch error: %w", err)
		}
		if n == 0 {
			break
		}
		received += n
	}

	// Publish order is arrival order; sort by timestamp so late appends
	// with earlier timestamps land in place.
	sort.SliceStable(messages, func(i, j int) bool { return messages[i].CreatedAt.Before(messages[j].CreatedAt) })
	return store.Tail(messages, limit), nil
}

// RecordStats publishes the stream size to the metrics gauge.
func (s *HistoryStore) RecordStats(ctx context.Context) error {
	stream, err := s.client.JetStream().Stream(ctx, HistoryStream)
	if err != nil {
		return fmt.Errorf("failed to get stream: %w", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get stream info: %w", err)
	}
	metrics.NATSStreamMessages.WithLabelValues(HistoryStream).Set(float64(info.State.Msgs))
	return nil
}
