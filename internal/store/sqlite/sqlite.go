// Package sqlite implements the store contracts on a single SQLite
// database using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/store"
)

// Store implements ConversationStore, HistoryStore and ReminderStore.
// All public methods are safe for concurrent use (SQLite serializes
// writes).
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at dbPath and applies the schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id                     TEXT PRIMARY KEY,
		is_group               INTEGER NOT NULL DEFAULT 0,
		name                   TEXT NOT NULL DEFAULT '',
		participant_count      INTEGER NOT NULL DEFAULT 0,
		assistant_state        TEXT NOT NULL DEFAULT 'normal',
		last_participant_check TEXT NOT NULL DEFAULT '',
		continuation_token     TEXT NOT NULL DEFAULT '',
		last_synced_at         TEXT NOT NULL DEFAULT '',
		message_count          INTEGER NOT NULL DEFAULT 0,
		created_at             TEXT NOT NULL,
		updated_at             TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		author          TEXT NOT NULL DEFAULT '',
		created_at      INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
		ON messages(conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS reminders (
		id              TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		title           TEXT NOT NULL,
		due_at          TEXT NOT NULL,
		is_individual   INTEGER NOT NULL DEFAULT 0,
		target_phone    TEXT NOT NULL DEFAULT '',
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL,
		PRIMARY KEY (conversation_id, id)
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.addColumn("conversations", "last_synced_at", "TEXT NOT NULL DEFAULT ''")
}

// addColumn adds a column to a table created by an older schema.
func (s *Store) addColumn(table, column, decl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid              int
			name, typ        string
			notNull, primary int
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &primary); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	return err
}

// timeLayout is fixed-width so text columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Get returns a conversation record.
func (s *Store) Get(ctx context.Context, id string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, is_group, name, participant_count, assistant_state, last_participant_check,
		       continuation_token, last_synced_at, message_count, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id)

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return conv, nil
}

// Save upserts a conversation record.
func (s *Store) Save(ctx context.Context, c *model.Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, is_group, name, participant_count, assistant_state,
			last_participant_check, continuation_token, last_synced_at, message_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			is_group = excluded.is_group,
			name = excluded.name,
			participant_count = excluded.participant_count,
			assistant_state = excluded.assistant_state,
			last_participant_check = excluded.last_participant_check,
			continuation_token = excluded.continuation_token,
			last_synced_at = excluded.last_synced_at,
			message_count = excluded.message_count,
			updated_at = excluded.updated_at
	`, c.ID, boolToInt(c.IsGroup), c.Name, c.ParticipantCount, string(c.AssistantState),
		formatTime(c.LastParticipantCheck), c.ContinuationToken, formatTime(c.LastSyncedAt), c.MessageCount,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", c.ID, err)
	}
	return nil
}

// List returns all conversations, most recently updated first.
func (s *Store) List(ctx context.Context) ([]*model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, is_group, name, participant_count, assistant_state, last_participant_check,
		       continuation_token, last_synced_at, message_count, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(sc scanner) (*model.Conversation, error) {
	var (
		c                                   model.Conversation
		isGroup                             int
		state                               string
		lastCheck, synced, created, updated string
	)
	if err := sc.Scan(&c.ID, &isGroup, &c.Name, &c.ParticipantCount, &state, &lastCheck,
		&c.ContinuationToken, &synced, &c.MessageCount, &created, &updated); err != nil {
		return nil, err
	}
	c.IsGroup = isGroup == 1
	c.AssistantState = model.AssistantState(state)

	var err error
	if c.LastParticipantCheck, err = parseTime(lastCheck); err != nil {
		return nil, fmt.Errorf("parse last_participant_check: %w", err)
	}
	if c.LastSyncedAt, err = parseTime(synced); err != nil {
		return nil, fmt.Errorf("parse last_synced_at: %w", err)
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &c, nil
}

// Append writes a history entry. Timestamps are stored as Unix
// nanoseconds so range queries stay numeric.
func (s *Store) Append(ctx context.Context, msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = store.NewID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, author, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, string(msg.Role), msg.Content, msg.Author, msg.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// Recent returns at most limit entries strictly before the cutoff,
// oldest first.
func (s *Store) Recent(ctx context.Context, conversationID string, limit int, before time.Time) ([]model.Message, error) {
	if limit <= 0 {
		return []model.Message{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, author, created_at
		FROM messages
		WHERE conversation_id = ? AND created_at < ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, conversationID, before.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	var newestFirst []model.Message
	for rows.Next() {
		var (
			m    model.Message
			role string
			ts   int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.Author, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = model.Role(role)
		m.CreatedAt = time.Unix(0, ts).UTC()
		newestFirst = append(newestFirst, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.Message, len(newestFirst))
	for i, m := range newestFirst {
		out[len(newestFirst)-1-i] = m
	}
	return out, nil
}

// Create inserts a reminder, assigning an ID when missing.
func (s *Store) Create(ctx context.Context, r *model.Reminder) error {
	if r.ID == "" {
		r.ID = store.NewID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (id, conversation_id, title, due_at, is_individual, target_phone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.ConversationID, r.Title, formatTime(r.DueAt), boolToInt(r.IsIndividual), r.TargetPhone,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create reminder: %w", err)
	}
	return nil
}

// GetReminder returns a reminder scoped to its conversation.
func (s *Store) GetReminder(ctx context.Context, conversationID, id string) (*model.Reminder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, title, due_at, is_individual, target_phone, created_at, updated_at
		FROM reminders WHERE conversation_id = ? AND id = ?
	`, conversationID, id)

	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reminder %s: %w", id, err)
	}
	return r, nil
}

// Update replaces an existing reminder.
func (s *Store) Update(ctx context.Context, r *model.Reminder) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reminders
		SET title = ?, due_at = ?, is_individual = ?, target_phone = ?, updated_at = ?
		WHERE conversation_id = ? AND id = ?
	`, r.Title, formatTime(r.DueAt), boolToInt(r.IsIndividual), r.TargetPhone, formatTime(r.UpdatedAt),
		r.ConversationID, r.ID)
	if err != nil {
		return fmt.Errorf("update reminder %s: %w", r.ID, err)
	}
	return requireOneRow(res)
}

// Delete removes a reminder.
func (s *Store) Delete(ctx context.Context, conversationID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE conversation_id = ? AND id = ?`, conversationID, id)
	if err != nil {
		return fmt.Errorf("delete reminder %s: %w", id, err)
	}
	return requireOneRow(res)
}

// ListReminders returns a conversation's reminders ordered by due time.
func (s *Store) ListReminders(ctx context.Context, conversationID string) ([]*model.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, title, due_at, is_individual, target_phone, created_at, updated_at
		FROM reminders WHERE conversation_id = ? ORDER BY due_at ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	var out []*model.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanReminder(sc scanner) (*model.Reminder, error) {
	var (
		r                     model.Reminder
		individual            int
		due, created, updated string
	)
	if err := sc.Scan(&r.ID, &r.ConversationID, &r.Title, &due, &individual, &r.TargetPhone, &created, &updated); err != nil {
		return nil, err
	}
	r.IsIndividual = individual == 1

	var err error
	if r.DueAt, err = parseTime(due); err != nil {
		return nil, fmt.Errorf("parse due_at: %w", err)
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &r, nil
}

// Reminders adapts the store to the store.ReminderStore contract, whose
// method names overlap with the conversation contract.
func (s *Store) Reminders() store.ReminderStore {
	return reminderView{s}
}

type reminderView struct{ s *Store }

func (v reminderView) Create(ctx context.Context, r *model.Reminder) error { return v.s.Create(ctx, r) }
func (v reminderView) Get(ctx context.Context, conversationID, id string) (*model.Reminder, error) {
	return v.s.GetReminder(ctx, conversationID, id)
}
func (v reminderView) Update(ctx context.Context, r *model.Reminder) error { return v.s.Update(ctx, r) }
func (v reminderView) Delete(ctx context.Context, conversationID, id string) error {
	return v.s.Delete(ctx, conversationID, id)
}
func (v reminderView) List(ctx context.Context, conversationID string) ([]*model.Reminder, error) {
	return v.s.ListReminders(ctx, conversationID)
}
