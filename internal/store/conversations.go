package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message senders.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

type ConversationRecord struct {
	ID            string
	UserID        string
	Title         string
	LastMessageAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type MessageRecord struct {
	ID             string
	ConversationID string
	Sender         string
	Content        string
	Processed      bool
	CreatedAt      time.Time
}

func (s *Store) CreateConversation(ctx context.Context, userID, title string) (ConversationRecord, error) {
	if strings.TrimSpace(userID) == "" {
		return ConversationRecord{}, fmt.Errorf("user id required")
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO conversations (id, user_id, title)
VALUES ($1,$2,$3)
RETURNING id, user_id, title, last_message_at, created_at, updated_at
`, uuid.NewString(), userID, nullableString(title))
	return scanConversation(row.Scan)
}

func scanConversation(scan func(...interface{}) error) (ConversationRecord, error) {
	var rec ConversationRecord
	var title sql.NullString
	var lastMsg sql.NullTime
	if err := scan(&rec.ID, &rec.UserID, &title, &lastMsg, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return ConversationRecord{}, err
	}
	if title.Valid {
		rec.Title = title.String
	}
	if lastMsg.Valid {
		t := lastMsg.Time
		rec.LastMessageAt = &t
	}
	return rec, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (ConversationRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, user_id, title, last_message_at, created_at, updated_at
FROM conversations WHERE id=$1
`, id)
	rec, err := scanConversation(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ConversationRecord{}, false, nil
		}
		return ConversationRecord{}, false, err
	}
	return rec, true, nil
}

// RecentConversations returns conversations with activity inside the
// window, most recent first.
func (s *Store) RecentConversations(ctx context.Context, window time.Duration, limit int) ([]ConversationRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, title, last_message_at, created_at, updated_at
FROM conversations
WHERE last_message_at > now() - $1::interval
ORDER BY last_message_at DESC
LIMIT $2
`, fmt.Sprintf("%d seconds", int(window.Seconds())), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ConversationRecord
	for rows.Next() {
		rec, err := scanConversation(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const messageColumns = `id, conversation_id, sender, content, processed, created_at`

func scanMessage(scan func(...interface{}) error) (MessageRecord, error) {
	var rec MessageRecord
	if err := scan(&rec.ID, &rec.ConversationID, &rec.Sender, &rec.Content, &rec.Processed, &rec.CreatedAt); err != nil {
		return MessageRecord{}, err
	}
	return rec, nil
}

// CreateMessage persists a message and bumps the conversation's
// last_message_at.
func (s *Store) CreateMessage(ctx context.Context, rec MessageRecord) (MessageRecord, error) {
	if strings.TrimSpace(rec.ConversationID) == "" {
		return MessageRecord{}, fmt.Errorf("conversation id required")
	}
	if strings.TrimSpace(rec.Content) == "" {
		return MessageRecord{}, fmt.Errorf("message content required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return MessageRecord{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
INSERT INTO messages (id, conversation_id, sender, content)
VALUES ($1,$2,$3,$4)
RETURNING `+messageColumns+`
`, rec.ID, rec.ConversationID, rec.Sender, rec.Content)
	out, err := scanMessage(row.Scan)
	if err != nil {
		return MessageRecord{}, err
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE conversations SET last_message_at=now(), updated_at=now() WHERE id=$1
`, rec.ConversationID); err != nil {
		return MessageRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return MessageRecord{}, err
	}
	return out, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (MessageRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+messageColumns+` FROM messages WHERE id=$1
`, id)
	rec, err := scanMessage(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MessageRecord{}, false, nil
		}
		return MessageRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) MarkMessageProcessed(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE messages SET processed=true WHERE id=$1
`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentMessages returns the newest messages of a conversation in
// chronological order.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+messageColumns+` FROM (
    SELECT `+messageColumns+` FROM messages
    WHERE conversation_id=$1
    ORDER BY created_at DESC
    LIMIT $2
) recent
ORDER BY created_at ASC
`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MessageRecord
	for rows.Next() {
		rec, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
