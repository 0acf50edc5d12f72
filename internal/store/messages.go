package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const (
	RoleUser      = "USER"
	RoleAssistant = "ASSISTANT"
)

type Message struct {
	ID             string `db:"id" json:"id"`
	ConversationID string `db:"conversation_id" json:"conversationId"`
	Role           string `db:"role" json:"role"`
	Content        string `db:"content" json:"content"`
	CreatedAt      Time   `db:"created_at" json:"createdAt"`
}

const (
	messageColumns     = `id, conversation_id, role, content, created_at`
	insertMessageQuery = `INSERT INTO messages (id, conversation_id, role, content, created_at)
VALUES (:id, :conversation_id, :role, :content, :created_at)`
)

// Turn is one completed chat exchange.
type Turn struct {
	UserID           string
	ConversationID   string
	Model            string
	UserMessage      string
	AssistantMessage string
}

func (s Store) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	out := []Message{}
	err := s.db.SelectContext(ctx, &out, `SELECT `+messageColumns+` FROM messages
WHERE conversation_id = ? ORDER BY created_at, rowid`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

// RecentMessages returns up to limit of the newest messages, oldest first.
func (s Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	out := []Message{}
	err := s.db.SelectContext(ctx, &out, `SELECT `+messageColumns+` FROM messages
WHERE conversation_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s Store) MessageByID(ctx context.Context, id string) (Message, error) {
	var out Message
	err := s.db.GetContext(ctx, &out, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	return out, nil
}

func (s Store) AppendMessage(ctx context.Context, conversationID, role, content string) (Message, error) {
	if role != RoleUser && role != RoleAssistant {
		return Message{}, ErrInvalidMessageRole
	}
	msg := Message{
		ID:             newID(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      s.timestamp(),
	}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, insertMessageQuery, msg); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return touchConversation(ctx, tx, conversationID, msg.CreatedAt)
	})
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (s Store) DeleteMessage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return requireAffected(result)
}

// RecordTurn commits the usage record, both messages and the conversation
// timestamp together.
func (s Store) RecordTurn(ctx context.Context, turn Turn) ([]Message, error) {
	now := s.timestamp()
	messages := []Message{
		{ID: newID(), ConversationID: turn.ConversationID, Role: RoleUser, Content: turn.UserMessage, CreatedAt: now},
		{ID: newID(), ConversationID: turn.ConversationID, Role: RoleAssistant, Content: turn.AssistantMessage, CreatedAt: now},
	}

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO api_usage (id, user_id, model, used_at) VALUES (?, ?, ?, ?)`,
			newID(), turn.UserID, turn.Model, now); err != nil {
			return fmt.Errorf("insert usage: %w", err)
		}
		for _, msg := range messages {
			if _, err := tx.NamedExecContext(ctx, insertMessageQuery, msg); err != nil {
				return fmt.Errorf("insert %s message: %w", msg.Role, err)
			}
		}
		return touchConversation(ctx, tx, turn.ConversationID, now)
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func touchConversation(ctx context.Context, tx *sqlx.Tx, conversationID string, at Time) error {
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, at, conversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}
