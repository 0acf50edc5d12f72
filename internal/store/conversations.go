package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type Conversation struct {
	ID          string `db:"id" json:"id"`
	UserID      string `db:"user_id" json:"userId"`
	CharacterID string `db:"character_id" json:"characterId"`
	Title       string `db:"title" json:"title"`
	CreatedAt   Time   `db:"created_at" json:"createdAt"`
	UpdatedAt   Time   `db:"updated_at" json:"updatedAt"`
}

type ConversationSummary struct {
	Conversation
	CharacterName         string  `db:"character_name"`
	CharacterProfileImage *string `db:"character_profile_image"`
	MessageCount          int     `db:"message_count"`
}

const conversationColumns = `id, user_id, character_id, title, created_at, updated_at`

// CreateConversation opens a new conversation and bumps the character's
// chat count, unless the user already holds MaxConversationsPerUser.
func (s Store) CreateConversation(ctx context.Context, userID, characterID, title string) (Conversation, error) {
	now := s.timestamp()
	out := Conversation{
		ID:          newID(),
		UserID:      userID,
		CharacterID: characterID,
		Title:       title,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
INSERT INTO conversations (id, user_id, character_id, title, created_at, updated_at)
SELECT ?, ?, ?, ?, ?, ?
WHERE (SELECT COUNT(*) FROM conversations WHERE user_id = ?) < ?`,
			out.ID, out.UserID, out.CharacterID, out.Title, now, now, userID, MaxConversationsPerUser)
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		if err := requireAffected(result); err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrConversationLimit
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE characters SET chat_count = chat_count + 1 WHERE id = ?`, characterID); err != nil {
			return fmt.Errorf("bump chat count: %w", err)
		}
		return nil
	})
	if err != nil {
		return Conversation{}, err
	}
	return out, nil
}

func (s Store) ConversationByID(ctx context.Context, id string) (Conversation, error) {
	var out Conversation
	err := s.db.GetContext(ctx, &out, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return out, nil
}

func (s Store) ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	out := []ConversationSummary{}
	err := s.db.SelectContext(ctx, &out, `
SELECT c.id, c.user_id, c.character_id, c.title, c.created_at, c.updated_at,
  ch.name AS character_name, ch.profile_image AS character_profile_image,
  COUNT(m.id) AS message_count
FROM conversations c
JOIN characters ch ON ch.id = c.character_id
LEFT JOIN messages m ON m.conversation_id = c.id
WHERE c.user_id = ?
GROUP BY c.id
ORDER BY c.updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

func (s Store) CountConversations(ctx context.Context, userID string) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM conversations WHERE user_id = ?`, userID); err != nil {
		return 0, fmt.Errorf("count conversations: %w", err)
	}
	return count, nil
}

func (s Store) DeleteConversation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return requireAffected(result)
}

// DeleteConversationsCreatedBefore removes every conversation, of any user,
// created strictly before cutoff.
func (s Store) DeleteConversationsCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE created_at < ?`, Time{cutoff.UTC()})
	if err != nil {
		return 0, fmt.Errorf("delete expired conversations: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired conversations: %w", err)
	}
	return deleted, nil
}
