package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const (
	VisibilityPrivate  = "PRIVATE"
	VisibilityLinkOnly = "LINK_ONLY"
	VisibilityPublic   = "PUBLIC"
)

func ValidVisibility(v string) bool {
	switch v {
	case VisibilityPrivate, VisibilityLinkOnly, VisibilityPublic:
		return true
	}
	return false
}

// Character is a persona row. Greetings, ExampleDialogs and AlbumImages hold
// JSON text.
type Character struct {
	ID             string  `db:"id"`
	CreatorID      string  `db:"creator_id"`
	Name           string  `db:"name"`
	Description    string  `db:"description"`
	Personality    *string `db:"personality"`
	Greeting       string  `db:"greeting"`
	Greetings      *string `db:"greetings"`
	Secret         *string `db:"secret"`
	ExampleDialogs *string `db:"example_dialogs"`
	Visibility     string  `db:"visibility"`
	ProfileImage   *string `db:"profile_image"`
	AlbumImages    *string `db:"album_images"`
	ChatCount      int     `db:"chat_count"`
	LikeCount      int     `db:"like_count"`
	CreatedAt      Time    `db:"created_at"`
	UpdatedAt      Time    `db:"updated_at"`
}

type CharacterWithCreator struct {
	Character
	CreatorName  string `db:"creator_name"`
	CreatorEmail string `db:"creator_email"`
}

// CharacterInput carries every field an owner may set.
type CharacterInput struct {
	Name           string
	Description    string
	Personality    *string
	Greeting       string
	Greetings      *string
	Secret         *string
	ExampleDialogs *string
	Visibility     string
	ProfileImage   *string
	AlbumImages    *string
}

const characterColumns = `id, creator_id, name, description, personality, greeting, greetings, secret,
example_dialogs, visibility, profile_image, album_images, chat_count, like_count, created_at, updated_at`

// CreateCharacter inserts the character unless the creator already owns
// MaxCharactersPerUser of them. Count and insert happen in one statement.
func (s Store) CreateCharacter(ctx context.Context, creatorID string, in CharacterInput) (Character, error) {
	if in.Visibility == "" {
		in.Visibility = VisibilityPrivate
	}
	if !ValidVisibility(in.Visibility) {
		return Character{}, ErrInvalidVisibility
	}

	now := s.timestamp()
	out := Character{
		ID:             newID(),
		CreatorID:      creatorID,
		Name:           in.Name,
		Description:    in.Description,
		Personality:    in.Personality,
		Greeting:       in.Greeting,
		Greetings:      in.Greetings,
		Secret:         in.Secret,
		ExampleDialogs: in.ExampleDialogs,
		Visibility:     in.Visibility,
		ProfileImage:   in.ProfileImage,
		AlbumImages:    in.AlbumImages,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	result, err := s.db.ExecContext(ctx, `
INSERT INTO characters (id, creator_id, name, description, personality, greeting, greetings, secret,
  example_dialogs, visibility, profile_image, album_images, chat_count, like_count, created_at, updated_at)
SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?
WHERE (SELECT COUNT(*) FROM characters WHERE creator_id = ?) < ?`,
		out.ID, out.CreatorID, out.Name, out.Description, out.Personality, out.Greeting, out.Greetings, out.Secret,
		out.ExampleDialogs, out.Visibility, out.ProfileImage, out.AlbumImages, now, now,
		creatorID, MaxCharactersPerUser)
	if err != nil {
		return Character{}, fmt.Errorf("insert character: %w", err)
	}
	if err := requireAffected(result); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Character{}, ErrCharacterLimit
		}
		return Character{}, err
	}
	return out, nil
}

func (s Store) CharacterByID(ctx context.Context, id string) (CharacterWithCreator, error) {
	var out CharacterWithCreator
	err := s.db.GetContext(ctx, &out, `
SELECT c.id, c.creator_id, c.name, c.description, c.personality, c.greeting, c.greetings, c.secret,
  c.example_dialogs, c.visibility, c.profile_image, c.album_images, c.chat_count, c.like_count,
  c.created_at, c.updated_at, u.name AS creator_name, u.email AS creator_email
FROM characters c
JOIN users u ON u.id = c.creator_id
WHERE c.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return CharacterWithCreator{}, ErrNotFound
	}
	if err != nil {
		return CharacterWithCreator{}, fmt.Errorf("get character: %w", err)
	}
	return out, nil
}

func (s Store) PublicCharacters(ctx context.Context) ([]Character, error) {
	out := []Character{}
	err := s.db.SelectContext(ctx, &out, `SELECT `+characterColumns+` FROM characters
WHERE visibility = ? ORDER BY created_at DESC LIMIT ?`, VisibilityPublic, PublicCharacterLimit)
	if err != nil {
		return nil, fmt.Errorf("list public characters: %w", err)
	}
	return out, nil
}

func (s Store) CharactersByCreator(ctx context.Context, creatorID string) ([]Character, error) {
	out := []Character{}
	err := s.db.SelectContext(ctx, &out, `SELECT `+characterColumns+` FROM characters
WHERE creator_id = ? ORDER BY created_at DESC`, creatorID)
	if err != nil {
		return nil, fmt.Errorf("list characters by creator: %w", err)
	}
	return out, nil
}

// UpdateCharacter replaces the editable fields. The creator never changes.
func (s Store) UpdateCharacter(ctx context.Context, id string, in CharacterInput) (Character, error) {
	if in.Visibility == "" {
		in.Visibility = VisibilityPrivate
	}
	if !ValidVisibility(in.Visibility) {
		return Character{}, ErrInvalidVisibility
	}

	var out Character
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
UPDATE characters SET name = ?, description = ?, personality = ?, greeting = ?, greetings = ?, secret = ?,
  example_dialogs = ?, visibility = ?, profile_image = ?, album_images = ?, updated_at = ?
WHERE id = ?`,
			in.Name, in.Description, in.Personality, in.Greeting, in.Greetings, in.Secret,
			in.ExampleDialogs, in.Visibility, in.ProfileImage, in.AlbumImages, s.timestamp(), id)
		if err != nil {
			return fmt.Errorf("update character: %w", err)
		}
		if err := requireAffected(result); err != nil {
			return err
		}
		if err := tx.GetContext(ctx, &out, `SELECT `+characterColumns+` FROM characters WHERE id = ?`, id); err != nil {
			return fmt.Errorf("reload character: %w", err)
		}
		return nil
	})
	if err != nil {
		return Character{}, err
	}
	return out, nil
}

func (s Store) DeleteCharacter(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM characters WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete character: %w", err)
	}
	return requireAffected(result)
}
