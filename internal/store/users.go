package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

type User struct {
	ID           string  `db:"id" json:"id"`
	Email        string  `db:"email" json:"email"`
	Name         string  `db:"name" json:"name"`
	PasswordHash string  `db:"password" json:"-"`
	NameChanged  bool    `db:"name_changed" json:"nameChanged"`
	Avatar       *string `db:"avatar" json:"avatar"`
	GoogleSub    *string `db:"google_sub" json:"-"`
	CreatedAt    Time    `db:"created_at" json:"createdAt"`
	UpdatedAt    Time    `db:"updated_at" json:"updatedAt"`
}

const userColumns = `id, email, name, password, name_changed, avatar, google_sub, created_at, updated_at`

func (s Store) CreateUser(ctx context.Context, name, email, passwordHash string) (User, error) {
	now := s.timestamp()
	user := User{
		ID:           newID(),
		Email:        normalizeEmail(email),
		Name:         strings.TrimSpace(name),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var existing int
		if err := tx.GetContext(ctx, &existing, `SELECT COUNT(*) FROM users WHERE lower(email) = ?`, user.Email); err != nil {
			return fmt.Errorf("check email: %w", err)
		}
		if existing > 0 {
			return ErrEmailTaken
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO users (id, email, name, password, name_changed, created_at, updated_at)
VALUES (?, ?, ?, ?, 0, ?, ?)`,
			user.ID, user.Email, user.Name, user.PasswordHash, now, now)
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		return nil
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s Store) UserByID(ctx context.Context, id string) (User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (s Store) UserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = ?`, normalizeEmail(email))
}

func (s Store) getUser(ctx context.Context, query string, arg string) (User, error) {
	var user User
	err := s.db.GetContext(ctx, &user, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// FindOrCreateGoogleUser links a Google account to the user with the same
// email, creating a password-less user when none exists.
func (s Store) FindOrCreateGoogleUser(ctx context.Context, googleSub, email, name, avatar string) (User, error) {
	email = normalizeEmail(email)
	var out User
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &out, `SELECT `+userColumns+` FROM users WHERE lower(email) = ?`, email)
		switch {
		case err == nil:
			if out.GoogleSub == nil && googleSub != "" {
				if _, err := tx.ExecContext(ctx, `UPDATE users SET google_sub = ?, updated_at = ? WHERE id = ?`,
					googleSub, s.timestamp(), out.ID); err != nil {
					return fmt.Errorf("link google account: %w", err)
				}
				out.GoogleSub = &googleSub
			}
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("get user by email: %w", err)
		}

		now := s.timestamp()
		out = User{
			ID:        newID(),
			Email:     email,
			Name:      strings.TrimSpace(name),
			GoogleSub: nullableString(googleSub),
			Avatar:    nullableString(avatar),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if out.Name == "" {
			out.Name = strings.Split(email, "@")[0]
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO users (id, email, name, password, name_changed, avatar, google_sub, created_at, updated_at)
VALUES (?, ?, ?, '', 0, ?, ?, ?, ?)`,
			out.ID, out.Email, out.Name, out.Avatar, out.GoogleSub, now, now)
		if err != nil {
			return fmt.Errorf("insert google user: %w", err)
		}
		return nil
	})
	if err != nil {
		return User{}, err
	}
	return out, nil
}

// RenameOnce changes the display name if it has never been changed before.
func (s Store) RenameOnce(ctx context.Context, id, name string) (User, error) {
	var out User
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
UPDATE users SET name = ?, name_changed = 1, updated_at = ?
WHERE id = ? AND name_changed = 0`, strings.TrimSpace(name), s.timestamp(), id)
		if err != nil {
			return fmt.Errorf("rename user: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rename user: %w", err)
		}

		err = tx.GetContext(ctx, &out, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("reload user: %w", err)
		}
		if affected == 0 {
			return ErrNameAlreadyChanged
		}
		return nil
	})
	if errors.Is(err, ErrNameAlreadyChanged) {
		return out, err
	}
	if err != nil {
		return User{}, err
	}
	return out, nil
}

func (s Store) SetAvatar(ctx context.Context, id, avatar string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET avatar = ?, updated_at = ? WHERE id = ?`,
		avatar, s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("set avatar: %w", err)
	}
	return requireAffected(result)
}

// DeleteUser removes the user; characters, conversations, messages and usage
// rows go with it through foreign-key cascades.
func (s Store) DeleteUser(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

// normalizeEmail lowercases addresses so password and Google sign-ins of the
// same mailbox resolve to one account.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
