// Package store is the persistence accessor for users, characters,
// conversations, messages and usage records.
package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const (
	MaxCharactersPerUser    = 5
	MaxConversationsPerUser = 10
	PublicCharacterLimit    = 50
)

var (
	ErrNotFound           = errors.New("not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrCharacterLimit     = errors.New("character limit exceeded")
	ErrConversationLimit  = errors.New("conversation limit exceeded")
	ErrNameAlreadyChanged = errors.New("name already changed")
	ErrInvalidMessageRole = errors.New("invalid message role")
	ErrInvalidVisibility  = errors.New("invalid visibility")
)

type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewStore(db *sqlx.DB) Store {
	return Store{db: db, now: time.Now}
}

// WithClock returns a copy of the store that stamps rows with now.
func (s Store) WithClock(now func() time.Time) Store {
	s.now = now
	return s
}

func (s Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s Store) timestamp() Time {
	return Time{s.now().UTC()}
}

func (s Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func newID() string {
	return uuid.NewString()
}

// timeLayout is fixed width so lexical order of stored values equals
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Time is a UTC timestamp persisted as fixed-width text.
type Time struct {
	time.Time
}

func (t Time) Value() (driver.Value, error) {
	return t.UTC().Format(timeLayout), nil
}

func (t *Time) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("scan time: unsupported type %T", src)
	}
}

func (t *Time) parse(raw string) error {
	parsed, err := time.Parse(timeLayout, raw)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return fmt.Errorf("scan time %q: %w", raw, err)
		}
	}
	t.Time = parsed.UTC()
	return nil
}
